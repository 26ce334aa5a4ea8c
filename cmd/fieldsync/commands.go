package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"

	"github.com/spf13/cobra"

	"github.com/pollwise/fieldsync/internal/config"
	"github.com/pollwise/fieldsync/internal/interview"
)

// --- sync ---

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Trigger a sync pass now",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/sync", nil)
		if err != nil {
			return err
		}

		var result map[string]bool
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		if result["scheduled"] {
			printSuccess("Sync pass scheduled")
		} else {
			printWarning("A sync pass is already scheduled")
		}
		return nil
	},
}

// --- interviews ---

var interviewsCmd = &cobra.Command{
	Use:   "interviews",
	Short: "Inspect and manage locally stored interviews",
}

var interviewsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored interviews",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := "/interviews"
		if status != "" {
			path += "?status=" + url.QueryEscape(status)
		}
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var items []interview.Interview
		if err := decodeJSON(resp, &items); err != nil {
			return err
		}
		if len(items) == 0 {
			fmt.Println("No interviews found.")
			return nil
		}

		for _, iv := range items {
			fmt.Printf("%s  %-9s  %-9s  attempts=%d  %s\n",
				colorize(colorCyan, iv.ID[:8]),
				iv.Status,
				iv.Mode,
				iv.Attempts,
				iv.Summary(),
			)
		}
		return nil
	},
}

var interviewsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a single interview as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/interviews/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}

		var iv any
		if err := decodeJSON(resp, &iv); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(iv)
	},
}

var interviewsRetryCmd = &cobra.Command{
	Use:   "retry <id>",
	Short: "Make a failed interview eligible for sync again",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/interviews/"+url.PathEscape(args[0])+"/retry", nil)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Interview %s queued for retry", args[0])
		return nil
	},
}

var interviewsAbandonCmd = &cobra.Command{
	Use:   "abandon <id>",
	Short: "Mark an interview as abandoned; it is reported and removed on the next sync",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/interviews/"+url.PathEscape(args[0])+"/abandon", nil)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Interview %s will be abandoned on the next sync", args[0])
		return nil
	},
}

var interviewsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete an interview and its audio without telling the backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			printWarning("This deletes the record locally; unsynced answers are lost. Use --confirm to proceed.")
			return nil
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/interviews/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Interview %s deleted", args[0])
		return nil
	},
	Args: cobra.ExactArgs(1),
}

func init() {
	interviewsListCmd.Flags().String("status", "", "filter by status (pending, syncing, synced, failed)")
	interviewsDeleteCmd.Flags().Bool("confirm", false, "confirm local deletion")
	interviewsCmd.AddCommand(interviewsListCmd)
	interviewsCmd.AddCommand(interviewsShowCmd)
	interviewsCmd.AddCommand(interviewsRetryCmd)
	interviewsCmd.AddCommand(interviewsAbandonCmd)
	interviewsCmd.AddCommand(interviewsDeleteCmd)
}

// --- refdata ---

var refdataCmd = &cobra.Command{
	Use:   "refdata",
	Short: "Manage the local reference data cache",
}

var refdataPullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Refresh reference data from the backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/refdata/pull", nil)
		if err != nil {
			return err
		}

		var result map[string]bool
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		if result["updated"] {
			printSuccess("Reference data refreshed")
		} else {
			printSuccess("Reference data already up to date")
		}
		return nil
	},
}

var refdataLookupCmd = &cobra.Command{
	Use:   "lookup <query>",
	Short: "Resolve a reference entry the way the interviewer app would",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		region, _ := cmd.Flags().GetString("region")
		kind, _ := cmd.Flags().GetString("kind")
		parent, _ := cmd.Flags().GetString("parent")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		q := url.Values{}
		q.Set("region", region)
		q.Set("kind", kind)
		q.Set("q", args[0])
		if parent != "" {
			q.Set("parent", parent)
		}
		resp, err := client.get(cmd.Context(), "/refdata/lookup?"+q.Encode())
		if err != nil {
			return err
		}

		var result struct {
			Entry struct {
				Key  string `json:"key"`
				Name string `json:"name"`
			} `json:"entry"`
			Source string `json:"source"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printStatus("Match", "%s", result.Entry.Name)
		printStatus("Key", "%s", result.Entry.Key)
		printStatus("Source", "%s", result.Source)
		return nil
	},
}

func init() {
	refdataLookupCmd.Flags().String("region", "", "region the lookup is scoped to")
	refdataLookupCmd.Flags().String("kind", "", "entry kind (ac, group, station, quota, rotation)")
	refdataLookupCmd.Flags().String("parent", "", "parent key to scope the lookup")
	refdataLookupCmd.MarkFlagRequired("region")
	refdataLookupCmd.MarkFlagRequired("kind")
	refdataCmd.AddCommand(refdataPullCmd)
	refdataCmd.AddCommand(refdataLookupCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
