package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pollwise/fieldsync/internal/api"
	"github.com/pollwise/fieldsync/internal/config"
	"github.com/pollwise/fieldsync/internal/interview"
	"github.com/pollwise/fieldsync/internal/netx"
	"github.com/pollwise/fieldsync/internal/refdata"
	"github.com/pollwise/fieldsync/internal/remote"
	"github.com/pollwise/fieldsync/internal/storage"
	"github.com/pollwise/fieldsync/internal/syncer"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the fieldsync daemon (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running fieldsync daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon and queue status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "fieldsync.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "fieldsync version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
	logger := slog.Default()

	// Refuse to start twice. The health endpoint is the authority; the
	// PID file only adds detail to the message.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("fieldsync is already running (PID %d)", pid)
			return fmt.Errorf("daemon already running (PID %d)", pid)
		}
		printWarning("fieldsync is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("daemon already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	artifacts, err := interview.NewArtifactDir(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("preparing audio directory: %w", err)
	}

	interviews := interview.NewStore(store, artifacts)
	refCache := refdata.NewCache(store)

	backend, err := remote.New(cfg.Remote.BaseURL, cfg.Remote.APIKey)
	if err != nil {
		return fmt.Errorf("building backend client: %w", err)
	}
	prober := netx.NewProber(cfg.Remote.ProbeURL)
	guard := netx.NewGuard(store, prober)

	puller := remote.NewBulkSyncer(store, refCache, guardedFetcher{guard: guard, client: backend}, logger)
	stations := stationFetcher{guard: guard, client: backend}
	engine := syncer.New(interviews, remote.NewGuarded(guard, backend), artifacts, logger, cfg.Sync.Concurrency)

	// The sync loop drains on a fixed interval and on explicit
	// triggers. The trigger channel holds at most one request; a pass
	// already scheduled absorbs further triggers.
	trigger := make(chan struct{}, 1)
	triggerSync := func() bool {
		select {
		case trigger <- struct{}{}:
			return true
		default:
			return false
		}
	}

	go runSyncLoop(ctx, engine, trigger, time.Duration(cfg.Sync.IntervalSeconds)*time.Second, logger)

	// Refresh reference data once at startup; failure is logged, not
	// fatal, since lookups fall back to the cache and snapshot.
	go func() {
		if _, err := puller.Pull(ctx); err != nil {
			logger.Warn("startup reference pull failed", "error", err)
		}
	}()

	handler := api.NewHandler(api.Deps{
		Interviews:  interviews,
		Refdata:     refCache,
		Store:       store,
		Puller:      puller,
		Stations:    stations,
		Token:       cfg.Server.Token,
		TriggerSync: triggerSync,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "fieldsync listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// runSyncLoop runs sync passes until the context is cancelled. Errors
// are logged and the loop keeps going; a dead loop would silently
// strand every record on the device.
func runSyncLoop(ctx context.Context, engine *syncer.Engine, trigger <-chan struct{}, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-trigger:
		}

		stats, err := engine.RunPass(ctx)
		switch {
		case errors.Is(err, syncer.ErrPassInProgress):
			// Another trigger fired mid-pass; the running pass covers it.
		case errors.Is(err, context.Canceled):
			return
		case err != nil:
			logger.Error("sync pass failed", "error", err)
		case stats.Attempted > 0:
			logger.Info("sync pass finished",
				"attempted", stats.Attempted,
				"synced", stats.Synced,
				"failed", stats.Failed)
		}
	}
}

// guardedFetcher routes reference document fetches through the network
// guard so they get the probe gate, retries and backoff. Documents are
// not response-cached; the reference cache itself is the durable copy.
type guardedFetcher struct {
	guard  *netx.Guard
	client *remote.Client
}

func (g guardedFetcher) FetchReferenceDocument(ctx context.Context, fingerprint string) ([]byte, string, bool, error) {
	var newFingerprint string
	var notModified bool
	payload, err := g.guard.Do(ctx, netx.Options{}, func(ctx context.Context) ([]byte, error) {
		var payload []byte
		var err error
		payload, newFingerprint, notModified, err = g.client.FetchReferenceDocument(ctx, fingerprint)
		return payload, err
	})
	if err != nil {
		return nil, "", false, err
	}
	return payload, newFingerprint, notModified, nil
}

// stationFetcher serves per-station detail through the guard: cached
// for a short TTL, coalesced across concurrent lookups, and a 410 from
// the backend is remembered for a day.
type stationFetcher struct {
	guard  *netx.Guard
	client *remote.Client
}

func (s stationFetcher) FetchStation(ctx context.Context, key string) ([]byte, error) {
	return s.guard.Do(ctx, netx.Options{
		CacheKey:  "station:" + key,
		Cacheable: true,
	}, func(ctx context.Context) ([]byte, error) {
		return s.client.FetchStation(ctx, key)
	})
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("fieldsync is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop fieldsync (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to fieldsync (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Daemon", "stopped")
		printStatus("Data dir", "%s", cfg.Storage.DataDir)
		return nil
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		printStatus("Daemon", "error (HTTP %d)", resp.StatusCode)
		return nil
	}
	printStatus("Daemon", "running on port %d", cfg.Server.Port)

	apiC, err := newAPIClient()
	if err != nil {
		return err
	}
	statusResp, err := apiC.get(context.Background(), "/status")
	if err != nil {
		return err
	}
	var body struct {
		Interviews map[string]int `json:"interviews"`
		QueueDepth int            `json:"queue_depth"`
	}
	if err := decodeJSON(statusResp, &body); err != nil {
		return err
	}

	for _, status := range []string{"pending", "syncing", "failed", "synced"} {
		if n := body.Interviews[status]; n > 0 {
			printStatus(status, "%d", n)
		}
	}
	printStatus("Queue depth", "%d", body.QueueDepth)
	printStatus("Backend", "%s", cfg.Remote.BaseURL)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
