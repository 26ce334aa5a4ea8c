package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "FIELDSYNC_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.token", typ: kString, env: "FIELDSYNC_SERVER_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Token },
	},
	{
		key: "remote.base_url", typ: kString, env: "FIELDSYNC_REMOTE_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Remote.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Remote.BaseURL },
	},
	{
		key: "remote.api_key", typ: kString, env: "FIELDSYNC_REMOTE_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Remote.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Remote.APIKey },
	},
	{
		key: "remote.probe_url", typ: kString, env: "FIELDSYNC_REMOTE_PROBE_URL",
		apply:   func(cfg *Config, v any) { cfg.Remote.ProbeURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Remote.ProbeURL },
	},
	{
		key: "storage.data_dir", typ: kString, env: "FIELDSYNC_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "sync.interval_seconds", typ: kInt, env: "FIELDSYNC_SYNC_INTERVAL_SECONDS",
		apply:   func(cfg *Config, v any) { cfg.Sync.IntervalSeconds = v.(int) },
		extract: func(cfg Config) any { return cfg.Sync.IntervalSeconds },
	},
	{
		key: "sync.concurrency", typ: kInt, env: "FIELDSYNC_SYNC_CONCURRENCY",
		apply:   func(cfg *Config, v any) { cfg.Sync.Concurrency = v.(int) },
		extract: func(cfg Config) any { return cfg.Sync.Concurrency },
	},
	{
		key: "log.level", typ: kString, env: "FIELDSYNC_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

// applyBackend layers file values over defaults. Secrets never come
// from the file; they are env-only.
func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		var (
			v   any
			ok  bool
			err error
		)
		if s.typ == kInt {
			v, ok, err = b.GetInt(s.key)
		} else {
			v, ok, err = b.GetString(s.key)
		}
		if err != nil {
			return fmt.Errorf("config key %s: %w", s.key, err)
		}
		if ok {
			s.apply(cfg, v)
		}
	}
	return nil
}

// applyEnvOverrides layers environment variables over everything else.
func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		raw, set := os.LookupEnv(s.env)
		if !set || raw == "" {
			continue
		}
		if s.typ == kInt {
			i, err := strconv.Atoi(raw)
			if err != nil {
				fmt.Fprintf(os.Stderr, "[WARN] ignoring %s=%q: %v\n", s.env, raw, err)
				continue
			}
			s.apply(cfg, i)
			continue
		}
		s.apply(cfg, raw)
	}
}
