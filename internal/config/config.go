package config

import (
	"fmt"
)

type Config struct {
	Server  ServerConfig
	Remote  RemoteConfig
	Storage StorageConfig
	Sync    SyncConfig
	Log     LogConfig
}

// ServerConfig is the daemon's local API surface. It only ever listens
// on loopback; the interviewer app is the sole client.
type ServerConfig struct {
	Port  int
	Token string
}

type RemoteConfig struct {
	BaseURL  string
	APIKey   string
	ProbeURL string
}

type StorageConfig struct {
	DataDir string
}

type SyncConfig struct {
	IntervalSeconds int
	Concurrency     int
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4017,
		},
		Remote: RemoteConfig{
			ProbeURL: "https://www.gstatic.com/generate_204",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Sync: SyncConfig{
			IntervalSeconds: 120,
			Concurrency:     3,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON file at
// $XDG_CONFIG_HOME/fieldsync/config.json, then applies FIELDSYNC_*
// environment overrides. Secrets (the backend API key, the local API
// token) come from the environment only.
func Load() (Config, error) {
	return loadWith(newPlatformBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.Remote.BaseURL == "" {
		return Config{}, fmt.Errorf("missing required config: backend base URL. " +
			"Set it via environment variable FIELDSYNC_REMOTE_BASE_URL " +
			"or `fieldsync config set remote.base_url <url>`")
	}

	return cfg, nil
}
