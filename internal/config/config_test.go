package config

import (
	"strings"
	"testing"
)

// mapBackend is an in-memory ConfigBackend for tests.
type mapBackend map[string]any

func (m mapBackend) GetString(key string) (string, bool, error) {
	v, ok := m[key]
	if !ok {
		return "", false, nil
	}
	return v.(string), true, nil
}

func (m mapBackend) GetInt(key string) (int, bool, error) {
	v, ok := m[key]
	if !ok {
		return 0, false, nil
	}
	return v.(int), true, nil
}

func (m mapBackend) SetString(key, val string) error { m[key] = val; return nil }
func (m mapBackend) SetInt(key string, val int) error { m[key] = val; return nil }
func (m mapBackend) Delete(key string) error          { delete(m, key); return nil }

func TestDefaults(t *testing.T) {
	t.Setenv("FIELDSYNC_REMOTE_BASE_URL", "https://collect.example.org")

	cfg, err := loadWith(mapBackend{})
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Server.Port != 4017 {
		t.Errorf("Server.Port = %d, want 4017", cfg.Server.Port)
	}
	if cfg.Sync.IntervalSeconds != 120 {
		t.Errorf("Sync.IntervalSeconds = %d, want 120", cfg.Sync.IntervalSeconds)
	}
	if cfg.Sync.Concurrency != 3 {
		t.Errorf("Sync.Concurrency = %d, want 3", cfg.Sync.Concurrency)
	}
	if cfg.Remote.ProbeURL == "" {
		t.Error("Remote.ProbeURL default is empty")
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want info", cfg.Log.Level)
	}
	if cfg.Storage.DataDir == "" {
		t.Error("Storage.DataDir default is empty")
	}
}

func TestBackendValuesApplied(t *testing.T) {
	t.Setenv("FIELDSYNC_REMOTE_BASE_URL", "")

	cfg, err := loadWith(mapBackend{
		"server.port":           5050,
		"remote.base_url":       "https://collect.example.org",
		"sync.interval_seconds": 30,
		"log.level":             "debug",
	})
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Server.Port != 5050 {
		t.Errorf("Server.Port = %d, want 5050", cfg.Server.Port)
	}
	if cfg.Remote.BaseURL != "https://collect.example.org" {
		t.Errorf("Remote.BaseURL = %q", cfg.Remote.BaseURL)
	}
	if cfg.Sync.IntervalSeconds != 30 {
		t.Errorf("Sync.IntervalSeconds = %d, want 30", cfg.Sync.IntervalSeconds)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug", cfg.Log.Level)
	}
}

func TestEnvOverridesBackend(t *testing.T) {
	t.Setenv("FIELDSYNC_REMOTE_BASE_URL", "https://env.example.org")
	t.Setenv("FIELDSYNC_SERVER_PORT", "6001")

	cfg, err := loadWith(mapBackend{
		"remote.base_url": "https://file.example.org",
		"server.port":     5050,
	})
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Remote.BaseURL != "https://env.example.org" {
		t.Errorf("Remote.BaseURL = %q, want env value", cfg.Remote.BaseURL)
	}
	if cfg.Server.Port != 6001 {
		t.Errorf("Server.Port = %d, want 6001", cfg.Server.Port)
	}
}

func TestSecretsComeFromEnvOnly(t *testing.T) {
	t.Setenv("FIELDSYNC_REMOTE_BASE_URL", "https://collect.example.org")
	t.Setenv("FIELDSYNC_REMOTE_API_KEY", "env-secret")

	// A key in the file backend must be ignored for secret specs.
	cfg, err := loadWith(mapBackend{"remote.api_key": "file-secret"})
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Remote.APIKey != "env-secret" {
		t.Errorf("Remote.APIKey = %q, want env-secret", cfg.Remote.APIKey)
	}

	if err := SetKey("remote.api_key", "x"); err == nil {
		t.Error("SetKey accepted a secret key")
	}
}

func TestMissingBaseURLFails(t *testing.T) {
	t.Setenv("FIELDSYNC_REMOTE_BASE_URL", "")

	_, err := loadWith(mapBackend{})
	if err == nil {
		t.Fatal("expected error for missing base URL, got nil")
	}
	if !strings.Contains(err.Error(), "missing required config") {
		t.Errorf("error = %q", err)
	}
}

func TestValidKeysExcludesSecrets(t *testing.T) {
	for _, k := range ValidKeys() {
		if k == "remote.api_key" || k == "server.token" {
			t.Errorf("secret key %q listed as settable", k)
		}
	}
}
