package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
)

func defaultDataDir() string {
	base := os.Getenv("XDG_DATA_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "fieldsync-data"
		}
		base = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(base, "fieldsync")
}

// fileBackend stores config as a flat JSON object in an XDG-compatible
// path. Field devices run Linux, so this is the only backend.
type fileBackend struct {
	path string
	data map[string]any
}

func newPlatformBackend() ConfigBackend {
	b := &fileBackend{path: configFilePath(), data: make(map[string]any)}
	b.load()
	return b
}

func configFilePath() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			base = "."
		} else {
			base = filepath.Join(home, ".config")
		}
	}
	return filepath.Join(base, "fieldsync", "config.json")
}

func (b *fileBackend) load() {
	raw, err := os.ReadFile(b.path)
	switch {
	case os.IsNotExist(err):
		return
	case err != nil:
		fmt.Fprintf(os.Stderr, "[WARN] config file %s unreadable: %v. Falling back to defaults.\n", b.path, err)
		return
	}
	if err := json.Unmarshal(raw, &b.data); err != nil {
		fmt.Fprintf(os.Stderr, "[WARN] config file %s is not valid JSON: %v. Falling back to defaults.\n", b.path, err)
	}
}

func (b *fileBackend) save() error {
	if err := os.MkdirAll(filepath.Dir(b.path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	raw, err := json.MarshalIndent(b.data, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(b.path, raw, 0o600)
}

func (b *fileBackend) GetString(key string) (string, bool, error) {
	v, ok := b.data[key]
	if !ok {
		return "", false, nil
	}
	if s, ok := v.(string); ok {
		return s, true, nil
	}
	return fmt.Sprintf("%v", v), true, nil
}

func (b *fileBackend) GetInt(key string) (int, bool, error) {
	v, ok := b.data[key]
	if !ok {
		return 0, false, nil
	}
	switch val := v.(type) {
	case float64:
		// JSON numbers decode as float64; reject fractions and overflow.
		if val != math.Trunc(val) || val < math.MinInt || val > math.MaxInt {
			return 0, true, fmt.Errorf("%s: %v is not a valid integer", key, val)
		}
		return int(val), true, nil
	case string:
		i, err := strconv.Atoi(val)
		if err != nil {
			return 0, true, fmt.Errorf("%s: %w", key, err)
		}
		return i, true, nil
	default:
		return 0, true, fmt.Errorf("%s: unexpected type %T", key, v)
	}
}

func (b *fileBackend) SetString(key, val string) error {
	b.data[key] = val
	return b.save()
}

func (b *fileBackend) SetInt(key string, val int) error {
	b.data[key] = val
	return b.save()
}

func (b *fileBackend) Delete(key string) error {
	delete(b.data, key)
	return b.save()
}
