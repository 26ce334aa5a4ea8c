package refdata

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/pollwise/fieldsync/internal/storage"
)

// ErrBelowMinimum is returned when a replacement collection is smaller
// than the region's known minimum. The write is rejected and the
// existing cache for that collection is purged: a sub-minimum
// collection is corrupt, and serving part of it would be worse than
// serving nothing.
var ErrBelowMinimum = errors.New("collection below expected minimum for region")

// defaultMinimums are the floor cardinalities per kind when no
// region-specific minimum is known. Every state has many ACs; the
// other kinds only need to be non-empty.
var defaultMinimums = map[string]int{
	KindAC:       10,
	KindGroup:    1,
	KindStation:  1,
	KindQuota:    1,
	KindRotation: 1,
}

// Entry is one denormalized reference record.
type Entry struct {
	Key      string          `json:"key"`
	Name     string          `json:"name"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	CachedAt time.Time       `json:"-"`
}

// Cache serves hierarchical reference lookups entirely from local
// state. Misses are not errors: reads return ok=false and callers fall
// back to the network layer or the bundled snapshot.
type Cache struct {
	db     *storage.Store
	logger *slog.Logger

	mu       sync.RWMutex
	minimums map[string]int // "region/kind" -> known minimum
}

// NewCache wraps the durable store's reference partition.
func NewCache(db *storage.Store) *Cache {
	return &Cache{
		db:       db,
		logger:   slog.Default(),
		minimums: make(map[string]int),
	}
}

// SetMinimum records the known minimum cardinality for (region, kind),
// typically taken from the bulk document header.
func (c *Cache) SetMinimum(region, kind string, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.minimums[region+"/"+kind] = n
}

// MinimumFor returns the known minimum for (region, kind), falling
// back to the per-kind default.
func (c *Cache) MinimumFor(region, kind string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if n, ok := c.minimums[region+"/"+kind]; ok {
		return n
	}
	return defaultMinimums[kind]
}

// Replace swaps the whole (region, kind) collection. A collection
// smaller than the known minimum is rejected AND the existing cached
// collection is purged; it is never merged or partially served.
func (c *Cache) Replace(region, kind string, entries []Entry) error {
	min := c.MinimumFor(region, kind)
	if len(entries) < min {
		if err := c.db.PurgeRegionKind(region, kind); err != nil {
			return fmt.Errorf("purging %s/%s: %w", region, kind, err)
		}
		c.logger.Warn("rejected sub-minimum reference collection",
			"region", region, "kind", kind, "got", len(entries), "minimum", min)
		return fmt.Errorf("%w: %s/%s has %d, expected at least %d", ErrBelowMinimum, region, kind, len(entries), min)
	}

	rows := make([]storage.ReferenceEntry, len(entries))
	for i, e := range entries {
		rows[i] = storage.ReferenceEntry{
			Region:  region,
			Kind:    kind,
			Key:     e.Key,
			Name:    e.Name,
			Payload: e.Payload,
		}
	}
	return c.db.ReplaceRegionKind(region, kind, rows)
}

// Get returns the entry with the exact composite key, if cached.
func (c *Cache) Get(region, kind, key string) (Entry, bool, error) {
	entries, err := c.list(region, kind)
	if err != nil {
		return Entry{}, false, err
	}
	for _, e := range entries {
		if e.Key == key {
			return e, true, nil
		}
	}
	return Entry{}, false, nil
}

// Lookup finds an entry by name within (region, kind), optionally
// scoped under a parent composite key. Tiers: exact, normalized,
// fuzzy containment. A miss returns ok=false, never an error.
func (c *Cache) Lookup(region, kind, parentKey, query string) (Entry, bool, error) {
	entries, err := c.list(region, kind)
	if err != nil {
		return Entry{}, false, err
	}
	entries = scopeToParent(entries, parentKey)
	e, ok := findMatch(entries, query)
	return e, ok, nil
}

// Count returns the cardinality of the cached (region, kind) collection.
func (c *Cache) Count(region, kind string) (int, error) {
	return c.db.CountRegionKind(region, kind)
}

// Purge drops the cached (region, kind) collection.
func (c *Cache) Purge(region, kind string) error {
	return c.db.PurgeRegionKind(region, kind)
}

func (c *Cache) list(region, kind string) ([]Entry, error) {
	rows, err := c.db.ListRegionKind(region, kind)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, len(rows))
	for i, r := range rows {
		entries[i] = Entry{Key: r.Key, Name: r.Name, Payload: r.Payload, CachedAt: r.CachedAt}
	}
	return entries, nil
}

func scopeToParent(entries []Entry, parentKey string) []Entry {
	if parentKey == "" {
		return entries
	}
	prefix := parentKey + Separator
	scoped := entries[:0:0]
	for _, e := range entries {
		if strings.HasPrefix(e.Key, prefix) {
			scoped = append(scoped, e)
		}
	}
	return scoped
}
