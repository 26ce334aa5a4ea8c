package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// GetCacheEntry returns the unexpired cache entry for key, or
// ErrNotFound. Expired rows are deleted lazily on read.
func (s *Store) GetCacheEntry(key string) (CacheEntry, error) {
	var e CacheEntry
	var payload sql.NullString
	var gone int
	var expiresAt string
	err := s.db.QueryRow(`
		SELECT key, payload, gone, expires_at
		FROM net_cache WHERE key = ?`, key,
	).Scan(&e.Key, &payload, &gone, &expiresAt)
	if err == sql.ErrNoRows {
		return CacheEntry{}, ErrNotFound
	}
	if err != nil {
		return CacheEntry{}, err
	}
	t, err := time.Parse(time.RFC3339, expiresAt)
	if err != nil {
		return CacheEntry{}, fmt.Errorf("parsing expires_at: %w", err)
	}
	if !time.Now().Before(t) {
		s.db.Exec(`DELETE FROM net_cache WHERE key = ?`, key)
		return CacheEntry{}, ErrNotFound
	}
	e.ExpiresAt = t
	e.Gone = gone != 0
	if payload.Valid {
		e.Payload = []byte(payload.String)
	}
	return e, nil
}

// PutCacheEntry upserts a cache entry.
func (s *Store) PutCacheEntry(e CacheEntry) error {
	gone := 0
	if e.Gone {
		gone = 1
	}
	_, err := s.db.Exec(`
		INSERT INTO net_cache (key, payload, gone, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			payload = excluded.payload,
			gone = excluded.gone,
			expires_at = excluded.expires_at`,
		e.Key, string(e.Payload), gone, e.ExpiresAt.UTC().Format(time.RFC3339),
	)
	return err
}

// PruneExpiredCache removes every entry whose TTL has elapsed.
func (s *Store) PruneExpiredCache() error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.Exec(`DELETE FROM net_cache WHERE expires_at <= ?`, now)
	return err
}

// ClearNetCache empties the response-cache partition without touching
// interviews or reference data.
func (s *Store) ClearNetCache() error {
	_, err := s.db.Exec(`DELETE FROM net_cache`)
	return err
}
