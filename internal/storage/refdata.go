package storage

import (
	"fmt"
	"time"
)

// ReplaceRegionKind atomically replaces every reference entry for
// (region, kind) with the given set. Existing rows are deleted first;
// a failure rolls the whole replacement back, so the collection is
// either entirely present or entirely absent.
func (s *Store) ReplaceRegionKind(region, kind string, entries []ReferenceEntry) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning replace transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM reference_entries WHERE region = ? AND kind = ?`, region, kind); err != nil {
		return fmt.Errorf("clearing %s/%s: %w", region, kind, err)
	}

	now := time.Now().UTC()
	for _, e := range entries {
		cachedAt := e.CachedAt
		if cachedAt.IsZero() {
			cachedAt = now
		}
		if _, err := tx.Exec(`
			INSERT INTO reference_entries (region, kind, key, name, payload, cached_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			region, kind, e.Key, e.Name, string(e.Payload), cachedAt.Format(time.RFC3339),
		); err != nil {
			return fmt.Errorf("inserting %s: %w", e.Key, err)
		}
	}
	return tx.Commit()
}

// ListRegionKind returns every reference entry for (region, kind) in key order.
func (s *Store) ListRegionKind(region, kind string) ([]ReferenceEntry, error) {
	rows, err := s.db.Query(`
		SELECT region, kind, key, name, payload, cached_at
		FROM reference_entries WHERE region = ? AND kind = ?
		ORDER BY key ASC`, region, kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []ReferenceEntry
	for rows.Next() {
		var e ReferenceEntry
		var payload, cachedAt string
		if err := rows.Scan(&e.Region, &e.Kind, &e.Key, &e.Name, &payload, &cachedAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, cachedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing cached_at: %w", err)
		}
		e.CachedAt = t
		e.Payload = []byte(payload)
		results = append(results, e)
	}
	return results, rows.Err()
}

// CountRegionKind returns the cardinality of a (region, kind) collection.
func (s *Store) CountRegionKind(region, kind string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM reference_entries WHERE region = ? AND kind = ?`, region, kind).Scan(&n)
	return n, err
}

// PurgeRegionKind deletes every entry for (region, kind).
func (s *Store) PurgeRegionKind(region, kind string) error {
	_, err := s.db.Exec(`DELETE FROM reference_entries WHERE region = ? AND kind = ?`, region, kind)
	return err
}

// ClearReferenceData empties the reference partition without touching
// interviews or the response cache.
func (s *Store) ClearReferenceData() error {
	_, err := s.db.Exec(`DELETE FROM reference_entries`)
	return err
}
