package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrDocTooLarge is returned when an interview document exceeds
// MaxDocBytes. The write is refused outright: a record that cannot
// persist durably must be surfaced to the operator, not silently
// truncated or dropped.
var ErrDocTooLarge = errors.New("document exceeds size ceiling")

// MaxDocBytes is the per-record ceiling for interview documents.
const MaxDocBytes = 1 << 20 // 1MiB

// InterviewRow is an interview as persisted: a whole JSON document
// plus the columns needed to query it without decoding.
type InterviewRow struct {
	ID         string
	CampaignID string
	Status     string
	UpdatedAt  time.Time
	Doc        []byte
}

// SyncQueueItem is a pending remote operation against an interview.
// It is deliberately thin (a pointer to the interview plus the
// requested operation) so several operations against the same
// interview can be tracked independently.
type SyncQueueItem struct {
	ID          string
	InterviewID string
	Operation   string // "complete" or "abandon"
	Attempts    int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ReferenceEntry is one denormalized lookup row, keyed by a composite
// key within its region and kind.
type ReferenceEntry struct {
	Region   string
	Kind     string // "ac", "group", "station", "quota", "rotation"
	Key      string
	Name     string
	Payload  []byte // JSON stored as text
	CachedAt time.Time
}

// CacheEntry is one cached remote response. Gone entries record that
// the resource no longer exists; they are kept much longer than
// successes and short-circuit retries entirely.
type CacheEntry struct {
	Key       string
	Payload   []byte
	Gone      bool
	ExpiresAt time.Time
}
