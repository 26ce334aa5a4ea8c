package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// EnqueueSyncItem inserts a queue item. The default operation is
// "complete" and the default timestamps are now.
func (s *Store) EnqueueSyncItem(item SyncQueueItem) error {
	now := time.Now().UTC()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	if item.UpdatedAt.IsZero() {
		item.UpdatedAt = now
	}
	if item.Operation == "" {
		item.Operation = "complete"
	}
	_, err := s.db.Exec(`
		INSERT INTO sync_queue (id, interview_id, operation, attempts, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		item.ID, item.InterviewID, item.Operation, item.Attempts,
		item.CreatedAt.Format(time.RFC3339), item.UpdatedAt.Format(time.RFC3339),
	)
	return err
}

// GetSyncItemForInterview returns the oldest queue item pointing at
// the interview, or ErrNotFound.
func (s *Store) GetSyncItemForInterview(interviewID string) (SyncQueueItem, error) {
	var item SyncQueueItem
	var createdAt, updatedAt string
	err := s.db.QueryRow(`
		SELECT id, interview_id, operation, attempts, created_at, updated_at
		FROM sync_queue WHERE interview_id = ?
		ORDER BY created_at ASC LIMIT 1`, interviewID,
	).Scan(&item.ID, &item.InterviewID, &item.Operation, &item.Attempts, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return SyncQueueItem{}, ErrNotFound
	}
	if err != nil {
		return SyncQueueItem{}, err
	}
	if item.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return SyncQueueItem{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if item.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return SyncQueueItem{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return item, nil
}

// BumpSyncItemAttempts increments the attempt counter for a queue item.
func (s *Store) BumpSyncItemAttempts(id string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`UPDATE sync_queue SET attempts = attempts + 1, updated_at = ? WHERE id = ?`, now, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteSyncItem removes one queue item.
func (s *Store) DeleteSyncItem(id string) error {
	_, err := s.db.Exec(`DELETE FROM sync_queue WHERE id = ?`, id)
	return err
}

// DeleteSyncItemsForInterview removes every queue item pointing at the interview.
func (s *Store) DeleteSyncItemsForInterview(interviewID string) error {
	_, err := s.db.Exec(`DELETE FROM sync_queue WHERE interview_id = ?`, interviewID)
	return err
}

// CountSyncItems returns the queue depth.
func (s *Store) CountSyncItems() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM sync_queue`).Scan(&n)
	return n, err
}
