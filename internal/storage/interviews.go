package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// SaveInterview upserts a whole interview document by id. Writes whose
// document exceeds MaxDocBytes fail with ErrDocTooLarge and persist
// nothing.
func (s *Store) SaveInterview(row InterviewRow) error {
	if len(row.Doc) > MaxDocBytes {
		return fmt.Errorf("interview %s: %w (%d bytes)", row.ID, ErrDocTooLarge, len(row.Doc))
	}
	_, err := s.db.Exec(`
		INSERT INTO interviews (id, campaign_id, status, updated_at, doc)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			campaign_id = excluded.campaign_id,
			status = excluded.status,
			updated_at = excluded.updated_at,
			doc = excluded.doc`,
		row.ID, row.CampaignID, row.Status, row.UpdatedAt.UTC().Format(time.RFC3339), string(row.Doc),
	)
	return err
}

// GetInterview returns the interview row for id, or ErrNotFound.
func (s *Store) GetInterview(id string) (InterviewRow, error) {
	var row InterviewRow
	var updatedAt, doc string
	err := s.db.QueryRow(`
		SELECT id, campaign_id, status, updated_at, doc
		FROM interviews WHERE id = ?`, id,
	).Scan(&row.ID, &row.CampaignID, &row.Status, &updatedAt, &doc)
	if err == sql.ErrNoRows {
		return InterviewRow{}, ErrNotFound
	}
	if err != nil {
		return InterviewRow{}, err
	}
	t, err := time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return InterviewRow{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	row.UpdatedAt = t
	row.Doc = []byte(doc)
	return row, nil
}

// ListInterviews returns all interview rows, oldest update first.
func (s *Store) ListInterviews() ([]InterviewRow, error) {
	return s.queryInterviews(`
		SELECT id, campaign_id, status, updated_at, doc
		FROM interviews ORDER BY updated_at ASC`)
}

// ListInterviewsByStatus returns interviews in any of the given
// statuses, oldest update first.
func (s *Store) ListInterviewsByStatus(statuses ...string) ([]InterviewRow, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat(",?", len(statuses)-1)
	query := `SELECT id, campaign_id, status, updated_at, doc
		FROM interviews WHERE status IN (?` + placeholders + `)
		ORDER BY updated_at ASC`
	args := make([]any, len(statuses))
	for i, st := range statuses {
		args[i] = st
	}
	return s.queryInterviews(query, args...)
}

// CountInterviewsByStatus returns a status -> count map over all interviews.
func (s *Store) CountInterviewsByStatus() (map[string]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM interviews GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// DeleteInterview removes the interview row and any queue items
// pointing at it.
func (s *Store) DeleteInterview(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning delete transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`DELETE FROM interviews WHERE id = ?`, id)
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
	if _, err := tx.Exec(`DELETE FROM sync_queue WHERE interview_id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) queryInterviews(query string, args ...any) ([]InterviewRow, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []InterviewRow
	for rows.Next() {
		var row InterviewRow
		var updatedAt, doc string
		if err := rows.Scan(&row.ID, &row.CampaignID, &row.Status, &updatedAt, &doc); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, updatedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing updated_at: %w", err)
		}
		row.UpdatedAt = t
		row.Doc = []byte(doc)
		results = append(results, row)
	}
	return results, rows.Err()
}
