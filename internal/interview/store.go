package interview

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pollwise/fieldsync/internal/storage"
)

// StaleSyncingAfter is how long a record may sit in StatusSyncing
// before it is assumed crashed. Syncing is not crash-safe across
// process restarts, so anything older is demoted to StatusFailed.
const StaleSyncingAfter = 5 * time.Minute

// Store is the durable queue of field-collected interviews. All
// mutation is full-document read-modify-write under a single lock, so
// two writers never interleave partial updates to the same record.
type Store struct {
	mu        sync.Mutex
	db        *storage.Store
	artifacts *ArtifactDir
	logger    *slog.Logger
}

// NewStore wraps the durable record store and the owned audio area.
func NewStore(db *storage.Store, artifacts *ArtifactDir) *Store {
	return &Store{db: db, artifacts: artifacts, logger: slog.Default()}
}

// Create persists a new interview and enqueues its completion for
// sync. A capture-subsystem audio path, if present, is copied into the
// owned durable area before anything is written; the transient source
// is never referenced again. A record too large to persist is refused
// with storage.ErrDocTooLarge (fatal, never retried).
func (s *Store) Create(iv Interview) (Interview, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if iv.ID == "" {
		iv.ID = uuid.New().String()
	} else if _, err := s.load(iv.ID); err == nil {
		return Interview{}, fmt.Errorf("%w: %s", ErrAlreadyExists, iv.ID)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return Interview{}, err
	}
	if iv.CreatedAt.IsZero() {
		iv.CreatedAt = time.Now().UTC()
	}
	iv.Status = StatusPending
	iv.StatusReason = ""
	iv.FailureKind = ""

	if iv.Audio.Path != "" {
		owned, err := s.artifacts.Adopt(iv.ID, iv.Audio.Path)
		if err != nil {
			return Interview{}, fmt.Errorf("adopting audio artifact: %w", err)
		}
		iv.Audio.Path = owned
		iv.Audio.UploadStatus = AudioNotStarted
	}

	if err := s.save(iv); err != nil {
		// Do not leave an orphaned artifact behind a refused record.
		if iv.Audio.Path != "" {
			if rmErr := s.artifacts.Remove(iv.ID, iv.Audio.Path); rmErr != nil {
				s.logger.Warn("could not remove orphaned audio artifact", "interview_id", iv.ID, "error", rmErr)
			}
		}
		return Interview{}, err
	}

	if err := s.db.EnqueueSyncItem(storage.SyncQueueItem{
		ID:          uuid.New().String(),
		InterviewID: iv.ID,
		Operation:   "complete",
	}); err != nil {
		return Interview{}, fmt.Errorf("enqueueing sync item: %w", err)
	}
	return iv, nil
}

// Update replaces the whole document, validating the status change
// against the stored record.
func (s *Store) Update(iv Interview) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.load(iv.ID)
	if err != nil {
		return err
	}
	if !validTransition(current.Status, iv.Status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, iv.Status)
	}
	return s.save(iv)
}

// GetByID returns one interview, or storage.ErrNotFound.
func (s *Store) GetByID(id string) (Interview, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(id)
}

// List returns every interview, oldest update first.
func (s *Store) List() ([]Interview, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.ListInterviews()
	if err != nil {
		return nil, err
	}
	return decodeRows(rows)
}

// ListPending returns every interview eligible for a sync pass:
// Pending, Failed, and recently-entered Syncing records. Before
// returning it sweeps stale Syncing records (older than
// StaleSyncingAfter) down to Failed and persists the correction, so
// callers never need a separate recovery pass.
func (s *Store) ListPending() ([]Interview, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.ListInterviewsByStatus(
		string(StatusPending), string(StatusFailed), string(StatusSyncing),
	)
	if err != nil {
		return nil, err
	}
	items, err := decodeRows(rows)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	for i, iv := range items {
		if iv.Status != StatusSyncing {
			continue
		}
		ref := iv.LastAttemptAt
		if ref.IsZero() {
			ref = iv.CreatedAt
		}
		if now.Sub(ref) <= StaleSyncingAfter {
			continue
		}
		iv.Status = StatusFailed
		iv.FailureKind = FailureTransient
		iv.StatusReason = "sync attempt did not finish; will retry"
		if err := s.save(iv); err != nil {
			return nil, fmt.Errorf("demoting stale interview %s: %w", iv.ID, err)
		}
		s.logger.Warn("reset stale syncing interview", "interview_id", iv.ID, "last_attempt", ref)
		items[i] = iv
	}
	return items, nil
}

// Delete removes the interview, its queue items, and its owned audio
// artifact. A corrupt artifact linkage does not keep the record alive:
// the foreign file is left untouched and the record goes anyway,
// otherwise an abandon would retry a local-fatal condition forever.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	iv, err := s.load(id)
	if err != nil {
		return err
	}
	if iv.Audio.Path != "" {
		if err := s.artifacts.Remove(id, iv.Audio.Path); err != nil {
			if !errors.Is(err, ErrArtifactMismatch) {
				return err
			}
			s.logger.Error("audio artifact linkage corrupt; leaving file untouched", "interview_id", id, "path", iv.Audio.Path)
		}
	}
	return s.db.DeleteInterview(id)
}

// MarkSyncing transitions the record into StatusSyncing and stamps the
// attempt time. Returns the updated record so the caller works from
// the persisted state.
func (s *Store) MarkSyncing(id string) (Interview, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	iv, err := s.load(id)
	if err != nil {
		return Interview{}, err
	}
	if !validTransition(iv.Status, StatusSyncing) {
		return Interview{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, iv.Status, StatusSyncing)
	}
	iv.Status = StatusSyncing
	iv.LastAttemptAt = time.Now().UTC()
	if err := s.save(iv); err != nil {
		return Interview{}, err
	}
	return iv, nil
}

// MarkSynced finalizes the record: answers are pruned (the record
// itself is kept), the owned audio artifact is deleted, and all queue
// items are dropped. Synced is terminal.
func (s *Store) MarkSynced(id string, remoteSessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	iv, err := s.load(id)
	if err != nil {
		return err
	}
	if !validTransition(iv.Status, StatusSynced) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, iv.Status, StatusSynced)
	}
	if iv.Audio.Path != "" {
		if err := s.artifacts.Remove(id, iv.Audio.Path); err != nil {
			if errors.Is(err, ErrArtifactMismatch) {
				s.logger.Error("audio artifact linkage corrupt; leaving file untouched", "interview_id", id, "path", iv.Audio.Path)
			} else {
				return err
			}
		}
		iv.Audio.Path = ""
	}
	iv.Status = StatusSynced
	iv.StatusReason = ""
	iv.FailureKind = ""
	if remoteSessionID != "" {
		iv.RemoteSessionID = remoteSessionID
	}
	iv.Answers = nil
	if err := s.save(iv); err != nil {
		return err
	}
	return s.db.DeleteSyncItemsForInterview(id)
}

// MarkFailed transitions the record into StatusFailed with a reason
// and classification, incrementing the attempt counter.
func (s *Store) MarkFailed(id, reason string, kind FailureKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	iv, err := s.load(id)
	if err != nil {
		return err
	}
	if !validTransition(iv.Status, StatusFailed) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, iv.Status, StatusFailed)
	}
	iv.Status = StatusFailed
	iv.StatusReason = reason
	iv.FailureKind = kind
	iv.Attempts++
	return s.save(iv)
}

// Retry is the operator action that makes a failed record eligible
// again, clearing its failure classification.
func (s *Store) Retry(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	iv, err := s.load(id)
	if err != nil {
		return err
	}
	if iv.Status != StatusFailed {
		return fmt.Errorf("%w: retry from %s", ErrInvalidTransition, iv.Status)
	}
	iv.Status = StatusPending
	iv.StatusReason = ""
	iv.FailureKind = ""
	return s.save(iv)
}

// RequestAbandon replaces the record's queued operation with abandon.
func (s *Store) RequestAbandon(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.load(id); err != nil {
		return err
	}
	if err := s.db.DeleteSyncItemsForInterview(id); err != nil {
		return err
	}
	return s.db.EnqueueSyncItem(storage.SyncQueueItem{
		ID:          uuid.New().String(),
		InterviewID: id,
		Operation:   "abandon",
	})
}

// SetAudioState persists the audio upload sub-status for the record.
func (s *Store) SetAudioState(id string, status AudioStatus, uploadErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	iv, err := s.load(id)
	if err != nil {
		return err
	}
	iv.Audio.UploadStatus = status
	iv.Audio.Error = uploadErr
	return s.save(iv)
}

// QueueItemFor returns the queued operation for the interview. When
// nothing is queued the zero item with operation "complete" is
// returned, which is the default the engine assumes.
func (s *Store) QueueItemFor(id string) (storage.SyncQueueItem, error) {
	item, err := s.db.GetSyncItemForInterview(id)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.SyncQueueItem{InterviewID: id, Operation: "complete"}, nil
	}
	return item, err
}

// BumpQueueAttempts increments the attempt counter on the queued item,
// if one exists.
func (s *Store) BumpQueueAttempts(id string) error {
	item, err := s.db.GetSyncItemForInterview(id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.db.BumpSyncItemAttempts(item.ID)
}

func (s *Store) load(id string) (Interview, error) {
	row, err := s.db.GetInterview(id)
	if err != nil {
		return Interview{}, err
	}
	return decodeRow(row)
}

func (s *Store) save(iv Interview) error {
	doc, err := json.Marshal(iv)
	if err != nil {
		return fmt.Errorf("encoding interview %s: %w", iv.ID, err)
	}
	return s.db.SaveInterview(storage.InterviewRow{
		ID:         iv.ID,
		CampaignID: iv.CampaignID,
		Status:     string(iv.Status),
		UpdatedAt:  time.Now().UTC(),
		Doc:        doc,
	})
}

func decodeRow(row storage.InterviewRow) (Interview, error) {
	var iv Interview
	if err := json.Unmarshal(row.Doc, &iv); err != nil {
		return Interview{}, fmt.Errorf("decoding interview %s: %w", row.ID, err)
	}
	return iv, nil
}

func decodeRows(rows []storage.InterviewRow) ([]Interview, error) {
	results := make([]Interview, 0, len(rows))
	for _, row := range rows {
		iv, err := decodeRow(row)
		if err != nil {
			return nil, err
		}
		results = append(results, iv)
	}
	return results, nil
}
