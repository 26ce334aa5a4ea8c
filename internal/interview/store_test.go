package interview

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pollwise/fieldsync/internal/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	artifacts, err := NewArtifactDir(t.TempDir())
	if err != nil {
		t.Fatalf("NewArtifactDir: %v", err)
	}
	return NewStore(db, artifacts)
}

func captureFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capture.ogg")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing capture file: %v", err)
	}
	return path
}

func TestCreateAssignsIdentityAndQueuesCompletion(t *testing.T) {
	s := newTestStore(t)

	iv, err := s.Create(Interview{
		CampaignID: "wb-2026",
		Mode:       ModeInPerson,
		Answers:    map[string]any{"q1": "yes", "q2": []any{"a", "b"}},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if iv.ID == "" {
		t.Fatal("no id assigned")
	}
	if iv.Status != StatusPending {
		t.Errorf("expected pending, got %s", iv.Status)
	}

	item, err := s.QueueItemFor(iv.ID)
	if err != nil {
		t.Fatalf("QueueItemFor: %v", err)
	}
	if item.Operation != "complete" {
		t.Errorf("expected queued complete, got %q", item.Operation)
	}
}

func TestCreateAdoptsAudioArtifact(t *testing.T) {
	s := newTestStore(t)
	src := captureFile(t, "pcm-bytes")

	iv, err := s.Create(Interview{CampaignID: "wb-2026", Mode: ModePhone, Audio: Audio{Path: src}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if !strings.HasPrefix(filepath.Base(iv.Audio.Path), iv.ID+"_") {
		t.Errorf("owned path missing interview id prefix: %s", iv.Audio.Path)
	}
	if iv.Audio.UploadStatus != AudioNotStarted {
		t.Errorf("expected not_started upload status, got %s", iv.Audio.UploadStatus)
	}
	data, err := os.ReadFile(iv.Audio.Path)
	if err != nil {
		t.Fatalf("owned artifact unreadable: %v", err)
	}
	if string(data) != "pcm-bytes" {
		t.Errorf("artifact content mangled: %q", data)
	}

	// Deleting the transient source must not affect the owned copy.
	os.Remove(src)
	if _, err := os.Stat(iv.Audio.Path); err != nil {
		t.Errorf("owned copy gone after source removal: %v", err)
	}
}

func TestCreateRejectsExistingID(t *testing.T) {
	s := newTestStore(t)

	iv, err := s.Create(Interview{ID: "iv-fixed", CampaignID: "wb-2026", Mode: ModeInPerson})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	_, err = s.Create(Interview{ID: iv.ID, CampaignID: "wb-2026-other", Mode: ModePhone})
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	// The stored record and its single queue item are untouched.
	stored, err := s.GetByID(iv.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.CampaignID != "wb-2026" {
		t.Errorf("record overwritten: campaign %q", stored.CampaignID)
	}
}

func TestDeleteSurvivesCorruptArtifactLinkage(t *testing.T) {
	s := newTestStore(t)

	iv, err := s.Create(Interview{CampaignID: "wb-2026", Mode: ModeInPerson})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Corrupt the linkage: point the record at a file that does not
	// carry this interview's id prefix.
	foreign := filepath.Join(t.TempDir(), "other_call.m4a")
	if err := os.WriteFile(foreign, []byte("not ours"), 0o644); err != nil {
		t.Fatalf("writing foreign file: %v", err)
	}
	iv.Audio.Path = foreign
	if err := s.save(iv); err != nil {
		t.Fatalf("save: %v", err)
	}

	if err := s.Delete(iv.ID); err != nil {
		t.Fatalf("Delete with corrupt linkage: %v", err)
	}
	if _, err := s.GetByID(iv.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("record survived deletion: %v", err)
	}
	// The foreign file is never touched.
	if _, err := os.Stat(foreign); err != nil {
		t.Errorf("foreign file removed: %v", err)
	}
}

func TestCreateRefusesOversizedRecord(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Create(Interview{
		CampaignID: "wb-2026",
		Mode:       ModeInPerson,
		Answers:    map[string]any{"blob": strings.Repeat("x", storage.MaxDocBytes)},
	})
	if !errors.Is(err, storage.ErrDocTooLarge) {
		t.Fatalf("expected ErrDocTooLarge, got %v", err)
	}
}

func TestStatusTransitions(t *testing.T) {
	s := newTestStore(t)
	iv, err := s.Create(Interview{CampaignID: "wb-2026", Mode: ModeInPerson})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Pending cannot jump straight to synced.
	if err := s.MarkSynced(iv.ID, ""); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("pending -> synced allowed: %v", err)
	}

	if _, err := s.MarkSyncing(iv.ID); err != nil {
		t.Fatalf("MarkSyncing: %v", err)
	}
	if err := s.MarkFailed(iv.ID, "connection reset", FailureTransient); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	got, err := s.GetByID(iv.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", got.Attempts)
	}

	// Failed is retryable.
	if _, err := s.MarkSyncing(iv.ID); err != nil {
		t.Fatalf("MarkSyncing from failed: %v", err)
	}
	if err := s.MarkSynced(iv.ID, "srv-77"); err != nil {
		t.Fatalf("MarkSynced: %v", err)
	}

	// Synced is terminal.
	if _, err := s.MarkSyncing(iv.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("synced -> syncing allowed: %v", err)
	}
	if err := s.MarkFailed(iv.ID, "x", FailureTransient); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("synced -> failed allowed: %v", err)
	}
	if err := s.Retry(iv.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("retry from synced allowed: %v", err)
	}
}

func TestMarkSyncedPrunesAndReleasesArtifact(t *testing.T) {
	s := newTestStore(t)
	src := captureFile(t, "audio")

	iv, err := s.Create(Interview{
		CampaignID: "wb-2026",
		Mode:       ModeInPerson,
		Answers:    map[string]any{"q1": 1},
		Audio:      Audio{Path: src},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	ownedPath := iv.Audio.Path

	if _, err := s.MarkSyncing(iv.ID); err != nil {
		t.Fatalf("MarkSyncing: %v", err)
	}
	if err := s.MarkSynced(iv.ID, "srv-1"); err != nil {
		t.Fatalf("MarkSynced: %v", err)
	}

	got, err := s.GetByID(iv.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Answers != nil {
		t.Errorf("answers not pruned: %v", got.Answers)
	}
	if got.RemoteSessionID != "srv-1" {
		t.Errorf("remote session id not recorded: %q", got.RemoteSessionID)
	}
	if _, err := os.Stat(ownedPath); !os.IsNotExist(err) {
		t.Errorf("audio artifact not deleted on sync: %v", err)
	}
	if _, err := s.QueueItemFor(iv.ID); err != nil {
		t.Fatalf("QueueItemFor: %v", err)
	}
}

func TestListPendingSweepsStaleSyncing(t *testing.T) {
	s := newTestStore(t)

	iv, err := s.Create(Interview{CampaignID: "wb-2026", Mode: ModeInPerson})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Simulate a crash mid-flight: persist a Syncing record whose
	// attempt timestamp is ten minutes old.
	stale := iv
	stale.Status = StatusSyncing
	stale.LastAttemptAt = time.Now().UTC().Add(-10 * time.Minute)
	if err := s.Update(stale); err != nil {
		t.Fatalf("Update: %v", err)
	}

	items, err := s.ListPending()
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(items))
	}
	if items[0].Status != StatusFailed {
		t.Errorf("stale syncing not demoted: %s", items[0].Status)
	}

	// The correction is persisted, not just reported.
	got, err := s.GetByID(iv.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != StatusFailed {
		t.Errorf("demotion not persisted: %s", got.Status)
	}
}

func TestListPendingKeepsFreshSyncing(t *testing.T) {
	s := newTestStore(t)

	iv, err := s.Create(Interview{CampaignID: "wb-2026", Mode: ModeInPerson})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := s.MarkSyncing(iv.ID); err != nil {
		t.Fatalf("MarkSyncing: %v", err)
	}

	items, err := s.ListPending()
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(items) != 1 || items[0].Status != StatusSyncing {
		t.Fatalf("fresh syncing record mishandled: %+v", items)
	}
}

func TestRetryClearsFailureState(t *testing.T) {
	s := newTestStore(t)

	iv, err := s.Create(Interview{CampaignID: "wb-2026", Mode: ModeInPerson})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := s.MarkSyncing(iv.ID); err != nil {
		t.Fatalf("MarkSyncing: %v", err)
	}
	if err := s.MarkFailed(iv.ID, "answers rejected", FailurePermanent); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	if err := s.Retry(iv.ID); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	got, err := s.GetByID(iv.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != StatusPending || got.FailureKind != "" || got.StatusReason != "" {
		t.Errorf("failure state not cleared: %+v", got)
	}
}

func TestRequestAbandonSwapsOperation(t *testing.T) {
	s := newTestStore(t)

	iv, err := s.Create(Interview{CampaignID: "wb-2026", Mode: ModeInPerson})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.RequestAbandon(iv.ID); err != nil {
		t.Fatalf("RequestAbandon: %v", err)
	}
	item, err := s.QueueItemFor(iv.ID)
	if err != nil {
		t.Fatalf("QueueItemFor: %v", err)
	}
	if item.Operation != "abandon" {
		t.Errorf("expected abandon, got %q", item.Operation)
	}
}

func TestSummaries(t *testing.T) {
	cases := []struct {
		iv   Interview
		want string
	}{
		{Interview{Status: StatusPending}, "saved locally, will sync"},
		{Interview{Status: StatusSynced}, "synced"},
		{Interview{Status: StatusFailed, FailureKind: FailureTransient}, "saved locally, will sync"},
		{Interview{Status: StatusFailed, FailureKind: FailureGone}, "needs attention: no longer available"},
		{Interview{Status: StatusFailed, FailureKind: FailurePermanent, StatusReason: "answers rejected"}, "needs attention: answers rejected"},
	}
	for _, tc := range cases {
		if got := tc.iv.Summary(); got != tc.want {
			t.Errorf("Summary(%s/%s) = %q, want %q", tc.iv.Status, tc.iv.FailureKind, got, tc.want)
		}
	}
}
