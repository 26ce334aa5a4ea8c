package syncer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pollwise/fieldsync/internal/interview"
	"github.com/pollwise/fieldsync/internal/netx"
	"github.com/pollwise/fieldsync/internal/storage"
)

// DefaultConcurrency bounds how many interviews sync in parallel.
const DefaultConcurrency = 3

// itemTimeout caps one interview's remote work. Submissions run on a
// context detached from the pass so cancellation mid-flight cannot
// strand a record in Syncing against an already-accepted upload.
const itemTimeout = 3 * time.Minute

// ErrPassInProgress is returned when RunPass is called while an
// earlier pass is still running.
var ErrPassInProgress = errors.New("sync pass already in progress")

// Records is the slice of the local interview store the engine drives.
type Records interface {
	ListPending() ([]interview.Interview, error)
	MarkSyncing(id string) (interview.Interview, error)
	MarkSynced(id, remoteSessionID string) error
	MarkFailed(id, reason string, kind interview.FailureKind) error
	SetAudioState(id string, status interview.AudioStatus, uploadErr string) error
	QueueItemFor(id string) (storage.SyncQueueItem, error)
	BumpQueueAttempts(id string) error
	Delete(id string) error
}

// Remote is the backend surface the engine submits to.
type Remote interface {
	SubmitInterview(ctx context.Context, iv interview.Interview) (string, error)
	AbandonInterview(ctx context.Context, iv interview.Interview) error
	UploadAudio(ctx context.Context, interviewID, filename string, audio io.Reader) error
}

// ArtifactOpener opens an interview's owned audio file for upload.
type ArtifactOpener interface {
	Open(interviewID, path string) (*os.File, error)
}

// Stats summarizes one sync pass.
type Stats struct {
	Attempted int
	Synced    int
	Failed    int
}

// Engine pushes locally stored interviews to the backend. One pass at
// a time; concurrent RunPass callers get ErrPassInProgress instead of
// a second pass.
type Engine struct {
	records     Records
	remote      Remote
	artifacts   ArtifactOpener
	logger      *slog.Logger
	concurrency int

	passMu sync.Mutex

	statsMu sync.Mutex
	stats   Stats
}

// New wires an Engine. A nil logger falls back to slog.Default and a
// non-positive concurrency to DefaultConcurrency.
func New(records Records, remote Remote, artifacts ArtifactOpener, logger *slog.Logger, concurrency int) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Engine{
		records:     records,
		remote:      remote,
		artifacts:   artifacts,
		logger:      logger,
		concurrency: concurrency,
	}
}

// RunPass syncs every eligible interview once. Per-record failures are
// recorded on the record, not returned; the error return is for the
// pass itself (already running, store unreadable, context cancelled).
func (e *Engine) RunPass(ctx context.Context) (Stats, error) {
	if !e.passMu.TryLock() {
		return Stats{}, ErrPassInProgress
	}
	defer e.passMu.Unlock()

	items, err := e.records.ListPending()
	if err != nil {
		return Stats{}, err
	}

	e.statsMu.Lock()
	e.stats = Stats{}
	e.statsMu.Unlock()

	g, passCtx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)

	seen := make(map[string]bool, len(items))
	for _, iv := range items {
		if seen[iv.ID] {
			continue
		}
		seen[iv.ID] = true
		if !eligible(iv) {
			continue
		}
		if err := passCtx.Err(); err != nil {
			break
		}
		g.Go(func() error {
			e.syncOne(passCtx, iv)
			return nil
		})
	}

	groupErr := g.Wait()

	e.statsMu.Lock()
	stats := e.stats
	e.statsMu.Unlock()

	// The group's derived context is cancelled once Wait returns, so
	// only the caller's context decides whether the pass was cut short.
	if err := ctx.Err(); err != nil {
		return stats, err
	}
	return stats, groupErr
}

// eligible filters out records another attempt is already working on
// and failures that wait for an operator.
func eligible(iv interview.Interview) bool {
	switch iv.Status {
	case interview.StatusPending:
		return true
	case interview.StatusFailed:
		return iv.FailureKind == interview.FailureTransient || iv.FailureKind == ""
	default:
		return false
	}
}

func (e *Engine) syncOne(ctx context.Context, iv interview.Interview) {
	e.statsMu.Lock()
	e.stats.Attempted++
	e.statsMu.Unlock()

	updated, err := e.records.MarkSyncing(iv.ID)
	if err != nil {
		e.logger.Error("marking interview syncing", "interview_id", iv.ID, "error", err)
		e.countFailed()
		return
	}
	iv = updated
	if err := e.records.BumpQueueAttempts(iv.ID); err != nil {
		e.logger.Warn("bumping queue attempts", "interview_id", iv.ID, "error", err)
	}

	item, err := e.records.QueueItemFor(iv.ID)
	if err != nil {
		e.failLocal(iv.ID, "reading queued operation: "+err.Error())
		return
	}

	// Detach from the pass context so cancellation between records does
	// not abort a submission the backend may already be processing.
	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), itemTimeout)
	defer cancel()

	switch item.Operation {
	case "abandon":
		e.abandonOne(opCtx, iv)
	default:
		e.completeOne(opCtx, iv)
	}
}

func (e *Engine) completeOne(ctx context.Context, iv interview.Interview) {
	sessionID, err := e.remote.SubmitInterview(ctx, iv)
	if err != nil {
		switch netx.Classify(err) {
		case netx.ClassDuplicate:
			// The backend already has this interview. Treat as synced,
			// keeping whatever session id the conflict carried.
			e.logger.Info("interview already submitted", "interview_id", iv.ID)
		case netx.ClassGone:
			e.fail(iv.ID, "no longer available", interview.FailureGone)
			return
		case netx.ClassPermanent:
			e.fail(iv.ID, "rejected by server: "+err.Error(), interview.FailurePermanent)
			return
		default:
			e.fail(iv.ID, "could not reach server; will retry", interview.FailureTransient)
			return
		}
	}

	if iv.Audio.Path != "" && iv.Audio.UploadStatus != interview.AudioDone {
		if ok := e.uploadAudio(ctx, iv); !ok {
			return
		}
	}

	if err := e.records.MarkSynced(iv.ID, sessionID); err != nil {
		e.logger.Error("marking interview synced", "interview_id", iv.ID, "error", err)
		e.countFailed()
		return
	}
	e.statsMu.Lock()
	e.stats.Synced++
	e.statsMu.Unlock()
	e.logger.Info("interview synced", "interview_id", iv.ID, "session_id", sessionID)
}

// uploadAudio runs the audio substep. It reports whether the sync may
// proceed to Synced: an upload failure only blocks interviews whose
// audio is mandatory.
func (e *Engine) uploadAudio(ctx context.Context, iv interview.Interview) bool {
	if err := e.records.SetAudioState(iv.ID, interview.AudioInProgress, ""); err != nil {
		e.logger.Warn("recording audio upload start", "interview_id", iv.ID, "error", err)
	}

	err := e.doUpload(ctx, iv)
	if err == nil {
		if err := e.records.SetAudioState(iv.ID, interview.AudioDone, ""); err != nil {
			e.logger.Warn("recording audio upload done", "interview_id", iv.ID, "error", err)
		}
		return true
	}

	if setErr := e.records.SetAudioState(iv.ID, interview.AudioNotStarted, err.Error()); setErr != nil {
		e.logger.Warn("recording audio upload failure", "interview_id", iv.ID, "error", setErr)
	}

	if errors.Is(err, interview.ErrArtifactMismatch) {
		e.fail(iv.ID, "audio file does not belong to this interview", interview.FailureLocal)
		return false
	}
	if !iv.AudioMandatory() {
		e.logger.Warn("audio upload failed; syncing without it", "interview_id", iv.ID, "error", err)
		return true
	}
	switch netx.Classify(err) {
	case netx.ClassPermanent:
		e.fail(iv.ID, "audio rejected by server: "+err.Error(), interview.FailurePermanent)
	default:
		e.fail(iv.ID, "audio upload failed; will retry", interview.FailureTransient)
	}
	return false
}

func (e *Engine) doUpload(ctx context.Context, iv interview.Interview) error {
	f, err := e.artifacts.Open(iv.ID, iv.Audio.Path)
	if err != nil {
		return err
	}
	defer f.Close()
	return e.remote.UploadAudio(ctx, iv.ID, iv.Audio.Path, f)
}

// abandonOne tells the backend the interview will never complete, then
// removes it locally along with its artifact.
func (e *Engine) abandonOne(ctx context.Context, iv interview.Interview) {
	err := e.remote.AbandonInterview(ctx, iv)
	if err != nil {
		switch netx.Classify(err) {
		case netx.ClassGone, netx.ClassDuplicate, netx.ClassPermanent:
			// The backend will never accept this abandon; dropping the
			// local record is the only useful outcome left.
			e.logger.Warn("abandon not accepted; removing locally", "interview_id", iv.ID, "error", err)
		default:
			e.fail(iv.ID, "could not reach server; will retry", interview.FailureTransient)
			return
		}
	}

	if err := e.records.Delete(iv.ID); err != nil {
		e.logger.Error("deleting abandoned interview", "interview_id", iv.ID, "error", err)
		e.countFailed()
		return
	}
	e.statsMu.Lock()
	e.stats.Synced++
	e.statsMu.Unlock()
	e.logger.Info("interview abandoned", "interview_id", iv.ID)
}

func (e *Engine) fail(id, reason string, kind interview.FailureKind) {
	if err := e.records.MarkFailed(id, reason, kind); err != nil {
		e.logger.Error("marking interview failed", "interview_id", id, "error", err)
	}
	e.countFailed()
}

func (e *Engine) failLocal(id, reason string) {
	e.fail(id, reason, interview.FailureLocal)
}

func (e *Engine) countFailed() {
	e.statsMu.Lock()
	e.stats.Failed++
	e.statsMu.Unlock()
}
