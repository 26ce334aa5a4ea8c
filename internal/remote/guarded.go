package remote

import (
	"context"
	"fmt"
	"io"

	"github.com/pollwise/fieldsync/internal/interview"
	"github.com/pollwise/fieldsync/internal/netx"
)

// submitBackend is the raw client surface Guarded wraps.
type submitBackend interface {
	SubmitInterview(ctx context.Context, iv interview.Interview) (string, error)
	AbandonInterview(ctx context.Context, iv interview.Interview) error
	UploadAudio(ctx context.Context, interviewID, filename string, audio io.Reader) error
}

// Guarded routes the submission surface through the network resilience
// layer: an offline device fails fast on the cached probe verdict and
// transient backend errors are retried with bounded backoff. Nothing
// here is cached or coalesced; every interview is distinct work, so
// calls carry no cache key.
type Guarded struct {
	guard   *netx.Guard
	backend submitBackend
}

// NewGuarded wraps the backend client in the guard for the sync engine.
func NewGuarded(guard *netx.Guard, client *Client) *Guarded {
	return &Guarded{guard: guard, backend: client}
}

// SubmitInterview submits through the guard. A duplicate response still
// carries the backend's session id alongside the error, so the caller
// can record it.
func (g *Guarded) SubmitInterview(ctx context.Context, iv interview.Interview) (string, error) {
	var sessionID string
	_, err := g.guard.Do(ctx, netx.Options{}, func(ctx context.Context) ([]byte, error) {
		sid, submitErr := g.backend.SubmitInterview(ctx, iv)
		if sid != "" {
			sessionID = sid
		}
		return nil, submitErr
	})
	return sessionID, err
}

// AbandonInterview reports the abandon through the guard.
func (g *Guarded) AbandonInterview(ctx context.Context, iv interview.Interview) error {
	_, err := g.guard.Do(ctx, netx.Options{}, func(ctx context.Context) ([]byte, error) {
		return nil, g.backend.AbandonInterview(ctx, iv)
	})
	return err
}

// UploadAudio uploads through the guard, rewinding the stream between
// attempts. The engine hands over an *os.File, which seeks; a stream
// that cannot be replayed fails after its first attempt consumed it.
func (g *Guarded) UploadAudio(ctx context.Context, interviewID, filename string, audio io.Reader) error {
	first := true
	_, err := g.guard.Do(ctx, netx.Options{}, func(ctx context.Context) ([]byte, error) {
		if !first {
			seeker, ok := audio.(io.Seeker)
			if !ok {
				return nil, fmt.Errorf("audio stream for %s cannot be replayed", interviewID)
			}
			if _, err := seeker.Seek(0, io.SeekStart); err != nil {
				return nil, fmt.Errorf("rewinding audio for %s: %w", interviewID, err)
			}
		}
		first = false
		return nil, g.backend.UploadAudio(ctx, interviewID, filename, audio)
	})
	return err
}
