package netx

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrOffline is returned when the connectivity probe reports the
// device unreachable. It is transient: the work stays queued.
var ErrOffline = errors.New("device is offline")

// ErrGone marks a resource the authority reports as permanently gone.
// It is cached as a negative result and never retried.
var ErrGone = errors.New("no longer available")

// Class is the failure taxonomy every remote outcome is sorted into.
type Class int

const (
	// ClassTransient failures (unreachable, timeout, 5xx, 408) are
	// retried with backoff and never surfaced as data loss.
	ClassTransient Class = iota
	// ClassPermanent failures (4xx except 408/409/410) are not
	// retried; the record is kept for operator resolution.
	ClassPermanent
	// ClassGone (410) is cached as a negative result and short-circuits
	// all future attempts.
	ClassGone
	// ClassDuplicate (409) means the authority already holds the
	// record. Not an error: callers normalize it to success.
	ClassDuplicate
)

func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassPermanent:
		return "permanent"
	case ClassGone:
		return "gone"
	case ClassDuplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// StatusError is a non-2xx response from the remote authority.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("remote returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("remote returned status %d: %s", e.StatusCode, e.Body)
}

// Classify sorts an error into the taxonomy. Anything that is not a
// recognizable permanent condition is treated as transient, because
// retrying a transient error is cheap and dropping field data is not.
func Classify(err error) Class {
	var se *StatusError
	if errors.As(err, &se) {
		switch {
		case se.StatusCode == http.StatusConflict:
			return ClassDuplicate
		case se.StatusCode == http.StatusGone:
			return ClassGone
		case se.StatusCode == http.StatusRequestTimeout:
			return ClassTransient
		case se.StatusCode >= 400 && se.StatusCode < 500:
			return ClassPermanent
		default:
			return ClassTransient
		}
	}
	if errors.Is(err, ErrGone) {
		return ClassGone
	}
	if errors.Is(err, ErrOffline) || errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ClassTransient
	}
	return ClassTransient
}
