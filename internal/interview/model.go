package interview

import (
	"errors"
	"time"
)

// Status is the lifecycle state of an interview on this device.
type Status string

const (
	StatusPending Status = "pending"
	StatusSyncing Status = "syncing"
	StatusSynced  Status = "synced"
	StatusFailed  Status = "failed"
)

// Collection modes. Audio recording is mandatory for phone interviews.
const (
	ModeInPerson = "in_person"
	ModePhone    = "phone"
)

// AudioStatus tracks the upload of an interview's audio artifact.
type AudioStatus string

const (
	AudioNotStarted AudioStatus = "not_started"
	AudioInProgress AudioStatus = "in_progress"
	AudioDone       AudioStatus = "done"
)

// FailureKind classifies why an interview is in StatusFailed. Only
// transient failures are picked up again by the sync engine; the
// others wait for an operator action.
type FailureKind string

const (
	FailureTransient FailureKind = "transient"
	FailurePermanent FailureKind = "permanent"
	FailureGone      FailureKind = "gone"
	FailureLocal     FailureKind = "local"
)

// ErrInvalidTransition is returned for status changes outside the
// lifecycle graph. Synced is terminal.
var ErrInvalidTransition = errors.New("invalid status transition")

// ErrAlreadyExists is returned when Create is handed an id that is
// already stored; no two records may share an id.
var ErrAlreadyExists = errors.New("interview already exists")

// Audio is the interview's owned recording artifact and its upload state.
type Audio struct {
	Path         string      `json:"path,omitempty"`
	UploadStatus AudioStatus `json:"upload_status,omitempty"`
	Error        string      `json:"error,omitempty"`
}

// Interview is one locally collected record awaiting or having
// completed submission. It is persisted as a whole document; answer
// values are opaque to the engine.
type Interview struct {
	ID              string         `json:"id"`
	CampaignID      string         `json:"campaign_id"`
	Mode            string         `json:"mode"`
	Answers         map[string]any `json:"answers,omitempty"`
	RemoteSessionID string         `json:"remote_session_id,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	EndedAt         time.Time      `json:"ended_at,omitzero"`
	DurationSeconds int            `json:"duration_seconds,omitempty"`
	Audio           Audio          `json:"audio,omitzero"`
	Metadata        map[string]any `json:"metadata,omitempty"`

	Status        Status      `json:"status"`
	StatusReason  string      `json:"status_reason,omitempty"`
	FailureKind   FailureKind `json:"failure_kind,omitempty"`
	Attempts      int         `json:"attempts,omitempty"`
	LastAttemptAt time.Time   `json:"last_attempt_at,omitzero"`
}

// validTransition reports whether from -> to is allowed by the
// lifecycle graph:
//
//	Pending -> Syncing -> {Synced | Failed}
//	Failed  -> {Pending | Syncing}
func validTransition(from, to Status) bool {
	if from == to {
		return true
	}
	switch from {
	case StatusPending:
		return to == StatusSyncing
	case StatusSyncing:
		return to == StatusSynced || to == StatusFailed
	case StatusFailed:
		return to == StatusPending || to == StatusSyncing
	default: // StatusSynced and anything unknown
		return false
	}
}

// AudioMandatory reports whether this interview cannot be considered
// fully synced until its audio artifact is uploaded.
func (iv Interview) AudioMandatory() bool {
	return iv.Mode == ModePhone && iv.Audio.Path != ""
}

// Summary is the operator-facing, per-record state description. It is
// intentionally not a technical error string.
func (iv Interview) Summary() string {
	switch iv.Status {
	case StatusSynced:
		return "synced"
	case StatusFailed:
		if iv.FailureKind == FailureTransient || iv.FailureKind == "" {
			return "saved locally, will sync"
		}
		if iv.FailureKind == FailureGone {
			return "needs attention: no longer available"
		}
		return "needs attention: " + iv.StatusReason
	default:
		return "saved locally, will sync"
	}
}
