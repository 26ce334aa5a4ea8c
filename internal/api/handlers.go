package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pollwise/fieldsync/internal/interview"
	"github.com/pollwise/fieldsync/internal/netx"
	"github.com/pollwise/fieldsync/internal/refdata"
	"github.com/pollwise/fieldsync/internal/storage"
)

// ReferencePuller refreshes the local reference cache from the backend.
type ReferencePuller interface {
	Pull(ctx context.Context) (bool, error)
}

// StationFetcher retrieves one polling station's detail payload,
// typically through the network guard's response cache.
type StationFetcher interface {
	FetchStation(ctx context.Context, key string) ([]byte, error)
}

// Deps carries everything the local HTTP surface serves from. The
// interviewer-facing app is the only intended client; it talks to this
// daemon instead of the backend directly.
type Deps struct {
	Interviews *interview.Store
	Refdata    *refdata.Cache
	Store      *storage.Store
	Puller     ReferencePuller
	Stations   StationFetcher
	Token      string

	// TriggerSync schedules a sync pass without blocking. It reports
	// whether the request was newly scheduled.
	TriggerSync func() bool
}

// NewHandler builds the daemon's local HTTP API.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Get("/status", handleStatus(deps))
		r.Post("/sync", handleTriggerSync(deps))

		r.Post("/interviews", handleCreateInterview(deps))
		r.Get("/interviews", handleListInterviews(deps))
		r.Get("/interviews/{id}", handleGetInterview(deps))
		r.Delete("/interviews/{id}", handleDeleteInterview(deps))
		r.Post("/interviews/{id}/retry", handleRetryInterview(deps))
		r.Post("/interviews/{id}/abandon", handleAbandonInterview(deps))

		r.Get("/refdata/lookup", handleLookup(deps))
		r.Get("/refdata/station", handleStation(deps))
		r.Post("/refdata/pull", handlePull(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		counts, err := deps.Store.CountInterviewsByStatus()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "counting interviews: %v", err)
			return
		}
		depth, err := deps.Store.CountSyncItems()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "counting queue: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"interviews":  counts,
			"queue_depth": depth,
		})
	}
}

func handleTriggerSync(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scheduled := deps.TriggerSync()
		writeJSON(w, http.StatusAccepted, map[string]bool{"scheduled": scheduled})
	}
}

// CreateInterviewRequest is the body for POST /interviews. AudioPath,
// when present, points at the capture subsystem's transient file; the
// daemon copies it into its owned area before persisting.
type CreateInterviewRequest struct {
	CampaignID      string         `json:"campaign_id"`
	Mode            string         `json:"mode"`
	Answers         map[string]any `json:"answers"`
	AudioPath       string         `json:"audio_path,omitempty"`
	EndedAt         time.Time      `json:"ended_at,omitzero"`
	DurationSeconds int            `json:"duration_seconds,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

func handleCreateInterview(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req CreateInterviewRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.CampaignID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "campaign_id is required")
			return
		}
		if req.Mode != interview.ModeInPerson && req.Mode != interview.ModePhone {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "mode must be %q or %q", interview.ModeInPerson, interview.ModePhone)
			return
		}
		if req.Mode == interview.ModePhone && req.AudioPath == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "phone interviews require audio_path")
			return
		}

		created, err := deps.Interviews.Create(interview.Interview{
			CampaignID:      req.CampaignID,
			Mode:            req.Mode,
			Answers:         req.Answers,
			EndedAt:         req.EndedAt,
			DurationSeconds: req.DurationSeconds,
			Metadata:        req.Metadata,
			Audio:           interview.Audio{Path: req.AudioPath},
		})
		if errors.Is(err, storage.ErrDocTooLarge) {
			httpError(w, http.StatusRequestEntityTooLarge, "record_too_large", "interview exceeds the maximum record size")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "saving interview: %v", err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	}
}

func handleListInterviews(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, err := deps.Interviews.List()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing interviews: %v", err)
			return
		}
		if status := r.URL.Query().Get("status"); status != "" {
			filtered := items[:0]
			for _, iv := range items {
				if string(iv.Status) == status {
					filtered = append(filtered, iv)
				}
			}
			items = filtered
		}
		if items == nil {
			items = []interview.Interview{}
		}
		writeJSON(w, http.StatusOK, items)
	}
}

func handleGetInterview(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		iv, err := deps.Interviews.GetByID(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "interview not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading interview: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, iv)
	}
}

func handleDeleteInterview(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := deps.Interviews.Delete(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "interview not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "deleting interview: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func handleRetryInterview(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := deps.Interviews.Retry(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "interview not found")
			return
		}
		if errors.Is(err, interview.ErrInvalidTransition) {
			httpError(w, http.StatusConflict, "invalid_state", "only failed interviews can be retried")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "retrying interview: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "pending"})
	}
}

func handleAbandonInterview(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := deps.Interviews.RequestAbandon(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "interview not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "abandoning interview: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "abandon_queued"})
	}
}

// handleLookup serves hierarchical reference lookups. A cache miss
// falls back to the bundled snapshot so a fresh install answers
// before its first successful pull.
func handleLookup(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		region, kind, query := q.Get("region"), q.Get("kind"), q.Get("q")
		parent := q.Get("parent")
		if region == "" || kind == "" || query == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "region, kind and q are required")
			return
		}

		entry, ok, err := deps.Refdata.Lookup(region, kind, parent, query)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "reference lookup: %v", err)
			return
		}
		source := "cache"
		if !ok {
			entry, ok, err = refdata.SnapshotLookup(region, kind, parent, query)
			if err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "snapshot lookup: %v", err)
				return
			}
			source = "snapshot"
		}
		if !ok {
			httpError(w, http.StatusNotFound, "not_found", "no reference entry matches %q", query)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"entry":  entry,
			"source": source,
		})
	}
}

// handleStation proxies one station detail fetch through the guard.
// The payload comes back exactly as the backend sent it.
func handleStation(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Query().Get("key")
		if key == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "key is required")
			return
		}

		payload, err := deps.Stations.FetchStation(r.Context(), key)
		if err != nil {
			switch netx.Classify(err) {
			case netx.ClassGone:
				httpError(w, http.StatusGone, "gone", "station %q is no longer available", key)
			case netx.ClassTransient:
				httpError(w, http.StatusServiceUnavailable, "offline", "station fetch failed: %v", err)
			default:
				httpError(w, http.StatusBadGateway, "api_error", "station fetch failed: %v", err)
			}
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write(payload)
	}
}

func handlePull(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		updated, err := deps.Puller.Pull(r.Context())
		if err != nil {
			if netx.Classify(err) == netx.ClassTransient {
				httpError(w, http.StatusServiceUnavailable, "offline", "reference pull failed: %v", err)
				return
			}
			httpError(w, http.StatusBadGateway, "api_error", "reference pull failed: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"updated": updated})
	}
}
