package remote

// submitRequest is the JSON body for POST /api/v1/interviews.
type submitRequest struct {
	InterviewID     string         `json:"interview_id"`
	CampaignID      string         `json:"campaign_id"`
	Mode            string         `json:"mode"`
	Answers         map[string]any `json:"answers,omitempty"`
	StartedAt       string         `json:"started_at"`
	EndedAt         string         `json:"ended_at,omitempty"`
	DurationSeconds int            `json:"duration_seconds,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// submitResponse is the JSON returned for both an accepted submission
// and a duplicate of an earlier one.
type submitResponse struct {
	SessionID string `json:"session_id"`
}

// abandonRequest is the JSON body for POST /api/v1/interviews/{id}/abandon.
type abandonRequest struct {
	CampaignID string `json:"campaign_id"`
	Reason     string `json:"reason,omitempty"`
}
