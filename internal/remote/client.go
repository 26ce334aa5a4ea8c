package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/net/http2"

	"github.com/pollwise/fieldsync/internal/interview"
	"github.com/pollwise/fieldsync/internal/netx"
)

const (
	submitTimeout = 30 * time.Second
	fetchTimeout  = 15 * time.Second
	uploadTimeout = 2 * time.Minute
)

// maxErrorBody caps how much of an error response we keep around.
const maxErrorBody = 2048

// Client talks to the survey collection backend over HTTP. Non-2xx
// responses come back as *netx.StatusError so callers can classify
// them without inspecting bodies.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New creates a Client targeting the given backend base URL.
func New(baseURL, apiKey string) (*Client, error) {
	transport := &http.Transport{
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	if err := http2.ConfigureTransport(transport); err != nil {
		return nil, fmt.Errorf("configuring transport: %w", err)
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Transport: transport,
		},
	}, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return req, nil
}

// statusError reads (a bounded amount of) the response body into a
// *netx.StatusError.
func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &netx.StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}

// SubmitInterview uploads a completed interview and returns the remote
// session id. A duplicate submission (the backend already has this
// interview id) returns the existing session id together with a 409
// *netx.StatusError; callers treat that as success.
func (c *Client) SubmitInterview(ctx context.Context, iv interview.Interview) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, submitTimeout)
	defer cancel()

	sr := submitRequest{
		InterviewID:     iv.ID,
		CampaignID:      iv.CampaignID,
		Mode:            iv.Mode,
		Answers:         iv.Answers,
		StartedAt:       iv.CreatedAt.UTC().Format(time.RFC3339),
		DurationSeconds: iv.DurationSeconds,
		Metadata:        iv.Metadata,
	}
	if !iv.EndedAt.IsZero() {
		sr.EndedAt = iv.EndedAt.UTC().Format(time.RFC3339)
	}

	body, err := json.Marshal(sr)
	if err != nil {
		return "", err
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/v1/interviews", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("submitting interview %s: %w", iv.ID, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		var result submitResponse
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return "", fmt.Errorf("decoding submit response: %w", err)
		}
		return result.SessionID, nil
	case resp.StatusCode == http.StatusConflict:
		// The earlier submission won; surface its session id if the
		// backend includes one.
		var result submitResponse
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		_ = json.Unmarshal(raw, &result)
		return result.SessionID, &netx.StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	default:
		return "", statusError(resp)
	}
}

// AbandonInterview tells the backend a locally started interview will
// never be completed.
func (c *Client) AbandonInterview(ctx context.Context, iv interview.Interview) error {
	ctx, cancel := context.WithTimeout(ctx, submitTimeout)
	defer cancel()

	body, err := json.Marshal(abandonRequest{CampaignID: iv.CampaignID, Reason: iv.StatusReason})
	if err != nil {
		return err
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/v1/interviews/"+url.PathEscape(iv.ID)+"/abandon", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("abandoning interview %s: %w", iv.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return statusError(resp)
	}
	return nil
}

// UploadAudio streams an interview's recording to the backend as a
// multipart form. The reader is consumed fully on success.
func (c *Client) UploadAudio(ctx context.Context, interviewID, filename string, audio io.Reader) error {
	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("audio", filepath.Base(filename))
	if err != nil {
		return fmt.Errorf("building upload form: %w", err)
	}
	if _, err := io.Copy(part, audio); err != nil {
		return fmt.Errorf("reading audio for %s: %w", interviewID, err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("finalizing upload form: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/v1/interviews/"+url.PathEscape(interviewID)+"/audio", &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("uploading audio for %s: %w", interviewID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusNoContent {
		return statusError(resp)
	}
	return nil
}

// FetchStation retrieves the detail payload for a single polling
// station by its composite key. The raw body is returned so callers
// can hand it to the response cache untouched.
func (c *Client) FetchStation(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodGet, "/api/v1/stations/"+url.PathEscape(key), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching station %s: %w", key, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading station %s: %w", key, err)
	}
	return payload, nil
}

// FetchReferenceDocument conditionally retrieves the full reference
// data document. When fingerprint matches the backend's current
// version the backend answers 304 and notModified is true with a nil
// payload. Otherwise the new document and its fingerprint (the ETag
// header) are returned.
func (c *Client) FetchReferenceDocument(ctx context.Context, fingerprint string) (payload []byte, newFingerprint string, notModified bool, err error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodGet, "/api/v1/reference", nil)
	if err != nil {
		return nil, "", false, err
	}
	if fingerprint != "" {
		req.Header.Set("If-None-Match", fingerprint)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", false, fmt.Errorf("fetching reference data: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNotModified:
		return nil, fingerprint, true, nil
	case http.StatusOK:
		payload, err = io.ReadAll(resp.Body)
		if err != nil {
			return nil, "", false, fmt.Errorf("reading reference data: %w", err)
		}
		return payload, resp.Header.Get("ETag"), false, nil
	default:
		return nil, "", false, statusError(resp)
	}
}
