package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/pollwise/fieldsync/internal/config"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		httpClient: ts.server.Client(),
	}
}

var ctx = context.Background()

func TestSyncTrigger(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /sync": `{"scheduled":true}`,
	})

	client := ts.client()
	resp, err := client.post(ctx, "/sync", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result map[string]bool
	if err := decodeJSON(resp, &result); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if !result["scheduled"] {
		t.Error("expected scheduled=true")
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	if ts.requests[0].Auth != "Bearer test-token" {
		t.Errorf("auth = %q, want Bearer test-token", ts.requests[0].Auth)
	}
}

func TestInterviewsList_StatusFilter(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /interviews": `[{"id":"iv-00000001","status":"failed","mode":"phone","attempts":2}]`,
	})

	client := ts.client()
	resp, err := client.get(ctx, "/interviews?status="+url.QueryEscape("failed"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var items []struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := decodeJSON(resp, &items); err != nil {
		t.Fatalf("decode error: %v", err)
	}

	if len(items) != 1 {
		t.Fatalf("expected 1 interview, got %d", len(items))
	}
	if items[0].Status != "failed" {
		t.Errorf("status = %q, want failed", items[0].Status)
	}
	if !strings.Contains(ts.requests[0].Path, "status=failed") {
		t.Errorf("path = %q, want status filter in query", ts.requests[0].Path)
	}
}

func TestInterviewsRetry(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /interviews/iv-1/retry": `{"status":"pending"}`,
	})

	client := ts.client()
	resp, err := client.post(ctx, "/interviews/iv-1/retry", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result map[string]string
	if err := decodeJSON(resp, &result); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if result["status"] != "pending" {
		t.Errorf("status = %q, want pending", result["status"])
	}
	if ts.requests[0].Method != "POST" {
		t.Errorf("method = %q, want POST", ts.requests[0].Method)
	}
}

func TestRefdataLookup_URLEncoding(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /refdata/lookup": `{"entry":{"key":"West Bengal::58","name":"Hariharpara"},"source":"cache"}`,
	})

	client := ts.client()
	path := "/refdata/lookup?region=" + url.QueryEscape("West Bengal") +
		"&kind=ac&q=" + url.QueryEscape("Hari Harpara")
	resp, err := client.get(ctx, path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	reqPath := ts.requests[0].Path
	if strings.Contains(reqPath, "West Bengal") {
		t.Errorf("query not URL-encoded: %q", reqPath)
	}
	if !strings.Contains(reqPath, "region=West+Bengal") {
		t.Errorf("unexpected encoded path: %q", reqPath)
	}
}

func TestLookupCommand_MissingFlags(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"refdata", "lookup", "hariharpara"})
	err := rootCmd.Execute()
	if err == nil {
		t.Fatal("expected error for missing flags")
	}
	if !strings.Contains(err.Error(), "required") {
		t.Errorf("error = %q, want it to mention 'required'", err.Error())
	}
}

func TestStatusCommand_Running(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /health": `{"status":"ok"}`,
	})

	client := ts.client()
	resp, err := client.get(ctx, "/health")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Errorf("status code = %d, want 200", resp.StatusCode)
	}
}

func TestStatusCommand_Stopped(t *testing.T) {
	ts := newTestServer(t, map[string]string{})
	ts.server.Close()

	client := ts.client()
	_, err := client.get(ctx, "/health")
	if err == nil {
		t.Fatal("expected error for stopped server")
	}
	if !strings.Contains(err.Error(), "not reachable") {
		t.Errorf("error = %q, want it to mention 'not reachable'", err.Error())
	}
}

func TestNoColorFlag(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	result := colorize(colorGreen, "test message")
	if strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=true should not contain ANSI codes, got %q", result)
	}
	if result != "test message" {
		t.Errorf("result = %q, want %q", result, "test message")
	}

	noColor = false
	result = colorize(colorGreen, "test message")
	if !strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}

func TestEmptyTokenSendsNoAuthHeader(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /health": `{"status":"ok"}`,
	})

	client := ts.client()
	client.token = ""

	resp, err := client.get(ctx, "/health")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	if ts.requests[0].Auth != "" {
		t.Errorf("auth = %q, want empty", ts.requests[0].Auth)
	}
}

func TestDecodeJSON_ErrorResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(401)
		w.Write([]byte(`{"error":{"message":"unauthorized","type":"auth_error"}}`))
	}))
	defer ts.Close()

	client := &apiClient{
		baseURL:    ts.URL,
		token:      "bad-token",
		httpClient: ts.Client(),
	}

	resp, err := client.get(ctx, "/status")
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}

	var result any
	err = decodeJSON(resp, &result)
	if err == nil {
		t.Fatal("expected error for 401 response")
	}
	if !strings.Contains(err.Error(), "401") {
		t.Errorf("error = %q, want it to contain '401'", err.Error())
	}
}

func TestAbandonRequestBody(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /interviews/iv-9/abandon": `{"status":"pending"}`,
	})

	client := ts.client()
	resp, err := client.post(ctx, "/interviews/iv-9/abandon", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var result map[string]string
	if err := decodeJSON(resp, &result); err != nil {
		t.Fatalf("decode error: %v", err)
	}

	r := ts.requests[0]
	if r.Path != "/interviews/iv-9/abandon" {
		t.Errorf("path = %q", r.Path)
	}
	if r.Body != "" {
		var body map[string]any
		if err := json.Unmarshal([]byte(r.Body), &body); err != nil {
			t.Fatalf("body parse error: %v", err)
		}
	}
}

func TestConfigShowAll(t *testing.T) {
	cfg := config.Config{}
	cfg.Server.Port = 4017
	cfg.Remote.BaseURL = "https://api.example.com"

	keys := config.ShowAll(cfg)
	if len(keys) == 0 {
		t.Fatal("expected non-empty keys from ShowAll")
	}

	found := false
	for _, k := range keys {
		if k.Key == "server.port" && k.Value == "4017" {
			found = true
		}
		if k.Key == "remote.api_key" {
			t.Error("secrets must not appear in ShowAll output")
		}
	}
	if !found {
		t.Error("expected to find server.port=4017 in ShowAll output")
	}
}
