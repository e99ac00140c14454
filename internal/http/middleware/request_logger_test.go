package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/echoposthq/echopost/pkg/logging"
)

func TestRequestLoggerEmitsCompletionLine(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewWithWriter(&buf, "info")

	mw := RequestLogger(logger)
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	req := httptest.NewRequest(http.MethodPost, "/webhooks/chatwoot", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v (raw %q)", err, buf.String())
	}
	if line["msg"] != "request completed" {
		t.Fatalf("unexpected message %v", line["msg"])
	}
	if line["method"] != "POST" || line["path"] != "/webhooks/chatwoot" {
		t.Fatalf("unexpected request fields: %v", line)
	}
	if line["status"] != float64(http.StatusAccepted) {
		t.Fatalf("expected status 202, got %v", line["status"])
	}
	if line["request_id"] != "req-123" {
		t.Fatalf("expected propagated request id, got %v", line["request_id"])
	}
}

func TestRequestLoggerGeneratesRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewWithWriter(&buf, "info")

	mw := RequestLogger(logger)
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	id, _ := line["request_id"].(string)
	if id == "" {
		t.Fatalf("expected a generated request id, got %v", line["request_id"])
	}
	if line["status"] != float64(http.StatusOK) {
		t.Fatalf("expected implicit 200, got %v", line["status"])
	}
}
