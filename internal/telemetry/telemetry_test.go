package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestCorrelationIDRoundTrip(t *testing.T) {
	ctx := WithCorrelationID(context.Background(), "abc-123")
	if got := CorrelationID(ctx); got != "abc-123" {
		t.Errorf("CorrelationID = %q, want %q", got, "abc-123")
	}
}

func TestCorrelationIDGenerated(t *testing.T) {
	ctx := WithCorrelationID(context.Background(), "")
	id := CorrelationID(ctx)
	if id == "" {
		t.Fatal("expected generated correlation ID, got empty")
	}
	if len(id) != 32 {
		t.Errorf("generated ID length = %d, want 32 hex chars", len(id))
	}
}

func TestCorrelationIDMissing(t *testing.T) {
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID on empty context = %q, want empty", got)
	}
}

func TestTurnLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelInfo)

	ctx := WithCorrelationID(context.Background(), "corr-1")
	TurnLogger(logger, ctx, "thread-9").Info("hello")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log output is not JSON: %v", err)
	}
	if entry["thread"] != "thread-9" {
		t.Errorf("thread = %v, want thread-9", entry["thread"])
	}
	if entry["correlation_id"] != "corr-1" {
		t.Errorf("correlation_id = %v, want corr-1", entry["correlation_id"])
	}
}

func TestNewLoggerNilWriterDefaultsToStdout(t *testing.T) {
	// Must not panic.
	logger := NewLogger(nil, slog.LevelError)
	if logger == nil {
		t.Fatal("NewLogger returned nil")
	}
}

func TestMetricsExposition(t *testing.T) {
	m := NewMetrics()
	m.RecordTurn("pending")
	m.RecordTurn("complete")
	m.RecordTurn("complete")
	m.RecordExtraction("openai", 250*time.Millisecond)
	m.RecordWorkflowStage("fulfillment", "ok")
	m.RecordSessionCompleted()
	m.ConnOpened()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	out := string(body)

	want := []string{
		`orderdesk_turns_total{outcome="complete"} 2`,
		`orderdesk_turns_total{outcome="pending"} 1`,
		`orderdesk_workflow_stages_total{stage="fulfillment",status="ok"} 1`,
		`orderdesk_sessions_completed_total 1`,
		`orderdesk_ws_connections 1`,
	}
	for _, w := range want {
		if !strings.Contains(out, w) {
			t.Errorf("metrics output missing %q", w)
		}
	}
}
