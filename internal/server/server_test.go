package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/orderdesk/orderdesk/internal/chat"
	"github.com/orderdesk/orderdesk/internal/extract"
	"github.com/orderdesk/orderdesk/internal/store"
	"github.com/orderdesk/orderdesk/internal/telemetry"
)

type stubEngine struct {
	process func(ctx context.Context, req chat.TurnRequest) (*chat.TurnResult, error)
}

func (s *stubEngine) ProcessTurn(ctx context.Context, req chat.TurnRequest) (*chat.TurnResult, error) {
	return s.process(ctx, req)
}

func pendingEngine(response string) *stubEngine {
	return &stubEngine{process: func(_ context.Context, req chat.TurnRequest) (*chat.TurnResult, error) {
		threadRef := req.ThreadRef
		if threadRef == "" {
			threadRef = "thread_1"
		}
		return &chat.TurnResult{
			Message:     req.Message,
			ThreadRef:   threadRef,
			CustomerRef: req.CustomerRef,
			Response:    response,
			Extracted:   chat.ExtractedData{Status: "pending"},
		}, nil
	}}
}

func postJSON(t *testing.T, handler http.Handler, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestChatEndpoint(t *testing.T) {
	srv := New(pendingEngine("Which country?"), store.NewMemory())

	rec := postJSON(t, srv.Handler(), "/v1/chat", chat.TurnRequest{
		Message: "100 steel pipes", CustomerRef: "c1", IsInitial: true,
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var result chat.TurnResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatal(err)
	}
	if result.Response != "Which country?" || result.ThreadRef != "thread_1" {
		t.Errorf("result = %+v", result)
	}
}

func TestChatEndpointErrors(t *testing.T) {
	tests := []struct {
		name   string
		engine TurnProcessor
		status int
	}{
		{
			name: "validation",
			engine: &stubEngine{process: func(context.Context, chat.TurnRequest) (*chat.TurnResult, error) {
				return nil, &chat.ValidationError{Field: "message", Reason: "must not be empty"}
			}},
			status: http.StatusBadRequest,
		},
		{
			name: "timeout",
			engine: &stubEngine{process: func(context.Context, chat.TurnRequest) (*chat.TurnResult, error) {
				return nil, extract.ErrTimeout
			}},
			status: http.StatusGatewayTimeout,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := New(tt.engine, store.NewMemory())
			rec := postJSON(t, srv.Handler(), "/v1/chat", chat.TurnRequest{Message: "x", CustomerRef: "c1"}, nil)
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
		})
	}
}

func TestChatEndpointRejectsInvalidJSON(t *testing.T) {
	srv := New(pendingEngine("ok"), store.NewMemory())
	req := httptest.NewRequest(http.MethodPost, "/v1/chat", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestAuthMiddleware(t *testing.T) {
	srv := New(pendingEngine("ok"), store.NewMemory(), WithAPIKeys([]string{"secret-1", "secret-2"}))
	handler := srv.Handler()

	// No key.
	rec := postJSON(t, handler, "/v1/chat", chat.TurnRequest{Message: "x", CustomerRef: "c1", IsInitial: true}, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status without key = %d, want 401", rec.Code)
	}

	// Wrong key.
	rec = postJSON(t, handler, "/v1/chat", chat.TurnRequest{Message: "x", CustomerRef: "c1", IsInitial: true},
		map[string]string{"X-API-Key": "nope"})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status with wrong key = %d, want 401", rec.Code)
	}

	// Header key and bearer token both work, any configured key accepted.
	rec = postJSON(t, handler, "/v1/chat", chat.TurnRequest{Message: "x", CustomerRef: "c1", IsInitial: true},
		map[string]string{"X-API-Key": "secret-1"})
	if rec.Code != http.StatusOK {
		t.Errorf("status with header key = %d, want 200", rec.Code)
	}
	rec = postJSON(t, handler, "/v1/chat", chat.TurnRequest{Message: "x", CustomerRef: "c1", IsInitial: true},
		map[string]string{"Authorization": "Bearer secret-2"})
	if rec.Code != http.StatusOK {
		t.Errorf("status with bearer token = %d, want 200", rec.Code)
	}

	// Health stays open.
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	healthRec := httptest.NewRecorder()
	handler.ServeHTTP(healthRec, req)
	if healthRec.Code != http.StatusOK {
		t.Errorf("healthz status = %d, want 200", healthRec.Code)
	}
}

func TestMetricsEndpointExemptFromAuth(t *testing.T) {
	m := telemetry.NewMetrics()
	srv := New(pendingEngine("ok"), store.NewMemory(), WithAPIKeys([]string{"secret"}), WithMetrics(m))

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestSessionEndpoints(t *testing.T) {
	sessions := store.NewMemory()
	created, err := sessions.CreateSession(context.Background(), "thread_1", "c1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := sessions.CompleteSession(context.Background(), created.ID,
		[]store.Turn{{Role: store.RoleUser, Content: "hi"}, {Role: store.RoleAssistant, Content: "done"}},
		[]store.ProductOrderItem{{Product: "steel pipes", Country: "Germany", Quantity: 100}},
	); err != nil {
		t.Fatal(err)
	}

	srv := New(pendingEngine("ok"), sessions)
	handler := srv.Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/sessions?customer_id=c1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var listResp struct {
		Sessions []*store.Session `json:"sessions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listResp); err != nil {
		t.Fatal(err)
	}
	if len(listResp.Sessions) != 1 || listResp.Sessions[0].Status != store.StatusComplete {
		t.Errorf("sessions = %+v", listResp.Sessions)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/sessions/"+created.ID+"/items", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("items status = %d", rec.Code)
	}
	var itemsResp struct {
		Items []store.ProductOrderItem `json:"items"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &itemsResp); err != nil {
		t.Fatal(err)
	}
	if len(itemsResp.Items) != 1 || itemsResp.Items[0].Quantity != 100 {
		t.Errorf("items = %+v", itemsResp.Items)
	}

	// Missing customer_id and unknown session.
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/sessions", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("list without customer_id = %d, want 400", rec.Code)
	}
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/sessions/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown session = %d, want 404", rec.Code)
	}
}

func TestAgentCRUD(t *testing.T) {
	srv := New(pendingEngine("ok"), store.NewMemory())
	handler := srv.Handler()

	rec := postJSON(t, handler, "/v1/agents", store.Agent{Name: "extractor", Type: "order_extraction"}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var agent store.Agent
	if err := json.Unmarshal(rec.Body.Bytes(), &agent); err != nil {
		t.Fatal(err)
	}
	if agent.ID == "" {
		t.Fatal("created agent has no ID")
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/agents/"+agent.ID, nil))
	if rec.Code != http.StatusOK {
		t.Errorf("get status = %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodDelete, "/v1/agents/"+agent.ID, nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("delete status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/agents/"+agent.ID, nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("get after delete = %d, want 404", rec.Code)
	}

	// Missing name rejected.
	rec = postJSON(t, handler, "/v1/agents", store.Agent{}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("create without name = %d, want 400", rec.Code)
	}
}

func TestCORSHeaders(t *testing.T) {
	srv := New(pendingEngine("ok"), store.NewMemory(), WithCORSOrigins([]string{"https://app.example.com"}))
	handler := srv.Handler()

	req := httptest.NewRequest(http.MethodOptions, "/v1/chat", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("Allow-Origin = %q", got)
	}

	req = httptest.NewRequest(http.MethodOptions, "/v1/chat", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Allow-Origin for disallowed origin = %q", got)
	}
}
