package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryCreateAndGetSession(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	sess, err := m.CreateSession(ctx, "thread-1", "cust-1")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if sess.ID == "" {
		t.Error("expected non-empty session ID")
	}
	if sess.Status != StatusActive {
		t.Errorf("status = %q, want %q", sess.Status, StatusActive)
	}

	got, err := m.GetSession(ctx, "thread-1", "cust-1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.ID != sess.ID {
		t.Errorf("GetSession ID = %q, want %q", got.ID, sess.ID)
	}

	if _, err := m.GetSession(ctx, "thread-1", "other"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetSession with wrong customer = %v, want ErrNotFound", err)
	}
}

func TestMemoryAppendTurns(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	sess, _ := m.CreateSession(ctx, "thread-1", "cust-1")

	err := m.AppendTurns(ctx, sess.ID, []Turn{
		{Role: RoleUser, Content: "hello"},
		{Role: RoleAssistant, Content: "hi there"},
	})
	if err != nil {
		t.Fatalf("AppendTurns: %v", err)
	}

	got, _ := m.GetSessionByID(ctx, sess.ID)
	if len(got.Turns) != 2 {
		t.Fatalf("turns = %d, want 2", len(got.Turns))
	}
	if got.Turns[0].Role != RoleUser || got.Turns[1].Role != RoleAssistant {
		t.Errorf("unexpected turn roles: %+v", got.Turns)
	}

	if err := m.AppendTurns(ctx, "missing", nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("AppendTurns on missing session = %v, want ErrNotFound", err)
	}
}

func TestMemoryCompleteSession(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	sess, _ := m.CreateSession(ctx, "thread-1", "cust-1")

	created, err := m.CompleteSession(ctx, sess.ID,
		[]Turn{{Role: RoleAssistant, Content: "all set"}},
		[]ProductOrderItem{
			{Product: "laptops", Country: "China", Quantity: 5},
			{Product: "phones", Country: "USA", Quantity: 2},
		})
	if err != nil {
		t.Fatalf("CompleteSession: %v", err)
	}
	if len(created) != 2 {
		t.Fatalf("created items = %d, want 2", len(created))
	}
	for _, item := range created {
		if item.ID == "" || item.SessionID != sess.ID {
			t.Errorf("item not normalized: %+v", item)
		}
	}

	got, _ := m.GetSessionByID(ctx, sess.ID)
	if got.Status != StatusComplete {
		t.Errorf("status = %q, want %q", got.Status, StatusComplete)
	}
	if len(got.Turns) != 1 {
		t.Errorf("turns = %d, want 1", len(got.Turns))
	}

	items, _ := m.ListProductItems(ctx, sess.ID)
	if len(items) != 2 {
		t.Errorf("ListProductItems = %d, want 2", len(items))
	}
}

func TestMemoryListSessionsFiltersByCustomer(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	m.CreateSession(ctx, "t1", "alice")
	m.CreateSession(ctx, "t2", "alice")
	m.CreateSession(ctx, "t3", "bob")

	got, err := m.ListSessions(ctx, "alice")
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("sessions for alice = %d, want 2", len(got))
	}

	all, _ := m.ListSessions(ctx, "")
	if len(all) != 3 {
		t.Errorf("all sessions = %d, want 3", len(all))
	}
}

func TestMemoryPurgeIdleSessions(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	now := time.Now()
	m.now = func() time.Time { return now.Add(-2 * time.Hour) }
	stale, _ := m.CreateSession(ctx, "t1", "c1")
	done, _ := m.CreateSession(ctx, "t2", "c2")
	m.CompleteSession(ctx, done.ID, nil, []ProductOrderItem{{Product: "x", Country: "y", Quantity: 1}})

	m.now = func() time.Time { return now }
	fresh, _ := m.CreateSession(ctx, "t3", "c3")

	removed, err := m.PurgeIdleSessions(ctx, time.Hour)
	if err != nil {
		t.Fatalf("PurgeIdleSessions: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}

	if _, err := m.GetSessionByID(ctx, stale.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("stale session should be gone, got %v", err)
	}
	// Completed sessions are kept regardless of age.
	if _, err := m.GetSessionByID(ctx, done.ID); err != nil {
		t.Errorf("completed session should survive purge: %v", err)
	}
	if _, err := m.GetSessionByID(ctx, fresh.ID); err != nil {
		t.Errorf("fresh session should survive purge: %v", err)
	}
}

func TestMemoryAgentCRUD(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	created, err := m.CreateAgent(ctx, &Agent{
		Name:   "extractor",
		Type:   "llm",
		Active: true,
		Config: map[string]any{"model": "gpt-4o-mini"},
	})
	if err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}
	if created.ID == "" || created.Status != "idle" {
		t.Errorf("created agent not normalized: %+v", created)
	}

	got, err := m.GetAgent(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetAgent: %v", err)
	}
	if got.Name != "extractor" {
		t.Errorf("name = %q, want extractor", got.Name)
	}

	got.Status = "running"
	updated, err := m.UpdateAgent(ctx, got)
	if err != nil {
		t.Fatalf("UpdateAgent: %v", err)
	}
	if updated.Status != "running" {
		t.Errorf("status = %q, want running", updated.Status)
	}

	list, _ := m.ListAgents(ctx)
	if len(list) != 1 {
		t.Errorf("ListAgents = %d, want 1", len(list))
	}

	if err := m.DeleteAgent(ctx, created.ID); err != nil {
		t.Fatalf("DeleteAgent: %v", err)
	}
	if _, err := m.GetAgent(ctx, created.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetAgent after delete = %v, want ErrNotFound", err)
	}
	if err := m.DeleteAgent(ctx, created.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second DeleteAgent = %v, want ErrNotFound", err)
	}
}

func TestMemorySessionCopyIsolation(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	sess, _ := m.CreateSession(ctx, "t1", "c1")
	m.AppendTurns(ctx, sess.ID, []Turn{{Role: RoleUser, Content: "hi"}})

	got, _ := m.GetSessionByID(ctx, sess.ID)
	got.Turns[0].Content = "mutated"
	got.Status = StatusComplete

	again, _ := m.GetSessionByID(ctx, sess.ID)
	if again.Turns[0].Content != "hi" {
		t.Error("store state mutated through returned copy")
	}
	if again.Status != StatusActive {
		t.Error("status mutated through returned copy")
	}
}
