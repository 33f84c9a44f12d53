package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory is an in-memory Store for tests and single-process dev mode.
type Memory struct {
	mu       sync.Mutex
	sessions map[string]*Session
	items    map[string][]ProductOrderItem // keyed by session ID
	agents   map[string]*Agent
	now      func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		sessions: make(map[string]*Session),
		items:    make(map[string][]ProductOrderItem),
		agents:   make(map[string]*Agent),
		now:      time.Now,
	}
}

func (m *Memory) CreateSession(_ context.Context, threadRef, customerRef string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	sess := &Session{
		ID:          NewID(),
		ThreadRef:   threadRef,
		CustomerRef: customerRef,
		Status:      StatusActive,
		Turns:       []Turn{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	m.sessions[sess.ID] = sess
	return copySession(sess), nil
}

func (m *Memory) GetSession(_ context.Context, threadRef, customerRef string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, sess := range m.sessions {
		if sess.ThreadRef == threadRef && sess.CustomerRef == customerRef {
			return copySession(sess), nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) GetSessionByID(_ context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copySession(sess), nil
}

func (m *Memory) ListSessions(_ context.Context, customerRef string) ([]*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []*Session
	for _, sess := range m.sessions {
		if customerRef != "" && sess.CustomerRef != customerRef {
			continue
		}
		result = append(result, copySession(sess))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (m *Memory) AppendTurns(_ context.Context, sessionID string, turns []Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	sess.Turns = append(sess.Turns, turns...)
	sess.UpdatedAt = m.now()
	return nil
}

func (m *Memory) CompleteSession(_ context.Context, sessionID string, turns []Turn, items []ProductOrderItem) ([]ProductOrderItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}

	now := m.now()
	sess.Turns = append(sess.Turns, turns...)
	sess.Status = StatusComplete
	sess.UpdatedAt = now

	created := make([]ProductOrderItem, len(items))
	for i, item := range items {
		item.ID = NewID()
		item.SessionID = sessionID
		item.CreatedAt = now
		created[i] = item
	}
	m.items[sessionID] = append(m.items[sessionID], created...)
	return created, nil
}

func (m *Memory) ListProductItems(_ context.Context, sessionID string) ([]ProductOrderItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ProductOrderItem(nil), m.items[sessionID]...), nil
}

func (m *Memory) PurgeIdleSessions(_ context.Context, idle time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-idle)
	removed := 0
	for id, sess := range m.sessions {
		if sess.Status == StatusActive && sess.UpdatedAt.Before(cutoff) {
			delete(m.sessions, id)
			delete(m.items, id)
			removed++
		}
	}
	return removed, nil
}

func (m *Memory) CreateAgent(_ context.Context, a *Agent) (*Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	stored := *a
	stored.ID = NewID()
	if stored.Status == "" {
		stored.Status = "idle"
	}
	stored.CreatedAt = now
	stored.UpdatedAt = now
	m.agents[stored.ID] = &stored

	out := stored
	return &out, nil
}

func (m *Memory) GetAgent(_ context.Context, id string) (*Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.agents[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *a
	return &out, nil
}

func (m *Memory) ListAgents(_ context.Context) ([]*Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]*Agent, 0, len(m.agents))
	for _, a := range m.agents {
		out := *a
		result = append(result, &out)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (m *Memory) UpdateAgent(_ context.Context, a *Agent) (*Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.agents[a.ID]
	if !ok {
		return nil, ErrNotFound
	}
	updated := *a
	updated.CreatedAt = existing.CreatedAt
	updated.UpdatedAt = m.now()
	m.agents[a.ID] = &updated

	out := updated
	return &out, nil
}

func (m *Memory) DeleteAgent(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.agents[id]; !ok {
		return ErrNotFound
	}
	delete(m.agents, id)
	return nil
}

func copySession(s *Session) *Session {
	out := *s
	out.Turns = append([]Turn(nil), s.Turns...)
	return &out
}
