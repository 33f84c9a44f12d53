// Package store defines persistence for customer sessions, extracted product
// orders, and agent records.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Session status values. A session only ever moves active → complete.
const (
	StatusActive   = "active"
	StatusComplete = "complete"
)

// Turn roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is a single message in a session's history. Immutable once appended.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Session is the persisted record of one customer conversation, keyed by the
// provider thread reference and the customer reference.
type Session struct {
	ID          string    `json:"id"`
	ThreadRef   string    `json:"thread_id"`
	CustomerRef string    `json:"customer_id"`
	Status      string    `json:"status"`
	Turns       []Turn    `json:"messages"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ProductOrderItem is one line of an extracted order.
type ProductOrderItem struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Product   string    `json:"product"`
	Country   string    `json:"country"`
	Quantity  int       `json:"quantity"`
	CreatedAt time.Time `json:"created_at"`
}

// Agent is a stored agent record.
type Agent struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Type        string         `json:"agent_type"`
	Status      string         `json:"status"`
	Config      map[string]any `json:"config,omitempty"`
	Active      bool           `json:"is_active"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// SessionStore manages conversation sessions and their extracted orders.
//
// Implementations must tolerate concurrent callers. The conversation engine
// treats every method as best-effort: failures are logged by the caller and
// never abort a turn.
type SessionStore interface {
	// CreateSession inserts a new active session.
	CreateSession(ctx context.Context, threadRef, customerRef string) (*Session, error)

	// GetSession looks a session up by thread and customer reference.
	GetSession(ctx context.Context, threadRef, customerRef string) (*Session, error)

	// GetSessionByID looks a session up by its record ID.
	GetSessionByID(ctx context.Context, id string) (*Session, error)

	// ListSessions returns sessions for a customer, newest first.
	ListSessions(ctx context.Context, customerRef string) ([]*Session, error)

	// AppendTurns appends turns to a session's history.
	AppendTurns(ctx context.Context, sessionID string, turns []Turn) error

	// CompleteSession appends turns, flips the status to complete, and
	// inserts the product batch as a single logical step. The status is
	// never written without its product batch.
	CompleteSession(ctx context.Context, sessionID string, turns []Turn, items []ProductOrderItem) ([]ProductOrderItem, error)

	// ListProductItems returns the extracted order for a session.
	ListProductItems(ctx context.Context, sessionID string) ([]ProductOrderItem, error)

	// PurgeIdleSessions removes active sessions untouched for longer than
	// idle. Returns the number of sessions removed.
	PurgeIdleSessions(ctx context.Context, idle time.Duration) (int, error)
}

// AgentStore manages agent records.
type AgentStore interface {
	CreateAgent(ctx context.Context, a *Agent) (*Agent, error)
	GetAgent(ctx context.Context, id string) (*Agent, error)
	ListAgents(ctx context.Context) ([]*Agent, error)
	UpdateAgent(ctx context.Context, a *Agent) (*Agent, error)
	DeleteAgent(ctx context.Context, id string) error
}

// Store is the full persistence surface.
type Store interface {
	SessionStore
	AgentStore
}

// NewID returns a lexicographically sortable record ID.
func NewID() string {
	return ulid.Make().String()
}
