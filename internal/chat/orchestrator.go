// Package chat implements the conversation engine: it carries a customer
// turn through extraction, session persistence, and order completion.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/orderdesk/orderdesk/internal/extract"
	"github.com/orderdesk/orderdesk/internal/store"
	"github.com/orderdesk/orderdesk/internal/telemetry"
	"github.com/orderdesk/orderdesk/internal/workflow"
)

// Extractor runs one extraction job per turn.
type Extractor interface {
	CreateThread(ctx context.Context) (string, error)
	Extract(ctx context.Context, threadRef, message string) (*extract.Outcome, error)
}

// Dispatcher starts post-completion processing for a finalized order.
type Dispatcher interface {
	Dispatch(state workflow.State)
}

// TurnRequest is one inbound customer message.
type TurnRequest struct {
	Message     string `json:"message"`
	CustomerRef string `json:"customer_id"`
	ThreadRef   string `json:"thread_id,omitempty"`
	IsInitial   bool   `json:"is_initial,omitempty"`
}

// ExtractedData summarizes what the extraction job produced for this turn.
type ExtractedData struct {
	Products []extract.Item `json:"products"`
	Status   string         `json:"status"` // pending or complete
}

// TurnResult is the engine's reply to one turn.
type TurnResult struct {
	Message     string        `json:"message"`
	ThreadRef   string        `json:"thread_id"`
	CustomerRef string        `json:"customer_id"`
	Extracted   ExtractedData `json:"extracted_data"`
	Response    string        `json:"response"`
	Complete    bool          `json:"is_complete"`
}

// Orchestrator coordinates one turn at a time per thread.
type Orchestrator struct {
	sessions  store.SessionStore
	extractor Extractor
	workflows Dispatcher
	logger    *slog.Logger
	metrics   *telemetry.Metrics
	locks     *threadLocks
}

// Option configures the Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithMetrics enables turn metrics.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithDispatcher sets the post-completion workflow dispatcher.
func WithDispatcher(d Dispatcher) Option {
	return func(o *Orchestrator) { o.workflows = d }
}

// New creates an Orchestrator.
func New(sessions store.SessionStore, extractor Extractor, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		sessions:  sessions,
		extractor: extractor,
		logger:    slog.Default(),
		locks:     newThreadLocks(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ProcessTurn runs one customer message through the engine.
//
// Persistence is best-effort: a failing store never withholds the assistant
// response from the customer. The hard failures are validation, thread
// creation, and extraction timeout or caller cancellation.
func (o *Orchestrator) ProcessTurn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	threadRef := req.ThreadRef
	if req.IsInitial || threadRef == "" {
		ref, err := o.extractor.CreateThread(ctx)
		if err != nil {
			o.recordTurn("error")
			return nil, fmt.Errorf("create thread: %w", err)
		}
		threadRef = ref

		if _, err := o.sessions.CreateSession(ctx, threadRef, req.CustomerRef); err != nil {
			o.logger.Error("create session failed", "thread", threadRef, "error", err)
		}
	}

	logger := telemetry.TurnLogger(o.logger, ctx, threadRef)

	// One turn at a time per thread. The job protocol rejects concurrent
	// runs on a thread, and the session history must interleave cleanly.
	o.locks.lock(threadRef)
	defer o.locks.unlock(threadRef)

	// Record the customer's message before extraction so a failed or timed
	// out job does not lose it.
	o.appendTurns(ctx, logger, threadRef, req.CustomerRef, []store.Turn{
		{Role: store.RoleUser, Content: req.Message},
	})

	outcome, err := o.extractor.Extract(ctx, threadRef, req.Message)
	if err != nil {
		o.recordTurn("error")
		return nil, err
	}

	reply := []store.Turn{{Role: store.RoleAssistant, Content: outcome.Response}}

	result := &TurnResult{
		Message:     req.Message,
		ThreadRef:   threadRef,
		CustomerRef: req.CustomerRef,
		Response:    outcome.Response,
		Complete:    outcome.Complete,
		Extracted: ExtractedData{
			Products: outcome.Items,
			Status:   "pending",
		},
	}

	if !outcome.Complete {
		o.appendTurns(ctx, logger, threadRef, req.CustomerRef, reply)
		o.recordTurn("pending")
		return result, nil
	}

	result.Extracted.Status = "complete"
	o.completeSession(ctx, logger, threadRef, req.CustomerRef, reply, outcome)
	o.recordTurn("complete")
	return result, nil
}

// appendTurns persists turns to the session history, logging failures.
func (o *Orchestrator) appendTurns(ctx context.Context, logger *slog.Logger, threadRef, customerRef string, turns []store.Turn) {
	session, err := o.sessions.GetSession(ctx, threadRef, customerRef)
	if err != nil {
		logger.Error("session lookup failed", "error", err)
		return
	}
	if err := o.sessions.AppendTurns(ctx, session.ID, turns); err != nil {
		logger.Error("append turns failed", "session", session.ID, "error", err)
	}
}

// completeSession flips the session, stores the product batch, and kicks off
// the post-completion workflow. A session completes at most once: repeat
// completions only extend the history.
func (o *Orchestrator) completeSession(ctx context.Context, logger *slog.Logger, threadRef, customerRef string, turns []store.Turn, outcome *extract.Outcome) {
	session, err := o.sessions.GetSession(ctx, threadRef, customerRef)
	if err != nil {
		logger.Error("session lookup failed on completion", "error", err)
		o.dispatch(workflow.State{
			ThreadRef:   threadRef,
			CustomerRef: customerRef,
			Products:    toOrderItems("", outcome.Items),
		})
		return
	}

	if session.Status == store.StatusComplete {
		logger.Warn("session already complete, skipping order save", "session", session.ID)
		if err := o.sessions.AppendTurns(ctx, session.ID, turns); err != nil {
			logger.Error("append turns failed", "session", session.ID, "error", err)
		}
		return
	}

	items := toOrderItems(session.ID, outcome.Items)
	saved, err := o.sessions.CompleteSession(ctx, session.ID, turns, items)
	if err != nil {
		logger.Error("complete session failed", "session", session.ID, "error", err)
		saved = items
	} else {
		logger.Info("session completed", "session", session.ID, "items", len(saved))
		if o.metrics != nil {
			o.metrics.RecordSessionCompleted()
		}
	}

	o.dispatch(workflow.State{
		SessionID:   session.ID,
		ThreadRef:   threadRef,
		CustomerRef: customerRef,
		Products:    saved,
	})
}

func (o *Orchestrator) dispatch(state workflow.State) {
	if o.workflows != nil {
		o.workflows.Dispatch(state)
	}
}

func (o *Orchestrator) recordTurn(outcome string) {
	if o.metrics != nil {
		o.metrics.RecordTurn(outcome)
	}
}

func validate(req TurnRequest) error {
	if req.Message == "" {
		return &ValidationError{Field: "message", Reason: "must not be empty"}
	}
	if len(req.Message) > MaxMessageLen {
		return &ValidationError{Field: "message", Reason: fmt.Sprintf("exceeds %d characters", MaxMessageLen)}
	}
	if req.CustomerRef == "" {
		return &ValidationError{Field: "customer_id", Reason: "must not be empty"}
	}
	if !req.IsInitial && req.ThreadRef == "" {
		return &ValidationError{Field: "thread_id", Reason: "required unless is_initial is set"}
	}
	return nil
}

// toOrderItems converts extracted items to order rows, rounding quantities
// to whole units.
func toOrderItems(sessionID string, items []extract.Item) []store.ProductOrderItem {
	out := make([]store.ProductOrderItem, len(items))
	for i, item := range items {
		out[i] = store.ProductOrderItem{
			SessionID: sessionID,
			Product:   item.Product,
			Country:   item.Country,
			Quantity:  int(math.Round(item.Quantity)),
		}
	}
	return out
}
