package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/orderdesk/orderdesk/internal/telemetry"
)

// ErrTimeout is returned when a run does not reach a terminal state within
// the extractor's deadline. It is the only extraction failure surfaced to
// the caller; everything else degrades to a fallback outcome.
var ErrTimeout = errors.New("extract: run deadline exceeded")

const (
	defaultDeadline     = 60 * time.Second
	defaultPollInterval = 500 * time.Millisecond
	maxPollInterval     = 5 * time.Second
)

// Extractor drives one extraction job per Extract call: submit the message,
// poll the run to a terminal state, resolve the mandatory tool call.
type Extractor struct {
	provider     Provider
	logger       *slog.Logger
	metrics      *telemetry.Metrics
	deadline     time.Duration
	pollInterval time.Duration
}

// Option configures the Extractor.
type Option func(*Extractor)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Extractor) { e.logger = logger }
}

// WithMetrics enables extraction metrics.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(e *Extractor) { e.metrics = m }
}

// WithDeadline bounds the total wall time of one Extract call.
func WithDeadline(d time.Duration) Option {
	return func(e *Extractor) { e.deadline = d }
}

// WithPollInterval sets the initial poll interval. The interval doubles on
// each poll up to a fixed ceiling.
func WithPollInterval(d time.Duration) Option {
	return func(e *Extractor) { e.pollInterval = d }
}

// New creates an Extractor over the given provider.
func New(provider Provider, opts ...Option) *Extractor {
	e := &Extractor{
		provider:     provider,
		logger:       slog.Default(),
		deadline:     defaultDeadline,
		pollInterval: defaultPollInterval,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CreateThread opens a new job thread and returns its reference.
func (e *Extractor) CreateThread(ctx context.Context) (string, error) {
	return e.provider.CreateThread(ctx)
}

// Extract submits message to the job thread and resolves the outcome.
//
// Provider failures, unexpected run states, and malformed tool arguments all
// degrade to a fallback Pending outcome with a fixed apology; the only hard
// errors are ErrTimeout and caller cancellation.
func (e *Extractor) Extract(ctx context.Context, threadRef, message string) (*Outcome, error) {
	start := time.Now()
	defer func() {
		if e.metrics != nil {
			e.metrics.RecordExtraction(e.provider.Name(), time.Since(start))
		}
	}()

	logger := e.logger.With("thread", threadRef, "provider", e.provider.Name())
	if id := telemetry.CorrelationID(ctx); id != "" {
		logger = logger.With("correlation_id", id)
	}

	ctx, cancel := context.WithTimeoutCause(ctx, e.deadline, ErrTimeout)
	defer cancel()

	if err := e.provider.AddMessage(ctx, threadRef, message); err != nil {
		return e.degrade(ctx, logger, "add message failed", err)
	}

	run, err := e.provider.StartRun(ctx, threadRef)
	if err != nil {
		return e.degrade(ctx, logger, "start run failed", err)
	}

	run, err = e.waitTerminal(ctx, threadRef, run)
	if err != nil {
		if errors.Is(err, ErrTimeout) || errors.Is(err, context.Canceled) {
			return nil, err
		}
		return e.degrade(ctx, logger, "poll failed", err)
	}
	logger.Debug("run reached terminal state", "run", run.ID, "status", run.Status)

	switch run.Status {
	case RunRequiresAction:
		return e.resolveToolCall(ctx, logger, threadRef, run)

	case RunCompleted:
		text, err := e.provider.LatestAssistantText(ctx, threadRef)
		if err != nil || text == "" {
			return e.degrade(ctx, logger, "no assistant text after completion", err)
		}
		return Pending(text), nil

	default:
		logger.Warn("run ended in unexpected state", "run", run.ID, "status", run.Status)
		return Fallback(), nil
	}
}

// resolveToolCall handles the requires_action leg: parse the save_final_order
// arguments, acknowledge the call, and re-poll to completion.
func (e *Extractor) resolveToolCall(ctx context.Context, logger *slog.Logger, threadRef string, run *Run) (*Outcome, error) {
	var call *ToolCall
	for i := range run.ToolCalls {
		if run.ToolCalls[i].Name == SaveOrderToolName {
			call = &run.ToolCalls[i]
			break
		}
	}
	if call == nil {
		logger.Warn("run requires action but no order tool call present", "run", run.ID)
		return Fallback(), nil
	}

	items, err := parseItems(call.Arguments)
	if err != nil {
		logger.Error("tool call arguments rejected", "run", run.ID, "error", err)
		return Fallback(), nil
	}

	// The tool returns no semantic data to the job; the acknowledgment
	// only unblocks the run.
	run, err = e.provider.SubmitToolOutputs(ctx, threadRef, run.ID, []ToolOutput{
		{ToolCallID: call.ID, Output: "success"},
	})
	if err != nil {
		return e.degrade(ctx, logger, "submit tool outputs failed", err)
	}

	run, err = e.waitTerminal(ctx, threadRef, run)
	if err != nil {
		if errors.Is(err, ErrTimeout) || errors.Is(err, context.Canceled) {
			return nil, err
		}
		return e.degrade(ctx, logger, "poll after tool submit failed", err)
	}
	if run.Status != RunCompleted {
		logger.Warn("run did not complete after tool submit", "run", run.ID, "status", run.Status)
		return Fallback(), nil
	}

	text, err := e.provider.LatestAssistantText(ctx, threadRef)
	if err != nil || text == "" {
		text = ConfirmationText
	}

	logger.Info("order extracted", "run", run.ID, "items", len(items))
	return Completed(text, items), nil
}

// waitTerminal polls the run until it leaves the transient states, backing
// off between polls and honoring the extractor deadline.
func (e *Extractor) waitTerminal(ctx context.Context, threadRef string, run *Run) (*Run, error) {
	interval := e.pollInterval
	for !run.Status.Terminal() {
		select {
		case <-ctx.Done():
			return nil, context.Cause(ctx)
		case <-time.After(interval):
		}

		next, err := e.provider.GetRun(ctx, threadRef, run.ID)
		if err != nil {
			// A failed poll during deadline expiry is the deadline's fault.
			if cause := context.Cause(ctx); cause != nil && ctx.Err() != nil {
				return nil, cause
			}
			return nil, fmt.Errorf("get run %s: %w", run.ID, err)
		}
		run = next

		interval *= 2
		if interval > maxPollInterval {
			interval = maxPollInterval
		}
	}
	return run, nil
}

// degrade logs the failure and returns the fallback outcome, unless the
// underlying cause is the deadline, which stays a hard error.
func (e *Extractor) degrade(ctx context.Context, logger *slog.Logger, msg string, err error) (*Outcome, error) {
	if cause := context.Cause(ctx); ctx.Err() != nil && (errors.Is(cause, ErrTimeout) || errors.Is(cause, context.Canceled)) {
		return nil, cause
	}
	logger.Error("extraction degraded", "reason", msg, "error", err)
	return Fallback(), nil
}

// parseItems decodes save_final_order arguments. An order with no items is
// rejected: the status flip downstream must always carry a product batch.
func parseItems(arguments string) ([]Item, error) {
	var payload struct {
		Items []Item `json:"items"`
	}
	if err := json.Unmarshal([]byte(arguments), &payload); err != nil {
		return nil, fmt.Errorf("parse arguments: %w", err)
	}
	if len(payload.Items) == 0 {
		return nil, errors.New("order contains no items")
	}
	// Field-level validation (blank product, zero quantity) is deliberately
	// not performed here; the tool schema is the contract.
	return payload.Items, nil
}
