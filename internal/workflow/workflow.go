// Package workflow runs post-completion processing for finalized orders.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/orderdesk/orderdesk/internal/store"
	"github.com/orderdesk/orderdesk/internal/telemetry"
)

// State carries a completed order through the stages. Stages annotate it in
// place; later stages may read what earlier stages wrote.
type State struct {
	SessionID   string
	ThreadRef   string
	CustomerRef string
	Products    []store.ProductOrderItem

	// Fulfillment holds per-product availability, keyed by product name.
	Fulfillment map[string]Availability
	// Matches holds per-product catalog matches, keyed by product name.
	Matches map[string][]Match
}

// Stage is one unit of post-completion processing.
type Stage interface {
	Name() string
	Run(ctx context.Context, state *State) error
}

// StageResult records the outcome of a single stage.
type StageResult struct {
	Stage    string        `json:"stage"`
	Status   string        `json:"status"` // completed, failed
	Duration time.Duration `json:"duration_ms"`
	Error    string        `json:"error,omitempty"`
}

// Result records the outcome of one workflow execution.
type Result struct {
	SessionID     string        `json:"session_id"`
	Stages        []StageResult `json:"stages"`
	TotalDuration time.Duration `json:"total_duration_ms"`
}

// Failed reports whether any stage failed.
func (r *Result) Failed() bool {
	for _, s := range r.Stages {
		if s.Status == "failed" {
			return true
		}
	}
	return false
}

const defaultTimeout = 2 * time.Minute

// Runner executes the stages in order. A stage failure is logged and the
// remaining stages still run; the order itself is already persisted and
// nothing here may undo it.
type Runner struct {
	stages  []Stage
	logger  *slog.Logger
	metrics *telemetry.Metrics
	timeout time.Duration

	wg sync.WaitGroup
}

// Option configures the Runner.
type Option func(*Runner)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) { r.logger = logger }
}

// WithMetrics enables per-stage metrics.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithTimeout bounds one workflow execution.
func WithTimeout(d time.Duration) Option {
	return func(r *Runner) { r.timeout = d }
}

// NewRunner creates a Runner over the given stages, executed in order.
func NewRunner(stages []Stage, opts ...Option) *Runner {
	r := &Runner{
		stages:  stages,
		logger:  slog.Default(),
		timeout: defaultTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Dispatch starts the workflow in the background and returns immediately.
// The caller's context is not inherited; the workflow outlives the request
// that triggered it.
func (r *Runner) Dispatch(state State) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		r.Run(ctx, &state)
	}()
}

// Wait blocks until all dispatched workflows finish. Used during shutdown.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Run executes the stages synchronously and returns the per-stage results.
func (r *Runner) Run(ctx context.Context, state *State) *Result {
	start := time.Now()
	result := &Result{SessionID: state.SessionID}

	logger := r.logger.With("session", state.SessionID, "thread", state.ThreadRef)
	logger.Info("workflow started", "products", len(state.Products))

	for _, stage := range r.stages {
		result.Stages = append(result.Stages, r.runStage(ctx, logger, stage, state))
	}

	result.TotalDuration = time.Since(start)
	logger.Info("workflow finished", "failed_stages", countFailed(result), "duration", result.TotalDuration)
	return result
}

func (r *Runner) runStage(ctx context.Context, logger *slog.Logger, stage Stage, state *State) StageResult {
	start := time.Now()
	sr := StageResult{Stage: stage.Name(), Status: "completed"}

	if err := stage.Run(ctx, state); err != nil {
		sr.Status = "failed"
		sr.Error = fmt.Sprintf("stage %s: %v", stage.Name(), err)
		logger.Error("workflow stage failed", "stage", stage.Name(), "error", err)
	} else {
		logger.Debug("workflow stage completed", "stage", stage.Name())
	}

	sr.Duration = time.Since(start)
	if r.metrics != nil {
		r.metrics.RecordWorkflowStage(stage.Name(), sr.Status)
	}
	return sr
}

func countFailed(result *Result) int {
	n := 0
	for _, s := range result.Stages {
		if s.Status == "failed" {
			n++
		}
	}
	return n
}
