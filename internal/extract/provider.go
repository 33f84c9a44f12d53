package extract

import "context"

// RunStatus is the lifecycle state of one extraction job run.
type RunStatus string

const (
	RunQueued         RunStatus = "queued"
	RunInProgress     RunStatus = "in_progress"
	RunCancelling     RunStatus = "cancelling"
	RunRequiresAction RunStatus = "requires_action"
	RunCompleted      RunStatus = "completed"
	RunFailed         RunStatus = "failed"
	RunCancelled      RunStatus = "cancelled"
	RunExpired        RunStatus = "expired"
)

// Terminal reports whether polling should stop at this status.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunQueued, RunInProgress, RunCancelling:
		return false
	}
	return true
}

// ToolCall is a tool invocation requested by the job.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // raw JSON
}

// ToolOutput acknowledges a tool call back to the job.
type ToolOutput struct {
	ToolCallID string `json:"tool_call_id"`
	Output     string `json:"output"`
}

// Run is a snapshot of one extraction job run.
type Run struct {
	ID        string
	Status    RunStatus
	ToolCalls []ToolCall // populated when Status is RunRequiresAction
}

// Provider is the extraction job port. One provider instance carries the
// fixed tool contract and instructions for every run it starts.
type Provider interface {
	// Name identifies the provider for logs and metrics.
	Name() string

	// CreateThread opens a new job thread and returns its reference.
	CreateThread(ctx context.Context) (string, error)

	// AddMessage appends a user message to the thread.
	AddMessage(ctx context.Context, threadRef, content string) error

	// StartRun starts an extraction run against the thread.
	StartRun(ctx context.Context, threadRef string) (*Run, error)

	// GetRun retrieves the current state of a run.
	GetRun(ctx context.Context, threadRef, runID string) (*Run, error)

	// SubmitToolOutputs unblocks a run waiting on tool results.
	SubmitToolOutputs(ctx context.Context, threadRef, runID string, outputs []ToolOutput) (*Run, error)

	// LatestAssistantText returns the thread's newest assistant message
	// text, or empty if none exists.
	LatestAssistantText(ctx context.Context, threadRef string) (string, error)
}
