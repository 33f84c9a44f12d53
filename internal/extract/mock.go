package extract

import (
	"context"
	"fmt"
	"sync"
)

// MockRun configures a single GetRun observation from the mock provider.
type MockRun struct {
	Status    RunStatus
	ToolCalls []ToolCall
	Error     error
}

// MockProvider is a configurable scripted provider for testing.
type MockProvider struct {
	mu sync.Mutex

	// Per-operation failures.
	AddErr    error
	StartErr  error
	SubmitErr error
	TextErr   error

	// StartStatus is the status of the run returned by StartRun and
	// SubmitToolOutputs. Defaults to queued.
	StartStatus RunStatus

	// Polls are returned by successive GetRun calls in order; if exhausted,
	// the last entry repeats.
	Polls []MockRun

	// Text is returned by LatestAssistantText.
	Text string

	pollIndex int
	messages  []string
	outputs   []ToolOutput
	threads   int
}

// NewMockProvider creates a mock provider with a sequence of poll results.
func NewMockProvider(polls ...MockRun) *MockProvider {
	return &MockProvider{Polls: polls}
}

// Name identifies the provider.
func (m *MockProvider) Name() string { return "mock" }

func (m *MockProvider) CreateThread(_ context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.threads++
	return fmt.Sprintf("thread_mock_%d", m.threads), nil
}

func (m *MockProvider) AddMessage(_ context.Context, _, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AddErr != nil {
		return m.AddErr
	}
	m.messages = append(m.messages, content)
	return nil
}

func (m *MockProvider) StartRun(_ context.Context, _ string) (*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.StartErr != nil {
		return nil, m.StartErr
	}
	return &Run{ID: "run_mock", Status: m.startStatus()}, nil
}

func (m *MockProvider) GetRun(_ context.Context, _, runID string) (*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.Polls) == 0 {
		return nil, fmt.Errorf("mock: no polls configured")
	}

	idx := m.pollIndex
	if idx >= len(m.Polls) {
		idx = len(m.Polls) - 1
	} else {
		m.pollIndex++
	}

	poll := m.Polls[idx]
	if poll.Error != nil {
		return nil, poll.Error
	}
	return &Run{ID: runID, Status: poll.Status, ToolCalls: poll.ToolCalls}, nil
}

func (m *MockProvider) SubmitToolOutputs(_ context.Context, _, runID string, outputs []ToolOutput) (*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SubmitErr != nil {
		return nil, m.SubmitErr
	}
	m.outputs = append(m.outputs, outputs...)
	return &Run{ID: runID, Status: m.startStatus()}, nil
}

func (m *MockProvider) LatestAssistantText(_ context.Context, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.TextErr != nil {
		return "", m.TextErr
	}
	return m.Text, nil
}

// Messages returns all message contents added to the mock provider.
func (m *MockProvider) Messages() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.messages...)
}

// Outputs returns all tool outputs submitted to the mock provider.
func (m *MockProvider) Outputs() []ToolOutput {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ToolOutput(nil), m.outputs...)
}

// Reset clears recorded calls and rewinds the poll sequence.
func (m *MockProvider) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pollIndex = 0
	m.messages = nil
	m.outputs = nil
}

func (m *MockProvider) startStatus() RunStatus {
	if m.StartStatus != "" {
		return m.StartStatus
	}
	return RunQueued
}
