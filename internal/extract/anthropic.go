package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/param"
	"github.com/oklog/ulid/v2"
)

// AnthropicProvider implements Provider on the Anthropic Messages API.
//
// The Messages API has no server-side threads or asynchronous runs, so the
// adapter keeps each thread's transcript in memory and completes every run
// synchronously: a run is already terminal when StartRun returns, either
// requires_action (the model called save_final_order) or completed.
type AnthropicProvider struct {
	client anthropic.Client
	model  string

	mu      sync.Mutex
	threads map[string]*anthThread
}

type anthThread struct {
	messages []anthropic.MessageParam
	lastText string
	runs     map[string]*Run
}

// NewAnthropicProvider creates a provider with an explicit API key. An empty
// key falls back to the ANTHROPIC_API_KEY environment variable.
func NewAnthropicProvider(apiKey, model string) *AnthropicProvider {
	client := anthropic.NewClient()
	if apiKey != "" {
		client = anthropic.NewClient(option.WithAPIKey(apiKey))
	}
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}
	return &AnthropicProvider{
		client:  client,
		model:   model,
		threads: make(map[string]*anthThread),
	}
}

// Name identifies the provider.
func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) CreateThread(_ context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := "thread_" + ulid.Make().String()
	p.threads[id] = &anthThread{runs: make(map[string]*Run)}
	return id, nil
}

func (p *AnthropicProvider) AddMessage(_ context.Context, threadRef, content string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	thread, ok := p.threads[threadRef]
	if !ok {
		return fmt.Errorf("anthropic: thread %q not found", threadRef)
	}
	thread.messages = append(thread.messages, anthropic.NewUserMessage(
		anthropic.NewTextBlock(content),
	))
	return nil
}

func (p *AnthropicProvider) StartRun(ctx context.Context, threadRef string) (*Run, error) {
	p.mu.Lock()
	thread, ok := p.threads[threadRef]
	if !ok {
		p.mu.Unlock()
		return nil, fmt.Errorf("anthropic: thread %q not found", threadRef)
	}
	messages := append([]anthropic.MessageParam(nil), thread.messages...)
	p.mu.Unlock()

	msg, err := p.client.Messages.New(ctx, p.buildParams(messages))
	if err != nil {
		return nil, fmt.Errorf("anthropic: start run: %w", err)
	}

	run := &Run{ID: "run_" + ulid.Make().String()}
	text, toolCalls, assistantBlocks := splitContent(msg)

	p.mu.Lock()
	defer p.mu.Unlock()

	if msg.StopReason == anthropic.StopReasonToolUse && len(toolCalls) > 0 {
		run.Status = RunRequiresAction
		run.ToolCalls = toolCalls
		thread.messages = append(thread.messages, anthropic.NewAssistantMessage(assistantBlocks...))
	} else {
		run.Status = RunCompleted
		thread.lastText = text
		if text != "" {
			thread.messages = append(thread.messages, anthropic.NewAssistantMessage(
				anthropic.NewTextBlock(text),
			))
		}
	}
	thread.runs[run.ID] = run
	return snapshotRun(run), nil
}

func (p *AnthropicProvider) GetRun(_ context.Context, threadRef, runID string) (*Run, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	thread, ok := p.threads[threadRef]
	if !ok {
		return nil, fmt.Errorf("anthropic: thread %q not found", threadRef)
	}
	run, ok := thread.runs[runID]
	if !ok {
		return nil, fmt.Errorf("anthropic: run %q not found", runID)
	}
	return snapshotRun(run), nil
}

func (p *AnthropicProvider) SubmitToolOutputs(ctx context.Context, threadRef, runID string, outputs []ToolOutput) (*Run, error) {
	p.mu.Lock()
	thread, ok := p.threads[threadRef]
	if !ok {
		p.mu.Unlock()
		return nil, fmt.Errorf("anthropic: thread %q not found", threadRef)
	}
	run, ok := thread.runs[runID]
	if !ok || run.Status != RunRequiresAction {
		p.mu.Unlock()
		return nil, fmt.Errorf("anthropic: run %q is not awaiting tool outputs", runID)
	}
	for _, out := range outputs {
		thread.messages = append(thread.messages, anthropic.NewUserMessage(
			anthropic.NewToolResultBlock(out.ToolCallID, out.Output, false),
		))
	}
	messages := append([]anthropic.MessageParam(nil), thread.messages...)
	p.mu.Unlock()

	msg, err := p.client.Messages.New(ctx, p.buildParams(messages))
	if err != nil {
		return nil, fmt.Errorf("anthropic: resume run: %w", err)
	}
	text, _, _ := splitContent(msg)

	p.mu.Lock()
	defer p.mu.Unlock()

	run.Status = RunCompleted
	run.ToolCalls = nil
	thread.lastText = text
	if text != "" {
		thread.messages = append(thread.messages, anthropic.NewAssistantMessage(
			anthropic.NewTextBlock(text),
		))
	}
	return snapshotRun(run), nil
}

func (p *AnthropicProvider) LatestAssistantText(_ context.Context, threadRef string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	thread, ok := p.threads[threadRef]
	if !ok {
		return "", fmt.Errorf("anthropic: thread %q not found", threadRef)
	}
	return thread.lastText, nil
}

func (p *AnthropicProvider) buildParams(messages []anthropic.MessageParam) anthropic.MessageNewParams {
	tool := SaveOrderTool()
	schemaBytes, _ := json.Marshal(tool.InputSchema)

	return anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		Messages:  messages,
		MaxTokens: 1024,
		System: []anthropic.TextBlockParam{
			{Text: Instructions},
		},
		Tools: []anthropic.ToolUnionParam{
			{
				OfTool: &anthropic.ToolParam{
					Name:        tool.Name,
					Description: param.NewOpt(tool.Description),
					InputSchema: anthropic.ToolInputSchemaParam{
						Properties: json.RawMessage(schemaBytes),
					},
				},
			},
		},
	}
}

// splitContent separates a message into its text, the order tool calls, and
// the raw blocks needed to echo the assistant turn back into the transcript.
func splitContent(msg *anthropic.Message) (string, []ToolCall, []anthropic.ContentBlockParamUnion) {
	var text string
	var toolCalls []ToolCall
	var blocks []anthropic.ContentBlockParamUnion

	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			text += block.Text
			blocks = append(blocks, anthropic.NewTextBlock(block.Text))
		case "tool_use":
			toolCalls = append(toolCalls, ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: string(block.Input),
			})
			var input map[string]any
			_ = json.Unmarshal(block.Input, &input)
			blocks = append(blocks, anthropic.NewToolUseBlock(block.ID, input, block.Name))
		}
	}
	return text, toolCalls, blocks
}

func snapshotRun(run *Run) *Run {
	out := *run
	out.ToolCalls = append([]ToolCall(nil), run.ToolCalls...)
	return &out
}
