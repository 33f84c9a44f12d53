package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
)

// OpenAIProvider implements Provider against the OpenAI Assistants API.
// The backing assistant is created lazily on the first run and reused.
type OpenAIProvider struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client

	ensureOnce  sync.Once
	assistantID string
	ensureErr   error
}

// OpenAIOption configures the OpenAI provider.
type OpenAIOption func(*OpenAIProvider)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) OpenAIOption {
	return func(p *OpenAIProvider) { p.httpClient = c }
}

// WithBaseURL points the provider at an alternate endpoint.
func WithBaseURL(baseURL string) OpenAIOption {
	return func(p *OpenAIProvider) { p.baseURL = strings.TrimRight(baseURL, "/") }
}

// WithModel sets the assistant model.
func WithModel(model string) OpenAIOption {
	return func(p *OpenAIProvider) { p.model = model }
}

// NewOpenAIProvider creates a provider for the OpenAI Assistants API.
func NewOpenAIProvider(apiKey string, opts ...OpenAIOption) *OpenAIProvider {
	p := &OpenAIProvider{
		baseURL:    "https://api.openai.com/v1",
		apiKey:     apiKey,
		model:      "gpt-4o-mini",
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name identifies the provider.
func (p *OpenAIProvider) Name() string { return "openai" }

// --- Assistants API wire types ---

type oaiAssistantRequest struct {
	Name         string    `json:"name"`
	Instructions string    `json:"instructions"`
	Model        string    `json:"model"`
	Tools        []oaiTool `json:"tools"`
}

type oaiTool struct {
	Type     string      `json:"type"`
	Function oaiFunction `json:"function"`
}

type oaiFunction struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Parameters  any    `json:"parameters,omitempty"`
}

type oaiAssistant struct {
	ID string `json:"id"`
}

type oaiThread struct {
	ID string `json:"id"`
}

type oaiMessageRequest struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type oaiRunRequest struct {
	AssistantID string `json:"assistant_id"`
}

type oaiRun struct {
	ID             string `json:"id"`
	Status         string `json:"status"`
	RequiredAction *struct {
		SubmitToolOutputs struct {
			ToolCalls []oaiToolCall `json:"tool_calls"`
		} `json:"submit_tool_outputs"`
	} `json:"required_action,omitempty"`
}

type oaiToolCall struct {
	ID       string `json:"id"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type oaiToolOutputsRequest struct {
	ToolOutputs []ToolOutput `json:"tool_outputs"`
}

type oaiMessageList struct {
	Data []struct {
		Role    string `json:"role"`
		Content []struct {
			Type string `json:"type"`
			Text *struct {
				Value string `json:"value"`
			} `json:"text,omitempty"`
		} `json:"content"`
	} `json:"data"`
}

type oaiError struct {
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// ensureAssistant creates the extraction assistant once per process.
func (p *OpenAIProvider) ensureAssistant(ctx context.Context) (string, error) {
	p.ensureOnce.Do(func() {
		req := oaiAssistantRequest{
			Name:         "Product Information Extractor",
			Instructions: Instructions,
			Model:        p.model,
			Tools:        []oaiTool{toolToOAI(SaveOrderTool())},
		}
		var assistant oaiAssistant
		p.ensureErr = p.do(ctx, http.MethodPost, "/assistants", req, &assistant)
		p.assistantID = assistant.ID
	})
	return p.assistantID, p.ensureErr
}

func (p *OpenAIProvider) CreateThread(ctx context.Context) (string, error) {
	var thread oaiThread
	if err := p.do(ctx, http.MethodPost, "/threads", struct{}{}, &thread); err != nil {
		return "", err
	}
	return thread.ID, nil
}

func (p *OpenAIProvider) AddMessage(ctx context.Context, threadRef, content string) error {
	req := oaiMessageRequest{Role: "user", Content: content}
	return p.do(ctx, http.MethodPost, "/threads/"+threadRef+"/messages", req, nil)
}

func (p *OpenAIProvider) StartRun(ctx context.Context, threadRef string) (*Run, error) {
	assistantID, err := p.ensureAssistant(ctx)
	if err != nil {
		return nil, fmt.Errorf("ensure assistant: %w", err)
	}
	var run oaiRun
	if err := p.do(ctx, http.MethodPost, "/threads/"+threadRef+"/runs", oaiRunRequest{AssistantID: assistantID}, &run); err != nil {
		return nil, err
	}
	return runFromOAI(&run), nil
}

func (p *OpenAIProvider) GetRun(ctx context.Context, threadRef, runID string) (*Run, error) {
	var run oaiRun
	if err := p.do(ctx, http.MethodGet, "/threads/"+threadRef+"/runs/"+runID, nil, &run); err != nil {
		return nil, err
	}
	return runFromOAI(&run), nil
}

func (p *OpenAIProvider) SubmitToolOutputs(ctx context.Context, threadRef, runID string, outputs []ToolOutput) (*Run, error) {
	var run oaiRun
	path := "/threads/" + threadRef + "/runs/" + runID + "/submit_tool_outputs"
	if err := p.do(ctx, http.MethodPost, path, oaiToolOutputsRequest{ToolOutputs: outputs}, &run); err != nil {
		return nil, err
	}
	return runFromOAI(&run), nil
}

func (p *OpenAIProvider) LatestAssistantText(ctx context.Context, threadRef string) (string, error) {
	var list oaiMessageList
	if err := p.do(ctx, http.MethodGet, "/threads/"+threadRef+"/messages?limit=1", nil, &list); err != nil {
		return "", err
	}
	for _, msg := range list.Data {
		if msg.Role != "assistant" {
			continue
		}
		for _, block := range msg.Content {
			if block.Type == "text" && block.Text != nil && block.Text.Value != "" {
				return block.Text.Value, nil
			}
		}
	}
	return "", nil
}

func (p *OpenAIProvider) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("openai: marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("openai: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("OpenAI-Beta", "assistants=v2")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("openai: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr oaiError
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != nil {
			return fmt.Errorf("openai: HTTP %d: %s: %s", resp.StatusCode, apiErr.Error.Type, apiErr.Error.Message)
		}
		return fmt.Errorf("openai: HTTP %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("openai: decode response: %w", err)
	}
	return nil
}

func toolToOAI(t ToolDefinition) oaiTool {
	return oaiTool{
		Type: "function",
		Function: oaiFunction{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.InputSchema,
		},
	}
}

func runFromOAI(run *oaiRun) *Run {
	out := &Run{ID: run.ID, Status: RunStatus(run.Status)}
	if run.RequiredAction != nil {
		for _, tc := range run.RequiredAction.SubmitToolOutputs.ToolCalls {
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
		}
	}
	return out
}
