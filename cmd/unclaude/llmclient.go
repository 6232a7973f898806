package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/anzal1/unclaude/pkg/daemon"
	"github.com/anzal1/unclaude/pkg/daemonconfig"
	"github.com/anzal1/unclaude/pkg/tool"
)

const (
	anthropicBaseURL   = "https://api.anthropic.com"
	anthropicVersion   = "2023-06-01"
	ollamaBaseURL      = "http://localhost:11434"
	defaultMaxTokens   = 4096
	defaultHTTPTimeout = 120 * time.Second
)

// httpLLMClient satisfies daemon.LLMClient by talking directly to each
// provider's native HTTP API, following the teacher's per-provider
// invoke() shape (marshal request, set auth headers, decode response) but
// trimmed to the two providers this core's default catalog actually routes
// to (anthropic, ollama) and extended with tool-call support, since the
// agent loop's whole point is dispatching tool calls.
type httpLLMClient struct {
	httpClient  *http.Client
	anthropicKey string
	ollamaURL    string
	toolSchemas  []map[string]any
}

func newHTTPLLMClient(reg *tool.Registry) *httpLLMClient {
	schemas := make([]map[string]any, 0, len(reg.Tools()))
	for _, t := range reg.Tools() {
		schemas = append(schemas, tool.ToOpenAIFunction(t))
	}

	ollamaURL := strings.TrimSpace(os.Getenv("UNCLAUDE_OLLAMA_BASE_URL"))
	if ollamaURL == "" {
		ollamaURL = ollamaBaseURL
	}

	return &httpLLMClient{
		httpClient:   &http.Client{Timeout: defaultHTTPTimeout},
		anthropicKey: os.Getenv(daemonconfig.ProviderAPIKeyEnv("anthropic")),
		ollamaURL:    strings.TrimRight(ollamaURL, "/"),
		toolSchemas:  schemas,
	}
}

func (c *httpLLMClient) Chat(ctx context.Context, modelID string, messages []daemon.Message, toolsEnabled bool) (daemon.ChatResponse, error) {
	provider, bareModel := splitModelID(modelID)
	switch provider {
	case "ollama":
		return c.ollamaChat(ctx, bareModel, messages)
	case "anthropic", "":
		return c.anthropicChat(ctx, bareModel, messages, toolsEnabled)
	default:
		return daemon.ChatResponse{}, fmt.Errorf("unsupported provider %q for model %q", provider, modelID)
	}
}

func splitModelID(modelID string) (provider, model string) {
	parts := strings.SplitN(modelID, "/", 2)
	if len(parts) != 2 {
		return "", modelID
	}
	return parts[0], parts[1]
}

// --- anthropic ---

type anthropicRequest struct {
	Model       string             `json:"model"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Tools       []anthropicTool    `json:"tools,omitempty"`
}

type anthropicMessage struct {
	Role    string             `json:"role"`
	Content []anthropicContent `json:"content"`
}

type anthropicContent struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Input     any    `json:"input,omitempty"`
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicResponse struct {
	ID         string             `json:"id"`
	Content    []anthropicContent `json:"content"`
	StopReason string             `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (c *httpLLMClient) anthropicChat(ctx context.Context, modelID string, messages []daemon.Message, toolsEnabled bool) (daemon.ChatResponse, error) {
	if c.anthropicKey == "" {
		return daemon.ChatResponse{}, fmt.Errorf("%s is not set", daemonconfig.ProviderAPIKeyEnv("anthropic"))
	}

	req := anthropicRequest{Model: modelID, MaxTokens: defaultMaxTokens}
	var systemParts []string
	for _, m := range messages {
		switch m.Role {
		case "system":
			systemParts = append(systemParts, m.Content)
		case "tool":
			req.Messages = append(req.Messages, anthropicMessage{
				Role: "user",
				Content: []anthropicContent{
					{Type: "tool_result", ToolUseID: m.ToolCallID, Content: m.Content},
				},
			})
		default:
			content := []anthropicContent{{Type: "text", Text: m.Content}}
			for _, tc := range m.ToolCalls {
				var input any
				_ = json.Unmarshal([]byte(tc.Arguments), &input)
				content = append(content, anthropicContent{Type: "tool_use", ID: tc.ID, Name: tc.Name, Input: input})
			}
			req.Messages = append(req.Messages, anthropicMessage{Role: m.Role, Content: content})
		}
	}
	if len(systemParts) > 0 {
		req.System = strings.Join(systemParts, "\n\n")
	}
	if toolsEnabled {
		for _, schema := range c.toolSchemas {
			fn := schema["function"].(map[string]any)
			req.Tools = append(req.Tools, anthropicTool{
				Name:        fn["name"].(string),
				Description: fn["description"].(string),
				InputSchema: toSchemaMap(fn["parameters"]),
			})
		}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return daemon.ChatResponse{}, fmt.Errorf("marshal anthropic request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, anthropicBaseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return daemon.ChatResponse{}, err
	}
	httpReq.Header.Set("x-api-key", c.anthropicKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)
	httpReq.Header.Set("content-type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return daemon.ChatResponse{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return daemon.ChatResponse{}, fmt.Errorf("anthropic request failed: %s", resp.Status)
	}

	var anthResp anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&anthResp); err != nil {
		return daemon.ChatResponse{}, fmt.Errorf("decode anthropic response: %w", err)
	}

	out := daemon.ChatResponse{
		Usage: daemon.Usage{
			PromptTokens:     anthResp.Usage.InputTokens,
			CompletionTokens: anthResp.Usage.OutputTokens,
			TotalTokens:      anthResp.Usage.InputTokens + anthResp.Usage.OutputTokens,
		},
	}
	var textParts []string
	for _, block := range anthResp.Content {
		switch block.Type {
		case "text":
			textParts = append(textParts, block.Text)
		case "tool_use":
			args, _ := json.Marshal(block.Input)
			out.ToolCalls = append(out.ToolCalls, daemon.ToolCallRequest{ID: block.ID, Name: block.Name, Arguments: string(args)})
		}
	}
	out.Content = strings.Join(textParts, "\n")
	return out, nil
}

func toSchemaMap(v any) map[string]any {
	m, _ := v.(tool.ParameterSchema)
	data, err := json.Marshal(m)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return map[string]any{"type": "object"}
	}
	return out
}

// --- ollama ---
//
// ollamaChat covers the free/local tier only and is text-only: Chat picks
// the provider from the model ID alone, and no tool schemas are sent to
// Ollama, so a model routed here never receives tools.

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
}

func (c *httpLLMClient) ollamaChat(ctx context.Context, modelID string, messages []daemon.Message) (daemon.ChatResponse, error) {
	req := ollamaChatRequest{Model: modelID, Stream: false}
	for _, m := range messages {
		req.Messages = append(req.Messages, ollamaMessage{Role: m.Role, Content: m.Content})
	}

	body, err := json.Marshal(req)
	if err != nil {
		return daemon.ChatResponse{}, fmt.Errorf("marshal ollama request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.ollamaURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return daemon.ChatResponse{}, err
	}
	httpReq.Header.Set("content-type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return daemon.ChatResponse{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return daemon.ChatResponse{}, fmt.Errorf("ollama request failed: %s", resp.Status)
	}

	var ollResp ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&ollResp); err != nil {
		return daemon.ChatResponse{}, fmt.Errorf("decode ollama response: %w", err)
	}
	return daemon.ChatResponse{Content: ollResp.Message.Content}, nil
}
