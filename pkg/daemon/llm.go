package daemon

import "context"

// Message is one chat turn sent to or received from the LLM client.
type Message struct {
	Role       string
	Content    string
	ToolCalls  []ToolCallRequest
	ToolCallID string
	Name       string
}

// ToolCallRequest is one tool invocation the LLM asked for.
type ToolCallRequest struct {
	ID        string
	Name      string
	Arguments string // raw JSON
}

// Usage is the token accounting for one LLM call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// ChatResponse is what one LLM call returns.
type ChatResponse struct {
	Content   string
	ToolCalls []ToolCallRequest
	Usage     Usage
}

// LLMClient is the external LLM provider collaborator; its implementation
// is out of scope for this core (§1).
type LLMClient interface {
	Chat(ctx context.Context, model string, messages []Message, toolsEnabled bool) (ChatResponse, error)
}

// ToolResult is what a tool execution returns.
type ToolResult struct {
	Success bool
	Output  string
	Error   string
}

// ToolExecutor runs a named tool with raw JSON arguments; the tool
// implementations themselves are out of scope for this core (§1).
type ToolExecutor interface {
	Execute(ctx context.Context, name string, argsJSON string) (ToolResult, error)
}

// MemoryNode is one recalled memory item.
type MemoryNode struct {
	Content    string
	Layer      string
	Importance float64
	Tags       []string
}

// MemoryStore is the external hierarchical memory collaborator; out of
// scope for this core (§1), consumed only to build loop context.
type MemoryStore interface {
	Store(content, layer string, importance float64, tags []string, projectPath string) error
	Search(query, layer, projectPath string, limit int) ([]MemoryNode, error)
}

// Compactor is the external context-pruning/compaction collaborator;
// out of scope for this core (§1).
type Compactor interface {
	Compact(ctx context.Context, messages []Message) (summary string, err error)
}
