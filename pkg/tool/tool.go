// Package tool implements the minimal tool set the daemon's agent loop
// dispatches through daemon.ToolExecutor. Every tool here is a genuine
// implementation of one Tool-Capability Map entry, not a carried-over
// product feature: file, directory, shell, network, git, memory, and
// subagent operations only. Policy enforcement happens once, in
// pkg/daemon's dispatchTool, before Execute is ever called, so no tool in
// this package re-checks paths, commands, or URLs against a sandbox of
// its own.
package tool

import (
	"context"

	"github.com/alpkeskin/gotoon"
)

// ParameterSchema mirrors the OpenAI function-calling parameter shape.
type ParameterSchema struct {
	Type       string                    `json:"type"`
	Properties map[string]PropertySchema `json:"properties"`
	Required   []string                  `json:"required,omitempty"`
}

// PropertySchema describes one parameter of a Tool.
type PropertySchema struct {
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Default     any      `json:"default,omitempty"`
	Enum        []string `json:"enum,omitempty"`
}

// Result is what a Tool.Execute call returns before Registry.Execute
// flattens it into a daemon.ToolResult. Data, when set, is TOON-encoded
// into the daemon result's Output for token-efficient transmission back to
// the model; Output carries the plain-text fallback.
type Result struct {
	Success bool
	Output  string
	Error   string
	Data    any
}

// Tool is one callable capability exposed to the agent loop. Name must
// match an entry in capability.ToolCapabilityMap.
type Tool interface {
	Name() string
	Description() string
	Parameters() ParameterSchema
	Execute(ctx context.Context, params map[string]any) (Result, error)
}

// ToOpenAIFunction converts a Tool into the function-calling descriptor an
// LLMClient implementation sends upstream.
func ToOpenAIFunction(t Tool) map[string]any {
	return map[string]any{
		"type": "function",
		"function": map[string]any{
			"name":        t.Name(),
			"description": t.Description(),
			"parameters":  t.Parameters(),
		},
	}
}

// renderOutput renders structured tool data as TOON when present, falling
// back to plain text. A TOON encoding failure degrades to the plain output
// rather than failing the tool call.
func renderOutput(plain string, data any) string {
	if data == nil {
		return plain
	}
	encoded, err := gotoon.Encode(data)
	if err != nil || encoded == "" {
		return plain
	}
	return encoded
}
