package tool

import (
	"context"
	"fmt"
	"strings"

	"github.com/anzal1/unclaude/pkg/daemon"
)

// --- memory_search ---

type memorySearchTool struct {
	store   daemon.MemoryStore
	workDir string
}

func (t *memorySearchTool) Name() string { return "memory_search" }

func (t *memorySearchTool) Description() string {
	return "Search previously stored memories relevant to a query."
}

func (t *memorySearchTool) Parameters() ParameterSchema {
	return ParameterSchema{
		Type: "object",
		Properties: map[string]PropertySchema{
			"query": {Type: "string", Description: "search query"},
			"layer": {Type: "string", Description: "optional memory layer to restrict to"},
			"limit": {Type: "integer", Description: "maximum memories to return", Default: 5},
		},
		Required: []string{"query"},
	}
}

func (t *memorySearchTool) Execute(ctx context.Context, params map[string]any) (Result, error) {
	query, ok := stringParam(params, "query")
	if !ok {
		return Result{Success: false, Error: "query parameter must be a non-empty string"}, nil
	}
	layer, _ := stringParam(params, "layer")
	limit := parseIntParam(params["limit"], 5)
	if limit <= 0 || limit > 50 {
		limit = 5
	}

	nodes, err := t.store.Search(query, layer, t.workDir, limit)
	if err != nil {
		return Result{Success: false, Error: fmt.Sprintf("memory search failed: %v", err)}, nil
	}

	var sb strings.Builder
	for _, n := range nodes {
		fmt.Fprintf(&sb, "[%s] %s\n", n.Layer, n.Content)
	}
	return Result{Success: true, Output: sb.String(), Data: nodes}, nil
}

// --- memory_save ---

type memorySaveTool struct {
	store   daemon.MemoryStore
	workDir string
}

func (t *memorySaveTool) Name() string { return "memory_save" }

func (t *memorySaveTool) Description() string {
	return "Save a fact worth recalling in future tasks for this project."
}

func (t *memorySaveTool) Parameters() ParameterSchema {
	return ParameterSchema{
		Type: "object",
		Properties: map[string]PropertySchema{
			"content":    {Type: "string", Description: "the memory to store"},
			"layer":      {Type: "string", Description: "memory layer, e.g. project or session", Default: "project"},
			"importance": {Type: "number", Description: "0-1 importance score", Default: 0.5},
		},
		Required: []string{"content"},
	}
}

func (t *memorySaveTool) Execute(ctx context.Context, params map[string]any) (Result, error) {
	content, ok := stringParam(params, "content")
	if !ok {
		return Result{Success: false, Error: "content parameter must be a non-empty string"}, nil
	}
	layer, _ := stringParam(params, "layer")
	if layer == "" {
		layer = "project"
	}
	importance := 0.5
	if v, ok := params["importance"].(float64); ok {
		importance = v
	}

	if err := t.store.Store(content, layer, importance, nil, t.workDir); err != nil {
		return Result{Success: false, Error: fmt.Sprintf("memory save failed: %v", err)}, nil
	}
	return Result{Success: true, Output: "memory saved"}, nil
}
