package tool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anzal1/unclaude/pkg/daemon"
)

// Registry is a fixed set of tools, keyed by name, that implements
// daemon.ToolExecutor. It is intentionally not extensible at runtime: the
// set of tools a daemon can dispatch is decided at construction, matching
// the Tool-Capability Map's closed enumeration.
type Registry struct {
	workDir string
	tools   map[string]Tool
}

// NewRegistry builds the registry with every tool this daemon can run.
// workDir anchors relative file paths; collaborators that are nil disable
// the tools that depend on them (memory, subagent) rather than panicking.
func NewRegistry(workDir string, memory daemon.MemoryStore, subagent Subagent) *Registry {
	r := &Registry{workDir: workDir, tools: make(map[string]Tool)}

	r.register(&fileReadTool{workDir: workDir})
	r.register(&fileWriteTool{workDir: workDir})
	r.register(&fileEditTool{workDir: workDir})
	r.register(&fileGlobTool{workDir: workDir})
	r.register(&fileGrepTool{workDir: workDir})
	r.register(&directoryListTool{workDir: workDir})
	r.register(&bashExecuteTool{workDir: workDir})
	r.register(&webFetchTool{})
	r.register(&webSearchTool{})
	r.register(&browserTool{})
	r.register(&gitTool{workDir: workDir})

	if memory != nil {
		r.register(&memorySearchTool{store: memory, workDir: workDir})
		r.register(&memorySaveTool{store: memory, workDir: workDir})
	}
	if subagent != nil {
		r.register(&spawnSubagentTool{spawner: subagent, workDir: workDir})
	}

	return r
}

func (r *Registry) register(t Tool) {
	r.tools[t.Name()] = t
}

// Tools lists every registered tool, for building an LLMClient's function
// schema.
func (r *Registry) Tools() []Tool {
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	return out
}

// Execute implements daemon.ToolExecutor. Argument JSON is decoded once
// here so individual tools work against a plain map.
func (r *Registry) Execute(ctx context.Context, name string, argsJSON string) (daemon.ToolResult, error) {
	t, ok := r.tools[name]
	if !ok {
		return daemon.ToolResult{Success: false, Error: fmt.Sprintf("unknown tool %q", name)}, nil
	}

	params := map[string]any{}
	if argsJSON != "" {
		if err := json.Unmarshal([]byte(argsJSON), &params); err != nil {
			return daemon.ToolResult{Success: false, Error: "invalid tool arguments: " + err.Error()}, nil
		}
	}

	res, err := t.Execute(ctx, params)
	if err != nil {
		return daemon.ToolResult{Success: false, Error: err.Error()}, nil
	}
	return daemon.ToolResult{
		Success: res.Success,
		Output:  renderOutput(res.Output, res.Data),
		Error:   res.Error,
	}, nil
}
