package tool

import (
	"context"
	"fmt"

	"github.com/anzal1/unclaude/pkg/taskqueue"
)

// Subagent is the narrow slice of taskqueue.Queue the spawn_subagent tool
// needs: push a new task and hand back its generated ID.
type Subagent interface {
	Push(t taskqueue.Task) (string, error)
}

type spawnSubagentTool struct {
	spawner Subagent
	workDir string
}

func (t *spawnSubagentTool) Name() string { return "spawn_subagent" }

func (t *spawnSubagentTool) Description() string {
	return "Queue a new background task for a subagent to pick up, returning the queued task's ID."
}

func (t *spawnSubagentTool) Parameters() ParameterSchema {
	return ParameterSchema{
		Type: "object",
		Properties: map[string]PropertySchema{
			"description": {Type: "string", Description: "what the subagent should accomplish"},
			"priority":    {Type: "string", Description: "critical, high, normal, low, or background", Default: "normal"},
		},
		Required: []string{"description"},
	}
}

func (t *spawnSubagentTool) Execute(ctx context.Context, params map[string]any) (Result, error) {
	description, ok := stringParam(params, "description")
	if !ok {
		return Result{Success: false, Error: "description parameter must be a non-empty string"}, nil
	}
	priority, _ := stringParam(params, "priority")
	if priority == "" {
		priority = string(taskqueue.PriorityNormal)
	}

	id, err := t.spawner.Push(taskqueue.Task{
		Description: description,
		Priority:    taskqueue.Priority(priority),
		Status:      taskqueue.StatusQueued,
		Source:      "spawn_subagent",
		ProjectPath: t.workDir,
	})
	if err != nil {
		return Result{Success: false, Error: fmt.Sprintf("queue subagent task: %v", err)}, nil
	}
	return Result{Success: true, Output: fmt.Sprintf("queued subagent task %s", id)}, nil
}
