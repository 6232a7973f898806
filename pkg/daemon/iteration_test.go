package daemon

import (
	"context"
	"log/slog"
	"testing"

	"github.com/anzal1/unclaude/pkg/audit"
	"github.com/anzal1/unclaude/pkg/authz"
	"github.com/anzal1/unclaude/pkg/capability"
	"github.com/anzal1/unclaude/pkg/router"
	"github.com/anzal1/unclaude/pkg/sandboxpolicy"
	"github.com/anzal1/unclaude/pkg/sessionlog"
	"github.com/anzal1/unclaude/pkg/taskqueue"
	"github.com/anzal1/unclaude/pkg/usage"
)

// fakeLLM answers with a scripted sequence of responses, one per call.
type fakeLLM struct {
	responses []ChatResponse
	calls     int
}

func (f *fakeLLM) Chat(ctx context.Context, model string, messages []Message, toolsEnabled bool) (ChatResponse, error) {
	if f.calls >= len(f.responses) {
		return ChatResponse{Content: "done"}, nil
	}
	r := f.responses[f.calls]
	f.calls++
	return r, nil
}

// fakeTools always succeeds, echoing the tool name as output.
type fakeTools struct{}

func (fakeTools) Execute(ctx context.Context, name string, argsJSON string) (ToolResult, error) {
	return ToolResult{Success: true, Output: "ok:" + name}, nil
}

func newTestDaemon(t *testing.T, llm LLMClient, tools ToolExecutor) *Daemon {
	t.Helper()
	dir := t.TempDir()

	caps, err := capability.New()
	if err != nil {
		t.Fatalf("capability.New() error = %v", err)
	}
	caps.Grant(capability.ExecShell, capability.Scope{MaxInvocations: -1, RateLimitCount: -1}, "test", "")
	sandbox := sandboxpolicy.ForPreset(sandboxpolicy.PresetPermissive)
	authzEng := authz.New(caps, sandbox)

	auditLog, err := audit.Open(dir+"/audit.db", slog.Default())
	if err != nil {
		t.Fatalf("audit.Open() error = %v", err)
	}
	t.Cleanup(func() { auditLog.Close() })

	catalog := []router.ModelSpec{
		{ID: "test-model", Provider: "test", Tier: router.TierSimple, CostPer1K: 0},
	}
	r := router.New(catalog, router.ProfileAuto, "")

	usageT, err := usage.Open(dir)
	if err != nil {
		t.Fatalf("usage.Open() error = %v", err)
	}
	t.Cleanup(func() { usageT.Close() })

	sessions, err := sessionlog.New(dir)
	if err != nil {
		t.Fatalf("sessionlog.New() error = %v", err)
	}

	q, err := taskqueue.Open(dir)
	if err != nil {
		t.Fatalf("taskqueue.Open() error = %v", err)
	}

	cfg := Config{StateDir: dir, MaxIterations: 5}
	return New(cfg, q, authzEng, auditLog, r, usageT, sessions, llm, tools, nil, nil, slog.Default())
}

func startTestSession(t *testing.T, d *Daemon, sessionID string) string {
	t.Helper()
	sessKey := sessionlog.Key("daemon", sessionID)
	if _, err := d.sessions.Create("daemon", sessionID, ""); err != nil {
		t.Fatalf("sessions.Create() error = %v", err)
	}
	return sessKey
}

func TestAgentLoopReturnsFinalAnswerWhenNoToolCalls(t *testing.T) {
	llm := &fakeLLM{responses: []ChatResponse{{Content: "the answer is 42"}}}
	d := newTestDaemon(t, llm, fakeTools{})
	sessKey := startTestSession(t, d, "task:t1")

	task := taskqueue.Task{TaskID: "t1", Description: "what is the answer"}
	result, err := d.agentLoop(context.Background(), sessKey, "task:t1", task)
	if err != nil {
		t.Fatalf("agentLoop() error = %v", err)
	}
	if result.finalAnswer != "the answer is 42" {
		t.Errorf("finalAnswer = %q, want %q", result.finalAnswer, "the answer is 42")
	}
	if result.iterations != 1 {
		t.Errorf("iterations = %d, want 1", result.iterations)
	}
}

func TestAgentLoopDispatchesToolCallsThenFinishes(t *testing.T) {
	llm := &fakeLLM{responses: []ChatResponse{
		{Content: "", ToolCalls: []ToolCallRequest{{ID: "1", Name: "bash_execute", Arguments: `{"command":"cat /tmp/x"}`}}},
		{Content: "finished after tool use"},
	}}
	tools := &countingTools{}
	d := newTestDaemon(t, llm, tools)
	sessKey := startTestSession(t, d, "task:t2")

	task := taskqueue.Task{TaskID: "t2", Description: "read a file"}
	result, err := d.agentLoop(context.Background(), sessKey, "task:t2", task)
	if err != nil {
		t.Fatalf("agentLoop() error = %v", err)
	}
	if result.finalAnswer != "finished after tool use" {
		t.Errorf("finalAnswer = %q", result.finalAnswer)
	}
	if llm.calls != 2 {
		t.Errorf("expected 2 LLM calls (one per iteration), got %d", llm.calls)
	}
	if tools.executed != 1 {
		t.Errorf("expected the tool call to be dispatched once, got %d", tools.executed)
	}
}

func TestAgentLoopMaxIterationsReturnsError(t *testing.T) {
	// Every response requests another tool call, so the loop never reaches a
	// final answer and must stop at MaxIterations.
	responses := make([]ChatResponse, 0, 10)
	for i := 0; i < 10; i++ {
		args := `{"command":"echo ` + string(rune('a'+i)) + `"}`
		responses = append(responses, ChatResponse{Content: "", ToolCalls: []ToolCallRequest{{ID: "1", Name: "bash_execute", Arguments: args}}})
	}
	llm := &fakeLLM{responses: responses}
	d := newTestDaemon(t, llm, fakeTools{})
	sessKey := startTestSession(t, d, "task:t3")

	task := taskqueue.Task{TaskID: "t3", Description: "loop forever"}
	result, err := d.agentLoop(context.Background(), sessKey, "task:t3", task)
	if err == nil {
		t.Fatalf("expected an error when MaxIterations is exhausted")
	}
	if result.iterations != d.cfg.MaxIterations {
		t.Errorf("iterations = %d, want %d", result.iterations, d.cfg.MaxIterations)
	}
}

type countingTools struct {
	executed int
}

func (c *countingTools) Execute(ctx context.Context, name string, argsJSON string) (ToolResult, error) {
	c.executed++
	return ToolResult{Success: true}, nil
}

func TestDispatchToolConvertsPolicyDenialToSyntheticError(t *testing.T) {
	dir := t.TempDir()
	caps, _ := capability.New() // no capabilities granted
	sandbox := sandboxpolicy.ForPreset(sandboxpolicy.PresetStandard)
	authzEng := authz.New(caps, sandbox)

	auditLog, err := audit.Open(dir+"/audit.db", slog.Default())
	if err != nil {
		t.Fatalf("audit.Open() error = %v", err)
	}
	defer auditLog.Close()

	tools := &countingTools{}
	d := &Daemon{authzEng: authzEng, auditLog: auditLog, tools: tools, logger: slog.Default()}
	outcome := d.dispatchTool(context.Background(), "sess1", ToolCallRequest{ID: "1", Name: "bash", Arguments: `{"command":"ls"}`})
	if outcome.Success {
		t.Fatalf("expected a denied tool call to fail, not execute")
	}
	if outcome.Error == "" {
		t.Errorf("expected a non-empty synthetic error message")
	}
	if tools.executed != 0 {
		t.Errorf("expected the policy denial to short-circuit before Execute, got %d calls", tools.executed)
	}
}
