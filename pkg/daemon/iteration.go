package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/anzal1/unclaude/pkg/audit"
	"github.com/anzal1/unclaude/pkg/authz"
	"github.com/anzal1/unclaude/pkg/bus"
	"github.com/anzal1/unclaude/pkg/router"
	"github.com/anzal1/unclaude/pkg/sessionlog"
	"github.com/anzal1/unclaude/pkg/taskqueue"
	"github.com/anzal1/unclaude/pkg/usage"
)

const maxToolFailuresPerTool = 3
const maxTotalFailuresNoSuccess = 5

// runTask executes one task's agent iteration loop to completion,
// recording the result back into the queue.
func (d *Daemon) runTask(ctx context.Context, task taskqueue.Task) {
	sessionID := "task:" + task.TaskID
	agentID := "daemon"
	sessKey := sessionlog.Key(agentID, sessionID)

	if _, err := d.sessions.Create(agentID, sessionID, task.ProjectPath); err != nil {
		d.logger.Error("session create failed", slog.String("error", err.Error()))
	}
	if err := d.sessions.Append(sessKey, sessionlog.Message{Role: sessionlog.RoleUser, Content: task.Description}); err != nil {
		d.logger.Error("session append failed", slog.String("error", err.Error()))
	}

	result, terminalErr := d.agentLoop(ctx, sessKey, sessionID, task)

	d.mu.Lock()
	d.totalCostUSD += result.costUSD
	if terminalErr == nil {
		d.tasksCompleted++
	} else {
		d.tasksFailed++
	}
	d.mu.Unlock()

	if terminalErr != nil {
		if err := d.queue.Fail(task.TaskID, terminalErr.Error()); err != nil {
			d.logger.Error("queue fail failed", slog.String("error", err.Error()))
		}
		d.publishTaskEvent(ctx, bus.SubjectTaskFailed, task)
		return
	}
	if err := d.queue.Complete(task.TaskID, result.finalAnswer); err != nil {
		d.logger.Error("queue complete failed", slog.String("error", err.Error()))
	}
	d.publishTaskEvent(ctx, bus.SubjectTaskCompleted, task)
}

type loopResult struct {
	finalAnswer string
	costUSD     float64
	iterations  int
}

// agentLoop runs up to MaxIterations rounds: route to a model, build
// context, call the LLM (with fallbacks), dispatch tool calls through the
// policy engine, audit, and feed results back, applying stuck detection
// and budget enforcement each round.
func (d *Daemon) agentLoop(ctx context.Context, sessKey, sessionID string, task taskqueue.Task) (loopResult, error) {
	detector := NewStuckDetector()
	toolFailures := map[string]int{}
	totalFailuresNoSuccess := 0
	var totalCost float64
	profileOverride := router.ProfileAuto
	useOverride := false

	outerCtx := ctx
	for iter := 1; iter <= d.cfg.MaxIterations; iter++ {
		select {
		case <-outerCtx.Done():
			return loopResult{costUSD: totalCost, iterations: iter}, outerCtx.Err()
		default:
		}

		ctx, span := startIterationSpan(outerCtx, task.TaskID, iter)

		if status, err := d.usageT.CheckBudget(); err == nil && !status.WithinBudget {
			d.auditLog.Log(auditWith(audit.NewEvent(audit.EventCostIncurred, sessionID), "", "", audit.RiskMedium, false, "budget exceeded"))
			switch status.Action {
			case usage.ActionBlock:
				span.RecordError(fmt.Errorf("budget exceeded"))
				span.End()
				return loopResult{costUSD: totalCost, iterations: iter}, fmt.Errorf("budget exceeded: %.2f/%.2f USD", status.CurrentSpend, status.Limit)
			case usage.ActionDowngrade:
				profileOverride = router.ProfileEco
				useOverride = true
			case usage.ActionWarn:
				// audited above; continue
			}
		}

		sess, err := d.sessions.Load(sessKey)
		if err != nil {
			span.RecordError(err)
			span.End()
			return loopResult{costUSD: totalCost, iterations: iter}, fmt.Errorf("load session: %w", err)
		}

		if len(sess.Messages) > d.cfg.CompactionHistory && iter%d.cfg.CompactionEvery == 0 && d.compactor != nil {
			summary, cErr := d.compactor.Compact(ctx, toDaemonMessages(sess.Messages))
			if cErr == nil {
				_ = d.sessions.Compact(sessKey, summary, d.cfg.KeepRecent)
			}
		}

		req := router.Request{Text: task.Description, ConversationID: sessionID, ConversationDepth: len(sess.Messages)}
		var decision router.Decision
		if useOverride {
			decision = d.routerR.RouteWithProfile(req, profileOverride)
		} else {
			decision = d.routerR.Route(req)
		}
		d.auditLog.Log(auditWith(audit.NewEvent(audit.EventLLMCall, sessionID), "", "", audit.RiskLow, true, ""))

		messages := d.buildMessages(sess, task)
		resp, llmErr := d.callWithFallbacks(ctx, decision, messages)
		if llmErr != nil {
			span.RecordError(llmErr)
			span.End()
			return loopResult{costUSD: totalCost, iterations: iter}, fmt.Errorf("Error: %w", llmErr)
		}

		cost := d.usageT.EstimateCost(decision.Model.ID, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
		totalCost += cost
		_, _ = d.usageT.Record(usage.Record{
			Model: decision.Model.ID, Provider: decision.Model.Provider,
			PromptTokens: resp.Usage.PromptTokens, CompletionTokens: resp.Usage.CompletionTokens,
			CostUSD: cost, SessionID: sessionID, TaskID: task.TaskID, RequestType: string(decision.Tier),
		})

		if len(resp.ToolCalls) == 0 {
			_ = d.sessions.Append(sessKey, sessionlog.Message{Role: sessionlog.RoleAssistant, Content: resp.Content})
			span.End()
			return loopResult{finalAnswer: resp.Content, costUSD: totalCost, iterations: iter}, nil
		}

		assistantMsg := sessionlog.Message{Role: sessionlog.RoleAssistant, Content: resp.Content}
		for _, tc := range resp.ToolCalls {
			assistantMsg.ToolCalls = append(assistantMsg.ToolCalls, sessionlog.ToolCall{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments})
		}
		_ = d.sessions.Append(sessKey, assistantMsg)

		anySuccess := false
		for _, tc := range resp.ToolCalls {
			detector.RecordCall(tc.Name, hashArgs(tc.Arguments))
			toolCtx, toolSpan := startToolSpan(ctx, tc.Name)
			outcome := d.dispatchTool(toolCtx, sessionID, tc)
			toolSpan.SetAttributes(attrToolOK.Bool(outcome.Success))
			if !outcome.Success {
				toolSpan.RecordError(fmt.Errorf("%s", outcome.Error))
			}
			toolSpan.End()
			if outcome.Success {
				anySuccess = true
				toolFailures[tc.Name] = 0
			} else {
				toolFailures[tc.Name]++
				totalFailuresNoSuccess++
				if toolFailures[tc.Name] >= maxToolFailuresPerTool {
					outcome.Output += "\n(try a different approach; this tool has failed repeatedly)"
				}
			}
			_ = d.sessions.Append(sessKey, sessionlog.Message{
				Role: sessionlog.RoleTool, Content: formatToolOutcome(outcome), ToolCallID: tc.ID, Name: tc.Name,
			})
		}
		detector.RecordIterationOutcome(anySuccess)

		if !anySuccess && totalFailuresNoSuccess >= maxTotalFailuresNoSuccess {
			err := fmt.Errorf("task abandoned: %d tool calls failed across all tools with no successes", totalFailuresNoSuccess)
			span.RecordError(err)
			span.End()
			return loopResult{costUSD: totalCost, iterations: iter}, err
		}

		switch verdict := detector.Detect(iter); verdict {
		case BailSentinel:
			final, bailErr := d.forceFinalAnswer(ctx, sessKey, sessionID, task, decision)
			if bailErr != nil {
				span.RecordError(bailErr)
			}
			span.End()
			return loopResult{finalAnswer: final, costUSD: totalCost, iterations: iter}, bailErr
		case "":
			// no stuck signal fired this iteration
		default:
			_ = d.sessions.Append(sessKey, sessionlog.Message{
				Role:    sessionlog.RoleSystem,
				Content: "Stuck pattern detected: " + verdict + ". Try a different approach.",
			})
		}

		span.End()
	}

	return loopResult{costUSD: totalCost, iterations: d.cfg.MaxIterations}, fmt.Errorf("max iterations (%d) reached without a final answer", d.cfg.MaxIterations)
}

// forceFinalAnswer injects a "stop using tools and answer now" directive
// and makes one last LLM call with tools disabled.
func (d *Daemon) forceFinalAnswer(ctx context.Context, sessKey, sessionID string, task taskqueue.Task, decision router.Decision) (string, error) {
	_ = d.sessions.Append(sessKey, sessionlog.Message{
		Role: sessionlog.RoleSystem,
		Content: "You appear stuck repeating the same action. Stop using tools and answer now with your best current understanding.",
	})
	sess, err := d.sessions.Load(sessKey)
	if err != nil {
		return "", err
	}
	messages := d.buildMessages(sess, task)
	resp, err := d.llm.Chat(ctx, decision.Model.ID, messages, false)
	if err != nil {
		return "", err
	}
	_ = d.sessions.Append(sessKey, sessionlog.Message{Role: sessionlog.RoleAssistant, Content: resp.Content})
	return resp.Content, nil
}

func (d *Daemon) callWithFallbacks(ctx context.Context, decision router.Decision, messages []Message) (ChatResponse, error) {
	models := append([]string{decision.Model.ID}, modelIDs(decision.Fallbacks)...)
	var lastErr error
	for _, modelID := range models {
		resp, err := d.llm.Chat(ctx, modelID, messages, true)
		if err == nil {
			return resp, nil
		}
		lastErr = err
	}
	if lastErr != nil && containsFold(lastErr.Error(), "empty") {
		resp, err := d.llm.Chat(ctx, decision.Model.ID, messages, false)
		if err == nil {
			return resp, nil
		}
		lastErr = err
	}
	return ChatResponse{}, lastErr
}

func modelIDs(specs []router.ModelSpec) []string {
	out := make([]string, 0, len(specs))
	for _, s := range specs {
		out = append(out, s.ID)
	}
	return out
}

func containsFold(s, substr string) bool {
	return len(s) >= len(substr) && (func() bool {
		for i := 0; i+len(substr) <= len(s); i++ {
			if equalFold(s[i:i+len(substr)], substr) {
				return true
			}
		}
		return false
	})()
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

func (d *Daemon) buildMessages(sess *sessionlog.Session, task taskqueue.Task) []Message {
	var out []Message
	out = append(out, Message{Role: "system", Content: "You are an autonomous coding agent executing a queued task."})
	if sess.Summary != "" {
		out = append(out, Message{Role: "system", Content: "Earlier conversation summary: " + sess.Summary})
	}
	if d.memory != nil {
		if recalled, err := d.memory.Search(task.Description, "", task.ProjectPath, 5); err == nil {
			for _, m := range recalled {
				out = append(out, Message{Role: "system", Content: "Recalled memory: " + m.Content})
			}
		}
	}
	out = append(out, toDaemonMessages(sess.Messages)...)
	return out
}

func toDaemonMessages(msgs []sessionlog.Message) []Message {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		dm := Message{Role: string(m.Role), Content: m.Content, ToolCallID: m.ToolCallID, Name: m.Name}
		for _, tc := range m.ToolCalls {
			dm.ToolCalls = append(dm.ToolCalls, ToolCallRequest{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments})
		}
		out = append(out, dm)
	}
	return out
}

func formatToolOutcome(r ToolResult) string {
	if r.Success {
		return r.Output
	}
	if r.Error != "" {
		return "Error: " + r.Error
	}
	return "Error: tool execution failed"
}

// dispatchTool enforces the tool's required capabilities through the policy
// engine, executes on success, and audits the outcome. A policy denial is
// converted into a synthetic tool-error result rather than propagated, so
// the agent can adapt.
func (d *Daemon) dispatchTool(ctx context.Context, sessionID string, tc ToolCallRequest) ToolResult {
	args := parseToolArgs(tc.Arguments)
	if err := d.authzEng.EnforceTool(tc.Name, args); err != nil {
		risk := audit.RiskMedium
		if hasExplicitDenyReason(err) {
			risk = audit.RiskHigh
		}
		d.auditLog.Log(auditWith(audit.NewEvent(audit.EventPolicyDenied, sessionID), "", tc.Name, risk, false, err.Error()))
		return ToolResult{Success: false, Error: err.Error()}
	}

	result, err := d.tools.Execute(ctx, tc.Name, tc.Arguments)
	if err != nil {
		result = ToolResult{Success: false, Error: err.Error()}
	}
	errMsg := ""
	if !result.Success {
		errMsg = result.Error
	}
	d.auditLog.Log(auditWith(audit.NewEvent(audit.EventToolCallEnd, sessionID), "", tc.Name, audit.RiskLow, result.Success, errMsg))
	return result
}

func hasExplicitDenyReason(err error) bool {
	// A missing-capability denial reads "not granted"; any other reason was
	// an explicit rule match (rate limit, scope, sandbox deny pattern).
	return err != nil && !containsFold(err.Error(), "not granted")
}

func parseToolArgs(argsJSON string) authz.EnforceArgs {
	var raw struct {
		Path    string `json:"path"`
		Command string `json:"command"`
		URL     string `json:"url"`
	}
	_ = json.Unmarshal([]byte(argsJSON), &raw)
	return authz.EnforceArgs{Path: raw.Path, Command: raw.Command, URL: raw.URL}
}
