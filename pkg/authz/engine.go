// Package authz composes a capability.Set and a sandboxpolicy.Policy behind
// one Enforce entry point, matching the tool-call authorization pipeline
// every agent iteration runs through before a tool is allowed to execute.
package authz

import (
	"github.com/anzal1/unclaude/pkg/capability"
	agenterr "github.com/anzal1/unclaude/pkg/errors"
	"github.com/anzal1/unclaude/pkg/sandboxpolicy"
)

// Engine is the single authorization entry point combining a capability set
// with a sandbox policy.
type Engine struct {
	Capabilities *capability.Set
	Sandbox      *sandboxpolicy.Policy
}

// New builds a policy engine over an existing capability set and sandbox policy.
func New(caps *capability.Set, sandbox *sandboxpolicy.Policy) *Engine {
	return &Engine{Capabilities: caps, Sandbox: sandbox}
}

// EnforceArgs carries the context of a single tool-call authorization.
type EnforceArgs struct {
	Path    string
	Command string
	URL     string
	Action  sandboxpolicy.ResourceAction
}

// Violation describes why Enforce denied a call.
type Violation struct {
	Capability capability.Capability
	Reason     string
	Context    EnforceArgs
}

// Enforce runs the ordered check sequence: capability use (the only
// mutation), then file/command/network/resource checks in that order. The
// first failure stops the sequence without running later checks.
func (e *Engine) Enforce(cap capability.Capability, args EnforceArgs) error {
	checkArgs := capability.CheckArgs{Path: args.Path, Command: args.Command, URL: args.URL}

	allowed, reason := e.Capabilities.Use(cap, checkArgs)
	if !allowed {
		return violationErr(cap, reason, args)
	}

	if args.Path != "" && e.Sandbox != nil {
		if ok, reason := e.Sandbox.CheckFile(args.Path, cap == capability.FileWrite || cap == capability.FileDelete); !ok {
			return violationErr(cap, reason, args)
		}
	}
	if args.Command != "" && e.Sandbox != nil {
		if ok, reason := e.Sandbox.CheckCommand(args.Command); !ok {
			return violationErr(cap, reason, args)
		}
	}
	if args.URL != "" && e.Sandbox != nil {
		if ok, reason := e.Sandbox.CheckNetwork(args.URL); !ok {
			return violationErr(cap, reason, args)
		}
	}
	if args.Action != "" && e.Sandbox != nil {
		if ok, reason := e.Sandbox.CheckResource(args.Action); !ok {
			return violationErr(cap, reason, args)
		}
	}
	return nil
}

func violationErr(cap capability.Capability, reason string, args EnforceArgs) error {
	return agenterr.New(agenterr.ErrCodePolicyViolation, reason).
		WithContext("capability", string(cap)).
		WithContext("path", args.Path).
		WithContext("command", args.Command).
		WithContext("url", args.URL).
		WithUserMessage("That action was denied by the sandbox policy: " + reason)
}

// EnforceTool maps a tool name to its required capabilities via
// capability.ForTool and enforces each of them in turn, returning the first
// violation encountered.
func (e *Engine) EnforceTool(toolName string, args EnforceArgs) error {
	caps := capability.ForTool(toolName)
	if len(caps) == 0 {
		return agenterr.New(agenterr.ErrCodePolicyViolation, "tool has no registered capability").
			WithContext("tool", toolName)
	}
	for _, cap := range caps {
		if err := e.Enforce(cap, args); err != nil {
			return err
		}
	}
	return nil
}
