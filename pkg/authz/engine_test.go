package authz

import (
	"testing"

	"github.com/anzal1/unclaude/pkg/capability"
	agenterr "github.com/anzal1/unclaude/pkg/errors"
	"github.com/anzal1/unclaude/pkg/sandboxpolicy"
)

func TestEnforceDeniesUngrantedCapabilityWithoutTouchingSandbox(t *testing.T) {
	caps, _ := capability.New()
	sandbox := sandboxpolicy.ForPreset(sandboxpolicy.PresetStandard)
	e := New(caps, sandbox)

	err := e.Enforce(capability.FileWrite, EnforceArgs{Path: "/tmp/foo"})
	if err == nil {
		t.Fatalf("expected Enforce to deny an ungranted capability")
	}
	if !agenterr.IsCode(err, agenterr.ErrCodePolicyViolation) {
		t.Errorf("expected ErrCodePolicyViolation, got %v", err)
	}

	created, _ := sandbox.Counters()
	if created != 0 {
		t.Errorf("expected sandbox counters untouched when capability denial short-circuits, got %d", created)
	}
}

func TestEnforceDangerousCommandDeniedAfterCapabilityGranted(t *testing.T) {
	caps, _ := capability.New()
	caps.Grant(capability.ExecShell, capability.Scope{MaxInvocations: -1, RateLimitCount: -1}, "autonomous profile", "")
	sandbox := sandboxpolicy.ForPreset(sandboxpolicy.PresetStandard)
	e := New(caps, sandbox)

	err := e.Enforce(capability.ExecShell, EnforceArgs{Command: "rm -rf /"})
	if err == nil {
		t.Fatalf("expected 'rm -rf /' to be denied by the sandbox even with exec.shell granted")
	}
	if !agenterr.IsCode(err, agenterr.ErrCodePolicyViolation) {
		t.Errorf("expected ErrCodePolicyViolation, got %v", err)
	}

	grants := caps.GetGrants()
	if len(grants) != 1 {
		t.Fatalf("expected exactly one grant")
	}
}

func TestEnforceAllowsGrantedCapabilityWithinPolicy(t *testing.T) {
	caps, _ := capability.New()
	caps.Grant(capability.FileWrite, capability.Scope{Paths: []string{"/project/**"}, MaxInvocations: -1, RateLimitCount: -1}, "developer profile", "")
	sandbox := sandboxpolicy.ForPreset(sandboxpolicy.PresetStandard)
	e := New(caps, sandbox)

	if err := e.Enforce(capability.FileWrite, EnforceArgs{Path: "/project/main.go"}); err != nil {
		t.Fatalf("expected a well-scoped write to be allowed, got %v", err)
	}
}

func TestEnforceToolUnregisteredToolDenied(t *testing.T) {
	caps, _ := capability.New()
	sandbox := sandboxpolicy.ForPreset(sandboxpolicy.PresetStandard)
	e := New(caps, sandbox)

	if err := e.EnforceTool("not_a_real_tool", EnforceArgs{}); err == nil {
		t.Fatalf("expected EnforceTool to reject a tool with no registered capability")
	}
}

func TestEnforceToolMapsToCapability(t *testing.T) {
	caps, _ := capability.New()
	caps.Grant(capability.FileWrite, capability.Scope{MaxInvocations: -1, RateLimitCount: -1}, "developer profile", "")
	sandbox := sandboxpolicy.ForPreset(sandboxpolicy.PresetStandard)
	e := New(caps, sandbox)

	if err := e.EnforceTool("file_write", EnforceArgs{Path: "/tmp/x"}); err != nil {
		t.Fatalf("expected file_write to be allowed, got %v", err)
	}
}
