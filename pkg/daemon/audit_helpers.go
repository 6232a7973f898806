package daemon

import "github.com/anzal1/unclaude/pkg/audit"

// auditWith mutates a copy of an audit.Event with the given fields set,
// since Event's fields are exported structs rather than a fluent builder.
func auditWith(e audit.Event, capabilityName, toolName string, risk audit.RiskLevel, success bool, errMsg string) audit.Event {
	e.Capability = capabilityName
	e.ToolName = toolName
	e.RiskLevel = risk
	e.Success = success
	e.ErrorMessage = errMsg
	return e
}
