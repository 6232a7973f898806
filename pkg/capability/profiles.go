package capability

import "time"

// Profile names the preset capability bundles a session or subagent can be
// created with.
type Profile string

const (
	ProfileReadonly   Profile = "readonly"
	ProfileDeveloper  Profile = "developer"
	ProfileFull       Profile = "full"
	ProfileAutonomous Profile = "autonomous"
	ProfileSubagent   Profile = "subagent"
)

// unrestricted is the scope used for capabilities that a profile grants
// without further path/command/domain narrowing.
var unrestricted = Scope{MaxInvocations: -1, RateLimitCount: -1}

// ProfileCapabilities returns the capability → scope map for a preset
// profile. The readonly/developer/autonomous/subagent counts match the
// published profile sizes (7/14/16/6); full grants every capability.
func ProfileCapabilities(p Profile) map[Capability]Scope {
	switch p {
	case ProfileReadonly:
		return scopesFor(
			FileRead, FileGlob, FileGrep, DirList,
			NetFetch, NetSearch, MemoryRead,
		)
	case ProfileDeveloper:
		return scopesFor(
			FileRead, FileWrite, FileGlob, FileGrep,
			DirList, DirCreate,
			ExecSafe,
			NetFetch, NetSearch,
			GitRead, GitWrite, GitBranch,
			MemoryRead, MemoryWrite,
		)
	case ProfileAutonomous:
		return scopesFor(
			FileRead, FileWrite, FileDelete, FileGlob, FileGrep,
			DirList, DirCreate,
			ExecSafe, ExecShell,
			NetFetch, NetSearch,
			GitRead, GitWrite, GitBranch,
			MemoryRead, MemoryWrite,
		)
	case ProfileSubagent:
		return scopesFor(
			FileRead, FileWrite, FileGlob,
			ExecSafe,
			MemoryRead,
			GitRead,
		)
	case ProfileFull:
		return scopesFor(All...)
	default:
		return scopesFor(FileRead, MemoryRead)
	}
}

func scopesFor(caps ...Capability) map[Capability]Scope {
	out := make(map[Capability]Scope, len(caps))
	for _, c := range caps {
		out[c] = unrestricted
	}
	return out
}

// DefaultTTL returns the default session lifetime for a session type, as
// distinct from a capability-grant TTL.
func DefaultTTL(sessionType string) time.Duration {
	switch sessionType {
	case "interactive":
		return 8 * time.Hour
	case "autonomous":
		return 24 * time.Hour
	case "subagent":
		return time.Hour
	case "api":
		return 30 * 24 * time.Hour
	case "daemon":
		return 7 * 24 * time.Hour
	default:
		return 8 * time.Hour
	}
}

// NewFromProfile builds a populated capability Set for a preset profile.
func NewFromProfile(p Profile, grantedBy string) (*Set, error) {
	set, err := New()
	if err != nil {
		return nil, err
	}
	for cap, scope := range ProfileCapabilities(p) {
		set.Grant(cap, scope, grantedBy, "profile:"+string(p))
	}
	return set, nil
}

// ToolCapabilityMap is the static, but registrable, table linking tool names
// to the capability (or capabilities) they require.
var ToolCapabilityMap = map[string][]Capability{
	"file_read":       {FileRead},
	"file_write":      {FileWrite},
	"file_edit":       {FileWrite},
	"file_glob":       {FileGlob},
	"file_grep":       {FileGrep},
	"directory_list":  {DirList},
	"directory_create": {DirCreate},
	"bash_execute":    {ExecShell},
	"run_safe":        {ExecSafe},
	"web_fetch":       {NetFetch},
	"web_post":        {NetPost},
	"web_search":      {NetSearch},
	"memory_search":   {MemoryRead},
	"memory_save":     {MemoryWrite},
	"memory_delete":   {MemoryDelete},
	"spawn_subagent":  {AgentSpawn},
	"spawn_background": {AgentBackground},
	"mcp_connect":     {MCPConnect},
	"mcp_execute":     {MCPExecute},
	"browser_tool":    {BrowserNavigate},
	"browser_interact": {BrowserInteract},
	"browser_screenshot": {BrowserScreenshot},
	"git":             {GitRead},
	"git_commit":      {GitWrite},
	"git_push":        {GitPush},
	"git_branch":      {GitBranch},
}

// RegisterToolCapability lets an external tool implementation self-register
// its capability requirement instead of requiring this package to be edited
// for every new tool.
func RegisterToolCapability(toolName string, caps ...Capability) {
	ToolCapabilityMap[toolName] = caps
}

// ForTool returns the capabilities a tool name requires, or nil if unknown.
func ForTool(toolName string) []Capability {
	return ToolCapabilityMap[toolName]
}
