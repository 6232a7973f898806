// Package sandboxpolicy implements the static deny/allow layer over paths,
// commands, and domains, plus the resource counters that bound an agent's
// footprint (files created, concurrent processes). It is adapted from the
// teacher's command-level sandbox checker, generalized into the
// declarative, profile-driven model this security core requires. The
// policy engine (pkg/authz) is the only caller of these checks; tool
// implementations never consult this package directly.
package sandboxpolicy

import (
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// Preset names the three built-in sandbox tiers.
type Preset string

const (
	PresetStrict     Preset = "strict"
	PresetStandard   Preset = "standard"
	PresetPermissive Preset = "permissive"
)

// defaultDeniedPaths are secret/system locations denied regardless of preset.
var defaultDeniedPaths = []string{
	"~/.ssh/*", "~/.gnupg/*", "~/.aws/*",
	"**/.env*", "**/*.pem", "**/id_rsa*", "**/*.key",
}

var defaultDeniedCommands = []string{
	"rm -rf /*", "mkfs*", "dd if=/dev/*", ":(){:|:&};:", "sudo *", "curl * | bash",
}

// Policy holds deny/allow patterns and live resource counters for a session.
type Policy struct {
	AllowedPaths   []string
	DeniedPaths    []string
	AllowedDomains []string
	DeniedDomains  []string
	AllowedCommands []string
	DeniedCommands []string

	MaxFileSizeBytes      int64
	MaxFilesCreated        int64
	MaxOutputSizeBytes    int64
	ExecTimeoutSeconds    int
	MaxConcurrentProcesses int64
	MaxIterations          int
	MaxToolCallsPerTurn    int
	MaxCostUSD             float64

	mu                     sync.Mutex
	filesCreatedCount      int64
	currentConcurrentProcs int64
}

// ForPreset constructs a Policy from one of the three built-in tiers.
func ForPreset(p Preset) *Policy {
	base := &Policy{
		DeniedPaths:    append([]string{}, defaultDeniedPaths...),
		DeniedCommands: append([]string{}, defaultDeniedCommands...),
		ExecTimeoutSeconds: 120,
		MaxToolCallsPerTurn: 25,
	}
	switch p {
	case PresetStrict:
		base.MaxFileSizeBytes = 1 << 20        // 1MB
		base.MaxFilesCreated = 20
		base.MaxOutputSizeBytes = 1 << 20
		base.MaxConcurrentProcesses = 1
		base.MaxIterations = 20
		base.MaxCostUSD = 1.0
	case PresetPermissive:
		base.MaxFileSizeBytes = 100 << 20 // 100MB
		base.MaxFilesCreated = 10000
		base.MaxOutputSizeBytes = 50 << 20
		base.MaxConcurrentProcesses = 8
		base.MaxIterations = 200
		base.MaxCostUSD = 50.0
		base.DeniedCommands = []string{":(){:|:&};:"} // still block the fork bomb
	default: // standard
		base.MaxFileSizeBytes = 10 << 20 // 10MB
		base.MaxFilesCreated = 500
		base.MaxOutputSizeBytes = 10 << 20
		base.MaxConcurrentProcesses = 3
		base.MaxIterations = 50
		base.MaxCostUSD = 10.0
	}
	return base
}

// CheckFile validates a path against the deny/allow lists. Deny always wins.
func (p *Policy) CheckFile(path string, isWrite bool) (bool, string) {
	expanded := expandHome(path)
	for _, pattern := range p.DeniedPaths {
		if globMatch(expandHome(pattern), expanded) {
			return false, "path matches denied pattern: " + pattern
		}
	}
	if len(p.AllowedPaths) > 0 {
		for _, pattern := range p.AllowedPaths {
			if globMatch(expandHome(pattern), expanded) {
				return true, ""
			}
		}
		return false, "path not in allowed set"
	}
	return true, ""
}

// CheckCommand validates a shell command string.
func (p *Policy) CheckCommand(cmd string) (bool, string) {
	normalized := strings.ToLower(strings.TrimSpace(cmd))
	// A command line is not a path: '/' is swapped out on both sides so
	// that '*' in a command pattern also spans slashes.
	match := func(pattern string) bool {
		ok, err := filepath.Match(strings.ReplaceAll(strings.ToLower(pattern), "/", "\x00"), strings.ReplaceAll(normalized, "/", "\x00"))
		return err == nil && ok
	}
	for _, pattern := range p.DeniedCommands {
		if match(pattern) {
			return false, "command matches denied pattern: " + pattern
		}
	}
	if len(p.AllowedCommands) > 0 {
		for _, pattern := range p.AllowedCommands {
			if match(pattern) {
				return true, ""
			}
		}
		return false, "command not in allowed set"
	}
	return true, ""
}

// CheckNetwork validates a URL's hostname against the deny/allow lists.
func (p *Policy) CheckNetwork(rawURL string) (bool, string) {
	host := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Hostname() != "" {
		host = u.Hostname()
	}
	host = strings.ToLower(host)
	for _, pattern := range p.DeniedDomains {
		if globMatch(strings.ToLower(pattern), host) {
			return false, "domain matches denied pattern: " + pattern
		}
	}
	if len(p.AllowedDomains) > 0 {
		for _, pattern := range p.AllowedDomains {
			if globMatch(strings.ToLower(pattern), host) {
				return true, ""
			}
		}
		return false, "domain not in allowed set"
	}
	return true, ""
}

// ResourceAction names the kinds of resource checks CheckResource supports.
type ResourceAction string

const (
	ActionCreateFile   ResourceAction = "create_file"
	ActionSpawnProcess ResourceAction = "spawn_process"
	ActionReleaseProcess ResourceAction = "release_process"
)

// CheckResource validates and, on success, mutates the live resource counters.
func (p *Policy) CheckResource(action ResourceAction) (bool, string) {
	switch action {
	case ActionCreateFile:
		if p.MaxFilesCreated > 0 && atomic.LoadInt64(&p.filesCreatedCount) >= p.MaxFilesCreated {
			return false, "max files created exceeded"
		}
		atomic.AddInt64(&p.filesCreatedCount, 1)
		return true, ""
	case ActionSpawnProcess:
		if p.MaxConcurrentProcesses > 0 && atomic.LoadInt64(&p.currentConcurrentProcs) >= p.MaxConcurrentProcesses {
			return false, "max concurrent processes exceeded"
		}
		atomic.AddInt64(&p.currentConcurrentProcs, 1)
		return true, ""
	case ActionReleaseProcess:
		atomic.AddInt64(&p.currentConcurrentProcs, -1)
		return true, ""
	default:
		return true, ""
	}
}

// Counters returns the current live resource counters for audit/introspection.
func (p *Policy) Counters() (filesCreated, concurrentProcs int64) {
	return atomic.LoadInt64(&p.filesCreatedCount), atomic.LoadInt64(&p.currentConcurrentProcs)
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil && home != "" {
			if path == "~" {
				return home
			}
			return filepath.Join(home, strings.TrimPrefix(path, "~/"))
		}
	}
	return path
}

// globMatch supports '*'/'?' and a '**' that crosses path separators.
func globMatch(pattern, value string) bool {
	if strings.Contains(pattern, "**") {
		segments := strings.Split(pattern, "**")
		cursor := value
		for i, seg := range segments {
			if i == 0 {
				seg = strings.TrimSuffix(seg, "/")
			} else {
				seg = strings.Trim(seg, "/")
			}
			if seg == "" {
				continue
			}
			idx := indexOfGlobSegment(cursor, seg)
			if idx < 0 {
				return false
			}
			if i == 0 && idx != 0 {
				return false
			}
			cursor = cursor[idx+len(seg):]
		}
		return true
	}
	if ok, err := filepath.Match(pattern, value); err == nil && ok {
		return true
	}
	if ok, err := filepath.Match(pattern, filepath.Base(value)); err == nil && ok {
		return true
	}
	return false
}

// indexOfGlobSegment finds a plain (possibly single-star) segment within s.
func indexOfGlobSegment(s, segment string) int {
	if !strings.Contains(segment, "*") && !strings.Contains(segment, "?") {
		return strings.Index(s, segment)
	}
	// Fall back to scanning each suffix for a filepath.Match on a same-length
	// window; adequate for the small segment counts used by deny/allow lists.
	for i := 0; i <= len(s); i++ {
		for j := i; j <= len(s); j++ {
			if ok, err := filepath.Match(segment, s[i:j]); err == nil && ok {
				return i
			}
		}
	}
	return -1
}

// ParseResourceLimit parses a human string like "10MB" into bytes; used by
// config loading for custom sandbox overrides.
func ParseResourceLimit(s string) (int64, bool) {
	s = strings.TrimSpace(strings.ToUpper(s))
	mult := int64(1)
	switch {
	case strings.HasSuffix(s, "KB"):
		mult = 1 << 10
		s = strings.TrimSuffix(s, "KB")
	case strings.HasSuffix(s, "MB"):
		mult = 1 << 20
		s = strings.TrimSuffix(s, "MB")
	case strings.HasSuffix(s, "GB"):
		mult = 1 << 30
		s = strings.TrimSuffix(s, "GB")
	}
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, false
	}
	return n * mult, true
}
