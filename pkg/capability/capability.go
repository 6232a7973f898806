// Package capability implements capability-based authorization: a closed set
// of operation kinds, each grantable with a scope (paths/commands/domains),
// a TTL, an invocation quota, and a sliding-window rate limit.
package capability

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"path/filepath"
	"strings"
	"sync"
	"time"

	agenterr "github.com/anzal1/unclaude/pkg/errors"
	"golang.org/x/time/rate"
)

// Capability is a closed enumeration of operation kinds an agent may request.
type Capability string

const (
	FileRead       Capability = "file.read"
	FileWrite      Capability = "file.write"
	FileDelete     Capability = "file.delete"
	FileGlob       Capability = "file.glob"
	FileGrep       Capability = "file.grep"
	DirList        Capability = "dir.list"
	DirCreate      Capability = "dir.create"
	ExecSafe       Capability = "exec.safe"
	ExecShell      Capability = "exec.shell"
	ExecBackground Capability = "exec.background"
	NetFetch       Capability = "net.fetch"
	NetPost        Capability = "net.post"
	NetSearch      Capability = "net.search"
	NetWebsocket   Capability = "net.websocket"
	GitRead        Capability = "git.read"
	GitWrite       Capability = "git.write"
	GitPush        Capability = "git.push"
	GitBranch      Capability = "git.branch"
	MemoryRead     Capability = "memory.read"
	MemoryWrite    Capability = "memory.write"
	MemoryDelete   Capability = "memory.delete"
	AgentSpawn     Capability = "agent.spawn"
	AgentBackground Capability = "agent.background"
	MCPConnect     Capability = "mcp.connect"
	MCPExecute     Capability = "mcp.execute"
	BrowserNavigate Capability = "browser.navigate"
	BrowserInteract Capability = "browser.interact"
	BrowserScreenshot Capability = "browser.screenshot"
	SystemConfig   Capability = "system.config"
)

// All is the closed enumeration of every capability kind.
var All = []Capability{
	FileRead, FileWrite, FileDelete, FileGlob, FileGrep,
	DirList, DirCreate,
	ExecSafe, ExecShell, ExecBackground,
	NetFetch, NetPost, NetSearch, NetWebsocket,
	GitRead, GitWrite, GitPush, GitBranch,
	MemoryRead, MemoryWrite, MemoryDelete,
	AgentSpawn, AgentBackground,
	MCPConnect, MCPExecute,
	BrowserNavigate, BrowserInteract, BrowserScreenshot,
	SystemConfig,
}

// Scope narrows a capability grant.
type Scope struct {
	Paths    []string // glob patterns; empty = unrestricted
	Commands []string // glob patterns
	Domains  []string // glob patterns over hostnames

	TTL            time.Duration // zero = no expiry
	MaxInvocations int           // -1 = unlimited

	RateLimitCount  int           // -1 disables
	RateLimitWindow time.Duration
}

// Grant records one capability's scope and provenance.
type Grant struct {
	Capability Capability
	Scope      Scope
	GrantedBy  string
	Reason     string
	grantedAt  time.Time

	mu               sync.Mutex
	invocationCount  int
	recentInvocations []time.Time
	revoked          bool

	// burstLimiter is a token-bucket fast path consulted only from Use,
	// never from Check, so it never compromises I2. The sliding window in
	// check() stays the contractual rate limit; this catches sub-window
	// bursts the coarser window can momentarily miss.
	burstLimiter *rate.Limiter
}

// CheckArgs carries the optional context of a single authorization check.
type CheckArgs struct {
	Path    string
	Command string
	URL     string
}

// Set holds every grant issued to a session or subagent identity.
type Set struct {
	mu     sync.RWMutex
	token  string // plaintext, returned once
	hash   string // sha256(token), stored for lookup
	grants map[Capability]*Grant
}

// New constructs an empty capability set and mints a fresh bearer token.
func New() (*Set, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, agenterr.Wrap(err, agenterr.ErrCodeInternal, "generate capability token")
	}
	token := base64.RawURLEncoding.EncodeToString(raw)
	sum := sha256.Sum256([]byte(token))
	return &Set{
		token:  token,
		hash:   hex.EncodeToString(sum[:]),
		grants: make(map[Capability]*Grant),
	}, nil
}

// Token returns the one-time plaintext bearer token. Callers must not persist it.
func (s *Set) Token() string { return s.token }

// TokenHash returns the stored SHA-256 hash used for lookup.
func (s *Set) TokenHash() string { return s.hash }

// Grant adds or replaces a grant for a capability.
func (s *Set) Grant(cap Capability, scope Scope, grantedBy, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g := &Grant{
		Capability: cap,
		Scope:      scope,
		GrantedBy:  grantedBy,
		Reason:     reason,
		grantedAt:  time.Now(),
	}
	if scope.RateLimitCount > 0 && scope.RateLimitWindow > 0 {
		g.burstLimiter = rate.NewLimiter(rate.Every(scope.RateLimitWindow/time.Duration(scope.RateLimitCount)), scope.RateLimitCount)
	}
	s.grants[cap] = g
}

// Revoke removes a grant if present.
func (s *Set) Revoke(cap Capability) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.grants, cap)
}

// Has reports whether a grant is present, ignoring scope.
func (s *Set) Has(cap Capability) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.grants[cap]
	return ok && !g.revoked
}

// GetGrants enumerates all live grants for introspection/audit.
func (s *Set) GetGrants() []Grant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Grant, 0, len(s.grants))
	for _, g := range s.grants {
		if !g.revoked {
			out = append(out, *g)
		}
	}
	return out
}

// Check evaluates a capability without mutating any counters (I2).
func (s *Set) Check(cap Capability, args CheckArgs) (bool, string) {
	s.mu.RLock()
	g, ok := s.grants[cap]
	s.mu.RUnlock()
	if !ok {
		return false, "capability not granted"
	}
	return g.check(args)
}

// Use evaluates a capability and, only on success, records the invocation (I3).
func (s *Set) Use(cap Capability, args CheckArgs) (bool, string) {
	s.mu.RLock()
	g, ok := s.grants[cap]
	s.mu.RUnlock()
	if !ok {
		return false, "capability not granted"
	}
	allowed, reason := g.check(args)
	if !allowed {
		return false, reason
	}
	if g.burstLimiter != nil && !g.burstLimiter.Allow() {
		return false, "burst rate guard exceeded"
	}
	g.record()
	return true, ""
}

func (g *Grant) check(args CheckArgs) (bool, string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.revoked {
		return false, "capability revoked"
	}
	if g.Scope.TTL > 0 && time.Since(g.grantedAt) > g.Scope.TTL {
		g.revoked = true
		return false, "capability expired"
	}
	if g.Scope.MaxInvocations >= 0 && g.invocationCount >= g.Scope.MaxInvocations {
		return false, "invocation quota exhausted"
	}
	if g.Scope.RateLimitCount >= 0 && g.Scope.RateLimitWindow > 0 {
		cutoff := time.Now().Add(-g.Scope.RateLimitWindow)
		count := 0
		for _, t := range g.recentInvocations {
			if t.After(cutoff) {
				count++
			}
		}
		if count >= g.Scope.RateLimitCount {
			return false, "rate limit exceeded"
		}
	}
	if args.Path != "" && len(g.Scope.Paths) > 0 && !matchAny(g.Scope.Paths, args.Path) {
		return false, "path not in capability scope"
	}
	if args.Command != "" && len(g.Scope.Commands) > 0 && !matchAny(g.Scope.Commands, args.Command) {
		return false, "command not in capability scope"
	}
	if args.URL != "" && len(g.Scope.Domains) > 0 && !matchAny(g.Scope.Domains, hostOf(args.URL)) {
		return false, "domain not in capability scope"
	}
	return true, ""
}

func (g *Grant) record() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.invocationCount++
	if g.Scope.RateLimitWindow > 0 {
		now := time.Now()
		cutoff := now.Add(-g.Scope.RateLimitWindow)
		pruned := g.recentInvocations[:0]
		for _, t := range g.recentInvocations {
			if t.After(cutoff) {
				pruned = append(pruned, t)
			}
		}
		g.recentInvocations = append(pruned, now)
	}
}

func matchAny(patterns []string, value string) bool {
	for _, p := range patterns {
		if globMatch(p, value) {
			return true
		}
	}
	return false
}

// globMatch supports '*' and '?' plus '**' crossing path separators. In a
// pattern containing '**', the pieces between the '**' markers are matched
// as literal substrings, except that the leading piece may be a glob.
func globMatch(pattern, value string) bool {
	if strings.Contains(pattern, "**") {
		// Treat ** as "match across directories": fall back to suffix/prefix checks
		// around the wildcard segments.
		parts := strings.Split(pattern, "**")
		pos := 0
		for i, part := range parts {
			if i > 0 {
				part = strings.TrimPrefix(part, "/")
			}
			if part == "" {
				continue
			}
			idx := strings.Index(value[pos:], strings.TrimSuffix(part, "/"))
			if i == 0 && !strings.HasPrefix(value, part) && idx != 0 {
				if ok, _ := filepath.Match(part, value); !ok {
					return false
				}
				continue
			}
			if idx < 0 {
				return false
			}
			pos += idx + len(part)
		}
		return true
	}
	if ok, err := filepath.Match(pattern, value); err == nil && ok {
		return true
	}
	// Basename fallback for patterns like "*.pem".
	if ok, err := filepath.Match(pattern, filepath.Base(value)); err == nil && ok {
		return true
	}
	return false
}

func hostOf(rawURL string) string {
	rawURL = strings.TrimPrefix(rawURL, "https://")
	rawURL = strings.TrimPrefix(rawURL, "http://")
	if idx := strings.IndexAny(rawURL, "/?#"); idx >= 0 {
		rawURL = rawURL[:idx]
	}
	if idx := strings.LastIndex(rawURL, "@"); idx >= 0 {
		rawURL = rawURL[idx+1:]
	}
	if idx := strings.LastIndex(rawURL, ":"); idx >= 0 {
		rawURL = rawURL[:idx]
	}
	return rawURL
}
