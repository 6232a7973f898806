// Package sessionlog implements the per-conversation append-only message
// log described for the daemon's session store: one line-delimited JSON
// file per conversation under a sessions directory, with periodic
// compaction that replaces the oldest messages with a summary record while
// preserving the most recent window intact. It is adapted from the
// teacher's atomic-rewrite convention (cmd/buckley/db.go, cmd/buckley/gitignore.go:
// write to a temp path, then os.Rename) and mirrors pkg/conversation's
// Message shape for the parts the daemon actually needs, instead of the
// teacher's SQLite-backed conversation store.
package sessionlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	agenterr "github.com/anzal1/unclaude/pkg/errors"
)

// Role names the sender of a session message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall mirrors the shape an assistant message carries when it requests
// tool execution; kept minimal since tool implementations are out of scope.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Message is one line of session history.
type Message struct {
	Role       Role           `json:"role"`
	Content    string         `json:"content,omitempty"`
	ToolCalls  []ToolCall     `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Name       string         `json:"name,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// record is the on-disk envelope: exactly one of Meta/Message/Compaction is set.
type record struct {
	Kind       string      `json:"kind,omitempty"`
	Key        string      `json:"key,omitempty"`
	ProjectPath string     `json:"project_path,omitempty"`
	CreatedAt  time.Time   `json:"created_at,omitempty"`

	// message fields, inlined when Kind == ""
	Role       Role           `json:"role,omitempty"`
	Content    string         `json:"content,omitempty"`
	ToolCalls  []ToolCall     `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Name       string         `json:"name,omitempty"`
	Timestamp  time.Time      `json:"timestamp,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`

	// compaction fields, Kind == "compaction"
	Summary        string `json:"summary,omitempty"`
	CompactedCount int    `json:"compacted_count,omitempty"`
}

const compactionKind = "compaction"
const metaKind = "session_meta"

// Session is the in-memory materialization of one conversation's log.
type Session struct {
	Key         string
	ProjectPath string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Messages    []Message
	Summary     string // non-empty if the log has been compacted at least once
}

// Store manages append-only session logs under a directory.
type Store struct {
	dir string
	mu  sync.Mutex // serializes compaction's temp-file-then-rename per store
}

// New opens (creating if absent) a session log store rooted at dir.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, agenterr.Wrap(err, agenterr.ErrCodeStorageWrite, "create sessions directory")
	}
	return &Store{dir: dir}, nil
}

func (s *Store) pathFor(agentID, sessionID string) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s_%s.log", agentID, sessionID))
}

// Key returns the session_key used to address a conversation: agent:<agent_id>:<session_id>.
func Key(agentID, sessionID string) string {
	return fmt.Sprintf("agent:%s:%s", agentID, sessionID)
}

func splitKey(key string) (agentID, sessionID string, ok bool) {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) != 3 || parts[0] != "agent" {
		return "", "", false
	}
	return parts[1], parts[2], true
}

// Create starts a new session log, writing the metadata line.
func (s *Store) Create(agentID, sessionID, projectPath string) (*Session, error) {
	if sessionID == "" {
		sessionID = generateID()
	}
	key := Key(agentID, sessionID)
	path := s.pathFor(agentID, sessionID)

	now := time.Now()
	meta := record{Kind: metaKind, Key: key, ProjectPath: projectPath, CreatedAt: now}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, agenterr.Wrap(err, agenterr.ErrCodeStorageWrite, "create session log")
	}
	defer f.Close()
	if err := writeLine(f, meta); err != nil {
		return nil, err
	}
	return &Session{Key: key, ProjectPath: projectPath, CreatedAt: now, UpdatedAt: now}, nil
}

// Append adds one message to the session log identified by key, atomically
// as a single line. At most one partial line is lost on a crash mid-write;
// Load's parser skips malformed lines.
func (s *Store) Append(key string, msg Message) error {
	agentID, sessionID, ok := splitKey(key)
	if !ok {
		return agenterr.New(agenterr.ErrCodeInvalidInput, "malformed session key: "+key)
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	path := s.pathFor(agentID, sessionID)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return agenterr.Wrap(err, agenterr.ErrCodeStorageWrite, "append session message")
	}
	defer f.Close()
	rec := record{
		Role: msg.Role, Content: msg.Content, ToolCalls: msg.ToolCalls,
		ToolCallID: msg.ToolCallID, Name: msg.Name, Timestamp: msg.Timestamp, Metadata: msg.Metadata,
	}
	return writeLine(f, rec)
}

func writeLine(f *os.File, rec record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return agenterr.Wrap(err, agenterr.ErrCodeInternal, "marshal session record")
	}
	data = append(data, '\n')
	if _, err := f.Write(data); err != nil {
		return agenterr.Wrap(err, agenterr.ErrCodeStorageWrite, "write session record")
	}
	return f.Sync()
}

// Load scans the log from disk, applying the metadata line and any
// compaction records (which replace the implicit prior history), returning
// the fully materialized session.
func (s *Store) Load(key string) (*Session, error) {
	agentID, sessionID, ok := splitKey(key)
	if !ok {
		return nil, agenterr.New(agenterr.ErrCodeInvalidInput, "malformed session key: "+key)
	}
	path := s.pathFor(agentID, sessionID)
	f, err := os.Open(path)
	if err != nil {
		return nil, agenterr.Wrap(err, agenterr.ErrCodeStorageRead, "open session log")
	}
	defer f.Close()

	sess := &Session{Key: key}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytesTrim(line)) == 0 {
			continue
		}
		var rec record
		if err := json.Unmarshal(line, &rec); err != nil {
			continue // malformed/partial line: skip, per the crash-safety contract
		}
		switch rec.Kind {
		case metaKind:
			sess.ProjectPath = rec.ProjectPath
			sess.CreatedAt = rec.CreatedAt
			sess.UpdatedAt = rec.CreatedAt
		case compactionKind:
			sess.Summary = rec.Summary
			sess.Messages = nil // compaction replaces everything before it
		default:
			sess.Messages = append(sess.Messages, Message{
				Role: rec.Role, Content: rec.Content, ToolCalls: rec.ToolCalls,
				ToolCallID: rec.ToolCallID, Name: rec.Name, Timestamp: rec.Timestamp, Metadata: rec.Metadata,
			})
			sess.UpdatedAt = rec.Timestamp
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, agenterr.Wrap(err, agenterr.ErrCodeStorageRead, "scan session log")
	}
	return sess, nil
}

func bytesTrim(b []byte) []byte {
	return []byte(strings.TrimSpace(string(b)))
}

// ListSummary describes one session file for listing.
type ListSummary struct {
	Key          string
	AgentID      string
	SessionID    string
	MessageCount int
	ModTime      time.Time
}

// ListSessions enumerates session logs newest-modified-first, optionally
// filtered to one agent.
func (s *Store) ListSessions(agentID string, limit int) ([]ListSummary, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, agenterr.Wrap(err, agenterr.ErrCodeStorageRead, "list sessions dir")
	}
	var out []ListSummary
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".log") {
			continue
		}
		base := strings.TrimSuffix(e.Name(), ".log")
		idx := strings.LastIndex(base, "_")
		if idx < 0 {
			continue
		}
		aid, sid := base[:idx], base[idx+1:]
		if agentID != "" && aid != agentID {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		count, _ := countDataLines(filepath.Join(s.dir, e.Name()))
		out = append(out, ListSummary{
			Key: Key(aid, sid), AgentID: aid, SessionID: sid,
			MessageCount: count, ModTime: info.ModTime(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModTime.After(out[j].ModTime) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func countDataLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 8*1024*1024)
	n := 0
	for scanner.Scan() {
		var rec record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue
		}
		if rec.Kind == "" {
			n++
		}
	}
	return n, nil
}

// Compact rewrites the log atomically, keeping the newest keepRecent
// messages and replacing everything before them with a single compaction
// record. It extends the kept window to include an entire
// assistant-tool-calls unit if the cutoff would otherwise split one, so a
// tool-role response is never orphaned from the assistant turn that
// requested it.
func (s *Store) Compact(key, summary string, keepRecent int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.Load(key)
	if err != nil {
		return err
	}
	if len(sess.Messages) <= keepRecent {
		return nil
	}

	cut := len(sess.Messages) - keepRecent
	cut = extendForUnitBoundary(sess.Messages, cut)
	kept := sess.Messages[cut:]
	compactedCount := cut

	agentID, sessionID, _ := splitKey(key)
	path := s.pathFor(agentID, sessionID)
	tmpPath := path + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return agenterr.Wrap(err, agenterr.ErrCodeStorageWrite, "open compaction temp file")
	}

	writeErr := func() error {
		if err := writeLine(f, record{Kind: metaKind, Key: key, ProjectPath: sess.ProjectPath, CreatedAt: sess.CreatedAt}); err != nil {
			return err
		}
		if err := writeLine(f, record{Kind: compactionKind, Summary: summary, CompactedCount: compactedCount, Timestamp: time.Now()}); err != nil {
			return err
		}
		for _, m := range kept {
			rec := record{Role: m.Role, Content: m.Content, ToolCalls: m.ToolCalls, ToolCallID: m.ToolCallID, Name: m.Name, Timestamp: m.Timestamp, Metadata: m.Metadata}
			if err := writeLine(f, rec); err != nil {
				return err
			}
		}
		return nil
	}()
	f.Close()
	if writeErr != nil {
		os.Remove(tmpPath)
		return writeErr
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return agenterr.Wrap(err, agenterr.ErrCodeStorageWrite, "replace session log after compaction")
	}
	return nil
}

// extendForUnitBoundary walks back from cut while the message at cut-1 is
// an assistant message with tool calls followed (originally) by tool
// results that would otherwise be split from their request.
func extendForUnitBoundary(msgs []Message, cut int) int {
	if cut <= 0 || cut >= len(msgs) {
		return cut
	}
	// If the first kept message is a tool response, walk back to include
	// the assistant message that issued the call.
	for cut > 0 && msgs[cut].Role == RoleTool {
		cut--
	}
	for cut > 0 && msgs[cut-1].Role == RoleAssistant && len(msgs[cut-1].ToolCalls) > 0 {
		// the assistant call belongs with the tool responses that follow it;
		// if any of those already fell inside the kept window, pull the
		// assistant message in too.
		hasFollowingTool := cut < len(msgs) && msgs[cut].Role == RoleTool
		if !hasFollowingTool {
			break
		}
		cut--
	}
	return cut
}

// Delete removes a session's log file entirely.
func (s *Store) Delete(key string) error {
	agentID, sessionID, ok := splitKey(key)
	if !ok {
		return agenterr.New(agenterr.ErrCodeInvalidInput, "malformed session key: "+key)
	}
	if err := os.Remove(s.pathFor(agentID, sessionID)); err != nil && !os.IsNotExist(err) {
		return agenterr.Wrap(err, agenterr.ErrCodeStorageWrite, "delete session log")
	}
	return nil
}

// RecoverAll scans the sessions directory at startup and returns every
// recoverable session key, for the daemon to rehydrate in-flight
// conversations after a restart.
func (s *Store) RecoverAll() ([]string, error) {
	summaries, err := s.ListSessions("", 0)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(summaries))
	for _, sm := range summaries {
		keys = append(keys, sm.Key)
	}
	return keys, nil
}

func generateID() string {
	return fmt.Sprintf("%x", time.Now().UnixNano())
}
