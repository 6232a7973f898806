package sessionlog

import (
	"os"
	"testing"
)

func TestAppendAndLoadRoundTrip(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	sess, err := store.Create("agent-1", "sess-1", "/proj")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := store.Append(sess.Key, Message{Role: RoleUser, Content: "hello"}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := store.Append(sess.Key, Message{Role: RoleAssistant, Content: "hi there"}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	loaded, err := store.Load(sess.Key)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(loaded.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(loaded.Messages))
	}
	if loaded.Messages[0].Content != "hello" || loaded.Messages[1].Content != "hi there" {
		t.Errorf("unexpected message contents: %+v", loaded.Messages)
	}
	if loaded.ProjectPath != "/proj" {
		t.Errorf("expected project path to round-trip, got %q", loaded.ProjectPath)
	}
}

func TestCompactPreservesRecentMessages(t *testing.T) {
	store, _ := New(t.TempDir())
	sess, _ := store.Create("agent-1", "sess-1", "/proj")

	for i := 0; i < 10; i++ {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		store.Append(sess.Key, Message{Role: role, Content: "msg"})
	}

	if err := store.Compact(sess.Key, "summary of earlier turns", 4); err != nil {
		t.Fatalf("Compact() error = %v", err)
	}

	loaded, err := store.Load(sess.Key)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Summary != "summary of earlier turns" {
		t.Errorf("expected compaction summary to be recorded, got %q", loaded.Summary)
	}
	if len(loaded.Messages) != 4 {
		t.Errorf("expected exactly the 4 most recent messages kept, got %d", len(loaded.Messages))
	}
}

func TestCompactNeverSplitsAToolCallUnit(t *testing.T) {
	store, _ := New(t.TempDir())
	sess, _ := store.Create("agent-1", "sess-1", "/proj")

	store.Append(sess.Key, Message{Role: RoleUser, Content: "do something"})
	store.Append(sess.Key, Message{Role: RoleAssistant, Content: "", ToolCalls: []ToolCall{{ID: "1", Name: "bash"}}})
	store.Append(sess.Key, Message{Role: RoleTool, ToolCallID: "1", Content: "output"})
	store.Append(sess.Key, Message{Role: RoleAssistant, Content: "done"})

	// keepRecent=2 would otherwise cut between the assistant tool-call
	// message and its tool response.
	if err := store.Compact(sess.Key, "summary", 2); err != nil {
		t.Fatalf("Compact() error = %v", err)
	}
	loaded, err := store.Load(sess.Key)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	foundCall := false
	foundResponse := false
	for _, m := range loaded.Messages {
		if m.Role == RoleAssistant && len(m.ToolCalls) > 0 {
			foundCall = true
		}
		if m.Role == RoleTool && m.ToolCallID == "1" {
			foundResponse = true
		}
	}
	if foundResponse && !foundCall {
		t.Fatalf("tool response was kept without its originating assistant call: %+v", loaded.Messages)
	}
}

func TestCompactIsNoOpWhenUnderThreshold(t *testing.T) {
	store, _ := New(t.TempDir())
	sess, _ := store.Create("agent-1", "sess-1", "/proj")
	store.Append(sess.Key, Message{Role: RoleUser, Content: "only message"})

	if err := store.Compact(sess.Key, "summary", 10); err != nil {
		t.Fatalf("Compact() error = %v", err)
	}
	loaded, _ := store.Load(sess.Key)
	if loaded.Summary != "" {
		t.Errorf("expected no compaction to occur when message count is under keepRecent")
	}
	if len(loaded.Messages) != 1 {
		t.Errorf("expected the single message to survive untouched, got %d", len(loaded.Messages))
	}
}

func TestMalformedLineIsSkippedNotFatal(t *testing.T) {
	dir := t.TempDir()
	store, _ := New(dir)
	sess, _ := store.Create("agent-1", "sess-1", "/proj")
	store.Append(sess.Key, Message{Role: RoleUser, Content: "good line"})

	path := store.pathFor("agent-1", "sess-1")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("failed to open log for corruption: %v", err)
	}
	f.WriteString("{not valid json\n")
	f.Close()

	loaded, err := store.Load(sess.Key)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(loaded.Messages) != 1 {
		t.Fatalf("expected the malformed trailing line to be skipped, got %d messages", len(loaded.Messages))
	}
}

func TestListSessionsFiltersByAgent(t *testing.T) {
	store, _ := New(t.TempDir())
	store.Create("agent-a", "s1", "/proj")
	store.Create("agent-b", "s2", "/proj")

	all, err := store.ListSessions("", 0)
	if err != nil {
		t.Fatalf("ListSessions() error = %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 sessions total, got %d", len(all))
	}

	filtered, err := store.ListSessions("agent-a", 0)
	if err != nil {
		t.Fatalf("ListSessions() error = %v", err)
	}
	if len(filtered) != 1 || filtered[0].AgentID != "agent-a" {
		t.Fatalf("expected only agent-a's session, got %+v", filtered)
	}
}

func TestDeleteRemovesLog(t *testing.T) {
	store, _ := New(t.TempDir())
	sess, _ := store.Create("agent-1", "sess-1", "/proj")
	if err := store.Delete(sess.Key); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Load(sess.Key); err == nil {
		t.Fatalf("expected Load to fail after Delete")
	}
}
