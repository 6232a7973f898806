// Package audit implements the append-only, indexed, buffered audit log.
// It follows the teacher's SQLite conventions (pkg/storage/sqlite.go): WAL
// mode, a busy timeout, and a schema_migrations version table, applied here
// to a dedicated audit.db instead of the conversation store.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// EventType enumerates the fixed audit event kinds.
type EventType string

const (
	EventSessionStart    EventType = "session.start"
	EventSessionEnd      EventType = "session.end"
	EventToolCallStart   EventType = "tool.call.start"
	EventToolCallEnd     EventType = "tool.call.end"
	EventCapabilityCheck EventType = "capability.check"
	EventPolicyDenied    EventType = "policy.denied"
	EventFileRead        EventType = "file.read"
	EventFileWrite       EventType = "file.write"
	EventExecCommand     EventType = "exec.command"
	EventNetRequest      EventType = "net.request"
	EventLLMCall         EventType = "llm.call"
	EventMemoryAccess    EventType = "memory.access"
	EventCostIncurred    EventType = "cost.incurred"
	EventIdentityRevoked EventType = "identity.revoked"
	EventDaemonStuck     EventType = "daemon.stuck"
)

// RiskLevel classifies the severity of an event for review/filtering.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Event is one immutable audit record.
type Event struct {
	EventID      string
	EventType    EventType
	Timestamp    time.Time
	SessionID    string
	AgentID      string
	ToolName     string
	Capability   string
	Data         map[string]any
	Success      bool
	ErrorMessage string
	RiskLevel    RiskLevel
}

const bufferSize = 50

// Log is the buffered, append-only audit writer backed by SQLite.
type Log struct {
	db     *sql.DB
	logger *slog.Logger

	mu     sync.Mutex
	buffer []Event
}

// Open creates or opens the audit database at path, running migrations.
func Open(path string, logger *slog.Logger) (*Log, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create audit dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			return nil, fmt.Errorf("pragma %q: %w", pragma, err)
		}
	}
	if err := migrate(db); err != nil {
		return nil, fmt.Errorf("migrate audit db: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{db: db, logger: logger}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS audit_events (
	event_id TEXT PRIMARY KEY,
	event_type TEXT NOT NULL,
	timestamp REAL NOT NULL,
	session_id TEXT,
	agent_id TEXT,
	tool_name TEXT,
	capability TEXT,
	data TEXT,
	success BOOLEAN NOT NULL DEFAULT 1,
	error_message TEXT,
	risk_level TEXT NOT NULL DEFAULT 'low'
);
CREATE INDEX IF NOT EXISTS idx_audit_session_id ON audit_events(session_id);
CREATE INDEX IF NOT EXISTS idx_audit_event_type ON audit_events(event_type);
CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_events(timestamp);
CREATE INDEX IF NOT EXISTS idx_audit_risk_level ON audit_events(risk_level);
`)
	return err
}

// Close flushes the buffer and closes the underlying database.
func (l *Log) Close() error {
	if err := l.Flush(); err != nil {
		l.logger.Error("audit flush on close failed", slog.String("error", err.Error()))
	}
	return l.db.Close()
}

// NewEvent builds an Event with a fresh ID and the current timestamp.
func NewEvent(eventType EventType, sessionID string) Event {
	return Event{
		EventID:   uuid.NewString(),
		EventType: eventType,
		Timestamp: time.Now(),
		SessionID: sessionID,
		Data:      make(map[string]any),
		Success:   true,
		RiskLevel: RiskLow,
	}
}

// Log buffers an event, flushing when the buffer reaches bufferSize.
func (l *Log) Log(e Event) {
	l.mu.Lock()
	l.buffer = append(l.buffer, e)
	shouldFlush := len(l.buffer) >= bufferSize
	l.mu.Unlock()

	if shouldFlush {
		if err := l.Flush(); err != nil {
			l.logger.Error("audit buffer flush failed", slog.String("error", err.Error()))
		}
	}
}

// LogNow bypasses the buffer and writes synchronously.
func (l *Log) LogNow(e Event) error {
	return l.insert(e)
}

// Flush persists every buffered event.
func (l *Log) Flush() error {
	l.mu.Lock()
	pending := l.buffer
	l.buffer = nil
	l.mu.Unlock()

	for _, e := range pending {
		if err := l.insert(e); err != nil {
			return err
		}
	}
	return nil
}

func (l *Log) insert(e Event) error {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}
	_, err = l.db.Exec(`
INSERT OR IGNORE INTO audit_events
	(event_id, event_type, timestamp, session_id, agent_id, tool_name, capability, data, success, error_message, risk_level)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.EventID, string(e.EventType), float64(e.Timestamp.UnixNano())/1e9,
		e.SessionID, e.AgentID, e.ToolName, e.Capability, string(data),
		e.Success, e.ErrorMessage, string(e.RiskLevel),
	)
	return err
}

// QueryArgs filters a Query call.
type QueryArgs struct {
	SessionID string
	EventType EventType
	RiskLevel RiskLevel
	Since     time.Time
	Limit     int
}

// Query returns matching events, newest first, flushing the buffer first.
func (l *Log) Query(ctx context.Context, args QueryArgs) ([]Event, error) {
	if err := l.Flush(); err != nil {
		return nil, err
	}
	limit := args.Limit
	if limit <= 0 {
		limit = 100
	}

	where := "1=1"
	params := []any{}
	if args.SessionID != "" {
		where += " AND session_id = ?"
		params = append(params, args.SessionID)
	}
	if args.EventType != "" {
		where += " AND event_type = ?"
		params = append(params, string(args.EventType))
	}
	if args.RiskLevel != "" {
		where += " AND risk_level = ?"
		params = append(params, string(args.RiskLevel))
	}
	if !args.Since.IsZero() {
		where += " AND timestamp >= ?"
		params = append(params, float64(args.Since.UnixNano())/1e9)
	}
	params = append(params, limit)

	rows, err := l.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT event_id, event_type, timestamp, session_id, agent_id, tool_name, capability, data, success, error_message, risk_level
		 FROM audit_events WHERE %s ORDER BY timestamp DESC LIMIT ?`, where), params...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var ts float64
		var eventType, riskLevel, data string
		if err := rows.Scan(&e.EventID, &eventType, &ts, &e.SessionID, &e.AgentID, &e.ToolName, &e.Capability, &data, &e.Success, &e.ErrorMessage, &riskLevel); err != nil {
			return nil, err
		}
		e.EventType = EventType(eventType)
		e.RiskLevel = RiskLevel(riskLevel)
		e.Timestamp = time.Unix(0, int64(ts*1e9))
		if data != "" {
			_ = json.Unmarshal([]byte(data), &e.Data)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// SessionSummary aggregates statistics for one session's audit trail.
type SessionSummary struct {
	TotalEvents    int
	EventsByType   map[EventType]int
	HighRiskCount  int
	DeniedCount    int
	FilesModified  []string
	CommandsRun    []string
}

// GetSessionSummary derives aggregate statistics for a session's events.
func (l *Log) GetSessionSummary(ctx context.Context, sessionID string) (*SessionSummary, error) {
	events, err := l.Query(ctx, QueryArgs{SessionID: sessionID, Limit: 100000})
	if err != nil {
		return nil, err
	}
	summary := &SessionSummary{EventsByType: make(map[EventType]int)}
	filesSeen := map[string]bool{}
	cmdsSeen := map[string]bool{}
	for _, e := range events {
		summary.TotalEvents++
		summary.EventsByType[e.EventType]++
		if e.RiskLevel == RiskHigh || e.RiskLevel == RiskCritical {
			summary.HighRiskCount++
		}
		if e.EventType == EventPolicyDenied {
			summary.DeniedCount++
		}
		if e.EventType == EventFileWrite {
			if p, ok := e.Data["path"].(string); ok && !filesSeen[p] {
				filesSeen[p] = true
				summary.FilesModified = append(summary.FilesModified, p)
			}
		}
		if e.EventType == EventExecCommand {
			if c, ok := e.Data["command"].(string); ok && !cmdsSeen[c] {
				cmdsSeen[c] = true
				summary.CommandsRun = append(summary.CommandsRun, c)
			}
		}
	}
	return summary, nil
}
