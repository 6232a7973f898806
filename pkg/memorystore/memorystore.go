// Package memorystore implements a SQLite-backed daemon.MemoryStore: one
// table of recalled facts, searchable by a simple substring match over
// content and tags, scoped by project path and optionally by layer. It
// follows pkg/usage and pkg/audit's SQLite conventions (WAL, busy timeout,
// schema_migrations) applied to a dedicated memory.db.
package memorystore

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/anzal1/unclaude/pkg/daemon"
	agenterr "github.com/anzal1/unclaude/pkg/errors"
	_ "modernc.org/sqlite"
)

// Store is the persistent memory-node database backing the memory_search
// and memory_save tools, and the agent loop's automatic recall step.
type Store struct {
	db *sql.DB
}

// Open creates or opens the memory database at <stateDir>/memory.db.
func Open(stateDir string) (*Store, error) {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, agenterr.Wrap(err, agenterr.ErrCodeStorageWrite, "create memory state dir")
	}
	path := filepath.Join(stateDir, "memory.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, agenterr.Wrap(err, agenterr.ErrCodeStorageWrite, "open memory db")
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			return nil, agenterr.Wrap(err, agenterr.ErrCodeStorageWrite, fmt.Sprintf("pragma %q", pragma))
		}
	}
	if err := migrate(db); err != nil {
		return nil, agenterr.Wrap(err, agenterr.ErrCodeStorageWrite, "migrate memory db")
	}
	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS memory_nodes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	content TEXT NOT NULL,
	layer TEXT NOT NULL DEFAULT '',
	importance REAL NOT NULL DEFAULT 0,
	tags TEXT NOT NULL DEFAULT '',
	project_path TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_memory_project ON memory_nodes(project_path);
CREATE INDEX IF NOT EXISTS idx_memory_layer ON memory_nodes(layer);
`)
	return err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Store saves one memory node, satisfying daemon.MemoryStore.
func (s *Store) Store(content, layer string, importance float64, tags []string, projectPath string) error {
	_, err := s.db.Exec(
		`INSERT INTO memory_nodes (content, layer, importance, tags, project_path, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		content, layer, importance, strings.Join(tags, ","), projectPath, time.Now().UTC(),
	)
	if err != nil {
		return agenterr.Wrap(err, agenterr.ErrCodeStorageWrite, "insert memory node")
	}
	return nil
}

// Search returns memory nodes whose content or tags contain query,
// narrowed to layer and projectPath when set, most important first.
func (s *Store) Search(query, layer, projectPath string, limit int) ([]daemon.MemoryNode, error) {
	if limit <= 0 {
		limit = 10
	}

	sqlQuery := `SELECT content, layer, importance, tags FROM memory_nodes WHERE (content LIKE ? OR tags LIKE ?)`
	args := []any{"%" + query + "%", "%" + query + "%"}
	if projectPath != "" {
		sqlQuery += ` AND project_path = ?`
		args = append(args, projectPath)
	}
	if layer != "" {
		sqlQuery += ` AND layer = ?`
		args = append(args, layer)
	}
	sqlQuery += ` ORDER BY importance DESC, created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(sqlQuery, args...)
	if err != nil {
		return nil, agenterr.Wrap(err, agenterr.ErrCodeStorageRead, "search memory nodes")
	}
	defer rows.Close()

	var out []daemon.MemoryNode
	for rows.Next() {
		var n daemon.MemoryNode
		var tags string
		if err := rows.Scan(&n.Content, &n.Layer, &n.Importance, &tags); err != nil {
			return nil, agenterr.Wrap(err, agenterr.ErrCodeStorageRead, "scan memory node")
		}
		if tags != "" {
			n.Tags = strings.Split(tags, ",")
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
