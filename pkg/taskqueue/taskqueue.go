// Package taskqueue implements the daemon's persistent priority queue: a
// JSON file rewritten atomically on every mutation, reloaded from disk on
// every Pop so a task pushed by one process is visible to another's next
// pop. It follows the teacher's atomic-rewrite convention used for
// cmd/buckley/db.go and cmd/buckley/gitignore.go (write to a temp path,
// then os.Rename) rather than a database, matching the on-disk layout the
// daemon's CLI and watchers both need to read without a shared process.
package taskqueue

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	agenterr "github.com/anzal1/unclaude/pkg/errors"
)

// Priority orders tasks within the queue; Pop always prefers the highest
// present priority among queued tasks.
type Priority string

const (
	PriorityCritical   Priority = "critical"
	PriorityHigh       Priority = "high"
	PriorityNormal     Priority = "normal"
	PriorityLow        Priority = "low"
	PriorityBackground Priority = "background"
)

// priorityOrder fixes the scan order Pop uses: highest priority first.
var priorityOrder = []Priority{PriorityCritical, PriorityHigh, PriorityNormal, PriorityLow, PriorityBackground}

// Status is a task's lifecycle state.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusRetrying  Status = "retrying"
)

// Task is one unit of daemon work.
type Task struct {
	TaskID      string    `json:"task_id"`
	Description string    `json:"description"`
	Priority    Priority  `json:"priority"`
	Status      Status    `json:"status"`
	Source      string    `json:"source"`
	ProjectPath string    `json:"project_path"`
	Result      string    `json:"result,omitempty"`
	Error       string    `json:"error,omitempty"`
	Iterations  int       `json:"iterations"`
	CostUSD     float64   `json:"cost_usd"`
	CreatedAt   time.Time `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	RetryCount  int       `json:"retry_count"`
	MaxRetries  int       `json:"max_retries"`
}

// Queue is a single-writer, multi-producer priority queue backed by a JSON
// file. Concurrent external producers are tolerated because Pop always
// reloads from disk before scanning.
type Queue struct {
	path string
	mu   sync.Mutex
	tasks []Task // in-memory cache, authoritative only between reload points
}

// Open loads (or creates) the queue file at <stateDir>/task_queue.json.
func Open(stateDir string) (*Queue, error) {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, agenterr.Wrap(err, agenterr.ErrCodeStorageWrite, "create daemon state dir")
	}
	q := &Queue{path: filepath.Join(stateDir, "task_queue.json")}
	if err := q.reloadLocked(); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *Queue) reloadLocked() error {
	data, err := os.ReadFile(q.path)
	if os.IsNotExist(err) {
		q.tasks = nil
		return nil
	}
	if err != nil {
		return agenterr.Wrap(err, agenterr.ErrCodeStorageRead, "read task queue file")
	}
	if len(data) == 0 {
		q.tasks = nil
		return nil
	}
	var tasks []Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		return agenterr.Wrap(err, agenterr.ErrCodeQueueCorrupt, "parse task queue file")
	}
	q.tasks = tasks
	return nil
}

func (q *Queue) persistLocked() error {
	data, err := json.MarshalIndent(q.tasks, "", "  ")
	if err != nil {
		return agenterr.Wrap(err, agenterr.ErrCodeInternal, "marshal task queue")
	}
	tmpPath := q.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return agenterr.Wrap(err, agenterr.ErrCodeStorageWrite, "write task queue temp file")
	}
	if err := os.Rename(tmpPath, q.path); err != nil {
		os.Remove(tmpPath)
		return agenterr.Wrap(err, agenterr.ErrCodeStorageWrite, "replace task queue file")
	}
	return nil
}

// Push appends a task, generating an id if absent, and durably persists.
func (q *Queue) Push(t Task) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.reloadLocked(); err != nil {
		return "", err
	}
	if t.TaskID == "" {
		t.TaskID = newTaskID(t.Description, t.CreatedAt)
	}
	if t.Status == "" {
		t.Status = StatusQueued
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	if t.Priority == "" {
		t.Priority = PriorityNormal
	}
	q.tasks = append(q.tasks, t)
	if err := q.persistLocked(); err != nil {
		return "", err
	}
	return t.TaskID, nil
}

// Pop reloads from disk, then picks the first queued task at the highest
// present priority (critical -> background), stamps it running, persists,
// and returns it. Returns (nil, nil) if no queued task exists.
func (q *Queue) Pop() (*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.reloadLocked(); err != nil {
		return nil, err
	}

	for _, prio := range priorityOrder {
		for i := range q.tasks {
			if q.tasks[i].Status == StatusQueued && q.tasks[i].Priority == prio {
				now := time.Now()
				q.tasks[i].Status = StatusRunning
				q.tasks[i].StartedAt = &now
				if err := q.persistLocked(); err != nil {
					return nil, err
				}
				result := q.tasks[i]
				return &result, nil
			}
		}
	}
	return nil, nil
}

// Complete marks a task completed with the given result.
func (q *Queue) Complete(taskID, result string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.reloadLocked(); err != nil {
		return err
	}
	idx := q.findLocked(taskID)
	if idx < 0 {
		return agenterr.New(agenterr.ErrCodeInvalidInput, "task not found: "+taskID)
	}
	now := time.Now()
	q.tasks[idx].Status = StatusCompleted
	q.tasks[idx].Result = result
	q.tasks[idx].CompletedAt = &now
	return q.persistLocked()
}

// Fail marks a task failed. If it has retries remaining, it is re-enqueued
// as queued with retry_count incremented rather than terminally failed.
func (q *Queue) Fail(taskID, errMsg string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.reloadLocked(); err != nil {
		return err
	}
	idx := q.findLocked(taskID)
	if idx < 0 {
		return agenterr.New(agenterr.ErrCodeInvalidInput, "task not found: "+taskID)
	}
	t := &q.tasks[idx]
	t.Error = errMsg
	if t.RetryCount < t.MaxRetries {
		t.RetryCount++
		t.Status = StatusQueued
		t.StartedAt = nil
	} else {
		now := time.Now()
		t.Status = StatusFailed
		t.CompletedAt = &now
	}
	return q.persistLocked()
}

// Cancel marks a running or queued task cancelled.
func (q *Queue) Cancel(taskID, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.reloadLocked(); err != nil {
		return err
	}
	idx := q.findLocked(taskID)
	if idx < 0 {
		return agenterr.New(agenterr.ErrCodeInvalidInput, "task not found: "+taskID)
	}
	now := time.Now()
	q.tasks[idx].Status = StatusCancelled
	q.tasks[idx].Error = reason
	q.tasks[idx].CompletedAt = &now
	return q.persistLocked()
}

func (q *Queue) findLocked(taskID string) int {
	for i := range q.tasks {
		if q.tasks[i].TaskID == taskID {
			return i
		}
	}
	return -1
}

// Get fetches a task by id after reloading from disk.
func (q *Queue) Get(taskID string) (*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.reloadLocked(); err != nil {
		return nil, err
	}
	idx := q.findLocked(taskID)
	if idx < 0 {
		return nil, nil
	}
	t := q.tasks[idx]
	return &t, nil
}

// ListFilter narrows List's result set.
type ListFilter struct {
	Status Status // empty = any
	Limit  int    // 0 = default of 50
}

// List returns tasks newest-first, optionally filtered by status.
func (q *Queue) List(filter ListFilter) ([]Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.reloadLocked(); err != nil {
		return nil, err
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	out := make([]Task, 0, len(q.tasks))
	for i := len(q.tasks) - 1; i >= 0; i-- {
		t := q.tasks[i]
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		out = append(out, t)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// PendingCount returns the number of queued tasks.
func (q *Queue) PendingCount() (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.reloadLocked(); err != nil {
		return 0, err
	}
	n := 0
	for _, t := range q.tasks {
		if t.Status == StatusQueued {
			n++
		}
	}
	return n, nil
}

func newTaskID(description string, created time.Time) string {
	if created.IsZero() {
		created = time.Now()
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d", description, created.UnixNano())))
	return hex.EncodeToString(sum[:])[:12]
}
