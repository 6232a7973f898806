package daemon

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/anzal1/unclaude/pkg/taskqueue"
)

func TestTaskDirWatcherPollEnqueuesUnseenFiles(t *testing.T) {
	projectPath := t.TempDir()
	stateDir := t.TempDir()
	tasksDir := filepath.Join(projectPath, ".unclaude", "tasks")
	if err := os.MkdirAll(tasksDir, 0o755); err != nil {
		t.Fatalf("failed to create tasks dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(tasksDir, "one.md"), []byte("do the thing"), 0o644); err != nil {
		t.Fatalf("failed to write task file: %v", err)
	}

	q, err := taskqueue.Open(stateDir)
	if err != nil {
		t.Fatalf("taskqueue.Open() error = %v", err)
	}
	w := NewTaskDirWatcher(projectPath, stateDir, q)
	if err := w.Poll(); err != nil {
		t.Fatalf("Poll() error = %v", err)
	}

	pending, err := q.PendingCount()
	if err != nil {
		t.Fatalf("PendingCount() error = %v", err)
	}
	if pending != 1 {
		t.Fatalf("expected 1 queued task after first poll, got %d", pending)
	}

	// A second poll over the same unchanged file must not double-enqueue.
	if err := w.Poll(); err != nil {
		t.Fatalf("second Poll() error = %v", err)
	}
	pending, _ = q.PendingCount()
	if pending != 1 {
		t.Fatalf("expected the dedup key to prevent a second enqueue, got %d pending", pending)
	}
}

func TestTasksMDWatcherDedupesByText(t *testing.T) {
	projectPath := t.TempDir()
	stateDir := t.TempDir()
	content := "# Tasks\n- [ ] write the report\n- [x] already done\n* [ ] write the report\n"
	if err := os.WriteFile(filepath.Join(projectPath, "TASKS.md"), []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write TASKS.md: %v", err)
	}

	q, _ := taskqueue.Open(stateDir)
	w := NewTasksMDWatcher(projectPath, stateDir, q)
	if err := w.Poll(); err != nil {
		t.Fatalf("Poll() error = %v", err)
	}

	pending, _ := q.PendingCount()
	if pending != 1 {
		t.Fatalf("expected exactly 1 task (duplicate text deduped, checked item skipped), got %d", pending)
	}
}

func TestWatchProjectFilesFiresOnTasksMDWrite(t *testing.T) {
	projectPath := t.TempDir()
	stop := make(chan struct{})
	defer close(stop)

	fired := make(chan struct{}, 8)
	go watchProjectFiles(projectPath, stop, nil, func() {
		select {
		case fired <- struct{}{}:
		default:
		}
	})

	// Give the watcher goroutine time to register its watch before the write.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(filepath.Join(projectPath, "TASKS.md"), []byte("- [ ] a task\n"), 0o644); err != nil {
		t.Fatalf("failed to write TASKS.md: %v", err)
	}

	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatalf("expected an fsnotify event to fire onEvent within 3s")
	}
}
