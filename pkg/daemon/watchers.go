package daemon

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/anzal1/unclaude/pkg/taskqueue"
	"github.com/fsnotify/fsnotify"
)

var tasksMDLineRe = regexp.MustCompile(`^[-*]\s*\[\s*\]\s+(.+)$`)

// processedTasks tracks dedup keys for watcher-discovered tasks at
// <state_dir>/processed_tasks.json, surviving restarts.
type processedTasks struct {
	path string
	Seen map[string]bool `json:"seen"`
}

func loadProcessedTasks(stateDir string) (*processedTasks, error) {
	path := filepath.Join(stateDir, "processed_tasks.json")
	pt := &processedTasks{path: path, Seen: make(map[string]bool)}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return pt, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &pt.Seen); err != nil {
		return nil, fmt.Errorf("parse processed_tasks.json: %w", err)
	}
	return pt, nil
}

func (pt *processedTasks) markAndSave(key string) error {
	pt.Seen[key] = true
	data, err := json.MarshalIndent(pt.Seen, "", "  ")
	if err != nil {
		return err
	}
	tmp := pt.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, pt.path)
}

// TaskDirWatcher polls <project>/.unclaude/tasks/*.md, turning each
// unseen (name, mtime) file into a queued task.
type TaskDirWatcher struct {
	projectPath string
	stateDir    string
	queue       *taskqueue.Queue
}

func NewTaskDirWatcher(projectPath, stateDir string, q *taskqueue.Queue) *TaskDirWatcher {
	return &TaskDirWatcher{projectPath: projectPath, stateDir: stateDir, queue: q}
}

// Poll scans the tasks directory once.
func (w *TaskDirWatcher) Poll() error {
	dir := filepath.Join(w.projectPath, ".unclaude", "tasks")
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	pt, err := loadProcessedTasks(w.stateDir)
	if err != nil {
		return err
	}

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		key := fmt.Sprintf("taskdir:%s:%d", e.Name(), info.ModTime().UnixNano())
		if pt.Seen[key] {
			continue
		}
		content, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		if _, err := w.queue.Push(taskqueue.Task{
			Description: string(content),
			Priority:    taskqueue.PriorityNormal,
			Source:      "watcher:task-dir",
			ProjectPath: w.projectPath,
		}); err != nil {
			return err
		}
		if err := pt.markAndSave(key); err != nil {
			return err
		}
	}
	return nil
}

// TasksMDWatcher polls <project>/TASKS.md, turning each unchecked list item
// ("- [ ] ..." or "* [ ] ...") into a queued task, deduped by its text.
type TasksMDWatcher struct {
	projectPath string
	stateDir    string
	queue       *taskqueue.Queue
}

func NewTasksMDWatcher(projectPath, stateDir string, q *taskqueue.Queue) *TasksMDWatcher {
	return &TasksMDWatcher{projectPath: projectPath, stateDir: stateDir, queue: q}
}

// Poll scans TASKS.md once.
func (w *TasksMDWatcher) Poll() error {
	path := filepath.Join(w.projectPath, "TASKS.md")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	pt, err := loadProcessedTasks(w.stateDir)
	if err != nil {
		return err
	}

	for _, line := range strings.Split(string(data), "\n") {
		m := tasksMDLineRe.FindStringSubmatch(strings.TrimRight(line, "\r"))
		if m == nil {
			continue
		}
		text := strings.TrimSpace(m[1])
		key := "tasksmd:" + hashText(text)
		if pt.Seen[key] {
			continue
		}
		if _, err := w.queue.Push(taskqueue.Task{
			Description: text,
			Priority:    taskqueue.PriorityNormal,
			Source:      "watcher:tasks-md",
			ProjectPath: w.projectPath,
		}); err != nil {
			return err
		}
		if err := pt.markAndSave(key); err != nil {
			return err
		}
	}
	return nil
}

func hashText(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:16]
}

// watchProjectFiles uses fsnotify to trigger onEvent as soon as TASKS.md or
// the .unclaude/tasks directory changes, so a new task file is picked up
// well before the next poll tick. Directories that don't exist yet (the
// tasks dir is created lazily) are retried on the tick fallback rather than
// failing the watch outright, since fsnotify cannot watch a path that isn't
// there.
func watchProjectFiles(projectPath string, stop <-chan struct{}, logger *slog.Logger, onEvent func()) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		if logger != nil {
			logger.Warn("fsnotify watcher unavailable, relying on poll fallback", slog.String("error", err.Error()))
		}
		return
	}
	defer watcher.Close()

	tasksDir := filepath.Join(projectPath, ".unclaude", "tasks")
	watched := map[string]bool{}
	tryAdd := func(path string) {
		if watched[path] {
			return
		}
		if err := watcher.Add(path); err == nil {
			watched[path] = true
		}
	}
	tryAdd(projectPath) // covers TASKS.md create/write
	tryAdd(tasksDir)

	retry := time.NewTicker(30 * time.Second)
	defer retry.Stop()

	for {
		select {
		case <-stop:
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				onEvent()
			}
		case <-watcher.Errors:
			// swallow; the retry ticker and poll fallback keep the daemon alive.
		case <-retry.C:
			tryAdd(tasksDir)
		}
	}
}

// pollEvery runs fn on every tick until stop is closed.
func pollEvery(interval time.Duration, stop <-chan struct{}, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			fn()
		}
	}
}
