package daemon

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/anzal1/unclaude/pkg/audit"
	"github.com/anzal1/unclaude/pkg/authz"
	"github.com/anzal1/unclaude/pkg/bus"
	agenterr "github.com/anzal1/unclaude/pkg/errors"
	"github.com/anzal1/unclaude/pkg/router"
	"github.com/anzal1/unclaude/pkg/sessionlog"
	"github.com/anzal1/unclaude/pkg/taskqueue"
	"github.com/anzal1/unclaude/pkg/usage"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

// Config bounds the daemon's resource usage and scheduling cadence.
type Config struct {
	ProjectPath       string
	StateDir          string
	PollInterval      time.Duration // default 5s
	MaxConcurrent     int           // default 1
	MaxIterations     int           // default 50
	CompactionEvery   int           // re-check compaction every N iterations, default 10
	CompactionHistory int           // history length that triggers a compaction check, default 50
	KeepRecent        int           // messages kept verbatim on compaction, default 20
	IdleThreshold     time.Duration // proactive engine idle gate, default 120s
	ProactiveInterval time.Duration // proactive cycle cadence, default 60s
	WatchInterval     time.Duration // file watcher cadence, default 2x PollInterval
}

func (c *Config) setDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 1
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = 50
	}
	if c.CompactionEvery <= 0 {
		c.CompactionEvery = 10
	}
	if c.CompactionHistory <= 0 {
		c.CompactionHistory = 50
	}
	if c.KeepRecent <= 0 {
		c.KeepRecent = 20
	}
	if c.IdleThreshold <= 0 {
		c.IdleThreshold = 120 * time.Second
	}
	if c.ProactiveInterval <= 0 {
		c.ProactiveInterval = 60 * time.Second
	}
	if c.WatchInterval <= 0 {
		c.WatchInterval = 2 * c.PollInterval
	}
}

// Daemon is the autonomous task scheduler: it pops tasks, runs the agent
// iteration loop, enforces policy and budget, and emits audit events. Its
// ownership of schedule/cost/iteration state is a fresh design for this
// spec's task-queue-driven agent loop, not an adaptation of a single
// teacher file.
type Daemon struct {
	cfg      Config
	queue    *taskqueue.Queue
	authzEng *authz.Engine
	auditLog *audit.Log
	routerR  *router.Router
	usageT   *usage.Tracker
	sessions *sessionlog.Store
	llm      LLMClient
	tools    ToolExecutor
	memory   MemoryStore
	compactor Compactor
	logger   *slog.Logger
	status   *statusFile
	metrics  *metrics
	eventBus bus.MessageBus

	mu            sync.Mutex
	state         State
	tasksCompleted int
	tasksFailed    int
	totalCostUSD   float64
	activeTasks    int

	shutdown chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

// New constructs a Daemon over its required collaborators.
func New(cfg Config, q *taskqueue.Queue, authzEng *authz.Engine, auditLog *audit.Log, r *router.Router, u *usage.Tracker, sessions *sessionlog.Store, llm LLMClient, tools ToolExecutor, memory MemoryStore, compactor Compactor, logger *slog.Logger) *Daemon {
	cfg.setDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Daemon{
		cfg: cfg, queue: q, authzEng: authzEng, auditLog: auditLog, routerR: r,
		usageT: u, sessions: sessions, llm: llm, tools: tools, memory: memory,
		compactor: compactor, logger: logger, status: newStatusFile(cfg.StateDir),
		metrics:  newMetrics(),
		eventBus: bus.NewMemoryBus(),
		state:    StateStopped, shutdown: make(chan struct{}),
	}
}

// Metrics returns the daemon's prometheus registry for an embedder to
// expose over its own HTTP mux.
func (d *Daemon) Metrics() *prometheus.Registry {
	return d.metrics.Registry()
}

// SetEventBus replaces the daemon's task-lifecycle message bus, e.g. with a
// *bus.NATSBus so other processes can observe task state. Must be called
// before Run.
func (d *Daemon) SetEventBus(b bus.MessageBus) {
	d.eventBus = b
}

// EventBus returns the bus task lifecycle events are published on, so an
// embedder can subscribe to unclaude.daemon.task.* without its own NATS
// wiring.
func (d *Daemon) EventBus() bus.MessageBus {
	return d.eventBus
}

func (d *Daemon) publishTaskEvent(ctx context.Context, subject string, task taskqueue.Task) {
	if d.eventBus == nil {
		return
	}
	payload, err := json.Marshal(task)
	if err != nil {
		d.logger.Error("task event marshal failed", slog.String("error", err.Error()))
		return
	}
	if err := d.eventBus.Publish(ctx, subject, payload); err != nil {
		d.logger.Warn("task event publish failed", slog.String("subject", subject), slog.String("error", err.Error()))
	}
}

func (d *Daemon) setState(s State) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
}

// State returns the current lifecycle state.
func (d *Daemon) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Run starts the daemon's main loop and blocks until Stop is called or ctx
// is cancelled. It writes a pid file and periodically rewrites the status
// file, per the on-disk contract external CLIs read.
func (d *Daemon) Run(ctx context.Context) error {
	d.setState(StateStarting)

	pidPath := filepath.Join(d.cfg.StateDir, "daemon.pid")
	if err := writePIDFile(pidPath, os.Getpid()); err != nil {
		d.setState(StateError)
		return agenterr.Wrap(err, agenterr.ErrCodeDaemonFatal, "write pid file")
	}
	defer os.Remove(pidPath)

	startedAt := time.Now()
	d.setState(StateRunning)
	d.auditLog.LogNow(audit.NewEvent(audit.EventSessionStart, ""))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.mainLoop(ctx, startedAt)
	}()

	select {
	case <-ctx.Done():
	case <-d.shutdown:
	}

	d.gracefulShutdown()
	d.wg.Wait()
	return nil
}

// Stop requests graceful shutdown; safe to call multiple times.
func (d *Daemon) Stop() {
	d.once.Do(func() { close(d.shutdown) })
}

func (d *Daemon) gracefulShutdown() {
	d.setState(StateStopping)

	// Cancel in-flight tasks: mark any still-running task failed so it is
	// either retried or terminally failed per the queue's own retry policy.
	running, err := d.queue.List(taskqueue.ListFilter{Status: taskqueue.StatusRunning})
	if err == nil {
		for _, t := range running {
			_ = d.queue.Fail(t.TaskID, "Daemon shutdown")
		}
	}

	d.auditLog.LogNow(audit.NewEvent(audit.EventSessionEnd, ""))
	if err := d.auditLog.Flush(); err != nil {
		d.logger.Error("audit flush on shutdown failed", slog.String("error", err.Error()))
	}
	if d.eventBus != nil {
		if err := d.eventBus.Close(); err != nil && err != bus.ErrClosed {
			d.logger.Error("event bus close failed", slog.String("error", err.Error()))
		}
	}
	d.setState(StateStopped)
}

func (d *Daemon) mainLoop(ctx context.Context, startedAt time.Time) {
	lastIdleTransition := time.Now()
	proactive := NewProactiveEngine(
		filepath.Join(filepath.Dir(d.cfg.StateDir), "proactive.yaml"),
		d.cfg.StateDir, d.queue,
		func() bool { return d.activeTaskCount() > 0 },
		func() time.Time { return lastIdleTransition },
	)
	proactive.idleThreshold = d.cfg.IdleThreshold

	var taskWatcher *TaskDirWatcher
	var mdWatcher *TasksMDWatcher
	if d.cfg.ProjectPath != "" {
		taskWatcher = NewTaskDirWatcher(d.cfg.ProjectPath, d.cfg.StateDir, d.queue)
		mdWatcher = NewTasksMDWatcher(d.cfg.ProjectPath, d.cfg.StateDir, d.queue)
	}

	stopWatchers := make(chan struct{})
	stopProactive := make(chan struct{})

	// background supervises the watcher/proactive loops together: each is
	// wrapped so a panic surfaces as an error instead of silently killing the
	// daemon's background cadence, and bg.Wait() below blocks mainLoop's
	// return until every one of them has actually observed its stop signal.
	var bg errgroup.Group
	runSupervised := func(fn func()) {
		bg.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("background loop panicked: %v", r)
				}
			}()
			fn()
			return nil
		})
	}

	if taskWatcher != nil {
		runSupervised(func() { pollEvery(d.cfg.WatchInterval, stopWatchers, func() { _ = taskWatcher.Poll() }) })
		runSupervised(func() { pollEvery(d.cfg.WatchInterval, stopWatchers, func() { _ = mdWatcher.Poll() }) })
		runSupervised(func() {
			watchProjectFiles(d.cfg.ProjectPath, stopWatchers, d.logger, func() {
				_ = taskWatcher.Poll()
				_ = mdWatcher.Poll()
			})
		})
	}
	runSupervised(func() { pollEvery(d.cfg.ProactiveInterval, stopProactive, func() { _ = proactive.RunCycle() }) })

	defer func() {
		close(stopWatchers)
		close(stopProactive)
		if err := bg.Wait(); err != nil {
			d.logger.Error("background loop exited with error", slog.String("error", err.Error()))
		}
	}()

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.shutdown:
			return
		case <-ticker.C:
			d.writeStatus(startedAt)

			if d.activeTaskCount() >= d.cfg.MaxConcurrent {
				continue
			}
			task, err := d.queue.Pop()
			if err != nil {
				d.logger.Error("queue pop failed", slog.String("error", err.Error()))
				continue
			}
			if task == nil {
				if d.State() != StateIdle {
					lastIdleTransition = time.Now()
				}
				d.setState(StateIdle)
				continue
			}

			d.setState(StateProcessing)
			d.incActiveTasks(1)
			d.publishTaskEvent(ctx, bus.SubjectTaskStarted, *task)
			d.wg.Add(1)
			go func(t taskqueue.Task) {
				defer d.wg.Done()
				defer d.incActiveTasks(-1)
				d.runTask(ctx, t)
			}(*task)
		}
	}
}

func (d *Daemon) activeTaskCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.activeTasks
}

func (d *Daemon) incActiveTasks(delta int) {
	d.mu.Lock()
	d.activeTasks += delta
	d.mu.Unlock()
}

func (d *Daemon) writeStatus(startedAt time.Time) {
	pending, _ := d.queue.PendingCount()
	d.mu.Lock()
	st := Status{
		Status: d.state, PID: os.Getpid(), ProjectPath: d.cfg.ProjectPath,
		StartedAt: startedAt, TasksCompleted: d.tasksCompleted, TasksFailed: d.tasksFailed,
		TotalCostUSD: d.totalCostUSD, QueuePending: pending, ActiveTasks: d.activeTasks,
	}
	d.mu.Unlock()
	d.metrics.update(st)
	if err := d.status.write(st); err != nil {
		d.logger.Error("status write failed", slog.String("error", err.Error()))
	}
}

func hashArgs(argsJSON string) string {
	sum := sha256.Sum256([]byte(argsJSON))
	return hex.EncodeToString(sum[:])[:12]
}
