// Command unclaude is the thin CLI surface over the autonomous agent
// security and execution core: it parses a handful of subcommands with the
// standard library flag package, exactly as cmd/buckley/main.go does (no
// cobra), and wires the ten components together.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/anzal1/unclaude/pkg/audit"
	"github.com/anzal1/unclaude/pkg/authz"
	"github.com/anzal1/unclaude/pkg/capability"
	"github.com/anzal1/unclaude/pkg/daemon"
	"github.com/anzal1/unclaude/pkg/daemonconfig"
	"github.com/anzal1/unclaude/pkg/identity"
	"github.com/anzal1/unclaude/pkg/memorystore"
	"github.com/anzal1/unclaude/pkg/router"
	"github.com/anzal1/unclaude/pkg/sandboxpolicy"
	"github.com/anzal1/unclaude/pkg/sessionlog"
	"github.com/anzal1/unclaude/pkg/taskqueue"
	"github.com/anzal1/unclaude/pkg/tool"
	"github.com/anzal1/unclaude/pkg/usage"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "start":
		os.Exit(cmdStart(os.Args[2:]))
	case "stop":
		os.Exit(cmdStop(os.Args[2:]))
	case "status":
		os.Exit(cmdStatus(os.Args[2:]))
	case "task":
		os.Exit(cmdTask(os.Args[2:]))
	case "list":
		os.Exit(cmdList(os.Args[2:]))
	case "--help", "-h", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unclaude: unknown command %q\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`unclaude: autonomous agent security and execution core

Usage:
  unclaude start [--foreground]
  unclaude stop
  unclaude status
  unclaude task "<description>" [--priority=<prio>] [--wait]
  unclaude list`)
}

func daemonPID(stateDir string) string { return filepath.Join(stateDir, "daemon.pid") }

// cmdStart either runs the daemon inline (--foreground) or re-executes the
// binary once as a detached child in a new session and prints its pid; the
// child writes daemon.pid itself when it starts running. No second fork is
// made.
func cmdStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	foreground := fs.Bool("foreground", false, "run in the foreground instead of detaching")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	stateDir, err := daemonconfig.StateDir()
	if err != nil {
		fmt.Fprintln(os.Stderr, "unclaude:", err)
		return 1
	}
	if pid, alive := daemon.ReadPID(daemonPID(stateDir)); alive {
		fmt.Fprintf(os.Stderr, "unclaude: already running (pid %d)\n", pid)
		return 1
	}

	if !*foreground {
		proc, err := daemonize(os.Args[1:2])
		if err != nil {
			fmt.Fprintln(os.Stderr, "unclaude: failed to start:", err)
			return 1
		}
		fmt.Printf("unclaude: started (pid %d)\n", proc.Pid)
		return 0
	}

	return runForeground(stateDir)
}

func runForeground(stateDir string) int {
	if err := os.MkdirAll(stateDir, 0o700); err != nil {
		fmt.Fprintln(os.Stderr, "unclaude:", err)
		return 1
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With(slog.String("component", "daemon"))

	cfg, err := daemonconfig.Load(stateDir)
	if err != nil {
		logger.Error("load config", slog.String("error", err.Error()))
		return 1
	}

	d, err := buildDaemon(stateDir, cfg, logger)
	if err != nil {
		logger.Error("build daemon", slog.String("error", err.Error()))
		return 1
	}

	tp, err := daemon.NewTracerProvider("unclaude-daemon")
	if err != nil {
		logger.Warn("tracing disabled: tracer provider init failed", slog.String("error", err.Error()))
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(shutdownCtx); err != nil {
				logger.Warn("tracer provider shutdown failed", slog.String("error", err.Error()))
			}
		}()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := d.Run(ctx); err != nil {
		logger.Error("daemon exited with error", slog.String("error", err.Error()))
		return 1
	}
	return 0
}

// buildDaemon wires C1 (capability set, via a profile), C2 (sandbox
// policy), C3 (policy engine), C4 (audit log), C5 (identity manager — a
// daemon-type session identity is minted and its id logged at startup; that
// id is not attached to audit events), C6 (session
// store), C7 (task queue), C9 (smart router), and C10 (usage tracker) into
// a C8 Daemon, with narrow external-collaborator adapters for the LLM
// client, tool executor, memory store, and compactor.
func buildDaemon(stateDir string, cfg *daemonconfig.Config, logger *slog.Logger) (*daemon.Daemon, error) {
	profile := capability.Profile(cfg.Security.Profile)
	caps, err := capability.NewFromProfile(profile, "daemon-start")
	if err != nil {
		return nil, fmt.Errorf("build capability set: %w", err)
	}
	sandbox := sandboxpolicy.ForPreset(sandboxPresetFor(profile))
	authzEng := authz.New(caps, sandbox)

	auditLog, err := audit.Open(filepath.Join(stateDir, "audit.db"), logger.With(slog.String("component", "audit")))
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}

	idMgr, err := identity.NewManager(filepath.Join(stateDir, "identity"))
	if err != nil {
		return nil, fmt.Errorf("open identity manager: %w", err)
	}
	daemonSession, err := idMgr.CreateSession("daemon", "daemon", string(profile), "", 0)
	if err != nil {
		return nil, fmt.Errorf("mint daemon identity: %w", err)
	}
	logger.Info("daemon identity minted", slog.String("session_id", daemonSession.ID))

	sessions, err := sessionlog.New(filepath.Join(stateDir, "sessions"))
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}

	queue, err := taskqueue.Open(filepath.Join(stateDir, "daemon"))
	if err != nil {
		return nil, fmt.Errorf("open task queue: %w", err)
	}

	usageT, err := usage.Open(filepath.Join(stateDir, "daemon"))
	if err != nil {
		return nil, fmt.Errorf("open usage tracker: %w", err)
	}

	routerR := router.New(defaultModelCatalog(), router.Profile(cfg.Routing.Profile), cfg.Routing.PreferredProvider)

	memStore, err := memorystore.Open(filepath.Join(stateDir, "daemon"))
	if err != nil {
		return nil, fmt.Errorf("open memory store: %w", err)
	}

	workDir, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("resolve working directory: %w", err)
	}
	toolReg := tool.NewRegistry(workDir, memStore, queue)
	llm := newHTTPLLMClient(toolReg)

	dcfg := daemon.Config{
		StateDir:          filepath.Join(stateDir, "daemon"),
		PollInterval:      time.Duration(cfg.Daemon.PollIntervalSeconds) * time.Second,
		MaxConcurrent:     cfg.Daemon.MaxConcurrent,
		MaxIterations:     cfg.Daemon.MaxIterations,
		IdleThreshold:     time.Duration(cfg.Daemon.IdleThresholdSeconds) * time.Second,
		ProactiveInterval: time.Duration(cfg.Daemon.ProactiveIntervalSeconds) * time.Second,
	}
	if err := os.MkdirAll(dcfg.StateDir, 0o700); err != nil {
		return nil, fmt.Errorf("create daemon state dir: %w", err)
	}

	return daemon.New(dcfg, queue, authzEng, auditLog, routerR, usageT, sessions, llm, toolReg, memStore, passthroughCompactor{}, logger), nil
}

func sandboxPresetFor(p capability.Profile) sandboxpolicy.Preset {
	switch p {
	case capability.ProfileReadonly, capability.ProfileSubagent:
		return sandboxpolicy.PresetStrict
	case capability.ProfileFull, capability.ProfileAutonomous:
		return sandboxpolicy.PresetPermissive
	default:
		return sandboxpolicy.PresetStandard
	}
}

// defaultModelCatalog is the built-in router catalog; cfg.CustomModels
// supplements it per provider at load time in a fuller deployment.
func defaultModelCatalog() []router.ModelSpec {
	return []router.ModelSpec{
		{ID: "anthropic/claude-haiku-4-5", Provider: "anthropic", Tier: router.TierSimple, CostPer1K: 0.001},
		{ID: "anthropic/claude-sonnet-4-5", Provider: "anthropic", Tier: router.TierMedium, CostPer1K: 0.006},
		{ID: "anthropic/claude-sonnet-4-5", Provider: "anthropic", Tier: router.TierComplex, CostPer1K: 0.006},
		{ID: "anthropic/claude-opus-4-5", Provider: "anthropic", Tier: router.TierReasoning, CostPer1K: 0.03},
		{ID: "ollama/llama3.1", Provider: "ollama", Tier: router.TierSimple, CostPer1K: 0, Free: true, Local: true},
	}
}

func cmdStop(args []string) int {
	stateDir, err := daemonconfig.StateDir()
	if err != nil {
		fmt.Fprintln(os.Stderr, "unclaude:", err)
		return 1
	}
	pid, alive := daemon.ReadPID(daemonPID(stateDir))
	if !alive {
		fmt.Fprintln(os.Stderr, "unclaude: not running")
		return 1
	}
	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		fmt.Fprintln(os.Stderr, "unclaude: failed to signal daemon:", err)
		return 1
	}
	fmt.Println("unclaude: stop signal sent")
	return 0
}

func cmdStatus(args []string) int {
	stateDir, err := daemonconfig.StateDir()
	if err != nil {
		fmt.Fprintln(os.Stderr, "unclaude:", err)
		return 1
	}
	st, err := daemon.ReadStatus(filepath.Join(stateDir, "daemon"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "unclaude: no status available:", err)
		return 1
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(st)
	return 0
}

func cmdTask(args []string) int {
	fs := flag.NewFlagSet("task", flag.ContinueOnError)
	priority := fs.String("priority", string(taskqueue.PriorityNormal), "task priority")
	wait := fs.Bool("wait", false, "block until the task completes or fails")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "unclaude: task requires a description")
		return 1
	}
	description := fs.Arg(0)

	stateDir, err := daemonconfig.StateDir()
	if err != nil {
		fmt.Fprintln(os.Stderr, "unclaude:", err)
		return 1
	}
	queue, err := taskqueue.Open(filepath.Join(stateDir, "daemon"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "unclaude:", err)
		return 1
	}

	taskID, err := queue.Push(taskqueue.Task{
		Description: description,
		Priority:    taskqueue.Priority(*priority),
		Source:      "cli",
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "unclaude:", err)
		return 1
	}
	fmt.Println(taskID)

	if !*wait {
		return 0
	}
	for {
		t, err := queue.Get(taskID)
		if err != nil {
			fmt.Fprintln(os.Stderr, "unclaude:", err)
			return 1
		}
		switch t.Status {
		case taskqueue.StatusCompleted:
			fmt.Println(t.Result)
			return 0
		case taskqueue.StatusFailed, taskqueue.StatusCancelled:
			fmt.Fprintln(os.Stderr, t.Error)
			return 1
		}
		time.Sleep(time.Second)
	}
}

func cmdList(args []string) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	limit := fs.Int("limit", 20, "number of tasks to list")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	stateDir, err := daemonconfig.StateDir()
	if err != nil {
		fmt.Fprintln(os.Stderr, "unclaude:", err)
		return 1
	}
	queue, err := taskqueue.Open(filepath.Join(stateDir, "daemon"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "unclaude:", err)
		return 1
	}
	tasks, err := queue.List(taskqueue.ListFilter{Limit: *limit})
	if err != nil {
		fmt.Fprintln(os.Stderr, "unclaude:", err)
		return 1
	}
	for _, t := range tasks {
		duration := ""
		if t.StartedAt != nil && t.CompletedAt != nil {
			duration = t.CompletedAt.Sub(*t.StartedAt).String()
		}
		fmt.Printf("%s\t%s\t%s\t%s\t%s\n", t.TaskID, t.Status, t.Priority, truncate(t.Description, 60), duration)
	}
	return 0
}
