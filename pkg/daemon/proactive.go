package daemon

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/anzal1/unclaude/pkg/taskqueue"
	"gopkg.in/yaml.v3"
)

// SoulIdentity names the daemon's proactive persona.
type SoulIdentity struct {
	Name        string   `yaml:"name"`
	Tagline     string   `yaml:"tagline"`
	Personality []string `yaml:"personality"`
}

// Behavior is one proactive, self-scheduled task definition.
type Behavior struct {
	Name        string   `yaml:"name"`
	Enabled     bool     `yaml:"enabled"`
	Interval    string   `yaml:"interval"` // "<N><unit>", unit in s|m|h|d
	ActiveHours any      `yaml:"active_hours"` // "always" or [start, end]
	Priority    string   `yaml:"priority"`
	Notify      bool     `yaml:"notify"`
	Task        string   `yaml:"task"`
}

// Soul is the full proactive.yaml layout.
type Soul struct {
	Identity   SoulIdentity `yaml:"identity"`
	Drives     []string     `yaml:"drives"`
	Boundaries []string     `yaml:"boundaries"`
	Behaviors  []Behavior   `yaml:"behaviors"`
}

// hardcodedSafetyBoundaries are always merged into the soul's boundaries,
// regardless of what the user-editable file says.
var hardcodedSafetyBoundaries = []string{
	"never act outside the granted capability set",
	"never disable or bypass the sandbox policy",
	"never spend beyond the configured budget",
}

// loadSoul reads proactive.yaml fresh on every cycle, so live edits take
// effect without a daemon restart.
func loadSoul(path string) (*Soul, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var s Soul
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse proactive.yaml: %w", err)
	}
	s.Boundaries = mergeUnique(s.Boundaries, hardcodedSafetyBoundaries)
	return &s, nil
}

func mergeUnique(existing, additions []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, e := range existing {
		seen[e] = true
	}
	out := append([]string{}, existing...)
	for _, a := range additions {
		if !seen[a] {
			out = append(out, a)
			seen[a] = true
		}
	}
	return out
}

// parseInterval parses "<N><unit>" with unit in s|m|h|d.
func parseInterval(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty interval")
	}
	unit := s[len(s)-1:]
	numStr := s[:len(s)-1]
	n, err := strconv.Atoi(numStr)
	if err != nil {
		return 0, fmt.Errorf("invalid interval %q: %w", s, err)
	}
	switch unit {
	case "s":
		return time.Duration(n) * time.Second, nil
	case "m":
		return time.Duration(n) * time.Minute, nil
	case "h":
		return time.Duration(n) * time.Hour, nil
	case "d":
		return time.Duration(n) * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unknown interval unit in %q", s)
	}
}

func withinActiveHours(ah any, now time.Time) bool {
	if ah == nil {
		return true
	}
	if s, ok := ah.(string); ok && strings.EqualFold(s, "always") {
		return true
	}
	bounds, ok := ah.([]any)
	if !ok || len(bounds) != 2 {
		return true
	}
	start, sok := toInt(bounds[0])
	end, eok := toInt(bounds[1])
	if !sok || !eok {
		return true
	}
	hour := now.Hour()
	if start <= end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end // wraps past midnight
}

func toInt(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		return int(t), true
	case string:
		n, err := strconv.Atoi(t)
		return n, err == nil
	default:
		return 0, false
	}
}

// proactiveState persists per-behavior last-run timestamps at
// <state_dir>/proactive_state.json.
type proactiveState struct {
	path    string
	LastRun map[string]time.Time `json:"last_run"`
}

func loadProactiveState(stateDir string) (*proactiveState, error) {
	path := filepath.Join(stateDir, "proactive_state.json")
	ps := &proactiveState{path: path, LastRun: make(map[string]time.Time)}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return ps, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &ps.LastRun); err != nil {
		return nil, fmt.Errorf("parse proactive_state.json: %w", err)
	}
	return ps, nil
}

func (ps *proactiveState) save() error {
	data, err := json.MarshalIndent(ps.LastRun, "", "  ")
	if err != nil {
		return err
	}
	tmp := ps.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, ps.path)
}

// ProactiveEngine runs concurrently with the main loop, enqueuing at most
// one behavior's task per cycle.
type ProactiveEngine struct {
	soulPath        string
	stateDir        string
	queue           *taskqueue.Queue
	idleThreshold   time.Duration
	checkInterval   time.Duration
	isBusy          func() bool
	idleSince       func() time.Time
}

// NewProactiveEngine builds the engine with idleThreshold set to 120s and
// checkInterval to 60s.
func NewProactiveEngine(soulPath, stateDir string, q *taskqueue.Queue, isBusy func() bool, idleSince func() time.Time) *ProactiveEngine {
	return &ProactiveEngine{
		soulPath: soulPath, stateDir: stateDir, queue: q,
		idleThreshold: 120 * time.Second, checkInterval: 60 * time.Second,
		isBusy: isBusy, idleSince: idleSince,
	}
}

// RunCycle evaluates every enabled behavior once and submits at most one
// matching task.
func (pe *ProactiveEngine) RunCycle() error {
	if pe.isBusy != nil && pe.isBusy() {
		return nil
	}
	if pe.idleSince != nil && time.Since(pe.idleSince()) < pe.idleThreshold {
		return nil
	}

	soul, err := loadSoul(pe.soulPath)
	if err != nil {
		return err
	}
	state, err := loadProactiveState(pe.stateDir)
	if err != nil {
		return err
	}

	now := time.Now()
	for _, b := range soul.Behaviors {
		if !b.Enabled {
			continue
		}
		if !withinActiveHours(b.ActiveHours, now) {
			continue
		}
		interval, err := parseInterval(b.Interval)
		if err != nil {
			continue
		}
		if last, ok := state.LastRun[b.Name]; ok && now.Sub(last) < interval {
			continue
		}
		if pe.behaviorAlreadyQueued(b.Name) {
			continue
		}

		description := synthesizeTaskDescription(soul, b)
		priority := taskqueue.Priority(b.Priority)
		if priority == "" {
			priority = taskqueue.PriorityNormal
		}
		if _, err := pe.queue.Push(taskqueue.Task{
			Description: description,
			Priority:    priority,
			Source:      "proactive:" + b.Name,
		}); err != nil {
			return err
		}
		state.LastRun[b.Name] = now
		if err := state.save(); err != nil {
			return err
		}
		return nil // at most one behavior submitted per cycle
	}
	return nil
}

func (pe *ProactiveEngine) behaviorAlreadyQueued(name string) bool {
	tasks, err := pe.queue.List(taskqueue.ListFilter{Status: taskqueue.StatusQueued})
	if err != nil {
		return false
	}
	source := "proactive:" + name
	for _, t := range tasks {
		if t.Source == source {
			return true
		}
	}
	return false
}

func synthesizeTaskDescription(soul *Soul, b Behavior) string {
	var sb strings.Builder
	if soul.Identity.Name != "" {
		sb.WriteString(fmt.Sprintf("[%s] ", soul.Identity.Name))
	}
	if soul.Identity.Tagline != "" {
		sb.WriteString(soul.Identity.Tagline + "\n")
	}
	if len(soul.Drives) > 0 {
		sb.WriteString("Drives: " + strings.Join(soul.Drives, "; ") + "\n")
	}
	if len(soul.Boundaries) > 0 {
		sb.WriteString("Boundaries: " + strings.Join(soul.Boundaries, "; ") + "\n")
	}
	sb.WriteString(b.Task)
	return sb.String()
}
