package daemon

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/anzal1/unclaude/pkg/taskqueue"
)

const testSoul = `
identity:
  name: unclaude
  tagline: keeps the lights on
  personality: [curious, careful]
drives:
  - "keep the build green"
boundaries:
  - "never force-push"
behaviors:
  - name: check-ci
    enabled: true
    interval: 1s
    active_hours: always
    priority: low
    notify: false
    task: "check the CI status"
  - name: disabled-one
    enabled: false
    interval: 1s
    active_hours: always
    priority: low
    task: "should never run"
`

func writeSoul(t *testing.T, dir string, content string) string {
	t.Helper()
	path := filepath.Join(dir, "proactive.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write proactive.yaml: %v", err)
	}
	return path
}

func TestProactiveEngineEnqueuesEnabledBehaviorOnly(t *testing.T) {
	dir := t.TempDir()
	soulPath := writeSoul(t, dir, testSoul)
	q, _ := taskqueue.Open(dir)

	pe := NewProactiveEngine(soulPath, dir, q, func() bool { return false }, func() time.Time { return time.Now().Add(-time.Hour) })
	pe.idleThreshold = 0

	if err := pe.RunCycle(); err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}

	tasks, err := q.List(taskqueue.ListFilter{Status: taskqueue.StatusQueued})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("expected exactly 1 task enqueued per cycle, got %d", len(tasks))
	}
	if tasks[0].Source != "proactive:check-ci" {
		t.Errorf("expected the enabled behavior to be the one enqueued, got source %q", tasks[0].Source)
	}
	if tasks[0].Priority != taskqueue.PriorityLow {
		t.Errorf("expected the behavior's configured priority to carry through, got %q", tasks[0].Priority)
	}
}

func TestProactiveEngineSkipsWhenBusy(t *testing.T) {
	dir := t.TempDir()
	soulPath := writeSoul(t, dir, testSoul)
	q, _ := taskqueue.Open(dir)

	pe := NewProactiveEngine(soulPath, dir, q, func() bool { return true }, func() time.Time { return time.Now().Add(-time.Hour) })
	if err := pe.RunCycle(); err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	count, _ := q.PendingCount()
	if count != 0 {
		t.Fatalf("expected no task enqueued while busy, got %d", count)
	}
}

func TestProactiveEngineSkipsBelowIdleThreshold(t *testing.T) {
	dir := t.TempDir()
	soulPath := writeSoul(t, dir, testSoul)
	q, _ := taskqueue.Open(dir)

	pe := NewProactiveEngine(soulPath, dir, q, func() bool { return false }, func() time.Time { return time.Now() })
	if err := pe.RunCycle(); err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	count, _ := q.PendingCount()
	if count != 0 {
		t.Fatalf("expected no task enqueued when idle duration is below threshold, got %d", count)
	}
}

func TestProactiveEngineRespectsIntervalAndAlreadyQueued(t *testing.T) {
	dir := t.TempDir()
	soulPath := writeSoul(t, dir, testSoul)
	q, _ := taskqueue.Open(dir)

	pe := NewProactiveEngine(soulPath, dir, q, func() bool { return false }, func() time.Time { return time.Now().Add(-time.Hour) })
	pe.idleThreshold = 0

	if err := pe.RunCycle(); err != nil {
		t.Fatalf("first RunCycle() error = %v", err)
	}
	if err := pe.RunCycle(); err != nil {
		t.Fatalf("second RunCycle() error = %v", err)
	}
	count, _ := q.PendingCount()
	if count != 1 {
		t.Fatalf("expected a second cycle to skip the already-queued behavior, got %d pending", count)
	}
}

func TestHardcodedBoundariesAlwaysMerged(t *testing.T) {
	dir := t.TempDir()
	soulPath := writeSoul(t, dir, "boundaries: []\n")
	soul, err := loadSoul(soulPath)
	if err != nil {
		t.Fatalf("loadSoul() error = %v", err)
	}
	for _, b := range hardcodedSafetyBoundaries {
		found := false
		for _, sb := range soul.Boundaries {
			if sb == b {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("expected hardcoded boundary %q to be merged in", b)
		}
	}
}

func TestParseIntervalUnits(t *testing.T) {
	cases := map[string]time.Duration{
		"30s": 30 * time.Second,
		"4h":  4 * time.Hour,
		"1d":  24 * time.Hour,
		"15m": 15 * time.Minute,
	}
	for in, want := range cases {
		got, err := parseInterval(in)
		if err != nil {
			t.Errorf("parseInterval(%q) error = %v", in, err)
		}
		if got != want {
			t.Errorf("parseInterval(%q) = %v, want %v", in, got, want)
		}
	}
	if _, err := parseInterval("bogus"); err == nil {
		t.Errorf("expected an error for an invalid interval string")
	}
}

func TestWithinActiveHoursWraparound(t *testing.T) {
	night := time.Date(2026, 1, 1, 23, 0, 0, 0, time.UTC)
	day := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	bounds := []any{22, 6}
	if !withinActiveHours(bounds, night) {
		t.Errorf("expected 23:00 to be within a 22-6 wraparound window")
	}
	if withinActiveHours(bounds, day) {
		t.Errorf("expected noon to be outside a 22-6 wraparound window")
	}
}
