package daemon

import (
	"fmt"
	"sync"
)

// BailSentinel is returned by StuckDetector.Detect once the third warning
// fires; the caller must stop issuing tool calls and force a final answer.
const BailSentinel = "BAIL"

const (
	ringSize              = 20
	maxWarnings           = 3
	noSuccessStreakLimit  = 5
)

type toolCall struct {
	tool     string
	argsHash string
}

// StuckDetector watches the last 20 (tool, args-hash) tuples for repetition
// patterns and the last few iterations for tool-success dry spells, owned
// exclusively by the agent iteration loop's goroutine (no locking needed
// across goroutines, but a mutex is kept since tasks may share a detector
// instance across retries).
type StuckDetector struct {
	mu                  sync.Mutex
	ring                []toolCall
	warnings            int
	noSuccessStreak     int
}

// NewStuckDetector creates a detector with an empty history.
func NewStuckDetector() *StuckDetector {
	return &StuckDetector{}
}

// RecordCall appends one (tool, argsHash) tuple, keeping only the most
// recent ringSize entries.
func (d *StuckDetector) RecordCall(tool, argsHash string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ring = append(d.ring, toolCall{tool: tool, argsHash: argsHash})
	if len(d.ring) > ringSize {
		d.ring = d.ring[len(d.ring)-ringSize:]
	}
}

// RecordIterationOutcome tracks whether an iteration produced at least one
// successful tool execution, for the third stuck signal.
func (d *StuckDetector) RecordIterationOutcome(anySuccess bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if anySuccess {
		d.noSuccessStreak = 0
	} else {
		d.noSuccessStreak++
	}
}

// Detect runs the three independent signals and returns:
//   - "" if nothing fired
//   - a human-readable warning message if fewer than 3 warnings have fired so far
//   - BailSentinel once the third warning fires
func (d *StuckDetector) Detect(iteration int) string {
	d.mu.Lock()
	defer d.mu.Unlock()

	reason := d.checkSignalsLocked()
	if reason == "" {
		return ""
	}

	d.warnings++
	if d.warnings >= maxWarnings {
		return BailSentinel
	}
	return reason
}

// Warnings reports how many warnings have fired so far.
func (d *StuckDetector) Warnings() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.warnings
}

// Reset clears all state, for reuse across tasks.
func (d *StuckDetector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ring = nil
	d.warnings = 0
	d.noSuccessStreak = 0
}

func (d *StuckDetector) checkSignalsLocked() string {
	if msg, ok := d.checkIdenticalRepeatLocked(); ok {
		return msg
	}
	if msg, ok := d.checkDominantToolLocked(); ok {
		return msg
	}
	if d.noSuccessStreak >= noSuccessStreakLimit {
		return "five consecutive iterations produced no successful tool execution"
	}
	return ""
}

// checkIdenticalRepeatLocked: three consecutive identical calls in the last
// five slots.
func (d *StuckDetector) checkIdenticalRepeatLocked() (string, bool) {
	n := len(d.ring)
	window := d.ring
	if n > 5 {
		window = d.ring[n-5:]
	}
	for i := 0; i+2 < len(window); i++ {
		a, b, c := window[i], window[i+1], window[i+2]
		if a == b && b == c {
			return fmt.Sprintf("repeating the exact same '%s' call (%s) three times in a row", a.tool, a.argsHash), true
		}
	}
	return "", false
}

// checkDominantToolLocked: the same tool name dominating >= 6 of the last 8 slots.
func (d *StuckDetector) checkDominantToolLocked() (string, bool) {
	n := len(d.ring)
	window := d.ring
	if n > 8 {
		window = d.ring[n-8:]
	}
	counts := map[string]int{}
	for _, c := range window {
		counts[c.tool]++
	}
	for tool, count := range counts {
		if count >= 6 {
			return fmt.Sprintf("calling %q repeatedly (%d of the last %d tool calls) with little variation", tool, count, len(window)), true
		}
	}
	return "", false
}
