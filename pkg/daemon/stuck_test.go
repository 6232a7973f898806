package daemon

import "testing"

func TestIdenticalRepeatWarnsThenBails(t *testing.T) {
	d := NewStuckDetector()

	// Two identical calls: no signal yet.
	d.RecordCall("bash", "hash-a")
	d.RecordCall("bash", "hash-a")
	if msg := d.Detect(3); msg != "" {
		t.Fatalf("expected no signal after only two identical calls, got %q", msg)
	}

	// Third identical call triggers the first warning.
	d.RecordCall("bash", "hash-a")
	msg := d.Detect(4)
	if msg == "" || msg == BailSentinel {
		t.Fatalf("expected a warning message on the first trigger, got %q", msg)
	}
	if want := "repeating the exact same 'bash' call"; !contains(msg, want) {
		t.Errorf("expected warning to mention %q, got %q", want, msg)
	}
	if d.Warnings() != 1 {
		t.Errorf("expected Warnings() == 1, got %d", d.Warnings())
	}

	// Trigger the same signal two more times to reach the bail threshold.
	d.RecordCall("bash", "hash-a")
	msg = d.Detect(5)
	if msg == "" || msg == BailSentinel {
		t.Fatalf("expected a second warning message, got %q", msg)
	}

	d.RecordCall("bash", "hash-a")
	msg = d.Detect(6)
	if msg != BailSentinel {
		t.Fatalf("expected the third trigger to return BailSentinel, got %q", msg)
	}
}

func TestDominantToolSignal(t *testing.T) {
	d := NewStuckDetector()
	for i := 0; i < 6; i++ {
		d.RecordCall("grep", "hash-"+string(rune('a'+i)))
	}
	d.RecordCall("ls", "x")
	d.RecordCall("cat", "y")

	msg := d.Detect(8)
	if msg == "" {
		t.Fatalf("expected a dominant-tool signal to fire")
	}
	if !contains(msg, "grep") {
		t.Errorf("expected message to mention 'grep', got %q", msg)
	}
}

func TestNoSuccessStreakSignal(t *testing.T) {
	d := NewStuckDetector()
	for i := 0; i < 5; i++ {
		d.RecordIterationOutcome(false)
	}
	msg := d.Detect(5)
	if msg == "" {
		t.Fatalf("expected a no-success-streak signal after 5 failed iterations")
	}

	d.RecordIterationOutcome(true)
	// Streak reset; brand-new detector cycle needs another 5 failures to refire.
	for i := 0; i < 4; i++ {
		d.RecordIterationOutcome(false)
	}
	if msg := d.Detect(10); msg != "" {
		t.Fatalf("expected no signal after the streak was reset and only 4 failures accrued, got %q", msg)
	}
}

func TestResetClearsState(t *testing.T) {
	d := NewStuckDetector()
	d.RecordCall("bash", "a")
	d.RecordCall("bash", "a")
	d.RecordCall("bash", "a")
	d.Detect(3)
	if d.Warnings() == 0 {
		t.Fatalf("expected a warning before reset")
	}
	d.Reset()
	if d.Warnings() != 0 {
		t.Errorf("expected Warnings() == 0 after Reset, got %d", d.Warnings())
	}
	if msg := d.Detect(1); msg != "" {
		t.Errorf("expected a clean detector to report no signal, got %q", msg)
	}
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && indexOf(s, substr) >= 0
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
