package taskqueue

import (
	"testing"
)

func TestPushAndPopPriorityOrder(t *testing.T) {
	q, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	if _, err := q.Push(Task{Description: "low task", Priority: PriorityLow}); err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	if _, err := q.Push(Task{Description: "critical task", Priority: PriorityCritical}); err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	if _, err := q.Push(Task{Description: "normal task", Priority: PriorityNormal}); err != nil {
		t.Fatalf("Push() error = %v", err)
	}

	popped, err := q.Pop()
	if err != nil {
		t.Fatalf("Pop() error = %v", err)
	}
	if popped == nil || popped.Priority != PriorityCritical {
		t.Fatalf("expected the critical task to pop first, got %+v", popped)
	}
	if popped.Status != StatusRunning {
		t.Errorf("expected popped task to be marked running, got %s", popped.Status)
	}

	popped, _ = q.Pop()
	if popped == nil || popped.Priority != PriorityNormal {
		t.Fatalf("expected the normal task to pop second, got %+v", popped)
	}

	popped, _ = q.Pop()
	if popped == nil || popped.Priority != PriorityLow {
		t.Fatalf("expected the low task to pop third, got %+v", popped)
	}

	popped, _ = q.Pop()
	if popped != nil {
		t.Fatalf("expected Pop on an empty queue to return nil, got %+v", popped)
	}
}

func TestPopIsVisibleAcrossFreshQueueHandles(t *testing.T) {
	dir := t.TempDir()
	q1, _ := Open(dir)
	id, err := q1.Push(Task{Description: "written by q1", Priority: PriorityHigh})
	if err != nil {
		t.Fatalf("Push() error = %v", err)
	}

	q2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open() error = %v", err)
	}
	popped, err := q2.Pop()
	if err != nil {
		t.Fatalf("Pop() error = %v", err)
	}
	if popped == nil || popped.TaskID != id {
		t.Fatalf("expected a fresh queue handle over the same directory to see the pushed task, got %+v", popped)
	}
}

func TestFailRetriesThenTerminallyFails(t *testing.T) {
	q, _ := Open(t.TempDir())
	id, _ := q.Push(Task{Description: "flaky", Priority: PriorityNormal, MaxRetries: 1})
	q.Pop()

	if err := q.Fail(id, "boom"); err != nil {
		t.Fatalf("Fail() error = %v", err)
	}
	task, _ := q.Get(id)
	if task.Status != StatusQueued {
		t.Fatalf("expected task to be re-queued after first failure, got %s", task.Status)
	}
	if task.RetryCount != 1 {
		t.Errorf("expected retry_count == 1, got %d", task.RetryCount)
	}

	q.Pop()
	if err := q.Fail(id, "boom again"); err != nil {
		t.Fatalf("Fail() error = %v", err)
	}
	task, _ = q.Get(id)
	if task.Status != StatusFailed {
		t.Fatalf("expected task to be terminally failed once retries are exhausted, got %s", task.Status)
	}
}

func TestCompleteAndListFilter(t *testing.T) {
	q, _ := Open(t.TempDir())
	id, _ := q.Push(Task{Description: "quick", Priority: PriorityNormal})
	q.Pop()
	if err := q.Complete(id, "done"); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	completed, err := q.List(ListFilter{Status: StatusCompleted})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(completed) != 1 || completed[0].TaskID != id {
		t.Fatalf("expected List to find the completed task, got %+v", completed)
	}
}

func TestPendingCountIgnoresRunningAndCompleted(t *testing.T) {
	q, _ := Open(t.TempDir())
	q.Push(Task{Description: "a", Priority: PriorityNormal})
	id2, _ := q.Push(Task{Description: "b", Priority: PriorityNormal})
	q.Pop() // pops "a" (pushed first), marking it running

	count, err := q.PendingCount()
	if err != nil {
		t.Fatalf("PendingCount() error = %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 pending task, got %d", count)
	}

	q.Complete(id2, "")
	count, _ = q.PendingCount()
	if count != 0 {
		t.Fatalf("expected 0 pending tasks after completing the only queued one, got %d", count)
	}
}

func TestGetUnknownTaskReturnsNilWithoutError(t *testing.T) {
	q, _ := Open(t.TempDir())
	task, err := q.Get("does-not-exist")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if task != nil {
		t.Fatalf("expected nil for an unknown task id, got %+v", task)
	}
}
