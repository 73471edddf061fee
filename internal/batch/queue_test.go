package batch

import (
	"testing"
	"time"
)

func TestQueuePriorityOrdering(t *testing.T) {
	q := newTaskQueue()

	// interleaved insertion order across priority bands
	insertions := []struct {
		name     string
		priority Priority
	}{
		{"low-1", PriorityLow},
		{"normal-1", PriorityNormal},
		{"urgent-1", PriorityUrgent},
		{"normal-2", PriorityNormal},
		{"high-1", PriorityHigh},
		{"low-2", PriorityLow},
		{"urgent-2", PriorityUrgent},
	}
	for _, in := range insertions {
		q.Push(&Task{ID: in.name, Priority: in.priority})
	}

	want := []string{"urgent-1", "urgent-2", "high-1", "normal-1", "normal-2", "low-1", "low-2"}
	for i, expected := range want {
		got, ok := q.Pop(time.Second)
		if !ok {
			t.Fatalf("pop %d: queue unexpectedly empty", i)
		}
		if got.ID != expected {
			t.Fatalf("pop %d: expected %s, got %s", i, expected, got.ID)
		}
	}
	if q.Len() != 0 {
		t.Fatalf("expected empty queue, %d left", q.Len())
	}
}

func TestQueueRequeueKeepsArrivalOrder(t *testing.T) {
	q := newTaskQueue()
	first := &Task{ID: "first", Priority: PriorityNormal}
	q.Push(first)
	q.Push(&Task{ID: "second", Priority: PriorityNormal})

	got, ok := q.Pop(time.Second)
	if !ok || got.ID != "first" {
		t.Fatalf("expected first out, got %v", got)
	}

	// a re-queued task rejoins ahead of later arrivals in its band
	q.Push(first)
	q.Push(&Task{ID: "third", Priority: PriorityNormal})

	want := []string{"first", "second", "third"}
	for i, expected := range want {
		got, ok := q.Pop(time.Second)
		if !ok {
			t.Fatalf("pop %d: queue unexpectedly empty", i)
		}
		if got.ID != expected {
			t.Fatalf("pop %d: expected %s, got %s", i, expected, got.ID)
		}
	}
}

func TestQueuePopTimesOutEmpty(t *testing.T) {
	q := newTaskQueue()
	start := time.Now()
	if _, ok := q.Pop(20 * time.Millisecond); ok {
		t.Fatal("expected timeout on empty queue")
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Fatalf("pop returned too early after %v", elapsed)
	}
}

func TestQueuePopWakesOnPush(t *testing.T) {
	q := newTaskQueue()
	go func() {
		time.Sleep(10 * time.Millisecond)
		q.Push(&Task{ID: "late"})
	}()
	got, ok := q.Pop(time.Second)
	if !ok {
		t.Fatal("expected pop to observe the late push")
	}
	if got.ID != "late" {
		t.Fatalf("expected late, got %s", got.ID)
	}
}

func TestQueueDrain(t *testing.T) {
	q := newTaskQueue()
	q.Push(&Task{ID: "a", Priority: PriorityLow})
	q.Push(&Task{ID: "b", Priority: PriorityHigh})

	drained := q.Drain()
	if len(drained) != 2 {
		t.Fatalf("expected 2 drained tasks, got %d", len(drained))
	}
	if drained[0].ID != "b" {
		t.Fatalf("expected priority order in drain, got %s first", drained[0].ID)
	}
	if q.Len() != 0 {
		t.Fatal("queue should be empty after drain")
	}
}
