package taskqueue

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func TestDequeue_PriorityOrder(t *testing.T) {
	q := New(Options{})
	q.Enqueue(NewTask(1, "A", PriorityLow))
	q.Enqueue(NewTask(1, "B", PriorityHigh))
	q.Enqueue(NewTask(1, "C", PriorityNormal))

	var got []string
	for i := 0; i < 3; i++ {
		task, ok := q.Dequeue(context.Background(), 10*time.Millisecond)
		if !ok {
			t.Fatalf("dequeue %d timed out", i)
		}
		got = append(got, task.Endpoint)
		q.Done(task)
	}
	want := []string{"B", "C", "A"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order=%v want %v", got, want)
		}
	}
}

func TestDequeue_FIFOWithinPriority(t *testing.T) {
	clock := newClock()
	q := New(Options{Now: clock.Now})
	for _, name := range []string{"first", "second", "third"} {
		task := NewTask(1, name, PriorityNormal)
		task.CreatedAt = clock.Now()
		q.Enqueue(task)
	}
	for _, want := range []string{"first", "second", "third"} {
		task, ok := q.Dequeue(context.Background(), 10*time.Millisecond)
		if !ok || task.Endpoint != want {
			t.Fatalf("got=%v want %s", task, want)
		}
	}
}

func TestDequeue_TimeoutReturnsEmpty(t *testing.T) {
	q := New(Options{})
	start := time.Now()
	task, ok := q.Dequeue(context.Background(), 30*time.Millisecond)
	if ok || task != nil {
		t.Fatalf("expected empty dequeue, got %v", task)
	}
	if time.Since(start) < 25*time.Millisecond {
		t.Fatalf("dequeue returned before timeout")
	}
}

func TestDequeue_WakesOnEnqueue(t *testing.T) {
	q := New(Options{})
	done := make(chan *Task, 1)
	go func() {
		task, _ := q.Dequeue(context.Background(), 2*time.Second)
		done <- task
	}()
	time.Sleep(20 * time.Millisecond)
	q.Enqueue(NewTask(7, "sales", PriorityNormal))
	select {
	case task := <-done:
		if task == nil || task.CredentialID != 7 {
			t.Fatalf("task=%v want credential 7", task)
		}
	case <-time.After(time.Second):
		t.Fatalf("dequeue did not wake up")
	}
}

func TestDequeue_ContextCancel(t *testing.T) {
	q := New(Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, ok := q.Dequeue(ctx, time.Second); ok {
		t.Fatalf("expected no task on cancelled context")
	}
}

func TestBackoff_GrowthAndCap(t *testing.T) {
	want := []time.Duration{120, 240, 480, 960, 1920}
	for i, w := range want {
		got := Backoff(i+1, 60*time.Second, 3600*time.Second)
		if got != w*time.Second {
			t.Fatalf("attempt %d backoff=%s want %ds", i+1, got, w)
		}
	}
	for attempts := 6; attempts < 70; attempts++ {
		if got := Backoff(attempts, 60*time.Second, time.Hour); got != time.Hour {
			t.Fatalf("attempt %d backoff=%s want cap 1h", attempts, got)
		}
	}
}

func TestToRetry_DelaysFollowBackoff(t *testing.T) {
	clock := newClock()
	q := New(Options{BaseBackoff: time.Minute, MaxBackoff: time.Hour, Now: clock.Now})
	task := NewTask(3, "orders", PriorityNormal)
	task.MaxAttempts = 10

	want := []time.Duration{120, 240, 480, 960, 1920, 3600, 3600}
	for i, w := range want {
		if !q.ToRetry(task, 0) {
			t.Fatalf("retry %d rejected", i+1)
		}
		if got := task.NextRetryAt.Sub(clock.Now()); got != w*time.Second {
			t.Fatalf("retry %d delay=%s want %ds", i+1, got, w)
		}
		if task.Attempts != i+1 {
			t.Fatalf("attempts=%d want %d", task.Attempts, i+1)
		}
		clock.Advance(w * time.Second)
		if requeued, _ := q.DrainRetryReady(); requeued != 1 {
			t.Fatalf("retry %d requeued=%d want 1", i+1, requeued)
		}
		if _, ok := q.Dequeue(context.Background(), 10*time.Millisecond); !ok {
			t.Fatalf("retry %d not dequeued", i+1)
		}
	}
}

func TestToRetry_MinDelayWins(t *testing.T) {
	clock := newClock()
	q := New(Options{Now: clock.Now})
	task := NewTask(1, "sales", PriorityNormal)
	if !q.ToRetry(task, 10*time.Minute) {
		t.Fatalf("retry rejected")
	}
	if got := task.NextRetryAt.Sub(clock.Now()); got != 10*time.Minute {
		t.Fatalf("delay=%s want 10m", got)
	}
}

func TestToRetry_ExhaustedAttempts(t *testing.T) {
	q := New(Options{MaxAttempts: 2})
	task := NewTask(1, "sales", PriorityNormal)
	task.MaxAttempts = 0
	if !q.ToRetry(task, 0) {
		t.Fatalf("first retry should be accepted")
	}
	if q.ToRetry(task, 0) {
		t.Fatalf("second retry should be rejected with max_attempts=2")
	}
	if task.Attempts != 2 {
		t.Fatalf("attempts=%d want 2", task.Attempts)
	}
	if st := q.Stats(); st.Retrying != 1 {
		t.Fatalf("retrying=%d want 1", st.Retrying)
	}
}

func TestDrainRetryReady_KeepsFutureAndDropsExhausted(t *testing.T) {
	clock := newClock()
	q := New(Options{Now: clock.Now})
	ready := NewTask(1, "ready", PriorityNormal)
	later := NewTask(1, "later", PriorityNormal)
	q.ToRetry(ready, 0)
	q.ToRetry(later, 0)
	later.NextRetryAt = clock.Now().Add(time.Hour)
	exhausted := NewTask(1, "exhausted", PriorityNormal)
	q.ToRetry(exhausted, 0)
	exhausted.Attempts = exhausted.MaxAttempts

	clock.Advance(3 * time.Minute)
	requeued, dropped := q.DrainRetryReady()
	if requeued != 1 || dropped != 1 {
		t.Fatalf("requeued=%d dropped=%d want 1/1", requeued, dropped)
	}
	st := q.Stats()
	if st.Pending != 1 || st.Retrying != 1 {
		t.Fatalf("stats=%+v want pending=1 retrying=1", st)
	}
	task, ok := q.Dequeue(context.Background(), 10*time.Millisecond)
	if !ok || task.Endpoint != "ready" {
		t.Fatalf("task=%v want ready", task)
	}
}

func TestStats_InFlight(t *testing.T) {
	q := New(Options{})
	q.Enqueue(NewTask(1, "a", PriorityNormal))
	task, _ := q.Dequeue(context.Background(), 10*time.Millisecond)
	if st := q.Stats(); st.InFlight != 1 || st.Pending != 0 {
		t.Fatalf("stats=%+v want in_flight=1", st)
	}
	q.Done(task)
	if st := q.Stats(); st.InFlight != 0 {
		t.Fatalf("stats=%+v want in_flight=0", st)
	}
}

func TestQueue_ConcurrentConsumers(t *testing.T) {
	q := New(Options{})
	const n = 200
	for i := 0; i < n; i++ {
		q.Enqueue(NewTask(uint(i), "orders", PriorityNormal))
	}
	var (
		mu   sync.Mutex
		seen = map[uint]bool{}
		wg   sync.WaitGroup
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				task, ok := q.Dequeue(context.Background(), 20*time.Millisecond)
				if !ok {
					return
				}
				mu.Lock()
				if seen[task.CredentialID] {
					t.Errorf("task %d dequeued twice", task.CredentialID)
				}
				seen[task.CredentialID] = true
				mu.Unlock()
				q.Done(task)
			}
		}()
	}
	wg.Wait()
	if len(seen) != n {
		t.Fatalf("seen=%d want %d", len(seen), n)
	}
}
