package taskqueue

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

type Options struct {
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	MaxAttempts int
	Now         func() time.Time
}

// Stats is a point-in-time view of the queue.
type Stats struct {
	Pending  int `json:"pending"`
	Retrying int `json:"retrying"`
	InFlight int `json:"in_flight"`
}

// Queue is an in-process priority queue with a side list of tasks waiting
// for their backoff to expire. Nothing is persisted.
type Queue struct {
	mu       sync.Mutex
	items    taskHeap
	retry    []*Task
	inFlight int
	seq      uint64
	ready    chan struct{}

	base        time.Duration
	max         time.Duration
	maxAttempts int
	now         func() time.Time
}

func New(opts Options) *Queue {
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = 60 * time.Second
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = time.Hour
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Queue{
		ready:       make(chan struct{}, 1),
		base:        opts.BaseBackoff,
		max:         opts.MaxBackoff,
		maxAttempts: opts.MaxAttempts,
		now:         opts.Now,
	}
}

// Enqueue adds t. It never blocks and does not deduplicate.
func (q *Queue) Enqueue(t *Task) {
	if t == nil {
		return
	}
	q.mu.Lock()
	if t.MaxAttempts <= 0 {
		t.MaxAttempts = q.maxAttempts
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = q.now()
	}
	q.seq++
	t.seq = q.seq
	heap.Push(&q.items, t)
	q.mu.Unlock()
	q.signal()
}

// Dequeue waits up to timeout for a task. It returns false on timeout or
// when ctx is done.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*Task, bool) {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	for {
		if t := q.pop(); t != nil {
			return t, true
		}
		if timer == nil {
			timer = time.NewTimer(timeout)
		}
		select {
		case <-ctx.Done():
			return nil, false
		case <-timer.C:
			// One last look: a task may have arrived with the signal
			// consumed by another waiter.
			t := q.pop()
			return t, t != nil
		case <-q.ready:
		}
	}
}

func (q *Queue) pop() *Task {
	q.mu.Lock()
	if q.items.Len() == 0 {
		q.mu.Unlock()
		return nil
	}
	t := heap.Pop(&q.items).(*Task)
	q.inFlight++
	more := q.items.Len() > 0
	q.mu.Unlock()
	if more {
		q.signal()
	}
	return t
}

func (q *Queue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Done marks a dequeued task as finished, whatever the outcome.
func (q *Queue) Done(t *Task) {
	if t == nil {
		return
	}
	q.mu.Lock()
	if q.inFlight > 0 {
		q.inFlight--
	}
	q.mu.Unlock()
}

// ToRetry counts a failed attempt and parks t until its backoff expires.
// The delay is min(base*2^attempts, max), raised to minDelay when the
// platform asked for a longer pause. It returns false, without parking t,
// once t has no attempts left.
func (q *Queue) ToRetry(t *Task, minDelay time.Duration) bool {
	if t == nil {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if t.MaxAttempts <= 0 {
		t.MaxAttempts = q.maxAttempts
	}
	t.Attempts++
	if !t.CanRetry() {
		return false
	}
	delay := Backoff(t.Attempts, q.base, q.max)
	if minDelay > delay {
		delay = minDelay
	}
	t.NextRetryAt = q.now().Add(delay)
	q.retry = append(q.retry, t)
	return true
}

// DrainRetryReady moves every retry whose time has come back to the main
// queue and drops tasks without attempts left.
func (q *Queue) DrainRetryReady() (requeued, dropped int) {
	now := q.now()
	q.mu.Lock()
	remaining := q.retry[:0]
	for _, t := range q.retry {
		switch {
		case !t.CanRetry():
			dropped++
		case !t.NextRetryAt.After(now):
			q.seq++
			t.seq = q.seq
			heap.Push(&q.items, t)
			requeued++
		default:
			remaining = append(remaining, t)
		}
	}
	for i := len(remaining); i < len(q.retry); i++ {
		q.retry[i] = nil
	}
	q.retry = remaining
	q.mu.Unlock()
	if requeued > 0 {
		q.signal()
	}
	return requeued, dropped
}

func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Pending:  q.items.Len(),
		Retrying: len(q.retry),
		InFlight: q.inFlight,
	}
}

// Len is the number of tasks ready to be dequeued.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

type taskHeap []*Task

func (h taskHeap) Len() int           { return len(h) }
func (h taskHeap) Less(i, j int) bool { return h[i].Less(h[j]) }
func (h taskHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) {
	*h = append(*h, x.(*Task))
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}
