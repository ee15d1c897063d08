package taskqueue

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Priority orders tasks; lower values are served first.
type Priority int

const (
	PriorityHigh   Priority = 1
	PriorityNormal Priority = 2
	PriorityLow    Priority = 3
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

const DefaultMaxAttempts = 5

// Task asks a worker to collect one endpoint for one credential.
type Task struct {
	ID           string
	CredentialID uint
	Endpoint     string
	Priority     Priority
	Source       string
	CreatedAt    time.Time
	Attempts     int
	MaxAttempts  int
	NextRetryAt  time.Time

	seq uint64
}

func NewTask(credentialID uint, endpoint string, priority Priority) *Task {
	return &Task{
		ID:           uuid.NewString(),
		CredentialID: credentialID,
		Endpoint:     endpoint,
		Priority:     priority,
		CreatedAt:    time.Now().UTC(),
		MaxAttempts:  DefaultMaxAttempts,
	}
}

// Less orders by priority, then creation time, then enqueue order.
func (t *Task) Less(o *Task) bool {
	if t.Priority != o.Priority {
		return t.Priority < o.Priority
	}
	if !t.CreatedAt.Equal(o.CreatedAt) {
		return t.CreatedAt.Before(o.CreatedAt)
	}
	return t.seq < o.seq
}

// CanRetry reports whether another attempt is allowed.
func (t *Task) CanRetry() bool {
	return t.Attempts < t.MaxAttempts
}

func (t *Task) String() string {
	return fmt.Sprintf("%d:%s", t.CredentialID, t.Endpoint)
}

// Backoff returns min(base*2^attempts, max).
func Backoff(attempts int, base, max time.Duration) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	d := base
	for i := 0; i < attempts; i++ {
		d *= 2
		if d >= max || d <= 0 {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}
