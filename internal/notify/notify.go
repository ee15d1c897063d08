package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"marketplacer/internal/cache"
	"marketplacer/internal/metrics"
)

const (
	KindSchemaError = "schema_error"
	KindNewFields   = "new_fields"
	KindTaskFailed  = "task_failed"
)

// Message is one operator alert.
type Message struct {
	Kind    string
	Level   string
	Subject string
	Body    string
	Details map[string]any
}

func (m Message) Text() string {
	if m.Subject == "" {
		return m.Body
	}
	if m.Body == "" {
		return m.Subject
	}
	return m.Subject + "\n" + m.Body
}

// Sender delivers a message on one channel.
type Sender interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// Notifier fans alerts out to every sender, at most once per dedup key and
// TTL window.
type Notifier struct {
	Senders []Sender
	Cache   cache.Store
	TTL     time.Duration
	Logger  *zap.Logger
}

// SchemaError reports a response whose required fields are missing.
func (n *Notifier) SchemaError(ctx context.Context, marketplace, api string, err error) {
	if err == nil {
		return
	}
	text := truncate(err.Error(), 100)
	n.notify(ctx, marketplace+":"+api+":error:"+text, Message{
		Kind:    KindSchemaError,
		Level:   "error",
		Subject: fmt.Sprintf("[%s] %s: response schema changed", marketplace, api),
		Body:    err.Error(),
		Details: map[string]any{"marketplace": marketplace, "api": api, "error": err.Error()},
	})
}

// NewFields reports fields the collector does not decode yet.
func (n *Notifier) NewFields(ctx context.Context, marketplace, api string, fields []string) {
	if len(fields) == 0 {
		return
	}
	joined := strings.Join(fields, ",")
	n.notify(ctx, marketplace+":"+api+":fields:"+joined, Message{
		Kind:    KindNewFields,
		Level:   "warn",
		Subject: fmt.Sprintf("[%s] %s: new fields in response", marketplace, api),
		Body:    joined,
		Details: map[string]any{"marketplace": marketplace, "api": api, "fields": fields},
	})
}

// TaskFailed reports a task that ended without data: a permanent error or
// an exhausted retry budget.
func (n *Notifier) TaskFailed(ctx context.Context, marketplace string, credentialID uint, endpoint string, attempts int, err error) {
	if err == nil {
		return
	}
	text := truncate(err.Error(), 100)
	key := fmt.Sprintf("%s:%d:%s:error:%s", marketplace, credentialID, endpoint, text)
	n.notify(ctx, key, Message{
		Kind:    KindTaskFailed,
		Level:   "error",
		Subject: fmt.Sprintf("[%s] token %d: %s failed after %d attempt(s)", marketplace, credentialID, endpoint, attempts),
		Body:    err.Error(),
		Details: map[string]any{
			"marketplace":   marketplace,
			"credential_id": credentialID,
			"endpoint":      endpoint,
			"attempts":      attempts,
			"error":         err.Error(),
		},
	})
}

func (n *Notifier) notify(ctx context.Context, key string, msg Message) {
	if n == nil || len(n.Senders) == 0 {
		return
	}
	if n.Cache != nil {
		ttl := n.TTL
		if ttl <= 0 {
			ttl = 24 * time.Hour
		}
		fresh, err := n.Cache.SetNX(ctx, "notify:"+key, []byte("1"), ttl)
		if err != nil {
			n.logger().Warn("notify dedup failed", zap.String("key", key), zap.Error(err))
		} else if !fresh {
			metrics.NotificationsTotal.WithLabelValues(msg.Kind, "deduped").Inc()
			return
		}
	}
	var errs []error
	for _, s := range n.Senders {
		if err := s.Send(ctx, msg); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			metrics.NotificationsTotal.WithLabelValues(msg.Kind, "error").Inc()
			continue
		}
		metrics.NotificationsTotal.WithLabelValues(msg.Kind, "sent").Inc()
	}
	if err := errors.Join(errs...); err != nil {
		n.logger().Warn("notify send failed", zap.String("kind", msg.Kind), zap.Error(err))
	}
}

func (n *Notifier) logger() *zap.Logger {
	if n.Logger == nil {
		return zap.NewNop()
	}
	return n.Logger
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
