package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"marketplacer/internal/metrics"
)

var ErrRateLimitTimeout = errors.New("rate limit wait timeout")

// Spacer keeps at least interval between two permits for the same key,
// across every caller that shares the Spacer. The first permit for a key
// is granted immediately.
type Spacer interface {
	Wait(ctx context.Context, key string, interval time.Duration) error
}

// Key returns the spacing key of one marketplace credential.
func Key(marketplace string, credentialID uint) string {
	return marketplace + ":" + strconv.FormatUint(uint64(credentialID), 10)
}

// Forgetter drops the spacing state of a key that is no longer used.
type Forgetter interface {
	Forget(key string)
}

// MemorySpacer keeps one limiter per key with a burst of one, so a key
// gets one permit per interval. A wait that gives up hands its
// reservation back.
type MemorySpacer struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewMemorySpacer() *MemorySpacer {
	return &MemorySpacer{limiters: make(map[string]*rate.Limiter)}
}

func (s *MemorySpacer) Wait(ctx context.Context, key string, interval time.Duration) error {
	if s == nil || interval <= 0 {
		return nil
	}
	lim := s.limiter(key, interval)
	start := time.Now()
	err := lim.Wait(ctx)
	metrics.RateLimitWaitDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRateLimitTimeout, waitCause(ctx, err))
	}
	return nil
}

func (s *MemorySpacer) limiter(key string, interval time.Duration) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	every := rate.Every(interval)
	lim, ok := s.limiters[key]
	if !ok {
		lim = rate.NewLimiter(every, 1)
		s.limiters[key] = lim
	} else if lim.Limit() != every {
		lim.SetLimit(every)
	}
	return lim
}

// Forget drops the limiter of key.
func (s *MemorySpacer) Forget(key string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	delete(s.limiters, key)
	s.mu.Unlock()
}

// waitCause maps a limiter error to the context error behind it. The
// limiter refuses up front, without a context error, when the wait would
// outlive the deadline.
func waitCause(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if _, ok := ctx.Deadline(); ok {
		return context.DeadlineExceeded
	}
	return err
}

const reserveSlotLua = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local interval = tonumber(ARGV[2])

local nextSlot = tonumber(redis.call("GET", key))
local slot = now
if nextSlot ~= nil and nextSlot > now then
  slot = nextSlot
end

redis.call("SET", key, slot + interval, "PX", (slot - now) + interval * 2)
return slot - now
`

// RedisSpacer reserves slots in Redis so several collector processes can
// share one credential budget.
type RedisSpacer struct {
	rdb    *redis.Client
	prefix string
	script *redis.Script
	now    func() time.Time
}

func NewRedisSpacer(rdb *redis.Client, prefix string) *RedisSpacer {
	if prefix == "" {
		prefix = "marketplacer:"
	}
	return &RedisSpacer{
		rdb:    rdb,
		prefix: prefix + "ratelimit:",
		script: redis.NewScript(reserveSlotLua),
		now:    time.Now,
	}
}

func (s *RedisSpacer) Wait(ctx context.Context, key string, interval time.Duration) error {
	if s == nil || s.rdb == nil || interval <= 0 {
		return nil
	}
	now := s.now().UnixMilli()
	res, err := s.script.Run(ctx, s.rdb, []string{s.prefix + key}, now, interval.Milliseconds()).Result()
	if err != nil {
		return fmt.Errorf("ratelimit eval: %w", err)
	}
	waitMs := toInt64(res)
	return sleepUntil(ctx, time.Duration(waitMs)*time.Millisecond)
}

func sleepUntil(ctx context.Context, wait time.Duration) error {
	start := time.Now()
	if wait <= 0 {
		metrics.RateLimitWaitDuration.Observe(0)
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", ErrRateLimitTimeout, err)
		}
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		metrics.RateLimitWaitDuration.Observe(time.Since(start).Seconds())
		return fmt.Errorf("%w: %w", ErrRateLimitTimeout, ctx.Err())
	case <-timer.C:
		metrics.RateLimitWaitDuration.Observe(time.Since(start).Seconds())
		return nil
	}
}

func toInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	case string:
		if t == "" {
			return 0
		}
		if parsed, err := strconv.ParseInt(t, 10, 64); err == nil {
			return parsed
		}
	}
	return 0
}
