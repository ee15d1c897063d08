package ratelimit

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestMemorySpacer_FirstPermitImmediate(t *testing.T) {
	s := NewMemorySpacer()
	start := time.Now()
	if err := s.Wait(context.Background(), Key("ozon", 1), time.Second); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Fatalf("first permit waited %v", elapsed)
	}
}

func TestMemorySpacer_SpacingAcrossCallers(t *testing.T) {
	s := NewMemorySpacer()
	const interval = 60 * time.Millisecond
	key := Key("wildberries", 7)

	var (
		mu    sync.Mutex
		times []time.Time
		wg    sync.WaitGroup
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Wait(context.Background(), key, interval); err != nil {
				t.Errorf("wait: %v", err)
				return
			}
			mu.Lock()
			times = append(times, time.Now())
			mu.Unlock()
		}()
	}
	wg.Wait()

	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
	for i := 1; i < len(times); i++ {
		if gap := times[i].Sub(times[i-1]); gap < interval-10*time.Millisecond {
			t.Fatalf("gap %d=%v want >= %v", i, gap, interval)
		}
	}
}

func TestMemorySpacer_KeysAreIndependent(t *testing.T) {
	s := NewMemorySpacer()
	ctx := context.Background()
	if err := s.Wait(ctx, Key("ozon", 1), time.Hour); err != nil {
		t.Fatalf("wait: %v", err)
	}
	start := time.Now()
	if err := s.Wait(ctx, Key("ozon", 2), time.Hour); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Fatalf("second credential was throttled by the first")
	}
}

func TestMemorySpacer_ContextCancel(t *testing.T) {
	s := NewMemorySpacer()
	key := Key("wildberries", 3)
	if err := s.Wait(context.Background(), key, time.Hour); err != nil {
		t.Fatalf("warm wait: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := s.Wait(ctx, key, time.Hour)
	if !errors.Is(err, ErrRateLimitTimeout) {
		t.Fatalf("err=%v want ErrRateLimitTimeout", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err=%v want wrapped DeadlineExceeded", err)
	}
}

func TestMemorySpacer_AbandonedWaitReturnsSlot(t *testing.T) {
	s := NewMemorySpacer()
	const interval = 200 * time.Millisecond
	key := Key("ozon", 4)
	start := time.Now()
	if err := s.Wait(context.Background(), key, interval); err != nil {
		t.Fatalf("warm wait: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	if err := s.Wait(ctx, key, interval); !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v want wrapped Canceled", err)
	}

	if err := s.Wait(context.Background(), key, interval); err != nil {
		t.Fatalf("wait: %v", err)
	}
	elapsed := time.Since(start)
	if elapsed < interval-20*time.Millisecond {
		t.Fatalf("third permit after %v, want >= %v", elapsed, interval)
	}
	if elapsed > interval+120*time.Millisecond {
		t.Fatalf("third permit after %v: cancelled wait kept its slot", elapsed)
	}
}

func TestMemorySpacer_Forget(t *testing.T) {
	s := NewMemorySpacer()
	key := Key("wildberries", 5)
	if err := s.Wait(context.Background(), key, time.Hour); err != nil {
		t.Fatalf("warm wait: %v", err)
	}
	s.Forget(key)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := s.Wait(ctx, key, time.Hour); err != nil {
		t.Fatalf("forgotten key still throttled: %v", err)
	}
}

func TestRedisSpacer_BlocksSecondPermit(t *testing.T) {
	rdb := newMiniRedis(t)
	defer closeRedis(t, rdb)

	s := NewRedisSpacer(rdb, "test:")
	key := Key("ozon", 9)
	if err := s.Wait(context.Background(), key, 100*time.Millisecond); err != nil {
		t.Fatalf("warm wait: %v", err)
	}
	start := time.Now()
	if err := s.Wait(context.Background(), key, 100*time.Millisecond); err != nil {
		t.Fatalf("blocked wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Fatalf("expected blocking, elapsed=%v", elapsed)
	}
}

func TestRedisSpacer_SharedBetweenInstances(t *testing.T) {
	rdb := newMiniRedis(t)
	defer closeRedis(t, rdb)

	a := NewRedisSpacer(rdb, "test:")
	b := NewRedisSpacer(rdb, "test:")
	key := Key("wildberries", 1)
	if err := a.Wait(context.Background(), key, time.Hour); err != nil {
		t.Fatalf("warm wait: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := b.Wait(ctx, key, time.Hour); !errors.Is(err, ErrRateLimitTimeout) {
		t.Fatalf("err=%v want ErrRateLimitTimeout from second instance", err)
	}
}

func newMiniRedis(t *testing.T) *redis.Client {
	t.Helper()
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(s.Close)
	return redis.NewClient(&redis.Options{Addr: s.Addr()})
}

func closeRedis(t *testing.T, rdb *redis.Client) {
	t.Helper()
	if err := rdb.Close(); err != nil {
		t.Fatalf("close redis: %v", err)
	}
}
