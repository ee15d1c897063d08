package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestMemoryStore_SetNXAndExpiry(t *testing.T) {
	s := NewMemoryStore()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	ok, err := s.SetNX(ctx, "k", []byte("1"), time.Minute)
	if err != nil || !ok {
		t.Fatalf("first setnx ok=%v err=%v", ok, err)
	}
	ok, _ = s.SetNX(ctx, "k", []byte("2"), time.Minute)
	if ok {
		t.Fatalf("second setnx should be rejected")
	}
	v, found, _ := s.Get(ctx, "k")
	if !found || string(v) != "1" {
		t.Fatalf("get=%q found=%v want 1", v, found)
	}

	now = now.Add(2 * time.Minute)
	if _, found, _ := s.Get(ctx, "k"); found {
		t.Fatalf("expired key still found")
	}
	ok, _ = s.SetNX(ctx, "k", []byte("3"), time.Minute)
	if !ok {
		t.Fatalf("setnx after expiry should succeed")
	}
}

func TestMemoryStore_Delete(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_ = s.Set(ctx, "k", []byte("v"), 0)
	_ = s.Delete(ctx, "k")
	if _, found, _ := s.Get(ctx, "k"); found {
		t.Fatalf("deleted key still found")
	}
}

func TestRedisStore_PrefixAndSetNX(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	s := NewRedisStore(rdb, "mp:")
	ctx := context.Background()
	ok, err := s.SetNX(ctx, "notify:x", []byte("1"), time.Hour)
	if err != nil || !ok {
		t.Fatalf("setnx ok=%v err=%v", ok, err)
	}
	if !mr.Exists("mp:notify:x") {
		t.Fatalf("expected prefixed key in redis")
	}
	ok, _ = s.SetNX(ctx, "notify:x", []byte("1"), time.Hour)
	if ok {
		t.Fatalf("duplicate setnx should be rejected")
	}

	mr.FastForward(2 * time.Hour)
	if _, found, _ := s.Get(ctx, "notify:x"); found {
		t.Fatalf("key should have expired")
	}
	if err := s.Set(ctx, "a", []byte("b"), 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	v, found, err := s.Get(ctx, "a")
	if err != nil || !found || string(v) != "b" {
		t.Fatalf("get=%q found=%v err=%v", v, found, err)
	}
}
