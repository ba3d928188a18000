package cache_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"ctfboard/internal/common/cache"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestCache(t *testing.T) (*cache.RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rc, err := cache.NewRedisCacheWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	t.Cleanup(func() { _ = rc.Close() })
	return rc, mr
}

func TestRedisCacheBasicOps(t *testing.T) {
	ctx := context.Background()
	rc, mr := newTestCache(t)

	if v, err := rc.Get(ctx, "missing"); err != nil || v != "" {
		t.Fatalf("missing key: v=%q err=%v", v, err)
	}
	if err := rc.Set(ctx, "k", []byte("v1"), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if v, _ := rc.Get(ctx, "k"); v != "v1" {
		t.Fatalf("get = %q", v)
	}
	ok, err := rc.SetNX(ctx, "k", "v2", time.Minute)
	if err != nil || ok {
		t.Fatalf("setnx on existing key: ok=%v err=%v", ok, err)
	}
	if n, _ := rc.Exists(ctx, "k", "missing"); n != 1 {
		t.Fatalf("exists = %d", n)
	}
	if n, _ := rc.Incr(ctx, "counter"); n != 1 {
		t.Fatalf("incr = %d", n)
	}
	if err := rc.Expire(ctx, "counter", time.Second); err != nil {
		t.Fatalf("expire: %v", err)
	}
	mr.FastForward(2 * time.Second)
	if mr.Exists("counter") {
		t.Fatalf("counter should have expired")
	}
	if err := rc.Del(ctx, "k"); err != nil {
		t.Fatalf("del: %v", err)
	}
	if n, _ := rc.Exists(ctx, "k"); n != 0 {
		t.Fatalf("key still exists after del")
	}
}

func TestReadThroughCachesMissingValues(t *testing.T) {
	ctx := context.Background()
	rc, _ := newTestCache(t)

	calls := 0
	load := func(context.Context) (int, bool, error) {
		calls++
		return 0, false, nil
	}
	for i := 0; i < 2; i++ {
		_, found, err := cache.ReadThrough(ctx, rc, "game:1", cache.ReadThroughTTL{Value: time.Minute, Missing: time.Minute}, load)
		if err != nil || found {
			t.Fatalf("round %d: found=%v err=%v", i, found, err)
		}
	}
	if calls != 1 {
		t.Fatalf("load called %d times, want 1", calls)
	}
}

func TestReadThroughCachesValues(t *testing.T) {
	ctx := context.Background()
	rc, mr := newTestCache(t)

	type game struct{ Title string }
	load := func(context.Context) (game, bool, error) { return game{Title: "quals"}, true, nil }
	if _, _, err := cache.ReadThrough(ctx, rc, "game:2", cache.ReadThroughTTL{Value: time.Minute}, load); err != nil {
		t.Fatalf("first read: %v", err)
	}
	raw, err := mr.Get("game:2")
	if err != nil || raw != `{"Title":"quals"}` {
		t.Fatalf("unexpected cached value %q err=%v", raw, err)
	}

	failing := func(context.Context) (game, bool, error) { return game{}, false, errors.New("should not load") }
	got, found, err := cache.ReadThrough(ctx, rc, "game:2", cache.ReadThroughTTL{Value: time.Minute}, failing)
	if err != nil || !found || got.Title != "quals" {
		t.Fatalf("expected cached hit, got %+v found=%v err=%v", got, found, err)
	}
}

func TestRedisCachePatternSubscribe(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rc, _ := newTestCache(t)

	sub, err := rc.PSubscribe(ctx, "game:*")
	if err != nil {
		t.Fatalf("psubscribe: %v", err)
	}
	defer sub.Close()

	if err := rc.Publish(ctx, "game:7", []byte(`{"id":1}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case msg := <-sub.Messages():
		if msg.Channel != "game:7" || string(msg.Payload) != `{"id":1}` {
			t.Fatalf("unexpected message %+v", msg)
		}
	case <-ctx.Done():
		t.Fatalf("no message received")
	}
}

func TestJitterTTL(t *testing.T) {
	t.Parallel()
	ttl := 10 * time.Second
	for i := 0; i < 20; i++ {
		got := cache.JitterTTL(ttl)
		if got > ttl || got < 9*time.Second {
			t.Fatalf("jitter out of range: %v", got)
		}
	}
	if cache.JitterTTL(0) != 0 {
		t.Fatalf("zero ttl should stay zero")
	}
}
