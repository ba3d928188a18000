package service_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ctfboard/internal/common/cache"
	"ctfboard/internal/game/model"
	"ctfboard/internal/scoreboard/service"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
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

// countingBuilder returns a new snapshot per call. When gate is set, every
// call waits for it to be closed after signalling started.
type countingBuilder struct {
	clock   *fakeClock
	calls   atomic.Int32
	gate    chan struct{}
	started chan struct{}
	err     error
}

func (b *countingBuilder) Build(ctx context.Context, gameID int64) (*model.ScoreboardSnapshot, error) {
	n := b.calls.Add(1)
	if b.started != nil {
		b.started <- struct{}{}
	}
	if b.gate != nil {
		<-b.gate
	}
	if b.err != nil {
		return nil, b.err
	}
	return &model.ScoreboardSnapshot{
		GameID:        gameID,
		Version:       int64(n),
		UpdateTimeUtc: b.clock.Now(),
		StartTimeUtc:  t0,
		EndTimeUtc:    t0.Add(time.Hour),
	}, nil
}

func newManager(t *testing.T, builder *countingBuilder, shared cache.Cache) *service.CacheManager {
	t.Helper()
	m, err := service.NewCacheManager(builder, shared, nil, service.CacheConfig{RefreshInterval: 30 * time.Second}, builder.clock.Now)
	if err != nil {
		t.Fatalf("new cache manager: %v", err)
	}
	return m
}

func TestCacheManagerServesLocalUntilInvalidated(t *testing.T) {
	t.Parallel()
	clock := &fakeClock{now: t0.Add(time.Minute)}
	builder := &countingBuilder{clock: clock}
	m := newManager(t, builder, nil)
	ctx := context.Background()

	first, err := m.Get(ctx, 1)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	again, _ := m.Get(ctx, 1)
	if again != first || builder.calls.Load() != 1 {
		t.Fatalf("expected cached snapshot, builds=%d", builder.calls.Load())
	}
	if !m.IsFresh(1) {
		t.Fatalf("expected fresh entry")
	}

	_ = m.Invalidate(ctx, 1)
	_ = m.Invalidate(ctx, 1)
	if m.IsFresh(1) {
		t.Fatalf("expected stale entry after invalidation")
	}
	rebuilt, _ := m.Get(ctx, 1)
	if rebuilt == first || builder.calls.Load() != 2 {
		t.Fatalf("expected one rebuild after two invalidations, builds=%d", builder.calls.Load())
	}
}

func TestCacheManagerSingleFlight(t *testing.T) {
	t.Parallel()
	clock := &fakeClock{now: t0.Add(time.Minute)}
	builder := &countingBuilder{clock: clock, gate: make(chan struct{}), started: make(chan struct{}, 16)}
	m := newManager(t, builder, nil)

	const callers = 12
	results := make([]*model.ScoreboardSnapshot, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			snap, err := m.Get(context.Background(), 1)
			if err != nil {
				t.Errorf("get failed: %v", err)
				return
			}
			results[i] = snap
		}(i)
	}
	<-builder.started
	time.Sleep(20 * time.Millisecond)
	close(builder.gate)
	wg.Wait()

	if builder.calls.Load() != 1 {
		t.Fatalf("expected one rebuild, got %d", builder.calls.Load())
	}
	for i := 1; i < callers; i++ {
		if results[i] != results[0] {
			t.Fatalf("caller %d got a different snapshot", i)
		}
	}
}

func TestCacheManagerInvalidationDuringRebuild(t *testing.T) {
	t.Parallel()
	clock := &fakeClock{now: t0.Add(time.Minute)}
	builder := &countingBuilder{clock: clock, gate: make(chan struct{}), started: make(chan struct{}, 4)}
	m := newManager(t, builder, nil)
	ctx := context.Background()

	var early *model.ScoreboardSnapshot
	done := make(chan struct{})
	go func() {
		defer close(done)
		early, _ = m.Get(ctx, 1)
	}()
	<-builder.started

	if err := m.Invalidate(ctx, 1); err != nil {
		t.Fatalf("invalidate failed: %v", err)
	}
	var late *model.ScoreboardSnapshot
	lateDone := make(chan struct{})
	go func() {
		defer close(lateDone)
		late, _ = m.Get(ctx, 1)
	}()
	<-builder.started
	close(builder.gate)
	<-done
	<-lateDone

	if builder.calls.Load() != 2 {
		t.Fatalf("caller after invalidation must not join the old flight, builds=%d", builder.calls.Load())
	}
	if early == nil || late == nil || early == late {
		t.Fatalf("expected distinct snapshots")
	}
	current, _ := m.Get(ctx, 1)
	if current != late {
		t.Fatalf("older flight result must not be installed")
	}
}

func TestCacheManagerRebuildErrorIsNotCached(t *testing.T) {
	t.Parallel()
	clock := &fakeClock{now: t0.Add(time.Minute)}
	builder := &countingBuilder{clock: clock, err: errors.New("db down")}
	m := newManager(t, builder, nil)

	if _, err := m.Get(context.Background(), 1); err == nil {
		t.Fatalf("expected rebuild error")
	}
	builder.err = nil
	if _, err := m.Get(context.Background(), 1); err != nil {
		t.Fatalf("expected recovery, got %v", err)
	}
	if builder.calls.Load() != 2 {
		t.Fatalf("expected two builds, got %d", builder.calls.Load())
	}
}

func TestCacheManagerForcedRefreshWhileRunning(t *testing.T) {
	t.Parallel()
	clock := &fakeClock{now: t0.Add(time.Minute)}
	builder := &countingBuilder{clock: clock}
	m := newManager(t, builder, nil)
	ctx := context.Background()

	_, _ = m.Get(ctx, 1)
	clock.Advance(29 * time.Second)
	_, _ = m.Get(ctx, 1)
	if builder.calls.Load() != 1 {
		t.Fatalf("expected cached snapshot within refresh interval")
	}
	clock.Advance(time.Second)
	_, _ = m.Get(ctx, 1)
	if builder.calls.Load() != 2 {
		t.Fatalf("expected forced refresh, builds=%d", builder.calls.Load())
	}

	// The first read after the end rebuilds once; later reads only change on invalidation.
	clock.Advance(2 * time.Hour)
	_, _ = m.Get(ctx, 1)
	if builder.calls.Load() != 3 {
		t.Fatalf("expected final rebuild after the end, builds=%d", builder.calls.Load())
	}
	clock.Advance(time.Hour)
	_, _ = m.Get(ctx, 1)
	if builder.calls.Load() != 3 {
		t.Fatalf("ended game must not refresh on time")
	}
}

func TestCacheManagerSnapshotBuiltBeforeStartIsReplaced(t *testing.T) {
	t.Parallel()
	clock := &fakeClock{now: t0.Add(-time.Hour)}
	builder := &countingBuilder{clock: clock}
	m := newManager(t, builder, nil)
	ctx := context.Background()

	if err := m.Bootstrap(ctx, 1); err != nil {
		t.Fatalf("bootstrap failed: %v", err)
	}
	if err := m.Bootstrap(ctx, 1); err != nil {
		t.Fatalf("bootstrap failed: %v", err)
	}
	if builder.calls.Load() != 1 {
		t.Fatalf("bootstrap with fresh entry must be a no-op, builds=%d", builder.calls.Load())
	}
	clock.Advance(time.Hour + time.Second)
	_, _ = m.Get(ctx, 1)
	if builder.calls.Load() != 2 {
		t.Fatalf("expected rebuild once the game started, builds=%d", builder.calls.Load())
	}
}

func TestCacheManagerSharedTier(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	shared, err := cache.NewRedisCacheWithClient(client)
	if err != nil {
		t.Fatalf("new redis cache: %v", err)
	}
	ctx := context.Background()
	clock := &fakeClock{now: t0.Add(time.Minute)}

	builderA := &countingBuilder{clock: clock}
	a := newManager(t, builderA, shared)
	built, err := a.Get(ctx, 1)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !mr.Exists("_ScoreBoard_1") {
		t.Fatalf("expected shared copy to be written")
	}

	builderB := &countingBuilder{clock: clock}
	b := newManager(t, builderB, shared)
	loaded, err := b.Get(ctx, 1)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if builderB.calls.Load() != 0 || loaded.Version != built.Version {
		t.Fatalf("expected second instance to load the shared copy")
	}
	if err := b.Bootstrap(ctx, 1); err != nil || builderB.calls.Load() != 0 {
		t.Fatalf("bootstrap must not rebuild")
	}

	if err := a.Invalidate(ctx, 1); err != nil {
		t.Fatalf("invalidate failed: %v", err)
	}
	if mr.Exists("_ScoreBoard_1") {
		t.Fatalf("expected shared copy to be deleted")
	}
}

// racingCache runs beforeSet once ahead of the first Set, the way a
// concurrent Invalidate would land while a rebuild publishes its copy.
type racingCache struct {
	*cache.RedisCache
	once      sync.Once
	beforeSet func()
}

func (c *racingCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	c.once.Do(func() {
		if c.beforeSet != nil {
			c.beforeSet()
		}
	})
	return c.RedisCache.Set(ctx, key, value, ttl)
}

func newSharedCache(t *testing.T) (*cache.RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	shared, err := cache.NewRedisCacheWithClient(client)
	if err != nil {
		t.Fatalf("new redis cache: %v", err)
	}
	return shared, mr
}

func TestCacheManagerInvalidationDuringSharedWrite(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	shared, mr := newSharedCache(t)
	clock := &fakeClock{now: t0.Add(time.Minute)}
	builder := &countingBuilder{clock: clock}
	racing := &racingCache{RedisCache: shared}
	m := newManager(t, builder, racing)
	racing.beforeSet = func() {
		if err := m.Invalidate(ctx, 1); err != nil {
			t.Errorf("invalidate failed: %v", err)
		}
	}

	first, err := m.Get(ctx, 1)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if mr.Exists("_ScoreBoard_1") {
		t.Fatalf("copy written by a superseded rebuild must be removed")
	}

	second, err := m.Get(ctx, 1)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if builder.calls.Load() != 2 || second.Version == first.Version {
		t.Fatalf("expected a rebuild after invalidation, builds=%d", builder.calls.Load())
	}
}

func TestCacheManagerIgnoresSharedCopyOlderThanInvalidation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	shared, _ := newSharedCache(t)
	clock := &fakeClock{now: t0.Add(time.Minute)}

	builderA := &countingBuilder{clock: clock}
	a := newManager(t, builderA, shared)
	if err := a.Invalidate(ctx, 1); err != nil {
		t.Fatalf("invalidate failed: %v", err)
	}

	// another instance publishes a snapshot it built before the invalidation
	late := &fakeClock{now: t0.Add(50 * time.Second)}
	builderB := &countingBuilder{clock: late}
	b, err := service.NewCacheManager(builderB, shared, nil, service.CacheConfig{RefreshInterval: time.Hour}, clock.Now)
	if err != nil {
		t.Fatalf("new cache manager: %v", err)
	}
	if _, err := b.Get(ctx, 1); err != nil {
		t.Fatalf("get failed: %v", err)
	}

	got, err := a.Get(ctx, 1)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if builderA.calls.Load() != 1 || !got.UpdateTimeUtc.Equal(clock.Now()) {
		t.Fatalf("stale shared copy was served, builds=%d updated=%v", builderA.calls.Load(), got.UpdateTimeUtc)
	}
}
