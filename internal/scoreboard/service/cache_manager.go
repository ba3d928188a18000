package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"ctfboard/internal/common/cache"
	"ctfboard/internal/common/metrics"
	"ctfboard/internal/game/model"
	appErr "ctfboard/pkg/errors"
	"ctfboard/pkg/utils/logger"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	scoreboardKeyPrefix    = "_ScoreBoard_"
	defaultRefreshInterval = 30 * time.Second
	defaultSnapshotTTL     = 10 * time.Minute
	defaultBuildTimeout    = 30 * time.Second
)

// CacheConfig tunes the scoreboard cache.
type CacheConfig struct {
	// RefreshInterval bounds the age of a snapshot while its game is running.
	RefreshInterval time.Duration `yaml:"refreshInterval"`
	// SnapshotTTL is the lifetime of the shared copy.
	SnapshotTTL  time.Duration `yaml:"snapshotTTL"`
	BuildTimeout time.Duration `yaml:"buildTimeout"`
	Timeout      time.Duration `yaml:"timeout"`
}

type cacheEntry struct {
	snapshot   *model.ScoreboardSnapshot
	generation uint64
}

// CacheManager keeps one snapshot per game in process and a zstd-compressed
// copy in the shared cache. Each Invalidate bumps the game's generation; an
// entry is served only while its generation is current, and concurrent
// misses of one generation share a single rebuild.
type CacheManager struct {
	builder SnapshotBuilder
	shared  cache.Cache
	metrics *metrics.Metrics
	cfg     CacheConfig
	now     func() time.Time

	flights singleflight.Group
	encoder *zstd.Encoder
	decoder *zstd.Decoder

	mu            sync.Mutex
	entries       map[int64]*cacheEntry
	generations   map[int64]uint64
	// invalidatedAt is the local time of the last Invalidate; shared copies
	// built at or before it are ignored.
	invalidatedAt map[int64]time.Time
}

// NewCacheManager creates a cache manager. shared may be nil for a single instance.
func NewCacheManager(builder SnapshotBuilder, shared cache.Cache, m *metrics.Metrics, cfg CacheConfig, now func() time.Time) (*CacheManager, error) {
	if builder == nil {
		return nil, fmt.Errorf("snapshot builder is required")
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = defaultRefreshInterval
	}
	if cfg.SnapshotTTL <= 0 {
		cfg.SnapshotTTL = defaultSnapshotTTL
	}
	if cfg.BuildTimeout <= 0 {
		cfg.BuildTimeout = defaultBuildTimeout
	}
	if now == nil {
		now = time.Now
	}
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder failed: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder failed: %w", err)
	}
	return &CacheManager{
		builder:       builder,
		shared:        shared,
		metrics:       m,
		cfg:           cfg,
		now:           now,
		encoder:       encoder,
		decoder:       decoder,
		entries:       make(map[int64]*cacheEntry),
		generations:   make(map[int64]uint64),
		invalidatedAt: make(map[int64]time.Time),
	}, nil
}

// Get returns the current snapshot of a game, rebuilding it when needed.
// The returned snapshot is shared and must not be modified.
func (m *CacheManager) Get(ctx context.Context, gameID int64) (*model.ScoreboardSnapshot, error) {
	m.mu.Lock()
	generation := m.generations[gameID]
	entry := m.entries[gameID]
	m.mu.Unlock()

	if entry != nil && entry.generation == generation && !m.expired(entry.snapshot) {
		m.metrics.CacheLookup(metrics.LookupLocalHit)
		return entry.snapshot, nil
	}

	key := fmt.Sprintf("%d:%d", gameID, generation)
	v, err, _ := m.flights.Do(key, func() (any, error) {
		return m.load(ctx, gameID, generation)
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.ScoreboardSnapshot), nil
}

// Invalidate marks the game's snapshot stale and drops the shared copy.
func (m *CacheManager) Invalidate(ctx context.Context, gameID int64) error {
	m.mu.Lock()
	m.generations[gameID]++
	m.invalidatedAt[gameID] = m.now()
	m.mu.Unlock()

	if m.shared == nil {
		return nil
	}
	ctxCache, cancel := m.cacheContext(ctx)
	defer cancel()
	if err := m.shared.Del(ctxCache, scoreboardKey(gameID)); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "delete shared scoreboard of game %d", gameID)
	}
	return nil
}

// IsFresh reports whether a current local snapshot exists.
func (m *CacheManager) IsFresh(gameID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry := m.entries[gameID]
	return entry != nil && entry.generation == m.generations[gameID] && !m.expired(entry.snapshot)
}

// Bootstrap warms the cache of a game. It does nothing when a fresh local
// snapshot or a shared copy already exists.
func (m *CacheManager) Bootstrap(ctx context.Context, gameID int64) error {
	if m.IsFresh(gameID) {
		return nil
	}
	if m.shared != nil {
		ctxCache, cancel := m.cacheContext(ctx)
		n, err := m.shared.Exists(ctxCache, scoreboardKey(gameID))
		cancel()
		if err == nil && n > 0 {
			return nil
		}
	}
	_, err := m.Get(ctx, gameID)
	return err
}

// load runs once per (game, generation) flight.
func (m *CacheManager) load(ctx context.Context, gameID int64, generation uint64) (*model.ScoreboardSnapshot, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.BuildTimeout)
	defer cancel()

	if snapshot := m.readShared(ctx, gameID); snapshot != nil {
		m.metrics.CacheLookup(metrics.LookupRemoteHit)
		m.install(gameID, generation, snapshot)
		return snapshot, nil
	}
	m.metrics.CacheLookup(metrics.LookupMiss)

	start := time.Now()
	snapshot, err := m.builder.Build(ctx, gameID)
	m.metrics.Rebuild(err, time.Since(start))
	if err != nil {
		logger.Error(ctx, "scoreboard rebuild failed", zap.Int64("game_id", gameID), zap.Error(err))
		return nil, err
	}
	if m.install(gameID, generation, snapshot) {
		m.writeShared(ctx, gameID, generation, snapshot)
	}
	return snapshot, nil
}

// install stores snapshot unless the game was invalidated after generation was read.
func (m *CacheManager) install(gameID int64, generation uint64, snapshot *model.ScoreboardSnapshot) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.generations[gameID] != generation {
		return false
	}
	m.entries[gameID] = &cacheEntry{snapshot: snapshot, generation: generation}
	return true
}

// expired reports whether snapshot must be rebuilt regardless of invalidation:
// the game started or ended after it was built, or the game is running and
// the snapshot is older than the refresh interval.
func (m *CacheManager) expired(snapshot *model.ScoreboardSnapshot) bool {
	now := m.now()
	built := snapshot.UpdateTimeUtc
	if crossed(built, now, snapshot.StartTimeUtc) || crossed(built, now, snapshot.EndTimeUtc) {
		return true
	}
	running := !now.Before(snapshot.StartTimeUtc) && now.Before(snapshot.EndTimeUtc)
	return running && now.Sub(built) >= m.cfg.RefreshInterval
}

func (m *CacheManager) predatesInvalidation(gameID int64, snapshot *model.ScoreboardSnapshot) bool {
	m.mu.Lock()
	stamp, ok := m.invalidatedAt[gameID]
	m.mu.Unlock()
	return ok && !snapshot.UpdateTimeUtc.After(stamp)
}

func crossed(built, now, boundary time.Time) bool {
	return built.Before(boundary) && !now.Before(boundary)
}

func (m *CacheManager) readShared(ctx context.Context, gameID int64) *model.ScoreboardSnapshot {
	if m.shared == nil {
		return nil
	}
	ctxCache, cancel := m.cacheContext(ctx)
	defer cancel()
	raw, err := m.shared.Get(ctxCache, scoreboardKey(gameID))
	if err != nil {
		logger.Warn(ctx, "read shared scoreboard failed", zap.Int64("game_id", gameID), zap.Error(err))
		return nil
	}
	if raw == "" {
		return nil
	}
	data, err := m.decoder.DecodeAll([]byte(raw), nil)
	if err != nil {
		logger.Warn(ctx, "decode shared scoreboard failed", zap.Int64("game_id", gameID), zap.Error(err))
		return nil
	}
	var snapshot model.ScoreboardSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		logger.Warn(ctx, "unmarshal shared scoreboard failed", zap.Int64("game_id", gameID), zap.Error(err))
		return nil
	}
	if m.expired(&snapshot) || m.predatesInvalidation(gameID, &snapshot) {
		return nil
	}
	return &snapshot
}

// current reports whether generation is still the game's generation.
func (m *CacheManager) current(gameID int64, generation uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generations[gameID] == generation
}

// writeShared stores snapshot for other instances. An Invalidate that lands
// while the write is in flight removes the copy again.
func (m *CacheManager) writeShared(ctx context.Context, gameID int64, generation uint64, snapshot *model.ScoreboardSnapshot) {
	if m.shared == nil {
		return
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		logger.Warn(ctx, "marshal scoreboard failed", zap.Int64("game_id", gameID), zap.Error(err))
		return
	}
	ctxCache, cancel := m.cacheContext(ctx)
	defer cancel()
	compressed := m.encoder.EncodeAll(data, nil)
	if err := m.shared.Set(ctxCache, scoreboardKey(gameID), compressed, cache.JitterTTL(m.cfg.SnapshotTTL)); err != nil {
		logger.Warn(ctx, "write shared scoreboard failed", zap.Int64("game_id", gameID), zap.Error(err))
		return
	}
	if m.current(gameID, generation) {
		return
	}
	if err := m.shared.Del(ctxCache, scoreboardKey(gameID)); err != nil {
		logger.Warn(ctx, "drop superseded shared scoreboard failed", zap.Int64("game_id", gameID), zap.Error(err))
	}
}

func (m *CacheManager) cacheContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.cfg.Timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, m.cfg.Timeout)
}

func scoreboardKey(gameID int64) string {
	return fmt.Sprintf("%s%d", scoreboardKeyPrefix, gameID)
}
