package repository

import (
	"context"
	"errors"
	"time"

	"ctfboard/internal/common/cache"
	"ctfboard/internal/common/db"
	"ctfboard/internal/game/model"
)

const (
	defaultGameCacheTTL      = 10 * time.Minute
	defaultGameCacheEmptyTTL = time.Minute
	gameCacheKeyPrefix       = "game:"
)

// GameRepository reads game metadata.
type GameRepository interface {
	Get(ctx context.Context, gameID int64) (*model.Game, error)
	// ListAll returns every game, needed by the lifecycle scheduler.
	ListAll(ctx context.Context) ([]*model.Game, error)
	// ListUpcoming returns games whose start time is after now.
	ListUpcoming(ctx context.Context, now time.Time) ([]*model.Game, error)
}

// MySQLGameRepository implements GameRepository with MySQL and an optional cache.
type MySQLGameRepository struct {
	db       db.Database
	cache    cache.Cache
	ttl      time.Duration
	emptyTTL time.Duration
}

// NewGameRepository creates a game repository. cacheClient may be nil.
func NewGameRepository(database db.Database, cacheClient cache.Cache) *MySQLGameRepository {
	return &MySQLGameRepository{
		db:       database,
		cache:    cacheClient,
		ttl:      defaultGameCacheTTL,
		emptyTTL: defaultGameCacheEmptyTTL,
	}
}

const gameColumns = "id, title, hidden, start_time_utc, end_time_utc"

// Get returns a game by id, reading through the cache.
func (r *MySQLGameRepository) Get(ctx context.Context, gameID int64) (*model.Game, error) {
	if gameID <= 0 {
		return nil, ErrGameNotFound
	}
	if r.cache == nil {
		return r.getFromDB(ctx, gameID)
	}
	game, found, err := cache.ReadThrough(ctx, r.cache, gameCacheKey(gameID),
		cache.ReadThroughTTL{Value: r.ttl, Missing: r.emptyTTL},
		func(ctx context.Context) (*model.Game, bool, error) {
			g, err := r.getFromDB(ctx, gameID)
			if errors.Is(err, ErrGameNotFound) {
				return nil, false, nil
			}
			return g, err == nil, err
		},
	)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrGameNotFound
	}
	return game, nil
}

// ListAll returns all games ordered by id.
func (r *MySQLGameRepository) ListAll(ctx context.Context) ([]*model.Game, error) {
	return r.list(ctx, "SELECT "+gameColumns+" FROM games ORDER BY id")
}

// ListUpcoming returns games that have not started at now.
func (r *MySQLGameRepository) ListUpcoming(ctx context.Context, now time.Time) ([]*model.Game, error) {
	return r.list(ctx, "SELECT "+gameColumns+" FROM games WHERE start_time_utc > ? ORDER BY id", now.UTC())
}

func (r *MySQLGameRepository) list(ctx context.Context, query string, args ...any) ([]*model.Game, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var games []*model.Game
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			return nil, err
		}
		games = append(games, g)
	}
	return games, rows.Err()
}

func (r *MySQLGameRepository) getFromDB(ctx context.Context, gameID int64) (*model.Game, error) {
	row := r.db.QueryRow(ctx, "SELECT "+gameColumns+" FROM games WHERE id = ? LIMIT 1", gameID)
	g, err := scanGame(row)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrGameNotFound
		}
		return nil, err
	}
	return g, nil
}

func scanGame(row db.Row) (*model.Game, error) {
	g := &model.Game{}
	if err := row.Scan(&g.ID, &g.Title, &g.Hidden, &g.StartTimeUtc, &g.EndTimeUtc); err != nil {
		return nil, err
	}
	g.StartTimeUtc = g.StartTimeUtc.UTC()
	g.EndTimeUtc = g.EndTimeUtc.UTC()
	return g, nil
}

func gameCacheKey(gameID int64) string {
	return gameCacheKeyPrefix + itoa(gameID)
}

var _ GameRepository = (*MySQLGameRepository)(nil)
