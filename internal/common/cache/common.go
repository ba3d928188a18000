package cache

import (
	"context"
	"encoding/json"
	"math/rand/v2"
	"time"
)

// missingMarker is stored for keys whose source has no value.
const missingMarker = "$NULL$"

// ReadThroughTTL sets how long hits and misses stay cached. Both are jittered.
type ReadThroughTTL struct {
	Value   time.Duration
	Missing time.Duration
}

// ReadThrough returns the JSON value cached under key, calling load on a miss
// and caching its result. load reports found=false for absent records; the
// absence is cached too so repeated lookups of unknown ids skip the store.
// Cache failures fall through to load.
func ReadThrough[T any](
	ctx context.Context,
	c BasicOps,
	key string,
	ttl ReadThroughTTL,
	load func(ctx context.Context) (value T, found bool, err error),
) (T, bool, error) {
	var zero T
	if raw, err := c.Get(ctx, key); err == nil && raw != "" {
		if raw == missingMarker {
			return zero, false, nil
		}
		var v T
		if err := json.Unmarshal([]byte(raw), &v); err == nil {
			return v, true, nil
		}
	}

	v, found, err := load(ctx)
	if err != nil {
		return zero, false, err
	}
	if !found {
		_ = c.Set(ctx, key, missingMarker, JitterTTL(ttl.Missing))
		return zero, false, nil
	}
	if data, err := json.Marshal(v); err == nil {
		_ = c.Set(ctx, key, string(data), JitterTTL(ttl.Value))
	}
	return v, true, nil
}

// JitterTTL shortens ttl by up to 10% so keys written together do not expire together.
func JitterTTL(ttl time.Duration) time.Duration {
	spread := int64(ttl / 10)
	if spread <= 0 {
		return ttl
	}
	return ttl - time.Duration(rand.Int64N(spread+1))
}
