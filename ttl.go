package syncstore

import (
	"context"
	"fmt"
	"time"
)

// ExpireImmediately is a TTL under which a cache key is always stale.
const ExpireImmediately time.Duration = -1

// TTLRecord is the freshness bookkeeping for one cache key.
type TTLRecord struct {
	Key         string    `db:"key" json:"key"`
	LastRefresh time.Time `db:"last_refresh" json:"last_refresh"`
}

// LastRefresh reads the TTL record for key, preferring the shared
// FreshnessStore when one is configured.
func (e *Environment) LastRefresh(ctx context.Context, key string) (TTLRecord, bool, error) {
	var (
		at  time.Time
		ok  bool
		err error
	)
	if e.Freshness != nil {
		at, ok, err = e.Freshness.LastRefresh(ctx, key)
	} else {
		at, ok, err = e.Local.LastRefresh(ctx, key)
	}
	if err != nil {
		return TTLRecord{}, false, fmt.Errorf("read ttl record '%s': %w", key, err)
	}
	return TTLRecord{Key: key, LastRefresh: at}, ok, nil
}

// HasExpired reports whether uc's cached data must be refetched: when it
// has no cache key, when the environment is headless, when no TTL record
// exists yet, or when lastRefresh + ttl is before now.
func HasExpired[R any](ctx context.Context, env *Environment, uc UseCase[R]) (bool, error) {
	return env.expired(ctx, uc.CacheKey(), uc.TTL())
}

func (e *Environment) expired(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if key == "" || e.Headless {
		return true, nil
	}
	if ttl == 0 {
		ttl = e.TTL
	}
	if ttl < 0 {
		return true, nil
	}
	record, ok, err := e.LastRefresh(ctx, key)
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}
	return record.LastRefresh.Add(ttl).Before(e.Now()), nil
}
