package syncstore

import (
	"context"
	"fmt"
)

// Result is the outcome of running a UseCase.
type Result[R any] struct {
	Response R
	// Meta is the transport response, when the request got one.
	Meta *Response
	// Next is the cursor for the following page; nil when there is none.
	Next *Request
	// Cached is true when the cache was fresh and no request was made.
	// Response is zero then; read the local store for the data.
	Cached bool
	// Offline is true when the network was skipped because of offline mode.
	Offline bool
}

// Fetch runs uc against env.
//
// When force is false and uc's cache is fresh it returns a Cached result
// without touching the network. Otherwise it makes the request; on failure
// the local store is left untouched and the error is returned as is. On
// success Reset, Write and the TTL update run in one write transaction.
// If that transaction fails, the Result still carries the response and the
// error is a *CommitError.
func Fetch[R any](ctx context.Context, env *Environment, uc UseCase[R], force bool) (Result[R], error) {
	var res Result[R]
	key := uc.CacheKey()

	if !force {
		expired, err := HasExpired(ctx, env, uc)
		if err != nil {
			return res, err
		}
		if !expired {
			env.logger.Printf("CACHE HIT: %s", key)
			res.Cached = true
			return res, nil
		}
		env.logger.Printf("CACHE MISS: %s", key)
	}

	response, meta, err := uc.MakeRequest(ctx, env)
	res.Meta = meta
	if err != nil {
		return res, err
	}
	res.Response = response
	res.Next = uc.GetNext(meta)

	now := env.Now()
	err = env.Local.PerformWrite(ctx, func(tx WriteTx) error {
		if err := uc.Reset(ctx, tx); err != nil {
			return fmt.Errorf("reset: %w", err)
		}
		if err := uc.Write(ctx, tx, response, meta); err != nil {
			return fmt.Errorf("write: %w", err)
		}
		if key == "" {
			return nil
		}
		return tx.TouchTTL(ctx, key, now)
	})
	if err != nil {
		return res, &CommitError{CacheKey: key, Err: err}
	}
	if key != "" && env.Freshness != nil {
		if err := env.Freshness.Touch(ctx, key, now); err != nil {
			// The local transaction already committed.
			return res, fmt.Errorf("%w (cache key %q): %w", ErrSharedTTL, key, err)
		}
	}
	return res, nil
}
