package syncstore

import (
	"fmt"

	"github.com/burugo/syncstore/common"
)

// Re-exported sentinels so callers only need the root package.
var (
	ErrNotFound      = common.ErrNotFound
	ErrInvalidScope  = common.ErrInvalidScope
	ErrInvalidEntity = common.ErrInvalidEntity
	ErrCommitFailed  = common.ErrCommitFailed
	ErrRemoteNotSet  = common.ErrRemoteNotSet
	ErrLocalNotSet   = common.ErrLocalNotSet
	ErrStoreClosed   = common.ErrStoreClosed
	ErrTxDone        = common.ErrTxDone
	ErrInvalidDest   = common.ErrInvalidDest
	ErrInvalidConfig = common.ErrInvalidConfig
	ErrSharedTTL     = common.ErrSharedTTL
)

// CommitError reports that a response was fetched successfully but merging it
// into the local store failed. The response that accompanies it in a Result
// may not be what the local store contains.
type CommitError struct {
	CacheKey string
	Err      error
}

func (e *CommitError) Error() string {
	if e.CacheKey == "" {
		return fmt.Sprintf("%v: %v", common.ErrCommitFailed, e.Err)
	}
	return fmt.Sprintf("%v (cache key %q): %v", common.ErrCommitFailed, e.CacheKey, e.Err)
}

func (e *CommitError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrCommitFailed) match any CommitError.
func (e *CommitError) Is(target error) bool { return target == common.ErrCommitFailed }

// StatusError is returned by remote drivers for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("syncstore: remote returned status %d", e.StatusCode)
}
