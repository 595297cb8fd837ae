// interfaces.go
// Collaborator contracts for syncstore: Remote, LocalStore, WriteTx, FreshnessStore, OfflineMode.
// Drivers under drivers/ implement them.

package syncstore

import (
	"context"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"
)

// Entity is anything a LocalStore can persist: it has a stable identity and
// lives in one table. Its json encoding is the persisted payload.
type Entity interface {
	GetID() string
	TableName() string
}

// Request describes one remote call.
type Request struct {
	Method string
	Path   string // relative to the remote's base URL, or absolute
	Query  url.Values
	Header http.Header
	Body   []byte
}

// Response is the raw transport result of a remote call.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	URL        string
}

// Remote performs requests against the remote API.
type Remote interface {
	Do(ctx context.Context, req Request) (*Response, error)
}

// ChangeSet lists the entity IDs of one table touched by a committed write.
type ChangeSet struct {
	Table    string
	Upserted []string
	Deleted  []string
}

// Empty reports whether the change set touched nothing.
func (c ChangeSet) Empty() bool {
	return len(c.Upserted) == 0 && len(c.Deleted) == 0
}

// LocalStore is the transactional local entity cache.
type LocalStore interface {
	// PerformWrite runs fn inside one serialized write transaction. The
	// transaction commits if fn returns nil and rolls back otherwise.
	// Observers are notified after a successful commit.
	PerformWrite(ctx context.Context, fn func(tx WriteTx) error) error
	// Fetch loads the entities of table matching scope into dest, a pointer
	// to a slice of entity structs or struct pointers.
	Fetch(ctx context.Context, table string, scope Scope, dest interface{}) error
	// LastRefresh returns the TTL record for key; ok is false when none exists.
	LastRefresh(ctx context.Context, key string) (at time.Time, ok bool, err error)
	// Observe registers fn for committed changes to table.
	Observe(table string, fn func(ChangeSet)) (cancel func())
	Close() error
}

// WriteTx is the view of the local store inside PerformWrite.
type WriteTx interface {
	Fetch(ctx context.Context, table string, scope Scope, dest interface{}) error
	Upsert(ctx context.Context, entity Entity) error
	Delete(ctx context.Context, table, id string) error
	LastRefresh(ctx context.Context, key string) (at time.Time, ok bool, err error)
	TouchTTL(ctx context.Context, key string, at time.Time) error
}

// FreshnessStore holds TTL records outside the local store so several
// processes can share them.
type FreshnessStore interface {
	LastRefresh(ctx context.Context, key string) (at time.Time, ok bool, err error)
	Touch(ctx context.Context, key string, at time.Time) error
}

// OfflineMode tells stores to skip the network.
type OfflineMode interface {
	IsOfflineModeEnabled() bool
}

// OfflineFlag is a settable OfflineMode, safe for concurrent use.
type OfflineFlag struct {
	enabled atomic.Bool
}

var _ OfflineMode = (*OfflineFlag)(nil)

// Set turns offline mode on or off.
func (f *OfflineFlag) Set(enabled bool) { f.enabled.Store(enabled) }

func (f *OfflineFlag) IsOfflineModeEnabled() bool { return f.enabled.Load() }

// Clock returns the current time. Tests replace it to move TTLs along.
type Clock func() time.Time
