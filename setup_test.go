package syncstore_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/burugo/syncstore"
	"github.com/burugo/syncstore/drivers/db/memory"
)

// --- Test Entities ---

type Item struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Group  string  `json:"group"`
	Rank   int     `json:"rank"`
	Hidden bool    `json:"hidden"`
	Note   *string `json:"note,omitempty"`
}

func (i Item) GetID() string     { return i.ID }
func (i Item) TableName() string { return "items" }

// --- Mock Remote ---

// mockRemote answers requests from pages keyed by path and counts calls.
type mockRemote struct {
	mu       sync.Mutex
	pages    map[string]page
	err      error
	Calls    int
	Requests []syncstore.Request
}

type page struct {
	items []Item
	next  string
}

func newMockRemote() *mockRemote {
	return &mockRemote{pages: make(map[string]page)}
}

func (m *mockRemote) SetPage(path string, items []Item, next string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pages[path] = page{items: items, next: next}
}

func (m *mockRemote) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *mockRemote) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Calls
}

func (m *mockRemote) Do(_ context.Context, req syncstore.Request) (*syncstore.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	m.Requests = append(m.Requests, req)
	if m.err != nil {
		return nil, m.err
	}
	p, ok := m.pages[req.Path]
	if !ok {
		return &syncstore.Response{StatusCode: http.StatusNotFound, Header: http.Header{}}, &syncstore.StatusError{StatusCode: http.StatusNotFound}
	}
	body, err := json.Marshal(p.items)
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	if p.next != "" {
		header.Set("Link", fmt.Sprintf(`<%s>; rel="current", <%s>; rel="next"`, req.Path, p.next))
	}
	return &syncstore.Response{StatusCode: http.StatusOK, Header: header, Body: body, URL: req.Path}, nil
}

// --- Fake Clock ---

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// --- Test Setup ---

type testEnv struct {
	env     *syncstore.Environment
	local   *memory.Store
	remote  *mockRemote
	clock   *fakeClock
	offline *syncstore.OfflineFlag
}

func setupEnv(tb testing.TB) *testEnv {
	tb.Helper()
	te := &testEnv{
		local:   memory.New(),
		remote:  newMockRemote(),
		clock:   newFakeClock(),
		offline: &syncstore.OfflineFlag{},
	}
	env, err := syncstore.New(syncstore.Config{
		Remote:  te.remote,
		Local:   te.local,
		Offline: te.offline,
		Clock:   te.clock.Now,
		Logger:  log.New(io.Discard, "", 0),
	})
	require.NoError(tb, err)
	te.env = env
	tb.Cleanup(func() { te.local.Close() })
	return te
}

// itemsUseCase lists items with Link pagination under cache key "items".
func itemsUseCase(scope syncstore.Scope) *syncstore.APIUseCase[Item, []Item] {
	return &syncstore.APIUseCase[Item, []Item]{
		BaseUseCase: syncstore.BaseUseCase{Query: scope, Key: "items"},
		Request:     syncstore.Request{Method: http.MethodGet, Path: "/items"},
		Collection:  true,
	}
}

func seedItems(tb testing.TB, local syncstore.LocalStore, items ...Item) {
	tb.Helper()
	err := local.PerformWrite(context.Background(), func(tx syncstore.WriteTx) error {
		return syncstore.UpsertAll(context.Background(), tx, items)
	})
	require.NoError(tb, err)
}

func loadItems(tb testing.TB, local syncstore.LocalStore, scope syncstore.Scope) []Item {
	tb.Helper()
	var items []Item
	require.NoError(tb, local.Fetch(context.Background(), "items", scope, &items))
	return items
}

func ids(items []Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}
