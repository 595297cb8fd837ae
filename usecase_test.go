package syncstore_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/burugo/syncstore"
)

func TestBaseUseCase_Defaults(t *testing.T) {
	var base syncstore.BaseUseCase
	assert.True(t, base.Scope().Equal(syncstore.All("id")))
	assert.Equal(t, "", base.CacheKey())
	assert.Equal(t, time.Duration(0), base.TTL())
	assert.Nil(t, base.GetNext(&syncstore.Response{}))
	assert.NoError(t, base.Reset(context.Background(), nil))

	base = syncstore.BaseUseCase{Query: syncstore.Where("group", "a"), Key: "k", MaxAge: time.Minute}
	assert.Equal(t, "group = ?", base.Scope().Where)
	assert.Equal(t, "k", base.CacheKey())
	assert.Equal(t, time.Minute, base.TTL())
}

func TestTableOf(t *testing.T) {
	assert.Equal(t, "items", syncstore.TableOf[Item]())
	assert.Equal(t, "items", syncstore.TableOf[*Item]())
}

func TestAPIUseCase_SaveProjection(t *testing.T) {
	type envelope struct {
		Data []Item `json:"data"`
	}
	te := setupEnv(t)
	te.remote.SetPage("/wrapped", []Item{{ID: "1"}}, "")

	uc := &syncstore.APIUseCase[Item, envelope]{
		BaseUseCase: syncstore.BaseUseCase{Key: "wrapped"},
		Request:     syncstore.Request{Method: http.MethodGet, Path: "/wrapped"},
		Decode: func(body []byte) (envelope, error) {
			var items []Item
			err := json.Unmarshal(body, &items)
			return envelope{Data: items}, err
		},
		Save: func(e envelope) []Item { return e.Data },
	}
	res, err := syncstore.Fetch[envelope](context.Background(), te.env, uc, true)
	require.NoError(t, err)
	assert.Len(t, res.Response.Data, 1)
	assert.Equal(t, []string{"1"}, ids(loadItems(t, te.local, syncstore.All("id"))))
}

func TestAPIUseCase_NoProjection(t *testing.T) {
	te := setupEnv(t)
	te.remote.SetPage("/items", []Item{{ID: "1"}}, "")
	uc := &syncstore.APIUseCase[Item, []map[string]interface{}]{
		BaseUseCase: syncstore.BaseUseCase{Key: "raw"},
		Request:     syncstore.Request{Method: http.MethodGet, Path: "/items"},
	}
	_, err := syncstore.Fetch[[]map[string]interface{}](context.Background(), te.env, uc, true)
	assert.ErrorIs(t, err, syncstore.ErrCommitFailed)
	assert.ErrorIs(t, err, syncstore.ErrInvalidEntity)
}

func TestAPIUseCase_SingleEntity(t *testing.T) {
	te := setupEnv(t)
	te.remote.SetPage("/items", []Item{{ID: "1"}}, "")
	uc := &syncstore.APIUseCase[Item, Item]{
		BaseUseCase: syncstore.BaseUseCase{Key: "item-1"},
		Request:     syncstore.Request{Method: http.MethodGet, Path: "/items"},
		Decode: func(body []byte) (Item, error) {
			var items []Item
			if err := json.Unmarshal(body, &items); err != nil || len(items) == 0 {
				return Item{}, errors.New("no item")
			}
			return items[0], nil
		},
	}
	res, err := syncstore.Fetch[Item](context.Background(), te.env, uc, false)
	require.NoError(t, err)
	assert.Equal(t, "1", res.Response.ID)
	assert.Len(t, loadItems(t, te.local, syncstore.All()), 1)
}

func TestAPIUseCase_DecodeErrorKeepsMeta(t *testing.T) {
	te := setupEnv(t)
	te.remote.SetPage("/items", []Item{{ID: "1"}}, "")
	uc := itemsUseCase(syncstore.All("id"))
	uc.Decode = func([]byte) ([]Item, error) { return nil, errors.New("bad body") }

	res, err := syncstore.Fetch[[]Item](context.Background(), te.env, uc, true)
	require.Error(t, err)
	assert.NotErrorIs(t, err, syncstore.ErrCommitFailed)
	require.NotNil(t, res.Meta)
	assert.Equal(t, http.StatusOK, res.Meta.StatusCode)
	assert.Empty(t, loadItems(t, te.local, syncstore.All()))
}

func TestDeleteUseCase(t *testing.T) {
	te := setupEnv(t)
	seedItems(t, te.local, Item{ID: "1"}, Item{ID: "2"})
	te.remote.SetPage("/items/1", nil, "")

	uc := &syncstore.DeleteUseCase[Item]{
		BaseUseCase: syncstore.BaseUseCase{Query: syncstore.Where("id", "1")},
		Request:     syncstore.Request{Method: http.MethodDelete, Path: "/items/1"},
	}
	res, err := syncstore.Fetch[*syncstore.Response](context.Background(), te.env, uc, true)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.Response.StatusCode)
	assert.Equal(t, []string{"2"}, ids(loadItems(t, te.local, syncstore.All("id"))))

	te.remote.mu.Lock()
	assert.Equal(t, http.MethodDelete, te.remote.Requests[0].Method)
	te.remote.mu.Unlock()
}

func TestDeleteUseCase_FailedRequestKeepsRows(t *testing.T) {
	te := setupEnv(t)
	seedItems(t, te.local, Item{ID: "1"})

	uc := &syncstore.DeleteUseCase[Item]{
		BaseUseCase: syncstore.BaseUseCase{Query: syncstore.Where("id", "1")},
		Request:     syncstore.Request{Method: http.MethodDelete, Path: "/gone"},
	}
	_, err := syncstore.Fetch[*syncstore.Response](context.Background(), te.env, uc, true)
	var statusErr *syncstore.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, []string{"1"}, ids(loadItems(t, te.local, syncstore.All("id"))))
}

func TestLocalUseCases(t *testing.T) {
	te := setupEnv(t)
	seedItems(t, te.local, Item{ID: "1", Hidden: true}, Item{ID: "2"})
	ctx := context.Background()

	local := &syncstore.LocalUseCase[Item]{BaseUseCase: syncstore.BaseUseCase{Query: syncstore.Where("hidden", true)}}
	_, err := syncstore.Fetch[struct{}](ctx, te.env, local, true)
	require.NoError(t, err)
	assert.Len(t, loadItems(t, te.local, syncstore.All()), 2)

	purge := &syncstore.DeleteLocalUseCase[Item]{BaseUseCase: syncstore.BaseUseCase{Query: syncstore.Where("hidden", true)}}
	_, err = syncstore.Fetch[struct{}](ctx, te.env, purge, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"2"}, ids(loadItems(t, te.local, syncstore.All("id"))))
	assert.Equal(t, 0, te.remote.CallCount())
}

func TestNextUseCase_DelegatesToParent(t *testing.T) {
	te := setupEnv(t)
	seedItems(t, te.local, Item{ID: "1"})
	te.remote.SetPage("/items?page=2", []Item{{ID: "2"}}, "/items?page=3")

	parent := itemsUseCase(syncstore.Where("hidden", false, "id"))
	parent.MaxAge = time.Hour
	next := syncstore.NewNextUseCase[[]Item](parent, syncstore.Request{Method: http.MethodGet, Path: "/items?page=2"})

	assert.Equal(t, "items", next.CacheKey())
	assert.Equal(t, syncstore.ExpireImmediately, next.TTL())
	assert.True(t, next.Scope().Equal(parent.Scope()))

	expired, err := syncstore.HasExpired[[]Item](context.Background(), te.env, next)
	require.NoError(t, err)
	assert.True(t, expired)

	res, err := syncstore.Fetch[[]Item](context.Background(), te.env, next, false)
	require.NoError(t, err)
	require.NotNil(t, res.Next)
	assert.Equal(t, "/items?page=3", res.Next.Path)
	assert.Equal(t, []string{"1", "2"}, ids(loadItems(t, te.local, syncstore.All("id"))), "continuations never reset")

	_, ok, err := te.env.LastRefresh(context.Background(), "items")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestUseCase_HeadersSurvivePaging(t *testing.T) {
	te := setupEnv(t)
	te.remote.SetPage("/items", []Item{{ID: "1"}}, "/items?page=2")
	uc := itemsUseCase(syncstore.All("id"))
	uc.Request.Header = http.Header{"X-Trace": []string{"abc"}}

	res, err := syncstore.Fetch[[]Item](context.Background(), te.env, uc, true)
	require.NoError(t, err)
	require.NotNil(t, res.Next)
	assert.Equal(t, http.MethodGet, res.Next.Method)
	assert.Equal(t, "abc", res.Next.Header.Get("X-Trace"))
}
