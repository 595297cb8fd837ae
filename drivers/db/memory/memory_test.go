package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/burugo/syncstore"
)

type note struct {
	ID     string `json:"id"`
	Folder string `json:"folder"`
	Title  string `json:"title"`
	Rank   int    `json:"rank"`
}

func (n note) GetID() string     { return n.ID }
func (n note) TableName() string { return "notes" }

func seed(t *testing.T, s *Store, notes ...note) {
	t.Helper()
	err := s.PerformWrite(context.Background(), func(tx syncstore.WriteTx) error {
		for _, n := range notes {
			if err := tx.Upsert(context.Background(), n); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func TestStore_FetchAppliesScope(t *testing.T) {
	s := New()
	seed(t, s,
		note{ID: "1", Folder: "inbox", Title: "b", Rank: 2},
		note{ID: "2", Folder: "inbox", Title: "a", Rank: 1},
		note{ID: "3", Folder: "archive", Title: "c", Rank: 3},
	)

	var got []note
	require.NoError(t, s.Fetch(context.Background(), "notes", syncstore.Where("folder", "inbox", "rank"), &got))
	require.Len(t, got, 2)
	assert.Equal(t, "2", got[0].ID)
	assert.Equal(t, "1", got[1].ID)

	var ptrs []*note
	require.NoError(t, s.Fetch(context.Background(), "notes", syncstore.All().OrderByDesc("rank"), &ptrs))
	require.Len(t, ptrs, 3)
	assert.Equal(t, "3", ptrs[0].ID)
}

func TestStore_RollbackOnError(t *testing.T) {
	s := New()
	seed(t, s, note{ID: "1", Title: "keep"})

	boom := errors.New("boom")
	err := s.PerformWrite(context.Background(), func(tx syncstore.WriteTx) error {
		require.NoError(t, tx.Delete(context.Background(), "notes", "1"))
		require.NoError(t, tx.Upsert(context.Background(), note{ID: "2"}))
		require.NoError(t, tx.TouchTTL(context.Background(), "k", time.Now()))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	var got []note
	require.NoError(t, s.Fetch(context.Background(), "notes", syncstore.All("id"), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "keep", got[0].Title)

	_, ok, err := s.LastRefresh(context.Background(), "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_TxSeesOwnWrites(t *testing.T) {
	s := New()
	seed(t, s, note{ID: "1"}, note{ID: "2"})

	err := s.PerformWrite(context.Background(), func(tx syncstore.WriteTx) error {
		ctx := context.Background()
		require.NoError(t, tx.Delete(ctx, "notes", "1"))
		require.NoError(t, tx.Upsert(ctx, note{ID: "3"}))
		var got []note
		require.NoError(t, tx.Fetch(ctx, "notes", syncstore.All("id"), &got))
		assert.Equal(t, []string{"2", "3"}, []string{got[0].ID, got[1].ID})

		at := time.Unix(100, 0)
		require.NoError(t, tx.TouchTTL(ctx, "k", at))
		seen, ok, err := tx.LastRefresh(ctx, "k")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.True(t, seen.Equal(at))
		return nil
	})
	require.NoError(t, err)
}

func TestStore_ObserversGetChangeSetsAfterCommit(t *testing.T) {
	s := New()
	seed(t, s, note{ID: "1"}, note{ID: "2"})

	var sets []syncstore.ChangeSet
	cancel := s.Observe("notes", func(cs syncstore.ChangeSet) {
		var got []note
		require.NoError(t, s.Fetch(context.Background(), "notes", syncstore.All("id"), &got))
		assert.Len(t, got, 2, "observers see committed state")
		sets = append(sets, cs)
	})

	err := s.PerformWrite(context.Background(), func(tx syncstore.WriteTx) error {
		ctx := context.Background()
		require.NoError(t, tx.Delete(ctx, "notes", "1"))
		require.NoError(t, tx.Delete(ctx, "notes", "missing"))
		return tx.Upsert(ctx, note{ID: "3"})
	})
	require.NoError(t, err)
	require.Len(t, sets, 1)
	assert.Equal(t, []string{"3"}, sets[0].Upserted)
	assert.Equal(t, []string{"1"}, sets[0].Deleted)

	cancel()
	seed(t, s, note{ID: "4"})
	assert.Len(t, sets, 1)
}

func TestStore_TxUnusableAfterCommit(t *testing.T) {
	s := New()
	var leaked syncstore.WriteTx
	require.NoError(t, s.PerformWrite(context.Background(), func(tx syncstore.WriteTx) error {
		leaked = tx
		return nil
	}))
	assert.ErrorIs(t, leaked.Upsert(context.Background(), note{ID: "1"}), syncstore.ErrTxDone)
}

func TestStore_RejectsEntityWithoutID(t *testing.T) {
	s := New()
	err := s.PerformWrite(context.Background(), func(tx syncstore.WriteTx) error {
		return tx.Upsert(context.Background(), note{})
	})
	assert.ErrorIs(t, err, syncstore.ErrInvalidEntity)
}

func TestStore_Closed(t *testing.T) {
	s := New()
	require.NoError(t, s.Close())
	var got []note
	assert.ErrorIs(t, s.Fetch(context.Background(), "notes", syncstore.All(), &got), syncstore.ErrStoreClosed)
	assert.ErrorIs(t, s.PerformWrite(context.Background(), func(syncstore.WriteTx) error { return nil }), syncstore.ErrStoreClosed)
}

func TestStore_ClosedDuringWrite(t *testing.T) {
	s := New()
	notified := false
	s.Observe("notes", func(syncstore.ChangeSet) { notified = true })

	err := s.PerformWrite(context.Background(), func(tx syncstore.WriteTx) error {
		if err := tx.Upsert(context.Background(), note{ID: "1", Title: "draft"}); err != nil {
			return err
		}
		return s.Close()
	})
	assert.ErrorIs(t, err, syncstore.ErrStoreClosed)
	assert.False(t, notified)
}
