package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	Copy    int   `json:"copy"`
	Members []int `json:"pgs_ID_List"`
}

func newTestStore(t *testing.T) *Badger {
	t.Helper()
	s, err := OpenBadger("")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBadger_CreateGetUpdate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	v, err := s.Create(ctx, "/RC/CLUSTER/c/PG/0", record{Copy: 2, Members: []int{0, 1}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	_, err = s.Create(ctx, "/RC/CLUSTER/c/PG/0", record{})
	assert.ErrorIs(t, err, ErrExists)

	var got record
	v, err = s.Get(ctx, "/RC/CLUSTER/c/PG/0", &got)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
	assert.Equal(t, []int{0, 1}, got.Members)

	v, err = s.Update(ctx, "/RC/CLUSTER/c/PG/0", record{Copy: 3}, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)

	_, err = s.Update(ctx, "/RC/CLUSTER/c/PG/0", record{Copy: 4}, 1)
	assert.ErrorIs(t, err, ErrVersionConflict)

	v, err = s.Update(ctx, "/RC/CLUSTER/c/PG/0", record{Copy: 4}, AnyVersion)
	require.NoError(t, err)
	assert.Equal(t, int64(3), v)

	_, err = s.Update(ctx, "/RC/CLUSTER/c/PG/9", record{}, AnyVersion)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBadger_Delete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Create(ctx, "/a", record{})
	require.NoError(t, err)

	assert.ErrorIs(t, s.Delete(ctx, "/a", 7), ErrVersionConflict)
	require.NoError(t, s.Delete(ctx, "/a", 1))
	assert.ErrorIs(t, s.Delete(ctx, "/a", AnyVersion), ErrNotFound)

	_, err = s.Get(ctx, "/a", nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBadger_MultiIsAtomic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Create(ctx, "/RC/CLUSTER/c/PGS/0", record{Copy: 1})
	require.NoError(t, err)

	// The second op conflicts so the first must not land.
	err = s.Multi(ctx,
		Update("/RC/CLUSTER/c/PGS/0", record{Copy: 9}, 1),
		Create("/RC/CLUSTER/c/PGS/0", record{}),
	)
	assert.ErrorIs(t, err, ErrExists)

	var got record
	v, err := s.Get(ctx, "/RC/CLUSTER/c/PGS/0", &got)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
	assert.Equal(t, 1, got.Copy)

	err = s.Multi(ctx,
		Update("/RC/CLUSTER/c/PGS/0", record{Copy: 9}, 1),
		Create("/RC/CLUSTER/c/PGS/1", record{Copy: 2}),
	)
	require.NoError(t, err)

	v, err = s.Get(ctx, "/RC/CLUSTER/c/PGS/0", &got)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)
	assert.Equal(t, 9, got.Copy)
}

func TestBadger_List(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, p := range []string{"/RC/CLUSTER/c/PGS/1", "/RC/CLUSTER/c/PGS/0", "/RC/CLUSTER/c/PG/0", "/RC/CLUSTER/d/PGS/0"} {
		_, err := s.Create(ctx, p, record{Copy: len(p)})
		require.NoError(t, err)
	}

	recs, err := s.List(ctx, "/RC/CLUSTER/c/PGS/")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "/RC/CLUSTER/c/PGS/0", recs[0].Path)
	assert.Equal(t, "/RC/CLUSTER/c/PGS/1", recs[1].Path)

	var got record
	require.NoError(t, recs[1].Decode(&got))
	assert.Equal(t, len("/RC/CLUSTER/c/PGS/1"), got.Copy)
}

func TestBadger_Watch(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var events []Record

	done := make(chan error, 1)
	go func() {
		done <- s.Watch(ctx, "/RC/CLUSTER/c/", func(r Record) {
			mu.Lock()
			events = append(events, r)
			mu.Unlock()
		})
	}()

	// Subscribe registers asynchronously.
	time.Sleep(100 * time.Millisecond)

	_, err := s.Create(ctx, "/RC/CLUSTER/c/PG/0", record{Copy: 3})
	require.NoError(t, err)
	_, err = s.Create(ctx, "/RC/CLUSTER/other", record{})
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, "/RC/CLUSTER/c/PG/0", AnyVersion))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 2
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	var got record
	assert.Equal(t, int64(1), events[0].Version)
	assert.NoError(t, events[0].Decode(&got))
	assert.Equal(t, 3, got.Copy)
	assert.True(t, events[1].Deleted)
	assert.True(t, errors.Is(events[1].Decode(&got), ErrNotFound))
	mu.Unlock()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop")
	}
}
