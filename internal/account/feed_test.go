package account

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redmonkez12/loyalty-card/internal/logging"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *MemoryStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	records := NewMemoryStore()
	return NewRedisStore(records, client, logging.NewNopLogger()), records
}

func TestRedisStoreFeedDeliversChangesFromAnotherClient(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestRedisStore(t)
	require.NoError(t, store.CreateRecord(ctx, NewRecord("u1", "a@example.com", time.Now())))

	sub, err := store.Subscribe(ctx, "u1")
	require.NoError(t, err)
	defer sub.Close()

	initial := nextSnapshot(t, sub)
	require.NotNil(t, initial.Record)
	assert.Equal(t, 0, initial.Record.Points)

	require.NoError(t, store.IncrementPoints(ctx, "u1", 1))
	assert.Equal(t, 1, nextSnapshot(t, sub).Record.Points)

	require.NoError(t, store.SetVerified(ctx, "u1"))
	assert.True(t, nextSnapshot(t, sub).Record.IsEmailVerified)

	require.NoError(t, store.DeleteRecord(ctx, "u1"))
	assert.Nil(t, nextSnapshot(t, sub).Record)
}

func TestRedisStoreMutationErrorsPassThrough(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestRedisStore(t)

	assert.ErrorIs(t, store.IncrementPoints(ctx, "missing", 1), ErrNotFound)
	_, err := store.GetRecord(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStoreSubscribeToAbsentRecord(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestRedisStore(t)

	sub, err := store.Subscribe(ctx, "u1")
	require.NoError(t, err)
	defer sub.Close()

	assert.Nil(t, nextSnapshot(t, sub).Record)

	require.NoError(t, store.CreateRecord(ctx, NewRecord("u1", "a@example.com", time.Now())))
	assert.Equal(t, "a@example.com", nextSnapshot(t, sub).Record.Email)
}

func TestRedisStoreSubscribeFailsWhenRedisIsDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })
	store := NewRedisStore(NewMemoryStore(), client, logging.NewNopLogger())

	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := store.Subscribe(ctx, "u1")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestRedisStoreCloseEndsUpdates(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestRedisStore(t)

	sub, err := store.Subscribe(ctx, "u1")
	require.NoError(t, err)
	nextSnapshot(t, sub)

	require.NoError(t, sub.Close())

	select {
	case _, ok := <-sub.Updates():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("updates channel was not closed")
	}
}

// stallingRecords holds the first increment's result back until release is
// closed, so its publish lands after any later write's
type stallingRecords struct {
	*MemoryStore
	calls   atomic.Int32
	written chan struct{}
	release chan struct{}
}

func (s *stallingRecords) IncrementPointsReturning(ctx context.Context, id string, delta int) (*Record, error) {
	rec, err := s.MemoryStore.IncrementPointsReturning(ctx, id, delta)
	if s.calls.Add(1) == 1 {
		close(s.written)
		<-s.release
	}
	return rec, err
}

func TestRedisStoreDropsChangesPublishedOutOfOrder(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	records := &stallingRecords{
		MemoryStore: NewMemoryStore(),
		written:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	store := NewRedisStore(records, client, logging.NewNopLogger())

	rec := NewRecord("u1", "a@example.com", time.Now())
	rec.Points = 3
	require.NoError(t, store.CreateRecord(ctx, rec))

	sub, err := store.Subscribe(ctx, "u1")
	require.NoError(t, err)
	defer sub.Close()
	assert.Equal(t, 3, nextSnapshot(t, sub).Record.Points)

	first := make(chan error, 1)
	go func() { first <- store.IncrementPoints(ctx, "u1", 1) }()
	<-records.written

	// a second device scans while the first publish is held back
	require.NoError(t, store.IncrementPoints(ctx, "u1", 1))
	latest := nextSnapshot(t, sub)
	assert.Equal(t, 5, latest.Record.Points)

	close(records.release)
	require.NoError(t, <-first)

	require.NoError(t, store.SetVerified(ctx, "u1"))
	next := nextSnapshot(t, sub)
	assert.True(t, next.Record.IsEmailVerified)
	assert.Equal(t, 5, next.Record.Points, "the held back publish of 4 must not be delivered")

	stored, err := store.GetRecord(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, stored.Points, next.Record.Points)
}

func TestRedisStoreSkipsChangesOlderThanInitialState(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestRedisStore(t)
	require.NoError(t, store.CreateRecord(ctx, NewRecord("u1", "a@example.com", time.Now())))
	require.NoError(t, store.IncrementPoints(ctx, "u1", 2))

	sub, err := store.Subscribe(ctx, "u1")
	require.NoError(t, err)
	defer sub.Close()

	initial := nextSnapshot(t, sub)
	require.NotNil(t, initial.Record)
	assert.Equal(t, int64(2), initial.Record.Version)

	// a write that committed before Subscribe but published after it
	stale, err := json.Marshal(changeMessage{Record: &Record{ID: "u1", Points: 1, Version: 2}, Version: 2})
	require.NoError(t, err)
	require.NoError(t, store.client.Publish(ctx, channelName("u1"), stale).Err())

	require.NoError(t, store.IncrementPoints(ctx, "u1", 1))
	next := nextSnapshot(t, sub)
	assert.Equal(t, 3, next.Record.Points)
	assert.Equal(t, int64(3), next.Record.Version)
}

func TestRedisStoreDeletionOutranksLastWrite(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestRedisStore(t)
	require.NoError(t, store.CreateRecord(ctx, NewRecord("u1", "a@example.com", time.Now())))

	sub, err := store.Subscribe(ctx, "u1")
	require.NoError(t, err)
	defer sub.Close()
	nextSnapshot(t, sub)

	require.NoError(t, store.DeleteRecord(ctx, "u1"))
	assert.Nil(t, nextSnapshot(t, sub).Record)

	// the last write before the delete arriving late
	late, err := json.Marshal(changeMessage{Record: &Record{ID: "u1", Version: 1}, Version: 1})
	require.NoError(t, err)
	require.NoError(t, store.client.Publish(ctx, channelName("u1"), late).Err())

	select {
	case snap := <-sub.Updates():
		t.Fatalf("unexpected snapshot after deletion: %+v", snap)
	case <-time.After(200 * time.Millisecond):
	}
}
