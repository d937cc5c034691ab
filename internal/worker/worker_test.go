package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/sales-arena/internal/config"
	"github.com/sales-arena/internal/domain"
	"github.com/sales-arena/internal/memstore"
	"github.com/sales-arena/internal/redis"
	"github.com/sales-arena/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakePublisher struct {
	mu      sync.Mutex
	batches [][]domain.PipelineEvent
	fail    error
}

func (p *fakePublisher) Publish(_ context.Context, events []domain.PipelineEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return p.fail
	}
	p.batches = append(p.batches, events)
	return nil
}

func (p *fakePublisher) ids() []int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	var ids []int64
	for _, b := range p.batches {
		for _, e := range b {
			ids = append(ids, e.ID)
		}
	}
	return ids
}

func appendEvents(t *testing.T, s *memstore.Store, n int) {
	t.Helper()
	events := make([]domain.PipelineEvent, n)
	for i := range events {
		events[i] = domain.PipelineEvent{Type: domain.EventSaleRecorded, AttendantID: "a"}
	}
	require.NoError(t, s.InTx(context.Background(), func(ctx context.Context, tx service.Tx) error {
		return tx.AppendEvents(ctx, events)
	}))
}

func TestRelayWorker_DrainsInBatches(t *testing.T) {
	store := memstore.New()
	appendEvents(t, store, 5)
	pub := &fakePublisher{}
	w := NewRelayWorker(store, pub, &config.SyncConfig{RelayInterval: time.Hour, RelayBatchSize: 2}, discardLogger())

	n, err := w.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, pub.ids())
	assert.Len(t, pub.batches, 3)

	cursor, err := store.Cursor(context.Background(), RelayCursor)
	require.NoError(t, err)
	assert.Equal(t, int64(5), cursor)

	appendEvents(t, store, 1)
	n, err = w.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []int64{1, 2, 3, 4, 5, 6}, pub.ids())
}

func TestRelayWorker_CursorHoldsOnFailure(t *testing.T) {
	store := memstore.New()
	appendEvents(t, store, 3)
	pub := &fakePublisher{fail: errors.New("broker down")}
	w := NewRelayWorker(store, pub, &config.SyncConfig{RelayInterval: time.Hour, RelayBatchSize: 10}, discardLogger())

	_, err := w.Drain(context.Background())
	require.Error(t, err)
	cursor, err := store.Cursor(context.Background(), RelayCursor)
	require.NoError(t, err)
	assert.Zero(t, cursor)

	pub.fail = nil
	n, err := w.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestRelayWorker_StartStop(t *testing.T) {
	store := memstore.New()
	appendEvents(t, store, 2)
	pub := &fakePublisher{}
	w := NewRelayWorker(store, pub, &config.SyncConfig{RelayInterval: 10 * time.Millisecond, RelayBatchSize: 10}, discardLogger())

	require.NoError(t, w.Start(context.Background()))
	assert.True(t, w.IsRunning())
	require.Eventually(t, func() bool { return len(pub.ids()) == 2 }, time.Second, 5*time.Millisecond)
	require.NoError(t, w.Stop())
	assert.False(t, w.IsRunning())
	require.NoError(t, w.Stop())
}

type fakeProjection struct {
	loaded []domain.LeaderboardEntry
	err    error
}

func (p *fakeProjection) Rebuild(ctx context.Context, load func(ctx context.Context) ([]domain.LeaderboardEntry, error)) error {
	entries, err := load(ctx)
	if err != nil {
		return err
	}
	p.loaded = entries
	return p.err
}

type staticSource []domain.LeaderboardEntry

func (s staticSource) Leaderboard(context.Context, int) ([]domain.LeaderboardEntry, error) {
	return s, nil
}

func TestSyncWorker_RebuildsFromSource(t *testing.T) {
	proj := &fakeProjection{}
	src := staticSource{{AttendantID: "a", Rank: 1}, {AttendantID: "b", Rank: 2}}
	w := NewSyncWorker(proj, src, &config.SyncConfig{Interval: time.Hour}, discardLogger())

	require.NoError(t, w.SyncFromDatabase(context.Background()))
	assert.Len(t, proj.loaded, 2)
}

func TestSyncWorker_EmptySourceClearsProjection(t *testing.T) {
	proj := &fakeProjection{}
	w := NewSyncWorker(proj, staticSource(nil), &config.SyncConfig{Interval: time.Hour}, discardLogger())

	require.NoError(t, w.SyncFromDatabase(context.Background()))
	assert.NotNil(t, proj.loaded)
	assert.Empty(t, proj.loaded)
}

func TestSyncWorker_StaleRebuildIsNotAnError(t *testing.T) {
	proj := &fakeProjection{err: redis.ErrStale}
	w := NewSyncWorker(proj, staticSource{{AttendantID: "a", Rank: 1}}, &config.SyncConfig{Interval: time.Hour}, discardLogger())

	require.NoError(t, w.SyncFromDatabase(context.Background()))
}
