package service_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/sales-arena/internal/config"
	"github.com/sales-arena/internal/domain"
	"github.com/sales-arena/internal/memstore"
	"github.com/sales-arena/internal/metrics"
	"github.com/sales-arena/internal/service"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store  *memstore.Store
	sales  *service.SalesService
	admin  *service.AdminService
	events *recordingObserver
}

func testPipelineConfig() *config.PipelineConfig {
	return &config.PipelineConfig{
		PointAward:     100,
		MaxAttempts:    3,
		RetryBaseDelay: time.Millisecond,
		Timeout:        5 * time.Second,
		OnlineWindow:   15 * time.Minute,
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithStore(t, memstore.New(), nil)
}

// newFixtureWithStore wires services on ledger; when pipeline is non-nil the
// sales service uses it instead of ledger for transactions.
func newFixtureWithStore(t *testing.T, ledger *memstore.Store, pipeline service.Store) *fixture {
	t.Helper()
	if pipeline == nil {
		pipeline = ledger
	}
	obs := &recordingObserver{}
	sales := service.NewSalesService(pipeline, testPipelineConfig(), metrics.NewNop(), testLogger())
	sales.AddObserver(obs)
	admin := service.NewAdminService(ledger, &config.LeaderboardConfig{DefaultLimit: 50, MaxLimit: 500}, 15*time.Minute, testLogger())
	return &fixture{store: ledger, sales: sales, admin: admin, events: obs}
}

func (f *fixture) attendant(t *testing.T, name string) string {
	t.Helper()
	a, err := f.admin.CreateAttendant(context.Background(), domain.CreateAttendantRequest{Name: name})
	require.NoError(t, err)
	return a.ID
}

func (f *fixture) goal(t *testing.T, attendantID, title, target string) string {
	t.Helper()
	g, err := f.admin.CreateGoal(context.Background(), domain.CreateGoalRequest{
		AttendantID: attendantID,
		Title:       title,
		TargetValue: decimal.RequireFromString(target),
		Type:        domain.GoalTypeMonthly,
	})
	require.NoError(t, err)
	return g.ID
}

func (f *fixture) sell(t *testing.T, attendantID, value string) *service.SaleOutcome {
	t.Helper()
	out, err := f.sales.Process(context.Background(), domain.SaleSubmission{
		AttendantID: attendantID,
		Value:       decimal.RequireFromString(value),
	})
	require.NoError(t, err)
	return out
}

func (f *fixture) earnings(t *testing.T, attendantID string) string {
	t.Helper()
	a, err := f.store.GetAttendant(context.Background(), attendantID)
	require.NoError(t, err)
	return domain.FormatMoney(a.Earnings)
}

func (f *fixture) achievements(t *testing.T, attendantID string) []domain.Achievement {
	t.Helper()
	list, err := f.store.ListAchievements(context.Background(), attendantID, 0)
	require.NoError(t, err)
	return list
}

func (f *fixture) board(t *testing.T) []domain.LeaderboardEntry {
	t.Helper()
	entries, err := f.store.Leaderboard(context.Background(), 0)
	require.NoError(t, err)
	return entries
}

type recordingObserver struct {
	mu        sync.Mutex
	events    []domain.PipelineEvent
	boards    int
	lastBoard []domain.LeaderboardEntry
}

func (o *recordingObserver) OnCommit(_ context.Context, events []domain.PipelineEvent, board []domain.LeaderboardEntry) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, events...)
	if board != nil {
		o.boards++
		o.lastBoard = board
	}
}

func (o *recordingObserver) types() []domain.EventType {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]domain.EventType, 0, len(o.events))
	for _, e := range o.events {
		out = append(out, e.Type)
	}
	return out
}

// faultyStore wraps a store and injects failures into chosen Tx operations
type faultyStore struct {
	service.Store

	mu        sync.Mutex
	failOn    string
	err       error
	remaining int
	attempts  int
}

func (f *faultyStore) InTx(ctx context.Context, fn func(ctx context.Context, tx service.Tx) error) error {
	f.mu.Lock()
	f.attempts++
	f.mu.Unlock()
	return f.Store.InTx(ctx, func(ctx context.Context, tx service.Tx) error {
		return fn(ctx, &faultyTx{Tx: tx, store: f})
	})
}

func (f *faultyStore) inject(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if op != f.failOn || f.remaining == 0 {
		return nil
	}
	if f.remaining > 0 {
		f.remaining--
	}
	return fmt.Errorf("injected failure in %s: %w", op, f.err)
}

type faultyTx struct {
	service.Tx
	store *faultyStore
}

func (t *faultyTx) InsertAchievement(ctx context.Context, a *domain.Achievement) (bool, error) {
	if err := t.store.inject("InsertAchievement"); err != nil {
		return false, err
	}
	return t.Tx.InsertAchievement(ctx, a)
}

func (t *faultyTx) AddPoints(ctx context.Context, attendantID string, points int64, at time.Time) (*domain.LeaderboardEntry, error) {
	if err := t.store.inject("AddPoints"); err != nil {
		return nil, err
	}
	return t.Tx.AddPoints(ctx, attendantID, points, at)
}

func (t *faultyTx) AppendEvents(ctx context.Context, events []domain.PipelineEvent) error {
	if err := t.store.inject("AppendEvents"); err != nil {
		return err
	}
	return t.Tx.AppendEvents(ctx, events)
}

// tracingStore records the leaderboard operations issued inside transactions
type tracingStore struct {
	*memstore.Store

	mu  sync.Mutex
	ops []string
}

func (s *tracingStore) InTx(ctx context.Context, fn func(ctx context.Context, tx service.Tx) error) error {
	return s.Store.InTx(ctx, func(ctx context.Context, tx service.Tx) error {
		return fn(ctx, &tracingTx{Tx: tx, store: s})
	})
}

func (s *tracingStore) record(op string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, op)
}

func (s *tracingStore) calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.ops)
}

func (s *tracingStore) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = nil
}

type tracingTx struct {
	service.Tx
	store *tracingStore
}

func (t *tracingTx) DeleteAttendant(ctx context.Context, attendantID string) error {
	t.store.record("DeleteAttendant")
	return t.Tx.DeleteAttendant(ctx, attendantID)
}

func (t *tracingTx) LockLeaderboard(ctx context.Context) error {
	t.store.record("LockLeaderboard")
	return t.Tx.LockLeaderboard(ctx)
}

func (t *tracingTx) EnsureLeaderboardEntry(ctx context.Context, attendantID string, at time.Time) (bool, error) {
	t.store.record("EnsureLeaderboardEntry")
	return t.Tx.EnsureLeaderboardEntry(ctx, attendantID, at)
}

func (t *tracingTx) AddPoints(ctx context.Context, attendantID string, points int64, at time.Time) (*domain.LeaderboardEntry, error) {
	t.store.record("AddPoints")
	return t.Tx.AddPoints(ctx, attendantID, points, at)
}

func (t *tracingTx) LeaderboardForUpdate(ctx context.Context) ([]domain.LeaderboardEntry, error) {
	t.store.record("LeaderboardForUpdate")
	return t.Tx.LeaderboardForUpdate(ctx)
}

func (t *tracingTx) SetRanks(ctx context.Context, entries []domain.LeaderboardEntry) error {
	t.store.record("SetRanks")
	return t.Tx.SetRanks(ctx, entries)
}
