// Package memstore is an in-process ledger store. Transactions hold one
// store-wide lock and write the shared state in place, keeping an undo log
// that is replayed when fn fails, so every transaction is serializable, a
// failed one leaves no trace and each one costs only what it writes.
package memstore

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/sales-arena/internal/domain"
	"github.com/sales-arena/internal/service"
	"github.com/shopspring/decimal"
)

type state struct {
	attendants        map[string]domain.Attendant
	sales             map[string]domain.Sale
	goals             map[string]domain.Goal
	achievements      map[string]domain.Achievement
	achievementByGoal map[string]string
	leaderboard       map[string]domain.LeaderboardEntry
	events            []domain.PipelineEvent
	nextEventID       int64
	cursors           map[string]int64
}

func newState() *state {
	return &state{
		attendants:        make(map[string]domain.Attendant),
		sales:             make(map[string]domain.Sale),
		goals:             make(map[string]domain.Goal),
		achievements:      make(map[string]domain.Achievement),
		achievementByGoal: make(map[string]string),
		leaderboard:       make(map[string]domain.LeaderboardEntry),
		cursors:           make(map[string]int64),
	}
}

// Store is an in-memory implementation of service.Ledger
type Store struct {
	mu sync.Mutex
	st *state
}

var _ service.Ledger = (*Store)(nil)

// New creates an empty store
func New() *Store {
	return &Store{st: newState()}
}

// InTx runs fn against the live state and keeps its writes only if fn
// succeeds and ctx is still live.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx service.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	t := &tx{st: s.st}
	committed := false
	defer func() {
		if !committed {
			t.rollback()
		}
	}()

	if err := fn(ctx, t); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	committed = true
	return nil
}

type tx struct {
	st   *state
	undo []func()
}

func (t *tx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

// put sets m[k] and logs how to restore the previous entry
func put[K comparable, V any](t *tx, m map[K]V, k K, v V) {
	prev, had := m[k]
	t.undo = append(t.undo, func() {
		if had {
			m[k] = prev
		} else {
			delete(m, k)
		}
	})
	m[k] = v
}

// remove deletes m[k] and logs how to restore it
func remove[K comparable, V any](t *tx, m map[K]V, k K) {
	prev, had := m[k]
	if !had {
		return
	}
	t.undo = append(t.undo, func() { m[k] = prev })
	delete(m, k)
}

func (t *tx) LockAttendant(_ context.Context, attendantID string) (*domain.Attendant, error) {
	a, ok := t.st.attendants[attendantID]
	if !ok {
		return nil, domain.ErrAttendantNotFound
	}
	return &a, nil
}

func (t *tx) DeleteAttendant(_ context.Context, attendantID string) error {
	if _, ok := t.st.attendants[attendantID]; !ok {
		return domain.ErrAttendantNotFound
	}
	for _, sale := range t.st.sales {
		if sale.AttendantID == attendantID {
			return domain.ErrAttendantHasSales
		}
	}
	for id, g := range t.st.goals {
		if g.AttendantID == attendantID {
			remove(t, t.st.goals, id)
		}
	}
	for id, a := range t.st.achievements {
		if a.AttendantID == attendantID {
			remove(t, t.st.achievements, id)
			remove(t, t.st.achievementByGoal, a.GoalID)
		}
	}
	remove(t, t.st.leaderboard, attendantID)
	remove(t, t.st.attendants, attendantID)
	return nil
}

func (t *tx) InsertSale(_ context.Context, sale *domain.Sale) error {
	if _, ok := t.st.attendants[sale.AttendantID]; !ok {
		return domain.ErrAttendantNotFound
	}
	put(t, t.st.sales, sale.ID, *sale)
	return nil
}

func (t *tx) GetSale(_ context.Context, saleID string) (*domain.Sale, error) {
	sale, ok := t.st.sales[saleID]
	if !ok {
		return nil, domain.ErrSaleNotFound
	}
	return &sale, nil
}

func (t *tx) DeleteSale(_ context.Context, saleID string) error {
	if _, ok := t.st.sales[saleID]; !ok {
		return domain.ErrSaleNotFound
	}
	remove(t, t.st.sales, saleID)
	return nil
}

func (t *tx) AddEarnings(_ context.Context, attendantID string, delta decimal.Decimal, at time.Time) (decimal.Decimal, error) {
	a, ok := t.st.attendants[attendantID]
	if !ok {
		return decimal.Zero, domain.ErrAttendantNotFound
	}
	a.Earnings = a.Earnings.Add(delta)
	a.UpdatedAt = at
	put(t, t.st.attendants, attendantID, a)
	return a.Earnings, nil
}

func (t *tx) TouchLastSale(_ context.Context, attendantID string, at time.Time) error {
	a, ok := t.st.attendants[attendantID]
	if !ok {
		return domain.ErrAttendantNotFound
	}
	last := at
	a.LastSaleAt = &last
	put(t, t.st.attendants, attendantID, a)
	return nil
}

func (t *tx) ActiveGoals(_ context.Context, attendantID string) ([]domain.Goal, error) {
	var goals []domain.Goal
	for _, g := range t.st.goals {
		if g.AttendantID == attendantID && g.IsActive {
			goals = append(goals, g)
		}
	}
	sortGoals(goals)
	return goals, nil
}

func (t *tx) SetGoalValue(_ context.Context, goalID string, value decimal.Decimal, at time.Time) error {
	g, ok := t.st.goals[goalID]
	if !ok {
		return domain.ErrGoalNotFound
	}
	g.CurrentValue = value
	g.UpdatedAt = at
	put(t, t.st.goals, goalID, g)
	return nil
}

func (t *tx) InsertAchievement(_ context.Context, a *domain.Achievement) (bool, error) {
	if _, exists := t.st.achievementByGoal[a.GoalID]; exists {
		return false, nil
	}
	put(t, t.st.achievements, a.ID, *a)
	put(t, t.st.achievementByGoal, a.GoalID, a.ID)
	return true, nil
}

// LockLeaderboard is a no-op: the store lock already excludes other writers
func (t *tx) LockLeaderboard(context.Context) error {
	return nil
}

func (t *tx) EnsureLeaderboardEntry(_ context.Context, attendantID string, at time.Time) (bool, error) {
	if _, ok := t.st.leaderboard[attendantID]; ok {
		return false, nil
	}
	put(t, t.st.leaderboard, attendantID, domain.LeaderboardEntry{AttendantID: attendantID, UpdatedAt: at})
	return true, nil
}

func (t *tx) AddPoints(_ context.Context, attendantID string, points int64, at time.Time) (*domain.LeaderboardEntry, error) {
	e, ok := t.st.leaderboard[attendantID]
	if !ok {
		e = domain.LeaderboardEntry{AttendantID: attendantID}
	}
	e.TotalPoints += points
	e.CurrentStreak++
	e.BestStreak = max(e.BestStreak, e.CurrentStreak)
	e.UpdatedAt = at
	put(t, t.st.leaderboard, attendantID, e)
	e.AttendantName = t.st.attendants[attendantID].Name
	return &e, nil
}

func (t *tx) LeaderboardForUpdate(_ context.Context) ([]domain.LeaderboardEntry, error) {
	return t.st.board(), nil
}

func (t *tx) SetRanks(_ context.Context, entries []domain.LeaderboardEntry) error {
	for _, e := range entries {
		cur, ok := t.st.leaderboard[e.AttendantID]
		if !ok {
			continue
		}
		cur.Rank = e.Rank
		put(t, t.st.leaderboard, e.AttendantID, cur)
	}
	return nil
}

func (t *tx) AppendEvents(_ context.Context, events []domain.PipelineEvent) error {
	st, size, next := t.st, len(t.st.events), t.st.nextEventID
	t.undo = append(t.undo, func() {
		clear(st.events[size:])
		st.events = st.events[:size]
		st.nextEventID = next
	})
	for i := range events {
		t.st.nextEventID++
		events[i].ID = t.st.nextEventID
		t.st.events = append(t.st.events, events[i])
	}
	return nil
}

// board returns every leaderboard entry with attendant names, ordered by rank
func (s *state) board() []domain.LeaderboardEntry {
	entries := make([]domain.LeaderboardEntry, 0, len(s.leaderboard))
	for _, e := range s.leaderboard {
		e.AttendantName = s.attendants[e.AttendantID].Name
		entries = append(entries, e)
	}
	slices.SortFunc(entries, func(a, b domain.LeaderboardEntry) int {
		if c := cmp.Compare(a.Rank, b.Rank); c != 0 {
			return c
		}
		return cmp.Compare(a.AttendantID, b.AttendantID)
	})
	return entries
}

func sortGoals(goals []domain.Goal) {
	slices.SortFunc(goals, func(a, b domain.Goal) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}
