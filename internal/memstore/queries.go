package memstore

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/sales-arena/internal/domain"
)

func (s *Store) CreateAttendant(_ context.Context, a *domain.Attendant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.attendants[a.ID] = *a
	return nil
}

func (s *Store) GetAttendant(_ context.Context, attendantID string) (*domain.Attendant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.st.attendants[attendantID]
	if !ok {
		return nil, domain.ErrAttendantNotFound
	}
	return &a, nil
}

func (s *Store) ListAttendants(_ context.Context) ([]domain.Attendant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Attendant, 0, len(s.st.attendants))
	for _, a := range s.st.attendants {
		out = append(out, a)
	}
	slices.SortFunc(out, func(a, b domain.Attendant) int {
		if c := cmp.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (s *Store) CreateGoal(_ context.Context, g *domain.Goal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.st.attendants[g.AttendantID]; !ok {
		return domain.ErrAttendantNotFound
	}
	s.st.goals[g.ID] = *g
	return nil
}

func (s *Store) GetGoal(_ context.Context, goalID string) (*domain.Goal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.st.goals[goalID]
	if !ok {
		return nil, domain.ErrGoalNotFound
	}
	return &g, nil
}

func (s *Store) DeactivateGoal(_ context.Context, goalID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.st.goals[goalID]
	if !ok {
		return domain.ErrGoalNotFound
	}
	g.IsActive = false
	g.UpdatedAt = at
	s.st.goals[goalID] = g
	return nil
}

func (s *Store) ListGoals(_ context.Context, attendantID string) ([]domain.Goal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Goal
	for _, g := range s.st.goals {
		if attendantID == "" || g.AttendantID == attendantID {
			out = append(out, g)
		}
	}
	sortGoals(out)
	return out, nil
}

func (s *Store) ListSales(_ context.Context, attendantID string, limit int) ([]domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Sale
	for _, sale := range s.st.sales {
		if attendantID == "" || sale.AttendantID == attendantID {
			out = append(out, sale)
		}
	}
	slices.SortFunc(out, func(a, b domain.Sale) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return truncate(out, limit), nil
}

func (s *Store) ListAchievements(_ context.Context, attendantID string, limit int) ([]domain.Achievement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Achievement
	for _, a := range s.st.achievements {
		if attendantID == "" || a.AttendantID == attendantID {
			out = append(out, a)
		}
	}
	slices.SortFunc(out, func(a, b domain.Achievement) int {
		if c := b.AchievedAt.Compare(a.AchievedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return truncate(out, limit), nil
}

func (s *Store) Leaderboard(_ context.Context, limit int) ([]domain.LeaderboardEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return truncate(s.st.board(), limit), nil
}

func (s *Store) EventsAfter(_ context.Context, afterID int64, limit int) ([]domain.PipelineEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, _ := slices.BinarySearchFunc(s.st.events, afterID+1, func(e domain.PipelineEvent, id int64) int {
		return cmp.Compare(e.ID, id)
	})
	return truncate(slices.Clone(s.st.events[i:]), limit), nil
}

func (s *Store) Cursor(_ context.Context, name string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.cursors[name], nil
}

func (s *Store) SaveCursor(_ context.Context, name string, lastID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.cursors[name] = lastID
	return nil
}

func truncate[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}
