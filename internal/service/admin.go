package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sales-arena/internal/config"
	"github.com/sales-arena/internal/domain"
	"github.com/shopspring/decimal"
)

// LeaderboardCache serves ranked snapshots published after commits
type LeaderboardCache interface {
	Top(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error)
}

// AdminService provides the plain CRUD and read queries around the pipeline
type AdminService struct {
	ledger       Ledger
	ranking      RankingService
	cache        LeaderboardCache
	observers    []Observer
	config       *config.LeaderboardConfig
	onlineWindow time.Duration
	logger       *slog.Logger
	now          func() time.Time
}

// NewAdminService creates a new admin service
func NewAdminService(ledger Ledger, cfg *config.LeaderboardConfig, onlineWindow time.Duration, logger *slog.Logger) *AdminService {
	return &AdminService{
		ledger:       ledger,
		config:       cfg,
		onlineWindow: onlineWindow,
		logger:       logger,
		now:          time.Now,
	}
}

// SetCache sets the leaderboard read cache consulted before the store
func (s *AdminService) SetCache(cache LeaderboardCache) {
	s.cache = cache
}

// AddObserver registers a consumer of committed admin changes that move
// the leaderboard
func (s *AdminService) AddObserver(o Observer) {
	s.observers = append(s.observers, o)
}

// CreateAttendant registers a new attendant with zero earnings
func (s *AdminService) CreateAttendant(ctx context.Context, req domain.CreateAttendantRequest) (*domain.Attendant, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	a := &domain.Attendant{
		ID:        uuid.NewString(),
		Name:      req.Name,
		ImageURL:  req.ImageURL,
		Earnings:  decimal.Zero,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.ledger.CreateAttendant(ctx, a); err != nil {
		return nil, fmt.Errorf("creating attendant: %w", err)
	}
	return a, nil
}

// GetAttendant returns one attendant with its derived status
func (s *AdminService) GetAttendant(ctx context.Context, attendantID string) (*domain.AttendantView, error) {
	a, err := s.ledger.GetAttendant(ctx, attendantID)
	if err != nil {
		return nil, err
	}
	view := s.attendantView(*a)
	return &view, nil
}

// ListAttendants returns all attendants with their derived status
func (s *AdminService) ListAttendants(ctx context.Context) ([]domain.AttendantView, error) {
	attendants, err := s.ledger.ListAttendants(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing attendants: %w", err)
	}
	views := make([]domain.AttendantView, 0, len(attendants))
	for _, a := range attendants {
		views = append(views, s.attendantView(a))
	}
	return views, nil
}

func (s *AdminService) attendantView(a domain.Attendant) domain.AttendantView {
	return domain.AttendantView{Attendant: a, Status: a.Status(s.now(), s.onlineWindow)}
}

// DeleteAttendant removes an attendant that has no recorded sales and
// reranks the remaining leaderboard so ranks stay contiguous. Observers get
// an attendant.deleted event together with the reranked board.
func (s *AdminService) DeleteAttendant(ctx context.Context, attendantID string) error {
	var (
		events []domain.PipelineEvent
		board  []domain.LeaderboardEntry
	)
	err := s.ledger.InTx(ctx, func(ctx context.Context, tx Tx) error {
		at := s.now().UTC()

		a, err := tx.LockAttendant(ctx, attendantID)
		if err != nil {
			return err
		}
		if err := tx.LockLeaderboard(ctx); err != nil {
			return err
		}
		if err := tx.DeleteAttendant(ctx, attendantID); err != nil {
			return err
		}
		ranked, err := s.ranking.Rerank(ctx, tx)
		if err != nil {
			return err
		}

		ev, err := domain.NewEvent(domain.EventAttendantDeleted, attendantID, a, at)
		if err != nil {
			return fmt.Errorf("building events: %w", err)
		}
		evs := []domain.PipelineEvent{ev}
		if err := tx.AppendEvents(ctx, evs); err != nil {
			return fmt.Errorf("appending events: %w", err)
		}

		events = evs
		// non-nil so observers replace their ranking even when it is now empty
		board = ranked
		if board == nil {
			board = []domain.LeaderboardEntry{}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("attendant deleted", "attendant_id", attendantID, "remaining", len(board))
	notifyCtx := context.WithoutCancel(ctx)
	for _, o := range s.observers {
		o.OnCommit(notifyCtx, events, board)
	}
	return nil
}

// CreateGoal creates an active goal. Its current value starts at zero and
// mirrors earnings from the next recorded sale on.
func (s *AdminService) CreateGoal(ctx context.Context, req domain.CreateGoalRequest) (*domain.Goal, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	a, err := s.ledger.GetAttendant(ctx, req.AttendantID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	start := req.StartDate
	if start.IsZero() {
		start = now
	}
	g := &domain.Goal{
		ID:           uuid.NewString(),
		AttendantID:  a.ID,
		Title:        req.Title,
		Description:  req.Description,
		TargetValue:  req.TargetValue,
		CurrentValue: decimal.Zero,
		Type:         req.Type,
		StartDate:    start,
		EndDate:      req.EndDate,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.ledger.CreateGoal(ctx, g); err != nil {
		return nil, fmt.Errorf("creating goal: %w", err)
	}
	return g, nil
}

// DeactivateGoal stops progress tracking for a goal
func (s *AdminService) DeactivateGoal(ctx context.Context, goalID string) error {
	return s.ledger.DeactivateGoal(ctx, goalID, s.now().UTC())
}

// ListGoals returns goals with progress and derived status; an empty
// attendantID lists every goal.
func (s *AdminService) ListGoals(ctx context.Context, attendantID string) ([]domain.GoalView, error) {
	goals, err := s.ledger.ListGoals(ctx, attendantID)
	if err != nil {
		return nil, fmt.Errorf("listing goals: %w", err)
	}
	now := s.now()
	views := make([]domain.GoalView, 0, len(goals))
	for _, g := range goals {
		views = append(views, domain.NewGoalView(g, now))
	}
	return views, nil
}

// ListSales returns the newest sales first
func (s *AdminService) ListSales(ctx context.Context, attendantID string, limit int) ([]domain.Sale, error) {
	return s.ledger.ListSales(ctx, attendantID, s.clamp(limit))
}

// ListAchievements returns the newest achievements first
func (s *AdminService) ListAchievements(ctx context.Context, attendantID string, limit int) ([]domain.Achievement, error) {
	return s.ledger.ListAchievements(ctx, attendantID, s.clamp(limit))
}

// Leaderboard returns the top entries by rank, from the cache when it answers
func (s *AdminService) Leaderboard(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error) {
	limit = s.clamp(limit)
	if s.cache != nil {
		entries, err := s.cache.Top(ctx, limit)
		if err == nil && len(entries) > 0 {
			return entries, nil
		}
		if err != nil {
			s.logger.Warn("leaderboard cache read failed, using store", "error", err)
		}
	}
	return s.ledger.Leaderboard(ctx, limit)
}

// Events returns outbox events with ID greater than afterID
func (s *AdminService) Events(ctx context.Context, afterID int64, limit int) ([]domain.PipelineEvent, error) {
	return s.ledger.EventsAfter(ctx, afterID, s.clamp(limit))
}

func (s *AdminService) clamp(limit int) int {
	if limit <= 0 {
		limit = s.config.DefaultLimit
	}
	if limit > s.config.MaxLimit {
		limit = s.config.MaxLimit
	}
	return limit
}
