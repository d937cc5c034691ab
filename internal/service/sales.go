package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sales-arena/internal/config"
	"github.com/sales-arena/internal/domain"
	"github.com/sales-arena/internal/metrics"
	"github.com/shopspring/decimal"
)

const maxRetryDelay = time.Second

// SaleOutcome describes everything one committed sale changed
type SaleOutcome struct {
	Sale         domain.Sale               `json:"sale"`
	Earnings     decimal.Decimal           `json:"earnings"`
	Goals        []domain.Goal             `json:"goals"`
	Achievements []domain.Achievement      `json:"achievements"`
	Leaderboard  []domain.LeaderboardEntry `json:"leaderboard,omitempty"`
	Events       []domain.PipelineEvent    `json:"-"`
}

// SalesService is the sale ingestion orchestrator. Each submitted sale runs
// persist -> earnings -> goals -> achievements -> leaderboard inside one
// store transaction.
type SalesService struct {
	store        Store
	earnings     EarningsAccumulator
	goals        GoalTracker
	achievements AchievementEngine
	ranking      RankingService
	observers    []Observer
	config       *config.PipelineConfig
	metrics      *metrics.Pipeline
	logger       *slog.Logger
	now          func() time.Time
}

// NewSalesService creates a new sales service
func NewSalesService(store Store, cfg *config.PipelineConfig, m *metrics.Pipeline, logger *slog.Logger) *SalesService {
	return &SalesService{
		store:        store,
		achievements: AchievementEngine{Points: cfg.PointAward},
		config:       cfg,
		metrics:      m,
		logger:       logger,
		now:          time.Now,
	}
}

// AddObserver registers a consumer of committed pipeline results
func (s *SalesService) AddObserver(o Observer) {
	s.observers = append(s.observers, o)
}

// SubmitSale records one sale and applies its gamification effects.
func (s *SalesService) SubmitSale(ctx context.Context, submission domain.SaleSubmission) (*domain.Sale, error) {
	out, err := s.Process(ctx, submission)
	if err != nil {
		return nil, err
	}
	return &out.Sale, nil
}

// Process is SubmitSale returning the full outcome of the pipeline.
func (s *SalesService) Process(ctx context.Context, submission domain.SaleSubmission) (*SaleOutcome, error) {
	start := time.Now()

	if err := submission.Validate(); err != nil {
		s.metrics.SaleRejected(rejectReason(err))
		return nil, err
	}

	if s.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.Timeout)
		defer cancel()
	}

	var out *SaleOutcome
	err := s.runInTx(ctx, func(ctx context.Context, tx Tx) error {
		o, err := s.ingest(ctx, tx, submission)
		if err != nil {
			return err
		}
		out = o
		return nil
	})
	if err != nil {
		s.metrics.SaleRejected(rejectReason(err))
		if !domain.IsValidationError(err) && !domain.IsNotFoundError(err) {
			s.logger.Error("sale pipeline failed",
				"attendant_id", submission.AttendantID,
				"error", err,
			)
		}
		return nil, err
	}

	s.metrics.SaleCommitted(len(out.Achievements), time.Since(start))
	s.logger.Info("sale recorded",
		"sale_id", out.Sale.ID,
		"attendant_id", out.Sale.AttendantID,
		"value", domain.FormatMoney(out.Sale.Value),
		"earnings", domain.FormatMoney(out.Earnings),
		"goals_updated", len(out.Goals),
		"achievements", len(out.Achievements),
	)

	s.notify(context.WithoutCancel(ctx), out.Events, out.Leaderboard)
	return out, nil
}

func (s *SalesService) ingest(ctx context.Context, tx Tx, submission domain.SaleSubmission) (*SaleOutcome, error) {
	at := s.now().UTC()

	if _, err := tx.LockAttendant(ctx, submission.AttendantID); err != nil {
		return nil, err
	}

	sale := domain.Sale{
		ID:          uuid.NewString(),
		AttendantID: submission.AttendantID,
		Value:       domain.RoundMoney(submission.Value),
		Client:      submission.Client,
		CreatedAt:   at,
	}
	if err := tx.InsertSale(ctx, &sale); err != nil {
		return nil, fmt.Errorf("inserting sale: %w", err)
	}

	earnings, err := s.earnings.Add(ctx, tx, sale.AttendantID, sale.Value, at)
	if err != nil {
		return nil, err
	}
	if err := tx.TouchLastSale(ctx, sale.AttendantID, at); err != nil {
		return nil, fmt.Errorf("touching last sale: %w", err)
	}

	changes, err := s.goals.Recompute(ctx, tx, sale.AttendantID, earnings, at)
	if err != nil {
		return nil, err
	}

	minted, err := s.achievements.Evaluate(ctx, tx, changes, at)
	if err != nil {
		return nil, err
	}

	if err := tx.LockLeaderboard(ctx); err != nil {
		return nil, err
	}
	created, err := tx.EnsureLeaderboardEntry(ctx, sale.AttendantID, at)
	if err != nil {
		return nil, fmt.Errorf("ensuring leaderboard entry: %w", err)
	}
	if err := s.ranking.Award(ctx, tx, minted, at); err != nil {
		return nil, err
	}

	var board []domain.LeaderboardEntry
	if created || len(minted) > 0 {
		board, err = s.ranking.Rerank(ctx, tx)
		if err != nil {
			return nil, err
		}
	}

	out := &SaleOutcome{
		Sale:         sale,
		Earnings:     earnings,
		Goals:        make([]domain.Goal, 0, len(changes)),
		Achievements: minted,
		Leaderboard:  board,
	}
	for _, c := range changes {
		out.Goals = append(out.Goals, c.Goal)
	}

	out.Events, err = saleEvents(out, changes, at)
	if err != nil {
		return nil, fmt.Errorf("building events: %w", err)
	}
	if err := tx.AppendEvents(ctx, out.Events); err != nil {
		return nil, fmt.Errorf("appending events: %w", err)
	}
	return out, nil
}

func saleEvents(out *SaleOutcome, changes []GoalChange, at time.Time) ([]domain.PipelineEvent, error) {
	recorded, err := domain.NewEvent(domain.EventSaleRecorded, out.Sale.AttendantID, map[string]any{
		"sale":     out.Sale,
		"earnings": out.Earnings,
	}, at)
	if err != nil {
		return nil, err
	}
	recorded.SaleID = out.Sale.ID
	events := []domain.PipelineEvent{recorded}

	// a goal completes once per lifetime; recrossing after a deleted sale
	// mints nothing and publishes nothing
	minted := make(map[string]bool, len(out.Achievements))
	for _, a := range out.Achievements {
		minted[a.GoalID] = true
	}
	for _, c := range changes {
		if !c.Crossed() || !minted[c.Goal.ID] {
			continue
		}
		ev, err := domain.NewEvent(domain.EventGoalCompleted, c.Goal.AttendantID, domain.NewGoalView(c.Goal, at), at)
		if err != nil {
			return nil, err
		}
		ev.SaleID = out.Sale.ID
		ev.GoalID = c.Goal.ID
		events = append(events, ev)
	}

	for _, a := range out.Achievements {
		ev, err := domain.NewEvent(domain.EventAchievementUnlocked, a.AttendantID, a, at)
		if err != nil {
			return nil, err
		}
		ev.SaleID = out.Sale.ID
		ev.GoalID = a.GoalID
		ev.AchievementID = a.ID
		events = append(events, ev)
	}
	return events, nil
}

// DeleteSale removes a sale and compensates the owning attendant: earnings
// drop by the sale value and active goals are recomputed. Achievements and
// leaderboard points already awarded are kept.
func (s *SalesService) DeleteSale(ctx context.Context, saleID string) (*domain.Sale, error) {
	if s.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.Timeout)
		defer cancel()
	}

	var (
		deleted *domain.Sale
		events  []domain.PipelineEvent
	)
	err := s.runInTx(ctx, func(ctx context.Context, tx Tx) error {
		at := s.now().UTC()

		sale, err := tx.GetSale(ctx, saleID)
		if err != nil {
			return err
		}
		if _, err := tx.LockAttendant(ctx, sale.AttendantID); err != nil {
			return err
		}
		if err := tx.DeleteSale(ctx, sale.ID); err != nil {
			return fmt.Errorf("deleting sale: %w", err)
		}

		earnings, err := s.earnings.Subtract(ctx, tx, sale.AttendantID, sale.Value, at)
		if err != nil {
			return err
		}
		if _, err := s.goals.Recompute(ctx, tx, sale.AttendantID, earnings, at); err != nil {
			return err
		}

		ev, err := domain.NewEvent(domain.EventSaleDeleted, sale.AttendantID, map[string]any{
			"sale":     sale,
			"earnings": earnings,
		}, at)
		if err != nil {
			return fmt.Errorf("building events: %w", err)
		}
		ev.SaleID = sale.ID
		evs := []domain.PipelineEvent{ev}
		if err := tx.AppendEvents(ctx, evs); err != nil {
			return fmt.Errorf("appending events: %w", err)
		}

		deleted = sale
		events = evs
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.SaleDeleted()
	s.logger.Info("sale deleted", "sale_id", deleted.ID, "attendant_id", deleted.AttendantID)
	s.notify(context.WithoutCancel(ctx), events, nil)
	return deleted, nil
}

// runInTx retries the whole transaction on serialization conflicts with
// exponential backoff, up to the configured number of attempts.
func (s *SalesService) runInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	attempts := s.config.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	delay := s.config.RetryBaseDelay

	for attempt := 1; ; attempt++ {
		err := s.store.InTx(ctx, fn)
		if err == nil || !domain.IsConflictError(err) {
			return err
		}
		if attempt >= attempts {
			return fmt.Errorf("giving up after %d attempts: %w", attempt, err)
		}

		s.metrics.Retried()
		s.logger.Warn("pipeline conflict, retrying", "attempt", attempt, "delay", delay, "error", err)

		if err := sleepWithContext(ctx, delay); err != nil {
			return err
		}
		if delay < maxRetryDelay {
			delay *= 2
		}
	}
}

func (s *SalesService) notify(ctx context.Context, events []domain.PipelineEvent, board []domain.LeaderboardEntry) {
	for _, o := range s.observers {
		o.OnCommit(ctx, events, board)
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func rejectReason(err error) string {
	switch {
	case domain.IsNotFoundError(err):
		return "not_found"
	case domain.IsValidationError(err):
		return "validation"
	case domain.IsConflictError(err):
		return "conflict"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "timeout"
	default:
		return "storage"
	}
}
