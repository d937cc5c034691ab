package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sales-arena/internal/domain"
	"github.com/shopspring/decimal"
)

// pgTx implements service.Tx on one open transaction
type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) LockAttendant(ctx context.Context, attendantID string) (*domain.Attendant, error) {
	query := `SELECT ` + attendantColumns + ` FROM attendants a WHERE a.id = $1 FOR UPDATE`
	a, err := scanAttendant(t.tx.QueryRow(ctx, query, attendantID))
	if err != nil {
		return nil, notFound(err, domain.ErrAttendantNotFound)
	}
	return a, nil
}

func (t *pgTx) DeleteAttendant(ctx context.Context, attendantID string) error {
	var hasSales bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM sales WHERE attendant_id = $1)`, attendantID).Scan(&hasSales)
	if err != nil {
		return fmt.Errorf("checking attendant sales: %w", err)
	}
	if hasSales {
		return domain.ErrAttendantHasSales
	}

	result, err := t.tx.Exec(ctx, `DELETE FROM attendants WHERE id = $1`, attendantID)
	if err != nil {
		if isForeignKeyViolation(err) {
			return domain.ErrAttendantHasSales
		}
		return fmt.Errorf("deleting attendant: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrAttendantNotFound
	}
	return nil
}

func (t *pgTx) InsertSale(ctx context.Context, sale *domain.Sale) error {
	query := `
		INSERT INTO sales (id, attendant_id, value, client_name, client_email, client_phone, created_at)
		VALUES ($1, $2, $3::numeric, $4, $5, $6, $7)
	`
	_, err := t.tx.Exec(ctx, query,
		sale.ID,
		sale.AttendantID,
		sale.Value.StringFixed(domain.MoneyPlaces),
		sale.Client.Name,
		sale.Client.Email,
		sale.Client.Phone,
		sale.CreatedAt,
	)
	if err != nil {
		switch {
		case isForeignKeyViolation(err):
			return domain.ErrAttendantNotFound
		case isCheckViolation(err), isNumericOverflow(err):
			return domain.ErrInvalidSaleValue
		}
		return err
	}
	return nil
}

func (t *pgTx) GetSale(ctx context.Context, saleID string) (*domain.Sale, error) {
	s, err := scanSale(t.tx.QueryRow(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = $1`, saleID))
	if err != nil {
		return nil, notFound(err, domain.ErrSaleNotFound)
	}
	return s, nil
}

func (t *pgTx) DeleteSale(ctx context.Context, saleID string) error {
	result, err := t.tx.Exec(ctx, `DELETE FROM sales WHERE id = $1`, saleID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return domain.ErrSaleNotFound
	}
	return nil
}

func (t *pgTx) AddEarnings(ctx context.Context, attendantID string, delta decimal.Decimal, at time.Time) (decimal.Decimal, error) {
	query := `
		UPDATE attendants
		SET earnings = earnings + $2::numeric, updated_at = $3
		WHERE id = $1
		RETURNING earnings::text
	`
	var total string
	err := t.tx.QueryRow(ctx, query, attendantID, delta.StringFixed(domain.MoneyPlaces), at).Scan(&total)
	if err != nil {
		switch {
		case isCheckViolation(err):
			return decimal.Zero, domain.ErrNegativeEarnings
		case isNumericOverflow(err):
			return decimal.Zero, domain.ErrEarningsLimit
		}
		return decimal.Zero, notFound(err, domain.ErrAttendantNotFound)
	}
	return decimal.NewFromString(total)
}

func (t *pgTx) TouchLastSale(ctx context.Context, attendantID string, at time.Time) error {
	result, err := t.tx.Exec(ctx, `UPDATE attendants SET last_sale_at = $2 WHERE id = $1`, attendantID, at)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return domain.ErrAttendantNotFound
	}
	return nil
}

func (t *pgTx) ActiveGoals(ctx context.Context, attendantID string) ([]domain.Goal, error) {
	query := `
		SELECT ` + goalColumns + `
		FROM goals
		WHERE attendant_id = $1 AND is_active
		ORDER BY created_at, id
		FOR UPDATE
	`
	rows, err := t.tx.Query(ctx, query, attendantID)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanGoal)
}

func (t *pgTx) SetGoalValue(ctx context.Context, goalID string, value decimal.Decimal, at time.Time) error {
	result, err := t.tx.Exec(ctx,
		`UPDATE goals SET current_value = $2::numeric, updated_at = $3 WHERE id = $1`,
		goalID, value.StringFixed(domain.MoneyPlaces), at,
	)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return domain.ErrGoalNotFound
	}
	return nil
}

func (t *pgTx) InsertAchievement(ctx context.Context, a *domain.Achievement) (bool, error) {
	query := `
		INSERT INTO achievements (id, attendant_id, goal_id, title, description, badge_color, points_awarded, achieved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (goal_id) DO NOTHING
	`
	result, err := t.tx.Exec(ctx, query,
		a.ID,
		a.AttendantID,
		a.GoalID,
		a.Title,
		a.Description,
		a.BadgeColor,
		a.PointsAwarded,
		a.AchievedAt,
	)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() == 1, nil
}

// LockLeaderboard takes a self-exclusive table lock. Plain reads still
// proceed; concurrent point writers and reranks queue behind it.
func (t *pgTx) LockLeaderboard(ctx context.Context) error {
	if _, err := t.tx.Exec(ctx, `LOCK TABLE leaderboard_entries IN SHARE ROW EXCLUSIVE MODE`); err != nil {
		return fmt.Errorf("locking leaderboard: %w", err)
	}
	return nil
}

func (t *pgTx) EnsureLeaderboardEntry(ctx context.Context, attendantID string, at time.Time) (bool, error) {
	query := `
		INSERT INTO leaderboard_entries (attendant_id, updated_at)
		VALUES ($1, $2)
		ON CONFLICT (attendant_id) DO NOTHING
	`
	result, err := t.tx.Exec(ctx, query, attendantID, at)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() == 1, nil
}

func (t *pgTx) AddPoints(ctx context.Context, attendantID string, points int64, at time.Time) (*domain.LeaderboardEntry, error) {
	query := `
		INSERT INTO leaderboard_entries AS l (attendant_id, total_points, current_streak, best_streak, updated_at)
		VALUES ($1, $2, 1, 1, $3)
		ON CONFLICT (attendant_id)
		DO UPDATE SET
			total_points = l.total_points + EXCLUDED.total_points,
			current_streak = l.current_streak + 1,
			best_streak = GREATEST(l.best_streak, l.current_streak + 1),
			updated_at = EXCLUDED.updated_at
		RETURNING l.attendant_id, (SELECT name FROM attendants WHERE id = $1),
			l.total_points, l.current_streak, l.best_streak, l.rank, l.updated_at
	`
	return scanEntry(t.tx.QueryRow(ctx, query, attendantID, points, at))
}

func (t *pgTx) LeaderboardForUpdate(ctx context.Context) ([]domain.LeaderboardEntry, error) {
	query := `
		SELECT ` + entryColumns + `
		FROM leaderboard_entries l
		JOIN attendants a ON a.id = l.attendant_id
		ORDER BY l.rank, l.attendant_id
	`
	rows, err := t.tx.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanEntry)
}

func (t *pgTx) SetRanks(ctx context.Context, entries []domain.LeaderboardEntry) error {
	if len(entries) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(`UPDATE leaderboard_entries SET rank = $2 WHERE attendant_id = $1`, e.AttendantID, e.Rank)
	}

	br := t.tx.SendBatch(ctx, batch)
	defer br.Close()

	for range entries {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("batch updating ranks: %w", err)
		}
	}
	return nil
}

// eventSequenceLock is the advisory lock key serializing outbox appends
const eventSequenceLock = 0x5a1e5

func (t *pgTx) AppendEvents(ctx context.Context, events []domain.PipelineEvent) error {
	if len(events) == 0 {
		return nil
	}
	// held until commit so event ids become visible in increasing order and
	// a poller resuming after the highest seen id never skips one
	if _, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(eventSequenceLock)); err != nil {
		return fmt.Errorf("locking event sequence: %w", err)
	}

	query := `
		INSERT INTO pipeline_events (event_type, attendant_id, sale_id, goal_id, achievement_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`
	for i := range events {
		e := &events[i]
		var payload []byte
		if len(e.Payload) > 0 {
			payload = e.Payload
		}
		err := t.tx.QueryRow(ctx, query,
			string(e.Type),
			e.AttendantID,
			e.SaleID,
			e.GoalID,
			e.AchievementID,
			payload,
			e.CreatedAt,
		).Scan(&e.ID)
		if err != nil {
			return fmt.Errorf("inserting %s event: %w", e.Type, err)
		}
	}
	return nil
}
