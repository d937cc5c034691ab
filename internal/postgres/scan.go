package postgres

import (
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sales-arena/internal/domain"
	"github.com/shopspring/decimal"
)

// NUMERIC columns travel as text and are parsed with decimal so no value
// ever passes through a float.
const (
	attendantColumns = `a.id, a.name, a.image_url, a.earnings::text, a.last_sale_at, a.created_at, a.updated_at`
	saleColumns      = `id, attendant_id, value::text, client_name, client_email, client_phone, created_at`
	goalColumns      = `id, attendant_id, title, description, target_value::text, current_value::text, goal_type, start_date, end_date, is_active, created_at, updated_at`
	achievementCols  = `id, attendant_id, goal_id, title, description, badge_color, points_awarded, achieved_at`
	entryColumns     = `l.attendant_id, a.name, l.total_points, l.current_streak, l.best_streak, l.rank, l.updated_at`
	eventColumns     = `id, event_type, attendant_id, sale_id, goal_id, achievement_id, payload, created_at`
)

func scanAttendant(row pgx.Row) (*domain.Attendant, error) {
	var (
		a        domain.Attendant
		earnings string
	)
	if err := row.Scan(&a.ID, &a.Name, &a.ImageURL, &earnings, &a.LastSaleAt, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if a.Earnings, err = decimal.NewFromString(earnings); err != nil {
		return nil, fmt.Errorf("parsing earnings: %w", err)
	}
	return &a, nil
}

func scanSale(row pgx.Row) (*domain.Sale, error) {
	var (
		s     domain.Sale
		value string
	)
	if err := row.Scan(&s.ID, &s.AttendantID, &value, &s.Client.Name, &s.Client.Email, &s.Client.Phone, &s.CreatedAt); err != nil {
		return nil, err
	}
	var err error
	if s.Value, err = decimal.NewFromString(value); err != nil {
		return nil, fmt.Errorf("parsing sale value: %w", err)
	}
	return &s, nil
}

func scanGoal(row pgx.Row) (*domain.Goal, error) {
	var (
		g               domain.Goal
		target, current string
		endDate         *time.Time
	)
	err := row.Scan(
		&g.ID,
		&g.AttendantID,
		&g.Title,
		&g.Description,
		&target,
		&current,
		&g.Type,
		&g.StartDate,
		&endDate,
		&g.IsActive,
		&g.CreatedAt,
		&g.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if g.TargetValue, err = decimal.NewFromString(target); err != nil {
		return nil, fmt.Errorf("parsing target value: %w", err)
	}
	if g.CurrentValue, err = decimal.NewFromString(current); err != nil {
		return nil, fmt.Errorf("parsing current value: %w", err)
	}
	if endDate != nil {
		g.EndDate = *endDate
	}
	return &g, nil
}

func scanAchievement(row pgx.Row) (*domain.Achievement, error) {
	var a domain.Achievement
	err := row.Scan(&a.ID, &a.AttendantID, &a.GoalID, &a.Title, &a.Description, &a.BadgeColor, &a.PointsAwarded, &a.AchievedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func scanEntry(row pgx.Row) (*domain.LeaderboardEntry, error) {
	var e domain.LeaderboardEntry
	err := row.Scan(&e.AttendantID, &e.AttendantName, &e.TotalPoints, &e.CurrentStreak, &e.BestStreak, &e.Rank, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func scanEvent(row pgx.Row) (*domain.PipelineEvent, error) {
	var (
		e       domain.PipelineEvent
		payload []byte
	)
	err := row.Scan(&e.ID, &e.Type, &e.AttendantID, &e.SaleID, &e.GoalID, &e.AchievementID, &payload, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	e.Payload = payload
	return &e, nil
}

// collect scans every row with scan
func collect[T any](rows pgx.Rows, scan func(pgx.Row) (*T, error)) ([]T, error) {
	defer rows.Close()
	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func isCheckViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23514"
}

// isNumericOverflow reports a value too large for its NUMERIC column
func isNumericOverflow(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "22003"
}

func notFound(err, sentinel error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return sentinel
	}
	return err
}
