package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sales-arena/internal/domain"
)

// CreateAttendant inserts a new attendant
func (r *Repository) CreateAttendant(ctx context.Context, a *domain.Attendant) error {
	query := `
		INSERT INTO attendants (id, name, image_url, earnings, created_at, updated_at)
		VALUES ($1, $2, $3, $4::numeric, $5, $6)
	`
	_, err := r.pool.Exec(ctx, query,
		a.ID,
		a.Name,
		a.ImageURL,
		a.Earnings.StringFixed(domain.MoneyPlaces),
		a.CreatedAt,
		a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating attendant: %w", err)
	}
	return nil
}

// GetAttendant retrieves an attendant by ID
func (r *Repository) GetAttendant(ctx context.Context, attendantID string) (*domain.Attendant, error) {
	query := `SELECT ` + attendantColumns + ` FROM attendants a WHERE a.id = $1`
	a, err := scanAttendant(r.pool.QueryRow(ctx, query, attendantID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAttendantNotFound
		}
		return nil, fmt.Errorf("getting attendant: %w", err)
	}
	return a, nil
}

// ListAttendants retrieves all attendants ordered by name
func (r *Repository) ListAttendants(ctx context.Context) ([]domain.Attendant, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+attendantColumns+` FROM attendants a ORDER BY a.name, a.id`)
	if err != nil {
		return nil, fmt.Errorf("listing attendants: %w", err)
	}
	attendants, err := collect(rows, scanAttendant)
	if err != nil {
		return nil, fmt.Errorf("scanning attendant: %w", err)
	}
	return attendants, nil
}

// CreateGoal inserts a new goal
func (r *Repository) CreateGoal(ctx context.Context, g *domain.Goal) error {
	query := `
		INSERT INTO goals (id, attendant_id, title, description, target_value, current_value,
			goal_type, start_date, end_date, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7, $8, $9, $10, $11, $12)
	`
	_, err := r.pool.Exec(ctx, query,
		g.ID,
		g.AttendantID,
		g.Title,
		g.Description,
		g.TargetValue.StringFixed(domain.MoneyPlaces),
		g.CurrentValue.StringFixed(domain.MoneyPlaces),
		string(g.Type),
		g.StartDate,
		nullTime(g.EndDate),
		g.IsActive,
		g.CreatedAt,
		g.UpdatedAt,
	)
	if err != nil {
		switch {
		case isForeignKeyViolation(err):
			return domain.ErrAttendantNotFound
		case isCheckViolation(err), isNumericOverflow(err):
			return domain.ErrInvalidGoal
		}
		return fmt.Errorf("creating goal: %w", err)
	}
	return nil
}

// GetGoal retrieves a goal by ID
func (r *Repository) GetGoal(ctx context.Context, goalID string) (*domain.Goal, error) {
	g, err := scanGoal(r.pool.QueryRow(ctx, `SELECT `+goalColumns+` FROM goals WHERE id = $1`, goalID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrGoalNotFound
		}
		return nil, fmt.Errorf("getting goal: %w", err)
	}
	return g, nil
}

// DeactivateGoal clears the active flag of a goal
func (r *Repository) DeactivateGoal(ctx context.Context, goalID string, at time.Time) error {
	result, err := r.pool.Exec(ctx, `UPDATE goals SET is_active = FALSE, updated_at = $2 WHERE id = $1`, goalID, at)
	if err != nil {
		return fmt.Errorf("deactivating goal: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrGoalNotFound
	}
	return nil
}

// ListGoals retrieves the goals of one attendant, or all goals when attendantID is empty
func (r *Repository) ListGoals(ctx context.Context, attendantID string) ([]domain.Goal, error) {
	query := `
		SELECT ` + goalColumns + `
		FROM goals
		WHERE $1 = '' OR attendant_id = $1
		ORDER BY created_at, id
	`
	rows, err := r.pool.Query(ctx, query, attendantID)
	if err != nil {
		return nil, fmt.Errorf("listing goals: %w", err)
	}
	goals, err := collect(rows, scanGoal)
	if err != nil {
		return nil, fmt.Errorf("scanning goal: %w", err)
	}
	return goals, nil
}

// ListSales retrieves sales newest first; a zero limit returns all
func (r *Repository) ListSales(ctx context.Context, attendantID string, limit int) ([]domain.Sale, error) {
	query := `
		SELECT ` + saleColumns + `
		FROM sales
		WHERE $1 = '' OR attendant_id = $1
		ORDER BY created_at DESC, id
		LIMIT NULLIF($2::bigint, 0)
	`
	rows, err := r.pool.Query(ctx, query, attendantID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing sales: %w", err)
	}
	sales, err := collect(rows, scanSale)
	if err != nil {
		return nil, fmt.Errorf("scanning sale: %w", err)
	}
	return sales, nil
}

// ListAchievements retrieves achievements newest first; a zero limit returns all
func (r *Repository) ListAchievements(ctx context.Context, attendantID string, limit int) ([]domain.Achievement, error) {
	query := `
		SELECT ` + achievementCols + `
		FROM achievements
		WHERE $1 = '' OR attendant_id = $1
		ORDER BY achieved_at DESC, id
		LIMIT NULLIF($2::bigint, 0)
	`
	rows, err := r.pool.Query(ctx, query, attendantID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing achievements: %w", err)
	}
	achievements, err := collect(rows, scanAchievement)
	if err != nil {
		return nil, fmt.Errorf("scanning achievement: %w", err)
	}
	return achievements, nil
}

// Leaderboard retrieves the committed ranking; a zero limit returns every entry
func (r *Repository) Leaderboard(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error) {
	query := `
		SELECT ` + entryColumns + `
		FROM leaderboard_entries l
		JOIN attendants a ON a.id = l.attendant_id
		ORDER BY l.rank, l.attendant_id
		LIMIT NULLIF($1::bigint, 0)
	`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("getting leaderboard: %w", err)
	}
	entries, err := collect(rows, scanEntry)
	if err != nil {
		return nil, fmt.Errorf("scanning entry: %w", err)
	}
	return entries, nil
}

// EventsAfter retrieves outbox events with id greater than afterID in id order
func (r *Repository) EventsAfter(ctx context.Context, afterID int64, limit int) ([]domain.PipelineEvent, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM pipeline_events
		WHERE id > $1
		ORDER BY id
		LIMIT NULLIF($2::bigint, 0)
	`
	rows, err := r.pool.Query(ctx, query, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("reading events: %w", err)
	}
	events, err := collect(rows, scanEvent)
	if err != nil {
		return nil, fmt.Errorf("scanning event: %w", err)
	}
	return events, nil
}

// Cursor returns the last relayed event id for a named consumer
func (r *Repository) Cursor(ctx context.Context, name string) (int64, error) {
	var lastID int64
	err := r.pool.QueryRow(ctx, `SELECT last_id FROM outbox_cursors WHERE name = $1`, name).Scan(&lastID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading cursor: %w", err)
	}
	return lastID, nil
}

// SaveCursor stores the last relayed event id for a named consumer
func (r *Repository) SaveCursor(ctx context.Context, name string, lastID int64) error {
	query := `
		INSERT INTO outbox_cursors (name, last_id, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET last_id = EXCLUDED.last_id, updated_at = EXCLUDED.updated_at
	`
	if _, err := r.pool.Exec(ctx, query, name, lastID, time.Now()); err != nil {
		return fmt.Errorf("saving cursor: %w", err)
	}
	return nil
}
