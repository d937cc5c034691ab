package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sales-arena/internal/config"
	"github.com/sales-arena/internal/domain"
	"github.com/sales-arena/internal/service"
)

// Repository provides PostgreSQL-based data access
type Repository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

var _ service.Ledger = (*Repository)(nil)

// NewRepository creates a new PostgreSQL repository
func NewRepository(cfg *config.PostgresConfig, logger *slog.Logger) (*Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return NewRepositoryFromPool(pool, logger), nil
}

// NewRepositoryFromPool wraps an existing pool
func NewRepositoryFromPool(pool *pgxpool.Pool, logger *slog.Logger) *Repository {
	return &Repository{pool: pool, logger: logger}
}

// Close closes the database connection pool
func (r *Repository) Close() {
	r.pool.Close()
}

// Ping checks database connectivity
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// RunMigrations executes database migrations
func (r *Repository) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS attendants (
			id VARCHAR(64) PRIMARY KEY,
			name VARCHAR(120) NOT NULL,
			image_url TEXT NOT NULL DEFAULT '',
			earnings NUMERIC(14,2) NOT NULL DEFAULT 0 CHECK (earnings >= 0),
			last_sale_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS sales (
			id VARCHAR(64) PRIMARY KEY,
			attendant_id VARCHAR(64) NOT NULL REFERENCES attendants(id) ON DELETE RESTRICT,
			value NUMERIC(14,2) NOT NULL CHECK (value > 0),
			client_name VARCHAR(120) NOT NULL DEFAULT '',
			client_email VARCHAR(254) NOT NULL DEFAULT '',
			client_phone VARCHAR(32) NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS goals (
			id VARCHAR(64) PRIMARY KEY,
			attendant_id VARCHAR(64) NOT NULL REFERENCES attendants(id) ON DELETE CASCADE,
			title VARCHAR(200) NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			target_value NUMERIC(14,2) NOT NULL CHECK (target_value > 0),
			current_value NUMERIC(14,2) NOT NULL DEFAULT 0,
			goal_type VARCHAR(20) NOT NULL DEFAULT 'monthly',
			start_date TIMESTAMPTZ NOT NULL,
			end_date TIMESTAMPTZ,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS achievements (
			id VARCHAR(64) PRIMARY KEY,
			attendant_id VARCHAR(64) NOT NULL REFERENCES attendants(id) ON DELETE CASCADE,
			goal_id VARCHAR(64) NOT NULL REFERENCES goals(id) ON DELETE CASCADE,
			title VARCHAR(255) NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			badge_color VARCHAR(16) NOT NULL DEFAULT '',
			points_awarded BIGINT NOT NULL,
			achieved_at TIMESTAMPTZ NOT NULL,
			UNIQUE(goal_id)
		)`,
		`CREATE TABLE IF NOT EXISTS leaderboard_entries (
			attendant_id VARCHAR(64) PRIMARY KEY REFERENCES attendants(id) ON DELETE CASCADE,
			total_points BIGINT NOT NULL DEFAULT 0,
			current_streak INT NOT NULL DEFAULT 0,
			best_streak INT NOT NULL DEFAULT 0,
			rank BIGINT NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS pipeline_events (
			id BIGSERIAL PRIMARY KEY,
			event_type VARCHAR(40) NOT NULL,
			attendant_id VARCHAR(64) NOT NULL,
			sale_id VARCHAR(64) NOT NULL DEFAULT '',
			goal_id VARCHAR(64) NOT NULL DEFAULT '',
			achievement_id VARCHAR(64) NOT NULL DEFAULT '',
			payload JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS outbox_cursors (
			name VARCHAR(64) PRIMARY KEY,
			last_id BIGINT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sales_attendant ON sales(attendant_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_goals_attendant_active ON goals(attendant_id) WHERE is_active`,
		`CREATE INDEX IF NOT EXISTS idx_achievements_attendant ON achievements(attendant_id, achieved_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_leaderboard_rank ON leaderboard_entries(rank)`,
	}

	for _, migration := range migrations {
		_, err := r.pool.Exec(ctx, migration)
		if err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	r.logger.Info("database migrations completed")
	return nil
}

// InTx runs fn in a READ COMMITTED transaction. Same-attendant pipelines
// queue on the attendant row lock and every later statement sees the
// committed increment, so they never need a retry. Residual serialization
// failures and deadlocks are reported as domain.ErrConflict.
func (r *Repository) InTx(ctx context.Context, fn func(ctx context.Context, tx service.Tx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return asConflict(fmt.Errorf("beginning transaction: %w", err))
	}
	// no-op after a successful commit
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return asConflict(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return asConflict(fmt.Errorf("committing transaction: %w", err))
	}
	return nil
}

func isSerializationError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01")
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}

func asConflict(err error) error {
	if isSerializationError(err) {
		return fmt.Errorf("%w: %v", domain.ErrConflict, err)
	}
	return err
}
