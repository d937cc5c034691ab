package service

import (
	"context"
	"time"

	"github.com/sales-arena/internal/domain"
	"github.com/shopspring/decimal"
)

// Store is the ledger store boundary. InTx runs fn as one atomic unit of
// work: either every write made through tx is committed or none is.
// Implementations report serialization failures as domain.ErrConflict.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the set of persistence operations the pipeline performs inside a
// transaction. It carries no business rules.
type Tx interface {
	// LockAttendant loads the attendant and holds it against concurrent
	// pipelines for the same attendant until the transaction ends.
	LockAttendant(ctx context.Context, attendantID string) (*domain.Attendant, error)
	// DeleteAttendant removes the attendant with its goals, achievements
	// and leaderboard entry. It fails with domain.ErrAttendantHasSales
	// while any sale references the attendant.
	DeleteAttendant(ctx context.Context, attendantID string) error

	InsertSale(ctx context.Context, sale *domain.Sale) error
	GetSale(ctx context.Context, saleID string) (*domain.Sale, error)
	DeleteSale(ctx context.Context, saleID string) error

	// AddEarnings atomically adds delta to the attendant's earnings and
	// returns the new total.
	AddEarnings(ctx context.Context, attendantID string, delta decimal.Decimal, at time.Time) (decimal.Decimal, error)
	TouchLastSale(ctx context.Context, attendantID string, at time.Time) error

	ActiveGoals(ctx context.Context, attendantID string) ([]domain.Goal, error)
	SetGoalValue(ctx context.Context, goalID string, value decimal.Decimal, at time.Time) error

	// InsertAchievement stores a unless an achievement for the same goal
	// already exists; inserted reports which happened.
	InsertAchievement(ctx context.Context, a *domain.Achievement) (inserted bool, err error)

	// LockLeaderboard excludes every other leaderboard writer until the
	// transaction ends. It must precede the first leaderboard write in a
	// transaction that may rerank.
	LockLeaderboard(ctx context.Context) error
	EnsureLeaderboardEntry(ctx context.Context, attendantID string, at time.Time) (created bool, err error)
	AddPoints(ctx context.Context, attendantID string, points int64, at time.Time) (*domain.LeaderboardEntry, error)
	// LeaderboardForUpdate returns every entry. Callers hold LockLeaderboard.
	LeaderboardForUpdate(ctx context.Context) ([]domain.LeaderboardEntry, error)
	SetRanks(ctx context.Context, entries []domain.LeaderboardEntry) error

	AppendEvents(ctx context.Context, events []domain.PipelineEvent) error
}

// Queries are the plain reads and admin writes served outside the pipeline.
type Queries interface {
	CreateAttendant(ctx context.Context, a *domain.Attendant) error
	GetAttendant(ctx context.Context, attendantID string) (*domain.Attendant, error)
	ListAttendants(ctx context.Context) ([]domain.Attendant, error)

	CreateGoal(ctx context.Context, g *domain.Goal) error
	GetGoal(ctx context.Context, goalID string) (*domain.Goal, error)
	DeactivateGoal(ctx context.Context, goalID string, at time.Time) error
	ListGoals(ctx context.Context, attendantID string) ([]domain.Goal, error)

	ListSales(ctx context.Context, attendantID string, limit int) ([]domain.Sale, error)
	ListAchievements(ctx context.Context, attendantID string, limit int) ([]domain.Achievement, error)
	Leaderboard(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error)

	EventsAfter(ctx context.Context, afterID int64, limit int) ([]domain.PipelineEvent, error)
	Cursor(ctx context.Context, name string) (int64, error)
	SaveCursor(ctx context.Context, name string, lastID int64) error
}

// Ledger is a store that also serves the admin queries
type Ledger interface {
	Store
	Queries
}

// Observer is informed after a pipeline transaction commits. Board is the
// freshly ranked leaderboard, or nil when ranks did not change.
type Observer interface {
	OnCommit(ctx context.Context, events []domain.PipelineEvent, board []domain.LeaderboardEntry)
}
