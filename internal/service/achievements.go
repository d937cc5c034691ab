package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sales-arena/internal/domain"
)

// AchievementEngine mints achievements for goals that crossed their target.
type AchievementEngine struct {
	Points int64
}

// Evaluate mints one achievement per change that crossed from below target
// to at-or-above target. Goals already at or above target before this
// recompute never fire again, whatever their active flag says. The store
// additionally keeps at most one achievement per goal, so a retried
// transaction cannot double-award.
func (e AchievementEngine) Evaluate(ctx context.Context, tx Tx, changes []GoalChange, at time.Time) ([]domain.Achievement, error) {
	var minted []domain.Achievement
	for _, c := range changes {
		if !c.Crossed() {
			continue
		}

		a := domain.Achievement{
			ID:            uuid.NewString(),
			AttendantID:   c.Goal.AttendantID,
			GoalID:        c.Goal.ID,
			Title:         fmt.Sprintf("Goal reached: %s", c.Goal.Title),
			Description:   fmt.Sprintf("Reached %s of %s target", domain.FormatMoney(c.Goal.CurrentValue), domain.FormatMoney(c.Goal.TargetValue)),
			BadgeColor:    domain.BadgeColor(c.Goal.Type),
			PointsAwarded: e.points(),
			AchievedAt:    at,
		}

		inserted, err := tx.InsertAchievement(ctx, &a)
		if err != nil {
			return nil, fmt.Errorf("minting achievement for goal %s: %w", c.Goal.ID, err)
		}
		if inserted {
			minted = append(minted, a)
		}
	}
	return minted, nil
}

func (e AchievementEngine) points() int64 {
	if e.Points <= 0 {
		return domain.DefaultPointsAwarded
	}
	return e.Points
}
