package service

import (
	"context"
	"fmt"
	"time"

	"github.com/sales-arena/internal/domain"
	"github.com/shopspring/decimal"
)

// GoalChange captures one goal before and after a recompute
type GoalChange struct {
	Goal          domain.Goal
	PreviousValue decimal.Decimal
	Before        domain.ProgressState
	After         domain.ProgressState
}

// Crossed reports the one-way BelowTarget -> AtOrAboveTarget transition
func (c GoalChange) Crossed() bool {
	return c.Before == domain.BelowTarget && c.After == domain.AtOrAboveTarget
}

// GoalTracker mirrors attendant earnings into every active goal.
type GoalTracker struct{}

// Recompute sets current_value = earnings on each active goal of the
// attendant, including goals past their end date. An attendant without
// active goals yields an empty slice.
func (GoalTracker) Recompute(ctx context.Context, tx Tx, attendantID string, earnings decimal.Decimal, at time.Time) ([]GoalChange, error) {
	goals, err := tx.ActiveGoals(ctx, attendantID)
	if err != nil {
		return nil, fmt.Errorf("loading active goals: %w", err)
	}

	changes := make([]GoalChange, 0, len(goals))
	for _, g := range goals {
		change := GoalChange{
			PreviousValue: g.CurrentValue,
			Before:        g.State(),
		}
		if !g.CurrentValue.Equal(earnings) {
			if err := tx.SetGoalValue(ctx, g.ID, earnings, at); err != nil {
				return nil, fmt.Errorf("updating goal %s: %w", g.ID, err)
			}
			g.UpdatedAt = at
		}
		g.CurrentValue = earnings
		change.Goal = g
		change.After = g.State()
		changes = append(changes, change)
	}
	return changes, nil
}
