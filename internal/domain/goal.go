package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// GoalType is informational only and does not affect progress math
type GoalType string

const (
	GoalTypeDaily     GoalType = "daily"
	GoalTypeWeekly    GoalType = "weekly"
	GoalTypeMonthly   GoalType = "monthly"
	GoalTypeQuarterly GoalType = "quarterly"
	GoalTypeYearly    GoalType = "yearly"
)

// Valid reports whether t is one of the known goal types
func (t GoalType) Valid() bool {
	switch t {
	case GoalTypeDaily, GoalTypeWeekly, GoalTypeMonthly, GoalTypeQuarterly, GoalTypeYearly:
		return true
	}
	return false
}

// ProgressState is the crossing-detection view of a goal's progress.
// The only transition the pipeline acts on is BelowTarget -> AtOrAboveTarget.
type ProgressState int

const (
	BelowTarget ProgressState = iota
	AtOrAboveTarget
)

func (p ProgressState) String() string {
	if p == AtOrAboveTarget {
		return "at_or_above_target"
	}
	return "below_target"
}

// ProgressStateOf classifies current against target
func ProgressStateOf(current, target decimal.Decimal) ProgressState {
	if current.GreaterThanOrEqual(target) {
		return AtOrAboveTarget
	}
	return BelowTarget
}

// GoalStatus is a display classification computed at read time
type GoalStatus string

const (
	GoalStatusActive    GoalStatus = "active"
	GoalStatusCompleted GoalStatus = "completed"
	GoalStatusExpired   GoalStatus = "expired"
	GoalStatusInactive  GoalStatus = "inactive"
)

// Goal is a target earnings threshold an attendant is tracked against
type Goal struct {
	ID           string          `json:"id"`
	AttendantID  string          `json:"attendant_id"`
	Title        string          `json:"title"`
	Description  string          `json:"description,omitempty"`
	TargetValue  decimal.Decimal `json:"target_value"`
	CurrentValue decimal.Decimal `json:"current_value"`
	Type         GoalType        `json:"type"`
	StartDate    time.Time       `json:"start_date"`
	EndDate      time.Time       `json:"end_date"`
	IsActive     bool            `json:"is_active"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// State returns the goal's crossing state for its stored current value
func (g Goal) State() ProgressState {
	return ProgressStateOf(g.CurrentValue, g.TargetValue)
}

// ProgressPercent returns current/target as a percentage rounded to 2 places
func (g Goal) ProgressPercent() decimal.Decimal {
	if !g.TargetValue.IsPositive() {
		return decimal.Zero
	}
	return g.CurrentValue.Div(g.TargetValue).Mul(decimal.NewFromInt(100)).Round(2)
}

// Status derives the display status of the goal at now
func (g Goal) Status(now time.Time) GoalStatus {
	switch {
	case !g.IsActive:
		return GoalStatusInactive
	case g.State() == AtOrAboveTarget:
		return GoalStatusCompleted
	case !g.EndDate.IsZero() && now.After(g.EndDate):
		return GoalStatusExpired
	default:
		return GoalStatusActive
	}
}

// GoalView decorates a goal with its read-time derived fields
type GoalView struct {
	Goal
	Progress decimal.Decimal `json:"progress_percent"`
	Status   GoalStatus      `json:"status"`
}

// NewGoalView builds the read model of g at now
func NewGoalView(g Goal, now time.Time) GoalView {
	return GoalView{Goal: g, Progress: g.ProgressPercent(), Status: g.Status(now)}
}

// CreateGoalRequest is the admin payload for creating a goal
type CreateGoalRequest struct {
	AttendantID string          `json:"attendant_id"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	TargetValue decimal.Decimal `json:"target_value"`
	Type        GoalType        `json:"type"`
	StartDate   time.Time       `json:"start_date"`
	EndDate     time.Time       `json:"end_date"`
}

// Validate trims text fields and checks the goal definition
func (r *CreateGoalRequest) Validate() error {
	r.AttendantID = strings.TrimSpace(r.AttendantID)
	r.Title = strings.TrimSpace(r.Title)
	r.Description = strings.TrimSpace(r.Description)
	if r.Type == "" {
		r.Type = GoalTypeMonthly
	}
	if r.AttendantID == "" || r.Title == "" || !r.Type.Valid() {
		return ErrInvalidGoal
	}
	if !r.TargetValue.IsPositive() || !HasMoneyPrecision(r.TargetValue) || !InMoneyRange(r.TargetValue) {
		return ErrInvalidGoal
	}
	if !r.EndDate.IsZero() && !r.StartDate.IsZero() && r.EndDate.Before(r.StartDate) {
		return ErrInvalidGoal
	}
	return nil
}

// BadgeColor picks the badge color used for achievements minted from goals of type t
func BadgeColor(t GoalType) string {
	switch t {
	case GoalTypeDaily:
		return "#22c55e"
	case GoalTypeWeekly:
		return "#3b82f6"
	case GoalTypeQuarterly:
		return "#a855f7"
	case GoalTypeYearly:
		return "#f59e0b"
	default:
		return "#ef4444"
	}
}
