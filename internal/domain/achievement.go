package domain

import "time"

// DefaultPointsAwarded is the leaderboard award for one unlocked achievement
const DefaultPointsAwarded int64 = 100

// Achievement is a one-time award record for crossing a goal threshold
type Achievement struct {
	ID            string    `json:"id"`
	AttendantID   string    `json:"attendant_id"`
	GoalID        string    `json:"goal_id"`
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	BadgeColor    string    `json:"badge_color"`
	PointsAwarded int64     `json:"points_awarded"`
	AchievedAt    time.Time `json:"achieved_at"`
}
