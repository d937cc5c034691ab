package domain

import (
	"encoding/json"
	"time"
)

// EventType names the facts the pipeline publishes for downstream consumers
type EventType string

const (
	EventSaleRecorded        EventType = "sale.recorded"
	EventSaleDeleted         EventType = "sale.deleted"
	EventGoalCompleted       EventType = "goal.completed"
	EventAchievementUnlocked EventType = "achievement.unlocked"
	EventAttendantDeleted    EventType = "attendant.deleted"
)

// PipelineEvent is an outbox row written in the same transaction as the
// state change it describes. ID is assigned by the store and increases
// monotonically, so consumers poll with the last ID they have seen.
type PipelineEvent struct {
	ID            int64           `json:"id"`
	Type          EventType       `json:"type"`
	AttendantID   string          `json:"attendant_id"`
	SaleID        string          `json:"sale_id,omitempty"`
	GoalID        string          `json:"goal_id,omitempty"`
	AchievementID string          `json:"achievement_id,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// NewEvent builds an event whose payload is the JSON encoding of v
func NewEvent(t EventType, attendantID string, v any, at time.Time) (PipelineEvent, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return PipelineEvent{}, err
	}
	return PipelineEvent{
		Type:        t,
		AttendantID: attendantID,
		Payload:     payload,
		CreatedAt:   at,
	}, nil
}
