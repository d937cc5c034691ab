package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// AttendantStatus is derived at read time, never stored
type AttendantStatus string

const (
	AttendantOnline  AttendantStatus = "online"
	AttendantOffline AttendantStatus = "offline"
)

// Attendant is a salesperson tracked by the system
type Attendant struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	ImageURL   string          `json:"image_url,omitempty"`
	Earnings   decimal.Decimal `json:"earnings"`
	LastSaleAt *time.Time      `json:"last_sale_at,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Status reports online when the attendant recorded a sale within window of now.
func (a Attendant) Status(now time.Time, window time.Duration) AttendantStatus {
	if a.LastSaleAt != nil && now.Sub(*a.LastSaleAt) <= window {
		return AttendantOnline
	}
	return AttendantOffline
}

// CreateAttendantRequest is the admin payload for registering an attendant
type CreateAttendantRequest struct {
	Name     string `json:"name"`
	ImageURL string `json:"image_url,omitempty"`
}

// Validate trims and checks the request
func (r *CreateAttendantRequest) Validate() error {
	r.Name = strings.TrimSpace(r.Name)
	r.ImageURL = strings.TrimSpace(r.ImageURL)
	if r.Name == "" || len(r.Name) > 120 {
		return ErrInvalidAttendant
	}
	return nil
}

// AttendantView decorates an attendant with its read-time status
type AttendantView struct {
	Attendant
	Status AttendantStatus `json:"status"`
}
