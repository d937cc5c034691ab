package domain

import (
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var phoneRE = regexp.MustCompile(`^\+?[0-9 ()\-]{7,20}$`)

// ClientInfo holds the optional contact fields captured with a sale
type ClientInfo struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// Normalize trims whitespace and validates the populated fields.
func (c *ClientInfo) Normalize() error {
	c.Name = strings.TrimSpace(c.Name)
	c.Email = strings.TrimSpace(c.Email)
	c.Phone = strings.TrimSpace(c.Phone)

	if len(c.Name) > 120 {
		return ErrInvalidClientInfo
	}
	if c.Email != "" {
		addr, err := mail.ParseAddress(c.Email)
		if err != nil || addr.Address != c.Email || !strings.Contains(c.Email[strings.LastIndex(c.Email, "@"):], ".") {
			return ErrInvalidClientInfo
		}
	}
	if c.Phone != "" {
		if !phoneRE.MatchString(c.Phone) || countDigits(c.Phone) < 7 {
			return ErrInvalidClientInfo
		}
	}
	return nil
}

func countDigits(s string) int {
	n := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}

// Sale is one recorded transaction attributed to an attendant
type Sale struct {
	ID          string          `json:"id"`
	AttendantID string          `json:"attendant_id"`
	Value       decimal.Decimal `json:"value"`
	Client      ClientInfo      `json:"client"`
	CreatedAt   time.Time       `json:"created_at"`
}

// SaleSubmission is the input to the ingestion pipeline
type SaleSubmission struct {
	AttendantID string          `json:"attendant_id"`
	Value       decimal.Decimal `json:"value"`
	Client      ClientInfo      `json:"client"`
}

// Validate checks the preconditions that do not need storage access.
func (s *SaleSubmission) Validate() error {
	s.AttendantID = strings.TrimSpace(s.AttendantID)
	if s.AttendantID == "" {
		return ErrAttendantNotFound
	}
	if err := ValidateSaleValue(s.Value); err != nil {
		return err
	}
	return s.Client.Normalize()
}
