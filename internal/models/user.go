package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// User statuses.
const (
	UserStatusActive   = "active"
	UserStatusDisabled = "disabled"
)

// User represents a registered bidder. Weight is assigned at registration
// and immutable thereafter; it feeds the score formula as the reputation prior.
type User struct {
	ID           uuid.UUID       `json:"user_id"`
	Email        string          `json:"email"`
	PasswordHash string          `json:"-"`
	Username     string          `json:"username"`
	Weight       decimal.Decimal `json:"weight"`
	Status       string          `json:"status"`
	IsAdmin      bool            `json:"is_admin"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// IsActive reports whether the user may authenticate and bid.
func (u *User) IsActive() bool {
	return u.Status == UserStatusActive
}
