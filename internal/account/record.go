// Package account holds the per-user loyalty record and the contract the
// client core needs from the document store that keeps it.
package account

import (
	"errors"
	"time"
)

// StampsPerReward is the number of stamps on one card. It is a display
// threshold only; points are never clamped to it.
const StampsPerReward = 10

type Role string

const (
	RoleCustomer Role = "customer"
	// RoleAdmin is staff. There is no self-service path to it.
	RoleAdmin Role = "admin"
)

var (
	ErrNotFound      = errors.New("record not found")
	ErrAlreadyExists = errors.New("record already exists")
	ErrUnavailable   = errors.New("record store unavailable")
)

// Record is one registered user's loyalty card. Version grows by one on
// every write and orders the change feed.
type Record struct {
	ID              string    `json:"id"`
	Email           string    `json:"email"`
	Role            Role      `json:"role"`
	Points          int       `json:"points"`
	IsEmailVerified bool      `json:"is_email_verified"`
	Version         int64     `json:"version"`
	CreatedAt       time.Time `json:"created_at"`
}

// NewRecord returns the record written at registration
func NewRecord(id, email string, createdAt time.Time) *Record {
	return &Record{
		ID:        id,
		Email:     email,
		Role:      RoleCustomer,
		Points:    0,
		Version:   1,
		CreatedAt: createdAt,
	}
}

func (r *Record) IsStaff() bool {
	return r.Role == RoleAdmin
}

// StampsFilled is how many slots of the card grid are drawn as collected
func (r *Record) StampsFilled() int {
	if r.Points < 0 {
		return 0
	}
	return min(r.Points, StampsPerReward)
}

// Snapshot is one delivery on a subscription. A nil Record means the
// record does not exist (never created or deleted).
type Snapshot struct {
	Record *Record
	At     time.Time
}
