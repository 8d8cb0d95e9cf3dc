package database

import (
	"time"

	"github.com/uptrace/bun"
)

// Account is the durable loyalty record, keyed by the identity ID
type Account struct {
	bun.BaseModel `bun:"table:accounts,alias:a"`

	ID              string    `bun:"id,pk"`
	Email           string    `bun:"email,notnull"`
	Role            string    `bun:"role,notnull,default:'customer'"`
	Points          int       `bun:"points,notnull,default:0"`
	IsEmailVerified bool      `bun:"is_email_verified,notnull,default:false"`
	Version         int64     `bun:"version,notnull,default:1"`
	CreatedAt       time.Time `bun:"created_at,notnull,default:current_timestamp"`
}

// Identity holds credentials and the provider-side verification flag
type Identity struct {
	bun.BaseModel `bun:"table:identities,alias:i"`

	ID                      string     `bun:"id,pk"`
	Email                   string     `bun:"email,notnull,unique"`
	PasswordHash            string     `bun:"password_hash,notnull"`
	EmailVerified           bool       `bun:"email_verified,notnull,default:false"`
	EmailVerificationToken  *string    `bun:"email_verification_token"`
	EmailVerificationSentAt *time.Time `bun:"email_verification_sent_at"`
	CreatedAt               time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt               time.Time  `bun:"updated_at,notnull,default:current_timestamp"`
}
