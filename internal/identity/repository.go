package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/uptrace/bun"

	"github.com/redmonkez12/loyalty-card/internal/database"
)

var (
	ErrNotFound       = errors.New("identity not found")
	ErrDuplicateEmail = errors.New("email already exists")
)

// Credential is the stored form of an identity
type Credential struct {
	ID                      string
	Email                   string
	PasswordHash            string
	EmailVerified           bool
	EmailVerificationToken  *string
	EmailVerificationSentAt *time.Time
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

func (c *Credential) identity() Identity {
	return Identity{ID: c.ID, Email: c.Email, Verified: c.EmailVerified}
}

// Store persists credentials
type Store interface {
	Create(ctx context.Context, cred *Credential) error
	GetByEmail(ctx context.Context, email string) (*Credential, error)
	GetByID(ctx context.Context, id string) (*Credential, error)
	GetByVerificationToken(ctx context.Context, token string) (*Credential, error)
	CheckIfTokenAlreadyUsed(ctx context.Context, token string) (bool, error)
	MarkEmailAsVerified(ctx context.Context, id string) error
	UpdateVerificationToken(ctx context.Context, id, token string, sentAt time.Time) error
	Delete(ctx context.Context, id string) error
}

// Repository stores credentials in Postgres
type Repository struct {
	db *bun.DB
}

func NewRepository(db *bun.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Create(ctx context.Context, cred *Credential) error {
	row := &database.Identity{
		ID:                      cred.ID,
		Email:                   cred.Email,
		PasswordHash:            cred.PasswordHash,
		EmailVerified:           cred.EmailVerified,
		EmailVerificationToken:  cred.EmailVerificationToken,
		EmailVerificationSentAt: cred.EmailVerificationSentAt,
	}

	_, err := r.db.NewInsert().
		Model(row).
		Returning("*").
		Exec(ctx)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("failed to create identity: %w", err)
	}

	cred.CreatedAt = row.CreatedAt
	cred.UpdatedAt = row.UpdatedAt
	return nil
}

func (r *Repository) GetByEmail(ctx context.Context, email string) (*Credential, error) {
	return r.getOne(ctx, "get identity by email", func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("email = ?", email)
	})
}

func (r *Repository) GetByID(ctx context.Context, id string) (*Credential, error) {
	return r.getOne(ctx, "get identity by id", func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("id = ?", id)
	})
}

// GetByVerificationToken only matches identities that are still unverified
func (r *Repository) GetByVerificationToken(ctx context.Context, token string) (*Credential, error) {
	return r.getOne(ctx, "get identity by verification token", func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("email_verification_token = ?", token).Where("email_verified = ?", false)
	})
}

func (r *Repository) getOne(ctx context.Context, op string, where func(*bun.SelectQuery) *bun.SelectQuery) (*Credential, error) {
	row := new(database.Identity)
	err := where(r.db.NewSelect().Model(row)).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to %s: %w", op, err)
	}

	return mapDBIdentityToModel(row), nil
}

func (r *Repository) CheckIfTokenAlreadyUsed(ctx context.Context, token string) (bool, error) {
	count, err := r.db.NewSelect().
		Model((*database.Identity)(nil)).
		Where("email_verification_token = ?", token).
		Where("email_verified = ?", true).
		Count(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to check if token was used: %w", err)
	}

	return count > 0, nil
}

// MarkEmailAsVerified keeps the token so a second click reports "already verified"
func (r *Repository) MarkEmailAsVerified(ctx context.Context, id string) error {
	result, err := r.db.NewUpdate().
		Model((*database.Identity)(nil)).
		Set("email_verified = ?", true).
		Set("email_verification_sent_at = ?", nil).
		Set("updated_at = NOW()").
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to mark email as verified: %w", err)
	}

	return expectOneRow(result)
}

func (r *Repository) UpdateVerificationToken(ctx context.Context, id, token string, sentAt time.Time) error {
	result, err := r.db.NewUpdate().
		Model((*database.Identity)(nil)).
		Set("email_verification_token = ?", token).
		Set("email_verification_sent_at = ?", sentAt).
		Set("updated_at = NOW()").
		Where("id = ?", id).
		Where("email_verified = ?", false).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to update verification token: %w", err)
	}

	return expectOneRow(result)
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	result, err := r.db.NewDelete().
		Model((*database.Identity)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete identity: %w", err)
	}

	return expectOneRow(result)
}

func expectOneRow(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func mapDBIdentityToModel(row *database.Identity) *Credential {
	return &Credential{
		ID:                      row.ID,
		Email:                   row.Email,
		PasswordHash:            row.PasswordHash,
		EmailVerified:           row.EmailVerified,
		EmailVerificationToken:  row.EmailVerificationToken,
		EmailVerificationSentAt: row.EmailVerificationSentAt,
		CreatedAt:               row.CreatedAt,
		UpdatedAt:               row.UpdatedAt,
	}
}
