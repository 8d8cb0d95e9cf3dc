package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/uptrace/bun"

	"github.com/redmonkez12/loyalty-card/internal/database"
)

// pgUniqueViolation is the SQLSTATE for duplicate keys
const pgUniqueViolation = "23505"

// Repository persists account records in Postgres. It has no change feed of
// its own; wrap it in a RedisStore to get subscriptions.
type Repository struct {
	db *bun.DB
}

func NewRepository(db *bun.DB) *Repository {
	return &Repository{db: db}
}

// CreateRecord inserts the record written at registration
func (r *Repository) CreateRecord(ctx context.Context, rec *Record) error {
	row := &database.Account{
		ID:              rec.ID,
		Email:           rec.Email,
		Role:            string(rec.Role),
		Points:          rec.Points,
		IsEmailVerified: rec.IsEmailVerified,
		Version:         max(rec.Version, 1),
		CreatedAt:       rec.CreatedAt,
	}

	_, err := r.db.NewInsert().
		Model(row).
		Exec(ctx)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == pgUniqueViolation {
			return ErrAlreadyExists
		}
		return unavailable("create record", err)
	}

	rec.Version = row.Version
	return nil
}

// GetRecord retrieves a record by ID
func (r *Repository) GetRecord(ctx context.Context, id string) (*Record, error) {
	row := new(database.Account)
	err := r.db.NewSelect().
		Model(row).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, unavailable("get record", err)
	}

	return mapDBAccountToModel(row), nil
}

// IncrementPoints adds delta in a single UPDATE so concurrent scans from
// different devices never overwrite each other
func (r *Repository) IncrementPoints(ctx context.Context, id string, delta int) error {
	_, err := r.IncrementPointsReturning(ctx, id, delta)
	return err
}

// IncrementPointsReturning bumps points and version and returns the row
// the UPDATE produced
func (r *Repository) IncrementPointsReturning(ctx context.Context, id string, delta int) (*Record, error) {
	row := new(database.Account)
	err := r.db.NewUpdate().
		Model(row).
		Set("points = points + ?", delta).
		Set("version = version + 1").
		Where("id = ?", id).
		Returning("*").
		Scan(ctx)
	if err != nil {
		return nil, notFoundOr("increment points", err)
	}

	return mapDBAccountToModel(row), nil
}

// SetVerified caches the provider's verification flag on the record
func (r *Repository) SetVerified(ctx context.Context, id string) error {
	_, err := r.SetVerifiedReturning(ctx, id)
	return err
}

func (r *Repository) SetVerifiedReturning(ctx context.Context, id string) (*Record, error) {
	row := new(database.Account)
	err := r.db.NewUpdate().
		Model(row).
		Set("is_email_verified = ?", true).
		Set("version = version + 1").
		Where("id = ?", id).
		Returning("*").
		Scan(ctx)
	if err != nil {
		return nil, notFoundOr("set verified", err)
	}

	return mapDBAccountToModel(row), nil
}

// DeleteRecord removes the record
func (r *Repository) DeleteRecord(ctx context.Context, id string) error {
	result, err := r.db.NewDelete().
		Model((*database.Account)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return unavailable("delete record", err)
	}

	return expectOneRow(result)
}

// DeleteRecordReturning removes the record and returns its last state
func (r *Repository) DeleteRecordReturning(ctx context.Context, id string) (*Record, error) {
	row := new(database.Account)
	err := r.db.NewDelete().
		Model(row).
		Where("id = ?", id).
		Returning("*").
		Scan(ctx)
	if err != nil {
		return nil, notFoundOr("delete record", err)
	}

	return mapDBAccountToModel(row), nil
}

func notFoundOr(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return unavailable(op, err)
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

// mapDBAccountToModel converts database model to domain model
func mapDBAccountToModel(row *database.Account) *Record {
	return &Record{
		ID:              row.ID,
		Email:           row.Email,
		Role:            Role(row.Role),
		Points:          row.Points,
		IsEmailVerified: row.IsEmailVerified,
		Version:         row.Version,
		CreatedAt:       row.CreatedAt,
	}
}
