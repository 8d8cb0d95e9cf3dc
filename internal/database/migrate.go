package database

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
)

// Migrate creates the tables used by the record store and the identity provider
func Migrate(ctx context.Context, db *bun.DB) error {
	models := []any{
		(*Identity)(nil),
		(*Account)(nil),
	}

	for _, model := range models {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("failed to create table for %T: %w", model, err)
		}
	}

	// tables created before the change feed was versioned
	_, err := db.NewAddColumn().
		Model((*Account)(nil)).
		ColumnExpr("version BIGINT NOT NULL DEFAULT 1").
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to add account version column: %w", err)
	}

	_, err = db.NewCreateIndex().
		Model((*Identity)(nil)).
		Index("identities_verification_token_idx").
		Column("email_verification_token").
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create verification token index: %w", err)
	}

	return nil
}
