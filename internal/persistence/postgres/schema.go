package postgres

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Schema holds the DDL for the tables this service reads and writes
//
//go:embed schema.sql
var Schema string

// Migrate applies Schema. Every statement is idempotent so it is safe on each start.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
