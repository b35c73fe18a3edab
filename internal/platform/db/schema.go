package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// SchemaSQL creates the table holding the patient collection document.
const SchemaSQL = `CREATE TABLE IF NOT EXISTS patient_document (
    name       TEXT PRIMARY KEY,
    body       JSONB NOT NULL DEFAULT '{}'::jsonb,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// EnsureSchema creates the patient_document table if it does not exist.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, SchemaSQL); err != nil {
		return fmt.Errorf("create patient_document table: %w", err)
	}
	return nil
}
