package core

// directory.go owns the target user-directory table: schema bootstrap and the
// per-record insert used by the sync loop.

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

// directorySchema creates the user-directory table. sync_batch_id is nullable
// and unconstrained so records survive even when audit persistence was
// degraded for their batch.
const directorySchema = `
CREATE TABLE IF NOT EXISTS vms_users (
    id              UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    email           TEXT NOT NULL UNIQUE,
    first_name      TEXT NOT NULL DEFAULT '',
    last_name       TEXT NOT NULL DEFAULT '',
    department      TEXT NOT NULL DEFAULT '',
    status          TEXT NOT NULL DEFAULT 'Active',
    synced_from_file TEXT NOT NULL DEFAULT '',
    sync_batch_id   UUID,
    synced_at       TIMESTAMPTZ NOT NULL DEFAULT now()
)`

const insertUserSQL = `
INSERT INTO vms_users (email, first_name, last_name, department, status, synced_from_file, sync_batch_id)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

// EnsureDirectorySchema creates the user-directory table if it does not exist.
func EnsureDirectorySchema(ctx context.Context, db DBTX) error {
	_, err := db.Exec(ctx, directorySchema)
	return err
}

// insertUser writes one record into the directory table.
func insertUser(ctx context.Context, db DBTX, rec UserRecord, fileName, batchID string) error {
	_, err := db.Exec(ctx, insertUserSQL,
		rec.Email,
		rec.FirstName,
		rec.LastName,
		rec.Department,
		string(rec.Status),
		fileName,
		toPgUUID(batchID),
	)
	return err
}

// toPgUUID converts a UUID string to pgtype.UUID, NULL when empty or invalid.
func toPgUUID(s string) pgtype.UUID {
	if s == "" {
		return pgtype.UUID{Valid: false}
	}
	parsed, err := uuid.Parse(s)
	if err != nil {
		return pgtype.UUID{Valid: false}
	}
	return pgtype.UUID{Bytes: parsed, Valid: true}
}
