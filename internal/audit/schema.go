package audit

import (
	"context"
	"fmt"

	"github.com/vmsplus/usersync/internal/core"
)

// Audit schema. batch_id carries ON DELETE CASCADE so dropping a header (an
// operator action, never this subsystem) cannot orphan error rows.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS vms_sync_history (
		id             UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		correlation_id TEXT NOT NULL DEFAULT '',
		file_name      TEXT NOT NULL,
		total_records  INTEGER NOT NULL DEFAULT 0,
		success_count  INTEGER NOT NULL DEFAULT 0,
		failure_count  INTEGER NOT NULL DEFAULT 0,
		status         TEXT NOT NULL DEFAULT 'In Progress',
		uploaded_by    TEXT NOT NULL DEFAULT '',
		created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS vms_sync_errors (
		id            BIGSERIAL PRIMARY KEY,
		batch_id      UUID NOT NULL REFERENCES vms_sync_history(id) ON DELETE CASCADE,
		row_number    INTEGER NOT NULL,
		error_message TEXT NOT NULL,
		raw_data      TEXT NOT NULL DEFAULT '',
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sync_history_created_at ON vms_sync_history (created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_sync_errors_batch_id ON vms_sync_errors (batch_id)`,
}

// EnsureSchema creates the audit tables if they do not exist.
func EnsureSchema(ctx context.Context, db core.DBTX) error {
	for _, stmt := range schemaStatements {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure audit schema: %w", err)
		}
	}
	return nil
}
