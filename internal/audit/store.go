// Package audit persists the sync audit trail: one header row per batch and
// an append-only error row per failed record. It is the single
// implementation behind the core.AuditStore interface.
package audit

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/vmsplus/usersync/internal/core"
)

// ErrBatchNotFound is returned by GetDetails for an unknown batch id.
var ErrBatchNotFound = errors.New("sync batch not found")

// DefaultHistoryLimit bounds ListRecent when the caller passes no limit.
const DefaultHistoryLimit = 10

// MaxHistoryLimit caps ListRecent regardless of the caller's limit.
const MaxHistoryLimit = 100

// Store reads and writes audit rows through the given database handle.
// Bind it per call: audit.New(pool) or audit.New(tx).
type Store struct {
	db core.DBTX
}

// New returns a Store bound to db.
func New(db core.DBTX) *Store {
	return &Store{db: db}
}

// BatchDetails is a batch header plus its row-error detail.
type BatchDetails struct {
	core.SyncBatch
	Errors []core.RowError `json:"errors"`
}

// CreateBatch inserts the audit header for a starting sync and returns its
// generated id. Counts are zero and status is In Progress until the batch
// reaches a terminal state.
func (s *Store) CreateBatch(ctx context.Context, meta core.BatchMeta) (string, error) {
	var id pgtype.UUID
	err := s.db.QueryRow(ctx, `
		INSERT INTO vms_sync_history
			(correlation_id, file_name, total_records, success_count, failure_count, status, uploaded_by)
		VALUES ($1, $2, $3, 0, 0, $4, $5)
		RETURNING id`,
		meta.CorrelationID,
		meta.FileName,
		meta.TotalRecords,
		string(core.BatchInProgress),
		meta.UploadedBy,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("create sync batch: %w", err)
	}
	return uuidString(id), nil
}

// UpdateBatch records the final counts and terminal status for a batch.
func (s *Store) UpdateBatch(ctx context.Context, batchID string, success, failure int, status core.BatchStatus) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE vms_sync_history
		SET success_count = $2, failure_count = $3, status = $4
		WHERE id = $1`,
		batchID, success, failure, string(status),
	)
	if err != nil {
		return fmt.Errorf("update sync batch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update sync batch %s: %w", batchID, ErrBatchNotFound)
	}
	return nil
}

// AppendRowError records one failed record insert for a batch.
func (s *Store) AppendRowError(ctx context.Context, batchID string, rowNumber int, message, rawData string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO vms_sync_errors (batch_id, row_number, error_message, raw_data)
		VALUES ($1, $2, $3, $4)`,
		batchID, rowNumber, message, rawData,
	)
	if err != nil {
		return fmt.Errorf("append row error: %w", err)
	}
	return nil
}

// ListRecent returns batch headers most-recent-first. In-progress batches are
// included.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]core.SyncBatch, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}

	rows, err := s.db.Query(ctx, `
		SELECT id, correlation_id, file_name, total_records, success_count, failure_count, status, uploaded_by, created_at
		FROM vms_sync_history
		ORDER BY created_at DESC
		LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list sync history: %w", err)
	}
	defer rows.Close()

	batches := make([]core.SyncBatch, 0, limit)
	for rows.Next() {
		batch, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, batch)
	}
	return batches, rows.Err()
}

// GetDetails returns one batch header with its row errors, or
// ErrBatchNotFound.
func (s *Store) GetDetails(ctx context.Context, batchID string) (*BatchDetails, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, correlation_id, file_name, total_records, success_count, failure_count, status, uploaded_by, created_at
		FROM vms_sync_history
		WHERE id = $1`,
		batchID,
	)
	batch, err := scanBatch(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBatchNotFound
		}
		return nil, err
	}

	details := &BatchDetails{SyncBatch: batch, Errors: []core.RowError{}}

	rows, err := s.db.Query(ctx, `
		SELECT batch_id, row_number, error_message, raw_data
		FROM vms_sync_errors
		WHERE batch_id = $1
		ORDER BY row_number`,
		batchID,
	)
	if err != nil {
		return nil, fmt.Errorf("list row errors: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id     pgtype.UUID
			rowErr core.RowError
		)
		if err := rows.Scan(&id, &rowErr.RowNumber, &rowErr.Message, &rowErr.RawData); err != nil {
			return nil, fmt.Errorf("scan row error: %w", err)
		}
		rowErr.BatchID = uuidString(id)
		details.Errors = append(details.Errors, rowErr)
	}
	return details, rows.Err()
}

// scanBatch reads one header row in the column order used by the queries
// above.
func scanBatch(row pgx.Row) (core.SyncBatch, error) {
	var (
		batch     core.SyncBatch
		id        pgtype.UUID
		status    string
		createdAt pgtype.Timestamptz
	)
	err := row.Scan(
		&id,
		&batch.CorrelationID,
		&batch.FileName,
		&batch.TotalRecords,
		&batch.SuccessCount,
		&batch.FailureCount,
		&status,
		&batch.UploadedBy,
		&createdAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return core.SyncBatch{}, err
		}
		return core.SyncBatch{}, fmt.Errorf("scan sync batch: %w", err)
	}
	batch.ID = uuidString(id)
	batch.Status = core.BatchStatus(status)
	batch.CreatedAt = createdAt.Time
	return batch, nil
}

func uuidString(u pgtype.UUID) string {
	if !u.Valid {
		return ""
	}
	return fmt.Sprintf("%x-%x-%x-%x-%x",
		u.Bytes[0:4], u.Bytes[4:6], u.Bytes[6:8], u.Bytes[8:10], u.Bytes[10:16])
}
