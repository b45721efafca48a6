package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/vmsplus/usersync/internal/dbconn"
)

// Database is the subset of *pgxpool.Pool the orchestrator needs.
type Database interface {
	DBTX
	Begin(ctx context.Context) (pgx.Tx, error)
}

// ConnProvider hands out a live connection pool for a target configuration.
// Implemented by the dbconn manager (via a thin adapter in the caller).
type ConnProvider interface {
	Acquire(ctx context.Context, cfg dbconn.TargetConfig) (Database, error)
}

// AuditFactory binds an audit store to a database handle for one sync call.
type AuditFactory func(db DBTX) AuditStore

// Service owns the transactional sync pipeline.
type Service struct {
	conns ConnProvider
	audit AuditFactory
}

// NewService creates the sync service.
func NewService(conns ConnProvider, audit AuditFactory) *Service {
	return &Service{conns: conns, audit: audit}
}

// Sync writes records into the target directory table under one transaction,
// isolating per-row failures behind savepoints so a single bad row never
// blocks the rest of the batch. Records must already be validated; rows are
// processed strictly in input order.
//
// The audit header is created before the transaction and finalized after it,
// on the pool rather than inside the transaction, so the trail is queryable
// while the batch is in progress and survives a failed commit. Audit-store
// unavailability degrades the result (empty BatchID) instead of failing the
// sync.
func (s *Service) Sync(ctx context.Context, records []UserRecord, fileName, uploadedBy string, target dbconn.TargetConfig) (*SyncResult, error) {
	if len(records) == 0 {
		return nil, ErrNoRecords
	}

	correlationID := uuid.New().String()
	logger := slog.Default().With(
		"correlation_id", correlationID,
		"file", fileName,
		"records", len(records),
	)

	db, err := s.conns.Acquire(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("acquire target connection: %w", err)
	}

	auditStore := s.audit(db)

	batchID, err := auditStore.CreateBatch(ctx, BatchMeta{
		CorrelationID: correlationID,
		FileName:      fileName,
		TotalRecords:  len(records),
		UploadedBy:    uploadedBy,
	})
	if err != nil {
		// Audit unavailability must not block the data sync.
		logger.Warn("audit batch creation failed, continuing without audit trail", "error", err)
		batchID = ""
	}
	logger = logger.With("batch_id", batchID)

	result := &SyncResult{
		BatchID:       batchID,
		CorrelationID: correlationID,
		FileName:      fileName,
		TotalRecords:  len(records),
	}

	tx, err := db.Begin(ctx)
	if err != nil {
		s.markFailed(ctx, auditStore, batchID, result)
		return nil, fmt.Errorf("%w: begin transaction: %v", ErrSyncInfrastructure, err)
	}
	defer tx.Rollback(ctx)

	for i, rec := range records {
		savepoint := fmt.Sprintf("row_%d", i)
		if _, err := tx.Exec(ctx, "SAVEPOINT "+savepoint); err != nil {
			s.markFailed(ctx, auditStore, batchID, result)
			return nil, fmt.Errorf("%w: create savepoint: %v", ErrSyncInfrastructure, err)
		}

		if err := insertUser(ctx, tx, rec, fileName, batchID); err != nil {
			// A failed statement poisons the transaction until the savepoint
			// is rolled back, so this must happen before the next row.
			_, _ = tx.Exec(ctx, "ROLLBACK TO SAVEPOINT "+savepoint)
			s.recordRowError(ctx, auditStore, result, rec, err)
			continue
		}

		_, _ = tx.Exec(ctx, "RELEASE SAVEPOINT "+savepoint)
		result.SuccessCount++
	}

	if err := tx.Commit(ctx); err != nil {
		s.markFailed(ctx, auditStore, batchID, result)
		return nil, fmt.Errorf("%w: commit: %v", ErrSyncInfrastructure, err)
	}

	status := BatchSuccess
	if result.FailureCount > 0 {
		status = BatchPartial
	}
	if batchID != "" {
		if err := auditStore.UpdateBatch(ctx, batchID, result.SuccessCount, result.FailureCount, status); err != nil {
			logger.Warn("audit batch finalization failed", "error", err)
		}
	}

	logger.Info("sync complete",
		"status", string(status),
		"success", result.SuccessCount,
		"failure", result.FailureCount,
	)
	return result, nil
}

// recordRowError appends a row failure to the result and, when a batch header
// exists, to the audit trail.
func (s *Service) recordRowError(ctx context.Context, store AuditStore, result *SyncResult, rec UserRecord, cause error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		raw = []byte("{}")
	}

	rowErr := RowError{
		BatchID:   result.BatchID,
		RowNumber: rec.Row,
		Message:   cause.Error(),
		RawData:   string(raw),
	}
	result.Errors = append(result.Errors, rowErr)
	result.FailureCount++

	if result.BatchID == "" {
		return
	}
	if err := store.AppendRowError(ctx, result.BatchID, rowErr.RowNumber, rowErr.Message, rowErr.RawData); err != nil {
		slog.Warn("audit row error not persisted",
			"batch_id", result.BatchID,
			"row", rowErr.RowNumber,
			"error", err,
		)
	}
}

// markFailed best-effort marks the audit header as Failed after an
// infrastructure error. Counts recorded here are not trustworthy and exist
// only so the history view shows the attempt.
func (s *Service) markFailed(ctx context.Context, store AuditStore, batchID string, result *SyncResult) {
	if batchID == "" {
		return
	}
	if err := store.UpdateBatch(ctx, batchID, result.SuccessCount, result.FailureCount, BatchFailed); err != nil {
		slog.Warn("audit batch not marked failed", "batch_id", batchID, "error", err)
	}
}
