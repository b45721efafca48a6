// Package core provides the business logic for user-directory synchronization:
// validation of incoming records and the transactional sync pipeline.
// This package has no HTTP dependencies and can be used by any frontend.
package core

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the interface for database operations.
// Satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Status is the directory status of a user record.
type Status string

const (
	StatusActive   Status = "Active"
	StatusInactive Status = "Inactive"
	StatusPending  Status = "Pending"
)

// Statuses lists the accepted status values in display order.
var Statuses = []Status{StatusActive, StatusInactive, StatusPending}

// ValidStatus reports whether s matches one of the accepted status values,
// ignoring case.
func ValidStatus(s string) bool {
	for _, v := range Statuses {
		if strings.EqualFold(string(v), s) {
			return true
		}
	}
	return false
}

// Canonical tabular headers expected in uploaded files.
const (
	HeaderEmail      = "Email"
	HeaderFirstName  = "FirstName"
	HeaderLastName   = "LastName"
	HeaderDepartment = "Department"
	HeaderStatus     = "Status"
)

// RequiredHeaders is the canonical header set enforced on every upload.
var RequiredHeaders = []string{
	HeaderEmail,
	HeaderFirstName,
	HeaderLastName,
	HeaderDepartment,
	HeaderStatus,
}

// UserRecord is one normalized row of incoming data. It exists only for the
// duration of a single sync call and is never persisted directly.
type UserRecord struct {
	Row        int    `json:"row"` // 1-based data-row position in the input
	Email      string `json:"email"`
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	Department string `json:"department"`
	Status     Status `json:"status"`
}

// BatchStatus is the lifecycle state of a sync batch.
type BatchStatus string

const (
	BatchInProgress BatchStatus = "In Progress"
	BatchSuccess    BatchStatus = "Success"
	BatchPartial    BatchStatus = "Partial"
	BatchFailed     BatchStatus = "Failed"
)

// SyncBatch is the audit header for one upload attempt.
type SyncBatch struct {
	ID            string      `json:"id"`
	CorrelationID string      `json:"correlationId"`
	FileName      string      `json:"fileName"`
	TotalRecords  int         `json:"totalRecords"`
	SuccessCount  int         `json:"successCount"`
	FailureCount  int         `json:"failureCount"`
	Status        BatchStatus `json:"status"`
	UploadedBy    string      `json:"uploadedBy"`
	CreatedAt     time.Time   `json:"createdAt"`
}

// RowError records a single failed record insert within a batch.
type RowError struct {
	BatchID   string `json:"batchId,omitempty"`
	RowNumber int    `json:"rowNumber"`
	Message   string `json:"message"`
	RawData   string `json:"rawData"`
}

// SyncResult is the aggregated outcome of one sync call.
//
// BatchID is empty when the audit store could not create a batch header;
// CorrelationID is always set and can be used to trace the attempt in logs.
type SyncResult struct {
	BatchID       string     `json:"batchId"`
	CorrelationID string     `json:"correlationId"`
	FileName      string     `json:"fileName"`
	TotalRecords  int        `json:"totalRecords"`
	SuccessCount  int        `json:"successCount"`
	FailureCount  int        `json:"failureCount"`
	Errors        []RowError `json:"errors"`
}

// BatchMeta carries the fields known at batch creation time.
type BatchMeta struct {
	CorrelationID string
	FileName      string
	TotalRecords  int
	UploadedBy    string
}

// AuditStore persists the sync audit trail. One implementation lives in
// internal/audit; the interface exists so the orchestrator never depends on
// the storage technology.
type AuditStore interface {
	CreateBatch(ctx context.Context, meta BatchMeta) (string, error)
	UpdateBatch(ctx context.Context, batchID string, success, failure int, status BatchStatus) error
	AppendRowError(ctx context.Context, batchID string, rowNumber int, message, rawData string) error
}
