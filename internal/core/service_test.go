package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vmsplus/usersync/internal/dbconn"
)

// ============================================================================
// Test doubles
// ============================================================================

// fakeTx implements the transaction surface the sync loop touches. The
// embedded pgx.Tx covers the rest of the interface; calling anything not
// overridden panics, which is exactly what a test should do.
type fakeTx struct {
	pgx.Tx

	execLog    []string
	failEmails map[string]error
	commitErr  error
	committed  bool
	rolledBack bool
}

func (f *fakeTx) Exec(_ context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	f.execLog = append(f.execLog, strings.TrimSpace(sql))
	if strings.HasPrefix(strings.TrimSpace(sql), "INSERT INTO vms_users") {
		email, _ := args[0].(string)
		if err, ok := f.failEmails[email]; ok {
			return pgconn.CommandTag{}, err
		}
	}
	return pgconn.CommandTag{}, nil
}

func (f *fakeTx) Commit(context.Context) error {
	if f.commitErr != nil {
		return f.commitErr
	}
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	f.rolledBack = true
	return nil
}

type fakeDB struct {
	beginErr error
	tx       *fakeTx
}

func (f *fakeDB) Begin(context.Context) (pgx.Tx, error) {
	if f.beginErr != nil {
		return nil, f.beginErr
	}
	return f.tx, nil
}

func (f *fakeDB) Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}
func (f *fakeDB) Query(context.Context, string, ...interface{}) (pgx.Rows, error) { return nil, nil }
func (f *fakeDB) QueryRow(context.Context, string, ...interface{}) pgx.Row        { return nil }

type fakeConns struct {
	db  Database
	err error
}

func (f fakeConns) Acquire(context.Context, dbconn.TargetConfig) (Database, error) {
	return f.db, f.err
}

type batchUpdate struct {
	batchID          string
	success, failure int
	status           BatchStatus
}

type fakeAudit struct {
	createErr error
	appendErr error

	created   []BatchMeta
	updates   []batchUpdate
	rowErrors []RowError
}

func (f *fakeAudit) CreateBatch(_ context.Context, meta BatchMeta) (string, error) {
	if f.createErr != nil {
		return "", f.createErr
	}
	f.created = append(f.created, meta)
	return "batch-1", nil
}

func (f *fakeAudit) UpdateBatch(_ context.Context, batchID string, success, failure int, status BatchStatus) error {
	f.updates = append(f.updates, batchUpdate{batchID, success, failure, status})
	return nil
}

func (f *fakeAudit) AppendRowError(_ context.Context, batchID string, rowNumber int, message, rawData string) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	f.rowErrors = append(f.rowErrors, RowError{BatchID: batchID, RowNumber: rowNumber, Message: message, RawData: rawData})
	return nil
}

func newTestService(tx *fakeTx, auditStore *fakeAudit) *Service {
	db := &fakeDB{tx: tx}
	return NewService(fakeConns{db: db}, func(DBTX) AuditStore { return auditStore })
}

func testRecords(emails ...string) []UserRecord {
	records := make([]UserRecord, len(emails))
	for i, email := range emails {
		records[i] = UserRecord{Row: i + 1, Email: email, Status: StatusActive}
	}
	return records
}

// ============================================================================
// Sync Tests
// ============================================================================

func TestSync_AllRowsSucceed(t *testing.T) {
	tx := &fakeTx{}
	auditStore := &fakeAudit{}
	svc := newTestService(tx, auditStore)

	result, err := svc.Sync(context.Background(), testRecords("a@x.com", "b@x.com", "c@x.com"),
		"users.csv", "ops@x.com", dbconn.TargetConfig{})
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}

	if result.SuccessCount != 3 || result.FailureCount != 0 {
		t.Errorf("counts = %d/%d, want 3/0", result.SuccessCount, result.FailureCount)
	}
	if result.BatchID != "batch-1" {
		t.Errorf("BatchID = %q, want %q", result.BatchID, "batch-1")
	}
	if result.CorrelationID == "" {
		t.Error("CorrelationID should always be set")
	}
	if !tx.committed {
		t.Error("transaction was not committed")
	}

	if len(auditStore.updates) != 1 {
		t.Fatalf("got %d batch updates, want 1", len(auditStore.updates))
	}
	up := auditStore.updates[0]
	if up.status != BatchSuccess || up.success != 3 || up.failure != 0 {
		t.Errorf("final update = %+v, want Success 3/0", up)
	}
}

func TestSync_PartialFailure(t *testing.T) {
	dupErr := errors.New(`duplicate key value violates unique constraint "vms_users_email_key"`)
	tx := &fakeTx{failEmails: map[string]error{"a@x.com": dupErr}}
	auditStore := &fakeAudit{}
	svc := newTestService(tx, auditStore)

	result, err := svc.Sync(context.Background(), testRecords("a@x.com", "b@x.com", "c@x.com"),
		"users.csv", "ops@x.com", dbconn.TargetConfig{})
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}

	if result.SuccessCount != 2 || result.FailureCount != 1 {
		t.Errorf("counts = %d/%d, want 2/1", result.SuccessCount, result.FailureCount)
	}
	if len(result.Errors) != 1 {
		t.Fatalf("got %d row errors, want 1", len(result.Errors))
	}
	rowErr := result.Errors[0]
	if rowErr.RowNumber != 1 {
		t.Errorf("RowNumber = %d, want 1", rowErr.RowNumber)
	}
	if !strings.Contains(rowErr.Message, "duplicate key") {
		t.Errorf("Message = %q, want the insert cause", rowErr.Message)
	}
	if !strings.Contains(rowErr.RawData, "a@x.com") {
		t.Errorf("RawData = %q, should echo the offending record", rowErr.RawData)
	}

	// The failed row's savepoint must be rolled back so the remaining rows
	// still run inside a healthy transaction.
	found := false
	for _, sql := range tx.execLog {
		if sql == "ROLLBACK TO SAVEPOINT row_0" {
			found = true
		}
	}
	if !found {
		t.Errorf("no savepoint rollback for failed row; exec log: %v", tx.execLog)
	}
	if !tx.committed {
		t.Error("transaction was not committed despite row failure")
	}

	if len(auditStore.rowErrors) != 1 {
		t.Fatalf("got %d persisted row errors, want 1", len(auditStore.rowErrors))
	}
	if auditStore.updates[0].status != BatchPartial {
		t.Errorf("final status = %q, want Partial", auditStore.updates[0].status)
	}
}

func TestSync_AllRowsFail(t *testing.T) {
	// Re-uploading an identical file against a unique email constraint must
	// reject every row while still committing the (empty) batch.
	dupErr := errors.New("duplicate key")
	tx := &fakeTx{failEmails: map[string]error{
		"a@x.com": dupErr, "b@x.com": dupErr, "c@x.com": dupErr,
	}}
	auditStore := &fakeAudit{}
	svc := newTestService(tx, auditStore)

	result, err := svc.Sync(context.Background(), testRecords("a@x.com", "b@x.com", "c@x.com"),
		"users.csv", "ops@x.com", dbconn.TargetConfig{})
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}

	if result.SuccessCount != 0 || result.FailureCount != 3 {
		t.Errorf("counts = %d/%d, want 0/3", result.SuccessCount, result.FailureCount)
	}
	if auditStore.updates[0].status != BatchPartial {
		t.Errorf("final status = %q, want Partial", auditStore.updates[0].status)
	}
	for i, rowErr := range result.Errors {
		if rowErr.RowNumber != i+1 {
			t.Errorf("Errors[%d].RowNumber = %d, want %d", i, rowErr.RowNumber, i+1)
		}
	}
}

func TestSync_CountInvariant(t *testing.T) {
	tests := []struct {
		name       string
		emails     []string
		failEmails []string
	}{
		{"no failures", []string{"a@x.com", "b@x.com"}, nil},
		{"some failures", []string{"a@x.com", "b@x.com", "c@x.com"}, []string{"b@x.com"}},
		{"all failures", []string{"a@x.com"}, []string{"a@x.com"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fail := make(map[string]error, len(tt.failEmails))
			for _, e := range tt.failEmails {
				fail[e] = errors.New("insert failed")
			}
			svc := newTestService(&fakeTx{failEmails: fail}, &fakeAudit{})

			result, err := svc.Sync(context.Background(), testRecords(tt.emails...),
				"users.csv", "ops@x.com", dbconn.TargetConfig{})
			if err != nil {
				t.Fatalf("Sync() error = %v", err)
			}
			if result.SuccessCount+result.FailureCount != result.TotalRecords {
				t.Errorf("success %d + failure %d != total %d",
					result.SuccessCount, result.FailureCount, result.TotalRecords)
			}
			if len(result.Errors) != result.FailureCount {
				t.Errorf("len(Errors) = %d, want FailureCount %d", len(result.Errors), result.FailureCount)
			}
		})
	}
}

func TestSync_BeginFails(t *testing.T) {
	auditStore := &fakeAudit{}
	db := &fakeDB{beginErr: errors.New("connection reset")}
	svc := NewService(fakeConns{db: db}, func(DBTX) AuditStore { return auditStore })

	_, err := svc.Sync(context.Background(), testRecords("a@x.com"),
		"users.csv", "ops@x.com", dbconn.TargetConfig{})
	if !errors.Is(err, ErrSyncInfrastructure) {
		t.Fatalf("Sync() error = %v, want ErrSyncInfrastructure", err)
	}

	// The audit header, if created, must be marked Failed.
	if len(auditStore.updates) != 1 || auditStore.updates[0].status != BatchFailed {
		t.Errorf("audit updates = %+v, want one Failed update", auditStore.updates)
	}
}

func TestSync_CommitFails(t *testing.T) {
	tx := &fakeTx{commitErr: errors.New("server closed the connection")}
	auditStore := &fakeAudit{}
	svc := newTestService(tx, auditStore)

	_, err := svc.Sync(context.Background(), testRecords("a@x.com"),
		"users.csv", "ops@x.com", dbconn.TargetConfig{})
	if !errors.Is(err, ErrSyncInfrastructure) {
		t.Fatalf("Sync() error = %v, want ErrSyncInfrastructure", err)
	}
	if auditStore.updates[len(auditStore.updates)-1].status != BatchFailed {
		t.Errorf("last audit status = %q, want Failed", auditStore.updates[len(auditStore.updates)-1].status)
	}
}

func TestSync_AcquireFails(t *testing.T) {
	connErr := fmt.Errorf("%w: dial tcp: refused", dbconn.ErrConnectionFailure)
	svc := NewService(fakeConns{err: connErr}, func(DBTX) AuditStore { return &fakeAudit{} })

	_, err := svc.Sync(context.Background(), testRecords("a@x.com"),
		"users.csv", "ops@x.com", dbconn.TargetConfig{})
	if !errors.Is(err, dbconn.ErrConnectionFailure) {
		t.Fatalf("Sync() error = %v, want ErrConnectionFailure", err)
	}
}

func TestSync_AuditUnavailable(t *testing.T) {
	tx := &fakeTx{}
	auditStore := &fakeAudit{createErr: errors.New("audit store down")}
	svc := newTestService(tx, auditStore)

	result, err := svc.Sync(context.Background(), testRecords("a@x.com", "b@x.com"),
		"users.csv", "ops@x.com", dbconn.TargetConfig{})
	if err != nil {
		t.Fatalf("Sync() error = %v; audit unavailability must not block the sync", err)
	}

	if result.BatchID != "" {
		t.Errorf("BatchID = %q, want empty as degraded-audit sentinel", result.BatchID)
	}
	if result.CorrelationID == "" {
		t.Error("CorrelationID must survive audit unavailability")
	}
	if result.SuccessCount != 2 {
		t.Errorf("SuccessCount = %d, want 2", result.SuccessCount)
	}
	if !tx.committed {
		t.Error("transaction was not committed")
	}
	if len(auditStore.updates) != 0 {
		t.Errorf("got %d batch updates without a batch header, want 0", len(auditStore.updates))
	}
}

func TestSync_RowErrorPersistenceFailureIsNotFatal(t *testing.T) {
	tx := &fakeTx{failEmails: map[string]error{"a@x.com": errors.New("boom")}}
	auditStore := &fakeAudit{appendErr: errors.New("audit write failed")}
	svc := newTestService(tx, auditStore)

	result, err := svc.Sync(context.Background(), testRecords("a@x.com", "b@x.com"),
		"users.csv", "ops@x.com", dbconn.TargetConfig{})
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if result.FailureCount != 1 || len(result.Errors) != 1 {
		t.Errorf("row error must still appear in the result: %+v", result)
	}
}

func TestSync_NoRecords(t *testing.T) {
	svc := newTestService(&fakeTx{}, &fakeAudit{})

	_, err := svc.Sync(context.Background(), nil, "users.csv", "ops@x.com", dbconn.TargetConfig{})
	if !errors.Is(err, ErrNoRecords) {
		t.Errorf("Sync() error = %v, want ErrNoRecords", err)
	}
}

func TestSync_BatchMeta(t *testing.T) {
	auditStore := &fakeAudit{}
	svc := newTestService(&fakeTx{}, auditStore)

	_, err := svc.Sync(context.Background(), testRecords("a@x.com"),
		"q3-users.xlsx", "admin@x.com", dbconn.TargetConfig{})
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}

	if len(auditStore.created) != 1 {
		t.Fatalf("got %d created batches, want 1", len(auditStore.created))
	}
	meta := auditStore.created[0]
	if meta.FileName != "q3-users.xlsx" || meta.UploadedBy != "admin@x.com" || meta.TotalRecords != 1 {
		t.Errorf("BatchMeta = %+v", meta)
	}
	if meta.CorrelationID == "" {
		t.Error("BatchMeta.CorrelationID should be set")
	}
}
