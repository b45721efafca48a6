package audit

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vmsplus/usersync/internal/core"
	"github.com/vmsplus/usersync/internal/dbconn"
)

// ConnSource hands out the shared target pool. Implemented by
// *dbconn.Manager.
type ConnSource interface {
	Acquire(ctx context.Context, cfg dbconn.TargetConfig) (*pgxpool.Pool, error)
}

// PoolStore serves the read-only history queries against the shared pool,
// acquiring the connection per call so a target-configuration change is
// picked up without restarting.
type PoolStore struct {
	conns  ConnSource
	target dbconn.TargetConfig
}

// NewPoolStore creates a PoolStore bound to a target configuration.
func NewPoolStore(conns ConnSource, target dbconn.TargetConfig) *PoolStore {
	return &PoolStore{conns: conns, target: target}
}

// ListRecent returns batch headers most-recent-first.
func (p *PoolStore) ListRecent(ctx context.Context, limit int) ([]core.SyncBatch, error) {
	pool, err := p.conns.Acquire(ctx, p.target)
	if err != nil {
		return nil, err
	}
	return New(pool).ListRecent(ctx, limit)
}

// GetDetails returns one batch with its row errors.
func (p *PoolStore) GetDetails(ctx context.Context, batchID string) (*BatchDetails, error) {
	pool, err := p.conns.Acquire(ctx, p.target)
	if err != nil {
		return nil, err
	}
	return New(pool).GetDetails(ctx, batchID)
}
