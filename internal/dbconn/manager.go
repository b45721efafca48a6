// Package dbconn manages the pooled connection to the target relational
// store. It keeps at most one live pool, keyed by a hash of the target
// configuration, and rebuilds the pool whenever the configuration changes so
// a sync is never silently run against the wrong target.
package dbconn

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrConnectionFailure marks pool construction failures. Nothing is cached
// when it is returned.
var ErrConnectionFailure = errors.New("target connection failure")

// TargetConfig holds the connection parameters for the destination store.
// Either URL or the discrete fields may be set; URL wins when both are.
type TargetConfig struct {
	URL      string
	Host     string
	Port     int
	Database string
	User     string
	Password string

	// MaxConns caps the pool size; zero means pgxpool's default.
	MaxConns int32
	// ConnectTimeout bounds pool construction and the verification ping.
	ConnectTimeout time.Duration
}

// ConnString returns the pgx connection string for the configuration.
func (c TargetConfig) ConnString() string {
	if c.URL != "" {
		return c.URL
	}
	host := c.Host
	if host == "" {
		host = "localhost"
	}
	port := c.Port
	if port == 0 {
		port = 5432
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", host, port),
		Path:   "/" + c.Database,
	}
	if c.User != "" {
		u.User = url.UserPassword(c.User, c.Password)
	}
	return u.String()
}

// Hash returns a deterministic identity for the configuration, used to
// decide whether a cached pool may be reused.
func (c TargetConfig) Hash() string {
	sum := sha256.Sum256([]byte(c.ConnString()))
	return hex.EncodeToString(sum[:])
}

// PoolFactory builds a connection pool. Replaceable in tests.
type PoolFactory func(ctx context.Context, cfg TargetConfig) (*pgxpool.Pool, error)

// Manager owns the lifecycle of the shared target pool: lazy creation,
// config-change invalidation, and teardown.
type Manager struct {
	mu      sync.Mutex
	pool    *pgxpool.Pool
	hash    string
	newPool PoolFactory
}

// NewManager creates a Manager that builds real pgx pools.
func NewManager() *Manager {
	return &Manager{newPool: buildPool}
}

// NewManagerWithFactory creates a Manager with a custom pool factory.
func NewManagerWithFactory(factory PoolFactory) *Manager {
	return &Manager{newPool: factory}
}

// Acquire returns a pool connected to the configured target, building one on
// first use. A configuration change closes the old pool before the new one
// is opened. Safe for concurrent callers; the returned pool is itself safe
// for concurrent checkout.
func (m *Manager) Acquire(ctx context.Context, cfg TargetConfig) (*pgxpool.Pool, error) {
	hash := cfg.Hash()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pool != nil && m.hash == hash {
		return m.pool, nil
	}

	if m.pool != nil {
		slog.Info("target configuration changed, closing previous pool")
		m.pool.Close()
		m.pool = nil
		m.hash = ""
	}

	pool, err := m.newPool(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailure, err)
	}

	m.pool = pool
	m.hash = hash
	return pool, nil
}

// Close tears down the cached pool, if any.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pool != nil {
		m.pool.Close()
		m.pool = nil
		m.hash = ""
	}
}

// buildPool constructs and verifies a real pgx pool.
func buildPool(ctx context.Context, cfg TargetConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.ConnString())
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.ConnectTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, err
	}

	// Fail now rather than on the first sync.
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}
