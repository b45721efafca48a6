package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/vmsplus/usersync/internal/audit"
	"github.com/vmsplus/usersync/internal/config"
	"github.com/vmsplus/usersync/internal/core"
	"github.com/vmsplus/usersync/internal/dbconn"
	"github.com/vmsplus/usersync/internal/logging"
	"github.com/vmsplus/usersync/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"target_max_conns", cfg.Target.MaxConns,
		"upload_max_file_size", cfg.Upload.MaxFileSize,
	)

	target := targetFromConfig(cfg.Target)
	manager := dbconn.NewManager()
	defer manager.Close()

	// Bootstrap schema against the configured target. Pool construction is
	// lazy elsewhere, so this is also the startup connectivity check.
	ctx := context.Background()
	pool, err := manager.Acquire(ctx, target)
	if err != nil {
		slog.Error("failed to connect to target store", "error", err)
		os.Exit(1)
	}
	if err := core.EnsureDirectorySchema(ctx, pool); err != nil {
		slog.Error("failed to ensure directory schema", "error", err)
		os.Exit(1)
	}
	if err := audit.EnsureSchema(ctx, pool); err != nil {
		slog.Error("failed to ensure audit schema", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to target store, schema ready")

	service := core.NewService(
		poolSource{manager},
		func(db core.DBTX) core.AuditStore { return audit.New(db) },
	)
	history := audit.NewPoolStore(manager, target)
	server := web.NewServer(cfg, service, history, target)

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	slog.Info("server starting", "addr", cfg.Server.Addr())
	if err := server.Start(); err != nil {
		slog.Info("server stopped", "error", err)
	}
}

// poolSource adapts the dbconn manager to the orchestrator's ConnProvider.
type poolSource struct {
	mgr *dbconn.Manager
}

func (p poolSource) Acquire(ctx context.Context, cfg dbconn.TargetConfig) (core.Database, error) {
	return p.mgr.Acquire(ctx, cfg)
}

// targetFromConfig converts application config to the connection manager's
// target shape.
func targetFromConfig(t config.TargetConfig) dbconn.TargetConfig {
	return dbconn.TargetConfig{
		URL:            t.URL,
		Host:           t.Host,
		Port:           t.Port,
		Database:       t.Database,
		User:           t.User,
		Password:       t.Password,
		MaxConns:       int32(t.MaxConns),
		ConnectTimeout: t.ConnectTimeout,
	}
}
