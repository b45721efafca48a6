// Package web provides the HTTP surface for the user-directory sync
// service: one upload endpoint plus read-only history queries.
package web

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/vmsplus/usersync/internal/audit"
	"github.com/vmsplus/usersync/internal/config"
	"github.com/vmsplus/usersync/internal/core"
	"github.com/vmsplus/usersync/internal/dbconn"
	"github.com/vmsplus/usersync/internal/web/middleware"
)

// Syncer runs the validated-records-to-directory pipeline.
// Implemented by *core.Service.
type Syncer interface {
	Sync(ctx context.Context, records []core.UserRecord, fileName, uploadedBy string, target dbconn.TargetConfig) (*core.SyncResult, error)
}

// HistoryReader serves the read-only audit queries.
// Implemented by *audit.PoolStore.
type HistoryReader interface {
	ListRecent(ctx context.Context, limit int) ([]core.SyncBatch, error)
	GetDetails(ctx context.Context, batchID string) (*audit.BatchDetails, error)
}

// Server is the HTTP server for the sync service.
type Server struct {
	cfg     *config.Config
	syncer  Syncer
	history HistoryReader
	target  dbconn.TargetConfig
	router  *chi.Mux
	server  *http.Server
}

// NewServer creates a Server wired to the given collaborators. target is the
// directory-store configuration forwarded to every sync call.
func NewServer(cfg *config.Config, syncer Syncer, history HistoryReader, target dbconn.TargetConfig) *Server {
	s := &Server{
		cfg:     cfg,
		syncer:  syncer,
		history: history,
		target:  target,
		router:  chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(chimw.RequestID)
	s.router.Use(chimw.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(chimw.Recoverer)
	s.router.Use(chimw.Timeout(s.cfg.Server.RequestTimeout))
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Post("/upload", s.handleUpload)
		r.Get("/history", s.handleHistory)
		r.Get("/history/{batchID}", s.handleHistoryDetail)
	})
}

// Handler returns the root handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins listening on the configured address. Blocks until the server
// stops.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
