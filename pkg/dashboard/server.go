// Package dashboard wires the aggregation engine behind the local HTTP JSON
// API consumed by the rendering layer.
package dashboard

import (
	"context"
	"errors"
	"net/http"
	"time"

	log "github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wwwnakanaka1-lgtm/claude-task-dashboard/pkg/anthropic"
	"github.com/wwwnakanaka1-lgtm/claude-task-dashboard/pkg/config"
	"github.com/wwwnakanaka1-lgtm/claude-task-dashboard/pkg/pricing"
	"github.com/wwwnakanaka1-lgtm/claude-task-dashboard/pkg/ratelimit"
	"github.com/wwwnakanaka1-lgtm/claude-task-dashboard/pkg/usage"
)

type Server struct {
	cfg    *config.ServerConfig
	table  pricing.Table
	keys   *config.APIKeyStore
	costs  *usage.CostCache
	window *usage.WindowCache
	syncer *ratelimit.Reconciler
	vendor *anthropic.Client
	hub    *wsHub

	httpServer *http.Server
}

// statePaths locates the files the server persists between runs.
type statePaths struct {
	apiKey       string
	syncSnapshot string
	costCache    string
}

func defaultStatePaths() statePaths {
	return statePaths{
		apiKey:       config.DefaultAPIKeyPath(),
		syncSnapshot: config.DefaultSyncSnapshotPath(),
		costCache:    config.DefaultCostCachePath(),
	}
}

func NewServer(cfg *config.ServerConfig) *Server {
	return newServer(cfg, defaultStatePaths())
}

func newServer(cfg *config.ServerConfig, paths statePaths) *Server {
	cfg.Normalize()
	table := pricing.MustDefault()
	keys := config.NewAPIKeyStore(paths.apiKey)

	costs := usage.NewCostCache(cfg.ProjectsDir(), table, time.Local, paths.costCache)
	costs.SetInterval(cfg.CostRefreshInterval())

	window := usage.NewWindowCache(cfg.ProjectsDir(), cfg.WindowDuration(), cfg.OutputTokenLimit)
	window.SetInterval(cfg.WindowRefreshInterval())

	s := &Server{
		cfg:    cfg,
		table:  table,
		keys:   keys,
		costs:  costs,
		window: window,
		syncer: ratelimit.NewReconciler(paths.syncSnapshot, window),
		vendor: anthropic.NewClient(keys, table),
		hub:    newWSHub(),
	}
	costs.OnRebuild = func() { s.hub.Broadcast("stats") }
	window.OnRebuild = func() { s.hub.Broadcast("ratelimit") }

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/api", func(api chi.Router) {
		api.Use(corsMiddleware)
		api.Get("/version", s.handleVersion)
		api.Get("/sessions", s.handleSessions)
		api.Get("/todos/{sessionID}", s.handleTodos)
		api.Get("/stats", s.handleStats)
		api.Get("/ratelimit", s.handleRateLimit)
		api.Post("/sync", s.handleSyncSet)
		api.Delete("/sync", s.handleSyncClear)
		api.Get("/config", s.handleConfigGet)
		api.Post("/config", s.handleConfigSet)
		api.Delete("/config", s.handleConfigDelete)
		api.Get("/anthropic/ratelimit", s.handleVendorRateLimit)
		api.Get("/anthropic/usage", s.handleVendorUsage)
		api.Get("/ws", s.handleWS)
	})

	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run starts the cache timers, the directory watcher and the HTTP listener,
// and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	go s.costs.Run(ctx)
	go s.window.Run(ctx)
	go s.watchProjects(ctx)

	errCh := make(chan error, 1)
	go func() {
		log.Info("dashboard listening", "addr", s.cfg.ListenAddr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	log.Info("shutting down")
	s.hub.CloseAll()
	return s.httpServer.Shutdown(shutdownCtx)
}

// The rendering layer is served from a file:// page or another port during
// development, so the API answers cross-origin GETs.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
