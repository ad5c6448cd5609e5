package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"guardian/internal/analytics"
	"guardian/internal/config"
	"guardian/internal/escalation"
	"guardian/internal/modules/audit"
	"guardian/internal/storage"
	"guardian/internal/utils"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Server exposes the moderation data over a JSON API for the dashboard.
type Server struct {
	cfg       config.DashConfig
	store     *storage.Store
	analytics *analytics.Service
	escalate  *escalation.Engine
	audit     *audit.Logger
	invites   InviteSource
	rate      *utils.RateWindow
	logger    *zap.Logger
	router    chi.Router
}

func NewServer(cfg config.DashConfig, store *storage.Store, analyticsService *analytics.Service, engine *escalation.Engine, auditLogger *audit.Logger, invites InviteSource, logger *zap.Logger) *Server {
	s := &Server{
		cfg:       cfg,
		store:     store,
		analytics: analyticsService,
		escalate:  engine,
		audit:     auditLogger,
		invites:   invites,
		rate:      utils.NewRateWindow(time.Minute),
		logger:    logger.Named("api"),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(LoggingMiddleware(s.logger))
	r.Use(RecoveryMiddleware(s.logger))
	r.Use(s.rateLimitMiddleware)
	r.Use(s.sessionMiddleware)

	r.Get("/auth/login", s.handleLogin)
	r.Get("/auth/callback", s.handleCallback)
	r.Post("/auth/logout", s.handleLogout)
	r.Get("/healthz", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Use(requireAuth)

		r.Get("/me", s.handleMe)

		r.Get("/settings", s.handleGetSettings)
		r.Post("/settings", s.handleUpdateSettings)

		r.Get("/escalations", s.handleListEscalations)
		r.Post("/escalations", s.handleCreateEscalation)
		r.Delete("/escalations/{id}", s.handleDeleteEscalation)

		r.Get("/presets", s.handleListPresets)
		r.Post("/presets", s.handleCreatePreset)
		r.Delete("/presets/{id}", s.handleDeletePreset)

		r.Get("/users", s.handleListUsers)
		r.Get("/users/{id}", s.handleGetUser)
		r.Post("/users/{id}/clear", s.handleClearUser)

		r.Post("/monitored/{id}", s.handleAddMonitored)
		r.Delete("/monitored/{id}", s.handleRemoveMonitored)

		r.Get("/invites", s.handleListInvites)
		r.Post("/invites/{code}/alias", s.handleSetInviteAlias)

		r.Get("/logs", s.handleListLogs)
		r.Get("/stats", s.handleStats)
	})

	return r
}

// Handler returns the router for mounting or testing.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
