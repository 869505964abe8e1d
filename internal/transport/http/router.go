package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig bundles the handlers and cross-cutting settings for the
// HTTP surface.
type RouterConfig struct {
	Tasks  *TaskHandler
	Audit  *AuditHandler
	Logger *slog.Logger

	// AdminKeyHash protects the management routes. Empty disables auth.
	AdminKeyHash string

	// Gatherer exposes /metrics when set, typically
	// prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer

	// Health reports backend readiness for /healthz.
	Health func() error
}

// NewRouter assembles the full HTTP surface. Task and audit routes sit
// behind the management key; the check endpoint is open because its
// callers authenticate per-request with task tokens.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(Recovery(cfg.Logger))
	r.Use(RequestID)
	r.Use(Logger(cfg.Logger))
	r.Use(ClientInfo)
	r.Use(chimiddleware.Timeout(30 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if cfg.Health != nil {
			if err := cfg.Health(); err != nil {
				http.Error(w, "unhealthy", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	})

	if cfg.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(v1 chi.Router) {
		v1.Group(func(open chi.Router) {
			open.Post("/access/check", cfg.Tasks.handleCheckAccess)
		})
		v1.Group(func(managed chi.Router) {
			managed.Use(AdminAuth(cfg.AdminKeyHash, cfg.Logger))
			managed.Post("/tasks", cfg.Tasks.handleCreateTask)
			managed.Post("/tasks/initiate", cfg.Tasks.handleInitiate)
			managed.Get("/tasks/{taskID}", cfg.Tasks.handleGetTask)
			managed.Delete("/tasks/{taskID}", cfg.Tasks.handleRevokeTask)
			cfg.Audit.Register(managed)
		})
	})
	return r
}
