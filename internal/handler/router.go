package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/OneStable-limited/onestable-bridge/internal/metrics"
	"github.com/OneStable-limited/onestable-bridge/internal/middleware"
	"github.com/OneStable-limited/onestable-bridge/internal/pkg/response"
)

// RouterConfig wires the status API.
type RouterConfig struct {
	Status      *StatusHandler
	Metrics     *metrics.Metrics
	Checks      map[string]Check
	CORSOrigins []string
	Logger      *slog.Logger
}

// NewRouter builds the status API router.
func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	// Global middleware stack
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.CORSOrigins))
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware)
	}
	r.Use(chimiddleware.Timeout(30 * time.Second))

	r.Get("/health", Health(cfg.Checks))
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			response.OK(w, map[string]string{
				"name":    "Onestable Bridge Deployer",
				"version": "1.0.0",
			})
		})
		r.Mount("/networks", cfg.Status.Routes())
	})

	return r
}
