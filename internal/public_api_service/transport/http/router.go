package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/aradsms/channel_gateway/internal/public_api_service/middleware"
	"github.com/go-chi/chi/v5"
	chi_middleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type RouterConfig struct {
	JWTSecret      []byte
	WebhookLimiter *middleware.RateLimiter
	RequestTimeout time.Duration
}

// NewRouter mounts webhooks at /webhooks, the organization API at /api/v1,
// and /metrics and /healthz at the root.
func NewRouter(cfg RouterConfig, webhooks *WebhookHandler, admin *AdminHandler, logger *slog.Logger) http.Handler {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}

	r := chi.NewRouter()
	r.Use(chi_middleware.RequestID)
	r.Use(chi_middleware.RealIP)
	r.Use(chi_middleware.Recoverer)
	r.Use(PrometheusMetricsMiddleware)
	r.Use(chi_middleware.Timeout(cfg.RequestTimeout))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		if cfg.WebhookLimiter != nil {
			r.Use(cfg.WebhookLimiter.RateLimit)
		}
		webhooks.RegisterRoutes(r)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.AuthMiddleware(cfg.JWTSecret, logger))
		admin.RegisterRoutes(r)
	})
	return r
}
