package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sos/pkg/platform/httputil"
	"sos/pkg/platform/middleware/admin"
	"sos/pkg/platform/middleware/metadata"
	request "sos/pkg/platform/middleware/request"
	"sos/pkg/platform/middleware/requesttime"
)

const defaultRequestTimeout = 30 * time.Second

// Module mounts one component's routes.
type Module interface {
	Register(r chi.Router)
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

type Config struct {
	Logger         *slog.Logger
	Latency        request.LatencyObserver
	Gatherer       prometheus.Gatherer
	RequestTimeout time.Duration
	// AdminToken guards /admin. Empty disables the admin routes.
	AdminToken string
	Admin      *AdminHandler
	Health     map[string]HealthCheck
}

// NewRouter builds the middleware chain and mounts every module under it.
func NewRouter(cfg Config, modules ...Module) http.Handler {
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	r := chi.NewRouter()
	r.Use(request.Recovery(cfg.Logger))
	r.Use(request.RequestID)
	r.Use(metadata.ClientMetadata)
	r.Use(requesttime.Middleware)
	r.Use(request.Logger(cfg.Logger))
	if cfg.Latency != nil {
		r.Use(request.Latency(cfg.Latency))
	}

	r.Get("/health", healthHandler(cfg.Health))
	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Group(func(r chi.Router) {
		r.Use(request.Timeout(cfg.RequestTimeout))
		r.Use(request.ContentTypeJSON)
		for _, m := range modules {
			m.Register(r)
		}
		if cfg.AdminToken != "" && cfg.Admin != nil {
			r.Route("/admin", func(r chi.Router) {
				r.Use(admin.RequireAdminToken(cfg.AdminToken, cfg.Logger))
				cfg.Admin.Register(r)
			})
		}
	})
	return r
}

func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		out := map[string]string{}
		for name, check := range checks {
			if err := check(r.Context()); err != nil {
				out[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			out[name] = "ok"
		}
		httputil.WriteJSON(w, status, out)
	}
}
