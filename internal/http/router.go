// Package http wires the service's HTTP surface.
package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"geosync/pkg/platform/middleware/requestid"
	"geosync/pkg/platform/middleware/requesttime"
	"geosync/pkg/requestcontext"
)

// Registrar is implemented by module handlers that mount their own routes.
type Registrar interface {
	Register(r chi.Router)
}

// HealthChecker reports dependency health for /healthz.
type HealthChecker func(r *http.Request) error

// NewRouter assembles the full route tree: tenant geography endpoints,
// the admin review queue, metrics and health.
func NewRouter(logger *slog.Logger, health HealthChecker, handlers ...Registrar) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer)
	r.Use(requestid.Middleware)
	r.Use(requesttime.Middleware)
	r.Use(requestLogger(logger))
	r.Use(chimiddleware.Timeout(30 * time.Second))

	for _, h := range handlers {
		h.Register(r)
	}

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if health != nil {
			if err := health(req); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"status":"degraded"}`))
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	return r
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.InfoContext(r.Context(), "http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", requestcontext.RequestID(r.Context()),
			)
		})
	}
}
