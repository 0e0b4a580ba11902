package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"fraudengine/internal/platform/health"
	"fraudengine/internal/platform/metrics"
	"fraudengine/pkg/platform/middleware/auth"
	"fraudengine/pkg/platform/middleware/metadata"
	"fraudengine/pkg/platform/middleware/request"
)

// Registrar mounts one domain's routes. Handlers stay thin and delegate to
// their services; the router only owns cross-cutting middleware.
type Registrar interface {
	Register(r chi.Router)
}

type Config struct {
	RequestTimeout time.Duration
	MaxBodyBytes   int64
	Metadata       *metadata.Config
}

type Dependencies struct {
	Health    *health.Handler
	Metrics   *metrics.Metrics
	Validator auth.JWTValidator
	Domains   []Registrar
}

// NewRouter wires probes and metrics without authentication and every /v1
// route behind the bearer token middleware.
func NewRouter(cfg Config, deps Dependencies, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(request.Recovery(logger))
	r.Use(request.RequestID)
	r.Use(metadata.NewMiddleware(cfg.Metadata).Handler)
	r.Use(request.Logger(logger))
	if deps.Metrics != nil {
		r.Use(deps.Metrics.Middleware)
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}
	if deps.Health != nil {
		deps.Health.Register(r)
	}

	r.Group(func(r chi.Router) {
		if cfg.RequestTimeout > 0 {
			r.Use(request.Timeout(cfg.RequestTimeout))
		}
		if cfg.MaxBodyBytes > 0 {
			r.Use(request.BodyLimit(cfg.MaxBodyBytes))
		}
		r.Use(request.ContentTypeJSON)
		r.Use(auth.RequireAuth(deps.Validator, logger))

		for _, d := range deps.Domains {
			d.Register(r)
		}
	})

	return r
}
