package httptransport

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fraudengine/internal/platform/health"
	"fraudengine/internal/platform/metrics"
	id "fraudengine/pkg/domain"
	"fraudengine/pkg/platform/middleware/auth"
	"fraudengine/pkg/requestcontext"
)

type tokenTable map[string]string

func (t tokenTable) ValidateToken(token string) (*auth.JWTClaims, error) {
	userID, ok := t[token]
	if !ok {
		return nil, errors.New("unknown token")
	}
	return &auth.JWTClaims{UserID: userID}, nil
}

type echoCaller struct{}

func (echoCaller) Register(r chi.Router) {
	r.Post("/v1/echo", func(w http.ResponseWriter, r *http.Request) {
		caller, _ := requestcontext.Caller(r.Context())
		_, _ = w.Write([]byte(caller.String()))
	})
}

func newRouter(t *testing.T) (http.Handler, id.UserID) {
	t.Helper()
	caller := id.NewUserID()
	reg := prometheus.NewRegistry()
	router := NewRouter(Config{MaxBodyBytes: 1 << 10}, Dependencies{
		Health:    health.New("test"),
		Metrics:   metrics.New(reg, reg),
		Validator: tokenTable{"good": caller.String()},
		Domains:   []Registrar{echoCaller{}},
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return router, caller
}

func serve(router http.Handler, method, path, token, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(`{}`))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestRouter(t *testing.T) {
	router, caller := newRouter(t)

	t.Run("probes need no token", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/health/live", "", "").Code)
	})

	t.Run("domain routes require a bearer token", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, serve(router, http.MethodPost, "/v1/echo", "", "").Code)
		assert.Equal(t, http.StatusUnauthorized, serve(router, http.MethodPost, "/v1/echo", "forged", "").Code)
	})

	t.Run("authenticated caller reaches the handler", func(t *testing.T) {
		rec := serve(router, http.MethodPost, "/v1/echo", "good", "application/json")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, caller.String(), rec.Body.String())
		assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	})

	t.Run("non-json bodies are refused", func(t *testing.T) {
		rec := serve(router, http.MethodPost, "/v1/echo", "good", "text/plain")
		assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	})

	t.Run("metrics are exposed by route pattern", func(t *testing.T) {
		rec := serve(router, http.MethodGet, "/metrics", "", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `fraudengine_http_requests_total{method="POST",route="/v1/echo",status="200"}`)
	})
}
