package auth

import (
	"context"
	"log/slog"
	"net/http"

	id "fraudengine/pkg/domain"
	"fraudengine/pkg/requestcontext"
)

// RoleCheck reports whether an authenticated caller may use the guarded routes.
type RoleCheck func(ctx context.Context, userID id.UserID) (bool, error)

// RequireRole runs after RequireAuth and lets through only callers that pass
// check. A failed lookup is reported as an upstream failure, not a denial.
func RequireRole(check RoleCheck, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := requestcontext.RequestID(ctx)

			caller, ok := requestcontext.Caller(ctx)
			if !ok {
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Missing caller identity")
				return
			}
			allowed, err := check(ctx, caller)
			if err != nil {
				logger.ErrorContext(ctx, "role lookup failed", "error", err, "user_id", caller, "request_id", requestID)
				writeJSONError(w, http.StatusBadGateway, "external_dependency_failure", "Role lookup failed")
				return
			}
			if !allowed {
				logger.WarnContext(ctx, "forbidden - missing role", "user_id", caller, "path", r.URL.Path, "request_id", requestID)
				writeJSONError(w, http.StatusForbidden, "forbidden", "Caller lacks the role required for this operation")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
