// Package tenantauth authenticates tenant API calls and scopes the request
// context to the calling tenant. Every downstream read and write keys off
// the tenant id set here; there is no cross-tenant access path.
package tenantauth

import (
	"log/slog"
	"net/http"
	"strings"

	id "geosync/pkg/domain"
	"geosync/pkg/requestcontext"
)

// TokenValidator validates a bearer token and returns the tenant it belongs to.
type TokenValidator interface {
	ValidateToken(tokenString string) (id.TenantID, error)
}

func RequireTenant(validator TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			const bearerPrefix = "Bearer "
			authHeader := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(authHeader, bearerPrefix)
			if !ok || token == "" {
				logger.WarnContext(ctx, "unauthorized access - missing token",
					"request_id", requestcontext.RequestID(ctx),
				)
				writeUnauthorized(w, "Missing or invalid Authorization header")
				return
			}

			tenantID, err := validator.ValidateToken(token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", requestcontext.RequestID(ctx),
				)
				writeUnauthorized(w, "Invalid or expired token")
				return
			}

			ctx = requestcontext.WithTenantID(ctx, tenantID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized","error_description":"` + description + `"}`))
}
