// Package requestid assigns every request an id for log correlation.
package requestid

import (
	"net/http"

	"github.com/google/uuid"

	"geosync/pkg/requestcontext"
)

const Header = "X-Request-ID"

// Middleware honors a caller-provided id and generates one otherwise. The id
// is echoed back in the response headers.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(Header)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(Header, requestID)
		ctx := requestcontext.WithRequestID(r.Context(), requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
