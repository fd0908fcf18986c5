// Package requestcontext provides HTTP-independent context accessors for
// request-scoped values. Middleware sets them, services read them, and tests
// inject them without running the middleware chain.
package requestcontext

import (
	"context"
	"time"

	id "geosync/pkg/domain"
)

type (
	tenantIDKey    struct{}
	requestIDKey   struct{}
	requestTimeKey struct{}
)

// Exported context keys for tests that need raw context.WithValue.
var (
	ContextKeyTenantID    = tenantIDKey{}
	ContextKeyRequestID   = requestIDKey{}
	ContextKeyRequestTime = requestTimeKey{}
)

// TenantID retrieves the authenticated tenant ID from the context.
// Returns the zero value if not set.
func TenantID(ctx context.Context) id.TenantID {
	if tenantID, ok := ctx.Value(ContextKeyTenantID).(id.TenantID); ok {
		return tenantID
	}
	return id.TenantID{}
}

// WithTenantID injects a tenant ID into the context.
func WithTenantID(ctx context.Context, tenantID id.TenantID) context.Context {
	return context.WithValue(ctx, ContextKeyTenantID, tenantID)
}

// RequestID retrieves the request correlation ID from the context.
func RequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return reqID
	}
	return ""
}

// WithRequestID injects a request correlation ID into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// Now retrieves the request-scoped time from context. Falls back to
// time.Now() for non-HTTP contexts (workers, tests, replay).
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(ContextKeyRequestTime).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime injects a specific time into a context. Useful for service unit
// tests and for replay, which must evaluate entries at their recorded time.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ContextKeyRequestTime, t)
}
