// Package requestcontext provides transport-independent context accessors.
//
// Handlers, consumer loops and scheduled jobs set values here; services read
// them. Keeping this package free of net/http and Kafka imports lets services
// depend on it without pulling in transport code.
//
// Usage in tests (inject values):
//
//	ctx = requestcontext.WithTime(ctx, fixedTime)
package requestcontext

import (
	"context"
	"time"
)

type (
	requestIDKey   struct{}
	requestTimeKey struct{}
	caseworkerKey  struct{}
)

// Exported context keys for direct use in tests that need context.WithValue.
var (
	ContextKeyRequestID   = requestIDKey{}
	ContextKeyRequestTime = requestTimeKey{}
	ContextKeyCaseworker  = caseworkerKey{}
)

// RequestID retrieves the request or correlation ID from the context.
func RequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return reqID
	}
	return ""
}

// WithRequestID injects a request ID into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// Caseworker retrieves the acting caseworker id set by the excluded auth layer.
func Caseworker(ctx context.Context) string {
	if cw, ok := ctx.Value(ContextKeyCaseworker).(string); ok {
		return cw
	}
	return ""
}

// WithCaseworker injects the acting caseworker id.
func WithCaseworker(ctx context.Context, caseworkerID string) context.Context {
	return context.WithValue(ctx, ContextKeyCaseworker, caseworkerID)
}

// Now retrieves the request-scoped time from context.
// Falls back to time.Now() if not set (consumer loops without a batch time, CLI).
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(ContextKeyRequestTime).(time.Time); ok {
		return t
	}
	return time.Now().UTC()
}

// WithTime injects a specific time into a context.
// Useful for:
//   - Service unit tests
//   - Jobs that need consistent time within one tick
//   - Consumer loops that stamp a batch
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ContextKeyRequestTime, t)
}
