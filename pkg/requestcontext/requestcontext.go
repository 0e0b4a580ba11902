// Package requestcontext carries request-scoped values (caller, request id,
// client metadata, request time) through context.
package requestcontext

import (
	"context"
	"time"

	id "fraudengine/pkg/domain"
)

type (
	callerKey    struct{}
	requestIDKey struct{}
	clientIPKey  struct{}
	userAgentKey struct{}
	timeKey      struct{}
)

// WithCaller returns a context carrying the authenticated caller's user ID.
func WithCaller(ctx context.Context, userID id.UserID) context.Context {
	return context.WithValue(ctx, callerKey{}, userID)
}

// Caller returns the authenticated caller, if any.
func Caller(ctx context.Context) (id.UserID, bool) {
	userID, ok := ctx.Value(callerKey{}).(id.UserID)
	if !ok || userID.IsNil() {
		return id.UserID{}, false
	}
	return userID, true
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

func RequestID(ctx context.Context) string {
	v, _ := ctx.Value(requestIDKey{}).(string)
	return v
}

// WithClientMetadata stores the resolved client IP and raw User-Agent.
func WithClientMetadata(ctx context.Context, clientIP, userAgent string) context.Context {
	ctx = context.WithValue(ctx, clientIPKey{}, clientIP)
	return context.WithValue(ctx, userAgentKey{}, userAgent)
}

func ClientIP(ctx context.Context) string {
	v, _ := ctx.Value(clientIPKey{}).(string)
	return v
}

func UserAgent(ctx context.Context) string {
	v, _ := ctx.Value(userAgentKey{}).(string)
	return v
}

// WithTime pins the request-scoped "now".
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, timeKey{}, t)
}

// Now returns the request-scoped time, falling back to time.Now for workers and tests.
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(timeKey{}).(time.Time); ok {
		return t
	}
	return time.Now()
}
