// Package requestcontext provides HTTP-independent context accessors for
// request-scoped values. Middleware sets them; services and audit
// enrichment read them. Keeping this package free of net/http lets
// services import only what they need.
package requestcontext

import (
	"context"
)

type (
	requestIDKey  struct{}
	clientInfoKey struct{}
)

// RequestID retrieves the correlation id from the context.
func RequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(requestIDKey{}).(string); ok {
		return requestID
	}
	return ""
}

// WithRequestID injects a correlation id into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// ClientInfo is a short human-readable description of the calling client,
// parsed from the User-Agent header. Used only for audit enrichment.
func ClientInfo(ctx context.Context) string {
	if info, ok := ctx.Value(clientInfoKey{}).(string); ok {
		return info
	}
	return ""
}

// WithClientInfo injects the parsed client description into the context.
func WithClientInfo(ctx context.Context, info string) context.Context {
	return context.WithValue(ctx, clientInfoKey{}, info)
}
