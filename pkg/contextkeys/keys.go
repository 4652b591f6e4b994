// Package contextkeys provides centralized context key definitions.
//
// All context keys used across the service are defined here so middleware,
// audit recording and logging agree on names and value types.
//
// USAGE PATTERN:
//
//	ctx = contextkeys.WithActorID(ctx, "u-123")
//	actor := contextkeys.GetActorID(ctx)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// RequestIDKey contains the request ID string (UUID)
	// Set by: httputil.RequestIDMiddleware
	// Used by: Logger, audit events
	RequestIDKey Key = "request_id"

	// ActorIDKey contains the id of the user performing the call
	// Set by: middleware.ActorMiddleware (JWT subject or trusted header)
	// Used by: audit events, permission gating
	ActorIDKey Key = "actor_id"

	// SourceIPKey contains the client address
	// Set by: httputil.ClientInfoMiddleware
	// Used by: audit events
	SourceIPKey Key = "source_ip"

	// UserAgentKey contains the client user agent
	// Set by: httputil.ClientInfoMiddleware
	// Used by: audit events
	UserAgentKey Key = "user_agent"

	// LoggerKey contains *observability.Logger
	// Set by: httputil.LoggingMiddleware
	// Used by: handlers that need request-scoped logging
	LoggerKey Key = "logger"
)

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithActorID adds the acting user id to the context
func WithActorID(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, ActorIDKey, actorID)
}

// WithSourceIP adds the client address to the context
func WithSourceIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, SourceIPKey, ip)
}

// WithUserAgent adds the client user agent to the context
func WithUserAgent(ctx context.Context, ua string) context.Context {
	return context.WithValue(ctx, UserAgentKey, ua)
}

// WithLogger adds logger to the context
func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	return getString(ctx, RequestIDKey)
}

// GetActorID retrieves the acting user id from context
func GetActorID(ctx context.Context) string {
	return getString(ctx, ActorIDKey)
}

// GetSourceIP retrieves the client address from context
func GetSourceIP(ctx context.Context) string {
	return getString(ctx, SourceIPKey)
}

// GetUserAgent retrieves the client user agent from context
func GetUserAgent(ctx context.Context) string {
	return getString(ctx, UserAgentKey)
}

func getString(ctx context.Context, key Key) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}
