// Package middleware provides HTTP middleware for caller identity and shared
// rate limiting.
//
// # Overview
//
// The RBAC API needs to know who is acting so that permission gates can run
// the evaluator and audit events carry an actor. This package resolves that
// identity; it never decides what the actor may do.
//
// # Middleware Components
//
// ActorMiddleware: bearer token or trusted header
//
//	actors := middleware.NewActorMiddleware(middleware.ActorConfig{
//		JWTSecret:     []byte(cfg.Auth.JWTSecret),
//		TrustedHeader: "X-Actor-ID",
//	})
//	router.Use(actors.Handler)
//	// HS256 token "sub" claim -> contextkeys.WithActorID
//
// DistributedRateLimitMiddleware: Redis-backed fixed windows
//
//	limiter := middleware.NewDistributedRateLimitMiddleware(redisClient,
//		middleware.PerActorWindowConfig(), middleware.DefaultWindowConfig(), false, logger)
//	router.Use(limiter.Handler)
//
// Actors are limited by id, anonymous callers by client address. Redis
// errors fail open unless SetFallbackEnabled(false) is called.
//
// # Related Packages
//
//   - pkg/contextkeys: where the actor is stored
//   - pkg/rbac: PermissionMiddleware consumes the actor
//   - pkg/httputil: in-process rate limiting for single instances
package middleware
