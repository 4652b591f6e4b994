// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Response Helpers
//
//	httputil.WriteSuccess(w, data)
//	httputil.WriteCreated(w, resource)
//	httputil.WriteReasonError(w, http.StatusConflict, err.Error(), "duplicate_name")
//
// Every error body has the shape {"error": "...", "reason": "..."}; reason
// is omitted when unknown.
//
// # Request Parsing
//
//	var req CreateRoleRequest
//	if !httputil.DecodeAndValidate(w, r, &req) {
//		return // response already written
//	}
//
// DecodeAndValidate applies go-playground/validator struct tags after
// decoding.
//
// # Middleware
//
//	router.Use(
//		httputil.RequestIDMiddleware,
//		httputil.ClientInfoMiddleware(false),
//		httputil.LoggingMiddleware(logger),
//		httputil.RecoveryMiddleware(logger),
//		httputil.RateLimitMiddleware(httputil.RateLimitConfig{RequestsPerSecond: 50}),
//	)
package httputil
