// Package observability provides structured logging, Prometheus metrics,
// health probes and OpenTelemetry tracing.
//
// # Structured Logging
//
// Logger wraps logrus. Output is JSON unless Format is "text", and may be
// sent to a rotated file:
//
//	logger := observability.NewLoggerWithOptions(observability.LogOptions{
//		Level: observability.ParseLogLevel("info"),
//		File:  "/var/log/tenantrbac/server.log",
//	})
//	logger.WithContext(ctx).WithField("tenant", "hrms").Info("role created")
//
// WithContext adds request_id and actor_id from pkg/contextkeys.
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.ObserveDecision("deny", "NoGrant", elapsed)
//	observability.RegisterMetricsEndpoint(router, registry)
//
// A nil *Metrics records nothing, so components take one optionally.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(auditDB, redisClient, version)
//	observability.RegisterHealthRoutes(router, checker)
//
// # Tracing
//
//	tp, err := observability.InitTracing(ctx, observability.TracingConfig{
//		Enabled:     true,
//		Endpoint:    "otel-collector:4317",
//		ServiceName: "tenantrbac",
//	}, logger)
//	defer observability.ShutdownTracing(ctx, tp, logger)
//
// # Related Packages
//
//   - pkg/config: observability configuration
//   - pkg/httputil: request logging middleware
package observability
