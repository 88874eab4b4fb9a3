// Package observability provides structured logging, Prometheus metrics,
// health checks, OpenTelemetry tracing and shutdown coordination.
//
// # Structured Logging
//
// Logger is a thin wrapper over logrus with a JSON formatter:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("username", "alice").Info("single sign-out complete")
//
// Derived loggers share the root level, so a configuration reload can call
// SetLevel once.
//
// # Prometheus Metrics
//
//	metrics := observability.NewMetrics(registry)
//	metrics.RecordLogout("global", result.Success, len(result.ExpiredSessions), len(result.FailedSessions))
//
// All Record helpers accept a nil receiver.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(redisClient, version)
//	checker.RegisterStat("live_connections", registry.ActiveCount)
//	observability.RegisterHealthRoutes(mux, checker)
//
// # OpenTelemetry
//
//	shutdown, err := observability.InitTracing(ctx, observability.OTelConfig{
//		Enabled:     true,
//		Endpoint:    "otel-collector:4317",
//		ServiceName: "ssosync",
//	}, logger)
//	defer shutdown(ctx)
//
// # Related Packages
//
//   - pkg/config: Observability configuration
//   - pkg/httputil: Request logging middleware
package observability
