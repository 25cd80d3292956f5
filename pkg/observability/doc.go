// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing, health checks and graceful shutdown.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("table", "time_entries").Info("mutation committed")
//
// The logger is backed by logrus; FromLogrus wraps an existing logrus logger
// so tests can use its hooks.
//
// # Prometheus Metrics
//
//	metrics := observability.NewMetrics(prometheus.NewRegistry())
//	metrics.DecisionsTotal.WithLabelValues("time_entries", "read", "deny", "not_owner").Inc()
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient, version)
//	observability.RegisterHealthRoutes(router, checker)
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
//		Enabled:     true,
//		Endpoint:    "otel-collector:4317",
//		ServiceName: "timeguard",
//	}, logger)
//	defer observability.ShutdownOTel(ctx, providers, logger)
package observability
