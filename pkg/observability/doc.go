// Package observability provides structured logging, Prometheus metrics,
// health checks and graceful shutdown for the HTTP service.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.ParseLogLevel("info"), os.Stdout)
//	logger.WithField("user_id", phone).Info("usage limit reached")
//
// Request-scoped loggers travel in the context:
//
//	ctx = observability.WithLogger(ctx, logger)
//	observability.FromContext(ctx).WithError(err).Error("failed to handle message")
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	router.Use(observability.HTTPMetricsMiddleware(metrics))
//	router.Handle("/metrics", observability.MetricsHandler(registry))
//
// Metrics implements the recorder interfaces of pkg/assistant, pkg/payments
// and pkg/scheduler, so limit decisions, charges and sweeps are counted
// without those packages importing Prometheus.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(version,
//		observability.Dependency{Name: "store", Critical: true, Pinger: store},
//		observability.Dependency{Name: "redis", Pinger: observability.RedisPinger(client)},
//	)
//	router.HandleFunc("/health", checker.Liveness)
//	router.HandleFunc("/ready", checker.Readiness)
//
// Readiness fails only on critical dependencies; the rest report "degraded".
//
// # Related Packages
//
//   - pkg/config: observability configuration
//   - pkg/api: routes that expose health and metrics
package observability
