// Package metric provides Prometheus-based metrics for the controlbus messaging core.
//
// MetricsRegistry owns a private Prometheus registry holding the core messaging
// metrics (Metrics), Go runtime collectors and any component-specific collectors
// registered through MetricsRegistrar. Server exposes the registry in Prometheus
// format together with a JSON /health route.
//
//	registry := metric.NewMetricsRegistry()
//	bus := message.NewBus(objects, message.WithMetrics(registry))
//
//	server := metric.NewServer(9090, "/metrics", registry, nil)
//	go func() {
//	    if err := server.Start(); err != nil {
//	        logger.Error("metrics server failed", "error", err)
//	    }
//	}()
//
// A nil *Metrics is valid and records nothing, so the messaging types work
// without a registry in tests and small tools.
package metric
