package metric

import (
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/c360/controlbus/errors"
)

// MetricsRegistrar is implemented by registries that accept collectors owned
// by a named object, such as a bridge server or a state machine.
type MetricsRegistrar interface {
	Register(owner, name string, collector prometheus.Collector) error
	Unregister(owner, name string) bool
}

// MetricsRegistry owns the Prometheus registry served by Server, the core
// messaging metrics and any collectors added by named owners.
type MetricsRegistry struct {
	prometheusRegistry *prometheus.Registry
	Metrics            *Metrics

	mu    sync.Mutex
	owned map[string]prometheus.Collector
}

// NewMetricsRegistry creates a registry with the core messaging metrics and
// the Go runtime and process collectors already registered.
func NewMetricsRegistry() *MetricsRegistry {
	r := &MetricsRegistry{
		prometheusRegistry: prometheus.NewRegistry(),
		Metrics:            NewMetrics(),
		owned:              make(map[string]prometheus.Collector),
	}
	r.prometheusRegistry.MustRegister(r.Metrics.collectors()...)
	r.prometheusRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// PrometheusRegistry returns the underlying Prometheus registry
func (r *MetricsRegistry) PrometheusRegistry() *prometheus.Registry {
	return r.prometheusRegistry
}

// CoreMetrics returns the core messaging metrics; nil-safe
func (r *MetricsRegistry) CoreMetrics() *Metrics {
	if r == nil {
		return nil
	}
	return r.Metrics
}

func ownedKey(owner, name string) string {
	return owner + "." + name
}

// Register adds collector under owner and name. A second registration of the
// same pair is a parameters error; a clash with another owner's collector
// surfaces the Prometheus conflict.
func (r *MetricsRegistry) Register(owner, name string, collector prometheus.Collector) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := ownedKey(owner, name)
	if _, exists := r.owned[key]; exists {
		return errors.WrapInvalid(
			fmt.Errorf("%w: metric %s already registered by %s", errors.ErrInvalidConfig, name, owner),
			"MetricsRegistry", "Register", "duplicate metric registration")
	}

	if err := r.prometheusRegistry.Register(collector); err != nil {
		var already prometheus.AlreadyRegisteredError
		if stderrors.As(err, &already) {
			return errors.WrapInvalid(err, "MetricsRegistry", "Register", "prometheus conflict for "+key)
		}
		return errors.WrapFatal(err, "MetricsRegistry", "Register", "collector registration")
	}
	r.owned[key] = collector
	return nil
}

// Unregister removes the collector registered under owner and name and
// reports whether one was removed.
func (r *MetricsRegistry) Unregister(owner, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := ownedKey(owner, name)
	collector, exists := r.owned[key]
	if !exists || !r.prometheusRegistry.Unregister(collector) {
		return false
	}
	delete(r.owned, key)
	return true
}
