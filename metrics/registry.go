// Package metrics provides per-component Prometheus registries with
// consistent namespace/subsystem naming, plus a combined handler for the
// scrape endpoint.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	gatherersMu sync.Mutex
	gatherers   prometheus.Gatherers
)

// ComponentRegistry manages metrics for a specific component.
type ComponentRegistry struct {
	namespace string
	subsystem string
	registry  *prometheus.Registry
	factory   promauto.Factory
}

// NewComponentRegistry creates a registry for a component and adds it to the
// combined gatherer set served by Handler.
func NewComponentRegistry(namespace, subsystem string) *ComponentRegistry {
	reg := prometheus.NewRegistry()

	gatherersMu.Lock()
	gatherers = append(gatherers, reg)
	gatherersMu.Unlock()

	return &ComponentRegistry{
		namespace: namespace,
		subsystem: subsystem,
		registry:  reg,
		factory:   promauto.With(reg),
	}
}

// Handler serves every component registry created so far.
func Handler() http.Handler {
	gatherersMu.Lock()
	defer gatherersMu.Unlock()
	combined := make(prometheus.Gatherers, len(gatherers))
	copy(combined, gatherers)
	return promhttp.HandlerFor(combined, promhttp.HandlerOpts{})
}

// NewCounter creates a new counter with proper naming.
func (r *ComponentRegistry) NewCounter(opts prometheus.CounterOpts) prometheus.Counter {
	opts.Namespace = r.namespace
	opts.Subsystem = r.subsystem
	return r.factory.NewCounter(opts)
}

// NewCounterVec creates a new counter vector with proper naming.
func (r *ComponentRegistry) NewCounterVec(opts prometheus.CounterOpts, labelNames []string) *prometheus.CounterVec {
	opts.Namespace = r.namespace
	opts.Subsystem = r.subsystem
	return r.factory.NewCounterVec(opts, labelNames)
}

// NewGauge creates a new gauge with proper naming.
func (r *ComponentRegistry) NewGauge(opts prometheus.GaugeOpts) prometheus.Gauge {
	opts.Namespace = r.namespace
	opts.Subsystem = r.subsystem
	return r.factory.NewGauge(opts)
}

// NewGaugeVec creates a new gauge vector with proper naming.
func (r *ComponentRegistry) NewGaugeVec(opts prometheus.GaugeOpts, labelNames []string) *prometheus.GaugeVec {
	opts.Namespace = r.namespace
	opts.Subsystem = r.subsystem
	return r.factory.NewGaugeVec(opts, labelNames)
}

// NewHistogram creates a new histogram with proper naming.
func (r *ComponentRegistry) NewHistogram(opts prometheus.HistogramOpts) prometheus.Histogram {
	opts.Namespace = r.namespace
	opts.Subsystem = r.subsystem
	return r.factory.NewHistogram(opts)
}

// NewHistogramVec creates a new histogram vector with proper naming.
func (r *ComponentRegistry) NewHistogramVec(opts prometheus.HistogramOpts, labelNames []string,
) *prometheus.HistogramVec {
	opts.Namespace = r.namespace
	opts.Subsystem = r.subsystem
	return r.factory.NewHistogramVec(opts, labelNames)
}
