// Package metrics exports transport counters to Prometheus.
//
// A nil *Metrics is valid and records nothing, so connections can be built
// without a registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Label values.
const (
	DirectionIn  = "in"
	DirectionOut = "out"

	// LayerWire counts bytes as they cross the backend, after compression.
	LayerWire = "wire"
	// LayerPayload counts framed message bytes before compression.
	LayerPayload = "payload"
)

// Config configures the collectors.
type Config struct {
	// Namespace is the metrics namespace (default: "gamenet").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for ping round-trip times.
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// Option configures the collectors.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *Config) {
		c.ConstLabels = labels
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

func defaultConfig() Config {
	return Config{
		Namespace: "gamenet",
		Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Metrics holds the collectors shared by every connection of a process.
type Metrics struct {
	bytesTotal        *prometheus.CounterVec
	messagesTotal     *prometheus.CounterVec
	disconnectsTotal  *prometheus.CounterVec
	pingRTT           prometheus.Histogram
	connectionsActive prometheus.Gauge
}

// New registers the collectors. Registering twice on the same registry
// panics, as with promauto.
func New(opts ...Option) *Metrics {
	config := defaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	factory := promauto.With(config.Registry)

	return &Metrics{
		bytesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "bytes_total",
			Help:        "Bytes transferred, by direction and layer",
			ConstLabels: config.ConstLabels,
		}, []string{"direction", "layer"}),

		messagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "messages_total",
			Help:        "Messages framed or dispatched, by direction",
			ConstLabels: config.ConstLabels,
		}, []string{"direction"}),

		disconnectsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "disconnects_total",
			Help:        "Connections torn down, by kind",
			ConstLabels: config.ConstLabels,
		}, []string{"kind"}),

		pingRTT: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "ping_rtt_seconds",
			Help:        "Measured ping round-trip time",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}),

		connectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "connections_active",
			Help:        "Connections currently open",
			ConstLabels: config.ConstLabels,
		}),
	}
}

func (m *Metrics) AddBytes(direction, layer string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.bytesTotal.WithLabelValues(direction, layer).Add(float64(n))
}

func (m *Metrics) IncMessages(direction string) {
	if m == nil {
		return
	}
	m.messagesTotal.WithLabelValues(direction).Inc()
}

// Disconnected records a teardown of the given kind ("hard", "graceful").
func (m *Metrics) Disconnected(kind string) {
	if m == nil {
		return
	}
	m.disconnectsTotal.WithLabelValues(kind).Inc()
	m.connectionsActive.Dec()
}

func (m *Metrics) Connected() {
	if m == nil {
		return
	}
	m.connectionsActive.Inc()
}

func (m *Metrics) ObserveRTT(d time.Duration) {
	if m == nil {
		return
	}
	m.pingRTT.Observe(d.Seconds())
}
