// Package wire is the public entry point of gamenet: settings, the
// interthread registry, and the client and server constructors.
package wire

import (
	"github.com/luciancaetano/gamenet"
	"github.com/luciancaetano/gamenet/internal/config"
	"github.com/luciancaetano/gamenet/internal/connection"
	"github.com/luciancaetano/gamenet/internal/metrics"
	"github.com/luciancaetano/gamenet/internal/transport"
)

type Settings = config.Settings
type Transport = config.Transport
type ProxyType = config.ProxyType
type RateLimitConfig = config.RateLimitConfig
type Registry = transport.Registry
type CheckOriginFn = transport.CheckOriginFn
type Metrics = metrics.Metrics
type MetricsOption = metrics.Option

type Server = connection.Server
type ServerOption = connection.ServerOption
type OnConnectFn = connection.OnConnectFn
type OnDisconnectFn = connection.OnDisconnectFn

type Client = connection.Client
type ClientOption = connection.ClientOption
type OnConnectResultFn = connection.OnConnectResultFn
type Stats = connection.Stats

const (
	TransportAuto        = config.TransportAuto
	TransportSockets     = config.TransportSockets
	TransportWebSockets  = config.TransportWebSockets
	TransportInterthread = config.TransportInterthread

	ProxyNone   = config.ProxyNone
	ProxySOCKS4 = config.ProxySOCKS4
	ProxySOCKS5 = config.ProxySOCKS5
	ProxyHTTP   = config.ProxyHTTP
)

var (
	WithOnConnect          = connection.WithOnConnect
	WithOnDisconnect       = connection.WithOnDisconnect
	WithCheckOrigin        = connection.WithCheckOrigin
	WithServerMetrics      = connection.WithServerMetrics
	WithOnConnectResult    = connection.WithOnConnectResult
	WithClientOnDisconnect = connection.WithClientOnDisconnect
	WithClientMetrics      = connection.WithClientMetrics

	WithMetricsNamespace   = metrics.WithNamespace
	WithMetricsRegistry    = metrics.WithRegistry
	WithMetricsConstLabels = metrics.WithConstLabels
)

// DefaultSettings returns settings suitable for a local game session.
func DefaultSettings() *Settings {
	return config.Default()
}

// LoadSettings reads a YAML settings file on top of DefaultSettings. A
// missing file yields the defaults.
func LoadSettings(path string) (*Settings, error) {
	return config.Load(path)
}

// NewRegistry creates the table of interthread listeners. Clients and
// servers of one process share it.
func NewRegistry() *Registry {
	return transport.NewRegistry()
}

// NewServer creates a server. The registry may be nil when no interthread
// clients are expected.
//
// Example:
//
//	server, err := wire.NewServer(settings, registry, wire.WithOnConnect(func(c gamenet.Conn) {
//	    log.Printf("Client connected: %s", c.ID())
//	}))
func NewServer(settings *Settings, registry *Registry, opts ...ServerOption) (*Server, error) {
	if settings == nil {
		settings = config.Default()
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return connection.NewServer(settings, registry, opts...), nil
}

// NewClient creates a client. Call Connect, then drive it with Run or by
// calling Process from the game loop.
func NewClient(settings *Settings, registry *Registry, opts ...ClientOption) (*Client, error) {
	return connection.NewClient(settings, registry, opts...)
}

// NewMetrics registers the transport collectors.
func NewMetrics(opts ...MetricsOption) *Metrics {
	return metrics.New(opts...)
}

// AllOrigins returns the checkOrigin function that allows all origins
func AllOrigins() CheckOriginFn {
	return transport.AllOrigins()
}

// DefaultRateLimitConfig returns the default rate limit configuration
func DefaultRateLimitConfig() RateLimitConfig {
	return config.DefaultRateLimitConfig()
}

// NoRateLimit returns a configuration with rate limiting disabled
func NoRateLimit() RateLimitConfig {
	return config.NoRateLimit()
}

var _ gamenet.Server = (*Server)(nil)
var _ gamenet.Conn = (*Client)(nil)
