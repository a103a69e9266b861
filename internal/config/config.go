// Package config holds the settings consumed by the transport layer.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"github.com/luciancaetano/gamenet"
)

// Transport selects the backend a client connects with.
type Transport string

const (
	TransportAuto        Transport = "auto"
	TransportSockets     Transport = "sockets"
	TransportWebSockets  Transport = "websockets"
	TransportInterthread Transport = "interthread"
)

// ProxyType selects the proxy hop used by the sockets backend.
type ProxyType string

const (
	ProxyNone   ProxyType = ""
	ProxySOCKS4 ProxyType = "socks4"
	ProxySOCKS5 ProxyType = "socks5"
	ProxyHTTP   ProxyType = "http"
)

// Settings is the full configuration surface of the transport layer.
type Settings struct {
	ServerHost     string    `yaml:"server_host"`
	ServerPort     uint16    `yaml:"server_port"`
	WebSocketsPort uint16    `yaml:"websockets_port"`
	Transport      Transport `yaml:"transport"`

	ProxyType ProxyType `yaml:"proxy_type"`
	ProxyHost string    `yaml:"proxy_host"`
	ProxyPort uint16    `yaml:"proxy_port"`
	ProxyUser string    `yaml:"proxy_user"`
	ProxyPass string    `yaml:"proxy_pass"`

	SecuredWebSockets bool   `yaml:"secured_websockets"`
	TLSCertFile       string `yaml:"tls_cert_file"`
	TLSKeyFile        string `yaml:"tls_key_file"`
	// TLSInsecureSkipVerify is only meant for self-signed test servers.
	TLSInsecureSkipVerify bool `yaml:"tls_insecure_skip_verify"`

	// BufferSize is the initial capacity of buffers and socket reads.
	BufferSize int `yaml:"buffer_size"`
	// FloodSize caps unread received bytes; exceeding it disconnects.
	FloodSize     int  `yaml:"flood_size"`
	DisableNagle  bool `yaml:"disable_tcp_nagle"`
	SendQueueSize int  `yaml:"send_queue_size"`

	ArtificialLagMin time.Duration `yaml:"artificial_lag_min"`
	ArtificialLagMax time.Duration `yaml:"artificial_lag_max"`
	PingPeriod       time.Duration `yaml:"ping_period"`
	TickInterval     time.Duration `yaml:"tick_interval"`
	ConnectTimeout   time.Duration `yaml:"connect_timeout"`

	DisableCompression       bool   `yaml:"disable_compression"`
	DebugHashes              bool   `yaml:"debug_hashes"`
	BypassCompatibilityCheck bool   `yaml:"bypass_compatibility_check"`
	CompatibilityVersion     uint32 `yaml:"compatibility_version"`

	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig defines the incoming message rate limit of a server-side
// connection.
type RateLimitConfig struct {
	// MessagesPerSecond defines how many messages a client can send per second
	MessagesPerSecond rate.Limit `yaml:"messages_per_second"`
	// Burst defines the maximum burst size (token bucket capacity)
	Burst int `yaml:"burst"`
	// Enabled determines if rate limiting is active
	Enabled bool `yaml:"enabled"`
}

// DefaultRateLimitConfig returns the default rate limit configuration
// Allows 100 messages per second with burst of 200
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		MessagesPerSecond: 100,
		Burst:             200,
		Enabled:           true,
	}
}

// NoRateLimit returns a configuration with rate limiting disabled
func NoRateLimit() RateLimitConfig {
	return RateLimitConfig{
		Enabled: false,
	}
}

// NewLimiter builds the limiter described by the config, or nil when
// disabled.
func (c RateLimitConfig) NewLimiter() *rate.Limiter {
	if !c.Enabled {
		return nil
	}
	return rate.NewLimiter(c.MessagesPerSecond, c.Burst)
}

// Default returns settings suitable for a local game session.
func Default() *Settings {
	return &Settings{
		ServerHost:     "localhost",
		ServerPort:     4000,
		WebSocketsPort: 0,
		Transport:      TransportAuto,

		BufferSize:    4096,
		FloodSize:     2 * 1024 * 1024,
		DisableNagle:  true,
		SendQueueSize: 256,

		PingPeriod:     2 * time.Second,
		TickInterval:   10 * time.Millisecond,
		ConnectTimeout: 10 * time.Second,

		CompatibilityVersion: 1,

		RateLimit: NoRateLimit(),
	}
}

// Load reads settings from the given YAML file on top of Default().
// If the file does not exist, it returns the defaults with no error.
func Load(path string) (*Settings, error) {
	s := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}
		return nil, gamenet.ConfigurationError("config.Load", err)
	}

	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, gamenet.ConfigurationError("config.Load", fmt.Errorf("parse %s: %w", path, err))
	}
	return s, nil
}

// Validate checks option combinations that would otherwise fail later.
func (s *Settings) Validate() error {
	switch s.Transport {
	case TransportAuto, TransportSockets, TransportWebSockets, TransportInterthread:
	default:
		return gamenet.ConfigurationError("config.Validate", fmt.Errorf("%s: %q", gamenet.ErrMsgUnknownTransport, s.Transport))
	}

	switch s.ProxyType {
	case ProxyNone:
	case ProxySOCKS4, ProxySOCKS5, ProxyHTTP:
		if s.ProxyHost == "" || s.ProxyPort == 0 {
			return gamenet.ConfigurationError("config.Validate", errors.New("proxy host and port are required"))
		}
	default:
		return gamenet.ConfigurationError("config.Validate", fmt.Errorf("%s: %q", gamenet.ErrMsgUnsupportedProxy, s.ProxyType))
	}

	if s.BufferSize <= 0 {
		return gamenet.ConfigurationError("config.Validate", errors.New("buffer_size must be positive"))
	}
	if s.FloodSize < 0 {
		return gamenet.ConfigurationError("config.Validate", errors.New("flood_size must not be negative"))
	}
	if s.ArtificialLagMax < s.ArtificialLagMin {
		return gamenet.ConfigurationError("config.Validate", errors.New("artificial_lag_max is below artificial_lag_min"))
	}
	return nil
}

// ValidateTLS checks that the TLS material for a secured websockets
// listener exists.
func (s *Settings) ValidateTLS() error {
	if !s.SecuredWebSockets {
		return nil
	}
	for _, path := range []string{s.TLSCertFile, s.TLSKeyFile} {
		if path == "" {
			return gamenet.ConfigurationError("config.ValidateTLS", errors.New(gamenet.ErrMsgMissingTLSFile))
		}
		if _, err := os.Stat(path); err != nil {
			return gamenet.ConfigurationError("config.ValidateTLS", fmt.Errorf("%s: %w", gamenet.ErrMsgMissingTLSFile, err))
		}
	}
	return nil
}

// ServerAddr returns host:port of the sockets endpoint.
func (s *Settings) ServerAddr() string {
	return s.HostAddr(s.ServerPort)
}

// HostAddr joins the configured host with port.
func (s *Settings) HostAddr(port uint16) string {
	return net.JoinHostPort(s.hostOnly(), strconv.Itoa(int(port)))
}

// WebSocketsURL returns the websocket endpoint for clients.
func (s *Settings) WebSocketsURL() string {
	host := s.ServerHost
	if strings.HasPrefix(host, "ws://") || strings.HasPrefix(host, "wss://") {
		return host
	}
	scheme := "ws"
	if s.SecuredWebSockets {
		scheme = "wss"
	}
	port := s.WebSocketsPort
	if port == 0 {
		port = s.ServerPort
	}
	return fmt.Sprintf("%s://%s:%d/", scheme, host, port)
}

// WantsWebSockets reports whether auto transport selection should pick the
// websockets backend over raw sockets.
func (s *Settings) WantsWebSockets() bool {
	return s.SecuredWebSockets ||
		strings.HasPrefix(s.ServerHost, "ws://") ||
		strings.HasPrefix(s.ServerHost, "wss://")
}

// ProxyAddr returns host:port of the configured proxy.
func (s *Settings) ProxyAddr() string {
	return fmt.Sprintf("%s:%d", s.ProxyHost, s.ProxyPort)
}

func (s *Settings) hostOnly() string {
	host := strings.TrimPrefix(strings.TrimPrefix(s.ServerHost, "wss://"), "ws://")
	if i := strings.IndexAny(host, ":/"); i >= 0 {
		host = host[:i]
	}
	return host
}
