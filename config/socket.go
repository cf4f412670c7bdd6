// Package config holds the engine's tunables and their environment loaders.
package config

import (
	"os"
	"strconv"
	"time"
)

// SocketConfig holds engine configuration shared by every namespace.
type SocketConfig struct {
	// Heartbeat: a ping is sent after PingInterval of silence; a connection
	// that does not pong within PongTimeout is terminated.
	PingInterval time.Duration
	PongTimeout  time.Duration

	// Inbound message rate cap per connection. Exceeding it terminates the
	// connection immediately.
	RateLimitPerSec float64
	RateBurst       int

	// Outbound per-connection send buffer (frames). Writes beyond a full
	// buffer are dropped.
	SendBuffer int

	ReadBufferSize  int
	WriteBufferSize int

	// DefaultRoom is auto-joined by every new connection.
	DefaultRoom string
	// DefaultNamespace receives connections for undeclared namespace paths.
	DefaultNamespace string
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() *SocketConfig {
	return &SocketConfig{
		PingInterval:     30 * time.Second,
		PongTimeout:      10 * time.Second,
		RateLimitPerSec:  50,
		RateBurst:        50,
		SendBuffer:       256,
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		DefaultRoom:      "lobby",
		DefaultNamespace: "default",
	}
}

// FromEnv loads configuration from environment variables, falling back to
// defaults for any missing value.
func FromEnv() *SocketConfig {
	cfg := DefaultConfig()

	if v := os.Getenv("SOCKET_PING_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.PingInterval = d
		}
	}
	if v := os.Getenv("SOCKET_PONG_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.PongTimeout = d
		}
	}
	if v := os.Getenv("SOCKET_RATE_LIMIT"); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil && n > 0 {
			cfg.RateLimitPerSec = n
			cfg.RateBurst = int(n)
		}
	}
	if v := os.Getenv("SOCKET_DEFAULT_ROOM"); v != "" {
		cfg.DefaultRoom = v
	}
	return cfg
}
