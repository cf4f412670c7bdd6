package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 30*time.Second, cfg.PingInterval)
	assert.Equal(t, 10*time.Second, cfg.PongTimeout)
	assert.Equal(t, float64(50), cfg.RateLimitPerSec)
	assert.Equal(t, "lobby", cfg.DefaultRoom)
	assert.Equal(t, "default", cfg.DefaultNamespace)
}

func TestFromEnv(t *testing.T) {
	t.Setenv("SOCKET_PING_INTERVAL", "5s")
	t.Setenv("SOCKET_PONG_TIMEOUT", "2s")
	t.Setenv("SOCKET_RATE_LIMIT", "100")
	t.Setenv("SOCKET_DEFAULT_ROOM", "plaza")

	cfg := FromEnv()
	assert.Equal(t, 5*time.Second, cfg.PingInterval)
	assert.Equal(t, 2*time.Second, cfg.PongTimeout)
	assert.Equal(t, float64(100), cfg.RateLimitPerSec)
	assert.Equal(t, 100, cfg.RateBurst)
	assert.Equal(t, "plaza", cfg.DefaultRoom)
}

func TestFromEnvIgnoresInvalid(t *testing.T) {
	t.Setenv("SOCKET_PING_INTERVAL", "soon")
	t.Setenv("SOCKET_RATE_LIMIT", "-3")

	cfg := FromEnv()
	assert.Equal(t, 30*time.Second, cfg.PingInterval)
	assert.Equal(t, float64(50), cfg.RateLimitPerSec)
}
