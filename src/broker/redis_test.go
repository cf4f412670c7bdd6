package broker

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshcast/socket/src/wire"
)

// liveRedisConfig returns a config for the integration Redis, or skips the
// test when none is available.
func liveRedisConfig(t *testing.T) *RedisConfig {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set, skipping live redis test")
	}
	cfg := RedisConfigFromEnv()
	return cfg
}

func TestRedisCrossNodeDelivery(t *testing.T) {
	cfg := liveRedisConfig(t)

	nodeA, err := NewRedisBroker(cfg, zerolog.Nop())
	require.NoError(t, err)
	defer nodeA.Close()

	nodeB, err := NewRedisBroker(cfg, zerolog.Nop())
	require.NoError(t, err)
	defer nodeB.Close()

	topic := Topic("/chat", "general")
	gotA := make(chan string, 1)
	gotB := make(chan string, 1)

	ctx := context.Background()
	require.NoError(t, nodeA.Subscribe(ctx, topic, func(env *wire.Envelope) { gotA <- env.Event }))
	require.NoError(t, nodeB.Subscribe(ctx, topic, func(env *wire.Envelope) { gotB <- env.Event }))

	require.NoError(t, nodeA.Publish(ctx, topic, testEnvelope("msg")))

	// The publishing node receives its own message; so does the other node.
	for name, ch := range map[string]chan string{"nodeA": gotA, "nodeB": gotB} {
		select {
		case event := <-ch:
			assert.Equal(t, "msg", event, name)
		case <-time.After(2 * time.Second):
			t.Fatalf("%s did not receive the broadcast", name)
		}
	}
}

func TestRedisUnsubscribeStopsDelivery(t *testing.T) {
	cfg := liveRedisConfig(t)

	node, err := NewRedisBroker(cfg, zerolog.Nop())
	require.NoError(t, err)
	defer node.Close()

	topic := Topic("/chat", "ephemeral")
	got := make(chan string, 4)

	ctx := context.Background()
	require.NoError(t, node.Subscribe(ctx, topic, func(env *wire.Envelope) { got <- env.Event }))
	require.NoError(t, node.Unsubscribe(ctx, topic))
	require.NoError(t, node.Publish(ctx, topic, testEnvelope("msg")))

	select {
	case <-got:
		t.Fatal("unsubscribed topic must not deliver")
	case <-time.After(300 * time.Millisecond):
	}
}
