package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshcast/socket/config"
	"github.com/meshcast/socket/src/auth"
	"github.com/meshcast/socket/src/broker"
	"github.com/meshcast/socket/src/hub"
	"github.com/meshcast/socket/src/presence"
)

const settle = 30 * time.Millisecond

type mockTransport struct {
	mu     sync.Mutex
	frames [][]byte
}

func (m *mockTransport) Write(data []byte, _ bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	m.frames = append(m.frames, cp)
	return nil
}

func (m *mockTransport) Close(int, string) error { return nil }

func (m *mockTransport) eventCount(event string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, raw := range m.frames {
		var f map[string]any
		if json.Unmarshal(raw, &f) == nil && f["event"] == event {
			n++
		}
	}
	return n
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.PingInterval = time.Hour
	cfg.PongTimeout = time.Hour

	b := broker.NewMemoryBroker()
	t.Cleanup(func() { _ = b.Close() })
	store := presence.NewMemoryStore()
	registry := hub.NewRegistry(cfg, b, store, zerolog.Nop())
	return New(registry, store, zerolog.Nop())
}

func addConn(t *testing.T, svc *Service, nsPath, userID string) (*hub.Conn, *mockTransport) {
	t.Helper()
	tr := &mockTransport{}
	c, err := svc.Registry().Namespace(nsPath).AddConnection(tr, &auth.Principal{UserID: userID})
	require.NoError(t, err)
	return c, tr
}

func TestServiceBroadcast(t *testing.T) {
	svc := newTestService(t)
	ns := svc.Registry().Namespace("/chat")

	c1, tr1 := addConn(t, svc, "/chat", "u1")
	c2, tr2 := addConn(t, svc, "/chat", "u2")
	require.NoError(t, ns.JoinRoom(context.Background(), c1, "general"))
	require.NoError(t, ns.JoinRoom(context.Background(), c2, "general"))

	require.NoError(t, svc.Broadcast(context.Background(), "/chat", "general", "msg", map[string]any{"text": "hi"}, c1.ID))
	time.Sleep(settle)

	assert.Zero(t, tr1.eventCount("msg"))
	assert.Equal(t, 1, tr2.eventCount("msg"))
}

func TestServiceSendToConn(t *testing.T) {
	svc := newTestService(t)

	c, tr := addConn(t, svc, "/chat", "u1")
	require.NoError(t, svc.SendToConn("/chat", c.ID, "dm", "hello"))
	time.Sleep(settle)
	assert.Equal(t, 1, tr.eventCount("dm"))

	err := svc.SendToConn("/chat", "nonexistent", "dm", "hello")
	assert.ErrorIs(t, err, hub.ErrConnNotFound)
}

func TestServiceSendToUserReachesAllTabs(t *testing.T) {
	svc := newTestService(t)

	// Two connections of the same user, one of another.
	_, tab1 := addConn(t, svc, "/chat", "alice")
	_, tab2 := addConn(t, svc, "/chat", "alice")
	_, other := addConn(t, svc, "/chat", "bob")

	require.NoError(t, svc.SendToUser("/chat", "alice", "note", "hi"))
	time.Sleep(settle)

	assert.Equal(t, 1, tab1.eventCount("note"))
	assert.Equal(t, 1, tab2.eventCount("note"))
	assert.Zero(t, other.eventCount("note"))

	assert.Error(t, svc.SendToUser("/chat", "nobody", "note", "hi"))
}

func TestServicePresenceQueries(t *testing.T) {
	svc := newTestService(t)
	ns := svc.Registry().Namespace("/chat")

	c1, _ := addConn(t, svc, "/chat", "alice")
	require.NoError(t, ns.JoinRoom(context.Background(), c1, "general"))

	users, err := svc.UsersInRoom(context.Background(), "/chat", "general")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, users)

	rooms, err := svc.RoomsForUser(context.Background(), "/chat", "alice")
	require.NoError(t, err)
	assert.Contains(t, rooms, "general")
	assert.Contains(t, rooms, "lobby")

	n, err := svc.RoomMemberCount(context.Background(), "/chat", "general")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestServiceStats(t *testing.T) {
	svc := newTestService(t)
	ns := svc.Registry().Namespace("/chat")

	c1, _ := addConn(t, svc, "/chat", "u1")
	require.NoError(t, ns.JoinRoom(context.Background(), c1, "general"))

	stats := svc.Stats()
	require.Len(t, stats, 1)
	assert.Equal(t, "/chat", stats[0].Namespace)
	assert.Equal(t, 1, stats[0].Conns)
	assert.Equal(t, 1, stats[0].Rooms["general"])
	assert.Equal(t, 1, stats[0].Rooms["lobby"])
}
