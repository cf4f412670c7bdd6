package presence

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryAddAndQuery(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.AddUserToRoom(ctx, "/chat", "general", "alice"))
	require.NoError(t, s.AddUserToRoom(ctx, "/chat", "general", "bob"))
	require.NoError(t, s.AddUserToRoom(ctx, "/chat", "random", "alice"))

	users, err := s.UsersInRoom(ctx, "/chat", "general")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alice", "bob"}, users)

	rooms, err := s.RoomsForUser(ctx, "/chat", "alice")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"general", "random"}, rooms)

	n, err := s.CountUsersInRoom(ctx, "/chat", "general")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestMemoryAddIsIdempotent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.AddUserToRoom(ctx, "/chat", "general", "alice"))
	require.NoError(t, s.AddUserToRoom(ctx, "/chat", "general", "alice"))

	n, err := s.CountUsersInRoom(ctx, "/chat", "general")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestMemoryRemove(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.AddUserToRoom(ctx, "/chat", "general", "alice"))
	require.NoError(t, s.RemoveUserFromRoom(ctx, "/chat", "general", "alice"))

	users, err := s.UsersInRoom(ctx, "/chat", "general")
	require.NoError(t, err)
	assert.Empty(t, users)

	rooms, err := s.RoomsForUser(ctx, "/chat", "alice")
	require.NoError(t, err)
	assert.Empty(t, rooms)

	// Removing an absent member is a no-op.
	require.NoError(t, s.RemoveUserFromRoom(ctx, "/chat", "general", "ghost"))
}

func TestMemoryNamespacesIsolated(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.AddUserToRoom(ctx, "/chat", "general", "alice"))
	require.NoError(t, s.AddUserToRoom(ctx, "/game", "general", "bob"))

	users, err := s.UsersInRoom(ctx, "/chat", "general")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, users)
}

func TestRedisKeyDerivation(t *testing.T) {
	assert.Equal(t, "presence:/chat:room:general", roomKey("/chat", "general"))
	assert.Equal(t, "presence:/chat:user:alice", userKey("/chat", "alice"))
	assert.NotEqual(t, roomKey("/a", "x"), roomKey("/b", "x"))
}
