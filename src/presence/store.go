// Package presence holds the cluster-wide record of room membership. It is
// the single source of truth for "is user U in room R anywhere", independent
// of which node holds the user's sockets.
package presence

import "context"

// Store records which users are in which rooms. Writes from one node may not
// be immediately visible to reads from another; callers must tolerate
// read-after-write staleness.
type Store interface {
	AddUserToRoom(ctx context.Context, ns, room, userID string) error
	RemoveUserFromRoom(ctx context.Context, ns, room, userID string) error
	UsersInRoom(ctx context.Context, ns, room string) ([]string, error)
	RoomsForUser(ctx context.Context, ns, userID string) ([]string, error)
	CountUsersInRoom(ctx context.Context, ns, room string) (int64, error)
	Close() error
}
