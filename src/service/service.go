// Package service provides the high-level API over the engine: room
// broadcasts, direct sends, presence queries, and the admin snapshot.
package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/meshcast/socket/src/hub"
	"github.com/meshcast/socket/src/presence"
	"github.com/meshcast/socket/src/wire"
)

// Service wraps a registry and the shared membership store.
type Service struct {
	registry *hub.Registry
	store    presence.Store
	logger   zerolog.Logger
}

// New creates a service over the given registry and store.
func New(registry *hub.Registry, store presence.Store, logger zerolog.Logger) *Service {
	return &Service{registry: registry, store: store, logger: logger}
}

// Registry returns the underlying namespace registry.
func (s *Service) Registry() *hub.Registry { return s.registry }

// Broadcast publishes an event to every member of a room across the
// cluster. excludeConnID, when non-empty, names a connection skipped on
// every node.
func (s *Service) Broadcast(ctx context.Context, nsPath, room, event string, data any, excludeConnID string) error {
	env, err := wire.NewEnvelope(event, data)
	if err != nil {
		return err
	}
	return s.registry.Namespace(nsPath).Broadcast(ctx, room, env, excludeConnID)
}

// SendToConn delivers an event to one locally attached connection.
func (s *Service) SendToConn(nsPath, connID, event string, data any) error {
	c, ok := s.registry.Namespace(nsPath).Conn(connID)
	if !ok {
		return fmt.Errorf("%w: %s", hub.ErrConnNotFound, connID)
	}
	env, err := wire.NewEnvelope(event, data)
	if err != nil {
		return err
	}
	c.Deliver(env)
	return nil
}

// SendToUser delivers an event to every locally attached connection of a
// user. This is the deliberate multi-tab fan-out; room broadcasts exclude by
// connection id only.
func (s *Service) SendToUser(nsPath, userID, event string, data any) error {
	env, err := wire.NewEnvelope(event, data)
	if err != nil {
		return err
	}
	conns := s.registry.Namespace(nsPath).ConnsOfUser(userID)
	if len(conns) == 0 {
		return fmt.Errorf("user %s has no local connections", userID)
	}
	for _, c := range conns {
		c.Deliver(env)
	}
	return nil
}

// UsersInRoom answers cluster-wide presence from the membership store, even
// when this node holds no local members of the room.
func (s *Service) UsersInRoom(ctx context.Context, nsPath, room string) ([]string, error) {
	return s.store.UsersInRoom(ctx, nsPath, room)
}

// RoomsForUser returns the rooms a user is in anywhere in the cluster.
func (s *Service) RoomsForUser(ctx context.Context, nsPath, userID string) ([]string, error) {
	return s.store.RoomsForUser(ctx, nsPath, userID)
}

// NamespaceStats is a read-only snapshot of one namespace.
type NamespaceStats struct {
	Namespace string         `json:"namespace"`
	Conns     int            `json:"connections"`
	Rooms     map[string]int `json:"rooms"`
}

// Stats returns the admin snapshot: per namespace, the local connection
// count and room member counts. Derived from in-memory maps only.
func (s *Service) Stats() []NamespaceStats {
	var out []NamespaceStats
	s.registry.Each(func(ns *hub.Namespace) {
		out = append(out, NamespaceStats{
			Namespace: ns.Name(),
			Conns:     ns.ConnCount(),
			Rooms:     ns.Rooms(),
		})
	})
	return out
}

// RoomMemberCount returns the cluster-wide member count of a room from the
// membership store.
func (s *Service) RoomMemberCount(ctx context.Context, nsPath, room string) (int64, error) {
	return s.store.CountUsersInRoom(ctx, nsPath, room)
}
