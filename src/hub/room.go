package hub

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/meshcast/socket/src/broker"
	"github.com/meshcast/socket/src/wire"
)

// ErrRoomDestroyed is returned when a stale Room reference is reused after
// its last member left. The namespace reacts by creating a fresh room.
var ErrRoomDestroyed = errors.New("room destroyed")

// Room is a per-node cache of one broadcast topic: the set of locally
// attached connections plus an active broker subscription while that set is
// non-empty. Authoritative cluster-wide membership lives in the membership
// store, not here.
type Room struct {
	name   string
	ns     *Namespace
	topic  string
	logger zerolog.Logger

	// conns is guarded by the owning namespace's lock for mutation; dispatch
	// and Broadcast read it through snapshot().
	conns     map[string]*Conn
	destroyed bool
}

func newRoom(ns *Namespace, name string) *Room {
	return &Room{
		name:   name,
		ns:     ns,
		topic:  broker.Topic(ns.name, name),
		logger: ns.logger.With().Str("room", name).Logger(),
		conns:  make(map[string]*Conn),
	}
}

// Name returns the room name.
func (r *Room) Name() string { return r.name }

// Topic returns the broker topic this room publishes on.
func (r *Room) Topic() string { return r.topic }

// Size returns the number of locally attached connections.
func (r *Room) Size() int {
	r.ns.mu.RLock()
	defer r.ns.mu.RUnlock()
	return len(r.conns)
}

// add attaches a connection. Idempotent. The first member activates the
// broker subscription; a subscribe failure rolls the addition back and is
// fatal for the join. Callers hold the namespace lock.
func (r *Room) add(ctx context.Context, c *Conn) error {
	if r.destroyed {
		return ErrRoomDestroyed
	}
	if _, ok := r.conns[c.ID]; ok {
		return nil
	}
	first := len(r.conns) == 0
	r.conns[c.ID] = c

	if first {
		if err := r.ns.broker.Subscribe(ctx, r.topic, r.dispatch); err != nil {
			delete(r.conns, c.ID)
			return err
		}
	}

	c.trackRoom(r.name)

	if uid := c.UserID(); uid != "" {
		// A store failure leaves local delivery unaffected; presence queries
		// are stale until retried.
		if err := r.ns.store.AddUserToRoom(ctx, r.ns.name, r.name, uid); err != nil {
			r.logger.Error().Err(err).Str("user_id", uid).Msg("membership store write failed")
		}
	}
	return nil
}

// remove detaches a connection and reports whether the room became empty.
// The last member leaving deactivates the broker subscription. Callers hold
// the namespace lock.
func (r *Room) remove(c *Conn) (empty bool) {
	if _, ok := r.conns[c.ID]; !ok {
		return false
	}
	delete(r.conns, c.ID)
	c.untrackRoom(r.name)

	if uid := c.UserID(); uid != "" && !r.userStillHere(uid) {
		// Asynchronous: local consistency never depends on the store.
		go func() {
			if err := r.ns.store.RemoveUserFromRoom(context.Background(), r.ns.name, r.name, uid); err != nil {
				r.logger.Error().Err(err).Str("user_id", uid).Msg("membership store remove failed")
			}
		}()
	}

	if len(r.conns) == 0 {
		r.destroyed = true
		if err := r.ns.broker.Unsubscribe(context.Background(), r.topic); err != nil {
			r.logger.Error().Err(err).Msg("broker unsubscribe failed")
		}
		r.logger.Debug().Msg("room destroyed")
		return true
	}
	return false
}

// userStillHere reports whether another local connection of the same user
// remains in the room. Callers hold the namespace lock.
func (r *Room) userStillHere(userID string) bool {
	for _, other := range r.conns {
		if other.UserID() == userID {
			return true
		}
	}
	return false
}

// Broadcast publishes env on the room's broker topic. Local fan-out happens
// through the subscription callback, the same path that delivers remote
// broadcasts. excludeConnID, when non-empty, names a connection skipped on
// every node.
//
// A publish failure is logged and returned; local membership is unaffected.
func (r *Room) Broadcast(ctx context.Context, env *wire.Envelope, excludeConnID string) error {
	out := *env
	out.Namespace = r.ns.name
	out.Room = r.name
	out.Exclude = excludeConnID

	if err := r.ns.broker.Publish(ctx, r.topic, &out); err != nil {
		r.logger.Error().Err(err).Str("event", env.Event).Msg("broker publish failed")
		return err
	}
	return nil
}

// dispatch is the broker subscription callback: it fans env out to every
// locally attached connection, minus the excluded sender.
func (r *Room) dispatch(env *wire.Envelope) {
	for _, c := range r.snapshot() {
		if env.Exclude != "" && c.ID == env.Exclude {
			continue
		}
		c.Deliver(env)
	}
}

func (r *Room) snapshot() []*Conn {
	r.ns.mu.RLock()
	defer r.ns.mu.RUnlock()
	out := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}
