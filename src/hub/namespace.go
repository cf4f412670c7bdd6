package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/meshcast/socket/config"
	"github.com/meshcast/socket/src/auth"
	"github.com/meshcast/socket/src/broker"
	"github.com/meshcast/socket/src/presence"
	"github.com/meshcast/socket/src/wire"
)

// ErrConnNotFound is returned when an operation names an unknown connection.
var ErrConnNotFound = errors.New("connection not found")

// ConnMiddleware runs once per connection during admission. Calling next(err)
// with a non-nil error rejects the connection; it is closed with a
// policy-violation code and never registered.
type ConnMiddleware func(c *Conn, next func(err error))

// MessageMiddleware runs once per routed message. Calling next(err) with a
// non-nil error drops the message and sends an error envelope back.
type MessageMiddleware func(c *Conn, env *wire.Envelope, next func(err error))

// Handler processes an application event routed by the namespace.
type Handler func(c *Conn, env *wire.Envelope) error

// Namespace is an isolated messaging domain: it owns its rooms, its
// connections, and the middleware chains every connection and message pass
// through. Namespaces are created lazily and live for the process lifetime.
type Namespace struct {
	name   string
	cfg    *config.SocketConfig
	broker broker.Broker
	store  presence.Store
	logger zerolog.Logger

	mu        sync.RWMutex
	conns     map[string]*Conn
	rooms     map[string]*Room
	connMW    []ConnMiddleware
	msgMW     []MessageMiddleware
	handlers  map[string]Handler
	onConnect []func(*Conn)
	onDisconn []func(*Conn)
}

func newNamespace(name string, cfg *config.SocketConfig, b broker.Broker, s presence.Store, logger zerolog.Logger) *Namespace {
	return &Namespace{
		name:     name,
		cfg:      cfg,
		broker:   b,
		store:    s,
		logger:   logger.With().Str("namespace", name).Logger(),
		conns:    make(map[string]*Conn),
		rooms:    make(map[string]*Room),
		handlers: make(map[string]Handler),
	}
}

// Name returns the namespace path.
func (n *Namespace) Name() string { return n.name }

// Use appends a connection middleware to the admission chain.
func (n *Namespace) Use(mw ConnMiddleware) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.connMW = append(n.connMW, mw)
}

// UseMessage appends a message middleware to the routing chain.
func (n *Namespace) UseMessage(mw MessageMiddleware) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgMW = append(n.msgMW, mw)
}

// On registers a handler for an application event.
func (n *Namespace) On(event string, handler Handler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers[event] = handler
}

// OnConnection registers a callback fired after a connection is admitted.
func (n *Namespace) OnConnection(cb func(*Conn)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onConnect = append(n.onConnect, cb)
}

// OnDisconnection registers a callback fired after a connection is destroyed.
func (n *Namespace) OnDisconnection(cb func(*Conn)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onDisconn = append(n.onDisconn, cb)
}

// AddConnection admits a socket: the connection middleware chain runs first;
// on success the connection is registered, auto-joined to the default room,
// and its pumps start. On rejection the socket is closed with a
// policy-violation code and no connection is registered.
func (n *Namespace) AddConnection(transport Transport, principal *auth.Principal) (*Conn, error) {
	c := newConn(n, transport, principal)

	if err := n.runConnChain(c); err != nil {
		n.logger.Info().Err(err).Msg("connection rejected by middleware")
		_ = transport.Close(ClosePolicyViolation, err.Error())
		return nil, err
	}

	n.mu.Lock()
	n.conns[c.ID] = c
	n.mu.Unlock()

	c.start()

	if err := n.JoinRoom(context.Background(), c, n.cfg.DefaultRoom); err != nil {
		n.logger.Error().Err(err).Msg("default room join failed")
	}

	n.mu.RLock()
	callbacks := make([]func(*Conn), len(n.onConnect))
	copy(callbacks, n.onConnect)
	n.mu.RUnlock()
	for _, cb := range callbacks {
		cb(c)
	}

	n.logger.Info().Str("conn_id", c.ID).Str("user_id", c.UserID()).Msg("connection admitted")
	return c, nil
}

// Conn returns a connection by id.
func (n *Namespace) Conn(id string) (*Conn, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	c, ok := n.conns[id]
	return c, ok
}

// Room returns a room by name, if it has local members.
func (n *Namespace) Room(name string) (*Room, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	r, ok := n.rooms[name]
	return r, ok
}

// ConnsOfUser returns every locally attached connection of a user (the
// multi-tab case).
func (n *Namespace) ConnsOfUser(userID string) []*Conn {
	n.mu.RLock()
	defer n.mu.RUnlock()
	var out []*Conn
	for _, c := range n.conns {
		if c.UserID() == userID {
			out = append(out, c)
		}
	}
	return out
}

// RoomCount returns the number of rooms with local members.
func (n *Namespace) RoomCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.rooms)
}

// ConnCount returns the number of locally attached connections.
func (n *Namespace) ConnCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.conns)
}

// Rooms returns room names with their local member counts.
func (n *Namespace) Rooms() map[string]int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make(map[string]int, len(n.rooms))
	for name, r := range n.rooms {
		out[name] = len(r.conns)
	}
	return out
}

// JoinRoom adds c to the named room, creating the room on first join.
func (n *Namespace) JoinRoom(ctx context.Context, c *Conn, room string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	r := n.getOrCreateRoom(room)
	err := r.add(ctx, c)
	if errors.Is(err, ErrRoomDestroyed) {
		// Stale entry from a torn-down room; replace it and retry once.
		delete(n.rooms, room)
		r = n.getOrCreateRoom(room)
		err = r.add(ctx, c)
	}
	if err != nil {
		n.removeRoomIfEmpty(room)
		return err
	}
	return nil
}

// LeaveRoom removes c from the named room; the room is dropped when its
// local member set empties.
func (n *Namespace) LeaveRoom(c *Conn, room string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	r, ok := n.rooms[room]
	if !ok {
		return
	}
	if r.remove(c) {
		delete(n.rooms, room)
	}
}

// getOrCreateRoom centralizes room creation. Callers hold the namespace lock.
func (n *Namespace) getOrCreateRoom(name string) *Room {
	if r, ok := n.rooms[name]; ok {
		return r
	}
	r := newRoom(n, name)
	n.rooms[name] = r
	n.logger.Debug().Str("room", name).Msg("room created")
	return r
}

// removeRoomIfEmpty centralizes room teardown. Callers hold the namespace
// lock.
func (n *Namespace) removeRoomIfEmpty(name string) {
	if r, ok := n.rooms[name]; ok && len(r.conns) == 0 {
		delete(n.rooms, name)
	}
}

// dropConnection removes c from every local room and from the connection
// map, then fires disconnect callbacks. Called by Conn.destroy.
func (n *Namespace) dropConnection(c *Conn) {
	n.mu.Lock()
	if _, ok := n.conns[c.ID]; !ok {
		n.mu.Unlock()
		return
	}
	delete(n.conns, c.ID)

	for _, name := range c.Rooms() {
		if r, ok := n.rooms[name]; ok {
			if r.remove(c) {
				delete(n.rooms, name)
			}
		}
	}

	callbacks := make([]func(*Conn), len(n.onDisconn))
	copy(callbacks, n.onDisconn)
	n.mu.Unlock()

	for _, cb := range callbacks {
		cb(c)
	}
}

// Broadcast publishes an envelope to a room's topic. The room does not need
// local members: a node with zero members of a room can still address its
// cluster-wide audience.
func (n *Namespace) Broadcast(ctx context.Context, room string, env *wire.Envelope, excludeConnID string) error {
	n.mu.RLock()
	r, ok := n.rooms[room]
	n.mu.RUnlock()

	if ok {
		return r.Broadcast(ctx, env, excludeConnID)
	}

	out := *env
	out.Namespace = n.name
	out.Room = room
	out.Exclude = excludeConnID
	if err := n.broker.Publish(ctx, broker.Topic(n.name, room), &out); err != nil {
		n.logger.Error().Err(err).Str("room", room).Msg("broker publish failed")
		return err
	}
	return nil
}

// RouteMessage decodes a raw frame from c and routes it: built-in room
// commands first, then registered application handlers.
func (n *Namespace) RouteMessage(c *Conn, raw []byte) {
	env, err := wire.Decode(raw)
	if err != nil {
		n.logger.Debug().Str("conn_id", c.ID).Msg("malformed frame")
		c.Deliver(wire.ErrorEnvelope("bad frame"))
		return
	}
	env.Namespace = n.name
	env.SenderID = c.ID

	if err := n.runMsgChain(c, env); err != nil {
		n.logger.Debug().Err(err).Str("conn_id", c.ID).Msg("message rejected by middleware")
		c.Deliver(wire.ErrorEnvelope(err.Error()))
		return
	}

	switch env.Event {
	case wire.EventJoin:
		room := env.Room
		if room == "" {
			room = roomFromData(env.Data)
		}
		if room == "" {
			c.Deliver(wire.ErrorEnvelope("join: missing room"))
			return
		}
		if err := n.JoinRoom(context.Background(), c, room); err != nil {
			n.logger.Error().Err(err).Str("room", room).Msg("join failed")
			c.Deliver(wire.ErrorEnvelope("join failed"))
		}
	case wire.EventLeave:
		room := env.Room
		if room == "" {
			room = roomFromData(env.Data)
		}
		if room == "" {
			c.Deliver(wire.ErrorEnvelope("leave: missing room"))
			return
		}
		n.LeaveRoom(c, room)
	default:
		n.mu.RLock()
		handler, ok := n.handlers[env.Event]
		n.mu.RUnlock()
		if !ok {
			n.logger.Debug().Str("event", env.Event).Msg("no handler")
			return
		}
		if err := handler(c, env); err != nil {
			n.logger.Error().Err(err).Str("event", env.Event).Msg("handler error")
		}
	}
}

// RouteBinary routes a raw binary frame from c. The payload is never JSON
// decoded; it is wrapped in a binary envelope and dispatched to the handler
// registered for the binary event.
func (n *Namespace) RouteBinary(c *Conn, raw []byte) {
	env := wire.BinaryEnvelope(raw)
	env.Namespace = n.name
	env.SenderID = c.ID

	if err := n.runMsgChain(c, env); err != nil {
		n.logger.Debug().Err(err).Str("conn_id", c.ID).Msg("message rejected by middleware")
		c.Deliver(wire.ErrorEnvelope(err.Error()))
		return
	}

	n.mu.RLock()
	handler, ok := n.handlers[wire.EventBinary]
	n.mu.RUnlock()
	if !ok {
		n.logger.Debug().Str("conn_id", c.ID).Msg("no binary handler")
		return
	}
	if err := handler(c, env); err != nil {
		n.logger.Error().Err(err).Str("conn_id", c.ID).Msg("binary handler error")
	}
}

// roomFromData accepts {"room":"x"} payloads for join/leave frames that put
// the room in the data field instead of the top-level room field.
func roomFromData(data json.RawMessage) string {
	var v struct {
		Room string `json:"room"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return ""
	}
	return v.Room
}

func (n *Namespace) runConnChain(c *Conn) error {
	n.mu.RLock()
	chain := make([]ConnMiddleware, len(n.connMW))
	copy(chain, n.connMW)
	n.mu.RUnlock()

	var run func(i int) error
	run = func(i int) error {
		if i >= len(chain) {
			return nil
		}
		result := errors.New("middleware did not call next")
		chain[i](c, func(err error) {
			if err != nil {
				result = err
				return
			}
			result = run(i + 1)
		})
		return result
	}
	return run(0)
}

func (n *Namespace) runMsgChain(c *Conn, env *wire.Envelope) error {
	n.mu.RLock()
	chain := make([]MessageMiddleware, len(n.msgMW))
	copy(chain, n.msgMW)
	n.mu.RUnlock()

	var run func(i int) error
	run = func(i int) error {
		if i >= len(chain) {
			return nil
		}
		result := errors.New("middleware did not call next")
		chain[i](c, env, func(err error) {
			if err != nil {
				result = err
				return
			}
			result = run(i + 1)
		})
		return result
	}
	return run(0)
}
