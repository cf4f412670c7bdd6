package hub

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/meshcast/socket/src/auth"
	"github.com/meshcast/socket/src/wire"
)

// WebSocket close codes used by the engine.
const (
	CloseNormal          = 1000
	ClosePolicyViolation = 1008
)

// Transport is the physical socket behind a Conn. The read loop lives with
// the transport owner (the HTTP layer or a test), which feeds inbound frames
// to Conn.HandleFrame.
type Transport interface {
	Write(data []byte, binary bool) error
	Close(code int, reason string) error
}

// outFrame pairs a payload with its frame type for the write pump.
type outFrame struct {
	data   []byte
	binary bool
}

// Conn wraps one client socket: identity, liveness, and rate limiting. It is
// owned by its Namespace and destroyed on socket close, error, rate-limit
// violation, or heartbeat timeout.
type Conn struct {
	ID        string
	principal *auth.Principal
	ns        *Namespace
	transport Transport
	limiter   *rate.Limiter
	logger    zerolog.Logger

	send chan outFrame
	done chan struct{}

	mu           sync.Mutex
	rooms        map[string]bool
	lastPongAt   time.Time
	awaitingPong bool
	pongTimer    *time.Timer
	destroyed    bool
}

func newConn(ns *Namespace, transport Transport, principal *auth.Principal) *Conn {
	id := uuid.New().String()
	return &Conn{
		ID:        id,
		principal: principal,
		ns:        ns,
		transport: transport,
		limiter:   rate.NewLimiter(rate.Limit(ns.cfg.RateLimitPerSec), ns.cfg.RateBurst),
		logger:    ns.logger.With().Str("conn_id", id).Logger(),
		send:      make(chan outFrame, ns.cfg.SendBuffer),
		done:      make(chan struct{}),
		rooms:     make(map[string]bool),
	}
}

// Principal returns the authenticated identity attached to this connection,
// or nil for unauthenticated deployments.
func (c *Conn) Principal() *auth.Principal { return c.principal }

// UserID returns the principal's user id, or "" when unauthenticated.
func (c *Conn) UserID() string {
	if c.principal == nil {
		return ""
	}
	return c.principal.UserID
}

// Namespace returns the owning namespace.
func (c *Conn) Namespace() *Namespace { return c.ns }

// Rooms returns the names of the rooms this connection has joined.
func (c *Conn) Rooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.rooms))
	for r := range c.rooms {
		out = append(out, r)
	}
	return out
}

// Deliver writes an envelope to the client, best effort. Frames are silently
// dropped when the connection is destroyed; a full send buffer drops the
// frame with a warning.
func (c *Conn) Deliver(env *wire.Envelope) {
	if env.Binary {
		c.enqueue(env.Payload, true)
		return
	}
	data, err := wire.Encode(env)
	if err != nil {
		c.logger.Error().Err(err).Str("event", env.Event).Msg("encode failed")
		return
	}
	c.enqueue(data, false)
}

func (c *Conn) enqueue(data []byte, binary bool) {
	c.mu.Lock()
	destroyed := c.destroyed
	c.mu.Unlock()
	if destroyed {
		return
	}
	select {
	case c.send <- outFrame{data: data, binary: binary}:
	default:
		c.logger.Warn().Msg("send buffer full, dropping frame")
	}
}

// HandleFrame processes one inbound frame. Heartbeat frames are answered
// before JSON decoding; everything else is rate checked and routed through
// the namespace.
func (c *Conn) HandleFrame(raw []byte) {
	if wire.IsPong(raw) {
		c.observePong()
		return
	}
	if wire.IsPing(raw) {
		c.enqueue([]byte(wire.PongFrame), false)
		return
	}

	if !c.limiter.Allow() {
		// Fail fast, no warning frame.
		c.logger.Warn().Msg("rate limit exceeded, terminating")
		c.Terminate("rate limit exceeded")
		return
	}

	c.ns.RouteMessage(c, raw)
}

// HandleBinary processes one inbound binary frame. Binary frames skip the
// JSON codec entirely; the payload is routed as-is under the binary event.
func (c *Conn) HandleBinary(raw []byte) {
	if !c.limiter.Allow() {
		c.logger.Warn().Msg("rate limit exceeded, terminating")
		c.Terminate("rate limit exceeded")
		return
	}
	c.ns.RouteBinary(c, raw)
}

// start launches the write pump and the heartbeat timer.
func (c *Conn) start() {
	c.mu.Lock()
	c.lastPongAt = time.Now()
	c.mu.Unlock()
	go c.writePump()
	go c.heartbeatLoop()
}

func (c *Conn) writePump() {
	for {
		select {
		case f := <-c.send:
			if err := c.transport.Write(f.data, f.binary); err != nil {
				c.logger.Debug().Err(err).Msg("write failed")
				c.Destroy()
				return
			}
		case <-c.done:
			return
		}
	}
}

// heartbeatLoop drives the liveness state machine: after PingInterval with
// no pong a ping is sent and the pong deadline starts; a pong returns the
// connection to alive, a missed deadline terminates it.
func (c *Conn) heartbeatLoop() {
	ticker := time.NewTicker(c.ns.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.Lock()
			if c.awaitingPong || c.destroyed {
				c.mu.Unlock()
				continue
			}
			if time.Since(c.lastPongAt) < c.ns.cfg.PingInterval {
				c.mu.Unlock()
				continue
			}
			c.awaitingPong = true
			c.pongTimer = time.AfterFunc(c.ns.cfg.PongTimeout, c.pongDeadline)
			c.mu.Unlock()
			c.enqueue([]byte(wire.PingFrame), false)
		}
	}
}

func (c *Conn) observePong() {
	c.mu.Lock()
	c.lastPongAt = time.Now()
	c.awaitingPong = false
	if c.pongTimer != nil {
		c.pongTimer.Stop()
		c.pongTimer = nil
	}
	c.mu.Unlock()
}

func (c *Conn) pongDeadline() {
	c.mu.Lock()
	expired := c.awaitingPong && !c.destroyed
	c.mu.Unlock()
	if expired {
		c.logger.Info().Msg("heartbeat timeout, terminating")
		c.Terminate("heartbeat timeout")
	}
}

// Terminate force-closes the socket with a policy-violation code and runs
// full cleanup.
func (c *Conn) Terminate(reason string) {
	c.destroy(ClosePolicyViolation, reason)
}

// Destroy removes the connection from every joined room and closes the
// socket. Idempotent.
func (c *Conn) Destroy() {
	c.destroy(CloseNormal, "")
}

func (c *Conn) destroy(code int, reason string) {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	c.destroyed = true
	if c.pongTimer != nil {
		c.pongTimer.Stop()
		c.pongTimer = nil
	}
	close(c.done)
	c.mu.Unlock()

	// Local room membership is cleared synchronously so broadcasts dispatched
	// after this point cannot reference a dead socket. The membership store
	// cleanup inside happens asynchronously.
	c.ns.dropConnection(c)

	if err := c.transport.Close(code, reason); err != nil {
		c.logger.Debug().Err(err).Msg("transport close")
	}
	c.logger.Info().Msg("connection destroyed")
}

func (c *Conn) trackRoom(name string) {
	c.mu.Lock()
	c.rooms[name] = true
	c.mu.Unlock()
}

func (c *Conn) untrackRoom(name string) {
	c.mu.Lock()
	delete(c.rooms, name)
	c.mu.Unlock()
}
