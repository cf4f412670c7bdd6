package providers

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/valyala/fasthttp"

	"github.com/meshcast/socket/src/auth"
	"github.com/meshcast/socket/src/hub"
)

var upgrader = websocket.FastHTTPUpgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

const writeWait = 10 * time.Second

// wsTransport adapts a fasthttp websocket connection to hub.Transport.
// Writes are serialized; gorilla-style connections allow one concurrent
// writer only.
type wsTransport struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (t *wsTransport) Write(data []byte, binary bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	msgType := websocket.TextMessage
	if binary {
		msgType = websocket.BinaryMessage
	}
	_ = t.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return t.conn.WriteMessage(msgType, data)
}

func (t *wsTransport) Close(code int, reason string) error {
	t.mu.Lock()
	msg := websocket.FormatCloseMessage(code, reason)
	_ = t.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = t.conn.WriteMessage(websocket.CloseMessage, msg)
	t.mu.Unlock()
	return t.conn.Close()
}

// FastHTTPHandler returns the raw fasthttp handler for WebSocket upgrades.
// Registered at the app level since Fiber v3 does not expose
// *fasthttp.RequestCtx. The connection URL carries an optional token query
// parameter and an optional ns parameter selecting the namespace.
func (s *Server) FastHTTPHandler() fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		upgrade := string(ctx.Request.Header.Peek("Upgrade"))
		if !strings.EqualFold(upgrade, "websocket") {
			ctx.SetStatusCode(fasthttp.StatusUpgradeRequired)
			ctx.SetBodyString(`{"error":"upgrade_required","message":"WebSocket upgrade required"}`)
			return
		}

		token := string(ctx.QueryArgs().Peek("token"))

		// The namespace rides on the path: /ws/chat connects to "/chat".
		// A bare /ws falls back to the ns query parameter, then to the
		// default namespace.
		nsPath := strings.TrimPrefix(string(ctx.Path()), "/ws")
		if nsPath == "" || nsPath == "/" {
			nsPath = string(ctx.QueryArgs().Peek("ns"))
		}

		err := upgrader.Upgrade(ctx, func(conn *websocket.Conn) {
			s.serveConn(conn, nsPath, token)
		})
		if err != nil {
			s.logger.Error().Err(err).Msg("websocket upgrade failed")
		}
	}
}

// serveConn authenticates the socket, admits it into its namespace, and runs
// the read loop until the socket dies.
func (s *Server) serveConn(conn *websocket.Conn, nsPath, token string) {
	transport := &wsTransport{conn: conn}

	principal, err := s.authenticator.Verify(context.Background(), token)
	if err != nil {
		s.logger.Info().Err(err).Msg("handshake rejected")
		_ = transport.Close(hub.ClosePolicyViolation, auth.ErrUnauthorized.Error())
		return
	}

	ns := s.registry.Resolve(nsPath)
	c, err := ns.AddConnection(transport, principal)
	if err != nil {
		// AddConnection already closed the socket.
		return
	}
	defer c.Destroy()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug().Err(err).Str("conn_id", c.ID).Msg("read error")
			}
			return
		}
		if msgType == websocket.BinaryMessage {
			c.HandleBinary(data)
		} else {
			c.HandleFrame(data)
		}
	}
}
