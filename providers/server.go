// Package providers exposes the engine over HTTP: the WebSocket upgrade
// endpoint and the read-only admin surface.
package providers

import (
	"context"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/meshcast/socket/src/auth"
	"github.com/meshcast/socket/src/hub"
	"github.com/meshcast/socket/src/service"
)

// Server wires the HTTP surface to the engine.
type Server struct {
	registry      *hub.Registry
	service       *service.Service
	authenticator auth.Authenticator
	logger        zerolog.Logger
}

// NewServer creates the HTTP surface over an engine.
func NewServer(registry *hub.Registry, svc *service.Service, authenticator auth.Authenticator, logger zerolog.Logger) *Server {
	return &Server{
		registry:      registry,
		service:       svc,
		authenticator: authenticator,
		logger:        logger.With().Str("component", "http").Logger(),
	}
}

// RegisterRoutes registers the admin routes on a Fiber router. The WebSocket
// upgrade itself is served by FastHTTPHandler at the app level.
func (s *Server) RegisterRoutes(group fiber.Router) {
	group.Get("/ws/info", s.handleInfo)
	group.Get("/ws/presence", s.handlePresence)
}

func (s *Server) handleInfo(c fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"websocket":  true,
		"endpoint":   "/ws",
		"namespaces": s.service.Stats(),
	})
}

func (s *Server) handlePresence(c fiber.Ctx) error {
	nsPath := c.Query("ns", "default")
	room := c.Query("room")
	if room == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "room is required"})
	}

	users, err := s.service.UsersInRoom(context.Background(), nsPath, room)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{
		"namespace": nsPath,
		"room":      room,
		"users":     users,
		"count":     len(users),
	})
}
