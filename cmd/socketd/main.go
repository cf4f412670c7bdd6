// Command socketd runs a broadcast engine node.
package main

import (
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"

	"github.com/meshcast/socket/config"
	"github.com/meshcast/socket/providers"
	"github.com/meshcast/socket/src/auth"
	"github.com/meshcast/socket/src/broker"
	"github.com/meshcast/socket/src/hub"
	"github.com/meshcast/socket/src/presence"
	"github.com/meshcast/socket/src/service"
)

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	cfg := config.FromEnv()

	brk, store, err := buildBackends(logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("backend init failed")
	}
	defer brk.Close()
	defer store.Close()

	registry := hub.NewRegistry(cfg, brk, store, logger)
	svc := service.New(registry, store, logger)

	// Declare the default namespace so undeclared paths resolve somewhere.
	registry.Namespace(cfg.DefaultNamespace)

	srv := providers.NewServer(registry, svc, buildAuthenticator(), logger)

	app := fiber.New()
	srv.RegisterRoutes(app.Group(""))

	// Fiber v3 does not expose *fasthttp.RequestCtx, so the upgrade endpoint
	// is mounted beside the app on the raw fasthttp server.
	wsHandler := srv.FastHTTPHandler()
	appHandler := app.Handler()
	root := func(ctx *fasthttp.RequestCtx) {
		path := string(ctx.Path())
		upgrade := string(ctx.Request.Header.Peek("Upgrade"))
		if strings.HasPrefix(path, "/ws") && strings.EqualFold(upgrade, "websocket") {
			wsHandler(ctx)
			return
		}
		appHandler(ctx)
	}

	addr := os.Getenv("SOCKET_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	httpServer := &fasthttp.Server{Handler: root}

	go func() {
		logger.Info().Str("addr", addr).Msg("listening")
		if err := httpServer.ListenAndServe(addr); err != nil {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")
	if err := httpServer.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
	}
}

// buildBackends selects the broker and membership store from BROKER:
// "redis" for multi-node deployments, anything else runs in-memory.
func buildBackends(logger zerolog.Logger) (broker.Broker, presence.Store, error) {
	if os.Getenv("BROKER") == "redis" {
		cfg := broker.RedisConfigFromEnv()
		brk, err := broker.NewRedisBroker(cfg, logger)
		if err != nil {
			return nil, nil, err
		}
		store, err := presence.NewRedisStore(cfg)
		if err != nil {
			_ = brk.Close()
			return nil, nil, err
		}
		logger.Info().Str("addr", cfg.Addr).Msg("redis backends connected")
		return brk, store, nil
	}
	logger.Info().Msg("running single-node with in-memory backends")
	return broker.NewMemoryBroker(), presence.NewMemoryStore(), nil
}

// buildAuthenticator reads AUTH_JWT_SECRET; without it every connection is
// admitted anonymously.
func buildAuthenticator() auth.Authenticator {
	if secret := os.Getenv("AUTH_JWT_SECRET"); secret != "" {
		return auth.NewJWTAuthenticator([]byte(secret))
	}
	return auth.AnonymousAuthenticator{}
}
