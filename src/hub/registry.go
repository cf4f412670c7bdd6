// Package hub implements the engine core: connections, rooms, and
// namespaces, coordinated across nodes through a broker and a membership
// store.
package hub

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/meshcast/socket/config"
	"github.com/meshcast/socket/src/broker"
	"github.com/meshcast/socket/src/presence"
)

// Registry holds every namespace in the process. The broker and membership
// store are constructed once at process start and injected here; namespaces
// inherit them.
type Registry struct {
	cfg    *config.SocketConfig
	broker broker.Broker
	store  presence.Store
	logger zerolog.Logger

	mu         sync.RWMutex
	namespaces map[string]*Namespace
}

// NewRegistry creates an empty registry over the shared broker and store.
func NewRegistry(cfg *config.SocketConfig, b broker.Broker, s presence.Store, logger zerolog.Logger) *Registry {
	return &Registry{
		cfg:        cfg,
		broker:     b,
		store:      s,
		logger:     logger,
		namespaces: make(map[string]*Namespace),
	}
}

// Namespace returns the namespace for path, creating it lazily. Used by the
// composition root to declare namespaces and attach middleware and handlers.
func (g *Registry) Namespace(path string) *Namespace {
	g.mu.RLock()
	ns, ok := g.namespaces[path]
	g.mu.RUnlock()
	if ok {
		return ns
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if ns, ok := g.namespaces[path]; ok {
		return ns
	}
	ns = newNamespace(path, g.cfg, g.broker, g.store, g.logger)
	g.namespaces[path] = ns
	return ns
}

// Resolve returns the declared namespace for path, falling back to the
// default namespace for unknown paths. Used at handshake time so an
// unrecognized path never rejects a connection.
func (g *Registry) Resolve(path string) *Namespace {
	g.mu.RLock()
	ns, ok := g.namespaces[path]
	g.mu.RUnlock()
	if ok {
		return ns
	}
	return g.Namespace(g.cfg.DefaultNamespace)
}

// Namespaces returns the declared namespace paths.
func (g *Registry) Namespaces() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]string, 0, len(g.namespaces))
	for path := range g.namespaces {
		out = append(out, path)
	}
	return out
}

// Each calls fn for every declared namespace.
func (g *Registry) Each(fn func(*Namespace)) {
	g.mu.RLock()
	snapshot := make([]*Namespace, 0, len(g.namespaces))
	for _, ns := range g.namespaces {
		snapshot = append(snapshot, ns)
	}
	g.mu.RUnlock()
	for _, ns := range snapshot {
		fn(ns)
	}
}
