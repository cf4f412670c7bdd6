// Package broker provides the cross-node publish/subscribe transport used to
// replicate room broadcasts between server instances.
package broker

import (
	"context"
	"errors"

	"github.com/meshcast/socket/src/wire"
)

// ErrBrokerClosed is returned by operations on a closed broker.
var ErrBrokerClosed = errors.New("broker closed")

// Handler receives envelopes published to a subscribed topic.
type Handler func(env *wire.Envelope)

// Broker replicates envelopes between nodes. A node's own publishes are
// delivered back to it: local and remote fan-out share one code path, the
// subscription callback.
//
// No cross-node total order is guaranteed. Two broadcasts issued concurrently
// from different nodes may be observed in different relative orders by
// different recipients.
type Broker interface {
	// Publish sends env to every node subscribed to topic, including the
	// publishing node itself.
	Publish(ctx context.Context, topic string, env *wire.Envelope) error

	// Subscribe registers handler for topic. One handler per topic per
	// broker; subscribing an already-subscribed topic replaces the handler.
	Subscribe(ctx context.Context, topic string, handler Handler) error

	// Unsubscribe removes the topic subscription. Unsubscribing a topic
	// that is not subscribed is a no-op.
	Unsubscribe(ctx context.Context, topic string) error

	// Close releases transport resources.
	Close() error
}

// Topic derives the broker topic for a room. Stable and collision-free
// across namespaces.
func Topic(namespace, room string) string {
	return "broker:" + namespace + ":room:" + room
}
