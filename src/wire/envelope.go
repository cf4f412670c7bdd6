// Package wire defines the envelope exchanged between connections and the
// codec for the client-facing frame format.
package wire

import (
	"encoding/json"
	"errors"
)

// Heartbeat frames are bare text, handled before JSON decoding and never
// forwarded to application handlers.
const (
	PingFrame = "ping"
	PongFrame = "pong"
)

// Reserved event names.
const (
	EventJoin  = "join"
	EventLeave = "leave"
	EventError = "error"
	// EventBinary is the routing event for raw binary frames, which carry
	// no JSON event field of their own.
	EventBinary = "binary"
)

// ErrBadFrame is returned when an inbound frame is not a valid envelope.
var ErrBadFrame = errors.New("bad frame")

// Envelope is the normalized unit of message data. It is produced once per
// outbound message and never mutated after creation.
type Envelope struct {
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data,omitempty"`
	Namespace string          `json:"namespace,omitempty"`
	Room      string          `json:"room,omitempty"`
	SenderID  string          `json:"sender_id,omitempty"`
	// Exclude carries the connection id to skip during fan-out. It survives
	// the broker hop so remote nodes honor the exclusion too.
	Exclude string `json:"exclude,omitempty"`
	// Binary envelopes carry their payload in Payload and are delivered to
	// clients as raw binary frames instead of JSON.
	Binary  bool   `json:"binary,omitempty"`
	Payload []byte `json:"payload,omitempty"`
}

// frame is the client-facing wire form: {"event":..., "data":..., "room":...}.
type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	Room  *string         `json:"room"`
}

// IsPing reports whether raw is a bare heartbeat ping frame.
func IsPing(raw []byte) bool { return string(raw) == PingFrame }

// IsPong reports whether raw is a bare heartbeat pong frame.
func IsPong(raw []byte) bool { return string(raw) == PongFrame }

// Decode parses a client frame into an Envelope. Namespace and sender are
// filled in by the caller; they are not part of the client wire format.
func Decode(raw []byte) (*Envelope, error) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, ErrBadFrame
	}
	if f.Event == "" {
		return nil, ErrBadFrame
	}
	env := &Envelope{Event: f.Event, Data: f.Data}
	if f.Room != nil {
		env.Room = *f.Room
	}
	return env, nil
}

// Encode renders an Envelope in the client wire form. Routing metadata
// (namespace, sender, exclusion) is stripped; clients only see event, data
// and room.
func Encode(e *Envelope) ([]byte, error) {
	f := frame{Event: e.Event, Data: e.Data}
	if e.Room != "" {
		f.Room = &e.Room
	}
	return json.Marshal(f)
}

// Marshal renders the full envelope, routing metadata included. This is the
// broker transport form.
func Marshal(e *Envelope) ([]byte, error) {
	return json.Marshal(e)
}

// Unmarshal parses the broker transport form.
func Unmarshal(raw []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// ErrorEnvelope builds the error frame sent back to a client when its
// message was dropped.
func ErrorEnvelope(msg string) *Envelope {
	data, _ := json.Marshal(msg)
	return &Envelope{Event: EventError, Data: data}
}

// BinaryEnvelope wraps a raw binary payload. The payload is base64-encoded
// over the broker hop and written to clients as a binary frame.
func BinaryEnvelope(payload []byte) *Envelope {
	return &Envelope{Event: EventBinary, Binary: true, Payload: payload}
}

// NewEnvelope builds an application envelope with an arbitrary data value.
func NewEnvelope(event string, data any) (*Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Envelope{Event: event, Data: raw}, nil
}
