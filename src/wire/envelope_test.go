package wire

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeValidFrame(t *testing.T) {
	env, err := Decode([]byte(`{"event":"msg","data":{"text":"hi"},"room":"general"}`))
	require.NoError(t, err)
	assert.Equal(t, "msg", env.Event)
	assert.Equal(t, "general", env.Room)
	assert.JSONEq(t, `{"text":"hi"}`, string(env.Data))
}

func TestDecodeNullRoom(t *testing.T) {
	env, err := Decode([]byte(`{"event":"msg","data":"x","room":null}`))
	require.NoError(t, err)
	assert.Empty(t, env.Room)
}

func TestDecodeRejectsMalformed(t *testing.T) {
	cases := [][]byte{
		[]byte(`not json`),
		[]byte(`{"data":"no event"}`),
		[]byte(`{}`),
		[]byte(``),
		[]byte(`[1,2,3]`),
	}
	for _, raw := range cases {
		_, err := Decode(raw)
		assert.ErrorIs(t, err, ErrBadFrame, "input: %s", raw)
	}
}

func TestEncodeStripsRoutingMetadata(t *testing.T) {
	env := &Envelope{
		Event:     "msg",
		Data:      json.RawMessage(`"hello"`),
		Namespace: "/chat",
		Room:      "general",
		SenderID:  "conn-1",
		Exclude:   "conn-1",
	}
	raw, err := Encode(env)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, "msg", out["event"])
	assert.Equal(t, "general", out["room"])
	assert.NotContains(t, out, "namespace")
	assert.NotContains(t, out, "sender_id")
	assert.NotContains(t, out, "exclude")
}

func TestEncodeNullRoomWhenUnset(t *testing.T) {
	env := &Envelope{Event: "notice", Data: json.RawMessage(`"x"`)}
	raw, err := Encode(env)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	v, ok := out["room"]
	assert.True(t, ok, "room key must be present")
	assert.Nil(t, v)
}

func TestTransportRoundTripKeepsMetadata(t *testing.T) {
	env := &Envelope{
		Event:     "msg",
		Data:      json.RawMessage(`{"n":1}`),
		Namespace: "/chat",
		Room:      "general",
		SenderID:  "conn-a",
		Exclude:   "conn-a",
	}
	raw, err := Marshal(env)
	require.NoError(t, err)

	out, err := Unmarshal(raw)
	require.NoError(t, err)
	assert.Equal(t, env.Namespace, out.Namespace)
	assert.Equal(t, env.SenderID, out.SenderID)
	assert.Equal(t, env.Exclude, out.Exclude)
}

func TestHeartbeatDetection(t *testing.T) {
	assert.True(t, IsPing([]byte("ping")))
	assert.True(t, IsPong([]byte("pong")))
	assert.False(t, IsPing([]byte(`{"event":"ping"}`)))
	assert.False(t, IsPong([]byte("")))
}

func TestErrorEnvelope(t *testing.T) {
	env := ErrorEnvelope("bad frame")
	assert.Equal(t, EventError, env.Event)

	raw, err := Encode(env)
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"error","data":"bad frame","room":null}`, string(raw))
}

func TestBinaryEnvelopeTransportRoundTrip(t *testing.T) {
	payload := []byte{0x00, 0x01, 0xfe, 0xff}
	env := BinaryEnvelope(payload)
	env.Namespace = "/chat"
	env.Room = "general"

	raw, err := Marshal(env)
	require.NoError(t, err)

	out, err := Unmarshal(raw)
	require.NoError(t, err)
	assert.True(t, out.Binary)
	assert.Equal(t, payload, out.Payload)
	assert.Equal(t, EventBinary, out.Event)
	assert.Equal(t, "general", out.Room)
}
