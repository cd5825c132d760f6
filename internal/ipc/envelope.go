// Package ipc implements the request multiplexer layered on top of
// internal/transport: one-way (fire-and-forget) endpoints, blocking
// endpoints correlated by request id, and the response half of a blocking
// round trip.
package ipc

import "encoding/json"

// Request types carried in an envelope's "rtype" field.
const (
	FireAndForget = "FIRE_AND_FORGET"
	Blocking      = "BLOCKING"
	Response      = "RESPONSE"
)

// Envelope is the wire shape of every frame exchanged after the handshake.
type Envelope struct {
	RType    string          `json:"rtype"`
	Endpoint string          `json:"endpoint"`
	Data     json.RawMessage `json:"data"`
	Rid      string          `json:"rid,omitempty"`
}

// Handler processes a fire-and-forget request's payload.
type Handler func(data json.RawMessage)

// BlockingHandler processes a blocking request's payload and is
// responsible for eventually calling SendResponse with the same rid.
type BlockingHandler func(rid string, data json.RawMessage)

// Result is the standard {"status", "return"} shape every native endpoint
// in internal/host and internal/core replies with.
type Result struct {
	Status string `json:"status"`
	Return any     `json:"return,omitempty"`
}

const (
	StatusSuccess = "success"
	StatusError   = "error"
)
