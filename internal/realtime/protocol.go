// ====================================
// File: internal/realtime/protocol.go
// ====================================

// Package realtime maintains best-effort-always-connected duplex
// channels to the platform's room-based gateways. One Manager owns one
// logical room at a time and heals itself after faults with bounded
// backoff; it never escalates transport errors to callers.
package realtime

import "encoding/json"

// Client actions emitted to the gateway.
const (
	ActionSubscribe = "subscribe"
	ActionLeave     = "leave"
	ActionMessage   = "message"
)

// Server events. Payloads are passed through to observers verbatim.
const (
	EventSubscribed   = "subscribed"
	EventNewMessage   = "new-message"
	EventPresence     = "presence"
	EventItemUpdated  = "item-updated"
	EventItemDeleted  = "item-deleted"
	EventStatusUpdate = "status-update"
)

// Frame is the JSON envelope used in both directions on the wire.
type Frame struct {
	Event string          `json:"event"`
	Room  string          `json:"room,omitempty"`
	Token string          `json:"token,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Message is one inbound gateway event as delivered to consumers, in
// transport order. Delivery is not linearized across reconnects:
// frames in flight during a reconnect are dropped, never duplicated.
type Message struct {
	Event string
	Room  string
	Data  json.RawMessage
}
