// internal/events/types.go
package events

import (
	"encoding/json"
	"time"
)

// EventType represents the type of event.
type EventType string

const (
	// Realtime connectivity events
	ConnectionStateChanged EventType = "connection.state_changed"

	// Room events, payloads passed through from the gateway verbatim
	ChatMessageReceived EventType = "chat.message"
	ChatPresenceUpdated EventType = "chat.presence"

	// Market feed events
	TradeTickReceived EventType = "trade.tick"
	CoinUpdated       EventType = "coin.updated"
	CoinRemoved       EventType = "coin.removed"

	// Swap lifecycle events
	SwapSubmitted EventType = "swap.submitted"
	SwapConfirmed EventType = "swap.confirmed"
	SwapFailed    EventType = "swap.failed"
)

// Event is the base interface for all events.
type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// BaseEvent provides common fields for all events.
type BaseEvent struct {
	EventType EventType
	EventTime time.Time
}

// Type returns the event type.
func (e BaseEvent) Type() EventType {
	return e.EventType
}

// Timestamp returns when the event occurred.
func (e BaseEvent) Timestamp() time.Time {
	return e.EventTime
}

// ConnectionStateChangedEvent is emitted on every manager status
// transition. UI consumers render degraded state from these instead of
// receiving transport errors.
type ConnectionStateChangedEvent struct {
	BaseEvent
	Channel  string // "chat", "trades", "coins"
	RoomID   string
	OldState string
	NewState string
}

// ChatMessageEvent carries one inbound room message.
type ChatMessageEvent struct {
	BaseEvent
	RoomID  string
	Payload json.RawMessage
}

// ChatPresenceEvent carries a presence/participant-count update.
type ChatPresenceEvent struct {
	BaseEvent
	RoomID  string
	Payload json.RawMessage
}

// TradeTickEvent carries one trade from the tick feed.
type TradeTickEvent struct {
	BaseEvent
	Mint    string
	Payload json.RawMessage
}

// CoinUpdatedEvent carries a coin-discovery feed update.
type CoinUpdatedEvent struct {
	BaseEvent
	Event   string // gateway event name: item-updated, status-update, ...
	Payload json.RawMessage
}

// SwapSubmittedEvent is emitted when a swap transaction is sent.
type SwapSubmittedEvent struct {
	BaseEvent
	Mint      string
	Direction string // "buy" or "sell"
	Signature string
	AmountIn  string
	MinOut    string
}

// SwapConfirmedEvent is emitted when the chain confirms a swap.
type SwapConfirmedEvent struct {
	BaseEvent
	Mint      string
	Signature string
}

// SwapFailedEvent is emitted when a swap fails terminally.
type SwapFailedEvent struct {
	BaseEvent
	Mint      string
	Signature string
	Error     error
}
