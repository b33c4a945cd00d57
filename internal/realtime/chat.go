// ================================
// File: internal/realtime/chat.go
// ================================
package realtime

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/pumpstream/pumpclient/internal/events"
)

// ChatClient is the chat/presence channel: one room per token page,
// inbound messages and presence counts fanned out on the event bus.
type ChatClient struct {
	mgr    *Manager
	bus    *events.Bus
	logger *zap.Logger
}

// NewChatClient builds the chat channel manager and starts bridging
// its inbound stream onto the bus.
func NewChatClient(opts Options, bus *events.Bus, logger *zap.Logger) *ChatClient {
	opts.Name = "chat"
	opts.StatusHook = publishStateChange(bus, "chat")

	c := &ChatClient{
		mgr:    NewManager(opts, logger),
		bus:    bus,
		logger: logger.Named("chat"),
	}
	go c.pump()
	return c
}

// Join connects to a token's chat room. Joining the room already
// joined is a no-op; joining a different room switches over cleanly.
func (c *ChatClient) Join(roomID, authToken string) {
	c.mgr.ConnectToRoom(roomID, authToken)
}

// SendMessage posts a chat message to the current room. Dropped with a
// log line when disconnected; chat has no delivery guarantee.
func (c *ChatClient) SendMessage(text string) {
	data, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		c.logger.Error("Failed to encode chat message", zap.Error(err))
		return
	}
	c.mgr.Send(ActionMessage, data)
}

// Leave disconnects from the current room without a cooldown.
func (c *ChatClient) Leave() {
	c.mgr.Disconnect(false)
}

// NotifyForeground triggers the immediate visibility-regain reconnect.
func (c *ChatClient) NotifyForeground() {
	c.mgr.NotifyForeground()
}

func (c *ChatClient) IsConnected() bool {
	return c.mgr.IsConnected()
}

func (c *ChatClient) Close() {
	c.mgr.Close()
}

func (c *ChatClient) pump() {
	for msg := range c.mgr.Messages() {
		switch msg.Event {
		case EventNewMessage:
			_ = c.bus.Publish(events.ChatMessageEvent{
				BaseEvent: events.BaseEvent{EventType: events.ChatMessageReceived, EventTime: time.Now()},
				RoomID:    msg.Room,
				Payload:   msg.Data,
			})
		case EventPresence:
			_ = c.bus.Publish(events.ChatPresenceEvent{
				BaseEvent: events.BaseEvent{EventType: events.ChatPresenceUpdated, EventTime: time.Now()},
				RoomID:    msg.Room,
				Payload:   msg.Data,
			})
		default:
			c.logger.Debug("Ignoring unhandled chat event", zap.String("event", msg.Event))
		}
	}
}

// publishStateChange adapts manager status transitions into bus events
// so UI surfaces can render a reconnecting indicator instead of errors.
func publishStateChange(bus *events.Bus, channel string) func(oldStatus, newStatus Status, roomID string) {
	return func(oldStatus, newStatus Status, roomID string) {
		_ = bus.Publish(events.ConnectionStateChangedEvent{
			BaseEvent: events.BaseEvent{EventType: events.ConnectionStateChanged, EventTime: time.Now()},
			Channel:   channel,
			RoomID:    roomID,
			OldState:  oldStatus.String(),
			NewState:  newStatus.String(),
		})
	}
}
