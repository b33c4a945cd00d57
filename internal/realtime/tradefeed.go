// =====================================
// File: internal/realtime/tradefeed.go
// =====================================
package realtime

import (
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pumpstream/pumpclient/internal/events"
)

const tradeRoomPrefix = "trades:"

// TradeFeed is the per-token trade tick channel.
type TradeFeed struct {
	mgr    *Manager
	bus    *events.Bus
	logger *zap.Logger
}

func NewTradeFeed(opts Options, bus *events.Bus, logger *zap.Logger) *TradeFeed {
	opts.Name = "trades"
	opts.StatusHook = publishStateChange(bus, "trades")

	f := &TradeFeed{
		mgr:    NewManager(opts, logger),
		bus:    bus,
		logger: logger.Named("trade_feed"),
	}
	go f.pump()
	return f
}

// SubscribeToken follows the trade ticks of one mint. Switching mints
// reconnects; following the same mint twice is a no-op.
func (f *TradeFeed) SubscribeToken(mint, authToken string) {
	f.mgr.ConnectToRoom(tradeRoomPrefix+mint, authToken)
}

func (f *TradeFeed) Unsubscribe() {
	f.mgr.Disconnect(false)
}

func (f *TradeFeed) NotifyForeground() {
	f.mgr.NotifyForeground()
}

func (f *TradeFeed) IsConnected() bool {
	return f.mgr.IsConnected()
}

func (f *TradeFeed) Close() {
	f.mgr.Close()
}

func (f *TradeFeed) pump() {
	for msg := range f.mgr.Messages() {
		switch msg.Event {
		case EventNewMessage, EventStatusUpdate:
			_ = f.bus.Publish(events.TradeTickEvent{
				BaseEvent: events.BaseEvent{EventType: events.TradeTickReceived, EventTime: time.Now()},
				Mint:      strings.TrimPrefix(msg.Room, tradeRoomPrefix),
				Payload:   msg.Data,
			})
		default:
			f.logger.Debug("Ignoring unhandled trade event", zap.String("event", msg.Event))
		}
	}
}
