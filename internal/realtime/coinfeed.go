// ====================================
// File: internal/realtime/coinfeed.go
// ====================================
package realtime

import (
	"time"

	"go.uber.org/zap"

	"github.com/pumpstream/pumpclient/internal/events"
)

// coinDiscoveryRoom is the single global room carrying new-coin and
// coin-update broadcasts.
const coinDiscoveryRoom = "coins"

// CoinFeed is the coin-discovery broadcast channel.
type CoinFeed struct {
	mgr    *Manager
	bus    *events.Bus
	logger *zap.Logger
}

func NewCoinFeed(opts Options, bus *events.Bus, logger *zap.Logger) *CoinFeed {
	opts.Name = "coins"
	opts.StatusHook = publishStateChange(bus, "coins")

	f := &CoinFeed{
		mgr:    NewManager(opts, logger),
		bus:    bus,
		logger: logger.Named("coin_feed"),
	}
	go f.pump()
	return f
}

// Start joins the global discovery room.
func (f *CoinFeed) Start(authToken string) {
	f.mgr.ConnectToRoom(coinDiscoveryRoom, authToken)
}

func (f *CoinFeed) Stop() {
	f.mgr.Disconnect(false)
}

func (f *CoinFeed) NotifyForeground() {
	f.mgr.NotifyForeground()
}

func (f *CoinFeed) IsConnected() bool {
	return f.mgr.IsConnected()
}

func (f *CoinFeed) Close() {
	f.mgr.Close()
}

func (f *CoinFeed) pump() {
	for msg := range f.mgr.Messages() {
		switch msg.Event {
		case EventItemUpdated, EventStatusUpdate:
			_ = f.bus.Publish(events.CoinUpdatedEvent{
				BaseEvent: events.BaseEvent{EventType: events.CoinUpdated, EventTime: time.Now()},
				Event:     msg.Event,
				Payload:   msg.Data,
			})
		case EventItemDeleted:
			_ = f.bus.Publish(events.CoinUpdatedEvent{
				BaseEvent: events.BaseEvent{EventType: events.CoinRemoved, EventTime: time.Now()},
				Event:     msg.Event,
				Payload:   msg.Data,
			})
		default:
			f.logger.Debug("Ignoring unhandled coin event", zap.String("event", msg.Event))
		}
	}
}
