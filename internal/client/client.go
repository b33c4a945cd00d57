// ================================
// File: internal/client/client.go
// ================================

// Package client assembles the full pump.fun client: realtime feeds,
// history API, chain access and swap execution behind one facade.
package client

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pumpstream/pumpclient/internal/api"
	"github.com/pumpstream/pumpclient/internal/chain"
	"github.com/pumpstream/pumpclient/internal/config"
	"github.com/pumpstream/pumpclient/internal/events"
	"github.com/pumpstream/pumpclient/internal/logger"
	"github.com/pumpstream/pumpclient/internal/realtime"
	"github.com/pumpstream/pumpclient/internal/trade"
	"github.com/pumpstream/pumpclient/internal/wallet"
)

const shutdownTimeout = 10 * time.Second

// Client owns every long-lived component. All realtime channels share
// one bus; consumers subscribe there.
type Client struct {
	cfg *config.Config
	log *logger.Logger
	bus *events.Bus

	Chat   *realtime.ChatClient
	Trades *realtime.TradeFeed
	Coins  *realtime.CoinFeed

	Chain   *chain.Client
	History *api.Client
	Swaps   *trade.Executor

	wallet     *wallet.Wallet
	shutdownCh chan os.Signal
}

// New builds and wires all components from configuration. Nothing
// connects yet; Run and the Join/Watch methods do that.
func New(cfg *config.Config) (*Client, error) {
	log, err := logger.New(&logger.Config{
		LogFile:     cfg.LogFile,
		MaxSize:     100,
		MaxAge:      7,
		MaxBackups:  3,
		Compress:    true,
		Development: cfg.DebugLogging,
	})
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	bus := events.NewBus(log.Logger, 256)

	chainClient, err := chain.NewClient(cfg.RPCList, log.Logger)
	if err != nil {
		return nil, fmt.Errorf("create chain client: %w", err)
	}

	c := &Client{
		cfg:        cfg,
		log:        log,
		bus:        bus,
		Chain:      chainClient,
		Chat:       realtime.NewChatClient(realtimeOptions(cfg, cfg.ChatGatewayURL), bus, log.Logger),
		Trades:     realtime.NewTradeFeed(realtimeOptions(cfg, cfg.TradeGatewayURL), bus, log.Logger),
		Coins:      realtime.NewCoinFeed(realtimeOptions(cfg, cfg.CoinGatewayURL), bus, log.Logger),
		shutdownCh: make(chan os.Signal, 1),
	}

	if cfg.APIBaseURL != "" {
		c.History = api.NewClient(cfg.APIBaseURL, cfg.AuthToken, log.Logger)
	}

	if cfg.PrivateKey != "" {
		w, err := wallet.New(cfg.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("load wallet: %w", err)
		}
		c.wallet = w
		c.Swaps = trade.NewExecutor(chainClient, w, bus, trade.Options{
			SlippageBps:    uint64(cfg.SlippageBps),
			PriorityFeeSol: cfg.PriorityFeeSol,
			ComputeUnits:   cfg.ComputeUnits,
		}, log.Logger)
		log.Info("Wallet loaded", zap.String("address", w.String()))
	} else {
		log.Info("No private key configured, running in read-only mode")
	}

	return c, nil
}

// realtimeOptions maps config knobs onto one channel's manager options.
// Per-cause cooldowns beyond the shared window keep their defaults.
func realtimeOptions(cfg *config.Config, url string) realtime.Options {
	cooldown := time.Duration(cfg.CooldownSeconds) * time.Second
	return realtime.Options{
		URL:                 url,
		BackoffBase:         time.Duration(cfg.ReconnectBaseMs) * time.Millisecond,
		BackoffCap:          time.Duration(cfg.ReconnectCapMs) * time.Millisecond,
		FailureCeiling:      cfg.FailureCeiling,
		FailureCooldown:     cooldown,
		ServerCloseCooldown: cooldown,
		SubscribeTimeout:    time.Duration(cfg.SubscribeTimeoutMs) * time.Millisecond,
	}
}

// Bus exposes the event bus for subscribing to feed and swap events.
func (c *Client) Bus() *events.Bus {
	return c.bus
}

// JoinChat connects the chat channel to a token's room.
func (c *Client) JoinChat(roomID string) {
	c.Chat.Join(roomID, c.cfg.AuthToken)
}

// WatchTrades subscribes the trade-tick feed to a mint.
func (c *Client) WatchTrades(mint string) {
	c.Trades.SubscribeToken(mint, c.cfg.AuthToken)
}

// NotifyForeground tells every channel the app regained visibility so
// dropped connections retry immediately.
func (c *Client) NotifyForeground() {
	c.Chat.NotifyForeground()
	c.Trades.NotifyForeground()
	c.Coins.NotifyForeground()
}

// Run starts the coin-discovery feed and blocks until a shutdown
// signal or ctx cancellation, then tears everything down.
func (c *Client) Run(ctx context.Context) error {
	signal.Notify(c.shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	c.log.Info("Starting pump client")
	c.Coins.Start(c.cfg.AuthToken)

	select {
	case sig := <-c.shutdownCh:
		c.log.Info("Signal received", zap.String("signal", sig.String()))
	case <-ctx.Done():
		c.log.Info("Context cancelled")
	}

	return c.Shutdown()
}

// Shutdown disconnects every realtime channel and stops the bus. Every
// channel gets its graceful disconnect even if another one is slow.
func (c *Client) Shutdown() error {
	c.log.Info("Shutting down pump client")

	g := new(errgroup.Group)
	g.Go(func() error {
		c.Chat.Leave()
		c.Chat.Close()
		return nil
	})
	g.Go(func() error {
		c.Trades.Unsubscribe()
		c.Trades.Close()
		return nil
	})
	g.Go(func() error {
		c.Coins.Stop()
		c.Coins.Close()
		return nil
	})
	_ = g.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := c.bus.Shutdown(ctx); err != nil {
		c.log.Warn("Event bus shutdown incomplete", zap.Error(err))
	}

	return c.log.Sync()
}
