// ===================================
// File: internal/realtime/manager.go
// ===================================
package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

// Status is the connection lifecycle state of a Manager.
type Status int32

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusSubscribing
	StatusBlocked
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusSubscribing:
		return "subscribing"
	case StatusBlocked:
		return "blocked"
	default:
		return "unknown"
	}
}

// Options tunes one Manager instance.
type Options struct {
	// Name identifies the channel in logs and status hooks ("chat").
	Name string
	// URL of the realtime gateway.
	URL string
	// Dial opens the transport. Defaults to DialWebsocket.
	Dial DialFunc

	BackoffBase   time.Duration
	BackoffCap    time.Duration
	BackoffGrowth float64

	// FailureCeiling consecutive transport faults trigger an extended
	// cooldown instead of further immediate retries.
	FailureCeiling      int
	FailureCooldown     time.Duration
	ServerCloseCooldown time.Duration
	ForcedCooldown      time.Duration

	SubscribeTimeout time.Duration
	LeaveTimeout     time.Duration

	MessageBuffer int

	// StatusHook, when set, observes every status transition. Called
	// from the manager's event loop; must not block.
	StatusHook func(oldStatus, newStatus Status, roomID string)
}

func (o Options) withDefaults() Options {
	if o.Dial == nil {
		o.Dial = DialWebsocket
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = 500 * time.Millisecond
	}
	if o.BackoffCap <= 0 {
		o.BackoffCap = 10 * time.Second
	}
	if o.BackoffGrowth <= 1 {
		o.BackoffGrowth = 2.0
	}
	if o.FailureCeiling <= 0 {
		o.FailureCeiling = 3
	}
	if o.FailureCooldown <= 0 {
		o.FailureCooldown = 30 * time.Second
	}
	if o.ServerCloseCooldown <= 0 {
		o.ServerCloseCooldown = 30 * time.Second
	}
	if o.ForcedCooldown <= 0 {
		o.ForcedCooldown = 5 * time.Second
	}
	if o.SubscribeTimeout <= 0 {
		o.SubscribeTimeout = 2 * time.Second
	}
	if o.LeaveTimeout <= 0 {
		o.LeaveTimeout = time.Second
	}
	if o.MessageBuffer <= 0 {
		o.MessageBuffer = 256
	}
	return o
}

// Snapshot is a point-in-time view of manager state, for status
// surfaces and tests.
type Snapshot struct {
	Status              Status
	RoomID              string
	ReconnectAttempts   int
	ConsecutiveFailures int
	BlockedUntil        time.Time
}

type timerKind int

const (
	timerReconnect timerKind = iota
	timerUnblock
	timerSubscribe
)

// Commands and transport events all funnel into one channel consumed
// by the run loop, which exclusively owns all mutable state. That
// single consumer is what upholds the one-pending-timer and
// one-in-flight-subscribe invariants without locks.
type (
	cmdConnect struct {
		roomID string
		token  string
	}
	cmdSend struct {
		event string
		data  json.RawMessage
	}
	cmdDisconnect struct {
		forced bool
		done   chan struct{}
	}
	cmdForeground struct{}
	cmdSnapshot   struct{ reply chan Snapshot }
	cmdShutdown   struct{ done chan struct{} }
	timerFired    struct {
		kind timerKind
		seq  uint64
	}
	dialResult struct {
		gen  int
		conn Conn
		err  error
	}
	frameIn struct {
		gen   int
		frame *Frame
	}
	faultIn struct {
		gen int
		err error
	}
)

// Manager owns a single live duplex connection to one logical room at
// a time. All state transitions happen on its run loop; public methods
// only post commands.
type Manager struct {
	opts   Options
	logger *zap.Logger

	cmds     chan interface{}
	messages chan Message
	done     chan struct{}
	closing  sync.Once

	status atomic.Int32

	// Loop-owned state. Never read or written outside run().
	roomID              string
	authToken           string
	desired             bool
	manualDisconnect    bool
	reconnectAttempts   int
	consecutiveFailures int
	blockedUntil        time.Time
	subscribeInflight   bool
	counterResetPending bool

	gen        int
	conn       Conn
	readerDone chan struct{}

	backoff *backoff.ExponentialBackOff

	reconnectTimer *time.Timer
	reconnectSeq   uint64
	unblockTimer   *time.Timer
	unblockSeq     uint64
	subscribeTimer *time.Timer
	subscribeSeq   uint64
}

// NewManager creates a manager and starts its event loop. Callers must
// Close it on teardown or reconnect timers keep firing against a room
// nobody observes.
func NewManager(opts Options, logger *zap.Logger) *Manager {
	opts = opts.withDefaults()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = opts.BackoffBase
	bo.MaxInterval = opts.BackoffCap
	bo.Multiplier = opts.BackoffGrowth
	// Zero jitter keeps the delay sequence monotonically non-decreasing.
	bo.RandomizationFactor = 0
	bo.Reset()

	m := &Manager{
		opts:     opts,
		logger:   logger.Named("realtime").With(zap.String("channel", opts.Name)),
		cmds:     make(chan interface{}, 64),
		messages: make(chan Message, opts.MessageBuffer),
		done:     make(chan struct{}),
		backoff:  bo,
	}
	go m.run()
	return m
}

// ConnectToRoom requests a connection to the given room. Idempotent:
// connecting again to the current room with the same token is a no-op,
// while a different room triggers one full disconnect/reconnect cycle.
func (m *Manager) ConnectToRoom(roomID, authToken string) {
	m.post(cmdConnect{roomID: roomID, token: authToken})
}

// Send emits a named action on the current room. There is no queueing:
// when the transport is not open the action is logged and dropped, and
// the caller re-issues after reconnect if it still matters.
func (m *Manager) Send(event string, data json.RawMessage) {
	m.post(cmdSend{event: event, data: data})
}

// Disconnect tears the connection down on purpose. A forced disconnect
// additionally arms a short cooldown so reconnect attempts racing the
// teardown are suppressed. Always returns within a bounded time, even
// if the transport never acknowledges the close.
func (m *Manager) Disconnect(forced bool) {
	done := make(chan struct{})
	m.post(cmdDisconnect{forced: forced, done: done})
	select {
	case <-done:
	case <-m.done:
	case <-time.After(m.opts.LeaveTimeout + 2*time.Second):
		m.logger.Warn("Disconnect confirmation timed out")
	}
}

// NotifyForeground is the visibility-regain recovery path: if a room
// is still desired and the manager believes itself disconnected, it
// attempts to reconnect immediately, bypassing backoff. Cooldown
// windows are still honored.
func (m *Manager) NotifyForeground() {
	m.post(cmdForeground{})
}

// IsConnected reports whether the room subscription is fully live.
func (m *Manager) IsConnected() bool {
	return m.Status() == StatusConnected
}

// Status returns the current lifecycle state.
func (m *Manager) Status() Status {
	return Status(m.status.Load())
}

// State returns a snapshot of the manager's internal counters.
func (m *Manager) State() Snapshot {
	reply := make(chan Snapshot, 1)
	m.post(cmdSnapshot{reply: reply})
	select {
	case s := <-reply:
		return s
	case <-m.done:
		return Snapshot{Status: StatusDisconnected}
	}
}

// Messages returns the inbound event stream. The channel is closed on
// Close. Slow consumers lose messages rather than stalling delivery.
func (m *Manager) Messages() <-chan Message {
	return m.messages
}

// Close shuts the manager down: all timers cancelled, transport
// closed, message channel completed. The manager cannot be reused.
func (m *Manager) Close() {
	m.closing.Do(func() {
		done := make(chan struct{})
		m.post(cmdShutdown{done: done})
		select {
		case <-done:
		case <-time.After(m.opts.LeaveTimeout + 2*time.Second):
			m.logger.Warn("Shutdown confirmation timed out")
		}
	})
}

func (m *Manager) post(cmd interface{}) {
	select {
	case m.cmds <- cmd:
	case <-m.done:
	}
}

// run is the single-threaded heart of the manager.
func (m *Manager) run() {
	for raw := range m.cmds {
		switch cmd := raw.(type) {
		case cmdConnect:
			m.handleConnect(cmd.roomID, cmd.token)
		case cmdSend:
			m.handleSend(cmd.event, cmd.data)
		case cmdDisconnect:
			m.handleDisconnect(cmd.forced)
			close(cmd.done)
		case cmdForeground:
			m.handleForeground()
		case cmdSnapshot:
			cmd.reply <- Snapshot{
				Status:              m.Status(),
				RoomID:              m.roomID,
				ReconnectAttempts:   m.reconnectAttempts,
				ConsecutiveFailures: m.consecutiveFailures,
				BlockedUntil:        m.blockedUntil,
			}
		case cmdShutdown:
			m.teardown()
			close(cmd.done)
			close(m.done)
			close(m.messages)
			return
		case timerFired:
			m.handleTimer(cmd)
		case dialResult:
			m.handleDialResult(cmd)
		case frameIn:
			m.handleFrame(cmd)
		case faultIn:
			m.handleFault(cmd)
		}
	}
}

func (m *Manager) handleConnect(roomID, token string) {
	if m.desired && m.roomID == roomID && m.authToken == token {
		switch m.Status() {
		case StatusConnecting, StatusConnected, StatusSubscribing:
			m.logger.Debug("Already connected to room, ignoring duplicate connect",
				zap.String("room_id", roomID))
			return
		}
	}

	if m.conn != nil {
		// Room changes always go through a full disconnect/reconnect
		// cycle; resubscribing in place risks mixed-room delivery. The
		// leave notification below still names the old room.
		if m.roomID != roomID {
			m.logger.Info("Switching rooms",
				zap.String("from", m.roomID), zap.String("to", roomID))
		}
		m.closeConn(true)
	}

	m.roomID = roomID
	m.authToken = token
	m.desired = true
	m.manualDisconnect = false
	m.cancelReconnectTimer()

	if m.isBlocked() {
		m.setStatus(StatusBlocked)
		m.ensureUnblockTimer()
		return
	}
	m.dial()
}

func (m *Manager) handleSend(event string, data json.RawMessage) {
	status := m.Status()
	if m.conn == nil || (status != StatusConnected && status != StatusSubscribing) {
		// At-most-once with no buffering: report and drop.
		m.logger.Warn("Send while disconnected, dropping action",
			zap.String("event", event),
			zap.String("status", status.String()))
		return
	}
	frame := Frame{Event: event, Room: m.roomID, Token: m.authToken, Data: data}
	if err := m.conn.WriteJSON(frame); err != nil {
		m.logger.Warn("Send failed, treating as transport fault",
			zap.String("event", event), zap.Error(err))
		m.onTransportFault()
	}
}

func (m *Manager) handleDisconnect(forced bool) {
	m.manualDisconnect = true
	m.desired = false
	m.cancelReconnectTimer()
	m.cancelSubscribeTimer()

	if forced {
		m.blockedUntil = time.Now().Add(m.opts.ForcedCooldown)
		m.ensureUnblockTimer()
	}

	m.closeConn(true)
	m.setStatus(StatusDisconnected)
}

func (m *Manager) handleForeground() {
	if !m.desired || m.manualDisconnect {
		return
	}
	if m.Status() != StatusDisconnected {
		return
	}
	if m.isBlocked() {
		// Cooldown windows still apply; only backoff is bypassed.
		m.ensureUnblockTimer()
		return
	}
	m.logger.Info("Foreground recovery, reconnecting immediately")
	m.cancelReconnectTimer()
	m.dial()
}

func (m *Manager) handleTimer(t timerFired) {
	switch t.kind {
	case timerReconnect:
		if t.seq != m.reconnectSeq {
			return
		}
		m.reconnectTimer = nil
		if !m.desired || m.manualDisconnect || m.isBlocked() || m.Status() != StatusDisconnected {
			return
		}
		m.dial()
	case timerUnblock:
		if t.seq != m.unblockSeq {
			return
		}
		m.unblockTimer = nil
		m.blockedUntil = time.Time{}
		if m.counterResetPending {
			m.reconnectAttempts = 0
			m.consecutiveFailures = 0
			m.backoff.Reset()
			m.counterResetPending = false
		}
		if m.desired && !m.manualDisconnect {
			m.setStatus(StatusDisconnected)
			m.dial()
		} else if m.Status() == StatusBlocked {
			m.setStatus(StatusDisconnected)
		}
	case timerSubscribe:
		if t.seq != m.subscribeSeq {
			return
		}
		m.subscribeTimer = nil
		if !m.subscribeInflight {
			return
		}
		// The flag self-clears so a lost ack cannot wedge the manager
		// in a permanent subscribing state.
		m.subscribeInflight = false
		m.logger.Warn("Subscribe ack not received within window",
			zap.String("room_id", m.roomID),
			zap.Duration("timeout", m.opts.SubscribeTimeout))
		if m.Status() == StatusSubscribing {
			m.setStatus(StatusConnected)
		}
	}
}

func (m *Manager) dial() {
	if !m.desired || m.manualDisconnect || m.conn != nil {
		return
	}
	m.gen++
	gen := m.gen
	m.setStatus(StatusConnecting)
	m.logger.Debug("Dialing gateway",
		zap.String("room_id", m.roomID),
		zap.Int("attempt", m.reconnectAttempts))

	dial := m.opts.Dial
	url := m.opts.URL
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), dialHandshakeTimeout)
		defer cancel()
		conn, err := dial(ctx, url)
		m.post(dialResult{gen: gen, conn: conn, err: err})
	}()
}

func (m *Manager) handleDialResult(res dialResult) {
	if res.gen != m.gen || !m.desired || m.manualDisconnect {
		// A disconnect or room switch raced the dial; discard.
		if res.conn != nil {
			_ = res.conn.Close()
		}
		return
	}
	if res.err != nil {
		m.logger.Warn("Gateway dial failed", zap.Error(res.err))
		m.setStatus(StatusDisconnected)
		m.onTransportFault()
		return
	}

	m.conn = res.conn
	m.readerDone = make(chan struct{})
	go m.readPump(res.gen, res.conn, m.readerDone)
	m.sendSubscribe()
}

// sendSubscribe emits the subscribe action for the desired room. The
// in-flight flag guarantees at most one outstanding subscribe.
func (m *Manager) sendSubscribe() {
	if m.subscribeInflight {
		m.logger.Debug("Subscribe already in flight, skipping")
		return
	}
	frame := Frame{Event: ActionSubscribe, Room: m.roomID, Token: m.authToken}
	if err := m.conn.WriteJSON(frame); err != nil {
		m.logger.Warn("Subscribe action failed", zap.Error(err))
		m.onTransportFault()
		return
	}
	m.subscribeInflight = true
	m.setStatus(StatusSubscribing)
	m.armSubscribeTimer()
}

func (m *Manager) handleFrame(f frameIn) {
	if f.gen != m.gen {
		return
	}

	if f.frame.Event == EventSubscribed {
		m.subscribeInflight = false
		m.cancelSubscribeTimer()
		m.reconnectAttempts = 0
		m.consecutiveFailures = 0
		m.backoff.Reset()
		m.setStatus(StatusConnected)
		m.logger.Info("Subscribed to room", zap.String("room_id", m.roomID))
		return
	}

	msg := Message{Event: f.frame.Event, Room: f.frame.Room, Data: f.frame.Data}
	select {
	case m.messages <- msg:
	default:
		m.logger.Warn("Message buffer full, dropping inbound event",
			zap.String("event", msg.Event))
	}
}

func (m *Manager) handleFault(f faultIn) {
	if f.gen != m.gen {
		return
	}
	m.closeConn(false)

	if m.manualDisconnect || !m.desired {
		m.setStatus(StatusDisconnected)
		return
	}

	if IsServerClose(f.err) {
		// The server told us to go away; honor it with a full cooldown
		// before a reconnect is even considered.
		m.logger.Warn("Server-initiated disconnect, entering cooldown",
			zap.Error(f.err),
			zap.Duration("cooldown", m.opts.ServerCloseCooldown))
		m.blockedUntil = time.Now().Add(m.opts.ServerCloseCooldown)
		m.setStatus(StatusBlocked)
		m.ensureUnblockTimer()
		return
	}

	m.logger.Warn("Transport fault", zap.Error(f.err))
	m.setStatus(StatusDisconnected)
	m.onTransportFault()
}

// onTransportFault counts a failure and either schedules the next
// backoff attempt or, at the ceiling, stops hammering a dead link for
// a full cooldown after which both counters reset.
func (m *Manager) onTransportFault() {
	if m.conn != nil {
		m.closeConn(false)
		m.setStatus(StatusDisconnected)
	}
	m.consecutiveFailures++
	if m.consecutiveFailures >= m.opts.FailureCeiling {
		m.logger.Warn("Consecutive failure ceiling reached, entering cooldown",
			zap.Int("failures", m.consecutiveFailures),
			zap.Duration("cooldown", m.opts.FailureCooldown))
		m.blockedUntil = time.Now().Add(m.opts.FailureCooldown)
		m.counterResetPending = true
		m.setStatus(StatusBlocked)
		m.cancelReconnectTimer()
		m.ensureUnblockTimer()
		return
	}
	m.scheduleReconnect()
}

func (m *Manager) scheduleReconnect() {
	if !m.desired || m.manualDisconnect || m.isBlocked() {
		return
	}
	m.cancelReconnectTimer()

	delay := m.backoff.NextBackOff()
	m.reconnectAttempts++
	seq := m.reconnectSeq
	m.logger.Info("Scheduling reconnect",
		zap.Duration("delay", delay),
		zap.Int("attempt", m.reconnectAttempts))
	m.reconnectTimer = time.AfterFunc(delay, func() {
		m.post(timerFired{kind: timerReconnect, seq: seq})
	})
}

func (m *Manager) cancelReconnectTimer() {
	m.reconnectSeq++
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
}

func (m *Manager) armSubscribeTimer() {
	m.cancelSubscribeTimer()
	seq := m.subscribeSeq
	m.subscribeTimer = time.AfterFunc(m.opts.SubscribeTimeout, func() {
		m.post(timerFired{kind: timerSubscribe, seq: seq})
	})
}

func (m *Manager) cancelSubscribeTimer() {
	m.subscribeSeq++
	if m.subscribeTimer != nil {
		m.subscribeTimer.Stop()
		m.subscribeTimer = nil
	}
}

func (m *Manager) ensureUnblockTimer() {
	remaining := time.Until(m.blockedUntil)
	if remaining <= 0 {
		m.blockedUntil = time.Time{}
		return
	}
	if m.unblockTimer != nil {
		return
	}
	seq := m.unblockSeq
	m.unblockTimer = time.AfterFunc(remaining, func() {
		m.post(timerFired{kind: timerUnblock, seq: seq})
	})
}

func (m *Manager) isBlocked() bool {
	return time.Now().Before(m.blockedUntil)
}

// closeConn releases the transport. When graceful and the subscription
// is live, a leave notification is emitted first and the reader is
// given a bounded window to drain; otherwise the close is immediate.
// Bumping gen invalidates any in-flight frames from the old transport.
func (m *Manager) closeConn(graceful bool) {
	m.cancelSubscribeTimer()
	m.subscribeInflight = false

	if m.conn == nil {
		m.gen++
		return
	}

	if graceful && m.Status() == StatusConnected {
		frame := Frame{Event: ActionLeave, Room: m.roomID, Token: m.authToken}
		if err := m.conn.WriteJSON(frame); err != nil {
			m.logger.Debug("Leave notification failed", zap.Error(err))
		}
	}

	_ = m.conn.Close()
	if graceful && m.readerDone != nil {
		select {
		case <-m.readerDone:
		case <-time.After(m.opts.LeaveTimeout):
			m.logger.Debug("Reader did not drain in time, force-closing")
		}
	}

	m.conn = nil
	m.readerDone = nil
	m.gen++
}

func (m *Manager) teardown() {
	m.desired = false
	m.manualDisconnect = true
	m.cancelReconnectTimer()
	m.cancelSubscribeTimer()
	if m.unblockTimer != nil {
		m.unblockTimer.Stop()
		m.unblockTimer = nil
	}
	m.unblockSeq++
	m.closeConn(false)
	m.setStatus(StatusDisconnected)
}

func (m *Manager) setStatus(newStatus Status) {
	oldStatus := Status(m.status.Swap(int32(newStatus)))
	if oldStatus == newStatus {
		return
	}
	m.logger.Debug("Status transition",
		zap.String("from", oldStatus.String()),
		zap.String("to", newStatus.String()))
	if m.opts.StatusHook != nil {
		m.opts.StatusHook(oldStatus, newStatus, m.roomID)
	}
}

// readPump pushes frames from one transport into the run loop in
// delivery order. It exits when the transport errors or closes.
func (m *Manager) readPump(gen int, conn Conn, done chan struct{}) {
	defer close(done)
	for {
		frame, err := conn.ReadFrame()
		if err != nil {
			m.post(faultIn{gen: gen, err: err})
			return
		}
		m.post(frameIn{gen: gen, frame: frame})
	}
}
