package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeConn is a scripted transport. The test plays the gateway by
// pushing frames or failing the read side.
type fakeConn struct {
	mu      sync.Mutex
	writes  []Frame
	inbound chan *Frame
	closed  chan struct{}
	once    sync.Once
	readErr error
	autoAck bool
}

func newFakeConn(autoAck bool) *fakeConn {
	return &fakeConn{
		inbound: make(chan *Frame, 16),
		closed:  make(chan struct{}),
		autoAck: autoAck,
	}
}

func (c *fakeConn) WriteJSON(v interface{}) error {
	frame, ok := v.(Frame)
	if !ok {
		return fmt.Errorf("unexpected write type %T", v)
	}
	c.mu.Lock()
	c.writes = append(c.writes, frame)
	c.mu.Unlock()

	if c.autoAck && frame.Event == ActionSubscribe {
		c.push(&Frame{Event: EventSubscribed, Room: frame.Room})
	}
	return nil
}

func (c *fakeConn) ReadFrame() (*Frame, error) {
	select {
	case f := <-c.inbound:
		return f, nil
	case <-c.closed:
		if c.readErr != nil {
			return nil, c.readErr
		}
		return nil, io.ErrClosedPipe
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) push(f *Frame) {
	select {
	case c.inbound <- f:
	case <-c.closed:
	}
}

// fail terminates the read side with the given error, simulating a
// dropped or server-closed connection.
func (c *fakeConn) fail(err error) {
	c.readErr = err
	c.Close()
}

func (c *fakeConn) sentEvents() []Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Frame, len(c.writes))
	copy(out, c.writes)
	return out
}

func (c *fakeConn) countEvent(event string) int {
	n := 0
	for _, f := range c.sentEvents() {
		if f.Event == event {
			n++
		}
	}
	return n
}

type fakeDialer struct {
	mu        sync.Mutex
	conns     []*fakeConn
	dialTimes []time.Time
	failFirst int
	autoAck   bool
}

func (d *fakeDialer) dial(_ context.Context, _ string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dialTimes = append(d.dialTimes, time.Now())
	if len(d.dialTimes) <= d.failFirst {
		return nil, errors.New("connection refused")
	}
	conn := newFakeConn(d.autoAck)
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.dialTimes)
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.conns) {
		return nil
	}
	return d.conns[i]
}

func (d *fakeDialer) gaps() []time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []time.Duration
	for i := 1; i < len(d.dialTimes); i++ {
		out = append(out, d.dialTimes[i].Sub(d.dialTimes[i-1]))
	}
	return out
}

func testOptions(d *fakeDialer) Options {
	return Options{
		Name:                "test",
		URL:                 "ws://gateway.test",
		Dial:                d.dial,
		BackoffBase:         10 * time.Millisecond,
		BackoffCap:          80 * time.Millisecond,
		BackoffGrowth:       2.0,
		FailureCeiling:      3,
		FailureCooldown:     250 * time.Millisecond,
		ServerCloseCooldown: 250 * time.Millisecond,
		ForcedCooldown:      200 * time.Millisecond,
		SubscribeTimeout:    60 * time.Millisecond,
		LeaveTimeout:        50 * time.Millisecond,
	}
}

func newTestManager(t *testing.T, d *fakeDialer) *Manager {
	t.Helper()
	m := NewManager(testOptions(d), zap.NewNop())
	t.Cleanup(m.Close)
	return m
}

func waitConnected(t *testing.T, m *Manager) {
	t.Helper()
	require.Eventually(t, m.IsConnected, 2*time.Second, 2*time.Millisecond)
}

func TestConnectToRoom_Idempotent(t *testing.T) {
	d := &fakeDialer{autoAck: true}
	m := newTestManager(t, d)

	m.ConnectToRoom("room-a", "token-1")
	waitConnected(t, m)

	m.ConnectToRoom("room-a", "token-1")
	m.ConnectToRoom("room-a", "token-1")

	// Give any erroneous reconnect a chance to happen.
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, 1, d.dialCount(), "duplicate connect must not open a new transport")
	assert.Equal(t, 1, d.conn(0).countEvent(ActionSubscribe), "duplicate connect must not resubscribe")
	assert.True(t, m.IsConnected())
}

func TestConnectToRoom_SwitchesRooms(t *testing.T) {
	d := &fakeDialer{autoAck: true}
	m := newTestManager(t, d)

	m.ConnectToRoom("room-a", "token-1")
	waitConnected(t, m)

	m.ConnectToRoom("room-b", "token-1")
	require.Eventually(t, func() bool {
		return m.IsConnected() && m.State().RoomID == "room-b"
	}, 2*time.Second, 2*time.Millisecond)

	assert.Equal(t, 2, d.dialCount(), "room switch is exactly one disconnect/reconnect cycle")

	first := d.conn(0)
	assert.Equal(t, 1, first.countEvent(ActionLeave), "graceful leave for the old room")
	for _, f := range first.sentEvents() {
		if f.Event == ActionLeave {
			assert.Equal(t, "room-a", f.Room)
		}
	}

	second := d.conn(1)
	require.NotNil(t, second)
	subs := second.sentEvents()
	require.NotEmpty(t, subs)
	assert.Equal(t, ActionSubscribe, subs[0].Event)
	assert.Equal(t, "room-b", subs[0].Room)
}

func TestReconnect_BackoffMonotonic(t *testing.T) {
	d := &fakeDialer{autoAck: true, failFirst: 2}
	m := newTestManager(t, d)

	m.ConnectToRoom("room-a", "token-1")
	waitConnected(t, m)

	assert.Equal(t, 3, d.dialCount())

	snap := m.State()
	assert.Equal(t, 0, snap.ReconnectAttempts, "attempts reset on successful connect")
	assert.Equal(t, 0, snap.ConsecutiveFailures)

	gaps := d.gaps()
	require.Len(t, gaps, 2)
	// Scheduling overhead only ever adds delay, so growth stays
	// observable: the second gap must not undercut the first.
	assert.GreaterOrEqual(t, gaps[1]+5*time.Millisecond, gaps[0],
		"backoff delays must be non-decreasing: %v", gaps)
}

func TestReconnect_FailureCeilingCooldown(t *testing.T) {
	d := &fakeDialer{failFirst: 1 << 30}
	m := newTestManager(t, d)

	m.ConnectToRoom("room-a", "token-1")

	require.Eventually(t, func() bool {
		return m.State().Status == StatusBlocked
	}, 2*time.Second, 2*time.Millisecond)

	dialsAtBlock := d.dialCount()
	assert.Equal(t, 3, dialsAtBlock, "ceiling of 3 consecutive failures")

	// One cooldown, not three: no attempts while blocked.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, dialsAtBlock, d.dialCount(), "no dials during cooldown")
	assert.Equal(t, StatusBlocked, m.State().Status)

	// After the cooldown both counters reset and attempts resume.
	require.Eventually(t, func() bool {
		return d.dialCount() > dialsAtBlock
	}, 2*time.Second, 2*time.Millisecond)
}

func TestServerClose_EntersCooldownThenResubscribes(t *testing.T) {
	d := &fakeDialer{autoAck: true}
	m := newTestManager(t, d)

	m.ConnectToRoom("room-a", "token-1")
	waitConnected(t, m)

	d.conn(0).fail(&ServerCloseError{Code: 1000, Text: "go away"})

	require.Eventually(t, func() bool {
		return m.State().Status == StatusBlocked
	}, 2*time.Second, 2*time.Millisecond)

	// Backoff is not consulted during a server-close cooldown.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, d.dialCount(), "no reconnect inside server cooldown")

	waitConnected(t, m)
	assert.Equal(t, 2, d.dialCount())

	second := d.conn(1)
	require.NotNil(t, second)
	assert.Equal(t, 1, second.countEvent(ActionSubscribe),
		"reconnect path re-issues the subscribe exactly once")
}

func TestTransportFault_ReconnectsAndResubscribes(t *testing.T) {
	d := &fakeDialer{autoAck: true}
	m := newTestManager(t, d)

	m.ConnectToRoom("room-a", "token-1")
	waitConnected(t, m)

	d.conn(0).fail(io.ErrUnexpectedEOF)

	require.Eventually(t, func() bool {
		return m.IsConnected() && d.dialCount() == 2
	}, 2*time.Second, 2*time.Millisecond)

	snap := m.State()
	assert.Equal(t, 0, snap.ConsecutiveFailures, "counters reset after healing")
	assert.Equal(t, 1, d.conn(1).countEvent(ActionSubscribe))
}

func TestDisconnect_AlwaysResolves(t *testing.T) {
	d := &fakeDialer{autoAck: true}
	m := newTestManager(t, d)

	m.ConnectToRoom("room-a", "token-1")
	waitConnected(t, m)

	start := time.Now()
	m.Disconnect(false)
	assert.Less(t, time.Since(start), time.Second, "disconnect must resolve within a bounded time")

	assert.Equal(t, StatusDisconnected, m.Status())
	assert.Equal(t, 1, d.conn(0).countEvent(ActionLeave))

	// Manual disconnect never triggers the fault-path reconnect.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, d.dialCount())
}

func TestDisconnect_ForcedCooldownSuppressesReconnect(t *testing.T) {
	d := &fakeDialer{autoAck: true}
	m := newTestManager(t, d)

	m.ConnectToRoom("room-a", "token-1")
	waitConnected(t, m)

	m.Disconnect(true)

	// A connect racing the forced teardown is suppressed until the
	// cooldown passes, then honored.
	m.ConnectToRoom("room-a", "token-1")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, d.dialCount(), "reconnect suppressed inside forced cooldown")
	assert.Equal(t, StatusBlocked, m.State().Status)

	waitConnected(t, m)
	assert.Equal(t, 2, d.dialCount())
}

func TestSubscribeTimeout_SelfClears(t *testing.T) {
	d := &fakeDialer{autoAck: false}
	m := newTestManager(t, d)

	m.ConnectToRoom("room-a", "token-1")

	require.Eventually(t, func() bool {
		return m.Status() == StatusSubscribing
	}, 2*time.Second, 2*time.Millisecond)

	// No ack ever arrives; the in-flight flag clears on its own
	// instead of wedging the manager in Subscribing forever.
	require.Eventually(t, func() bool {
		return m.Status() == StatusConnected
	}, 2*time.Second, 2*time.Millisecond)
}

func TestMessages_DeliveredInTransportOrder(t *testing.T) {
	d := &fakeDialer{autoAck: true}
	m := newTestManager(t, d)

	m.ConnectToRoom("room-a", "token-1")
	waitConnected(t, m)

	for i := 0; i < 5; i++ {
		payload, _ := json.Marshal(map[string]int{"seq": i})
		d.conn(0).push(&Frame{Event: EventNewMessage, Room: "room-a", Data: payload})
	}

	for i := 0; i < 5; i++ {
		select {
		case msg := <-m.Messages():
			var got struct {
				Seq int `json:"seq"`
			}
			require.NoError(t, json.Unmarshal(msg.Data, &got))
			assert.Equal(t, i, got.Seq, "messages must arrive in transport order")
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for message %d", i)
		}
	}
}

func TestNotifyForeground_BypassesBackoff(t *testing.T) {
	d := &fakeDialer{autoAck: true, failFirst: 1}
	opts := testOptions(d)
	// A long enough base that the scheduled retry cannot be what
	// reconnects us below.
	opts.BackoffBase = 5 * time.Second
	opts.BackoffCap = 10 * time.Second
	m := NewManager(opts, zap.NewNop())
	t.Cleanup(m.Close)

	m.ConnectToRoom("room-a", "token-1")
	require.Eventually(t, func() bool {
		return d.dialCount() == 1 && m.Status() == StatusDisconnected
	}, 2*time.Second, 2*time.Millisecond)

	m.NotifyForeground()
	require.Eventually(t, m.IsConnected, time.Second, 2*time.Millisecond)
	assert.Equal(t, 2, d.dialCount())
}

func TestSend_WhileDisconnectedIsDropped(t *testing.T) {
	d := &fakeDialer{autoAck: true}
	m := newTestManager(t, d)

	m.Send(ActionMessage, json.RawMessage(`{"text":"hello"}`))
	time.Sleep(20 * time.Millisecond)

	assert.Zero(t, d.dialCount(), "send never opens a transport on its own")
	assert.False(t, m.IsConnected())
}

func TestClose_CompletesMessageStream(t *testing.T) {
	d := &fakeDialer{autoAck: true}
	m := NewManager(testOptions(d), zap.NewNop())

	m.ConnectToRoom("room-a", "token-1")
	waitConnected(t, m)

	m.Close()

	_, open := <-m.Messages()
	assert.False(t, open, "message channel completes on teardown")
	assert.Equal(t, StatusDisconnected, m.Status())

	// Posting after close must not panic or dial.
	m.ConnectToRoom("room-b", "token-1")
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, d.dialCount())
}
