package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu         sync.Mutex
	handshakes []subscribeRequest

	incoming chan *Notification
	dead     chan struct{}
	deadOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		incoming: make(chan *Notification, 16),
		dead:     make(chan struct{}),
	}
}

func (c *fakeConn) WriteJSON(v any) error {
	if req, ok := v.(subscribeRequest); ok {
		c.mu.Lock()
		c.handshakes = append(c.handshakes, req)
		c.mu.Unlock()
	}
	return nil
}

func (c *fakeConn) ReadJSON(v any) error {
	select {
	case n := <-c.incoming:
		*(v.(*Notification)) = *n
		return nil
	case <-c.dead:
		return errors.New("connection reset")
	}
}

func (c *fakeConn) WriteControl(int, []byte, time.Time) error { return nil }
func (c *fakeConn) SetReadDeadline(time.Time) error           { return nil }
func (c *fakeConn) SetPongHandler(func(string) error)         {}

func (c *fakeConn) Close() error {
	c.deadOnce.Do(func() { close(c.dead) })
	return nil
}

func (c *fakeConn) push(t *testing.T, typ string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	c.incoming <- &Notification{Type: typ, Payload: raw}
}

func (c *fakeConn) channels() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.handshakes))
	for i, h := range c.handshakes {
		out[i] = h.Channel
	}
	return out
}

// scriptedDialer hands out connections (or errors) in order; the last entry
// repeats forever.
type scriptedDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	errs  []error
	calls int
}

func (d *scriptedDialer) Dial(context.Context, string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	i := d.calls
	d.calls++
	if i >= len(d.conns) {
		i = len(d.conns) - 1
	}
	if d.errs[i] != nil {
		return nil, d.errs[i]
	}
	return d.conns[i], nil
}

func (d *scriptedDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func testBridgeConfig() Config {
	cfg := DefaultConfig()
	cfg.URL = "ws://observer.test/events"
	cfg.Policy = ReconnectPolicy{MaxAttempts: 3, Delay: time.Millisecond}
	return cfg
}

func startBridge(t *testing.T, dialer Dialer) *Bridge {
	t.Helper()
	b := New(testBridgeConfig(), zerolog.Nop(), dialer)
	require.NoError(t, b.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = b.Stop(ctx)
	})
	return b
}

func TestBridge_Subscribe_HandshakesAndDelivers(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	dialer := &scriptedDialer{conns: []*fakeConn{conn}, errs: []error{nil}}
	b := startBridge(t, dialer)

	connected := make(chan struct{}, 1)
	got := make(chan *Notification, 1)
	require.NoError(t, b.Subscribe("blocks",
		func(context.Context) { connected <- struct{}{} },
		func(_ context.Context, n *Notification) { got <- n },
	))

	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("connected callback not invoked")
	}
	assert.Equal(t, []string{"blocks"}, conn.channels())

	conn.push(t, "block_proposed", map[string]any{"number": 7})
	select {
	case n := <-got:
		assert.Equal(t, "block_proposed", n.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("notification not delivered")
	}
}

func TestBridge_Reconnect_RedeclaresChannelAndSignalsConnected(t *testing.T) {
	t.Parallel()

	first := newFakeConn()
	second := newFakeConn()
	dialer := &scriptedDialer{conns: []*fakeConn{first, second}, errs: []error{nil, nil}}
	b := startBridge(t, dialer)

	connects := make(chan struct{}, 4)
	require.NoError(t, b.Subscribe("blocks",
		func(context.Context) { connects <- struct{}{} },
		func(context.Context, *Notification) {},
	))

	<-connects
	first.Close() // server drops the connection

	select {
	case <-connects:
	case <-time.After(2 * time.Second):
		t.Fatal("no reconnect")
	}
	assert.Equal(t, []string{"blocks"}, second.channels())
}

func TestBridge_ExhaustedReconnects_ReportsFault(t *testing.T) {
	t.Parallel()

	dialErr := errors.New("connection refused")
	dialer := &scriptedDialer{conns: []*fakeConn{nil}, errs: []error{dialErr}}

	b := startBridge(t, dialer)
	fault := make(chan error, 1)
	b.SetFaultHandler(func(channel string, err error) {
		assert.Equal(t, "blocks", channel)
		fault <- err
	})

	require.NoError(t, b.Subscribe("blocks", nil, func(context.Context, *Notification) {}))

	select {
	case err := <-fault:
		assert.ErrorIs(t, err, ErrConnectivity)
	case <-time.After(5 * time.Second):
		t.Fatal("fault handler not invoked")
	}
	assert.Equal(t, 3, dialer.dialCount())
}

func TestBridge_AttemptBudget_ResetsAfterSuccessfulConnect(t *testing.T) {
	t.Parallel()

	dialErr := errors.New("connection refused")
	stable := newFakeConn()
	// Two failures, a success, then more failures: the post-success failures
	// get a fresh budget instead of inheriting the first two.
	dialer := &scriptedDialer{
		conns: []*fakeConn{nil, nil, stable, nil},
		errs:  []error{dialErr, dialErr, nil, dialErr},
	}
	b := startBridge(t, dialer)

	fault := make(chan error, 1)
	b.SetFaultHandler(func(_ string, err error) { fault <- err })

	connects := make(chan struct{}, 1)
	require.NoError(t, b.Subscribe("blocks",
		func(context.Context) { connects <- struct{}{} },
		func(context.Context, *Notification) {},
	))

	select {
	case <-connects:
	case <-time.After(2 * time.Second):
		t.Fatal("no connect after transient failures")
	}
	stable.Close()

	select {
	case err := <-fault:
		assert.ErrorIs(t, err, ErrConnectivity)
	case <-time.After(5 * time.Second):
		t.Fatal("fault handler not invoked")
	}
	// 2 failures + success + a full fresh budget of 3.
	assert.Equal(t, 6, dialer.dialCount())
}

func TestBridge_UntypedNotification_IsDropped(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	dialer := &scriptedDialer{conns: []*fakeConn{conn}, errs: []error{nil}}
	b := startBridge(t, dialer)

	got := make(chan *Notification, 2)
	require.NoError(t, b.Subscribe("blocks", nil,
		func(_ context.Context, n *Notification) { got <- n },
	))

	conn.incoming <- &Notification{} // no type
	conn.push(t, "block_proposed", map[string]any{})

	select {
	case n := <-got:
		assert.Equal(t, "block_proposed", n.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("typed notification not delivered")
	}
	assert.Empty(t, got)
}

func TestBridge_Subscribe_BeforeStart_Fails(t *testing.T) {
	t.Parallel()

	b := New(testBridgeConfig(), zerolog.Nop(), &scriptedDialer{conns: []*fakeConn{nil}, errs: []error{errors.New("x")}})
	err := b.Subscribe("blocks", nil, func(context.Context, *Notification) {})
	require.Error(t, err)
}

func TestBridge_Stop_TerminatesLoops(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	dialer := &scriptedDialer{conns: []*fakeConn{conn}, errs: []error{nil}}

	b := New(testBridgeConfig(), zerolog.Nop(), dialer)
	require.NoError(t, b.Start(context.Background()))
	require.NoError(t, b.Subscribe("blocks", nil, func(context.Context, *Notification) {}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, b.Stop(ctx))
}
