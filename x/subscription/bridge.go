// Package subscription maintains resilient streaming connections to the
// chain observer's notification channels. The bridge re-declares its
// channels after every reconnect but never replays missed messages; gap
// recovery belongs to the synchronizer, which the caller triggers from the
// connected callback.
package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// ErrConnectivity indicates the reconnect budget was exhausted. Non-fatal:
// the caller retries on a longer timer.
var ErrConnectivity = errors.New("subscription: reconnect attempts exhausted")

// Notification is the observer's wire envelope.
type Notification struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// subscribeRequest is the declarative handshake sent on every (re)connect.
type subscribeRequest struct {
	Action  string `json:"action"`
	Channel string `json:"channel"`
}

// Conn is the slice of a websocket connection the bridge uses.
// *websocket.Conn satisfies it.
type Conn interface {
	WriteJSON(v any) error
	ReadJSON(v any) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Dialer opens a connection to the observer endpoint.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

type wsDialer struct{}

func (wsDialer) Dial(ctx context.Context, url string) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// OnConnected runs after the channel handshake on every connect and
// reconnect. Callers use it to trigger gap recovery.
type OnConnected func(ctx context.Context)

// OnMessage receives each decoded notification.
type OnMessage func(ctx context.Context, n *Notification)

// OnFault receives terminal subscription errors (ErrConnectivity).
type OnFault func(channel string, err error)

// Config configures a Bridge.
type Config struct {
	// URL is the observer's websocket endpoint.
	URL string `mapstructure:"url" yaml:"url"`
	// Policy is the shared reconnect policy.
	Policy ReconnectPolicy `mapstructure:"reconnect" yaml:"reconnect"`
	// KeepaliveInterval is the ping cadence on open connections.
	KeepaliveInterval time.Duration `mapstructure:"keepalive_interval" yaml:"keepalive_interval"`
	// KeepaliveTimeout is how long a pong may take before the connection is
	// treated as dead.
	KeepaliveTimeout time.Duration `mapstructure:"keepalive_timeout" yaml:"keepalive_timeout"`
}

// DefaultConfig returns production keepalive and reconnect settings.
func DefaultConfig() Config {
	return Config{
		Policy:            DefaultReconnectPolicy(),
		KeepaliveInterval: 15 * time.Second,
		KeepaliveTimeout:  10 * time.Second,
	}
}

// Bridge owns the subscriptions.
type Bridge struct {
	cfg     Config
	log     zerolog.Logger
	dialer  Dialer
	onFault OnFault

	mu      sync.Mutex
	runCtx  context.Context
	cancel  context.CancelFunc
	started bool
	wg      sync.WaitGroup
}

// New creates a Bridge. A nil dialer selects the websocket default.
func New(cfg Config, logger zerolog.Logger, dialer Dialer) *Bridge {
	if dialer == nil {
		dialer = wsDialer{}
	}
	return &Bridge{
		cfg:    cfg,
		log:    logger.With().Str("component", "subscription").Logger(),
		dialer: dialer,
	}
}

// SetFaultHandler registers the handler for terminal subscription errors.
func (b *Bridge) SetFaultHandler(h OnFault) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onFault = h
}

// Start establishes the bridge lifetime context. Subscriptions opened before
// Start are not supported.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.started = true
	b.runCtx = runCtx
	return nil
}

// Stop tears down every subscription.
func (b *Bridge) Stop(ctx context.Context) error {
	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return nil
	}
	cancel := b.cancel
	b.started = false
	b.cancel = nil
	b.mu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("subscription: stop: %w", ctx.Err())
	}
}

// Subscribe opens a persistent, self-healing connection for one channel.
// It returns immediately; the connection loop runs until the bridge stops or
// the reconnect budget is exhausted.
func (b *Bridge) Subscribe(channel string, onConnected OnConnected, onMessage OnMessage) error {
	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return fmt.Errorf("subscription: bridge not started")
	}
	ctx := b.runCtx
	b.mu.Unlock()

	b.wg.Add(1)
	go b.run(ctx, channel, onConnected, onMessage)
	return nil
}

// run is the per-channel connection loop.
func (b *Bridge) run(ctx context.Context, channel string, onConnected OnConnected, onMessage OnMessage) {
	defer b.wg.Done()
	log := b.log.With().Str("channel", channel).Logger()

	attempts := 0
	for {
		if ctx.Err() != nil {
			return
		}
		if attempts >= b.cfg.Policy.MaxAttempts {
			err := fmt.Errorf("%w: channel %s after %d attempts", ErrConnectivity, channel, attempts)
			log.Error().Err(err).Msg("subscription gave up")
			b.notifyFault(channel, err)
			return
		}

		conn, err := b.dialer.Dial(ctx, b.cfg.URL)
		if err != nil {
			attempts++
			log.Warn().Err(err).Int("attempt", attempts).Msg("connection failed, retrying")
			if !sleep(ctx, b.cfg.Policy.Delay) {
				return
			}
			continue
		}

		// Channel re-declaration happens on every connect; missed messages
		// are not replayed here.
		if err := conn.WriteJSON(subscribeRequest{Action: "subscribe", Channel: channel}); err != nil {
			attempts++
			log.Warn().Err(err).Msg("handshake failed")
			_ = conn.Close()
			if !sleep(ctx, b.cfg.Policy.Delay) {
				return
			}
			continue
		}

		attempts = 0
		log.Info().Msg("subscribed")
		if onConnected != nil {
			onConnected(ctx)
		}

		err = b.readLoop(ctx, conn, onMessage, log)
		_ = conn.Close()
		if ctx.Err() != nil {
			return
		}
		log.Warn().Err(err).Msg("disconnected, reconnecting")
		if !sleep(ctx, b.cfg.Policy.Delay) {
			return
		}
	}
}

// readLoop decodes notifications until the connection dies. A missed
// keepalive response surfaces as a read-deadline error.
func (b *Bridge) readLoop(ctx context.Context, conn Conn, onMessage OnMessage, log zerolog.Logger) error {
	deadline := func() time.Time {
		return time.Now().Add(b.cfg.KeepaliveInterval + b.cfg.KeepaliveTimeout)
	}
	_ = conn.SetReadDeadline(deadline())
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(deadline())
	})

	pingCtx, stopPing := context.WithCancel(ctx)
	defer stopPing()
	go b.keepalive(pingCtx, conn)

	for {
		var n Notification
		if err := conn.ReadJSON(&n); err != nil {
			return err
		}
		_ = conn.SetReadDeadline(deadline())
		if n.Type == "" {
			log.Debug().Msg("notification without type, dropped")
			continue
		}
		onMessage(ctx, &n)
	}
}

// keepalive sends periodic ping probes on the open connection.
func (b *Bridge) keepalive(ctx context.Context, conn Conn) {
	ticker := time.NewTicker(b.cfg.KeepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(b.cfg.KeepaliveTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				// The read loop will notice the dead connection.
				return
			}
		}
	}
}

func (b *Bridge) notifyFault(channel string, err error) {
	b.mu.Lock()
	h := b.onFault
	b.mu.Unlock()
	if h != nil {
		h(channel, err)
	}
}

// sleep waits d or until ctx is done, reporting whether to continue.
func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
