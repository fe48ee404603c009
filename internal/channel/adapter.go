package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/roman-kulish/radarscope/internal/snapshot"
)

const (
	DefaultURL = "ws://localhost:5000/ws"

	sendChSize       = 16
	defaultWait      = 10 * time.Second
	defaultBackoff   = time.Second
	defaultMaxWait   = 30 * time.Second
	closeGracePeriod = time.Second
)

var (
	// ErrClosed is returned when using an adapter after Close.
	ErrClosed = errors.New("channel adapter closed")

	// ErrNotConnected is returned when a command is dropped because there is
	// no established connection.
	ErrNotConnected = errors.New("channel not connected")
)

// Config configures the Adapter.
type Config struct {
	URL            string        // WebSocket endpoint of the simulation
	WriteTimeout   time.Duration // Per message write deadline
	MaxReconnect   int           // Consecutive failed dials before giving up, 0 retries forever
	InitialBackoff time.Duration // Delay before the first redial
	MaxBackoff     time.Duration // Upper bound of the exponential backoff
}

func (c *Config) setDefaults() {
	if c.URL == "" {
		c.URL = DefaultURL
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = defaultWait
	}
	if c.InitialBackoff == 0 {
		c.InitialBackoff = defaultBackoff
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = defaultMaxWait
	}
}

// Validate checks the configuration after defaults are applied.
func (c *Config) Validate() error {
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("invalid websocket URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("invalid websocket URL scheme %q: ws or wss expected", u.Scheme)
	}
	if c.MaxReconnect < 0 {
		return fmt.Errorf("max reconnect cannot be negative: %d given", c.MaxReconnect)
	}
	if c.InitialBackoff < 0 || c.MaxBackoff < c.InitialBackoff {
		return fmt.Errorf("invalid backoff range %s..%s", c.InitialBackoff, c.MaxBackoff)
	}
	return nil
}

// WithLogger sets the logger for the adapter
func WithLogger(logger *slog.Logger) func(*Adapter) {
	return func(a *Adapter) {
		a.logger = logger.With(slog.String("component", "channel"))
	}
}

// WithMeter sets the meter used to create the adapter instruments
func WithMeter(m metric.Meter) func(*Adapter) {
	return func(a *Adapter) {
		a.meter = m
	}
}

// WithDialer replaces the default WebSocket dialer
func WithDialer(d *ws.Dialer) func(*Adapter) {
	return func(a *Adapter) {
		a.dialer = d
	}
}

// Adapter owns the one WebSocket connection to the simulation. It keeps
// State in sync with the transport lifecycle, publishes every received
// snapshot and forwards commands while connected.
type Adapter struct {
	config Config
	state  *State
	dialer *ws.Dialer

	mu     sync.Mutex
	conn   *ws.Conn
	opened bool
	closed bool

	sendCh chan []byte
	cancel context.CancelFunc
	done   chan struct{} // closed when the supervisor exits

	logger *slog.Logger
	meter  metric.Meter

	received metric.Int64Counter
	invalid  metric.Int64Counter
	sent     metric.Int64Counter
	dropped  metric.Int64Counter
	dials    metric.Int64Counter
}

// NewAdapter creates an adapter publishing into state. It does not connect
// until Open is called.
func NewAdapter(state *State, config Config, options ...func(*Adapter)) (*Adapter, error) {
	if state == nil {
		return nil, errors.New("channel: state is required")
	}

	config.setDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	a := Adapter{
		config: config,
		state:  state,
		dialer: ws.DefaultDialer,
		sendCh: make(chan []byte, sendChSize),
		done:   make(chan struct{}),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		meter:  noop.Meter{},
	}

	for _, option := range options {
		option(&a)
	}

	var err error
	if a.received, err = a.meter.Int64Counter("channel.snapshots.received"); err != nil {
		return nil, fmt.Errorf("creating received counter: %w", err)
	}
	if a.invalid, err = a.meter.Int64Counter("channel.messages.invalid"); err != nil {
		return nil, fmt.Errorf("creating invalid counter: %w", err)
	}
	if a.sent, err = a.meter.Int64Counter("channel.commands.sent"); err != nil {
		return nil, fmt.Errorf("creating sent counter: %w", err)
	}
	if a.dropped, err = a.meter.Int64Counter("channel.commands.dropped"); err != nil {
		return nil, fmt.Errorf("creating dropped counter: %w", err)
	}
	if a.dials, err = a.meter.Int64Counter("channel.dials"); err != nil {
		return nil, fmt.Errorf("creating dials counter: %w", err)
	}

	return &a, nil
}

// State returns the container the adapter publishes into.
func (a *Adapter) State() *State {
	return a.state
}

// Open starts connecting in the background. The adapter keeps redialing
// with exponential backoff until Close is called or MaxReconnect consecutive
// dials failed.
func (a *Adapter) Open(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrClosed
	}
	if a.opened {
		return errors.New("channel adapter already open")
	}
	a.opened = true

	ctx, a.cancel = context.WithCancel(ctx)
	go a.supervise(ctx)

	a.logger.Info("channel opened", slog.String("url", a.config.URL))
	return nil
}

// Done is closed once the adapter stopped connecting, either after Close or
// after giving up on redialing.
func (a *Adapter) Done() <-chan struct{} {
	return a.done
}

// Close shuts the connection down and waits for the adapter goroutines. The
// state is disconnected when Close returns.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	opened := a.opened
	conn := a.conn
	a.mu.Unlock()

	var err error
	if conn != nil {
		deadline := time.Now().Add(closeGracePeriod)
		msg := ws.FormatCloseMessage(ws.CloseNormalClosure, "")
		if werr := conn.WriteControl(ws.CloseMessage, msg, deadline); werr != nil &&
			!errors.Is(werr, ws.ErrCloseSent) && !errors.Is(werr, net.ErrClosed) {
			err = fmt.Errorf("writing close message: %w", werr)
		}
	}

	if opened {
		a.cancel()
		<-a.done
	}
	a.state.SetConnected(false)
	a.logger.Info("channel closed")
	return err
}

// Send forwards a command to the simulation. It is a no-op returning
// ErrNotConnected while the connection is down.
func (a *Adapter) Send(cmd Command) error {
	if !IsCommand(cmd) {
		return fmt.Errorf("unknown command %q", cmd)
	}

	a.mu.Lock()
	closed := a.closed
	a.mu.Unlock()

	attrs := metric.WithAttributes(attribute.String("command", string(cmd)))
	switch {
	case closed:
		a.dropped.Add(context.Background(), 1, attrs)
		return ErrClosed
	case !a.state.Connected():
		a.dropped.Add(context.Background(), 1, attrs)
		a.logger.Debug("command dropped while disconnected", slog.String("command", string(cmd)))
		return ErrNotConnected
	}

	data, err := encodeCommand(cmd)
	if err != nil {
		return err
	}

	select {
	case a.sendCh <- data:
		return nil
	default:
		a.dropped.Add(context.Background(), 1, attrs)
		a.logger.Warn("send channel full, dropping command", slog.String("command", string(cmd)))
		return fmt.Errorf("send channel full: %s dropped", cmd)
	}
}

// Start resumes the simulation.
func (a *Adapter) Start() { _ = a.Send(CommandStart) }

// Stop halts the simulation.
func (a *Adapter) Stop() { _ = a.Send(CommandStop) }

// Reset resets the simulation.
func (a *Adapter) Reset() { _ = a.Send(CommandReset) }

// Fire requests a shot at the current intercept solution.
func (a *Adapter) Fire() { _ = a.Send(CommandFire) }

// supervise owns the connection lifecycle: dial, serve until the transport
// fails, flip the state and redial.
func (a *Adapter) supervise(ctx context.Context) {
	defer close(a.done)

	backoff := a.config.InitialBackoff
	failures := 0

	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := a.dialOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}

			failures++
			if a.config.MaxReconnect > 0 && failures >= a.config.MaxReconnect {
				a.logger.Error("websocket dial failed after max attempts", slog.Int("maxAttempts", a.config.MaxReconnect), slog.Any("error", err))
				return
			}

			a.logger.Warn("websocket dial failed", slog.Int("attempt", failures), slog.Duration("backoff", backoff), slog.Any("error", err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}

			backoff *= 2
			if backoff > a.config.MaxBackoff {
				backoff = a.config.MaxBackoff
			}
			continue
		}

		failures = 0
		backoff = a.config.InitialBackoff

		if !a.attach(conn) {
			_ = conn.Close()
			return
		}

		a.logger.Info("websocket connected")
		a.state.SetConnected(true)

		a.serve(ctx, conn)

		a.state.SetConnected(false)
		a.detach()
		a.logger.Warn("websocket disconnected")
	}
}

func (a *Adapter) dialOnce(ctx context.Context) (*ws.Conn, error) {
	a.dials.Add(ctx, 1)

	conn, _, err := a.dialer.DialContext(ctx, a.config.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return conn, nil
}

func (a *Adapter) attach(conn *ws.Conn) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return false
	}
	a.conn = conn
	return true
}

// detach forgets the connection and discards commands queued for it.
func (a *Adapter) detach() {
	a.mu.Lock()
	conn := a.conn
	a.conn = nil
	a.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}

	for {
		select {
		case <-a.sendCh:
		default:
			return
		}
	}
}

// serve runs the write loop next to the read loop until either fails or ctx
// is canceled.
func (a *Adapter) serve(ctx context.Context, conn *ws.Conn) {
	stop := make(chan struct{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.writeLoop(ctx, conn, stop)
	}()

	a.readLoop(conn)

	close(stop)
	_ = conn.Close()
	wg.Wait()
}

// writeLoop drains sendCh. A failed write closes the connection, which ends
// the read loop.
func (a *Adapter) writeLoop(ctx context.Context, conn *ws.Conn, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return

		case <-ctx.Done():
			_ = conn.Close()
			return

		case data := <-a.sendCh:
			if err := conn.SetWriteDeadline(time.Now().Add(a.config.WriteTimeout)); err != nil {
				a.logger.Warn("websocket set write deadline failed", slog.Any("error", err))
				_ = conn.Close()
				return
			}
			if err := conn.WriteMessage(ws.TextMessage, data); err != nil {
				a.logger.Warn("websocket write failed", slog.Any("error", err))
				_ = conn.Close()
				return
			}
			a.sent.Add(ctx, 1)
		}
	}
}

// readLoop decodes inbound frames until the connection fails.
func (a *Adapter) readLoop(conn *ws.Conn) {
	ctx := context.Background()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if !ws.IsCloseError(err, ws.CloseNormalClosure, ws.CloseGoingAway) {
				a.logger.Debug("websocket read failed", slog.Any("error", err))
			}
			return
		}

		env, err := decodeEnvelope(message)
		if err != nil {
			a.invalid.Add(ctx, 1)
			a.logger.Debug("malformed message ignored", slog.Any("error", err))
			continue
		}

		switch env.Type {
		case TypeStateUpdate:
			snap, err := snapshot.Decode(env.Payload)
			if err != nil {
				a.invalid.Add(ctx, 1)
				a.logger.Debug("malformed state update ignored", slog.Any("error", err))
				continue
			}
			a.received.Add(ctx, 1)
			a.state.Publish(snap)

		default:
			a.logger.Debug("unknown message type ignored", slog.String("type", string(env.Type)))
		}
	}
}
