package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/roman-kulish/radarscope/internal/channel"
	"github.com/roman-kulish/radarscope/internal/snapshot"
)

const (
	MessageConnected   = "CONNECTION ESTABLISHED"
	MessageLost        = "CONNECTION LOST"
	MessageTelemetry   = "TELEMETRY: TARGET AT X=%.2f Y=%.2f"
	MessageHighThreat  = "WARNING: HIGH THREAT DETECTED"
	TimestampLayout    = "15:04:05"
	DefaultTelemetry   = 0.1
	DefaultThreat      = 0.05
	eventBufferSize    = 32
	percentPerFraction = 100
)

var (
	// ErrDisconnected is returned for commands issued while the channel is
	// down. The command is not forwarded.
	ErrDisconnected = errors.New("not connected to the simulation")

	// ErrUnknownCommand is returned for command names the panel does not offer.
	ErrUnknownCommand = errors.New("unknown command")
)

var commands = map[string]channel.Command{
	"start": channel.CommandStart,
	"stop":  channel.CommandStop,
	"reset": channel.CommandReset,
	"fire":  channel.CommandFire,
}

// Commander forwards commands to the simulation.
type Commander interface {
	Send(cmd channel.Command) error
}

// Rand is the random source gating sampled log lines.
type Rand interface {
	Float64() float64
}

// Config holds the panel log rules.
type Config struct {
	TelemetrySampleRate float64 // Probability of a telemetry line per snapshot
	ThreatSampleRate    float64 // Probability of a warning line per HIGH threat snapshot
	LogCapacity         int     // Maximum number of log lines kept

	// Minimal disables the sampled lines; connection lines are still logged.
	Minimal bool
}

func (c *Config) setDefaults() {
	if c.LogCapacity == 0 {
		c.LogCapacity = DefaultLogCapacity
	}
}

// DefaultConfig returns the panel rules of the full client.
func DefaultConfig() Config {
	return Config{
		TelemetrySampleRate: DefaultTelemetry,
		ThreatSampleRate:    DefaultThreat,
		LogCapacity:         DefaultLogCapacity,
	}
}

// Validate checks the sampling rates and the log capacity.
func (c *Config) Validate() error {
	if c.TelemetrySampleRate < 0 || c.TelemetrySampleRate > 1 {
		return fmt.Errorf("telemetry sample rate must be within [0, 1]: %v given", c.TelemetrySampleRate)
	}
	if c.ThreatSampleRate < 0 || c.ThreatSampleRate > 1 {
		return fmt.Errorf("threat sample rate must be within [0, 1]: %v given", c.ThreatSampleRate)
	}
	if c.LogCapacity < 0 {
		return fmt.Errorf("log capacity cannot be negative: %d given", c.LogCapacity)
	}
	return nil
}

// WithLogger sets the logger for the panel
func WithLogger(logger *slog.Logger) func(*Panel) {
	return func(p *Panel) {
		p.logger = logger.With(slog.String("component", "panel"))
	}
}

// WithRand replaces the random source of the log sampling
func WithRand(r Rand) func(*Panel) {
	return func(p *Panel) {
		p.rand = r
	}
}

// WithClock replaces the wall clock used for log timestamps
func WithClock(now func() time.Time) func(*Panel) {
	return func(p *Panel) {
		p.now = now
	}
}

// WithEntryHook registers a function called for every appended log line
func WithEntryHook(fn func(LogEntry)) func(*Panel) {
	return func(p *Panel) {
		p.onEntry = fn
	}
}

// Panel derives the telemetry view from the shared channel state, keeps the
// capped log and forwards commands.
type Panel struct {
	config    Config
	state     *channel.State
	commander Commander
	log       *LogBuffer

	mu   sync.Mutex // guards rand
	rand Rand

	now     func() time.Time
	onEntry func(LogEntry)
	logger  *slog.Logger
}

// NewPanel creates a panel observing state and forwarding commands through
// commander.
func NewPanel(state *channel.State, commander Commander, config Config, options ...func(*Panel)) (*Panel, error) {
	if state == nil {
		return nil, errors.New("telemetry: state is required")
	}
	if commander == nil {
		return nil, errors.New("telemetry: commander is required")
	}

	config.setDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	log, err := NewLogBuffer(config.LogCapacity)
	if err != nil {
		return nil, err
	}

	p := Panel{
		config:    config,
		state:     state,
		commander: commander,
		log:       log,
		rand:      rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x5ca1ab1e)),
		now:       time.Now,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&p)
	}

	return &p, nil
}

// Observe applies state events to the log until ctx is canceled.
func (p *Panel) Observe(ctx context.Context) error {
	events, unsubscribe := p.state.Subscribe(eventBufferSize)
	defer unsubscribe()

	// The channel may already be up, and the transition may also be queued.
	connected := p.state.Connected()
	if connected {
		p.Handle(channel.Event{Kind: channel.EventConnected, At: p.now()})
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case e, ok := <-events:
			if !ok {
				return nil
			}
			if e.Kind == channel.EventConnected || e.Kind == channel.EventDisconnected {
				status := e.Kind == channel.EventConnected
				if status == connected {
					continue
				}
				connected = status
			}
			p.Handle(e)
		}
	}
}

// Handle applies the log rules to one state event.
func (p *Panel) Handle(e channel.Event) {
	switch e.Kind {
	case channel.EventConnected:
		p.append(MessageConnected)

	case channel.EventDisconnected:
		p.append(MessageLost)

	case channel.EventSnapshot:
		if p.config.Minimal || e.Snapshot == nil {
			return
		}

		if t := e.Snapshot.EstimatedTarget; t != nil && p.sample(p.config.TelemetrySampleRate) {
			p.append(fmt.Sprintf(MessageTelemetry, t.X, t.Y))
		}
		if e.Snapshot.ThreatLevel == snapshot.ThreatHigh && p.sample(p.config.ThreatSampleRate) {
			p.append(MessageHighThreat)
		}
	}
}

// Log returns the log lines oldest first.
func (p *Panel) Log() []LogEntry {
	return p.log.Entries()
}

// Get derives the current telemetry view.
func (p *Panel) Get() *Telemetry {
	now := p.now()
	snap := p.state.Snapshot()

	t := Telemetry{
		Timestamp:   now,
		Connected:   p.state.Connected(),
		HasSnapshot: snap != nil,
	}
	t.ShowInitialize = t.Connected && !t.HasSnapshot

	if snap == nil {
		return &t
	}

	t.ThreatLevel = snap.ThreatLevel.String()
	t.ThreatStyle = StyleOf(snap.ThreatColor)

	if e := snap.EstimatedTarget; e != nil {
		t.TargetX = ptr(strconv.FormatFloat(e.X, 'f', 2, 64))
		t.TargetY = ptr(strconv.FormatFloat(e.Y, 'f', 2, 64))
	}
	if snap.HasTurret() {
		t.TurretAngle = ptr(strconv.FormatFloat(*snap.TurretAngle, 'f', 1, 64))
	}
	if snap.LockStatus != nil {
		t.LockStatus = ptr(strconv.FormatFloat(*snap.LockStatus*percentPerFraction, 'f', 0, 64) + "%")
	}

	if at := p.state.UpdatedAt(); !at.IsZero() {
		t.LastUpdateTime = &at
		t.LastUpdate = humanize.RelTime(at, now, "ago", "from now")
	}

	return &t
}

// Command forwards a named command: start, stop, reset or fire. It fails
// with ErrDisconnected without contacting the channel while disconnected.
func (p *Panel) Command(name string) error {
	cmd, ok := commands[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCommand, name)
	}
	if !p.state.Connected() {
		return ErrDisconnected
	}

	if err := p.commander.Send(cmd); err != nil {
		if errors.Is(err, channel.ErrNotConnected) || errors.Is(err, channel.ErrClosed) {
			return ErrDisconnected
		}
		return fmt.Errorf("sending %s: %w", cmd, err)
	}

	p.logger.Info("command sent", slog.String("command", string(cmd)))
	return nil
}

// StyleOf maps a threat color to its display style. The mapping is
// exhaustive: red is danger, orange is warning, anything else is safe.
func StyleOf(c snapshot.ThreatColor) ThreatStyle {
	switch c {
	case snapshot.ColorRed:
		return StyleDanger
	case snapshot.ColorOrange:
		return StyleWarning
	default:
		return StyleSafe
	}
}

func (p *Panel) sample(rate float64) bool {
	if rate <= 0 {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rand.Float64() < rate
}

func (p *Panel) append(message string) {
	now := p.now()
	e := LogEntry{
		Time:      now,
		Timestamp: now.Format(TimestampLayout),
		Message:   message,
	}
	p.log.Append(e)
	p.logger.Debug("log entry", slog.String("message", message))

	if p.onEntry != nil {
		p.onEntry(e)
	}
}

func ptr[T any](v T) *T {
	return &v
}
