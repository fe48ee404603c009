package telemetry

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roman-kulish/radarscope/internal/channel"
	"github.com/roman-kulish/radarscope/internal/geometry"
	"github.com/roman-kulish/radarscope/internal/snapshot"
)

// fakeCommander records forwarded commands.
type fakeCommander struct {
	mu   sync.Mutex
	sent []channel.Command
	err  error
}

func (c *fakeCommander) Send(cmd channel.Command) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, cmd)
	return nil
}

func (c *fakeCommander) commands() []channel.Command {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]channel.Command(nil), c.sent...)
}

// seqRand returns its values in order, repeating the last one.
type seqRand struct {
	values []float64
	i      int
}

func (r *seqRand) Float64() float64 {
	v := r.values[min(r.i, len(r.values)-1)]
	r.i++
	return v
}

func fixedClock() time.Time {
	return time.Date(2024, 3, 1, 21, 7, 9, 0, time.UTC)
}

func newTestPanel(t *testing.T, cfg Config, options ...func(*Panel)) (*Panel, *channel.State, *fakeCommander) {
	t.Helper()
	state := channel.NewState()
	cmd := &fakeCommander{}
	p, err := NewPanel(state, cmd, cfg, append([]func(*Panel){WithClock(fixedClock)}, options...)...)
	require.NoError(t, err)
	return p, state, cmd
}

func ptrTo[T any](v T) *T { return &v }

func messages(entries []LogEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Message
	}
	return out
}

func TestNewPanel_Validation(t *testing.T) {
	state := channel.NewState()

	_, err := NewPanel(nil, &fakeCommander{}, DefaultConfig())
	assert.Error(t, err)

	_, err = NewPanel(state, nil, DefaultConfig())
	assert.Error(t, err)

	_, err = NewPanel(state, &fakeCommander{}, Config{TelemetrySampleRate: 1.5})
	assert.Error(t, err)

	_, err = NewPanel(state, &fakeCommander{}, Config{ThreatSampleRate: -0.1})
	assert.Error(t, err)

	p, err := NewPanel(state, &fakeCommander{}, Config{})
	require.NoError(t, err)
	assert.Equal(t, DefaultLogCapacity, p.log.Capacity())
}

func TestPanel_ConnectionLines(t *testing.T) {
	p, _, _ := newTestPanel(t, DefaultConfig())

	p.Handle(channel.Event{Kind: channel.EventConnected})
	p.Handle(channel.Event{Kind: channel.EventDisconnected})

	entries := p.Log()
	require.Len(t, entries, 2)
	assert.Equal(t, []string{MessageConnected, MessageLost}, messages(entries))
	assert.Equal(t, "21:07:09", entries[0].Timestamp)
}

func TestPanel_ConnectionLost(t *testing.T) {
	p, state, cmd := newTestPanel(t, DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Observe(ctx) }()

	state.SetConnected(true)
	require.Eventually(t, func() bool { return len(p.Log()) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, p.Command("start"))

	state.SetConnected(false)
	state.SetConnected(false)

	require.Eventually(t, func() bool { return len(p.Log()) == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, []string{MessageConnected, MessageLost}, messages(p.Log()), "exactly one lost line")

	assert.ErrorIs(t, p.Command("start"), ErrDisconnected)
	assert.Equal(t, []channel.Command{channel.CommandStart}, cmd.commands(), "no command while disconnected")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Observe did not return")
	}
}

func TestPanel_Sampling(t *testing.T) {
	target := &geometry.SimPoint{X: 12.345, Y: -6.789}

	tests := []struct {
		name  string
		cfg   Config
		rand  []float64
		snap  *snapshot.Snapshot
		lines []string
	}{
		{
			name:  "telemetry sampled",
			cfg:   DefaultConfig(),
			rand:  []float64{0.05},
			snap:  &snapshot.Snapshot{EstimatedTarget: target, ThreatLevel: snapshot.ThreatLow},
			lines: []string{"TELEMETRY: TARGET AT X=12.35 Y=-6.79"},
		},
		{
			name: "telemetry not sampled",
			cfg:  DefaultConfig(),
			rand: []float64{0.5},
			snap: &snapshot.Snapshot{EstimatedTarget: target, ThreatLevel: snapshot.ThreatLow},
		},
		{
			name: "sample rate is exclusive",
			cfg:  DefaultConfig(),
			rand: []float64{0.1},
			snap: &snapshot.Snapshot{EstimatedTarget: target},
		},
		{
			name:  "high threat warning",
			cfg:   DefaultConfig(),
			rand:  []float64{0.9, 0.01},
			snap:  &snapshot.Snapshot{EstimatedTarget: target, ThreatLevel: snapshot.ThreatHigh},
			lines: []string{MessageHighThreat},
		},
		{
			name:  "both lines",
			cfg:   DefaultConfig(),
			rand:  []float64{0.0, 0.0},
			snap:  &snapshot.Snapshot{EstimatedTarget: target, ThreatLevel: snapshot.ThreatHigh},
			lines: []string{"TELEMETRY: TARGET AT X=12.35 Y=-6.79", MessageHighThreat},
		},
		{
			name:  "no target no telemetry",
			cfg:   DefaultConfig(),
			rand:  []float64{0.0},
			snap:  &snapshot.Snapshot{ThreatLevel: snapshot.ThreatHigh},
			lines: []string{MessageHighThreat},
		},
		{
			name: "medium threat never warns",
			cfg:  DefaultConfig(),
			rand: []float64{0.9, 0.0},
			snap: &snapshot.Snapshot{EstimatedTarget: target, ThreatLevel: snapshot.ThreatMedium},
		},
		{
			name: "minimal mode",
			cfg:  Config{TelemetrySampleRate: 1, ThreatSampleRate: 1, Minimal: true},
			rand: []float64{0.0},
			snap: &snapshot.Snapshot{EstimatedTarget: target, ThreatLevel: snapshot.ThreatHigh},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, _, _ := newTestPanel(t, tt.cfg, WithRand(&seqRand{values: tt.rand}))
			p.Handle(channel.Event{Kind: channel.EventSnapshot, Snapshot: tt.snap})

			if len(tt.lines) == 0 {
				assert.Empty(t, p.Log())
				return
			}
			assert.Equal(t, tt.lines, messages(p.Log()))
		})
	}
}

func TestPanel_Get(t *testing.T) {
	p, state, _ := newTestPanel(t, DefaultConfig())

	view := p.Get()
	assert.False(t, view.Connected)
	assert.False(t, view.HasSnapshot)
	assert.False(t, view.ShowInitialize)

	state.SetConnected(true)
	view = p.Get()
	assert.True(t, view.ShowInitialize, "initialize affordance once connected")
	assert.Nil(t, view.TargetX)

	state.Publish(&snapshot.Snapshot{
		TurretAngle:     ptrTo(123.456),
		EstimatedTarget: &geometry.SimPoint{X: 1.005, Y: -20},
		ThreatLevel:     snapshot.ThreatMedium,
		ThreatColor:     snapshot.ColorOrange,
		LockStatus:      ptrTo(0.756),
	})

	view = p.Get()
	assert.True(t, view.HasSnapshot)
	assert.False(t, view.ShowInitialize)
	assert.Equal(t, "MEDIUM", view.ThreatLevel)
	assert.Equal(t, StyleWarning, view.ThreatStyle)
	require.NotNil(t, view.TargetX)
	assert.Equal(t, "-20.00", *view.TargetY)
	require.NotNil(t, view.TurretAngle)
	assert.Equal(t, "123.5", *view.TurretAngle)
	require.NotNil(t, view.LockStatus)
	assert.Equal(t, "76%", *view.LockStatus)
	assert.NotEmpty(t, view.LastUpdate)
	assert.NotNil(t, view.LastUpdateTime)
}

func TestStyleOf(t *testing.T) {
	tests := map[snapshot.ThreatColor]ThreatStyle{
		snapshot.ColorRed:    StyleDanger,
		snapshot.ColorOrange: StyleWarning,
		snapshot.ColorGreen:  StyleSafe,
		"blue":               StyleSafe,
		"":                   StyleSafe,
	}
	for in, want := range tests {
		assert.Equal(t, want, StyleOf(in), "color %q", in)
	}
}

func TestPanel_Command(t *testing.T) {
	p, state, cmd := newTestPanel(t, DefaultConfig())

	assert.ErrorIs(t, p.Command("start"), ErrDisconnected)
	assert.ErrorIs(t, p.Command("launch"), ErrUnknownCommand)

	state.SetConnected(true)
	for _, name := range []string{"start", "stop", "reset", "fire"} {
		require.NoError(t, p.Command(name))
	}
	assert.Equal(t, []channel.Command{
		channel.CommandStart, channel.CommandStop, channel.CommandReset, channel.CommandFire,
	}, cmd.commands())

	cmd.err = channel.ErrNotConnected
	assert.ErrorIs(t, p.Command("fire"), ErrDisconnected)

	cmd.err = fmt.Errorf("boom")
	err := p.Command("fire")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrDisconnected)
}

func TestPanel_EntryHook(t *testing.T) {
	var got []LogEntry
	p, _, _ := newTestPanel(t, DefaultConfig(), WithEntryHook(func(e LogEntry) {
		got = append(got, e)
	}))

	p.Handle(channel.Event{Kind: channel.EventConnected})
	require.Len(t, got, 1)
	assert.Equal(t, MessageConnected, got[0].Message)
	assert.Equal(t, fixedClock(), got[0].Time)
}
