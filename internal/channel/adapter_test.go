package channel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

// simServer is a fake simulation endpoint. It records every envelope it
// receives and lets the test push frames to the connected client.
type simServer struct {
	*httptest.Server

	mu       sync.Mutex
	conn     *ws.Conn
	received []Envelope
	conns    int
}

func newSimServer(t *testing.T) *simServer {
	t.Helper()
	s := &simServer{}

	upgrader := ws.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer c.Close()

		s.mu.Lock()
		s.conn = c
		s.conns++
		s.mu.Unlock()

		for {
			_, msg, err := c.ReadMessage()
			if err != nil {
				return
			}
			var env Envelope
			if err := json.Unmarshal(msg, &env); err != nil {
				continue
			}
			s.mu.Lock()
			s.received = append(s.received, env)
			s.mu.Unlock()
		}
	}))
	return s
}

func (s *simServer) url() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func (s *simServer) push(t *testing.T, raw string) {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotNil(t, s.conn)
	require.NoError(t, s.conn.WriteMessage(ws.TextMessage, []byte(raw)))
}

func (s *simServer) drop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
}

func (s *simServer) messages() []Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]Envelope, len(s.received))
	copy(cp, s.received)
	return cp
}

func (s *simServer) connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns
}

func openAdapter(t *testing.T, srv *simServer, cfg Config) (*Adapter, *State) {
	t.Helper()

	cfg.URL = srv.url()
	if cfg.InitialBackoff == 0 {
		cfg.InitialBackoff = 10 * time.Millisecond
		cfg.MaxBackoff = 50 * time.Millisecond
	}

	state := NewState()
	a, err := NewAdapter(state, cfg)
	require.NoError(t, err)
	require.NoError(t, a.Open(context.Background()))
	t.Cleanup(func() { _ = a.Close() })

	require.Eventually(t, state.Connected, waitFor, 5*time.Millisecond)
	return a, state
}

func TestNewAdapter_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "http scheme", cfg: Config{URL: "http://localhost:5000"}},
		{name: "negative reconnect", cfg: Config{MaxReconnect: -1}},
		{name: "inverted backoff", cfg: Config{InitialBackoff: time.Minute, MaxBackoff: time.Second}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewAdapter(NewState(), tt.cfg)
			assert.Error(t, err)
		})
	}

	_, err := NewAdapter(nil, Config{})
	assert.Error(t, err)

	a, err := NewAdapter(NewState(), Config{})
	require.NoError(t, err)
	assert.Equal(t, DefaultURL, a.config.URL)
}

func TestAdapter_Commands(t *testing.T) {
	srv := newSimServer(t)
	defer srv.Close()

	a, _ := openAdapter(t, srv, Config{})

	a.Start()
	a.Stop()
	a.Reset()
	a.Fire()

	require.Eventually(t, func() bool { return len(srv.messages()) == 4 }, waitFor, 5*time.Millisecond)

	msgs := srv.messages()
	assert.Equal(t, []MessageType{CommandStart, CommandStop, CommandReset, CommandFire},
		[]MessageType{msgs[0].Type, msgs[1].Type, msgs[2].Type, msgs[3].Type})
	for _, m := range msgs {
		assert.Empty(t, m.Payload, "commands carry no payload")
	}

	assert.Error(t, a.Send("launch_missiles"))
}

func TestAdapter_StateUpdate(t *testing.T) {
	srv := newSimServer(t)
	defer srv.Close()

	_, state := openAdapter(t, srv, Config{})
	events, unsubscribe := state.Subscribe(8)
	defer unsubscribe()

	assert.Nil(t, state.Snapshot())

	srv.push(t, `{"type":"unknown_event","payload":{}}`)
	srv.push(t, `not json`)
	srv.push(t, `{"type":"state_update","payload":{
		"turret_angle": 45.5,
		"estimated_target": {"x": 12.25, "y": -3.5},
		"threat_level": "HIGH",
		"threat_color": "red"
	}}`)

	select {
	case e := <-events:
		require.Equal(t, EventSnapshot, e.Kind)
		require.NotNil(t, e.Snapshot)
		assert.Equal(t, 45.5, *e.Snapshot.TurretAngle)
	case <-time.After(waitFor):
		t.Fatal("no snapshot event")
	}

	snap := state.Snapshot()
	require.NotNil(t, snap)
	assert.Equal(t, 12.25, snap.EstimatedTarget.X)
	assert.Equal(t, "HIGH", snap.ThreatLevel.String())
	assert.False(t, state.UpdatedAt().IsZero())

	// Last write wins.
	srv.push(t, `{"type":"state_update","payload":{"turret_angle": 10}}`)
	require.Eventually(t, func() bool {
		s := state.Snapshot()
		return s != nil && s.TurretAngle != nil && *s.TurretAngle == 10
	}, waitFor, 5*time.Millisecond)
	assert.Nil(t, state.Snapshot().EstimatedTarget, "snapshots are replaced wholesale")
}

func TestAdapter_DisconnectDropsCommands(t *testing.T) {
	srv := newSimServer(t)

	a, state := openAdapter(t, srv, Config{MaxReconnect: 1})
	events, unsubscribe := state.Subscribe(8)
	defer unsubscribe()

	srv.Close()
	srv.drop()

	select {
	case e := <-events:
		assert.Equal(t, EventDisconnected, e.Kind)
	case <-time.After(waitFor):
		t.Fatal("no disconnect event")
	}
	assert.False(t, state.Connected())

	assert.ErrorIs(t, a.Send(CommandStart), ErrNotConnected)
	a.Start()
	assert.Empty(t, srv.messages())

	select {
	case <-a.Done():
	case <-time.After(waitFor):
		t.Fatal("adapter did not give up redialing")
	}
}

func TestAdapter_Reconnect(t *testing.T) {
	srv := newSimServer(t)
	defer srv.Close()

	a, state := openAdapter(t, srv, Config{})
	events, unsubscribe := state.Subscribe(8)
	defer unsubscribe()

	srv.drop()

	var kinds []EventKind
	timeout := time.After(waitFor)
	for len(kinds) < 2 {
		select {
		case e := <-events:
			if e.Kind != EventSnapshot {
				kinds = append(kinds, e.Kind)
			}
		case <-timeout:
			t.Fatalf("got events %v", kinds)
		}
	}

	assert.Equal(t, []EventKind{EventDisconnected, EventConnected}, kinds)
	assert.Eventually(t, func() bool { return srv.connections() == 2 }, waitFor, 5*time.Millisecond)

	a.Fire()
	require.Eventually(t, func() bool { return len(srv.messages()) == 1 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, CommandFire, srv.messages()[0].Type)
}

func TestAdapter_Close(t *testing.T) {
	srv := newSimServer(t)
	defer srv.Close()

	a, state := openAdapter(t, srv, Config{})

	require.NoError(t, a.Close())
	assert.False(t, state.Connected())
	assert.NoError(t, a.Close())

	assert.ErrorIs(t, a.Send(CommandStart), ErrClosed)
	assert.ErrorIs(t, a.Open(context.Background()), ErrClosed)

	select {
	case <-a.Done():
	default:
		t.Fatal("adapter still running after Close")
	}
}

func TestState_Transitions(t *testing.T) {
	state := NewState()
	events, unsubscribe := state.Subscribe(1)

	assert.True(t, state.SetConnected(true))
	assert.False(t, state.SetConnected(true), "no event without a transition")

	// The buffer holds a single event, so this transition waits for the
	// reader instead of being dropped.
	done := make(chan struct{})
	go func() {
		defer close(done)
		state.SetConnected(false)
	}()

	assert.Equal(t, EventConnected, (<-events).Kind)
	assert.Equal(t, EventDisconnected, (<-events).Kind)
	<-done

	state.Publish(nil)
	state.Publish(nil)
	assert.Equal(t, EventSnapshot, (<-events).Kind)

	unsubscribe()
	unsubscribe()
	_, open := <-events
	assert.False(t, open)

	assert.True(t, state.SetConnected(true), "publishing without subscribers")
}
