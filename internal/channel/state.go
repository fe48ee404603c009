package channel

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/roman-kulish/radarscope/internal/snapshot"
)

// EventKind identifies a State change.
type EventKind int

const (
	EventConnected EventKind = iota + 1
	EventDisconnected
	EventSnapshot
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventSnapshot:
		return "snapshot"
	default:
		return "unknown"
	}
}

// Event is delivered to State subscribers.
type Event struct {
	Kind     EventKind
	Snapshot *snapshot.Snapshot // Set for EventSnapshot
	At       time.Time
}

type subscriber struct {
	ch   chan Event
	done chan struct{}
}

// State is the shared container of the connection status and the latest
// snapshot. Both are replaced atomically, so readers never observe a partially
// updated value. The render loop pulls from it; observers subscribe to it.
type State struct {
	connected atomic.Bool
	latest    atomic.Pointer[snapshot.Snapshot]
	updatedAt atomic.Int64 // unix nano of the latest snapshot

	mu   sync.Mutex // guards subs and serializes transitions
	subs map[*subscriber]struct{}

	now func() time.Time
}

// NewState creates a disconnected State with no snapshot.
func NewState() *State {
	return &State{
		subs: make(map[*subscriber]struct{}),
		now:  time.Now,
	}
}

// Connected reports the connection status.
func (s *State) Connected() bool {
	return s.connected.Load()
}

// Snapshot returns the latest snapshot, or nil when none was received.
func (s *State) Snapshot() *snapshot.Snapshot {
	return s.latest.Load()
}

// UpdatedAt returns the arrival time of the latest snapshot; the zero time
// when none was received.
func (s *State) UpdatedAt() time.Time {
	ns := s.updatedAt.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Subscribe registers an observer. Connection transitions are always
// delivered; snapshot events are dropped when the subscriber falls more than
// buffer events behind, since only the newest snapshot matters. Subscribers
// must keep receiving until they unsubscribe. The returned function
// unsubscribes and closes the channel.
func (s *State) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	sub := &subscriber{
		ch:   make(chan Event, buffer),
		done: make(chan struct{}),
	}

	s.mu.Lock()
	s.subs[sub] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			close(sub.done)

			s.mu.Lock()
			delete(s.subs, sub)
			close(sub.ch)
			s.mu.Unlock()
		})
	}
}

// SetConnected records a transport lifecycle event. Only actual transitions
// are broadcast. It reports whether the status changed.
func (s *State) SetConnected(connected bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected.Swap(connected) == connected {
		return false
	}

	kind := EventDisconnected
	if connected {
		kind = EventConnected
	}
	e := Event{Kind: kind, At: s.now()}
	for sub := range s.subs {
		select {
		case sub.ch <- e:
		case <-sub.done:
		}
	}
	return true
}

// Publish replaces the latest snapshot and notifies subscribers.
func (s *State) Publish(snap *snapshot.Snapshot) {
	at := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.latest.Store(snap)
	s.updatedAt.Store(at.UnixNano())

	e := Event{Kind: EventSnapshot, Snapshot: snap, At: at}
	for sub := range s.subs {
		select {
		case sub.ch <- e:
		default:
		}
	}
}
