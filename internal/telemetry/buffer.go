package telemetry

import (
	"fmt"
	"sync"
	"time"
)

// DefaultLogCapacity is the number of log entries the panel keeps.
const DefaultLogCapacity = 16

// LogEntry is one line of the panel log.
type LogEntry struct {
	Time      time.Time `json:"-"`
	Timestamp string    `json:"timestamp"` // 24-hour wall clock time captured at append
	Message   string    `json:"message"`
}

// node represents an internal linked list node for the log buffer.
type node struct {
	entry LogEntry
	next  *node
}

// LogBuffer is a thread-safe, capped FIFO of log entries. Appending to a full
// buffer evicts the oldest entry.
type LogBuffer struct {
	capacity int

	mu   sync.Mutex
	head *node
	tail *node
	size int
}

// NewLogBuffer creates a buffer holding up to capacity entries.
func NewLogBuffer(capacity int) (*LogBuffer, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("invalid log buffer capacity: %d", capacity)
	}
	return &LogBuffer{capacity: capacity}, nil
}

// Append adds an entry at the end, evicting from the front when full.
func (lb *LogBuffer) Append(e LogEntry) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	n := &node{entry: e}
	if lb.tail == nil {
		lb.head, lb.tail = n, n
	} else {
		lb.tail.next = n
		lb.tail = n
	}
	lb.size++

	for lb.size > lb.capacity {
		lb.head = lb.head.next
		lb.size--
	}
}

// Entries returns the entries oldest first.
func (lb *LogBuffer) Entries() []LogEntry {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	entries := make([]LogEntry, 0, lb.size)
	for current := lb.head; current != nil; current = current.next {
		entries = append(entries, current.entry)
	}
	return entries
}

// Size returns the current number of entries.
func (lb *LogBuffer) Size() int {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.size
}

// Capacity returns the maximum number of entries.
func (lb *LogBuffer) Capacity() int {
	return lb.capacity
}

// Clear removes all entries.
func (lb *LogBuffer) Clear() {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	lb.head = nil
	lb.tail = nil
	lb.size = 0
}
