package telemetry

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func entry(i int) LogEntry {
	return LogEntry{Timestamp: "00:00:00", Message: fmt.Sprintf("line %d", i)}
}

func TestLogBuffer_Capacity(t *testing.T) {
	lb, err := NewLogBuffer(DefaultLogCapacity)
	if err != nil {
		t.Fatalf("Failed to create buffer: %v", err)
	}

	for i := 0; i < 100; i++ {
		lb.Append(entry(i))
		if lb.Size() > DefaultLogCapacity {
			t.Fatalf("Size after %d appends = %d, want at most %d", i+1, lb.Size(), DefaultLogCapacity)
		}
	}

	entries := lb.Entries()
	if len(entries) != DefaultLogCapacity {
		t.Fatalf("Expected %d entries, got %d", DefaultLogCapacity, len(entries))
	}

	// Oldest first, the first 84 lines evicted in order.
	for i, e := range entries {
		want := fmt.Sprintf("line %d", 84+i)
		if e.Message != want {
			t.Errorf("Entry %d: got %q, want %q", i, e.Message, want)
		}
	}
}

func TestLogBuffer_Order(t *testing.T) {
	tests := []struct {
		name     string
		capacity int
		appends  int
		first    string
		size     int
	}{
		{name: "empty", capacity: 4, appends: 0, size: 0},
		{name: "below capacity", capacity: 4, appends: 3, first: "line 0", size: 3},
		{name: "at capacity", capacity: 4, appends: 4, first: "line 0", size: 4},
		{name: "one evicted", capacity: 4, appends: 5, first: "line 1", size: 4},
		{name: "single slot", capacity: 1, appends: 3, first: "line 2", size: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lb, err := NewLogBuffer(tt.capacity)
			if err != nil {
				t.Fatalf("Failed to create buffer: %v", err)
			}
			for i := 0; i < tt.appends; i++ {
				lb.Append(entry(i))
			}

			entries := lb.Entries()
			if len(entries) != tt.size {
				t.Fatalf("Expected %d entries, got %d", tt.size, len(entries))
			}
			if tt.size > 0 && entries[0].Message != tt.first {
				t.Errorf("First entry: got %q, want %q", entries[0].Message, tt.first)
			}
		})
	}
}

func TestLogBuffer_InvalidCapacity(t *testing.T) {
	for _, capacity := range []int{0, -1} {
		if _, err := NewLogBuffer(capacity); err == nil {
			t.Errorf("Expected error for capacity %d", capacity)
		}
	}
}

func TestLogBuffer_Clear(t *testing.T) {
	lb, _ := NewLogBuffer(4)
	lb.Append(entry(0))
	lb.Append(entry(1))
	lb.Clear()

	if lb.Size() != 0 || len(lb.Entries()) != 0 {
		t.Fatalf("Expected empty buffer after Clear")
	}

	lb.Append(entry(2))
	if got := lb.Entries(); len(got) != 1 || got[0].Message != "line 2" {
		t.Errorf("Unexpected entries after Clear: %v", got)
	}
}

func TestLogBuffer_Concurrent(t *testing.T) {
	lb, _ := NewLogBuffer(DefaultLogCapacity)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				lb.Append(LogEntry{Time: time.Now(), Message: fmt.Sprintf("w%d-%d", w, i)})
				_ = lb.Entries()
			}
		}(w)
	}
	wg.Wait()

	if lb.Size() != DefaultLogCapacity {
		t.Errorf("Size = %d, want %d", lb.Size(), DefaultLogCapacity)
	}
}
