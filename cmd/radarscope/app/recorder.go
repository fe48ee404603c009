package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/roman-kulish/radarscope/internal/channel"
	"github.com/roman-kulish/radarscope/internal/storage"
	"github.com/roman-kulish/radarscope/internal/telemetry"
)

const (
	eventBufferSize = 256
	entryBufferSize = 64
)

// WithMaxBatchSize sets the maximum number of snapshots stored within a
// single database transaction.
func WithMaxBatchSize(size int) func(*Recorder) {
	return func(r *Recorder) {
		r.maxBatchSize = size
	}
}

// WithFlushInterval sets how often buffered snapshots are written when the
// batch does not fill up.
func WithFlushInterval(d time.Duration) func(*Recorder) {
	return func(r *Recorder) {
		r.flushInterval = d
	}
}

// WithRecorderLogger sets the logger for the recorder
func WithRecorderLogger(logger *slog.Logger) func(*Recorder) {
	return func(r *Recorder) {
		r.logger = logger.With(slog.String("component", "recorder"))
	}
}

// Recorder stores every snapshot received by the channel state and every
// panel log line in a session of the store.
type Recorder struct {
	store storage.Store
	state *channel.State

	entries   chan telemetry.LogEntry
	sessionID atomic.Int64
	dropped   atomic.Int64

	maxBatchSize  int
	flushInterval time.Duration

	logger *slog.Logger
}

// NewRecorder creates a new Recorder
func NewRecorder(store storage.Store, state *channel.State, options ...func(*Recorder)) *Recorder {
	r := Recorder{
		store:         store,
		state:         state,
		entries:       make(chan telemetry.LogEntry, entryBufferSize),
		maxBatchSize:  defaultMaxBatchSize,
		flushInterval: defaultFlush,
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&r)
	}

	return &r
}

// SessionID returns the recorded session, 0 before Run created it.
func (r *Recorder) SessionID() int64 {
	return r.sessionID.Load()
}

// Dropped returns the number of log lines discarded because the recorder
// fell behind.
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

// RecordLogEntry queues a panel log line. It never blocks the caller.
func (r *Recorder) RecordLogEntry(e telemetry.LogEntry) {
	select {
	case r.entries <- e:
	default:
		r.dropped.Add(1)
	}
}

// Run creates the session and records until ctx is canceled. Buffered data
// is written before Run returns.
func (r *Recorder) Run(ctx context.Context, source string, config any) error {
	events, unsubscribe := r.state.Subscribe(eventBufferSize)
	defer unsubscribe()

	sessionID, err := r.store.CreateSession(ctx, source, config)
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	r.sessionID.Store(sessionID)
	r.logger.Info("recording session", slog.Int64("session", sessionID))

	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	batch := make([]*storage.Record, 0, r.maxBatchSize)
	flush := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}
		if err := r.store.StoreSnapshots(ctx, sessionID, batch); err != nil {
			r.logger.Error("storing snapshots", slog.Int("count", len(batch)), slog.String("error", err.Error()))
		}
		batch = make([]*storage.Record, 0, r.maxBatchSize)
	}

	for {
		select {
		case <-ctx.Done():
			final := context.WithoutCancel(ctx)
			flush(final)
			r.drainEntries(final, sessionID)
			return nil

		case e, ok := <-events:
			if !ok {
				flush(context.WithoutCancel(ctx))
				return nil
			}
			if e.Kind != channel.EventSnapshot || e.Snapshot == nil {
				continue
			}
			batch = append(batch, &storage.Record{ReceivedAt: e.At, Snapshot: e.Snapshot})
			if len(batch) >= r.maxBatchSize {
				flush(ctx)
			}

		case entry := <-r.entries:
			r.storeEntry(ctx, sessionID, entry)

		case <-ticker.C:
			flush(ctx)
		}
	}
}

func (r *Recorder) drainEntries(ctx context.Context, sessionID int64) {
	for {
		select {
		case entry := <-r.entries:
			r.storeEntry(ctx, sessionID, entry)
		default:
			return
		}
	}
}

func (r *Recorder) storeEntry(ctx context.Context, sessionID int64, e telemetry.LogEntry) {
	if err := r.store.StoreLogEntry(ctx, sessionID, e); err != nil {
		r.logger.Error("storing log entry", slog.String("error", err.Error()))
	}
}
