package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/roman-kulish/radarscope/internal/snapshot"
)

// DefaultBatchSize is the number of snapshots a reader fetches per query.
const DefaultBatchSize = 500

// ErrNoData indicates either that no snapshots exist for the given parameters,
// or that all available data has been read from the reader.
var ErrNoData = fmt.Errorf("no data available")

// ReaderOption configures a SqliteSnapshotReader with specific filtering criteria.
type ReaderOption func(*SqliteSnapshotReader)

// WithStartTime sets the start time filter for the reader.
// Snapshots received before this time will be excluded.
func WithStartTime(t time.Time) ReaderOption {
	return func(r *SqliteSnapshotReader) {
		r.startTime = &t
	}
}

// WithEndTime sets the end time filter for the reader.
// Snapshots received after this time will be excluded.
func WithEndTime(t time.Time) ReaderOption {
	return func(r *SqliteSnapshotReader) {
		r.endTime = &t
	}
}

// WithTimeRange sets both start and end time filters.
// This is a convenience function equivalent to applying both WithStartTime
// and WithEndTime.
func WithTimeRange(startTime, endTime time.Time) ReaderOption {
	return func(r *SqliteSnapshotReader) {
		r.startTime = &startTime
		r.endTime = &endTime
	}
}

// WithBatchSize sets the number of snapshots fetched per query.
func WithBatchSize(n int) ReaderOption {
	return func(r *SqliteSnapshotReader) {
		r.batchSize = n
	}
}

// newSqliteSnapshotReader creates a reader over the snapshots of a session,
// applying optional filters.
func newSqliteSnapshotReader(ctx context.Context, db *sql.DB, sessionID int64, opts ...ReaderOption) (*SqliteSnapshotReader, error) {
	sr := &SqliteSnapshotReader{
		db:        db,
		sessionID: sessionID,
		batchSize: DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(sr)
	}
	if err := sr.init(ctx); err != nil {
		return nil, fmt.Errorf("initializing reader: %w", err)
	}
	return sr, nil
}

// SqliteSnapshotReader implements SnapshotReader for SQLite database backend.
// It pages through the session with keyset pagination on the record ID, so
// no query holds the database for the whole iteration.
type SqliteSnapshotReader struct {
	db   *sql.DB
	stmt *sql.Stmt

	sessionID int64
	session   *Session
	batchSize int

	startTime *time.Time // Optional start of time range filter
	endTime   *time.Time // Optional end of time range filter

	batch   []*Record
	pos     int
	lastID  int64
	current *Record
	err     error
}

func (sr *SqliteSnapshotReader) init(ctx context.Context) error {
	if sr.db == nil {
		return errors.New("database connection required")
	}
	if sr.sessionID <= 0 {
		return errors.New("session ID required")
	}
	if sr.batchSize <= 0 {
		return fmt.Errorf("batch size must be positive: %d given", sr.batchSize)
	}

	steps := []struct {
		msg string
		fn  func(context.Context) error
	}{
		{msg: "loading session", fn: sr.loadSession},
		{msg: "initializing filters", fn: sr.initFilters},
		{msg: "initializing query", fn: sr.initQuery},
	}
	for _, s := range steps {
		if err := s.fn(ctx); err != nil {
			return fmt.Errorf("%s: %w", s.msg, err)
		}
	}
	return nil
}

func (sr *SqliteSnapshotReader) loadSession(ctx context.Context) (err error) {
	sr.session, err = querySession(ctx, sr.db, sr.sessionID)
	return
}

func (sr *SqliteSnapshotReader) initFilters(context.Context) error {
	if sr.startTime != nil && sr.endTime != nil && sr.startTime.After(*sr.endTime) {
		return fmt.Errorf("start time %s is after end time %s", sr.startTime, sr.endTime)
	}
	return nil
}

func (sr *SqliteSnapshotReader) initQuery(ctx context.Context) (err error) {
	sr.stmt, err = sr.db.PrepareContext(ctx, selectSnapshotsSQL)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	return nil
}

func (sr *SqliteSnapshotReader) bounds() (from, to int64) {
	from, to = math.MinInt64, math.MaxInt64
	if sr.startTime != nil {
		from = toUnixNano(*sr.startTime)
	}
	if sr.endTime != nil {
		to = toUnixNano(*sr.endTime)
	}
	return
}

func (sr *SqliteSnapshotReader) fetch(ctx context.Context) (err error) {
	from, to := sr.bounds()

	rows, err := sr.stmt.QueryContext(ctx, sr.sessionID, from, to, sr.lastID, sr.batchSize)
	if err != nil {
		return fmt.Errorf("querying snapshots: %w", err)
	}
	defer closeWithError(rows, &err)

	sr.batch = sr.batch[:0]
	sr.pos = 0

	for rows.Next() {
		var receivedAt int64
		var payload string
		r := Record{SessionID: sr.sessionID}
		if err = rows.Scan(&r.ID, &receivedAt, &payload); err != nil {
			return fmt.Errorf("scanning snapshot: %w", err)
		}
		if r.Snapshot, err = snapshot.Decode([]byte(payload)); err != nil {
			return fmt.Errorf("decoding snapshot %d: %w", r.ID, err)
		}
		r.ReceivedAt = fromUnixNano(receivedAt)
		sr.batch = append(sr.batch, &r)
	}
	if err = rows.Err(); err != nil {
		return fmt.Errorf("reading snapshots: %w", err)
	}

	if len(sr.batch) == 0 {
		return ErrNoData
	}
	sr.lastID = sr.batch[len(sr.batch)-1].ID
	return nil
}

func (sr *SqliteSnapshotReader) Session() *Session {
	return sr.session
}

func (sr *SqliteSnapshotReader) Next(ctx context.Context) bool {
	if sr.err != nil || sr.stmt == nil {
		return false
	}

	select {
	case <-ctx.Done():
		sr.err = ctx.Err()
		return false
	default:
	}

	if sr.pos >= len(sr.batch) {
		if sr.err = sr.fetch(ctx); sr.err != nil {
			sr.current = nil
			return false
		}
	}

	sr.current = sr.batch[sr.pos]
	sr.pos++
	return true
}

func (sr *SqliteSnapshotReader) Current() *Record {
	return sr.current
}

func (sr *SqliteSnapshotReader) Error() error {
	if sr.err != nil && !errors.Is(sr.err, ErrNoData) {
		return sr.err
	}
	return nil
}

func (sr *SqliteSnapshotReader) Close() error {
	if sr.stmt != nil {
		err := sr.stmt.Close()
		sr.stmt = nil
		sr.batch = nil
		sr.current = nil
		return err
	}
	return nil
}
