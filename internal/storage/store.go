package storage

import (
	"context"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roman-kulish/radarscope/internal/telemetry"
)

// Store records client sessions: the snapshots received from the simulation
// and the lines appended to the panel log. Implementations are safe for
// concurrent use.
type Store interface {
	// CreateSession starts a new recorded session and returns its identifier.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeouts
	//   - source: Channel URL the session receives snapshots from
	//   - config: Optional client configuration. Can be string, []byte, or JSON-serializable object
	//
	// Returns:
	//   - sessionID: Unique identifier for the created session
	//   - error: If session creation fails or context is cancelled
	CreateSession(ctx context.Context, source string, config any) (sessionID int64, err error)

	// Session retrieves a session by its ID. The error wraps sql.ErrNoRows
	// when the session does not exist.
	Session(ctx context.Context, id int64) (session *Session, err error)

	// Sessions returns all sessions ordered by start time.
	Sessions(ctx context.Context) (sessions []*Session, err error)

	// StoreSnapshots saves received snapshots in a single atomic transaction.
	// Records are kept in the order given, which is the arrival order.
	StoreSnapshots(ctx context.Context, sessionID int64, records []*Record) error

	// StoreLogEntry saves one panel log line.
	StoreLogEntry(ctx context.Context, sessionID int64, e telemetry.LogEntry) error

	// Close releases all database connections and resources.
	// It is safe to call Close multiple times.
	Close() error
}

// SnapshotReader iterates over the snapshots of a session in arrival order.
type SnapshotReader interface {
	// Session returns the session being read.
	Session() *Session

	// Next advances the iterator and returns true if there is another record
	// to read, false when the iteration is complete or an error occurred.
	Next(context.Context) bool

	// Current returns the current record.
	Current() *Record

	// Error returns any error that occurred during iteration. Reaching the
	// end of the data is not an error.
	Error() error

	// Close releases the reader. It must not be used afterwards.
	Close() error
}

var _ Store = (*SqliteStore)(nil)
var _ SnapshotReader = (*SqliteSnapshotReader)(nil)
