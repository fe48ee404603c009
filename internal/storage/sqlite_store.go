package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/roman-kulish/radarscope/internal/telemetry"
)

// maxBatchRows bounds the rows of one multi-row insert so the statement stays
// below the SQLite host parameter limit.
const maxBatchRows = 128

// WithClock replaces the wall clock used for session start times
func WithClock(now func() time.Time) func(*SqliteStore) {
	return func(s *SqliteStore) {
		s.now = now
	}
}

// SqliteStore handles database operations
type SqliteStore struct {
	dbPath string
	now    func() time.Time

	writeDB     *sql.DB
	writeDBOnce sync.Once
	writeDBErr  error

	readDB     *sql.DB
	readDBOnce sync.Once
	readDBErr  error

	closeOnce sync.Once
	closeErr  error
}

// NewSqliteStore creates a store backed by the Sqlite database at dbPath.
// Connections are opened lazily: the schema is created on the first write.
func NewSqliteStore(dbPath string, options ...func(*SqliteStore)) *SqliteStore {
	s := SqliteStore{
		dbPath: dbPath,
		now:    time.Now,
	}
	for _, option := range options {
		option(&s)
	}
	return &s
}

func runSQLCommand(db *sql.DB, sql string) error {
	_, err := db.Exec(sql)
	return err
}

func (s *SqliteStore) getWriteDB() (*sql.DB, error) {
	s.writeDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "_journal_mode=WAL&_synchronous=NORMAL"))
		if err != nil {
			s.writeDBErr = fmt.Errorf("opening write connection: %w", err)
			return
		}
		db.SetMaxOpenConns(1)

		if err = runSQLCommand(db, initSchemaSQL); err != nil {
			_ = db.Close()
			s.writeDBErr = fmt.Errorf("initializing schema: %w", err)
			return
		}

		s.writeDB = db
	})

	return s.writeDB, s.writeDBErr
}

func (s *SqliteStore) getReadDB() (*sql.DB, error) {
	s.readDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "mode=ro"))
		if err != nil {
			s.readDBErr = fmt.Errorf("opening read connection: %w", err)
			return
		}
		s.readDB = db
	})

	return s.readDB, s.readDBErr
}

func (s *SqliteStore) CreateSession(ctx context.Context, source string, config any) (sessionID int64, err error) {
	configData, err := toConfigData(config)
	if err != nil {
		return
	}

	db, err := s.getWriteDB()
	if err != nil {
		err = fmt.Errorf("getting write connection: %w", err)
		return
	}

	stmt, err := db.PrepareContext(ctx, insertSessionSQL)
	if err != nil {
		err = fmt.Errorf("preparing statement: %w", err)
		return
	}
	defer closeWithError(stmt, &err)

	result, err := stmt.ExecContext(ctx, s.now().UTC(), source, configData)
	if err != nil {
		err = fmt.Errorf("inserting session: %w", err)
		return
	}

	sessionID, err = result.LastInsertId()
	if err != nil {
		err = fmt.Errorf("getting session ID: %w", err)
	}
	return
}

func (s *SqliteStore) Session(ctx context.Context, id int64) (session *Session, err error) {
	db, err := s.getReadDB()
	if err != nil {
		err = fmt.Errorf("getting read connection: %w", err)
		return
	}
	return querySession(ctx, db, id)
}

func querySession(ctx context.Context, db *sql.DB, id int64) (session *Session, err error) {
	stmt, err := db.PrepareContext(ctx, selectSessionSQL)
	if err != nil {
		err = fmt.Errorf("preparing statement: %w", err)
		return
	}
	defer closeWithError(stmt, &err)

	var sess Session
	var config sql.NullString
	if err = stmt.QueryRowContext(ctx, id).Scan(&sess.ID, &sess.StartTime, &sess.Source, &config); err != nil {
		err = fmt.Errorf("scanning session %d: %w", id, err)
		return
	}
	if config.Valid {
		sess.Config = &config.String
	}

	return &sess, nil
}

func (s *SqliteStore) Sessions(ctx context.Context) (sessions []*Session, err error) {
	db, err := s.getReadDB()
	if err != nil {
		err = fmt.Errorf("getting read connection: %w", err)
		return
	}

	rows, err := db.QueryContext(ctx, selectSessionsSQL)
	if err != nil {
		err = fmt.Errorf("querying sessions: %w", err)
		return
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var sess Session
		var config sql.NullString
		if err = rows.Scan(&sess.ID, &sess.StartTime, &sess.Source, &config); err != nil {
			err = fmt.Errorf("scanning session: %w", err)
			return
		}
		if config.Valid {
			sess.Config = &config.String
		}
		sessions = append(sessions, &sess)
	}
	err = rows.Err()
	return
}

// Stats counts the snapshots and log lines of a session and returns the
// arrival times of its first and last snapshot.
func (s *SqliteStore) Stats(ctx context.Context, sessionID int64) (stats *SessionStats, err error) {
	db, err := s.getReadDB()
	if err != nil {
		err = fmt.Errorf("getting read connection: %w", err)
		return
	}

	stmt, err := db.PrepareContext(ctx, selectSessionStatsSQL)
	if err != nil {
		err = fmt.Errorf("preparing statement: %w", err)
		return
	}
	defer closeWithError(stmt, &err)

	var st SessionStats
	var first, last sql.NullInt64
	if err = stmt.QueryRowContext(ctx, sessionID).Scan(&st.Snapshots, &st.LogEntries, &first, &last); err != nil {
		err = fmt.Errorf("scanning session stats: %w", err)
		return
	}
	if first.Valid {
		st.First = fromUnixNano(first.Int64)
	}
	if last.Valid {
		st.Last = fromUnixNano(last.Int64)
	}

	return &st, nil
}

// ReadSnapshots creates a reader over the snapshots of a session in arrival
// order. The reader fetches the data in batches, see WithBatchSize.
//
// Parameters:
//   - ctx: Context for cancellation and timeouts
//   - sessionID: Unique identifier of the session to read from
//   - opts: Optional configuration parameters for the reader (WithStartTime,
//     WithEndTime, WithTimeRange, WithBatchSize)
//
// The returned reader must be closed after use. Each reader instance should
// only be used from a single goroutine.
//
// Returns error if reader creation fails or session doesn't exist.
func (s *SqliteStore) ReadSnapshots(ctx context.Context, sessionID int64, opts ...ReaderOption) (*SqliteSnapshotReader, error) {
	db, err := s.getReadDB()
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}
	return newSqliteSnapshotReader(ctx, db, sessionID, opts...)
}

// LogEntries returns the recorded panel log of a session, oldest first.
func (s *SqliteStore) LogEntries(ctx context.Context, sessionID int64) (entries []telemetry.LogEntry, err error) {
	db, err := s.getReadDB()
	if err != nil {
		err = fmt.Errorf("getting read connection: %w", err)
		return
	}

	stmt, err := db.PrepareContext(ctx, selectLogEntriesSQL)
	if err != nil {
		err = fmt.Errorf("preparing statement: %w", err)
		return
	}
	defer closeWithError(stmt, &err)

	rows, err := stmt.QueryContext(ctx, sessionID)
	if err != nil {
		err = fmt.Errorf("querying log entries: %w", err)
		return
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var loggedAt int64
		var e telemetry.LogEntry
		if err = rows.Scan(&loggedAt, &e.Message); err != nil {
			err = fmt.Errorf("scanning log entry: %w", err)
			return
		}
		e.Time = fromUnixNano(loggedAt)
		e.Timestamp = e.Time.Format(telemetry.TimestampLayout)
		entries = append(entries, e)
	}
	err = rows.Err()
	return
}

func (s *SqliteStore) StoreLogEntry(ctx context.Context, sessionID int64, e telemetry.LogEntry) (err error) {
	db, err := s.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	stmt, err := db.PrepareContext(ctx, insertLogEntrySQL)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer closeWithError(stmt, &err)

	if _, err = stmt.ExecContext(ctx, sessionID, toUnixNano(e.Time), e.Message); err != nil {
		return fmt.Errorf("inserting log entry: %w", err)
	}
	return nil
}

func (s *SqliteStore) StoreSnapshots(ctx context.Context, sessionID int64, records []*Record) (err error) {
	if len(records) == 0 {
		return
	}

	db, err := s.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollbackWithError(tx, &err)

	for start := 0; start < len(records); start += maxBatchRows {
		end := min(start+maxBatchRows, len(records))
		if err = insertSnapshots(ctx, tx, sessionID, records[start:end]); err != nil {
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	return nil
}

func insertSnapshots(ctx context.Context, tx *sql.Tx, sessionID int64, records []*Record) error {
	const valuesPlaceholder = "(?, ?, ?, ?, ?, ?, ?)"

	values := make([]any, 0, len(records)*7)

	var sb strings.Builder
	sb.WriteString(insertSnapshotSQL)

	for i, r := range records {
		if r == nil || r.Snapshot == nil {
			return fmt.Errorf("record %d: snapshot is required", i)
		}

		data, err := toSnapshotData(sessionID, r)
		if err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
		values = append(values,
			data.SessionID,
			data.ReceivedAt,
			data.ThreatLevel,
			data.EstimatedX,
			data.EstimatedY,
			data.TurretAngle,
			data.Payload,
		)

		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(valuesPlaceholder)
	}

	if _, err := tx.ExecContext(ctx, sb.String(), values...); err != nil {
		return fmt.Errorf("batch inserting snapshots: %w", err)
	}
	return nil
}

func (s *SqliteStore) Close() error {
	s.closeOnce.Do(func() {
		var writeErr, readErr error

		if s.writeDB != nil {
			_ = runSQLCommand(s.writeDB, initIndexesSQL)

			writeErr = s.writeDB.Close()
			s.writeDB = nil
		}

		if s.readDB != nil {
			readErr = s.readDB.Close()
			s.readDB = nil
		}

		s.closeErr = errors.Join(writeErr, readErr)
	})

	return s.closeErr
}
