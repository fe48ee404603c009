package storage

import (
	"database/sql"
	"time"

	"github.com/roman-kulish/radarscope/internal/snapshot"
)

// Session is one recorded run of the client against a simulation.
type Session struct {
	ID        int64
	StartTime time.Time
	Source    string  // Channel URL the snapshots were received from
	Config    *string // Client configuration as JSON, if recorded
}

// SessionStats summarises what a session holds.
type SessionStats struct {
	Snapshots  int64
	LogEntries int64
	First      time.Time // Arrival time of the first snapshot; zero when there are none
	Last       time.Time // Arrival time of the last snapshot; zero when there are none
}

// Duration returns the time between the first and the last snapshot.
func (s *SessionStats) Duration() time.Duration {
	return s.Last.Sub(s.First)
}

// Record is a snapshot as it was received during a session.
type Record struct {
	ID         int64
	SessionID  int64
	ReceivedAt time.Time
	Snapshot   *snapshot.Snapshot
}

type snapshotData struct {
	SessionID   int64
	ReceivedAt  int64
	ThreatLevel sql.NullString
	EstimatedX  sql.NullFloat64
	EstimatedY  sql.NullFloat64
	TurretAngle sql.NullFloat64
	Payload     string
}
