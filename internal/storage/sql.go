package storage

import (
	_ "embed"
)

//go:embed schema.sql
var initSchemaSQL string

// Indexes are created when the write connection is closed so that recording
// does not pay for index maintenance on every insert.
const initIndexesSQL = `
CREATE INDEX IF NOT EXISTS idx_snapshots_session_received ON snapshots (session_id, received_at);
CREATE INDEX IF NOT EXISTS idx_log_entries_session ON log_entries (session_id, logged_at);`

const (
	insertSessionSQL = `
INSERT INTO sessions (start_time,
                      source,
                      config)
VALUES (?, ?, ?)`

	selectSessionSQL = `
SELECT 
    id, 
    start_time, 
    source, 
    config 
FROM sessions 
WHERE 
    id = ?`

	selectSessionsSQL = `
SELECT 
    id, 
    start_time, 
    source, 
    config 
FROM sessions
ORDER BY start_time, id`

	selectSessionStatsSQL = `
SELECT 
    (SELECT COUNT(*) FROM snapshots WHERE session_id = ?1),
    (SELECT COUNT(*) FROM log_entries WHERE session_id = ?1),
    (SELECT MIN(received_at) FROM snapshots WHERE session_id = ?1),
    (SELECT MAX(received_at) FROM snapshots WHERE session_id = ?1)`

	insertSnapshotSQL = `
INSERT INTO snapshots (session_id,
                       received_at,
                       threat_level,
                       estimated_x,
                       estimated_y,
                       turret_angle,
                       payload)
VALUES `

	selectSnapshotsSQL = `
SELECT 
    id, 
    received_at, 
    payload
FROM snapshots
WHERE 
    session_id = ?
    AND received_at >= ?
    AND received_at <= ?
    AND id > ?
ORDER BY id
LIMIT ?`

	insertLogEntrySQL = `
INSERT INTO log_entries (session_id,
                         logged_at,
                         message)
VALUES (?, ?, ?)`

	selectLogEntriesSQL = `
SELECT 
    logged_at, 
    message
FROM log_entries
WHERE 
    session_id = ?
ORDER BY id`
)
