package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

func closeWithError(cl interface{ Close() error }, err *error) {
	if cErr := cl.Close(); cErr != nil && *err == nil {
		*err = cErr
	}
}

func rollbackWithError(rb interface{ Rollback() error }, err *error) {
	if cErr := rb.Rollback(); cErr != nil && *err == nil && !errors.Is(cErr, sql.ErrTxDone) {
		*err = cErr
	}
}

func toSnapshotData(sessionID int64, r *Record) (*snapshotData, error) {
	payload, err := json.Marshal(r.Snapshot)
	if err != nil {
		return nil, fmt.Errorf("marshaling snapshot: %w", err)
	}

	data := snapshotData{
		SessionID:  sessionID,
		ReceivedAt: toUnixNano(r.ReceivedAt),
		Payload:    string(payload),
	}

	snap := r.Snapshot
	if snap.ThreatLevel != "" {
		data.ThreatLevel = sql.NullString{String: snap.ThreatLevel.String(), Valid: true}
	}
	if e := snap.EstimatedTarget; e != nil {
		data.EstimatedX = sql.NullFloat64{Float64: e.X, Valid: true}
		data.EstimatedY = sql.NullFloat64{Float64: e.Y, Valid: true}
	}
	if snap.HasTurret() {
		data.TurretAngle = sql.NullFloat64{Float64: *snap.TurretAngle, Valid: true}
	}
	return &data, nil
}

func toConfigData(config any) (sql.NullString, error) {
	switch c := config.(type) {
	case nil:
		return sql.NullString{}, nil

	case string:
		return sql.NullString{String: c, Valid: true}, nil

	case []byte:
		return sql.NullString{String: string(c), Valid: true}, nil

	default:
		p, err := json.Marshal(config)
		if err != nil {
			return sql.NullString{}, fmt.Errorf("marshaling config: %w", err)
		}
		return sql.NullString{String: string(p), Valid: true}, nil
	}
}

func toUnixNano(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromUnixNano(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}
