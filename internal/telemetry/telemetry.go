package telemetry

import (
	"time"
)

// ThreatStyle is the display style a threat color maps to.
type ThreatStyle string

const (
	StyleDanger  ThreatStyle = "danger"
	StyleWarning ThreatStyle = "warning"
	StyleSafe    ThreatStyle = "safe"
)

// Provider derives the current telemetry view.
type Provider interface {
	Get() *Telemetry
}

// Telemetry is the human readable state of the panel derived from the
// latest snapshot and the connection status
type Telemetry struct {
	Timestamp      time.Time   `json:"timestamp"`                // Time the view was derived
	Connected      bool        `json:"connected"`                // Connection status
	HasSnapshot    bool        `json:"hasSnapshot"`              // A snapshot has arrived at least once
	ShowInitialize bool        `json:"showInitialize"`           // Connected but no snapshot yet
	ThreatLevel    string      `json:"threatLevel,omitempty"`    // LOW, MEDIUM or HIGH as received
	ThreatStyle    ThreatStyle `json:"threatStyle,omitempty"`    // Style mapped from the threat color
	TargetX        *string     `json:"targetX,omitempty"`        // Estimated target X in meters, two decimals
	TargetY        *string     `json:"targetY,omitempty"`        // Estimated target Y in meters, two decimals
	TurretAngle    *string     `json:"turretAngle,omitempty"`    // Turret azimuth in degrees, one decimal
	LockStatus     *string     `json:"lockStatus,omitempty"`     // Weapon lock progress in percent
	LastUpdate     string      `json:"lastUpdate,omitempty"`     // Age of the latest snapshot
	LastUpdateTime *time.Time  `json:"lastUpdateTime,omitempty"` // Arrival time of the latest snapshot
}
