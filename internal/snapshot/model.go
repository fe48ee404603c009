package snapshot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"

	"github.com/roman-kulish/radarscope/internal/geometry"
)

const (
	ThreatLow    ThreatLevel = "LOW"
	ThreatMedium ThreatLevel = "MEDIUM"
	ThreatHigh   ThreatLevel = "HIGH"

	ColorGreen  ThreatColor = "green"
	ColorOrange ThreatColor = "orange"
	ColorRed    ThreatColor = "red"

	// MaxExplosionFrame bounds decoded explosion frames.
	MaxExplosionFrame = math.MaxInt32
)

// ThreatLevel is the backend classified severity of the estimated target.
type ThreatLevel string

func (l ThreatLevel) String() string {
	return string(l)
}

// ThreatColor is the display color paired upstream with a ThreatLevel.
// The client trusts the pairing and never recomputes it.
type ThreatColor string

func (c ThreatColor) String() string {
	return string(c)
}

// Explosion describes an explosion animation window. Frame grows by one on
// every simulation tick the explosion is present.
type Explosion struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Frame int     `json:"frame"`
}

// Position returns the explosion center in simulation space.
func (e *Explosion) Position() geometry.SimPoint {
	return geometry.SimPoint{X: e.X, Y: e.Y}
}

// Snapshot is one complete state payload describing the simulated scene at an
// instant. It is immutable once decoded and replaced wholesale on every update.
//
// Every pointer field is optional: nil means the layer must not be drawn.
type Snapshot struct {
	TurretAngle     *float64           `json:"turret_angle,omitempty"`     // Degrees, 0 = East, counter-clockwise; nil when missing or not numeric
	MeasuredTarget  *geometry.SimPoint `json:"measured_target,omitempty"`  // Raw sensor reading in meters
	EstimatedTarget *geometry.SimPoint `json:"estimated_target,omitempty"` // Filtered position in meters
	TrueTarget      *geometry.SimPoint `json:"true_target,omitempty"`      // Ground truth, decoded but never drawn
	ThreatLevel     ThreatLevel        `json:"threat_level,omitempty"`
	ThreatColor     ThreatColor        `json:"threat_color,omitempty"`
	InterceptPoint  *geometry.SimPoint `json:"intercept_point,omitempty"` // Present only when an intercept solution exists
	Projectile      *geometry.SimPoint `json:"projectile,omitempty"`      // Present only while a projectile is in flight
	Explosion       *Explosion         `json:"explosion,omitempty"`       // Present only during the explosion animation window
	LockStatus      *float64           `json:"lock_status,omitempty"`     // Weapon lock progress [0-1]
}

// HasTurret reports whether the turret angle is usable for rendering.
func (s *Snapshot) HasTurret() bool {
	return s != nil && s.TurretAngle != nil && geometry.IsFinite(*s.TurretAngle)
}

// wirePoint keeps coordinates optional so a half populated point can be told
// apart from a point at the origin.
type wirePoint struct {
	X json.RawMessage `json:"x"`
	Y json.RawMessage `json:"y"`
}

func (p *wirePoint) point() *geometry.SimPoint {
	if p == nil {
		return nil
	}
	x, y := rawNumber(p.X), rawNumber(p.Y)
	if x == nil || y == nil {
		return nil
	}
	return &geometry.SimPoint{X: *x, Y: *y}
}

type wireExplosion struct {
	wirePoint
	Frame json.RawMessage `json:"frame"`
}

func (e *wireExplosion) explosion() *Explosion {
	if e == nil {
		return nil
	}
	center, frame := e.point(), rawNumber(e.Frame)
	if center == nil || frame == nil {
		return nil
	}
	n := math.Max(0, math.Min(*frame, MaxExplosionFrame))
	return &Explosion{X: center.X, Y: center.Y, Frame: int(n)}
}

type wireSnapshot struct {
	TurretAngle     json.RawMessage `json:"turret_angle"`
	MeasuredTarget  *wirePoint      `json:"measured_target"`
	EstimatedTarget *wirePoint      `json:"estimated_target"`
	TrueTarget      *wirePoint      `json:"true_target"`
	ThreatLevel     string          `json:"threat_level"`
	ThreatColor     string          `json:"threat_color"`
	InterceptPoint  *wirePoint      `json:"intercept_point"`
	Projectile      *wirePoint      `json:"projectile"`
	Explosion       *wireExplosion  `json:"explosion"`
	LockStatus      json.RawMessage `json:"lock_status"`
}

// UnmarshalJSON decodes a state_update payload. Structural problems in single
// fields never fail the whole payload: the field is left absent instead.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var w wireSnapshot
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("decoding snapshot: %w", err)
	}

	*s = Snapshot{
		TurretAngle:     rawNumber(w.TurretAngle),
		MeasuredTarget:  w.MeasuredTarget.point(),
		EstimatedTarget: w.EstimatedTarget.point(),
		TrueTarget:      w.TrueTarget.point(),
		ThreatLevel:     ThreatLevel(w.ThreatLevel),
		ThreatColor:     ThreatColor(w.ThreatColor),
		InterceptPoint:  w.InterceptPoint.point(),
		Projectile:      w.Projectile.point(),
		Explosion:       w.Explosion.explosion(),
		LockStatus:      rawNumber(w.LockStatus),
	}
	return nil
}

// Decode parses a state_update payload.
func Decode(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// rawNumber returns nil for absent, null or non-numeric JSON values.
func rawNumber(raw json.RawMessage) *float64 {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] == '"' || bytes.Equal(raw, []byte("null")) {
		return nil
	}

	var v float64
	if err := json.Unmarshal(raw, &v); err != nil || !geometry.IsFinite(v) {
		return nil
	}
	return &v
}
