package scope

import "math"

// Sweep is the local animation phase of the scope: the angle of the rotating
// beam in degrees. It advances by a fixed step once per rendered frame and is
// never driven by snapshots.
type Sweep struct {
	angle float64
	step  float64
	ticks uint64
}

// NewSweep creates a sweep starting at 0 degrees that advances step degrees
// per frame.
func NewSweep(step float64) *Sweep {
	return &Sweep{step: step}
}

// Advance moves the sweep by one frame and returns the new angle.
//
// The angle is recomputed from the tick count rather than accumulated so it
// equals (ticks * step) mod 360 without floating point drift.
func (s *Sweep) Advance() float64 {
	s.ticks++
	s.angle = math.Mod(float64(s.ticks)*s.step, 360)
	if s.angle < 0 {
		s.angle += 360
	}
	return s.angle
}

// Angle returns the current sweep angle in [0, 360).
func (s *Sweep) Angle() float64 {
	return s.angle
}

// Ticks returns the number of frames the sweep has advanced.
func (s *Sweep) Ticks() uint64 {
	return s.ticks
}

// Step returns the per frame increment in degrees.
func (s *Sweep) Step() float64 {
	return s.step
}
