package geometry

import "math"

// SimPoint is a position in simulation space: meters, origin-centered, Y axis up.
type SimPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// ScreenPoint is a position in screen space: pixels, origin at the top left
// corner of the drawing surface, Y axis down.
type ScreenPoint struct {
	X float64
	Y float64
}

// Add returns the point offset by dx, dy pixels.
func (p ScreenPoint) Add(dx, dy float64) ScreenPoint {
	return ScreenPoint{X: p.X + dx, Y: p.Y + dy}
}

// Distance returns the euclidean distance between two screen points.
func (p ScreenPoint) Distance(o ScreenPoint) float64 {
	return math.Hypot(o.X-p.X, o.Y-p.Y)
}

// ToScreen maps a simulation point to screen space around center, at scale
// pixels per meter. The Y axis is inverted because simulation space is Y-up.
func ToScreen(p SimPoint, center ScreenPoint, scale float64) ScreenPoint {
	return ScreenPoint{
		X: center.X + p.X*scale,
		Y: center.Y - p.Y*scale,
	}
}

// FromScreen is the inverse of ToScreen. A zero scale yields the origin.
func FromScreen(p ScreenPoint, center ScreenPoint, scale float64) SimPoint {
	if scale == 0 {
		return SimPoint{}
	}
	return SimPoint{
		X: (p.X - center.X) / scale,
		Y: (center.Y - p.Y) / scale,
	}
}

// BearingToScreenPoint returns the end of a ray of the given length in pixels
// starting at center and pointing along a math-convention bearing
// (0 = East, counter-clockwise positive, degrees).
func BearingToScreenPoint(center ScreenPoint, angleDeg, radius float64) ScreenPoint {
	angleRad := -angleDeg * math.Pi / 180
	return ScreenPoint{
		X: center.X + math.Cos(angleRad)*radius,
		Y: center.Y + math.Sin(angleRad)*radius,
	}
}

// NormalizeDegrees wraps an angle into [0, 360).
func NormalizeDegrees(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	return deg
}

// IsFinite reports whether v is neither NaN nor infinite.
func IsFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
