package scope

import (
	"image"
	"image/color"

	"github.com/roman-kulish/radarscope/internal/geometry"
)

// Stroke describes how a line or an outline is drawn.
type Stroke struct {
	Color color.NRGBA
	Width float64
	Dash  []float64 // Alternating on/off lengths in pixels, nil for solid
}

// Surface is the drawing surface the render loop composites a frame onto.
// Coordinates are screen pixels.
type Surface interface {
	// Bounds returns the drawable area.
	Bounds() image.Rectangle

	// Clear fills the whole surface with a color.
	Clear(c color.NRGBA)

	// Line strokes a straight segment from a to b.
	Line(a, b geometry.ScreenPoint, s Stroke)

	// StrokeCircle strokes a circle outline.
	StrokeCircle(center geometry.ScreenPoint, radius float64, s Stroke)

	// FillCircle fills a disc. A positive glow paints a soft halo of that
	// radius in pixels around the disc before filling it.
	FillCircle(center geometry.ScreenPoint, radius float64, c color.NRGBA, glow float64)

	// FillSweep paints the sweep wedge: an angular gradient trailing trailDeg
	// degrees behind headDeg whose alpha grows from zero at the tail to
	// c.A at the head. Angles use the math convention.
	FillSweep(center geometry.ScreenPoint, radius, headDeg, trailDeg float64, c color.NRGBA)

	// Text draws a label with its baseline starting at p. Size is in pixels.
	Text(p geometry.ScreenPoint, label string, c color.NRGBA, size float64)
}
