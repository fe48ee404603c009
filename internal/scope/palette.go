package scope

import (
	"fmt"
	"image/color"
	"math"

	"github.com/roman-kulish/radarscope/internal/snapshot"
)

const (
	CyberTheme    ColorTheme = "cyber"    // Cyan scope, traffic-light threat colors
	PhosphorTheme ColorTheme = "phosphor" // Green monochrome CRT
	AmberTheme    ColorTheme = "amber"    // Amber monochrome CRT
)

// ColorTheme represents a predefined color scheme of the scope.
type ColorTheme string

var validThemes = map[ColorTheme]struct{}{
	CyberTheme:    {},
	PhosphorTheme: {},
	AmberTheme:    {},
}

// ParseColorTheme validates a theme name. An empty name selects CyberTheme.
func ParseColorTheme(name string) (ColorTheme, error) {
	if name == "" {
		return CyberTheme, nil
	}
	if _, ok := validThemes[ColorTheme(name)]; !ok {
		return "", fmt.Errorf("unknown color theme: %s", name)
	}
	return ColorTheme(name), nil
}

// Palette holds every color the render loop draws with.
type Palette struct {
	Background color.NRGBA
	Primary    color.NRGBA // Grid, sweep, labels
	Turret     color.NRGBA
	Intercept  color.NRGBA
	Projectile color.NRGBA
	Explosion  color.NRGBA
	Core       color.NRGBA // Explosion core
	Measured   color.NRGBA

	Danger  color.NRGBA // threat_color red
	Warning color.NRGBA // threat_color orange
	Safe    color.NRGBA // anything else
}

// DefaultPalette is the palette of CyberTheme.
var DefaultPalette = Palette{
	Background: color.NRGBA{R: 0x0a, G: 0x11, B: 0x1c, A: 0xff},
	Primary:    color.NRGBA{R: 0x00, G: 0xf3, B: 0xff, A: 0xff},
	Turret:     color.NRGBA{R: 0x00, G: 0xff, B: 0x9d, A: 0xff},
	Intercept:  color.NRGBA{R: 234, G: 0, B: 55, A: 0xff},
	Projectile: color.NRGBA{R: 0xff, G: 0xff, B: 0x00, A: 0xff},
	Explosion:  color.NRGBA{R: 255, G: 100, B: 0, A: 0xff},
	Core:       color.NRGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff},
	Measured:   color.NRGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff},
	Danger:     color.NRGBA{R: 0xff, G: 0x2a, B: 0x2a, A: 0xff},
	Warning:    color.NRGBA{R: 0xff, G: 0xaa, B: 0x00, A: 0xff},
	Safe:       color.NRGBA{R: 0x00, G: 0xff, B: 0x66, A: 0xff},
}

// NewPalette returns the palette of the given theme.
func NewPalette(theme ColorTheme) Palette {
	switch theme {
	case PhosphorTheme:
		return monochrome(120)
	case AmberTheme:
		return monochrome(40)
	default:
		return DefaultPalette
	}
}

// monochrome derives a single hue CRT palette. Threat severity maps to
// brightness instead of hue.
func monochrome(hue float64) Palette {
	bright := HSV{H: hue, S: 1, V: 1}.NRGBA()
	return Palette{
		Background: HSV{H: hue, S: 0.8, V: 0.06}.NRGBA(),
		Primary:    bright,
		Turret:     HSV{H: hue, S: 0.6, V: 1}.NRGBA(),
		Intercept:  HSV{H: hue, S: 0.3, V: 1}.NRGBA(),
		Projectile: HSV{H: hue, S: 0.2, V: 1}.NRGBA(),
		Explosion:  HSV{H: hue, S: 0.9, V: 1}.NRGBA(),
		Core:       HSV{H: hue, S: 0, V: 1}.NRGBA(),
		Measured:   HSV{H: hue, S: 0.1, V: 1}.NRGBA(),
		Danger:     HSV{H: hue, S: 0, V: 1}.NRGBA(),
		Warning:    HSV{H: hue, S: 0.5, V: 1}.NRGBA(),
		Safe:       HSV{H: hue, S: 1, V: 0.7}.NRGBA(),
	}
}

// ThreatColor resolves the marker color of the estimated target. The mapping
// is exhaustive: red is danger, orange is warning, anything else is safe.
func (p Palette) ThreatColor(c snapshot.ThreatColor) color.NRGBA {
	switch c {
	case snapshot.ColorRed:
		return p.Danger
	case snapshot.ColorOrange:
		return p.Warning
	default:
		return p.Safe
	}
}

// WithAlpha returns c with its alpha replaced by a [0-1], clamped.
func WithAlpha(c color.NRGBA, a float64) color.NRGBA {
	a = math.Max(0, math.Min(1, a))
	c.A = uint8(math.Round(a * 255))
	return c
}

// Hex formats the color as #rrggbb.
func Hex(c color.NRGBA) string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// HSV represents a color in HSV color space
type HSV struct {
	H float64 // Hue [0-360]
	S float64 // Saturation [0-1]
	V float64 // Value [0-1]
}

// NRGBA converts HSV color space to an opaque NRGBA color
func (hsv HSV) NRGBA() color.NRGBA {
	h := hsv.H
	s := hsv.S
	v := hsv.V

	if s <= 0.0 {
		rgb := uint8(v * 255)
		return color.NRGBA{R: rgb, G: rgb, B: rgb, A: 0xff}
	}

	// Normalize hue to [0-6]
	h = math.Mod(h, 360) / 60
	i := math.Floor(h)
	f := h - i

	p := v * (1 - s)
	q := v * (1 - s*f)
	t := v * (1 - s*(1-f))

	var r, g, b float64

	switch int(i) {
	case 0:
		r, g, b = v, t, p
	case 1:
		r, g, b = q, v, p
	case 2:
		r, g, b = p, v, t
	case 3:
		r, g, b = p, q, v
	case 4:
		r, g, b = t, p, v
	default:
		r, g, b = v, p, q
	}

	return color.NRGBA{R: uint8(r * 255), G: uint8(g * 255), B: uint8(b * 255), A: 0xff}
}
