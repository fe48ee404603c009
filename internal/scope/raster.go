package scope

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"sync"

	"github.com/golang/freetype"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/math/fixed"
	"golang.org/x/image/vector"

	"github.com/roman-kulish/radarscope/internal/geometry"
)

const (
	dpi = 72.0 // 1pt == 1px

	glowSteps         = 6
	glowAlpha         = 0.12
	minSegmentLength  = 3.0 // px per polygon edge when approximating circles
	minCircleSegments = 24
	maxCircleSegments = 720
	textReach         = 1024.0 // px outside the image beyond which labels are skipped
)

var (
	parsedFontOnce sync.Once
	parsedFont     *truetype.Font
	parsedFontErr  error
)

func loadFont() (*truetype.Font, error) {
	parsedFontOnce.Do(func() {
		parsedFont, parsedFontErr = freetype.ParseFont(gomono.TTF)
		if parsedFontErr != nil {
			parsedFontErr = fmt.Errorf("parsing font: %w", parsedFontErr)
		}
	})
	return parsedFont, parsedFontErr
}

// RasterSurface is a Surface backed by an in-memory RGBA image. Shapes are
// rasterized with anti-aliasing, labels are rendered with freetype.
type RasterSurface struct {
	img *image.RGBA
	z   *vector.Rasterizer

	// Pending path in image coordinates. ends holds the end offset of every
	// closed subpath in pts.
	pts  []geometry.ScreenPoint
	ends []int

	// Pixels composited since the last Clear.
	painted int

	font    *truetype.Font
	context *freetype.Context
	faces   map[float64]font.Face
}

// NewRasterSurface allocates a width x height surface.
func NewRasterSurface(width, height int) (*RasterSurface, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: invalid size %dx%d", ErrSurfaceUnavailable, width, height)
	}

	f, err := loadFont()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSurfaceUnavailable, err)
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))

	ctx := freetype.NewContext()
	ctx.SetDPI(dpi)
	ctx.SetFont(f)
	ctx.SetHinting(font.HintingNone)
	ctx.SetClip(img.Bounds())
	ctx.SetDst(img)

	return &RasterSurface{
		img:     img,
		z:       vector.NewRasterizer(0, 0),
		font:    f,
		context: ctx,
		faces:   make(map[float64]font.Face),
	}, nil
}

// Image returns the backing image. It is overwritten by the next frame.
func (s *RasterSurface) Image() *image.RGBA {
	return s.img
}

func (s *RasterSurface) Bounds() image.Rectangle {
	return s.img.Bounds()
}

func (s *RasterSurface) Clear(c color.NRGBA) {
	draw.Draw(s.img, s.img.Bounds(), image.NewUniform(c), image.Point{}, draw.Src)
	s.painted = 0
}

func (s *RasterSurface) Line(a, b geometry.ScreenPoint, st Stroke) {
	if len(st.Dash) == 0 {
		s.begin()
		s.segment(a, b, st.Width)
		s.fill(st.Color)
		return
	}

	length := a.Distance(b)
	if length == 0 {
		return
	}
	dx, dy := (b.X-a.X)/length, (b.Y-a.Y)/length

	s.begin()
	var pos float64
	for i := 0; pos < length; i++ {
		dash := st.Dash[i%len(st.Dash)]
		if dash <= 0 {
			dash = 1
		}
		end := math.Min(pos+dash, length)
		if i%2 == 0 { // "on" interval
			s.segment(a.Add(dx*pos, dy*pos), a.Add(dx*end, dy*end), st.Width)
		}
		pos = end
	}
	s.fill(st.Color)
}

func (s *RasterSurface) StrokeCircle(center geometry.ScreenPoint, radius float64, st Stroke) {
	if radius <= 0 || !geometry.IsFinite(radius) {
		return
	}
	half := math.Max(st.Width, 1) / 2
	outer := radius + half
	inner := math.Max(radius-half, 0)

	s.begin()
	s.circle(center, outer, false)
	if inner > 0 {
		s.circle(center, inner, true)
	}
	s.fill(st.Color)
}

func (s *RasterSurface) FillCircle(center geometry.ScreenPoint, radius float64, c color.NRGBA, glow float64) {
	if radius <= 0 || !geometry.IsFinite(radius) {
		return
	}

	if glow > 0 && geometry.IsFinite(glow) {
		halo := WithAlpha(c, glowAlpha*float64(c.A)/0xff)
		for i := glowSteps; i >= 1; i-- {
			s.begin()
			s.circle(center, radius+glow*float64(i)/glowSteps, false)
			s.fill(halo)
		}
	}

	s.begin()
	s.circle(center, radius, false)
	s.fill(c)
}

// FillSweep paints the wedge trailing headDeg in a single pass. The alpha
// ramps linearly from zero at the tail to c.A at the head.
func (s *RasterSurface) FillSweep(center geometry.ScreenPoint, radius, headDeg, trailDeg float64, c color.NRGBA) {
	if radius <= 0 || trailDeg <= 0 || c.A == 0 || !geometry.IsFinite(radius) {
		return
	}
	trailDeg = math.Min(trailDeg, 360)

	r := sweepBounds(center, radius, headDeg, trailDeg).Intersect(s.img.Bounds())
	if r.Empty() {
		return
	}

	maxAlpha := float64(c.A) / 0xff
	for y := r.Min.Y; y < r.Max.Y; y++ {
		dy := center.Y - (float64(y) + 0.5)
		for x := r.Min.X; x < r.Max.X; x++ {
			dx := float64(x) + 0.5 - center.X

			coverage := radius + 0.5 - math.Hypot(dx, dy)
			if coverage <= 0 {
				continue
			}
			behind := geometry.NormalizeDegrees(headDeg - math.Atan2(dy, dx)*180/math.Pi)
			if behind >= trailDeg {
				continue
			}
			s.blend(x, y, c, maxAlpha*(1-behind/trailDeg)*math.Min(coverage, 1))
		}
	}
	s.painted += r.Dx() * r.Dy()
}

func (s *RasterSurface) Text(p geometry.ScreenPoint, label string, c color.NRGBA, size float64) {
	b := s.img.Bounds()
	if !geometry.IsFinite(p.X) || !geometry.IsFinite(p.Y) ||
		p.X < float64(b.Min.X)-textReach || p.X > float64(b.Max.X)+textReach ||
		p.Y < float64(b.Min.Y)-textReach || p.Y > float64(b.Max.Y)+textReach {
		return
	}

	s.context.SetFontSize(size)
	s.context.SetSrc(image.NewUniform(c))

	pt := fixed.Point26_6{
		X: fixed.Int26_6(p.X * 64),
		Y: fixed.Int26_6(p.Y * 64),
	}
	_, _ = s.context.DrawString(label, pt)
}

// TextWidth measures a label in pixels.
func (s *RasterSurface) TextWidth(label string, size float64) float64 {
	face, ok := s.faces[size]
	if !ok {
		face = truetype.NewFace(s.font, &truetype.Options{
			Size:    size,
			DPI:     dpi,
			Hinting: font.HintingNone,
		})
		s.faces[size] = face
	}
	return float64(font.MeasureString(face, label)) / 64
}

// Close releases the cached font faces.
func (s *RasterSurface) Close() error {
	for size, face := range s.faces {
		_ = face.Close()
		delete(s.faces, size)
	}
	return nil
}

func (s *RasterSurface) begin() {
	s.pts = s.pts[:0]
	s.ends = s.ends[:0]
}

func (s *RasterSurface) lineTo(x, y float64) {
	s.pts = append(s.pts, geometry.ScreenPoint{X: x, Y: y})
}

func (s *RasterSurface) closePath() {
	s.ends = append(s.ends, len(s.pts))
}

// fill rasterizes the pending path within its bounding box clipped to the
// image and composites c over that rectangle only.
func (s *RasterSurface) fill(c color.NRGBA) {
	if c.A == 0 || len(s.pts) == 0 {
		return
	}
	r := boundsOf(s.pts).Intersect(s.img.Bounds())
	if r.Empty() {
		return
	}

	// Subpaths are clipped first so far off-canvas points never reach the
	// rasterizer, whose fixed point math walks every row from the topmost one.
	clip := r.Inset(-1)
	s.z.Reset(r.Dx(), r.Dy())
	ox, oy := float64(r.Min.X), float64(r.Min.Y)
	from := 0
	for _, to := range s.ends {
		poly := clipPolygon(s.pts[from:to], clip)
		from = to
		if len(poly) < 3 {
			continue
		}

		s.z.MoveTo(float32(poly[0].X-ox), float32(poly[0].Y-oy))
		for _, p := range poly[1:] {
			s.z.LineTo(float32(p.X-ox), float32(p.Y-oy))
		}
		s.z.ClosePath()
	}

	s.z.DrawOp = draw.Over
	s.z.Draw(s.img, r, image.NewUniform(c), image.Point{})
	s.painted += r.Dx() * r.Dy()
}

// blend composites c at alpha a over one pixel.
func (s *RasterSurface) blend(x, y int, c color.NRGBA, a float64) {
	i := s.img.PixOffset(x, y)
	p := s.img.Pix[i : i+4 : i+4]
	k := 1 - a
	p[0] = uint8(float64(c.R)*a + float64(p[0])*k + 0.5)
	p[1] = uint8(float64(c.G)*a + float64(p[1])*k + 0.5)
	p[2] = uint8(float64(c.B)*a + float64(p[2])*k + 0.5)
	p[3] = uint8(0xff*a + float64(p[3])*k + 0.5)
}

// segment adds a closed quad of the given width around the segment a-b.
func (s *RasterSurface) segment(a, b geometry.ScreenPoint, width float64) {
	length := a.Distance(b)
	if length == 0 {
		return
	}
	half := math.Max(width, 1) / 2
	nx, ny := -(b.Y-a.Y)/length*half, (b.X-a.X)/length*half

	s.lineTo(a.X+nx, a.Y+ny)
	s.lineTo(b.X+nx, b.Y+ny)
	s.lineTo(b.X-nx, b.Y-ny)
	s.lineTo(a.X-nx, a.Y-ny)
	s.closePath()
}

// circle adds a closed polygon approximating a circle. Reversed circles wind
// the opposite way, which cuts holes into rings.
func (s *RasterSurface) circle(center geometry.ScreenPoint, radius float64, reverse bool) {
	n := int(math.Min(maxCircleSegments, math.Max(minCircleSegments, math.Ceil(2*math.Pi*radius/minSegmentLength))))
	dir := 1.0
	if reverse {
		dir = -1
	}

	for i := 0; i < n; i++ {
		a := dir * 2 * math.Pi * float64(i) / float64(n)
		s.lineTo(center.X+math.Cos(a)*radius, center.Y+math.Sin(a)*radius)
	}
	s.closePath()
}

// boundsOf returns the pixel rectangle covering pts, grown by one pixel for
// anti-aliasing.
func boundsOf(pts []geometry.ScreenPoint) image.Rectangle {
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, p := range pts {
		minX, maxX = math.Min(minX, p.X), math.Max(maxX, p.X)
		minY, maxY = math.Min(minY, p.Y), math.Max(maxY, p.Y)
	}
	if !geometry.IsFinite(minX) || !geometry.IsFinite(minY) || !geometry.IsFinite(maxX) || !geometry.IsFinite(maxY) {
		return image.Rectangle{}
	}
	return image.Rect(
		clampCoord(math.Floor(minX)-1), clampCoord(math.Floor(minY)-1),
		clampCoord(math.Ceil(maxX)+1), clampCoord(math.Ceil(maxY)+1),
	)
}

// sweepBounds returns the rectangle covering the wedge from headDeg-trailDeg
// to headDeg.
func sweepBounds(center geometry.ScreenPoint, radius, headDeg, trailDeg float64) image.Rectangle {
	pts := []geometry.ScreenPoint{
		center,
		geometry.BearingToScreenPoint(center, headDeg-trailDeg, radius),
		geometry.BearingToScreenPoint(center, headDeg, radius),
	}
	for deg := 0.0; deg < 360; deg += 90 {
		if geometry.NormalizeDegrees(headDeg-deg) <= trailDeg {
			pts = append(pts, geometry.BearingToScreenPoint(center, deg, radius))
		}
	}
	return boundsOf(pts)
}

// clipPolygon clips a closed polygon to clip. Edges added along the clip
// boundary keep the winding of every point inside it.
func clipPolygon(pts []geometry.ScreenPoint, clip image.Rectangle) []geometry.ScreenPoint {
	minX, minY := float64(clip.Min.X), float64(clip.Min.Y)
	maxX, maxY := float64(clip.Max.X), float64(clip.Max.Y)

	pts = clipHalfPlane(pts, func(p geometry.ScreenPoint) float64 { return p.X - minX })
	pts = clipHalfPlane(pts, func(p geometry.ScreenPoint) float64 { return maxX - p.X })
	pts = clipHalfPlane(pts, func(p geometry.ScreenPoint) float64 { return p.Y - minY })
	return clipHalfPlane(pts, func(p geometry.ScreenPoint) float64 { return maxY - p.Y })
}

// clipHalfPlane keeps the part of a closed polygon where dist is not negative.
func clipHalfPlane(pts []geometry.ScreenPoint, dist func(geometry.ScreenPoint) float64) []geometry.ScreenPoint {
	if len(pts) == 0 {
		return nil
	}

	out := make([]geometry.ScreenPoint, 0, len(pts)+4)
	prev := pts[len(pts)-1]
	dPrev := dist(prev)
	for _, p := range pts {
		d := dist(p)
		if (d >= 0) != (dPrev >= 0) {
			t := dPrev / (dPrev - d)
			out = append(out, geometry.ScreenPoint{X: prev.X + (p.X-prev.X)*t, Y: prev.Y + (p.Y-prev.Y)*t})
		}
		if d >= 0 {
			out = append(out, p)
		}
		prev, dPrev = p, d
	}
	return out
}

// clampCoord keeps far off-canvas coordinates within int range.
func clampCoord(v float64) int {
	return int(math.Max(-1<<30, math.Min(1<<30, v)))
}
