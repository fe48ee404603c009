package scope

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strconv"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/roman-kulish/radarscope/internal/geometry"
	"github.com/roman-kulish/radarscope/internal/snapshot"
)

const (
	defaultScale            = 4.0   // px per meter
	defaultRadius           = 300.0 // px, 75 m at the default scale
	defaultRingSpacing      = 50.0  // px
	defaultSweepStep        = 0.5   // degrees per frame
	defaultSweepTrail       = 72.0  // degrees
	defaultExplosionHorizon = 20    // frames until an explosion ring is fully faded
	defaultExplosionGrowth  = 5.0   // px of ring radius per explosion frame

	degreeLabelStep  = 30
	gridLabelSize    = 10.0
	targetLabelSize  = 12.0
	sweepTrailAlpha  = 0.1
	sweepEdgeAlpha   = 0.3
	ringAlpha        = 0.2
	ringLabelAlpha   = 0.5
	crosshairAlpha   = 0.3
	degreeLabelAlpha = 0.8
	interceptAlpha   = 0.5
	measuredAlpha    = 0.2
	coreAlpha        = 0.8
	degreeLabelGap   = 10.0 // px between the scope edge and the degree labels
)

// LabelMargin is the room a frame needs around the scope for the degree
// labels.
const LabelMargin = 30.0

// ErrSurfaceUnavailable is returned when the scope has nothing to draw on.
// It is a setup failure: a scope is never created without a usable surface.
var ErrSurfaceUnavailable = errors.New("drawing surface unavailable")

// Layer names one visual layer of a frame.
type Layer string

const (
	LayerGrid       Layer = "grid"
	LayerSweep      Layer = "sweep"
	LayerTurret     Layer = "turret"
	LayerIntercept  Layer = "intercept"
	LayerProjectile Layer = "projectile"
	LayerExplosion  Layer = "explosion"
	LayerMeasured   Layer = "measured"
	LayerEstimated  Layer = "estimated"
)

// SnapshotSource provides the latest available snapshot, or nil when none
// has been received.
type SnapshotSource interface {
	Snapshot() *snapshot.Snapshot
}

// SnapshotSourceFunc adapts a function to SnapshotSource.
type SnapshotSourceFunc func() *snapshot.Snapshot

func (f SnapshotSourceFunc) Snapshot() *snapshot.Snapshot {
	return f()
}

// TextMeasurer is implemented by surfaces able to measure labels; the scope
// centers perimeter labels when it is available.
type TextMeasurer interface {
	TextWidth(label string, size float64) float64
}

// Config holds the geometry and animation settings of the scope. Zero values
// select the defaults.
type Config struct {
	Scale            float64 // Pixels per meter
	Radius           float64 // Scope radius in pixels
	RingSpacing      float64 // Distance between range rings in pixels
	SweepStep        float64 // Sweep advance per frame in degrees
	SweepTrail       float64 // Length of the sweep wedge in degrees
	ExplosionHorizon int     // Explosion frame at which the ring is fully faded
	ExplosionGrowth  float64 // Ring radius growth per explosion frame in pixels

	// Minimal drops the intercept, projectile and explosion layers.
	Minimal bool
}

func (c *Config) setDefaults() {
	if c.Scale == 0 {
		c.Scale = defaultScale
	}
	if c.Radius == 0 {
		c.Radius = defaultRadius
	}
	if c.RingSpacing == 0 {
		c.RingSpacing = defaultRingSpacing
	}
	if c.SweepStep == 0 {
		c.SweepStep = defaultSweepStep
	}
	if c.SweepTrail == 0 {
		c.SweepTrail = defaultSweepTrail
	}
	if c.ExplosionHorizon == 0 {
		c.ExplosionHorizon = defaultExplosionHorizon
	}
	if c.ExplosionGrowth == 0 {
		c.ExplosionGrowth = defaultExplosionGrowth
	}
}

// Validate checks the configuration after defaults are applied.
func (c *Config) Validate() error {
	switch {
	case c.Scale < 0 || !geometry.IsFinite(c.Scale):
		return fmt.Errorf("scope.Config: scale must be positive: %v given", c.Scale)
	case c.Radius < 0 || !geometry.IsFinite(c.Radius):
		return fmt.Errorf("scope.Config: radius must be positive: %v given", c.Radius)
	case c.RingSpacing < 0:
		return fmt.Errorf("scope.Config: ring spacing must be positive: %v given", c.RingSpacing)
	case c.SweepTrail < 0 || c.SweepTrail > 360:
		return fmt.Errorf("scope.Config: sweep trail must be between 0 and 360 degrees: %v given", c.SweepTrail)
	case c.ExplosionHorizon < 0:
		return fmt.Errorf("scope.Config: explosion horizon cannot be negative: %d given", c.ExplosionHorizon)
	}
	return nil
}

// Extent returns the distance from the scope center to the outer edge of the
// degree labels once defaults are applied.
func (c Config) Extent() float64 {
	c.setDefaults()
	return c.Radius + LabelMargin
}

// FrameInfo describes a rendered frame.
type FrameInfo struct {
	Tick   uint64
	Angle  float64 // Sweep angle after this frame's advance
	Live   bool    // A usable snapshot was rendered
	Layers []Layer // Layers drawn, in draw order
}

// Drew reports whether the layer was drawn in this frame.
func (f FrameInfo) Drew(l Layer) bool {
	for _, drawn := range f.Layers {
		if drawn == l {
			return true
		}
	}
	return false
}

// WithLogger sets the logger for the scope
func WithLogger(logger *slog.Logger) func(*Scope) {
	return func(s *Scope) {
		s.logger = logger.With(slog.String("component", "scope"))
	}
}

// WithPalette sets the colors the scope draws with
func WithPalette(p Palette) func(*Scope) {
	return func(s *Scope) {
		s.palette = p
	}
}

// WithMeter sets the meter used to create the scope instruments
func WithMeter(m metric.Meter) func(*Scope) {
	return func(s *Scope) {
		s.meter = m
	}
}

// WithFrameHook registers a function called after every rendered frame,
// on the render goroutine.
func WithFrameHook(fn func(FrameInfo)) func(*Scope) {
	return func(s *Scope) {
		s.onFrame = fn
	}
}

// Scope is the radar render loop. It owns the animation phase and composites
// the layers of one frame per Tick, pulling the latest snapshot each time.
//
// A Scope is not safe for concurrent use: Tick must only be called from one
// goroutine, which is what Start does.
type Scope struct {
	config  Config
	surface Surface
	source  SnapshotSource
	sweep   *Sweep
	palette Palette
	center  geometry.ScreenPoint

	logger  *slog.Logger
	meter   metric.Meter
	onFrame func(FrameInfo)

	frames  metric.Int64Counter
	skipped metric.Int64Counter

	mu   sync.Mutex // guards loop
	loop *Loop
}

// NewScope creates a scope drawing on surface. It fails with
// ErrSurfaceUnavailable when the surface is nil or empty.
func NewScope(surface Surface, source SnapshotSource, config Config, options ...func(*Scope)) (*Scope, error) {
	if surface == nil || surface.Bounds().Empty() {
		return nil, ErrSurfaceUnavailable
	}
	if source == nil {
		source = SnapshotSourceFunc(func() *snapshot.Snapshot { return nil })
	}

	config.setDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	b := surface.Bounds()
	s := Scope{
		config:  config,
		surface: surface,
		source:  source,
		sweep:   NewSweep(config.SweepStep),
		palette: DefaultPalette,
		center: geometry.ScreenPoint{
			X: float64(b.Min.X) + float64(b.Dx())/2,
			Y: float64(b.Min.Y) + float64(b.Dy())/2,
		},
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		meter:  noop.Meter{},
	}

	for _, option := range options {
		option(&s)
	}

	var err error
	if s.frames, err = s.meter.Int64Counter("scope.frames", metric.WithDescription("Rendered frames")); err != nil {
		return nil, fmt.Errorf("creating frames counter: %w", err)
	}
	if s.skipped, err = s.meter.Int64Counter("scope.layers.skipped", metric.WithDescription("Layers skipped because their data was missing")); err != nil {
		return nil, fmt.Errorf("creating skipped layers counter: %w", err)
	}

	return &s, nil
}

// Center returns the screen position of the scope origin.
func (s *Scope) Center() geometry.ScreenPoint {
	return s.center
}

// Config returns the effective configuration.
func (s *Scope) Config() Config {
	return s.config
}

// Sweep returns the animation phase.
func (s *Scope) Sweep() *Sweep {
	return s.sweep
}

// Tick renders one frame. The sweep advances on every call whether or not
// a snapshot is available.
func (s *Scope) Tick() FrameInfo {
	snap := s.source.Snapshot()

	f := frame{
		scope: s,
		snap:  snap,
		info:  FrameInfo{Tick: s.sweep.Ticks() + 1},
	}

	s.surface.Clear(s.palette.Background)
	f.drawGrid()
	f.info.Angle = s.sweep.Advance()
	f.drawSweep()

	if snap.HasTurret() {
		f.info.Live = true
		f.drawTurret()
		if !s.config.Minimal {
			f.drawIntercept()
			f.drawProjectile()
			f.drawExplosion()
		}
		f.drawMeasured()
		f.drawEstimated()
	} else if snap != nil {
		s.logger.Debug("snapshot without usable turret angle, rendering idle scope", slog.Uint64("tick", f.info.Tick))
	}

	ctx := context.Background()
	s.frames.Add(ctx, 1, metric.WithAttributes(attribute.Bool("live", f.info.Live)))
	if f.missing > 0 {
		s.skipped.Add(ctx, int64(f.missing))
	}

	if s.onFrame != nil {
		s.onFrame(f.info)
	}
	return f.info
}

// ExplosionRing returns the ring radius in pixels and the stroke opacity of
// an explosion at the given frame.
func (s *Scope) ExplosionRing(frame int) (radius, opacity float64) {
	radius = float64(frame) * s.config.ExplosionGrowth
	opacity = 1
	if s.config.ExplosionHorizon > 0 {
		opacity = 1 - float64(frame)/float64(s.config.ExplosionHorizon)
	}
	return math.Max(radius, 0), math.Max(0, math.Min(1, opacity))
}

// frame carries the state of one Tick.
type frame struct {
	scope   *Scope
	snap    *snapshot.Snapshot
	info    FrameInfo
	missing int
}

func (f *frame) drew(l Layer) {
	f.info.Layers = append(f.info.Layers, l)
}

func (f *frame) toScreen(p geometry.SimPoint) geometry.ScreenPoint {
	return geometry.ToScreen(p, f.scope.center, f.scope.config.Scale)
}

func (f *frame) drawGrid() {
	s := f.scope
	sf := s.surface
	c := s.center
	radius := s.config.Radius
	primary := s.palette.Primary

	if s.config.RingSpacing > 0 {
		for r := s.config.RingSpacing; r <= radius+1e-9; r += s.config.RingSpacing {
			ring := WithAlpha(primary, ringAlpha)
			if math.Abs(r-radius) < 1e-9 {
				ring = primary
			}
			sf.StrokeCircle(c, r, Stroke{Color: ring, Width: 1})
			sf.Text(c.Add(5, -r+10), rangeLabel(r/s.config.Scale), WithAlpha(primary, ringLabelAlpha), gridLabelSize)
		}
	}

	crosshair := Stroke{Color: WithAlpha(primary, crosshairAlpha), Width: 1}
	sf.Line(c.Add(-radius, 0), c.Add(radius, 0), crosshair)
	sf.Line(c.Add(0, -radius), c.Add(0, radius), crosshair)

	measurer, canMeasure := sf.(TextMeasurer)
	for deg := 0; deg < 360; deg += degreeLabelStep {
		label := strconv.Itoa(deg) + "°"
		p := geometry.BearingToScreenPoint(c, float64(deg), radius+degreeLabelGap)
		if canMeasure {
			p = p.Add(-measurer.TextWidth(label, gridLabelSize)/2, gridLabelSize/2)
		} else {
			p = p.Add(-5, 0)
		}
		sf.Text(p, label, WithAlpha(primary, degreeLabelAlpha), gridLabelSize)
	}

	f.drew(LayerGrid)
}

func (f *frame) drawSweep() {
	s := f.scope
	angle := s.sweep.Angle()

	s.surface.FillSweep(s.center, s.config.Radius, angle, s.config.SweepTrail, WithAlpha(s.palette.Primary, sweepTrailAlpha))

	edge := geometry.BearingToScreenPoint(s.center, angle, s.config.Radius)
	s.surface.Line(s.center, edge, Stroke{Color: WithAlpha(s.palette.Primary, sweepEdgeAlpha), Width: 1})

	f.drew(LayerSweep)
}

func (f *frame) drawTurret() {
	s := f.scope
	end := geometry.BearingToScreenPoint(s.center, *f.snap.TurretAngle, s.config.Radius)

	s.surface.Line(s.center, end, Stroke{Color: s.palette.Turret, Width: 1, Dash: []float64{5, 5}})
	s.surface.FillCircle(s.center, 4, s.palette.Turret, 0)

	f.drew(LayerTurret)
}

func (f *frame) drawIntercept() {
	if f.snap.InterceptPoint == nil {
		return
	}
	s := f.scope
	p := f.toScreen(*f.snap.InterceptPoint)
	st := Stroke{Color: WithAlpha(s.palette.Intercept, interceptAlpha), Width: 1, Dash: []float64{2, 4}}

	s.surface.Line(p.Add(-10, 0), p.Add(10, 0), st)
	s.surface.Line(p.Add(0, -10), p.Add(0, 10), st)

	f.drew(LayerIntercept)
}

func (f *frame) drawProjectile() {
	if f.snap.Projectile == nil {
		return
	}
	s := f.scope
	s.surface.FillCircle(f.toScreen(*f.snap.Projectile), 3, s.palette.Projectile, 10)

	f.drew(LayerProjectile)
}

func (f *frame) drawExplosion() {
	e := f.snap.Explosion
	if e == nil {
		return
	}
	s := f.scope
	p := f.toScreen(e.Position())
	radius, opacity := s.ExplosionRing(e.Frame)

	// A faded ring past the horizon is not drawn.
	if opacity > 0 {
		s.surface.StrokeCircle(p, radius, Stroke{Color: WithAlpha(s.palette.Explosion, opacity), Width: 3})
	}
	s.surface.FillCircle(p, 4, WithAlpha(s.palette.Core, coreAlpha), 0)

	f.drew(LayerExplosion)
}

func (f *frame) drawMeasured() {
	if f.snap.MeasuredTarget == nil {
		f.missing++
		return
	}
	s := f.scope
	s.surface.StrokeCircle(f.toScreen(*f.snap.MeasuredTarget), 3, Stroke{Color: WithAlpha(s.palette.Measured, measuredAlpha), Width: 2})

	f.drew(LayerMeasured)
}

func (f *frame) drawEstimated() {
	if f.snap.EstimatedTarget == nil {
		f.missing++
		return
	}
	s := f.scope
	p := f.toScreen(*f.snap.EstimatedTarget)
	c := s.palette.ThreatColor(f.snap.ThreatColor)

	s.surface.FillCircle(p, 5, c, 15)
	s.surface.Text(p.Add(10, -10), fmt.Sprintf("TRGT [%s]", f.snap.ThreatLevel), c, targetLabelSize)
	s.surface.Line(p, p.Add(8, -8), Stroke{Color: c, Width: 2})

	f.drew(LayerEstimated)
}

// rangeLabel formats a ring distance, rounding halves away from zero.
func rangeLabel(meters float64) string {
	return strconv.FormatFloat(math.Round(meters), 'f', 0, 64) + "m"
}
