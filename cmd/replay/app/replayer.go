package app

import (
	"fmt"
	"image"
	"math"
	"time"

	"github.com/roman-kulish/radarscope/internal/geometry"
	"github.com/roman-kulish/radarscope/internal/scope"
	"github.com/roman-kulish/radarscope/internal/snapshot"
	"github.com/roman-kulish/radarscope/internal/storage"
)

const (
	timestampLayout = "2006-01-02 15:04:05.000"
	timestampSize   = 14.0
	timestampMargin = 10.0
)

// FrameWriter receives every written frame. n counts written frames from 1.
// The image is reused for the next frame.
type FrameWriter func(n int, img *image.RGBA) error

// Replayer renders recorded snapshots through the scope. Between two
// snapshots it renders as many frames as the live client would have at the
// replay frame rate, so the sweep keeps its pace.
type Replayer struct {
	surface *scope.RasterSurface
	scope   *scope.Scope
	palette scope.Palette
	write   FrameWriter

	fps    int
	every  int
	maxGap time.Duration

	current  *snapshot.Snapshot
	last     time.Time
	rendered int
	written  int
}

// NewReplayer creates a replayer rendering on a new surface of config.Size.
func NewReplayer(config *Config, write FrameWriter) (*Replayer, error) {
	surface, err := scope.NewRasterSurface(config.Size, config.Size)
	if err != nil {
		return nil, fmt.Errorf("creating surface: %w", err)
	}

	r := Replayer{
		surface: surface,
		palette: scope.NewPalette(config.Theme),
		write:   write,
		fps:     config.FPS,
		every:   config.Every,
		maxGap:  config.MaxGap,
	}

	// Keep the default geometry when the frame is large enough for it, shrink
	// the scope otherwise.
	sc := scope.Config{Minimal: config.Minimal}
	if edge := float64(config.Size)/2 - scope.LabelMargin; edge < sc.Extent()-scope.LabelMargin {
		sc.Radius = edge
		sc.Scale = edge / 75
		sc.RingSpacing = edge / 6
	}

	source := scope.SnapshotSourceFunc(func() *snapshot.Snapshot { return r.current })
	if r.scope, err = scope.NewScope(surface, source, sc, scope.WithPalette(r.palette)); err != nil {
		return nil, fmt.Errorf("creating scope: %w", err)
	}
	return &r, nil
}

// Feed renders the frames up to the arrival of rec and makes it the current
// snapshot.
func (r *Replayer) Feed(rec *storage.Record) error {
	if !r.last.IsZero() {
		gap := min(max(rec.ReceivedAt.Sub(r.last), 0), r.maxGap)
		n := int(math.Round(gap.Seconds() * float64(r.fps)))
		for i := 0; i < n; i++ {
			if err := r.frame(r.last.Add(time.Duration(i) * time.Second / time.Duration(r.fps))); err != nil {
				return err
			}
		}
	}

	r.current = rec.Snapshot
	r.last = rec.ReceivedAt
	return nil
}

// Finish renders the last snapshot.
func (r *Replayer) Finish() error {
	if r.last.IsZero() {
		return nil
	}
	return r.frame(r.last)
}

// Rendered returns the number of rendered frames.
func (r *Replayer) Rendered() int {
	return r.rendered
}

// Written returns the number of frames passed to the writer.
func (r *Replayer) Written() int {
	return r.written
}

// Close releases the surface.
func (r *Replayer) Close() error {
	return r.surface.Close()
}

func (r *Replayer) frame(at time.Time) error {
	r.scope.Tick()
	r.rendered++
	if (r.rendered-1)%r.every != 0 {
		return nil
	}

	b := r.surface.Bounds()
	r.surface.Text(geometry.ScreenPoint{X: float64(b.Min.X) + timestampMargin, Y: float64(b.Max.Y) - timestampMargin},
		at.UTC().Format(timestampLayout), r.palette.Primary, timestampSize)

	r.written++
	if err := r.write(r.written, r.surface.Image()); err != nil {
		return fmt.Errorf("writing frame %d: %w", r.written, err)
	}
	return nil
}
