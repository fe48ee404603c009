package scope

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultFPS is the nominal frame rate of the render loop.
	DefaultFPS = 60

	// MaxFPS is the highest frame rate Start accepts.
	MaxFPS = 1000
)

// ErrLoopRunning is returned when Start is called while a loop is active.
var ErrLoopRunning = errors.New("render loop already running")

// Loop is the handle of a running render loop. Cancel stops it; once Cancel
// returns no further frame is rendered.
type Loop struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Cancel stops the loop and waits for the in-flight frame to finish. It is
// safe to call more than once.
func (l *Loop) Cancel() {
	l.once.Do(l.cancel)
	<-l.done
}

// Done is closed when the loop has stopped.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Start schedules Tick at fps frames per second until ctx is canceled or the
// returned handle is canceled. A non-positive fps selects DefaultFPS, an fps
// above MaxFPS is rejected.
func (s *Scope) Start(ctx context.Context, fps int) (*Loop, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if fps > MaxFPS {
		return nil, fmt.Errorf("frame rate must not exceed %d: %d given", MaxFPS, fps)
	}

	if s.loop != nil {
		select {
		case <-s.loop.done:
		default:
			return nil, ErrLoopRunning
		}
	}

	if fps <= 0 {
		fps = DefaultFPS
	}

	ctx, cancel := context.WithCancel(ctx)
	l := &Loop{cancel: cancel, done: make(chan struct{})}
	s.loop = l

	go s.run(ctx, time.Second/time.Duration(fps), l.done)

	s.logger.Info("render loop started", slog.Int("fps", fps))
	return l, nil
}

func (s *Scope) run(ctx context.Context, interval time.Duration, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("render loop stopped", slog.Uint64("frames", s.sweep.Ticks()))
			return

		case <-ticker.C:
			// A cancel racing with the ticker must not produce one more frame.
			if ctx.Err() != nil {
				continue
			}
			s.Tick()
		}
	}
}

// Run renders frames until ctx is canceled. It blocks and returns nil on a
// clean stop.
func (s *Scope) Run(ctx context.Context, fps int) error {
	l, err := s.Start(ctx, fps)
	if err != nil {
		return err
	}
	<-l.Done()
	return nil
}
