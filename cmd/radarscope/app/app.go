package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/roman-kulish/radarscope/internal/channel"
	"github.com/roman-kulish/radarscope/internal/scope"
	"github.com/roman-kulish/radarscope/internal/storage"
	"github.com/roman-kulish/radarscope/internal/telemetry"
)

const (
	meterName       = "github.com/roman-kulish/radarscope"
	shutdownTimeout = 5 * time.Second
)

// ErrChannelGaveUp is returned when the adapter stopped reconnecting.
var ErrChannelGaveUp = errors.New("simulation unreachable, giving up")

// Run connects to the simulation, renders the scope and serves the control
// surface until ctx is canceled.
func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	meter := otel.Meter(meterName)

	theme, err := scope.ParseColorTheme(config.Render.Theme)
	if err != nil {
		return err
	}
	palette := scope.NewPalette(theme)

	state := channel.NewState()
	adapter, err := channel.NewAdapter(state, config.Channel.adapterConfig(),
		channel.WithLogger(logger),
		channel.WithMeter(meter))
	if err != nil {
		return fmt.Errorf("creating channel adapter: %w", err)
	}

	surface, err := scope.NewRasterSurface(config.Render.Size, config.Render.Size)
	if err != nil {
		return fmt.Errorf("creating surface: %w", err)
	}
	defer surface.Close()

	frames := scope.NewFrameBuffer()
	radar, err := scope.NewScope(surface, state, config.Render.scopeConfig(),
		scope.WithLogger(logger),
		scope.WithMeter(meter),
		scope.WithPalette(palette),
		scope.WithFrameHook(func(scope.FrameInfo) {
			frames.Publish(surface.Image())
		}))
	if err != nil {
		return fmt.Errorf("creating scope: %w", err)
	}

	panelOptions := []func(*telemetry.Panel){telemetry.WithLogger(logger)}

	var recorder *Recorder
	if config.Recording.Enabled {
		store, err := createStorage(&config.Recording)
		if err != nil {
			return fmt.Errorf("failed to create storage: %w", err)
		}
		defer store.Close()

		recorder = NewRecorder(store, state,
			WithMaxBatchSize(config.Recording.MaxBatchSize),
			WithFlushInterval(time.Duration(config.Recording.FlushInterval)),
			WithRecorderLogger(logger))
		panelOptions = append(panelOptions, telemetry.WithEntryHook(recorder.RecordLogEntry))
	}

	panel, err := telemetry.NewPanel(state, adapter, config.Panel.panelConfig(config.Render.Minimal), panelOptions...)
	if err != nil {
		return fmt.Errorf("creating panel: %w", err)
	}

	server := &http.Server{
		Addr:              config.Server.Listen,
		Handler:           NewServer(panel, frames, WithServerLogger(logger), WithServerPalette(palette), WithJPEGQuality(config.Render.JPEGQuality)).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = panel.Observe(ctx)
	}()

	if recorder != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := recorder.Run(ctx, config.Channel.URL, config); err != nil {
				errCh <- fmt.Errorf("recording: %w", err)
			}
		}()
	}

	if err = adapter.Open(ctx); err != nil {
		return fmt.Errorf("opening channel: %w", err)
	}
	defer adapter.Close()

	loop, err := radar.Start(ctx, config.Render.FPS)
	if err != nil {
		return fmt.Errorf("starting render loop: %w", err)
	}
	defer loop.Cancel()

	go func() {
		logger.Info("serving control surface", slog.String("address", "http://"+config.Server.Listen))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("serving http: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
	case err = <-errCh:
	case <-adapter.Done():
		err = ErrChannelGaveUp
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer shutdownCancel()
	if sErr := server.Shutdown(shutdownCtx); sErr != nil {
		logger.Warn("shutting down http server", slog.String("error", sErr.Error()))
	}

	cancel()
	loop.Cancel()
	wg.Wait()

	if recorder != nil {
		logger.Info("recording finished",
			slog.Int64("session", recorder.SessionID()),
			slog.Int64("droppedLogEntries", recorder.Dropped()))
	}
	return err
}

func createStorage(config *RecordingConfig) (*storage.SqliteStore, error) {
	dir := config.DataDirectory
	if dir == "" {
		dir = defaultDataDirectory
	}
	if !filepath.IsAbs(dir) {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current working directory: %w", err)
		}
		dir = filepath.Join(wd, dir)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating storage directory '%s': %w", dir, err)
	}

	dbPath := filepath.Join(dir, fmt.Sprintf("radarscope_session_%s.sqlite", time.Now().UTC().Format("20060102_150405")))
	return storage.NewSqliteStore(dbPath), nil
}
