package app

import (
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"log/slog"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/roman-kulish/radarscope/internal/storage"
)

func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	if _, err := os.Stat(config.DBPath); err != nil && os.IsNotExist(err) {
		return fmt.Errorf("database file '%s' does not exist: %w", config.DBPath, err)
	}

	store := storage.NewSqliteStore(config.DBPath)
	defer store.Close()

	return replaySession(ctx, store, config, logger)
}

func replaySession(ctx context.Context, store *storage.SqliteStore, config *Config, logger *slog.Logger) error {
	stats, err := store.Stats(ctx, config.SessionID)
	if err != nil {
		return fmt.Errorf("reading session stats: %w", err)
	}

	logger.Info("session",
		slog.Int64("id", config.SessionID),
		slog.String("snapshots", humanize.Comma(stats.Snapshots)),
		slog.String("logEntries", humanize.Comma(stats.LogEntries)),
		slog.String("duration", stats.Duration().String()))

	var opts []storage.ReaderOption
	var filters []any
	switch {
	case config.MinTimestamp != nil && config.MaxTimestamp != nil:
		opts = append(opts, storage.WithTimeRange(config.MinTimestamp.UTC(), config.MaxTimestamp.UTC()))

		filters = append(filters,
			slog.String("minTimestamp", config.MinTimestamp.UTC().Format(time.DateTime)),
			slog.String("maxTimestamp", config.MaxTimestamp.UTC().Format(time.DateTime)))

	case config.MinTimestamp != nil:
		opts = append(opts, storage.WithStartTime(config.MinTimestamp.UTC()))
		filters = append(filters, slog.String("minTimestamp", config.MinTimestamp.UTC().Format(time.DateTime)))

	case config.MaxTimestamp != nil:
		opts = append(opts, storage.WithEndTime(config.MaxTimestamp.UTC()))
		filters = append(filters, slog.String("maxTimestamp", config.MaxTimestamp.UTC().Format(time.DateTime)))
	}

	logger.Info("iterator configuration", filters...)

	iter, err := store.ReadSnapshots(ctx, config.SessionID, opts...)
	if err != nil {
		return err
	}
	defer iter.Close()

	var written uint64
	replayer, err := NewReplayer(config, func(n int, img *image.RGBA) error {
		size, err := writeFrame(frameFileName(config, n), config.Format, img)
		written += uint64(size)
		return err
	})
	if err != nil {
		return err
	}
	defer replayer.Close()

	logger.Info("replaying session",
		slog.Group("image",
			slog.String("prefix", config.OutputPrefix),
			slog.String("format", string(config.Format)),
			slog.String("theme", string(config.Theme)),
			slog.Int("size", config.Size),
			slog.Int("fps", config.FPS),
			slog.Int("every", config.Every),
		))

	var records int64
	for iter.Next(ctx) {
		if err = replayer.Feed(iter.Current()); err != nil {
			return err
		}
		records++
		if records%1000 == 0 {
			logger.Debug("progress", slog.String("snapshots", humanize.Comma(records)))
		}
	}
	if err = iter.Error(); err != nil {
		return err
	}
	if err = replayer.Finish(); err != nil {
		return err
	}

	logger.Info("finished replaying session",
		slog.Group("stats",
			slog.String("snapshots", humanize.Comma(records)),
			slog.String("rendered", humanize.Comma(int64(replayer.Rendered()))),
			slog.String("written", humanize.Comma(int64(replayer.Written()))),
			slog.String("size", humanize.Bytes(written)),
		))
	return nil
}

func frameFileName(config *Config, n int) string {
	return fmt.Sprintf("%s_%06d.%s", config.OutputPrefix, n, config.Format.Extension())
}

func writeFrame(path string, format ImageFormat, img image.Image) (size int64, err error) {
	out, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	defer func() {
		if cErr := out.Close(); cErr != nil && err == nil {
			err = cErr
		}
	}()

	switch format {
	case ImageJPEG:
		err = jpeg.Encode(out, img, &jpeg.Options{
			Quality: 98,
		})

	default:
		err = png.Encode(out, img)
	}
	if err != nil {
		return 0, err
	}

	info, err := out.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
