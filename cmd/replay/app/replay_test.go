package app

import (
	"context"
	"flag"
	"image"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roman-kulish/radarscope/internal/geometry"
	"github.com/roman-kulish/radarscope/internal/snapshot"
	"github.com/roman-kulish/radarscope/internal/storage"
)

var start = time.Date(2024, 3, 1, 21, 7, 9, 0, time.UTC)

func record(offset time.Duration) *storage.Record {
	angle := 45.0
	return &storage.Record{
		ReceivedAt: start.Add(offset),
		Snapshot: &snapshot.Snapshot{
			TurretAngle:     &angle,
			EstimatedTarget: &geometry.SimPoint{X: 10, Y: 10},
			ThreatLevel:     snapshot.ThreatMedium,
			ThreatColor:     snapshot.ColorOrange,
		},
	}
}

func testConfig(t *testing.T) *Config {
	t.Helper()
	c := NewConfig()
	c.Size = 200
	c.FPS = 10
	c.OutputPrefix = filepath.Join(t.TempDir(), "frame")
	return c
}

func TestReplayer_Frames(t *testing.T) {
	tests := []struct {
		name     string
		every    int
		offsets  []time.Duration
		rendered int
		written  int
	}{
		{name: "empty", every: 1},
		{name: "single snapshot", every: 1, offsets: []time.Duration{0}, rendered: 1, written: 1},
		{name: "paced by arrival", every: 1, offsets: []time.Duration{0, 100 * time.Millisecond, 500 * time.Millisecond}, rendered: 6, written: 6},
		{name: "every other frame", every: 2, offsets: []time.Duration{0, 500 * time.Millisecond}, rendered: 6, written: 3},
		{name: "long pause shortened", every: 1, offsets: []time.Duration{0, time.Hour}, rendered: 51, written: 51},
		{name: "out of order arrival", every: 1, offsets: []time.Duration{time.Second, 0}, rendered: 1, written: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := testConfig(t)
			config.Every = tt.every

			var sizes []image.Rectangle
			r, err := NewReplayer(config, func(n int, img *image.RGBA) error {
				assert.Equal(t, len(sizes)+1, n)
				sizes = append(sizes, img.Bounds())
				return nil
			})
			require.NoError(t, err)
			defer r.Close()

			for _, offset := range tt.offsets {
				require.NoError(t, r.Feed(record(offset)))
			}
			require.NoError(t, r.Finish())

			assert.Equal(t, tt.rendered, r.Rendered())
			assert.Equal(t, tt.written, r.Written())
			for _, b := range sizes {
				assert.Equal(t, image.Rect(0, 0, 200, 200), b)
			}
		})
	}
}

func TestReplaySession(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "session.sqlite")

	writer := storage.NewSqliteStore(dbPath)
	id, err := writer.CreateSession(ctx, "ws://localhost:5000/ws", nil)
	require.NoError(t, err)
	require.NoError(t, writer.StoreSnapshots(ctx, id, []*storage.Record{
		record(0), record(100 * time.Millisecond), record(200 * time.Millisecond), record(time.Second),
	}))
	require.NoError(t, writer.Close())

	config := testConfig(t)
	config.DBPath = dbPath
	config.SessionID = id
	to := start.Add(200 * time.Millisecond)
	config.MaxTimestamp = &to

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	require.NoError(t, Run(ctx, config, logger))

	files, err := filepath.Glob(config.OutputPrefix + "_*.png")
	require.NoError(t, err)
	require.Len(t, files, 3, "the snapshot after the time range is not replayed")

	f, err := os.Open(frameFileName(config, 1))
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 200, 200), img.Bounds())
}

func TestRun_MissingDatabase(t *testing.T) {
	config := testConfig(t)
	config.DBPath = filepath.Join(t.TempDir(), "missing.sqlite")
	assert.Error(t, Run(context.Background(), config, slog.New(slog.NewTextHandler(io.Discard, nil))))
}

func TestParseArgs(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr bool
		check   func(*testing.T, *Config)
	}{
		{
			name: "defaults",
			args: []string{"-db", "s.sqlite", "-o", "out/frame"},
			check: func(t *testing.T, c *Config) {
				assert.Equal(t, ImageFormat(ImagePNG), c.Format)
				assert.EqualValues(t, 1, c.SessionID)
				assert.Equal(t, 1, c.Every)
				assert.Nil(t, c.MinTimestamp)
			},
		},
		{
			name: "all flags",
			args: []string{"-db", "s.sqlite", "-s", "3", "-o", "f", "-f", "JPEG", "-every", "5", "-fps", "30",
				"-from", "2024-03-01T21:00:00Z", "-to", "2024-03-01T22:00:00Z", "-theme", "amber", "-minimal"},
			check: func(t *testing.T, c *Config) {
				assert.Equal(t, ImageFormat(ImageJPEG), c.Format)
				assert.Equal(t, "jpg", c.Format.Extension())
				assert.EqualValues(t, 3, c.SessionID)
				assert.Equal(t, 5, c.Every)
				assert.Equal(t, 30, c.FPS)
				assert.True(t, c.Minimal)
				require.NotNil(t, c.MaxTimestamp)
				assert.Equal(t, 22, c.MaxTimestamp.Hour())
			},
		},
		{name: "missing db", args: []string{"-o", "f"}, wantErr: true},
		{name: "missing output", args: []string{"-db", "s.sqlite"}, wantErr: true},
		{name: "bad format", args: []string{"-db", "s.sqlite", "-o", "f", "-f", "gif"}, wantErr: true},
		{name: "bad every", args: []string{"-db", "s.sqlite", "-o", "f", "-every", "0"}, wantErr: true},
		{name: "fps too high", args: []string{"-db", "s.sqlite", "-o", "f", "-fps", "2000000000"}, wantErr: true},
		{name: "size too small", args: []string{"-db", "s.sqlite", "-o", "f", "-size", "40"}, wantErr: true},
		{name: "bad theme", args: []string{"-db", "s.sqlite", "-o", "f", "-theme", "pink"}, wantErr: true},
		{name: "bad time", args: []string{"-db", "s.sqlite", "-o", "f", "-from", "yesterday"}, wantErr: true},
		{name: "inverted range", args: []string{"-db", "s.sqlite", "-o", "f", "-from", "2024-03-01T22:00:00Z", "-to", "2024-03-01T21:00:00Z"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := flag.NewFlagSet("replay", flag.ContinueOnError)
			fs.SetOutput(io.Discard)

			c, err := parseArgs(fs, tt.args)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, c)
		})
	}
}
