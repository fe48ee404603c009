package app

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/roman-kulish/radarscope/internal/scope"
)

const (
	ImagePNG  = "png"
	ImageJPEG = "jpeg"
)

type ImageFormat string

// Extension returns the file extension of the format.
func (f ImageFormat) Extension() string {
	if f == ImageJPEG {
		return "jpg"
	}
	return string(f)
}

type Config struct {
	DBPath       string
	SessionID    int64
	OutputPrefix string
	Format       ImageFormat
	Every        int // Write every Nth rendered frame
	FPS          int // Frame rate the recording is replayed at
	Size         int
	Theme        scope.ColorTheme
	Minimal      bool
	MaxGap       time.Duration // Pauses longer than this are shortened
	MinTimestamp *time.Time
	MaxTimestamp *time.Time
	Verbose      bool
}

var validImageFormats = map[ImageFormat]struct{}{
	ImagePNG:  {},
	ImageJPEG: {},
}

func NewConfig() *Config {
	return &Config{
		Format: ImagePNG,
		Every:  1,
		FPS:    scope.DefaultFPS,
		Size:   700,
		Theme:  scope.CyberTheme,
		MaxGap: 5 * time.Second,
	}
}

func NewConfigFromCLI() (*Config, error) {
	c, err := parseArgs(flag.CommandLine, os.Args[1:])
	if err != nil {
		flag.Usage()
		return nil, err
	}
	return c, nil
}

func parseArgs(fs *flag.FlagSet, args []string) (*Config, error) {
	c := NewConfig()

	var imageFormat, theme, from, to string
	fs.StringVar(&c.DBPath, "db", "", "Path to the database file")
	fs.Int64Var(&c.SessionID, "s", 1, "Session ID")
	fs.StringVar(&c.OutputPrefix, "o", "", "Prefix of the output files, the frame number and extension are appended")
	fs.StringVar(&imageFormat, "f", string(ImagePNG), "Output image format. [png, jpeg]")
	fs.IntVar(&c.Every, "every", c.Every, "Write every Nth rendered frame")
	fs.IntVar(&c.FPS, "fps", c.FPS, "Replay frame rate")
	fs.IntVar(&c.Size, "size", c.Size, "Frame edge in pixels")
	fs.StringVar(&theme, "theme", string(c.Theme), "Color theme. [cyber, phosphor, amber]")
	fs.BoolVar(&c.Minimal, "minimal", false, "Render the minimal scope without weapon layers")
	fs.DurationVar(&c.MaxGap, "max-gap", c.MaxGap, "Shorten pauses between snapshots to this duration")
	fs.StringVar(&from, "from", "", "Replay snapshots received at or after this time (RFC 3339)")
	fs.StringVar(&to, "to", "", "Replay snapshots received at or before this time (RFC 3339)")
	fs.BoolVar(&c.Verbose, "verbose", false, "Enable more verbose output")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	imageFormat = strings.ToLower(imageFormat)

	var err error
	switch {
	case c.DBPath == "":
		err = errors.New("db path is required")
	case c.SessionID <= 0:
		err = errors.New("session id is required")
	case c.OutputPrefix == "":
		err = errors.New("output prefix is required")
	case c.Every <= 0:
		err = fmt.Errorf("every must be positive: %d given", c.Every)
	case c.FPS <= 0 || c.FPS > scope.MaxFPS:
		err = fmt.Errorf("fps must be within [1, %d]: %d given", scope.MaxFPS, c.FPS)
	case float64(c.Size) <= 2*scope.LabelMargin:
		err = fmt.Errorf("size must exceed %.0f: %d given", 2*scope.LabelMargin, c.Size)
	case c.MaxGap <= 0:
		err = fmt.Errorf("max gap must be positive: %s given", c.MaxGap)
	}
	if err != nil {
		return nil, err
	}

	if _, ok := validImageFormats[ImageFormat(imageFormat)]; !ok {
		return nil, fmt.Errorf("invalid image format: %s", imageFormat)
	}
	c.Format = ImageFormat(imageFormat)

	if c.Theme, err = scope.ParseColorTheme(theme); err != nil {
		return nil, err
	}
	if c.MinTimestamp, err = parseTimestamp("from", from); err != nil {
		return nil, err
	}
	if c.MaxTimestamp, err = parseTimestamp("to", to); err != nil {
		return nil, err
	}
	if c.MinTimestamp != nil && c.MaxTimestamp != nil && c.MinTimestamp.After(*c.MaxTimestamp) {
		return nil, errors.New("from must not be after to")
	}

	return c, nil
}

func parseTimestamp(name, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s timestamp: %w", name, err)
	}
	return &t, nil
}
