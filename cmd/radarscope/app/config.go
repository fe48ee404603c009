package app

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roman-kulish/radarscope/internal/channel"
	"github.com/roman-kulish/radarscope/internal/geometry"
	"github.com/roman-kulish/radarscope/internal/scope"
	"github.com/roman-kulish/radarscope/internal/telemetry"
)

const (
	defaultSize          = 700
	defaultListen        = "localhost:8080"
	defaultJPEGQuality   = 85
	defaultDataDirectory = "data"
	defaultFlush         = time.Second
	defaultMaxBatchSize  = 100
)

// ConfigError is returned for invalid configuration values
type ConfigError struct {
	Field string
	msg   string
}

func NewConfigError(field, format string, args ...any) *ConfigError {
	return &ConfigError{Field: field, msg: fmt.Sprintf(format, args...)}
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.msg)
}

// Duration is a time.Duration written as a Go duration string, e.g. "1.5s"
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	duration, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("app.Duration: failed to parse: %s", err)
	}

	*d = Duration(duration)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// Config represents the main application configuration
type Config struct {
	Settings  Settings        `yaml:"settings" json:"-"`
	Channel   ChannelConfig   `yaml:"channel" json:"channel"`
	Render    RenderConfig    `yaml:"render" json:"render"`
	Panel     PanelConfig     `yaml:"panel" json:"panel"`
	Server    ServerConfig    `yaml:"server" json:"server"`
	Recording RecordingConfig `yaml:"recording" json:"recording"`
}

// Settings represents global application settings
type Settings struct {
	LogLevel string `yaml:"logLevel"`
	LogFile  string `yaml:"logFile"` // Optional rotating log file, written in addition to stdout
}

// Level parses the configured log level. An empty level is INFO.
func (s *Settings) Level() (slog.Level, error) {
	var level slog.Level
	if s.LogLevel == "" {
		return level, nil
	}
	if err := level.UnmarshalText([]byte(s.LogLevel)); err != nil {
		return level, NewConfigError("settings.logLevel", "unknown level %q", s.LogLevel)
	}
	return level, nil
}

// ChannelConfig represents the simulation connection settings
type ChannelConfig struct {
	URL            string   `yaml:"url" json:"url"`
	WriteTimeout   Duration `yaml:"writeTimeout" json:"writeTimeout"`
	MaxReconnect   int      `yaml:"maxReconnect" json:"maxReconnect"`
	InitialBackoff Duration `yaml:"initialBackoff" json:"initialBackoff"`
	MaxBackoff     Duration `yaml:"maxBackoff" json:"maxBackoff"`
}

func (c *ChannelConfig) adapterConfig() channel.Config {
	return channel.Config{
		URL:            c.URL,
		WriteTimeout:   time.Duration(c.WriteTimeout),
		MaxReconnect:   c.MaxReconnect,
		InitialBackoff: time.Duration(c.InitialBackoff),
		MaxBackoff:     time.Duration(c.MaxBackoff),
	}
}

// RenderConfig represents the scope settings
type RenderConfig struct {
	Size        int     `yaml:"size" json:"size"`     // Square frame edge in pixels
	Scale       float64 `yaml:"scale" json:"scale"`   // Pixels per meter
	Radius      float64 `yaml:"radius" json:"radius"` // Scope radius in pixels
	FPS         int     `yaml:"fps" json:"fps"`
	SweepStep   float64 `yaml:"sweepStep" json:"sweepStep"` // Degrees per frame
	Theme       string  `yaml:"theme" json:"theme"`
	Minimal     bool    `yaml:"minimal" json:"minimal"`
	JPEGQuality int     `yaml:"jpegQuality" json:"jpegQuality"`
}

func (c *RenderConfig) scopeConfig() scope.Config {
	return scope.Config{
		Scale:     c.Scale,
		Radius:    c.Radius,
		SweepStep: c.SweepStep,
		Minimal:   c.Minimal,
	}
}

// PanelConfig represents the telemetry panel settings. Unset rates select
// the defaults; an explicit zero disables the line.
type PanelConfig struct {
	TelemetrySampleRate *float64 `yaml:"telemetrySampleRate" json:"telemetrySampleRate,omitempty"`
	ThreatSampleRate    *float64 `yaml:"threatSampleRate" json:"threatSampleRate,omitempty"`
	LogCapacity         int      `yaml:"logCapacity" json:"logCapacity"`
}

func (c *PanelConfig) panelConfig(minimal bool) telemetry.Config {
	pc := telemetry.DefaultConfig()
	if c.TelemetrySampleRate != nil {
		pc.TelemetrySampleRate = *c.TelemetrySampleRate
	}
	if c.ThreatSampleRate != nil {
		pc.ThreatSampleRate = *c.ThreatSampleRate
	}
	if c.LogCapacity != 0 {
		pc.LogCapacity = c.LogCapacity
	}
	pc.Minimal = minimal
	return pc
}

// ServerConfig represents the HTTP control surface settings
type ServerConfig struct {
	Listen string `yaml:"listen" json:"listen"`
}

// RecordingConfig represents session recording settings
type RecordingConfig struct {
	Enabled       bool     `yaml:"enabled" json:"enabled"`
	DataDirectory string   `yaml:"dataDirectory" json:"dataDirectory"`
	FlushInterval Duration `yaml:"flushInterval" json:"flushInterval"`
	MaxBatchSize  int      `yaml:"maxBatchSize" json:"maxBatchSize"`
}

// NewConfig returns the configuration used when no file is given.
func NewConfig() *Config {
	return &Config{
		Settings: Settings{LogLevel: "INFO"},
		Channel:  ChannelConfig{URL: channel.DefaultURL},
		Render: RenderConfig{
			Size:        defaultSize,
			FPS:         scope.DefaultFPS,
			Theme:       string(scope.CyberTheme),
			JPEGQuality: defaultJPEGQuality,
		},
		Server: ServerConfig{Listen: defaultListen},
		Recording: RecordingConfig{
			DataDirectory: defaultDataDirectory,
			FlushInterval: Duration(defaultFlush),
			MaxBatchSize:  defaultMaxBatchSize,
		},
	}
}

// LoadConfig reads a YAML configuration file on top of the defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := NewConfig()
	if err = yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err = config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks the configuration values the components do not check
// themselves.
func (c *Config) Validate() error {
	if _, err := c.Settings.Level(); err != nil {
		return err
	}

	if c.Channel.URL == "" {
		return NewConfigError("channel.url", "required")
	}
	if u, err := url.Parse(c.Channel.URL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		return NewConfigError("channel.url", "ws:// or wss:// URL expected: %q given", c.Channel.URL)
	}
	if c.Channel.MaxReconnect < 0 {
		return NewConfigError("channel.maxReconnect", "cannot be negative: %d given", c.Channel.MaxReconnect)
	}

	if c.Render.Size <= 0 {
		return NewConfigError("render.size", "must be positive: %d given", c.Render.Size)
	}
	if c.Render.FPS < 0 || c.Render.FPS > scope.MaxFPS {
		return NewConfigError("render.fps", "must be within [0, %d]: %d given", scope.MaxFPS, c.Render.FPS)
	}
	if c.Render.Scale < 0 || !geometry.IsFinite(c.Render.Scale) {
		return NewConfigError("render.scale", "cannot be negative: %v given", c.Render.Scale)
	}
	if c.Render.Radius < 0 || !geometry.IsFinite(c.Render.Radius) {
		return NewConfigError("render.radius", "cannot be negative: %v given", c.Render.Radius)
	}
	if extent := c.Render.scopeConfig().Extent(); extent > float64(c.Render.Size)/2 {
		return NewConfigError("render.radius", "scope with labels needs a %.0fpx frame: %dpx given", 2*extent, c.Render.Size)
	}
	if _, err := scope.ParseColorTheme(c.Render.Theme); err != nil {
		return NewConfigError("render.theme", "%s", err)
	}
	if c.Render.JPEGQuality < 1 || c.Render.JPEGQuality > 100 {
		return NewConfigError("render.jpegQuality", "must be within [1, 100]: %d given", c.Render.JPEGQuality)
	}

	panelConfig := c.Panel.panelConfig(c.Render.Minimal)
	if err := panelConfig.Validate(); err != nil {
		return NewConfigError("panel", "%s", err)
	}

	if c.Server.Listen == "" {
		return NewConfigError("server.listen", "required")
	}

	if c.Recording.Enabled {
		if c.Recording.FlushInterval <= 0 {
			return NewConfigError("recording.flushInterval", "must be positive: %s given", c.Recording.FlushInterval)
		}
		if c.Recording.MaxBatchSize <= 0 {
			return NewConfigError("recording.maxBatchSize", "must be positive: %d given", c.Recording.MaxBatchSize)
		}
	}
	return nil
}
