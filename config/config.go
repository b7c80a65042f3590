// Package config provides the YAML configuration schema, loader, and
// validation for the screencaster server.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// LogLevel controls log verbosity for the server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Duration wraps time.Duration so YAML values can be written in the usual
// "66ms" / "2s" notation.
type Duration time.Duration

// UnmarshalYAML decodes either a Go duration string or a bare integer
// (interpreted as nanoseconds).
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, perr := time.ParseDuration(s)
		if perr != nil {
			return fmt.Errorf("invalid duration %q: %w", s, perr)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("invalid duration value on line %d", value.Line)
	}
	*d = Duration(n)
	return nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration structure, typically loaded from a YAML
// file using [Load] or [LoadFromReader].
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Producer ProducerConfig `yaml:"producer"`
	Capture  CaptureConfig  `yaml:"capture"`
	Stream   StreamConfig   `yaml:"stream"`
	Preview  PreviewConfig  `yaml:"preview"`
	Record   RecordConfig   `yaml:"record"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP server listens on (e.g. ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// ProducerConfig describes how the external capture encoder is launched.
// The values are passed through to the producer's command line; the server
// does not interpret them beyond building the invocation.
type ProducerConfig struct {
	// Command is the capture encoder executable. Default: "ffmpeg".
	Command string `yaml:"command"`

	// Args overrides the full argument list. When empty, an argument list is
	// derived from FrameRate, Quality, ScaleWidth and Display for an
	// ffmpeg-style MJPEG-on-stdout invocation.
	Args []string `yaml:"args"`

	// FrameRate is the capture rate requested from the encoder.
	FrameRate int `yaml:"frame_rate"`

	// Quality is the JPEG quality factor (encoder-specific scale).
	Quality int `yaml:"quality"`

	// ScaleWidth downscales the captured output to this width. 0 keeps the
	// native size.
	ScaleWidth int `yaml:"scale_width"`

	// Display is the capture source (e.g. ":0.0" for x11grab).
	Display string `yaml:"display"`

	// StopTimeout is how long to wait for the encoder to exit after the
	// graceful quit signal before it is killed.
	StopTimeout Duration `yaml:"stop_timeout"`
}

// CaptureConfig tunes the frame extraction pipeline.
type CaptureConfig struct {
	// MaxBufferBytes caps the accumulation buffer. When exceeded without a
	// frame boundary the stream is treated as desynchronized and the buffer
	// is discarded.
	MaxBufferBytes int `yaml:"max_buffer_bytes"`

	// ReadChunkBytes is the size of a single read from the producer.
	ReadChunkBytes int `yaml:"read_chunk_bytes"`
}

// StreamConfig tunes the HTTP streaming endpoint.
type StreamConfig struct {
	// MinFrameInterval is the minimum time between two frames sent to one
	// viewer. Viewers are paced independently of the producer rate.
	MinFrameInterval Duration `yaml:"min_frame_interval"`
}

// PreviewConfig controls the optional decoded-preview hand-off.
type PreviewConfig struct {
	Enabled bool `yaml:"enabled"`

	// TargetWidth downscales decoded preview images to this width. 0 keeps
	// the decoded size.
	TargetWidth int `yaml:"target_width"`
}

// RecordConfig controls the pre-record ring and its on-disk spool.
type RecordConfig struct {
	Enabled bool `yaml:"enabled"`

	// Dir is the directory frames are flushed into, one dated subdirectory
	// per flush.
	Dir string `yaml:"dir"`

	// RingFrames is the number of recent frames kept for flushing.
	RingFrames int `yaml:"ring_frames"`

	// MaxDirBytes caps the total size of Dir; oldest dated directories are
	// removed first.
	MaxDirBytes int64 `yaml:"max_dir_bytes"`
}

// Default values applied by [applyDefaults].
const (
	DefaultListenAddr       = ":8080"
	DefaultCommand          = "ffmpeg"
	DefaultFrameRate        = 15
	DefaultQuality          = 5
	DefaultDisplay          = ":0.0"
	DefaultStopTimeout      = 2 * time.Second
	DefaultMaxBufferBytes   = 10 << 20
	DefaultReadChunkBytes   = 64 << 10
	DefaultMinFrameInterval = 66 * time.Millisecond
	DefaultRingFrames       = 90
	DefaultMaxDirBytes      = 1 << 30
	DefaultRecordDir        = "./saved"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Unknown fields are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a config with every field set to its default value.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Producer.Command == "" {
		cfg.Producer.Command = DefaultCommand
	}
	if cfg.Producer.FrameRate == 0 {
		cfg.Producer.FrameRate = DefaultFrameRate
	}
	if cfg.Producer.Quality == 0 {
		cfg.Producer.Quality = DefaultQuality
	}
	if cfg.Producer.Display == "" {
		cfg.Producer.Display = DefaultDisplay
	}
	if cfg.Producer.StopTimeout == 0 {
		cfg.Producer.StopTimeout = Duration(DefaultStopTimeout)
	}
	if cfg.Capture.MaxBufferBytes == 0 {
		cfg.Capture.MaxBufferBytes = DefaultMaxBufferBytes
	}
	if cfg.Capture.ReadChunkBytes == 0 {
		cfg.Capture.ReadChunkBytes = DefaultReadChunkBytes
	}
	if cfg.Stream.MinFrameInterval == 0 {
		cfg.Stream.MinFrameInterval = Duration(DefaultMinFrameInterval)
	}
	if cfg.Record.Dir == "" {
		cfg.Record.Dir = DefaultRecordDir
	}
	if cfg.Record.RingFrames == 0 {
		cfg.Record.RingFrames = DefaultRingFrames
	}
	if cfg.Record.MaxDirBytes == 0 {
		cfg.Record.MaxDirBytes = DefaultMaxDirBytes
	}
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all failures found.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Producer.FrameRate < 0 {
		errs = append(errs, fmt.Errorf("producer.frame_rate %d must not be negative", cfg.Producer.FrameRate))
	}
	if cfg.Producer.StopTimeout < 0 {
		errs = append(errs, fmt.Errorf("producer.stop_timeout must not be negative"))
	}
	if cfg.Capture.MaxBufferBytes < 1<<10 {
		errs = append(errs, fmt.Errorf("capture.max_buffer_bytes %d is too small; minimum 1024", cfg.Capture.MaxBufferBytes))
	}
	if cfg.Capture.ReadChunkBytes < 1 {
		errs = append(errs, fmt.Errorf("capture.read_chunk_bytes must be positive"))
	}
	if cfg.Stream.MinFrameInterval < 0 {
		errs = append(errs, fmt.Errorf("stream.min_frame_interval must not be negative"))
	}
	if cfg.Preview.TargetWidth < 0 {
		errs = append(errs, fmt.Errorf("preview.target_width must not be negative"))
	}
	if cfg.Record.RingFrames < 1 {
		errs = append(errs, fmt.Errorf("record.ring_frames must be positive"))
	}
	if cfg.Record.MaxDirBytes < 0 {
		errs = append(errs, fmt.Errorf("record.max_dir_bytes must not be negative"))
	}

	return errors.Join(errs...)
}
