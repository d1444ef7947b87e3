// Package config loads EngineConfig via viper, layering a config file,
// environment variables (REEL_-prefixed), and built-in defaults, the same
// way the rest of the dependency pack configures its services.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/zsiec/reel/block"
)

// EngineConfig is the engine-wide configuration: worker cycle periods,
// per-type buffer capacities, the network read-ahead cap, and the ambient
// logging/metrics/diagnostics settings.
type EngineConfig struct {
	Workers    WorkersConfig    `mapstructure:"workers"`
	Buffers    BuffersConfig    `mapstructure:"buffers"`
	BufferMax  int64            `mapstructure:"buffer_max"` // bytes; network read-ahead cap
	Logging    LoggingConfig    `mapstructure:"logging"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Diagnostics DiagConfig      `mapstructure:"diagnostics"`
	Live       LiveConfig       `mapstructure:"live"`
}

// WorkersConfig holds the three pipeline workers' cycle periods.
type WorkersConfig struct {
	ReadPeriod   time.Duration `mapstructure:"read_period"`
	DecodePeriod time.Duration `mapstructure:"decode_period"`
	RenderPeriod time.Duration `mapstructure:"render_period"`
	PoolSize     int64         `mapstructure:"pool_size"`
}

// BuffersConfig holds per-type BlockBuffer capacities.
type BuffersConfig struct {
	AudioCapacity    int `mapstructure:"audio_capacity"`
	VideoCapacity    int `mapstructure:"video_capacity"`
	SubtitleCapacity int `mapstructure:"subtitle_capacity"`
}

// LoggingConfig mirrors logger.Config's fields for layered loading.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// MetricsConfig controls the Prometheus registry exposed by diag.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// DiagConfig controls the optional diagnostics HTTP server.
type DiagConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	TLSCert  string `mapstructure:"tls_cert"`
	TLSKey   string `mapstructure:"tls_key"`
}

// LiveConfig configures the SRT-based live ingest source.
type LiveConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	ListenAddr string        `mapstructure:"listen_addr"`
	Latency    time.Duration `mapstructure:"latency"`
}

// MediaOptions is per-session playback configuration, recognized fields
// per spec.md §6. It is built in code by the host (see DefaultMediaOptions);
// Load does not decode it, and no unknown-field check is applied to it.
type MediaOptions struct {
	AudioFilter        string        `mapstructure:"audio_filter"`
	SubtitlesURL       string        `mapstructure:"subtitles_url"`
	SubtitlesDelay     time.Duration `mapstructure:"subtitles_delay"`
	IsSubtitleDisabled bool          `mapstructure:"is_subtitle_disabled"`

	TargetAudioChannels   int                `mapstructure:"target_audio_channels"`
	TargetAudioRate       int                `mapstructure:"target_audio_rate"`
	TargetAudioFormat     block.SampleFormat `mapstructure:"target_audio_format"`
	TargetVideoPixelFormat block.PixelFormat `mapstructure:"target_video_pixel_format"`
}

// DefaultMediaOptions returns the documented defaults for any field a
// caller omits.
func DefaultMediaOptions() MediaOptions {
	return MediaOptions{
		TargetAudioChannels:    2,
		TargetAudioRate:        48000,
		TargetAudioFormat:      block.SampleFormatS16,
		TargetVideoPixelFormat: block.PixelFormatBGR0,
	}
}

// Load reads EngineConfig from configPath (if non-empty), layering
// REEL_-prefixed environment variables and the defaults below.
func Load(configPath string) (*EngineConfig, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if configPath != "" {
		v.SetConfigFile(configPath)
	}

	v.SetEnvPrefix("REEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configPath != "" {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", configPath, err)
		}
	}

	var cfg EngineConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("workers.read_period", "10ms")
	v.SetDefault("workers.decode_period", "20ms")
	v.SetDefault("workers.render_period", "30ms")
	v.SetDefault("workers.pool_size", 4)

	v.SetDefault("buffers.audio_capacity", 64)
	v.SetDefault("buffers.video_capacity", 50)
	v.SetDefault("buffers.subtitle_capacity", 16)

	v.SetDefault("buffer_max", 16<<20)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 30)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("diagnostics.enabled", false)
	v.SetDefault("diagnostics.addr", "127.0.0.1:6061")

	v.SetDefault("live.enabled", false)
	v.SetDefault("live.listen_addr", "0.0.0.0:9000")
	v.SetDefault("live.latency", "120ms")
}

// Validate rejects configurations that would leave the pipeline unable to
// make progress.
func (c *EngineConfig) Validate() error {
	if c.Workers.ReadPeriod <= 0 || c.Workers.DecodePeriod <= 0 || c.Workers.RenderPeriod <= 0 {
		return fmt.Errorf("config: worker periods must be positive")
	}
	if c.Buffers.AudioCapacity < 1 || c.Buffers.VideoCapacity < 1 || c.Buffers.SubtitleCapacity < 1 {
		return fmt.Errorf("config: buffer capacities must be at least 1")
	}
	if c.Workers.PoolSize < 1 {
		return fmt.Errorf("config: workers.pool_size must be at least 1")
	}
	return nil
}
