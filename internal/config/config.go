// Package config holds the complete application configuration. Values are
// resolved in three layers: compiled defaults, an optional YAML file, then
// environment variable overrides declared via `env:` struct tags.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" json:"server"`
	Database  DatabaseConfig  `yaml:"database" json:"database"`
	Scanner   ScannerConfig   `yaml:"scanner" json:"scanner"`
	Transcode TranscodeConfig `yaml:"transcode" json:"transcode"`
	Metadata  MetadataConfig  `yaml:"metadata" json:"metadata"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Host         string        `yaml:"host" json:"host" env:"FERRITE_HOST"`
	Port         int           `yaml:"port" json:"port" env:"FERRITE_PORT"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout" env:"FERRITE_READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout" env:"FERRITE_WRITE_TIMEOUT"`
	EnableCORS   bool          `yaml:"enable_cors" json:"enable_cors" env:"FERRITE_ENABLE_CORS"`
}

// DatabaseConfig selects the backing store and the data directory that holds
// the database file, image cache, subtitle cache and transcoder output.
type DatabaseConfig struct {
	Type         string `yaml:"type" json:"type" env:"FERRITE_DATABASE_TYPE"`
	URL          string `yaml:"url" json:"url" env:"FERRITE_DATABASE_URL"`
	DataDir      string `yaml:"data_dir" json:"data_dir" env:"FERRITE_DATA_DIR"`
	MaxOpenConns int    `yaml:"max_open_conns" json:"max_open_conns" env:"FERRITE_DB_MAX_OPEN_CONNS"`
	MaxIdleConns int    `yaml:"max_idle_conns" json:"max_idle_conns" env:"FERRITE_DB_MAX_IDLE_CONNS"`
	LogQueries   bool   `yaml:"log_queries" json:"log_queries" env:"FERRITE_DB_LOG_QUERIES"`
}

// ScannerConfig holds library scan configuration
type ScannerConfig struct {
	ConcurrentProbes     int  `yaml:"concurrent_probes" json:"concurrent_probes" env:"FERRITE_CONCURRENT_PROBES"`
	WatchDebounceSeconds int  `yaml:"watch_debounce_seconds" json:"watch_debounce_seconds" env:"FERRITE_WATCH_DEBOUNCE_SECONDS"`
	WatchEnabled         bool `yaml:"watch_enabled" json:"watch_enabled" env:"FERRITE_WATCH_ENABLED"`
	AdaptiveThrottling   bool `yaml:"adaptive_throttling" json:"adaptive_throttling" env:"FERRITE_ADAPTIVE_THROTTLING"`
	CPUThreshold         float64 `yaml:"cpu_threshold" json:"cpu_threshold" env:"FERRITE_CPU_THRESHOLD"`
}

// TranscodeConfig holds encoder and HLS session configuration
type TranscodeConfig struct {
	FFmpegPath              string `yaml:"ffmpeg_path" json:"ffmpeg_path" env:"FERRITE_FFMPEG_PATH"`
	FFprobePath             string `yaml:"ffprobe_path" json:"ffprobe_path" env:"FERRITE_FFPROBE_PATH"`
	MaxConcurrentTranscodes int    `yaml:"max_concurrent_transcodes" json:"max_concurrent_transcodes" env:"FERRITE_MAX_CONCURRENT_TRANSCODES"`
	QueueWaitSecs           int    `yaml:"queue_wait_secs" json:"queue_wait_secs" env:"FERRITE_TRANSCODE_QUEUE_WAIT_SECS"`
	HLSSegmentDuration      int    `yaml:"hls_segment_duration" json:"hls_segment_duration" env:"FERRITE_HLS_SEGMENT_DURATION"`
	HLSSessionTimeoutSecs   int    `yaml:"hls_session_timeout_secs" json:"hls_session_timeout_secs" env:"FERRITE_HLS_SESSION_TIMEOUT_SECS"`
	HLSFFmpegIdleSecs       int    `yaml:"hls_ffmpeg_idle_secs" json:"hls_ffmpeg_idle_secs" env:"FERRITE_HLS_FFMPEG_IDLE_SECS"`
	HLSSegmentMimeMode      string `yaml:"hls_segment_mime_mode" json:"hls_segment_mime_mode" env:"FERRITE_HLS_SEGMENT_MIME_MODE"`
	HWAccel                 string `yaml:"hw_accel" json:"hw_accel" env:"FERRITE_HW_ACCEL"`
}

// MetadataConfig holds remote metadata provider configuration
type MetadataConfig struct {
	Enabled            bool   `yaml:"enabled" json:"enabled" env:"FERRITE_METADATA_ENABLED"`
	BaseURL            string `yaml:"base_url" json:"base_url" env:"FERRITE_METADATA_BASE_URL"`
	ImageBaseURL       string `yaml:"image_base_url" json:"image_base_url" env:"FERRITE_METADATA_IMAGE_BASE_URL"`
	APIKey             string `yaml:"api_key" json:"-" env:"FERRITE_METADATA_API_KEY"`
	RateLimitPerSecond int    `yaml:"rate_limit_per_second" json:"rate_limit_per_second" env:"FERRITE_METADATA_RATE_LIMIT"`
	MovieWorkers       int    `yaml:"movie_workers" json:"movie_workers" env:"FERRITE_METADATA_MOVIE_WORKERS"`
	ShowWorkers        int    `yaml:"show_workers" json:"show_workers" env:"FERRITE_METADATA_SHOW_WORKERS"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level" env:"FERRITE_LOG_LEVEL"`
	Format string `yaml:"format" json:"format" env:"FERRITE_LOG_FORMAT"`
}

// Default returns the default application configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			EnableCORS:   true,
		},
		Database: DatabaseConfig{
			Type:         "sqlite",
			DataDir:      "./ferrite-data",
			MaxOpenConns: 16,
			MaxIdleConns: 4,
		},
		Scanner: ScannerConfig{
			ConcurrentProbes:     4,
			WatchDebounceSeconds: 2,
			WatchEnabled:         true,
			AdaptiveThrottling:   true,
			CPUThreshold:         85.0,
		},
		Transcode: TranscodeConfig{
			FFmpegPath:              "ffmpeg",
			FFprobePath:             "ffprobe",
			MaxConcurrentTranscodes: 2,
			QueueWaitSecs:           15,
			HLSSegmentDuration:      2,
			HLSSessionTimeoutSecs:   30,
			HLSFFmpegIdleSecs:       30,
			HLSSegmentMimeMode:      "video-mp4",
			HWAccel:                 "auto",
		},
		Metadata: MetadataConfig{
			Enabled:            true,
			BaseURL:            "https://api.themoviedb.org/3",
			ImageBaseURL:       "https://image.tmdb.org/t/p/original",
			RateLimitPerSecond: 4,
			MovieWorkers:       8,
			ShowWorkers:        4,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds the effective configuration: defaults, then the YAML file at
// path (if present), then environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(reflect.ValueOf(cfg).Elem())

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the rest of the system cannot honor.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	switch c.Database.Type {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database type: %s", c.Database.Type)
	}
	if c.Scanner.ConcurrentProbes < 1 {
		return fmt.Errorf("scanner.concurrent_probes must be >= 1")
	}
	if c.Transcode.MaxConcurrentTranscodes < 1 {
		return fmt.Errorf("transcode.max_concurrent_transcodes must be >= 1")
	}
	switch c.Transcode.HLSSegmentMimeMode {
	case "video-mp4", "video-iso-segment":
	default:
		return fmt.Errorf("unsupported hls_segment_mime_mode: %s", c.Transcode.HLSSegmentMimeMode)
	}
	switch c.Transcode.HWAccel {
	case "nvenc", "qsv", "vaapi", "software", "auto":
	default:
		return fmt.Errorf("unsupported hw_accel: %s", c.Transcode.HWAccel)
	}
	return nil
}

// DatabasePath returns the on-disk location of the sqlite database file.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Database.DataDir, "ferrite.db")
}

// TranscodeDir returns the root directory for transcoder output.
func (c *Config) TranscodeDir() string {
	return filepath.Join(c.Database.DataDir, "cache", "transcode")
}

// HLSDir returns the directory holding per-session HLS output.
func (c *Config) HLSDir() string {
	return filepath.Join(c.TranscodeDir(), "hls")
}

// ImageCacheDir returns the directory for downloaded artwork.
func (c *Config) ImageCacheDir() string {
	return filepath.Join(c.Database.DataDir, "cache", "images")
}

// SubtitleCacheDir returns the directory for extracted embedded subtitles.
func (c *Config) SubtitleCacheDir() string {
	return filepath.Join(c.Database.DataDir, "cache", "subtitles")
}

// applyEnvOverrides walks the config struct and applies values from
// environment variables declared in `env:` tags.
func applyEnvOverrides(v reflect.Value) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		value := v.Field(i)

		if field.Type.Kind() == reflect.Struct && field.Type != reflect.TypeOf(time.Duration(0)) {
			applyEnvOverrides(value)
			continue
		}

		envName := field.Tag.Get("env")
		if envName == "" {
			continue
		}
		raw, ok := os.LookupEnv(envName)
		if !ok {
			continue
		}
		setFieldFromString(value, raw)
	}
}

func setFieldFromString(v reflect.Value, raw string) {
	switch v.Kind() {
	case reflect.String:
		v.SetString(raw)
	case reflect.Bool:
		if b, err := strconv.ParseBool(raw); err == nil {
			v.SetBool(b)
		}
	case reflect.Int, reflect.Int64:
		if v.Type() == reflect.TypeOf(time.Duration(0)) {
			if d, err := time.ParseDuration(raw); err == nil {
				v.SetInt(int64(d))
			}
			return
		}
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			v.SetInt(n)
		}
	case reflect.Float64:
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			v.SetFloat(f)
		}
	case reflect.Slice:
		if v.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(raw, ",")
			out := make([]string, 0, len(parts))
			for _, p := range parts {
				if s := strings.TrimSpace(p); s != "" {
					out = append(out, s)
				}
			}
			v.Set(reflect.ValueOf(out))
		}
	}
}
