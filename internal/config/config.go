// Package config loads addongit settings from file, environment and defaults.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Sumatoshi-tech/addongit/internal/gitstore"
	"github.com/Sumatoshi-tech/addongit/internal/observability"
	"github.com/Sumatoshi-tech/addongit/pkg/gitlib"
)

// Sentinel validation errors.
var (
	ErrMissingRoot     = errors.New("storage root must be set")
	ErrMissingDatabase = errors.New("database path must be set")
	ErrMissingIdentity = errors.New("git service name and email must be set")
	ErrInvalidLimit    = errors.New("queue limit must be positive")
	ErrInvalidBatch    = errors.New("queue batch size must not be negative")
	ErrInvalidInterval = errors.New("queue interval must be positive")
	ErrInvalidLogLevel = errors.New("invalid log level")
	ErrInvalidSampling = errors.New("sample ratio must be within [0, 1]")
)

// Config is the top-level configuration.
type Config struct {
	Storage   StorageConfig   `mapstructure:"storage"   yaml:"storage"`
	Git       GitConfig       `mapstructure:"git"       yaml:"git"`
	Queue     QueueConfig     `mapstructure:"queue"     yaml:"queue"`
	Logging   LoggingConfig   `mapstructure:"logging"   yaml:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`
}

// StorageConfig locates repositories and the database.
type StorageConfig struct {
	Root     string `mapstructure:"root"      yaml:"root"`
	TmpDir   string `mapstructure:"tmp_dir"   yaml:"tmp_dir"`
	Database string `mapstructure:"database"  yaml:"database"`
	PoolSize int    `mapstructure:"pool_size" yaml:"pool_size"`
}

// GitConfig holds the service identity and libgit2 settings.
type GitConfig struct {
	ServiceName      string `mapstructure:"service_name"       yaml:"service_name"`
	ServiceEmail     string `mapstructure:"service_email"      yaml:"service_email"`
	GlobalSearchPath string `mapstructure:"global_search_path" yaml:"global_search_path"`
	Fsync            bool   `mapstructure:"fsync"              yaml:"fsync"`
	Executable       string `mapstructure:"executable"         yaml:"executable"`
}

// QueueConfig holds drain settings.
type QueueConfig struct {
	Limit     int           `mapstructure:"limit"      yaml:"limit"`
	BatchSize int           `mapstructure:"batch_size" yaml:"batch_size"`
	Interval  time.Duration `mapstructure:"interval"   yaml:"interval"`
	// StaleAge is the default age for queue reset-stale.
	StaleAge time.Duration `mapstructure:"stale_age" yaml:"stale_age"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	JSON  bool   `mapstructure:"json"  yaml:"json"`
}

// TelemetryConfig holds export settings.
type TelemetryConfig struct {
	Environment  string  `mapstructure:"environment"   yaml:"environment"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint" yaml:"otlp_endpoint"`
	OTLPHeaders  string  `mapstructure:"otlp_headers"  yaml:"otlp_headers"`
	OTLPInsecure bool    `mapstructure:"otlp_insecure" yaml:"otlp_insecure"`
	SampleRatio  float64 `mapstructure:"sample_ratio"  yaml:"sample_ratio"`
	// MetricsAddr serves /metrics, /healthz and /readyz. Empty disables it.
	MetricsAddr string `mapstructure:"metrics_addr" yaml:"metrics_addr"`
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Storage.Root == "" {
		return ErrMissingRoot
	}

	if c.Storage.Database == "" {
		return ErrMissingDatabase
	}

	if c.Git.ServiceName == "" || c.Git.ServiceEmail == "" {
		return ErrMissingIdentity
	}

	if c.Queue.Limit <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidLimit, c.Queue.Limit)
	}

	if c.Queue.BatchSize < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidBatch, c.Queue.BatchSize)
	}

	if c.Queue.Interval <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidInterval, c.Queue.Interval)
	}

	if _, err := c.Logging.SlogLevel(); err != nil {
		return err
	}

	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("%w: %g", ErrInvalidSampling, c.Telemetry.SampleRatio)
	}

	return nil
}

// SlogLevel parses the configured level.
func (l LoggingConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidLogLevel, l.Level)
	}

	return level, nil
}

// Identity is the service signature used for commits.
func (c *Config) Identity() gitstore.Identity {
	return gitstore.Identity{Name: c.Git.ServiceName, Email: c.Git.ServiceEmail}
}

// GitSettings returns the process-wide libgit2 settings.
func (c *Config) GitSettings(logger *slog.Logger) gitlib.Settings {
	return gitlib.Settings{
		GlobalSearchPath: c.Git.GlobalSearchPath,
		FsyncGitDir:      c.Git.Fsync,
		GitExecutable:    c.Git.Executable,
		Logger:           logger,
	}
}

// Observability returns the telemetry settings for a process running in mode.
func (c *Config) Observability(mode observability.AppMode, version string) observability.Config {
	cfg := observability.DefaultConfig()
	cfg.ServiceVersion = version
	cfg.Environment = c.Telemetry.Environment
	cfg.Mode = mode
	cfg.OTLPEndpoint = c.Telemetry.OTLPEndpoint
	cfg.OTLPHeaders = observability.ParseOTLPHeaders(c.Telemetry.OTLPHeaders)
	cfg.OTLPInsecure = c.Telemetry.OTLPInsecure
	cfg.SampleRatio = c.Telemetry.SampleRatio
	cfg.Prometheus = c.Telemetry.MetricsAddr != ""
	cfg.LogJSON = c.Logging.JSON

	if level, err := c.Logging.SlogLevel(); err == nil {
		cfg.LogLevel = level
	}

	return cfg
}
