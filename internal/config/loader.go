package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

const (
	configName       = ".addongit"
	configType       = "yaml"
	envPrefix        = "ADDONGIT"
	envKeySeparator  = "_"
	nestedKeyDivider = "."
)

// LoadConfig loads configuration from file, env vars, and defaults.
// If configPath is non-empty, it is used as the explicit config file path.
// Otherwise .addongit.yaml is searched in CWD and $HOME; a missing file
// is not an error.
func LoadConfig(configPath string) (*Config, error) {
	viperCfg := viper.New()

	applyDefaults(viperCfg)

	viperCfg.SetConfigType(configType)
	viperCfg.SetEnvPrefix(envPrefix)
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(nestedKeyDivider, envKeySeparator))
	viperCfg.AutomaticEnv()

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)
	} else {
		viperCfg.SetConfigName(configName)
		viperCfg.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viperCfg.AddConfigPath(home)
		}
	}

	readErr := viperCfg.ReadInConfig()
	if readErr != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFound) {
			return nil, fmt.Errorf("read config: %w", readErr)
		}
	}

	var cfg Config

	unmarshalErr := viperCfg.Unmarshal(&cfg)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("unmarshal config: %w", unmarshalErr)
	}

	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, fmt.Errorf("validate config: %w", validateErr)
	}

	return &cfg, nil
}

// applyDefaults registers every key so AutomaticEnv can override it.
func applyDefaults(viperCfg *viper.Viper) {
	viperCfg.SetDefault("storage.root", DefaultStorageRoot)
	viperCfg.SetDefault("storage.tmp_dir", "")
	viperCfg.SetDefault("storage.database", DefaultStorageDatabase)
	viperCfg.SetDefault("storage.pool_size", DefaultStoragePoolSize)

	viperCfg.SetDefault("git.service_name", DefaultGitServiceName)
	viperCfg.SetDefault("git.service_email", DefaultGitServiceEmail)
	viperCfg.SetDefault("git.global_search_path", "")
	viperCfg.SetDefault("git.fsync", DefaultGitFsync)
	viperCfg.SetDefault("git.executable", DefaultGitExecutable)

	viperCfg.SetDefault("queue.limit", DefaultQueueLimit)
	viperCfg.SetDefault("queue.batch_size", DefaultQueueBatchSize)
	viperCfg.SetDefault("queue.interval", DefaultQueueInterval)
	viperCfg.SetDefault("queue.stale_age", DefaultQueueStaleAge)

	viperCfg.SetDefault("logging.level", DefaultLoggingLevel)
	viperCfg.SetDefault("logging.json", DefaultLoggingJSON)

	viperCfg.SetDefault("telemetry.environment", "")
	viperCfg.SetDefault("telemetry.otlp_endpoint", "")
	viperCfg.SetDefault("telemetry.otlp_headers", "")
	viperCfg.SetDefault("telemetry.otlp_insecure", false)
	viperCfg.SetDefault("telemetry.sample_ratio", DefaultTelemetrySampleRatio)
	viperCfg.SetDefault("telemetry.metrics_addr", "")
}
