package config_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/addongit/internal/config"
	"github.com/Sumatoshi-tech/addongit/internal/observability"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), ".addongit.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoadConfig_EmptyFile_UsesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadConfig(writeConfig(t, ""))
	require.NoError(t, err)

	assert.Equal(t, config.DefaultStorageRoot, cfg.Storage.Root)
	assert.Equal(t, config.DefaultStorageDatabase, cfg.Storage.Database)
	assert.Empty(t, cfg.Storage.TmpDir)
	assert.Equal(t, config.DefaultGitServiceName, cfg.Git.ServiceName)
	assert.Equal(t, config.DefaultGitFsync, cfg.Git.Fsync)
	assert.Equal(t, config.DefaultQueueLimit, cfg.Queue.Limit)
	assert.Equal(t, config.DefaultQueueBatchSize, cfg.Queue.BatchSize)
	assert.Equal(t, config.DefaultQueueInterval, cfg.Queue.Interval)
	assert.Equal(t, config.DefaultQueueStaleAge, cfg.Queue.StaleAge)
	assert.Equal(t, config.DefaultLoggingLevel, cfg.Logging.Level)
	assert.Empty(t, cfg.Telemetry.MetricsAddr)
}

func TestLoadConfig_ValidFile_Unmarshals(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `storage:
  root: /srv/git-storage
  tmp_dir: /srv/tmp
  database: /srv/addons.db
git:
  service_name: Review Robot
  service_email: robot@example.com
  fsync: false
queue:
  limit: 10
  batch_size: 3
  interval: 30s
  stale_age: 2h
logging:
  level: debug
  json: true
telemetry:
  otlp_endpoint: collector:4317
  otlp_headers: "x-team=reviews"
  sample_ratio: 0.25
  metrics_addr: ":9464"
`)

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "/srv/git-storage", cfg.Storage.Root)
	assert.Equal(t, "/srv/tmp", cfg.Storage.TmpDir)
	assert.Equal(t, "/srv/addons.db", cfg.Storage.Database)
	assert.Equal(t, "Review Robot", cfg.Identity().Name)
	assert.Equal(t, "robot@example.com", cfg.Identity().Email)
	assert.False(t, cfg.Git.Fsync)
	assert.Equal(t, 10, cfg.Queue.Limit)
	assert.Equal(t, 3, cfg.Queue.BatchSize)
	assert.Equal(t, 30*time.Second, cfg.Queue.Interval)
	assert.Equal(t, 2*time.Hour, cfg.Queue.StaleAge)

	obs := cfg.Observability(observability.ModeWorker, "1.2.3")
	assert.Equal(t, observability.ModeWorker, obs.Mode)
	assert.Equal(t, "1.2.3", obs.ServiceVersion)
	assert.Equal(t, "collector:4317", obs.OTLPEndpoint)
	assert.Equal(t, map[string]string{"x-team": "reviews"}, obs.OTLPHeaders)
	assert.InDelta(t, 0.25, obs.SampleRatio, 1e-9)
	assert.True(t, obs.Prometheus)
	assert.True(t, obs.LogJSON)
	assert.Equal(t, slog.LevelDebug, obs.LogLevel)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("ADDONGIT_QUEUE_BATCH_SIZE", "5")
	t.Setenv("ADDONGIT_STORAGE_ROOT", "/env/root")

	cfg, err := config.LoadConfig(writeConfig(t, "queue:\n  batch_size: 2\n"))
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Queue.BatchSize)
	assert.Equal(t, "/env/root", cfg.Storage.Root)
}

func TestLoadConfig_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		want    error
	}{
		{"empty root", "storage:\n  root: \"\"\n", config.ErrMissingRoot},
		{"empty database", "storage:\n  database: \"\"\n", config.ErrMissingDatabase},
		{"no identity", "git:\n  service_email: \"\"\n", config.ErrMissingIdentity},
		{"zero limit", "queue:\n  limit: 0\n", config.ErrInvalidLimit},
		{"negative batch", "queue:\n  batch_size: -1\n", config.ErrInvalidBatch},
		{"zero interval", "queue:\n  interval: 0s\n", config.ErrInvalidInterval},
		{"bad level", "logging:\n  level: loud\n", config.ErrInvalidLogLevel},
		{"bad ratio", "telemetry:\n  sample_ratio: 1.5\n", config.ErrInvalidSampling},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := config.LoadConfig(writeConfig(t, tt.content))
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestLoadConfig_MalformedFile(t *testing.T) {
	t.Parallel()

	_, err := config.LoadConfig(writeConfig(t, "storage: [unterminated\n"))
	require.Error(t, err)
}

func TestGitSettings(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadConfig(writeConfig(t, "git:\n  global_search_path: /srv/gitconfig\n"))
	require.NoError(t, err)

	settings := cfg.GitSettings(nil)
	assert.Equal(t, "/srv/gitconfig", settings.GlobalSearchPath)
	assert.True(t, settings.FsyncGitDir)
	assert.Equal(t, config.DefaultGitExecutable, settings.GitExecutable)
}
