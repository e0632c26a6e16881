package config

import "time"

// Storage defaults.
const (
	DefaultStorageRoot     = "git-storage"
	DefaultStorageDatabase = "addongit.db"
	DefaultStoragePoolSize = 4
)

// Git defaults.
const (
	DefaultGitServiceName  = "addongit"
	DefaultGitServiceEmail = "addongit@localhost"
	DefaultGitFsync        = true
	DefaultGitExecutable   = "git"
)

// Queue defaults.
const (
	DefaultQueueLimit     = 100
	DefaultQueueBatchSize = 0
	DefaultQueueInterval  = time.Minute
	DefaultQueueStaleAge  = time.Hour
)

// Logging defaults.
const (
	DefaultLoggingLevel = "info"
	DefaultLoggingJSON  = false
)

// Telemetry defaults.
const (
	DefaultTelemetrySampleRatio = 0.0
)
