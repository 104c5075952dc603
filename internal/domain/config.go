package domain

// ServerConfig holds the admin API listener settings
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// PostgresConfig holds PostgreSQL-specific settings
type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	User     string `mapstructure:"user"`
	Pass     string `mapstructure:"pass"`
	SslMode  string `mapstructure:"ssl_mode"`
}

// DatabaseConfig holds general database settings and nested specific configs
type DatabaseConfig struct {
	Type     string         `mapstructure:"type"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Path           string `mapstructure:"path"`
	Level          string `mapstructure:"level"`
	MaxFileSize    int    `mapstructure:"max_file_size"`
	MaxBackupCount int    `mapstructure:"max_backup_count"`
}

// SyncConfig holds the outbox dispatcher settings
type SyncConfig struct {
	// MaxFailureCount is the number of retryable failures a job may
	// accumulate before it is dropped. A job is attempted at most
	// MaxFailureCount+1 times.
	MaxFailureCount int `mapstructure:"max_failure_count"`

	// Workers bounds how many drain tasks run at once.
	Workers int `mapstructure:"workers"`

	// SweepSchedule is a cron spec for re-notifying the dispatcher.
	SweepSchedule string `mapstructure:"sweep_schedule"`
}

// RemoteConfig holds the remote sync endpoint settings
type RemoteConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Timeout int    `mapstructure:"timeout"` // seconds
}

// Config holds the application's configuration, mapped from config.toml
type Config struct {
	Version    string // not from config file
	ConfigPath string // not from config file

	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Remote   RemoteConfig   `mapstructure:"remote"`
}

const (
	DefaultMaxFailureCount = 5
	DefaultSyncWorkers     = 4
	DefaultSweepSchedule   = "@every 5m"
	DefaultRemoteTimeout   = 30
)

// ConfigUpdate holds the settings the admin API may change at runtime.
type ConfigUpdate struct {
	LogLevel        *string `json:"log_level,omitempty"`
	MaxFailureCount *int    `json:"max_failure_count,omitempty"`
}
