package config

import (
	"bytes"
	"log"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"text/template"

	"github.com/flurbudurbur/nanosync/internal/domain"
	"github.com/flurbudurbur/nanosync/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

var configTemplate = `# config.toml

[server]
  # Hostname or IP address for the admin API to listen on.
  # Default: "{{ .host }}"
  host = "{{ .host }}"

  # Port for the admin API.
  # Default: 8383
  port = 8383

[database]
  # Local store.
  # Supported: "sqlite", "postgres"
  # Default: "sqlite"
  type = "sqlite"

  # Only used if database.type is "postgres".
  [database.postgres]
    host = "localhost"
    port = 5432
    database = "nanosync"
    user = "postgres"
    pass = "postgres"
    ssl_mode = "disable"

[logging]
  # Log file directory. Empty logs to stderr only.
  # Default: ""
  path = "log/"

  # Options: "ERROR", "WARN", "INFO", "DEBUG", "TRACE"
  # Default: "DEBUG"
  level = "DEBUG"

  # Maximum size of a log file in megabytes before it is rotated.
  # Default: 50
  max_file_size = 50

  # Maximum number of old log files to keep.
  # Default: 3
  max_backup_count = 3

[sync]
  # Retryable failures a job may accumulate before it is dropped.
  # A job is attempted at most max_failure_count + 1 times.
  # Default: {{ .maxFailureCount }}
  max_failure_count = {{ .maxFailureCount }}

  # Drain tasks allowed to run at once.
  # Default: {{ .workers }}
  workers = {{ .workers }}

  # Cron spec for the sweep that re-drains persisted jobs.
  # Default: "{{ .sweepSchedule }}"
  sweep_schedule = "{{ .sweepSchedule }}"

[remote]
  # Base URL of the remote note endpoint.
  base_url = "http://localhost:8080/api"

  # Request timeout in seconds.
  # Default: {{ .remoteTimeout }}
  timeout = {{ .remoteTimeout }}
`

func writeConfig(configPath string, configFile string) error {
	cfgPath := filepath.Join(configPath, configFile)

	// check if configPath exists, if not create it
	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(configPath, os.ModePerm); err != nil {
			log.Println(err)
			return err
		}
	}

	// config exists, nothing to do
	if _, err := os.Stat(cfgPath); !errors.Is(err, os.ErrNotExist) {
		return nil
	}

	host := "127.0.0.1"
	if _, err := os.Stat("/.dockerenv"); err == nil {
		host = "0.0.0.0"
	} else if b, err := os.ReadFile("/proc/1/cgroup"); err == nil {
		if strings.Contains(string(b), "/docker") || strings.Contains(string(b), "/lxc") {
			host = "0.0.0.0"
		}
	}

	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return errors.Wrap(err, "could not create config template")
	}

	tmplVars := map[string]interface{}{
		"host":            host,
		"maxFailureCount": domain.DefaultMaxFailureCount,
		"workers":         domain.DefaultSyncWorkers,
		"sweepSchedule":   domain.DefaultSweepSchedule,
		"remoteTimeout":   domain.DefaultRemoteTimeout,
	}

	var buffer bytes.Buffer
	if err := tmpl.Execute(&buffer, &tmplVars); err != nil {
		return errors.Wrap(err, "could not write config template output")
	}

	f, err := os.Create(cfgPath)
	if err != nil {
		log.Printf("error creating file: %q", err)
		return err
	}
	defer func(f *os.File) {
		if errClose := f.Close(); errClose != nil {
			log.Printf("error closing file: %q", errClose)
		}
	}(f)

	if _, err := f.WriteString(buffer.String()); err != nil {
		log.Printf("error writing contents to file: %v %q", configPath, err)
		return err
	}

	return f.Sync()
}

type AppConfig struct {
	Config *domain.Config
	m      sync.RWMutex

	v     *viper.Viper
	hooks []func(cfg *domain.Config)
}

func New(configPath string, version string) *AppConfig {
	c := &AppConfig{v: viper.New()}
	c.defaults()
	c.Config.Version = version
	c.Config.ConfigPath = configPath

	c.load(configPath)

	return c
}

func (c *AppConfig) defaults() {
	c.Config = &domain.Config{
		Version: "dev",
		Server: domain.ServerConfig{
			Host: "127.0.0.1",
			Port: 8383,
		},
		Database: domain.DatabaseConfig{
			Type: "sqlite",
			Postgres: domain.PostgresConfig{
				Host:     "localhost",
				Port:     5432,
				Database: "nanosync",
				User:     "postgres",
				Pass:     "postgres",
				SslMode:  "disable",
			},
		},
		Logging: domain.LoggingConfig{
			Level:          "DEBUG",
			MaxFileSize:    50,
			MaxBackupCount: 3,
		},
		Sync: domain.SyncConfig{
			MaxFailureCount: domain.DefaultMaxFailureCount,
			Workers:         domain.DefaultSyncWorkers,
			SweepSchedule:   domain.DefaultSweepSchedule,
		},
		Remote: domain.RemoteConfig{
			BaseURL: "http://localhost:8080/api",
			Timeout: domain.DefaultRemoteTimeout,
		},
	}
}

func (c *AppConfig) load(configPath string) {
	c.v.SetConfigType("toml")

	if configPath != "" {
		configPath = path.Clean(configPath)
		if err := writeConfig(configPath, "config.toml"); err != nil {
			log.Printf("writeConfig error during load: %q", err)
		}
		c.v.SetConfigFile(path.Join(configPath, "config.toml"))
	} else {
		c.v.SetConfigName("config")
		c.v.AddConfigPath(".")
		c.v.AddConfigPath("$HOME/.config/nanosync")
		c.v.AddConfigPath("$HOME/.nanosync")
	}

	if err := c.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Printf("Config file not found, using defaults")
		} else {
			log.Printf("Config read error: %q. Using defaults.", err)
		}
	}

	if err := c.v.Unmarshal(c.Config); err != nil {
		log.Fatalf("Could not unmarshal config file into struct: %v. Config file used: %s", err, c.v.ConfigFileUsed())
	}

	normalize(c.Config)
}

// normalize replaces out-of-range values with their defaults.
func normalize(cfg *domain.Config) {
	if cfg.Sync.MaxFailureCount < 0 {
		cfg.Sync.MaxFailureCount = domain.DefaultMaxFailureCount
	}
	if cfg.Sync.Workers < 1 {
		cfg.Sync.Workers = domain.DefaultSyncWorkers
	}
	if cfg.Sync.SweepSchedule == "" {
		cfg.Sync.SweepSchedule = domain.DefaultSweepSchedule
	}
	if cfg.Remote.Timeout <= 0 {
		cfg.Remote.Timeout = domain.DefaultRemoteTimeout
	}
}

// Snapshot returns the current configuration. The pointer is swapped on
// reload and never mutated in place.
func (c *AppConfig) Snapshot() *domain.Config {
	c.m.RLock()
	defer c.m.RUnlock()
	return c.Config
}

// OnChange registers fn to run after every reload or update. Hooks run
// under the config lock and must not call back into AppConfig.
func (c *AppConfig) OnChange(fn func(cfg *domain.Config)) {
	c.m.Lock()
	defer c.m.Unlock()
	c.hooks = append(c.hooks, fn)
}

// Update applies fn to a copy of the current configuration and swaps it
// in. Changes are not written back to config.toml.
func (c *AppConfig) Update(log logger.Logger, fn func(cfg *domain.Config)) *domain.Config {
	c.m.Lock()
	defer c.m.Unlock()

	newConfig := *c.Config
	fn(&newConfig)
	c.swap(log, &newConfig)

	return c.Config
}

// swap installs cfg and notifies hooks. Callers hold c.m.
func (c *AppConfig) swap(log logger.Logger, cfg *domain.Config) {
	normalize(cfg)
	c.Config = cfg

	log.SetLogLevel(cfg.Logging.Level)
	for _, fn := range c.hooks {
		fn(cfg)
	}
}

// DynamicReload watches the config file and applies log level and retry
// budget changes without a restart.
func (c *AppConfig) DynamicReload(log logger.Logger) {
	c.v.OnConfigChange(func(e fsnotify.Event) {
		c.m.Lock()
		defer c.m.Unlock()

		log.Info().Msgf("Config file changed: %s. Reloading configuration.", e.Name)

		if err := c.v.ReadInConfig(); err != nil {
			log.Error().Err(err).Msg("Error reading config file during dynamic reload")
			return
		}

		newConfig := *c.Config
		if err := c.v.Unmarshal(&newConfig); err != nil {
			log.Error().Err(err).Msg("Error unmarshalling config during dynamic reload")
			return
		}

		c.swap(log, &newConfig)

		log.Debug().Msg("Configuration reloaded successfully!")
	})
	c.v.WatchConfig()
}
