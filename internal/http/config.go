package http

import (
	"net/http"
	"strings"

	"github.com/flurbudurbur/nanosync/internal/config"
	"github.com/flurbudurbur/nanosync/internal/domain"
	"github.com/flurbudurbur/nanosync/internal/logger"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/pkg/errors"
)

type configJson struct {
	Host            string `json:"host"`
	Port            int    `json:"port"`
	DatabaseType    string `json:"database_type"`
	LogLevel        string `json:"log_level"`
	LogPath         string `json:"log_path"`
	LogMaxSize      int    `json:"log_max_size"`
	LogMaxBackups   int    `json:"log_max_backups"`
	MaxFailureCount int    `json:"max_failure_count"`
	Workers         int    `json:"workers"`
	SweepSchedule   string `json:"sweep_schedule"`
	RemoteBaseURL   string `json:"remote_base_url"`
	RemoteTimeout   int    `json:"remote_timeout"`
	Version         string `json:"version"`
	Commit          string `json:"commit"`
	Date            string `json:"date"`
}

var logLevels = map[string]bool{
	"ERROR": true,
	"WARN":  true,
	"INFO":  true,
	"DEBUG": true,
	"TRACE": true,
}

type configHandler struct {
	encoder encoder
	log     logger.Logger
	cfg     *config.AppConfig

	version string
	commit  string
	date    string
}

func newConfigHandler(encoder encoder, log logger.Logger, cfg *config.AppConfig, version, commit, date string) *configHandler {
	return &configHandler{
		encoder: encoder,
		log:     log,
		cfg:     cfg,
		version: version,
		commit:  commit,
		date:    date,
	}
}

func (h configHandler) Routes(r chi.Router) {
	r.Get("/", h.getConfig)
	r.Patch("/", h.updateConfig)
}

func (h configHandler) toJson(c *domain.Config) configJson {
	return configJson{
		Host:            c.Server.Host,
		Port:            c.Server.Port,
		DatabaseType:    c.Database.Type,
		LogLevel:        c.Logging.Level,
		LogPath:         c.Logging.Path,
		LogMaxSize:      c.Logging.MaxFileSize,
		LogMaxBackups:   c.Logging.MaxBackupCount,
		MaxFailureCount: c.Sync.MaxFailureCount,
		Workers:         c.Sync.Workers,
		SweepSchedule:   c.Sync.SweepSchedule,
		RemoteBaseURL:   c.Remote.BaseURL,
		RemoteTimeout:   c.Remote.Timeout,
		Version:         h.version,
		Commit:          h.commit,
		Date:            h.date,
	}
}

func (h configHandler) getConfig(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.toJson(h.cfg.Snapshot()))
}

// updateConfig applies runtime changes in memory only.
func (h configHandler) updateConfig(w http.ResponseWriter, r *http.Request) {
	var data domain.ConfigUpdate

	if err := render.DecodeJSON(r.Body, &data); err != nil {
		h.encoder.StatusError(w, http.StatusBadRequest, errors.Wrap(err, "invalid config update"))
		return
	}

	if data.LogLevel != nil {
		level := strings.ToUpper(*data.LogLevel)
		if !logLevels[level] {
			h.encoder.StatusError(w, http.StatusBadRequest, errors.Errorf("unknown log level %q", *data.LogLevel))
			return
		}
		data.LogLevel = &level
	}

	if data.MaxFailureCount != nil && *data.MaxFailureCount < 0 {
		h.encoder.StatusError(w, http.StatusBadRequest, errors.New("max_failure_count must not be negative"))
		return
	}

	updated := h.cfg.Update(h.log, func(c *domain.Config) {
		if data.LogLevel != nil {
			c.Logging.Level = *data.LogLevel
		}
		if data.MaxFailureCount != nil {
			c.Sync.MaxFailureCount = *data.MaxFailureCount
		}
	})

	render.JSON(w, r, h.toJson(updated))
}
