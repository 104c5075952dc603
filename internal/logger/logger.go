package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/flurbudurbur/nanosync/internal/domain"

	"github.com/r3labs/sse/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/pkgerrors"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger interface
type Logger interface {
	Log() *zerolog.Event
	Fatal() *zerolog.Event
	Err(err error) *zerolog.Event
	Error() *zerolog.Event
	Warn() *zerolog.Event
	Info() *zerolog.Event
	Trace() *zerolog.Event
	Debug() *zerolog.Event
	With() zerolog.Context
	RegisterSSEWriter(sse *sse.Server)
	SetLogLevel(level string)
}

// DefaultLogger default logging controller
type DefaultLogger struct {
	log           zerolog.Logger
	level         zerolog.Level
	writers       []io.Writer
	logDir        string
	currentDate   string
	lumberjackLog *lumberjack.Logger
	cfg           *domain.Config

	// global is false for Mock, which must not change process-wide state
	global bool

	mu sync.Mutex
}

func New(cfg *domain.Config) Logger {
	l := &DefaultLogger{
		writers:     make([]io.Writer, 0),
		level:       zerolog.DebugLevel,
		cfg:         cfg,
		currentDate: time.Now().Format("2006-01-02"),
		global:      true,
	}

	l.SetLogLevel(cfg.Logging.Level)

	// use pretty logging for dev only
	if cfg.Version == "dev" {
		consoleWriter := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}

		l.writers = append(l.writers, consoleWriter)
	} else {
		l.writers = append(l.writers, os.Stderr)
	}

	if cfg.Logging.Path != "" {
		l.logDir = cfg.Logging.Path
		if _, err := os.Stat(l.logDir); os.IsNotExist(err) {
			if err := os.MkdirAll(l.logDir, 0755); err != nil {
				fmt.Printf("Failed to create log directory: %v\n", err)
			}
		}

		l.lumberjackLog = &lumberjack.Logger{
			Filename:   l.logFilename(),
			MaxSize:    cfg.Logging.MaxFileSize,
			MaxBackups: cfg.Logging.MaxBackupCount,
		}

		l.writers = append(l.writers, l.lumberjackLog)

		go l.scheduleRotationCheck()
	}

	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack

	l.log = zerolog.New(io.MultiWriter(l.writers...)).Level(l.rootLevel()).With().Stack().Logger()

	return l
}

func (l *DefaultLogger) logFilename() string {
	return filepath.Join(l.logDir, fmt.Sprintf("nanosync-%s.log", l.currentDate))
}

func (l *DefaultLogger) RegisterSSEWriter(sse *sse.Server) {
	w := NewSSEWriter(sse)

	l.mu.Lock()
	l.writers = append(l.writers, w)
	l.log = zerolog.New(io.MultiWriter(l.writers...)).Level(l.rootLevel()).With().Stack().Logger()
	l.mu.Unlock()

	l.Info().Msg("SSE writer registered for logging")
}

// scheduleRotationCheck wakes at midnight and rotates the log file
func (l *DefaultLogger) scheduleRotationCheck() {
	if l.lumberjackLog == nil || l.logDir == "" {
		return
	}

	for {
		now := time.Now()
		nextMidnight := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, now.Location())

		time.Sleep(nextMidnight.Sub(now))

		l.checkRotate()
	}
}

// checkRotate switches to a new dated log file once the day changes
func (l *DefaultLogger) checkRotate() {
	if l.lumberjackLog == nil || l.logDir == "" {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	today := time.Now().Format("2006-01-02")
	if today == l.currentDate {
		return
	}

	l.currentDate = today
	l.lumberjackLog.Filename = l.logFilename()

	// flush the old file, lumberjack reopens on next write
	_ = l.lumberjackLog.Close()
}

// SetLogLevel changes the level through zerolog's global level, so loggers
// derived earlier with With() follow it too.
func (l *DefaultLogger) SetLogLevel(level string) {
	var lvl zerolog.Level
	switch level {
	case "INFO":
		lvl = zerolog.InfoLevel
	case "DEBUG":
		lvl = zerolog.DebugLevel
	case "ERROR":
		lvl = zerolog.ErrorLevel
	case "WARN":
		lvl = zerolog.WarnLevel
	case "TRACE":
		lvl = zerolog.TraceLevel
	default:
		lvl = zerolog.Disabled
	}

	l.mu.Lock()
	l.level = lvl
	global := l.global
	l.mu.Unlock()

	if global {
		zerolog.SetGlobalLevel(lvl)
	}
}

// rootLevel is the level the root logger is built with.
func (l *DefaultLogger) rootLevel() zerolog.Level {
	if l.global {
		return zerolog.TraceLevel
	}
	return l.level
}

func (l *DefaultLogger) logger() zerolog.Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.log
}

// Log log something without level.
func (l *DefaultLogger) Log() *zerolog.Event {
	l.checkRotate()
	lg := l.logger()
	return lg.Log().Timestamp()
}

// Fatal log something at fatal level. This will exit the process!
func (l *DefaultLogger) Fatal() *zerolog.Event {
	l.checkRotate()
	lg := l.logger()
	return lg.Fatal().Timestamp()
}

// Error log something at Error level
func (l *DefaultLogger) Error() *zerolog.Event {
	l.checkRotate()
	lg := l.logger()
	return lg.Error().Timestamp()
}

// Err log something at Err level
func (l *DefaultLogger) Err(err error) *zerolog.Event {
	l.checkRotate()
	lg := l.logger()
	return lg.Err(err).Timestamp()
}

// Warn log something at warning level.
func (l *DefaultLogger) Warn() *zerolog.Event {
	l.checkRotate()
	lg := l.logger()
	return lg.Warn().Timestamp()
}

// Info log something at info level.
func (l *DefaultLogger) Info() *zerolog.Event {
	l.checkRotate()
	lg := l.logger()
	return lg.Info().Timestamp()
}

// Debug log something at debug level.
func (l *DefaultLogger) Debug() *zerolog.Event {
	l.checkRotate()
	lg := l.logger()
	return lg.Debug().Timestamp()
}

// Trace log something at trace level.
func (l *DefaultLogger) Trace() *zerolog.Event {
	l.checkRotate()
	lg := l.logger()
	return lg.Trace().Timestamp()
}

// With log with context
func (l *DefaultLogger) With() zerolog.Context {
	l.checkRotate()
	lg := l.logger()
	return lg.With().Timestamp()
}
