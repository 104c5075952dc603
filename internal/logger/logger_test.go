//go:build !integration

package logger

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/flurbudurbur/nanosync/internal/domain"
	"github.com/r3labs/sse/v2"
	"github.com/rs/zerolog"
)

func newTestConfig(version, level, path string) *domain.Config {
	return &domain.Config{
		Version: version,
		Logging: domain.LoggingConfig{
			Level:          level,
			Path:           path,
			MaxFileSize:    1,
			MaxBackupCount: 1,
		},
	}
}

func TestNewLogger_Defaults(t *testing.T) {
	logger := New(newTestConfig("dev", "DEBUG", ""))
	if logger == nil {
		t.Fatal("Expected logger to be non-nil")
	}
}

func TestNewLogger_LogDirCreation(t *testing.T) {
	tmpDir := filepath.Join(t.TempDir(), "logs")

	l, ok := New(newTestConfig("prod", "INFO", tmpDir)).(*DefaultLogger)
	if !ok {
		t.Fatal("Expected DefaultLogger type")
	}
	if l.logDir != tmpDir {
		t.Errorf("Expected logDir %s, got %s", tmpDir, l.logDir)
	}
	if l.lumberjackLog == nil {
		t.Fatal("Expected lumberjackLog to be initialized")
	}
	want := filepath.Join(tmpDir, fmt.Sprintf("nanosync-%s.log", time.Now().Format("2006-01-02")))
	if l.lumberjackLog.Filename != want {
		t.Errorf("Expected log file %s, got %s", want, l.lumberjackLog.Filename)
	}
}

func resetGlobalLevel(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.TraceLevel) })
}

func TestSetLogLevel(t *testing.T) {
	resetGlobalLevel(t)
	l := New(newTestConfig("dev", "DEBUG", "")).(*DefaultLogger)

	levels := []struct {
		input string
		want  zerolog.Level
	}{
		{"INFO", zerolog.InfoLevel},
		{"DEBUG", zerolog.DebugLevel},
		{"ERROR", zerolog.ErrorLevel},
		{"WARN", zerolog.WarnLevel},
		{"TRACE", zerolog.TraceLevel},
		{"INVALID", zerolog.Disabled},
	}
	for _, tc := range levels {
		l.SetLogLevel(tc.input)
		if l.level != tc.want {
			t.Errorf("SetLogLevel(%q): got %v, want %v", tc.input, l.level, tc.want)
		}
		if got := zerolog.GlobalLevel(); got != tc.want {
			t.Errorf("SetLogLevel(%q): global level %v, want %v", tc.input, got, tc.want)
		}
	}
}

func TestSetLogLevel_ReachesDerivedLoggers(t *testing.T) {
	resetGlobalLevel(t)
	l := New(newTestConfig("prod", "INFO", "")).(*DefaultLogger)

	var buf bytes.Buffer
	l.mu.Lock()
	l.log = zerolog.New(&buf).Level(l.rootLevel())
	l.mu.Unlock()

	sub := l.With().Str("module", "syncqueue").Logger()

	l.SetLogLevel("ERROR")
	sub.Info().Msg("hidden")
	if buf.Len() != 0 {
		t.Errorf("Expected no output at ERROR level, got %q", buf.String())
	}

	l.SetLogLevel("TRACE")
	sub.Debug().Msg("shown")
	if !strings.Contains(buf.String(), `"module":"syncqueue"`) || !strings.Contains(buf.String(), "shown") {
		t.Errorf("Expected debug line from derived logger, got %q", buf.String())
	}
}

func TestMock_SetLogLevelLeavesGlobalLevel(t *testing.T) {
	resetGlobalLevel(t)
	zerolog.SetGlobalLevel(zerolog.TraceLevel)

	Mock().SetLogLevel("ERROR")

	if got := zerolog.GlobalLevel(); got != zerolog.TraceLevel {
		t.Errorf("Expected global level to stay TRACE, got %v", got)
	}
}

func TestLoggerMethods(t *testing.T) {
	l := New(newTestConfig("dev", "DEBUG", "")).(*DefaultLogger)
	_ = l.Log()
	_ = l.Error()
	_ = l.Err(errors.New("test"))
	_ = l.Warn()
	_ = l.Info()
	_ = l.Debug()
	_ = l.Trace()
	_ = l.With()
}

func TestRegisterSSEWriter(t *testing.T) {
	l := New(newTestConfig("dev", "DEBUG", "")).(*DefaultLogger)
	before := len(l.writers)

	l.RegisterSSEWriter(&sse.Server{})

	if len(l.writers) != before+1 {
		t.Errorf("Expected %d writers, got %d", before+1, len(l.writers))
	}
}

func TestSetLogLevel_ConcurrentWithSSEWriter(t *testing.T) {
	resetGlobalLevel(t)
	l := New(newTestConfig("dev", "DEBUG", "")).(*DefaultLogger)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			l.SetLogLevel("WARN")
		}()
		go func() {
			defer wg.Done()
			l.RegisterSSEWriter(&sse.Server{})
		}()
	}
	wg.Wait()

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.level != zerolog.WarnLevel {
		t.Errorf("Expected level WARN, got %v", l.level)
	}
}

func TestCheckRotate_NoLogFile(t *testing.T) {
	l := New(newTestConfig("dev", "DEBUG", "")).(*DefaultLogger)
	l.checkRotate()
}

func TestCheckRotate_Rotation(t *testing.T) {
	tmpDir := t.TempDir()
	l := New(newTestConfig("prod", "INFO", tmpDir)).(*DefaultLogger)

	// simulate a day change
	l.currentDate = "2000-01-01"
	l.checkRotate()

	want := filepath.Join(tmpDir, fmt.Sprintf("nanosync-%s.log", time.Now().Format("2006-01-02")))
	if l.lumberjackLog.Filename != want {
		t.Errorf("Expected rotated log filename %s, got %s", want, l.lumberjackLog.Filename)
	}
}

func TestScheduleRotationCheck_NoLogFile(t *testing.T) {
	l := New(newTestConfig("dev", "DEBUG", "")).(*DefaultLogger)

	done := make(chan struct{})
	go func() {
		l.scheduleRotationCheck()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Error("scheduleRotationCheck did not return as expected")
	}
}
