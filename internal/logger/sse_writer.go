package logger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/r3labs/sse/v2"
	"github.com/rs/zerolog"
)

const (
	logsStream        = "logs"
	defaultTimeFormat = "15:04:05"
)

// SSEPublisher is the part of *sse.Server the writer needs.
type SSEPublisher interface {
	Publish(id string, event *sse.Event)
}

type LogMessage struct {
	Time    string `json:"time"`
	Level   string `json:"level"`
	Message string `json:"message"`
}

func (m LogMessage) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

type formatter func(interface{}) string

// SSEWriter renders zerolog JSON lines in console style and publishes them
// on the "logs" stream.
type SSEWriter struct {
	SSE        SSEPublisher
	TimeFormat string
	PartsOrder []string
}

func NewSSEWriter(sse SSEPublisher, options ...func(w *SSEWriter)) SSEWriter {
	w := SSEWriter{
		SSE:        sse,
		TimeFormat: defaultTimeFormat,
		PartsOrder: defaultPartsOrder(),
	}

	for _, opt := range options {
		opt(&w)
	}

	return w
}

func (w SSEWriter) Write(p []byte) (n int, err error) {
	if w.SSE == nil {
		return 0, nil
	}

	var evt map[string]interface{}
	d := json.NewDecoder(bytes.NewReader(p))
	d.UseNumber()
	if err := d.Decode(&evt); err != nil {
		return n, fmt.Errorf("cannot decode event: %s", err)
	}

	timeFormat := w.TimeFormat
	if timeFormat == "" {
		timeFormat = defaultTimeFormat
	}

	msg := LogMessage{
		Time:  defaultFormatTimestamp(timeFormat)(evt[zerolog.TimestampFieldName]),
		Level: defaultFormatLevel()(evt[zerolog.LevelFieldName]),
	}

	buf := new(bytes.Buffer)
	for _, part := range w.PartsOrder {
		if part == zerolog.TimestampFieldName || part == zerolog.LevelFieldName {
			continue
		}
		w.writePart(buf, evt, part)
	}
	w.writeFields(buf, evt)

	msg.Message = buf.String()

	data, err := msg.Bytes()
	if err != nil {
		return n, err
	}

	w.SSE.Publish(logsStream, &sse.Event{Data: data})

	return len(p), nil
}

// writeFields appends all non-standard fields, error first and the rest
// sorted by name.
func (w SSEWriter) writeFields(buf *bytes.Buffer, evt map[string]interface{}) {
	hasErr := false
	fields := make([]string, 0, len(evt))
	for field := range evt {
		switch field {
		case zerolog.LevelFieldName, zerolog.TimestampFieldName, zerolog.MessageFieldName, zerolog.CallerFieldName:
			continue
		case zerolog.ErrorFieldName:
			hasErr = true
			continue
		}
		fields = append(fields, field)
	}
	sort.Strings(fields)

	if hasErr {
		fields = append([]string{zerolog.ErrorFieldName}, fields...)
	}

	if len(fields) > 0 && buf.Len() > 0 {
		buf.WriteByte(' ')
	}

	for i, field := range fields {
		var fn, fv formatter

		if field == zerolog.ErrorFieldName {
			fn = defaultFormatErrFieldName()
			fv = defaultFormatErrFieldValue()
		} else {
			fn = defaultFormatFieldName()
			fv = defaultFormatFieldValue
		}

		buf.WriteString(fn(field))

		switch value := evt[field].(type) {
		case string:
			if needsQuote(value) {
				buf.WriteString(fv(strconv.Quote(value)))
			} else {
				buf.WriteString(fv(value))
			}
		case json.Number:
			buf.WriteString(fv(value))
		default:
			b, err := json.Marshal(value)
			if err != nil {
				fmt.Fprintf(buf, "[error: %v]", err)
			} else {
				buf.WriteString(fv(b))
			}
		}

		if i < len(fields)-1 {
			buf.WriteByte(' ')
		}
	}
}

func (w SSEWriter) writePart(buf *bytes.Buffer, evt map[string]interface{}, p string) {
	var f formatter

	switch p {
	case zerolog.LevelFieldName:
		f = defaultFormatLevel()
	case zerolog.TimestampFieldName:
		f = defaultFormatTimestamp(w.TimeFormat)
	case zerolog.MessageFieldName:
		f = defaultFormatMessage
	case zerolog.CallerFieldName:
		f = defaultFormatCaller()
	default:
		f = defaultFormatFieldValue
	}

	s := f(evt[p])
	if len(s) > 0 {
		if buf.Len() > 0 {
			buf.WriteByte(' ')
		}
		buf.WriteString(s)
	}
}

func defaultPartsOrder() []string {
	return []string{
		zerolog.TimestampFieldName,
		zerolog.LevelFieldName,
		zerolog.CallerFieldName,
		zerolog.MessageFieldName,
	}
}

// needsQuote returns true when the string contains spaces, quotes,
// backslashes or control characters.
func needsQuote(s string) bool {
	for i := range s {
		if s[i] < 0x20 || s[i] > 0x7e || s[i] == ' ' || s[i] == '\\' || s[i] == '"' {
			return true
		}
	}
	return false
}

func defaultFormatTimestamp(timeFormat string) formatter {
	if timeFormat == "" {
		timeFormat = defaultTimeFormat
	}
	return func(i interface{}) string {
		t := "<nil>"
		switch tt := i.(type) {
		case string:
			ts, err := time.Parse(zerolog.TimeFieldFormat, tt)
			if err != nil {
				t = tt
			} else {
				t = ts.Local().Format(timeFormat)
			}
		case json.Number:
			i, err := tt.Int64()
			if err != nil {
				t = tt.String()
			} else {
				var sec, nsec int64 = i, 0
				switch zerolog.TimeFieldFormat {
				case zerolog.TimeFormatUnixMs:
					nsec = int64(time.Duration(i) * time.Millisecond)
					sec = 0
				case zerolog.TimeFormatUnixMicro:
					nsec = int64(time.Duration(i) * time.Microsecond)
					sec = 0
				}
				t = time.Unix(sec, nsec).Format(timeFormat)
			}
		}
		return t
	}
}

func defaultFormatLevel() formatter {
	return func(i interface{}) string {
		if ll, ok := i.(string); ok {
			switch ll {
			case zerolog.LevelTraceValue:
				return "TRC"
			case zerolog.LevelDebugValue:
				return "DBG"
			case zerolog.LevelInfoValue:
				return "INF"
			case zerolog.LevelWarnValue:
				return "WRN"
			case zerolog.LevelErrorValue:
				return "ERR"
			case zerolog.LevelFatalValue:
				return "FTL"
			case zerolog.LevelPanicValue:
				return "PNC"
			default:
				return ll
			}
		}
		return "???"
	}
}

func defaultFormatCaller() formatter {
	return func(i interface{}) string {
		var c string
		if cc, ok := i.(string); ok {
			c = cc
		}
		if len(c) > 0 {
			if filepath.IsAbs(c) {
				if cwd, err := os.Getwd(); err == nil {
					if rel, err := filepath.Rel(cwd, c); err == nil {
						c = rel
					}
				}
			}
			c = c + " >"
		}
		return c
	}
}

func defaultFormatMessage(i interface{}) string {
	if i == nil {
		return ""
	}
	return fmt.Sprintf("%s", i)
}

func defaultFormatFieldName() formatter {
	return func(i interface{}) string {
		return fmt.Sprintf("%s=", i)
	}
}

func defaultFormatFieldValue(i interface{}) string {
	return fmt.Sprintf("%s", i)
}

func defaultFormatErrFieldName() formatter {
	return func(i interface{}) string {
		return fmt.Sprintf("%s=", i)
	}
}

func defaultFormatErrFieldValue() formatter {
	return func(i interface{}) string {
		return fmt.Sprintf("%s=", i)
	}
}
