package logging

import (
	"bytes"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Format selects the log encoding.
type Format string

const (
	FormatConsole Format = "console"
	FormatJSON    Format = "json"
)

// ParseLevel maps a level name to a zerolog level. Unknown names fall back to info.
func ParseLevel(s string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zerolog.DebugLevel, true
	case "info", "":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error", "err":
		return zerolog.ErrorLevel, true
	case "off", "disabled":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}

// New builds the process logger. Logs go to w (stderr when nil) so that
// stdout stays reserved for the run summary.
func New(level string, format Format, w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	lvl, _ := ParseLevel(level)
	if format != FormatJSON {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

// LineWriter forwards complete lines of subprocess output to the logger.
type LineWriter struct {
	log    zerolog.Logger
	stream string
	buf    []byte
}

// NewLineWriter returns an io.Writer that logs each complete line at debug level.
// Call Flush on the returned writer to emit a trailing partial line.
func NewLineWriter(log zerolog.Logger, stream string) *LineWriter {
	return &LineWriter{log: log, stream: stream}
}

func (lw *LineWriter) Write(p []byte) (int, error) {
	lw.buf = append(lw.buf, p...)
	for {
		idx := bytes.IndexByte(lw.buf, '\n')
		if idx < 0 {
			break
		}
		lw.emit(string(lw.buf[:idx]))
		lw.buf = lw.buf[idx+1:]
	}
	return len(p), nil
}

// Flush logs any buffered partial line.
func (lw *LineWriter) Flush() {
	if len(lw.buf) > 0 {
		lw.emit(string(lw.buf))
		lw.buf = nil
	}
}

func (lw *LineWriter) emit(line string) {
	line = strings.TrimRight(line, "\r")
	if line == "" {
		return
	}
	lw.log.Debug().Str("stream", lw.stream).Msg(line)
}
