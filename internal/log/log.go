package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

var (
	mu     sync.RWMutex
	logger = newLogger(os.Stderr, "text", zerolog.InfoLevel)
)

func newLogger(w io.Writer, format string, lvl zerolog.Level) zerolog.Logger {
	if format == "json" {
		return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
	}
	return zerolog.New(zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: time.RFC3339,
		NoColor:    true,
	}).Level(lvl).With().Timestamp().Logger()
}

// Configure replaces the global logger. format is "json" or "text"; an
// unknown level falls back to INFO.
func Configure(w io.Writer, format string, level Level) {
	if w == nil {
		w = os.Stderr
	}
	l := newLogger(w, format, toZerolog(level))
	mu.Lock()
	logger = l
	mu.Unlock()
}

// ParseLevel maps a case-insensitive level name to a Level.
func ParseLevel(s string) (Level, bool) {
	switch Level(strings.ToUpper(strings.TrimSpace(s))) {
	case LevelDebug:
		return LevelDebug, true
	case LevelInfo:
		return LevelInfo, true
	case LevelWarn, "WARNING":
		return LevelWarn, true
	case LevelError:
		return LevelError, true
	}
	return LevelInfo, false
}

func Debug(msg string, kv ...any) {
	logWithLevel(zerolog.DebugLevel, nil, msg, kv...)
}

func Info(msg string, kv ...any) {
	logWithLevel(zerolog.InfoLevel, nil, msg, kv...)
}

func Warn(msg string, kv ...any) {
	logWithLevel(zerolog.WarnLevel, nil, msg, kv...)
}

func Error(msg string, err error, kv ...any) {
	logWithLevel(zerolog.ErrorLevel, err, msg, kv...)
}

func logWithLevel(level zerolog.Level, err error, msg string, kv ...any) {
	mu.RLock()
	l := logger
	mu.RUnlock()

	ev := l.WithLevel(level)
	if ev == nil {
		return
	}
	if err != nil {
		ev = ev.Err(err)
	}
	// Expect kv as pairs: key, value, key, value, ...
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprint(kv[i])
		}
		ev = ev.Interface(key, kv[i+1])
	}
	ev.Msg(msg)
}

func toZerolog(l Level) zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
