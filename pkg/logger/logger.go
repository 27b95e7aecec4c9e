package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog with typed fields and an optional error collector.
// Children created by With share the collector of their parent.
type Logger struct {
	zl   zerolog.Logger
	slot *collectorSlot
}

type collectorSlot struct {
	c atomic.Pointer[LogCollector]
}

type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json or console
	Output     string // stdout, stderr or a file path
	TimeFormat string
}

func New(cfg *Config) (*Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	out, err := openOutput(cfg.Output)
	if err != nil {
		return nil, err
	}

	timeFormat := cfg.TimeFormat
	if timeFormat == "" {
		timeFormat = time.RFC3339Nano
	}
	zerolog.TimeFieldFormat = timeFormat

	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: timeFormat}
	}

	zl := zerolog.New(out).Level(level).With().Timestamp().CallerWithSkipFrameCount(4).Logger()
	return &Logger{zl: zl, slot: &collectorSlot{}}, nil
}

func openOutput(target string) (io.Writer, error) {
	switch target {
	case "", "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	}
	f, err := os.OpenFile(target, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", target, err)
	}
	return f, nil
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	return &Logger{zl: zerolog.Nop(), slot: &collectorSlot{}}
}

// NewWriter builds a JSON logger on w, mainly for tests.
func NewWriter(w io.Writer, level string) *Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return &Logger{zl: zerolog.New(w).Level(lvl).With().Timestamp().Logger(), slot: &collectorSlot{}}
}

// With returns a child logger that always carries fields.
func (l *Logger) With(fields ...Field) *Logger {
	ctx := l.zl.With()
	for _, f := range fields {
		ctx = ctx.Interface(f.Key, f.value())
	}
	return &Logger{zl: ctx.Logger(), slot: l.slot}
}

func (l *Logger) Debug(msg string, fields ...Field) { l.write(l.zl.Debug(), msg, fields) }
func (l *Logger) Info(msg string, fields ...Field)  { l.write(l.zl.Info(), msg, fields) }
func (l *Logger) Warn(msg string, fields ...Field)  { l.write(l.zl.Warn(), msg, fields) }

// Error logs at error level and hands the entry to the collector, if any.
func (l *Logger) Error(msg string, fields ...Field) {
	l.write(l.zl.Error(), msg, fields)
	l.collect("error", msg, fields)
}

func (l *Logger) write(ev *zerolog.Event, msg string, fields []Field) {
	if ev == nil {
		return
	}
	for _, f := range fields {
		f.apply(ev)
	}
	ev.Msg(msg)
}

func (l *Logger) collect(level, msg string, fields []Field) {
	c := l.slot.c.Load()
	if c == nil {
		return
	}
	caller := "unknown"
	// skip collect and Error
	if _, file, line, ok := runtime.Caller(2); ok {
		caller = fmt.Sprintf("%s/%s:%d", filepath.Base(filepath.Dir(file)), filepath.Base(file), line)
	}
	m := make(map[string]interface{}, len(fields))
	for _, f := range fields {
		m[f.Key] = f.value()
	}
	c.AddLog(level, msg, m, caller)
}

// AddCollector starts aggregating error logs, replacing any running collector.
func (l *Logger) AddCollector(cfg *CollectionConfig) {
	if old := l.slot.c.Swap(NewLogCollector(cfg)); old != nil {
		old.Close()
	}
}

// RemoveCollector flushes and detaches the collector.
func (l *Logger) RemoveCollector() {
	if old := l.slot.c.Swap(nil); old != nil {
		old.Close()
	}
}

// Field is a typed structured log attribute.
type Field struct {
	Key string
	val interface{}
	add func(ev *zerolog.Event)
}

func (f Field) apply(ev *zerolog.Event) { f.add(ev) }

func (f Field) value() interface{} {
	if err, ok := f.val.(error); ok {
		return err.Error()
	}
	return f.val
}

func String(key, v string) Field {
	return Field{Key: key, val: v, add: func(ev *zerolog.Event) { ev.Str(key, v) }}
}

func Int(key string, v int) Field {
	return Field{Key: key, val: v, add: func(ev *zerolog.Event) { ev.Int(key, v) }}
}

func Int64(key string, v int64) Field {
	return Field{Key: key, val: v, add: func(ev *zerolog.Event) { ev.Int64(key, v) }}
}

func Float64(key string, v float64) Field {
	return Field{Key: key, val: v, add: func(ev *zerolog.Event) { ev.Float64(key, v) }}
}

func Bool(key string, v bool) Field {
	return Field{Key: key, val: v, add: func(ev *zerolog.Event) { ev.Bool(key, v) }}
}

// Duration logs milliseconds.
func Duration(key string, v time.Duration) Field {
	return Int64(key, v.Milliseconds())
}

// Error logs err under "error". A nil error adds nothing.
func Error(err error) Field {
	f := Field{Key: zerolog.ErrorFieldName, add: func(ev *zerolog.Event) { ev.Err(err) }}
	if err != nil {
		f.val = err
	}
	return f
}
