// Package logger builds the process-wide phuslu logger from the [logging]
// configuration and hands out per-component copies of it.
package logger

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/phuslu/log"

	"ompt_exporter/internal/config"
)

const asyncChannelSize = 4096

var levels = map[string]log.Level{
	"trace":   log.TraceLevel,
	"debug":   log.DebugLevel,
	"info":    log.InfoLevel,
	"warn":    log.WarnLevel,
	"warning": log.WarnLevel,
	"error":   log.ErrorLevel,
	"fatal":   log.FatalLevel,
}

// parseLogLevel maps a configured level name; unknown names mean info.
func parseLogLevel(name string) log.Level {
	if l, ok := levels[name]; ok {
		return l
	}
	return log.InfoLevel
}

func parseTimeLocation(name string) *time.Location {
	switch name {
	case "", "Local":
		return time.Local
	case "UTC":
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.Local
	}
	return loc
}

func mapTimeFormat(format string) string {
	switch format {
	case "Unix":
		return log.TimeFormatUnix
	case "UnixMs":
		return log.TimeFormatUnixMs
	}
	return format
}

// glogFormatter prints "Lmmdd hh:mm:ss goid caller] message".
func glogFormatter(w io.Writer, a *log.FormatterArgs) (int, error) {
	var b bytes.Buffer
	level := byte('?')
	if a.Level != "" {
		level = a.Level[0] - 'a' + 'A'
	}
	b.WriteByte(level)
	fmt.Fprintf(&b, "%s %s %s] %s\n", a.Time, a.Goid, a.Caller, a.Message)
	return w.Write(b.Bytes())
}

// async wraps w in an AsyncWriter when requested.
func async(w log.Writer, enabled bool) log.Writer {
	if !enabled {
		return w
	}
	return &log.AsyncWriter{ChannelSize: asyncChannelSize, Writer: w}
}

func consoleWriter(c *config.ConsoleConfig) (log.Writer, error) {
	var out io.Writer = os.Stderr
	if c.Writer == "stdout" {
		out = os.Stdout
	}
	if c.FastIO {
		return async(&log.IOWriter{Writer: out}, c.Async), nil
	}

	cw := &log.ConsoleWriter{
		ColorOutput:    c.ColorOutput,
		QuoteString:    c.QuoteString,
		EndWithMessage: true,
		Writer:         out,
	}
	switch c.Format {
	case "", "auto":
	case "logfmt":
		cw.Formatter = log.LogfmtFormatter{TimeField: "time"}.Formatter
	case "glog":
		cw.Formatter = glogFormatter
	default:
		return nil, fmt.Errorf("unknown console format: %s", c.Format)
	}
	return async(cw, c.Async), nil
}

func fileWriter(c *config.FileConfig) (log.Writer, error) {
	if c.Filename == "" {
		return nil, fmt.Errorf("file output requires a filename")
	}
	if c.EnsureFolder {
		if err := os.MkdirAll(filepath.Dir(c.Filename), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log folder: %w", err)
		}
	}
	return async(&log.FileWriter{
		Filename:     c.Filename,
		FileMode:     0o644,
		MaxSize:      c.MaxSize << 20,
		MaxBackups:   c.MaxBackups,
		TimeFormat:   mapTimeFormat(c.TimeFormat),
		LocalTime:    c.LocalTime,
		HostName:     c.HostName,
		ProcessID:    c.ProcessID,
		EnsureFolder: c.EnsureFolder,
	}, c.Async), nil
}

// outputWriter builds the writer for one enabled output.
func outputWriter(o config.LogOutput) (log.Writer, error) {
	switch o.Type {
	case "console":
		if o.Console != nil {
			return consoleWriter(o.Console)
		}
	case "file":
		if o.File != nil {
			return fileWriter(o.File)
		}
	case "syslog":
		if o.Syslog != nil {
			s := o.Syslog
			return async(&log.SyslogWriter{
				Network:  s.Network,
				Address:  s.Address,
				Hostname: s.Hostname,
				Tag:      s.Tag,
				Marker:   s.Marker,
			}, s.Async), nil
		}
	default:
		return nil, fmt.Errorf("unknown output type: %s", o.Type)
	}
	return nil, fmt.Errorf("%s output missing %s configuration", o.Type, o.Type)
}

// createMultiWriter joins the enabled outputs. With none enabled the
// logger writes to stderr.
func createMultiWriter(outputs []config.LogOutput) (log.Writer, error) {
	var writers log.MultiEntryWriter
	for _, o := range outputs {
		if !o.Enabled {
			continue
		}
		w, err := outputWriter(o)
		if err != nil {
			return nil, err
		}
		writers = append(writers, w)
	}

	switch len(writers) {
	case 0:
		return &log.IOWriter{Writer: os.Stderr}, nil
	case 1:
		return writers[0], nil
	}
	return &writers, nil
}

var (
	hotPathMu sync.RWMutex
	hotPath   = defaultHotPath()
)

func defaultHotPath() config.HotPathConfig {
	return config.DefaultConfig().Logging.HotPath
}

// ConfigureLogging replaces log.DefaultLogger, the base of every component
// logger, and records the hot path rate limit.
func ConfigureLogging(cfg config.LoggingConfig) error {
	w, err := createMultiWriter(cfg.Outputs)
	if err != nil {
		return err
	}

	d := cfg.Defaults
	log.DefaultLogger = log.Logger{
		Level:        parseLogLevel(d.Level),
		Caller:       d.Caller,
		TimeField:    d.TimeField,
		TimeFormat:   mapTimeFormat(d.TimeFormat),
		TimeLocation: parseTimeLocation(d.TimeLocation),
		Writer:       w,
	}

	hotPathMu.Lock()
	hotPath = cfg.HotPath
	hotPathMu.Unlock()

	log.Debug().
		Str("level", d.Level).
		Int("outputs", len(cfg.Outputs)).
		Float64("hot_path_per_second", cfg.HotPath.PerSecond).
		Msg("Loggers configured")
	return nil
}

// NewLoggerWithContext copies log.DefaultLogger and tags it with
// component. Call it after ConfigureLogging.
func NewLoggerWithContext(component string) log.Logger {
	base := log.DefaultLogger
	base.Caller = 0
	base.Context = log.NewContext(base.Context).Str("component", component).Value()
	return base
}
