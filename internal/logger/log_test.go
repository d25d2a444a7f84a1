package logger

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/phuslu/log"

	"ompt_exporter/internal/config"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want log.Level
	}{
		{"trace", log.TraceLevel},
		{"debug", log.DebugLevel},
		{"warning", log.WarnLevel},
		{"error", log.ErrorLevel},
		{"bogus", log.InfoLevel},
	}
	for _, tt := range tests {
		if got := parseLogLevel(tt.in); got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseTimeLocation(t *testing.T) {
	if parseTimeLocation("UTC") != time.UTC {
		t.Error("UTC should map to time.UTC")
	}
	if parseTimeLocation("Not/AZone") != time.Local {
		t.Error("unknown zones should fall back to time.Local")
	}
}

func TestCreateMultiWriter(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		outputs []config.LogOutput
		wantErr bool
	}{
		{
			name:    "no outputs falls back to stderr",
			outputs: nil,
		},
		{
			name: "console and file",
			outputs: []config.LogOutput{
				{Type: "console", Enabled: true, Console: &config.ConsoleConfig{Format: "glog"}},
				{Type: "file", Enabled: true, File: &config.FileConfig{Filename: filepath.Join(dir, "a.log"), MaxSize: 1}},
			},
		},
		{
			name: "disabled output is skipped even when incomplete",
			outputs: []config.LogOutput{
				{Type: "syslog", Enabled: false},
			},
		},
		{
			name:    "missing console section",
			outputs: []config.LogOutput{{Type: "console", Enabled: true}},
			wantErr: true,
		},
		{
			name:    "unknown type",
			outputs: []config.LogOutput{{Type: "eventlog", Enabled: true}},
			wantErr: true,
		},
		{
			name: "unknown console format",
			outputs: []config.LogOutput{
				{Type: "console", Enabled: true, Console: &config.ConsoleConfig{Format: "xml"}},
			},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := createMultiWriter(tt.outputs)
			if (err != nil) != tt.wantErr {
				t.Fatalf("createMultiWriter() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && w == nil {
				t.Error("expected a writer")
			}
		})
	}
}

func TestNewLoggerWithContextInheritsLevel(t *testing.T) {
	saved := log.DefaultLogger
	defer func() { log.DefaultLogger = saved }()

	cfg := config.DefaultConfig().Logging
	cfg.Defaults.Level = "warn"
	if err := ConfigureLogging(cfg); err != nil {
		t.Fatalf("ConfigureLogging() error = %v", err)
	}
	l := NewLoggerWithContext("dispatch")
	if l.Level != log.WarnLevel {
		t.Errorf("component level = %v, want warn", l.Level)
	}
	if len(l.Context) == 0 {
		t.Error("component logger should carry a context")
	}
}

func TestThrottledLoggerSuppresses(t *testing.T) {
	saved, savedHot := log.DefaultLogger, hotPath
	defer func() { log.DefaultLogger, hotPath = saved, savedHot }()

	cfg := config.DefaultConfig().Logging
	cfg.Outputs = []config.LogOutput{
		{Type: "file", Enabled: true, File: &config.FileConfig{Filename: filepath.Join(t.TempDir(), "hot.log"), MaxSize: 1}},
	}
	cfg.HotPath = config.HotPathConfig{PerSecond: 0.001, Burst: 2}
	if err := ConfigureLogging(cfg); err != nil {
		t.Fatalf("ConfigureLogging() error = %v", err)
	}

	l := NewThrottledLoggerWithContext("dispatch")
	for i := 0; i < 2; i++ {
		e := l.Warn()
		if e == nil {
			t.Fatalf("entry %d within the burst was dropped", i)
		}
		e.Msg("within burst")
	}
	for i := 0; i < 3; i++ {
		if e := l.Warn(); e != nil {
			t.Fatalf("entry %d over the burst was let through", i)
		}
	}
	if got := l.Suppressed(); got != 3 {
		t.Errorf("Suppressed() = %d, want 3", got)
	}
}

func TestThrottledLoggerSkipsDisabledLevels(t *testing.T) {
	saved, savedHot := log.DefaultLogger, hotPath
	defer func() { log.DefaultLogger, hotPath = saved, savedHot }()

	cfg := config.DefaultConfig().Logging
	cfg.Defaults.Level = "error"
	cfg.HotPath = config.HotPathConfig{}
	if err := ConfigureLogging(cfg); err != nil {
		t.Fatalf("ConfigureLogging() error = %v", err)
	}

	l := NewThrottledLoggerWithContext("dispatch")
	for i := 0; i < 20; i++ {
		if e := l.Warn(); e != nil {
			t.Fatal("warn entry below the configured level")
		}
	}
	if got := l.Suppressed(); got != 0 {
		t.Errorf("disabled entries must not count as suppressed, got %d", got)
	}
}
