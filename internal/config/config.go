package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/ilyakaznacheev/cleanenv"
)

// Configuration system:
// - TOML file, every key optional (DefaultConfig fills the rest)
// - OMPT_EXPORTER_* environment variables override the file
// - command-line flags override both (see main.go)

// AppConfig represents the complete application configuration
type AppConfig struct {
	// Tool adapter configuration
	Adapter AdapterConfig `toml:"adapter"`

	// Server configuration
	Server ServerConfig `toml:"server"`

	// Trace file configuration
	Trace TraceConfig `toml:"trace"`

	// Simulated workload configuration
	Workload WorkloadConfig `toml:"workload"`

	// Logging configuration
	Logging LoggingConfig `toml:"logging"`
}

// AdapterConfig contains the tool's subscription policy and engine identity.
type AdapterConfig struct {
	// Attach the tool at all (default: true). When false the tool declines
	// in ompt_start_tool and the runtime runs uninstrumented.
	Enabled bool `toml:"enabled" env:"OMPT_EXPORTER_ENABLED"`

	// Program name handed to the measurement engine (default: "OpenMP Program")
	ProgramName string `toml:"program_name" env:"OMPT_EXPORTER_PROGRAM_NAME"`

	// Node id handed to the measurement engine (default: 0)
	NodeID int `toml:"node_id" env:"OMPT_EXPORTER_NODE_ID"`

	// Thread count handed to the measurement engine; 0 asks the runtime
	// (ompt_get_num_procs) and falls back to 1.
	ThreadCount int `toml:"thread_count" env:"OMPT_EXPORTER_THREAD_COUNT"`

	// Subscribe to task_create, task_schedule and implicit_task (default: false)
	HighOverheadEvents bool `toml:"high_overhead_events" env:"OMPT_EXPORTER_HIGH_OVERHEAD_EVENTS"`

	// Skip work, master, flush, cancel and sync region events (default: false)
	RequiredEventsOnly bool `toml:"required_events_only" env:"OMPT_EXPORTER_REQUIRED_EVENTS_ONLY"`

	// Runtime name prefixed to every label (default: "OpenMP")
	LabelPrefix string `toml:"label_prefix" env:"OMPT_EXPORTER_LABEL_PREFIX"`

	// Concurrent map backing the context arena: "xsync", "sharded", "cornelk" (default: "xsync")
	MapImplementation string `toml:"map_implementation" env:"OMPT_EXPORTER_MAP_IMPLEMENTATION"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	// Serve metrics over HTTP (default: true)
	Enabled bool `toml:"enabled" env:"OMPT_EXPORTER_SERVER_ENABLED"`

	// Listen address (default: "localhost:9190")
	ListenAddress string `toml:"listen_address" env:"OMPT_EXPORTER_LISTEN_ADDRESS"`

	// Metrics endpoint path (default: "/metrics")
	MetricsPath string `toml:"metrics_path" env:"OMPT_EXPORTER_METRICS_PATH"`

	// Enable pprof endpoints on the metrics server (default: false)
	PprofEnabled bool `toml:"pprof_enabled" env:"OMPT_EXPORTER_PPROF_ENABLED"`

	// Keep serving after the workload finished, until interrupted (default: false)
	Linger bool `toml:"linger" env:"OMPT_EXPORTER_LINGER"`
}

// TraceConfig contains Chrome trace file settings
type TraceConfig struct {
	// Write a trace file on finalize (default: false)
	Enabled bool `toml:"enabled" env:"OMPT_EXPORTER_TRACE_ENABLED"`

	// Output path; empty generates ompt_trace_<id>.json in the working directory
	Path string `toml:"path" env:"OMPT_EXPORTER_TRACE_PATH"`

	// Maximum buffered events; later events are counted and dropped (default: 1000000)
	MaxEvents int `toml:"max_events" env:"OMPT_EXPORTER_TRACE_MAX_EVENTS"`
}

// WorkloadConfig selects the program run by the simulated runtime
type WorkloadConfig struct {
	// Workload name: "matmult", "fibonacci", "mixed" (default: "mixed")
	Name string `toml:"name" env:"OMPT_EXPORTER_WORKLOAD"`

	// Team size; 0 uses the processor count (default: 0)
	Threads int `toml:"threads" env:"OMPT_EXPORTER_THREADS"`

	// Outer repetitions of the workload (default: 3)
	Iterations int `toml:"iterations" env:"OMPT_EXPORTER_ITERATIONS"`

	// Problem size (matrix order, fibonacci argument, loop trip count) (default: 64)
	Size int `toml:"size" env:"OMPT_EXPORTER_SIZE"`

	// Callbacks the simulated runtime refuses to register, by event name
	RejectCallbacks []string `toml:"reject_callbacks"`
}

// LoggingConfig contains the complete logging configuration
type LoggingConfig struct {
	// Default logging settings applied to all loggers
	Defaults LogDefaults `toml:"defaults"`

	// Output configurations - can have multiple outputs
	Outputs []LogOutput `toml:"outputs"`

	// Rate limit for warnings raised once per runtime event
	HotPath HotPathConfig `toml:"hot_path"`
}

// HotPathConfig throttles loggers used inside callbacks. Zero values fall
// back to the defaults.
type HotPathConfig struct {
	// Entries let through per second (default: 1)
	PerSecond float64 `toml:"per_second"`

	// Entries let through back to back (default: 10)
	Burst int `toml:"burst"`
}

// LogDefaults contains default logger settings
type LogDefaults struct {
	// Log level (default: "info")
	Level string `toml:"level" env:"OMPT_EXPORTER_LOG_LEVEL"`

	// Include caller information (default: 0)
	Caller int `toml:"caller"`

	// Time field name (default: "time")
	TimeField string `toml:"time_field"`

	// Time format (default: "" = RFC3339 with milliseconds)
	TimeFormat string `toml:"time_format"`

	// Time zone (default: "Local")
	TimeLocation string `toml:"time_location"`
}

// LogOutput represents a single output configuration
type LogOutput struct {
	// Output type: "console", "file", "syslog"
	Type string `toml:"type"`

	// Enable this output (default: true)
	Enabled bool `toml:"enabled"`

	// Configuration specific to the output type
	Console *ConsoleConfig `toml:"console,omitempty"`
	File    *FileConfig    `toml:"file,omitempty"`
	Syslog  *SyslogConfig  `toml:"syslog,omitempty"`
}

// ConsoleConfig contains console/terminal output settings
type ConsoleConfig struct {
	// Use fast JSON output (default: false)
	FastIO bool `toml:"fast_io"`

	// Output format when fast_io=false: "auto", "logfmt", "glog" (default: "auto")
	Format string `toml:"format"`

	// Enable colored output (default: true)
	ColorOutput bool `toml:"color_output"`

	// Quote string values (default: true)
	QuoteString bool `toml:"quote_string"`

	// Output destination (default: "stderr")
	Writer string `toml:"writer"`

	// Use asynchronous writing (default: false)
	Async bool `toml:"async"`
}

// FileConfig contains file output settings
type FileConfig struct {
	// Log file path (required)
	Filename string `toml:"filename"`

	// Maximum file size in megabytes (default: 10)
	MaxSize int64 `toml:"max_size"`

	// Maximum number of old log files to keep (default: 7)
	MaxBackups int `toml:"max_backups"`

	// Time format for rotated filenames (default: "2006-01-02T15-04-05")
	TimeFormat string `toml:"time_format"`

	// Use local time for rotation timestamps (default: true)
	LocalTime bool `toml:"local_time"`

	// Include hostname in filename (default: true)
	HostName bool `toml:"host_name"`

	// Include process ID in filename (default: true)
	ProcessID bool `toml:"process_id"`

	// Create directory if it doesn't exist (default: true)
	EnsureFolder bool `toml:"ensure_folder"`

	// Use asynchronous writing (default: true)
	Async bool `toml:"async"`
}

// SyslogConfig contains syslog output settings
type SyslogConfig struct {
	// Network protocol (default: "udp")
	Network string `toml:"network"`

	// Syslog server address (default: "localhost:514")
	Address string `toml:"address"`

	// Hostname for syslog messages (default: system hostname)
	Hostname string `toml:"hostname"`

	// Syslog tag/program name (default: "ompt_exporter")
	Tag string `toml:"tag"`

	// Message prefix marker (default: "@cee:")
	Marker string `toml:"marker"`

	// Use asynchronous writing (default: true)
	Async bool `toml:"async"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Adapter: AdapterConfig{
			Enabled:            true,
			ProgramName:        "OpenMP Program",
			NodeID:             0,
			ThreadCount:        0,
			HighOverheadEvents: false,
			RequiredEventsOnly: false,
			LabelPrefix:        "OpenMP",
			MapImplementation:  "xsync",
		},
		Server: ServerConfig{
			Enabled:       true,
			ListenAddress: "localhost:9190",
			MetricsPath:   "/metrics",
			PprofEnabled:  false,
			Linger:        false,
		},
		Trace: TraceConfig{
			Enabled:   false,
			Path:      "",
			MaxEvents: 1000000,
		},
		Workload: WorkloadConfig{
			Name:            "mixed",
			Threads:         0,
			Iterations:      3,
			Size:            64,
			RejectCallbacks: []string{},
		},
		Logging: LoggingConfig{
			Defaults: LogDefaults{
				Level:        "info",
				Caller:       0,
				TimeField:    "time",
				TimeFormat:   "",
				TimeLocation: "Local",
			},
			HotPath: HotPathConfig{
				PerSecond: 1,
				Burst:     10,
			},
			Outputs: []LogOutput{
				{
					Type:    "console",
					Enabled: true,
					Console: &ConsoleConfig{
						FastIO:      false,
						Format:      "auto",
						ColorOutput: true,
						QuoteString: true,
						Writer:      "stderr",
						Async:       false,
					},
				},
				{
					Type:    "file",
					Enabled: false,
					File: &FileConfig{
						Filename:     "logs/ompt_exporter.log",
						MaxSize:      10, // 10MB
						MaxBackups:   7,
						TimeFormat:   "2006-01-02T15-04-05",
						LocalTime:    true,
						HostName:     true,
						ProcessID:    true,
						EnsureFolder: true,
						Async:        true,
					},
				},
				{
					Type:    "syslog",
					Enabled: false,
					Syslog: &SyslogConfig{
						Network:  "udp",
						Address:  "localhost:514",
						Tag:      "ompt_exporter",
						Hostname: "", // system hostname
						Marker:   "@cee:",
						Async:    true,
					},
				},
			},
		},
	}
}

// LoadConfig loads configuration from a TOML file, falling back to defaults,
// then applies environment overrides.
func LoadConfig(configPath string) (*AppConfig, error) {
	config := DefaultConfig()

	if configPath != "" {
		if _, err := os.Stat(configPath); errors.Is(err, fs.ErrNotExist) {
			return config, fmt.Errorf("config file not found: %s", configPath)
		}

		if _, err := toml.DecodeFile(configPath, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
		}
	}

	if err := ApplyEnv(config); err != nil {
		return nil, err
	}
	return config, nil
}

// ApplyEnv overrides config fields from their OMPT_EXPORTER_* variables.
// Unset variables leave the field untouched.
func ApplyEnv(config *AppConfig) error {
	if err := cleanenv.ReadEnv(config); err != nil {
		return fmt.Errorf("failed to read environment overrides: %w", err)
	}
	return nil
}

// SaveConfig saves the configuration to a TOML file
func SaveConfig(configPath string, config *AppConfig) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	file, err := os.Create(configPath)
	if err != nil {
		return fmt.Errorf("failed to create config file %s: %w", configPath, err)
	}
	defer file.Close()

	if err := toml.NewEncoder(file).Encode(config); err != nil {
		return fmt.Errorf("failed to encode config to TOML: %w", err)
	}

	return nil
}

// GenerateExampleConfig generates a TOML configuration file with default values
func GenerateExampleConfig(outputPath string) error {
	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer file.Close()

	header := `# OMPT Exporter Example Configuration
# This file is auto-generated and lists every option with its default.
# Environment variables named OMPT_EXPORTER_* override these values.
#
# Format: TOML (Tom's Obvious, Minimal Language)

`
	if _, err := file.WriteString(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	if err := toml.NewEncoder(file).Encode(DefaultConfig()); err != nil {
		return fmt.Errorf("failed to encode config to TOML: %w", err)
	}

	return nil
}

// Validate checks the configuration for errors
func (c *AppConfig) Validate() error {
	if c.Adapter.ProgramName == "" {
		return fmt.Errorf("adapter.program_name cannot be empty")
	}
	if c.Adapter.ThreadCount < 0 {
		return fmt.Errorf("adapter.thread_count cannot be negative")
	}
	switch c.Adapter.MapImplementation {
	case "", "xsync", "sharded", "cornelk":
	default:
		return fmt.Errorf("adapter.map_implementation %q is not one of xsync, sharded, cornelk", c.Adapter.MapImplementation)
	}

	if c.Server.Enabled {
		if c.Server.ListenAddress == "" {
			return fmt.Errorf("server.listen_address cannot be empty")
		}
		if c.Server.MetricsPath == "" {
			return fmt.Errorf("server.metrics_path cannot be empty")
		}
	}

	if c.Trace.MaxEvents < 0 {
		return fmt.Errorf("trace.max_events cannot be negative")
	}

	if c.Workload.Threads < 0 {
		return fmt.Errorf("workload.threads cannot be negative")
	}
	if c.Workload.Iterations < 1 {
		return fmt.Errorf("workload.iterations must be at least 1")
	}
	if c.Workload.Size < 1 {
		return fmt.Errorf("workload.size must be at least 1")
	}

	if c.Logging.HotPath.PerSecond < 0 || c.Logging.HotPath.Burst < 0 {
		return fmt.Errorf("logging.hot_path values cannot be negative")
	}

	hasEnabledOutput := false
	for _, output := range c.Logging.Outputs {
		if output.Enabled {
			hasEnabledOutput = true
			break
		}
	}
	if !hasEnabledOutput {
		return fmt.Errorf("at least one logging output must be enabled")
	}

	return nil
}
