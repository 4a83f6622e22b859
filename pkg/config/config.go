package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// flagBindings maps daemon CLI flag names to the config keys they override.
var flagBindings = map[string]string{
	"bind-address":    "server.bind_address",
	"port":            "server.port",
	"max-connections": "server.max_connections",
	"workers":         "server.workers",
	"store-uri":       "store.uri",
	"log-level":       "logging.level",
	"log-format":      "logging.format",
}

// Config represents the docbroker configuration.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (DOCBROKER_*)
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Server configures the broker TCP listener
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Store configures the backing document store connection
	Store StoreConfig `mapstructure:"store" yaml:"store"`

	// Pool configures the backing-store session pool
	Pool PoolConfig `mapstructure:"pool" yaml:"pool"`

	// History names the version-history collection
	History LocationConfig `mapstructure:"history" yaml:"history"`

	// Metrics configures the per-request telemetry pipeline
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Admin configures the optional HTTP admin listener
	Admin AdminConfig `mapstructure:"admin" yaml:"admin"`

	// Telemetry controls OpenTelemetry tracing and continuous profiling
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format: text or json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// ServerConfig configures the broker TCP listener.
type ServerConfig struct {
	// BindAddress is the IP address to bind to.
	// Empty string or "0.0.0.0" binds to all interfaces.
	BindAddress string `mapstructure:"bind_address" yaml:"bind_address"`

	// Port is the TCP port to listen on.
	Port int `mapstructure:"port" validate:"required,min=1,max=65535" yaml:"port"`

	// MaxConnections limits concurrent client connections. 0 means unlimited.
	MaxConnections int `mapstructure:"max_connections" validate:"gte=0" yaml:"max_connections"`

	// ReadTimeout bounds the wait for the next frame on an idle connection.
	// 0 disables the idle deadline.
	ReadTimeout time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`

	// Workers caps the scheduler parallelism (GOMAXPROCS).
	// 0 keeps the runtime default (one per hardware thread).
	Workers int `mapstructure:"workers" validate:"gte=0" yaml:"workers"`
}

// StoreConfig configures the backing document store connection.
type StoreConfig struct {
	// URI is the store connection string.
	// Example: mongodb://localhost:27017
	URI string `mapstructure:"uri" validate:"required" yaml:"uri"`

	// ConnectTimeout bounds the initial connect and ping.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`

	// AppName is reported to the store for connection attribution.
	AppName string `mapstructure:"app_name" yaml:"app_name"`
}

// PoolConfig configures the backing-store session pool.
type PoolConfig struct {
	// InitialSize is the number of sessions opened at startup.
	InitialSize int `mapstructure:"initial_size" validate:"gte=0" yaml:"initial_size"`

	// MaxIdle caps the idle session list. Defaults to MaxConnections.
	MaxIdle int `mapstructure:"max_idle" validate:"gte=0" yaml:"max_idle"`

	// MaxConnections is the hard cap on live sessions.
	MaxConnections int `mapstructure:"max_connections" validate:"required,gt=0" yaml:"max_connections"`

	// IdleTTL evicts sessions idle longer than this.
	IdleTTL time.Duration `mapstructure:"idle_ttl" yaml:"idle_ttl"`

	// SweepInterval is the idle-eviction cadence. 0 derives it from IdleTTL.
	SweepInterval time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`
}

// LocationConfig names a database/collection pair.
type LocationConfig struct {
	Database   string `mapstructure:"database" validate:"required" yaml:"database"`
	Collection string `mapstructure:"collection" validate:"required" yaml:"collection"`
}

// MetricsConfig configures the per-request telemetry pipeline.
type MetricsConfig struct {
	// Enabled controls whether per-request metrics are captured at all.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Sink selects where batches go: "store" (metrics collection) or
	// "ilp" (line protocol over TCP to a time-series endpoint).
	Sink string `mapstructure:"sink" validate:"omitempty,oneof=store ilp" yaml:"sink"`

	// Database/Collection locate the metrics collection (store sink).
	Database   string `mapstructure:"database" yaml:"database"`
	Collection string `mapstructure:"collection" yaml:"collection"`

	// Endpoint is the time-series receiver host:port (ilp sink).
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// Measurement is the line-protocol measurement name (ilp sink).
	Measurement string `mapstructure:"measurement" yaml:"measurement"`

	// QueueSize bounds the capture queue; saturation drops records.
	QueueSize int `mapstructure:"queue_size" validate:"gte=0" yaml:"queue_size"`

	// BatchSize is the sink flush threshold.
	BatchSize int `mapstructure:"batch_size" validate:"gte=0" yaml:"batch_size"`

	// FlushInterval flushes partial batches after this much quiet time.
	FlushInterval time.Duration `mapstructure:"flush_interval" yaml:"flush_interval"`
}

// AdminConfig configures the optional HTTP admin listener
// (/healthz, /metrics, /stats).
type AdminConfig struct {
	// Enabled starts the listener. Default: false.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// BindAddress is the interface to bind. Empty binds all interfaces.
	BindAddress string `mapstructure:"bind_address" yaml:"bind_address"`

	// Port is the HTTP port. Default: 9090.
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`

	// Prometheus registers the prometheus instruments and serves them on
	// /metrics. When false the instruments cost nothing.
	Prometheus bool `mapstructure:"prometheus" yaml:"prometheus"`
}

// TelemetryConfig controls OpenTelemetry distributed tracing.
// When enabled, trace data is exported to an OTLP-compatible collector.
type TelemetryConfig struct {
	// Enabled controls whether distributed tracing is enabled.
	// Default: false (opt-in)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the OTLP collector endpoint (host:port).
	// Default: "localhost:4317" (standard OTLP gRPC port)
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// Insecure controls whether to use a non-TLS connection.
	// Default: true (for local development)
	Insecure bool `mapstructure:"insecure" yaml:"insecure"`

	// SampleRate controls the trace sampling rate (0.0 to 1.0).
	// Default: 1.0 (sample all)
	SampleRate float64 `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`

	// Profiling contains Pyroscope continuous profiling configuration
	Profiling ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// ProfilingConfig controls Pyroscope continuous profiling.
type ProfilingConfig struct {
	// Enabled controls whether continuous profiling is enabled.
	// Default: false (opt-in)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the Pyroscope server endpoint (URL).
	// Default: "http://localhost:4040"
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// ProfileTypes specifies which profile types to collect.
	ProfileTypes []string `mapstructure:"profile_types" yaml:"profile_types"`
}

// Load loads configuration from file, environment, and defaults.
//
// Parameters:
//   - configPath: Path to config file (empty string uses the default location)
func Load(configPath string) (*Config, error) {
	return LoadWithFlags(configPath, nil)
}

// LoadWithFlags is Load with an extra highest-priority source: command-line
// flags that were explicitly set. Flag names bind to config keys through
// flagBindings; a nil or unchanged flag set leaves the file and environment
// in charge.
func LoadWithFlags(configPath string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if flags != nil {
		for name, key := range flagBindings {
			f := flags.Lookup(name)
			if f == nil || !f.Changed {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
			}
		}
	}

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	if !configFileFound {
		return GetDefaultConfig(), nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration with helpful error messages when the file is
// missing. A non-nil flag set supplies CLI overrides, see LoadWithFlags.
func MustLoad(configPath string, flags *pflag.FlagSet) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  docbroker init\n\n"+
				"Or specify a custom config file:\n"+
				"  docbroker <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s\n\n"+
				"Please create the configuration file:\n"+
				"  docbroker init --config %s",
				configPath, configPath)
		}
	}

	cfg, err := LoadWithFlags(configPath, flags)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to the specified file path in YAML.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Restricted permissions: the store URI may carry credentials.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// InitConfig writes a default configuration file at the default location.
// Returns the path written. Fails when the file exists unless force is set.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath writes a default configuration file at the given path.
func InitConfigToPath(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
	}
	return SaveConfig(GetDefaultConfig(), path)
}

// setupViper configures viper with environment variables and config file
// settings. Environment variables use the DOCBROKER_ prefix:
// DOCBROKER_LOGGING_LEVEL=DEBUG overrides logging.level.
func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("DOCBROKER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
// Returns (fileFound, error).
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
	)
}

// durationDecodeHook converts strings like "30s", "5m", "1h" to
// time.Duration.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to the
// current directory if the home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "docbroker")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "docbroker")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for the
// init command).
func GetConfigDir() string {
	return getConfigDir()
}
