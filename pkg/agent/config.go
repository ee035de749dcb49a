// Package agent wires breakpoint matching, hit capture and the backend
// connection into a tracebreak agent.
package agent

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/aivorynet/tracebreak-go/pkg/pathcache"
	"github.com/aivorynet/tracebreak-go/pkg/transport"
	"github.com/google/uuid"
	"go.uber.org/config"
	"go.uber.org/multierr"
)

const (
	_agentConfigKey   = "agent"
	_loggingConfigKey = "logging"
)

// LoggingConfig represents the logging block of the config file.
type LoggingConfig struct {
	Level       string   `yaml:"level"`
	Development bool     `yaml:"development"`
	Encoding    string   `yaml:"encoding"`
	OutputPaths []string `yaml:"outputPaths"`
}

// Config holds the agent configuration.
type Config struct {
	APIKey               string        `yaml:"apiKey"`
	BackendURL           string        `yaml:"backendURL"`
	Environment          string        `yaml:"environment"`
	Debug                bool          `yaml:"debug"`
	EnableBreakpoints    bool          `yaml:"enableBreakpoints"`
	PathCacheSize        int           `yaml:"pathCacheSize"`
	DisablePathCache     bool          `yaml:"disablePathCache"`
	WatchPaths           []string      `yaml:"watchPaths"`
	MaxCaptureDepth      int           `yaml:"maxCaptureDepth"`
	MaxCapturesPerSecond int           `yaml:"maxCapturesPerSecond"`
	HeartbeatInterval    time.Duration `yaml:"heartbeatInterval"`
	Hostname             string        `yaml:"hostname"`
	AgentID              string        `yaml:"agentID"`

	Logging LoggingConfig `yaml:"-"`
}

// NewConfig creates a new configuration with defaults from environment variables.
func NewConfig(options ...ConfigOption) *Config {
	cfg := &Config{
		APIKey:               getEnvOrDefault("TRACEBREAK_API_KEY", ""),
		BackendURL:           getEnvOrDefault("TRACEBREAK_BACKEND_URL", "wss://api.aivory.net/ws/agent"),
		Environment:          getEnvOrDefault("TRACEBREAK_ENVIRONMENT", "production"),
		Debug:                getEnvOrDefault("TRACEBREAK_DEBUG", "false") == "true",
		EnableBreakpoints:    getEnvOrDefault("TRACEBREAK_ENABLE_BREAKPOINTS", "true") == "true",
		PathCacheSize:        getEnvIntOrDefault("TRACEBREAK_PATH_CACHE_SIZE", pathcache.DefaultCapacity),
		DisablePathCache:     getEnvOrDefault("TRACEBREAK_DISABLE_PATH_CACHE", "false") == "true",
		WatchPaths:           filepath.SplitList(os.Getenv("TRACEBREAK_WATCH_PATHS")),
		MaxCaptureDepth:      getEnvIntOrDefault("TRACEBREAK_MAX_DEPTH", 10),
		MaxCapturesPerSecond: getEnvIntOrDefault("TRACEBREAK_MAX_CAPTURES_PER_SECOND", 50),
		HeartbeatInterval:    getEnvDurationOrDefault("TRACEBREAK_HEARTBEAT_INTERVAL", 30*time.Second),
		Logging: LoggingConfig{
			Level:    getEnvOrDefault("TRACEBREAK_LOG_LEVEL", "info"),
			Encoding: "json",
		},
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	cfg.Hostname = hostname
	cfg.AgentID = generateAgentID()

	for _, opt := range options {
		opt(cfg)
	}

	return cfg
}

// LoadConfig reads the agent and logging blocks of a YAML file on top of the
// environment defaults. ${VAR} references in the file are expanded from the
// environment. Options are applied last.
func LoadConfig(path string, options ...ConfigOption) (*Config, error) {
	provider, err := config.NewYAML(config.File(path), config.Expand(os.LookupEnv))
	if err != nil {
		return nil, fmt.Errorf("loading config %s: %w", path, err)
	}
	return ConfigFromProvider(provider, options...)
}

// ConfigFromProvider builds a Config from the agent and logging keys of provider.
func ConfigFromProvider(provider config.Provider, options ...ConfigOption) (*Config, error) {
	cfg := NewConfig()

	if v := provider.Get(_agentConfigKey); v.HasValue() {
		if err := v.Populate(cfg); err != nil {
			return nil, fmt.Errorf("reading %s config: %w", _agentConfigKey, err)
		}
	}
	if v := provider.Get(_loggingConfigKey); v.HasValue() {
		if err := v.Populate(&cfg.Logging); err != nil {
			return nil, fmt.Errorf("reading %s config: %w", _loggingConfigKey, err)
		}
	}

	for _, opt := range options {
		opt(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var err error
	if c.PathCacheSize < 1 {
		err = multierr.Append(err, fmt.Errorf("pathCacheSize must be positive, got %d", c.PathCacheSize))
	}
	if c.MaxCaptureDepth < 0 {
		err = multierr.Append(err, fmt.Errorf("maxCaptureDepth must not be negative, got %d", c.MaxCaptureDepth))
	}
	if c.MaxCapturesPerSecond < 1 {
		err = multierr.Append(err, fmt.Errorf("maxCapturesPerSecond must be positive, got %d", c.MaxCapturesPerSecond))
	}
	if c.HeartbeatInterval <= 0 {
		err = multierr.Append(err, fmt.Errorf("heartbeatInterval must be positive, got %s", c.HeartbeatInterval))
	}
	if c.APIKey != "" {
		u, perr := url.Parse(c.BackendURL)
		switch {
		case perr != nil:
			err = multierr.Append(err, fmt.Errorf("backendURL: %w", perr))
		case u.Scheme != "ws" && u.Scheme != "wss":
			err = multierr.Append(err, fmt.Errorf("backendURL must use ws or wss, got %q", c.BackendURL))
		}
	}
	for _, dir := range c.WatchPaths {
		if dir == "" {
			err = multierr.Append(err, errors.New("watchPaths must not contain empty entries"))
			break
		}
	}
	return err
}

// Remote reports whether the agent should connect to the backend.
func (c *Config) Remote() bool {
	return c.APIKey != "" && c.BackendURL != ""
}

// ConfigOption is a function that modifies Config.
type ConfigOption func(*Config)

// WithAPIKey sets the API key.
func WithAPIKey(key string) ConfigOption {
	return func(c *Config) {
		c.APIKey = key
	}
}

// WithBackendURL sets the backend URL.
func WithBackendURL(url string) ConfigOption {
	return func(c *Config) {
		c.BackendURL = url
	}
}

// WithEnvironment sets the environment name.
func WithEnvironment(env string) ConfigOption {
	return func(c *Config) {
		c.Environment = env
	}
}

// WithDebug enables debug logging.
func WithDebug(debug bool) ConfigOption {
	return func(c *Config) {
		c.Debug = debug
	}
}

// WithEnableBreakpoints enables or disables breakpoint support.
func WithEnableBreakpoints(enable bool) ConfigOption {
	return func(c *Config) {
		c.EnableBreakpoints = enable
	}
}

// WithPathCache sets the path cache capacity and whether it starts disabled.
func WithPathCache(size int, disabled bool) ConfigOption {
	return func(c *Config) {
		c.PathCacheSize = size
		c.DisablePathCache = disabled
	}
}

// WithWatchPaths sets the directories whose changes invalidate the path cache.
func WithWatchPaths(dirs ...string) ConfigOption {
	return func(c *Config) {
		c.WatchPaths = dirs
	}
}

// WithMaxCapturesPerSecond sets the capture rate limit.
func WithMaxCapturesPerSecond(n int) ConfigOption {
	return func(c *Config) {
		c.MaxCapturesPerSecond = n
	}
}

// WithHeartbeatInterval sets how often the backend connection sends heartbeats.
func WithHeartbeatInterval(d time.Duration) ConfigOption {
	return func(c *Config) {
		c.HeartbeatInterval = d
	}
}

// RuntimeInfo contains Go runtime information. It is sent to the backend on
// registration.
type RuntimeInfo = transport.RuntimeInfo

// GetRuntimeInfo returns current runtime information.
func (c *Config) GetRuntimeInfo() RuntimeInfo {
	return RuntimeInfo{
		Runtime:        "go",
		RuntimeVersion: runtime.Version(),
		Platform:       runtime.GOOS,
		Arch:           runtime.GOARCH,
		NumCPU:         runtime.NumCPU(),
		NumGoroutine:   runtime.NumGoroutine(),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func generateAgentID() string {
	return fmt.Sprintf("agent-%x-%s", time.Now().Unix(), uuid.NewString()[:8])
}
