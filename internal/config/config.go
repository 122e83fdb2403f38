package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"classhub/internal/logging"
	"classhub/pkg/database"
)

// EnvPrefix namespaces every environment override, e.g. CLASSHUB_HTTP_PORT.
const EnvPrefix = "CLASSHUB"

// ARCHITECTURAL DISCOVERY: Configuration layer serves as system-wide settings coordinator
// Each section maps onto one component's constructor
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Liveness  LivenessConfig  `yaml:"liveness"`
	Router    RouterConfig    `yaml:"router"`
	Auth      AuthConfig      `yaml:"auth"`
	Directory database.Config `yaml:"directory"`
	Logging   logging.Config  `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type HTTPConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Addr is the listen address.
func (h HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}

// FUNCTIONAL DISCOVERY: WebSocket configuration optimized for classroom scenarios
type WebSocketConfig struct {
	ReadLimit      int64         `yaml:"read_limit"`
	PongWait       time.Duration `yaml:"pong_wait"`
	SendBuffer     int           `yaml:"send_buffer"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	MaxMalformed   int           `yaml:"max_malformed"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

type LivenessConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	ReclaimInterval   time.Duration `yaml:"reclaim_interval"`
	TimerInterval     time.Duration `yaml:"timer_interval"`
	InactivityTimeout time.Duration `yaml:"inactivity_timeout"`
	ReclamationWindow time.Duration `yaml:"reclamation_window"`
}

// RouterConfig bounds inbound traffic. RateLimit 0 disables limiting.
type RouterConfig struct {
	RateLimit  int           `yaml:"rate_limit"`
	RateWindow time.Duration `yaml:"rate_window"`
	QueueSize  int           `yaml:"queue_size"`
}

// AuthConfig controls session tokens. An empty secret rejects every credential.
type AuthConfig struct {
	Secret      string        `yaml:"secret"`
	TokenExpiry time.Duration `yaml:"token_expiry"`
	Issuer      string        `yaml:"issuer"`
	CookieName  string        `yaml:"cookie_name"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// FUNCTIONAL DISCOVERY: Production-ready defaults based on classroom requirements
// 30s heartbeat, 90s inactivity cutoff, 100 envelopes per minute per connection
func DefaultConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		WebSocket: WebSocketConfig{
			ReadLimit:    64 * 1024,
			PongWait:     60 * time.Second,
			SendBuffer:   100,
			WriteTimeout: 5 * time.Second,
			MaxMalformed: 3,
		},
		Liveness: LivenessConfig{
			HeartbeatInterval: 30 * time.Second,
			ReclaimInterval:   30 * time.Second,
			TimerInterval:     time.Second,
			InactivityTimeout: 90 * time.Second,
			ReclamationWindow: 5 * time.Minute,
		},
		Router: RouterConfig{
			RateLimit:  100,
			RateWindow: time.Minute,
			QueueSize:  256,
		},
		Auth: AuthConfig{
			TokenExpiry: 12 * time.Hour,
			Issuer:      "classhub",
			CookieName:  "classhub_session",
		},
		Directory: *database.DefaultConfig(),
		Logging:   logging.DefaultConfig(),
		Metrics:   MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

// FUNCTIONAL DISCOVERY: Comprehensive validation prevents invalid system configurations
func (c *Config) Validate() error {
	// port 0 binds an ephemeral port
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return errors.New("HTTP port must be between 0 and 65535")
	}
	if c.HTTP.Host == "" {
		return errors.New("HTTP host cannot be empty")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return errors.New("HTTP timeouts must be positive")
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		return errors.New("HTTP shutdown timeout must be positive")
	}

	if c.WebSocket.ReadLimit <= 0 {
		return errors.New("WebSocket read limit must be positive")
	}
	if c.WebSocket.PongWait <= 0 || c.WebSocket.WriteTimeout <= 0 {
		return errors.New("WebSocket timeouts must be positive")
	}
	if c.WebSocket.SendBuffer <= 0 {
		return errors.New("WebSocket send buffer must be positive")
	}
	if c.WebSocket.MaxMalformed <= 0 {
		return errors.New("WebSocket malformed threshold must be positive")
	}
	if c.WebSocket.PongWait <= c.Liveness.HeartbeatInterval {
		return fmt.Errorf("WebSocket pong wait %s must exceed the heartbeat interval %s",
			c.WebSocket.PongWait, c.Liveness.HeartbeatInterval)
	}

	if c.Liveness.HeartbeatInterval <= 0 || c.Liveness.ReclaimInterval <= 0 || c.Liveness.TimerInterval <= 0 {
		return errors.New("liveness intervals must be positive")
	}
	if c.Liveness.InactivityTimeout <= 0 {
		return errors.New("liveness inactivity timeout must be positive")
	}
	if c.Liveness.ReclamationWindow < 0 {
		return errors.New("liveness reclamation window cannot be negative")
	}

	if c.Router.RateLimit < 0 {
		return errors.New("router rate limit cannot be negative")
	}
	if c.Router.RateLimit > 0 && c.Router.RateWindow <= 0 {
		return errors.New("router rate window must be positive when limiting")
	}
	if c.Router.QueueSize <= 0 {
		return errors.New("router queue size must be positive")
	}

	if c.Auth.TokenExpiry < 0 {
		return errors.New("auth token expiry cannot be negative")
	}
	if c.Auth.CookieName == "" {
		return errors.New("auth cookie name cannot be empty")
	}

	if err := c.Directory.Validate(); err != nil {
		return fmt.Errorf("directory: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return errors.New("metrics path must start with /")
	}
	return nil
}

// LoadFromFile reads a YAML file over the defaults and validates the result.
func LoadFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	if err := cfg.applyFile(path); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return cfg, nil
}

// LoadFromEnv applies CLASSHUB_* variables over the defaults.
func LoadFromEnv() (*Config, error) {
	cfg := DefaultConfig()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration from environment: %w", err)
	}
	return cfg, nil
}

// Load resolves the configuration with precedence defaults < file < environment.
// An empty path skips the file layer.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// applyEnv loads the optional dotenv file named by CLASSHUB_ENV_FILE (default
// .env) and then overlays every bound key that is set.
// TECHNICAL DISCOVERY: godotenv never overrides variables already in the
// process environment, so real env still beats the dotenv file
func (c *Config) applyEnv() error {
	envFile := os.Getenv(EnvPrefix + "_ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to stat env file %s: %w", envFile, err)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, target := range c.bindings() {
		if !v.IsSet(key) {
			continue
		}
		if err := assign(target, v.GetString(key)); err != nil {
			return fmt.Errorf("environment %s_%s: %w", EnvPrefix, strings.ToUpper(strings.ReplaceAll(key, ".", "_")), err)
		}
	}
	return nil
}

// bindings maps dotted keys onto the fields they override.
func (c *Config) bindings() map[string]any {
	return map[string]any{
		"http.host":                    &c.HTTP.Host,
		"http.port":                    &c.HTTP.Port,
		"http.read_timeout":            &c.HTTP.ReadTimeout,
		"http.write_timeout":           &c.HTTP.WriteTimeout,
		"http.shutdown_timeout":        &c.HTTP.ShutdownTimeout,
		"websocket.read_limit":         &c.WebSocket.ReadLimit,
		"websocket.pong_wait":          &c.WebSocket.PongWait,
		"websocket.send_buffer":        &c.WebSocket.SendBuffer,
		"websocket.write_timeout":      &c.WebSocket.WriteTimeout,
		"websocket.max_malformed":      &c.WebSocket.MaxMalformed,
		"websocket.allowed_origins":    &c.WebSocket.AllowedOrigins,
		"liveness.heartbeat_interval":  &c.Liveness.HeartbeatInterval,
		"liveness.reclaim_interval":    &c.Liveness.ReclaimInterval,
		"liveness.timer_interval":      &c.Liveness.TimerInterval,
		"liveness.inactivity_timeout":  &c.Liveness.InactivityTimeout,
		"liveness.reclamation_window":  &c.Liveness.ReclamationWindow,
		"router.rate_limit":            &c.Router.RateLimit,
		"router.rate_window":           &c.Router.RateWindow,
		"router.queue_size":            &c.Router.QueueSize,
		"auth.secret":                  &c.Auth.Secret,
		"auth.token_expiry":            &c.Auth.TokenExpiry,
		"auth.issuer":                  &c.Auth.Issuer,
		"auth.cookie_name":             &c.Auth.CookieName,
		"directory.driver":             &c.Directory.Driver,
		"directory.dsn":                &c.Directory.DSN,
		"directory.max_connections":    &c.Directory.MaxConnections,
		"directory.conn_max_lifetime":  &c.Directory.ConnMaxLifetime,
		"directory.conn_max_idle_time": &c.Directory.ConnMaxIdleTime,
		"logging.level":                &c.Logging.Level,
		"logging.format":               &c.Logging.Format,
		"logging.rollbar_token":        &c.Logging.RollbarToken,
		"logging.environment":          &c.Logging.Environment,
		"metrics.enabled":              &c.Metrics.Enabled,
		"metrics.path":                 &c.Metrics.Path,
	}
}

func assign(target any, raw string) error {
	raw = strings.TrimSpace(raw)
	switch p := target.(type) {
	case *string:
		*p = raw
	case *int:
		n, err := strconv.Atoi(raw)
		if err != nil {
			return err
		}
		*p = n
	case *int64:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return err
		}
		*p = n
	case *bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		*p = b
	case *time.Duration:
		d, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		*p = d
	case *[]string:
		var out []string
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		*p = out
	default:
		return fmt.Errorf("unsupported config target %T", target)
	}
	return nil
}
