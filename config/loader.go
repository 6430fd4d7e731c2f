package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is a single butler daemon's complete configuration (butler.toml in
// the source system; this module reads the equivalent YAML document).
type Config struct {
	Butler    ButlerMetaConfig  `yaml:"butler" env:"BUTLER"`
	Server    ServerConfig      `yaml:"server" env:"SERVER"`
	Database  DatabaseConfig    `yaml:"database" env:"DATABASE"`
	Runtime   RuntimeConfig     `yaml:"runtime" env:"RUNTIME"`
	Scheduler SchedulerConfig   `yaml:"scheduler" env:"SCHEDULER"`
	Shutdown  ShutdownConfig    `yaml:"shutdown" env:"SHUTDOWN"`
	Log       LogConfig         `yaml:"log" env:"LOG"`
	Telemetry TelemetryConfig   `yaml:"telemetry" env:"TELEMETRY"`
	Redis     RedisConfig       `yaml:"redis" env:"REDIS"`
	OAuth     OAuthConfig       `yaml:"oauth" env:"OAUTH"`
	Modules   []ModuleConfig    `yaml:"modules" env:"-"`
	Schedules []ScheduleConfig  `yaml:"schedules" env:"-"`
}

// ButlerMetaConfig identifies this butler and its relationship to the
// switchboard (§4.14 step 1).
type ButlerMetaConfig struct {
	Name           string   `yaml:"name" env:"NAME"`
	Description    string   `yaml:"description" env:"DESCRIPTION"`
	SwitchboardURL string   `yaml:"switchboard_url" env:"SWITCHBOARD_URL"`
	IsSwitchboard  bool     `yaml:"is_switchboard" env:"IS_SWITCHBOARD"`
	EnvRequired    []string `yaml:"env_required" env:"-"`
	EnvOptional    []string `yaml:"env_optional" env:"-"`
}

// ServerConfig configures the butler's MCP/HTTP surface.
type ServerConfig struct {
	HTTPPort        int           `yaml:"http_port" env:"HTTP_PORT"`
	MetricsPort     int           `yaml:"metrics_port" env:"METRICS_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	RateLimitRPS    int           `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	RateLimitBurst  int           `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
}

// DatabaseConfig configures the butler's own database pool (§3 Ownership).
type DatabaseConfig struct {
	Driver              string        `yaml:"driver" env:"DRIVER"`
	Host                string        `yaml:"host" env:"HOST"`
	Port                int           `yaml:"port" env:"PORT"`
	User                string        `yaml:"user" env:"USER"`
	Password            string        `yaml:"password" env:"PASSWORD"`
	Name                string        `yaml:"name" env:"NAME"`
	SSLMode             string        `yaml:"ssl_mode" env:"SSL_MODE"`
	MaxOpenConns        int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns        int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime     time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
	ConnMaxIdleTime     time.Duration `yaml:"conn_max_idle_time" env:"CONN_MAX_IDLE_TIME"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval" env:"HEALTH_CHECK_INTERVAL"`
}

// DSN renders the driver-appropriate connection string.
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}

// RuntimeConfig configures the Spawner (§4.5).
type RuntimeConfig struct {
	MaxConcurrentSessions int           `yaml:"max_concurrent_sessions" env:"MAX_CONCURRENT_SESSIONS"`
	MaxTurns              int           `yaml:"max_turns" env:"MAX_TURNS"`
	SessionTimeout        time.Duration `yaml:"session_timeout" env:"SESSION_TIMEOUT"`
	Model                 string        `yaml:"model" env:"MODEL"`
	Adapter               string        `yaml:"adapter" env:"ADAPTER"`
}

// SchedulerConfig configures the schedule-sync loop (§4.15).
type SchedulerConfig struct {
	Enabled      bool          `yaml:"enabled" env:"ENABLED"`
	SyncInterval time.Duration `yaml:"sync_interval" env:"SYNC_INTERVAL"`
}

// ShutdownConfig configures graceful-shutdown timing (§4.14).
type ShutdownConfig struct {
	TimeoutSeconds int `yaml:"timeout_s" env:"TIMEOUT_S"`
}

// LogConfig configures zap construction.
type LogConfig struct {
	Level            string   `yaml:"level" env:"LEVEL"`
	Format           string   `yaml:"format" env:"FORMAT"`
	EnableCaller     bool     `yaml:"enable_caller" env:"ENABLE_CALLER"`
	EnableStacktrace bool     `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
	OutputPaths      []string `yaml:"output_paths" env:"-"`
}

// TelemetryConfig configures the OTel tracer/meter pipeline.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// RedisConfig configures the shared redis connection backing the OAuth
// state-token consumed-set (§4.16) and any other process that needs a
// one-time-use or cross-instance atomic check.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"ADDR"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB"`
}

// OAuthConfig configures the switchboard's Google OAuth bootstrap endpoints
// (§4.16/§6.5). SigningKey signs and verifies state tokens; it must be
// stable across restarts and shared across every instance that might
// receive the callback, or a state minted by one instance will fail
// verification on another.
type OAuthConfig struct {
	SigningKey string `yaml:"signing_key" env:"SIGNING_KEY"`
}

// ModuleConfig is one entry of butler.toml's [[modules]] table (§4.3).
type ModuleConfig struct {
	Name    string                 `yaml:"name"`
	Enabled bool                   `yaml:"enabled"`
	Config  map[string]interface{} `yaml:"config"`
}

// ScheduleConfig is one entry of butler.toml's [[schedules]] table (§4.15).
type ScheduleConfig struct {
	Name           string `yaml:"name"`
	CronExpr       string `yaml:"cron"`
	PromptTemplate string `yaml:"prompt"`
	Enabled        bool   `yaml:"enabled"`
}

// Loader loads a Config from defaults, an optional YAML file, and
// environment variable overrides, in that priority order.
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader creates a loader with the BUTLER_ environment prefix.
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "BUTLER",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath sets the YAML config file path.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix overrides the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator adds a custom validation step run after Load assembles cfg.
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load assembles defaults -> YAML file -> env overrides, then validates.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

func (l *Loader) loadFromEnv(cfg *Config) error {
	return setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

func setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// MustLoad loads config from path, panicking on failure.
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Validate rejects nonsensical config (§7 ValidationError: "non-positive
// interval, unknown dependency, dependency cycle" — the latter two are
// enforced by the module registry, not here).
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Runtime.MaxConcurrentSessions <= 0 {
		errs = append(errs, "runtime.max_concurrent_sessions must be positive")
	}
	if c.Runtime.MaxTurns <= 0 {
		errs = append(errs, "runtime.max_turns must be positive")
	}
	if c.Butler.Name == "" {
		errs = append(errs, "butler.name must be set")
	}
	if c.Shutdown.TimeoutSeconds <= 0 {
		errs = append(errs, "shutdown.timeout_s must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}
