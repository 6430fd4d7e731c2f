// Package config default values for every butler daemon sub-config.
package config

import "time"

// DefaultConfig returns a fully populated Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Butler:    DefaultButlerMetaConfig(),
		Server:    DefaultServerConfig(),
		Database:  DefaultDatabaseConfig(),
		Runtime:   DefaultRuntimeConfig(),
		Scheduler: DefaultSchedulerConfig(),
		Shutdown:  DefaultShutdownConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
		Redis:     DefaultRedisConfig(),
		OAuth:     OAuthConfig{},
	}
}

// DefaultButlerMetaConfig returns defaults for the butler's own identity.
func DefaultButlerMetaConfig() ButlerMetaConfig {
	return ButlerMetaConfig{
		Name:           "general",
		Description:    "",
		SwitchboardURL: "http://localhost:8200",
		IsSwitchboard:  false,
	}
}

// DefaultServerConfig returns defaults for the butler's HTTP/MCP server.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    100,
		RateLimitBurst:  200,
	}
}

// DefaultDatabaseConfig returns defaults for the butler's own database pool.
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:              "postgres",
		Host:                "localhost",
		Port:                5432,
		User:                "butlers",
		Password:            "",
		Name:                "butlers",
		SSLMode:             "disable",
		MaxOpenConns:        20,
		MaxIdleConns:        5,
		ConnMaxLifetime:     time.Hour,
		ConnMaxIdleTime:     10 * time.Minute,
		HealthCheckInterval: 30 * time.Second,
	}
}

// DefaultRuntimeConfig returns defaults for spawner concurrency (§4.5).
func DefaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		MaxConcurrentSessions: 4,
		MaxTurns:              20,
		SessionTimeout:        5 * time.Minute,
		Model:                 "",
		Adapter:               "claude",
	}
}

// DefaultSchedulerConfig returns defaults for the schedule-sync loop (§4.15).
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Enabled:      true,
		SyncInterval: time.Minute,
	}
}

// DefaultShutdownConfig returns defaults for graceful shutdown (§4.14).
func DefaultShutdownConfig() ShutdownConfig {
	return ShutdownConfig{
		TimeoutSeconds: 30,
	}
}

// DefaultLogConfig returns defaults for structured logging.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		EnableCaller:     true,
		EnableStacktrace: true,
		OutputPaths:      []string{"stdout"},
	}
}

// DefaultTelemetryConfig returns defaults for the OTel pipeline. No-op unless
// Enabled is set (§5 "OTel meter provider"); an OTLP endpoint alone does not
// enable it.
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:     false,
		ServiceName: "butler",
		SampleRate:  1.0,
	}
}

// DefaultRedisConfig returns defaults pointing at a local redis instance.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr: "localhost:6379",
		DB:   0,
	}
}
