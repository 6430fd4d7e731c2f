// Package config provides typed configuration loading for a butler daemon.
//
// Configuration is merged in priority order: built-in defaults -> YAML file
// -> environment variable overrides (BUTLER_ prefixed, reflection-driven).
// Every sub-config has a Default*Config constructor and Config.Validate
// rejects nonsensical values eagerly at load time.
package config
