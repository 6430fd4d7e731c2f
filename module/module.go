// Package module defines the plugin contract every butler capability
// implements (§4.3) and a dependency-ordered registry that resolves them.
package module

import (
	"context"

	"gorm.io/gorm"

	"github.com/Tzeusy/butlers-sub006/credential"
)

// ToolRegistrar is the subset of an MCP server a module needs to register
// its tools against. Kept minimal so modules don't import a concrete MCP
// server implementation.
type ToolRegistrar interface {
	RegisterTool(name string, handler func(ctx context.Context, input map[string]any) (any, error))
}

// IODescriptor documents one tool-facing input or output shape, surfaced by
// Module.UserInputs/UserOutputs/BotInputs/BotOutputs for discovery/tooling.
type IODescriptor struct {
	Name        string
	Description string
}

// Module is the contract every butler capability (core or optional)
// implements. Field names follow spec §4.3 one-to-one.
type Module interface {
	// Name is the unique, stable module identifier used in dependency lists,
	// config, and credentials_env scoping ("module:<name>").
	Name() string

	// ConfigSchema returns a JSON-schema-shaped description of this module's
	// config block, for validation and documentation; nil if it takes none.
	ConfigSchema() map[string]any

	// Dependencies names other module Names this module requires to have
	// already started.
	Dependencies() []string

	// CredentialsEnv lists environment variable keys this module requires,
	// optionally identity-scoped as "module.name.subkey".
	CredentialsEnv() []string

	UserInputs() []IODescriptor
	UserOutputs() []IODescriptor
	BotInputs() []IODescriptor
	BotOutputs() []IODescriptor

	// RegisterTools is side-effecting: it registers this module's MCP tools
	// against mcp, using cfg and db for handler closures.
	RegisterTools(mcp ToolRegistrar, cfg map[string]any, db *gorm.DB) error

	// MigrationRevisions names the migration chain this module owns, or ""
	// if it has no schema of its own.
	MigrationRevisions() string

	// OnStartup runs after dependencies have started and before tools are
	// reachable; store is nil if no credential store is configured.
	OnStartup(ctx context.Context, cfg map[string]any, db *gorm.DB, store *credential.Store) error

	// OnShutdown runs in reverse dependency order during daemon shutdown.
	OnShutdown(ctx context.Context) error
}
