// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package migration owns a single butler's schema migrations against
PostgreSQL, MySQL, or SQLite, on top of golang-migrate.

# Overview

SQL migration files for each dialect are embedded via embed.FS and driven
through golang-migrate's versioned-schema engine. Supported operations
cover forward migration, rollback, stepping by N, jumping to a specific
version, and forcing the recorded version without running SQL (for
recovering from a migration marked dirty). Every operation logs through
zap when DefaultMigrator is given a Logger, matching the structured
logging the rest of a butler's daemon produces.

# Core types

  - Migrator: the interface — Up/Down/DownAll/Steps/Goto/Force/Version/
    Status/Info/Close.
  - DefaultMigrator: the golang-migrate-backed implementation, scoped to
    the one database a butler owns (§3 Ownership).
  - Config: database type, connection URL, migrations table name, lock
    timeout, and an optional Logger.
  - DatabaseType: postgres/mysql/sqlite.
  - MigrationStatus / MigrationInfo: per-migration and summary state.
  - CLI: a thin terminal-output layer over Migrator for `butlerd migrate`.

# Capabilities

  - Multi-driver support: DatabaseType selects the embedded SQL set and
    golang-migrate dialect.
  - Factory functions: NewMigratorFromConfig / NewMigratorFromDatabaseConfig /
    NewMigratorFromURL build a migrator from whichever config shape the
    caller already has.
  - CLI integration: RunUp/RunDown/RunStatus/RunInfo and friends print
    operator-facing progress to the CLI's configured output.
  - Helpers: ParseDatabaseType parses a driver string, BuildDatabaseURL
    assembles a dialect-specific connection URL.
*/
package migration
