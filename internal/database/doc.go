// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package database provides GORM-backed database connectivity for a single
butler: dialector selection per config.DatabaseConfig.Driver, and a
PoolManager wrapping the underlying database/sql pool with health checks
and transaction retry.

# Overview

Open resolves the configured driver (postgres/mysql/sqlite), establishes
the GORM connection, and hands it to a PoolManager that applies idle/open
connection limits and lifetime caps. A background health-check loop pings
the connection on an interval and logs failures through zap without
tearing the pool down — a transient outage should not kill a running
butler, only surface in its logs and /health endpoint.

# Core types

  - PoolManager: owns the GORM handle and its underlying sql.DB, exposing
    DB(), Ping(), Stats()/GetStats(), Close(), and transaction helpers.
  - PoolConfig: idle/open connection caps, connection lifetime, idle
    timeout, and health-check interval, sourced from DatabaseConfig.
  - PoolStats: a JSON-friendly projection of sql.DBStats for diagnostics.
  - TransactionFunc: the callback signature run inside one transaction.

# Capabilities

  - Pool tuning via MaxIdleConns/MaxOpenConns/ConnMaxLifetime/ConnMaxIdleTime.
  - Background health checks: periodic PingContext, open/in-use/idle counts
    logged at debug level on success.
  - Transaction helpers: WithTransaction for a single attempt,
    WithTransactionRetry for exponential backoff on a fixed set of
    retryable error classes (deadlock, serialization failure, connection
    reset/refused, lock timeout, bad connection).
  - GetStats returns a structured snapshot of pool activity.
*/
package database
