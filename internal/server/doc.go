// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package server manages one butler's HTTP listener lifecycle: non-blocking
start, graceful shutdown, asynchronous error propagation, and an optional
token-bucket rate limiter in front of the daemon's MCP/health/OAuth
routes.

# Overview

Manager wraps net/http.Server to unify listen/serve/shutdown/error-
propagation behind one type. It supports both plain HTTP and TLS startup,
handles SIGINT/SIGTERM internally for standalone callers, and drains
in-flight requests within a configured shutdown timeout. WithRateLimit
wraps the daemon's composed handler with a single shared golang.org/x/time/rate
limiter sized from config.ServerConfig's RateLimitRPS/RateLimitBurst,
rejecting requests over the limit with 429 rather than queuing them.

# Core types

  - Manager: holds the http.Server, net.Listener, and an async error
    channel; exposes Start/StartTLS/Shutdown/WaitForShutdown.
  - Config: listen address, read/write/idle timeouts, max header size,
    and shutdown timeout.
  - RateLimitConfig: requests-per-second and burst for WithRateLimit's
    token bucket.

# Capabilities

  - Non-blocking start: Start/StartTLS serve on a background goroutine.
  - Graceful shutdown: Shutdown drains requests within its timeout.
  - Signal handling: WaitForShutdown blocks on SIGINT/SIGTERM or a server
    error, then shuts down.
  - Error propagation: Errors() exposes the async error channel.
  - TLS support via StartTLS with a certificate/key pair.
  - Rate limiting: WithRateLimit enforces a process-wide request budget
    ahead of the handler chain.
  - Status queries: IsRunning/Addr report liveness and listen address.
*/
package server
