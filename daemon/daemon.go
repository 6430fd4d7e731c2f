// Package daemon composes one butler process's runtime substrate — module
// registry, credential store, spawner, durable buffer, scheduler, the
// liveness-reporting loop, and the module-state/tool-gate layer — into the
// ordered startup and shutdown sequence of §4.14. Steps 1-5 (load config,
// init telemetry, connect the database and apply the core migration chain,
// build the credential store, validate core credentials) happen in
// cmd/butlerd's runServe before a Daemon is constructed; New and Start
// implement steps 6-8, Shutdown implements the reverse sequence.
package daemon

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/redis/go-redis/v9"

	"github.com/Tzeusy/butlers-sub006/buffer"
	"github.com/Tzeusy/butlers-sub006/config"
	"github.com/Tzeusy/butlers-sub006/credential"
	"github.com/Tzeusy/butlers-sub006/internal/server"
	"github.com/Tzeusy/butlers-sub006/liveness"
	"github.com/Tzeusy/butlers-sub006/llmadapter"
	"github.com/Tzeusy/butlers-sub006/mcpserver"
	"github.com/Tzeusy/butlers-sub006/module"
	"github.com/Tzeusy/butlers-sub006/modulestate"
	"github.com/Tzeusy/butlers-sub006/oauth"
	"github.com/Tzeusy/butlers-sub006/routing"
	"github.com/Tzeusy/butlers-sub006/scheduler"
	"github.com/Tzeusy/butlers-sub006/spawner"
)

// Options bundles everything the orchestrator needs beyond what it builds
// itself. db is this butler's own database; cmd/butlerd's runServe applies
// the core migration chain to it (step 5 of §4.14's startup) with the same
// internal/migration migrator the `butlerd migrate` command uses. The
// chains named by Module.MigrationRevisions are not applied by runServe,
// New or Start.
type Options struct {
	Cfg      *config.Config
	Logger   *zap.Logger
	DB       *gorm.DB
	Store    *credential.Store
	Adapter  llmadapter.Adapter
	Modules  []module.Module
	Butlers  []routing.ButlerDescriptor // routing catalog; only consulted when Cfg.Butler.IsSwitchboard
	Metrics  Metrics
	HTTPAddr string // defaults to fmt.Sprintf(":%d", Cfg.Server.HTTPPort)

	// Redis and OAuthSigningKey back the Google OAuth bootstrap endpoints
	// (§4.16/§6.5). Both are required for the switchboard to mount them;
	// a non-switchboard butler never does regardless of these fields.
	Redis           *redis.Client
	OAuthSigningKey []byte
}

// Metrics groups the Prometheus registries each subsystem's own NewMetrics
// constructor expects. Nil fields fall back to that subsystem's own no-op
// defaults where supported.
type Metrics struct {
	Routing *routing.Metrics
	Buffer  *buffer.Metrics
	Spawner *spawner.Metrics
}

// Daemon is one running butler process.
type Daemon struct {
	opts   Options
	logger *zap.Logger

	moduleRegistry *module.Registry
	stateRegistry  *modulestate.Registry
	mcp            *mcpserver.Server
	spawner        *spawner.Spawner
	buf            *buffer.Buffer
	sched          *scheduler.Scheduler
	live           *liveness.Reporter
	httpServer     *server.Manager

	auditDB *gorm.DB
}

// New constructs a Daemon. It performs no I/O; Start runs the ordered
// startup sequence.
func New(opts Options) (*Daemon, error) {
	if opts.Cfg == nil {
		return nil, fmt.Errorf("daemon: Cfg is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	moduleRegistry, err := module.NewRegistry(opts.Modules)
	if err != nil {
		return nil, fmt.Errorf("daemon: failed to resolve module dependency graph: %w", err)
	}

	var auditDB *gorm.DB
	if opts.Cfg.Butler.IsSwitchboard {
		auditDB = opts.DB
	}

	d := &Daemon{
		opts:           opts,
		logger:         logger,
		moduleRegistry: moduleRegistry,
		stateRegistry:  modulestate.NewRegistry(opts.DB, logger),
		mcp:            mcpserver.New(opts.Cfg.Butler.Name, "dev", logger),
		auditDB:        auditDB,
	}
	return d, nil
}

// Start runs startup steps 6-8 of §4.14: register MCP server and build the
// spawner (6), start each module in dependency order through the tool-call
// gate (7), then start the scheduler, the MCP HTTP listener, and (for a
// non-switchboard butler) the liveness reporter, and recover the durable
// buffer (8).
func (d *Daemon) Start(ctx context.Context) error {
	cfg := d.opts.Cfg

	d.spawner = spawner.New(
		spawner.Config{
			ButlerName:            cfg.Butler.Name,
			Port:                  cfg.Server.HTTPPort,
			Model:                 cfg.Runtime.Model,
			MaxConcurrentSessions: cfg.Runtime.MaxConcurrentSessions,
			ModuleCredentialsEnv:  d.moduleCredentialsEnv(),
		},
		d.opts.DB, d.auditDB, d.opts.Adapter, nil, d.logger, d.opts.Metrics.Spawner,
	)

	if err := d.startModules(ctx); err != nil {
		return err
	}

	d.buf = buffer.New(
		buffer.Config{ButlerName: cfg.Butler.Name},
		d.opts.DB,
		d.processBufferedItem,
		d.logger,
		d.opts.Metrics.Buffer,
	)
	d.buf.Start(ctx)

	if cfg.Scheduler.Enabled {
		d.sched = scheduler.New(
			scheduler.Config{ButlerName: cfg.Butler.Name, SyncInterval: cfg.Scheduler.SyncInterval},
			d.opts.DB, d.auditDB, d.triggerScheduled, d.logger,
		)
		if err := d.sched.SyncSchedules(ctx, schedulerEntries(cfg.Schedules)); err != nil {
			d.logger.Warn("failed to sync schedules", zap.Error(err))
		}
		d.sched.Start(ctx)
	}

	addr := d.opts.HTTPAddr
	if addr == "" {
		addr = fmt.Sprintf(":%d", cfg.Server.HTTPPort)
	}
	serverCfg := server.DefaultConfig()
	serverCfg.Addr = addr
	handler := server.WithRateLimit(d.buildHTTPHandler(), server.RateLimitConfig{
		RequestsPerSecond: cfg.Server.RateLimitRPS,
		Burst:             cfg.Server.RateLimitBurst,
	}, d.logger)
	d.httpServer = server.NewManager(handler, serverCfg, d.logger)
	if err := d.httpServer.Start(); err != nil {
		return fmt.Errorf("daemon: failed to start MCP HTTP server: %w", err)
	}

	if !cfg.Butler.IsSwitchboard {
		d.live = liveness.New(
			liveness.Config{ButlerName: cfg.Butler.Name, SwitchboardURL: cfg.Butler.SwitchboardURL, IntervalSeconds: liveness.DefaultIntervalSeconds},
			nil, d.logger,
		)
		d.live.Start()
	}

	return nil
}

// buildHTTPHandler composes this daemon's HTTP surface: the MCP tool
// endpoints, a liveness probe for `butlerd health`, and — for the
// switchboard only, when redis and a state-signing key are both
// configured — the Google OAuth bootstrap endpoints (§6.5).
func (d *Daemon) buildHTTPHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/tools/", d.mcp)
	mux.HandleFunc("/health", d.handleHealth)

	if d.opts.Cfg.Butler.IsSwitchboard && d.opts.Redis != nil && len(d.opts.OAuthSigningKey) > 0 {
		oauth.New(d.opts.Store, d.opts.Redis, d.opts.OAuthSigningKey, d.logger).RegisterRoutes(mux)
	}

	return mux
}

func (d *Daemon) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// startModules registers every module's dependency edges, then starts
// modules in topological order, wrapping each module's tool registration in
// its own modulestate.Gate. A module that fails OnStartup marks itself and
// every transitive dependent cascade-failed, shuts down every
// already-started module in reverse order, and aborts.
func (d *Daemon) startModules(ctx context.Context) error {
	moduleCfg := make(map[string]config.ModuleConfig, len(d.opts.Cfg.Modules))
	for _, mc := range d.opts.Cfg.Modules {
		moduleCfg[mc.Name] = mc
	}

	for _, m := range d.moduleRegistry.Ordered() {
		d.stateRegistry.RegisterDependencies(m.Name(), m.Dependencies())
	}

	var started []module.Module
	for _, m := range d.moduleRegistry.Ordered() {
		mc := moduleCfg[m.Name()]
		gate := modulestate.NewGate(d.stateRegistry, m.Name(), d.mcp)

		if err := m.RegisterTools(gate, mc.Config, d.opts.DB); err != nil {
			d.stateRegistry.MarkStartupFailed(m.Name(), "register_tools", err.Error())
			d.shutdownStarted(ctx, started)
			return fmt.Errorf("daemon: module %q failed to register tools: %w", m.Name(), err)
		}
		if err := m.OnStartup(ctx, mc.Config, d.opts.DB, d.opts.Store); err != nil {
			d.stateRegistry.MarkStartupFailed(m.Name(), "on_startup", err.Error())
			d.shutdownStarted(ctx, started)
			return fmt.Errorf("daemon: module %q failed to start: %w", m.Name(), err)
		}

		defaultEnabled := true
		if mc.Name != "" {
			defaultEnabled = mc.Enabled
		}
		if err := d.stateRegistry.MarkActive(ctx, m.Name(), defaultEnabled); err != nil {
			d.logger.Warn("failed to mark module active", zap.String("module", m.Name()), zap.Error(err))
		}
		started = append(started, m)
	}
	return nil
}

func (d *Daemon) shutdownStarted(ctx context.Context, started []module.Module) {
	for i := len(started) - 1; i >= 0; i-- {
		if err := started[i].OnShutdown(ctx); err != nil {
			d.logger.Warn("module failed to shut down during startup rollback",
				zap.String("module", started[i].Name()), zap.Error(err))
		}
	}
}

func (d *Daemon) moduleCredentialsEnv() map[string][]string {
	out := make(map[string][]string, len(d.opts.Modules))
	for _, m := range d.opts.Modules {
		out[m.Name()] = m.CredentialsEnv()
	}
	return out
}

func (d *Daemon) processBufferedItem(ctx context.Context, item buffer.Item) error {
	_, err := d.spawner.Trigger(ctx, item.MessageText, "buffer:"+item.Source, "", 0, item.RequestID)
	return err
}

func (d *Daemon) triggerScheduled(ctx context.Context, prompt, triggerSource string) error {
	_, err := d.spawner.Trigger(ctx, prompt, triggerSource, "", 0, "")
	return err
}

func schedulerEntries(cfgs []config.ScheduleConfig) []scheduler.Entry {
	entries := make([]scheduler.Entry, 0, len(cfgs))
	for _, c := range cfgs {
		entries = append(entries, scheduler.Entry{
			Name:           c.Name,
			CronExpr:       c.CronExpr,
			PromptTemplate: c.PromptTemplate,
			Enabled:        c.Enabled,
		})
	}
	return entries
}

// RouteMessage runs the routing pipeline (§4.9) against this switchboard's
// registered butler catalog, dispatching the classifier through this
// daemon's own spawner. It returns an error if called on a non-switchboard
// daemon.
func (d *Daemon) RouteMessage(ctx context.Context, input routing.RouteInput, historyCfg routing.HistoryConfig) (*routing.RoutingResult, error) {
	if !d.opts.Cfg.Butler.IsSwitchboard {
		return nil, fmt.Errorf("daemon: RouteMessage is only valid on the switchboard")
	}
	dispatch := func(ctx context.Context, prompt string) ([]llmadapter.ToolCall, error) {
		result, err := d.spawner.Trigger(ctx, prompt, "routing", "", 0, "")
		if err != nil {
			return nil, err
		}
		return result.ToolCalls, nil
	}
	return routing.Route(ctx, d.opts.DB, d.opts.Metrics.Routing, d.logger, input, d.opts.Butlers, historyCfg, dispatch, "general")
}

// Shutdown runs the four shutdown steps of §4.14: stop accepting new
// triggers, drain in-flight sessions, shut down every module in reverse
// dependency order, then cancel the liveness/scheduler loops and close the
// HTTP listener.
func (d *Daemon) Shutdown(ctx context.Context, timeout time.Duration) error {
	if d.spawner != nil {
		d.spawner.StopAccepting()
		d.spawner.Drain(timeout)
	}

	var errs []error
	for _, err := range d.moduleRegistry.ShutdownAll(ctx) {
		errs = append(errs, err)
		d.logger.Warn("module shutdown error", zap.Error(err))
	}

	if d.live != nil {
		d.live.Stop()
	}
	if d.sched != nil {
		d.sched.Stop()
	}
	if d.buf != nil {
		d.buf.Stop()
	}
	if d.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if err := d.httpServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("daemon: %d errors during shutdown (first: %w)", len(errs), errs[0])
	}
	return nil
}

// ModuleStates exposes the module state controller's snapshot (§4.12),
// surfaced by the module-state HTTP endpoints (§6.4).
func (d *Daemon) ModuleStates() map[string]modulestate.State {
	return d.stateRegistry.GetStates()
}

// SetModuleEnabled toggles one module's enabled flag (§4.12).
func (d *Daemon) SetModuleEnabled(ctx context.Context, name string, enabled bool) (modulestate.State, error) {
	return d.stateRegistry.SetEnabled(ctx, name, enabled)
}
