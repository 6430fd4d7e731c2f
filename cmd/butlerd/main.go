// Command butlerd is the entrypoint for a single butler daemon process
// (switchboard or any domain butler). One process, one config file, one
// database, one MCP surface — see the daemon orchestrator for the full
// startup/shutdown sequence.
//
// Usage:
//
//	butlerd serve                       # start the daemon
//	butlerd serve --config butler.yaml  # point at a specific config file
//	butlerd version                     # print version info
//	butlerd health                      # poll the daemon's /health endpoint
//	butlerd migrate up|down|status|...  # run this butler's own migrations
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Tzeusy/butlers-sub006/config"
	"github.com/Tzeusy/butlers-sub006/credential"
	"github.com/Tzeusy/butlers-sub006/daemon"
	"github.com/Tzeusy/butlers-sub006/internal/database"
	applog "github.com/Tzeusy/butlers-sub006/internal/log"
	"github.com/Tzeusy/butlers-sub006/internal/migration"
	"github.com/Tzeusy/butlers-sub006/internal/telemetry"
	"github.com/Tzeusy/butlers-sub006/llmadapter"
	"github.com/Tzeusy/butlers-sub006/module"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "migrate":
		runMigrate(os.Args[2:])
	case "version":
		printVersion()
	case "health":
		runHealthCheck(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func loadConfig(configPath string) (*config.Config, error) {
	loader := config.NewLoader()
	if configPath != "" {
		loader = loader.WithConfigPath(configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := applog.ForButler(applog.New(cfg.Log), cfg.Butler.Name)
	defer logger.Sync()

	logger.Info("starting butler daemon",
		zap.String("butler", cfg.Butler.Name),
		zap.Bool("is_switchboard", cfg.Butler.IsSwitchboard),
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	otelProviders, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	defer func() {
		if otelProviders != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			otelProviders.Shutdown(ctx)
		}
	}()

	db, err := database.Open(cfg.Database, logger)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}

	migrator, err := migration.NewMigratorFromConfig(cfg, logger)
	if err != nil {
		logger.Fatal("failed to build migrator", zap.Error(err))
	}
	if err := migrator.Up(context.Background()); err != nil {
		logger.Fatal("failed to apply migrations", zap.Error(err))
	}
	migrator.Close()

	store := credential.New(db)
	// Per-module credentials_env requirements are folded in once the module
	// registry resolves which modules this butler runs; this pass only
	// checks the handful of vars every butler needs regardless of module set.
	required := credential.RequiredVars{
		Core: []string{"BUTLER_NAME"},
	}
	if _, err := credential.ValidateCredentials(context.Background(), store, required); err != nil {
		logger.Warn("credential validation found missing variables", zap.Error(err))
	}

	// The modules this process runs are fixed at build time per deployment;
	// none are wired into this generic binary yet (see daemon.Options.Modules
	// and DESIGN.md's module package entry for the pluggable contract).
	var modules []module.Module

	var rdb *redis.Client
	var signingKey []byte
	if cfg.Butler.IsSwitchboard {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			logger.Warn("redis unreachable; OAuth bootstrap endpoints will not be mounted", zap.Error(err))
			rdb = nil
		}
		signingKey = resolveOAuthSigningKey(cfg.OAuth, logger)
	}

	d, err := daemon.New(daemon.Options{
		Cfg:             cfg,
		Logger:          logger,
		DB:              db,
		Store:           store,
		Adapter:         buildAdapter(cfg.Runtime),
		Modules:         modules,
		Redis:           rdb,
		OAuthSigningKey: signingKey,
	})
	if err != nil {
		logger.Fatal("failed to construct daemon", zap.Error(err))
	}

	ctx := context.Background()
	if err := d.Start(ctx); err != nil {
		logger.Fatal("daemon failed to start", zap.Error(err))
	}
	logger.Info("butler daemon ready", zap.Int("http_port", cfg.Server.HTTPPort))

	shutdownTimeout := time.Duration(cfg.Shutdown.TimeoutSeconds) * time.Second
	waitForShutdown(logger, shutdownTimeout)

	if err := d.Shutdown(context.Background(), shutdownTimeout); err != nil {
		logger.Warn("daemon shutdown reported errors", zap.Error(err))
	}
	logger.Info("butler daemon stopped")
}

// buildAdapter selects the LLM runtime adapter named by [runtime].adapter in
// butler.toml, defaulting to claude when unset.
func buildAdapter(cfg config.RuntimeConfig) llmadapter.Adapter {
	switch cfg.Adapter {
	case "gemini":
		return llmadapter.NewGeminiAdapter("", nil)
	default:
		return llmadapter.NewClaudeAdapter("", nil)
	}
}

// resolveOAuthSigningKey returns the configured OAuth state-signing key, or
// generates a random per-process one with a loud warning if unset. A
// generated key only works for a single-instance switchboard: a state token
// minted by one process will fail verification on another since the key
// never leaves memory.
func resolveOAuthSigningKey(cfg config.OAuthConfig, logger *zap.Logger) []byte {
	if cfg.SigningKey != "" {
		return []byte(cfg.SigningKey)
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		logger.Fatal("failed to generate a fallback OAuth signing key", zap.Error(err))
	}
	logger.Warn("oauth.signing_key is not set; generated a random per-process key. " +
		"State tokens minted by this process will not verify on any other instance; set BUTLER_OAUTH_SIGNING_KEY for a multi-instance deployment.")
	return []byte(hex.EncodeToString(buf))
}

func waitForShutdown(logger *zap.Logger, timeout time.Duration) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown signal received", zap.Duration("timeout", timeout))
}

func runMigrate(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: butlerd migrate <up|down|down-all|steps|goto|force|version|status|info> [--config path]")
		os.Exit(1)
	}
	subcommand := args[0]

	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args[1:])
	rest := fs.Args()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := applog.ForButler(applog.New(cfg.Log), cfg.Butler.Name)
	defer logger.Sync()

	migrator, err := migration.NewMigratorFromConfig(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build migrator: %v\n", err)
		os.Exit(1)
	}
	defer migrator.Close()

	cli := migration.NewCLI(migrator, cfg.Butler.Name)
	cli.SetOutput(os.Stdout)
	ctx := context.Background()

	switch subcommand {
	case "up":
		err = cli.RunUp(ctx)
	case "down":
		err = cli.RunDown(ctx)
	case "down-all", "reset":
		err = cli.RunDownAll(ctx)
	case "steps":
		n, perr := strconv.Atoi(firstArg(rest))
		if perr != nil {
			fmt.Fprintf(os.Stderr, "steps requires an integer argument: %v\n", perr)
			os.Exit(1)
		}
		err = cli.RunSteps(ctx, n)
	case "goto":
		v, perr := strconv.ParseUint(firstArg(rest), 10, 64)
		if perr != nil {
			fmt.Fprintf(os.Stderr, "goto requires a version argument: %v\n", perr)
			os.Exit(1)
		}
		err = cli.RunGoto(ctx, uint(v))
	case "force":
		v, perr := strconv.Atoi(firstArg(rest))
		if perr != nil {
			fmt.Fprintf(os.Stderr, "force requires a version argument: %v\n", perr)
			os.Exit(1)
		}
		err = cli.RunForce(ctx, v)
	case "version":
		err = cli.RunVersion(ctx)
	case "status":
		err = cli.RunStatus(ctx)
	case "info":
		err = cli.RunInfo(ctx)
	default:
		fmt.Fprintf(os.Stderr, "unknown migrate subcommand: %s\n", subcommand)
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "migrate %s failed: %v\n", subcommand, err)
		os.Exit(1)
	}
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

func runHealthCheck(args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8080", "Daemon address")
	fs.Parse(args)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(*addr + "/health")
	if err != nil {
		fmt.Fprintf(os.Stderr, "health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "health check failed: status %d\n", resp.StatusCode)
		os.Exit(1)
	}
	fmt.Println("OK")
}

func printVersion() {
	fmt.Printf("butlerd %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`butlerd - butler daemon process

Usage:
  butlerd <command> [options]

Commands:
  serve     Start the butler daemon
  migrate   Run this butler's own database migrations
  version   Show version information
  health    Check daemon health
  help      Show this help message

Options for 'serve':
  --config <path>   Path to configuration file (YAML)

Migration subcommands:
  migrate up          Apply all pending migrations
  migrate down        Rollback the last migration
  migrate down-all    Rollback all migrations
  migrate steps <n>   Apply/rollback n migrations
  migrate goto <v>    Migrate to a specific version
  migrate force <v>   Force the recorded version without running SQL
  migrate version     Show current migration version
  migrate status      Show migration status
  migrate info        Show migration file info`)
}
