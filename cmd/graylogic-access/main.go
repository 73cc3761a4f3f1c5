// Gray Logic Access - household access-control core.
//
// This is the process entry point. It loads configuration, prepares the
// SQLite store, seeds the first admin, runs the grant sweeper and, with
// --console, offers an interactive operator console on stdin.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	_ "github.com/nerrad567/gray-logic-access/migrations"

	"github.com/nerrad567/gray-logic-access/internal/audit"
	"github.com/nerrad567/gray-logic-access/internal/auth"
	"github.com/nerrad567/gray-logic-access/internal/clock"
	"github.com/nerrad567/gray-logic-access/internal/household"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-access/internal/techaccess"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// healthCheckTimeout bounds the startup health probe.
const healthCheckTimeout = 5 * time.Second

// options are the parsed command-line flags.
type options struct {
	configPath  string
	console     bool
	showVersion bool
}

func main() {
	// A missing .env is normal in production.
	_ = godotenv.Load() //nolint:errcheck // optional file

	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	if opts.showVersion {
		fmt.Printf("graylogic-access %s (commit %s, built %s)\n", version, commit, date)
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// parseFlags parses args into options. It returns pflag.ErrHelp after
// printing usage when -h or --help is given.
func parseFlags(args []string, stderr io.Writer) (options, error) {
	var opts options
	fs := pflag.NewFlagSet("graylogic-access", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVarP(&opts.configPath, "config", "c", "", "path to config file (default $GRAYLOGIC_CONFIG or "+defaultConfigPath+")")
	fs.BoolVar(&opts.console, "console", false, "run the interactive operator console on stdin")
	fs.BoolVarP(&opts.showVersion, "version", "v", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if fs.NArg() > 0 {
		return options{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return opts, nil
}

// run is the application logic, separated from main for testability.
// It returns nil on a clean shutdown.
func run(ctx context.Context, opts options) error {
	log := logging.Default()
	log.Info("starting Gray Logic Access",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath(opts.configPath)
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	recorder := audit.NewRecorder(audit.NewSQLiteRepository(db.DB), clock.Real(), log.Logger)

	mqttClient, err := mqtt.Connect(cfg.MQTT)
	switch {
	case errors.Is(err, mqtt.ErrDisabled):
		log.Info("MQTT disabled, security events stay local")
	case err != nil:
		return fmt.Errorf("connecting to MQTT: %w", err)
	default:
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log)
		recorder.AddSink(audit.NewMQTTSink(mqttClient, log.Logger))
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	}

	influxClient, err := influxdb.Connect(cfg.InfluxDB)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("InfluxDB disabled")
	case err != nil:
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	default:
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetSite(cfg.Site.ID)
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		recorder.AddSink(audit.NewMetricsSink(influxClient))
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	}

	c := newCore(db, cfg, recorder, clock.Real(), log.Logger)

	stale, err := c.sessions.Reconcile(ctx)
	if err != nil {
		return fmt.Errorf("reconciling sessions: %w", err)
	}
	if stale > 0 {
		log.Info("cleared sessions from previous run", "count", stale)
	}

	secret, err := auth.SeedAdmin(ctx, c.principals, c.hasher, recorder, cfg.Security.Bootstrap.AdminUsername, log.Logger)
	if err != nil {
		return fmt.Errorf("seeding admin: %w", err)
	}
	if secret != "" {
		fmt.Fprintf(os.Stderr, "\nFirst admin %q created. Secret (shown once): %s\n\n",
			cfg.Security.Bootstrap.AdminUsername, secret)
	}

	healthCtx, cancelHealth := context.WithTimeout(ctx, healthCheckTimeout)
	healthCheck(healthCtx, log.Logger, db, mqttClient, influxClient)
	cancelHealth()

	c.sweeper.Start(ctx)
	defer c.sweeper.Stop()

	log.Info("Gray Logic Access started", "site", cfg.Site.ID, "console", opts.console)

	if opts.console {
		done := make(chan error, 1)
		go func() {
			done <- newConsole(c.service, os.Stdin, os.Stdout).run(ctx)
		}()
		select {
		case <-ctx.Done():
			// The console goroutine may be parked on stdin and never reach
			// its own logout.
			c.endActiveSession(context.WithoutCancel(ctx), log.Logger)
		case err := <-done:
			if err != nil {
				log.Error("console stopped", "error", err)
			}
		}
	} else {
		<-ctx.Done()
	}

	log.Info("shutting down Gray Logic Access")
	return nil
}

// core holds the wired access-control components.
type core struct {
	principals *auth.SQLitePrincipalRepository
	hasher     *auth.Hasher
	lockout    *auth.LockoutGuard
	sessions   *auth.SessionRegistry
	grants     *techaccess.Engine
	service    *household.Service
	sweeper    *techaccess.Sweeper
}

// newCore wires the access-control components over db.
func newCore(db *database.DB, cfg *config.Config, recorder *audit.Recorder, clk clock.Clock, logger *slog.Logger) *core {
	c := &core{
		principals: auth.NewPrincipalRepository(db.DB, clk),
		hasher:     auth.NewHasher(),
		lockout:    auth.NewLockoutGuard(db.DB, clk, auth.LockoutPolicyFromConfig(cfg.Security.Lockout)),
		sessions:   auth.NewSessionRegistry(db.DB, clk, cfg.SessionTTL()),
	}

	authn := auth.NewAuthenticator(auth.AuthenticatorConfig{
		Principals: c.principals,
		Hasher:     c.hasher,
		Lockout:    c.lockout,
		Sessions:   c.sessions,
		Audit:      recorder,
		Clock:      clk,
		MinDelay:   time.Duration(cfg.Security.Timing.MinDelayMs) * time.Millisecond,
		MaxDelay:   time.Duration(cfg.Security.Timing.MaxDelayMs) * time.Millisecond,
		Logger:     logger,
	})

	c.grants = techaccess.NewEngine(techaccess.NewRepository(db.DB), clk, recorder, logger)

	c.service = household.New(household.Config{
		Principals:    c.principals,
		Hasher:        c.hasher,
		Authenticator: authn,
		Sessions:      c.sessions,
		Grants:        c.grants,
		Audit:         recorder,
		Logger:        logger,
	})

	// Attempts older than two windows can no longer affect a lockout decision.
	attemptRetention := 2 * cfg.LockoutWindow()
	c.sweeper = techaccess.NewSweeper(techaccess.SweeperConfig{
		Engine:   c.grants,
		Interval: cfg.SweepInterval(),
		Tasks: []techaccess.Task{
			{Name: "prune_login_attempts", Run: func(ctx context.Context) (int64, error) {
				return c.lockout.PruneAttempts(ctx, attemptRetention)
			}},
			{Name: "reap_sessions", Run: c.sessions.ReapExpired},
		},
		Logger: logger,
	})
	return c
}

// endActiveSession revokes the process's active session, if any.
func (c *core) endActiveSession(ctx context.Context, log *slog.Logger) {
	username, ok := c.sessions.Active()
	if !ok {
		return
	}
	if err := c.sessions.Revoke(ctx, username); err != nil {
		log.Error("revoking session on shutdown", "username", username, "error", err)
		return
	}
	log.Info("session ended on shutdown", "username", username)
}

// healthCheck logs the state of each backing service. Optional services
// that are not configured are skipped.
func healthCheck(ctx context.Context, log *slog.Logger, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) {
	if err := db.HealthCheck(ctx); err != nil {
		log.Warn("database health check failed", "error", err)
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			log.Warn("MQTT health check failed", "error", err)
		}
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			log.Warn("InfluxDB health check failed", "error", err)
		}
	}
}

// getConfigPath returns the config file path: the --config flag first,
// then GRAYLOGIC_CONFIG, then the default.
func getConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if path := os.Getenv("GRAYLOGIC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
