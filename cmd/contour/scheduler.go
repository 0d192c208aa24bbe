package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/cuemby/contour/internal/migrations"
	"github.com/cuemby/contour/pkg/broker"
	"github.com/cuemby/contour/pkg/config"
	"github.com/cuemby/contour/pkg/editlock"
	"github.com/cuemby/contour/pkg/eventlog"
	"github.com/cuemby/contour/pkg/handlers"
	"github.com/cuemby/contour/pkg/intake"
	"github.com/cuemby/contour/pkg/log"
	"github.com/cuemby/contour/pkg/rpcclient"
	"github.com/cuemby/contour/pkg/rpcworker"
	"github.com/cuemby/contour/pkg/scenarioprovider"
	"github.com/cuemby/contour/pkg/taskmanager"
	"github.com/cuemby/contour/pkg/workerpool"
)

var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Run the scheduler process",
}

var schedulerServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the scheduler: intake HTTP server, RPC client, and worker pool supervisor",
	Long: `serve starts every scheduler-side collaborator: it resolves the
scenario database, opens the edit-lock and event-log stores, connects to
the broker, starts the task-intake HTTP server, and spawns as many
supervised worker processes as each --consumers entry's count names.

Examples:
  contour scheduler serve --consumers osm.import=2 --consumers road.generate=1`,
	RunE: runSchedulerServe,
}

func init() {
	schedulerServeCmd.Flags().StringArray("consumers", nil,
		`worker pool to supervise, as "routing-key=instance-count" (repeatable)`)
	schedulerServeCmd.Flags().String("worker-socket-dir", "", "directory for Command Channel unix sockets (default: a temp dir)")
	schedulerCmd.AddCommand(schedulerServeCmd)
}

func runSchedulerServe(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	var opts []config.LoaderOption
	if configPath != "" {
		opts = append(opts, config.WithConfigPaths(configPath))
	}
	cfg, err := config.NewLoader(opts...).Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	specs, err := parseConsumerSpecs(cmd)
	if err != nil {
		return fmt.Errorf("parse --consumers: %w", err)
	}

	logger := log.WithComponent("scheduler")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(cfg.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("parse postgres dsn: %w", err)
	}
	poolConfig.MaxConns = cfg.Postgres.MaxConns
	poolConfig.MinConns = cfg.Postgres.MinConns
	poolConfig.MaxConnLifetime = cfg.Postgres.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.Postgres.MaxConnIdleTime
	poolConfig.ConnConfig.ConnectTimeout = cfg.Postgres.ConnectTimeout

	pgPool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return fmt.Errorf("open postgres pool: %w", err)
	}
	defer pgPool.Close()
	if err := pgPool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}

	if cfg.Postgres.AutoMigrate {
		if err := migrations.New(pgPool, logger).Up(ctx); err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
	}

	lockManager := editlock.New(pgPool)
	if n, err := lockManager.ResetStaleLocks(ctx); err != nil {
		return fmt.Errorf("reset stale locks: %w", err)
	} else if n > 0 {
		logger.Warn().Int64("released", n).Msg("released stale locks left by a previous process")
	}

	boltStore, err := eventlog.NewBoltStore(cfg.EventLog.DBPath)
	if err != nil {
		return fmt.Errorf("open event store: %w", err)
	}
	defer boltStore.Close()
	events := eventlog.New(boltStore)
	events.Start()
	defer events.Stop()

	adapter, err := broker.Dial(broker.Config{
		URL:               cfg.Broker.URL,
		Exchange:          cfg.Broker.Exchange,
		CmdExchange:       cfg.Broker.CmdExchange,
		CmdRoutingKey:     cfg.Broker.CmdRoutingKey,
		PrefetchCount:     cfg.Broker.PrefetchCount,
		ReconnectDelay:    cfg.Broker.ReconnectDelay,
		BreakerMaxFails:   cfg.Broker.BreakerMaxFails,
		BreakerOpenPeriod: cfg.Broker.BreakerOpenPeriod,
	})
	if err != nil {
		return fmt.Errorf("dial broker: %w", err)
	}
	defer adapter.Close()

	// The scheduler process never runs a Host itself; the registry only
	// backs the Scenario Provider's routing-key validation.
	registry := rpcworker.NewRegistry()
	for _, desc := range handlers.Descriptors(handlers.DefaultConfig()) {
		if err := registry.Register(desc); err != nil {
			return fmt.Errorf("register handler: %w", err)
		}
	}

	provider := scenarioprovider.New(cfg.Scenario.DBPath, func(key string) bool {
		_, ok := registry.Lookup(key)
		return ok
	}, lockManager, logger)
	if err := provider.Load(); err != nil {
		return fmt.Errorf("load scenario database: %w", err)
	}
	if cfg.Scenario.HotReload {
		if err := provider.Watch(); err != nil {
			return fmt.Errorf("watch scenario database: %w", err)
		}
	}
	defer provider.Close()

	replyQueue, err := adapter.DeclareReplyQueue(ctx)
	if err != nil {
		return fmt.Errorf("declare reply queue: %w", err)
	}

	client := rpcclient.New(adapter, replyQueue, nil, logger)
	clientCtx, clientCancel := context.WithCancel(ctx)
	defer clientCancel()
	go func() {
		if err := client.Run(clientCtx); err != nil && clientCtx.Err() == nil {
			logger.Error().Err(err).Msg("rpc client stopped")
		}
	}()

	timeouts := taskmanager.Timeouts{
		Start:     cfg.Timeouts.Start,
		Close:     cfg.Timeouts.Close,
		Terminate: cfg.Timeouts.Terminate,
		Heartbeat: cfg.Timeouts.Heartbeat,
	}
	manager := taskmanager.New(provider, client, events, timeouts, logger)

	intakeServer := intake.New(cfg.HTTP, manager, logger)
	intakeErrCh := make(chan error, 1)
	go func() { intakeErrCh <- intakeServer.Run(ctx, cfg.HTTP.ShutdownTimeout) }()

	socketDir, _ := cmd.Flags().GetString("worker-socket-dir")
	if socketDir == "" {
		socketDir = cfg.Worker.SocketDir
	}
	if socketDir == "" {
		socketDir = filepathJoinTemp("contour-worker-sockets")
	}
	supervisor := workerpool.New(mustExecutable(), cfg.Worker.RestartDelay, socketDir, logger)
	supervisor.OnRestart = func(routingKey string, instanceID int) {
		// No taskmanager/rpcclient hook currently exists to release a
		// close-request stuck on the instance that just restarted; this
		// is a known limitation (see DESIGN.md), logged so it is visible
		// in the field rather than silently swallowed.
		logger.Warn().Str("routing_key", routingKey).Int("instance", instanceID).
			Msg("worker instance restarted; any close-request stuck on its previous process is not released")
	}
	if err := supervisor.Start(specs); err != nil {
		return fmt.Errorf("start worker pool: %w", err)
	}

	logger.Info().Int("consumer_pools", len(specs)).Msg("scheduler serving")

	intakeDone := false
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-intakeErrCh:
		intakeDone = true
		if err != nil {
			logger.Error().Err(err).Msg("intake server exited")
		}
		cancel()
	}

	if err := supervisor.Stop(cfg.Timeouts.Terminate); err != nil {
		logger.Warn().Err(err).Msg("worker pool did not stop cleanly")
	}
	clientCancel()
	if !intakeDone {
		if err := <-intakeErrCh; err != nil {
			logger.Warn().Err(err).Msg("intake server shutdown reported an error")
		}
	}

	logger.Info().Msg("scheduler shut down")
	return nil
}

func parseConsumerSpecs(cmd *cobra.Command) ([]workerpool.ProcessSpec, error) {
	raw, _ := cmd.Flags().GetStringArray("consumers")
	specs := make([]workerpool.ProcessSpec, 0, len(raw))
	for _, entry := range raw {
		key, countStr, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("%q: expected routing-key=count", entry)
		}
		count, err := strconv.Atoi(countStr)
		if err != nil || count <= 0 {
			return nil, fmt.Errorf("%q: instance count must be a positive integer", entry)
		}
		specs = append(specs, workerpool.ProcessSpec{RoutingKey: key, InstanceCount: count})
	}
	return specs, nil
}

func mustExecutable() string {
	path, err := os.Executable()
	if err != nil {
		return os.Args[0]
	}
	return path
}

func filepathJoinTemp(name string) string {
	return os.TempDir() + string(os.PathSeparator) + name
}
