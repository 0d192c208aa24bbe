package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cuemby/contour/pkg/broker"
	"github.com/cuemby/contour/pkg/cmdchannel"
	"github.com/cuemby/contour/pkg/config"
	"github.com/cuemby/contour/pkg/handlers"
	"github.com/cuemby/contour/pkg/log"
	"github.com/cuemby/contour/pkg/rpcworker"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Worker process commands",
}

var workerRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one RPC Worker Host instance for a single routing key",
	Long: `run is what the Worker Pool Supervisor execs for every supervised
instance. It dials the supervisor's Command Channel socket to complete the
supervisor's accept handshake, then serves the routing key's request queue
and its own anonymous command queue until told to stop.`,
	RunE: runWorkerRun,
}

func init() {
	workerRunCmd.Flags().String("consumer", "", "routing key this instance serves (required)")
	workerRunCmd.Flags().Int("instance-id", 0, "instance number within this routing key's pool")
	workerRunCmd.Flags().String("command-socket", "", "unix socket path of the supervisor's Command Channel (required)")
	_ = workerRunCmd.MarkFlagRequired("consumer")
	_ = workerRunCmd.MarkFlagRequired("command-socket")
	workerCmd.AddCommand(workerRunCmd)
}

func runWorkerRun(cmd *cobra.Command, args []string) error {
	routingKey, _ := cmd.Flags().GetString("consumer")
	instanceID, _ := cmd.Flags().GetInt("instance-id")
	socketPath, _ := cmd.Flags().GetString("command-socket")

	configPath, _ := cmd.Flags().GetString("config")
	var opts []config.LoaderOption
	if configPath != "" {
		opts = append(opts, config.WithConfigPaths(configPath))
	}
	cfg, err := config.NewLoader(opts...).Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := log.WithRoutingKey(routingKey).With().Int("instance", instanceID).Logger()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return fmt.Errorf("dial command channel %s: %w", socketPath, err)
	}
	channel := cmdchannel.New(conn)
	defer channel.Close()

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

	registry := rpcworker.NewRegistry()
	for _, desc := range handlers.Descriptors(handlers.DefaultConfig()) {
		if err := registry.Register(desc); err != nil {
			return fmt.Errorf("register handler: %w", err)
		}
	}

	host, err := rpcworker.NewHost(registry, routingKey, instanceID, adapter, logger)
	if err != nil {
		return fmt.Errorf("build rpc worker host: %w", err)
	}

	requestQueue, err := adapter.QueueForRoutingKey(ctx, routingKey)
	if err != nil {
		return fmt.Errorf("declare request queue: %w", err)
	}

	cmdQueue, err := adapter.DeclareCmdQueue(ctx)
	if err != nil {
		return fmt.Errorf("declare command queue: %w", err)
	}

	logger.Info().Str("request_queue", requestQueue).Str("cmd_queue", cmdQueue).Msg("worker instance serving")
	err = host.Serve(ctx, requestQueue, cmdQueue)
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("serve: %w", err)
	}
	logger.Info().Msg("worker instance shut down")
	return nil
}
