// Command contour-migrate applies or inspects Contour's Postgres schema
// outside of the scheduler's own auto-migrate startup path.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/cuemby/contour/internal/migrations"
	"github.com/cuemby/contour/pkg/config"
	"github.com/cuemby/contour/pkg/log"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "contour-migrate",
	Short: "Apply, roll back, or inspect Contour's Postgres schema",
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to a contour.yaml config file")
	rootCmd.AddCommand(upCmd, downCmd, statusCmd)
}

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply every pending migration",
	RunE:  withMigrator(func(ctx context.Context, m *migrations.Migrator) error { return m.Up(ctx) }),
}

var downCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the most recently applied migration",
	RunE:  withMigrator(func(ctx context.Context, m *migrations.Migrator) error { return m.Down(ctx) }),
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the applied/pending state of every migration",
	RunE:  withMigrator(func(ctx context.Context, m *migrations.Migrator) error { return m.Status(ctx) }),
}

func withMigrator(run func(context.Context, *migrations.Migrator) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		var opts []config.LoaderOption
		if configPath != "" {
			opts = append(opts, config.WithConfigPaths(configPath))
		}
		cfg, err := config.NewLoader(opts...).Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		log.Init(log.Config{Level: log.InfoLevel})
		logger := log.WithComponent("contour-migrate")

		ctx := context.Background()
		poolCfg, err := pgxpool.ParseConfig(cfg.Postgres.DSN)
		if err != nil {
			return fmt.Errorf("parse postgres dsn: %w", err)
		}
		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return fmt.Errorf("open postgres pool: %w", err)
		}
		defer pool.Close()

		return run(ctx, migrations.New(pool, logger))
	}
}
