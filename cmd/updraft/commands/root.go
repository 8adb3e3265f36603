package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/updraft-io/updraft/pkg/config"
	"github.com/updraft-io/updraft/pkg/stores"
	"github.com/updraft-io/updraft/pkg/telemetry"
)

var (
	// Global flags
	configPath string
	verbose    bool

	// Version propagated into telemetry resources
	appVersion string
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	appVersion = version
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "updraft",
		Short: "Updraft - Deployment Update Reconciliation Engine",
		Long: `Updraft reconciles a running deployment's topology against a newly
evaluated deployment plan.

Given an ordered list of change steps (add/remove/modify, per entity type),
it applies each step to the persisted topology, tracks every entity touched,
and runs a finalize pass that repairs structural consequences no single step
can express: sparse relationship slots, instance relationship ordering, and
stale inter-deployment dependency edges.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")

	rootCmd.AddCommand(newMigrateCommand())
	rootCmd.AddCommand(newUpdateCommand())

	return rootCmd
}

// loadConfig loads the configuration file and applies flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Telemetry.LogLevel = "debug"
	}
	return cfg, nil
}

// openStore initializes and migrates the SQLite store.
func openStore(ctx context.Context, cfg *config.Config) (*stores.SQLiteStore, error) {
	store, err := stores.NewSQLiteStore(stores.Config{Path: cfg.Database.Path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// newLogger builds the structured logger from the loaded configuration.
func newLogger(cfg *config.Config) (*telemetry.Logger, error) {
	return telemetry.NewLogger(cfg.TelemetryConfig(appVersion).Logging)
}
