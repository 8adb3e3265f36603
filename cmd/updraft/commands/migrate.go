package commands

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Long: `Apply all pending schema migrations to the configured SQLite
database, creating it if necessary.`,
		Example: `  # Migrate the default database
  updraft migrate

  # Migrate a specific database
  updraft migrate --config updraft.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			log.Info().Str("database", cfg.Database.Path).Msg("Database schema up to date")
			return nil
		},
	}
	return cmd
}
