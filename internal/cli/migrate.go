package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/victornm/econtest/internal/migrations"
)

// NewMigrateCmd applies database migrations.
func NewMigrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if c.Postgres.Addr == "" {
				return fmt.Errorf("postgres.addr not configured")
			}

			return migrations.Up(cmd.Context(), c.Postgres.DSN())
		},
	}
}
