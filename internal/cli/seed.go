package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/victornm/econtest/internal/catalog"
	"github.com/victornm/econtest/internal/seed"
	"github.com/victornm/econtest/internal/server"
	"github.com/victornm/econtest/internal/store/postgres"
)

// NewSeedCmd loads a contest fixture into postgres. Without an argument the demo contest is loaded.
func NewSeedCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "seed [fixture.yaml]",
		Short: "Create a contest with its questions from a YAML fixture",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := seed.Default()
			if len(args) == 1 {
				var err error
				if f, err = seed.ReadFile(args[0]); err != nil {
					return err
				}
			}

			c, err := loadConfig(*configPath)
			if err != nil {
				return err
			}

			db, err := connectPostgres(cmd.Context(), c)
			if err != nil {
				return err
			}
			defer db.Close()

			cs := catalog.NewService(catalog.Config{Store: postgres.NewStore(postgres.Config{DB: db})})
			res, err := seed.Apply(cmd.Context(), cs, f)
			if err != nil {
				return err
			}

			slog.Info("seed: contest created", "id", res.Contest.ID, "slug", res.Contest.Slug, "questions", len(res.Questions))
			return nil
		},
	}
}

func connectPostgres(ctx context.Context, c server.Config) (*pgxpool.Pool, error) {
	if c.Postgres.Addr == "" {
		return nil, fmt.Errorf("postgres.addr not configured")
	}

	db, err := server.ConnectPostgres(ctx, c.Postgres)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	return db, nil
}
