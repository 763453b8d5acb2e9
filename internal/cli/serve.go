package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/victornm/econtest/internal/migrations"
	"github.com/victornm/econtest/internal/server"
)

func NewServeCmd(configPath *string) *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP and gRPC servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), *configPath, migrate)
		},
	}

	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply pending migrations before serving")
	return cmd
}

func runServe(ctx context.Context, configPath string, migrate bool) error {
	c, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	if migrate && c.Postgres.Addr != "" {
		if err := migrations.Up(ctx, c.Postgres.DSN()); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	s, err := server.Init(c)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, os.Interrupt)
	defer stop()

	go s.Start()

	<-ctx.Done()
	s.Shutdown()
	return nil
}
