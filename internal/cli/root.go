package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/victornm/econtest/internal/config"
	"github.com/victornm/econtest/internal/server"
	"github.com/victornm/econtest/internal/telemetry"
)

// Execute runs the CLI. Variables from a .env file in the working directory are loaded first.
func Execute() error {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("load .env: %w", err)
	}

	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	var configPath string

	envConfig := os.Getenv("CONFIG_PATH")
	if envConfig == "" {
		envConfig = "config.yaml"
	}

	cmd := &cobra.Command{
		Use:           "contests",
		Short:         "Contest wizard, scoring and export",
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", envConfig, "path to YAML config")
	cmd.AddCommand(
		NewServeCmd(&configPath),
		NewMigrateCmd(&configPath),
		NewSeedCmd(&configPath),
		NewExportCmd(&configPath),
	)
	return cmd
}

// loadConfig reads path over the defaults and installs the configured logger.
func loadConfig(path string) (server.Config, error) {
	c := server.DefaultConfig()

	if err := config.Load(path, &c); err != nil {
		return c, fmt.Errorf("load config: %w", err)
	}

	l, err := telemetry.NewLogger(os.Stderr, c.Log)
	if err != nil {
		return c, err
	}
	slog.SetDefault(l)

	return c, nil
}
