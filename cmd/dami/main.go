// Command dami imports MoneyForward exports from Cloud Storage into BigQuery.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/whiro/dami/internal/config"
	"github.com/whiro/dami/internal/container"
	"github.com/whiro/dami/internal/logger"
)

var (
	// Global flags
	configPath string
	logLevel   string

	settings *config.Settings
	log      zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "dami",
	Short: "Import MoneyForward exports into BigQuery",
	Long: `dami reads MoneyForward transaction exports from Cloud Storage,
normalises and validates them against the destination schema, and replaces
the exported date window in BigQuery.

Settings come from --config (or DAMI_CONFIG), overridden by DAMI_* variables.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		s, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if logLevel != "" {
			s.Log.Level = logLevel
		}
		l, err := logger.NewFromConfig(s.LoggerConfig(), os.Stderr)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		settings, log = s, l
		cmd.SetContext(logger.WithContext(cmd.Context(), log))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "settings file (YAML)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level")

	rootCmd.AddCommand(importCmd, latestCmd, uploadCmd, migrateCmd, transactionsCmd, runsCmd, queryCmd, serveCmd)
}

// withContainer builds a container from the loaded settings and closes it
// when fn returns.
func withContainer(fn func(c *container.Container) error) error {
	c := container.New(settings)
	defer func() {
		if err := c.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close clients")
		}
	}()
	return fn(c)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
