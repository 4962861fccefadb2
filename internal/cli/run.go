package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nipunasudha/monopoly-polymarket-agent/internal/config"
	"github.com/nipunasudha/monopoly-polymarket-agent/internal/daemon"
	"github.com/nipunasudha/monopoly-polymarket-agent/internal/logger"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the trading agent in the foreground",
	Long: `Run the trading agent in the foreground. The agent dispatches
queued tasks, serves the dashboard gateway, and executes scheduled
jobs until interrupted.`,
	RunE: runAgent,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runAgent(cmd *cobra.Command, args []string) error {
	cfg, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	log, err := logger.New(logger.Config{
		Level:   cfg.Logging.Level,
		File:    cfg.Logging.File,
		Console: cfg.Logging.Console,
		Pretty:  cfg.Logging.Pretty,
	})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Close()

	d, err := daemon.New(cfg, log, daemon.Collaborators{})
	if err != nil {
		return fmt.Errorf("failed to initialize agent: %w", err)
	}

	if err := d.Start(cfgFile); err != nil {
		return fmt.Errorf("failed to start agent: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("Shutting down")

	return d.Stop()
}
