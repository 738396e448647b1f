package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"tracelink-lab/internal/config"
	"tracelink-lab/pkg/logger"
)

var (
	cfgFile  string
	logLevel string
	asJSON   bool

	rootCmd = &cobra.Command{
		Use:   "investigate",
		Short: "Run investigator queries against the record search index",
		Long: `investigate extracts entities from free text, searches the configured
record index for them, and prints ranked matches with linked-entity insights.`,
		SilenceUsage: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", os.Getenv("TRACELINK_CONFIG"), "config file (default: ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&asJSON, "json", false, "print raw JSON instead of a summary")

	rootCmd.AddCommand(searchCmd())
	rootCmd.AddCommand(extractCmd())
	rootCmd.AddCommand(watchCmd())
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	cancel()

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads configuration and a stderr logger for a command
func setup() (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	log := logger.New(logger.Config{
		Level:  logLevel,
		Format: "console",
		Output: os.Stderr,
	})
	return cfg, log, nil
}
