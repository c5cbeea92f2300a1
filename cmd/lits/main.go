// Package main provides the lits CLI entry point.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/matsen/litsearch/internal/config"
	"github.com/matsen/litsearch/internal/logging"
)

// Version is set at build time via ldflags
var Version = "dev"

var (
	// humanOutput controls whether to use human-readable output
	humanOutput bool
	configPath  string
	logLevel    string

	cfg        *config.Config
	logger     *slog.Logger
	logCleanup = func() {}
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	logCleanup()
	if err != nil {
		exitWithError(exitCodeFor(err), "%v", err)
	}
}

var rootCmd = &cobra.Command{
	Use:   "lits",
	Short: "Semantic search over a scientific literature database",
	Long: `lits embeds article titles and abstracts into a vector index and answers
natural-language queries with the most similar articles.

Records live in a SQLite database; the index is built from them as
versioned snapshots that a running server can pick up without restarting.
All commands output JSON by default for easy integration with other tools.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&humanOutput, "human", false, "Use human-readable output instead of JSON")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default $XDG_CONFIG_HOME/lits/config.yml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the configured log level")
	rootCmd.Version = Version
}

// setup loads .env, the config file and the logger before any command runs.
func setup(cmd *cobra.Command, args []string) error {
	// Missing .env is fine; it only supplies secrets.
	_ = godotenv.Load()

	var err error
	cfg, err = config.Load(configPath)
	if err != nil {
		return &exitError{code: ExitConfigError, err: err}
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return &exitError{code: ExitConfigError, err: err}
	}

	logger, logCleanup, err = logging.New(cfg.Log)
	if err != nil {
		return &exitError{code: ExitConfigError, err: err}
	}
	slog.SetDefault(logger)
	return nil
}
