package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/stupiduntilnot/longrelay/internal/config"
	"github.com/stupiduntilnot/longrelay/internal/logging"
)

var version = "dev"

var (
	verbose    bool
	configPath string

	cfg    config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "relay",
	Short: "Telegram to LLM relay with long-form replies",
	Long: `relay answers Telegram messages with an OpenAI-compatible completion API.

Replies are assembled from up to three completion calls, each continuing the
previous one, and delivered as one or more Telegram messages.

Run without a subcommand to start the bot.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		level := cfg.LogLevel
		if verbose {
			level = "debug"
		}
		logger, err = logging.New(level, cfg.LogJSON)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: runServe,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file (overrides RELAY_CONFIG_FILE)")
	rootCmd.Version = version

	rootCmd.AddCommand(serveCmd, askCmd, eventsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
