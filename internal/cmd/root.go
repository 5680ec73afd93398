package cmd

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bisheshkhanal/ragebaiter/internal/config"
	"github.com/bisheshkhanal/ragebaiter/internal/logging"
)

var (
	envFile   string
	logLevel  string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "ragebaiter",
	Short: "Screen political posts for one-sided content",
	Long: `ragebaiter screens social media posts for political content that mirrors
a viewer's own position or leans on weak arguments, and issues a counter-view
intervention when it does.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.HiddenDefaultCmd = false

	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Dotenv file to load before reading the environment")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides LOG_LEVEL)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: console or json (overrides LOG_FORMAT)")
}

// loadSettings reads settings and builds the logger, applying the
// persistent flag overrides.
func loadSettings() (*config.Settings, *zap.Logger, error) {
	settings, err := config.Load(envFile)
	if err != nil {
		return nil, nil, err
	}
	if logLevel != "" {
		settings.LogLevel = logLevel
	}
	if logFormat != "" {
		settings.LogFormat = logFormat
	}

	logger, err := logging.New(logging.Config{Level: settings.LogLevel, Format: settings.LogFormat})
	if err != nil {
		return nil, nil, err
	}
	return settings, logger, nil
}
