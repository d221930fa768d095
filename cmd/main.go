package main

import (
	"fmt"
	"github.com/spf13/cobra"
	"github.com/wb-go/wbf/retry"
	"go.uber.org/zap"
	"openline/internal/config"
	"openline/internal/gateway"
	"openline/internal/service"
	"openline/pkg/logger"
	"os"
)

var (
	configPath string
	baseURL    string
	verbose    bool

	cfg config.Config
	log *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "openline",
	Short: "OpenLine opinion feed client",
	Long: `openline talks to the OpenLine backend: it loads opinions with their
comment trees, submits comments and reactions, and can serve the same
operations over HTTP.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if baseURL != "" {
			cfg.Gateway.BaseURL = baseURL
		}
		level := cfg.LogLevel
		if verbose {
			level = "debug"
		}
		log, err = logger.NewLogger(level)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if log != nil {
			_ = log.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "path to config file")
	rootCmd.PersistentFlags().StringVar(&baseURL, "base-url", "", "backend base URL (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(serveCmd, threadCmd, reactCmd, commentCmd, editCmd)
}

// newFeed wires the gateway client and the feed service from cfg.
func newFeed() (*service.Feed, error) {
	gw := gateway.NewClient(gateway.Options{
		BaseURL: cfg.Gateway.BaseURL,
		Timeout: cfg.Gateway.Timeout,
		Retry: retry.Strategy{
			Attempts: cfg.Gateway.RetryAttempts,
			Delay:    cfg.Gateway.RetryDelay,
			Backoff:  2,
		},
	}, log)

	feed, err := service.NewFeed(gw, service.Options{
		UserCacheSize: cfg.Users.CacheSize,
		UserCacheTTL:  cfg.Users.CacheTTL,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create feed: %w", err)
	}
	return feed, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
