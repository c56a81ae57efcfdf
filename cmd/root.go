package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jmehdipour/daily-coordinator/cmd/lambda"
	"github.com/jmehdipour/daily-coordinator/cmd/worker"
	"github.com/jmehdipour/daily-coordinator/internal/config"
	"github.com/jmehdipour/daily-coordinator/internal/logger"
)

var (
	cfgPath string
	rootCmd = &cobra.Command{
		Use:   "daily-coordinator",
		Short: "Daily Coordinator CLI",
	}
)

func Execute() {
	defer logger.Sync()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the config and initialises the global logger from it.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	logger.Init(cfg.Log.Level)
	return cfg, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "path to YAML config file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(worker.NewWorkerCmd())
	rootCmd.AddCommand(lambda.NewLambdaCmd())
}
