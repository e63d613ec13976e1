package main

import (
	"gatekeeper/internal/config"
	"gatekeeper/internal/storage"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "gatekeeper",
	Short:         "Discord moderation bot with a member gate and interactive commands",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runBot,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to the YAML config file (default $CONFIG_PATH or config.yaml)")
}

func loadConfig() (config.Config, error) {
	if configPath != "" {
		return config.LoadFile(configPath)
	}
	return config.Load()
}

// openStore loads the configuration, builds the logger and opens the
// migrated store. The caller closes the store and syncs the logger.
func openStore() (config.Config, *zap.Logger, *storage.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return config.Config{}, nil, nil, err
	}
	logger, err := config.BuildLogger(cfg.LogLevel)
	if err != nil {
		return config.Config{}, nil, nil, err
	}

	store, err := storage.NewWithCache(cfg.DatabaseURL, cfg.CacheSize)
	if err != nil {
		_ = logger.Sync()
		return config.Config{}, nil, nil, err
	}
	if err := store.Migrate(); err != nil {
		store.Close()
		_ = logger.Sync()
		return config.Config{}, nil, nil, err
	}
	return cfg, logger, store, nil
}
