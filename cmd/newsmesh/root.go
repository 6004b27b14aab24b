package main

import (
	"context"
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/deusflow/newsmesh/internal/config"
	"github.com/deusflow/newsmesh/internal/logger"
)

var (
	// Debug overrides LOG_LEVEL for every command.
	Debug bool

	sourcesPath    string
	dictionaryPath string

	rootCmd = &cobra.Command{
		Use:   "newsmesh",
		Short: "Bilingual Hebrew/English news aggregator",
		Long: `newsmesh pulls a fixed set of news feeds, normalizes and deduplicates
them, and serves cross-script keyword search over the merged corpus.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
)

// Execute runs the root command.
func Execute() error {
	_ = godotenv.Load()
	return rootCmd.ExecuteContext(context.Background())
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&Debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&sourcesPath, "sources", "", "YAML source registry (overrides SOURCES_PATH)")
	rootCmd.PersistentFlags().StringVar(&dictionaryPath, "dictionary", "", "YAML bilingual dictionary (overrides DICTIONARY_PATH)")

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newSearchCommand())
	rootCmd.AddCommand(newRelayCommand())
	rootCmd.AddCommand(newSourcesCommand())
}

// loadConfig reads the environment, applies global flags and sets up logging.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if Debug {
		cfg.Debug = true
	}
	if sourcesPath != "" {
		cfg.SourcesPath = sourcesPath
	}
	if dictionaryPath != "" {
		cfg.DictionaryPath = dictionaryPath
	}

	logger.Init()
	if cfg.Debug {
		logger.SetLevel("debug")
	}
	return cfg, nil
}
