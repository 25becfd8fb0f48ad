package main

import (
	"Go2NetSentinel/internal/cache"
	"Go2NetSentinel/internal/config"
	"Go2NetSentinel/internal/engine/pipeline"
	"Go2NetSentinel/internal/logging"
	"Go2NetSentinel/internal/service"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	logger *zap.Logger
	cfg    *config.Config
)

var rootFlags struct {
	configPath string
	source     string
}

var rootCmd = &cobra.Command{
	Use:   "ns-ids",
	Short: "Inspect packet logs with the rule engine and outlier detector",
	Long: `ns-ids parses a packet metadata log, runs the signature rules and the
isolation-forest outlier detector over it and prints annotated records,
alerts or a summary.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.LoadConfig(rootFlags.configPath)
		if err != nil {
			return err
		}
		// a local run may point at any file; without a data directory it becomes the default source
		if rootFlags.source != "" && cfg.Source.DataDir == "" {
			cfg.Source.Path = rootFlags.source
			rootFlags.source = ""
		}
		logger, err = logging.New(cfg.Logging)
		if err != nil {
			return fmt.Errorf("initializing logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			logging.Sync(logger)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&rootFlags.configPath, "config", "c", "configs/config.yaml", "path to the YAML config")
	rootCmd.PersistentFlags().StringVarP(&rootFlags.source, "source", "s", "", "source file, relative to source.data_dir when set (default: source.path)")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newService builds the detection service for a one-shot command.
func newService() (*service.Service, error) {
	p, err := pipeline.New(cfg.Detection, logger)
	if err != nil {
		return nil, err
	}
	policy, err := cache.ParsePolicy(cfg.Cache.Policy)
	if err != nil {
		return nil, err
	}
	c := cache.New(p.Run, cfg.Detection.TTL(), policy, logger)
	return service.New(c, service.NewFileResolver(cfg.Source), cfg.Detection.TopNAlerts, logger), nil
}
