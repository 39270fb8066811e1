// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ManuGH/lure/internal/config"
	xglog "github.com/ManuGH/lure/internal/log"
	"github.com/ManuGH/lure/internal/version"
)

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:          "lure",
		Short:        "Phishing simulation backend",
		SilenceUsage: true,
		Version:      version.String(),
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to config file (YAML); defaults to $LURE_CONFIG or <dataDir>/lure.yaml")

	root.AddCommand(
		newServeCmd(opts),
		newMigrateCmd(opts),
		newCreateAdminCmd(opts),
		newVersionCmd(),
	)
	return root
}

// resolveConfigPath picks the explicit flag, then $LURE_CONFIG, then
// lure.yaml inside $LURE_DATA_DIR when it exists.
func (o *rootOptions) resolveConfigPath() string {
	if p := strings.TrimSpace(o.configPath); p != "" {
		return p
	}
	if p := strings.TrimSpace(os.Getenv("LURE_CONFIG")); p != "" {
		return p
	}
	dataDir := strings.TrimSpace(os.Getenv("LURE_DATA_DIR"))
	if dataDir == "" {
		dataDir = config.Defaults().DataDir
	}
	auto := filepath.Join(dataDir, "lure.yaml")
	if _, err := os.Stat(auto); err == nil {
		return auto
	}
	return ""
}

// load reads the configuration and reconfigures the global logger with it.
func (o *rootOptions) load() (config.AppConfig, *config.Loader, zerolog.Logger, error) {
	xglog.Configure(xglog.Config{Level: "info", Service: "lure", Version: version.Version})
	logger := xglog.WithComponent("cli")

	path := o.resolveConfigPath()
	loader := config.NewLoader(path, version.Version)
	cfg, err := loader.Load()
	if err != nil {
		logger.Error().Err(err).Str(xglog.FieldEvent, "config.load_failed").Str("config_path", path).Msg("failed to load configuration")
		return cfg, nil, logger, err
	}

	xglog.Configure(xglog.Config{Level: cfg.LogLevel, Service: cfg.LogService, Version: cfg.Version})
	logger = xglog.WithComponent("cli")
	if path != "" {
		logger.Info().Str(xglog.FieldEvent, "config.loaded").Str("source", "file").Str("path", path).Msg("loaded configuration from file")
	} else {
		logger.Info().Str(xglog.FieldEvent, "config.loaded").Str("source", "env+defaults").Msg("loaded configuration from environment and defaults")
	}
	return cfg, loader, logger, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Println("lure " + version.String())
		},
	}
}
