// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ManuGH/lure/internal/config"
	"github.com/ManuGH/lure/internal/daemon"
	"github.com/ManuGH/lure/internal/health"
	xglog "github.com/ManuGH/lure/internal/log"
	"github.com/ManuGH/lure/internal/version"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the API server and background jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, opts)
		},
	}
}

func serve(ctx context.Context, opts *rootOptions) error {
	cfg, loader, logger, err := opts.load()
	if err != nil {
		return err
	}

	if err := health.PerformStartupChecks(ctx, cfg); err != nil {
		logger.Error().Err(err).Str(xglog.FieldEvent, "startup.check_failed").Msg("startup checks failed, verify configuration and permissions")
		return err
	}

	logger.Info().
		Str(xglog.FieldEvent, "startup").
		Str("version", version.Version).
		Str("commit", version.Commit).
		Str("build_date", version.Date).
		Str("addr", cfg.API.ListenAddr).
		Str("data_dir", cfg.DataDir).
		Msg("starting lure")
	if cfg.Auth.JWTSecret == "" {
		logger.Warn().Str("security", "generated").Msg("auth.jwtSecret not set, using a generated secret from the data dir")
	}

	rt, err := daemon.Build(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Str(xglog.FieldEvent, "runtime.build_failed").Msg("failed to build runtime")
		return err
	}

	mgr, err := daemon.NewManager(daemon.Deps{
		Logger:     xglog.WithComponent("daemon"),
		Server:     cfg.API,
		APIHandler: rt.API.Handler(),
	})
	if err != nil {
		_ = rt.Close(context.WithoutCancel(ctx))
		return fmt.Errorf("create daemon manager: %w", err)
	}
	mgr.RegisterShutdownHook("runtime", rt.Close)

	holder := config.NewConfigHolder(cfg, loader)
	app := daemon.NewApp(logger, mgr, holder, rt)
	if err := app.Run(ctx); err != nil {
		logger.Error().Err(err).Str(xglog.FieldEvent, "manager.failed").Msg("daemon app failed")
		return err
	}

	logger.Info().Msg("server exiting")
	return nil
}
