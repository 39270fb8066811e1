// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/lure/internal/config"
	"github.com/ManuGH/lure/internal/log"
	"github.com/ManuGH/lure/internal/ratelimit"
)

// App owns the long-lived runtime lifecycle (watchers, reload wiring, jobs)
// and delegates server management to Manager.
type App struct {
	logger       zerolog.Logger
	manager      Manager
	cfgHolder    *config.ConfigHolder
	runtime      *Runtime
	reloadSignal os.Signal
}

// NewApp creates a new App orchestrator. holder and rt may be nil.
func NewApp(logger zerolog.Logger, manager Manager, holder *config.ConfigHolder, rt *Runtime) *App {
	return &App{
		logger:       logger,
		manager:      manager,
		cfgHolder:    holder,
		runtime:      rt,
		reloadSignal: syscall.SIGHUP,
	}
}

// Run starts all owned background subsystems and blocks until ctx is
// cancelled or a fatal error occurs.
func (a *App) Run(ctx context.Context) error {
	if a.manager == nil {
		return ErrMissingManager
	}

	g, ctx := errgroup.WithContext(ctx)

	// Config watcher is best-effort: startup should not fail if watcher cannot be started.
	if a.cfgHolder != nil {
		if err := a.cfgHolder.StartWatcher(ctx); err != nil {
			a.logger.Warn().Err(err).Str(log.FieldEvent, "config.watcher_start_failed").Msg("failed to start config watcher")
		}

		applyCh := make(chan config.AppConfig, 1)
		a.cfgHolder.RegisterListener(applyCh)
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case cfg := <-applyCh:
					a.apply(cfg)
				}
			}
		})
	}

	if a.cfgHolder != nil && a.reloadSignal != nil {
		g.Go(func() error {
			hupChan := make(chan os.Signal, 1)
			signal.Notify(hupChan, a.reloadSignal)
			defer signal.Stop(hupChan)

			for {
				select {
				case <-ctx.Done():
					return nil
				case <-hupChan:
					a.logger.Info().
						Str(log.FieldEvent, "config.reload_signal").
						Str("signal", a.reloadSignal.String()).
						Msg("received reload signal, reloading config")
					if err := a.cfgHolder.Reload(ctx); err != nil {
						a.logger.Warn().Err(err).Str(log.FieldEvent, "config.reload_failed").Msg("config reload failed")
						if a.runtime != nil && a.runtime.Audit != nil {
							a.runtime.Audit.ConfigReload("signal", "failure", map[string]string{"error": err.Error()})
						}
					}
				}
			}
		})
	}

	if a.runtime != nil && a.runtime.Jobs != nil {
		g.Go(func() error { return a.runtime.Jobs.Run(ctx) })
	}

	// Main server lifecycle.
	g.Go(func() error {
		err := a.manager.Start(ctx)
		if err != nil {
			_ = a.manager.Shutdown(context.WithoutCancel(ctx))
		}
		return err
	})

	return g.Wait()
}

// apply pushes the hot-reloadable settings of cfg into the running components.
func (a *App) apply(cfg config.AppConfig) {
	details := map[string]string{"log_level": cfg.LogLevel}
	result := "success"

	if cfg.LogLevel != "" {
		if err := log.SetLevel(cfg.LogLevel); err != nil {
			a.logger.Warn().Err(err).Str("level", cfg.LogLevel).Msg("ignoring invalid log level")
			result = "partial"
		}
	}
	if err := ratelimit.TrustProxies(cfg.API.TrustedProxies); err != nil {
		a.logger.Warn().Err(err).Msg("ignoring invalid trusted proxies")
		result = "partial"
	}
	if rt := a.runtime; rt != nil {
		if rt.Mailer != nil {
			rt.Mailer.SetSendRate(cfg.Mailer.SendRate)
			details["send_rate"] = strconv.FormatFloat(cfg.Mailer.SendRate, 'f', -1, 64)
		}
		if rt.API != nil {
			rt.API.SetRateLimits(cfg.API)
			details["anon_per_hour"] = strconv.Itoa(cfg.API.AnonRequestsPerHour)
			details["user_per_hour"] = strconv.Itoa(cfg.API.UserRequestsPerHour)
		}
		if rt.Audit != nil {
			rt.Audit.ConfigReload("system", result, details)
		}
	}
	a.logger.Info().Str(log.FieldEvent, "config.applied").Str("result", result).Msg("applied reloaded configuration")
}
