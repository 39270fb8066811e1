// SPDX-License-Identifier: MIT

// Package daemon wires lure's components together and owns the process
// lifecycle: the API server, background jobs and configuration reload.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ManuGH/lure/internal/api"
	"github.com/ManuGH/lure/internal/audit"
	"github.com/ManuGH/lure/internal/auth"
	"github.com/ManuGH/lure/internal/billing"
	"github.com/ManuGH/lure/internal/cache"
	"github.com/ManuGH/lure/internal/campaign"
	"github.com/ManuGH/lure/internal/config"
	"github.com/ManuGH/lure/internal/health"
	"github.com/ManuGH/lure/internal/importer"
	"github.com/ManuGH/lure/internal/jobs"
	"github.com/ManuGH/lure/internal/log"
	"github.com/ManuGH/lure/internal/mailer"
	"github.com/ManuGH/lure/internal/notify"
	"github.com/ManuGH/lure/internal/persistence/sqlite"
	"github.com/ManuGH/lure/internal/ratelimit"
	"github.com/ManuGH/lure/internal/reports"
	"github.com/ManuGH/lure/internal/secret"
	"github.com/ManuGH/lure/internal/store"
	"github.com/ManuGH/lure/internal/telemetry"
	"github.com/ManuGH/lure/internal/tracking"
)

const trackingKeyInfo = "lure/tracking-token"

// Runtime holds every long-lived component of a serving process.
type Runtime struct {
	Config    config.AppConfig
	Store     *store.Store
	Redis     *redis.Client
	Cache     cache.Cache
	Denylist  auth.Denylist
	Broker    notify.Broker
	Hub       *notify.Hub
	Mailer    *mailer.Queue
	API       *api.Server
	Health    *health.Manager
	Jobs      *jobs.Runner
	Audit     *audit.Logger
	Telemetry *telemetry.Provider

	logger  zerolog.Logger
	closers []namedHook
}

func (rt *Runtime) onClose(name string, fn func(ctx context.Context) error) {
	rt.closers = append(rt.closers, namedHook{name: name, hook: fn})
}

// Close releases resources in reverse acquisition order.
func (rt *Runtime) Close(ctx context.Context) error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		c := rt.closers[i]
		if err := c.hook(ctx); err != nil {
			rt.logger.Warn().Err(err).Str("resource", c.name).Msg("close failed")
			errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}

// OpenStore opens and migrates the configured database.
func OpenStore(ctx context.Context, cfg config.AppConfig) (*store.Store, error) {
	return store.Open(ctx, cfg.Database.Path, sqlite.Config{
		BusyTimeout:  cfg.Database.BusyTimeout,
		MaxOpenConns: cfg.Database.MaxOpenConns,
	})
}

// Build constructs the runtime for cfg. On error everything opened so far
// is closed again.
func Build(ctx context.Context, cfg config.AppConfig) (_ *Runtime, err error) {
	rt := &Runtime{Config: cfg, logger: log.WithComponent("daemon")}
	defer func() {
		if err != nil {
			_ = rt.Close(context.WithoutCancel(ctx))
		}
	}()

	if err := ratelimit.TrustProxies(cfg.API.TrustedProxies); err != nil {
		return nil, fmt.Errorf("trusted proxies: %w", err)
	}

	if rt.Telemetry, err = telemetry.NewProvider(ctx, telemetry.FromConfig(cfg)); err != nil {
		rt.logger.Warn().Err(err).Str(log.FieldEvent, "telemetry.init_failed").Msg("telemetry initialization failed, continuing without tracing")
		rt.Telemetry = nil
	} else {
		rt.onClose("telemetry", rt.Telemetry.Shutdown)
	}

	if rt.Store, err = OpenStore(ctx, cfg); err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	rt.onClose("store", func(context.Context) error { return rt.Store.Close() })

	if cfg.UsesRedis() {
		rt.Redis = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		rt.onClose("redis", func(context.Context) error { return rt.Redis.Close() })
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		perr := rt.Redis.Ping(pingCtx).Err()
		cancel()
		if perr != nil {
			return nil, fmt.Errorf("redis %s: %w", cfg.Redis.Addr, perr)
		}
	}

	jwtSecret, err := auth.LoadOrCreateSecret(cfg.Auth.JWTSecret, cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("jwt secret: %w", err)
	}
	tokens := auth.NewTokens(jwtSecret, cfg.Auth.Issuer, cfg.Auth.AccessTTL, cfg.Auth.RefreshTTL)
	box, err := secret.FromConfig(cfg.Secrets.EncryptionKey, jwtSecret)
	if err != nil {
		return nil, fmt.Errorf("secret box: %w", err)
	}
	trackingKey, err := secret.Derive(jwtSecret, trackingKeyInfo, 32)
	if err != nil {
		return nil, err
	}

	if rt.Denylist, err = auth.NewDenylist(cfg.Auth, rt.Redis); err != nil {
		return nil, fmt.Errorf("token denylist: %w", err)
	}
	rt.onClose("denylist", func(context.Context) error { return rt.Denylist.Close() })

	rt.Cache = newCache(rt, cfg)

	if rt.Broker, err = newBroker(cfg, rt.Redis); err != nil {
		return nil, fmt.Errorf("notification broker: %w", err)
	}
	rt.onClose("broker", func(context.Context) error { return rt.Broker.Close() })
	rt.Hub = notify.NewHub(rt.Broker, cfg.API.AllowedOrigins)
	rt.onClose("hub", func(context.Context) error { rt.Hub.Close(); return nil })

	fallback := mailer.NewFromConfig(cfg.SMTP)
	notifySvc := notify.NewService(rt.Store, rt.Broker, fallback, cfg.API.PublicBaseURL)
	alerts := notify.NewAlerts(rt.Store, notifySvc)
	billingSvc := billing.NewService(rt.Store, alerts)
	campaigns := campaign.NewService(rt.Store, alerts)
	trackingSvc := tracking.NewService(rt.Store, tracking.NewSigner(trackingKey), cfg.API.PublicBaseURL, alerts)
	rt.Mailer = mailer.NewQueue(rt.Store, trackingSvc, box, fallback, mailer.OptionsFromConfig(cfg.Mailer)).
		WithQuota(billingSvc).
		WithFailureObserver(alerts)
	reportSvc := reports.NewService(rt.Store, rt.Cache, cfg.Cache.StatsTTL)
	generator := reports.NewGenerator(rt.Store, reportSvc, fallback, notifySvc, cfg.Reports.ExportDir)
	rt.Audit = audit.NewLogger()

	rt.Health = health.NewManager(cfg.Version)
	rt.Health.RegisterChecker(health.NewDatabaseChecker(rt.Store.DB()))
	rt.Health.RegisterChecker(health.NewDirChecker("data_dir", cfg.DataDir))
	if rt.Redis != nil {
		rt.Health.RegisterChecker(health.NewRedisChecker(rt.Redis))
	}

	rt.Jobs = jobs.NewRunner(rt.Store, jobs.Standard(cfg.Jobs, jobs.Services{
		Store:     rt.Store,
		Mailer:    rt.Mailer,
		Campaigns: campaigns,
		Reports:   reportSvc,
		Generator: generator,
		Billing:   billingSvc,
		Notify:    notifySvc,
	})...)
	rt.Health.RegisterChecker(health.NewJobsChecker(rt.Store.JobRuns, rt.Jobs.Intervals()))

	rt.API, err = api.New(api.Deps{
		Config:    cfg,
		Store:     rt.Store,
		Tokens:    tokens,
		Denylist:  rt.Denylist,
		Campaigns: campaigns,
		Tracking:  trackingSvc,
		Importer:  importer.New(rt.Store, billingSvc),
		Billing:   billingSvc,
		Mailer:    rt.Mailer,
		Box:       box,
		Reports:   reportSvc,
		Generator: generator,
		Notify:    notifySvc,
		Hub:       rt.Hub,
		Health:    rt.Health,
		Audit:     rt.Audit,
	})
	if err != nil {
		return nil, fmt.Errorf("api: %w", err)
	}

	rt.logger.Info().
		Str(log.FieldEvent, "runtime.built").
		Str("database", cfg.Database.Path).
		Str("cache", cfg.Cache.Backend).
		Str("denylist", cfg.Auth.DenylistBackend).
		Str("broker", cfg.Notify.Broker).
		Str("smtp_transport", cfg.SMTP.Transport).
		Int("jobs", len(rt.Jobs.Jobs())).
		Msg("runtime ready")
	return rt, nil
}

func newCache(rt *Runtime, cfg config.AppConfig) cache.Cache {
	switch cfg.Cache.Backend {
	case config.BackendRedis:
		return cache.NewRedisCache(rt.Redis)
	case config.BackendNone:
		return nil
	default:
		mc := cache.NewMemoryCache(time.Minute)
		rt.onClose("cache", func(context.Context) error { mc.Stop(); return nil })
		return mc
	}
}

func newBroker(cfg config.AppConfig, rdb *redis.Client) (notify.Broker, error) {
	switch cfg.Notify.Broker {
	case config.BackendRedis:
		if rdb == nil {
			return nil, errors.New("redis broker needs redis.addr")
		}
		return notify.NewRedisBroker(rdb), nil
	case config.BackendNATS:
		return notify.ConnectNATS(cfg.Notify.NATSURL)
	case config.BackendMemory, "":
		return notify.NewMemoryBroker(), nil
	default:
		return nil, fmt.Errorf("unknown broker %q", cfg.Notify.Broker)
	}
}
