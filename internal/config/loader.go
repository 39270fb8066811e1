// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrUnknownConfigField classifies strict YAML parse failures caused by unknown keys.
var ErrUnknownConfigField = errors.New("unknown config field")

// Loader handles configuration loading with precedence
type Loader struct {
	configPath      string
	version         string
	ConsumedEnvKeys map[string]struct{}
}

// NewLoader creates a new configuration loader
func NewLoader(configPath, version string) *Loader {
	return &Loader{
		configPath:      configPath,
		version:         version,
		ConsumedEnvKeys: make(map[string]struct{}),
	}
}

func (l *Loader) envString(key, defaultVal string) string {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseString(key, defaultVal)
}

func (l *Loader) envList(key string, defaultVal []string) []string {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseList(key, defaultVal)
}

func (l *Loader) envBool(key string, defaultVal bool) bool {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseBool(key, defaultVal)
}

func (l *Loader) envInt(key string, defaultVal int) int {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseInt(key, defaultVal)
}

func (l *Loader) envInt64(key string, defaultVal int64) int64 {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseInt64(key, defaultVal)
}

func (l *Loader) envFloat(key string, defaultVal float64) float64 {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseFloat(key, defaultVal)
}

func (l *Loader) envDuration(key string, defaultVal time.Duration) time.Duration {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseDuration(key, defaultVal)
}

// Path returns the config file path (empty when running from ENV only).
func (l *Loader) Path() string { return l.configPath }

// Load loads configuration with precedence: ENV > File > Defaults
// It enforces Strict Validated Order: Parse File (Strict) -> Apply Env -> Validate
func (l *Loader) Load() (AppConfig, error) {
	cfg := Defaults()

	if l.configPath != "" {
		if err := l.loadFile(l.configPath, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	l.mergeEnvConfig(&cfg)
	resolvePaths(&cfg)
	cfg.Version = l.version

	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// loadFile decodes a YAML file on top of cfg with STRICT parsing.
// Unknown fields will cause a fatal error to prevent misconfiguration.
func (l *Loader) loadFile(path string, cfg *AppConfig) error {
	path = filepath.Clean(path)

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	// #nosec G304 -- configuration file paths are provided by the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(cfg); err != nil {
		if err == io.EOF {
			return nil
		}
		if strings.Contains(err.Error(), "field") && strings.Contains(err.Error(), "not found") {
			return fmt.Errorf("strict config parse error: %w: %w", ErrUnknownConfigField, err)
		}
		return fmt.Errorf("strict config parse error: %w", err)
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return fmt.Errorf("config file contains multiple documents or trailing content")
	}
	return nil
}

// mergeEnvConfig applies LURE_* environment overrides.
func (l *Loader) mergeEnvConfig(cfg *AppConfig) {
	cfg.DataDir = l.envString("LURE_DATA_DIR", cfg.DataDir)
	cfg.LogLevel = l.envString("LURE_LOG_LEVEL", cfg.LogLevel)
	cfg.LogService = l.envString("LURE_LOG_SERVICE", cfg.LogService)

	cfg.API.ListenAddr = l.envString("LURE_LISTEN_ADDR", cfg.API.ListenAddr)
	cfg.API.PublicBaseURL = l.envString("LURE_PUBLIC_BASE_URL", cfg.API.PublicBaseURL)
	cfg.API.AllowedOrigins = l.envList("LURE_ALLOWED_ORIGINS", cfg.API.AllowedOrigins)
	cfg.API.TrustedProxies = l.envList("LURE_TRUSTED_PROXIES", cfg.API.TrustedProxies)
	cfg.API.RateLimitEnabled = l.envBool("LURE_RATE_LIMIT_ENABLED", cfg.API.RateLimitEnabled)
	cfg.API.AnonRequestsPerHour = l.envInt("LURE_RATE_LIMIT_ANON", cfg.API.AnonRequestsPerHour)
	cfg.API.UserRequestsPerHour = l.envInt("LURE_RATE_LIMIT_USER", cfg.API.UserRequestsPerHour)
	cfg.API.TrackingPerMinute = l.envInt("LURE_RATE_LIMIT_TRACKING", cfg.API.TrackingPerMinute)
	cfg.API.MaxUploadBytes = l.envInt64("LURE_MAX_UPLOAD_BYTES", cfg.API.MaxUploadBytes)
	cfg.API.ShutdownTimeout = l.envDuration("LURE_SHUTDOWN_TIMEOUT", cfg.API.ShutdownTimeout)

	cfg.Database.Path = l.envString("LURE_DB_PATH", cfg.Database.Path)
	cfg.Database.BusyTimeout = l.envDuration("LURE_DB_BUSY_TIMEOUT", cfg.Database.BusyTimeout)
	cfg.Database.MaxOpenConns = l.envInt("LURE_DB_MAX_OPEN_CONNS", cfg.Database.MaxOpenConns)

	cfg.Auth.JWTSecret = l.envString("LURE_JWT_SECRET", cfg.Auth.JWTSecret)
	cfg.Auth.Issuer = l.envString("LURE_JWT_ISSUER", cfg.Auth.Issuer)
	cfg.Auth.AccessTTL = l.envDuration("LURE_ACCESS_TTL", cfg.Auth.AccessTTL)
	cfg.Auth.RefreshTTL = l.envDuration("LURE_REFRESH_TTL", cfg.Auth.RefreshTTL)
	cfg.Auth.DenylistBackend = l.envString("LURE_DENYLIST_BACKEND", cfg.Auth.DenylistBackend)
	cfg.Auth.DenylistPath = l.envString("LURE_DENYLIST_PATH", cfg.Auth.DenylistPath)

	cfg.Redis.Addr = l.envString("LURE_REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = l.envString("LURE_REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = l.envInt("LURE_REDIS_DB", cfg.Redis.DB)

	cfg.Cache.Backend = l.envString("LURE_CACHE_BACKEND", cfg.Cache.Backend)
	cfg.Cache.StatsTTL = l.envDuration("LURE_CACHE_STATS_TTL", cfg.Cache.StatsTTL)

	cfg.SMTP.Transport = l.envString("LURE_SMTP_TRANSPORT", cfg.SMTP.Transport)
	cfg.SMTP.Host = l.envString("LURE_SMTP_HOST", cfg.SMTP.Host)
	cfg.SMTP.Port = l.envInt("LURE_SMTP_PORT", cfg.SMTP.Port)
	cfg.SMTP.Username = l.envString("LURE_SMTP_USERNAME", cfg.SMTP.Username)
	cfg.SMTP.Password = l.envString("LURE_SMTP_PASSWORD", cfg.SMTP.Password)
	cfg.SMTP.From = l.envString("LURE_SMTP_FROM", cfg.SMTP.From)
	cfg.SMTP.UseTLS = l.envBool("LURE_SMTP_USE_TLS", cfg.SMTP.UseTLS)
	cfg.SMTP.UseSSL = l.envBool("LURE_SMTP_USE_SSL", cfg.SMTP.UseSSL)

	cfg.Mailer.SendRate = l.envFloat("LURE_MAILER_SEND_RATE", cfg.Mailer.SendRate)
	cfg.Mailer.BatchSize = l.envInt("LURE_MAILER_BATCH_SIZE", cfg.Mailer.BatchSize)
	cfg.Mailer.MaxRetries = l.envInt("LURE_MAILER_MAX_RETRIES", cfg.Mailer.MaxRetries)
	cfg.Mailer.RetryBackoff = l.envDuration("LURE_MAILER_RETRY_BACKOFF", cfg.Mailer.RetryBackoff)
	cfg.Mailer.BreakerThreshold = l.envInt("LURE_MAILER_BREAKER_THRESHOLD", cfg.Mailer.BreakerThreshold)
	cfg.Mailer.BreakerCooldown = l.envDuration("LURE_MAILER_BREAKER_COOLDOWN", cfg.Mailer.BreakerCooldown)

	cfg.Jobs.DispatchInterval = l.envDuration("LURE_JOBS_DISPATCH_INTERVAL", cfg.Jobs.DispatchInterval)
	cfg.Jobs.SendInterval = l.envDuration("LURE_JOBS_SEND_INTERVAL", cfg.Jobs.SendInterval)
	cfg.Jobs.LifecycleInterval = l.envDuration("LURE_JOBS_LIFECYCLE_INTERVAL", cfg.Jobs.LifecycleInterval)
	cfg.Jobs.ReportInterval = l.envDuration("LURE_JOBS_REPORT_INTERVAL", cfg.Jobs.ReportInterval)
	cfg.Jobs.BillingInterval = l.envDuration("LURE_JOBS_BILLING_INTERVAL", cfg.Jobs.BillingInterval)
	cfg.Jobs.DigestInterval = l.envDuration("LURE_JOBS_DIGEST_INTERVAL", cfg.Jobs.DigestInterval)

	cfg.Notify.Broker = l.envString("LURE_NOTIFY_BROKER", cfg.Notify.Broker)
	cfg.Notify.NATSURL = l.envString("LURE_NATS_URL", cfg.Notify.NATSURL)

	cfg.Reports.ExportDir = l.envString("LURE_REPORTS_DIR", cfg.Reports.ExportDir)
	cfg.Secrets.EncryptionKey = l.envString("LURE_ENCRYPTION_KEY", cfg.Secrets.EncryptionKey)

	cfg.Telemetry.Enabled = l.envBool("LURE_TELEMETRY_ENABLED", cfg.Telemetry.Enabled)
	cfg.Telemetry.Exporter = l.envString("LURE_TELEMETRY_EXPORTER", cfg.Telemetry.Exporter)
	cfg.Telemetry.Endpoint = l.envString("LURE_OTLP_ENDPOINT", cfg.Telemetry.Endpoint)
	cfg.Telemetry.SamplingRate = l.envFloat("LURE_TELEMETRY_SAMPLING_RATE", cfg.Telemetry.SamplingRate)
	cfg.Telemetry.Environment = l.envString("LURE_ENVIRONMENT", cfg.Telemetry.Environment)
}
