// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"encoding/base64"
	"net"
	"strings"
	"time"

	"github.com/ManuGH/lure/internal/validate"
	"github.com/rs/zerolog"
)

// Validate validates an AppConfig using the centralized validation package
func Validate(cfg AppConfig) error {
	v := validate.New()

	v.NotEmpty("dataDir", cfg.DataDir)
	if cfg.LogLevel != "" {
		if _, err := zerolog.ParseLevel(cfg.LogLevel); err != nil {
			v.AddError("logLevel", "invalid log level", cfg.LogLevel)
		}
	}

	v.NotEmpty("api.listenAddr", cfg.API.ListenAddr)
	v.URL("api.publicBaseUrl", cfg.API.PublicBaseURL, []string{"http", "https"})
	if cfg.API.RateLimitEnabled {
		v.Positive("api.anonRequestsPerHour", cfg.API.AnonRequestsPerHour)
		v.Positive("api.userRequestsPerHour", cfg.API.UserRequestsPerHour)
		v.Positive("api.trackingPerMinute", cfg.API.TrackingPerMinute)
	}
	if cfg.API.MaxUploadBytes <= 0 {
		v.AddError("api.maxUploadBytes", "value must be positive", cfg.API.MaxUploadBytes)
	}
	for _, entry := range cfg.API.TrustedProxies {
		entry = strings.TrimSpace(entry)
		if net.ParseIP(entry) != nil {
			continue
		}
		if _, _, err := net.ParseCIDR(entry); err != nil {
			v.AddError("api.trustedProxies", "entries must be IPs or CIDRs", entry)
		}
	}

	v.NotEmpty("database.path", cfg.Database.Path)
	v.Positive("database.maxOpenConns", cfg.Database.MaxOpenConns)

	v.NotEmpty("auth.issuer", cfg.Auth.Issuer)
	if cfg.Auth.AccessTTL <= 0 {
		v.AddError("auth.accessTtl", "value must be positive", cfg.Auth.AccessTTL)
	}
	if cfg.Auth.RefreshTTL <= cfg.Auth.AccessTTL {
		v.AddError("auth.refreshTtl", "must be longer than auth.accessTtl", cfg.Auth.RefreshTTL)
	}
	if cfg.Auth.JWTSecret != "" && len(cfg.Auth.JWTSecret) < 32 {
		v.AddError("auth.jwtSecret", "must be at least 32 characters", nil)
	}
	v.OneOf("auth.denylistBackend", cfg.Auth.DenylistBackend, []string{BackendMemory, BackendBadger, BackendRedis})
	v.OneOf("cache.backend", cfg.Cache.Backend, []string{BackendMemory, BackendRedis, BackendNone})
	v.OneOf("notify.broker", cfg.Notify.Broker, []string{BackendMemory, BackendRedis, BackendNATS})
	if cfg.UsesRedis() {
		v.NotEmpty("redis.addr", cfg.Redis.Addr)
	}
	if cfg.Notify.Broker == BackendNATS {
		v.URL("notify.natsUrl", cfg.Notify.NATSURL, []string{"nats", "tls", "ws", "wss"})
	}

	v.OneOf("smtp.transport", cfg.SMTP.Transport, []string{TransportSMTP, TransportLog})
	if cfg.SMTP.Transport == TransportSMTP {
		v.NotEmpty("smtp.host", cfg.SMTP.Host)
		v.Port("smtp.port", cfg.SMTP.Port)
		v.Email("smtp.from", cfg.SMTP.From)
		if cfg.SMTP.UseTLS && cfg.SMTP.UseSSL {
			v.AddError("smtp.useSsl", "useTls and useSsl are mutually exclusive", true)
		}
	}

	if cfg.Mailer.SendRate <= 0 {
		v.AddError("mailer.sendRate", "value must be positive", cfg.Mailer.SendRate)
	}
	v.Range("mailer.batchSize", cfg.Mailer.BatchSize, 1, 1000)
	v.Range("mailer.maxRetries", cfg.Mailer.MaxRetries, 0, 10)

	for _, iv := range []struct {
		field string
		value time.Duration
	}{
		{"jobs.dispatchInterval", cfg.Jobs.DispatchInterval},
		{"jobs.sendInterval", cfg.Jobs.SendInterval},
		{"jobs.lifecycleInterval", cfg.Jobs.LifecycleInterval},
		{"jobs.reportInterval", cfg.Jobs.ReportInterval},
		{"jobs.billingInterval", cfg.Jobs.BillingInterval},
		{"jobs.digestInterval", cfg.Jobs.DigestInterval},
	} {
		if iv.value <= 0 {
			v.AddError(iv.field, "value must be positive", iv.value)
		}
	}

	if cfg.Secrets.EncryptionKey != "" {
		key, err := base64.StdEncoding.DecodeString(cfg.Secrets.EncryptionKey)
		if err != nil || len(key) != 32 {
			v.AddError("secrets.encryptionKey", "must be 32 bytes, base64 encoded", nil)
		}
	}

	if cfg.Telemetry.Enabled {
		v.OneOf("telemetry.exporter", cfg.Telemetry.Exporter, []string{ExporterGRPC, ExporterHTTP})
		v.NotEmpty("telemetry.endpoint", cfg.Telemetry.Endpoint)
		v.FloatRange("telemetry.samplingRate", cfg.Telemetry.SamplingRate, 0, 1)
	}

	return v.Err()
}
