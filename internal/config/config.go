// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config provides configuration management for lure.
package config

import (
	"path/filepath"
	"time"
)

// Backend and transport identifiers accepted by the configuration.
const (
	BackendMemory = "memory"
	BackendBadger = "badger"
	BackendRedis  = "redis"
	BackendNATS   = "nats"
	BackendNone   = "none"

	TransportSMTP = "smtp"
	TransportLog  = "log"

	ExporterGRPC = "grpc"
	ExporterHTTP = "http"
)

// AppConfig is the fully resolved runtime configuration.
type AppConfig struct {
	Version    string `yaml:"-"`
	DataDir    string `yaml:"dataDir"`
	LogLevel   string `yaml:"logLevel"`
	LogService string `yaml:"logService"`

	API       APIConfig       `yaml:"api"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Redis     RedisConfig     `yaml:"redis"`
	Cache     CacheConfig     `yaml:"cache"`
	SMTP      SMTPConfig      `yaml:"smtp"`
	Mailer    MailerConfig    `yaml:"mailer"`
	Jobs      JobsConfig      `yaml:"jobs"`
	Notify    NotifyConfig    `yaml:"notify"`
	Reports   ReportsConfig   `yaml:"reports"`
	Secrets   SecretsConfig   `yaml:"secrets"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// APIConfig holds HTTP server settings.
type APIConfig struct {
	ListenAddr           string        `yaml:"listenAddr"`
	PublicBaseURL        string        `yaml:"publicBaseUrl"`
	AllowedOrigins       []string      `yaml:"allowedOrigins"`
	TrustedProxies       []string      `yaml:"trustedProxies"`
	RateLimitEnabled     bool          `yaml:"rateLimitEnabled"`
	AnonRequestsPerHour  int           `yaml:"anonRequestsPerHour"`
	UserRequestsPerHour  int           `yaml:"userRequestsPerHour"`
	TrackingPerMinute    int           `yaml:"trackingPerMinute"`
	MaxUploadBytes       int64         `yaml:"maxUploadBytes"`
	ReadTimeout          time.Duration `yaml:"readTimeout"`
	WriteTimeout         time.Duration `yaml:"writeTimeout"`
	IdleTimeout          time.Duration `yaml:"idleTimeout"`
	ShutdownTimeout      time.Duration `yaml:"shutdownTimeout"`
	EnableSecurityHeader bool          `yaml:"enableSecurityHeaders"`
}

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	Path         string        `yaml:"path"`
	BusyTimeout  time.Duration `yaml:"busyTimeout"`
	MaxOpenConns int           `yaml:"maxOpenConns"`
}

// AuthConfig holds JWT settings.
type AuthConfig struct {
	JWTSecret       string        `yaml:"jwtSecret"`
	Issuer          string        `yaml:"issuer"`
	AccessTTL       time.Duration `yaml:"accessTtl"`
	RefreshTTL      time.Duration `yaml:"refreshTtl"`
	DenylistBackend string        `yaml:"denylistBackend"`
	DenylistPath    string        `yaml:"denylistPath"`
}

// RedisConfig holds the shared redis connection.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// CacheConfig selects the statistics cache backend.
type CacheConfig struct {
	Backend  string        `yaml:"backend"`
	StatsTTL time.Duration `yaml:"statsTtl"`
}

// SMTPConfig is the global fallback mail transport.
type SMTPConfig struct {
	Transport string `yaml:"transport"`
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	From      string `yaml:"from"`
	UseTLS    bool   `yaml:"useTls"`
	UseSSL    bool   `yaml:"useSsl"`
}

// MailerConfig controls queue processing.
type MailerConfig struct {
	SendRate     float64       `yaml:"sendRate"`
	BatchSize    int           `yaml:"batchSize"`
	MaxRetries   int           `yaml:"maxRetries"`
	RetryBackoff time.Duration `yaml:"retryBackoff"`
	// BreakerThreshold consecutive send failures disable a relay for BreakerCooldown.
	BreakerThreshold int           `yaml:"breakerThreshold"`
	BreakerCooldown  time.Duration `yaml:"breakerCooldown"`
}

// JobsConfig holds background job intervals.
type JobsConfig struct {
	DispatchInterval  time.Duration `yaml:"dispatchInterval"`
	SendInterval      time.Duration `yaml:"sendInterval"`
	LifecycleInterval time.Duration `yaml:"lifecycleInterval"`
	ReportInterval    time.Duration `yaml:"reportInterval"`
	BillingInterval   time.Duration `yaml:"billingInterval"`
	DigestInterval    time.Duration `yaml:"digestInterval"`
}

// NotifyConfig selects the realtime notification broker.
type NotifyConfig struct {
	Broker  string `yaml:"broker"`
	NATSURL string `yaml:"natsUrl"`
}

// ReportsConfig holds report export settings.
type ReportsConfig struct {
	ExportDir string `yaml:"exportDir"`
}

// SecretsConfig holds the at-rest encryption key (base64, 32 bytes).
type SecretsConfig struct {
	EncryptionKey string `yaml:"encryptionKey"`
}

// TelemetryConfig mirrors telemetry.Config.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"samplingRate"`
	Environment  string  `yaml:"environment"`
}

// Defaults returns the built-in configuration. Paths below DataDir are
// resolved by the loader once the final DataDir is known.
func Defaults() AppConfig {
	return AppConfig{
		DataDir:    "./data",
		LogLevel:   "info",
		LogService: "lure",
		API: APIConfig{
			ListenAddr:           ":8080",
			PublicBaseURL:        "http://localhost:8080",
			RateLimitEnabled:     true,
			AnonRequestsPerHour:  100,
			UserRequestsPerHour:  1000,
			TrackingPerMinute:    60,
			MaxUploadBytes:       10 << 20,
			ReadTimeout:          30 * time.Second,
			WriteTimeout:         60 * time.Second,
			IdleTimeout:          120 * time.Second,
			ShutdownTimeout:      15 * time.Second,
			EnableSecurityHeader: true,
		},
		Database: DatabaseConfig{
			BusyTimeout:  5 * time.Second,
			MaxOpenConns: 8,
		},
		Auth: AuthConfig{
			Issuer:          "lure",
			AccessTTL:       30 * time.Minute,
			RefreshTTL:      7 * 24 * time.Hour,
			DenylistBackend: BackendBadger,
		},
		Cache: CacheConfig{
			Backend:  BackendMemory,
			StatsTTL: 30 * time.Second,
		},
		SMTP: SMTPConfig{
			Transport: TransportLog,
			Port:      587,
			UseTLS:    true,
		},
		Mailer: MailerConfig{
			SendRate:         5,
			BatchSize:        50,
			MaxRetries:       3,
			RetryBackoff:     5 * time.Minute,
			BreakerThreshold: 5,
			BreakerCooldown:  time.Minute,
		},
		Jobs: JobsConfig{
			DispatchInterval:  30 * time.Second,
			SendInterval:      15 * time.Second,
			LifecycleInterval: time.Minute,
			ReportInterval:    5 * time.Minute,
			BillingInterval:   time.Hour,
			DigestInterval:    15 * time.Minute,
		},
		Notify: NotifyConfig{
			Broker: BackendMemory,
		},
		Telemetry: TelemetryConfig{
			Exporter:     ExporterGRPC,
			SamplingRate: 1.0,
			Environment:  "development",
		},
	}
}

// resolvePaths fills path settings that default to locations below DataDir.
func resolvePaths(cfg *AppConfig) {
	if abs, err := filepath.Abs(cfg.DataDir); err == nil {
		cfg.DataDir = abs
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = filepath.Join(cfg.DataDir, "lure.db")
	}
	if cfg.Auth.DenylistPath == "" {
		cfg.Auth.DenylistPath = filepath.Join(cfg.DataDir, "denylist")
	}
	if cfg.Reports.ExportDir == "" {
		cfg.Reports.ExportDir = filepath.Join(cfg.DataDir, "reports")
	}
}

// UsesRedis reports whether any component is configured to talk to redis.
func (c AppConfig) UsesRedis() bool {
	return c.Auth.DenylistBackend == BackendRedis ||
		c.Cache.Backend == BackendRedis ||
		c.Notify.Broker == BackendRedis
}
