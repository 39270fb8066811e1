// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package health

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ManuGH/lure/internal/config"
	"github.com/ManuGH/lure/internal/log"
)

// PerformStartupChecks validates the environment before the server starts.
func PerformStartupChecks(_ context.Context, cfg config.AppConfig) error {
	logger := log.WithComponent("startup-check")
	logger.Info().Str(log.FieldEvent, "startup.checks.begin").Msg("running pre-flight startup checks")

	for _, dir := range []string{cfg.DataDir, cfg.Reports.ExportDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
		if err := checkWritableDir(dir); err != nil {
			return fmt.Errorf("data directory check failed: %w", err)
		}
	}
	logger.Info().Str("path", cfg.DataDir).Msg("data directory is writable")

	if err := checkTargetedValidations(logger, cfg); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	logger.Info().Str(log.FieldEvent, "startup.checks.passed").Msg("all startup checks passed")
	return nil
}

// checkTargetedValidations performs security and runtime-critical validations
func checkTargetedValidations(logger zerolog.Logger, cfg config.AppConfig) error {
	if cfg.API.ListenAddr != "" {
		_, port, err := net.SplitHostPort(cfg.API.ListenAddr)
		if err != nil {
			return fmt.Errorf("invalid API listen address %q: %w", cfg.API.ListenAddr, err)
		}
		portNum, err := strconv.Atoi(port)
		if err != nil || portNum < 0 || portNum > 65535 {
			return fmt.Errorf("invalid API listen port %q in %q", port, cfg.API.ListenAddr)
		}
	}

	u, err := url.Parse(cfg.API.PublicBaseURL)
	if err != nil {
		return fmt.Errorf("invalid public base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("public base URL scheme must be http or https, got: %q", u.Scheme)
	}
	if u.Scheme == "http" && !isLocalHost(u.Hostname()) {
		logger.Warn().Str("url", cfg.API.PublicBaseURL).
			Msg("tracking links use plain http; recipients' clients may flag them")
	}

	if cfg.SMTP.Transport == config.TransportSMTP {
		if cfg.SMTP.Host == "" {
			return errors.New("smtp transport requires smtp.host")
		}
		if cfg.SMTP.From == "" {
			return errors.New("smtp transport requires smtp.from")
		}
	} else {
		logger.Warn().Str("transport", cfg.SMTP.Transport).
			Msg("fallback mail transport only logs messages; organizations need their own SMTP configuration")
	}

	if cfg.Telemetry.Enabled && cfg.Telemetry.Endpoint == "" {
		logger.Warn().Msg("telemetry enabled without endpoint; exporter defaults apply")
	}

	tempDir := filepath.Clean(os.TempDir())
	dataDir := filepath.Clean(cfg.DataDir)
	if tempDir != "." && (dataDir == tempDir || strings.HasPrefix(dataDir, tempDir+string(filepath.Separator))) {
		logger.Warn().
			Str("data_dir", cfg.DataDir).
			Msg("data directory is under temp; the database may be lost on reboot")
	}
	return nil
}

func isLocalHost(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
