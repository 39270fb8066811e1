// SPDX-License-Identifier: MIT

package daemon

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/ManuGH/lure/internal/config"
)

var (
	ErrMissingLogger     = errors.New("daemon: logger is required")
	ErrMissingAPIHandler = errors.New("daemon: api handler is required")
	ErrMissingListenAddr = errors.New("daemon: listen address is required")
	ErrMissingManager    = errors.New("daemon: manager is required")

	// ErrManagerNotStarted is returned by Shutdown before Start.
	ErrManagerNotStarted = errors.New("daemon: manager not started")
)

// Deps is what the Manager needs to serve the API listener.
type Deps struct {
	Logger zerolog.Logger

	// Server carries the listen address and the http.Server timeouts.
	Server config.APIConfig

	APIHandler http.Handler
}

// Validate reports the first missing dependency.
func (d *Deps) Validate() error {
	switch {
	case d.Logger.GetLevel() == zerolog.Disabled:
		return ErrMissingLogger
	case d.APIHandler == nil:
		return ErrMissingAPIHandler
	case d.Server.ListenAddr == "":
		return ErrMissingListenAddr
	}
	return nil
}
