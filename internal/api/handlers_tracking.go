// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/lure/internal/log"
	"github.com/ManuGH/lure/internal/ratelimit"
	"github.com/ManuGH/lure/internal/store"
	"github.com/ManuGH/lure/internal/tracking"
)

// pixelGIF is a transparent 1x1 GIF.
var pixelGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00, 0x00, 0x00, 0x00, 0x00,
	0xff, 0xff, 0xff, 0x21, 0xf9, 0x04, 0x01, 0x00, 0x00, 0x00, 0x00, 0x2c, 0x00, 0x00, 0x00, 0x00,
	0x01, 0x00, 0x01, 0x00, 0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3b,
}

const maxFormBody = 64 << 10

func trackingClient(r *http.Request) tracking.Client {
	return tracking.Client{IP: ratelimit.ClientIP(r), UserAgent: r.UserAgent()}
}

func noCache(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
}

func (s *Server) trackingFailed(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, tracking.ErrBadToken) || errors.Is(err, tracking.ErrNotTracked) || errors.Is(err, store.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	logger := log.WithComponentFromContext(r.Context(), "tracking")
	logger.Error().Err(err).Str(log.FieldEvent, "tracking.failed").Str("path", r.URL.Path).Msg("tracking request failed")
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}

// renderPage writes p. Untracked events still show the recipient their page.
func (s *Server) renderPage(w http.ResponseWriter, r *http.Request, p tracking.Page, err error) {
	if errors.Is(err, tracking.ErrNotTracked) && !p.Empty() {
		err = nil
	}
	if err != nil {
		s.trackingFailed(w, r, err)
		return
	}
	noCache(w)
	if p.Redirect != "" {
		http.Redirect(w, r, p.Redirect, http.StatusFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Security-Policy", landingCSP)
	w.Header().Set("X-Robots-Tag", "noindex, nofollow")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(p.HTML))
}

// GET /t/o/{token}
func (s *Server) handleTrackOpen(w http.ResponseWriter, r *http.Request) {
	err := s.tracking.Open(r.Context(), chi.URLParam(r, "token"), trackingClient(r))
	if err != nil && !errors.Is(err, tracking.ErrNotTracked) {
		s.trackingFailed(w, r, err)
		return
	}
	noCache(w)
	w.Header().Set("Content-Type", "image/gif")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pixelGIF)
}

// GET /t/c/{token}
func (s *Server) handleTrackClick(w http.ResponseWriter, r *http.Request) {
	p, err := s.tracking.Click(r.Context(), chi.URLParam(r, "token"), trackingClient(r))
	s.renderPage(w, r, p, err)
}

// POST /t/s/{token}
func (s *Server) handleTrackSubmit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBody)
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	p, err := s.tracking.Submit(r.Context(), chi.URLParam(r, "token"), trackingClient(r), r.PostForm)
	s.renderPage(w, r, p, err)
}

// GET|POST /t/r/{token}
func (s *Server) handleTrackReport(w http.ResponseWriter, r *http.Request) {
	p, err := s.tracking.Report(r.Context(), chi.URLParam(r, "token"), trackingClient(r))
	s.renderPage(w, r, p, err)
}
