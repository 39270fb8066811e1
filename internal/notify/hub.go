// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package notify

import (
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ManuGH/lure/internal/log"
	"github.com/ManuGH/lure/internal/metrics"
)

const (
	defaultPingInterval = 30 * time.Second
	writeWait           = 10 * time.Second
	maxReadBytes        = 4096
)

// Hub serves the notification websocket and forwards broker frames to it.
type Hub struct {
	broker   Broker
	upgrader websocket.Upgrader
	ping     time.Duration
	logger   zerolog.Logger

	mu     sync.Mutex
	conns  map[*websocket.Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

// NewHub returns a Hub. An empty origins list or "*" accepts any origin.
func NewHub(broker Broker, origins []string) *Hub {
	h := &Hub{
		broker: broker,
		ping:   defaultPingInterval,
		logger: log.WithComponent("notify.ws"),
		conns:  make(map[*websocket.Conn]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || len(origins) == 0 || slices.Contains(origins, "*") || slices.Contains(origins, origin)
		},
	}
	return h
}

// SetPingInterval overrides the keepalive interval.
func (h *Hub) SetPingInterval(d time.Duration) { h.ping = d }

// Connections returns the number of open websockets.
func (h *Hub) Connections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Serve upgrades the request and streams userID's frames until either side
// goes away.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, userID string) {
	sub, err := h.broker.Subscribe(r.Context(), userID)
	if err != nil {
		h.logger.Error().Err(err).Str(log.FieldEvent, "ws.subscribe_failed").Str(log.FieldUserID, userID).Msg("broker subscribe failed")
		http.Error(w, "notifications unavailable", http.StatusServiceUnavailable)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		_ = sub.Close()
		h.logger.Debug().Err(err).Str(log.FieldEvent, "ws.upgrade_failed").Msg("websocket upgrade failed")
		return
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = sub.Close()
		_ = conn.Close()
		return
	}
	h.conns[conn] = struct{}{}
	h.wg.Add(1)
	h.mu.Unlock()
	metrics.WebsocketOpened()
	h.logger.Debug().Str(log.FieldEvent, "ws.opened").Str(log.FieldUserID, userID).Msg("websocket opened")

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.readLoop(conn)
	}()
	h.writeLoop(conn, sub, done)

	_ = sub.Close()
	_ = conn.Close()
	<-done
	h.mu.Lock()
	delete(h.conns, conn)
	h.mu.Unlock()
	metrics.WebsocketClosed()
	h.wg.Done()
	h.logger.Debug().Str(log.FieldEvent, "ws.closed").Str(log.FieldUserID, userID).Msg("websocket closed")
}

// readLoop discards client messages and keeps the read deadline fresh on
// pongs. It returns when the connection fails.
func (h *Hub) readLoop(conn *websocket.Conn) {
	conn.SetReadLimit(maxReadBytes)
	deadline := func() time.Time { return time.Now().Add(2 * h.ping) }
	_ = conn.SetReadDeadline(deadline())
	conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(deadline()) })
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(conn *websocket.Conn, sub Subscription, done <-chan struct{}) {
	ticker := time.NewTicker(h.ping)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case frame, ok := <-sub.C():
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(writeWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// Close disconnects every websocket and waits for their handlers to return.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	for c := range h.conns {
		_ = c.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(time.Second))
		_ = c.Close()
	}
	h.mu.Unlock()
	h.wg.Wait()
}
