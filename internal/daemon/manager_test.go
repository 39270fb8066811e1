// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/goleak"

	"github.com/ManuGH/lure/internal/config"
	"github.com/ManuGH/lure/internal/log"
)

func testServerConfig(addr string) config.APIConfig {
	return config.APIConfig{
		ListenAddr:      addr,
		ReadTimeout:     time.Second,
		WriteTimeout:    time.Second,
		IdleTimeout:     10 * time.Second,
		ShutdownTimeout: 2 * time.Second,
	}
}

func waitForAddr(m *manager, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if addr := m.Addr(); addr != "" {
			return addr, nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	return "", errors.New("listen timeout")
}

func TestNewManager_ValidDeps(t *testing.T) {
	mgr, err := NewManager(Deps{
		Logger:     log.WithComponent("test"),
		Server:     testServerConfig("127.0.0.1:0"),
		APIHandler: http.NotFoundHandler(),
	})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	if mgr == nil {
		t.Fatal("NewManager() returned nil manager")
	}
}

func TestNewManager_MissingLogger(t *testing.T) {
	_, err := NewManager(Deps{Logger: zerolog.Nop(), APIHandler: http.NotFoundHandler()})
	if !errors.Is(err, ErrMissingLogger) {
		t.Errorf("NewManager() error = %v, want ErrMissingLogger", err)
	}
}

func TestNewManager_MissingAPIHandler(t *testing.T) {
	_, err := NewManager(Deps{Logger: log.WithComponent("test")})
	if !errors.Is(err, ErrMissingAPIHandler) {
		t.Errorf("NewManager() error = %v, want ErrMissingAPIHandler", err)
	}
}

func TestManager_StartStop_OK(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("OK"))
	})
	mgr, err := NewManager(Deps{
		Logger:     log.WithComponent("test"),
		Server:     testServerConfig("127.0.0.1:0"),
		APIHandler: handler,
	})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errChan := make(chan error, 1)
	go func() { errChan <- mgr.Start(ctx) }()

	addr, err := waitForAddr(mgr.(*manager), 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	resp, err := client.Get("http://" + addr + "/")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if string(body) != "OK" {
		t.Errorf("body = %q, want OK", body)
	}

	cancel()
	select {
	case err := <-errChan:
		if err != nil {
			t.Errorf("Start() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start() did not return after context cancellation")
	}
}

func TestManager_ShutdownHooksRunInReverse(t *testing.T) {
	mgr, err := NewManager(Deps{
		Logger:     log.WithComponent("test"),
		Server:     testServerConfig("127.0.0.1:0"),
		APIHandler: http.NotFoundHandler(),
	})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	var mu sync.Mutex
	var order []string
	record := func(name string, err error) ShutdownHook {
		return func(context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return err
		}
	}
	mgr.RegisterShutdownHook("store", record("store", nil))
	mgr.RegisterShutdownHook("broker", record("broker", errors.New("drain failed")))
	mgr.RegisterShutdownHook("jobs", record("jobs", nil))

	ctx, cancel := context.WithCancel(context.Background())
	errChan := make(chan error, 1)
	go func() { errChan <- mgr.Start(ctx) }()
	if _, err := waitForAddr(mgr.(*manager), 2*time.Second); err != nil {
		t.Fatal(err)
	}
	cancel()

	err = <-errChan
	if err == nil || !strings.Contains(err.Error(), "hook broker") {
		t.Errorf("Start() error = %v, want hook broker failure", err)
	}
	if got := strings.Join(order, ","); got != "jobs,broker,store" {
		t.Errorf("hook order = %s, want jobs,broker,store", got)
	}

	// second shutdown is a no-op
	if err := mgr.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown() error = %v", err)
	}
}

func TestManager_Shutdown_NotStarted(t *testing.T) {
	mgr, err := NewManager(Deps{
		Logger:     log.WithComponent("test"),
		Server:     testServerConfig("127.0.0.1:0"),
		APIHandler: http.NotFoundHandler(),
	})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	if err := mgr.Shutdown(context.Background()); !errors.Is(err, ErrManagerNotStarted) {
		t.Errorf("Shutdown() error = %v, want ErrManagerNotStarted", err)
	}
}

func TestManager_StartTwice(t *testing.T) {
	mgr, err := NewManager(Deps{
		Logger:     log.WithComponent("test"),
		Server:     testServerConfig("127.0.0.1:0"),
		APIHandler: http.NotFoundHandler(),
	})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	errChan := make(chan error, 1)
	go func() { errChan <- mgr.Start(ctx) }()
	if _, err := waitForAddr(mgr.(*manager), 2*time.Second); err != nil {
		t.Fatal(err)
	}
	if err := mgr.Start(ctx); err == nil {
		t.Error("second Start() expected error")
	}
	cancel()
	<-errChan
}

func TestManager_PropagatesListenErrors(t *testing.T) {
	testServer := httptest.NewServer(http.NotFoundHandler())
	defer testServer.Close()

	mgr, err := NewManager(Deps{
		Logger:     log.WithComponent("test"),
		Server:     testServerConfig(testServer.Listener.Addr().String()),
		APIHandler: http.NotFoundHandler(),
	})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err = mgr.Start(ctx)
	var opErr *net.OpError
	if !errors.As(err, &opErr) {
		t.Errorf("Start() error = %v, want bind error", err)
	}
}

func TestNewManager_MissingListenAddr(t *testing.T) {
	_, err := NewManager(Deps{Logger: log.WithComponent("test"), APIHandler: http.NotFoundHandler()})
	if !errors.Is(err, ErrMissingListenAddr) {
		t.Errorf("NewManager() error = %v, want ErrMissingListenAddr", err)
	}
}
