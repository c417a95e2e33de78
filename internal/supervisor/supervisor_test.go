// Zapfeed - Personalized Feed Recommendation Backend
// Copyright 2026 Zapfeed Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/zapsocial/zapfeed

package supervisor

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// mockServer simulates *http.Server lifecycle behavior.
type mockServer struct {
	mu        sync.Mutex
	running   chan struct{}
	stop      chan struct{}
	startErr  error
	shutdowns int
}

func newMockServer() *mockServer {
	return &mockServer{
		running: make(chan struct{}),
		stop:    make(chan struct{}),
	}
}

func (m *mockServer) ListenAndServe() error {
	if m.startErr != nil {
		return m.startErr
	}
	close(m.running)
	<-m.stop
	return http.ErrServerClosed
}

func (m *mockServer) Shutdown(context.Context) error {
	m.mu.Lock()
	m.shutdowns++
	m.mu.Unlock()
	close(m.stop)
	return nil
}

func TestHTTPServiceGracefulShutdown(t *testing.T) {
	server := newMockServer()
	svc := NewHTTPServerService(server, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	select {
	case <-server.running:
	case <-time.After(time.Second):
		t.Fatal("server never started")
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("service did not stop")
	}

	server.mu.Lock()
	defer server.mu.Unlock()
	if server.shutdowns != 1 {
		t.Errorf("shutdown calls = %d, want 1", server.shutdowns)
	}
}

func TestHTTPServiceStartFailure(t *testing.T) {
	server := newMockServer()
	server.startErr = errors.New("address in use")
	svc := NewHTTPServerService(server, time.Second)

	err := svc.Serve(context.Background())
	if err == nil || !errors.Is(errors.Unwrap(err), server.startErr) {
		t.Errorf("Serve() = %v, want wrapped start error", err)
	}
}

// sleeper is a trivial supervised service for tree lifecycle tests.
type sleeper struct {
	started chan struct{}
	once    sync.Once
}

func (s *sleeper) String() string { return "sleeper" }

func (s *sleeper) Serve(ctx context.Context) error {
	s.once.Do(func() { close(s.started) })
	<-ctx.Done()
	return ctx.Err()
}

func TestTreeRunsAndStops(t *testing.T) {
	tree := NewTree(zerolog.Nop(), DefaultTreeConfig())
	svc := &sleeper{started: make(chan struct{})}
	tree.Add(svc)

	ctx, cancel := context.WithCancel(context.Background())
	done := tree.ServeBackground(ctx)

	select {
	case <-svc.started:
	case <-time.After(time.Second):
		t.Fatal("service never started")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("tree stopped with %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("tree did not stop")
	}
}
