// Package server coordinates the long-running pieces of the arena process:
// each piece implements Service, and Lifecycle runs them as one unit with a
// signal-driven, reverse-order shutdown.
package server

import (
	"context"
	"fmt"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Service is a long-running component. Start blocks until the service exits;
// Stop asks it to exit and waits for a clean stop.
type Service interface {
	Start() error
	Stop()
}

// FuncService adapts a start/stop function pair into a Service.
type FuncService struct {
	StartFn func() error
	StopFn  func()
}

func (f *FuncService) Start() error { return f.StartFn() }

func (f *FuncService) Stop() { f.StopFn() }

type entry struct {
	name string
	svc  Service
}

// Lifecycle runs a set of named services together. Registration order is
// start order; shutdown unwinds in reverse so dependents stop before the
// services they rely on.
type Lifecycle struct {
	logger  *zap.Logger
	mu      sync.Mutex
	entries []entry
}

// NewLifecycle creates an empty Lifecycle.
//
// Precondition: logger must be non-nil.
func NewLifecycle(logger *zap.Logger) *Lifecycle {
	return &Lifecycle{logger: logger}
}

// Add registers a named service. Services added after Run begins are not
// started.
func (l *Lifecycle) Add(name string, svc Service) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry{name: name, svc: svc})
}

// Run starts every registered service and blocks until SIGINT or SIGTERM, a
// service failure, or ctx cancellation, then stops the services in reverse
// order. Returns the failure that triggered shutdown, if any.
func (l *Lifecycle) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	l.mu.Lock()
	entries := make([]entry, len(l.entries))
	copy(entries, l.entries)
	l.mu.Unlock()

	launched := time.Now()
	failures := make(chan error, len(entries))
	for _, e := range entries {
		e := e
		go func() {
			l.logger.Info("service starting", zap.String("name", e.name))
			if err := e.svc.Start(); err != nil {
				failures <- fmt.Errorf("%s: %w", e.name, err)
			}
		}()
	}
	l.logger.Info("services launched", zap.Int("services", len(entries)))

	var runErr error
	select {
	case <-ctx.Done():
		l.logger.Info("shutdown requested")
	case runErr = <-failures:
		l.logger.Error("service exited", zap.Error(runErr))
	}

	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		began := time.Now()
		e.svc.Stop()
		l.logger.Info("service stopped",
			zap.String("name", e.name),
			zap.Duration("took", time.Since(began)),
		)
	}
	l.logger.Info("process down", zap.Duration("uptime", time.Since(launched)))
	return runErr
}
