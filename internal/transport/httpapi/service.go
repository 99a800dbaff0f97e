package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// shutdownTimeout bounds the graceful drain on Stop.
const shutdownTimeout = 10 * time.Second

// Service runs an http.Server under the application lifecycle.
type Service struct {
	server *http.Server
	logger *zap.Logger
}

// NewService wraps handler in a Service listening on addr.
func NewService(addr string, handler http.Handler, logger *zap.Logger) *Service {
	return &Service{
		server: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Start listens and serves. It blocks until Stop is called or the
// listener fails.
func (s *Service) Start() error {
	s.logger.Info("http server listening", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop drains in-flight requests and closes the listener.
func (s *Service) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Warn("http shutdown", zap.Error(err))
	}
}
