// Package server wires the whole hub together: the websocket listener for
// endpoint agents, the HTTP control plane, the transfer manager with its
// retention sweeper, the heartbeat loop, and the optional metrics server.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/marmos91/filepull/internal/logger"
	"github.com/marmos91/filepull/pkg/api"
	"github.com/marmos91/filepull/pkg/config"
	"github.com/marmos91/filepull/pkg/hub"
	"github.com/marmos91/filepull/pkg/metrics"
	prommetrics "github.com/marmos91/filepull/pkg/metrics/prometheus"
	"github.com/marmos91/filepull/pkg/tracker"
	"github.com/marmos91/filepull/pkg/transfer"
)

// Server owns every long-running component of the process.
type Server struct {
	cfg     *config.Config
	version string

	manager *transfer.Manager
	hub     *hub.Hub

	apiServer     *api.Server
	wsServer      *http.Server
	metricsServer *http.Server
}

// New builds a Server from loaded configuration. Nothing listens until
// Serve is called.
func New(cfg *config.Config, version string) (*Server, error) {
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
	}

	manager, err := transfer.New(cfg.ManagerConfig(), tracker.NewRealClock(), prommetrics.NewTransferMetrics())
	if err != nil {
		return nil, fmt.Errorf("create transfer manager: %w", err)
	}

	h := hub.New(cfg.HubServerConfig(), manager, prommetrics.NewHubMetrics())
	manager.SetNotifier(h)

	s := &Server{
		cfg:     cfg,
		version: version,
		manager: manager,
		hub:     h,
		wsServer: &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Hub.Port),
			Handler: h,
			// No read/write timeouts: websocket connections are long-lived.
		},
	}

	if cfg.API.IsEnabled() {
		s.apiServer = api.NewServer(cfg.API, h, manager, version)
	}

	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		s.metricsServer = &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Metrics.Port),
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
	}

	return s, nil
}

// Hub exposes the websocket side, mainly for tests.
func (s *Server) Hub() *hub.Hub {
	return s.hub
}

// Manager exposes the transfer manager, mainly for tests.
func (s *Server) Manager() *transfer.Manager {
	return s.manager
}

// Serve starts every component and blocks until the context is cancelled
// or a listener fails. On cancellation it performs a graceful shutdown:
// stop accepting connections, fail in-flight transfers, close endpoint
// sockets, then stop the HTTP servers.
func (s *Server) Serve(ctx context.Context) error {
	errChan := make(chan error, 3)

	go func() {
		logger.Info("websocket server listening", "port", s.cfg.Hub.Port)
		if err := s.wsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("websocket server failed: %w", err)
		}
	}()

	if s.apiServer != nil {
		go func() {
			if err := s.apiServer.Start(ctx); err != nil {
				errChan <- err
			}
		}()
	} else {
		logger.Info("API server disabled")
	}

	if s.metricsServer != nil {
		go func() {
			logger.Info("metrics server listening", "port", s.cfg.Metrics.Port)
			if err := s.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errChan <- fmt.Errorf("metrics server failed: %w", err)
			}
		}()
	} else {
		logger.Info("metrics collection disabled")
	}

	go s.hub.RunHeartbeat(ctx)
	go s.manager.RunSweeper(ctx)

	select {
	case <-ctx.Done():
		return s.shutdown()
	case err := <-errChan:
		_ = s.shutdown()
		return err
	}
}

// shutdown tears components down in dependency order.
func (s *Server) shutdown() error {
	logger.Info("shutdown initiated", "timeout", s.cfg.ShutdownTimeout.String())
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	// Stop accepting new websocket connections first, then fail what is
	// in flight so API clients polling a transfer see a terminal status.
	if err := s.wsServer.Shutdown(ctx); err != nil {
		logger.Warn("websocket server shutdown error", logger.KeyError, err.Error())
	}
	s.manager.FailForShutdown()
	s.hub.Shutdown()

	var firstErr error
	if s.apiServer != nil {
		if err := s.apiServer.Stop(ctx); err != nil {
			firstErr = err
		}
	}
	if s.metricsServer != nil {
		if err := s.metricsServer.Shutdown(ctx); err != nil {
			logger.Warn("metrics server shutdown error", logger.KeyError, err.Error())
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	logger.Info("shutdown complete")
	return firstErr
}
