// Package service hosts the long-lived HTTP endpoints of watch mode: a
// health check and a Prometheus metrics listener.
package service

import (
	"context"
	"errors"
	"net"
	"net/http"

	"go.uber.org/zap"

	"github.com/gjest/gjest/metrics"
)

const (
	HealthzHost = "0.0.0.0"
	HealthzPort = "8080"
)

// Config wires the service endpoints. A running service always answers
// health checks; HealthzAddr overrides the default listen address. Metrics
// stays off without an address.
type Config struct {
	HealthzAddr string
	MetricsAddr string
	Log         *zap.SugaredLogger
}

type Service struct {
	cfg     Config
	log     *zap.SugaredLogger
	Healthz *HealthzServer
	Metrics *MetricsServer
}

func New(cfg Config) *Service {
	if cfg.Log == nil {
		cfg.Log = zap.NewNop().Sugar()
	}
	return &Service{
		cfg:     cfg,
		log:     cfg.Log,
		Healthz: &HealthzServer{log: cfg.Log},
		Metrics: &MetricsServer{},
	}
}

func (s *Service) Start(ctx context.Context) {
	s.log.Infow("Service starting")

	addr := s.healthzAddr()
	s.log.Infow("Starting healthz server", "addr", addr)
	go func() {
		if err := s.Healthz.Start(ctx, addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Errorw("Error starting healthz server", "error", err)
			metrics.RecordErrorDetails("error starting healthz server", err)
		}
	}()

	if s.cfg.MetricsAddr != "" {
		addr := s.cfg.MetricsAddr
		s.log.Infow("Starting metrics server", "addr", addr)
		go func() {
			if err := s.Metrics.Start(ctx, addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.log.Errorw("Error starting metrics server", "error", err)
				metrics.RecordErrorDetails("error starting metrics server", err)
			}
		}()
	}

	s.log.Infow("Service started")
}

func (s *Service) Shutdown() {
	s.log.Infow("Service shutting down")

	_ = s.Healthz.Shutdown()
	s.log.Infow("Healthz stopped")

	if s.cfg.MetricsAddr != "" {
		_ = s.Metrics.Shutdown()
		s.log.Infow("Metrics stopped")
	}

	s.log.Infow("Service stopped")
}

func (s *Service) healthzAddr() string {
	if s.cfg.HealthzAddr != "" {
		return s.cfg.HealthzAddr
	}
	return net.JoinHostPort(HealthzHost, HealthzPort)
}
