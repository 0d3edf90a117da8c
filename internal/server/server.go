// Package server hosts the operational endpoints: a gRPC listener
// with the standard health service and reflection, and an HTTP
// listener for Prometheus metrics and the liveness/readiness probes.
package server

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"CurveLedger/internal/observability"
)

type Server struct {
	grpcAddr    string
	metricsAddr string
	log         zerolog.Logger

	grpcServer   *grpc.Server
	healthServer *health.Server
	httpServer   *http.Server
}

func New(grpcAddr, metricsAddr string, checker *observability.HealthChecker, log zerolog.Logger) *Server {
	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", checker.LivenessHandler)
	mux.HandleFunc("/readyz", checker.ReadinessHandler)

	return &Server{
		grpcAddr:     grpcAddr,
		metricsAddr:  metricsAddr,
		log:          log,
		grpcServer:   grpcServer,
		healthServer: healthServer,
		httpServer:   &http.Server{Addr: metricsAddr, Handler: mux},
	}
}

// Start brings up both listeners. Errors after startup are logged;
// startup errors on the gRPC listener are returned.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return err
	}

	go func() {
		s.log.Info().Str("addr", s.metricsAddr).Msg("metrics listener started")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error().Err(err).Msg("metrics listener failed")
		}
	}()

	go func() {
		s.log.Info().Str("addr", s.grpcAddr).Msg("grpc listener started")
		if err := s.grpcServer.Serve(lis); err != nil {
			s.log.Error().Err(err).Msg("grpc listener failed")
		}
	}()

	s.healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	return nil
}

// Shutdown drains both listeners.
func (s *Server) Shutdown(ctx context.Context) {
	s.healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

	done := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.grpcServer.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.log.Warn().Err(err).Msg("metrics listener shutdown")
	}
}
