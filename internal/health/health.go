// Package health expõe o protocolo padrão de health check do gRPC
// (grpc.health.v1) para o processor.
package health

import (
	"context"
	"errors"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceProcessor é o nome consultado pelos health checks do processor.
const ServiceProcessor = "bookingq.processor"

type Server struct {
	grpc   *grpc.Server
	health *health.Server
	logger *slog.Logger
}

// New cria o servidor já com o serviço "" e ServiceProcessor em NOT_SERVING.
func New(logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		grpc:   grpc.NewServer(),
		health: health.NewServer(),
		logger: logger,
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.SetServing(false)
	return s
}

// SetServing marca o processor (e o servidor como um todo) como saudável ou não.
func (s *Server) SetServing(ok bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceProcessor, status)
}

// Serve atende em lis até o ctx encerrar; então marca tudo como NOT_SERVING e
// para o servidor de forma graciosa.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	errc := make(chan error, 1)
	go func() { errc <- s.grpc.Serve(lis) }()
	s.logger.Info("health server listening", "addr", lis.Addr().String())

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		s.health.Shutdown()
		s.grpc.GracefulStop()
		if err := <-errc; err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return err
		}
		return nil
	}
}
