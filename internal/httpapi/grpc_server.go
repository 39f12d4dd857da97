package httpapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"mediboard.org/internal/obs"
)

const serviceName = "mediboard-api"

// healthServer serves the standard grpc.health.v1 protocol backed by the same
// readiness probe as /readyz.
type healthServer struct {
	grpc_health_v1.UnimplementedHealthServer

	readiness readinessChecker
}

func (s *healthServer) Check(ctx context.Context, _ *grpc_health_v1.HealthCheckRequest) (*grpc_health_v1.HealthCheckResponse, error) {
	if err := s.readiness.Check(ctx); err != nil {
		obs.SetReady(false)
		return &grpc_health_v1.HealthCheckResponse{
			Status: grpc_health_v1.HealthCheckResponse_NOT_SERVING,
		}, nil
	}
	obs.SetReady(true)
	return &grpc_health_v1.HealthCheckResponse{
		Status: grpc_health_v1.HealthCheckResponse_SERVING,
	}, nil
}

func (s *healthServer) Watch(_ *grpc_health_v1.HealthCheckRequest, _ grpc.ServerStreamingServer[grpc_health_v1.HealthCheckResponse]) error {
	return status.Error(codes.Unimplemented, "watch is not supported")
}

// NewGRPCServer builds a gRPC server exposing health checks for orchestration
// probes that speak gRPC instead of HTTP.
func NewGRPCServer(r readinessChecker) *grpc.Server {
	srv := grpc.NewServer()
	grpc_health_v1.RegisterHealthServer(srv, &healthServer{readiness: r})
	return srv
}
