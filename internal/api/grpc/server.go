// Package grpcapi exposes the service's gRPC surface: the standard health
// service, with the session controller's serving status following its state.
package grpcapi

import (
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"live-transcript-service/internal/observability"
	"live-transcript-service/internal/observability/metrics"
	"live-transcript-service/internal/service/session"
)

// ServiceName is the health service name reporting the controller state.
const ServiceName = "live.transcript.SessionController"

// ProgressSource is the part of the controller the health reporter watches.
type ProgressSource interface {
	OnProgress(fn func(session.Progress)) (unsubscribe func())
}

// NewServer creates a gRPC server with the metrics and logging interceptors.
func NewServer(m *metrics.Metrics) *grpc.Server {
	return grpc.NewServer(
		grpc.UnaryInterceptor(observability.UnaryServerInterceptor(m)),
		grpc.StreamInterceptor(observability.StreamServerInterceptor(m)),
	)
}

// Register installs health and reflection on g. The overall status is
// SERVING; ServiceName turns NOT_SERVING while the controller is in Error.
// The returned function stops tracking the controller.
func Register(g *grpc.Server, src ProgressSource) (*health.Server, func()) {
	hs := health.NewServer()
	grpc_health_v1.RegisterHealthServer(g, hs)
	reflection.Register(g)

	hs.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

	stop := src.OnProgress(func(p session.Progress) {
		hs.SetServingStatus(ServiceName, servingStatus(p.State))
	})
	return hs, stop
}

func servingStatus(s session.State) grpc_health_v1.HealthCheckResponse_ServingStatus {
	if s == session.StateError {
		return grpc_health_v1.HealthCheckResponse_NOT_SERVING
	}
	return grpc_health_v1.HealthCheckResponse_SERVING
}
