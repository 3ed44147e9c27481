// Package observability provides gRPC interceptors and the metrics HTTP server.
package observability

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"live-transcript-service/internal/observability/metrics"
)

// UnaryServerInterceptor records every unary call. Health checks are logged
// at debug with the service they asked about; load balancers poll often.
func UnaryServerInterceptor(m *metrics.Metrics) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		code := status.Code(err).String()
		m.RecordGRPC(info.FullMethod, code)
		callEvent(ctx, log.Debug(), info.FullMethod, code, start).
			Str("service", healthService(req)).
			Msg("gRPC call")
		return resp, err
	}
}

// StreamServerInterceptor records every stream. For health Watch streams it
// logs how many status updates reached the watcher.
func StreamServerInterceptor(m *metrics.Metrics) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		ws := &watchStream{ServerStream: ss}
		log.Debug().Str("method", info.FullMethod).Str("peer", peerAddr(ss.Context())).Msg("gRPC stream opened")

		err := handler(srv, ws)

		code := status.Code(err).String()
		m.RecordGRPC(info.FullMethod, code)
		callEvent(ss.Context(), log.Info(), info.FullMethod, code, start).
			Str("service", ws.service).
			Int("updates", ws.sent).
			Msg("gRPC stream closed")
		return err
	}
}

func callEvent(ctx context.Context, e *zerolog.Event, method, code string, start time.Time) *zerolog.Event {
	return e.
		Str("method", method).
		Str("code", code).
		Str("peer", peerAddr(ctx)).
		Dur("duration", time.Since(start))
}

// watchStream remembers the requested health service and counts the
// responses sent on the stream.
type watchStream struct {
	grpc.ServerStream
	service string
	sent    int
}

func (s *watchStream) RecvMsg(msg any) error {
	err := s.ServerStream.RecvMsg(msg)
	if err == nil {
		s.service = healthService(msg)
	}
	return err
}

func (s *watchStream) SendMsg(msg any) error {
	err := s.ServerStream.SendMsg(msg)
	if err == nil {
		s.sent++
	}
	return err
}

func healthService(req any) string {
	if r, ok := req.(*grpc_health_v1.HealthCheckRequest); ok {
		if r.GetService() == "" {
			return "(server)"
		}
		return r.GetService()
	}
	return ""
}

func peerAddr(ctx context.Context) string {
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return p.Addr.String()
	}
	return ""
}
