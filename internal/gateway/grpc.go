// ABOUTME: gRPC server construction for the realtime Board service
// ABOUTME: Streams are admitted by the auth interceptor; the standard health service is exempt

package gateway

import (
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"

	"github.com/2389/taskboard-gateway/internal/auth"
	"github.com/2389/taskboard-gateway/internal/realtime"
)

// boardServiceName is the health-check name of the Board service.
const boardServiceName = "taskboard.v1.Board"

// newGRPCServer creates a gRPC server that authenticates every stream and
// registers the Board and health services.
func newGRPCServer(resolver *auth.Resolver, rt *realtime.Server, logger *slog.Logger) (*grpc.Server, *health.Server) {
	server := grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    15 * time.Second,
			Timeout: 5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.ChainStreamInterceptor(auth.StreamInterceptor(resolver, logger)),
	)

	realtime.RegisterBoard(server, rt)

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(boardServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, healthServer)

	logger.Info("gRPC stream auth enabled", "service", boardServiceName)
	return server, healthServer
}
