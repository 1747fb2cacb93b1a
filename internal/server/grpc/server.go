// Package grpc exposes token introspection and admin session revocation to
// other backend services.
package grpc

import (
	"context"
	"net"

	"github.com/dmitrijs2005/authgate/internal/logging"
	pb "github.com/dmitrijs2005/authgate/internal/proto"
	"github.com/dmitrijs2005/authgate/internal/server/auth"
	"github.com/dmitrijs2005/authgate/internal/server/models"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// AdminService is the part of services.AuthService used by admin RPCs.
type AdminService interface {
	RequireAdmin(ctx context.Context, userID string) (*models.User, error)
	RevokeAllSessions(ctx context.Context, userID string, client models.ClientInfo) (int64, error)
}

type GRPCServer struct {
	address string
	tokens  *auth.TokenService
	admin   AdminService
	logger  logging.Logger
	health  *health.Server
}

func NewGRPCServer(a string, l logging.Logger, tokens *auth.TokenService, admin AdminService) *GRPCServer {
	return &GRPCServer{
		address: a,
		logger:  l.With("module", "grpc_server"),
		tokens:  tokens,
		admin:   admin,
		health:  health.NewServer(),
	}
}

// newServer builds a grpc.Server with the token service and the standard
// health service registered.
func (s *GRPCServer) newServer() *grpc.Server {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(s.accessTokenInterceptor))
	pb.RegisterTokenServiceServer(srv, s)
	healthpb.RegisterHealthServer(srv, s.health)
	s.health.SetServingStatus(pb.TokenServiceName, healthpb.HealthCheckResponse_SERVING)
	return srv
}

func (s *GRPCServer) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listen)
}

// Serve accepts connections on lis until ctx is cancelled.
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	srv := s.newServer()

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		s.health.Shutdown()
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", lis.Addr().String())

	return srv.Serve(lis)
}
