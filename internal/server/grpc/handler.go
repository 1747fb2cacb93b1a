package grpc

import (
	"context"
	"errors"
	"strings"

	"github.com/dmitrijs2005/authgate/internal/common"
	"github.com/dmitrijs2005/authgate/internal/server/models"
	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Introspect never fails for a bad token; it answers {"active": false}.
func (s *GRPCServer) Introspect(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	claims, err := s.tokens.Verify(req.GetValue())
	if err != nil {
		s.logger.Debug(ctx, "introspect: inactive token", "reason", err)
		return structpb.NewStruct(map[string]any{"active": false})
	}

	fields := map[string]any{
		"active":   true,
		"sub":      claims.UserID(),
		"email":    claims.Email,
		"username": claims.Username,
		"role":     claims.Role,
		"sid":      claims.SessionID,
	}
	if claims.ExpiresAt != nil {
		fields["exp"] = float64(claims.ExpiresAt.Unix())
	}
	return structpb.NewStruct(fields)
}

func (s *GRPCServer) RevokeUserSessions(ctx context.Context, req *wrapperspb.StringValue) (*emptypb.Empty, error) {
	claims, ok := claimsFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "unauthorized")
	}

	userID := strings.TrimSpace(req.GetValue())
	if userID == "" {
		return nil, status.Error(codes.InvalidArgument, "user id is required")
	}
	if _, err := uuid.Parse(userID); err != nil {
		return nil, status.Error(codes.InvalidArgument, "user id must be a UUID")
	}

	if _, err := s.admin.RequireAdmin(ctx, claims.UserID()); err != nil {
		switch {
		case errors.Is(err, common.ErrorForbidden):
			return nil, status.Error(codes.PermissionDenied, "admin role required")
		case errors.Is(err, common.ErrorUnauthorized):
			return nil, status.Error(codes.Unauthenticated, "unauthorized")
		default:
			return nil, status.Error(codes.Internal, "internal error")
		}
	}

	n, err := s.admin.RevokeAllSessions(ctx, userID, clientFromPeer(ctx))
	switch {
	case errors.Is(err, common.ErrorNotFound):
		return nil, status.Error(codes.InvalidArgument, "user id must be a UUID")
	case err != nil:
		return nil, status.Error(codes.Internal, "internal error")
	}

	s.logger.Info(ctx, "sessions revoked", "admin_id", claims.UserID(), "user_id", userID, "count", n)
	return &emptypb.Empty{}, nil
}

func clientFromPeer(ctx context.Context) models.ClientInfo {
	ci := models.ClientInfo{UserAgent: "grpc"}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		ci.IPAddress = p.Addr.String()
	}
	return ci
}
