// Package proto declares the authgate.v1.TokenService gRPC contract. Messages
// are protobuf well-known types, so no generated code is needed:
//
//	service TokenService {
//	  rpc Introspect(google.protobuf.StringValue) returns (google.protobuf.Struct);
//	  rpc RevokeUserSessions(google.protobuf.StringValue) returns (google.protobuf.Empty);
//	}
package proto

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	TokenServiceName = "authgate.v1.TokenService"

	TokenService_Introspect_FullMethodName         = "/" + TokenServiceName + "/Introspect"
	TokenService_RevokeUserSessions_FullMethodName = "/" + TokenServiceName + "/RevokeUserSessions"
)

// TokenServiceServer is implemented by the gateway.
type TokenServiceServer interface {
	// Introspect reports whether a token is active and, if so, its claims.
	Introspect(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	// RevokeUserSessions deletes every session of a user. Admin only.
	RevokeUserSessions(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
}

func RegisterTokenServiceServer(s grpc.ServiceRegistrar, srv TokenServiceServer) {
	s.RegisterService(&TokenService_ServiceDesc, srv)
}

func _TokenService_Introspect_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TokenServiceServer).Introspect(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: TokenService_Introspect_FullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(TokenServiceServer).Introspect(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func _TokenService_RevokeUserSessions_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TokenServiceServer).RevokeUserSessions(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: TokenService_RevokeUserSessions_FullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(TokenServiceServer).RevokeUserSessions(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

var TokenService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: TokenServiceName,
	HandlerType: (*TokenServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Introspect", Handler: _TokenService_Introspect_Handler},
		{MethodName: "RevokeUserSessions", Handler: _TokenService_RevokeUserSessions_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "authgate/v1/token.proto",
}

// TokenServiceClient is the client side of TokenService.
type TokenServiceClient interface {
	Introspect(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*structpb.Struct, error)
	RevokeUserSessions(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*emptypb.Empty, error)
}

type tokenServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewTokenServiceClient(cc grpc.ClientConnInterface) TokenServiceClient {
	return &tokenServiceClient{cc}
}

func (c *tokenServiceClient) Introspect(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, TokenService_Introspect_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *tokenServiceClient) RevokeUserSessions(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, TokenService_RevokeUserSessions_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
