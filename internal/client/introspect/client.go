// Package introspect is a gRPC client for the authgate TokenService, used by
// authctl and by backend services that need to check a token.
package introspect

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/authgate/internal/common"
	pb "github.com/dmitrijs2005/authgate/internal/proto"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrUnavailable  = errors.New("service unavailable")
	ErrTokenExpired = errors.New("access token expired")
)

const callTimeout = 10 * time.Second

// TokenInfo is the decoded Introspect response.
type TokenInfo struct {
	Active    bool
	UserID    string
	Email     string
	Username  string
	Role      string
	SessionID string
	ExpiresAt time.Time
}

type Client struct {
	endpointURL string
	accessToken string
	conn        *grpc.ClientConn
	client      pb.TokenServiceClient
}

func withAccessToken(ctx context.Context, token string) context.Context {
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	if md == nil {
		md = metadata.MD{}
	}
	md.Set(common.AccessTokenHeaderName, token)

	return metadata.NewOutgoingContext(ctx, md)
}

func (c *Client) accessTokenInterceptor(
	ctx context.Context,
	method string,
	req, reply any,
	cc *grpc.ClientConn,
	invoker grpc.UnaryInvoker,
	opts ...grpc.CallOption,
) error {
	if c.accessToken != "" {
		ctx = withAccessToken(ctx, c.accessToken)
	}
	return invoker(ctx, method, req, reply, cc, opts...)
}

// New dials endpointURL without TLS. accessToken may be empty when only
// Introspect is used.
func New(endpointURL, accessToken string) (*Client, error) {
	c := &Client{endpointURL: endpointURL, accessToken: accessToken}

	conn, err := grpc.NewClient(c.endpointURL,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(c.accessTokenInterceptor))
	if err != nil {
		return nil, err
	}
	c.conn = conn
	c.client = pb.NewTokenServiceClient(conn)
	return c, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) Introspect(ctx context.Context, token string) (*TokenInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	res, err := c.client.Introspect(ctx, wrapperspb.String(token))
	if err != nil {
		return nil, mapError(err)
	}

	m := res.AsMap()
	info := &TokenInfo{}
	info.Active, _ = m["active"].(bool)
	if !info.Active {
		return info, nil
	}
	info.UserID, _ = m["sub"].(string)
	info.Email, _ = m["email"].(string)
	info.Username, _ = m["username"].(string)
	info.Role, _ = m["role"].(string)
	info.SessionID, _ = m["sid"].(string)
	if exp, ok := m["exp"].(float64); ok {
		info.ExpiresAt = time.Unix(int64(exp), 0).UTC()
	}
	return info, nil
}

// RevokeUserSessions needs an admin access token.
func (c *Client) RevokeUserSessions(ctx context.Context, userID string) error {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	if _, err := c.client.RevokeUserSessions(ctx, wrapperspb.String(userID)); err != nil {
		return mapError(err)
	}
	return nil
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	st, _ := status.FromError(err)
	switch st.Code() {
	case codes.Unauthenticated:
		if st.Message() == common.ErrTokenExpired.Error() {
			return ErrTokenExpired
		}
		return ErrUnauthorized
	case codes.PermissionDenied:
		return ErrForbidden
	case codes.Unavailable, codes.DeadlineExceeded:
		return ErrUnavailable
	default:
		return fmt.Errorf("rpc error: %w", err)
	}
}
