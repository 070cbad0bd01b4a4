// Package client is a typed caller for the SessionLock gRPC service.
package client

import (
	"context"

	u "github.com/gofrs/uuid/v5"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/and161185/pinlock/internal/convert"
	"github.com/and161185/pinlock/internal/gate"
	"github.com/and161185/pinlock/internal/model"
	grpcserver "github.com/and161185/pinlock/internal/server/grpc"
	"github.com/and161185/pinlock/internal/session"
)

// Client calls SessionLock on behalf of the account named by its bearer token.
type Client struct {
	cc    grpc.ClientConnInterface
	token string
}

// New wraps cc. An empty token sends no authorization header.
func New(cc grpc.ClientConnInterface, token string) *Client {
	return &Client{cc: cc, token: token}
}

func (c *Client) invoke(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	if c.token != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+c.token)
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, grpcserver.FullMethod(method), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Enroll sets the secret and preferences and returns the enrolled account ID.
func (c *Client) Enroll(ctx context.Context, secret string, p model.Preferences) (u.UUID, error) {
	out, err := c.invoke(ctx, grpcserver.MethodEnroll, convert.ToProtoEnroll(secret, p))
	if err != nil {
		return u.Nil, err
	}
	return u.FromString(out.GetFields()[convert.FieldAccountID].GetStringValue())
}

// Configure replaces the preferences and returns the stored values.
func (c *Client) Configure(ctx context.Context, p model.Preferences) (model.Preferences, error) {
	out, err := c.invoke(ctx, grpcserver.MethodConfigure, convert.ToProtoPreferences(p))
	if err != nil {
		return model.Preferences{}, err
	}
	return convert.FromProtoPreferences(out)
}

// OpenSession starts a session.
func (c *Client) OpenSession(ctx context.Context) (session.Snapshot, error) {
	return c.session(ctx, grpcserver.MethodOpenSession, &structpb.Struct{})
}

// CloseSession ends a session.
func (c *Client) CloseSession(ctx context.Context, id u.UUID) error {
	_, err := c.invoke(ctx, grpcserver.MethodCloseSession, convert.ToProtoSessionRef(id))
	return err
}

// Lock locks a session.
func (c *Client) Lock(ctx context.Context, id u.UUID) (session.Snapshot, error) {
	return c.session(ctx, grpcserver.MethodLock, convert.ToProtoSessionRef(id))
}

// Touch records activity on a session.
func (c *Client) Touch(ctx context.Context, id u.UUID) (session.Snapshot, error) {
	return c.session(ctx, grpcserver.MethodTouch, convert.ToProtoSessionRef(id))
}

// SessionStatus fetches a session.
func (c *Client) SessionStatus(ctx context.Context, id u.UUID) (session.Snapshot, error) {
	return c.session(ctx, grpcserver.MethodSessionStatus, convert.ToProtoSessionRef(id))
}

// Authorize submits one attempt. a.AccountID is ignored; the server uses the token's account.
func (c *Client) Authorize(ctx context.Context, a gate.Attempt) (model.Decision, error) {
	out, err := c.invoke(ctx, grpcserver.MethodAuthorize, convert.ToProtoAttempt(a))
	if err != nil {
		return model.Deny(model.ReasonServiceUnavailable), err
	}
	return convert.FromProtoDecision(out)
}

// ListEvents returns up to limit newest events. limit <= 0 means the server maximum.
func (c *Client) ListEvents(ctx context.Context, limit int) ([]model.SecurityEvent, error) {
	out, err := c.invoke(ctx, grpcserver.MethodListEvents, convert.ToProtoLimit(limit))
	if err != nil {
		return nil, err
	}
	return convert.FromProtoEvents(out)
}

func (c *Client) session(ctx context.Context, method string, in *structpb.Struct) (session.Snapshot, error) {
	out, err := c.invoke(ctx, method, in)
	if err != nil {
		return session.Snapshot{}, err
	}
	return convert.FromProtoSession(out)
}
