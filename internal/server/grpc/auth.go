package grpcserver

import (
	"context"
	"strings"

	"github.com/gofrs/uuid/v5"
	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors"
	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/auth"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// TokenParser resolves the account ID carried by a bearer token.
type TokenParser interface {
	Parse(tok string) (uuid.UUID, error)
}

// AuthFunc validates the bearer token and stores the account ID in context.
func AuthFunc(tokens TokenParser) auth.AuthFunc {
	return func(ctx context.Context) (context.Context, error) {
		raw, err := auth.AuthFromMD(ctx, "bearer")
		if err != nil {
			return nil, err
		}
		id, err := tokens.Parse(raw)
		if err != nil || id == uuid.Nil {
			return nil, status.Error(codes.Unauthenticated, "invalid token")
		}
		return WithAccountID(ctx, id), nil
	}
}

// authRequired reports whether the call must carry a token. Health and
// reflection are public.
func authRequired(_ context.Context, c interceptors.CallMeta) bool {
	m := c.FullMethod()
	return !strings.HasPrefix(m, "/grpc.health.v1.Health/") &&
		!strings.HasPrefix(m, "/grpc.reflection.")
}
