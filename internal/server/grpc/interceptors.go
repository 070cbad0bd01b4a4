package grpcserver

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/auth"
	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/recovery"
	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/selector"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// LoggingUnary returns a unary server interceptor for structured logging.
func LoggingUnary(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := next(ctx, req)
		code := status.Code(err)

		var remote string
		if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
			remote = p.Addr.String()
		}

		// metadata only, secrets travel in payloads
		log.Info("grpc",
			zap.String("method", info.FullMethod),
			zap.String("code", code.String()),
			zap.Duration("dur", time.Since(start)),
			zap.String("peer", remote),
		)
		return resp, err
	}
}

// RecoveryHandler logs a recovered panic and hides it behind codes.Internal.
func RecoveryHandler(log *zap.Logger) recovery.RecoveryHandlerFuncContext {
	return func(_ context.Context, p any) error {
		log.Error("panic",
			zap.Any("reason", p),
			zap.ByteString("stack", debug.Stack()),
		)
		return status.Error(codes.Internal, "internal")
	}
}

// NewGRPCServer builds a grpc.Server with recovery, logging and bearer auth.
// The SessionLock service is not registered.
func NewGRPCServer(log *zap.Logger, tokens TokenParser, opts ...grpc.ServerOption) *grpc.Server {
	chain := grpc.ChainUnaryInterceptor(
		recovery.UnaryServerInterceptor(recovery.WithRecoveryHandlerContext(RecoveryHandler(log))),
		LoggingUnary(log),
		selector.UnaryServerInterceptor(
			auth.UnaryServerInterceptor(AuthFunc(tokens)),
			selector.MatchFunc(authRequired),
		),
	)
	return grpc.NewServer(append([]grpc.ServerOption{chain}, opts...)...)
}
