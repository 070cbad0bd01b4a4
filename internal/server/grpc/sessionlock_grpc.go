package grpcserver

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "pinlock.v1.SessionLock"

// Method names of the SessionLock service.
const (
	MethodEnroll        = "Enroll"
	MethodConfigure     = "Configure"
	MethodOpenSession   = "OpenSession"
	MethodCloseSession  = "CloseSession"
	MethodLock          = "Lock"
	MethodTouch         = "Touch"
	MethodSessionStatus = "SessionStatus"
	MethodAuthorize     = "Authorize"
	MethodListEvents    = "ListEvents"
)

// FullMethod returns "/pinlock.v1.SessionLock/<method>".
func FullMethod(method string) string { return "/" + ServiceName + "/" + method }

// SessionLockServer is the server API of the SessionLock service.
// All messages are google.protobuf.Struct; field names live in package convert.
type SessionLockServer interface {
	Enroll(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Configure(context.Context, *structpb.Struct) (*structpb.Struct, error)
	OpenSession(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CloseSession(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Lock(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Touch(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SessionStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Authorize(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListEvents(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(SessionLockServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryMethod(name string, call unaryCall) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(SessionLockServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(SessionLockServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// SessionLockServiceDesc describes the SessionLock service for grpc.Server.RegisterService.
var SessionLockServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SessionLockServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod(MethodEnroll, SessionLockServer.Enroll),
		unaryMethod(MethodConfigure, SessionLockServer.Configure),
		unaryMethod(MethodOpenSession, SessionLockServer.OpenSession),
		unaryMethod(MethodCloseSession, SessionLockServer.CloseSession),
		unaryMethod(MethodLock, SessionLockServer.Lock),
		unaryMethod(MethodTouch, SessionLockServer.Touch),
		unaryMethod(MethodSessionStatus, SessionLockServer.SessionStatus),
		unaryMethod(MethodAuthorize, SessionLockServer.Authorize),
		unaryMethod(MethodListEvents, SessionLockServer.ListEvents),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "pinlock/v1/sessionlock.proto",
}

// RegisterSessionLockServer registers srv on s.
func RegisterSessionLockServer(s grpc.ServiceRegistrar, srv SessionLockServer) {
	s.RegisterService(&SessionLockServiceDesc, srv)
}
