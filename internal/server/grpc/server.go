// Package grpcserver exposes the pinlock gRPC API handlers.
package grpcserver

import (
	"context"
	"errors"

	"github.com/gofrs/uuid/v5"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/and161185/pinlock/internal/convert"
	"github.com/and161185/pinlock/internal/errs"
	"github.com/and161185/pinlock/internal/service"
)

// Server wires the security service into gRPC handlers.
type Server struct {
	svc service.SecurityService
}

var _ SessionLockServer = (*Server)(nil)

// New constructs a gRPC server with the injected service.
func New(svc service.SecurityService) *Server {
	return &Server{svc: svc}
}

// --- Account ---

// Enroll sets the caller's secret and preferences.
func (s *Server) Enroll(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	accountID, err := accountFromCtx(ctx)
	if err != nil {
		return nil, err
	}
	secret, p, err := convert.FromProtoEnroll(req)
	if err != nil {
		return nil, toStatus(err, "enroll")
	}
	if err := s.svc.Enroll(ctx, accountID, secret, p); err != nil {
		return nil, toStatus(err, "enroll")
	}
	return convert.ToProtoAccount(accountID), nil
}

// Configure replaces the caller's preferences.
func (s *Server) Configure(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	accountID, err := accountFromCtx(ctx)
	if err != nil {
		return nil, err
	}
	p, err := convert.FromProtoPreferences(req)
	if err != nil {
		return nil, toStatus(err, "configure")
	}
	st, err := s.svc.Configure(ctx, accountID, p)
	if err != nil {
		return nil, toStatus(err, "configure")
	}
	return convert.ToProtoPreferences(st.Preferences()), nil
}

// --- Sessions ---

// OpenSession starts a session for the caller.
func (s *Server) OpenSession(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	accountID, err := accountFromCtx(ctx)
	if err != nil {
		return nil, err
	}
	snap, err := s.svc.OpenSession(ctx, accountID)
	if err != nil {
		return nil, toStatus(err, "open session")
	}
	return convert.ToProtoSession(snap), nil
}

// CloseSession ends one of the caller's sessions.
func (s *Server) CloseSession(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	accountID, sessionID, err := sessionRef(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := s.svc.CloseSession(ctx, accountID, sessionID); err != nil {
		return nil, toStatus(err, "close session")
	}
	return &structpb.Struct{}, nil
}

// Lock locks one of the caller's sessions.
func (s *Server) Lock(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	accountID, sessionID, err := sessionRef(ctx, req)
	if err != nil {
		return nil, err
	}
	snap, err := s.svc.Lock(ctx, accountID, sessionID)
	if err != nil {
		return nil, toStatus(err, "lock")
	}
	return convert.ToProtoSession(snap), nil
}

// Touch records activity. A locked session is reported as FailedPrecondition.
func (s *Server) Touch(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	accountID, sessionID, err := sessionRef(ctx, req)
	if err != nil {
		return nil, err
	}
	snap, err := s.svc.Touch(ctx, accountID, sessionID)
	if err != nil {
		return nil, toStatus(err, "touch")
	}
	return convert.ToProtoSession(snap), nil
}

// SessionStatus returns the session state.
func (s *Server) SessionStatus(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	accountID, sessionID, err := sessionRef(ctx, req)
	if err != nil {
		return nil, err
	}
	snap, err := s.svc.SessionStatus(ctx, accountID, sessionID)
	if err != nil {
		return nil, toStatus(err, "session status")
	}
	return convert.ToProtoSession(snap), nil
}

// --- Authorization ---

// Authorize evaluates one attempt. A denial is a regular response, not an error.
func (s *Server) Authorize(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	accountID, err := accountFromCtx(ctx)
	if err != nil {
		return nil, err
	}
	a, err := convert.FromProtoAttempt(accountID, req)
	if err != nil {
		return nil, toStatus(err, "authorize")
	}
	d, err := s.svc.Authorize(ctx, a)
	if err != nil {
		return nil, toStatus(err, "authorize")
	}
	return convert.ToProtoDecision(d), nil
}

// ListEvents returns the caller's newest security events.
func (s *Server) ListEvents(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	accountID, err := accountFromCtx(ctx)
	if err != nil {
		return nil, err
	}
	limit, err := convert.FromProtoLimit(req)
	if err != nil {
		return nil, toStatus(err, "list events")
	}
	evs, err := s.svc.ListEvents(ctx, accountID, limit)
	if err != nil {
		return nil, toStatus(err, "list events")
	}
	return convert.ToProtoEvents(evs), nil
}

func accountFromCtx(ctx context.Context) (uuid.UUID, error) {
	id, ok := AccountIDFromCtx(ctx)
	if !ok {
		return uuid.Nil, status.Error(codes.Unauthenticated, "no auth")
	}
	return id, nil
}

func sessionRef(ctx context.Context, req *structpb.Struct) (uuid.UUID, uuid.UUID, error) {
	accountID, err := accountFromCtx(ctx)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	sessionID, err := convert.FromProtoSessionRef(req)
	if err != nil {
		return uuid.Nil, uuid.Nil, status.Errorf(codes.InvalidArgument, "bad session id: %v", err)
	}
	return accountID, sessionID, nil
}

// toStatus maps domain errors to gRPC codes.
func toStatus(err error, op string) error {
	switch {
	case errors.Is(err, errs.ErrInvalidFormat):
		return status.Errorf(codes.InvalidArgument, "%s: %v", op, err)
	case errors.Is(err, errs.ErrSessionNotFound):
		return status.Error(codes.NotFound, "session not found")
	case errors.Is(err, errs.ErrSessionLocked):
		return status.Error(codes.FailedPrecondition, "session locked")
	case errors.Is(err, errs.ErrNotFound):
		return status.Error(codes.NotFound, "not enrolled")
	case errors.Is(err, errs.ErrAlreadyExists):
		return status.Error(codes.AlreadyExists, "already enrolled")
	case errors.Is(err, errs.ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
		return status.Errorf(codes.Unavailable, "%s: store unavailable", op)
	default:
		return status.Errorf(codes.Internal, "%s: %v", op, err)
	}
}
