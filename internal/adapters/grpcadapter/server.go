// Package grpcadapter exposes the gateway's execute surface over gRPC as a
// single generic RPC backed by structpb payloads, sharing the same
// validator, rate-limit store, and audit chain as the HTTP surfaces.
package grpcadapter

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/erauner12/bffgateway/internal/adapters/action"
	"github.com/erauner12/bffgateway/internal/audit"
	"github.com/erauner12/bffgateway/internal/authctx"
	"github.com/erauner12/bffgateway/internal/gatewayerr"
	"github.com/erauner12/bffgateway/internal/kernel"
	"github.com/erauner12/bffgateway/internal/manifest"
)

// Server implements the Execute RPC.
type Server struct {
	Manifest  manifest.Manifest
	Validator authctx.TokenValidator
	Exec      kernel.Executor
	Audits    audit.Store
}

// Execute runs one whitelisted action for the authenticated caller. The
// request struct carries {action, input?}; the response carries {data}.
func (s *Server) Execute(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	auth, ok := AuthFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "no authenticated context")
	}

	fields := in.AsMap()
	actionStr, _ := fields["action"].(string)
	if gwErr := action.Validate(actionStr, s.Manifest.Env); gwErr != nil {
		return nil, grpcStatus(gwErr)
	}

	deadline := time.Duration(s.Manifest.Timeouts.DefaultMs) * time.Millisecond
	callCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	result, err := s.Exec.Run(callCtx, kernel.Invocation{
		Code:     actionStr,
		Context:  "grpc",
		TenantID: auth.TenantID,
		UserID:   auth.UserID,
		Input:    fields["input"],
	})
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			return nil, grpcStatus(gatewayerr.New(gatewayerr.CodeGatewayTimeout, "execution exceeded deadline"))
		}
		return nil, grpcStatus(gatewayerr.New(gatewayerr.CodeExecutionFailed, err.Error()))
	}

	s.appendAudit(ctx, auth, actionStr)

	out, err := structpb.NewStruct(map[string]any{"data": result})
	if err != nil {
		return nil, status.Error(codes.Internal, "result is not representable")
	}
	return out, nil
}

func (s *Server) appendAudit(ctx context.Context, auth authctx.AuthContext, actionStr string) {
	if !s.Manifest.Security.AuditTrailRequired || !s.Manifest.Security.AuditWrites {
		return
	}
	entry := &audit.Entry{
		ID:         uuid.NewString(),
		Timestamp:  time.Now().UTC(),
		RequestID:  auth.RequestID,
		Method:     "POST",
		Path:       "/gateway.v1.Gateway/Execute",
		Protocol:   "grpc",
		TenantID:   auth.TenantID,
		UserID:     auth.UserID,
		Roles:      auth.Roles,
		APIVersion: auth.APIVersion,
		Action:     actionStr,
		Category:   audit.CategoryWrite,
		RiskLevel:  audit.RiskMedium,
		Status:     audit.StatusSuccess,
	}
	if err := s.Audits.Append(ctx, entry); err != nil {
		log.Error().Err(err).Str("requestId", auth.RequestID).Msg("grpc audit append failed")
	}
}

// grpcStatus maps a taxonomy error onto a gRPC status.
func grpcStatus(e *gatewayerr.Error) error {
	var c codes.Code
	switch e.Code {
	case gatewayerr.CodeUnauthorized, gatewayerr.CodeAuth:
		c = codes.Unauthenticated
	case gatewayerr.CodeForbidden, gatewayerr.CodeTenantIsolation:
		c = codes.PermissionDenied
	case gatewayerr.CodeNotFound, gatewayerr.CodeActionNotFound, gatewayerr.CodeEngineNotFound:
		c = codes.NotFound
	case gatewayerr.CodeValidation:
		c = codes.InvalidArgument
	case gatewayerr.CodeRateLimited:
		c = codes.ResourceExhausted
	case gatewayerr.CodeGatewayTimeout:
		c = codes.DeadlineExceeded
	default:
		c = codes.Internal
	}
	return status.Error(c, string(e.Code)+": "+e.Message)
}

// serviceDesc registers the generic Execute RPC without generated stubs;
// structpb.Struct is itself a proto message, so the codec needs nothing
// else.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: "gateway.v1.Gateway",
	HandlerType: (*executeServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Execute", Handler: executeHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "gateway/v1/gateway.proto",
}

type executeServer interface {
	Execute(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

func executeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(executeServer).Execute(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/gateway.v1.Gateway/Execute"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(executeServer).Execute(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// Register attaches the server to a grpc.Server.
func Register(gs *grpc.Server, s *Server) {
	gs.RegisterService(&serviceDesc, s)
}

// NewGRPCServer builds a grpc.Server with the gateway interceptor chain
// installed.
func NewGRPCServer(s *Server, rates RateStore) *grpc.Server {
	return grpc.NewServer(grpc.ChainUnaryInterceptor(
		RequestIDInterceptor(),
		AuthInterceptor(s.Validator, s.Manifest),
		RateLimitInterceptor(rates, s.Manifest),
	))
}
