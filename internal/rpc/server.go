// Package rpc exposes the task service over gRPC as
// humantask.v1.ParticipantService. Messages are google.protobuf.Struct
// values keyed by snake_case field names, so any gRPC client can call the
// service without generated stubs.
package rpc

import (
	"context"
	"errors"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/linkflow/humantask/internal/engine"
	"github.com/linkflow/humantask/internal/frontend"
	"github.com/linkflow/humantask/internal/frontend/interceptor"
	"github.com/linkflow/humantask/internal/frontend/ratelimit"
	"github.com/linkflow/humantask/internal/security/authn"
)

const ServiceName = "humantask.v1.ParticipantService"

const (
	MethodResolveTask        = "ResolveTask"
	MethodResolveInstance    = "ResolveInstance"
	MethodInstanceTaskIDs    = "InstanceTaskIDs"
	MethodClaimTask          = "ClaimTask"
	MethodCompleteTask       = "CompleteTask"
	MethodPropagateVariables = "PropagateVariables"
	MethodInstanceEnded      = "InstanceEnded"
	MethodCompletedInstances = "CompletedInstances"
)

// FullMethod returns the gRPC method path of name.
func FullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

// MutatingMethods are rate limited inside the service rather than by the
// query interceptor.
var MutatingMethods = []string{
	FullMethod(MethodClaimTask),
	FullMethod(MethodCompleteTask),
	FullMethod(MethodPropagateVariables),
}

type participantServer interface {
	ResolveTask(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ResolveInstance(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	InstanceTaskIDs(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ClaimTask(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	CompleteTask(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	PropagateVariables(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	InstanceEnded(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	CompletedInstances(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

type unaryMethod func(s participantServer, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)

type methodFunc = func(srv interface{}, ctx context.Context, dec func(interface{}) error, icpt grpc.UnaryServerInterceptor) (interface{}, error)

func methodHandler(name string, call unaryMethod) methodFunc {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, icpt grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		s := srv.(participantServer)
		if icpt == nil {
			return call(s, ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
		h := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(s, ctx, req.(*structpb.Struct))
		}
		return icpt(ctx, in, info, h)
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*participantServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: MethodResolveTask, Handler: methodHandler(MethodResolveTask, participantServer.ResolveTask)},
		{MethodName: MethodResolveInstance, Handler: methodHandler(MethodResolveInstance, participantServer.ResolveInstance)},
		{MethodName: MethodInstanceTaskIDs, Handler: methodHandler(MethodInstanceTaskIDs, participantServer.InstanceTaskIDs)},
		{MethodName: MethodClaimTask, Handler: methodHandler(MethodClaimTask, participantServer.ClaimTask)},
		{MethodName: MethodCompleteTask, Handler: methodHandler(MethodCompleteTask, participantServer.CompleteTask)},
		{MethodName: MethodPropagateVariables, Handler: methodHandler(MethodPropagateVariables, participantServer.PropagateVariables)},
		{MethodName: MethodInstanceEnded, Handler: methodHandler(MethodInstanceEnded, participantServer.InstanceEnded)},
		{MethodName: MethodCompletedInstances, Handler: methodHandler(MethodCompletedInstances, participantServer.CompletedInstances)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "humantask/v1/participant.proto",
}

// Server implements ParticipantService on top of a frontend.Service.
type Server struct {
	service *frontend.Service
	logger  *slog.Logger
}

func NewServer(service *frontend.Service, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{service: service, logger: logger}
}

// Register adds the service to gs.
func (s *Server) Register(gs *grpc.Server) {
	gs.RegisterService(&serviceDesc, s)
}

// Config configures NewGRPCServer.
type Config struct {
	// Signer verifies bearer tokens. Nil trusts x-actor-id metadata.
	Signer *authn.Signer
	// QueryLimiter throttles read methods per actor. Nil disables it.
	QueryLimiter *ratelimit.Limiter
}

// NewGRPCServer builds a gRPC server carrying the participant service,
// health checking and reflection.
func NewGRPCServer(service *frontend.Service, logger *slog.Logger, cfg Config) (*grpc.Server, *health.Server) {
	if logger == nil {
		logger = slog.Default()
	}

	authInterceptor := interceptor.NewAuthInterceptor(interceptor.AuthConfig{
		SkipMethods: []string{"/grpc.health.v1.Health/Check", "/grpc.health.v1.Health/Watch"},
		Signer:      cfg.Signer,
	})
	chain := []grpc.UnaryServerInterceptor{
		authInterceptor.UnaryInterceptor,
		interceptor.NewLoggingInterceptor(logger).UnaryInterceptor,
	}
	if cfg.QueryLimiter != nil {
		skip := append([]string{"/grpc.health.v1.Health/Check"}, MutatingMethods...)
		chain = append(chain, interceptor.NewRateLimitInterceptor(cfg.QueryLimiter, skip...).UnaryInterceptor)
	}

	gs := grpc.NewServer(grpc.ChainUnaryInterceptor(chain...))
	NewServer(service, logger).Register(gs)

	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)

	reflection.Register(gs)
	return gs, hs
}

func (s *Server) ResolveTask(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	actors, err := s.service.TaskParticipants(ctx, stringField(req, "task_id"), stringField(req, "channel"))
	if err != nil {
		return nil, s.toStatus(err)
	}
	return s.reply(map[string]any{"actors": anyList(actors)})
}

func (s *Server) ResolveInstance(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	resolved, err := s.service.InstanceParticipants(ctx, stringField(req, "instance_id"), stringField(req, "channel"))
	if err != nil {
		return nil, s.toStatus(err)
	}

	tasks := make([]any, 0, len(resolved))
	for _, ta := range resolved {
		tasks = append(tasks, map[string]any{
			"task_id": ta.TaskID,
			"actors":  anyList(ta.Actors),
		})
	}
	return s.reply(map[string]any{"tasks": tasks})
}

func (s *Server) InstanceTaskIDs(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	actor := stringField(req, "actor_id")
	if actor == "" {
		actor, _ = authn.ActorFromContext(ctx)
	}

	ids, err := s.service.InstanceTaskIDs(ctx, stringField(req, "instance_id"), actor, stringField(req, "channel"))
	if err != nil {
		return nil, s.toStatus(err)
	}
	return s.reply(map[string]any{"task_ids": anyList(ids)})
}

func (s *Server) ClaimTask(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	actor, _ := authn.ActorFromContext(ctx)
	if err := s.service.Claim(ctx, actor, stringField(req, "task_id")); err != nil {
		return nil, s.toStatus(err)
	}
	return s.reply(map[string]any{"status": "claimed"})
}

func (s *Server) CompleteTask(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	actor, _ := authn.ActorFromContext(ctx)
	if err := s.service.Complete(ctx, actor, stringField(req, "task_id")); err != nil {
		return nil, s.toStatus(err)
	}
	return s.reply(map[string]any{"status": "completed"})
}

func (s *Server) PropagateVariables(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	actor, _ := authn.ActorFromContext(ctx)
	vars := req.GetFields()["variables"].GetStructValue().AsMap()

	updated, err := s.service.PropagateVariables(ctx, actor, stringField(req, "instance_id"), vars)
	if err != nil {
		return nil, s.toStatus(err)
	}
	return s.reply(map[string]any{"updated": updated})
}

func (s *Server) InstanceEnded(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	ended, err := s.service.InstanceEnded(ctx, stringField(req, "instance_id"))
	if err != nil {
		return nil, s.toStatus(err)
	}
	return s.reply(map[string]any{"ended": ended})
}

func (s *Server) CompletedInstances(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	ids, err := s.service.ActorHistory(ctx, stringField(req, "actor_id"), stringField(req, "channel"))
	if err != nil {
		return nil, s.toStatus(err)
	}
	return s.reply(map[string]any{"instance_ids": anyList(ids)})
}

func (s *Server) reply(fields map[string]any) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, s.toStatus(err)
	}
	return out, nil
}

// CodeFor maps a service error to a gRPC status code.
func CodeFor(err error) codes.Code {
	switch {
	case errors.Is(err, frontend.ErrInvalidArgument), errors.Is(err, engine.ErrInvalidChannel):
		return codes.InvalidArgument
	case errors.Is(err, frontend.ErrNoActor):
		return codes.Unauthenticated
	case errors.Is(err, frontend.ErrNoOpenWork):
		return codes.PermissionDenied
	case errors.Is(err, engine.ErrTaskNotFound), errors.Is(err, engine.ErrInstanceNotFound):
		return codes.NotFound
	case errors.Is(err, engine.ErrAlreadyClaimed):
		return codes.FailedPrecondition
	case errors.Is(err, frontend.ErrRateLimited):
		return codes.ResourceExhausted
	case errors.Is(err, engine.ErrUnavailable):
		return codes.Unavailable
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	default:
		return codes.Internal
	}
}

func (s *Server) toStatus(err error) error {
	code := CodeFor(err)
	if code == codes.Internal {
		s.logger.Error("participant service call failed", slog.String("error", err.Error()))
		return status.Error(code, "internal error")
	}
	return status.Error(code, err.Error())
}

func stringField(req *structpb.Struct, key string) string {
	return req.GetFields()[key].GetStringValue()
}

func anyList(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
