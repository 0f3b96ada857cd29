package interceptor

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/linkflow/humantask/internal/security/authn"
)

type LoggingInterceptor struct {
	logger *slog.Logger
}

func NewLoggingInterceptor(logger *slog.Logger) *LoggingInterceptor {
	return &LoggingInterceptor{
		logger: logger,
	}
}

func (l *LoggingInterceptor) UnaryInterceptor(
	ctx context.Context,
	req interface{},
	info *grpc.UnaryServerInfo,
	handler grpc.UnaryHandler,
) (interface{}, error) {
	start := time.Now()

	resp, err := handler(ctx, req)

	duration := time.Since(start)
	code := codes.OK
	if err != nil {
		if st, ok := status.FromError(err); ok {
			code = st.Code()
		} else {
			code = codes.Unknown
		}
	}

	l.logRequest(ctx, info.FullMethod, duration, code, err)

	return resp, err
}

func (l *LoggingInterceptor) logRequest(
	ctx context.Context,
	method string,
	duration time.Duration,
	code codes.Code,
	err error,
) {
	attrs := []slog.Attr{
		slog.String("method", method),
		slog.Duration("duration", duration),
		slog.String("code", code.String()),
	}

	if actor, ok := authn.ActorFromContext(ctx); ok {
		attrs = append(attrs, slog.String("actor_id", actor))
	}

	switch {
	case err == nil:
		l.logger.LogAttrs(ctx, slog.LevelInfo, "grpc request completed", attrs...)
	case isClientError(code):
		attrs = append(attrs, slog.String("error", err.Error()))
		l.logger.LogAttrs(ctx, slog.LevelWarn, "grpc request rejected", attrs...)
	default:
		attrs = append(attrs, slog.String("error", err.Error()))
		l.logger.LogAttrs(ctx, slog.LevelError, "grpc request failed", attrs...)
	}
}

// isClientError reports codes caused by the caller rather than the service.
func isClientError(code codes.Code) bool {
	switch code {
	case codes.InvalidArgument, codes.NotFound, codes.FailedPrecondition,
		codes.PermissionDenied, codes.Unauthenticated, codes.ResourceExhausted:
		return true
	default:
		return false
	}
}
