package interceptor

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/linkflow/humantask/internal/frontend/ratelimit"
	"github.com/linkflow/humantask/internal/security/authn"
)

// anonymousActor is the bucket shared by calls without an actor.
const anonymousActor = "anonymous"

// RateLimitInterceptor limits calls per acting actor. Methods in
// SkipMethods are left to the service, which limits mutations itself.
type RateLimitInterceptor struct {
	limiter     *ratelimit.Limiter
	skipMethods map[string]bool
}

func NewRateLimitInterceptor(limiter *ratelimit.Limiter, skipMethods ...string) *RateLimitInterceptor {
	skip := make(map[string]bool, len(skipMethods))
	for _, m := range skipMethods {
		skip[m] = true
	}
	return &RateLimitInterceptor{
		limiter:     limiter,
		skipMethods: skip,
	}
}

func (r *RateLimitInterceptor) UnaryInterceptor(
	ctx context.Context,
	req interface{},
	info *grpc.UnaryServerInfo,
	handler grpc.UnaryHandler,
) (interface{}, error) {
	if r.skipMethods[info.FullMethod] {
		return handler(ctx, req)
	}

	actor, ok := authn.ActorFromContext(ctx)
	if !ok {
		actor = anonymousActor
	}

	if !r.limiter.Allow(actor) {
		return nil, status.Error(codes.ResourceExhausted, "rate limit exceeded")
	}

	return handler(ctx, req)
}
