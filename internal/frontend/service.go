// Package frontend is the transport-independent surface of the task
// service. The HTTP handler and the gRPC server both call a Service, which
// validates input, applies per-actor rate limits and the open-work gate, and
// delegates to the participant, lifecycle and history components.
package frontend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/linkflow/humantask/internal/engine"
	"github.com/linkflow/humantask/internal/frontend/ratelimit"
	"github.com/linkflow/humantask/internal/frontend/validator"
	"github.com/linkflow/humantask/internal/history"
	"github.com/linkflow/humantask/internal/lifecycle"
	"github.com/linkflow/humantask/internal/participant"
	"github.com/linkflow/humantask/internal/security/audit"
	"github.com/linkflow/humantask/internal/taskquery"
)

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNoActor         = errors.New("actor identity is required")
	ErrNoOpenWork      = errors.New("actor has no open work")
	ErrRateLimited     = errors.New("rate limit exceeded")
)

type Service struct {
	tasks       *taskquery.Facade
	resolver    *participant.Resolver
	coordinator *lifecycle.Coordinator
	history     *history.Aggregator
	rateLimiter *ratelimit.Limiter
	audit       *audit.Logger
	logger      *slog.Logger
}

// ServiceConfig configures a Service. A nil Audit disables the audit trail.
type ServiceConfig struct {
	RateLimitConfig ratelimit.Config
	Audit           *audit.Logger
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		RateLimitConfig: ratelimit.DefaultConfig(),
	}
}

func NewService(
	tasks *taskquery.Facade,
	resolver *participant.Resolver,
	coordinator *lifecycle.Coordinator,
	hist *history.Aggregator,
	logger *slog.Logger,
	cfg ServiceConfig,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		tasks:       tasks,
		resolver:    resolver,
		coordinator: coordinator,
		history:     hist,
		rateLimiter: ratelimit.NewLimiter(cfg.RateLimitConfig),
		audit:       cfg.Audit,
		logger:      logger,
	}
}

func (s *Service) RateLimiter() *ratelimit.Limiter {
	return s.rateLimiter
}

func (s *Service) Logger() *slog.Logger {
	return s.logger
}

func invalid(err error) error {
	return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
}

func parseChannel(raw string) (engine.Channel, error) {
	ch, err := engine.ParseChannel(raw)
	if err != nil {
		return 0, invalid(err)
	}
	return ch, nil
}

// record audits the outcome of a mutation and returns err unchanged.
func (s *Service) record(ctx context.Context, b *audit.EventBuilder, err error) error {
	switch {
	case err == nil:
	case errors.Is(err, ErrNoActor), errors.Is(err, ErrNoOpenWork), errors.Is(err, ErrRateLimited):
		b.WithOutcome(audit.OutcomeDenied, err)
	default:
		b.WithOutcome(audit.OutcomeFailure, err)
	}
	s.audit.Log(ctx, b.Build())
	return err
}

// authorize rate-limits actorID and, for mutations, requires that the actor
// currently has open work somewhere.
func (s *Service) authorize(ctx context.Context, actorID string, requireWork bool) error {
	if strings.TrimSpace(actorID) == "" {
		return ErrNoActor
	}
	if !s.rateLimiter.Allow(actorID) {
		return ErrRateLimited
	}
	if !requireWork {
		return nil
	}

	ok, err := s.resolver.ActorHasOpenWork(ctx, actorID)
	if err != nil {
		return err
	}
	if !ok {
		s.logger.Info("mutation denied",
			slog.String("actor_id", actorID),
			slog.String("reason", ErrNoOpenWork.Error()),
		)
		return ErrNoOpenWork
	}
	return nil
}

// TaskParticipants resolves the actors eligible for one open task. An empty
// channel name selects the merged channel.
func (s *Service) TaskParticipants(ctx context.Context, taskID, channel string) ([]string, error) {
	if err := validator.ValidateID("task_id", taskID); err != nil {
		return nil, invalid(err)
	}
	ch, err := parseChannel(channel)
	if err != nil {
		return nil, err
	}

	task, err := s.tasks.Task(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return s.resolver.ResolveChannel(ctx, task, ch)
}

// InstanceParticipants resolves every open task of the instance on channel.
func (s *Service) InstanceParticipants(ctx context.Context, instanceID, channel string) ([]participant.TaskActors, error) {
	if err := validator.ValidateID("instance_id", instanceID); err != nil {
		return nil, invalid(err)
	}
	ch, err := parseChannel(channel)
	if err != nil {
		return nil, err
	}
	return s.resolver.ResolveForInstanceOrdered(ctx, instanceID, ch)
}

func (s *Service) InstanceActors(ctx context.Context, instanceID, channel string) ([]string, error) {
	if err := validator.ValidateID("instance_id", instanceID); err != nil {
		return nil, invalid(err)
	}
	ch, err := parseChannel(channel)
	if err != nil {
		return nil, err
	}
	return s.resolver.InstanceActors(ctx, instanceID, ch)
}

// InstanceTaskIDs returns the ids of the instance's open tasks that actorID
// is eligible for on channel.
func (s *Service) InstanceTaskIDs(ctx context.Context, instanceID, actorID, channel string) ([]string, error) {
	if err := validator.ValidateID("instance_id", instanceID); err != nil {
		return nil, invalid(err)
	}
	if err := validator.ValidateID("actor", actorID); err != nil {
		return nil, invalid(err)
	}
	ch, err := parseChannel(channel)
	if err != nil {
		return nil, err
	}
	return s.resolver.InstanceTaskIDsForActor(ctx, instanceID, actorID, ch)
}

func (s *Service) InstanceEnded(ctx context.Context, instanceID string) (bool, error) {
	if err := validator.ValidateID("instance_id", instanceID); err != nil {
		return false, invalid(err)
	}
	return s.coordinator.IsInstanceEnded(ctx, instanceID)
}

// PropagateVariables writes vars to every open task of the instance on
// behalf of actorID and returns the number of tasks updated.
func (s *Service) PropagateVariables(ctx context.Context, actorID, instanceID string, vars map[string]any) (int, error) {
	if err := validator.ValidateID("instance_id", instanceID); err != nil {
		return 0, invalid(err)
	}
	if err := validator.ValidateVariables(vars); err != nil {
		return 0, invalid(err)
	}
	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	sort.Strings(names)
	ev := audit.NewEventBuilder(audit.ActionPropagateVariables, actorID).
		WithResource(audit.ResourceInstance, instanceID).
		WithDetail("variables", names)

	if err := s.authorize(ctx, actorID, false); err != nil {
		return 0, s.record(ctx, ev, err)
	}
	n, err := s.coordinator.PropagateVariables(ctx, instanceID, vars)
	ev.WithDetail("updated", n)
	return n, s.record(ctx, ev, err)
}

func (s *Service) Claim(ctx context.Context, actorID, taskID string) error {
	if err := validator.ValidateID("task_id", taskID); err != nil {
		return invalid(err)
	}
	ev := audit.NewEventBuilder(audit.ActionClaim, actorID).WithResource(audit.ResourceTask, taskID)
	if err := s.authorize(ctx, actorID, true); err != nil {
		return s.record(ctx, ev, err)
	}
	return s.record(ctx, ev, s.coordinator.Claim(ctx, taskID, actorID))
}

func (s *Service) Complete(ctx context.Context, actorID, taskID string) error {
	if err := validator.ValidateID("task_id", taskID); err != nil {
		return invalid(err)
	}
	ev := audit.NewEventBuilder(audit.ActionComplete, actorID).WithResource(audit.ResourceTask, taskID)
	if err := s.authorize(ctx, actorID, true); err != nil {
		return s.record(ctx, ev, err)
	}
	return s.record(ctx, ev, s.coordinator.CompleteAs(ctx, taskID, actorID))
}

func (s *Service) AddCandidateGroups(ctx context.Context, actorID, taskID string, groups []string) error {
	if err := validator.ValidateID("task_id", taskID); err != nil {
		return invalid(err)
	}
	if err := validator.ValidateGroups(groups); err != nil {
		return invalid(err)
	}
	ev := audit.NewEventBuilder(audit.ActionAddCandidateGroups, actorID).
		WithResource(audit.ResourceTask, taskID).
		WithDetail("groups", groups)
	if err := s.authorize(ctx, actorID, true); err != nil {
		return s.record(ctx, ev, err)
	}
	return s.record(ctx, ev, s.coordinator.AddCandidateGroups(ctx, taskID, groups))
}

// ActorTasks lists the actor's open tasks on channel. An empty channel name
// lists all of them.
func (s *Service) ActorTasks(ctx context.Context, actorID, channel string) ([]*engine.Task, error) {
	if err := validator.ValidateID("actor_id", actorID); err != nil {
		return nil, invalid(err)
	}
	ch, err := parseChannel(channel)
	if err != nil {
		return nil, err
	}
	return s.tasks.TasksForActor(ctx, actorID, ch)
}

func (s *Service) ActorInstances(ctx context.Context, actorID, channel string) ([]string, error) {
	if err := validator.ValidateID("actor_id", actorID); err != nil {
		return nil, invalid(err)
	}
	ch, err := parseChannel(channel)
	if err != nil {
		return nil, err
	}
	return s.resolver.ActorInstanceIDs(ctx, actorID, ch)
}

func (s *Service) ActorHasOpenWork(ctx context.Context, actorID string) (bool, error) {
	if err := validator.ValidateID("actor_id", actorID); err != nil {
		return false, invalid(err)
	}
	return s.resolver.ActorHasOpenWork(ctx, actorID)
}

// ActorHistory returns the distinct instances in which actorID took part in
// a completed task through channel. The merged channel is rejected.
func (s *Service) ActorHistory(ctx context.Context, actorID, channel string) ([]string, error) {
	if err := validator.ValidateID("actor_id", actorID); err != nil {
		return nil, invalid(err)
	}
	ch, err := parseChannel(channel)
	if err != nil {
		return nil, err
	}
	ids, err := s.history.CompletedInstancesForActor(ctx, actorID, ch)
	if errors.Is(err, engine.ErrInvalidChannel) {
		return nil, invalid(err)
	}
	return ids, err
}
