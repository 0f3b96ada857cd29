// Package participant computes which actors may act on open tasks.
//
// Every result is derived fresh from the engine: the assignee of a task and
// its raw identity links, split by the identity parser and deduplicated in
// first-seen order. Resolution never fails on missing or malformed data; it
// only returns errors the engine reports while being queried.
package participant

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/linkflow/humantask/internal/engine"
	"github.com/linkflow/humantask/internal/identity"
	"github.com/linkflow/humantask/internal/observability/metrics"
)

// TaskSource is the query surface the resolver reads from.
type TaskSource interface {
	TasksForInstance(ctx context.Context, instanceID string) ([]*engine.Task, error)
	TasksForActor(ctx context.Context, actorID string, channel engine.Channel) ([]*engine.Task, error)
	TasksForActorAll(ctx context.Context, actorID string) ([]*engine.Task, error)
	IdentityLinks(ctx context.Context, taskID string) ([]engine.IdentityLink, error)
}

// Resolver resolves eligible actors per channel.
type Resolver struct {
	source  TaskSource
	parser  *identity.Parser
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithParser sets the identity parser. Defaults to identity.ModeStandard.
func WithParser(p *identity.Parser) Option {
	return func(r *Resolver) { r.parser = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Resolver) { r.metrics = m }
}

// NewResolver creates a resolver over source.
func NewResolver(source TaskSource, opts ...Option) *Resolver {
	r := &Resolver{
		source: source,
		parser: identity.NewParser(identity.ModeStandard),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// TaskActors is the resolution of one task.
type TaskActors struct {
	TaskID string
	Actors []string
}

// resolution resolves one task, fetching its identity links at most once.
type resolution struct {
	r       *Resolver
	task    *engine.Task
	links   []engine.IdentityLink
	fetched bool
}

func (res *resolution) collect(ctx context.Context, channel engine.Channel, into *identity.Set) error {
	switch channel {
	case engine.ChannelAssignee:
		if res.task.IsAssigned() {
			into.Add(res.task.AssigneeID())
		}
		return nil

	case engine.ChannelCandidateUser, engine.ChannelCandidateGroup:
		// An assigned task has no candidates.
		if res.task.IsAssigned() {
			return nil
		}
		if !res.fetched {
			links, err := res.r.source.IdentityLinks(ctx, res.task.ID)
			if err != nil {
				return err
			}
			res.links = links
			res.fetched = true
		}
		kind, _ := channel.LinkKind()
		for _, l := range res.links {
			if l.Kind != kind {
				continue
			}
			into.Add(res.r.parser.Parse(l.Value)...)
		}
		return nil

	case engine.ChannelMerged:
		for _, ch := range engine.Channels {
			if err := res.collect(ctx, ch, into); err != nil {
				return err
			}
		}
		return nil

	default:
		return fmt.Errorf("%w: %v", engine.ErrInvalidChannel, channel)
	}
}

// ResolveChannel returns the actors eligible for task through channel.
// ChannelMerged is the same as ResolveMerged.
func (r *Resolver) ResolveChannel(ctx context.Context, task *engine.Task, channel engine.Channel) ([]string, error) {
	set := identity.NewSet()
	res := &resolution{r: r, task: task}
	if err := res.collect(ctx, channel, set); err != nil {
		return nil, err
	}

	r.metrics.ResolutionPerformed("resolve_task", channel)
	r.logger.Debug("resolved task participants",
		slog.String("task_id", task.ID),
		slog.String("task_name", task.Name),
		slog.String("channel", channel.String()),
		slog.Int("actors", set.Len()),
	)
	return set.Values(), nil
}

// ResolveMerged returns the union of the assignee, candidate-user and
// candidate-group resolutions, in that order, first occurrence winning.
func (r *Resolver) ResolveMerged(ctx context.Context, task *engine.Task) ([]string, error) {
	return r.ResolveChannel(ctx, task, engine.ChannelMerged)
}

func (r *Resolver) resolveInstance(ctx context.Context, instanceID string, channel engine.Channel) ([]TaskActors, error) {
	if !channel.Valid() {
		return nil, fmt.Errorf("%w: %v", engine.ErrInvalidChannel, channel)
	}
	tasks, err := r.source.TasksForInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	out := make([]TaskActors, 0, len(tasks))
	for _, task := range tasks {
		set := identity.NewSet()
		res := &resolution{r: r, task: task}
		if err := res.collect(ctx, channel, set); err != nil {
			return nil, err
		}
		out = append(out, TaskActors{TaskID: task.ID, Actors: set.Values()})
	}
	return out, nil
}

// ResolveForInstance resolves every open task of the instance. Tasks with no
// eligible actor on channel are present with an empty slice; an instance
// without open tasks yields an empty map.
func (r *Resolver) ResolveForInstance(ctx context.Context, instanceID string, channel engine.Channel) (map[string][]string, error) {
	resolved, err := r.ResolveForInstanceOrdered(ctx, instanceID, channel)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]string, len(resolved))
	for _, ta := range resolved {
		out[ta.TaskID] = ta.Actors
	}
	return out, nil
}

// ResolveForInstanceOrdered is ResolveForInstance keeping engine task order.
func (r *Resolver) ResolveForInstanceOrdered(ctx context.Context, instanceID string, channel engine.Channel) ([]TaskActors, error) {
	resolved, err := r.resolveInstance(ctx, instanceID, channel)
	if err != nil {
		return nil, err
	}
	r.metrics.ResolutionPerformed("resolve_instance", channel)
	r.logger.Debug("resolved instance participants",
		slog.String("instance_id", instanceID),
		slog.String("channel", channel.String()),
		slog.Int("tasks", len(resolved)),
	)
	return resolved, nil
}

// InstanceParticipants is the merged resolution of every open task of the
// instance.
func (r *Resolver) InstanceParticipants(ctx context.Context, instanceID string) (map[string][]string, error) {
	return r.ResolveForInstance(ctx, instanceID, engine.ChannelMerged)
}

// InstanceTaskIDsForActor returns the ids of the instance's open tasks whose
// resolution on channel contains actorID. Candidate channels never match an
// assigned task, even when the assignee is actorID.
func (r *Resolver) InstanceTaskIDsForActor(ctx context.Context, instanceID, actorID string, channel engine.Channel) ([]string, error) {
	resolved, err := r.resolveInstance(ctx, instanceID, channel)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0)
	for _, ta := range resolved {
		for _, a := range ta.Actors {
			if a == actorID {
				ids = append(ids, ta.TaskID)
				break
			}
		}
	}
	r.metrics.ResolutionPerformed("instance_task_ids", channel)
	return ids, nil
}

// InstanceActors returns every actor eligible on channel for any open task of
// the instance, in first-seen order across tasks.
func (r *Resolver) InstanceActors(ctx context.Context, instanceID string, channel engine.Channel) ([]string, error) {
	resolved, err := r.resolveInstance(ctx, instanceID, channel)
	if err != nil {
		return nil, err
	}
	set := identity.NewSet()
	for _, ta := range resolved {
		set.Add(ta.Actors...)
	}
	r.metrics.ResolutionPerformed("instance_actors", channel)
	return set.Values(), nil
}

// ActorHasOpenWork reports whether any open task lists actorID as assignee,
// candidate user or candidate group.
func (r *Resolver) ActorHasOpenWork(ctx context.Context, actorID string) (bool, error) {
	if strings.TrimSpace(actorID) == "" {
		return false, nil
	}
	tasks, err := r.source.TasksForActorAll(ctx, actorID)
	if err != nil {
		return false, err
	}
	r.metrics.ResolutionPerformed("actor_open_work", engine.ChannelMerged)
	return len(tasks) > 0, nil
}

// ActorInstanceIDs returns the distinct instance ids of the actor's open
// tasks on channel, in task order.
func (r *Resolver) ActorInstanceIDs(ctx context.Context, actorID string, channel engine.Channel) ([]string, error) {
	tasks, err := r.source.TasksForActor(ctx, actorID, channel)
	if err != nil {
		return nil, err
	}
	set := identity.NewSet()
	for _, t := range tasks {
		set.Add(t.InstanceID)
	}
	r.metrics.ResolutionPerformed("actor_instances", channel)
	return set.Values(), nil
}
