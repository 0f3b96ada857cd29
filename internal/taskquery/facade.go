// Package taskquery wraps the engine's task query surface behind the lookups
// the resolver and coordinator need.
package taskquery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/linkflow/humantask/internal/engine"
	"github.com/linkflow/humantask/internal/identity"
)

// Facade answers task lookups against the engine. It holds no state between
// calls; every lookup re-reads the engine.
type Facade struct {
	engine engine.TaskQuerier
	parser *identity.Parser
	logger *slog.Logger
}

// New creates a facade. A nil parser means identity.ModeStandard and a nil
// logger means slog.Default().
func New(q engine.TaskQuerier, parser *identity.Parser, logger *slog.Logger) *Facade {
	if parser == nil {
		parser = identity.NewParser(identity.ModeStandard)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Facade{engine: q, parser: parser, logger: logger}
}

// Parser returns the identity parser shared with the resolver.
func (f *Facade) Parser() *identity.Parser {
	return f.parser
}

// TasksForInstance returns the open tasks of an instance in engine order.
// An instance with no open tasks yields an empty slice.
func (f *Facade) TasksForInstance(ctx context.Context, instanceID string) ([]*engine.Task, error) {
	if strings.TrimSpace(instanceID) == "" {
		return []*engine.Task{}, nil
	}
	tasks, err := f.engine.ListOpenTasks(ctx, engine.TaskFilter{InstanceID: instanceID})
	if err != nil {
		return nil, fmt.Errorf("list tasks of instance %s: %w", instanceID, err)
	}
	if tasks == nil {
		tasks = []*engine.Task{}
	}
	return tasks, nil
}

// TasksForActor returns open tasks where channel matches actorID: exact
// assignee match, or membership in a parsed candidate link of an unassigned
// task. ChannelMerged delegates to TasksForActorAll.
func (f *Facade) TasksForActor(ctx context.Context, actorID string, channel engine.Channel) ([]*engine.Task, error) {
	if strings.TrimSpace(actorID) == "" {
		return []*engine.Task{}, nil
	}

	switch channel {
	case engine.ChannelAssignee:
		tasks, err := f.engine.ListOpenTasks(ctx, engine.TaskFilter{Assignee: actorID})
		if err != nil {
			return nil, fmt.Errorf("list tasks assigned to %s: %w", actorID, err)
		}
		out := make([]*engine.Task, 0, len(tasks))
		for _, t := range tasks {
			if t.AssigneeID() == actorID {
				out = append(out, t)
			}
		}
		return out, nil

	case engine.ChannelCandidateUser, engine.ChannelCandidateGroup:
		kind, _ := channel.LinkKind()
		filter := engine.TaskFilter{Unassigned: true}
		if kind == engine.LinkKindUser {
			filter.CandidateUser = actorID
		} else {
			filter.CandidateGroup = actorID
		}

		tasks, err := f.engine.ListOpenTasks(ctx, filter)
		if err != nil {
			return nil, fmt.Errorf("list %s tasks of %s: %w", channel, actorID, err)
		}
		out := make([]*engine.Task, 0, len(tasks))
		for _, t := range tasks {
			if t.IsAssigned() {
				continue
			}
			member, err := f.isMember(ctx, t.ID, kind, actorID)
			if err != nil {
				return nil, err
			}
			if member {
				out = append(out, t)
			}
		}
		return out, nil

	case engine.ChannelMerged:
		return f.TasksForActorAll(ctx, actorID)

	default:
		return nil, fmt.Errorf("%w: %v", engine.ErrInvalidChannel, channel)
	}
}

// TasksForActorAll returns the actor's open tasks across all channels,
// deduplicated by task id. Group matches come first, then assignee, then
// candidate-user matches.
func (f *Facade) TasksForActorAll(ctx context.Context, actorID string) ([]*engine.Task, error) {
	seen := make(map[string]struct{})
	out := make([]*engine.Task, 0)

	for _, ch := range []engine.Channel{engine.ChannelCandidateGroup, engine.ChannelAssignee, engine.ChannelCandidateUser} {
		tasks, err := f.TasksForActor(ctx, actorID, ch)
		if err != nil {
			return nil, err
		}
		for _, t := range tasks {
			if _, ok := seen[t.ID]; ok {
				continue
			}
			seen[t.ID] = struct{}{}
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *Facade) isMember(ctx context.Context, taskID string, kind engine.LinkKind, actorID string) (bool, error) {
	links, err := f.IdentityLinks(ctx, taskID)
	if err != nil {
		return false, err
	}
	for _, l := range links {
		if l.Kind != kind {
			continue
		}
		for _, id := range f.parser.Parse(l.Value) {
			if id == actorID {
				return true, nil
			}
		}
	}
	return false, nil
}

// IdentityLinks returns the raw eligibility records of a task. A task the
// engine does not know yields an empty slice.
func (f *Facade) IdentityLinks(ctx context.Context, taskID string) ([]engine.IdentityLink, error) {
	links, err := f.engine.IdentityLinks(ctx, taskID)
	if err != nil {
		if errors.Is(err, engine.ErrTaskNotFound) {
			return []engine.IdentityLink{}, nil
		}
		return nil, fmt.Errorf("identity links of task %s: %w", taskID, err)
	}
	if links == nil {
		links = []engine.IdentityLink{}
	}
	return links, nil
}

// Task returns one open task, or engine.ErrTaskNotFound.
func (f *Facade) Task(ctx context.Context, taskID string) (*engine.Task, error) {
	task, err := f.engine.GetTask(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", taskID, err)
	}
	return task, nil
}

// InstanceExists reports whether the engine still has a live instance with
// this id. It is the only signal that a process has finished.
func (f *Facade) InstanceExists(ctx context.Context, instanceID string) (bool, error) {
	ok, err := f.engine.InstanceExists(ctx, instanceID)
	if err != nil {
		return false, fmt.Errorf("check instance %s: %w", instanceID, err)
	}
	if !ok {
		f.logger.Debug("instance not live", slog.String("instance_id", instanceID))
	}
	return ok, nil
}
