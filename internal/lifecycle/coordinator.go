// Package lifecycle drives claim, completion and variable propagation on
// open tasks. Every mutation is delegated to the engine, which arbitrates
// concurrent claims; failures are surfaced once and never retried.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/linkflow/humantask/internal/engine"
	"github.com/linkflow/humantask/internal/identity"
	"github.com/linkflow/humantask/internal/observability/metrics"
)

// TaskLocator finds open tasks and live instances.
type TaskLocator interface {
	TasksForInstance(ctx context.Context, instanceID string) ([]*engine.Task, error)
	InstanceExists(ctx context.Context, instanceID string) (bool, error)
}

// Coordinator applies lifecycle mutations through the engine.
type Coordinator struct {
	locator TaskLocator
	mutator engine.TaskMutator
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New creates a coordinator. A nil logger means slog.Default().
func New(locator TaskLocator, mutator engine.TaskMutator, logger *slog.Logger, m *metrics.Metrics) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		locator: locator,
		mutator: mutator,
		logger:  logger.With(slog.String("component", "lifecycle")),
		metrics: m,
	}
}

// Claim assigns actorID to the task. The engine decides whether a different
// existing assignee blocks the claim.
func (c *Coordinator) Claim(ctx context.Context, taskID, actorID string) error {
	err := c.mutator.Claim(ctx, taskID, actorID)
	c.metrics.LifecycleCompleted("claim", err)
	if err != nil {
		c.logger.Info("claim rejected",
			slog.String("task_id", taskID),
			slog.String("actor_id", actorID),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("claim task %s: %w", taskID, err)
	}

	c.logger.Info("task claimed",
		slog.String("task_id", taskID),
		slog.String("actor_id", actorID),
	)
	return nil
}

// Complete finishes the task. The engine may open follow-up tasks, which are
// only visible to later queries.
func (c *Coordinator) Complete(ctx context.Context, taskID string) error {
	return c.complete(ctx, taskID, "")
}

// CompleteAs is Complete recording actorID as the acting actor.
func (c *Coordinator) CompleteAs(ctx context.Context, taskID, actorID string) error {
	return c.complete(ctx, taskID, actorID)
}

func (c *Coordinator) complete(ctx context.Context, taskID, actorID string) error {
	attrs := []any{slog.String("task_id", taskID)}
	if actorID != "" {
		attrs = append(attrs, slog.String("actor_id", actorID))
	}

	err := c.mutator.Complete(ctx, taskID)
	c.metrics.LifecycleCompleted("complete", err)
	if err != nil {
		c.logger.Info("complete rejected", append(attrs, slog.String("error", err.Error()))...)
		return fmt.Errorf("complete task %s: %w", taskID, err)
	}

	c.logger.Info("task completed", attrs...)
	return nil
}

// PropagateVariables writes variables onto every open task of the instance
// and returns the number of tasks updated. An instance without open tasks is
// a logged no-op. The open tasks are read once; a task that disappears before
// its write stops the loop with ErrTaskNotFound, leaving earlier writes in
// place.
func (c *Coordinator) PropagateVariables(ctx context.Context, instanceID string, variables map[string]any) (int, error) {
	tasks, err := c.locator.TasksForInstance(ctx, instanceID)
	if err != nil {
		c.metrics.LifecycleCompleted("propagate_variables", err)
		return 0, err
	}

	if len(tasks) == 0 {
		c.metrics.LifecycleCompleted("propagate_variables", engine.ErrNoOpenTasks)
		c.logger.Warn("variables not propagated",
			slog.String("instance_id", instanceID),
			slog.String("error", engine.ErrNoOpenTasks.Error()),
		)
		return 0, nil
	}

	updated := 0
	for _, task := range tasks {
		if err := c.mutator.SetTaskVariables(ctx, task.ID, variables); err != nil {
			c.metrics.LifecycleCompleted("propagate_variables", err)
			return updated, fmt.Errorf("set variables on task %s: %w", task.ID, err)
		}
		updated++
	}

	c.metrics.LifecycleCompleted("propagate_variables", nil)
	c.logger.Info("variables propagated",
		slog.String("instance_id", instanceID),
		slog.Int("tasks", updated),
		slog.Int("variables", len(variables)),
	)
	return updated, nil
}

// IsInstanceEnded reports whether the engine no longer has a live instance
// with this id.
func (c *Coordinator) IsInstanceEnded(ctx context.Context, instanceID string) (bool, error) {
	exists, err := c.locator.InstanceExists(ctx, instanceID)
	if err != nil {
		return false, err
	}
	return !exists, nil
}

// AddCandidateGroups stores groups as one delimited candidate-group link on
// the task. Blank groups are dropped; nothing left means nothing is written.
func (c *Coordinator) AddCandidateGroups(ctx context.Context, taskID string, groups []string) error {
	value := identity.Join(groups)
	if value == "" {
		return nil
	}

	err := c.mutator.AddCandidateGroup(ctx, taskID, value)
	c.metrics.LifecycleCompleted("add_candidate_groups", err)
	if err != nil {
		return fmt.Errorf("add candidate groups to task %s: %w", taskID, err)
	}

	c.logger.Info("candidate groups added",
		slog.String("task_id", taskID),
		slog.String("groups", strings.TrimSuffix(value, ",")),
	)
	return nil
}

// IsRace reports whether err is a lost race against another actor or a
// completion: the task is gone or held by someone else.
func IsRace(err error) bool {
	return errors.Is(err, engine.ErrTaskNotFound) || errors.Is(err, engine.ErrAlreadyClaimed)
}
