package circuit

import (
	"context"
	"errors"
	"fmt"

	"github.com/linkflow/humantask/internal/engine"
)

// IsEngineFailure reports whether err says the engine itself misbehaved.
// Domain answers such as a missing task or a lost claim race mean the engine
// is healthy.
func IsEngineFailure(err error) bool {
	switch {
	case err == nil,
		errors.Is(err, engine.ErrTaskNotFound),
		errors.Is(err, engine.ErrInstanceNotFound),
		errors.Is(err, engine.ErrAlreadyClaimed),
		errors.Is(err, engine.ErrNoOpenTasks),
		errors.Is(err, engine.ErrInvalidChannel),
		errors.Is(err, context.Canceled):
		return false
	}
	return true
}

type guarded struct {
	next    engine.Engine
	breaker *Breaker
}

// Guard wraps e so that every call goes through b. While b is open, calls
// return an error wrapping engine.ErrUnavailable without reaching e.
func Guard(e engine.Engine, b *Breaker) engine.Engine {
	if b == nil {
		return e
	}
	return &guarded{next: e, breaker: b}
}

func (g *guarded) run(fn func() error) error {
	err := g.breaker.Execute(fn, IsEngineFailure)
	if errors.Is(err, ErrCircuitOpen) {
		return fmt.Errorf("%w: %s: %w", engine.ErrUnavailable, g.breaker.Name(), err)
	}
	return err
}

func (g *guarded) ListOpenTasks(ctx context.Context, filter engine.TaskFilter) (tasks []*engine.Task, err error) {
	err = g.run(func() (err error) {
		tasks, err = g.next.ListOpenTasks(ctx, filter)
		return err
	})
	return tasks, err
}

func (g *guarded) GetTask(ctx context.Context, taskID string) (task *engine.Task, err error) {
	err = g.run(func() (err error) {
		task, err = g.next.GetTask(ctx, taskID)
		return err
	})
	return task, err
}

func (g *guarded) IdentityLinks(ctx context.Context, taskID string) (links []engine.IdentityLink, err error) {
	err = g.run(func() (err error) {
		links, err = g.next.IdentityLinks(ctx, taskID)
		return err
	})
	return links, err
}

func (g *guarded) InstanceExists(ctx context.Context, instanceID string) (ok bool, err error) {
	err = g.run(func() (err error) {
		ok, err = g.next.InstanceExists(ctx, instanceID)
		return err
	})
	return ok, err
}

func (g *guarded) Claim(ctx context.Context, taskID, actorID string) error {
	return g.run(func() error { return g.next.Claim(ctx, taskID, actorID) })
}

func (g *guarded) Complete(ctx context.Context, taskID string) error {
	return g.run(func() error { return g.next.Complete(ctx, taskID) })
}

func (g *guarded) SetTaskVariables(ctx context.Context, taskID string, variables map[string]any) error {
	return g.run(func() error { return g.next.SetTaskVariables(ctx, taskID, variables) })
}

func (g *guarded) AddCandidateGroup(ctx context.Context, taskID, value string) error {
	return g.run(func() error { return g.next.AddCandidateGroup(ctx, taskID, value) })
}

func (g *guarded) ListHistoricTasks(ctx context.Context, filter engine.HistoryFilter) (tasks []*engine.HistoricTask, err error) {
	err = g.run(func() (err error) {
		tasks, err = g.next.ListHistoricTasks(ctx, filter)
		return err
	})
	return tasks, err
}
