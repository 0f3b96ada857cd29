package engine

import (
	"context"
	"time"
)

// CallObserver receives the latency of every engine call.
type CallObserver interface {
	ObserveEngineCall(call string, d time.Duration, err error)
}

type instrumented struct {
	next     Engine
	observer CallObserver
}

// Instrument wraps e so that each call is reported to observer.
func Instrument(e Engine, observer CallObserver) Engine {
	if observer == nil {
		return e
	}
	return &instrumented{next: e, observer: observer}
}

func (i *instrumented) observe(call string, start time.Time, err error) {
	i.observer.ObserveEngineCall(call, time.Since(start), err)
}

func (i *instrumented) ListOpenTasks(ctx context.Context, filter TaskFilter) (tasks []*Task, err error) {
	defer func(start time.Time) { i.observe("list_open_tasks", start, err) }(time.Now())
	return i.next.ListOpenTasks(ctx, filter)
}

func (i *instrumented) GetTask(ctx context.Context, taskID string) (task *Task, err error) {
	defer func(start time.Time) { i.observe("get_task", start, err) }(time.Now())
	return i.next.GetTask(ctx, taskID)
}

func (i *instrumented) IdentityLinks(ctx context.Context, taskID string) (links []IdentityLink, err error) {
	defer func(start time.Time) { i.observe("identity_links", start, err) }(time.Now())
	return i.next.IdentityLinks(ctx, taskID)
}

func (i *instrumented) InstanceExists(ctx context.Context, instanceID string) (ok bool, err error) {
	defer func(start time.Time) { i.observe("instance_exists", start, err) }(time.Now())
	return i.next.InstanceExists(ctx, instanceID)
}

func (i *instrumented) Claim(ctx context.Context, taskID, actorID string) (err error) {
	defer func(start time.Time) { i.observe("claim", start, err) }(time.Now())
	return i.next.Claim(ctx, taskID, actorID)
}

func (i *instrumented) Complete(ctx context.Context, taskID string) (err error) {
	defer func(start time.Time) { i.observe("complete", start, err) }(time.Now())
	return i.next.Complete(ctx, taskID)
}

func (i *instrumented) SetTaskVariables(ctx context.Context, taskID string, variables map[string]any) (err error) {
	defer func(start time.Time) { i.observe("set_task_variables", start, err) }(time.Now())
	return i.next.SetTaskVariables(ctx, taskID, variables)
}

func (i *instrumented) AddCandidateGroup(ctx context.Context, taskID, value string) (err error) {
	defer func(start time.Time) { i.observe("add_candidate_group", start, err) }(time.Now())
	return i.next.AddCandidateGroup(ctx, taskID, value)
}

func (i *instrumented) ListHistoricTasks(ctx context.Context, filter HistoryFilter) (tasks []*HistoricTask, err error) {
	defer func(start time.Time) { i.observe("list_historic_tasks", start, err) }(time.Now())
	return i.next.ListHistoricTasks(ctx, filter)
}
