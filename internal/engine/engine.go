// Package engine defines the surface this service consumes from the external
// process engine, together with the task data model and error taxonomy.
//
// The engine owns process definitions, instances, task records and execution.
// Adapters live in the memory and postgres subpackages.
package engine

import (
	"context"
	"errors"
)

var (
	ErrTaskNotFound     = errors.New("task not found")
	ErrInstanceNotFound = errors.New("process instance not found")
	ErrAlreadyClaimed   = errors.New("task already claimed")
	ErrNoOpenTasks      = errors.New("process instance has no open tasks")
	ErrInvalidChannel   = errors.New("invalid participation channel")
	ErrUnavailable      = errors.New("process engine unavailable")
)

// TaskQuerier reads open tasks and their eligibility records.
type TaskQuerier interface {
	ListOpenTasks(ctx context.Context, filter TaskFilter) ([]*Task, error)
	GetTask(ctx context.Context, taskID string) (*Task, error)
	IdentityLinks(ctx context.Context, taskID string) ([]IdentityLink, error)
	InstanceExists(ctx context.Context, instanceID string) (bool, error)
}

// TaskMutator changes open tasks. Every method returns ErrTaskNotFound when
// the task is absent.
type TaskMutator interface {
	Claim(ctx context.Context, taskID, actorID string) error
	Complete(ctx context.Context, taskID string) error
	SetTaskVariables(ctx context.Context, taskID string, variables map[string]any) error
	AddCandidateGroup(ctx context.Context, taskID, value string) error
}

// HistoryQuerier reads historic task records.
type HistoryQuerier interface {
	ListHistoricTasks(ctx context.Context, filter HistoryFilter) ([]*HistoricTask, error)
}

// Engine is the full surface of the external process engine.
type Engine interface {
	TaskQuerier
	TaskMutator
	HistoryQuerier
}
