// Package memory is an in-process engine used for tests and local
// development. It keeps open tasks, identity links, task variables and task
// history in maps guarded by one mutex.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/linkflow/humantask/internal/engine"
	"github.com/linkflow/humantask/internal/identity"
)

// Engine is an in-memory implementation of engine.Engine.
type Engine struct {
	mu sync.RWMutex

	instances map[string]*instance
	tasks     map[string]*taskRecord
	order     []string // open task ids in creation order
	history   []*historyRecord

	autoEnd bool
	now     func() time.Time
}

type instance struct {
	id        string
	key       string
	startedAt time.Time
}

type taskRecord struct {
	task      *engine.Task
	links     []engine.IdentityLink
	variables map[string]any
}

type historyRecord struct {
	task  *engine.HistoricTask
	links []engine.IdentityLink
}

// Option configures an Engine.
type Option func(*Engine)

// WithAutoEnd controls whether an instance ends when its last open task is
// completed. Enabled by default.
func WithAutoEnd(enabled bool) Option {
	return func(e *Engine) { e.autoEnd = enabled }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an empty engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		instances: make(map[string]*instance),
		tasks:     make(map[string]*taskRecord),
		autoEnd:   true,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// StartInstance creates a live process instance and returns its id.
func (e *Engine) StartInstance(definitionKey string) string {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := uuid.NewString()
	e.startInstanceLocked(id, definitionKey)
	return id
}

func (e *Engine) startInstanceLocked(id, definitionKey string) {
	e.instances[id] = &instance{id: id, key: definitionKey, startedAt: e.now()}
}

// EndInstance removes a live instance and discards its open tasks.
func (e *Engine) EndInstance(instanceID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.instances[instanceID]; !ok {
		return engine.ErrInstanceNotFound
	}
	delete(e.instances, instanceID)

	kept := e.order[:0]
	for _, id := range e.order {
		if e.tasks[id].task.InstanceID == instanceID {
			delete(e.tasks, id)
			continue
		}
		kept = append(kept, id)
	}
	e.order = kept
	return nil
}

// NewTask describes a task to create.
type NewTask struct {
	Name            string
	Assignee        string
	CandidateUsers  []string
	CandidateGroups []string
	Variables       map[string]any
}

// CreateTask opens a task in a live instance. Each entry of CandidateUsers and
// CandidateGroups becomes one raw identity link, so "a,b" stays delimited.
func (e *Engine) CreateTask(instanceID string, spec NewTask) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := uuid.NewString()
	if err := e.createTaskLocked(id, instanceID, spec); err != nil {
		return "", err
	}
	return id, nil
}

func (e *Engine) createTaskLocked(id, instanceID string, spec NewTask) error {
	if _, ok := e.instances[instanceID]; !ok {
		return engine.ErrInstanceNotFound
	}

	rec := &taskRecord{
		task: &engine.Task{
			ID:         id,
			InstanceID: instanceID,
			Name:       spec.Name,
			Assignee:   spec.Assignee,
			CreatedAt:  e.now(),
		},
		variables: make(map[string]any),
	}
	for _, v := range spec.CandidateUsers {
		rec.links = append(rec.links, engine.IdentityLink{TaskID: id, Kind: engine.LinkKindUser, Value: v})
	}
	for _, v := range spec.CandidateGroups {
		rec.links = append(rec.links, engine.IdentityLink{TaskID: id, Kind: engine.LinkKindGroup, Value: v})
	}

	for name, v := range spec.Variables {
		rec.variables[name] = v
	}

	e.tasks[id] = rec
	e.order = append(e.order, id)
	return nil
}

// AddIdentityLink appends a raw identity link to an open task.
func (e *Engine) AddIdentityLink(taskID string, kind engine.LinkKind, value string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, ok := e.tasks[taskID]
	if !ok {
		return engine.ErrTaskNotFound
	}
	rec.links = append(rec.links, engine.IdentityLink{TaskID: taskID, Kind: kind, Value: value})
	return nil
}

// TaskVariables returns a copy of the variables set on an open task.
func (e *Engine) TaskVariables(taskID string) (map[string]any, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rec, ok := e.tasks[taskID]
	if !ok {
		return nil, engine.ErrTaskNotFound
	}
	out := make(map[string]any, len(rec.variables))
	for k, v := range rec.variables {
		out[k] = v
	}
	return out, nil
}

func (e *Engine) ListOpenTasks(ctx context.Context, filter engine.TaskFilter) ([]*engine.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	tasks := make([]*engine.Task, 0)
	for _, id := range e.order {
		rec := e.tasks[id]
		if !matchesOpen(rec, filter) {
			continue
		}
		tasks = append(tasks, rec.snapshot())
	}
	return tasks, nil
}

func matchesOpen(rec *taskRecord, f engine.TaskFilter) bool {
	t := rec.task
	if f.InstanceID != "" && t.InstanceID != f.InstanceID {
		return false
	}
	if f.Assignee != "" && t.AssigneeID() != f.Assignee {
		return false
	}
	if f.Unassigned && t.IsAssigned() {
		return false
	}
	if f.CandidateUser != "" && !linkContains(rec.links, engine.LinkKindUser, f.CandidateUser) {
		return false
	}
	if f.CandidateGroup != "" && !linkContains(rec.links, engine.LinkKindGroup, f.CandidateGroup) {
		return false
	}
	return true
}

func linkContains(links []engine.IdentityLink, kind engine.LinkKind, needle string) bool {
	for _, l := range links {
		if l.Kind == kind && strings.Contains(l.Value, needle) {
			return true
		}
	}
	return false
}

func (r *taskRecord) snapshot() *engine.Task {
	t := r.task.Clone()
	t.CandidateUsers = nil
	t.CandidateGroups = nil
	for _, l := range r.links {
		switch l.Kind {
		case engine.LinkKindUser:
			t.CandidateUsers = append(t.CandidateUsers, l.Value)
		case engine.LinkKindGroup:
			t.CandidateGroups = append(t.CandidateGroups, l.Value)
		}
	}
	return t
}

func (e *Engine) GetTask(ctx context.Context, taskID string) (*engine.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	rec, ok := e.tasks[taskID]
	if !ok {
		return nil, engine.ErrTaskNotFound
	}
	return rec.snapshot(), nil
}

func (e *Engine) IdentityLinks(ctx context.Context, taskID string) ([]engine.IdentityLink, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	rec, ok := e.tasks[taskID]
	if !ok {
		return []engine.IdentityLink{}, nil
	}
	return append([]engine.IdentityLink{}, rec.links...), nil
}

func (e *Engine) InstanceExists(ctx context.Context, instanceID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, ok := e.instances[instanceID]
	return ok, nil
}

// Claim sets the assignee. Claiming a task already held by the same actor
// succeeds; a different holder yields ErrAlreadyClaimed.
func (e *Engine) Claim(ctx context.Context, taskID, actorID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	rec, ok := e.tasks[taskID]
	if !ok {
		return engine.ErrTaskNotFound
	}
	if rec.task.IsAssigned() && rec.task.Assignee != actorID {
		return fmt.Errorf("%w: held by %s", engine.ErrAlreadyClaimed, rec.task.Assignee)
	}
	rec.task.Assignee = actorID
	return nil
}

// Complete moves the task into history. With auto-end enabled, the instance
// ends when no open task remains.
func (e *Engine) Complete(ctx context.Context, taskID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	rec, ok := e.tasks[taskID]
	if !ok {
		return engine.ErrTaskNotFound
	}

	e.history = append(e.history, &historyRecord{
		task: &engine.HistoricTask{
			ID:         rec.task.ID,
			InstanceID: rec.task.InstanceID,
			Name:       rec.task.Name,
			Assignee:   rec.task.Assignee,
			StartedAt:  rec.task.CreatedAt,
			EndedAt:    e.now(),
		},
		links: append([]engine.IdentityLink(nil), rec.links...),
	})

	delete(e.tasks, taskID)
	remaining := 0
	kept := e.order[:0]
	for _, id := range e.order {
		if id == taskID {
			continue
		}
		kept = append(kept, id)
		if e.tasks[id].task.InstanceID == rec.task.InstanceID {
			remaining++
		}
	}
	e.order = kept

	if e.autoEnd && remaining == 0 {
		delete(e.instances, rec.task.InstanceID)
	}
	return nil
}

func (e *Engine) SetTaskVariables(ctx context.Context, taskID string, variables map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	rec, ok := e.tasks[taskID]
	if !ok {
		return engine.ErrTaskNotFound
	}
	for k, v := range variables {
		rec.variables[k] = v
	}
	return nil
}

func (e *Engine) AddCandidateGroup(ctx context.Context, taskID, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.AddIdentityLink(taskID, engine.LinkKindGroup, value)
}

// ListHistoricTasks returns history in completion order. Candidate filters
// match identifiers inside delimited link values.
func (e *Engine) ListHistoricTasks(ctx context.Context, filter engine.HistoryFilter) ([]*engine.HistoricTask, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]*engine.HistoricTask, 0)
	for _, h := range e.history {
		if filter.FinishedOnly && !h.task.Finished() {
			continue
		}
		if filter.Assignee != "" && strings.TrimSpace(h.task.Assignee) != filter.Assignee {
			continue
		}
		if filter.CandidateUser != "" && !linkHasMember(h.links, engine.LinkKindUser, filter.CandidateUser) {
			continue
		}
		if filter.CandidateGroup != "" && !linkHasMember(h.links, engine.LinkKindGroup, filter.CandidateGroup) {
			continue
		}
		clone := *h.task
		out = append(out, &clone)
	}
	return out, nil
}

func linkHasMember(links []engine.IdentityLink, kind engine.LinkKind, id string) bool {
	for _, l := range links {
		if l.Kind != kind {
			continue
		}
		for _, member := range identity.Parse(l.Value) {
			if member == id {
				return true
			}
		}
	}
	return false
}

var _ engine.Engine = (*Engine)(nil)
