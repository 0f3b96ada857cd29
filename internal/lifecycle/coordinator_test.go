package lifecycle

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"reflect"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/linkflow/humantask/internal/engine"
	"github.com/linkflow/humantask/internal/engine/memory"
	"github.com/linkflow/humantask/internal/observability/metrics"
	"github.com/linkflow/humantask/internal/taskquery"
)

func newCoordinator(e *memory.Engine, logger *slog.Logger, m *metrics.Metrics) *Coordinator {
	return New(taskquery.New(e, nil, logger), e, logger, m)
}

func TestClaim(t *testing.T) {
	ctx := context.Background()
	e := memory.New()
	inst := e.StartInstance("leave")
	id, _ := e.CreateTask(inst, memory.NewTask{CandidateUsers: []string{"alice,bob"}})
	c := newCoordinator(e, nil, nil)

	if err := c.Claim(ctx, id, "alice"); err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	task, _ := e.GetTask(ctx, id)
	if task.Assignee != "alice" {
		t.Errorf("Assignee = %q, want alice", task.Assignee)
	}

	err := c.Claim(ctx, id, "bob")
	if !errors.Is(err, engine.ErrAlreadyClaimed) {
		t.Errorf("Claim() by bob error = %v, want ErrAlreadyClaimed", err)
	}
	if !IsRace(err) {
		t.Error("IsRace() = false for ErrAlreadyClaimed")
	}

	if err := c.Claim(ctx, "gone", "bob"); !errors.Is(err, engine.ErrTaskNotFound) {
		t.Errorf("Claim() missing error = %v, want ErrTaskNotFound", err)
	}
}

func TestCompleteAndInstanceEnd(t *testing.T) {
	ctx := context.Background()
	e := memory.New()
	inst := e.StartInstance("leave")
	t1, _ := e.CreateTask(inst, memory.NewTask{Assignee: "alice"})
	t2, _ := e.CreateTask(inst, memory.NewTask{Assignee: "bob"})
	c := newCoordinator(e, nil, nil)

	if err := c.Complete(ctx, t1); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if ended, _ := c.IsInstanceEnded(ctx, inst); ended {
		t.Fatal("IsInstanceEnded() = true with a task still open")
	}
	if err := c.CompleteAs(ctx, t2, "bob"); err != nil {
		t.Fatalf("CompleteAs() error = %v", err)
	}
	if ended, _ := c.IsInstanceEnded(ctx, inst); !ended {
		t.Error("IsInstanceEnded() = false after the last task completed")
	}
	if err := c.Complete(ctx, t2); !errors.Is(err, engine.ErrTaskNotFound) {
		t.Errorf("Complete() twice error = %v, want ErrTaskNotFound", err)
	}
}

func TestIsInstanceEndedIgnoresTaskCount(t *testing.T) {
	ctx := context.Background()
	e := memory.New(memory.WithAutoEnd(false))
	inst := e.StartInstance("leave")
	id, _ := e.CreateTask(inst, memory.NewTask{})
	c := newCoordinator(e, nil, nil)

	_ = c.Complete(ctx, id)
	if ended, _ := c.IsInstanceEnded(ctx, inst); ended {
		t.Error("instance without open tasks is still live until the engine ends it")
	}
	if ended, _ := c.IsInstanceEnded(ctx, "never-started"); !ended {
		t.Error("unknown instance should report ended")
	}
}

func TestPropagateVariables(t *testing.T) {
	ctx := context.Background()
	e := memory.New()
	inst := e.StartInstance("leave")
	t1, _ := e.CreateTask(inst, memory.NewTask{CandidateGroups: []string{"managers"}})
	t2, _ := e.CreateTask(inst, memory.NewTask{Assignee: "hr"})
	c := newCoordinator(e, nil, nil)

	n, err := c.PropagateVariables(ctx, inst, map[string]any{"comment": "ok"})
	if err != nil {
		t.Fatalf("PropagateVariables() error = %v", err)
	}
	if n != 2 {
		t.Errorf("PropagateVariables() updated %d tasks, want 2", n)
	}
	for _, id := range []string{t1, t2} {
		vars, _ := e.TaskVariables(id)
		if !reflect.DeepEqual(vars, map[string]any{"comment": "ok"}) {
			t.Errorf("task %s variables = %v", id, vars)
		}
	}
}

func TestPropagateVariablesNoOpenTasks(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	m := metrics.New()

	e := memory.New()
	inst := e.StartInstance("leave")
	c := newCoordinator(e, logger, m)

	n, err := c.PropagateVariables(context.Background(), inst, map[string]any{"x": 1})
	if err != nil {
		t.Fatalf("PropagateVariables() error = %v, want nil", err)
	}
	if n != 0 {
		t.Errorf("PropagateVariables() updated %d, want 0", n)
	}
	if !strings.Contains(buf.String(), engine.ErrNoOpenTasks.Error()) {
		t.Errorf("log output %q does not mention %q", buf.String(), engine.ErrNoOpenTasks)
	}
	if !strings.Contains(buf.String(), `"level":"WARN"`) {
		t.Errorf("no-op should be logged at warn, got %q", buf.String())
	}
}

// staleLocator returns a fixed task snapshot regardless of engine state.
type staleLocator struct {
	tasks []*engine.Task
}

func (s staleLocator) TasksForInstance(context.Context, string) ([]*engine.Task, error) {
	return s.tasks, nil
}

func (s staleLocator) InstanceExists(context.Context, string) (bool, error) {
	return true, nil
}

func TestPropagateVariablesStopsOnVanishedTask(t *testing.T) {
	ctx := context.Background()
	e := memory.New(memory.WithAutoEnd(false))
	inst := e.StartInstance("leave")
	t1, _ := e.CreateTask(inst, memory.NewTask{})
	t2, _ := e.CreateTask(inst, memory.NewTask{})
	t3, _ := e.CreateTask(inst, memory.NewTask{})

	snapshot, _ := e.ListOpenTasks(ctx, engine.TaskFilter{InstanceID: inst})
	_ = e.Complete(ctx, t2)

	c := New(staleLocator{tasks: snapshot}, e, nil, nil)
	n, err := c.PropagateVariables(ctx, inst, map[string]any{"k": "v"})
	if !errors.Is(err, engine.ErrTaskNotFound) {
		t.Fatalf("PropagateVariables() error = %v, want ErrTaskNotFound", err)
	}
	if !strings.Contains(err.Error(), t2) {
		t.Errorf("error %q should name task %s", err, t2)
	}
	if n != 1 {
		t.Errorf("updated = %d, want 1", n)
	}
	if vars, _ := e.TaskVariables(t1); vars["k"] != "v" {
		t.Error("write before the failure should be kept")
	}
	if vars, _ := e.TaskVariables(t3); len(vars) != 0 {
		t.Error("tasks after the failure should not be written")
	}
}

func TestAddCandidateGroups(t *testing.T) {
	ctx := context.Background()
	e := memory.New()
	inst := e.StartInstance("leave")
	id, _ := e.CreateTask(inst, memory.NewTask{})
	c := newCoordinator(e, nil, nil)

	if err := c.AddCandidateGroups(ctx, id, []string{"hr", " ", "finance"}); err != nil {
		t.Fatalf("AddCandidateGroups() error = %v", err)
	}
	links, _ := e.IdentityLinks(ctx, id)
	want := []engine.IdentityLink{{TaskID: id, Kind: engine.LinkKindGroup, Value: "hr,finance,"}}
	if !reflect.DeepEqual(links, want) {
		t.Errorf("links = %+v, want %+v", links, want)
	}

	if err := c.AddCandidateGroups(ctx, id, []string{"", "  "}); err != nil {
		t.Errorf("AddCandidateGroups(blank) error = %v", err)
	}
	if links, _ := e.IdentityLinks(ctx, id); len(links) != 1 {
		t.Errorf("blank groups should write nothing, got %d links", len(links))
	}

	if err := c.AddCandidateGroups(ctx, "gone", []string{"hr"}); !errors.Is(err, engine.ErrTaskNotFound) {
		t.Errorf("AddCandidateGroups() missing error = %v, want ErrTaskNotFound", err)
	}
}

func TestLifecycleMetrics(t *testing.T) {
	ctx := context.Background()
	m := metrics.New()
	e := memory.New()
	inst := e.StartInstance("leave")
	id, _ := e.CreateTask(inst, memory.NewTask{})
	c := newCoordinator(e, nil, m)

	_ = c.Claim(ctx, id, "alice")
	_ = c.Claim(ctx, id, "bob")
	_ = c.Complete(ctx, "gone")

	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatal(err)
	}
	counts := make(map[string]float64)
	for _, mf := range families {
		if mf.GetName() != "humantask_lifecycle_total" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			var op, outcome string
			for _, l := range metric.GetLabel() {
				switch l.GetName() {
				case "op":
					op = l.GetValue()
				case "outcome":
					outcome = l.GetValue()
				}
			}
			counts[op+"/"+outcome] = metric.GetCounter().GetValue()
		}
	}

	want := map[string]float64{
		"claim/ok":              1,
		"claim/already_claimed": 1,
		"complete/not_found":    1,
	}
	if !reflect.DeepEqual(counts, want) {
		t.Errorf("lifecycle counters = %v, want %v", counts, want)
	}
	if n, err := testutil.GatherAndCount(m.Registry(), "humantask_lifecycle_total"); err != nil || n != 3 {
		t.Errorf("GatherAndCount() = %d, %v; want 3", n, err)
	}
}
