package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/linkflow/humantask/internal/engine"
)

func TestCreateTaskRequiresLiveInstance(t *testing.T) {
	e := New()
	if _, err := e.CreateTask("missing", NewTask{Name: "review"}); !errors.Is(err, engine.ErrInstanceNotFound) {
		t.Errorf("CreateTask() error = %v, want ErrInstanceNotFound", err)
	}
}

func TestListOpenTasksFilters(t *testing.T) {
	ctx := context.Background()
	e := New()
	inst := e.StartInstance("leave")
	other := e.StartInstance("leave")

	t1, _ := e.CreateTask(inst, NewTask{Name: "manager", CandidateGroups: []string{"g1,g2"}})
	t2, _ := e.CreateTask(inst, NewTask{Name: "hr", Assignee: "alice"})
	_, _ = e.CreateTask(other, NewTask{Name: "manager", CandidateUsers: []string{"bob"}})

	tests := []struct {
		name   string
		filter engine.TaskFilter
		want   []string
	}{
		{name: "by instance", filter: engine.TaskFilter{InstanceID: inst}, want: []string{t1, t2}},
		{name: "by assignee", filter: engine.TaskFilter{Assignee: "alice"}, want: []string{t2}},
		{name: "coarse group", filter: engine.TaskFilter{CandidateGroup: "g2"}, want: []string{t1}},
		{name: "unassigned in instance", filter: engine.TaskFilter{InstanceID: inst, Unassigned: true}, want: []string{t1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tasks, err := e.ListOpenTasks(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListOpenTasks() error = %v", err)
			}
			if len(tasks) != len(tt.want) {
				t.Fatalf("ListOpenTasks() returned %d tasks, want %d", len(tasks), len(tt.want))
			}
			for i, task := range tasks {
				if task.ID != tt.want[i] {
					t.Errorf("task[%d] = %s, want %s", i, task.ID, tt.want[i])
				}
			}
		})
	}
}

func TestSnapshotCarriesRawCandidates(t *testing.T) {
	e := New()
	inst := e.StartInstance("leave")
	id, _ := e.CreateTask(inst, NewTask{CandidateUsers: []string{"u1"}, CandidateGroups: []string{"g1,g2"}})

	task, err := e.GetTask(context.Background(), id)
	if err != nil {
		t.Fatalf("GetTask() error = %v", err)
	}
	if len(task.CandidateGroups) != 1 || task.CandidateGroups[0] != "g1,g2" {
		t.Errorf("CandidateGroups = %q, want raw [g1,g2]", task.CandidateGroups)
	}
	if len(task.CandidateUsers) != 1 || task.CandidateUsers[0] != "u1" {
		t.Errorf("CandidateUsers = %q", task.CandidateUsers)
	}
}

func TestClaim(t *testing.T) {
	ctx := context.Background()
	e := New()
	inst := e.StartInstance("leave")
	id, _ := e.CreateTask(inst, NewTask{CandidateUsers: []string{"alice,bob"}})

	if err := e.Claim(ctx, id, "alice"); err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	if err := e.Claim(ctx, id, "alice"); err != nil {
		t.Errorf("re-claim by holder error = %v, want nil", err)
	}
	if err := e.Claim(ctx, id, "bob"); !errors.Is(err, engine.ErrAlreadyClaimed) {
		t.Errorf("Claim() by other error = %v, want ErrAlreadyClaimed", err)
	}
	if err := e.Claim(ctx, "missing", "bob"); !errors.Is(err, engine.ErrTaskNotFound) {
		t.Errorf("Claim() missing error = %v, want ErrTaskNotFound", err)
	}
}

func TestCompleteMovesTaskToHistoryAndEndsInstance(t *testing.T) {
	ctx := context.Background()
	ended := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	e := New(WithClock(func() time.Time { return ended }))
	inst := e.StartInstance("leave")
	t1, _ := e.CreateTask(inst, NewTask{Assignee: "alice"})
	t2, _ := e.CreateTask(inst, NewTask{CandidateGroups: []string{"g1,g2"}})

	if err := e.Complete(ctx, t1); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if ok, _ := e.InstanceExists(ctx, inst); !ok {
		t.Fatal("instance ended while a task is still open")
	}
	if err := e.Complete(ctx, t2); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if ok, _ := e.InstanceExists(ctx, inst); ok {
		t.Error("instance should end after its last task completes")
	}
	if err := e.Complete(ctx, t2); !errors.Is(err, engine.ErrTaskNotFound) {
		t.Errorf("second Complete() error = %v, want ErrTaskNotFound", err)
	}

	hist, err := e.ListHistoricTasks(ctx, engine.HistoryFilter{CandidateGroup: "g2", FinishedOnly: true})
	if err != nil {
		t.Fatalf("ListHistoricTasks() error = %v", err)
	}
	if len(hist) != 1 || hist[0].ID != t2 || !hist[0].EndedAt.Equal(ended) {
		t.Errorf("history by group = %+v, want task %s", hist, t2)
	}

	hist, _ = e.ListHistoricTasks(ctx, engine.HistoryFilter{CandidateGroup: "g"})
	if len(hist) != 0 {
		t.Errorf("history filter must match whole identifiers, got %d tasks", len(hist))
	}
}

func TestWithAutoEndDisabled(t *testing.T) {
	ctx := context.Background()
	e := New(WithAutoEnd(false))
	inst := e.StartInstance("leave")
	id, _ := e.CreateTask(inst, NewTask{})

	_ = e.Complete(ctx, id)
	if ok, _ := e.InstanceExists(ctx, inst); !ok {
		t.Error("instance should stay live with auto-end disabled")
	}
	if err := e.EndInstance(inst); err != nil {
		t.Fatalf("EndInstance() error = %v", err)
	}
	if ok, _ := e.InstanceExists(ctx, inst); ok {
		t.Error("instance should be gone after EndInstance")
	}
}

func TestSetTaskVariables(t *testing.T) {
	ctx := context.Background()
	e := New()
	inst := e.StartInstance("leave")
	id, _ := e.CreateTask(inst, NewTask{})

	if err := e.SetTaskVariables(ctx, id, map[string]any{"days": 3}); err != nil {
		t.Fatalf("SetTaskVariables() error = %v", err)
	}
	vars, _ := e.TaskVariables(id)
	if vars["days"] != 3 {
		t.Errorf("days = %v, want 3", vars["days"])
	}
	if err := e.SetTaskVariables(ctx, "missing", nil); !errors.Is(err, engine.ErrTaskNotFound) {
		t.Errorf("SetTaskVariables() missing error = %v", err)
	}
}

func TestCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := New().ListOpenTasks(ctx, engine.TaskFilter{}); !errors.Is(err, context.Canceled) {
		t.Errorf("ListOpenTasks() error = %v, want context.Canceled", err)
	}
}
