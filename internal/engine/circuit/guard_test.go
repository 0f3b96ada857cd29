package circuit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/linkflow/humantask/internal/engine"
	"github.com/linkflow/humantask/internal/engine/memory"
)

// flaky fails every GetTask with err while err is set.
type flaky struct {
	engine.Engine
	err   error
	calls int
}

func (f *flaky) GetTask(ctx context.Context, taskID string) (*engine.Task, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.Engine.GetTask(ctx, taskID)
}

func TestGuardOpensOnEngineFailures(t *testing.T) {
	mem := memory.New()
	inst := mem.StartInstance("leave")
	id, err := mem.CreateTask(inst, memory.NewTask{Name: "review", Assignee: "ann"})
	if err != nil {
		t.Fatal(err)
	}

	f := &flaky{Engine: mem}
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	b := newBreaker("engine", testConfig(), c.now)
	g := Guard(f, b)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := g.GetTask(ctx, "missing"); !errors.Is(err, engine.ErrTaskNotFound) {
			t.Fatalf("GetTask(missing) error = %v", err)
		}
	}
	if b.State() != StateClosed {
		t.Fatalf("State = %v; not-found answers must not trip the breaker", b.State())
	}

	f.err = errors.New("connection reset")
	for i := 0; i < 2; i++ {
		if _, err := g.GetTask(ctx, id); errors.Is(err, engine.ErrUnavailable) {
			t.Fatalf("call %d failed fast before the breaker opened", i)
		}
	}

	calls := f.calls
	_, err = g.GetTask(ctx, id)
	if !errors.Is(err, engine.ErrUnavailable) || !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("GetTask() error = %v, want ErrUnavailable", err)
	}
	if f.calls != calls {
		t.Error("open breaker must not reach the engine")
	}

	// Other calls share the breaker.
	if err := g.Claim(ctx, id, "ann"); !errors.Is(err, engine.ErrUnavailable) {
		t.Errorf("Claim() error = %v, want ErrUnavailable", err)
	}

	f.err = nil
	c.advance(time.Minute)
	for i := 0; i < 2; i++ {
		task, err := g.GetTask(ctx, id)
		if err != nil || task.Assignee != "ann" {
			t.Fatalf("probe %d = %+v, %v", i, task, err)
		}
	}
	if b.State() != StateClosed {
		t.Errorf("State = %v, want StateClosed after successful probes", b.State())
	}
}

func TestGuardNilBreaker(t *testing.T) {
	mem := memory.New()
	if Guard(mem, nil) != engine.Engine(mem) {
		t.Error("Guard with a nil breaker should return the engine unchanged")
	}
}

func TestIsEngineFailure(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{err: nil, want: false},
		{err: engine.ErrTaskNotFound, want: false},
		{err: engine.ErrAlreadyClaimed, want: false},
		{err: context.Canceled, want: false},
		{err: context.DeadlineExceeded, want: true},
		{err: errors.New("dial tcp: connection refused"), want: true},
	}
	for _, tt := range tests {
		if got := IsEngineFailure(tt.err); got != tt.want {
			t.Errorf("IsEngineFailure(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
