package participant

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/linkflow/humantask/internal/engine"
	"github.com/linkflow/humantask/internal/engine/memory"
	"github.com/linkflow/humantask/internal/identity"
	"github.com/linkflow/humantask/internal/observability/metrics"
	"github.com/linkflow/humantask/internal/taskquery"
)

type fixture struct {
	engine   *memory.Engine
	resolver *Resolver
	instance string
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	e := memory.New()
	return &fixture{
		engine:   e,
		resolver: NewResolver(taskquery.New(e, nil, nil), opts...),
		instance: e.StartInstance("leave"),
	}
}

func (f *fixture) task(t *testing.T, spec memory.NewTask) *engine.Task {
	t.Helper()
	id, err := f.engine.CreateTask(f.instance, spec)
	if err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}
	task, err := f.engine.GetTask(context.Background(), id)
	if err != nil {
		t.Fatalf("GetTask() error = %v", err)
	}
	return task
}

func TestResolveChannel(t *testing.T) {
	f := newFixture(t)
	t1 := f.task(t, memory.NewTask{Name: "T1", CandidateGroups: []string{"g1,g2"}, CandidateUsers: []string{"u1"}})
	t2 := f.task(t, memory.NewTask{Name: "T2", Assignee: "alice", CandidateGroups: []string{"g1,g2"}, CandidateUsers: []string{"u1"}})

	tests := []struct {
		name    string
		task    *engine.Task
		channel engine.Channel
		want    []string
	}{
		{name: "unassigned groups", task: t1, channel: engine.ChannelCandidateGroup, want: []string{"g1", "g2"}},
		{name: "unassigned users", task: t1, channel: engine.ChannelCandidateUser, want: []string{"u1"}},
		{name: "unassigned assignee", task: t1, channel: engine.ChannelAssignee, want: []string{}},
		{name: "unassigned merged", task: t1, channel: engine.ChannelMerged, want: []string{"u1", "g1", "g2"}},
		{name: "assigned groups", task: t2, channel: engine.ChannelCandidateGroup, want: []string{}},
		{name: "assigned users", task: t2, channel: engine.ChannelCandidateUser, want: []string{}},
		{name: "assigned assignee", task: t2, channel: engine.ChannelAssignee, want: []string{"alice"}},
		{name: "assigned merged", task: t2, channel: engine.ChannelMerged, want: []string{"alice"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.resolver.ResolveChannel(context.Background(), tt.task, tt.channel)
			if err != nil {
				t.Fatalf("ResolveChannel() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ResolveChannel() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResolveChannelDeduplicatesAcrossLinks(t *testing.T) {
	f := newFixture(t)
	task := f.task(t, memory.NewTask{CandidateGroups: []string{" g1 , ,g2,", "g2,g3", "g1"}})

	got, err := f.resolver.ResolveChannel(context.Background(), task, engine.ChannelCandidateGroup)
	if err != nil {
		t.Fatalf("ResolveChannel() error = %v", err)
	}
	if want := []string{"g1", "g2", "g3"}; !reflect.DeepEqual(got, want) {
		t.Errorf("ResolveChannel() = %q, want %q", got, want)
	}
}

func TestResolveMergedDeduplicatesAcrossChannels(t *testing.T) {
	f := newFixture(t)
	task := f.task(t, memory.NewTask{CandidateUsers: []string{"x,y"}, CandidateGroups: []string{"y,z,x"}})

	got, err := f.resolver.ResolveMerged(context.Background(), task)
	if err != nil {
		t.Fatalf("ResolveMerged() error = %v", err)
	}
	if want := []string{"x", "y", "z"}; !reflect.DeepEqual(got, want) {
		t.Errorf("ResolveMerged() = %q, want %q", got, want)
	}

	groups, _ := f.resolver.ResolveChannel(context.Background(), task, engine.ChannelCandidateGroup)
	if want := []string{"y", "z", "x"}; !reflect.DeepEqual(groups, want) {
		t.Errorf("channel query keeps its own order, got %q want %q", groups, want)
	}
}

func TestResolveMergedStartsWithAssignee(t *testing.T) {
	f := newFixture(t)
	tasks := []*engine.Task{
		f.task(t, memory.NewTask{Assignee: "bob", CandidateUsers: []string{"bob,carol"}}),
		f.task(t, memory.NewTask{Assignee: " ", CandidateUsers: []string{"carol"}}),
		f.task(t, memory.NewTask{CandidateGroups: []string{"hr"}}),
	}

	ctx := context.Background()
	for _, task := range tasks {
		assignee, err := f.resolver.ResolveChannel(ctx, task, engine.ChannelAssignee)
		if err != nil {
			t.Fatalf("ResolveChannel() error = %v", err)
		}
		merged, err := f.resolver.ResolveMerged(ctx, task)
		if err != nil {
			t.Fatalf("ResolveMerged() error = %v", err)
		}
		if len(merged) < len(assignee) || !reflect.DeepEqual(merged[:len(assignee)], assignee) {
			t.Errorf("merged %q does not start with assignee %q", merged, assignee)
		}
	}
}

func TestResolveChannelLegacyParser(t *testing.T) {
	f := newFixture(t, WithParser(identity.NewParser(identity.ModeLegacy)))
	task := f.task(t, memory.NewTask{CandidateUsers: []string{"alice", "b", "carol,dave"}})

	got, err := f.resolver.ResolveChannel(context.Background(), task, engine.ChannelCandidateUser)
	if err != nil {
		t.Fatalf("ResolveChannel() error = %v", err)
	}
	if want := []string{"b", "carol", "dave"}; !reflect.DeepEqual(got, want) {
		t.Errorf("ResolveChannel() = %q, want %q", got, want)
	}
}

func TestResolveForInstance(t *testing.T) {
	f := newFixture(t)
	t1 := f.task(t, memory.NewTask{CandidateGroups: []string{"g1,g2"}})
	t2 := f.task(t, memory.NewTask{Assignee: "alice"})

	got, err := f.resolver.ResolveForInstance(context.Background(), f.instance, engine.ChannelCandidateGroup)
	if err != nil {
		t.Fatalf("ResolveForInstance() error = %v", err)
	}
	want := map[string][]string{
		t1.ID: {"g1", "g2"},
		t2.ID: {},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ResolveForInstance() = %v, want %v", got, want)
	}

	empty := f.engine.StartInstance("leave")
	got, err = f.resolver.ResolveForInstance(context.Background(), empty, engine.ChannelMerged)
	if err != nil || len(got) != 0 {
		t.Errorf("ResolveForInstance(empty) = %v, %v; want no entries", got, err)
	}
}

func TestInstanceTaskIDsForActor(t *testing.T) {
	f := newFixture(t)
	open := f.task(t, memory.NewTask{CandidateUsers: []string{"alice,bob"}})
	held := f.task(t, memory.NewTask{Assignee: "alice", CandidateUsers: []string{"alice"}})
	group := f.task(t, memory.NewTask{CandidateGroups: []string{"alice"}})

	tests := []struct {
		name    string
		channel engine.Channel
		want    []string
	}{
		{name: "candidate user skips assigned", channel: engine.ChannelCandidateUser, want: []string{open.ID}},
		{name: "assignee", channel: engine.ChannelAssignee, want: []string{held.ID}},
		{name: "group", channel: engine.ChannelCandidateGroup, want: []string{group.ID}},
		{name: "merged", channel: engine.ChannelMerged, want: []string{open.ID, held.ID, group.ID}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.resolver.InstanceTaskIDsForActor(context.Background(), f.instance, "alice", tt.channel)
			if err != nil {
				t.Fatalf("InstanceTaskIDsForActor() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("InstanceTaskIDsForActor() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestActorHasOpenWork(t *testing.T) {
	f := newFixture(t)
	f.task(t, memory.NewTask{Assignee: "alice"})
	f.task(t, memory.NewTask{CandidateGroups: []string{"hr,finance"}})

	tests := []struct {
		actor string
		want  bool
	}{
		{actor: "alice", want: true},
		{actor: "finance", want: true},
		{actor: "fin", want: false},
		{actor: "mallory", want: false},
		{actor: "", want: false},
	}
	for _, tt := range tests {
		got, err := f.resolver.ActorHasOpenWork(context.Background(), tt.actor)
		if err != nil {
			t.Fatalf("ActorHasOpenWork(%q) error = %v", tt.actor, err)
		}
		if got != tt.want {
			t.Errorf("ActorHasOpenWork(%q) = %v, want %v", tt.actor, got, tt.want)
		}
	}
}

func TestPaddedAssigneeIsTrimmed(t *testing.T) {
	f := newFixture(t)
	task := f.task(t, memory.NewTask{Assignee: " bob "})
	ctx := context.Background()

	got, err := f.resolver.ResolveChannel(ctx, task, engine.ChannelAssignee)
	if err != nil {
		t.Fatalf("ResolveChannel() error = %v", err)
	}
	if want := []string{"bob"}; !reflect.DeepEqual(got, want) {
		t.Errorf("ResolveChannel() = %q, want %q", got, want)
	}

	open, err := f.resolver.ActorHasOpenWork(ctx, "bob")
	if err != nil {
		t.Fatalf("ActorHasOpenWork() error = %v", err)
	}
	if !open {
		t.Error("ActorHasOpenWork(bob) = false for a task assigned to \" bob \"")
	}
}

func TestInstanceActorsAndParticipants(t *testing.T) {
	f := newFixture(t)
	t1 := f.task(t, memory.NewTask{CandidateUsers: []string{"u1,u2"}})
	t2 := f.task(t, memory.NewTask{Assignee: "u2"})

	actors, err := f.resolver.InstanceActors(context.Background(), f.instance, engine.ChannelMerged)
	if err != nil {
		t.Fatalf("InstanceActors() error = %v", err)
	}
	if want := []string{"u1", "u2"}; !reflect.DeepEqual(actors, want) {
		t.Errorf("InstanceActors() = %q, want %q", actors, want)
	}

	participants, err := f.resolver.InstanceParticipants(context.Background(), f.instance)
	if err != nil {
		t.Fatalf("InstanceParticipants() error = %v", err)
	}
	want := map[string][]string{t1.ID: {"u1", "u2"}, t2.ID: {"u2"}}
	if !reflect.DeepEqual(participants, want) {
		t.Errorf("InstanceParticipants() = %v, want %v", participants, want)
	}
}

func TestActorInstanceIDs(t *testing.T) {
	f := newFixture(t)
	f.task(t, memory.NewTask{CandidateGroups: []string{"hr"}})
	f.task(t, memory.NewTask{CandidateGroups: []string{"hr,it"}})
	other := f.engine.StartInstance("expense")
	if _, err := f.engine.CreateTask(other, memory.NewTask{CandidateGroups: []string{"hr"}}); err != nil {
		t.Fatal(err)
	}

	got, err := f.resolver.ActorInstanceIDs(context.Background(), "hr", engine.ChannelCandidateGroup)
	if err != nil {
		t.Fatalf("ActorInstanceIDs() error = %v", err)
	}
	if want := []string{f.instance, other}; !reflect.DeepEqual(got, want) {
		t.Errorf("ActorInstanceIDs() = %v, want %v", got, want)
	}
}

func TestResolverInvalidChannel(t *testing.T) {
	f := newFixture(t)
	task := f.task(t, memory.NewTask{})

	if _, err := f.resolver.ResolveChannel(context.Background(), task, engine.Channel(0)); !errors.Is(err, engine.ErrInvalidChannel) {
		t.Errorf("ResolveChannel() error = %v, want ErrInvalidChannel", err)
	}
	if _, err := f.resolver.ResolveForInstance(context.Background(), f.instance, engine.Channel(9)); !errors.Is(err, engine.ErrInvalidChannel) {
		t.Errorf("ResolveForInstance() error = %v, want ErrInvalidChannel", err)
	}
}

func TestResolverRecordsMetrics(t *testing.T) {
	m := metrics.New()
	f := newFixture(t, WithMetrics(m))
	task := f.task(t, memory.NewTask{CandidateUsers: []string{"u1"}})

	if _, err := f.resolver.ResolveMerged(context.Background(), task); err != nil {
		t.Fatal(err)
	}
	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == "humantask_resolutions_total" {
			return
		}
	}
	t.Error("humantask_resolutions_total not recorded")
}
