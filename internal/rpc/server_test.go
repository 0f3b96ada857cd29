package rpc

import (
	"context"
	"fmt"
	"net"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/linkflow/humantask/internal/engine"
	"github.com/linkflow/humantask/internal/engine/memory"
	"github.com/linkflow/humantask/internal/frontend"
	"github.com/linkflow/humantask/internal/history"
	"github.com/linkflow/humantask/internal/lifecycle"
	"github.com/linkflow/humantask/internal/participant"
	"github.com/linkflow/humantask/internal/taskquery"
)

type rpcFixture struct {
	engine *memory.Engine
	conn   *grpc.ClientConn
	inst   string
	review string
	sign   string
}

func newRPCFixture(t *testing.T) *rpcFixture {
	t.Helper()
	e := memory.New()
	inst := e.StartInstance("leave")
	review, _ := e.CreateTask(inst, memory.NewTask{Name: "review", CandidateUsers: []string{"u1"}, CandidateGroups: []string{"g1,g2"}})
	sign, _ := e.CreateTask(inst, memory.NewTask{Name: "sign", Assignee: "alice"})

	facade := taskquery.New(e, nil, nil)
	svc := frontend.NewService(
		facade,
		participant.NewResolver(facade),
		lifecycle.New(facade, e, nil, nil),
		history.NewAggregator(e, nil, nil),
		nil,
		frontend.DefaultServiceConfig(),
	)

	gs, _ := NewGRPCServer(svc, nil, Config{})
	lis := bufconn.Listen(1 << 20)
	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(gs.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("grpc.NewClient() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	return &rpcFixture{engine: e, conn: conn, inst: inst, review: review, sign: sign}
}

func TestResolveOverGRPC(t *testing.T) {
	f := newRPCFixture(t)
	c := NewClient(f.conn)
	ctx := context.Background()

	actors, err := c.ResolveTask(ctx, f.review, "")
	if err != nil {
		t.Fatalf("ResolveTask() error = %v", err)
	}
	if len(actors) != 3 || actors[0] != "u1" || actors[1] != "g1" || actors[2] != "g2" {
		t.Errorf("ResolveTask() = %v, want [u1 g1 g2]", actors)
	}

	tasks, err := c.ResolveInstance(ctx, f.inst, "assignee")
	if err != nil {
		t.Fatalf("ResolveInstance() error = %v", err)
	}
	if len(tasks) != 2 || tasks[0].TaskID != f.review || len(tasks[0].Actors) != 0 || tasks[1].Actors[0] != "alice" {
		t.Errorf("ResolveInstance() = %+v", tasks)
	}

	ids, err := c.InstanceTaskIDs(ctx, f.inst, "g1", "candidate_group")
	if err != nil || len(ids) != 1 || ids[0] != f.review {
		t.Errorf("InstanceTaskIDs() = %v, %v", ids, err)
	}

	if _, err := c.ResolveTask(ctx, "missing", ""); status.Code(err) != codes.NotFound {
		t.Errorf("missing task code = %v, want NotFound", status.Code(err))
	}
	if _, err := c.ResolveTask(ctx, f.review, "owner"); status.Code(err) != codes.InvalidArgument {
		t.Errorf("bad channel code = %v, want InvalidArgument", status.Code(err))
	}
}

func TestLifecycleOverGRPC(t *testing.T) {
	f := newRPCFixture(t)
	ctx := context.Background()

	anonymous := NewClient(f.conn)
	if err := anonymous.ClaimTask(ctx, f.review); status.Code(err) != codes.Unauthenticated {
		t.Errorf("anonymous claim code = %v, want Unauthenticated", status.Code(err))
	}

	if err := NewClient(f.conn, WithActor("mallory")).ClaimTask(ctx, f.review); status.Code(err) != codes.PermissionDenied {
		t.Errorf("claim without work code = %v, want PermissionDenied", status.Code(err))
	}

	u1 := NewClient(f.conn, WithActor("u1"))
	if err := u1.ClaimTask(ctx, f.review); err != nil {
		t.Fatalf("ClaimTask() error = %v", err)
	}

	alice := NewClient(f.conn, WithActor("alice"))
	if err := alice.ClaimTask(ctx, f.review); status.Code(err) != codes.FailedPrecondition {
		t.Errorf("lost claim code = %v, want FailedPrecondition", status.Code(err))
	}

	n, err := u1.PropagateVariables(ctx, f.inst, map[string]any{"days": 3, "note": "ok"})
	if err != nil || n != 2 {
		t.Fatalf("PropagateVariables() = %d, %v; want 2", n, err)
	}
	vars, _ := f.engine.TaskVariables(f.sign)
	if vars["note"] != "ok" || vars["days"] != float64(3) {
		t.Errorf("sign variables = %v", vars)
	}

	if err := u1.CompleteTask(ctx, f.review); err != nil {
		t.Fatalf("CompleteTask(review) error = %v", err)
	}
	if err := alice.CompleteTask(ctx, f.sign); err != nil {
		t.Fatalf("CompleteTask(sign) error = %v", err)
	}

	ended, err := anonymous.InstanceEnded(ctx, f.inst)
	if err != nil || !ended {
		t.Errorf("InstanceEnded() = %v, %v; want true", ended, err)
	}

	ids, err := anonymous.CompletedInstances(ctx, "g2", "candidate_group")
	if err != nil || len(ids) != 1 || ids[0] != f.inst {
		t.Errorf("CompletedInstances() = %v, %v", ids, err)
	}
}

func TestHealthService(t *testing.T) {
	f := newRPCFixture(t)
	resp, err := healthpb.NewHealthClient(f.conn).Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("status = %v, want SERVING", resp.GetStatus())
	}
}

func TestCodeFor(t *testing.T) {
	tests := []struct {
		err  error
		want codes.Code
	}{
		{err: frontend.ErrRateLimited, want: codes.ResourceExhausted},
		{err: frontend.ErrNoOpenWork, want: codes.PermissionDenied},
		{err: context.DeadlineExceeded, want: codes.DeadlineExceeded},
		{err: fmt.Errorf("%w: engine: breaker open", engine.ErrUnavailable), want: codes.Unavailable},
		{err: net.ErrClosed, want: codes.Internal},
	}
	for _, tt := range tests {
		if got := CodeFor(tt.err); got != tt.want {
			t.Errorf("CodeFor(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
