package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/linkflow/humantask/internal/participant"
)

// Client calls ParticipantService over an existing connection.
type Client struct {
	conn  grpc.ClientConnInterface
	actor string
	token string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithActor sends x-actor-id on every call, for servers without token auth.
func WithActor(actorID string) ClientOption {
	return func(c *Client) { c.actor = actorID }
}

// WithToken sends a bearer token on every call.
func WithToken(token string) ClientOption {
	return func(c *Client) { c.token = token }
}

func NewClient(conn grpc.ClientConnInterface, opts ...ClientOption) *Client {
	c := &Client{conn: conn}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) call(ctx context.Context, method string, fields map[string]any) (*structpb.Struct, error) {
	if c.actor != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "x-actor-id", c.actor)
	}
	if c.token != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+c.token)
	}

	req, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, err
	}
	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, FullMethod(method), req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) ResolveTask(ctx context.Context, taskID, channel string) ([]string, error) {
	resp, err := c.call(ctx, MethodResolveTask, map[string]any{"task_id": taskID, "channel": channel})
	if err != nil {
		return nil, err
	}
	return stringList(resp, "actors"), nil
}

func (c *Client) ResolveInstance(ctx context.Context, instanceID, channel string) ([]participant.TaskActors, error) {
	resp, err := c.call(ctx, MethodResolveInstance, map[string]any{"instance_id": instanceID, "channel": channel})
	if err != nil {
		return nil, err
	}

	values := resp.GetFields()["tasks"].GetListValue().GetValues()
	out := make([]participant.TaskActors, 0, len(values))
	for _, v := range values {
		entry := v.GetStructValue()
		out = append(out, participant.TaskActors{
			TaskID: stringField(entry, "task_id"),
			Actors: stringList(entry, "actors"),
		})
	}
	return out, nil
}

func (c *Client) InstanceTaskIDs(ctx context.Context, instanceID, actorID, channel string) ([]string, error) {
	resp, err := c.call(ctx, MethodInstanceTaskIDs, map[string]any{
		"instance_id": instanceID,
		"actor_id":    actorID,
		"channel":     channel,
	})
	if err != nil {
		return nil, err
	}
	return stringList(resp, "task_ids"), nil
}

func (c *Client) ClaimTask(ctx context.Context, taskID string) error {
	_, err := c.call(ctx, MethodClaimTask, map[string]any{"task_id": taskID})
	return err
}

func (c *Client) CompleteTask(ctx context.Context, taskID string) error {
	_, err := c.call(ctx, MethodCompleteTask, map[string]any{"task_id": taskID})
	return err
}

// PropagateVariables sends vars to every open task of the instance. Values
// must be representable as google.protobuf.Value; numbers arrive as float64.
func (c *Client) PropagateVariables(ctx context.Context, instanceID string, vars map[string]any) (int, error) {
	resp, err := c.call(ctx, MethodPropagateVariables, map[string]any{
		"instance_id": instanceID,
		"variables":   vars,
	})
	if err != nil {
		return 0, err
	}
	return int(resp.GetFields()["updated"].GetNumberValue()), nil
}

func (c *Client) InstanceEnded(ctx context.Context, instanceID string) (bool, error) {
	resp, err := c.call(ctx, MethodInstanceEnded, map[string]any{"instance_id": instanceID})
	if err != nil {
		return false, err
	}
	return resp.GetFields()["ended"].GetBoolValue(), nil
}

func (c *Client) CompletedInstances(ctx context.Context, actorID, channel string) ([]string, error) {
	resp, err := c.call(ctx, MethodCompletedInstances, map[string]any{"actor_id": actorID, "channel": channel})
	if err != nil {
		return nil, err
	}
	return stringList(resp, "instance_ids"), nil
}

func stringList(s *structpb.Struct, key string) []string {
	values := s.GetFields()[key].GetListValue().GetValues()
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, v.GetStringValue())
	}
	return out
}
