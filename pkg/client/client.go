// Package client provides a Go SDK for the human-task participant API.
// Work-list and inbox frontends use it to find eligible actors and to
// claim and complete tasks.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Client is the participant API client.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      string
	actorID    string
}

// Config holds client configuration.
type Config struct {
	BaseURL string        // e.g., "http://localhost:8080"
	Token   string        // Bearer token, when the server verifies tokens
	ActorID string        // Sent as X-Actor-ID when the server does not
	Timeout time.Duration // Request timeout
}

// DefaultConfig returns default client configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:8080",
		Timeout: 30 * time.Second,
	}
}

// New creates a new client.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		actorID: cfg.ActorID,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.StatusCode, e.Message)
}

// StatusCode returns the HTTP status of an *APIError in err's chain, or 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// IsAlreadyClaimed reports whether err is a lost claim race.
func IsAlreadyClaimed(err error) bool {
	return StatusCode(err) == http.StatusConflict
}

// IsNotFound reports whether err means the task no longer exists.
func IsNotFound(err error) bool {
	return StatusCode(err) == http.StatusNotFound
}

// Channel names accepted by the API. An empty channel means merged.
const (
	ChannelAssignee       = "assignee"
	ChannelCandidateUser  = "candidate_user"
	ChannelCandidateGroup = "candidate_group"
	ChannelMerged         = "merged"
)

// --- Resolution ---

// TaskParticipants returns the actors eligible for a task on channel.
func (c *Client) TaskParticipants(ctx context.Context, taskID, channel string) ([]string, error) {
	var resp struct {
		Actors []string `json:"actors"`
	}
	path := "/api/v1/tasks/" + url.PathEscape(taskID) + "/participants" + channelQuery(channel)
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp.Actors, nil
}

// InstanceParticipants returns the actors of every open task of an
// instance, keyed by task id.
func (c *Client) InstanceParticipants(ctx context.Context, instanceID, channel string) (map[string][]string, error) {
	var resp struct {
		Tasks map[string][]string `json:"tasks"`
	}
	path := "/api/v1/instances/" + url.PathEscape(instanceID) + "/participants" + channelQuery(channel)
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp.Tasks, nil
}

// InstanceActors returns the distinct actors across an instance's open tasks.
func (c *Client) InstanceActors(ctx context.Context, instanceID, channel string) ([]string, error) {
	var resp struct {
		Actors []string `json:"actors"`
	}
	path := "/api/v1/instances/" + url.PathEscape(instanceID) + "/actors" + channelQuery(channel)
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp.Actors, nil
}

// InstanceTaskIDs returns the instance's open tasks actorID may act on.
func (c *Client) InstanceTaskIDs(ctx context.Context, instanceID, actorID, channel string) ([]string, error) {
	q := url.Values{}
	q.Set("actor", actorID)
	if channel != "" {
		q.Set("channel", channel)
	}
	var resp struct {
		TaskIDs []string `json:"task_ids"`
	}
	path := "/api/v1/instances/" + url.PathEscape(instanceID) + "/tasks?" + q.Encode()
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp.TaskIDs, nil
}

// InstanceEnded reports whether the engine no longer has the instance.
func (c *Client) InstanceEnded(ctx context.Context, instanceID string) (bool, error) {
	var resp struct {
		Ended bool `json:"ended"`
	}
	if err := c.get(ctx, "/api/v1/instances/"+url.PathEscape(instanceID)+"/status", &resp); err != nil {
		return false, err
	}
	return resp.Ended, nil
}

// --- Lifecycle ---

// ClaimTask claims a task for the configured actor.
func (c *Client) ClaimTask(ctx context.Context, taskID string) error {
	return c.post(ctx, "/api/v1/tasks/"+url.PathEscape(taskID)+"/claim", nil, nil)
}

// CompleteTask completes a task as the configured actor.
func (c *Client) CompleteTask(ctx context.Context, taskID string) error {
	return c.post(ctx, "/api/v1/tasks/"+url.PathEscape(taskID)+"/complete", nil, nil)
}

// AddCandidateGroups appends groups to a task's candidate groups.
func (c *Client) AddCandidateGroups(ctx context.Context, taskID string, groups []string) error {
	body := map[string][]string{"groups": groups}
	return c.post(ctx, "/api/v1/tasks/"+url.PathEscape(taskID)+"/candidate-groups", body, nil)
}

// PropagateVariables sets vars on every open task of an instance and
// returns the number of tasks updated.
func (c *Client) PropagateVariables(ctx context.Context, instanceID string, vars map[string]interface{}) (int, error) {
	var resp struct {
		Updated int `json:"updated"`
	}
	body := map[string]interface{}{"variables": vars}
	if err := c.post(ctx, "/api/v1/instances/"+url.PathEscape(instanceID)+"/variables", body, &resp); err != nil {
		return 0, err
	}
	return resp.Updated, nil
}

// --- Actors ---

// Task is an open task as returned by ActorTasks.
type Task struct {
	ID              string    `json:"id"`
	InstanceID      string    `json:"instance_id"`
	Name            string    `json:"name"`
	Assignee        string    `json:"assignee,omitempty"`
	CandidateUsers  []string  `json:"candidate_users,omitempty"`
	CandidateGroups []string  `json:"candidate_groups,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// ActorTasks lists an actor's open tasks; an empty channel lists all.
func (c *Client) ActorTasks(ctx context.Context, actorID, channel string) ([]Task, error) {
	var resp struct {
		Tasks []Task `json:"tasks"`
	}
	if err := c.get(ctx, "/api/v1/actors/"+url.PathEscape(actorID)+"/tasks"+channelQuery(channel), &resp); err != nil {
		return nil, err
	}
	return resp.Tasks, nil
}

// ActorInstances lists the instances of an actor's open tasks.
func (c *Client) ActorInstances(ctx context.Context, actorID, channel string) ([]string, error) {
	var resp struct {
		InstanceIDs []string `json:"instance_ids"`
	}
	if err := c.get(ctx, "/api/v1/actors/"+url.PathEscape(actorID)+"/instances"+channelQuery(channel), &resp); err != nil {
		return nil, err
	}
	return resp.InstanceIDs, nil
}

// HasOpenWork reports whether the actor is eligible for any open task.
func (c *Client) HasOpenWork(ctx context.Context, actorID string) (bool, error) {
	var resp struct {
		HasOpenWork bool `json:"has_open_work"`
	}
	if err := c.get(ctx, "/api/v1/actors/"+url.PathEscape(actorID)+"/open-work", &resp); err != nil {
		return false, err
	}
	return resp.HasOpenWork, nil
}

// History lists the instances in which the actor completed work through
// channel. The merged channel is rejected by the server.
func (c *Client) History(ctx context.Context, actorID, channel string) ([]string, error) {
	var resp struct {
		InstanceIDs []string `json:"instance_ids"`
	}
	if err := c.get(ctx, "/api/v1/actors/"+url.PathEscape(actorID)+"/history"+channelQuery(channel), &resp); err != nil {
		return nil, err
	}
	return resp.InstanceIDs, nil
}

// --- HTTP Helpers ---

func channelQuery(channel string) string {
	if channel == "" {
		return ""
	}
	return "?channel=" + url.QueryEscape(channel)
}

func (c *Client) get(ctx context.Context, path string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+path, http.NoBody)
	if err != nil {
		return err
	}
	return c.do(req, result)
}

func (c *Client) post(ctx context.Context, path string, body, result interface{}) error {
	var bodyReader io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, bodyReader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, result)
}

func (c *Client) do(req *http.Request, result interface{}) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.actorID != "" {
		req.Header.Set("X-Actor-ID", c.actorID)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		errBody, _ := io.ReadAll(resp.Body)
		var payload struct {
			Error string `json:"error"`
		}
		msg := string(errBody)
		if json.Unmarshal(errBody, &payload) == nil && payload.Error != "" {
			msg = payload.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}
