package relaysdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Relay HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Task represents the API task model.
type Task struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Status       string  `json:"status"`
	CurrentOwner *string `json:"current_owner,omitempty"`
	CreatedAt    string  `json:"created_at"`
	UpdatedAt    string  `json:"updated_at"`
	CompletedAt  *string `json:"completed_at,omitempty"`
}

// Delegation represents one handoff record in a task's chain.
type Delegation struct {
	ID              string  `json:"id"`
	TaskID          string  `json:"task_id"`
	FromRole        string  `json:"from_role"`
	ToRole          string  `json:"to_role"`
	DelegatedAt     string  `json:"delegated_at"`
	CompletedAt     *string `json:"completed_at,omitempty"`
	Success         *bool   `json:"success,omitempty"`
	RejectionReason *string `json:"rejection_reason,omitempty"`
	Message         *string `json:"message,omitempty"`
}

// Transition pairs the updated task with the record an operation appended.
type Transition struct {
	Task   Task        `json:"task"`
	Record *Delegation `json:"record,omitempty"`
}

// Role describes a workflow stage and its legal forward handoffs.
type Role struct {
	Role        string   `json:"role"`
	Label       string   `json:"label"`
	Icon        string   `json:"icon"`
	Description string   `json:"description"`
	DelegatesTo []string `json:"delegates_to"`
}

// RoleMetric is the per-role performance aggregate.
type RoleMetric struct {
	Role                  string  `json:"role"`
	TasksReceived         int     `json:"tasks_received"`
	TasksCompleted        int     `json:"tasks_completed"`
	AverageCompletionTime string  `json:"average_completion_time"`
	SuccessRate           float64 `json:"success_rate"`
	DelegationEfficiency  float64 `json:"delegation_efficiency"`
	WorkloadShare         float64 `json:"workload_share"`
	QualityScore          float64 `json:"quality_score"`
}

// PathCount is a delegation edge with its traversal count.
type PathCount struct {
	FromRole string `json:"from_role"`
	ToRole   string `json:"to_role"`
	Count    int    `json:"count"`
}

// Hotspot is an edge where work keeps getting sent back.
type Hotspot struct {
	FromRole string   `json:"from_role"`
	ToRole   string   `json:"to_role"`
	Count    int      `json:"count"`
	Reasons  []string `json:"reasons"`
}

// Bottleneck is a role holding work longer than the global average allows.
type Bottleneck struct {
	Role            string `json:"role"`
	AverageHoldTime string `json:"average_hold_time"`
	Threshold       string `json:"threshold"`
	Samples         int    `json:"samples"`
}

// Analytics is the cross-task delegation aggregate.
type Analytics struct {
	CommonPaths   []PathCount  `json:"common_paths"`
	Hotspots      []Hotspot    `json:"hotspots"`
	Bottlenecks   []Bottleneck `json:"bottlenecks"`
	ExcludedTasks int          `json:"excluded_tasks"`
}

// Blocker flags something stalling a task.
type Blocker struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
}

// TaskStatus is the derived point-in-time projection for a task.
type TaskStatus struct {
	TaskID               string    `json:"task_id"`
	CurrentStage         string    `json:"current_stage,omitempty"`
	Status               string    `json:"status"`
	CompletionPercentage float64   `json:"completion_percentage"`
	TimeInCurrentStage   string    `json:"time_in_current_stage"`
	Blockers             []Blocker `json:"blockers"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// PaginatedTasks wraps list responses with cursors.
type PaginatedTasks struct {
	Items      []Task `json:"items"`
	NextCursor string `json:"next_cursor"`
}

// MetricFilters narrow which records feed the analytics endpoints.
type MetricFilters struct {
	TaskID    string
	Role      string
	StartDate string
	EndDate   string
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateTask creates a task.
func (c *Client) CreateTask(ctx context.Context, name string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, "v0/tasks", map[string]any{"name": name}, &resp)
	return resp, err
}

// GetTask fetches a task by id.
func (c *Client) GetTask(ctx context.Context, id string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, c.taskPath(id, ""), nil, &resp)
	return resp, err
}

// Tasks returns a page of tasks.
func (c *Client) Tasks(ctx context.Context, status string, limit int, cursor string) (PaginatedTasks, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "v0/tasks"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedTasks
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Delegate hands a task from one role to another. Leave to empty for default
// routing.
func (c *Client) Delegate(ctx context.Context, taskID, from, to, message string) (Transition, error) {
	body := map[string]any{"from_role": from}
	if to != "" {
		body["to_role"] = to
	}
	if message != "" {
		body["message"] = message
	}
	var resp Transition
	err := c.do(ctx, http.MethodPost, c.taskPath(taskID, "delegate"), body, &resp)
	return resp, err
}

// Complete finishes a role's work on a task. Outcome is "completed" or
// "rejected"; rejections require notes.
func (c *Client) Complete(ctx context.Context, taskID, role, outcome, notes string) (Transition, error) {
	body := map[string]any{"role": role, "outcome": outcome}
	if notes != "" {
		body["notes"] = notes
	}
	var resp Transition
	err := c.do(ctx, http.MethodPost, c.taskPath(taskID, "complete"), body, &resp)
	return resp, err
}

// Cancel moves a task to its cancelled terminal state.
func (c *Client) Cancel(ctx context.Context, taskID string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, c.taskPath(taskID, "cancel"), nil, &resp)
	return resp, err
}

// Pause freezes delegation activity on a task.
func (c *Client) Pause(ctx context.Context, taskID string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, c.taskPath(taskID, "pause"), nil, &resp)
	return resp, err
}

// Resume reactivates a paused task.
func (c *Client) Resume(ctx context.Context, taskID string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, c.taskPath(taskID, "resume"), nil, &resp)
	return resp, err
}

// Status returns the derived projection for a task.
func (c *Client) Status(ctx context.Context, taskID string) (TaskStatus, error) {
	var resp TaskStatus
	err := c.do(ctx, http.MethodGet, c.taskPath(taskID, "status"), nil, &resp)
	return resp, err
}

// Delegations returns the full handoff history for a task.
func (c *Client) Delegations(ctx context.Context, taskID string) ([]Delegation, error) {
	var resp []Delegation
	err := c.do(ctx, http.MethodGet, c.taskPath(taskID, "delegations"), nil, &resp)
	return resp, err
}

// Roles lists the workflow stages.
func (c *Client) Roles(ctx context.Context) ([]Role, error) {
	var resp []Role
	err := c.do(ctx, http.MethodGet, "v0/roles", nil, &resp)
	return resp, err
}

// RoleMetrics returns per-role performance aggregates.
func (c *Client) RoleMetrics(ctx context.Context, f MetricFilters) ([]RoleMetric, error) {
	var resp struct {
		Metrics []RoleMetric `json:"metrics"`
	}
	err := c.do(ctx, http.MethodGet, withFilters("v0/metrics/roles", f), nil, &resp)
	return resp.Metrics, err
}

// Analytics returns the cross-task delegation aggregates.
func (c *Client) Analytics(ctx context.Context, f MetricFilters) (Analytics, error) {
	var resp Analytics
	err := c.do(ctx, http.MethodGet, withFilters("v0/analytics/delegations", f), nil, &resp)
	return resp, err
}

// Events returns recent events, newest first.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := "v0/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func withFilters(endpoint string, f MetricFilters) string {
	q := url.Values{}
	if f.TaskID != "" {
		q.Set("task_id", f.TaskID)
	}
	if f.Role != "" {
		q.Set("role", f.Role)
	}
	if f.StartDate != "" {
		q.Set("start_date", f.StartDate)
	}
	if f.EndDate != "" {
		q.Set("end_date", f.EndDate)
	}
	if len(q) == 0 {
		return endpoint
	}
	return endpoint + "?" + q.Encode()
}

func (c *Client) taskPath(taskID, suffix string) string {
	p := fmt.Sprintf("v0/tasks/%s", url.PathEscape(taskID))
	if suffix != "" {
		p += "/" + suffix
	}
	return p
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
