package taskdesksdk

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

// Client is a minimal Taskdesk HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "v1",
		Timeout:  10 * time.Second,
	}
}

// User represents the API user model.
type User struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Fullname  string `json:"fullname"`
	Role      string `json:"role"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// Task represents a task row with raw user ids.
type Task struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	StartDate   string `json:"start_date"`
	DueDate     string `json:"due_date"`
	Status      string `json:"status"`
	AssignedTo  string `json:"assigned_to"`
	CreatedBy   string `json:"created_by"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

// TaskView is a task with user references resolved to display names. A
// nil name means the user was hard-deleted.
type TaskView struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	StartDate   string  `json:"start_date"`
	DueDate     string  `json:"due_date"`
	Status      string  `json:"status"`
	AssignedTo  *string `json:"assigned_to"`
	CreatedBy   *string `json:"created_by"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
}

// FieldError is one per-field failure.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// CreateTasksResult is the fan-out outcome of a create call.
type CreateTasksResult struct {
	Created []Task       `json:"created"`
	Failed  []FieldError `json:"failed,omitempty"`
}

// Login is a successful authentication.
type Login struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
	User      User   `json:"user"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Register creates an account.
func (c *Client) Register(ctx context.Context, username, fullname, password string) (User, error) {
	body := map[string]any{
		"username": username,
		"fullname": fullname,
		"password": password,
	}
	var resp User
	err := c.do(ctx, http.MethodPost, c.path("register"), body, &resp)
	return resp, err
}

// LoginUser authenticates and stores the returned token on the client.
func (c *Client) LoginUser(ctx context.Context, username, password string) (Login, error) {
	body := map[string]any{
		"username": username,
		"password": password,
	}
	var resp Login
	if err := c.do(ctx, http.MethodPost, c.path("login"), body, &resp); err != nil {
		return resp, err
	}
	c.BearerToken = resp.Token
	return resp, nil
}

// CreateTasks creates one task per assignee. assignedTo may be empty for
// a self-assigned task (non-admin callers).
func (c *Client) CreateTasks(ctx context.Context, title, description, startDate, dueDate string, assignedTo []string) (CreateTasksResult, error) {
	body := map[string]any{
		"title":       title,
		"description": description,
		"start_date":  startDate,
		"due_date":    dueDate,
	}
	if len(assignedTo) > 0 {
		body["assigned_to"] = assignedTo
	}
	var resp CreateTasksResult
	err := c.do(ctx, http.MethodPost, c.path("tasks"), body, &resp)
	return resp, err
}

// Tasks returns the admin full listing.
func (c *Client) Tasks(ctx context.Context) ([]TaskView, error) {
	var resp []TaskView
	err := c.do(ctx, http.MethodGet, c.path("tasks"), nil, &resp)
	return resp, err
}

// MyTasks returns tasks assigned to the caller.
func (c *Client) MyTasks(ctx context.Context) ([]TaskView, error) {
	var resp []TaskView
	err := c.do(ctx, http.MethodGet, c.path("tasks/mine"), nil, &resp)
	return resp, err
}

// GetTask fetches one task.
func (c *Client) GetTask(ctx context.Context, id string) (TaskView, error) {
	var resp TaskView
	err := c.do(ctx, http.MethodGet, c.path("tasks/"+url.PathEscape(id)), nil, &resp)
	return resp, err
}

// CompleteTask moves a task to done.
func (c *Client) CompleteTask(ctx context.Context, id string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPatch, c.path("tasks/"+url.PathEscape(id)+"/done"), nil, &resp)
	return resp, err
}

// CancelTask moves a task to cancel.
func (c *Client) CancelTask(ctx context.Context, id string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPatch, c.path("tasks/"+url.PathEscape(id)+"/cancel"), nil, &resp)
	return resp, err
}

// DeleteTask removes a task permanently.
func (c *Client) DeleteTask(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, c.path("tasks/"+url.PathEscape(id)), nil, nil)
}

// Users returns the admin user listing.
func (c *Client) Users(ctx context.Context) ([]User, error) {
	var resp []User
	err := c.do(ctx, http.MethodGet, c.path("users"), nil, &resp)
	return resp, err
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
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
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

func (c *Client) path(p string) string {
	base := strings.Trim(c.BasePath, "/")
	if base == "" {
		base = "v1"
	}
	return base + "/" + strings.TrimLeft(p, "/")
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
