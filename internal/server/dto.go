package server

import (
	"encoding/json"

	"github.com/danielgtaylor/huma/v2"

	"taskdesk/internal/domain"
	"taskdesk/internal/engine"
)

// StringList accepts either a single string or an array of strings on
// the wire and always behaves as a slice in Go.
type StringList []string

func (s *StringList) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '[' {
		var arr []string
		if err := json.Unmarshal(data, &arr); err != nil {
			return err
		}
		*s = arr
		return nil
	}
	var one string
	if err := json.Unmarshal(data, &one); err != nil {
		return err
	}
	*s = StringList{one}
	return nil
}

func (StringList) Schema(r huma.Registry) *huma.Schema {
	return &huma.Schema{
		OneOf: []*huma.Schema{
			{Type: huma.TypeString},
			{Type: huma.TypeArray, Items: &huma.Schema{Type: huma.TypeString}},
		},
	}
}

// Request payloads

type RegisterRequest struct {
	Username string `json:"username" minLength:"3" maxLength:"15"`
	Fullname string `json:"fullname"`
	Password string `json:"password" minLength:"6"`
	Role     string `json:"role,omitempty" enum:"user,admin"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CreateTaskRequest struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	StartDate   string     `json:"start_date" format:"date-time"`
	DueDate     string     `json:"due_date" format:"date-time"`
	AssignedTo  StringList `json:"assigned_to,omitempty"`
}

type UpdateTaskRequest struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	StartDate   *string `json:"start_date,omitempty" format:"date-time"`
	DueDate     *string `json:"due_date,omitempty" format:"date-time"`
}

type UpdateUserRequest struct {
	Fullname *string `json:"fullname,omitempty"`
}

// Response payloads

type UserResponse struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Fullname  string `json:"fullname"`
	Role      string `json:"role" enum:"user,admin"`
	Status    string `json:"status" enum:"active,inactive"`
	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

type TaskResponse struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	StartDate   string `json:"start_date" format:"date-time"`
	DueDate     string `json:"due_date" format:"date-time"`
	Status      string `json:"status" enum:"todo,done,cancel"`
	AssignedTo  string `json:"assigned_to"`
	CreatedBy   string `json:"created_by"`
	CreatedAt   string `json:"created_at" format:"date-time"`
	UpdatedAt   string `json:"updated_at" format:"date-time"`
}

// TaskViewResponse resolves the user references to display names. A null
// name means the referenced user no longer exists.
type TaskViewResponse struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	StartDate   string  `json:"start_date" format:"date-time"`
	DueDate     string  `json:"due_date" format:"date-time"`
	Status      string  `json:"status" enum:"todo,done,cancel"`
	AssignedTo  *string `json:"assigned_to"`
	CreatedBy   *string `json:"created_by"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	UpdatedAt   string  `json:"updated_at" format:"date-time"`
}

type LoginResponse struct {
	Token     string       `json:"token"`
	ExpiresAt string       `json:"expires_at" format:"date-time"`
	User      UserResponse `json:"user"`
}

type FieldErrorResponse struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// CreateTasksResponse reports a fan-out outcome: one created task per
// valid assignee plus the per-assignee failures, if any.
type CreateTasksResponse struct {
	Created []TaskResponse       `json:"created"`
	Failed  []FieldErrorResponse `json:"failed,omitempty"`
}

type MeResponse struct {
	Greeting string             `json:"greeting"`
	User     UserResponse       `json:"user"`
	Tasks    []TaskViewResponse `json:"tasks"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

// Conversion helpers

func userResponse(u domain.User) UserResponse {
	return UserResponse{
		ID:        u.ID,
		Username:  u.Username,
		Fullname:  u.Fullname,
		Role:      string(u.Role),
		Status:    string(u.Status),
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

func mapUsers(items []domain.User) []UserResponse {
	res := make([]UserResponse, 0, len(items))
	for _, u := range items {
		res = append(res, userResponse(u))
	}
	return res
}

func taskResponse(t domain.Task) TaskResponse {
	return TaskResponse{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		StartDate:   t.StartDate,
		DueDate:     t.DueDate,
		Status:      string(t.Status),
		AssignedTo:  t.AssignedTo,
		CreatedBy:   t.CreatedBy,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

func taskViewResponse(v domain.TaskView) TaskViewResponse {
	return TaskViewResponse{
		ID:          v.ID,
		Title:       v.Title,
		Description: v.Description,
		StartDate:   v.StartDate,
		DueDate:     v.DueDate,
		Status:      string(v.Status),
		AssignedTo:  v.AssignedTo,
		CreatedBy:   v.CreatedBy,
		CreatedAt:   v.CreatedAt,
		UpdatedAt:   v.UpdatedAt,
	}
}

func mapTaskViews(items []domain.TaskView) []TaskViewResponse {
	res := make([]TaskViewResponse, 0, len(items))
	for _, v := range items {
		res = append(res, taskViewResponse(v))
	}
	return res
}

func mapFieldErrors(items []engine.FieldError) []FieldErrorResponse {
	res := make([]FieldErrorResponse, 0, len(items))
	for _, f := range items {
		res = append(res, FieldErrorResponse{Field: f.Field, Message: f.Message})
	}
	return res
}
