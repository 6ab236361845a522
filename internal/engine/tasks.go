package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"taskdesk/internal/domain"
	"taskdesk/internal/policy"
	"taskdesk/internal/repo"
)

const (
	minTitleLen       = 3
	minDescriptionLen = 5
)

// TaskCreateOptions are parameters for creating tasks. AssignedTo is the
// explicit assignee list; empty means the caller assigns to themselves,
// which only non-admins may do implicitly.
type TaskCreateOptions struct {
	Title       string
	Description string
	StartDate   string
	DueDate     string
	AssignedTo  []string
}

// FanoutResult is the outcome of a multi-assignee create. Each assignee
// row is written independently, so a bad assignee id fails only its own
// row and ends up in Failed.
type FanoutResult struct {
	Created []domain.Task
	Failed  []FieldError
}

// CreateTasks creates one task row per assignee with shared fields.
// Non-admins may not name assignees at all; admins must name at least
// one. Shared-field validation runs before any write.
func (e Engine) CreateTasks(ctx context.Context, p domain.Principal, opts TaskCreateOptions) (FanoutResult, error) {
	if err := policy.CanCreateTask(p, len(opts.AssignedTo) > 0); err != nil {
		return FanoutResult{}, err
	}

	now := e.now().UTC()
	fields := validateTaskFields(opts.Title, opts.Description, opts.StartDate, opts.DueDate, &now)

	assignees := opts.AssignedTo
	if p.IsAdmin() {
		if len(assignees) == 0 {
			fields = append(fields, FieldError{Field: "assigned_to", Message: "at least one assignee is required"})
		}
	} else {
		assignees = []string{p.ID}
	}
	if len(fields) > 0 {
		return FanoutResult{}, ValidationError{Fields: fields}
	}

	start, _ := time.Parse(time.RFC3339, opts.StartDate)
	due, _ := time.Parse(time.RFC3339, opts.DueDate)
	ts := now.Format(time.RFC3339)

	var res FanoutResult
	var accepted []string
	seen := make(map[string]bool, len(assignees))
	for _, assignee := range assignees {
		if seen[assignee] {
			continue
		}
		seen[assignee] = true
		u, err := e.Repo.GetUser(ctx, assignee)
		if errors.Is(err, repo.ErrNotFound) {
			res.Failed = append(res.Failed, FieldError{Field: "assigned_to", Message: fmt.Sprintf("user %s not found", assignee)})
			continue
		}
		if err != nil {
			return FanoutResult{}, err
		}
		if u.Status == domain.UserInactive {
			res.Failed = append(res.Failed, FieldError{Field: "assigned_to", Message: fmt.Sprintf("user %s is inactive", assignee)})
			continue
		}
		accepted = append(accepted, assignee)
	}
	if len(accepted) == 0 {
		return res, ValidationError{Fields: res.Failed}
	}

	// All created rows commit together; skipped assignees are reported,
	// not rolled back.
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return FanoutResult{}, err
	}
	defer tx.Rollback()

	for _, assignee := range accepted {
		t := domain.Task{
			ID:          uuid.NewString(),
			Title:       strings.TrimSpace(opts.Title),
			Description: strings.TrimSpace(opts.Description),
			StartDate:   start.UTC().Format(time.RFC3339),
			DueDate:     due.UTC().Format(time.RFC3339),
			Status:      domain.TaskTodo,
			AssignedTo:  assignee,
			CreatedBy:   p.ID,
			CreatedAt:   ts,
			UpdatedAt:   ts,
		}
		if err := e.Repo.InsertTaskTx(ctx, tx, t); err != nil {
			return FanoutResult{}, err
		}
		res.Created = append(res.Created, t)
	}
	if err := tx.Commit(); err != nil {
		return FanoutResult{}, err
	}
	return res, nil
}

// validateTaskFields collects every field violation. now is non-nil at
// creation time only; updates do not re-check that the start date has
// not passed.
func validateTaskFields(title, description, startDate, dueDate string, now *time.Time) []FieldError {
	var fields []FieldError
	if len(strings.TrimSpace(title)) < minTitleLen {
		fields = append(fields, FieldError{Field: "title", Message: fmt.Sprintf("must be at least %d characters", minTitleLen)})
	}
	if len(strings.TrimSpace(description)) < minDescriptionLen {
		fields = append(fields, FieldError{Field: "description", Message: fmt.Sprintf("must be at least %d characters", minDescriptionLen)})
	}
	start, err := time.Parse(time.RFC3339, startDate)
	if err != nil {
		fields = append(fields, FieldError{Field: "start_date", Message: "must be an RFC 3339 timestamp"})
	}
	due, dueErr := time.Parse(time.RFC3339, dueDate)
	if dueErr != nil {
		fields = append(fields, FieldError{Field: "due_date", Message: "must be an RFC 3339 timestamp"})
	}
	if err == nil && dueErr == nil && !due.After(start) {
		fields = append(fields, FieldError{Field: "due_date", Message: "must be after start_date"})
	}
	if err == nil && now != nil {
		today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		if start.Before(today) {
			fields = append(fields, FieldError{Field: "start_date", Message: "cannot be in the past"})
		}
	}
	return fields
}

// TaskUpdateOptions carries the mutable task fields. Status and assignee
// are deliberately absent; status moves only through Complete/Cancel.
type TaskUpdateOptions struct {
	Title       *string
	Description *string
	StartDate   *string
	DueDate     *string
}

// UpdateTask changes the mutable fields of a todo task. Tasks in a
// terminal status reject updates entirely.
func (e Engine) UpdateTask(ctx context.Context, p domain.Principal, id string, opts TaskUpdateOptions) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	if err := policy.CanUpdateTask(p, t); err != nil {
		return domain.Task{}, err
	}
	if t.Status.Terminal() {
		return domain.Task{}, InvalidStateError{Status: string(t.Status), Action: "update task"}
	}

	title, description := t.Title, t.Description
	startDate, dueDate := t.StartDate, t.DueDate
	if opts.Title != nil {
		title = *opts.Title
	}
	if opts.Description != nil {
		description = *opts.Description
	}
	if opts.StartDate != nil {
		startDate = *opts.StartDate
	}
	if opts.DueDate != nil {
		dueDate = *opts.DueDate
	}
	if fields := validateTaskFields(title, description, startDate, dueDate, nil); len(fields) > 0 {
		return domain.Task{}, ValidationError{Fields: fields}
	}

	upd := repo.TaskUpdate{
		Title:       opts.Title,
		Description: opts.Description,
		StartDate:   opts.StartDate,
		DueDate:     opts.DueDate,
		UpdatedAt:   e.nowRFC3339(),
	}
	if err := e.Repo.UpdateTaskFields(ctx, id, upd); err != nil {
		return domain.Task{}, err
	}
	return e.Repo.GetTask(ctx, id)
}

// CompleteTask moves a task from todo to done.
func (e Engine) CompleteTask(ctx context.Context, p domain.Principal, id string) (domain.Task, error) {
	return e.transition(ctx, p, id, domain.TaskDone, policy.CanCompleteTask)
}

// CancelTask moves a task from todo to cancel. This is the soft delete;
// the row stays visible to admin reads.
func (e Engine) CancelTask(ctx context.Context, p domain.Principal, id string) (domain.Task, error) {
	return e.transition(ctx, p, id, domain.TaskCancel, policy.CanCancelTask)
}

func (e Engine) transition(ctx context.Context, p domain.Principal, id string, to domain.TaskStatus, allowed func(domain.Principal, domain.Task) error) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	if err := allowed(p, t); err != nil {
		return domain.Task{}, err
	}
	if !policy.CanTransition(t.Status, to) {
		return domain.Task{}, InvalidStateError{Status: string(t.Status), Action: "move task to " + string(to)}
	}
	ok, err := e.Repo.TransitionTask(ctx, id, domain.TaskTodo, to, e.nowRFC3339())
	if err != nil {
		return domain.Task{}, err
	}
	if !ok {
		// Lost a race: the row changed between the read and the CAS.
		fresh, err := e.Repo.GetTask(ctx, id)
		if err != nil {
			return domain.Task{}, err
		}
		return domain.Task{}, InvalidStateError{Status: string(fresh.Status), Action: "move task to " + string(to)}
	}
	return e.Repo.GetTask(ctx, id)
}

// DeleteTask removes the row permanently, whatever its status. A second
// delete of the same id reports not found.
func (e Engine) DeleteTask(ctx context.Context, p domain.Principal, id string) error {
	t, err := e.Repo.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if err := policy.CanDeleteTask(p, t); err != nil {
		return err
	}
	return e.Repo.DeleteTask(ctx, id)
}

// GetTask returns one task with user references resolved to names.
func (e Engine) GetTask(ctx context.Context, p domain.Principal, id string) (domain.TaskView, error) {
	t, err := e.Repo.GetTask(ctx, id)
	if err != nil {
		return domain.TaskView{}, err
	}
	if err := policy.CanReadTask(p, t); err != nil {
		return domain.TaskView{}, err
	}
	return e.Repo.GetTaskView(ctx, id)
}

// ListAllTasks is the admin-only full listing, cancelled rows included.
func (e Engine) ListAllTasks(ctx context.Context, p domain.Principal, f repo.TaskFilters) ([]domain.TaskView, error) {
	if err := policy.CanListAllTasks(p); err != nil {
		return nil, err
	}
	return e.Repo.ListTaskViews(ctx, f)
}

// ListMyTasks returns the caller's assigned tasks, hiding cancelled ones.
func (e Engine) ListMyTasks(ctx context.Context, p domain.Principal) ([]domain.TaskView, error) {
	return e.Repo.ListTaskViews(ctx, repo.TaskFilters{
		AssignedTo:    p.ID,
		ExcludeStatus: string(domain.TaskCancel),
	})
}
