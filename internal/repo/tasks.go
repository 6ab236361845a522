package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"taskdesk/internal/domain"
)

const taskColumns = `id,title,description,start_date,due_date,status,assigned_to,created_by,created_at,updated_at`

func scanTask(row *sql.Row) (domain.Task, error) {
	var t domain.Task
	err := row.Scan(&t.ID, &t.Title, &t.Description, &t.StartDate, &t.DueDate, &t.Status, &t.AssignedTo, &t.CreatedBy, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}

// InsertTaskTx writes a task inside the caller's transaction; fan-out
// creation commits its rows together.
func (r Repo) InsertTaskTx(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tasks(`+taskColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.Title, t.Description, t.StartDate, t.DueDate, t.Status, t.AssignedTo, t.CreatedBy, t.CreatedAt, t.UpdatedAt)
	return err
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return scanTask(r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
}

type TaskFilters struct {
	Status     string
	AssignedTo string
	CreatedBy  string
	// ExcludeStatus drops tasks in the given status from the result. The
	// "my tasks" view uses it to hide cancelled work.
	ExcludeStatus string
	Limit         int
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.AssignedTo != "" {
		clauses = append(clauses, "assigned_to=?")
		args = append(args, f.AssignedTo)
	}
	if f.CreatedBy != "" {
		clauses = append(clauses, "created_by=?")
		args = append(args, f.CreatedBy)
	}
	if f.ExcludeStatus != "" {
		clauses = append(clauses, "status!=?")
		args = append(args, f.ExcludeStatus)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + taskColumns + ` FROM tasks ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		var t domain.Task
		if err := rows.Scan(&t.ID, &t.Title, &t.Description, &t.StartDate, &t.DueDate, &t.Status, &t.AssignedTo, &t.CreatedBy, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, nil
}

// viewColumns resolves the two user references to fullnames. LEFT JOINs
// keep tasks visible when a referenced user row has been hard-deleted;
// the name simply comes back NULL.
const viewColumns = `t.id,t.title,t.description,t.start_date,t.due_date,t.status,a.fullname,c.fullname,t.created_at,t.updated_at`

const viewJoins = `FROM tasks t
LEFT JOIN users a ON a.id=t.assigned_to
LEFT JOIN users c ON c.id=t.created_by`

func scanTaskView(scan func(dest ...any) error) (domain.TaskView, error) {
	var v domain.TaskView
	var assigned, created sql.NullString
	err := scan(&v.ID, &v.Title, &v.Description, &v.StartDate, &v.DueDate, &v.Status, &assigned, &created, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return v, err
	}
	if assigned.Valid {
		v.AssignedTo = &assigned.String
	}
	if created.Valid {
		v.CreatedBy = &created.String
	}
	return v, nil
}

func (r Repo) GetTaskView(ctx context.Context, id string) (domain.TaskView, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+viewColumns+` `+viewJoins+` WHERE t.id=?`, id)
	v, err := scanTaskView(row.Scan)
	if err == sql.ErrNoRows {
		return v, ErrNotFound
	}
	return v, err
}

func (r Repo) ListTaskViews(ctx context.Context, f TaskFilters) ([]domain.TaskView, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "t.status=?")
		args = append(args, f.Status)
	}
	if f.AssignedTo != "" {
		clauses = append(clauses, "t.assigned_to=?")
		args = append(args, f.AssignedTo)
	}
	if f.CreatedBy != "" {
		clauses = append(clauses, "t.created_by=?")
		args = append(args, f.CreatedBy)
	}
	if f.ExcludeStatus != "" {
		clauses = append(clauses, "t.status!=?")
		args = append(args, f.ExcludeStatus)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + viewColumns + ` ` + viewJoins + ` ` + where + ` ORDER BY t.created_at DESC, t.id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TaskView
	for rows.Next() {
		v, err := scanTaskView(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, nil
}

// TaskUpdate carries the mutable task columns. The assignee and creator
// never change after creation.
type TaskUpdate struct {
	Title       *string
	Description *string
	StartDate   *string
	DueDate     *string
	UpdatedAt   string
}

func (r Repo) UpdateTaskFields(ctx context.Context, id string, upd TaskUpdate) error {
	var (
		fields []string
		args   []any
	)
	if upd.Title != nil {
		fields = append(fields, "title=?")
		args = append(args, *upd.Title)
	}
	if upd.Description != nil {
		fields = append(fields, "description=?")
		args = append(args, *upd.Description)
	}
	if upd.StartDate != nil {
		fields = append(fields, "start_date=?")
		args = append(args, *upd.StartDate)
	}
	if upd.DueDate != nil {
		fields = append(fields, "due_date=?")
		args = append(args, *upd.DueDate)
	}
	if len(fields) == 0 {
		return nil
	}
	fields = append(fields, "updated_at=?")
	args = append(args, upd.UpdatedAt, id)
	res, err := r.DB.ExecContext(ctx, fmt.Sprintf(`UPDATE tasks SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// TransitionTask moves a task from one status to another with a single
// conditional UPDATE. A zero row count means the task either no longer
// exists or is not in the expected status; callers re-fetch to tell the
// two apart.
func (r Repo) TransitionTask(ctx context.Context, id string, from, to domain.TaskStatus, updatedAt string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE tasks SET status=?, updated_at=? WHERE id=? AND status=?`, to, updatedAt, id, from)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r Repo) DeleteTask(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
