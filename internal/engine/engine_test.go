package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"taskdesk/internal/config"
	"taskdesk/internal/db"
	"taskdesk/internal/domain"
	"taskdesk/internal/engine"
	"taskdesk/internal/migrate"
	"taskdesk/internal/policy"
	"taskdesk/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	Admin  domain.Principal
	Alice  domain.Principal
	Bob    domain.Principal
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default())
	eng.Now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	ctx := context.Background()

	env := testEnv{Engine: eng, Ctx: ctx}
	env.Admin = registerUser(t, env, "boss", "The Boss", domain.RoleAdmin)
	env.Alice = registerUser(t, env, "alice", "Alice A", domain.RoleUser)
	env.Bob = registerUser(t, env, "bob", "Bob B", domain.RoleUser)
	return env
}

func registerUser(t *testing.T, env testEnv, username, fullname string, role domain.Role) domain.Principal {
	t.Helper()
	bootstrap := domain.Principal{Role: domain.RoleAdmin}
	u, err := env.Engine.RegisterUser(env.Ctx, &bootstrap, engine.RegisterOptions{
		Username: username,
		Fullname: fullname,
		Password: "secret-pass",
		Role:     role,
	})
	if err != nil {
		t.Fatalf("register %s: %v", username, err)
	}
	return domain.Principal{ID: u.ID, Username: u.Username, Fullname: u.Fullname, Role: u.Role}
}

func createOptions() engine.TaskCreateOptions {
	return engine.TaskCreateOptions{
		Title:       "Write report",
		Description: "Quarterly report draft",
		StartDate:   "2025-06-02T09:00:00Z",
		DueDate:     "2025-06-10T17:00:00Z",
	}
}

func TestRegisterValidationCollectsAllFields(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.RegisterUser(env.Ctx, nil, engine.RegisterOptions{
		Username: "ab",
		Fullname: "",
		Password: "123",
	})
	var ve engine.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(ve.Fields) != 3 {
		t.Fatalf("expected 3 field errors, got %d: %v", len(ve.Fields), ve.Fields)
	}
}

func TestRegisterDuplicateUsername(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.RegisterUser(env.Ctx, nil, engine.RegisterOptions{
		Username: "alice",
		Fullname: "Another Alice",
		Password: "secret-pass",
	})
	var ce engine.ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("expected conflict error, got %v", err)
	}
}

func TestRegisterAdminRoleGated(t *testing.T) {
	env := newTestEnv(t)

	// Anonymous callers cannot mint admins.
	_, err := env.Engine.RegisterUser(env.Ctx, nil, engine.RegisterOptions{
		Username: "sneaky",
		Fullname: "Sneaky S",
		Password: "secret-pass",
		Role:     domain.RoleAdmin,
	})
	var fe policy.ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatalf("expected forbidden, got %v", err)
	}

	// Neither can regular users.
	_, err = env.Engine.RegisterUser(env.Ctx, &env.Alice, engine.RegisterOptions{
		Username: "sneaky",
		Fullname: "Sneaky S",
		Password: "secret-pass",
		Role:     domain.RoleAdmin,
	})
	if !errors.As(err, &fe) {
		t.Fatalf("expected forbidden, got %v", err)
	}

	// An admin caller can.
	u, err := env.Engine.RegisterUser(env.Ctx, &env.Admin, engine.RegisterOptions{
		Username: "deputy",
		Fullname: "Deputy D",
		Password: "secret-pass",
		Role:     domain.RoleAdmin,
	})
	if err != nil {
		t.Fatalf("admin registering admin: %v", err)
	}
	if u.Role != domain.RoleAdmin {
		t.Fatalf("expected admin role, got %s", u.Role)
	}
}

func TestRegisterDefaultsToUserRole(t *testing.T) {
	env := newTestEnv(t)
	u, err := env.Engine.RegisterUser(env.Ctx, nil, engine.RegisterOptions{
		Username: "carol",
		Fullname: "Carol C",
		Password: "secret-pass",
	})
	if err != nil {
		t.Fatal(err)
	}
	if u.Role != domain.RoleUser {
		t.Fatalf("expected user role, got %s", u.Role)
	}
}

func TestAuthenticate(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.Authenticate(env.Ctx, "alice", "secret-pass"); err != nil {
		t.Fatalf("good credentials: %v", err)
	}
	if _, err := env.Engine.Authenticate(env.Ctx, "alice", "wrong"); !errors.Is(err, engine.ErrInvalidCredentials) {
		t.Fatalf("wrong password: %v", err)
	}
	if _, err := env.Engine.Authenticate(env.Ctx, "nobody", "secret-pass"); !errors.Is(err, engine.ErrInvalidCredentials) {
		t.Fatalf("unknown user: %v", err)
	}

	if _, err := env.Engine.DeactivateUser(env.Ctx, env.Admin, env.Alice.ID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	var fe policy.ForbiddenError
	if _, err := env.Engine.Authenticate(env.Ctx, "alice", "secret-pass"); !errors.As(err, &fe) {
		t.Fatalf("inactive login should be forbidden: %v", err)
	}
}

func TestAdminFanoutCreatesOneRowPerAssignee(t *testing.T) {
	env := newTestEnv(t)
	opts := createOptions()
	opts.AssignedTo = []string{env.Alice.ID, env.Bob.ID}
	res, err := env.Engine.CreateTasks(env.Ctx, env.Admin, opts)
	if err != nil {
		t.Fatalf("fanout: %v", err)
	}
	if len(res.Created) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(res.Created))
	}
	for _, task := range res.Created {
		if task.CreatedBy != env.Admin.ID {
			t.Fatalf("created_by = %s, want admin", task.CreatedBy)
		}
		if task.Status != domain.TaskTodo {
			t.Fatalf("status = %s, want todo", task.Status)
		}
		if task.Title != opts.Title || task.Description != opts.Description {
			t.Fatalf("shared fields not copied: %+v", task)
		}
	}
	if res.Created[0].AssignedTo == res.Created[1].AssignedTo {
		t.Fatalf("rows share an assignee")
	}
}

func TestFanoutPartialFailure(t *testing.T) {
	env := newTestEnv(t)
	opts := createOptions()
	opts.AssignedTo = []string{env.Alice.ID, "no-such-user"}
	res, err := env.Engine.CreateTasks(env.Ctx, env.Admin, opts)
	if err != nil {
		t.Fatalf("partial fanout should not error: %v", err)
	}
	if len(res.Created) != 1 || res.Created[0].AssignedTo != env.Alice.ID {
		t.Fatalf("expected one row for alice, got %+v", res.Created)
	}
	if len(res.Failed) != 1 {
		t.Fatalf("expected one failure, got %+v", res.Failed)
	}
}

func TestNonAdminCannotNameAssignees(t *testing.T) {
	env := newTestEnv(t)
	opts := createOptions()
	opts.AssignedTo = []string{env.Bob.ID}
	_, err := env.Engine.CreateTasks(env.Ctx, env.Alice, opts)
	var fe policy.ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	// No rows must exist after the denial.
	tasks, err := env.Engine.Repo.ListTasks(env.Ctx, repo.TaskFilters{})
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 0 {
		t.Fatalf("expected zero rows, got %d", len(tasks))
	}
}

func TestNonAdminCreatesSelfAssignedTask(t *testing.T) {
	env := newTestEnv(t)
	res, err := env.Engine.CreateTasks(env.Ctx, env.Alice, createOptions())
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Created) != 1 {
		t.Fatalf("expected one row, got %d", len(res.Created))
	}
	if res.Created[0].AssignedTo != env.Alice.ID {
		t.Fatalf("assigned_to = %s, want alice", res.Created[0].AssignedTo)
	}
}

func TestAdminEmptyAssigneesIsValidationError(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateTasks(env.Ctx, env.Admin, createOptions())
	var ve engine.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCreateValidation(t *testing.T) {
	env := newTestEnv(t)
	opts := engine.TaskCreateOptions{
		Title:       "ab",
		Description: "shrt",
		StartDate:   "not-a-date",
		DueDate:     "also-bad",
	}
	_, err := env.Engine.CreateTasks(env.Ctx, env.Alice, opts)
	var ve engine.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(ve.Fields) != 4 {
		t.Fatalf("expected 4 field errors, got %+v", ve.Fields)
	}
}

func TestCreateRejectsPastStartDate(t *testing.T) {
	env := newTestEnv(t)
	opts := createOptions()
	opts.StartDate = "2025-05-01T09:00:00Z"
	_, err := env.Engine.CreateTasks(env.Ctx, env.Alice, opts)
	var ve engine.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestDateRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	res, err := env.Engine.CreateTasks(env.Ctx, env.Alice, createOptions())
	if err != nil {
		t.Fatal(err)
	}
	got, err := env.Engine.Repo.GetTask(env.Ctx, res.Created[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.StartDate != "2025-06-02T09:00:00Z" || got.DueDate != "2025-06-10T17:00:00Z" {
		t.Fatalf("dates did not round-trip: %s / %s", got.StartDate, got.DueDate)
	}
}

func TestTransitionRights(t *testing.T) {
	env := newTestEnv(t)
	opts := createOptions()
	opts.AssignedTo = []string{env.Alice.ID}
	res, err := env.Engine.CreateTasks(env.Ctx, env.Admin, opts)
	if err != nil {
		t.Fatal(err)
	}
	id := res.Created[0].ID

	// Bob is neither admin nor creator.
	var fe policy.ForbiddenError
	if _, err := env.Engine.CompleteTask(env.Ctx, env.Bob, id); !errors.As(err, &fe) {
		t.Fatalf("bob completing: %v", err)
	}
	// The assignee is not the creator either.
	if _, err := env.Engine.CancelTask(env.Ctx, env.Alice, id); !errors.As(err, &fe) {
		t.Fatalf("alice cancelling: %v", err)
	}
	// The creator may.
	task, err := env.Engine.CompleteTask(env.Ctx, env.Admin, id)
	if err != nil {
		t.Fatalf("admin completing: %v", err)
	}
	if task.Status != domain.TaskDone {
		t.Fatalf("status = %s, want done", task.Status)
	}
}

func TestTerminalStatesAreImmutable(t *testing.T) {
	env := newTestEnv(t)
	newTitle := "New title"

	for _, terminal := range []domain.TaskStatus{domain.TaskDone, domain.TaskCancel} {
		res, err := env.Engine.CreateTasks(env.Ctx, env.Alice, createOptions())
		if err != nil {
			t.Fatal(err)
		}
		id := res.Created[0].ID
		if terminal == domain.TaskDone {
			_, err = env.Engine.CompleteTask(env.Ctx, env.Alice, id)
		} else {
			_, err = env.Engine.CancelTask(env.Ctx, env.Alice, id)
		}
		if err != nil {
			t.Fatalf("to %s: %v", terminal, err)
		}

		var ise engine.InvalidStateError
		if _, err := env.Engine.UpdateTask(env.Ctx, env.Alice, id, engine.TaskUpdateOptions{Title: &newTitle}); !errors.As(err, &ise) {
			t.Fatalf("update in %s: %v", terminal, err)
		}
		if _, err := env.Engine.CompleteTask(env.Ctx, env.Alice, id); !errors.As(err, &ise) {
			t.Fatalf("complete in %s: %v", terminal, err)
		}
		if _, err := env.Engine.CancelTask(env.Ctx, env.Alice, id); !errors.As(err, &ise) {
			t.Fatalf("cancel in %s: %v", terminal, err)
		}
		// The row is unchanged.
		got, err := env.Engine.Repo.GetTask(env.Ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if got.Status != terminal || got.Title == newTitle {
			t.Fatalf("row mutated in terminal state: %+v", got)
		}
	}
}

func TestUpdateTaskFields(t *testing.T) {
	env := newTestEnv(t)
	res, err := env.Engine.CreateTasks(env.Ctx, env.Alice, createOptions())
	if err != nil {
		t.Fatal(err)
	}
	id := res.Created[0].ID
	title := "Revised title"
	due := "2025-06-20T17:00:00Z"
	task, err := env.Engine.UpdateTask(env.Ctx, env.Alice, id, engine.TaskUpdateOptions{Title: &title, DueDate: &due})
	if err != nil {
		t.Fatal(err)
	}
	if task.Title != title || task.DueDate != due {
		t.Fatalf("update not applied: %+v", task)
	}
	// The merged result must still satisfy due > start.
	badDue := "2025-06-01T00:00:00Z"
	var ve engine.ValidationError
	if _, err := env.Engine.UpdateTask(env.Ctx, env.Alice, id, engine.TaskUpdateOptions{DueDate: &badDue}); !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestHardDeleteTaskIdempotence(t *testing.T) {
	env := newTestEnv(t)
	res, err := env.Engine.CreateTasks(env.Ctx, env.Alice, createOptions())
	if err != nil {
		t.Fatal(err)
	}
	id := res.Created[0].ID
	if _, err := env.Engine.CompleteTask(env.Ctx, env.Alice, id); err != nil {
		t.Fatal(err)
	}
	// Hard delete works regardless of state.
	if err := env.Engine.DeleteTask(env.Ctx, env.Alice, id); err != nil {
		t.Fatalf("first delete: %v", err)
	}
	if err := env.Engine.DeleteTask(env.Ctx, env.Alice, id); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("second delete should be not found: %v", err)
	}
}

func TestDeactivateUserTwice(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.DeactivateUser(env.Ctx, env.Alice, env.Alice.ID); err != nil {
		t.Fatalf("self deactivate: %v", err)
	}
	var ise engine.InvalidStateError
	if _, err := env.Engine.DeactivateUser(env.Ctx, env.Admin, env.Alice.ID); !errors.As(err, &ise) {
		t.Fatalf("second deactivate: %v", err)
	}
}

func TestHardDeleteUserLeavesDanglingReferences(t *testing.T) {
	env := newTestEnv(t)
	opts := createOptions()
	opts.AssignedTo = []string{env.Bob.ID}
	res, err := env.Engine.CreateTasks(env.Ctx, env.Admin, opts)
	if err != nil {
		t.Fatal(err)
	}
	id := res.Created[0].ID

	if err := env.Engine.DeleteUser(env.Ctx, env.Admin, env.Bob.ID); err != nil {
		t.Fatalf("delete user: %v", err)
	}
	// The task still exists and reads do not fail; the name is gone.
	view, err := env.Engine.GetTask(env.Ctx, env.Admin, id)
	if err != nil {
		t.Fatalf("read after user delete: %v", err)
	}
	if view.AssignedTo != nil {
		t.Fatalf("expected nil assignee name, got %v", *view.AssignedTo)
	}
	if view.CreatedBy == nil || *view.CreatedBy != env.Admin.Fullname {
		t.Fatalf("creator name should survive: %+v", view.CreatedBy)
	}
}

func TestListMyTasksHidesCancelled(t *testing.T) {
	env := newTestEnv(t)
	first, err := env.Engine.CreateTasks(env.Ctx, env.Alice, createOptions())
	if err != nil {
		t.Fatal(err)
	}
	second, err := env.Engine.CreateTasks(env.Ctx, env.Alice, createOptions())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.CancelTask(env.Ctx, env.Alice, second.Created[0].ID); err != nil {
		t.Fatal(err)
	}

	mine, err := env.Engine.ListMyTasks(env.Ctx, env.Alice)
	if err != nil {
		t.Fatal(err)
	}
	if len(mine) != 1 || mine[0].ID != first.Created[0].ID {
		t.Fatalf("expected only the open task, got %+v", mine)
	}

	// Admin list-all still shows the cancelled row.
	all, err := env.Engine.ListAllTasks(env.Ctx, env.Admin, repo.TaskFilters{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 rows for admin, got %d", len(all))
	}
}

func TestListAllTasksAdminOnly(t *testing.T) {
	env := newTestEnv(t)
	var fe policy.ForbiddenError
	if _, err := env.Engine.ListAllTasks(env.Ctx, env.Alice, repo.TaskFilters{}); !errors.As(err, &fe) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestUpdateUserFullnameOnly(t *testing.T) {
	env := newTestEnv(t)
	name := "Alice Anderson"
	u, err := env.Engine.UpdateUser(env.Ctx, env.Alice, env.Alice.ID, engine.UserUpdateOptions{Fullname: &name})
	if err != nil {
		t.Fatal(err)
	}
	if u.Fullname != name || u.Username != "alice" {
		t.Fatalf("unexpected update result: %+v", u)
	}
	// Bob may not edit Alice.
	var fe policy.ForbiddenError
	if _, err := env.Engine.UpdateUser(env.Ctx, env.Bob, env.Alice.ID, engine.UserUpdateOptions{Fullname: &name}); !errors.As(err, &fe) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}
