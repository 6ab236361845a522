package policy_test

import (
	"testing"

	"taskdesk/internal/domain"
	"taskdesk/internal/policy"
)

var (
	admin = domain.Principal{ID: "u-admin", Role: domain.RoleAdmin}
	alice = domain.Principal{ID: "u-alice", Role: domain.RoleUser}
	bob   = domain.Principal{ID: "u-bob", Role: domain.RoleUser}
)

func TestCanCreateTask(t *testing.T) {
	cases := []struct {
		name      string
		p         domain.Principal
		assignees bool
		allow     bool
	}{
		{"admin with assignees", admin, true, true},
		{"admin without assignees", admin, false, true},
		{"user self-assign", alice, false, true},
		{"user naming assignees", alice, true, false},
	}
	for _, tc := range cases {
		err := policy.CanCreateTask(tc.p, tc.assignees)
		if tc.allow && err != nil {
			t.Errorf("%s: unexpected deny: %v", tc.name, err)
		}
		if !tc.allow && err == nil {
			t.Errorf("%s: expected deny", tc.name)
		}
	}
}

func TestTaskMutationIsAdminOrCreator(t *testing.T) {
	task := domain.Task{ID: "t1", CreatedBy: alice.ID, AssignedTo: bob.ID}
	checks := map[string]func(domain.Principal, domain.Task) error{
		"update":   policy.CanUpdateTask,
		"complete": policy.CanCompleteTask,
		"cancel":   policy.CanCancelTask,
		"delete":   policy.CanDeleteTask,
	}
	for name, check := range checks {
		if err := check(admin, task); err != nil {
			t.Errorf("%s by admin: %v", name, err)
		}
		if err := check(alice, task); err != nil {
			t.Errorf("%s by creator: %v", name, err)
		}
		// The assignee is not enough.
		if err := check(bob, task); err == nil {
			t.Errorf("%s by assignee: expected deny", name)
		}
	}
}

func TestCanReadTaskIncludesAssignee(t *testing.T) {
	task := domain.Task{ID: "t1", CreatedBy: alice.ID, AssignedTo: bob.ID}
	for _, p := range []domain.Principal{admin, alice, bob} {
		if err := policy.CanReadTask(p, task); err != nil {
			t.Errorf("read by %s: %v", p.ID, err)
		}
	}
	other := domain.Principal{ID: "u-other", Role: domain.RoleUser}
	if err := policy.CanReadTask(other, task); err == nil {
		t.Error("read by unrelated user: expected deny")
	}
}

func TestUserOperationsAreAdminOrSelf(t *testing.T) {
	target := domain.User{ID: alice.ID}
	checks := map[string]func(domain.Principal, domain.User) error{
		"read":       policy.CanReadUser,
		"update":     policy.CanUpdateUser,
		"deactivate": policy.CanDeactivateUser,
		"delete":     policy.CanDeleteUser,
	}
	for name, check := range checks {
		if err := check(admin, target); err != nil {
			t.Errorf("%s by admin: %v", name, err)
		}
		if err := check(alice, target); err != nil {
			t.Errorf("%s by self: %v", name, err)
		}
		if err := check(bob, target); err == nil {
			t.Errorf("%s by other user: expected deny", name)
		}
	}
}

func TestCanListIsAdminOnly(t *testing.T) {
	if err := policy.CanListAllTasks(admin); err != nil {
		t.Errorf("admin list tasks: %v", err)
	}
	if err := policy.CanListAllTasks(alice); err == nil {
		t.Error("user list tasks: expected deny")
	}
	if err := policy.CanListUsers(admin); err != nil {
		t.Errorf("admin list users: %v", err)
	}
	if err := policy.CanListUsers(alice); err == nil {
		t.Error("user list users: expected deny")
	}
}

func TestCanGrantRole(t *testing.T) {
	if err := policy.CanGrantRole(nil, domain.RoleUser); err != nil {
		t.Errorf("anonymous granting user: %v", err)
	}
	if err := policy.CanGrantRole(nil, domain.RoleAdmin); err == nil {
		t.Error("anonymous granting admin: expected deny")
	}
	if err := policy.CanGrantRole(&alice, domain.RoleAdmin); err == nil {
		t.Error("user granting admin: expected deny")
	}
	if err := policy.CanGrantRole(&admin, domain.RoleAdmin); err != nil {
		t.Errorf("admin granting admin: %v", err)
	}
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to domain.TaskStatus
		ok       bool
	}{
		{domain.TaskTodo, domain.TaskDone, true},
		{domain.TaskTodo, domain.TaskCancel, true},
		{domain.TaskDone, domain.TaskCancel, false},
		{domain.TaskDone, domain.TaskTodo, false},
		{domain.TaskCancel, domain.TaskDone, false},
		{domain.TaskCancel, domain.TaskTodo, false},
		{domain.TaskTodo, domain.TaskTodo, false},
	}
	for _, tc := range cases {
		if got := policy.CanTransition(tc.from, tc.to); got != tc.ok {
			t.Errorf("%s -> %s = %v, want %v", tc.from, tc.to, got, tc.ok)
		}
	}
}
