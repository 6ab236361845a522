// Package policy holds the pure authorization decisions for taskdesk.
// Every function maps a (principal, target) pair to exactly one outcome:
// nil for allow, or a ForbiddenError naming the rule that denied. No
// function here touches the store; state-machine violations are reported
// by the engine, not by policy.
package policy

import (
	"fmt"

	"taskdesk/internal/domain"
)

// ForbiddenError indicates the principal may not perform the action.
type ForbiddenError struct {
	Rule string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("forbidden: %s", e.Rule)
}

// CanListAllTasks allows only admins; non-admins use the "my tasks" read
// path instead of a filtered list-all.
func CanListAllTasks(p domain.Principal) error {
	if p.IsAdmin() {
		return nil
	}
	return ForbiddenError{Rule: "only admins can list all tasks"}
}

// CanCreateTask governs task creation. Naming explicit assignees is an
// admin-only capability; a non-admin request carrying any assignee is
// denied outright rather than silently rewritten.
func CanCreateTask(p domain.Principal, assigneesSpecified bool) error {
	if assigneesSpecified && !p.IsAdmin() {
		return ForbiddenError{Rule: "only admins can assign tasks to other users"}
	}
	return nil
}

// CanUpdateTask allows field updates by admins or the task creator.
func CanUpdateTask(p domain.Principal, t domain.Task) error {
	return adminOrCreator(p, t, "update")
}

// CanCompleteTask allows the todo -> done transition by admins or the
// task creator.
func CanCompleteTask(p domain.Principal, t domain.Task) error {
	return adminOrCreator(p, t, "complete")
}

// CanCancelTask allows the todo -> cancel transition (soft delete) by
// admins or the task creator.
func CanCancelTask(p domain.Principal, t domain.Task) error {
	return adminOrCreator(p, t, "cancel")
}

// CanDeleteTask allows hard deletion by admins or the task creator,
// regardless of task state.
func CanDeleteTask(p domain.Principal, t domain.Task) error {
	return adminOrCreator(p, t, "delete")
}

// CanReadTask allows a single-task read by admins, the creator, or the
// assignee.
func CanReadTask(p domain.Principal, t domain.Task) error {
	if p.IsAdmin() || p.ID == t.CreatedBy || p.ID == t.AssignedTo {
		return nil
	}
	return ForbiddenError{Rule: "only admins, the creator, or the assignee can read this task"}
}

func adminOrCreator(p domain.Principal, t domain.Task, action string) error {
	if p.IsAdmin() || p.ID == t.CreatedBy {
		return nil
	}
	return ForbiddenError{Rule: fmt.Sprintf("only admins or the task creator can %s this task", action)}
}

// CanListUsers allows only admins to enumerate accounts.
func CanListUsers(p domain.Principal) error {
	if p.IsAdmin() {
		return nil
	}
	return ForbiddenError{Rule: "only admins can list users"}
}

// CanReadUser allows admins, or a user reading their own record.
func CanReadUser(p domain.Principal, target domain.User) error {
	return adminOrSelf(p, target, "read")
}

// CanUpdateUser allows admins, or a user editing their own record.
func CanUpdateUser(p domain.Principal, target domain.User) error {
	return adminOrSelf(p, target, "update")
}

// CanDeactivateUser allows admins, or a user deactivating themselves.
func CanDeactivateUser(p domain.Principal, target domain.User) error {
	return adminOrSelf(p, target, "deactivate")
}

// CanDeleteUser allows admins, or a user deleting themselves.
func CanDeleteUser(p domain.Principal, target domain.User) error {
	return adminOrSelf(p, target, "delete")
}

func adminOrSelf(p domain.Principal, target domain.User, action string) error {
	if p.IsAdmin() || p.ID == target.ID {
		return nil
	}
	return ForbiddenError{Rule: fmt.Sprintf("only admins can %s other users", action)}
}

// CanGrantRole gates role elevation at registration. Unauthenticated
// callers (nil principal) and non-admins may only create least-privileged
// accounts; nobody silently receives admin.
func CanGrantRole(caller *domain.Principal, role domain.Role) error {
	if role != domain.RoleAdmin {
		return nil
	}
	if caller != nil && caller.IsAdmin() {
		return nil
	}
	return ForbiddenError{Rule: "only admins can create admin accounts"}
}

// CanTransition is the task state machine: todo may move to done or
// cancel, and both of those are terminal.
func CanTransition(from, to domain.TaskStatus) bool {
	if from != domain.TaskTodo {
		return false
	}
	return to == domain.TaskDone || to == domain.TaskCancel
}
