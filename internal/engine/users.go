package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"taskdesk/internal/domain"
	"taskdesk/internal/policy"
	"taskdesk/internal/repo"
)

const (
	minUsernameLen = 3
	maxUsernameLen = 15
	minPasswordLen = 6
)

// RegisterOptions are parameters for creating a user account. Role is
// optional and defaults to user; requesting admin is gated on the caller.
type RegisterOptions struct {
	Username string
	Fullname string
	Password string
	Role     domain.Role
}

// RegisterUser creates an account. caller is nil for self-service
// registration; it must be an admin principal to grant the admin role.
func (e Engine) RegisterUser(ctx context.Context, caller *domain.Principal, opts RegisterOptions) (domain.User, error) {
	opts.Username = strings.TrimSpace(opts.Username)
	opts.Fullname = strings.TrimSpace(opts.Fullname)

	var fields []FieldError
	if n := len(opts.Username); n < minUsernameLen || n > maxUsernameLen {
		fields = append(fields, FieldError{Field: "username", Message: fmt.Sprintf("must be %d to %d characters", minUsernameLen, maxUsernameLen)})
	}
	if opts.Fullname == "" {
		fields = append(fields, FieldError{Field: "fullname", Message: "is required"})
	}
	if len(opts.Password) < minPasswordLen {
		fields = append(fields, FieldError{Field: "password", Message: fmt.Sprintf("must be at least %d characters", minPasswordLen)})
	}
	role := opts.Role
	if role == "" {
		role = domain.RoleUser
	}
	if !role.Valid() {
		fields = append(fields, FieldError{Field: "role", Message: "must be user or admin"})
	}
	if len(fields) > 0 {
		return domain.User{}, ValidationError{Fields: fields}
	}
	if err := policy.CanGrantRole(caller, role); err != nil {
		return domain.User{}, err
	}

	taken, err := e.Repo.UsernameTaken(ctx, opts.Username, "")
	if err != nil {
		return domain.User{}, err
	}
	if taken {
		return domain.User{}, ConflictError{Message: fmt.Sprintf("username %q is already taken", opts.Username)}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(opts.Password), bcrypt.DefaultCost)
	if err != nil {
		return domain.User{}, err
	}
	now := e.nowRFC3339()
	u := domain.User{
		ID:           uuid.NewString(),
		Username:     opts.Username,
		Fullname:     opts.Fullname,
		PasswordHash: string(hash),
		Role:         role,
		Status:       domain.UserActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := e.Repo.InsertUser(ctx, u); err != nil {
		return domain.User{}, err
	}
	return u, nil
}

// Authenticate verifies a username/password pair. Unknown usernames and
// wrong passwords produce the same error; deactivated accounts are
// refused explicitly.
func (e Engine) Authenticate(ctx context.Context, username, password string) (domain.User, error) {
	u, err := e.Repo.GetUserByUsername(ctx, username)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return domain.User{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return domain.User{}, ErrInvalidCredentials
	}
	if u.Status == domain.UserInactive {
		return domain.User{}, policy.ForbiddenError{Rule: "account is deactivated"}
	}
	return u, nil
}

// UserUpdateOptions carries the mutable user fields. The username is
// immutable after registration.
type UserUpdateOptions struct {
	Fullname *string
}

func (e Engine) UpdateUser(ctx context.Context, p domain.Principal, id string, opts UserUpdateOptions) (domain.User, error) {
	u, err := e.Repo.GetUser(ctx, id)
	if err != nil {
		return domain.User{}, err
	}
	if err := policy.CanUpdateUser(p, u); err != nil {
		return domain.User{}, err
	}
	if opts.Fullname != nil && strings.TrimSpace(*opts.Fullname) == "" {
		return domain.User{}, ValidationError{Fields: []FieldError{{Field: "fullname", Message: "is required"}}}
	}
	upd := repo.UserUpdate{
		Fullname:  opts.Fullname,
		UpdatedAt: e.nowRFC3339(),
	}
	if err := e.Repo.UpdateUser(ctx, id, upd); err != nil {
		return domain.User{}, err
	}
	return e.Repo.GetUser(ctx, id)
}

// DeactivateUser is the soft delete: the account flips to inactive and
// there is no way back. Tasks referencing the user are untouched.
func (e Engine) DeactivateUser(ctx context.Context, p domain.Principal, id string) (domain.User, error) {
	u, err := e.Repo.GetUser(ctx, id)
	if err != nil {
		return domain.User{}, err
	}
	if err := policy.CanDeactivateUser(p, u); err != nil {
		return domain.User{}, err
	}
	if u.Status == domain.UserInactive {
		return domain.User{}, InvalidStateError{Status: string(u.Status), Action: "deactivate user"}
	}
	if err := e.Repo.SetUserStatus(ctx, id, domain.UserInactive, e.nowRFC3339()); err != nil {
		return domain.User{}, err
	}
	return e.Repo.GetUser(ctx, id)
}

// DeleteUser removes the account row. Tasks keep their user ids, which
// now dangle; reads resolve them to null names.
func (e Engine) DeleteUser(ctx context.Context, p domain.Principal, id string) error {
	u, err := e.Repo.GetUser(ctx, id)
	if err != nil {
		return err
	}
	if err := policy.CanDeleteUser(p, u); err != nil {
		return err
	}
	return e.Repo.DeleteUser(ctx, id)
}

func (e Engine) GetUser(ctx context.Context, p domain.Principal, id string) (domain.User, error) {
	u, err := e.Repo.GetUser(ctx, id)
	if err != nil {
		return domain.User{}, err
	}
	if err := policy.CanReadUser(p, u); err != nil {
		return domain.User{}, err
	}
	return u, nil
}

func (e Engine) ListUsers(ctx context.Context, p domain.Principal, f repo.UserFilters) ([]domain.User, error) {
	if err := policy.CanListUsers(p); err != nil {
		return nil, err
	}
	return e.Repo.ListUsers(ctx, f)
}
