package domain

// Role is the privilege level carried by a user account.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// UserStatus is the account lifecycle state. There is no path back from
// inactive to active.
type UserStatus string

const (
	UserActive   UserStatus = "active"
	UserInactive UserStatus = "inactive"
)

// TaskStatus is the task lifecycle state. done and cancel are terminal.
type TaskStatus string

const (
	TaskTodo   TaskStatus = "todo"
	TaskDone   TaskStatus = "done"
	TaskCancel TaskStatus = "cancel"
)

// Terminal reports whether no further status transition is permitted.
func (s TaskStatus) Terminal() bool {
	return s == TaskDone || s == TaskCancel
}

type User struct {
	ID           string     `json:"id"`
	Username     string     `json:"username"`
	Fullname     string     `json:"fullname"`
	PasswordHash string     `json:"-"`
	Role         Role       `json:"role" enum:"user,admin"`
	Status       UserStatus `json:"status" enum:"active,inactive"`
	CreatedAt    string     `json:"created_at" format:"date-time"`
	UpdatedAt    string     `json:"updated_at" format:"date-time"`
}

type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	StartDate   string     `json:"start_date" format:"date-time"`
	DueDate     string     `json:"due_date" format:"date-time"`
	Status      TaskStatus `json:"status" enum:"todo,done,cancel"`
	AssignedTo  string     `json:"assigned_to"`
	CreatedBy   string     `json:"created_by"`
	CreatedAt   string     `json:"created_at" format:"date-time"`
	UpdatedAt   string     `json:"updated_at" format:"date-time"`
}

// TaskView is the read projection of a Task: the two user references
// resolved to display names. A dangling reference (user hard-deleted)
// yields a nil name, never an error.
type TaskView struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	StartDate   string     `json:"start_date" format:"date-time"`
	DueDate     string     `json:"due_date" format:"date-time"`
	Status      TaskStatus `json:"status" enum:"todo,done,cancel"`
	AssignedTo  *string    `json:"assigned_to"`
	CreatedBy   *string    `json:"created_by"`
	CreatedAt   string     `json:"created_at" format:"date-time"`
	UpdatedAt   string     `json:"updated_at" format:"date-time"`
}

// Principal is the authenticated actor behind a request. It is built by
// the auth middleware from verified credential claims plus the live user
// row, so Role reflects the store, not a stale token.
type Principal struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Fullname string `json:"fullname"`
	Role     Role   `json:"role" enum:"user,admin"`
}

// IsAdmin is a convenience for policy checks.
func (p Principal) IsAdmin() bool { return p.Role == RoleAdmin }
