package engine

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidCredentials covers both an unknown username and a wrong
// password so login cannot be used to probe for accounts.
var ErrInvalidCredentials = errors.New("invalid credentials")

// FieldError is one validation violation, named by input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError carries every violation found in a request, not just
// the first one.
type ValidationError struct {
	Fields []FieldError
}

func (e ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// InvalidStateError reports an action applied to an entity whose current
// lifecycle state does not permit it.
type InvalidStateError struct {
	Status string
	Action string
}

func (e InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s in status %q", e.Action, e.Status)
}

// ConflictError reports a uniqueness violation, currently only duplicate
// usernames.
type ConflictError struct {
	Message string
}

func (e ConflictError) Error() string { return e.Message }
