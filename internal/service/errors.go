package service

import (
	"fmt"

	"go-wiki-engine/internal/acl"
)

// StaleRevisionError is returned when an edit claims a base revision the
// page has not reached.
type StaleRevisionError struct {
	Title   string
	Base    int
	Current int
}

func (e *StaleRevisionError) Error() string {
	return fmt.Sprintf("invalid revision number %d for %q (current revision is %d)", e.Base, e.Title, e.Current)
}

// ConflictError is returned when an edit based on an old revision could not
// be merged cleanly. Merged holds the text with conflict markers for the
// editor to resolve.
type ConflictError struct {
	Title    string
	Base     int
	Provided string
	Merged   string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict while merging revision %d of %q", e.Base, e.Title)
}

// PermissionError is returned when the user may not perform an action.
type PermissionError struct {
	Title  string
	Action string
	User   string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("%s may not %s %q", e.User, e.Action, e.Title)
}

func denied(title, action string, u *acl.User) error {
	return &PermissionError{Title: title, Action: action, User: u.Key()}
}
