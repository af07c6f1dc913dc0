package domain

import (
	"errors"
	"fmt"
)

// Sentinels matched by the typed errors below through errors.Is.
var (
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("validation failed")
	ErrIDCollision       = errors.New("id collision")
	ErrDanglingReference = errors.New("dangling reference")
)

// NotFoundError reports a board, column or task id that does not exist, or a
// task that is not where a move expected it to be.
type NotFoundError struct {
	Kind string
	ID   string
	// Detail is set when the id exists but not at the expected position.
	Detail string
}

func (e *NotFoundError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s %q not found: %s", e.Kind, e.ID, e.Detail)
	}
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ValidationError reports an empty or invalid field value.
type ValidationError struct {
	Field  string
	Reason string
	TaskID string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// IDCollisionError is returned when every generated task id was already taken.
type IDCollisionError struct {
	ID       string
	Attempts int
}

func (e *IDCollisionError) Error() string {
	return fmt.Sprintf("generated task id %q already in use after %d attempts", e.ID, e.Attempts)
}

func (e *IDCollisionError) Is(target error) bool { return target == ErrIDCollision }

// DanglingReferenceError means a column lists a task id that has no task. It
// can only come from a state that was corrupted outside the engine.
type DanglingReferenceError struct {
	BoardID  string
	ColumnID string
	TaskID   string
}

func (e *DanglingReferenceError) Error() string {
	return fmt.Sprintf("column %q on board %q references missing task %q", e.ColumnID, e.BoardID, e.TaskID)
}

func (e *DanglingReferenceError) Is(target error) bool { return target == ErrDanglingReference }
