package service

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"today-planner/internal/repository"
)

var (
	// ErrValidation matches every *ValidationError.
	ErrValidation = errors.New("validation failed")
	// ErrNotDraggable is returned for drags on finished tasks or the task being edited.
	ErrNotDraggable = errors.New("task cannot be dragged")
	// ErrRolloverRunning is returned when a pass for the user is already in progress.
	ErrRolloverRunning = errors.New("rollover already running")
)

// ValidationError rejects input before any store call is made.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string { return e.Msg }

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func invalid(field, msg string) error {
	return &ValidationError{Field: field, Msg: msg}
}

// BatchError aggregates the failures of a set of independent writes.
// Successful writes are not undone.
type BatchError struct {
	Op     string
	Total  int
	Failed []string
	Errs   []error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("%s: %d of %d writes failed: %v", e.Op, len(e.Failed), e.Total, errors.Join(e.Errs...))
}

func (e *BatchError) Unwrap() []error { return e.Errs }

// UserMessage turns an error into the short text shown next to the list.
// op names the action, e.g. "reorder tasks".
func UserMessage(op string, err error) string {
	if err == nil {
		return ""
	}
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		return sentence(verr.Msg)
	case errors.Is(err, ErrNotDraggable):
		return "This task cannot be moved right now."
	case errors.Is(err, ErrRolloverRunning):
		return "Tomorrow's tasks are being moved right now."
	case errors.Is(err, repository.ErrNotFound):
		return "Task not found."
	default:
		return "Failed to " + op + "."
	}
}

func sentence(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	if !strings.HasSuffix(s, ".") {
		r = append(r, '.')
	}
	return string(r)
}
