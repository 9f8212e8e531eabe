package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrTerminal       = errors.New("task is in a terminal state")
	ErrConflict       = errors.New("conflict")
	ErrGroupInUse     = errors.New("group still has accounts")
	ErrSessionTimeout = errors.New("login session timed out")
)

// ValidationError reports malformed caller input. The job never starts.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NotFoundError names the missing task, credential or group.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ResourceMissingError is raised at dispatch time, before any automation
// session opens, when a file or a credential blob is absent on disk.
type ResourceMissingError struct {
	Kind string
	Path string
}

func (e *ResourceMissingError) Error() string {
	return fmt.Sprintf("%s file not found: %s", e.Kind, e.Path)
}

// ProcedureError wraps any failure raised inside an upload or validation
// procedure. Error() is the summary that reaches the stores.
type ProcedureError struct {
	Op  string
	Err error
}

func (e *ProcedureError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ProcedureError) Unwrap() error { return e.Err }

// PersistenceError means the store could not be reached or the statement
// failed. It is distinct from ErrNotFound so callers can retry instead of 404.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Summary returns the text surfaced to the Task Store for err: its first line,
// never a stack trace.
func Summary(err error) string {
	if err == nil {
		return ""
	}
	msg, _, _ := strings.Cut(err.Error(), "\n")
	return strings.TrimSpace(msg)
}
