package graph

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidGraph is matched by every graph construction error returned from Freeze.
	ErrInvalidGraph = errors.New("invalid graph")

	// ErrGraphFrozen is returned when a frozen graph is modified.
	ErrGraphFrozen = errors.New("graph is frozen")

	// ErrGraphNotFrozen is returned when a graph is used for execution before Freeze.
	ErrGraphNotFrozen = errors.New("graph is not frozen")

	// ErrDuplicateStage is returned when a stage name is added twice.
	ErrDuplicateStage = errors.New("duplicate stage")

	// ErrDuplicateField is returned when a field name is declared twice.
	ErrDuplicateField = errors.New("duplicate field")

	// ErrUnknownStage is returned when a dependency names a stage that does not exist.
	ErrUnknownStage = errors.New("unknown stage")

	// ErrUnknownField is returned when a stage, input or checkpoint names an undeclared field.
	ErrUnknownField = errors.New("unknown field")

	// ErrEmptyGraph is returned when freezing a graph without stages.
	ErrEmptyGraph = errors.New("graph has no stages")

	// ErrFieldType is returned when a value does not match its field kind.
	ErrFieldType = errors.New("field type mismatch")

	// ErrMissingInput is returned when a new session lacks a required input field.
	ErrMissingInput = errors.New("missing required input")

	// ErrEmptySessionID is returned when a session id is empty.
	ErrEmptySessionID = errors.New("empty session id")

	// ErrStagePanic wraps a panic recovered from a stage body.
	ErrStagePanic = errors.New("stage panicked")

	// ErrIncompatibleCheckpoint is returned when a stored checkpoint does not fit the graph.
	ErrIncompatibleCheckpoint = errors.New("checkpoint does not match graph")

	// ErrHistoryUnsupported is returned by History when the store keeps no history.
	ErrHistoryUnsupported = errors.New("checkpoint store does not keep history")
)

// CycleError reports a dependency cycle. Path starts and ends with the same stage.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return "dependency cycle: " + strings.Join(e.Path, " -> ")
}

func (e *CycleError) Is(target error) bool { return target == ErrInvalidGraph }

// MultipleSourcesError reports more than one stage without dependencies.
type MultipleSourcesError struct {
	Stages []string
}

func (e *MultipleSourcesError) Error() string {
	return fmt.Sprintf("graph must have exactly one source stage, found %d: %s", len(e.Stages), strings.Join(e.Stages, ", "))
}

func (e *MultipleSourcesError) Is(target error) bool { return target == ErrInvalidGraph }

// MultipleSinksError reports more than one stage without dependents.
type MultipleSinksError struct {
	Stages []string
}

func (e *MultipleSinksError) Error() string {
	return fmt.Sprintf("graph must have exactly one terminal stage, found %d: %s", len(e.Stages), strings.Join(e.Stages, ", "))
}

func (e *MultipleSinksError) Is(target error) bool { return target == ErrInvalidGraph }

// FieldConflictError reports two stages that may run concurrently and declare the same field.
type FieldConflictError struct {
	Field  string
	Stages []string
}

func (e *FieldConflictError) Error() string {
	return fmt.Sprintf("field %q is written by concurrent stages %s", e.Field, strings.Join(e.Stages, " and "))
}

func (e *FieldConflictError) Is(target error) bool { return target == ErrInvalidGraph }

// MergeConflictError reports a stage output that writes a field the stage
// did not declare. Owners lists the stages that do declare it; it is empty
// for input-only fields.
type MergeConflictError struct {
	Stage  string
	Field  string
	Owners []string
}

func (e *MergeConflictError) Error() string {
	if len(e.Owners) == 0 {
		return fmt.Sprintf("stage %q wrote undeclared field %q", e.Stage, e.Field)
	}
	return fmt.Sprintf("stage %q wrote field %q owned by %s", e.Stage, e.Field, strings.Join(e.Owners, ", "))
}

// StageExecutionError reports a failed stage invocation. The session's
// checkpoint is left as it was before the attempt.
type StageExecutionError struct {
	SessionID string
	Stage     string
	Cause     error
}

func (e *StageExecutionError) Error() string {
	return fmt.Sprintf("session %s: stage %q failed: %v", e.SessionID, e.Stage, e.Cause)
}

func (e *StageExecutionError) Unwrap() error { return e.Cause }

// SessionBusyError is returned when a session is already being driven.
type SessionBusyError struct {
	SessionID string
}

func (e *SessionBusyError) Error() string {
	return fmt.Sprintf("session %s is already running", e.SessionID)
}

// StoreUnavailableError reports a failed checkpoint store operation.
type StoreUnavailableError struct {
	Op        string
	SessionID string
	Cause     error
}

func (e *StoreUnavailableError) Error() string {
	if e.SessionID == "" {
		return fmt.Sprintf("checkpoint store %s: %v", e.Op, e.Cause)
	}
	return fmt.Sprintf("checkpoint store %s for session %s: %v", e.Op, e.SessionID, e.Cause)
}

func (e *StoreUnavailableError) Unwrap() error { return e.Cause }
