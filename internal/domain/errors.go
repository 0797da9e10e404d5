package domain

import (
	"errors"
	"fmt"
)

// ErrorClass identifies the failure taxonomy bucket an error belongs to.
// Callers branch on the class, never on message text.
type ErrorClass string

const (
	// ClassInput covers malformed source rows and missing required fields.
	// Recovered locally during normalization; never aborts a sync.
	ClassInput ErrorClass = "INPUT"

	// ClassState covers illegal state-machine transitions, locked-snapshot
	// mutations and duplicate canonical IDs.
	ClassState ErrorClass = "STATE"

	// ClassPolicy covers role violations, e.g. a non-capable role approving
	// a scenario or overriding a lock gate.
	ClassPolicy ErrorClass = "POLICY"

	// ClassInfrastructure covers DB and connector transport failures. Aborts
	// the current sync with status FAILED.
	ClassInfrastructure ErrorClass = "INFRA"
)

// Error is the domain error carried across package boundaries. It pairs a
// human-readable message with a machine code identifying the taxonomy class.
type Error struct {
	Class   ErrorClass
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// NewInputError builds a row-level parse/validation error.
func NewInputError(code, format string, args ...interface{}) *Error {
	return &Error{Class: ClassInput, Code: code, Message: fmt.Sprintf(format, args...)}
}

// NewStateError builds a wrong-transition or locked-mutation error.
func NewStateError(code, format string, args ...interface{}) *Error {
	return &Error{Class: ClassState, Code: code, Message: fmt.Sprintf(format, args...)}
}

// NewPolicyError builds a role/permission violation error.
func NewPolicyError(code, format string, args ...interface{}) *Error {
	return &Error{Class: ClassPolicy, Code: code, Message: fmt.Sprintf(format, args...)}
}

// NewInfraError wraps a transport or storage failure.
func NewInfraError(code string, err error) *Error {
	return &Error{Class: ClassInfrastructure, Code: code, Message: "infrastructure failure", Err: err}
}

// Well-known domain error codes.
const (
	CodeSnapshotLocked     = "SNAPSHOT_LOCKED"
	CodeBadTransition      = "BAD_TRANSITION"
	CodeDuplicateCanonical = "DUPLICATE_CANONICAL_ID"
	CodeRoleForbidden      = "ROLE_FORBIDDEN"
	CodeGateFailed         = "LOCK_GATE_FAILED"
	CodeSolverInfeasible   = "SOLVER_INFEASIBLE"
	CodeSyncConflict       = "SYNC_ALREADY_RUNNING"
	CodeSyncCancelled      = "SYNC_CANCELLED"
)

// ErrSnapshotLocked is returned by every mutator that touches a locked
// snapshot or one of its child rows.
func ErrSnapshotLocked() *Error {
	return NewStateError(CodeSnapshotLocked, "Cannot modify locked snapshot")
}

// ClassOf extracts the taxonomy class of err, or "" for non-domain errors.
func ClassOf(err error) ErrorClass {
	var de *Error
	if errors.As(err, &de) {
		return de.Class
	}
	return ""
}

// IsState reports whether err is a StateError.
func IsState(err error) bool { return ClassOf(err) == ClassState }

// IsPolicy reports whether err is a PolicyViolation.
func IsPolicy(err error) bool { return ClassOf(err) == ClassPolicy }

// IsInput reports whether err is an InputError.
func IsInput(err error) bool { return ClassOf(err) == ClassInput }
