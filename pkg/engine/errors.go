package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/athrane/pineapple-sub012/pkg/session"
)

// ErrorClass tells a caller whether repeating a run can help.
type ErrorClass string

const (
	ErrorClassTransient ErrorClass = "transient" // e.g. a lost session
	ErrorClassConflict  ErrorClass = "conflict"  // e.g. an edit held by another client
	ErrorClassPermanent ErrorClass = "permanent" // e.g. an invalid model or a policy denial
)

// Error codes carried by EngineError.Code.
const (
	ErrCodeValidation          = "VALIDATION_ERROR"
	ErrCodeNotFound            = "NOT_FOUND"
	ErrCodeInternal            = "INTERNAL_ERROR"
	ErrCodeInitialization      = "INITIALIZATION_FAILED"
	ErrCodeResolution          = "RESOLUTION_FAILED"
	ErrCodeInvocation          = "INVOCATION_FAILED"
	ErrCodeSessionLost         = "SESSION_LOST"
	ErrCodePolicyViolation     = "POLICY_VIOLATION"
	ErrCodeUnsupportedDocument = "UNSUPPORTED_DOCUMENT"
	ErrCodeEditConflict        = "EDIT_CONFLICT"
	ErrCodeCancelled           = "CANCELLED"
)

// EngineError is a classified failure of a run. Two engine errors match
// under errors.Is when class and code agree, so the sentinels below match
// every error built with the same class and code.
type EngineError struct {
	Class     ErrorClass             `json:"class"`
	Code      string                 `json:"code,omitempty"`
	Message   string                 `json:"message"`
	Resource  string                 `json:"resource,omitempty"`
	Operation string                 `json:"operation,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Err       error                  `json:"-"`
}

func (e *EngineError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Class, e.Message)

	var where []string
	if e.Resource != "" {
		where = append(where, "resource="+e.Resource)
	}
	if e.Operation != "" {
		where = append(where, "operation="+e.Operation)
	}
	if len(where) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(where, ", "))
	}
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *EngineError) Unwrap() error { return e.Err }

func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	return ok && e.Class == t.Class && e.Code == t.Code
}

func newEngineError(class ErrorClass, msg string, cause error) *EngineError {
	return &EngineError{Class: class, Message: msg, Err: cause}
}

func NewTransientError(message string, err error) *EngineError {
	return newEngineError(ErrorClassTransient, message, err)
}

func NewConflictError(message string, err error) *EngineError {
	return newEngineError(ErrorClassConflict, message, err)
}

func NewPermanentError(message string, err error) *EngineError {
	return newEngineError(ErrorClassPermanent, message, err)
}

// The With methods annotate e in place and return it for chaining.

func (e *EngineError) WithResource(resource string) *EngineError {
	e.Resource = resource
	return e
}

func (e *EngineError) WithOperation(op string) *EngineError {
	e.Operation = op
	return e
}

func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = map[string]interface{}{}
	}
	e.Details[key] = value
	return e
}

// ClassOf returns the class and code of the first engine error in err's
// chain. Anything else counts as a permanent internal error.
func ClassOf(err error) (ErrorClass, string) {
	if ee := (*EngineError)(nil); errors.As(err, &ee) {
		return ee.Class, ee.Code
	}
	return ErrorClassPermanent, ErrCodeInternal
}

func hasClass(err error, c ErrorClass) bool {
	ee := (*EngineError)(nil)
	return errors.As(err, &ee) && ee.Class == c
}

func IsTransient(err error) bool { return hasClass(err, ErrorClassTransient) }
func IsConflict(err error) bool  { return hasClass(err, ErrorClassConflict) }
func IsPermanent(err error) bool { return hasClass(err, ErrorClassPermanent) }

// IsRetryable reports whether repeating the run may succeed.
func IsRetryable(err error) bool { return IsTransient(err) || IsConflict(err) }

func sentinel(class ErrorClass, code, msg string) *EngineError {
	return &EngineError{Class: class, Code: code, Message: msg}
}

var (
	// ErrUnsupportedDocument: the initializer has no pairing procedure for
	// the document variant.
	ErrUnsupportedDocument = sentinel(ErrorClassPermanent, ErrCodeUnsupportedDocument, "unsupported document")
	// ErrInitialization: the root pairing could not be built.
	ErrInitialization = sentinel(ErrorClassPermanent, ErrCodeInitialization, "initialization failed")
	// ErrSessionLost: the traversal aborted because the session broke.
	ErrSessionLost = sentinel(ErrorClassTransient, ErrCodeSessionLost, "session lost")
	// ErrPolicyViolation: a pre-flight policy denied the run.
	ErrPolicyViolation = sentinel(ErrorClassPermanent, ErrCodePolicyViolation, "policy violation")
	// ErrEditConflict: the session already had an edit open.
	ErrEditConflict = sentinel(ErrorClassConflict, ErrCodeEditConflict, "edit conflict")
	// ErrCancelled: the run's context ended before the traversal finished.
	ErrCancelled = sentinel(ErrorClassTransient, ErrCodeCancelled, "run cancelled")
)

func NewCancelledError(err error) *EngineError {
	return NewTransientError("run cancelled", err).WithCode(ErrCodeCancelled)
}

func NewSessionLostError(err error) *EngineError {
	return NewTransientError("session lost", err).WithCode(ErrCodeSessionLost)
}

// NewInitializationError wraps a failure to build the root pairing. A lost
// session stays transient.
func NewInitializationError(document string, err error) *EngineError {
	if errors.Is(err, session.ErrSessionLost) {
		return NewSessionLostError(err).WithDetail("document", document)
	}
	return NewPermanentError("cannot initialize "+document, err).WithCode(ErrCodeInitialization)
}

// isSessionLost reports whether err must abort the traversal.
func isSessionLost(err error) bool {
	return errors.Is(err, session.ErrSessionLost) || errors.Is(err, ErrSessionLost)
}
