// Package contract reports caller contract violations.
//
// A violation is a defect in the calling code (completing a result twice,
// pairing a nil participant, invoking an accessor with missing arguments).
// It is raised as a panic carrying a *Violation so that recovery points
// such as the traversal director can tell it apart from ordinary hook
// failures and re-raise it.
package contract

import (
	"errors"
	"fmt"
)

// Violation is the panic value used for contract violations.
type Violation struct {
	Message string
}

func (v *Violation) Error() string {
	return "contract violation: " + v.Message
}

// Panicf panics with a formatted *Violation.
func Panicf(format string, args ...any) {
	panic(&Violation{Message: fmt.Sprintf(format, args...)})
}

// IsViolation reports whether a recovered panic value is a contract violation.
func IsViolation(recovered any) bool {
	err, ok := recovered.(error)
	if !ok {
		return false
	}
	var v *Violation
	return errors.As(err, &v)
}
