package model

import (
	"fmt"
	"reflect"
)

// DefaultName is the name given to top-level participants without one.
const DefaultName = "root"

// ValueState describes the outcome of resolving a participant's value.
type ValueState string

const (
	// ValueResolved indicates the value was resolved and is not empty.
	ValueResolved ValueState = "RESOLVED"

	// ValueNull indicates the value was resolved but is empty or absent.
	ValueNull ValueState = "NULL"

	// ValueFailed indicates the value could not be resolved.
	ValueFailed ValueState = "FAILED"
)

// Participant is one side of a paired node: a value together with the
// outcome of resolving it.
type Participant struct {
	name  string
	typ   string
	value any
	cause error
}

// CreateSuccessful creates a participant whose value was resolved.
func CreateSuccessful(name, typ string, value any) *Participant {
	return &Participant{
		name:  nameOrDefault(name),
		typ:   typ,
		value: value,
	}
}

// CreateUnsuccessful creates a participant whose resolution failed.
// The value may be a last-known or partial value; the cause is kept for
// diagnostics. A nil cause is replaced by a generic resolution error so the
// participant always reports a failed resolution.
func CreateUnsuccessful(name, typ string, value any, cause error) *Participant {
	if cause == nil {
		cause = fmt.Errorf("resolution of %q failed", nameOrDefault(name))
	}
	return &Participant{
		name:  nameOrDefault(name),
		typ:   typ,
		value: value,
		cause: cause,
	}
}

func nameOrDefault(name string) string {
	if name == "" {
		return DefaultName
	}
	return name
}

// Name returns the participant name.
func (p *Participant) Name() string { return p.name }

// Type returns the declared type descriptor.
func (p *Participant) Type() string { return p.typ }

// Value returns the participant value, which may be nil.
func (p *Participant) Value() any { return p.value }

// Cause returns the resolution error of an unsuccessful participant.
func (p *Participant) Cause() error { return p.cause }

// IsResolutionSuccessful returns true if the participant was created by
// CreateSuccessful.
func (p *Participant) IsResolutionSuccessful() bool {
	return p.cause == nil
}

// ValueState classifies the participant value.
func (p *Participant) ValueState() ValueState {
	if !p.IsResolutionSuccessful() {
		return ValueFailed
	}
	if IsEmpty(p.value) {
		return ValueNull
	}
	return ValueResolved
}

// String implements fmt.Stringer.
func (p *Participant) String() string {
	return fmt.Sprintf("%s(%s)=%v [%s]", p.name, p.typ, p.value, p.ValueState())
}

// IsEmpty reports whether v is nil, a nil pointer or interface, an empty
// string, or an empty slice or map.
func IsEmpty(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String, reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() == 0
	case reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	default:
		return false
	}
}
