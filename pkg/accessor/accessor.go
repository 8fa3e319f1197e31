package accessor

import (
	"context"
	"fmt"
	"reflect"
	"strings"
)

// Kind describes what an accessor returns.
type Kind string

const (
	// KindScalar is a single scalar value (string, number).
	KindScalar Kind = "scalar"

	// KindBool is a boolean value.
	KindBool Kind = "bool"

	// KindSequence is a slice or a keyed collection of values.
	KindSequence Kind = "sequence"

	// KindObject is a nested live object.
	KindObject Kind = "object"
)

// Conventional accessor name prefixes.
const (
	PrefixGet = "get"
	PrefixIs  = "is"
)

// InvokeFunc invokes an accessor on a target.
type InvokeFunc func(ctx context.Context, target any, args ...any) (any, error)

// Accessor describes one attribute accessor of a live or declared type.
type Accessor struct {
	// Name is the accessor name, for example "getListenPort".
	Name string

	// Namespace is the namespace of the declaring type.
	Namespace string

	// Arity is the number of arguments the accessor requires.
	Arity int

	// Returns describes the returned value.
	Returns Kind

	// Invoke performs the call.
	Invoke InvokeFunc
}

// Attribute returns the accessor name with its conventional prefix removed.
func (a Accessor) Attribute() string {
	switch {
	case HasGetPrefix(a):
		return a.Name[len(PrefixGet):]
	case HasIsPrefix(a):
		return a.Name[len(PrefixIs):]
	default:
		return a.Name
	}
}

// String implements fmt.Stringer.
func (a Accessor) String() string {
	return fmt.Sprintf("%s.%s/%d", a.Namespace, a.Name, a.Arity)
}

// NormalizeName folds an attribute or accessor name for comparison: lower
// case with dashes and underscores removed, so "listen-port" equals
// "ListenPort".
func NormalizeName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range strings.ToLower(name) {
		if r == '-' || r == '_' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Getter builds a no-argument accessor for values of type T returning V.
// The returned kind is derived from V.
func Getter[T any, V any](namespace, name string, fn func(ctx context.Context, target T) (V, error)) Accessor {
	return Accessor{
		Name:      name,
		Namespace: namespace,
		Returns:   kindOf(reflect.TypeFor[V]()),
		Invoke: func(ctx context.Context, target any, _ ...any) (any, error) {
			t, ok := target.(T)
			if !ok {
				return nil, fmt.Errorf("accessor %s: target is %T, not %s", name, target, reflect.TypeFor[T]())
			}
			return fn(ctx, t)
		},
	}
}

// Method builds an accessor for values of type T that takes arguments.
func Method[T any](namespace, name string, arity int, returns Kind, fn func(ctx context.Context, target T, args ...any) (any, error)) Accessor {
	return Accessor{
		Name:      name,
		Namespace: namespace,
		Arity:     arity,
		Returns:   returns,
		Invoke: func(ctx context.Context, target any, args ...any) (any, error) {
			t, ok := target.(T)
			if !ok {
				return nil, fmt.Errorf("accessor %s: target is %T, not %s", name, target, reflect.TypeFor[T]())
			}
			return fn(ctx, t, args...)
		},
	}
}

func kindOf(t reflect.Type) Kind {
	if t == nil {
		return KindScalar
	}
	switch t.Kind() {
	case reflect.Bool:
		return KindBool
	case reflect.Slice, reflect.Array, reflect.Map:
		return KindSequence
	case reflect.Struct, reflect.Pointer, reflect.Interface:
		return KindObject
	default:
		return KindScalar
	}
}
