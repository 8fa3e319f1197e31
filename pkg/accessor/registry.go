package accessor

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"runtime/debug"
	"sync"

	"github.com/athrane/pineapple-sub012/pkg/contract"
)

// Exposer is implemented by targets that describe their own accessors,
// such as generic management objects whose attributes are only known at
// run time.
type Exposer interface {
	Accessors() []Accessor
}

// Registry maps target types to their accessors.
//
// A registry is built once per live-system integration and is safe for
// concurrent use.
type Registry struct {
	mu         sync.RWMutex
	byType     map[reflect.Type][]Accessor
	namespaces []string
}

// NewRegistry creates an empty registry. The namespaces restrict the
// default matcher returned by Matcher.
func NewRegistry(namespaces ...string) *Registry {
	return &Registry{
		byType:     make(map[reflect.Type][]Accessor),
		namespaces: namespaces,
	}
}

// Add registers accessors for a type, after any already registered.
func (r *Registry) Add(typ reflect.Type, accessors ...Accessor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byType[typ] = append(r.byType[typ], accessors...)
}

// Register registers accessors for values of type T.
func Register[T any](r *Registry, accessors ...Accessor) {
	r.Add(reflect.TypeFor[T](), accessors...)
}

// Matcher returns the default matcher for this registry's namespaces.
func (r *Registry) Matcher() Matcher {
	return DefaultMatcher(r.namespaces...)
}

// Accessors returns every accessor known for the target: registered ones
// first, in registration order, followed by those the target exposes.
func (r *Registry) Accessors(target any) []Accessor {
	if target == nil {
		return nil
	}

	r.mu.RLock()
	registered := r.byType[reflect.TypeOf(target)]
	out := make([]Accessor, len(registered))
	copy(out, registered)
	r.mu.RUnlock()

	if e, ok := target.(Exposer); ok {
		out = append(out, e.Accessors()...)
	}
	return out
}

// ResolveAccessors returns the accessors of target matching both the
// matcher and the attribute name, in discovery order. An empty attribute
// name yields no accessors. Callers must handle zero, one or many results.
func (r *Registry) ResolveAccessors(target any, attribute string, m Matcher) []Accessor {
	if attribute == "" {
		return nil
	}
	return r.ResolveAll(target, All(m, NameMatches(attribute)))
}

// ResolveAll returns the accessors of target matching the matcher, in
// discovery order.
func (r *Registry) ResolveAll(target any, m Matcher) []Accessor {
	var out []Accessor
	for _, a := range r.Accessors(target) {
		if m(a) {
			out = append(out, a)
		}
	}
	return out
}

// InvocationError reports a failed accessor call.
type InvocationError struct {
	Accessor string
	Target   string
	Stack    string
	Err      error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("invocation of %s on %s failed: %v", e.Accessor, e.Target, e.Err)
}

func (e *InvocationError) Unwrap() error {
	return e.Err
}

// IsInvocationError reports whether err is or wraps an *InvocationError.
func IsInvocationError(err error) bool {
	var ie *InvocationError
	return errors.As(err, &ie)
}

// InvokeNoArg invokes a no-argument accessor on target.
//
// It panics with a contract violation if the accessor requires arguments.
// Errors returned by the accessor, and panics raised inside it, are
// returned as *InvocationError.
func InvokeNoArg(ctx context.Context, target any, a Accessor) (value any, err error) {
	if a.Arity > 0 {
		contract.Panicf("accessor %s requires %d arguments", a.Name, a.Arity)
	}
	if a.Invoke == nil {
		contract.Panicf("accessor %s has no invoke function", a.Name)
	}

	defer func() {
		if rec := recover(); rec != nil {
			if contract.IsViolation(rec) {
				panic(rec)
			}
			err = &InvocationError{
				Accessor: a.Name,
				Target:   fmt.Sprintf("%T", target),
				Stack:    string(debug.Stack()),
				Err:      fmt.Errorf("panic: %v", rec),
			}
		}
	}()

	value, err = a.Invoke(ctx, target)
	if err != nil {
		return nil, &InvocationError{
			Accessor: a.Name,
			Target:   fmt.Sprintf("%T", target),
			Err:      err,
		}
	}
	return value, nil
}
