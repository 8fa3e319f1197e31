package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/athrane/pineapple-sub012/pkg/accessor"
)

var (
	// ErrSessionLost indicates the connection to the live system broke.
	// Traversals abort when they observe it.
	ErrSessionLost = errors.New("session lost")

	// ErrNotConnected indicates a call on a session that is not connected.
	ErrNotConnected = errors.New("session not connected")

	// ErrNotFound indicates a live object does not exist.
	ErrNotFound = errors.New("live object not found")

	// ErrUnsupported indicates the session cannot perform the request.
	ErrUnsupported = errors.New("operation not supported by session")

	// ErrEditInProgress indicates StartEdit was called while an edit is
	// open.
	ErrEditInProgress = errors.New("edit already in progress")
)

// Output is the captured output of a command run on the live system.
// Sessions that run commands return it from Invoke.
type Output struct {
	Command string
	Stdout  string
	Stderr  string
}

// CommandError is a command that ran on the live system and failed. It
// keeps the captured output.
type CommandError struct {
	Output
	ExitCode int
	Err      error
}

func (e *CommandError) Error() string { return e.Err.Error() }

func (e *CommandError) Unwrap() error { return e.Err }

// Resource describes a live system to connect to.
type Resource struct {
	// ID names the resource within an environment.
	ID string `json:"id" validate:"required"`

	// Kind selects the session implementation (for example "mbean", "ssh").
	Kind string `json:"kind" validate:"required"`

	// URL locates the live system.
	URL string `json:"url,omitempty"`

	// Properties carries session specific settings.
	Properties map[string]any `json:"properties,omitempty"`
}

// Credential holds authentication material for a resource.
type Credential struct {
	User     string `json:"user,omitempty"`
	Password string `json:"-"`
	KeyPath  string `json:"key_path,omitempty"`
}

// Session is a connection to one live system.
//
// A session is not safe for concurrent use and must be owned by a single
// traversal.
type Session interface {
	// Connect opens the session.
	Connect(ctx context.Context, resource Resource, credential Credential) error

	// Disconnect closes the session. Later calls fail with ErrSessionLost.
	Disconnect(ctx context.Context) error

	// Root returns the live object representing the root of the system.
	Root(ctx context.Context) (any, error)

	// Lookup returns the live object at a slash-separated path below the root.
	Lookup(ctx context.Context, path string) (any, error)

	// FindChild returns the child of parent, reachable through attribute,
	// whose identity equals value.
	FindChild(ctx context.Context, parent any, attribute, value string) (any, error)

	// Invoke runs a named operation on a live object.
	Invoke(ctx context.Context, obj any, operation string, params ...any) (any, error)

	// Registry returns the accessors of the session's live types.
	Registry() *accessor.Registry
}

// Editor is implemented by sessions that can change the live system.
type Editor interface {
	// StartEdit opens an edit transaction.
	StartEdit(ctx context.Context) error

	// SetAttribute writes one attribute of a live object.
	SetAttribute(ctx context.Context, obj any, attribute string, value any) error

	// CreateChild creates the child of parent reachable through attribute,
	// identified by key, and returns it.
	CreateChild(ctx context.Context, parent any, attribute, key string) (any, error)

	// Activate commits the edit transaction.
	Activate(ctx context.Context) error

	// CancelEdit discards the edit transaction.
	CancelEdit(ctx context.Context) error
}

// Identified is implemented by live objects with an identity within their
// parent collection.
type Identified interface {
	Identity() string
}

// Finder is implemented by live collections that look up members lazily.
type Finder interface {
	Find(ctx context.Context, key string) (any, error)
}

// Find selects a member of a collection value by key. Finder values are
// asked directly; slices are scanned for an Identified member. It returns
// ErrNotFound when no member matches.
func Find(ctx context.Context, collection any, key string) (any, error) {
	switch c := collection.(type) {
	case Finder:
		return c.Find(ctx, key)
	case []any:
		for _, item := range c {
			if id, ok := item.(Identified); ok && id.Identity() == key {
				return item, nil
			}
		}
	case []Identified:
		for _, item := range c {
			if item.Identity() == key {
				return item, nil
			}
		}
	default:
		return nil, fmt.Errorf("%T is not a collection: %w", collection, ErrUnsupported)
	}
	return nil, fmt.Errorf("%q: %w", key, ErrNotFound)
}

// IsCollection reports whether Find can search the value.
func IsCollection(v any) bool {
	switch v.(type) {
	case Finder, []any, []Identified:
		return true
	default:
		return false
	}
}

// Factory creates unconnected sessions.
type Factory func() Session

// Factories maps resource kinds to session factories.
type Factories struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewFactories creates an empty factory set.
func NewFactories() *Factories {
	return &Factories{factories: make(map[string]Factory)}
}

// Register adds a factory for a resource kind.
func (f *Factories) Register(kind string, factory Factory) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.factories[kind] = factory
}

// New creates a session for the resource kind.
func (f *Factories) New(kind string) (Session, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	factory, ok := f.factories[kind]
	if !ok {
		return nil, fmt.Errorf("no session for resource kind %q (known: %v)", kind, f.kindsLocked())
	}
	return factory(), nil
}

// Kinds returns the registered kinds in sorted order.
func (f *Factories) Kinds() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.kindsLocked()
}

func (f *Factories) kindsLocked() []string {
	kinds := make([]string, 0, len(f.factories))
	for k := range f.factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
