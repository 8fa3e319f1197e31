package mbean

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/athrane/pineapple-sub012/pkg/accessor"
	"github.com/athrane/pineapple-sub012/pkg/session"
)

// Kind is the resource kind served by this package.
const Kind = "mbean"

// Attribute values set by lifecycle operations.
const (
	StateAttribute = "state"
	StateActive    = "ACTIVE"
	StateRunning   = "RUNNING"
	StateShutdown  = "SHUTDOWN"
)

// Session serves a management-object tree loaded from a YAML snapshot.
// Activating an edit writes the snapshot back.
type Session struct {
	mu        sync.RWMutex
	path      string
	root      *Object
	backup    *Object
	connected bool
	editing   bool
	registry  *accessor.Registry
}

var (
	_ session.Session = (*Session)(nil)
	_ session.Editor  = (*Session)(nil)
)

// New creates an unconnected session.
func New() *Session {
	return &Session{registry: accessor.NewRegistry(Namespace)}
}

// Factory is a session.Factory for Kind.
func Factory() session.Session { return New() }

// Connect loads the snapshot named by the resource URL. Both file:// URLs
// and plain paths are accepted.
func (s *Session) Connect(ctx context.Context, resource session.Resource, _ session.Credential) error {
	path, err := snapshotPath(resource.URL)
	if err != nil {
		return err
	}

	root, err := Load(path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.path = path
	s.root = root
	s.connected = true
	root.attach(s)

	log.Debug().Str("resource", resource.ID).Str("path", path).Msg("management snapshot loaded")
	return nil
}

// Disconnect closes the session. An open edit is discarded.
func (s *Session) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.editing {
		log.Warn().Str("path", s.path).Msg("disconnecting with an open edit, changes discarded")
		s.restoreLocked()
	}
	s.connected = false
	return nil
}

// Root returns the root management object.
func (s *Session) Root(ctx context.Context) (any, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.root, nil
}

// Lookup resolves a path of alternating collection and member names, for
// example "servers/AdminServer". A path ending in a collection name yields
// the collection. The empty path yields the root.
func (s *Session) Lookup(ctx context.Context, path string) (any, error) {
	if err := s.check(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var current any = s.root
	for _, seg := range strings.Split(strings.Trim(path, "/"), "/") {
		if seg == "" {
			continue
		}
		switch c := current.(type) {
		case *Object:
			coll, ok := c.Collection(seg)
			if !ok {
				return nil, fmt.Errorf("%s has no %q: %w", c, seg, session.ErrNotFound)
			}
			current = coll
		case *Collection:
			m := c.member(seg)
			if m == nil {
				return nil, fmt.Errorf("%s %q: %w", c.Attr, seg, session.ErrNotFound)
			}
			current = m
		}
	}
	return current, nil
}

// FindChild returns the member named value of parent's attribute collection.
func (s *Session) FindChild(ctx context.Context, parent any, attribute, value string) (any, error) {
	obj, err := asObject(parent)
	if err != nil {
		return nil, err
	}
	coll, ok := obj.Collection(attribute)
	if !ok {
		return nil, fmt.Errorf("%s has no %q: %w", obj, attribute, session.ErrNotFound)
	}
	return coll.Find(ctx, value)
}

// Invoke runs a lifecycle operation on a management object. Supported
// operations are deploy, undeploy, start and stop.
func (s *Session) Invoke(ctx context.Context, obj any, operation string, params ...any) (any, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	o, err := asObject(obj)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch operation {
	case "deploy":
		o.Attributes.Set(StateAttribute, StateActive)
	case "start":
		o.Attributes.Set(StateAttribute, StateRunning)
	case "stop":
		o.Attributes.Set(StateAttribute, StateShutdown)
	case "undeploy":
		if !s.removeLocked(s.root, o) {
			return nil, fmt.Errorf("%s: %w", o, session.ErrNotFound)
		}
	default:
		return nil, fmt.Errorf("operation %q on %s: %w", operation, o, session.ErrUnsupported)
	}

	log.Debug().Str("object", o.String()).Str("operation", operation).Msg("operation invoked")

	v, _ := o.Attributes.Get(StateAttribute)
	return v, nil
}

// Registry returns the session's accessor registry. Management objects
// expose their accessors themselves.
func (s *Session) Registry() *accessor.Registry {
	return s.registry
}

// StartEdit opens an edit. Changes made before Activate can be discarded
// with CancelEdit.
func (s *Session) StartEdit(ctx context.Context) error {
	if err := s.check(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.editing {
		return session.ErrEditInProgress
	}
	s.backup = s.root.clone()
	s.editing = true
	return nil
}

// SetAttribute writes an attribute of a management object.
func (s *Session) SetAttribute(ctx context.Context, obj any, attribute string, value any) error {
	o, err := s.editTarget(obj)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := o.Collection(attribute); ok {
		return fmt.Errorf("%s.%s is a collection: %w", o, attribute, session.ErrUnsupported)
	}
	o.Attributes.Set(attribute, value)
	return nil
}

// CreateChild adds a member named key to parent's attribute collection,
// creating the collection if needed.
func (s *Session) CreateChild(ctx context.Context, parent any, attribute, key string) (any, error) {
	coll, isColl := parent.(*Collection)
	if isColl {
		// A collection obtained from Lookup is its own parent.
		if err := s.requireEdit(); err != nil {
			return nil, err
		}
		attribute = coll.Attr
	} else {
		o, err := s.editTarget(parent)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		var ok bool
		coll, ok = o.Collection(attribute)
		if !ok {
			coll = &Collection{Attr: attribute, sess: s}
			o.Children = append(o.Children, coll)
		}
		s.mu.Unlock()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if m := coll.member(key); m != nil {
		return m, nil
	}

	child := &Object{Type: memberType(attribute), Name: key, sess: s}
	child.Attributes.Set("name", key)
	coll.Members = append(coll.Members, child)
	return child, nil
}

// Activate commits the edit by saving the snapshot.
func (s *Session) Activate(ctx context.Context) error {
	if err := s.check(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.editing {
		return errors.New("no edit in progress")
	}
	if err := Save(s.path, s.root); err != nil {
		return err
	}
	s.backup = nil
	s.editing = false

	log.Info().Str("path", s.path).Msg("management snapshot activated")
	return nil
}

// CancelEdit discards the changes made since StartEdit.
func (s *Session) CancelEdit(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.editing {
		return nil
	}
	s.restoreLocked()
	return nil
}

func (s *Session) restoreLocked() {
	s.root = s.backup
	s.root.attach(s)
	s.backup = nil
	s.editing = false
}

func (s *Session) removeLocked(parent, target *Object) bool {
	for _, c := range parent.Children {
		for _, m := range c.Members {
			if m == target {
				return c.remove(m.Name)
			}
			if s.removeLocked(m, target) {
				return true
			}
		}
	}
	return false
}

func (s *Session) editTarget(obj any) (*Object, error) {
	if err := s.requireEdit(); err != nil {
		return nil, err
	}
	return asObject(obj)
}

func (s *Session) requireEdit() error {
	if err := s.check(); err != nil {
		return err
	}
	s.mu.RLock()
	editing := s.editing
	s.mu.RUnlock()
	if !editing {
		return errors.New("no edit in progress")
	}
	return nil
}

// check reports session loss for calls on a disconnected session.
func (s *Session) check() error {
	if s == nil {
		return session.ErrNotConnected
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.connected {
		return session.ErrSessionLost
	}
	return nil
}

func asObject(v any) (*Object, error) {
	o, ok := v.(*Object)
	if !ok || o == nil {
		return nil, fmt.Errorf("%T is not a management object: %w", v, session.ErrUnsupported)
	}
	return o, nil
}

// memberType derives a member type from a collection name: "servers"
// becomes "Server".
func memberType(attr string) string {
	if strings.HasSuffix(attr, "ies") {
		return camel(strings.TrimSuffix(attr, "ies") + "y")
	}
	return camel(strings.TrimSuffix(attr, "s"))
}

func snapshotPath(raw string) (string, error) {
	if raw == "" {
		return "", errors.New("resource url is required")
	}
	if !strings.Contains(raw, "://") {
		return raw, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid resource url %q: %w", raw, err)
	}
	if u.Scheme != "file" {
		return "", fmt.Errorf("unsupported scheme %q in %q", u.Scheme, raw)
	}
	return filepath.FromSlash(u.Host + u.Path), nil
}

// Load reads a snapshot file.
func Load(path string) (*Object, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var root Object
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot %s: %w", path, err)
	}
	if root.Type == "" {
		return nil, fmt.Errorf("snapshot %s: root object has no type", path)
	}
	return &root, nil
}

// Save writes a snapshot file atomically.
func Save(path string, root *Object) error {
	data, err := yaml.Marshal(root)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}
	return nil
}
