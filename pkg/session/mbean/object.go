package mbean

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"

	"github.com/athrane/pineapple-sub012/pkg/accessor"
	"github.com/athrane/pineapple-sub012/pkg/session"
)

// Namespace is the accessor namespace of management objects.
const Namespace = "mbean"

// Object is a management object: a typed, named bag of attributes with
// named child collections.
type Object struct {
	Type       string     `yaml:"type"`
	Name       string     `yaml:"name"`
	Attributes Attributes `yaml:"attributes,omitempty"`
	Children   Children   `yaml:"children,omitempty"`

	sess *Session
}

var (
	_ accessor.Exposer   = (*Object)(nil)
	_ session.Identified = (*Object)(nil)
	_ session.Finder     = (*Collection)(nil)
)

// Identity implements session.Identified.
func (o *Object) Identity() string { return o.Name }

// Attribute returns the value of an attribute.
func (o *Object) Attribute(name string) (any, bool) {
	return o.Attributes.Get(name)
}

// Collection returns the child collection reachable through attr.
func (o *Object) Collection(attr string) (*Collection, bool) {
	return o.Children.Get(attr)
}

// Accessors implements accessor.Exposer. Every attribute gets a getter
// (an "is" accessor for booleans) and every child collection a sequence
// getter. The name and type attributes are served by the object itself.
func (o *Object) Accessors() []accessor.Accessor {
	out := []accessor.Accessor{
		o.getter("getName", accessor.KindScalar, func() (any, error) { return o.Name, nil }),
		o.getter("getType", accessor.KindScalar, func() (any, error) { return o.Type, nil }),
	}

	for _, key := range o.Attributes.Keys() {
		if n := accessor.NormalizeName(key); n == "name" || n == "type" {
			continue
		}
		v, _ := o.Attributes.Get(key)
		prefix, kind := accessor.PrefixGet, accessor.KindScalar
		if _, ok := v.(bool); ok {
			prefix, kind = accessor.PrefixIs, accessor.KindBool
		}
		out = append(out, o.getter(prefix+camel(key), kind, func() (any, error) {
			v, _ := o.Attributes.Get(key)
			return v, nil
		}))
	}

	for _, c := range o.Children {
		out = append(out, o.getter(accessor.PrefixGet+camel(c.Attr), accessor.KindSequence, func() (any, error) {
			return c, nil
		}))
	}
	return out
}

func (o *Object) getter(name string, kind accessor.Kind, get func() (any, error)) accessor.Accessor {
	return accessor.Accessor{
		Name:      name,
		Namespace: Namespace + "." + strings.ToLower(o.Type),
		Returns:   kind,
		Invoke: func(ctx context.Context, _ any, _ ...any) (any, error) {
			if err := o.sess.check(); err != nil {
				return nil, err
			}
			return get()
		},
	}
}

// String implements fmt.Stringer.
func (o *Object) String() string {
	return fmt.Sprintf("%s[%s]", o.Type, o.Name)
}

// attach sets the owning session on the object tree.
func (o *Object) attach(s *Session) {
	o.sess = s
	for _, c := range o.Children {
		c.sess = s
		for _, m := range c.Members {
			m.attach(s)
		}
	}
}

func (o *Object) clone() *Object {
	cp := &Object{
		Type:       o.Type,
		Name:       o.Name,
		Attributes: o.Attributes.clone(),
		sess:       o.sess,
	}
	for _, c := range o.Children {
		cc := &Collection{Attr: c.Attr, sess: c.sess}
		for _, m := range c.Members {
			cc.Members = append(cc.Members, m.clone())
		}
		cp.Children = append(cp.Children, cc)
	}
	return cp
}

// Collection is a named, ordered set of child objects.
type Collection struct {
	Attr    string
	Members []*Object

	sess *Session
}

// Find implements session.Finder.
func (c *Collection) Find(_ context.Context, key string) (any, error) {
	if err := c.sess.check(); err != nil {
		return nil, err
	}
	if m := c.member(key); m != nil {
		return m, nil
	}
	return nil, fmt.Errorf("%s %q: %w", c.Attr, key, session.ErrNotFound)
}

// Names returns the member names in order.
func (c *Collection) Names() []string {
	names := make([]string, len(c.Members))
	for i, m := range c.Members {
		names[i] = m.Name
	}
	return names
}

func (c *Collection) member(key string) *Object {
	for _, m := range c.Members {
		if m.Name == key {
			return m
		}
	}
	return nil
}

func (c *Collection) remove(key string) bool {
	for i, m := range c.Members {
		if m.Name == key {
			c.Members = append(c.Members[:i], c.Members[i+1:]...)
			return true
		}
	}
	return false
}

// Children is the ordered list of an object's child collections. In YAML
// it is a mapping from attribute name to a sequence of objects.
type Children []*Collection

// Get returns the collection for attr.
func (ch Children) Get(attr string) (*Collection, bool) {
	want := accessor.NormalizeName(attr)
	for _, c := range ch {
		if accessor.NormalizeName(c.Attr) == want {
			return c, true
		}
	}
	return nil, false
}

// UnmarshalYAML implements yaml.Unmarshaler keeping document order.
func (ch *Children) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: children must be a mapping", node.Line)
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		c := &Collection{Attr: node.Content[i].Value}
		if err := node.Content[i+1].Decode(&c.Members); err != nil {
			return fmt.Errorf("children %q: %w", c.Attr, err)
		}
		*ch = append(*ch, c)
	}
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (ch Children) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, c := range ch {
		var members yaml.Node
		if err := members.Encode(c.Members); err != nil {
			return nil, err
		}
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: c.Attr},
			&members)
	}
	return node, nil
}

// Attributes is an insertion-ordered attribute map.
type Attributes struct {
	keys   []string
	values map[string]any
}

// Get returns an attribute by name, matching names loosely.
func (a Attributes) Get(name string) (any, bool) {
	if v, ok := a.values[name]; ok {
		return v, true
	}
	want := accessor.NormalizeName(name)
	for _, k := range a.keys {
		if accessor.NormalizeName(k) == want {
			return a.values[k], true
		}
	}
	return nil, false
}

// Set writes an attribute, keeping the position of an existing one.
func (a *Attributes) Set(name string, value any) {
	if a.values == nil {
		a.values = make(map[string]any)
	}
	want := accessor.NormalizeName(name)
	for _, k := range a.keys {
		if accessor.NormalizeName(k) == want {
			a.values[k] = value
			return
		}
	}
	a.keys = append(a.keys, name)
	a.values[name] = value
}

// Keys returns the attribute names in insertion order.
func (a Attributes) Keys() []string {
	return append([]string(nil), a.keys...)
}

// Len returns the number of attributes.
func (a Attributes) Len() int { return len(a.keys) }

// IsZero lets yaml omit empty attribute maps.
func (a Attributes) IsZero() bool { return len(a.keys) == 0 }

func (a Attributes) clone() Attributes {
	cp := Attributes{keys: a.Keys(), values: make(map[string]any, len(a.values))}
	for k, v := range a.values {
		cp.values[k] = v
	}
	return cp
}

// UnmarshalYAML implements yaml.Unmarshaler keeping document order.
func (a *Attributes) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: attributes must be a mapping", node.Line)
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		var v any
		if err := node.Content[i+1].Decode(&v); err != nil {
			return fmt.Errorf("attribute %q: %w", node.Content[i].Value, err)
		}
		a.Set(node.Content[i].Value, v)
	}
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (a Attributes) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, k := range a.keys {
		var v yaml.Node
		if err := v.Encode(a.values[k]); err != nil {
			return nil, err
		}
		node.Content = append(node.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: k}, &v)
	}
	return node, nil
}

// camel turns "listen-port" or "listen_port" into "ListenPort".
func camel(s string) string {
	var b strings.Builder
	upper := true
	for _, r := range s {
		if r == '-' || r == '_' || r == '.' {
			upper = true
			continue
		}
		if upper {
			r = unicode.ToUpper(r)
			upper = false
		}
		b.WriteRune(r)
	}
	return b.String()
}
