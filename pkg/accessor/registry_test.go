package accessor

import (
	"context"
	"errors"
	"testing"

	"github.com/athrane/pineapple-sub012/pkg/contract"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testNamespace = "test.live"

type server struct {
	name    string
	port    int
	enabled bool
	tags    []string
}

type empty struct{}

type dynamic struct {
	attrs map[string]string
	order []string
}

func (d *dynamic) Accessors() []Accessor {
	out := make([]Accessor, 0, len(d.order))
	for _, k := range d.order {
		key := k
		out = append(out, Accessor{
			Name:      "get" + key,
			Namespace: testNamespace,
			Returns:   KindScalar,
			Invoke: func(context.Context, any, ...any) (any, error) {
				return d.attrs[key], nil
			},
		})
	}
	return out
}

func newTestRegistry() *Registry {
	reg := NewRegistry(testNamespace)
	Register[*server](reg,
		Getter(testNamespace, "getName", func(_ context.Context, s *server) (string, error) {
			return s.name, nil
		}),
		Getter(testNamespace, "getListenPort", func(_ context.Context, s *server) (int, error) {
			return s.port, nil
		}),
		Getter(testNamespace, "isEnabled", func(_ context.Context, s *server) (bool, error) {
			return s.enabled, nil
		}),
		Getter(testNamespace, "getTags", func(_ context.Context, s *server) ([]string, error) {
			return s.tags, nil
		}),
		Getter("object", "getClass", func(_ context.Context, s *server) (string, error) {
			return "server", nil
		}),
		Method(testNamespace, "getProperty", 1, KindScalar, func(_ context.Context, s *server, args ...any) (any, error) {
			return args[0], nil
		}),
	)
	return reg
}

func TestResolveAccessorsByName(t *testing.T) {
	reg := newTestRegistry()
	s := &server{name: "admin", port: 7001, enabled: true}

	tests := []struct {
		attribute string
		want      []string
	}{
		{attribute: "name", want: []string{"getName"}},
		{attribute: "Name", want: []string{"getName"}},
		{attribute: "listen-port", want: []string{"getListenPort"}},
		{attribute: "listen_port", want: []string{"getListenPort"}},
		{attribute: "enabled", want: []string{"isEnabled"}},
		{attribute: "class", want: nil},
		{attribute: "property", want: nil},
		{attribute: "missing", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.attribute, func(t *testing.T) {
			got := reg.ResolveAccessors(s, tt.attribute, reg.Matcher())
			var names []string
			for _, a := range got {
				names = append(names, a.Name)
			}
			assert.Equal(t, tt.want, names)
		})
	}
}

func TestResolveAccessorsEmptyNameIsEmpty(t *testing.T) {
	reg := newTestRegistry()
	matchEverything := func(Accessor) bool { return true }

	assert.Empty(t, reg.ResolveAccessors(&server{}, "", matchEverything))
	assert.Empty(t, reg.ResolveAccessors(&server{}, "", reg.Matcher()))
}

func TestResolveAccessorsUnknownTarget(t *testing.T) {
	reg := newTestRegistry()

	assert.Empty(t, reg.ResolveAccessors(&empty{}, "name", reg.Matcher()))
	assert.Empty(t, reg.ResolveAll(&empty{}, reg.Matcher()))
	assert.Empty(t, reg.ResolveAll(nil, reg.Matcher()))
}

func TestResolveAllKeepsDiscoveryOrder(t *testing.T) {
	reg := newTestRegistry()

	got := reg.ResolveAll(&server{}, reg.Matcher())
	require.Len(t, got, 4)
	assert.Equal(t, "getName", got[0].Name)
	assert.Equal(t, "getListenPort", got[1].Name)
	assert.Equal(t, "isEnabled", got[2].Name)
	assert.Equal(t, "getTags", got[3].Name)
}

func TestResolveManyMatches(t *testing.T) {
	reg := NewRegistry()
	Register[*server](reg,
		Getter("a", "getName", func(_ context.Context, s *server) (string, error) { return "a", nil }),
		Getter("b", "getName", func(_ context.Context, s *server) (string, error) { return "b", nil }),
	)

	got := reg.ResolveAccessors(&server{}, "name", reg.Matcher())
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Namespace)
	assert.Equal(t, "b", got[1].Namespace)
}

func TestExposer(t *testing.T) {
	reg := NewRegistry(testNamespace)
	d := &dynamic{
		attrs: map[string]string{"Name": "d1", "Notes": ""},
		order: []string{"Name", "Notes"},
	}

	got := reg.ResolveAccessors(d, "name", reg.Matcher())
	require.Len(t, got, 1)

	v, err := InvokeNoArg(context.Background(), d, got[0])
	require.NoError(t, err)
	assert.Equal(t, "d1", v)
}

func TestPredicates(t *testing.T) {
	reg := newTestRegistry()
	all := reg.Accessors(&server{})
	byName := make(map[string]Accessor)
	for _, a := range all {
		byName[a.Name] = a
	}

	assert.True(t, HasGetPrefix(byName["getName"]))
	assert.False(t, HasGetPrefix(byName["isEnabled"]))
	assert.True(t, HasIsPrefix(byName["isEnabled"]))
	assert.True(t, ReturnsBool(byName["isEnabled"]))
	assert.True(t, ReturnsSequence(byName["getTags"]))
	assert.False(t, NoArgs(byName["getProperty"]))
	assert.False(t, InNamespaces(testNamespace)(byName["getClass"]))
	assert.True(t, InNamespaces("test")(byName["getName"]))
	assert.False(t, HasGetPrefix(Accessor{Name: "get"}))
	assert.Equal(t, "ListenPort", byName["getListenPort"].Attribute())
}

func TestInvokeNoArg(t *testing.T) {
	reg := newTestRegistry()
	s := &server{port: 7001}

	a := reg.ResolveAccessors(s, "listen-port", reg.Matcher())
	require.Len(t, a, 1)

	v, err := InvokeNoArg(context.Background(), s, a[0])
	require.NoError(t, err)
	assert.Equal(t, 7001, v)
}

func TestInvokeNoArgPanicsWhenArgumentsRequired(t *testing.T) {
	reg := newTestRegistry()
	all := reg.ResolveAll(&server{}, HasGetPrefix)

	var withArgs Accessor
	for _, a := range all {
		if a.Name == "getProperty" {
			withArgs = a
		}
	}
	require.Equal(t, "getProperty", withArgs.Name)

	defer func() {
		r := recover()
		require.NotNil(t, r)
		assert.True(t, contract.IsViolation(r))
	}()
	_, _ = InvokeNoArg(context.Background(), &server{}, withArgs)
}

func TestInvokeNoArgWrapsErrors(t *testing.T) {
	cause := errors.New("connection reset")
	failing := Getter(testNamespace, "getName", func(context.Context, *server) (string, error) {
		return "", cause
	})

	_, err := InvokeNoArg(context.Background(), &server{}, failing)
	require.Error(t, err)
	assert.True(t, IsInvocationError(err))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "getName")
}

func TestInvokeNoArgRecoversPanics(t *testing.T) {
	panicking := Getter(testNamespace, "getName", func(context.Context, *server) (string, error) {
		panic("nil map")
	})

	_, err := InvokeNoArg(context.Background(), &server{}, panicking)
	require.Error(t, err)

	var ie *InvocationError
	require.ErrorAs(t, err, &ie)
	assert.Contains(t, ie.Error(), "nil map")
	assert.NotEmpty(t, ie.Stack)
}

func TestGetterRejectsWrongTarget(t *testing.T) {
	a := Getter(testNamespace, "getName", func(_ context.Context, s *server) (string, error) {
		return s.name, nil
	})

	_, err := InvokeNoArg(context.Background(), &empty{}, a)
	assert.True(t, IsInvocationError(err))
}
