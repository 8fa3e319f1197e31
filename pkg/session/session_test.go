package session

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/athrane/pineapple-sub012/pkg/accessor"
)

type item struct{ id string }

func (i item) Identity() string { return i.id }

type lazyFinder map[string]any

func (f lazyFinder) Find(_ context.Context, key string) (any, error) {
	if v, ok := f[key]; ok {
		return v, nil
	}
	return nil, ErrNotFound
}

func TestFind(t *testing.T) {
	ctx := context.Background()

	t.Run("finder", func(t *testing.T) {
		v, err := Find(ctx, lazyFinder{"a": 1}, "a")
		require.NoError(t, err)
		assert.Equal(t, 1, v)

		_, err = Find(ctx, lazyFinder{}, "b")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("slice of any", func(t *testing.T) {
		coll := []any{item{"x"}, "not identified", item{"y"}}

		v, err := Find(ctx, coll, "y")
		require.NoError(t, err)
		assert.Equal(t, item{"y"}, v)

		_, err = Find(ctx, coll, "z")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("slice of identified", func(t *testing.T) {
		v, err := Find(ctx, []Identified{item{"x"}}, "x")
		require.NoError(t, err)
		assert.Equal(t, "x", v.(Identified).Identity())
	})

	t.Run("not a collection", func(t *testing.T) {
		_, err := Find(ctx, 42, "x")
		assert.ErrorIs(t, err, ErrUnsupported)
	})
}

func TestIsCollection(t *testing.T) {
	assert.True(t, IsCollection(lazyFinder{}))
	assert.True(t, IsCollection([]any{}))
	assert.True(t, IsCollection([]Identified{}))
	assert.False(t, IsCollection("servers"))
	assert.False(t, IsCollection(nil))
}

type nopSession struct{}

func (nopSession) Connect(context.Context, Resource, Credential) error { return nil }
func (nopSession) Disconnect(context.Context) error                    { return nil }
func (nopSession) Root(context.Context) (any, error)                   { return nil, nil }
func (nopSession) Lookup(context.Context, string) (any, error)         { return nil, nil }
func (nopSession) FindChild(context.Context, any, string, string) (any, error) {
	return nil, ErrNotFound
}
func (nopSession) Invoke(context.Context, any, string, ...any) (any, error) {
	return nil, ErrUnsupported
}
func (nopSession) Registry() *accessor.Registry { return accessor.NewRegistry() }

func TestFactories(t *testing.T) {
	f := NewFactories()
	f.Register("ssh", func() Session { return nopSession{} })
	f.Register("mbean", func() Session { return nopSession{} })

	assert.Equal(t, []string{"mbean", "ssh"}, f.Kinds())

	s, err := f.New("ssh")
	require.NoError(t, err)
	assert.NotNil(t, s)

	_, err = f.New("jmx")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"jmx"`)
	assert.False(t, errors.Is(err, ErrNotFound))
}
