package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

const defaultScriptTimeout = 10 * time.Second

var errScriptTimeout = errors.New("environment script timed out")

// StarlarkEvaluator runs environment scripts. A script sees its inputs as
// predeclared globals plus struct() and getenv(); every public,
// non-function global it defines becomes an output property.
type StarlarkEvaluator struct {
	timeout time.Duration
}

func NewStarlarkEvaluator(timeout time.Duration) *StarlarkEvaluator {
	if timeout <= 0 {
		timeout = defaultScriptTimeout
	}
	return &StarlarkEvaluator{timeout: timeout}
}

// Evaluate runs script on the calling goroutine. The interpreter is
// cancelled when ctx ends or the evaluator's timeout passes. On failure the
// returned result still carries the elapsed time and the error text.
func (se *StarlarkEvaluator) Evaluate(ctx context.Context, script string, input map[string]interface{}) (*StarlarkResult, error) {
	began := time.Now()
	res := &StarlarkResult{}

	out, err := se.run(ctx, script, input)
	res.ExecutionTime = time.Since(began)
	if err != nil {
		res.Error = err.Error()
		return res, err
	}
	res.Output = out
	return res, nil
}

func (se *StarlarkEvaluator) run(ctx context.Context, script string, input map[string]interface{}) (map[string]interface{}, error) {
	env := starlark.StringDict{
		"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
		"getenv": starlark.NewBuiltin("getenv", getenv),
	}
	for name, v := range input {
		sv, err := toStarlark(v)
		if err != nil {
			return nil, fmt.Errorf("script input %q: %w", name, err)
		}
		env[name] = sv
	}

	ctx, cancel := context.WithTimeoutCause(ctx, se.timeout, errScriptTimeout)
	defer cancel()

	thread := &starlark.Thread{
		Name:  "environment",
		Print: func(_ *starlark.Thread, msg string) { log.Debug().Str("component", "starlark").Msg(msg) },
	}
	stop := context.AfterFunc(ctx, func() { thread.Cancel(context.Cause(ctx).Error()) })
	defer stop()

	globals, err := starlark.ExecFile(thread, "environment.star", script, env)
	if err != nil {
		switch cause := context.Cause(ctx); {
		case errors.Is(cause, errScriptTimeout):
			return nil, fmt.Errorf("%w after %v", cause, se.timeout)
		case cause != nil:
			return nil, fmt.Errorf("environment script: %w", cause)
		}
		return nil, fmt.Errorf("environment script: %w", err)
	}

	out := make(map[string]interface{}, len(globals))
	for name, v := range globals {
		if strings.HasPrefix(name, "_") {
			continue
		}
		if _, fn := v.(starlark.Callable); fn {
			continue
		}
		gv, err := fromStarlark(v)
		if err != nil {
			return nil, fmt.Errorf("script output %q: %w", name, err)
		}
		out[name] = gv
	}
	return out, nil
}

func toStarlark(v interface{}) (starlark.Value, error) {
	switch x := v.(type) {
	case nil:
		return starlark.None, nil
	case bool:
		return starlark.Bool(x), nil
	case int:
		return starlark.MakeInt(x), nil
	case int64:
		return starlark.MakeInt64(x), nil
	case float64:
		return starlark.Float(x), nil
	case string:
		return starlark.String(x), nil
	case []interface{}:
		elems := make([]starlark.Value, 0, len(x))
		for _, e := range x {
			se, err := toStarlark(e)
			if err != nil {
				return nil, err
			}
			elems = append(elems, se)
		}
		return starlark.NewList(elems), nil
	case map[string]interface{}:
		d := starlark.NewDict(len(x))
		for k, e := range x {
			se, err := toStarlark(e)
			if err != nil {
				return nil, err
			}
			if err := d.SetKey(starlark.String(k), se); err != nil {
				return nil, err
			}
		}
		return d, nil
	}
	return nil, fmt.Errorf("cannot pass %T to a script", v)
}

// fromStarlark maps script values back to property values. Integers come
// back as int; tuples and lists both become slices; structs become maps.
func fromStarlark(v starlark.Value) (interface{}, error) {
	switch x := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(x), nil
	case starlark.Int:
		n, ok := x.Int64()
		if !ok {
			return nil, fmt.Errorf("integer %s out of range", x)
		}
		return int(n), nil
	case starlark.Float:
		return float64(x), nil
	case starlark.String:
		return string(x), nil
	case starlark.Indexable:
		items := make([]interface{}, x.Len())
		for i := range items {
			gv, err := fromStarlark(x.Index(i))
			if err != nil {
				return nil, err
			}
			items[i] = gv
		}
		return items, nil
	case *starlark.Dict:
		m := make(map[string]interface{}, x.Len())
		for _, kv := range x.Items() {
			k, ok := starlark.AsString(kv[0])
			if !ok {
				return nil, fmt.Errorf("dict key %s is not a string", kv[0])
			}
			gv, err := fromStarlark(kv[1])
			if err != nil {
				return nil, err
			}
			m[k] = gv
		}
		return m, nil
	case *starlarkstruct.Struct:
		m := make(map[string]interface{})
		for _, name := range x.AttrNames() {
			attr, err := x.Attr(name)
			if err != nil {
				return nil, err
			}
			if m[name], err = fromStarlark(attr); err != nil {
				return nil, err
			}
		}
		return m, nil
	}
	return nil, fmt.Errorf("cannot convert script value of type %s", v.Type())
}

// getenv(name, default="") reads the environment of the operator's process.
func getenv(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name, def string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name, "default?", &def); err != nil {
		return nil, err
	}
	if v, ok := os.LookupEnv(name); ok {
		return starlark.String(v), nil
	}
	return starlark.String(def), nil
}
