package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/athrane/pineapple-sub012/pkg/session"
)

var placeholder = regexp.MustCompile(`\$\{([A-Za-z0-9_.\-]+)\}`)

// ErrUndefinedProperty is returned when a placeholder names no property.
var ErrUndefinedProperty = errors.New("undefined property")

// Substitute replaces ${name} placeholders in s. A string consisting of a
// single placeholder takes the property value as is, so "${port}" can
// yield an integer.
func Substitute(s string, props map[string]any) (any, error) {
	if !strings.Contains(s, "${") {
		return s, nil
	}

	if m := placeholder.FindStringSubmatch(s); m != nil && m[0] == s {
		v, ok := props[m[1]]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUndefinedProperty, m[1])
		}
		return v, nil
	}

	var missing []string
	out := placeholder.ReplaceAllStringFunc(s, func(ref string) string {
		name := placeholder.FindStringSubmatch(ref)[1]
		v, ok := props[name]
		if !ok {
			missing = append(missing, name)
			return ref
		}
		return fmt.Sprint(v)
	})
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrUndefinedProperty, strings.Join(missing, ", "))
	}
	return out, nil
}

// SubstituteElements replaces placeholders in every string value and key
// of the tree. All undefined properties are reported together.
func SubstituteElements(root *Element, props map[string]any) error {
	var errs []error
	root.Walk(func(el *Element, _ int) {
		if el.Key != "" {
			if v, err := Substitute(el.Key, props); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", el.Label(), err))
			} else {
				el.Key = fmt.Sprint(v)
			}
		}
		s, ok := el.Value.(string)
		if !ok {
			return
		}
		v, err := Substitute(s, props)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", el.Label(), err))
			return
		}
		el.Value = v
	})
	return errors.Join(errs...)
}

// ResolveProperties returns the environment's properties extended by the
// globals its Starlark script defines. The script sees the declared
// properties as the dict "properties" and the environment name as
// "environment".
func (e *Environment) ResolveProperties(ctx context.Context, se *StarlarkEvaluator) (map[string]any, error) {
	props := make(map[string]any, len(e.Properties))
	for k, v := range e.Properties {
		props[k] = v
	}
	props["environment"] = e.Name

	if strings.TrimSpace(e.Script) == "" {
		return props, nil
	}
	if se == nil {
		se = NewStarlarkEvaluator(0)
	}

	res, err := se.Evaluate(ctx, e.Script, map[string]interface{}{
		"properties":  normalizeForStarlark(e.Properties),
		"environment": e.Name,
	})
	if err != nil {
		return nil, fmt.Errorf("environment %s: script: %w", e.Name, err)
	}
	for k, v := range res.Output {
		props[k] = v
	}
	return props, nil
}

// normalizeForStarlark converts decoded numbers to the types the evaluator
// accepts.
func normalizeForStarlark(in map[string]any) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case int32:
		return int64(val)
	case float32:
		return float64(val)
	case []any:
		list := make([]interface{}, len(val))
		for i, item := range val {
			list[i] = normalizeValue(item)
		}
		return list
	case map[string]any:
		return normalizeForStarlark(val)
	default:
		return v
	}
}

// ResourceIDs returns the resource ids of the environment in sorted order.
func (e *Environment) ResourceIDs() []string {
	ids := make([]string, 0, len(e.Resources))
	for id := range e.Resources {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SessionResource resolves a resource of the environment into connection
// parameters. Placeholders in the url and in string properties are
// substituted; the password is read from the variable named by the
// credential.
func (e *Environment) SessionResource(id string, props map[string]any) (session.Resource, session.Credential, error) {
	rc, ok := e.Resources[id]
	if !ok {
		return session.Resource{}, session.Credential{}, fmt.Errorf("environment %s has no resource %q (known: %s)",
			e.Name, id, strings.Join(e.ResourceIDs(), ", "))
	}

	url, err := Substitute(rc.URL, props)
	if err != nil {
		return session.Resource{}, session.Credential{}, fmt.Errorf("resource %s url: %w", id, err)
	}

	res := session.Resource{
		ID:         id,
		Kind:       rc.Kind,
		URL:        fmt.Sprint(url),
		Properties: make(map[string]any, len(rc.Properties)),
	}
	for k, v := range rc.Properties {
		if s, ok := v.(string); ok {
			if v, err = Substitute(s, props); err != nil {
				return session.Resource{}, session.Credential{}, fmt.Errorf("resource %s property %s: %w", id, k, err)
			}
		}
		res.Properties[k] = v
	}

	var cred session.Credential
	if rc.Credential != nil {
		cred.User = rc.Credential.User
		cred.KeyPath = rc.Credential.KeyPath
		if rc.Credential.PasswordEnv != "" {
			pw, ok := os.LookupEnv(rc.Credential.PasswordEnv)
			if !ok {
				return session.Resource{}, session.Credential{}, fmt.Errorf("resource %s: password variable %s is not set", id, rc.Credential.PasswordEnv)
			}
			cred.Password = pw
		}
	}

	return res, cred, nil
}

// ContinueOnFailureOr returns the environment setting, or def when unset.
func (e *Environment) ContinueOnFailureOr(def bool) bool {
	if e == nil || e.ContinueOnFailure == nil {
		return def
	}
	return *e.ContinueOnFailure
}
