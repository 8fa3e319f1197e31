package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/go-playground/validator/v10"
)

// keyFields are the fields identifying a member of a list of objects, in
// order of preference.
var keyFields = []string{"name", "id", "path"}

// CUEParser parses model documents and environment configurations written
// in CUE.
type CUEParser struct {
	ctx               *cue.Context
	schemaRegistry    *SchemaRegistry
	starlarkEvaluator *StarlarkEvaluator
	validator         *validator.Validate
}

// NewCUEParser creates a new CUE parser.
func NewCUEParser() *CUEParser {
	ctx := cuecontext.New()
	return &CUEParser{
		ctx:               ctx,
		schemaRegistry:    newSchemaRegistry(ctx),
		starlarkEvaluator: NewStarlarkEvaluator(0),
		validator:         validator.New(),
	}
}

// ParseDocument parses the model document at path, a .cue file or a
// directory holding one CUE package. The document kind is selected by
// its single top-level key: domain, deployment or infrastructure.
func (cp *CUEParser) ParseDocument(ctx context.Context, path string) (Document, error) {
	val, files, errs := cp.load(path)
	if len(errs) > 0 {
		return nil, &ParseError{Source: path, Errors: errs}
	}
	return cp.documentFromValue(val, path, files)
}

// ParseDocumentInline parses a model document from CUE source.
func (cp *CUEParser) ParseDocumentInline(ctx context.Context, content string) (Document, error) {
	val := cp.ctx.CompileString(content, cue.Filename("inline.cue"))
	if err := val.Err(); err != nil {
		return nil, &ParseError{Source: "inline", Errors: cueIssues(err)}
	}
	return cp.documentFromValue(val, "inline", nil)
}

func (cp *CUEParser) documentFromValue(val cue.Value, source string, files []string) (Document, error) {
	kind, body, err := documentBody(val)
	if err != nil {
		return nil, &ParseError{Source: source, Errors: []ValidationError{{
			File:     firstOr(files, source),
			Message:  err.Error(),
			Severity: "error",
		}}}
	}

	schema := schemaFor(kind)
	if err := cp.schemaRegistry.ValidateValue(schema, body); err != nil {
		return nil, &ParseError{Source: source, Errors: cueIssues(err)}
	}

	root, err := cp.buildElement(string(kind), body)
	if err != nil {
		return nil, &ParseError{Source: source, Errors: []ValidationError{{
			File:     firstOr(files, source),
			Path:     string(kind),
			Message:  err.Error(),
			Severity: "error",
		}}}
	}

	switch kind {
	case KindDomain:
		root.Key = leafString(root, "name")
		return &DomainDocument{Element: root, File: source}, nil
	case KindDeployment:
		module := root
		module.Name = DeploymentsCollection
		module.Key = leafString(module, "name")
		wrapper := NewComposite(DeploymentsCollection, "", module)
		return &DeploymentDocument{Element: wrapper, File: source}, nil
	default:
		root.Key = leafString(root, "name")
		return &InfrastructureDocument{Element: root, File: source}, nil
	}
}

// DeploymentsCollection is the name of the live collection holding
// deployed modules.
const DeploymentsCollection = "deployments"

// documentBody returns the kind and value of the single document key.
func documentBody(val cue.Value) (DocumentKind, cue.Value, error) {
	var found []DocumentKind
	for _, kind := range []DocumentKind{KindDomain, KindDeployment, KindInfrastructure} {
		if val.LookupPath(cue.ParsePath(string(kind))).Exists() {
			found = append(found, kind)
		}
	}

	switch len(found) {
	case 0:
		return "", cue.Value{}, fmt.Errorf("no document found: expected one of domain, deployment or infrastructure")
	case 1:
		return found[0], val.LookupPath(cue.ParsePath(string(found[0]))), nil
	default:
		return "", cue.Value{}, fmt.Errorf("ambiguous document: found %v", found)
	}
}

func schemaFor(kind DocumentKind) string {
	switch kind {
	case KindDomain:
		return SchemaDomain
	case KindDeployment:
		return SchemaDeployment
	default:
		return SchemaInfrastructure
	}
}

// buildElement converts a CUE value into an element tree. Struct fields
// keep their declaration order.
func (cp *CUEParser) buildElement(name string, val cue.Value) (*Element, error) {
	switch val.IncompleteKind() {
	case cue.StructKind:
		el := NewComposite(name, "")
		iter, err := val.Fields()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		for iter.Next() {
			children, err := cp.buildField(iter.Selector().Unquoted(), iter.Value())
			if err != nil {
				return nil, err
			}
			el.Children = append(el.Children, children...)
		}
		return el, nil
	default:
		v, err := scalarValue(val)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		return NewLeaf(name, v), nil
	}
}

// buildField converts one struct field. A list of structs yields one keyed
// element per member.
func (cp *CUEParser) buildField(name string, val cue.Value) ([]*Element, error) {
	if val.IncompleteKind() != cue.ListKind || !isListOfStructs(val) {
		el, err := cp.buildElement(name, val)
		if err != nil {
			return nil, err
		}
		return []*Element{el}, nil
	}

	list, err := val.List()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	var out []*Element
	for i := 0; list.Next(); i++ {
		member, err := cp.buildElement(name, list.Value())
		if err != nil {
			return nil, err
		}
		for _, field := range keyFields {
			if k := leafString(member, field); k != "" {
				member.Key = k
				break
			}
		}
		if member.Key == "" {
			return nil, fmt.Errorf("%s[%d]: member has none of the key fields %v", name, i, keyFields)
		}
		out = append(out, member)
	}
	return out, nil
}

func isListOfStructs(val cue.Value) bool {
	list, err := val.List()
	if err != nil {
		return false
	}
	nonEmpty := false
	for list.Next() {
		if list.Value().IncompleteKind() != cue.StructKind {
			return false
		}
		nonEmpty = true
	}
	return nonEmpty
}

// scalarValue decodes a concrete scalar or a list of scalars. Integers
// that fit are returned as int.
func scalarValue(val cue.Value) (any, error) {
	switch val.Kind() {
	case cue.NullKind:
		return nil, nil
	case cue.BoolKind:
		return val.Bool()
	case cue.IntKind:
		n, err := val.Int64()
		if err != nil {
			return nil, err
		}
		return int(n), nil
	case cue.FloatKind, cue.NumberKind:
		return val.Float64()
	case cue.StringKind:
		return val.String()
	case cue.ListKind:
		list, err := val.List()
		if err != nil {
			return nil, err
		}
		var out []any
		for list.Next() {
			v, err := scalarValue(list.Value())
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("value is not concrete: %v", val)
	}
}

func leafString(el *Element, name string) string {
	c := el.Child(name)
	if c == nil || !c.IsLeaf() || c.Value == nil {
		return ""
	}
	if s, ok := c.Value.(string); ok {
		return s
	}
	return fmt.Sprint(c.Value)
}

func firstOr(files []string, fallback string) string {
	if len(files) > 0 {
		return files[0]
	}
	return fallback
}

// ParseEnvironments parses an environment configuration file or directory.
func (cp *CUEParser) ParseEnvironments(ctx context.Context, path string) (*EnvironmentConfig, error) {
	val, files, errs := cp.load(path)
	if len(errs) > 0 {
		return nil, &ParseError{Source: path, Errors: errs}
	}

	if err := cp.schemaRegistry.ValidateValue(SchemaEnvironments, val); err != nil {
		return nil, &ParseError{Source: path, Errors: cueIssues(err)}
	}

	var cfg EnvironmentConfig
	if err := val.Decode(&cfg); err != nil {
		return nil, &ParseError{Source: path, Errors: []ValidationError{{
			File:     firstOr(files, path),
			Path:     "environments",
			Message:  fmt.Sprintf("failed to decode environments: %v", err),
			Severity: "error",
		}}}
	}

	if err := cp.validator.Struct(cfg); err != nil {
		return nil, &ParseError{Source: path, Errors: []ValidationError{{
			File:     firstOr(files, path),
			Path:     "environments",
			Message:  fmt.Sprintf("validation failed: %v", err),
			Severity: "error",
		}}}
	}

	for name, env := range cfg.Environments {
		env.Name = name
	}
	cfg.SourceFiles = files
	return &cfg, nil
}

// LoadEnvironment parses the configuration at path and returns the named
// environment.
func (cp *CUEParser) LoadEnvironment(ctx context.Context, path, name string) (*Environment, error) {
	cfg, err := cp.ParseEnvironments(ctx, path)
	if err != nil {
		return nil, err
	}
	return cfg.Environment(name)
}

// Environment returns the named environment.
func (c *EnvironmentConfig) Environment(name string) (*Environment, error) {
	env, ok := c.Environments[name]
	if !ok {
		return nil, fmt.Errorf("environment %q not defined (known: %s)", name, strings.Join(c.Names(), ", "))
	}
	return env, nil
}

// Names returns the environment names in sorted order.
func (c *EnvironmentConfig) Names() []string {
	names := make([]string, 0, len(c.Environments))
	for name := range c.Environments {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Evaluator returns the evaluator that runs environment scripts.
func (cp *CUEParser) Evaluator() *StarlarkEvaluator {
	return cp.starlarkEvaluator
}

// FindDocuments returns the .cue files below dir, skipping environment
// configuration files.
func FindDocuments(dir string) ([]string, error) {
	var docs []string
	err := filepath.WalkDir(dir, func(name string, d os.DirEntry, err error) error {
		if err == nil && !d.IsDir() && filepath.Ext(name) == ".cue" && filepath.Base(name) != EnvironmentFile {
			docs = append(docs, name)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("find documents in %s: %w", dir, err)
	}
	sort.Strings(docs)
	return docs, nil
}

// EnvironmentFile is the conventional name of the environment
// configuration file.
const EnvironmentFile = "pineapple.cue"
