package config

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// SchemaRegistry manages CUE schema definitions for validation.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	return newSchemaRegistry(cuecontext.New())
}

// newSchemaRegistry creates a registry on an existing context. Values can
// only be unified with schemas built by the same context.
func newSchemaRegistry(ctx *cue.Context) *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     ctx,
		schemas: make(map[string]cue.Value),
	}

	if err := sr.RegisterSchema(builtinSchemas); err != nil {
		// The built-in schemas are compiled into the binary.
		panic(err)
	}

	return sr
}

// RegisterSchema compiles CUE source and registers every definition it
// declares under its name, for example "#Domain".
func (sr *SchemaRegistry) RegisterSchema(source string) error {
	val := sr.ctx.CompileString(source, cue.Filename("schema.cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema: %w", err)
	}

	iter, err := val.Fields(cue.Definitions(true))
	if err != nil {
		return fmt.Errorf("failed to list schema definitions: %w", err)
	}

	sr.mu.Lock()
	defer sr.mu.Unlock()

	for iter.Next() {
		if !iter.Selector().IsDefinition() {
			continue
		}
		sr.schemas[iter.Selector().String()] = iter.Value()
	}
	return nil
}

// GetSchema retrieves a schema definition by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// ValidateValue unifies a value with a named definition and requires the
// result to be concrete.
func (sr *SchemaRegistry) ValidateValue(schemaName string, val cue.Value) error {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return fmt.Errorf("schema %s not found", schemaName)
	}

	unified := schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return err
	}
	return nil
}

// ValidateAgainstSchema validates Go data against a named definition.
func (sr *SchemaRegistry) ValidateAgainstSchema(ctx context.Context, schemaName string, data interface{}) error {
	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	if err := sr.ValidateValue(schemaName, dataVal); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}

// ListSchemas returns all registered schema names in sorted order.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Built-in schema definitions. Documents are open: attributes not named
// here are passed through to the live system as declared.
const builtinSchemas = `
// #Member is an element of a list of live objects. It is identified by
// its name, id or path field.
#Member: {
	name?: string & !=""
	id?:   string & !=""
	path?: string & !=""
	...
}

#Domain: {
	// Name is the domain name.
	name: string & !=""

	servers?:     [...#Member & {name: string, ...}]
	clusters?:    [...#Member & {name: string, ...}]
	deployments?: [...#Member & {name: string, ...}]
	libraries?:   [...#Member & {name: string, ...}]
	...
}

#Deployment: {
	// Name is the module name.
	name: string & !=""

	// Target is the server or cluster the module is deployed to.
	target: string & !=""

	"source-path"?: string
	...
}

#Infrastructure: {
	name?: string

	files?: [...#Member & {
		path:     string & =~"^/"
		content?: string
		mode?:    string | int
		owner?:   string
		...
	}]
	packages?: [...#Member & {
		name:       string
		installed?: bool
		version?:   string
		...
	}]
	services?: [...#Member & {
		name:     string
		active?:  bool
		enabled?: bool
		...
	}]
	...
}

#Resource: {
	// Kind selects the session, for example "mbean" or "ssh".
	kind: string & !=""
	url?: string
	properties?: {...}
	credential?: {
		user?:        string
		passwordEnv?: string
		keyPath?:     string
	}
}

#Environment: {
	continueOnFailure?: bool
	properties?: {[string]: _}
	script?: string
	resources: {[string]: #Resource}
}

#Environments: {
	environments: {[string]: #Environment}
	...
}
`
