package config

import (
	"fmt"
	"strings"
	"time"
)

// DocumentKind identifies the shape of a model document by its top-level key.
type DocumentKind string

const (
	// KindDomain is an application-server domain description.
	KindDomain DocumentKind = "domain"

	// KindDeployment is a module deployed onto a target.
	KindDeployment DocumentKind = "deployment"

	// KindInfrastructure is a set of host checks.
	KindInfrastructure DocumentKind = "infrastructure"
)

// Schema definitions the document kinds are validated against.
const (
	SchemaDomain         = "#Domain"
	SchemaDeployment     = "#Deployment"
	SchemaInfrastructure = "#Infrastructure"
	SchemaEnvironments   = "#Environments"
)

// Document is a parsed declarative model. The set of implementations is
// closed: DomainDocument, DeploymentDocument and InfrastructureDocument.
type Document interface {
	// Kind returns the top-level key the document was declared under.
	Kind() DocumentKind

	// Schema returns the name of the schema definition the document
	// satisfies.
	Schema() string

	// Root returns the top-level element.
	Root() *Element

	// Source returns the file or directory the document was read from.
	Source() string

	isDocument()
}

// DomainDocument describes the configuration of an application-server domain.
type DomainDocument struct {
	Element *Element
	File    string
}

func (d *DomainDocument) Kind() DocumentKind { return KindDomain }
func (d *DomainDocument) Schema() string { return SchemaDomain }
func (d *DomainDocument) Root() *Element { return d.Element }
func (d *DomainDocument) Source() string { return d.File }
func (d *DomainDocument) isDocument() {}

// Name returns the declared domain name.
func (d *DomainDocument) Name() string { return d.Element.Key }

// DeploymentDocument describes one module and the target it is deployed to.
//
// The root element stands for the live collection of deployments and has a
// single child, the module, keyed by its name. The reserved "target" field
// names the server the module runs on.
type DeploymentDocument struct {
	Element *Element
	File    string
}

func (d *DeploymentDocument) Kind() DocumentKind { return KindDeployment }
func (d *DeploymentDocument) Schema() string { return SchemaDeployment }
func (d *DeploymentDocument) Root() *Element { return d.Element }
func (d *DeploymentDocument) Source() string { return d.File }
func (d *DeploymentDocument) isDocument() {}

// Module returns the module element.
func (d *DeploymentDocument) Module() *Element {
	if len(d.Element.Children) == 0 {
		return nil
	}
	return d.Element.Children[0]
}

// ModuleName returns the declared module name.
func (d *DeploymentDocument) ModuleName() string {
	if m := d.Module(); m != nil {
		return m.Key
	}
	return ""
}

// Target returns the declared deployment target.
func (d *DeploymentDocument) Target() string {
	m := d.Module()
	if m == nil {
		return ""
	}
	if t := m.Child(TargetField); t != nil && t.Value != nil {
		return fmt.Sprint(t.Value)
	}
	return ""
}

// TargetField is the reserved deployment field naming the target server.
const TargetField = "target"

// InfrastructureDocument describes facts, files, packages and services a
// host must have.
type InfrastructureDocument struct {
	Element *Element
	File    string
}

func (d *InfrastructureDocument) Kind() DocumentKind { return KindInfrastructure }
func (d *InfrastructureDocument) Schema() string { return SchemaInfrastructure }
func (d *InfrastructureDocument) Root() *Element { return d.Element }
func (d *InfrastructureDocument) Source() string { return d.File }
func (d *InfrastructureDocument) isDocument() {}

// Element is one node of a declarative model.
//
// A leaf carries a scalar (or list of scalars) in Value. A composite has
// children in declaration order. Members of a list of structs become
// composites sharing the list's name and identified by Key, taken from
// their name, id or path field.
type Element struct {
	Name     string
	Key      string
	Value    any
	Children []*Element

	composite bool
}

// NewLeaf creates a leaf element.
func NewLeaf(name string, value any) *Element {
	return &Element{Name: name, Value: value}
}

// NewComposite creates a composite element.
func NewComposite(name, key string, children ...*Element) *Element {
	return &Element{Name: name, Key: key, Children: children, composite: true}
}

// IsLeaf reports whether the element carries a value instead of children.
func (e *Element) IsLeaf() bool {
	return !e.composite && len(e.Children) == 0
}

// Child returns the first direct child with the given name.
func (e *Element) Child(name string) *Element {
	for _, c := range e.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// Walk visits the element and its descendants depth-first.
func (e *Element) Walk(fn func(el *Element, depth int)) {
	e.walk(fn, 0)
}

func (e *Element) walk(fn func(*Element, int), depth int) {
	fn(e, depth)
	for _, c := range e.Children {
		c.walk(fn, depth+1)
	}
}

// Label returns the name, followed by the key in brackets when present.
func (e *Element) Label() string {
	if e.Key == "" {
		return e.Name
	}
	return e.Name + "[" + e.Key + "]"
}

// String implements fmt.Stringer.
func (e *Element) String() string {
	if e.IsLeaf() {
		return fmt.Sprintf("%s=%v", e.Label(), e.Value)
	}
	labels := make([]string, len(e.Children))
	for i, c := range e.Children {
		labels[i] = c.Label()
	}
	return fmt.Sprintf("%s{%s}", e.Label(), strings.Join(labels, ","))
}

// ToMap converts the element tree back to plain data: composites become
// maps, keyed members become lists of maps.
func (e *Element) ToMap() map[string]any {
	out := make(map[string]any, len(e.Children))
	for _, c := range e.Children {
		switch {
		case c.IsLeaf():
			out[c.Name] = c.Value
		case c.Key != "":
			list, _ := out[c.Name].([]any)
			out[c.Name] = append(list, c.ToMap())
		default:
			out[c.Name] = c.ToMap()
		}
	}
	return out
}

// EnvironmentConfig is the content of an environment configuration file.
type EnvironmentConfig struct {
	Environments map[string]*Environment `json:"environments" validate:"required,min=1,dive"`

	// SourceFiles are the CUE files that were parsed.
	SourceFiles []string `json:"-"`
}

// Environment groups the live systems and properties of one stage such as
// dev, test or prod.
type Environment struct {
	Name string `json:"-"`

	// ContinueOnFailure keeps visiting siblings after a failure. The
	// command line flag takes precedence when set.
	ContinueOnFailure *bool `json:"continueOnFailure,omitempty"`

	// Properties are substituted for ${name} placeholders in documents
	// and resource settings.
	Properties map[string]any `json:"properties,omitempty"`

	// Script is an optional Starlark program computing further properties.
	Script string `json:"script,omitempty"`

	// Resources are the live systems of the environment by id.
	Resources map[string]*ResourceConfig `json:"resources" validate:"required,min=1,dive"`
}

// ResourceConfig describes how to reach one live system.
type ResourceConfig struct {
	Kind       string            `json:"kind" validate:"required"`
	URL        string            `json:"url,omitempty"`
	Properties map[string]any    `json:"properties,omitempty"`
	Credential *CredentialConfig `json:"credential,omitempty"`
}

// CredentialConfig names authentication material. Secrets are never
// written in configuration files; PasswordEnv names an environment
// variable holding the password.
type CredentialConfig struct {
	User        string `json:"user,omitempty"`
	PasswordEnv string `json:"passwordEnv,omitempty"`
	KeyPath     string `json:"keyPath,omitempty"`
}

// ValidationError represents a validation error with location information.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the CUE path to the error (e.g., "domain.servers.0.name").
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`

	// Severity is the error severity (error, warning, info).
	Severity string `json:"severity" validate:"required,oneof=error warning info"`
}

// String formats the error as file:line:column: path: message.
func (ve ValidationError) String() string {
	var b strings.Builder
	if ve.File != "" {
		b.WriteString(ve.File)
		if ve.Line > 0 {
			fmt.Fprintf(&b, ":%d:%d", ve.Line, ve.Column)
		}
		b.WriteString(": ")
	}
	if ve.Path != "" {
		b.WriteString(ve.Path)
		b.WriteString(": ")
	}
	b.WriteString(ve.Message)
	return b.String()
}

// ParseError collects the problems found while parsing a configuration.
type ParseError struct {
	Source string
	Errors []ValidationError
}

func (e *ParseError) Error() string {
	switch len(e.Errors) {
	case 0:
		return fmt.Sprintf("failed to parse %s", e.Source)
	case 1:
		return fmt.Sprintf("failed to parse %s: %s", e.Source, e.Errors[0])
	default:
		return fmt.Sprintf("failed to parse %s: %s (and %d more)", e.Source, e.Errors[0], len(e.Errors)-1)
	}
}

// StarlarkResult represents the result of Starlark execution.
type StarlarkResult struct {
	// Output is the output data from Starlark.
	Output map[string]interface{} `json:"output,omitempty"`

	// ExecutionTime is how long the script took to execute.
	ExecutionTime time.Duration `json:"execution_time"`

	// Error is any error that occurred.
	Error string `json:"error,omitempty"`
}
