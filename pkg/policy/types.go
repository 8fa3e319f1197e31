package policy

import (
	"time"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for findings that are reported but do not block a run.
	SeverityWarning Severity = "warning"

	// SeverityError blocks the run.
	SeverityError Severity = "error"

	// SeverityCritical blocks the run and is reported first.
	SeverityCritical Severity = "critical"
)

// Blocks reports whether a violation of this severity denies a run.
func (s Severity) Blocks() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy is a named Rego module producing deny violations.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego module. It must define a "deny" set.
	Rego string `json:"rego"`

	// Severity is the severity of violations that do not state their own.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is evaluated.
	Enabled bool `json:"enabled"`

	// Builtin marks the policies shipped with the engine.
	Builtin bool `json:"builtin,omitempty"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// Metadata contains additional policy metadata, such as its source file.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Violation is one finding of a policy.
type Violation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// Path locates the offending element, for example
	// "/domain[base]/servers[AdminServer]/listen-port".
	Path string `json:"path,omitempty"`

	Message  string   `json:"message"`
	Severity Severity `json:"severity"`

	// Details contains any further fields of the violation object.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Result is the outcome of evaluating all enabled policies.
type Result struct {
	// Allowed is false when a violation blocks the run.
	Allowed bool `json:"allowed"`

	// Violations lists the blocking violations.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists violations that do not block the run.
	Warnings []Violation `json:"warnings,omitempty"`

	// Failures lists policies that could not be evaluated.
	Failures []string `json:"failures,omitempty"`

	EvaluatedAt       time.Time     `json:"evaluated_at"`
	EvaluatedPolicies []string      `json:"evaluated_policies"`
	Duration          time.Duration `json:"duration"`
}

// Input is the document handed to every policy as "input".
type Input struct {
	// Operation is the run operation ("test" or "configure").
	Operation string `json:"operation"`

	// Environment is the environment the run targets, such as "prod".
	Environment string `json:"environment,omitempty"`

	Resource ResourceInput `json:"resource"`
	Document DocumentInput `json:"document"`

	Timestamp time.Time `json:"timestamp"`
}

// ResourceInput describes the live system of a run.
type ResourceInput struct {
	ID   string `json:"id,omitempty"`
	Kind string `json:"kind,omitempty"`
	URL  string `json:"url,omitempty"`
}

// DocumentInput describes the model document of a run.
type DocumentInput struct {
	Kind   string `json:"kind"`
	Schema string `json:"schema"`
	Source string `json:"source,omitempty"`

	// Name and Key are those of the root element.
	Name string `json:"name"`
	Key  string `json:"key,omitempty"`

	// Content is the element tree as plain data.
	Content map[string]any `json:"content"`

	// Elements lists every element below the root in document order.
	Elements []ElementInput `json:"elements"`
}

// ElementInput is one element of a document, flattened.
type ElementInput struct {
	Path   string `json:"path"`
	Parent string `json:"parent"`
	Name   string `json:"name"`
	Key    string `json:"key,omitempty"`
	Depth  int    `json:"depth"`
	Leaf   bool   `json:"leaf"`
	Value  any    `json:"value,omitempty"`
}

// PolicyBundle is a versioned collection of policies in one JSON file.
type PolicyBundle struct {
	Name        string    `json:"name"`
	Version     string    `json:"version"`
	Description string    `json:"description"`
	Policies    []Policy  `json:"policies"`
	CreatedAt   time.Time `json:"created_at"`
}
