package policy

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/rs/zerolog"

	"github.com/athrane/pineapple-sub012/pkg/config"
	"github.com/athrane/pineapple-sub012/pkg/engine"
	"github.com/athrane/pineapple-sub012/pkg/session"
	"github.com/athrane/pineapple-sub012/pkg/telemetry"
)

// Engine evaluates Rego policies before a run touches a live system. It
// implements engine.PolicyChecker.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	logger   zerolog.Logger
}

var _ engine.PolicyChecker = (*Engine)(nil)

// compiledPolicy is a policy with its deny query prepared for evaluation.
type compiledPolicy struct {
	policy   *Policy
	module   *ast.Module
	query    rego.PreparedEvalQuery
	compiled time.Time
}

// NewEngine creates a policy engine holding the built-in policies.
func NewEngine(logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		logger:   logger.With().Str("component", "policy-engine").Logger(),
	}

	if err := e.loadBuiltinPolicies(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to load built-in policies: %w", err)
	}

	return e, nil
}

// CheckRun evaluates the policies against the document of req. A run with
// blocking violations is denied with an error matching
// engine.ErrPolicyViolation.
func (e *Engine) CheckRun(ctx context.Context, req *engine.RunRequest) error {
	input := NewInput(string(req.Operation), req.Environment, req.Resource, req.Document)

	res, err := e.Evaluate(ctx, input)
	if err != nil {
		return engine.NewPermanentError("policy evaluation failed", err).
			WithCode(engine.ErrCodeInternal).
			WithResource(req.Resource.ID).
			WithOperation(string(req.Operation))
	}

	source := input.Document.Source
	tel := telemetry.Of(ctx)
	for _, v := range append(res.Violations, res.Warnings...) {
		e.logger.Warn().
			Str("policy", v.Policy).
			Str("severity", string(v.Severity)).
			Str("path", v.Path).
			Str("document", source).
			Msg(v.Message)
		if tel != nil {
			tel.Metrics.RecordPolicyViolation(v.Policy, string(v.Severity))
			if v.Severity.Blocks() {
				_ = tel.Events.PolicyViolation(source, v.Policy, v.Message)
			}
		}
	}

	if res.Allowed {
		return nil
	}

	messages := make([]string, 0, len(res.Violations))
	for _, v := range res.Violations {
		messages = append(messages, fmt.Sprintf("%s: %s", v.Policy, v.Message))
	}
	return engine.NewPermanentError(fmt.Sprintf("run denied by policy: %s", strings.Join(messages, "; ")), nil).
		WithCode(engine.ErrCodePolicyViolation).
		WithResource(req.Resource.ID).
		WithOperation(string(req.Operation)).
		WithDetail("violations", res.Violations)
}

// EvaluateDocument evaluates the policies against doc as if operation was
// run on it in environment.
func (e *Engine) EvaluateDocument(ctx context.Context, doc config.Document, operation, environment string) (*Result, error) {
	if doc == nil {
		return nil, fmt.Errorf("no document to evaluate")
	}
	return e.Evaluate(ctx, NewInput(operation, environment, session.Resource{}, doc))
}

// Evaluate evaluates every enabled policy against input.
func (e *Engine) Evaluate(ctx context.Context, input *Input) (*Result, error) {
	startTime := time.Now()
	e.mu.RLock()
	defer e.mu.RUnlock()

	res := &Result{Allowed: true}

	for _, cp := range e.sortedLocked() {
		if !cp.policy.Enabled {
			continue
		}
		res.EvaluatedPolicies = append(res.EvaluatedPolicies, cp.policy.Name)

		violations, err := e.evaluatePolicy(ctx, cp, input)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			e.logger.Error().Err(err).
				Str("policy", cp.policy.Name).
				Str("document", input.Document.Source).
				Msg("Policy evaluation failed")
			res.Failures = append(res.Failures, fmt.Sprintf("%s: %v", cp.policy.Name, err))
			continue
		}

		for _, v := range violations {
			if v.Severity.Blocks() {
				res.Allowed = false
				res.Violations = append(res.Violations, v)
			} else {
				res.Warnings = append(res.Warnings, v)
			}
		}
	}

	res.EvaluatedAt = time.Now()
	res.Duration = time.Since(startTime)

	e.logger.Debug().
		Str("document", input.Document.Source).
		Str("operation", input.Operation).
		Int("violations", len(res.Violations)).
		Int("warnings", len(res.Warnings)).
		Dur("duration", res.Duration).
		Msg("Policy evaluation completed")

	return res, nil
}

// LoadPolicies loads policy files and directories in addition to the
// built-in policies. A policy with the name of a loaded one replaces it.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	loader := NewLoader(e.logger)
	policies, err := loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}
	return e.AddPolicies(ctx, policies)
}

// AddPolicies compiles and adds policies. Nothing is added when one of
// them fails to compile.
func (e *Engine) AddPolicies(ctx context.Context, policies []Policy) error {
	compiled := make([]*compiledPolicy, 0, len(policies))
	for i := range policies {
		cp, err := compilePolicy(ctx, &policies[i])
		if err != nil {
			e.logger.Error().Err(err).
				Str("policy", policies[i].Name).
				Msg("Failed to compile policy")
			return fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
		compiled = append(compiled, cp)
	}

	e.mu.Lock()
	for _, cp := range compiled {
		e.policies[cp.policy.Name] = cp
	}
	e.mu.Unlock()

	e.logger.Info().
		Int("count", len(compiled)).
		Msg("Policies loaded successfully")

	return nil
}

// ReplacePolicies drops every loaded policy and adds policies to the
// built-in ones. It is used as the reload function of Loader.Watch.
func (e *Engine) ReplacePolicies(ctx context.Context, policies []Policy) error {
	if err := e.ReloadPolicies(ctx); err != nil {
		return err
	}
	return e.AddPolicies(ctx, policies)
}

// evaluatePolicy evaluates the deny set of a single compiled policy.
func (e *Engine) evaluatePolicy(ctx context.Context, cp *compiledPolicy, input *Input) ([]Violation, error) {
	results, err := cp.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var violations []Violation
	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		denySet, ok := result.Expressions[0].Value.([]interface{})
		if !ok {
			continue
		}
		for _, d := range denySet {
			violations = append(violations, newViolation(cp.policy, d))
		}
	}

	return violations, nil
}

// newViolation converts one element of a deny set. Elements are either
// plain messages or objects with message, severity and path fields.
func newViolation(policy *Policy, value interface{}) Violation {
	violation := Violation{
		Policy:   policy.Name,
		Severity: policy.Severity,
	}

	switch v := value.(type) {
	case string:
		violation.Message = v
	case map[string]interface{}:
		for k, field := range v {
			s, isString := field.(string)
			switch {
			case k == "message" && isString:
				violation.Message = s
			case k == "severity" && isString:
				violation.Severity = Severity(s)
			case k == "path" && isString:
				violation.Path = s
			default:
				if violation.Details == nil {
					violation.Details = make(map[string]interface{})
				}
				violation.Details[k] = field
			}
		}
	default:
		violation.Message = fmt.Sprintf("%v", value)
	}

	return violation
}

// compilePolicy parses a policy and prepares the query for its deny set.
func compilePolicy(ctx context.Context, policy *Policy) (*compiledPolicy, error) {
	module, err := ast.ParseModule(policy.Name, policy.Rego)
	if err != nil {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}

	query, err := rego.New(
		rego.ParsedModule(module),
		rego.Query(module.Package.Path.String()+".deny"),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare query: %w", err)
	}

	return &compiledPolicy{
		policy:   policy,
		module:   module,
		query:    query,
		compiled: time.Now(),
	}, nil
}

// loadBuiltinPolicies compiles the built-in policies.
func (e *Engine) loadBuiltinPolicies(ctx context.Context) error {
	builtins := GetBuiltinPolicies()
	for i := range builtins {
		cp, err := compilePolicy(ctx, &builtins[i])
		if err != nil {
			return fmt.Errorf("failed to compile built-in policy %s: %w", builtins[i].Name, err)
		}
		e.policies[cp.policy.Name] = cp
	}

	e.logger.Debug().
		Int("count", len(builtins)).
		Msg("Built-in policies loaded")

	return nil
}

func (e *Engine) sortedLocked() []*compiledPolicy {
	out := make([]*compiledPolicy, 0, len(e.policies))
	for _, cp := range e.policies {
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].policy.Name < out[j].policy.Name })
	return out
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, exists := e.policies[name]
	if !exists {
		return nil, fmt.Errorf("policy not found: %s", name)
	}

	p := *cp.policy
	return &p, nil
}

// ListPolicies returns all loaded policies sorted by name.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	sorted := e.sortedLocked()
	policies := make([]Policy, 0, len(sorted))
	for _, cp := range sorted {
		policies = append(policies, *cp.policy)
	}

	return policies
}

// ReloadPolicies drops every loaded policy and recompiles the built-in ones.
func (e *Engine) ReloadPolicies(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.policies = make(map[string]*compiledPolicy)
	return e.loadBuiltinPolicies(ctx)
}

// EnablePolicy enables a policy by name.
func (e *Engine) EnablePolicy(name string) error {
	return e.setEnabled(name, true)
}

// DisablePolicy disables a policy by name.
func (e *Engine) DisablePolicy(name string) error {
	return e.setEnabled(name, false)
}

func (e *Engine) setEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}

	cp.policy.Enabled = enabled
	cp.policy.UpdatedAt = time.Now()
	e.logger.Info().Str("policy", name).Bool("enabled", enabled).Msg("Policy state changed")

	return nil
}
