package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/athrane/pineapple-sub012/pkg/accessor"
	"github.com/athrane/pineapple-sub012/pkg/config"
	"github.com/athrane/pineapple-sub012/pkg/model"
	"github.com/athrane/pineapple-sub012/pkg/result"
	"github.com/athrane/pineapple-sub012/pkg/session"
)

// Operation is a pluggable per-node action run by the Director.
//
// BeforeChildren is called when a node is entered, AfterChildren once its
// children have been visited. AfterChildren must complete res unless it
// returns an error. Hooks must not retain the node or result after they
// return.
type Operation interface {
	Name() string
	BeforeChildren(ctx context.Context, t *Traversal, node *model.PairedNode, res *result.Node) error
	AfterChildren(ctx context.Context, t *Traversal, node *model.PairedNode, res *result.Node) error
}

// MissingResolver is implemented by operations that can supply a live
// object the live system does not have yet. The Director calls it for
// composite elements whose live counterpart was not found.
type MissingResolver interface {
	ResolveMissing(ctx context.Context, t *Traversal, parent *model.PairedNode, el *config.Element, res *result.Node) (any, error)
}

// Traversal is the read-only context of one walk, shared by every visit
// and never modified after creation.
type Traversal struct {
	RunID     string
	Operation Operation
	Policy    result.ContinuationPolicy
	Session   session.Session
	Registry  *accessor.Registry
	Matcher   accessor.Matcher
	Document  config.Document
	Logger    zerolog.Logger
}

// NewTraversal creates the traversal context for a run. The registry and
// matcher are taken from the session. A nil policy defaults to
// result.ContinueAlways.
func NewTraversal(runID string, op Operation, policy result.ContinuationPolicy, sess session.Session, doc config.Document, logger zerolog.Logger) *Traversal {
	if policy == nil {
		policy = result.ContinueAlways
	}
	registry := sess.Registry()
	if registry == nil {
		registry = accessor.NewRegistry()
	}
	return &Traversal{
		RunID:     runID,
		Operation: op,
		Policy:    policy,
		Session:   sess,
		Registry:  registry,
		Matcher:   registry.Matcher(),
		Document:  doc,
		Logger:    logger.With().Str("run_id", runID).Str("operation", op.Name()).Logger(),
	}
}

// ErrAttributeNotFound indicates the live object has no accessor for a
// declared attribute.
var ErrAttributeNotFound = errors.New("attribute not found")

// IsResolutionFailure reports whether err means the live counterpart of a
// declared element does not exist, as opposed to failing abnormally.
func IsResolutionFailure(err error) bool {
	return errors.Is(err, ErrAttributeNotFound) || errors.Is(err, session.ErrNotFound)
}

// elementOf returns the declared element of a paired node.
func elementOf(node *model.PairedNode) *config.Element {
	el, _ := node.Primary().Value().(*config.Element)
	return el
}

func elementType(el *config.Element) string {
	if el.IsLeaf() {
		return "leaf"
	}
	return "element"
}

func typeName(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%T", v)
}

// formatValue renders a value in the normalized string form used to compare
// declared and live values.
func formatValue(v any) string {
	if model.IsEmpty(v) {
		return ""
	}
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case fmt.Stringer:
		return strings.TrimSpace(x.String())
	default:
		return strings.TrimSpace(fmt.Sprint(x))
	}
}

// deploymentModule reports whether node is the module of a deployment
// document and annotates res with the deployment parameters.
func deploymentModule(t *Traversal, node *model.PairedNode, res *result.Node) bool {
	doc, ok := t.Document.(*config.DeploymentDocument)
	if !ok || node.Depth() != 1 {
		return false
	}
	res.AddMessage(result.KeyTarget, doc.Target())
	res.AddMessage(result.KeyModule, doc.ModuleName())
	return true
}

// completeUnresolved completes the result of a node whose live counterpart
// could not be resolved: FAILURE when it does not exist, ERROR otherwise.
func completeUnresolved(node *model.PairedNode, res *result.Node) {
	cause := node.Secondary().Cause()
	if !IsResolutionFailure(cause) {
		res.CompleteAsError(resolutionError(node, cause))
		return
	}
	if el := elementOf(node); el != nil && el.IsLeaf() {
		res.AddMessage(result.KeyExpected, formatValue(el.Value))
	}
	res.AddMessage(result.KeyReason, cause.Error())
	res.CompleteAsFailure()
}

// resolutionError classifies an abnormal failure to resolve the live
// counterpart of node. Failed accessor calls get ErrCodeInvocation.
func resolutionError(node *model.PairedNode, cause error) *EngineError {
	code := ErrCodeResolution
	if accessor.IsInvocationError(cause) {
		code = ErrCodeInvocation
	}
	return NewPermanentError("cannot resolve "+node.Path(), cause).WithCode(code)
}
