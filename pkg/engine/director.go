package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/athrane/pineapple-sub012/pkg/accessor"
	"github.com/athrane/pineapple-sub012/pkg/config"
	"github.com/athrane/pineapple-sub012/pkg/contract"
	"github.com/athrane/pineapple-sub012/pkg/model"
	"github.com/athrane/pineapple-sub012/pkg/result"
	"github.com/athrane/pineapple-sub012/pkg/session"
	"github.com/athrane/pineapple-sub012/pkg/telemetry"
)

// Director walks a declarative model depth-first, pairing every element
// with its live counterpart and running an Operation on each pair.
//
// The walk is synchronous. A Director holds no state and may be shared by
// concurrent traversals, each with its own session and result tree.
type Director struct{}

// NewDirector creates a traversal director.
func NewDirector() *Director {
	return &Director{}
}

// Traverse visits node and its descendants, recording outcomes below res.
//
// Failures are localized to the smallest enclosing result. Only session
// loss is returned; every result on the path to the failing node is then
// completed as ERROR before Traverse returns.
func (d *Director) Traverse(ctx context.Context, t *Traversal, node *model.PairedNode, res *result.Node) error {
	return d.visit(ctx, t, node, res)
}

func (d *Director) visit(ctx context.Context, t *Traversal, node *model.PairedNode, res *result.Node) (err error) {
	path := node.Path()
	opName := t.Operation.Name()
	ctx, scope := telemetry.StartNode(ctx, t.RunID, path, opName)
	logger := t.Logger.With().Str("node_path", path).Logger()

	defer func() {
		if err != nil && !res.IsCompleted() {
			res.CompleteAsError(err)
		}
		scope.End(string(res.State()))
	}()

	logger.Debug().Msg("Entering node")

	if err := d.runHook(ctx, t, "before", node, res, t.Operation.BeforeChildren); err != nil {
		return err
	}

	if !res.IsCompleted() && node.Secondary().IsResolutionSuccessful() {
		if err := d.visitChildren(ctx, t, node, res); err != nil {
			return err
		}
	}

	if !res.IsCompleted() {
		if err := d.runHook(ctx, t, "after", node, res, t.Operation.AfterChildren); err != nil {
			return err
		}
	}
	if !res.IsCompleted() {
		res.CompleteAsComputed()
	}

	logger.Debug().Str("state", string(res.State())).Msg("Leaving node")
	return nil
}

func (d *Director) visitChildren(ctx context.Context, t *Traversal, node *model.PairedNode, res *result.Node) error {
	el := elementOf(node)
	if el == nil {
		return nil
	}

	prev := res
	for _, childEl := range el.Children {
		if err := ctx.Err(); err != nil {
			return NewCancelledError(err).WithResource(node.Path()).WithOperation(t.Operation.Name())
		}
		if !t.Policy.Continue(prev) {
			t.Logger.Info().
				Str("node_path", node.Path()).
				Str("policy", t.Policy.Name()).
				Str("skipped", childEl.Label()).
				Msg("Continuation policy stopped the traversal")
			return nil
		}

		childRes := res.AddChild(childEl.Label())
		secondary, err := d.resolveSecondary(ctx, t, node, childEl, childRes)
		if err != nil {
			childRes.CompleteAsError(err)
			return err
		}

		primary := model.CreateSuccessful(childEl.Label(), elementType(childEl), childEl)
		child := model.Create(node, primary, secondary)
		if err := d.visit(ctx, t, child, childRes); err != nil {
			return err
		}
		prev = childRes
	}
	return nil
}

// runHook runs an operation hook, converting panics other than contract
// violations into errors. A hook error completes the node as ERROR unless
// it reports session loss, which is returned.
func (d *Director) runHook(
	ctx context.Context,
	t *Traversal,
	name string,
	node *model.PairedNode,
	res *result.Node,
	hook func(context.Context, *Traversal, *model.PairedNode, *result.Node) error,
) error {
	err := func() (err error) {
		defer func() {
			if rec := recover(); rec != nil {
				if contract.IsViolation(rec) {
					panic(rec)
				}
				res.AddMessage(result.KeyStackTrace, string(debug.Stack()))
				err = fmt.Errorf("%s %s hook panicked: %v", t.Operation.Name(), name, rec)
			}
		}()
		return hook(ctx, t, node, res)
	}()
	if err == nil {
		return nil
	}

	if isSessionLost(err) {
		return NewSessionLostError(err).WithResource(node.Path()).WithOperation(t.Operation.Name())
	}

	t.Logger.Warn().Err(err).Str("node_path", node.Path()).Str("hook", name).Msg("Operation hook failed")
	if !res.IsCompleted() {
		recordFailure(res, err)
		res.CompleteAsError(err)
	}
	return nil
}

// recordFailure adds what a failure captured to res: the stack of a
// panicking accessor and the output of a failed live-system command.
func recordFailure(res *result.Node, err error) {
	var ie *accessor.InvocationError
	if errors.As(err, &ie) && ie.Stack != "" {
		res.AddMessage(result.KeyStackTrace, ie.Stack)
	}
	var ce *session.CommandError
	if errors.As(err, &ce) {
		if ce.Stdout != "" {
			res.AddMessage(result.KeyStdout, ce.Stdout)
		}
		if ce.Stderr != "" {
			res.AddMessage(result.KeyStderr, ce.Stderr)
		}
	}
}

// resolveSecondary resolves the live counterpart of el below parent. Members
// of live collections are selected by key. Other elements are resolved
// through the accessor named like the element. Only session loss is
// returned as an error; every other failure yields an unsuccessful
// participant.
func (d *Director) resolveSecondary(ctx context.Context, t *Traversal, parent *model.PairedNode, el *config.Element, res *result.Node) (*model.Participant, error) {
	live := parent.Secondary().Value()

	if el.Key != "" && session.IsCollection(live) {
		v, err := session.Find(ctx, live, el.Key)
		return d.participant(ctx, t, parent, el, res, v, err)
	}

	matches := t.Registry.ResolveAccessors(live, el.Name, t.Matcher)
	if len(matches) == 0 {
		err := fmt.Errorf("%s on %s: %w", el.Name, typeName(live), ErrAttributeNotFound)
		return d.participant(ctx, t, parent, el, res, nil, err)
	}
	if len(matches) > 1 {
		t.Logger.Debug().
			Str("attribute", el.Name).
			Int("matches", len(matches)).
			Str("using", matches[0].String()).
			Msg("Several accessors match, using the first")
	}

	a := matches[0]
	v, err := accessor.InvokeNoArg(ctx, live, a)
	telemetry.RecordAccessorInvocation(ctx, a.Namespace, err)
	if err == nil && el.Key != "" && session.IsCollection(v) {
		v, err = session.Find(ctx, v, el.Key)
	}
	return d.participant(ctx, t, parent, el, res, v, err)
}

func (d *Director) participant(ctx context.Context, t *Traversal, parent *model.PairedNode, el *config.Element, res *result.Node, v any, err error) (*model.Participant, error) {
	name := el.Label()
	if err == nil {
		return model.CreateSuccessful(name, typeName(v), v), nil
	}
	if isSessionLost(err) {
		return nil, NewSessionLostError(err).WithResource(name)
	}

	if IsResolutionFailure(err) && !el.IsLeaf() {
		if mr, ok := t.Operation.(MissingResolver); ok {
			created, cerr := mr.ResolveMissing(ctx, t, parent, el, res)
			if cerr == nil {
				return model.CreateSuccessful(name, typeName(created), created), nil
			}
			if isSessionLost(cerr) {
				return nil, NewSessionLostError(cerr).WithResource(name)
			}
			err = cerr
		}
	}

	recordFailure(res, err)
	return model.CreateUnsuccessful(name, "", v, err), nil
}
