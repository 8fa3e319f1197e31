package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/athrane/pineapple-sub012/pkg/config"
	"github.com/athrane/pineapple-sub012/pkg/model"
	"github.com/athrane/pineapple-sub012/pkg/result"
	"github.com/athrane/pineapple-sub012/pkg/session"
)

// DeployOperation is the live-system operation invoked on a deployed module.
const DeployOperation = "deploy"

// ConfigureOperation pushes declared values to the live system inside one
// edit. Missing objects are created and differing attributes written. The
// edit is activated at the root when no node failed, and cancelled
// otherwise.
type ConfigureOperation struct{}

var (
	_ Operation       = ConfigureOperation{}
	_ MissingResolver = ConfigureOperation{}
)

// Name implements Operation.
func (ConfigureOperation) Name() string { return string(OperationConfigure) }

// BeforeChildren implements Operation. The root starts the edit.
func (ConfigureOperation) BeforeChildren(ctx context.Context, t *Traversal, node *model.PairedNode, res *result.Node) error {
	if node.IsRoot() {
		ed, err := editorOf(t)
		if err != nil {
			return err
		}
		if err := ed.StartEdit(ctx); err != nil {
			if errors.Is(err, session.ErrEditInProgress) {
				return NewConflictError("start edit", err).WithCode(ErrCodeEditConflict)
			}
			return fmt.Errorf("start edit: %w", err)
		}
		t.Logger.Debug().Msg("Edit started")
		return nil
	}
	deploymentModule(t, node, res)
	return nil
}

// AfterChildren implements Operation.
func (op ConfigureOperation) AfterChildren(ctx context.Context, t *Traversal, node *model.PairedNode, res *result.Node) error {
	if node.IsRoot() {
		return op.finishEdit(ctx, t, res)
	}

	el := elementOf(node)
	if el != nil && el.IsLeaf() {
		return op.writeAttribute(ctx, t, node, el, res)
	}

	secondary := node.Secondary()
	if !secondary.IsResolutionSuccessful() {
		completeUnresolved(node, res)
		return nil
	}

	if _, isModule := t.Document.(*config.DeploymentDocument); isModule && node.Depth() == 1 &&
		!res.Contains(result.StateFailure, result.StateError) {
		out, err := t.Session.Invoke(ctx, secondary.Value(), DeployOperation)
		if err != nil {
			return fmt.Errorf("%s %s: %w", DeployOperation, el.Key, err)
		}
		res.AddMessage(result.KeyOperation, DeployOperation)
		if o, ok := out.(session.Output); ok && o.Stdout != "" {
			res.AddMessage(result.KeyStdout, o.Stdout)
		}
	}

	res.CompleteAsComputed()
	return nil
}

// ResolveMissing implements MissingResolver by creating the keyed member
// the element declares.
func (ConfigureOperation) ResolveMissing(ctx context.Context, t *Traversal, parent *model.PairedNode, el *config.Element, res *result.Node) (any, error) {
	if el.Key == "" {
		return nil, fmt.Errorf("cannot create %s without a key: %w", el.Name, session.ErrUnsupported)
	}
	ed, err := editorOf(t)
	if err != nil {
		return nil, err
	}
	obj, err := ed.CreateChild(ctx, parent.Secondary().Value(), el.Name, el.Key)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", el.Label(), err)
	}

	res.AddMessage(result.KeyOperation, "create")
	t.Logger.Info().Str("element", el.Label()).Msg("Created missing live object")
	return obj, nil
}

func (ConfigureOperation) writeAttribute(ctx context.Context, t *Traversal, node *model.PairedNode, el *config.Element, res *result.Node) error {
	secondary := node.Secondary()
	if !secondary.IsResolutionSuccessful() && !IsResolutionFailure(secondary.Cause()) {
		res.CompleteAsError(resolutionError(node, secondary.Cause()))
		return nil
	}

	expected := formatValue(el.Value)
	if secondary.IsResolutionSuccessful() && formatValue(secondary.Value()) == expected {
		res.AddMessage(result.KeyValue, expected)
		res.CompleteAsSuccessful()
		return nil
	}

	ed, err := editorOf(t)
	if err != nil {
		return err
	}
	if err := ed.SetAttribute(ctx, node.Parent().Secondary().Value(), el.Name, el.Value); err != nil {
		return fmt.Errorf("set %s: %w", el.Name, err)
	}

	if secondary.IsResolutionSuccessful() {
		res.AddMessage(result.KeyActual, formatValue(secondary.Value()))
	}
	res.AddMessage(result.KeyValue, expected)
	res.CompleteAsSuccessful()
	return nil
}

func (ConfigureOperation) finishEdit(ctx context.Context, t *Traversal, res *result.Node) error {
	ed, err := editorOf(t)
	if err != nil {
		return err
	}

	if res.Contains(result.StateFailure, result.StateError) {
		if err := ed.CancelEdit(ctx); err != nil {
			return fmt.Errorf("cancel edit: %w", err)
		}
		res.AddMessage(result.KeyReason, "edit cancelled, no changes activated")
		t.Logger.Warn().Msg("Edit cancelled")
		res.CompleteAsComputed()
		return nil
	}

	if err := ed.Activate(ctx); err != nil {
		return fmt.Errorf("activate edit: %w", err)
	}
	t.Logger.Info().Msg("Edit activated")
	res.CompleteAsComputed()
	return nil
}

func editorOf(t *Traversal) (session.Editor, error) {
	ed, ok := t.Session.(session.Editor)
	if !ok {
		return nil, fmt.Errorf("%T cannot change the live system: %w", t.Session, session.ErrUnsupported)
	}
	return ed, nil
}
