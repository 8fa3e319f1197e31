package engine

import (
	"context"

	"github.com/athrane/pineapple-sub012/pkg/model"
	"github.com/athrane/pineapple-sub012/pkg/result"
)

// TestOperation compares declared values with the live system. It never
// changes the live system.
type TestOperation struct{}

var _ Operation = TestOperation{}

// Name implements Operation.
func (TestOperation) Name() string { return string(OperationTest) }

// BeforeChildren implements Operation.
func (TestOperation) BeforeChildren(_ context.Context, t *Traversal, node *model.PairedNode, res *result.Node) error {
	deploymentModule(t, node, res)
	return nil
}

// AfterChildren implements Operation. Leaves are compared in normalized
// string form; composites take the worst state of their children.
func (TestOperation) AfterChildren(_ context.Context, _ *Traversal, node *model.PairedNode, res *result.Node) error {
	secondary := node.Secondary()
	if !secondary.IsResolutionSuccessful() {
		completeUnresolved(node, res)
		return nil
	}

	el := elementOf(node)
	if el == nil || !el.IsLeaf() {
		res.CompleteAsComputed()
		return nil
	}

	expected := formatValue(el.Value)
	if secondary.ValueState() == model.ValueNull && expected != "" {
		res.AddMessage(result.KeyExpected, expected)
		res.AddMessage(result.KeyReason, "attribute is empty")
		res.CompleteAsFailure()
		return nil
	}

	actual := formatValue(secondary.Value())
	if actual == expected {
		res.AddMessage(result.KeyValue, actual)
		res.CompleteAsSuccessful()
		return nil
	}

	res.AddMessage(result.KeyExpected, expected)
	res.AddMessage(result.KeyActual, actual)
	res.CompleteAsFailure()
	return nil
}
