package model

import (
	"fmt"
	"strings"

	"github.com/athrane/pineapple-sub012/pkg/contract"
)

// PairedNode couples a primary (declared) participant with a secondary
// (live) participant at one position of a traversal.
type PairedNode struct {
	primary   *Participant
	secondary *Participant
	parent    *PairedNode
}

// CreateRoot creates a root paired node.
// It panics if either participant is nil.
func CreateRoot(primary, secondary *Participant) *PairedNode {
	checkParticipants(primary, secondary)
	return &PairedNode{primary: primary, secondary: secondary}
}

// CreateRootFromValues wraps raw values into successful participants and
// creates a root paired node. An empty name defaults to "root".
func CreateRootFromValues(name string, primaryValue, secondaryValue any) *PairedNode {
	return CreateRoot(
		CreateSuccessful(name, typeName(primaryValue), primaryValue),
		CreateSuccessful(name, typeName(secondaryValue), secondaryValue),
	)
}

// Create creates a non-root paired node.
// It panics if the parent or either participant is nil.
func Create(parent *PairedNode, primary, secondary *Participant) *PairedNode {
	if parent == nil {
		contract.Panicf("paired node %q created without parent", nameOf(primary))
	}
	checkParticipants(primary, secondary)
	return &PairedNode{primary: primary, secondary: secondary, parent: parent}
}

func checkParticipants(primary, secondary *Participant) {
	if primary == nil {
		contract.Panicf("paired node requires a primary participant")
	}
	if secondary == nil {
		contract.Panicf("paired node %q requires a secondary participant", primary.Name())
	}
}

func nameOf(p *Participant) string {
	if p == nil {
		return "<nil>"
	}
	return p.Name()
}

// Primary returns the declared-side participant.
func (n *PairedNode) Primary() *Participant { return n.primary }

// Secondary returns the live-side participant.
func (n *PairedNode) Secondary() *Participant { return n.secondary }

// Parent returns the parent node, nil at the root.
func (n *PairedNode) Parent() *PairedNode { return n.parent }

// IsRoot returns true if the node has no parent.
func (n *PairedNode) IsRoot() bool { return n.parent == nil }

// Depth returns the distance from the root.
func (n *PairedNode) Depth() int {
	depth := 0
	for p := n.parent; p != nil; p = p.parent {
		depth++
	}
	return depth
}

// Path returns the slash-separated primary names from the root.
func (n *PairedNode) Path() string {
	var names []string
	for p := n; p != nil; p = p.parent {
		names = append(names, p.primary.Name())
	}
	for i, j := 0, len(names)-1; i < j; i, j = i+1, j-1 {
		names[i], names[j] = names[j], names[i]
	}
	return "/" + strings.Join(names, "/")
}

func typeName(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%T", v)
}
