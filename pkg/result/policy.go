package result

// ContinuationPolicy decides, between siblings, whether a walk should go on.
//
// Policies are read-only predicates over the tree. They hold no mutable
// flag, so the same policy value can be shared by every node of a tree and
// by concurrent traversals.
type ContinuationPolicy interface {
	// Continue reports whether the next sibling may be visited. The node
	// passed is the one whose next sibling is about to be visited.
	Continue(n *Node) bool

	// Name identifies the policy in logs and reports.
	Name() string
}

// PolicyFunc adapts a function to a ContinuationPolicy.
type PolicyFunc struct {
	PolicyName string
	Fn         func(n *Node) bool
}

// Continue implements ContinuationPolicy.
func (p PolicyFunc) Continue(n *Node) bool { return p.Fn(n) }

// Name implements ContinuationPolicy.
func (p PolicyFunc) Name() string { return p.PolicyName }

var (
	// ContinueAlways never stops a walk.
	ContinueAlways ContinuationPolicy = PolicyFunc{
		PolicyName: "continue-always",
		Fn:         func(*Node) bool { return true },
	}

	// StopOnFailure stops a walk once any node of the tree has completed as
	// FAILURE or ERROR.
	StopOnFailure ContinuationPolicy = PolicyFunc{
		PolicyName: "stop-on-failure",
		Fn: func(n *Node) bool {
			return !n.Root().Contains(StateFailure, StateError)
		},
	}
)

// PolicyFor returns the policy for a continue-on-failure setting.
func PolicyFor(continueOnFailure bool) ContinuationPolicy {
	if continueOnFailure {
		return ContinueAlways
	}
	return StopOnFailure
}
