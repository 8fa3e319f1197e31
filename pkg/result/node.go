package result

import (
	"context"
	"sync"
	"time"

	"github.com/athrane/pineapple-sub012/pkg/contract"
	"github.com/google/uuid"
)

// Node is one element of a result tree.
//
// A node is written by a single owner (the goroutine performing the step)
// and may be read concurrently by any number of observers. Messages and
// children only grow, and the terminal state is published exactly once,
// after which Done is closed.
type Node struct {
	id          string
	description string
	parent      *Node
	policy      ContinuationPolicy
	startTime   time.Time

	mu       sync.RWMutex
	state    State
	duration time.Duration
	keys     []string
	messages map[string]string
	children []*Node
	cause    error
	done     chan struct{}
}

// Start creates an executing root node.
// A nil policy defaults to ContinueAlways.
func Start(description string, policy ContinuationPolicy) *Node {
	if policy == nil {
		policy = ContinueAlways
	}
	return newNode(description, nil, policy)
}

func newNode(description string, parent *Node, policy ContinuationPolicy) *Node {
	n := &Node{
		id:          uuid.New().String(),
		description: description,
		parent:      parent,
		policy:      policy,
		startTime:   time.Now().UTC(),
		state:       StateExecuting,
		messages:    make(map[string]string),
		done:        make(chan struct{}),
	}
	n.setMessage(KeyStartTime, n.startTime.Format(time.RFC3339Nano))
	return n
}

// AddChild creates and appends an executing child node.
// The child shares the parent's continuation policy.
func (n *Node) AddChild(description string) *Node {
	child := newNode(description, n, n.policy)

	n.mu.Lock()
	n.children = append(n.children, child)
	n.mu.Unlock()

	return child
}

// AddMessage inserts or overwrites a message.
func (n *Node) AddMessage(key, value string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.setMessage(key, value)
}

func (n *Node) setMessage(key, value string) {
	if _, exists := n.messages[key]; !exists {
		n.keys = append(n.keys, key)
	}
	n.messages[key] = value
}

// CompleteAsSuccessful completes the node as SUCCESS.
func (n *Node) CompleteAsSuccessful() {
	n.complete(StateSuccess, nil)
}

// CompleteAsFailure completes the node as FAILURE.
func (n *Node) CompleteAsFailure() {
	n.complete(StateFailure, nil)
}

// CompleteAsError completes the node as ERROR and records the cause.
func (n *Node) CompleteAsError(cause error) {
	n.complete(StateError, cause)
}

// CompleteAsComputed completes the node with the worst state among its
// children. A node without children completes as SUCCESS. Every child must
// already be completed.
func (n *Node) CompleteAsComputed() {
	n.mu.RLock()
	states := make([]State, 0, len(n.children))
	for _, child := range n.children {
		state := child.State()
		if !state.IsTerminal() {
			n.mu.RUnlock()
			contract.Panicf("result %q computed while child %q is %s", n.description, child.Description(), state)
		}
		states = append(states, state)
	}
	n.mu.RUnlock()

	n.complete(Worst(states...), nil)
}

func (n *Node) complete(state State, cause error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.state != StateExecuting {
		contract.Panicf("result %q already completed as %s", n.description, n.state)
	}

	n.duration = time.Since(n.startTime)
	n.setMessage(KeyDuration, n.duration.String())
	if cause != nil {
		n.cause = cause
		n.setMessage(KeyErrorMessage, cause.Error())
	}
	n.state = state
	close(n.done)
}

// ID returns the unique node identifier.
func (n *Node) ID() string { return n.id }

// Description returns the human-readable description.
func (n *Node) Description() string { return n.description }

// Parent returns the owning node, or nil for a root.
func (n *Node) Parent() *Node { return n.parent }

// IsRoot returns true if the node has no parent.
func (n *Node) IsRoot() bool { return n.parent == nil }

// Root returns the root of the tree the node belongs to.
func (n *Node) Root() *Node {
	root := n
	for root.parent != nil {
		root = root.parent
	}
	return root
}

// Policy returns the continuation policy shared by the tree.
func (n *Node) Policy() ContinuationPolicy { return n.policy }

// StartTime returns the time the node was created.
func (n *Node) StartTime() time.Time { return n.startTime }

// State returns the current state.
func (n *Node) State() State {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.state
}

// IsCompleted returns true once the node has left EXECUTING.
func (n *Node) IsCompleted() bool {
	return n.State().IsTerminal()
}

// Duration returns the elapsed time between start and completion,
// or the time elapsed so far for an executing node.
func (n *Node) Duration() time.Duration {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.state == StateExecuting {
		return time.Since(n.startTime)
	}
	return n.duration
}

// Cause returns the error recorded by CompleteAsError.
func (n *Node) Cause() error {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.cause
}

// Message returns a single message value.
func (n *Node) Message(key string) (string, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	v, ok := n.messages[key]
	return v, ok
}

// Messages returns a copy of the messages in insertion order.
func (n *Node) Messages() []Message {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]Message, 0, len(n.keys))
	for _, k := range n.keys {
		out = append(out, Message{Key: k, Value: n.messages[k]})
	}
	return out
}

// Children returns a copy of the child list.
func (n *Node) Children() []*Node {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]*Node, len(n.children))
	copy(out, n.children)
	return out
}

// ChildrenWithState returns the children currently in the given state.
func (n *Node) ChildrenWithState(state State) []*Node {
	var out []*Node
	for _, child := range n.Children() {
		if child.State() == state {
			out = append(out, child)
		}
	}
	return out
}

// Contains reports whether this node or any descendant is in one of the
// given states.
func (n *Node) Contains(states ...State) bool {
	current := n.State()
	for _, s := range states {
		if current == s {
			return true
		}
	}
	for _, child := range n.Children() {
		if child.Contains(states...) {
			return true
		}
	}
	return false
}

// Done returns a channel that is closed when the node completes.
func (n *Node) Done() <-chan struct{} {
	return n.done
}

// Wait blocks until the node completes or ctx is done.
func (n *Node) Wait(ctx context.Context) (State, error) {
	select {
	case <-n.done:
		return n.State(), nil
	case <-ctx.Done():
		return n.State(), ctx.Err()
	}
}

// Message is a single key/value entry of a node.
type Message struct {
	Key   string `json:"key" yaml:"key"`
	Value string `json:"value" yaml:"value"`
}
