package result

import "time"

// Snapshot is an immutable, serializable copy of a result subtree.
type Snapshot struct {
	ID          string        `json:"id" yaml:"id"`
	Description string        `json:"description" yaml:"description"`
	State       State         `json:"state" yaml:"state"`
	StartTime   time.Time     `json:"start_time" yaml:"start_time"`
	Duration    time.Duration `json:"duration" yaml:"duration"`
	Messages    []Message     `json:"messages,omitempty" yaml:"messages,omitempty"`
	Children    []Snapshot    `json:"children,omitempty" yaml:"children,omitempty"`
}

// Snapshot copies the node and its descendants.
func (n *Node) Snapshot() Snapshot {
	s := Snapshot{
		ID:          n.id,
		Description: n.description,
		State:       n.State(),
		StartTime:   n.startTime,
		Duration:    n.Duration(),
		Messages:    n.Messages(),
	}
	for _, child := range n.Children() {
		s.Children = append(s.Children, child.Snapshot())
	}
	return s
}

// Message returns a single message value.
func (s Snapshot) Message(key string) (string, bool) {
	for _, m := range s.Messages {
		if m.Key == key {
			return m.Value, true
		}
	}
	return "", false
}

// Count returns the number of nodes in the subtree per state.
func (s Snapshot) Count() map[State]int {
	counts := make(map[State]int)
	s.Walk(func(node Snapshot, _ int) {
		counts[node.State]++
	})
	return counts
}

// Walk visits the subtree depth-first, passing the depth of each node.
func (s Snapshot) Walk(fn func(node Snapshot, depth int)) {
	s.walk(fn, 0)
}

func (s Snapshot) walk(fn func(Snapshot, int), depth int) {
	fn(s, depth)
	for _, child := range s.Children {
		child.walk(fn, depth+1)
	}
}
