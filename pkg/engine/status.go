package engine

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/athrane/pineapple-sub012/pkg/result"
)

// RunStatus represents the overall status of a run.
type RunStatus string

const (
	// RunStatusPending indicates the run was accepted but its traversal has
	// not started.
	RunStatusPending RunStatus = "pending"

	// RunStatusRunning indicates the traversal is in progress.
	RunStatusRunning RunStatus = "running"

	// RunStatusSucceeded indicates the root result completed as SUCCESS.
	RunStatusSucceeded RunStatus = "succeeded"

	// RunStatusFailed indicates the root result completed as FAILURE.
	RunStatusFailed RunStatus = "failed"

	// RunStatusErrored indicates the root result completed as ERROR.
	RunStatusErrored RunStatus = "errored"

	// RunStatusCancelled indicates the run's context ended before the
	// traversal finished.
	RunStatusCancelled RunStatus = "cancelled"
)

// IsTerminal returns true if the run status represents a final state.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed ||
		s == RunStatusErrored || s == RunStatusCancelled
}

// IsActive returns true if the run is currently active (pending or running).
func (s RunStatus) IsActive() bool {
	return s == RunStatusPending || s == RunStatusRunning
}

// Validate checks if the run status is valid.
func (s RunStatus) Validate() error {
	switch s {
	case RunStatusPending, RunStatusRunning, RunStatusSucceeded,
		RunStatusFailed, RunStatusErrored, RunStatusCancelled:
		return nil
	default:
		return fmt.Errorf("invalid run status: %s", s)
	}
}

// StatusFor maps a root result state to a run status.
func StatusFor(state result.State) RunStatus {
	switch state {
	case result.StateSuccess:
		return RunStatusSucceeded
	case result.StateFailure:
		return RunStatusFailed
	case result.StateError:
		return RunStatusErrored
	default:
		return RunStatusRunning
	}
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (s RunStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *RunStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = RunStatus(str)
	return s.Validate()
}

// OperationName names an operation a run performs.
type OperationName string

const (
	// OperationTest compares the model with the live system without
	// changing it.
	OperationTest OperationName = "test"

	// OperationConfigure pushes the model to the live system.
	OperationConfigure OperationName = "configure"
)

// IsMutating returns true if the operation changes the live system.
func (o OperationName) IsMutating() bool {
	return o == OperationConfigure
}

// Validate checks if the operation name is valid.
func (o OperationName) Validate() error {
	switch o {
	case OperationTest, OperationConfigure:
		return nil
	default:
		return fmt.Errorf("invalid operation: %s", o)
	}
}

// Run is the record of one traversal of a model document against a live
// system.
type Run struct {
	ID           string        `json:"id"`
	Operation    OperationName `json:"operation"`
	Environment  string        `json:"environment"`
	Resource     string        `json:"resource"`
	Document     string        `json:"document"`
	DocumentKind string        `json:"document_kind"`
	Status       RunStatus     `json:"status"`
	State        result.State  `json:"state,omitempty"`
	StartedAt    time.Time     `json:"started_at"`
	CompletedAt  *time.Time    `json:"completed_at,omitempty"`
	Error        string        `json:"error,omitempty"`

	// Result is the root of the run's result tree. It is only set for runs
	// executed in this process.
	Result *result.Node `json:"-"`

	done chan struct{}
}

var closedDone = func() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}()

// Done returns a channel that is closed once the run's terminal status has
// been recorded and persisted. It is already closed for runs that were not
// executed in this process.
func (r *Run) Done() <-chan struct{} {
	if r.done == nil {
		return closedDone
	}
	return r.done
}

// Duration returns the run's elapsed time, up to now for active runs.
func (r *Run) Duration() time.Duration {
	if r.CompletedAt != nil {
		return r.CompletedAt.Sub(r.StartedAt)
	}
	return time.Since(r.StartedAt)
}
