package result

import (
	"encoding/json"
	"fmt"
)

// State represents the execution state of a result node.
type State string

const (
	// StateExecuting indicates the node has been started but not completed.
	StateExecuting State = "EXECUTING"

	// StateSuccess indicates the step completed as expected.
	StateSuccess State = "SUCCESS"

	// StateFailure indicates a meaningful negative outcome, such as a failed
	// assertion or a missing attribute.
	StateFailure State = "FAILURE"

	// StateError indicates an abnormal condition, such as an invocation error.
	StateError State = "ERROR"
)

// IsTerminal returns true if the state is a completed state.
func (s State) IsTerminal() bool {
	return s == StateSuccess || s == StateFailure || s == StateError
}

// IsSuccessful returns true if the state is SUCCESS.
func (s State) IsSuccessful() bool {
	return s == StateSuccess
}

// severity orders terminal states for aggregation.
func (s State) severity() int {
	switch s {
	case StateSuccess:
		return 1
	case StateFailure:
		return 2
	case StateError:
		return 3
	default:
		return 0
	}
}

// Worst returns the most severe of the given terminal states.
// SUCCESS is returned when no states are given.
func Worst(states ...State) State {
	worst := StateSuccess
	for _, s := range states {
		if s.severity() > worst.severity() {
			worst = s
		}
	}
	return worst
}

// Validate checks if the state is valid.
func (s State) Validate() error {
	switch s {
	case StateExecuting, StateSuccess, StateFailure, StateError:
		return nil
	default:
		return fmt.Errorf("invalid result state: %s", s)
	}
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *State) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = State(str)
	return s.Validate()
}
