// Package result records the hierarchical outcome of an operation.
//
// # Overview
//
// A result tree starts with a single executing root node created by Start.
// Every step of an operation adds a child node, attaches messages to it and
// completes it exactly once with one of the terminal states:
//
//   - SUCCESS: the step did what was expected
//   - FAILURE: a meaningful negative outcome (an assertion did not hold)
//   - ERROR: an abnormal condition (an invocation failed)
//
// Composite steps complete with CompleteAsComputed, which takes the worst
// state among the children (ERROR > FAILURE > SUCCESS). Completing a node a
// second time is a programming error and panics.
//
// # Messages
//
// Messages are free-form key/value pairs. The keys declared in keys.go are
// stable and are what renderers and stores extract: captured output, error
// text, duration and start time.
//
// # Concurrency
//
// A tree has one writer, the goroutine performing the operation, and any
// number of readers. Readers wait for completion with Done or Wait instead
// of polling the state.
//
//	root := result.Start("test domain", result.StopOnFailure)
//	go run(root)
//	state, err := root.Wait(ctx)
package result
