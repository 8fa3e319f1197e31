// Package engine walks declarative model documents against live systems.
//
// # Overview
//
// A run pairs every element of a model document with its counterpart on a
// live system and performs an operation on each pair:
//
//  1. Accept - Validate the request and vet it with the policy checker
//  2. Connect - Create a session for the resource kind and connect it
//  3. Initialize - Pair the document root with the live root (Initializer)
//  4. Traverse - Visit the document depth-first (Director)
//  5. Record - Persist the run and its result tree (RunStore)
//
// # Core Types
//
//   - Initializer: Builds the root PairedNode for each document variant
//   - Director: Resolves each child's live value and runs the operation hooks
//   - Operation: Per-node hooks, implemented by TestOperation and ConfigureOperation
//   - Traversal: Read-only context of one walk (policy, session, registry, logger)
//   - Runner: Executes runs synchronously or in the background
//   - Run: The record of one run, with its root result.Node
//
// # Outcomes
//
// Every visited element gets one result node:
//
//   - SUCCESS: The live value matches, or was written
//   - FAILURE: The live counterpart is missing or differs
//   - ERROR: Resolving or changing the live value failed abnormally
//
// Failures stay local to the smallest enclosing result. Only session loss
// aborts a walk; every result on the path is then completed as ERROR.
// Between siblings the continuation policy of the result tree decides
// whether the walk goes on.
//
// # Error Classification
//
// Errors returned by the package are classified:
//
//   - Transient: The run may succeed when repeated (session loss)
//   - Conflict: Competing changes on the live system
//   - Permanent: Invalid requests, unsupported documents, policy violations
//
// Use errors.Is with the sentinels to inspect them:
//
//	if errors.Is(err, engine.ErrSessionLost) {
//	    // Reconnect and run again
//	}
//
// # Example Usage
//
//	factories := session.NewFactories()
//	factories.Register(mbean.Kind, mbean.Factory)
//
//	runner := engine.NewRunner(factories, engine.WithLogger(logger))
//	run, err := runner.Execute(ctx, &engine.RunRequest{
//	    Operation: engine.OperationTest,
//	    Resource:  session.Resource{ID: "local", Kind: mbean.Kind, URL: "file:///srv/domain.yaml"},
//	    Document:  doc,
//	})
//	if err == nil && run.Status == engine.RunStatusSucceeded {
//	    // The live system matches the model
//	}
package engine
