// Package policy vets runs with Open Policy Agent (OPA) before they touch a
// live system.
//
// Every policy is a Rego module defining a "deny" set. The engine evaluates
// the enabled policies against an Input describing the run: the operation,
// the environment, the live resource and the model document, both as plain
// content and as a flat list of elements with their paths.
//
// # Usage
//
//	eng, err := policy.NewEngine(logger)
//	if err != nil {
//	    return err
//	}
//	if err := eng.LoadPolicies(ctx, []string{"policies/"}); err != nil {
//	    return err
//	}
//
//	runner := engine.NewRunner(factories, engine.WithPolicyChecker(eng))
//
// A run with an error or critical violation is denied with an error matching
// engine.ErrPolicyViolation. Info and warning violations are logged and
// counted but do not block.
//
// # Built-in Policies
//
//  1. production-mode - Configure runs in prod must keep production mode enabled
//  2. deployment-target - Deployed modules must name their target server
//  3. listen-ports - Listen ports must be in range; shared ports are warned about
//  4. member-keys - Member keys should avoid unusual characters
//
// # Custom Policies
//
//	# Frozen servers must not be configured
//	package site.frozen
//
//	import rego.v1
//
//	deny contains violation if {
//	    input.operation == "configure"
//	    some el in input.document.elements
//	    el.key == "FrozenServer"
//	    violation := {
//	        "message": "FrozenServer is frozen",
//	        "severity": "error",
//	        "path": el.path,
//	    }
//	}
//
// A deny element is either a message string or an object with message,
// severity and path fields. Other fields are kept as violation details.
//
// # Hot Reload
//
//	loader := policy.NewLoader(logger)
//	err = loader.Watch(ctx, paths, eng.ReplacePolicies)
package policy
