package policy

import (
	"time"
)

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		productionModePolicy(),
		deploymentTargetPolicy(),
		listenPortPolicy(),
		memberKeyPolicy(),
	}
}

func builtin(name, description string, severity Severity, tags []string, rego string) Policy {
	now := time.Now()
	return Policy{
		Name:        name,
		Description: description,
		Severity:    severity,
		Enabled:     true,
		Builtin:     true,
		Tags:        tags,
		Rego:        rego,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// productionModePolicy refuses to configure production domains that leave
// production mode disabled.
func productionModePolicy() Policy {
	return builtin(
		"production-mode",
		"Domains configured in production environments must enable production mode",
		SeverityError,
		[]string{"domain", "production", "safety"},
		`package pineapple.policies.production

import rego.v1

production_environments := {"prod", "production"}

deny contains violation if {
	input.operation == "configure"
	input.environment in production_environments
	input.document.kind == "domain"
	input.document.content["production-mode-enabled"] == false

	violation := {
		"message": sprintf("Domain %s must enable production mode in environment %s", [input.document.key, input.environment]),
		"severity": "error",
		"path": sprintf("/%s[%s]/production-mode-enabled", [input.document.name, input.document.key]),
	}
}`)
}

// deploymentTargetPolicy requires every deployed module to name its target.
func deploymentTargetPolicy() Policy {
	return builtin(
		"deployment-target",
		"Deployment modules must name the server they are deployed to",
		SeverityError,
		[]string{"deployment"},
		`package pineapple.policies.deployment

import rego.v1

modules contains module if {
	input.document.kind == "deployment"
	some module in input.document.elements
	module.depth == 1
	not module.leaf
}

has_target(path) if {
	some el in input.document.elements
	el.parent == path
	el.name == "target"
	is_string(el.value)
	el.value != ""
}

deny contains violation if {
	some module in modules
	not has_target(module.path)

	violation := {
		"message": sprintf("Module %s does not name a deployment target", [module.key]),
		"severity": "error",
		"path": module.path,
	}
}`)
}

// listenPortPolicy checks declared listen ports.
func listenPortPolicy() Policy {
	return builtin(
		"listen-ports",
		"Listen ports must be valid and should not be shared between servers",
		SeverityError,
		[]string{"domain", "network"},
		`package pineapple.policies.ports

import rego.v1

ports contains el if {
	some el in input.document.elements
	el.name == "listen-port"
	is_number(el.value)
}

deny contains violation if {
	some el in ports
	not valid_port(el.value)

	violation := {
		"message": sprintf("Listen port %v of %s is outside 1-65535", [el.value, el.parent]),
		"severity": "error",
		"path": el.path,
	}
}

deny contains violation if {
	some a in ports
	some b in ports
	a.path < b.path
	a.value == b.value

	violation := {
		"message": sprintf("Listen port %v is declared by both %s and %s", [a.value, a.parent, b.parent]),
		"severity": "warning",
		"path": b.path,
	}
}

valid_port(port) if {
	port >= 1
	port <= 65535
}`)
}

// memberKeyPolicy flags member keys that management tools commonly reject.
func memberKeyPolicy() Policy {
	return builtin(
		"member-keys",
		"Member keys should contain only letters, digits, dots, underscores and hyphens",
		SeverityWarning,
		[]string{"naming"},
		`package pineapple.policies.naming

import rego.v1

deny contains violation if {
	some el in input.document.elements
	el.key != ""
	not regex.match("^[A-Za-z0-9_.-]+$", el.key)

	violation := {
		"message": sprintf("Member key '%s' of %s contains unsupported characters", [el.key, el.parent]),
		"severity": "warning",
		"path": el.path,
	}
}`)
}
