// Package config parses the declarative model documents and environment
// configurations of pineapple.
//
// # Overview
//
// Both kinds of input are written in CUE. A model document declares the
// desired state of one live system; an environment configuration says where
// the live systems of each stage (dev, test, prod) are and which properties
// apply there.
//
// # Components
//
// CUEParser: Parses documents and environment files, from a single file or
// a directory holding one CUE package. Values are validated against the
// built-in schema definitions before they are converted.
//
// SchemaRegistry: Holds CUE definitions (#Domain, #Deployment,
// #Infrastructure, #Environments) and validates values against them.
// Further definitions can be registered.
//
// StarlarkEvaluator: Runs the optional environment script that computes
// additional properties, with a time limit.
//
// Watcher: Reports changed CUE files after a debounce period.
//
// # Documents
//
// The top-level key selects the document kind:
//
//	domain: {
//	    name:                "base_domain"
//	    "admin-server-name": "AdminServer"
//	    servers: [
//	        {name: "AdminServer", "listen-port": 7001},
//	        {name: "ManagedServer1", "listen-port": "${managed.port}"},
//	    ]
//	}
//
//	deployment: {
//	    name:          "orders"
//	    target:        "AdminServer"
//	    "source-path": "/opt/apps/orders.war"
//	}
//
//	infrastructure: {
//	    name: "web01"
//	    packages: [{name: "nginx", installed: true}]
//	    files: [{path: "/etc/motd", content: "managed by pineapple\n"}]
//	}
//
// A document is converted into a tree of Elements. Struct fields keep
// their declaration order. Each member of a list of structs becomes an
// element named after the list and keyed by its name, id or path field,
// which is how the member is found among the live objects.
//
// # Environments
//
//	environments: dev: {
//	    continueOnFailure: true
//	    properties: {"managed.port": 8001}
//	    script: """
//	        admin_url = "t3://localhost:" + str(properties["managed.port"])
//	        """
//	    resources: {
//	        domain: {kind: "mbean", url: "file:///var/lib/pineapple/dev.yaml"}
//	        web01: {
//	            kind: "ssh"
//	            url:  "ssh://deploy@web01:22"
//	            credential: passwordEnv: "WEB01_PASSWORD"
//	        }
//	    }
//	}
//
// Placeholders of the form ${name} in document values, resource urls and
// resource properties are replaced by the environment's properties. A
// value consisting of one placeholder takes the property's type.
//
// # Error Handling
//
// Parse and validation problems are returned as a *ParseError listing each
// ValidationError with its location.
package config
