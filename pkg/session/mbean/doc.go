// Package mbean implements a session over a tree of management objects,
// the shape an application-server domain exposes through its management
// interface.
//
// The tree is loaded from a YAML snapshot:
//
//	type: Domain
//	name: base_domain
//	attributes:
//	  admin-server-name: AdminServer
//	children:
//	  servers:
//	    - type: Server
//	      name: AdminServer
//	      attributes:
//	        listen-port: 7001
//
// Every attribute is readable through a generated accessor (listen-port
// through getListenPort, boolean attributes through an "is" accessor) and
// every child collection through a sequence accessor whose value supports
// session.Find. Edits are applied in memory and written back to the
// snapshot on Activate.
package mbean
