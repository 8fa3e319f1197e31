// Package accessor correlates declared attribute names with accessors on
// live objects.
//
// Live-system integrations register typed accessor functions once, keyed by
// the Go type of the live object, or let objects describe their own
// accessors through Exposer. Resolution is then a lookup by attribute name
// filtered through a Matcher:
//
//	reg := accessor.NewRegistry("weblogic.management")
//	accessor.Register[*Server](reg,
//	    accessor.Getter("weblogic.management", "getListenPort",
//	        func(ctx context.Context, s *Server) (int, error) { return s.Port, nil }),
//	)
//	matches := reg.ResolveAccessors(server, "listen-port", reg.Matcher())
//
// Resolution never fails: an unknown attribute yields no accessors. Calls
// that fail are reported as *InvocationError so that callers can tell an
// abnormal condition apart from a missing attribute.
package accessor
