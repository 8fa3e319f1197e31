package accessor

import "strings"

// Matcher selects accessors.
type Matcher func(a Accessor) bool

// HasGetPrefix matches accessors named "getX".
func HasGetPrefix(a Accessor) bool {
	return hasPrefix(a.Name, PrefixGet)
}

// HasIsPrefix matches accessors named "isX".
func HasIsPrefix(a Accessor) bool {
	return hasPrefix(a.Name, PrefixIs)
}

// hasPrefix requires something after the prefix, so "get" alone does not match.
func hasPrefix(name, prefix string) bool {
	return len(name) > len(prefix) && strings.HasPrefix(name, prefix)
}

// HasAccessorPrefix matches accessors with either conventional prefix.
func HasAccessorPrefix(a Accessor) bool {
	return HasGetPrefix(a) || HasIsPrefix(a)
}

// NoArgs matches accessors that take no arguments.
func NoArgs(a Accessor) bool {
	return a.Arity == 0
}

// ReturnsBool matches accessors returning a boolean.
func ReturnsBool(a Accessor) bool {
	return a.Returns == KindBool
}

// ReturnsSequence matches accessors returning a sequence.
func ReturnsSequence(a Accessor) bool {
	return a.Returns == KindSequence
}

// InNamespaces matches accessors declared in one of the namespaces.
// A namespace matches itself and any dotted sub-namespace.
func InNamespaces(namespaces ...string) Matcher {
	return func(a Accessor) bool {
		for _, ns := range namespaces {
			if a.Namespace == ns || strings.HasPrefix(a.Namespace, ns+".") {
				return true
			}
		}
		return false
	}
}

// All matches when every matcher matches.
func All(matchers ...Matcher) Matcher {
	return func(a Accessor) bool {
		for _, m := range matchers {
			if !m(a) {
				return false
			}
		}
		return true
	}
}

// Any matches when at least one matcher matches.
func Any(matchers ...Matcher) Matcher {
	return func(a Accessor) bool {
		for _, m := range matchers {
			if m(a) {
				return true
			}
		}
		return false
	}
}

// Not negates a matcher.
func Not(m Matcher) Matcher {
	return func(a Accessor) bool { return !m(a) }
}

// DefaultMatcher matches no-argument accessors with a conventional prefix.
// When namespaces are given, the declaring namespace must be one of them,
// which excludes accessors inherited from generic base objects.
func DefaultMatcher(namespaces ...string) Matcher {
	if len(namespaces) == 0 {
		return All(HasAccessorPrefix, NoArgs)
	}
	return All(HasAccessorPrefix, NoArgs, InNamespaces(namespaces...))
}

// NameMatches matches accessors whose attribute name, once the prefix is
// stripped, equals attribute ignoring case, dashes and underscores.
func NameMatches(attribute string) Matcher {
	want := NormalizeName(attribute)
	return func(a Accessor) bool {
		return want != "" && NormalizeName(a.Attribute()) == want
	}
}
