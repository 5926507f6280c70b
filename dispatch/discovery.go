package dispatch

import "strings"

const (
	discoveryKeyword = "wsdl"
	schemaRefPrefix  = "xsd="
)

// IsDiscoveryQuery reports whether a query string asks for the service's
// metadata description rather than an invocation: "wsdl" in any case, or a
// schema reference of the form "xsd=<name>".
func IsDiscoveryQuery(query string, present bool) bool {
	if !present {
		return false
	}
	return strings.EqualFold(query, discoveryKeyword) || strings.HasPrefix(query, schemaRefPrefix)
}
