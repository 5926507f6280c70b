package dispatch

// Engine validates service objects and builds the Invoker that serves
// each one. It is only consulted while a Dispatcher is being constructed.
type Engine interface {
	NewInvoker(service any) (Invoker, error)
}

// Invoker performs calls against one registered endpoint. Both operations
// work by mutating the Connection's response: status, headers and body
// (through Output).
type Invoker interface {
	Invoke(c *Connection) error
	PublishDiscovery(c *Connection) error
	// AddressResolver resolves service/port names to externally reachable
	// addresses under baseAddress.
	AddressResolver(baseAddress string) AddressResolver
	ServiceName() string
	PortName() string
}

// AddressResolver maps a logical service and port to an address.
type AddressResolver interface {
	AddressFor(service, port string) (string, bool)
}

// AddressResolverFunc adapts a function to AddressResolver.
type AddressResolverFunc func(service, port string) (string, bool)

func (f AddressResolverFunc) AddressFor(service, port string) (string, bool) {
	return f(service, port)
}
