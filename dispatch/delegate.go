package dispatch

import "fmt"

// ContextDelegate gives the engine the addresses it needs to advertise the
// endpoint, typically inside a discovery document.
type ContextDelegate interface {
	// EndpointAddress is the external address of the endpoint serving the
	// current request.
	EndpointAddress() (string, error)
	// DiscoveryAddress is where the endpoint's description can be fetched.
	DiscoveryAddress() (string, error)
}

type endpointDelegate struct {
	invoker     Invoker
	baseAddress string
}

func newDelegate(inv Invoker, u RequestURL) *endpointDelegate {
	return &endpointDelegate{invoker: inv, baseAddress: u.BaseAddress}
}

func (d *endpointDelegate) EndpointAddress() (string, error) {
	port := d.invoker.PortName()
	addr, ok := d.invoker.AddressResolver(d.baseAddress).AddressFor(d.invoker.ServiceName(), port)
	if !ok || addr == "" {
		return "", fmt.Errorf("%w: %s", ErrNoAddress, port)
	}
	return addr, nil
}

func (d *endpointDelegate) DiscoveryAddress() (string, error) {
	addr, err := d.EndpointAddress()
	if err != nil {
		return "", err
	}
	return addr + "?" + discoveryKeyword, nil
}
