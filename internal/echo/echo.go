// Package echo is a small invocation engine used by the wsgate command and
// by end-to-end tests. Each Service answers POSTed bodies with a greeting
// and publishes a plain description document for discovery queries.
package echo

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"dqx0.com/go/wsgate/dispatch"
)

var (
	ErrNotService    = errors.New("echo: not an *echo.Service")
	ErrMissingName   = errors.New("echo: service and port names are required")
	ErrNoDescription = errors.New("echo: cannot load description")
	ErrNoSchema      = errors.New("echo: cannot load schema")
)

// Service describes one echo endpoint.
type Service struct {
	Name   string
	Port   string
	Prefix string // prepended to every echoed body; "Hello " when empty
	// DescriptionFile, when set, is served for "?wsdl" instead of the
	// generated document. It must exist at registration time.
	DescriptionFile string
	// Schemas are served for "?xsd=<name>".
	Schemas map[string]string
	// SchemaFiles maps schema names to files read at registration. Entries
	// override Schemas of the same name.
	SchemaFiles map[string]string
}

// Engine builds echo invokers.
type Engine struct{}

func (Engine) NewInvoker(service any) (dispatch.Invoker, error) {
	svc, ok := service.(*Service)
	if !ok || svc == nil {
		return nil, fmt.Errorf("%w: got %T", ErrNotService, service)
	}
	if strings.TrimSpace(svc.Name) == "" || strings.TrimSpace(svc.Port) == "" {
		return nil, ErrMissingName
	}
	inv := &invoker{svc: *svc}
	if svc.DescriptionFile != "" {
		b, err := os.ReadFile(svc.DescriptionFile)
		if err != nil {
			return nil, fmt.Errorf("%w %q: %v", ErrNoDescription, svc.DescriptionFile, err)
		}
		inv.description = b
	}
	if len(svc.SchemaFiles) > 0 {
		schemas := make(map[string]string, len(svc.Schemas)+len(svc.SchemaFiles))
		for name, doc := range svc.Schemas {
			schemas[name] = doc
		}
		for name, path := range svc.SchemaFiles {
			b, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("%w %q: %v", ErrNoSchema, name, err)
			}
			schemas[name] = string(b)
		}
		inv.svc.Schemas = schemas
	}
	if inv.svc.Prefix == "" {
		inv.svc.Prefix = "Hello "
	}
	return inv, nil
}

type invoker struct {
	svc         Service
	description []byte
}

func (i *invoker) ServiceName() string { return i.svc.Name }

func (i *invoker) PortName() string { return i.svc.Port }

// AddressResolver resolves only this invoker's own service and port, to
// the base address of the request.
func (i *invoker) AddressResolver(baseAddress string) dispatch.AddressResolver {
	return dispatch.AddressResolverFunc(func(service, port string) (string, bool) {
		if service != i.svc.Name || port != i.svc.Port {
			return "", false
		}
		return baseAddress, true
	})
}

func (i *invoker) Invoke(c *dispatch.Connection) error {
	if c.Method() != "POST" {
		c.SetStatus(405)
		c.SetResponseHeader("Allow", []string{"POST"})
		return nil
	}
	in, err := io.ReadAll(c.Input())
	if err != nil {
		return err
	}
	out := c.Output()
	c.SetContentTypeResponseHeader("text/plain; charset=utf-8")
	if _, err := io.WriteString(out, i.svc.Prefix); err != nil {
		return err
	}
	if _, err := out.Write(in); err != nil {
		return err
	}
	return out.Close()
}

func (i *invoker) PublishDiscovery(c *dispatch.Connection) error {
	q, _ := c.QueryString()
	if name, ok := strings.CutPrefix(q, "xsd="); ok {
		doc, found := i.svc.Schemas[name]
		if !found {
			c.SetStatus(404)
			return nil
		}
		c.SetContentTypeResponseHeader("text/xml; charset=utf-8")
		return writeAll(c, []byte(doc))
	}

	if i.description != nil {
		c.SetContentTypeResponseHeader("text/xml; charset=utf-8")
		return writeAll(c, i.description)
	}
	addr, err := c.ContextDelegate().EndpointAddress()
	if err != nil {
		return err
	}
	c.SetContentTypeResponseHeader("text/plain; charset=utf-8")
	doc := fmt.Sprintf("service: %s\nport: %s\naddress: %s\n", i.svc.Name, i.svc.Port, addr)
	return writeAll(c, []byte(doc))
}

func writeAll(c *dispatch.Connection, b []byte) error {
	out := c.Output()
	if _, err := out.Write(b); err != nil {
		return err
	}
	return out.Close()
}
