// Package dispatch routes aggregated HTTP requests to registered service
// endpoints and hands each one to an invocation engine through a
// Connection.
//
// A Dispatcher is an httpx.Handler. For every request it derives a
// RequestURL from the request target, looks the context path up in a table
// built once at construction, runs the endpoint's Invoker against a fresh
// Connection and writes the finalized response, honoring keep-alive.
//
//	d, err := dispatch.New(engine, map[string]any{"/echo": svc})
//	if err != nil {
//	    log.Fatal(err) // registration problems never reach request time
//	}
//	srv := &httpx.Server{Addr: ":4040", Handler: d}
package dispatch
