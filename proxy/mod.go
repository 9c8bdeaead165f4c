// Package proxy defines the HTTP endpoint through which a display reads the
// state of a session.
package proxy

import (
	"net"
	"net/http"
)

// Proxy defines the primitives of an HTTP server that serves the clients.
type Proxy interface {
	// Listen starts the server. The call blocks until the server stops.
	Listen()

	// Stop stops the server.
	Stop()

	// GetAddr returns the address of the server, or nil if it is not
	// listening.
	GetAddr() net.Addr

	// RegisterHandler registers a handler of GET requests. The path can
	// contain variables like /elections/{id}.
	RegisterHandler(path string, handler func(http.ResponseWriter, *http.Request))
}

// Route is a handler to be registered on a proxy.
type Route struct {
	Path    string
	Handler func(http.ResponseWriter, *http.Request)
}

// Routes is the list of routes that a module serves when a proxy starts.
type Routes []Route

// Mount registers the routes on the proxy.
func (r Routes) Mount(p Proxy) {
	for _, route := range r {
		p.RegisterHandler(route.Path, route.Handler)
	}
}
