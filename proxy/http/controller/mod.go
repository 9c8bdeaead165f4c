// Package controller implements the initializer of the HTTP proxy. The proxy
// serves the routes that the other modules inject, and optionally the
// Prometheus metrics.
package controller

import (
	"time"

	"go.dedis.ch/votex/cli"
	"go.dedis.ch/votex/cli/node"
	"go.dedis.ch/votex/proxy"
	"go.dedis.ch/votex/proxy/http"
	"golang.org/x/xerrors"
)

// AddrFlag is the flag of the address of the proxy.
const AddrFlag = "clientaddr"

const defaultAddr = "127.0.0.1:8080"

const defaultProm = "/metrics"

// NewController returns the initializer of the proxy.
func NewController() node.Initializer {
	return controller{}
}

// controller creates the proxy when the daemon starts with an address, or
// later with the proxy start command.
//
// - implements node.Initializer
type controller struct{}

// SetCommands implements node.Initializer.
func (controller) SetCommands(builder node.Builder) {
	builder.SetStartFlags(cli.StringFlag{
		Name:  AddrFlag,
		Usage: "address of the HTTP proxy, none if empty",
	})

	cmd := builder.SetCommand("proxy")
	cmd.SetDescription("manage the HTTP proxy")

	sub := cmd.SetSubCommand("start")
	sub.SetDescription("start the HTTP proxy")
	sub.SetFlags(cli.StringFlag{
		Name:  AddrFlag,
		Usage: "address of the HTTP proxy",
		Value: defaultAddr,
	})
	sub.SetAction(builder.MakeAction(startAction{}))

	sub = cmd.SetSubCommand("prom")
	sub.SetDescription("register the collectors and serve them on the proxy")
	sub.SetFlags(cli.StringFlag{
		Name:  "path",
		Usage: "path of the handler",
		Value: defaultProm,
	})
	sub.SetAction(builder.MakeAction(promAction{}))
}

// OnStart implements node.Initializer. It starts the proxy if an address is
// provided.
func (controller) OnStart(flags cli.Flags, inj node.Injector) error {
	addr := flags.String(AddrFlag)
	if addr == "" {
		return nil
	}

	_, err := startProxy(addr, inj)
	if err != nil {
		return xerrors.Errorf("failed to start proxy: %v", err)
	}

	return nil
}

// OnStop implements node.Initializer. It stops the proxy if it is running.
func (controller) OnStop(inj node.Injector) error {
	var p proxy.Proxy

	err := inj.Resolve(&p)
	if err == nil {
		p.Stop()
	}

	return nil
}

var proxyFac = func(addr string) proxy.Proxy {
	return http.NewHTTP(addr)
}

var listenRetry = 10

var listenDelay = 100 * time.Millisecond

// startProxy starts a proxy, mounts the routes injected by the other modules
// and waits for the proxy to listen.
func startProxy(addr string, inj node.Injector) (proxy.Proxy, error) {
	var existing proxy.Proxy

	err := inj.Resolve(&existing)
	if err == nil {
		return nil, xerrors.Errorf("proxy already running on %v", existing.GetAddr())
	}

	p := proxyFac(addr)

	var routes proxy.Routes

	err = inj.Resolve(&routes)
	if err == nil {
		routes.Mount(p)
	}

	go p.Listen()

	for i := 0; i < listenRetry && p.GetAddr() == nil; i++ {
		time.Sleep(listenDelay)
	}

	if p.GetAddr() == nil {
		p.Stop()
		return nil, xerrors.Errorf("proxy is not listening on '%s'", addr)
	}

	inj.Inject(p)

	return p, nil
}
