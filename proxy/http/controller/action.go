package controller

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.dedis.ch/votex"
	"go.dedis.ch/votex/cli/node"
	"go.dedis.ch/votex/proxy"
	"golang.org/x/xerrors"
)

// registerer is where the collectors are registered.
var registerer prometheus.Registerer = prometheus.DefaultRegisterer

// gatherer is where the handler reads the metrics.
var gatherer prometheus.Gatherer = prometheus.DefaultGatherer

type startAction struct{}

// Execute implements node.ActionTemplate. It starts and injects the proxy.
func (startAction) Execute(ctx node.Context) error {
	p, err := startProxy(ctx.Flags.String(AddrFlag), ctx.Injector)
	if err != nil {
		return xerrors.Errorf("failed to start proxy: %v", err)
	}

	fmt.Fprintf(ctx.Out, "started proxy server on %s", p.GetAddr())

	return nil
}

type promAction struct{}

// Execute implements node.ActionTemplate. It registers the collectors of the
// application and serves them on the proxy.
func (promAction) Execute(ctx node.Context) error {
	var p proxy.Proxy

	err := ctx.Injector.Resolve(&p)
	if err != nil {
		return xerrors.Errorf("failed to resolve the proxy: %v", err)
	}

	for _, c := range votex.PromCollectors {
		err = registerer.Register(c)
		if err != nil {
			fmt.Fprintf(ctx.Out, "ERROR: failed to register: %v", err)
		}
	}

	path := ctx.Flags.String("path")

	p.RegisterHandler(path, promhttp.InstrumentMetricHandler(registerer,
		promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).ServeHTTP)

	fmt.Fprintf(ctx.Out, "registered prometheus service on %q", path)

	return nil
}
