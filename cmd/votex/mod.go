// Package main implements the votex application. A session runs in a daemon
// and the other commands operate on it through the socket of the daemon.
//
//	votex --config /tmp/votex start --session session.yaml --clientaddr :8080
//	votex --config /tmp/votex wallet connect
//	votex --config /tmp/votex election list
//	votex --config /tmp/votex vote --election 1 --candidate 2
//	votex --config /tmp/votex tx confirm
//	votex --config /tmp/votex proxy prom
package main

import (
	"fmt"
	"io"
	"os"

	"go.dedis.ch/votex/cli/node"
	proxy "go.dedis.ch/votex/proxy/http/controller"
	voting "go.dedis.ch/votex/voting/controller"
)

type config struct {
	Channel chan os.Signal
	Writer  io.Writer
}

func main() {
	err := run(os.Args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%+v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	return runWithCfg(args, config{})
}

func runWithCfg(args []string, cfg config) error {
	// The proxy starts after the session so that it finds the routes.
	builder := node.NewBuilderWithCfg(
		cfg.Channel,
		cfg.Writer,
		voting.NewController(),
		proxy.NewController(),
	)

	app := builder.Build()

	return app.Run(args)
}
