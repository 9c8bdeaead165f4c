// Package node defines the builder of the votex application. The application
// runs a daemon with the start command, and every other command is an action
// sent to the daemon through a UNIX socket, so that the state of the session
// lives in a single process while it is operated from the command line.
//
// A module contributes its commands and components by implementing the
// Initializer interface.
package node

import (
	"io"

	"go.dedis.ch/votex/cli"
)

// Builder is provided to the initializers so that they can create their
// commands and the actions executed by the daemon.
type Builder interface {
	// SetCommand creates a new command and returns its builder.
	SetCommand(name string) cli.CommandBuilder

	// SetStartFlags appends flags to the start command.
	SetStartFlags(...cli.Flag)

	// MakeAction returns a CLI action that forwards the flags to the daemon,
	// where the template is executed.
	MakeAction(ActionTemplate) cli.Action
}

// ActionTemplate is an action executed on the daemon.
type ActionTemplate interface {
	// Execute processes a command received from the CLI.
	Execute(Context) error
}

// Context is the context of an action executed by the daemon. The output is
// forwarded to the CLI.
type Context struct {
	Injector Injector
	Flags    cli.Flags
	Out      io.Writer
}

// Injector is a dependency injection abstraction.
type Injector interface {
	// Resolve populates the input with the dependency if any compatible exists.
	Resolve(interface{}) error

	// Inject stores the dependency to be resolved later on.
	Inject(interface{})
}

// Initializer is the interface that a module implements to declare its
// commands and start its components.
type Initializer interface {
	// SetCommands populates the builder with the commands of the module.
	SetCommands(Builder)

	// OnStart starts the components of the module and injects them.
	OnStart(cli.Flags, Injector) error

	// OnStop stops the components and cleans the resources.
	OnStop(Injector) error
}

// Client is the interface to send a message to the daemon.
type Client interface {
	Send([]byte) error
}

// Daemon is the inter-process endpoint that executes the actions.
type Daemon interface {
	Listen() error
	Close() error
}

// DaemonFactory creates the daemon and its clients from the flags.
type DaemonFactory interface {
	ClientFromContext(cli.Flags) (Client, error)
	DaemonFromContext(cli.Flags) (Daemon, error)
}
