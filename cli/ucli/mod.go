// Package ucli implements the cli builder on top of the urfave/cli library.
package ucli

import (
	"fmt"

	urfave "github.com/urfave/cli/v2"
	"go.dedis.ch/votex/cli"
)

// Builder is a cli builder that produces an urfave application.
//
// - implements cli.Builder
type Builder struct {
	name     string
	usage    string
	version  string
	action   cli.Action
	flags    []cli.Flag
	commands []*cmdBuilder
}

// NewBuilder returns a new builder for the application name. The action is
// run when no command is given and it can be nil. The flags are global to
// every command.
func NewBuilder(name string, action cli.Action, flags ...cli.Flag) *Builder {
	return &Builder{
		name:   name,
		action: action,
		flags:  flags,
	}
}

// SetUsage sets the one-line description of the application.
func (b *Builder) SetUsage(usage string) {
	b.usage = usage
}

// SetVersion sets the version printed by the --version flag.
func (b *Builder) SetVersion(version string) {
	b.version = version
}

// SetCommand implements cli.Builder. It appends a new top-level command.
func (b *Builder) SetCommand(name string) cli.CommandBuilder {
	cmd := &cmdBuilder{name: name}
	b.commands = append(b.commands, cmd)

	return cmd
}

// Build implements cli.Builder. It returns the urfave application.
func (b *Builder) Build() cli.Application {
	app := &urfave.App{
		Name:     b.name,
		Usage:    b.usage,
		Version:  b.version,
		Flags:    convertFlags(b.flags),
		Action:   wrapAction(b.action),
		Commands: convertCommands(b.commands),
	}

	if b.version == "" {
		app.HideVersion = true
	}

	app.Setup()

	return app
}

// cmdBuilder collects the properties of a command until the application is
// built.
//
// - implements cli.CommandBuilder
type cmdBuilder struct {
	name        string
	description string
	action      cli.Action
	flags       []cli.Flag
	subcommands []*cmdBuilder
}

// SetDescription implements cli.CommandBuilder.
func (b *cmdBuilder) SetDescription(value string) {
	b.description = value
}

// SetFlags implements cli.CommandBuilder. It replaces the flags of the
// command.
func (b *cmdBuilder) SetFlags(flags ...cli.Flag) {
	b.flags = flags
}

// SetAction implements cli.CommandBuilder.
func (b *cmdBuilder) SetAction(action cli.Action) {
	b.action = action
}

// SetSubCommand implements cli.CommandBuilder.
func (b *cmdBuilder) SetSubCommand(name string) cli.CommandBuilder {
	sub := &cmdBuilder{name: name}
	b.subcommands = append(b.subcommands, sub)

	return sub
}

func convertCommands(builders []*cmdBuilder) []*urfave.Command {
	commands := make([]*urfave.Command, len(builders))

	for i, b := range builders {
		commands[i] = &urfave.Command{
			Name:        b.name,
			Usage:       b.description,
			Flags:       convertFlags(b.flags),
			Action:      wrapAction(b.action),
			Subcommands: convertCommands(b.subcommands),
		}
	}

	return commands
}

// convertFlags returns the urfave definitions of the flags. It panics with an
// unknown flag type as it is a programming error.
func convertFlags(flags []cli.Flag) []urfave.Flag {
	res := make([]urfave.Flag, len(flags))

	for i, f := range flags {
		switch def := f.(type) {
		case cli.StringFlag:
			res[i] = &urfave.StringFlag{
				Name:     def.Name,
				Usage:    def.Usage,
				Required: def.Required,
				Value:    def.Value,
			}
		case cli.PathFlag:
			res[i] = &urfave.PathFlag{
				Name:      def.Name,
				Usage:     def.Usage,
				Required:  def.Required,
				Value:     def.Value,
				TakesFile: true,
			}
		case cli.StringSliceFlag:
			res[i] = &urfave.StringSliceFlag{
				Name:     def.Name,
				Usage:    def.Usage,
				Required: def.Required,
				Value:    urfave.NewStringSlice(def.Value...),
			}
		case cli.DurationFlag:
			res[i] = &urfave.DurationFlag{
				Name:     def.Name,
				Usage:    def.Usage,
				Required: def.Required,
				Value:    def.Value,
			}
		case cli.IntFlag:
			res[i] = &urfave.IntFlag{
				Name:     def.Name,
				Usage:    def.Usage,
				Required: def.Required,
				Value:    def.Value,
			}
		case cli.BoolFlag:
			res[i] = &urfave.BoolFlag{
				Name:     def.Name,
				Usage:    def.Usage,
				Required: def.Required,
				Value:    def.Value,
			}
		default:
			panic(fmt.Sprintf("flag type '%T' not supported", f))
		}
	}

	return res
}

// wrapAction returns the urfave form of the action. The urfave context
// satisfies cli.Flags.
func wrapAction(action cli.Action) urfave.ActionFunc {
	if action == nil {
		return nil
	}

	return func(ctx *urfave.Context) error {
		return action(ctx)
	}
}
