package node

import (
	"encoding/binary"
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"syscall"

	urfave "github.com/urfave/cli/v2"
	"go.dedis.ch/votex"
	"go.dedis.ch/votex/cli"
	"go.dedis.ch/votex/cli/ucli"
	"golang.org/x/xerrors"
)

// AppName is the name of the application.
const AppName = "votex"

// ConfigFlag is the global flag of the folder where the daemon creates its
// socket.
const ConfigFlag = "config"

// CLIBuilder builds the application that starts and controls a session
// daemon.
//
// - implements node.Builder
// - implements cli.Builder
type CLIBuilder struct {
	*ucli.Builder

	daemonFactory DaemonFactory
	injector      Injector
	actions       *actionMap
	startFlags    []cli.Flag
	inits         []Initializer

	// The daemon is stopped by a signal. Tests provide their own channel and
	// do not register the signals of the process.
	enableSignal bool
	sigs         chan os.Signal
}

// NewBuilder returns a new builder with the initializers of the modules.
func NewBuilder(inits ...Initializer) *CLIBuilder {
	return NewBuilderWithCfg(nil, nil, inits...)
}

// NewBuilderWithCfg returns a new builder that listens to the given channel
// to stop the daemon and writes the output of the actions to out. Default
// values are used for nil arguments.
func NewBuilderWithCfg(sigs chan os.Signal, out io.Writer, inits ...Initializer) *CLIBuilder {
	if out == nil {
		out = os.Stdout
	}

	enabled := sigs == nil
	if enabled {
		sigs = make(chan os.Signal, 1)
	}

	injector := NewInjector()
	actions := &actionMap{}

	builder := ucli.NewBuilder(AppName, nil, cli.PathFlag{
		Name:  ConfigFlag,
		Usage: "path to the folder of the daemon socket",
		Value: ".votex",
	})

	builder.SetUsage("simulate elections voted through a ledger")

	return &CLIBuilder{
		Builder: builder,
		daemonFactory: socketFactory{
			injector: injector,
			actions:  actions,
			out:      out,
		},
		injector:     injector,
		actions:      actions,
		inits:        inits,
		enableSignal: enabled,
		sigs:         sigs,
	}
}

// SetStartFlags implements node.Builder.
func (b *CLIBuilder) SetStartFlags(flags ...cli.Flag) {
	b.startFlags = append(b.startFlags, flags...)
}

// MakeAction implements node.Builder. The action encodes the flags of the
// command and sends them to the daemon, prefixed by the index of the template.
func (b *CLIBuilder) MakeAction(tmpl ActionTemplate) cli.Action {
	index := b.actions.Set(tmpl)

	return func(flags cli.Flags) error {
		client, err := b.daemonFactory.ClientFromContext(flags)
		if err != nil {
			return xerrors.Errorf("couldn't make client: %v", err)
		}

		fset := make(FlagSet)

		ctx, ok := flags.(*urfave.Context)
		if ok {
			collectFlags(fset, ctx)
		}

		payload, err := json.Marshal(fset)
		if err != nil {
			return xerrors.Errorf("failed to marshal flag set: %v", err)
		}

		msg := make([]byte, 2, 2+len(payload))
		binary.LittleEndian.PutUint16(msg, index)

		err = client.Send(append(msg, payload...))
		if err != nil {
			return xerrors.Errorf("couldn't send action: %v", err)
		}

		return nil
	}
}

// collectFlags fills the set with the values of the flags of the command and
// of its ancestors. The flags of an application are parsed by its outermost
// context only, which is where they are read.
func collectFlags(fset FlagSet, ctx *urfave.Context) {
	lineage := ctx.Lineage()

	for i, c := range lineage {
		if c.Command != nil {
			collect(fset, c.Command.Flags, c)
		}

		if c.App == nil {
			continue
		}

		if i+1 < len(lineage) && lineage[i+1].App == c.App {
			continue
		}

		collect(fset, c.App.Flags, c)
	}
}

func collect(fset FlagSet, flags []urfave.Flag, ctx *urfave.Context) {
	for _, flag := range flags {
		names := flag.Names()
		if len(names) == 0 {
			continue
		}

		_, found := fset[names[0]]
		if found {
			// The closest command has priority.
			continue
		}

		switch v := ctx.Value(names[0]).(type) {
		case urfave.StringSlice:
			fset[names[0]] = v.Value()
		default:
			fset[names[0]] = v
		}
	}
}

// Build implements cli.Builder. It adds the commands of the initializers and
// the start command.
func (b *CLIBuilder) Build() cli.Application {
	for _, initializer := range b.inits {
		initializer.SetCommands(b)
	}

	cmd := b.SetCommand("start")
	cmd.SetDescription("start the daemon of a session")
	cmd.SetFlags(b.startFlags...)
	cmd.SetAction(b.start)

	return b.Builder.Build()
}

func (b *CLIBuilder) start(flags cli.Flags) error {
	if b.enableSignal {
		signal.Notify(b.sigs, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(b.sigs)
	}

	dir := flags.Path(ConfigFlag)
	if dir != "" {
		err := os.MkdirAll(dir, 0700)
		if err != nil {
			return xerrors.Errorf("couldn't make path: %v", err)
		}
	}

	daemon, err := b.daemonFactory.DaemonFromContext(flags)
	if err != nil {
		return xerrors.Errorf("couldn't make daemon: %v", err)
	}

	for _, initializer := range b.inits {
		err = initializer.OnStart(flags, b.injector)
		if err != nil {
			return xerrors.Errorf("couldn't run the controller: %v", err)
		}
	}

	// The socket is opened last so that the actions find every component.
	err = daemon.Listen()
	if err != nil {
		return xerrors.Errorf("couldn't start the daemon: %v", err)
	}

	defer daemon.Close()

	votex.Logger.Info().Str("config", dir).Msg("session started")

	<-b.sigs

	// Stopped in reverse order so that a component stops before its
	// dependencies.
	for i := len(b.inits) - 1; i >= 0; i-- {
		err = b.inits[i].OnStop(b.injector)
		if err != nil {
			return xerrors.Errorf("couldn't stop controller: %v", err)
		}
	}

	votex.Logger.Info().Msg("session stopped")

	return nil
}

// actionMap assigns an index to each action template.
type actionMap struct {
	list []ActionTemplate
}

func (m *actionMap) Set(a ActionTemplate) uint16 {
	m.list = append(m.list, a)

	return uint16(len(m.list) - 1)
}

func (m *actionMap) Get(index uint16) ActionTemplate {
	if int(index) >= len(m.list) {
		return nil
	}

	return m.list[index]
}
