package ucli

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	urfave "github.com/urfave/cli/v2"
	"go.dedis.ch/votex/cli"
	"go.dedis.ch/votex/internal/testing/fake"
)

func TestBuilder_Build(t *testing.T) {
	builder := NewBuilder("votex", nil)
	builder.SetUsage("election simulator")

	app := builder.Build().(*urfave.App)
	app.Writer = io.Discard

	require.Equal(t, "votex", app.Name)
	require.Equal(t, "election simulator", app.Usage)
	require.True(t, app.HideVersion)

	err := app.Run([]string{"votex"})
	require.NoError(t, err)

	builder.SetVersion("v1.0.0")
	app = builder.Build().(*urfave.App)
	require.False(t, app.HideVersion)
	require.Equal(t, "v1.0.0", app.Version)
}

func TestBuilder_SetCommand(t *testing.T) {
	builder := NewBuilder("votex", nil)

	builder.SetCommand("election")
	builder.SetCommand("vote")

	app := builder.Build().(*urfave.App)

	require.Len(t, app.Commands, 3)
	require.Equal(t, "election", app.Commands[0].Name)
	require.Equal(t, "vote", app.Commands[1].Name)
	require.Equal(t, "help", app.Commands[2].Name)
}

func TestBuilder_Run(t *testing.T) {
	builder := NewBuilder("votex", nil, cli.PathFlag{Name: "config", Value: ".votex"})

	calls := &fake.Call{}

	cmd := builder.SetCommand("vote")
	cmd.SetDescription("cast a vote")
	cmd.SetFlags(
		cli.IntFlag{Name: "election", Required: true},
		cli.BoolFlag{Name: "yes"},
		cli.DurationFlag{Name: "timeout", Value: time.Minute},
		cli.StringSliceFlag{Name: "tag"},
	)
	cmd.SetAction(func(flags cli.Flags) error {
		calls.Add(flags.Int("election"), flags.Bool("yes"), flags.Duration("timeout"),
			flags.StringSlice("tag"), flags.Path("config"))
		return nil
	})

	app := builder.Build().(*urfave.App)
	app.Writer = io.Discard

	err := app.Run([]string{"votex", "vote", "--election", "2", "--yes", "--tag", "a"})
	require.NoError(t, err)
	require.Equal(t, 1, calls.Len())
	require.Equal(t, 2, calls.Get(0, 0))
	require.Equal(t, true, calls.Get(0, 1))
	require.Equal(t, time.Minute, calls.Get(0, 2))
	require.Equal(t, []string{"a"}, calls.Get(0, 3))
	require.Equal(t, ".votex", calls.Get(0, 4))

	buf := new(bytes.Buffer)
	app.ErrWriter = buf

	err = app.Run([]string{"votex", "vote"})
	require.EqualError(t, err, `Required flag "election" not set`)
}

func TestCmdBuilder_SetSubCommand(t *testing.T) {
	builder := NewBuilder("votex", nil)

	cmd := builder.SetCommand("election")
	sub := cmd.SetSubCommand("create")
	sub.SetFlags(cli.StringFlag{Name: "title"})
	cmd.SetSubCommand("list")

	app := builder.Build().(*urfave.App)

	require.Len(t, app.Commands[0].Subcommands, 2)
	require.Equal(t, "create", app.Commands[0].Subcommands[0].Name)
	require.Len(t, app.Commands[0].Subcommands[0].Flags, 1)
}

func TestConvertFlags_Panic(t *testing.T) {
	defer func() {
		r := recover()
		require.Equal(t, "flag type '<nil>' not supported", r)
	}()

	convertFlags([]cli.Flag{nil})
}

func TestWrapAction(t *testing.T) {
	require.Nil(t, wrapAction(nil))

	called := false

	action := wrapAction(func(cli.Flags) error {
		called = true
		return nil
	})

	require.NoError(t, action(nil))
	require.True(t, called)
}
