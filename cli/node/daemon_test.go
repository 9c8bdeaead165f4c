package node

import (
	"bytes"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/votex"
	"go.dedis.ch/votex/cli"
	"go.dedis.ch/votex/internal/testing/fake"
	"golang.org/x/xerrors"
)

func TestSocketClient_Send(t *testing.T) {
	out := new(bytes.Buffer)

	client := socketClient{
		socketpath:  filepath.Join(t.TempDir(), SocketName),
		out:         out,
		dialTimeout: time.Second,
		dialFn:      net.DialTimeout,
	}

	echo(t, client.socketpath)

	err := client.Send([]byte("Student Council Election"))
	require.NoError(t, err)
	require.Equal(t, "Student Council Election\n", out.String())
}

func TestSocketClient_Send_BadDial(t *testing.T) {
	client := socketClient{
		dialFn: func(string, string, time.Duration) (net.Conn, error) {
			return nil, fake.GetError()
		},
	}

	err := client.Send(nil)
	require.EqualError(t, err, fake.Err("couldn't open connection"))
}

func TestSocketClient_Send_BadWrite(t *testing.T) {
	client := socketClient{
		dialFn: func(string, string, time.Duration) (net.Conn, error) {
			return badConn{}, nil
		},
	}

	err := client.Send([]byte{1, 2, 3})
	require.EqualError(t, err, fake.Err("couldn't write to daemon"))
}

func TestSocketClient_Send_BadRead(t *testing.T) {
	client := socketClient{
		dialFn: func(string, string, time.Duration) (net.Conn, error) {
			return badConn{counter: fake.NewCounter(1)}, nil
		},
	}

	err := client.Send([]byte{})
	require.EqualError(t, err, fake.Err("fail to decode event"))
}

func TestSocketDaemon_Listen(t *testing.T) {
	actions := &actionMap{}
	actions.Set(fakeAction{ints: map[string]int{"election": 1}}) // 0
	actions.Set(fakeAction{err: fake.GetError()})               // 1

	daemon := &socketDaemon{
		logger:      votex.Logger,
		socketpath:  filepath.Join(t.TempDir(), SocketName),
		actions:     actions,
		closing:     make(chan struct{}),
		readTimeout: 50 * time.Millisecond,
		listenFn:    net.Listen,
	}

	require.NoError(t, daemon.Listen())
	defer daemon.Close()

	out := new(bytes.Buffer)

	client := socketClient{
		socketpath:  daemon.socketpath,
		out:         out,
		dialTimeout: time.Second,
		dialFn:      net.DialTimeout,
	}

	payload, err := json.Marshal(FlagSet{"election": 1})
	require.NoError(t, err)

	err = client.Send(append([]byte{0, 0}, payload...))
	require.NoError(t, err)
	require.Equal(t, "done\n", out.String())

	err = client.Send(append([]byte{0, 0}, []byte("{}")...))
	require.EqualError(t, err, "command error: missing flag election")

	err = client.Send(append([]byte{1, 0}, []byte("{}")...))
	require.EqualError(t, err, fake.Err("command error"))

	err = client.Send(append([]byte{2, 0}, []byte("{}")...))
	require.EqualError(t, err, "unknown command '2'")

	err = client.Send([]byte{0, 0, 0})
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to decode flags: ")

	err = client.Send([]byte{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "stream corrupted: ")

	// A probe closes the connection without a request.
	conn, err := net.DialTimeout("unix", daemon.socketpath, time.Second)
	require.NoError(t, err)
	require.NoError(t, conn.Close())
}

func TestSocketDaemon_Listen_BadSocket(t *testing.T) {
	daemon := &socketDaemon{
		listenFn: func(string, string) (net.Listener, error) {
			return nil, fake.GetError()
		},
	}

	err := daemon.Listen()
	require.EqualError(t, err, fake.Err("couldn't bind socket"))
}

func TestClientWriter_Write(t *testing.T) {
	buffer := new(bytes.Buffer)

	w := newClientWriter(buffer)

	n, err := w.Write([]byte("Ravi Raj"))
	require.NoError(t, err)
	require.Equal(t, 8, n)
	require.Equal(t, `{"Err":false,"Value":"Ravi Raj"}`+"\n", buffer.String())

	w = newClientWriter(badConn{})

	n, err = w.Write([]byte("Ravi Raj"))
	require.Equal(t, 0, n)
	require.EqualError(t, err, fake.Err("while packing data"))
}

func TestSocketFactory(t *testing.T) {
	factory := socketFactory{}

	client, err := factory.ClientFromContext(FlagSet{ConfigFlag: "cfgdir"})
	require.NoError(t, err)
	require.Equal(t, filepath.Join("cfgdir", SocketName), client.(socketClient).socketpath)

	daemon, err := factory.DaemonFromContext(FlagSet{ConfigFlag: "cfgdir"})
	require.NoError(t, err)
	require.Equal(t, filepath.Join("cfgdir", SocketName), daemon.(*socketDaemon).socketpath)
}

// -----------------------------------------------------------------------------
// Utility functions

// echo serves a single connection that answers with the request.
func echo(t *testing.T, path string) {
	socket, err := net.Listen("unix", path)
	require.NoError(t, err)

	go func() {
		defer socket.Close()

		conn, err := socket.Accept()
		if err != nil {
			return
		}

		defer conn.Close()

		buffer := make([]byte, 100)

		n, err := conn.Read(buffer)
		if err != nil {
			return
		}

		json.NewEncoder(conn).Encode(message{Value: string(buffer[:n])})
	}()
}

type fakeInitializer struct {
	err     error
	errStop error
	calls   *fake.Call
}

func (i fakeInitializer) SetCommands(b Builder) {
	cmd := b.SetCommand("election")
	cmd.SetAction(b.MakeAction(fakeAction{}))
}

func (i fakeInitializer) OnStart(flags cli.Flags, inj Injector) error {
	if i.calls != nil {
		i.calls.Add("start")
	}

	return i.err
}

func (i fakeInitializer) OnStop(Injector) error {
	if i.calls != nil {
		i.calls.Add("stop")
	}

	return i.errStop
}

type fakeClient struct {
	err   error
	calls *fake.Call
}

func (c fakeClient) Send(data []byte) error {
	if c.calls != nil {
		c.calls.Add(data)
	}

	return c.err
}

type fakeDaemon struct {
	err error
}

func (d fakeDaemon) Listen() error {
	return d.err
}

func (d fakeDaemon) Close() error {
	return nil
}

type fakeFactory struct {
	err       error
	errClient error
	errDaemon error
	calls     *fake.Call
}

func (f fakeFactory) ClientFromContext(cli.Flags) (Client, error) {
	return fakeClient{err: f.errClient, calls: f.calls}, f.err
}

func (f fakeFactory) DaemonFromContext(cli.Flags) (Daemon, error) {
	return fakeDaemon{err: f.errDaemon}, f.err
}

type fakeAction struct {
	err  error
	ints map[string]int
}

func (a fakeAction) Execute(ctx Context) error {
	if a.err != nil {
		return a.err
	}

	for k, v := range a.ints {
		if ctx.Flags.Int(k) != v {
			return xerrors.Errorf("missing flag %s", k)
		}
	}

	ctx.Out.Write([]byte("done"))

	return nil
}

type badConn struct {
	net.Conn
	counter *fake.Counter
}

func (c badConn) Read(data []byte) (int, error) {
	if !c.counter.Done() {
		c.counter.Decrease()
		return len(data), nil
	}

	return 0, fake.GetError()
}

func (c badConn) Write(data []byte) (int, error) {
	if !c.counter.Done() {
		c.counter.Decrease()
		return len(data), nil
	}

	return 0, fake.GetError()
}

func (badConn) SetReadDeadline(time.Time) error {
	return nil
}

func (badConn) Close() error {
	return nil
}
