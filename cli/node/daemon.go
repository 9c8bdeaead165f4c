package node

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.dedis.ch/votex"
	"go.dedis.ch/votex/cli"
	"golang.org/x/xerrors"
)

// SocketName is the name of the socket file in the config folder.
const SocketName = "daemon.sock"

// dialTimeout bounds the time to connect to the daemon. Reading the answer is
// not bounded because an action can wait for a confirmation.
const dialTimeout = 30 * time.Second

// readTimeout bounds the time the daemon waits for the request of a client.
const readTimeout = 30 * time.Second

// message is the JSON frame sent by the daemon to the client: a line of the
// output or the error of the action.
type message struct {
	Err   bool
	Value string
}

// socketClient sends a request to the daemon and prints its answer.
//
// - implements node.Client
type socketClient struct {
	socketpath  string
	out         io.Writer
	dialTimeout time.Duration
	dialFn      func(network, addr string, timeout time.Duration) (net.Conn, error)
}

// Send implements node.Client. It writes the request and then copies the
// output of the action until the daemon closes the connection.
func (c socketClient) Send(data []byte) error {
	conn, err := c.dialFn("unix", c.socketpath, c.dialTimeout)
	if err != nil {
		return xerrors.Errorf("couldn't open connection: %v", err)
	}

	defer conn.Close()

	_, err = conn.Write(data)
	if err != nil {
		return xerrors.Errorf("couldn't write to daemon: %v", err)
	}

	dec := json.NewDecoder(conn)

	for {
		var msg message

		err = dec.Decode(&msg)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return xerrors.Errorf("fail to decode event: %v", err)
		}

		if msg.Err {
			return xerrors.New(msg.Value)
		}

		fmt.Fprintln(c.out, msg.Value)
	}
}

// socketDaemon executes the actions received on a UNIX socket. Access is
// controlled by the permissions of the file.
//
// - implements node.Daemon
type socketDaemon struct {
	sync.WaitGroup

	logger      zerolog.Logger
	socketpath  string
	injector    Injector
	actions     *actionMap
	closing     chan struct{}
	readTimeout time.Duration
	listenFn    func(network, addr string) (net.Listener, error)
}

// Listen implements node.Daemon. It creates the socket file and serves the
// connections in the background, each in its own goroutine.
func (d *socketDaemon) Listen() error {
	socket, err := d.listenFn("unix", d.socketpath)
	if err != nil {
		return xerrors.Errorf("couldn't bind socket: %v", err)
	}

	d.Add(2)

	go func() {
		defer d.Done()

		<-d.closing
		socket.Close()
	}()

	go func() {
		defer d.Done()

		for {
			conn, err := socket.Accept()
			if err != nil {
				select {
				case <-d.closing:
				default:
					d.logger.Err(err).Msg("daemon closed unexpectedly")
				}

				return
			}

			go d.handleConn(conn)
		}
	}()

	return nil
}

func (d *socketDaemon) handleConn(conn net.Conn) {
	defer conn.Close()

	header := make([]byte, 2)

	conn.SetReadDeadline(time.Now().Add(d.readTimeout))

	_, err := io.ReadFull(conn, header)
	if err == io.EOF {
		// The client closed the connection without a request, which is how
		// the availability of the daemon is probed.
		return
	}
	if err != nil {
		d.sendError(conn, xerrors.Errorf("stream corrupted: %v", err))
		return
	}

	fset := make(FlagSet)

	err = json.NewDecoder(conn).Decode(&fset)
	if err != nil {
		d.sendError(conn, xerrors.Errorf("failed to decode flags: %v", err))
		return
	}

	// The action may block for a long time, typically a vote waiting for a
	// confirmation.
	conn.SetReadDeadline(time.Time{})

	index := binary.LittleEndian.Uint16(header)

	d.logger.Debug().
		Uint16("action", index).
		Interface("flags", fset).
		Msg("received command")

	action := d.actions.Get(index)
	if action == nil {
		d.sendError(conn, xerrors.Errorf("unknown command '%d'", index))
		return
	}

	ctx := Context{
		Injector: d.injector,
		Flags:    fset,
		Out:      newClientWriter(conn),
	}

	err = action.Execute(ctx)
	if err != nil {
		d.sendError(conn, xerrors.Errorf("command error: %v", err))
	}
}

func (d *socketDaemon) sendError(conn net.Conn, err error) {
	d.logger.Debug().Err(err).Msg("sending error to client")

	err = json.NewEncoder(conn).Encode(message{Err: true, Value: err.Error()})
	if err != nil {
		d.logger.Warn().Err(err).Msg("couldn't send error to client")
	}
}

// Close implements node.Daemon. It closes the socket and waits for the
// background routines.
func (d *socketDaemon) Close() error {
	close(d.closing)
	d.Wait()

	return nil
}

// clientWriter wraps each write in a message for the client.
//
// - implements io.Writer
type clientWriter struct {
	enc *json.Encoder
}

func newClientWriter(w io.Writer) *clientWriter {
	return &clientWriter{
		enc: json.NewEncoder(w),
	}
}

// Write implements io.Writer.
func (w *clientWriter) Write(data []byte) (int, error) {
	err := w.enc.Encode(message{Value: string(data)})
	if err != nil {
		return 0, xerrors.Errorf("while packing data: %v", err)
	}

	return len(data), nil
}

// socketFactory creates the daemon and the clients of a config folder.
//
// - implements node.DaemonFactory
type socketFactory struct {
	injector Injector
	actions  *actionMap
	out      io.Writer
}

// ClientFromContext implements node.DaemonFactory.
func (f socketFactory) ClientFromContext(flags cli.Flags) (Client, error) {
	client := socketClient{
		socketpath:  socketPath(flags),
		out:         f.out,
		dialTimeout: dialTimeout,
		dialFn:      net.DialTimeout,
	}

	return client, nil
}

// DaemonFromContext implements node.DaemonFactory.
func (f socketFactory) DaemonFromContext(flags cli.Flags) (Daemon, error) {
	path := socketPath(flags)

	daemon := &socketDaemon{
		logger:      votex.Logger.With().Str("daemon", path).Logger(),
		socketpath:  path,
		injector:    f.injector,
		actions:     f.actions,
		closing:     make(chan struct{}),
		readTimeout: readTimeout,
		listenFn:    net.Listen,
	}

	return daemon, nil
}

func socketPath(flags cli.Flags) string {
	return filepath.Join(flags.Path(ConfigFlag), SocketName)
}
