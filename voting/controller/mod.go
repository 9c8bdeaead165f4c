// Package controller implements the initializer of a voting session. The
// daemon holds the store, the engine, the wallet and the service of the
// session, and the commands operate on them.
package controller

import (
	"time"

	"go.dedis.ch/votex"
	"go.dedis.ch/votex/cli"
	"go.dedis.ch/votex/cli/node"
	"go.dedis.ch/votex/config"
	"go.dedis.ch/votex/core/txn/sim"
	"go.dedis.ch/votex/election/lifecycle"
	"go.dedis.ch/votex/election/mem"
	"go.dedis.ch/votex/identity/wallet"
	"go.dedis.ch/votex/internal/timesync"
	"go.dedis.ch/votex/internal/tracing"
	"go.dedis.ch/votex/notify"
	"go.dedis.ch/votex/voting"
	"golang.org/x/xerrors"
)

const (
	sessionFlag  = "session"
	ntpFlag      = "ntp"
	tracingFlag  = "tracing"
	electionFlag = "election"
	addressFlag  = "address"
)

const serviceName = "votex"

const inboxSize = 20

var syncerFactory = func(server string) *timesync.Syncer {
	return timesync.NewSyncer(server)
}

// NewController returns the initializer of a session.
func NewController() node.Initializer {
	return controller{
		now: time.Now,
	}
}

// controller creates the components of a session when the daemon starts.
//
// - implements node.Initializer
type controller struct {
	now func() time.Time
}

// SetCommands implements node.Initializer.
func (c controller) SetCommands(builder node.Builder) {
	builder.SetStartFlags(
		cli.PathFlag{
			Name:  sessionFlag,
			Usage: "path to the YAML file of the session, default elections if empty",
		},
		cli.StringFlag{
			Name:  ntpFlag,
			Usage: "time server of the lifecycle clock, local time if empty",
		},
		cli.BoolFlag{
			Name:  tracingFlag,
			Usage: "report the transactions to the Jaeger agent of the environment",
		},
	)

	setWalletCommands(builder)
	setElectionCommands(builder)
	setRollCommands(builder)
	setVoteCommands(builder)
}

// OnStart implements node.Initializer. It loads the session, seeds the store
// and starts the lifecycle clock.
func (c controller) OnStart(flags cli.Flags, inj node.Injector) error {
	session := config.Default()

	path := flags.Path(sessionFlag)
	if path != "" {
		var err error

		session, err = config.Load(path)
		if err != nil {
			return xerrors.Errorf("failed to load session: %v", err)
		}
	}

	now := c.now

	var syncer *timesync.Syncer

	server := flags.String(ntpFlag)
	if server != "" {
		syncer = syncerFactory(server)

		err := syncer.Start()
		if err != nil {
			return xerrors.Errorf("failed to synchronize time: %v", err)
		}

		now = syncer.Now
	}

	err := c.setup(flags, inj, session, now)
	if err != nil {
		if syncer != nil {
			syncer.Stop()
		}

		return err
	}

	if syncer != nil {
		inj.Inject(syncer)
	}

	return nil
}

// setup creates the components of the session and injects them.
func (c controller) setup(flags cli.Flags, inj node.Injector, session config.Session,
	now func() time.Time) error {

	store := mem.NewStore()

	seeds, err := session.Seed(now())
	if err != nil {
		return xerrors.Errorf("failed to seed: %v", err)
	}

	for _, e := range seeds {
		_, err = store.Import(e)
		if err != nil {
			return xerrors.Errorf("failed to import '%s': %v", e.Title, err)
		}
	}

	opts := []sim.Option{sim.WithNow(now)}

	if flags.Bool(tracingFlag) {
		tracer, err := tracing.GetTracer(serviceName)
		if err != nil {
			return xerrors.Errorf("failed to get tracer: %v", err)
		}

		opts = append(opts, sim.WithTracer(tracer))
	}

	engine := sim.NewEngine(opts...)

	w := wallet.NewWallet(wallet.WithAccounts(session.Accounts...))

	inbox := notify.NewInbox(inboxSize)
	notifier := notify.Tee(notify.NewLogNotifier(votex.Logger), inbox)

	svc := voting.NewService(store, engine, w,
		voting.WithProfiles(session.Profiles),
		voting.WithNotifier(notifier))

	clock := lifecycle.NewClock(store,
		lifecycle.WithNow(now),
		lifecycle.WithInterval(session.Interval))

	// Seeds whose times have already passed are updated right away.
	clock.Tick()

	err = clock.Start()
	if err != nil {
		svc.Close()
		return xerrors.Errorf("failed to start clock: %v", err)
	}

	inj.Inject(store)
	inj.Inject(engine)
	inj.Inject(w)
	inj.Inject(inbox)
	inj.Inject(svc)
	inj.Inject(clock)
	inj.Inject(newPrompter())
	inj.Inject(newRoutes(svc, inbox))

	votex.Logger.Info().
		Int("elections", len(seeds)).
		Dur("interval", session.Interval).
		Msg("session ready")

	return nil
}

// OnStop implements node.Initializer. It stops the clock and releases the
// service.
func (controller) OnStop(inj node.Injector) error {
	var clock *lifecycle.Clock

	err := inj.Resolve(&clock)
	if err != nil {
		return xerrors.Errorf("injector: %v", err)
	}

	clock.Stop()

	var svc *voting.Service

	err = inj.Resolve(&svc)
	if err != nil {
		return xerrors.Errorf("injector: %v", err)
	}

	svc.Close()

	var syncer *timesync.Syncer

	err = inj.Resolve(&syncer)
	if err == nil {
		syncer.Stop()
	}

	err = tracing.CloseAll()
	if err != nil {
		return xerrors.Errorf("failed to close tracers: %v", err)
	}

	return nil
}
