package controller

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.dedis.ch/votex/cli"
	"go.dedis.ch/votex/cli/node"
	"go.dedis.ch/votex/core/txn"
	"go.dedis.ch/votex/election"
	"go.dedis.ch/votex/election/lifecycle"
	"go.dedis.ch/votex/identity/wallet"
	"go.dedis.ch/votex/voting"
	"golang.org/x/xerrors"
)

const defaultTimeout = 2 * time.Minute

func setWalletCommands(builder node.Builder) {
	cmd := builder.SetCommand("wallet")
	cmd.SetDescription("manage the identity of the session")

	sub := cmd.SetSubCommand("connect")
	sub.SetDescription("connect the wallet to the session")
	sub.SetAction(builder.MakeAction(connectAction{}))

	sub = cmd.SetSubCommand("switch")
	sub.SetDescription("change the connected account")
	sub.SetFlags(cli.StringFlag{
		Name:     addressFlag,
		Usage:    "hexadecimal address of the account",
		Required: true,
	})
	sub.SetAction(builder.MakeAction(switchAction{}))

	sub = cmd.SetSubCommand("disconnect")
	sub.SetDescription("disconnect the wallet")
	sub.SetAction(builder.MakeAction(disconnectAction{}))

	sub = cmd.SetSubCommand("show")
	sub.SetDescription("show the accounts of the wallet")
	sub.SetAction(builder.MakeAction(showWalletAction{}))

	sub = cmd.SetSubCommand("new")
	sub.SetDescription("generate a new account")
	sub.SetAction(builder.MakeAction(newAccountAction{}))

	sub = cmd.SetSubCommand("admin")
	sub.SetDescription("grant the administrator role to the session")
	sub.SetFlags(cli.BoolFlag{
		Name:  "revoke",
		Usage: "revoke the role instead",
	})
	sub.SetAction(builder.MakeAction(adminAction{}))
}

func setElectionCommands(builder node.Builder) {
	cmd := builder.SetCommand("election")
	cmd.SetDescription("manage the elections")

	sub := cmd.SetSubCommand("create")
	sub.SetDescription("create a pending election")
	sub.SetFlags(
		cli.StringFlag{
			Name:     "title",
			Usage:    "title of the election",
			Required: true,
		},
		cli.StringFlag{
			Name:  "description",
			Usage: "description of the election",
		},
		cli.DurationFlag{
			Name:  "start",
			Usage: "delay before the election starts",
			Value: time.Hour,
		},
		cli.DurationFlag{
			Name:  "end",
			Usage: "delay before the election ends",
			Value: 24 * time.Hour,
		},
		cli.StringSliceFlag{
			Name:  "candidate",
			Usage: "candidate in the form 'name' or 'name:party'",
		},
	)
	sub.SetAction(builder.MakeAction(createAction{}))

	sub = cmd.SetSubCommand("list")
	sub.SetDescription("list the elections")
	sub.SetAction(builder.MakeAction(listAction{}))

	for _, def := range []struct {
		name string
		desc string
		tmpl node.ActionTemplate
	}{
		{"show", "show an election", showAction{}},
		{"results", "show the ranking of the candidates", resultsAction{}},
		{"start", "start an election now", statusAction{status: election.Active}},
		{"end", "end an election now", statusAction{status: election.Ended}},
	} {
		sub = cmd.SetSubCommand(def.name)
		sub.SetDescription(def.desc)
		sub.SetFlags(electionIDFlag())
		sub.SetAction(builder.MakeAction(def.tmpl))
	}
}

func setRollCommands(builder node.Builder) {
	cmd := builder.SetCommand("candidate")
	cmd.SetDescription("manage the candidates")

	sub := cmd.SetSubCommand("add")
	sub.SetDescription("add a candidate to a pending election")
	sub.SetFlags(
		electionIDFlag(),
		cli.StringFlag{
			Name:     "name",
			Usage:    "name of the candidate",
			Required: true,
		},
		cli.StringFlag{
			Name:  "party",
			Usage: "party of the candidate",
		},
	)
	sub.SetAction(builder.MakeAction(addCandidateAction{}))

	cmd = builder.SetCommand("voter")
	cmd.SetDescription("manage the voter rolls")

	sub = cmd.SetSubCommand("add")
	sub.SetDescription("register a voter")
	sub.SetFlags(
		electionIDFlag(),
		cli.StringFlag{
			Name:     addressFlag,
			Usage:    "address of the voter",
			Required: true,
		},
	)
	sub.SetAction(builder.MakeAction(addVoterAction{}))
}

func setVoteCommands(builder node.Builder) {
	cmd := builder.SetCommand("vote")
	cmd.SetDescription("vote for a candidate with the connected account")
	cmd.SetFlags(
		electionIDFlag(),
		cli.IntFlag{
			Name:     "candidate",
			Usage:    "identifier of the candidate",
			Required: true,
		},
		cli.BoolFlag{
			Name:  "yes",
			Usage: "confirm the transaction without waiting",
		},
		cli.DurationFlag{
			Name:  "timeout",
			Usage: "time to wait for the confirmation before it is cancelled",
			Value: defaultTimeout,
		},
	)
	cmd.SetAction(builder.MakeAction(voteAction{}))

	cmd = builder.SetCommand("tx")
	cmd.SetDescription("manage the transaction in flight")

	sub := cmd.SetSubCommand("show")
	sub.SetDescription("show the transaction in flight and the last vote")
	sub.SetAction(builder.MakeAction(showTxAction{}))

	sub = cmd.SetSubCommand("confirm")
	sub.SetDescription("confirm the pending transaction")
	sub.SetAction(builder.MakeAction(answerAction{accept: true}))

	sub = cmd.SetSubCommand("reject")
	sub.SetDescription("reject the pending transaction")
	sub.SetAction(builder.MakeAction(answerAction{accept: false}))
}

func electionIDFlag() cli.Flag {
	return cli.IntFlag{
		Name:     electionFlag,
		Usage:    "identifier of the election",
		Required: true,
	}
}

type connectAction struct{}

// Execute implements node.ActionTemplate. It connects the wallet.
func (connectAction) Execute(ctx node.Context) error {
	svc, err := getService(ctx.Injector)
	if err != nil {
		return err
	}

	addr, err := svc.Connect(context.Background())
	if err != nil {
		return err
	}

	fmt.Fprintf(ctx.Out, "connected as %s", addr)

	return nil
}

type switchAction struct{}

// Execute implements node.ActionTemplate. It changes the connected account.
func (switchAction) Execute(ctx node.Context) error {
	w, err := getWallet(ctx.Injector)
	if err != nil {
		return err
	}

	addr, err := w.Switch(ctx.Flags.String(addressFlag))
	if err != nil {
		return xerrors.Errorf("failed to switch: %v", err)
	}

	fmt.Fprintf(ctx.Out, "connected as %s", addr)

	return nil
}

type disconnectAction struct{}

// Execute implements node.ActionTemplate. It disconnects the wallet.
func (disconnectAction) Execute(ctx node.Context) error {
	w, err := getWallet(ctx.Injector)
	if err != nil {
		return err
	}

	w.Disconnect()

	fmt.Fprint(ctx.Out, "disconnected")

	return nil
}

type showWalletAction struct{}

// Execute implements node.ActionTemplate. It prints the accounts and marks
// the connected one.
func (showWalletAction) Execute(ctx node.Context) error {
	svc, err := getService(ctx.Injector)
	if err != nil {
		return err
	}

	w, err := getWallet(ctx.Injector)
	if err != nil {
		return err
	}

	current, connected := w.CurrentAddress()
	if !connected {
		fmt.Fprint(ctx.Out, "not connected")
	} else {
		fmt.Fprintf(ctx.Out, "connected as %s (admin: %t)", current, svc.IsAdmin())
	}

	for _, addr := range w.Accounts() {
		mark := " "
		if connected && addr == current {
			mark = "*"
		}

		fmt.Fprintf(ctx.Out, "%s %s", mark, addr)
	}

	return nil
}

type newAccountAction struct{}

// Execute implements node.ActionTemplate. It generates an account.
func (newAccountAction) Execute(ctx node.Context) error {
	w, err := getWallet(ctx.Injector)
	if err != nil {
		return err
	}

	addr, err := w.NewAccount()
	if err != nil {
		return xerrors.Errorf("failed to create account: %v", err)
	}

	fmt.Fprintf(ctx.Out, "new account %s", addr)

	return nil
}

type adminAction struct{}

// Execute implements node.ActionTemplate. It sets the administrator role of
// the session, which requires a connected account.
func (adminAction) Execute(ctx node.Context) error {
	svc, err := getService(ctx.Injector)
	if err != nil {
		return err
	}

	_, connected := svc.Account()
	if !connected {
		return xerrors.Errorf("no account: %w", election.ErrUnauthenticated)
	}

	admin := !ctx.Flags.Bool("revoke")
	svc.SetAdmin(admin)

	fmt.Fprintf(ctx.Out, "admin: %t", admin)

	return nil
}

type createAction struct{}

// Execute implements node.ActionTemplate. It creates an election whose times
// are relative to now.
func (createAction) Execute(ctx node.Context) error {
	svc, err := getService(ctx.Injector)
	if err != nil {
		return err
	}

	candidates, err := parseCandidates(ctx.Flags.StringSlice("candidate"))
	if err != nil {
		return err
	}

	var clock *lifecycle.Clock

	err = ctx.Injector.Resolve(&clock)
	if err != nil {
		return xerrors.Errorf("injector: %v", err)
	}

	// The times follow the clock that advances the elections.
	now := clock.Now()

	draft := election.Draft{
		Title:       ctx.Flags.String("title"),
		Description: ctx.Flags.String("description"),
		StartTime:   now.Add(ctx.Flags.Duration("start")),
		EndTime:     now.Add(ctx.Flags.Duration("end")),
		Candidates:  candidates,
	}

	e, err := svc.CreateElection(context.Background(), draft)
	if err != nil {
		return err
	}

	fmt.Fprintf(ctx.Out, "election #%d created", e.ID)

	return nil
}

type listAction struct{}

// Execute implements node.ActionTemplate. It prints a line per election.
func (listAction) Execute(ctx node.Context) error {
	svc, err := getService(ctx.Injector)
	if err != nil {
		return err
	}

	elections := svc.Elections()
	if len(elections) == 0 {
		fmt.Fprint(ctx.Out, "no election")
		return nil
	}

	for _, e := range elections {
		fmt.Fprintf(ctx.Out, "#%d %s [%v] %d candidate(s), %d vote(s)",
			e.ID, e.Title, e.Status, len(e.Candidates), e.TotalVotes())
	}

	return nil
}

type showAction struct{}

// Execute implements node.ActionTemplate. It prints the details of an
// election.
func (showAction) Execute(ctx node.Context) error {
	e, err := getElection(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(ctx.Out, "#%d %s [%v]", e.ID, e.Title, e.Status)

	if e.Description != "" {
		fmt.Fprint(ctx.Out, e.Description)
	}

	fmt.Fprintf(ctx.Out, "from %s to %s",
		e.StartTime.Format(time.RFC3339), e.EndTime.Format(time.RFC3339))
	fmt.Fprintf(ctx.Out, "created by %s", e.CreatedBy)

	for _, c := range e.Candidates {
		fmt.Fprintf(ctx.Out, "  %d. %s", c.ID, displayName(c))
	}

	fmt.Fprintf(ctx.Out, "%d voter(s), %d voted", len(e.Voters), e.Turnout())

	return nil
}

type resultsAction struct{}

// Execute implements node.ActionTemplate. It prints the ranking of the
// candidates with their share of the votes.
func (resultsAction) Execute(ctx node.Context) error {
	e, err := getElection(ctx)
	if err != nil {
		return err
	}

	total := e.TotalVotes()

	fmt.Fprintf(ctx.Out, "%s [%v] %d vote(s)", e.Title, e.Status, total)

	for rank, c := range e.Results() {
		share := 0.0
		if total > 0 {
			share = float64(c.Votes) * 100 / float64(total)
		}

		fmt.Fprintf(ctx.Out, "%d. %s %d (%.1f%%)", rank+1, displayName(c), c.Votes, share)
	}

	return nil
}

type statusAction struct {
	status election.Status
}

// Execute implements node.ActionTemplate. It forces the status of an
// election.
func (a statusAction) Execute(ctx node.Context) error {
	svc, err := getService(ctx.Injector)
	if err != nil {
		return err
	}

	id, err := electionID(ctx.Flags)
	if err != nil {
		return err
	}

	var e election.Election

	switch a.status {
	case election.Active:
		e, err = svc.StartElection(context.Background(), id)
	default:
		e, err = svc.EndElection(context.Background(), id)
	}

	if err != nil {
		return err
	}

	fmt.Fprintf(ctx.Out, "election #%d is %v", e.ID, e.Status)

	return nil
}

type addCandidateAction struct{}

// Execute implements node.ActionTemplate. It adds a candidate to a pending
// election.
func (addCandidateAction) Execute(ctx node.Context) error {
	svc, err := getService(ctx.Injector)
	if err != nil {
		return err
	}

	id, err := electionID(ctx.Flags)
	if err != nil {
		return err
	}

	c, err := svc.AddCandidate(context.Background(), id, election.CandidateDraft{
		Name:  ctx.Flags.String("name"),
		Party: ctx.Flags.String("party"),
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(ctx.Out, "candidate %d added to election #%d", c.ID, id)

	return nil
}

type addVoterAction struct{}

// Execute implements node.ActionTemplate. It registers a voter.
func (addVoterAction) Execute(ctx node.Context) error {
	svc, err := getService(ctx.Injector)
	if err != nil {
		return err
	}

	id, err := electionID(ctx.Flags)
	if err != nil {
		return err
	}

	addr := ctx.Flags.String(addressFlag)

	_, err = svc.RegisterVoter(context.Background(), id, election.Address(addr))
	if err != nil {
		return err
	}

	fmt.Fprintf(ctx.Out, "voter %s registered in election #%d", addr, id)

	return nil
}

type voteAction struct{}

// Execute implements node.ActionTemplate. It casts a vote with the connected
// account. Unless the vote is confirmed in advance, the transaction waits for
// a tx confirm or tx reject command, and is cancelled after the timeout.
func (voteAction) Execute(ctx node.Context) error {
	svc, err := getService(ctx.Injector)
	if err != nil {
		return err
	}

	id, err := electionID(ctx.Flags)
	if err != nil {
		return err
	}

	candidate := ctx.Flags.Int("candidate")
	if candidate <= 0 {
		return xerrors.Errorf("invalid candidate: %d", candidate)
	}

	var gate txn.Gate = txn.AutoConfirm

	if !ctx.Flags.Bool("yes") {
		var p *prompter

		err = ctx.Injector.Resolve(&p)
		if err != nil {
			return xerrors.Errorf("injector: %v", err)
		}

		timeout := ctx.Flags.Duration("timeout")

		gate = txn.GateFunc(func(c context.Context, text string) (bool, error) {
			fmt.Fprint(ctx.Out, text)
			fmt.Fprint(ctx.Out, "waiting for 'tx confirm' or 'tx reject'...")

			if timeout > 0 {
				var cancel context.CancelFunc

				c, cancel = context.WithTimeout(c, timeout)
				defer cancel()
			}

			return p.Confirm(c, text)
		})
	}

	txID, err := svc.Vote(context.Background(), id, election.CandidateID(candidate), gate)
	if err != nil {
		return err
	}

	fmt.Fprintf(ctx.Out, "vote confirmed in transaction %v", txID)

	return nil
}

type showTxAction struct{}

// Execute implements node.ActionTemplate. It prints the transaction in
// flight, the pending confirmation and the last vote.
func (showTxAction) Execute(ctx node.Context) error {
	svc, err := getService(ctx.Injector)
	if err != nil {
		return err
	}

	tx, found := svc.InFlight()
	if found {
		line := fmt.Sprintf("%s %v since %s", tx.Label, tx.Phase, tx.Since.Format(time.RFC3339))
		if !tx.ID.IsZero() {
			line += " " + tx.ID.Short()
		}

		fmt.Fprint(ctx.Out, line)
	} else {
		fmt.Fprint(ctx.Out, "no transaction in flight")
	}

	var p *prompter

	err = ctx.Injector.Resolve(&p)
	if err == nil {
		text, pending := p.Pending()
		if pending {
			fmt.Fprintf(ctx.Out, "waiting for confirmation: %s", text)
		}
	}

	last, found := svc.LastTransaction()
	if found {
		fmt.Fprintf(ctx.Out, "last vote %v", last)
	}

	return nil
}

type answerAction struct {
	accept bool
}

// Execute implements node.ActionTemplate. It answers the pending
// confirmation.
func (a answerAction) Execute(ctx node.Context) error {
	var p *prompter

	err := ctx.Injector.Resolve(&p)
	if err != nil {
		return xerrors.Errorf("injector: %v", err)
	}

	err = p.Answer(a.accept)
	if err != nil {
		return xerrors.Errorf("failed to answer: %v", err)
	}

	if a.accept {
		fmt.Fprint(ctx.Out, "transaction confirmed")
	} else {
		fmt.Fprint(ctx.Out, "transaction rejected")
	}

	return nil
}

func getService(inj node.Injector) (*voting.Service, error) {
	var svc *voting.Service

	err := inj.Resolve(&svc)
	if err != nil {
		return nil, xerrors.Errorf("injector: %v", err)
	}

	return svc, nil
}

func getWallet(inj node.Injector) (*wallet.Wallet, error) {
	var w *wallet.Wallet

	err := inj.Resolve(&w)
	if err != nil {
		return nil, xerrors.Errorf("injector: %v", err)
	}

	return w, nil
}

func getElection(ctx node.Context) (election.Election, error) {
	svc, err := getService(ctx.Injector)
	if err != nil {
		return election.Election{}, err
	}

	id, err := electionID(ctx.Flags)
	if err != nil {
		return election.Election{}, err
	}

	e, err := svc.Election(id)
	if err != nil {
		return election.Election{}, xerrors.Errorf("election #%d: %w", id, err)
	}

	return e, nil
}

func electionID(flags cli.Flags) (election.ID, error) {
	id := flags.Int(electionFlag)
	if id <= 0 {
		return 0, xerrors.Errorf("invalid election: %d", id)
	}

	return election.ID(id), nil
}

// parseCandidates reads the candidates in the form name or name:party.
func parseCandidates(values []string) ([]election.CandidateDraft, error) {
	drafts := make([]election.CandidateDraft, 0, len(values))

	for _, value := range values {
		parts := strings.SplitN(value, ":", 2)

		name := strings.TrimSpace(parts[0])
		if name == "" {
			return nil, xerrors.Errorf("invalid candidate '%s'", value)
		}

		draft := election.CandidateDraft{Name: name}
		if len(parts) == 2 {
			draft.Party = strings.TrimSpace(parts[1])
		}

		drafts = append(drafts, draft)
	}

	return drafts, nil
}

func displayName(c election.Candidate) string {
	if c.Party == "" {
		return c.Name
	}

	return fmt.Sprintf("%s (%s)", c.Name, c.Party)
}
