// Package voting implements the session service that the display layer uses
// to operate on the elections. Every mutation runs as a transaction of the
// engine and is only applied to the store once the transaction is confirmed.
//
// The vote is validated before the transaction is submitted, and once more
// by the store when it is committed, so that a voter cannot vote twice even
// when two sessions race on the same election.
package voting

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.dedis.ch/votex"
	"go.dedis.ch/votex/core/txn"
	"go.dedis.ch/votex/election"
	"go.dedis.ch/votex/identity"
	"go.dedis.ch/votex/notify"
	"golang.org/x/xerrors"
)

// ErrBusy is returned when an operation is requested while another one is in
// flight on the same service.
var ErrBusy = xerrors.New("transaction in progress")

// Labels of the transactions.
const (
	LabelCreate    = "create"
	LabelStart     = "start"
	LabelEnd       = "end"
	LabelCandidate = "candidate"
	LabelVoter     = "voter"
	LabelVote      = "vote"
)

const votePrompt = "This will initiate a test transaction from your wallet %s " +
	"to vote for this candidate. Continue?"

// Profiles are the latency profiles of the operations.
type Profiles struct {
	Vote   txn.Profile `yaml:"vote"`
	Create txn.Profile `yaml:"create"`
	Admin  txn.Profile `yaml:"admin"`
}

// DefaultProfiles returns the latencies of a typical ledger.
func DefaultProfiles() Profiles {
	return Profiles{
		Vote:   txn.VoteProfile,
		Create: txn.CreateProfile,
		Admin:  txn.AdminProfile,
	}
}

// Transaction is the display state of the transaction in flight.
type Transaction struct {
	Label string    `json:"label"`
	Trace string    `json:"trace"`
	Phase txn.Phase `json:"phase"`
	// ID is set once the transaction is pending.
	ID    txn.ID    `json:"id"`
	Since time.Time `json:"since"`
}

// Service is the entry point of the operations of a session.
type Service struct {
	sync.Mutex

	logger   zerolog.Logger
	store    election.Store
	engine   txn.Engine
	provider identity.Provider
	notifier notify.Notifier
	profiles Profiles
	sub      identity.Subscription

	busy     bool
	inflight *Transaction
	lastID   txn.ID
	admin    bool
}

// Option is the type of option to set some fields of the service.
type Option func(*Service)

// WithNotifier is an option to set the notifier of the outcomes. By default,
// they are written to the log.
func WithNotifier(n notify.Notifier) Option {
	return func(s *Service) {
		s.notifier = n
	}
}

// WithProfiles is an option to set the latencies of the operations.
func WithProfiles(p Profiles) Option {
	return func(s *Service) {
		s.profiles = p
	}
}

// NewService creates a new service and subscribes to the changes of account.
// Close must be called to release the subscription.
func NewService(store election.Store, engine txn.Engine, provider identity.Provider,
	opts ...Option) *Service {

	logger := votex.Logger.With().Str("component", "voting").Logger()

	s := &Service{
		logger:   logger,
		store:    store,
		engine:   engine,
		provider: provider,
		notifier: notify.NewLogNotifier(logger),
		profiles: DefaultProfiles(),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.sub = provider.Subscribe(s.accountChanged)

	return s
}

// Close stops listening to the provider.
func (s *Service) Close() {
	s.sub.Unsubscribe()
}

// IsAdmin returns true if the session has the administrator role.
func (s *Service) IsAdmin() bool {
	s.Lock()
	defer s.Unlock()

	return s.admin
}

// SetAdmin changes the role of the session. The role is dropped when the
// account disconnects.
func (s *Service) SetAdmin(admin bool) {
	s.Lock()
	s.admin = admin
	s.Unlock()
}

// Account returns the connected account, if any.
func (s *Service) Account() (election.Address, bool) {
	addr, ok := s.provider.CurrentAddress()
	if !ok || addr == "" {
		return "", false
	}

	return election.Address(addr), true
}

// InFlight returns the transaction in progress, if any.
func (s *Service) InFlight() (Transaction, bool) {
	s.Lock()
	defer s.Unlock()

	if s.inflight == nil {
		return Transaction{}, false
	}

	return *s.inflight, true
}

// LastTransaction returns the identifier of the last confirmed vote. It is
// reset when a vote fails.
func (s *Service) LastTransaction() (txn.ID, bool) {
	s.Lock()
	defer s.Unlock()

	return s.lastID, !s.lastID.IsZero()
}

// Elections returns the elections of the store.
func (s *Service) Elections() []election.Election {
	return s.store.All()
}

// Election returns an election of the store.
func (s *Service) Election(id election.ID) (election.Election, error) {
	return s.store.Get(id)
}

// Connect requests an account to the identity provider.
func (s *Service) Connect(ctx context.Context) (election.Address, error) {
	addr, err := s.provider.RequestAddress(ctx)
	switch {
	case xerrors.Is(err, identity.ErrProviderUnavailable):
		s.notifier.Notify(notify.Error, "Please install a wallet to use this app!")
		return "", xerrors.Errorf("failed to connect: %w", err)
	case xerrors.Is(err, identity.ErrUserRejected):
		s.notifier.Notify(notify.Error, "Connection rejected. Please approve the wallet connection.")
		return "", xerrors.Errorf("failed to connect: %w", err)
	case err != nil:
		s.notifier.Notify(notify.Error, "Error connecting wallet. Try again.")
		return "", xerrors.Errorf("failed to connect: %v", err)
	}

	s.notifier.Notify(notify.Success, "Wallet connected successfully!")

	return election.Address(addr), nil
}

// CreateElection creates a pending election owned by the connected account.
func (s *Service) CreateElection(ctx context.Context, draft election.Draft) (election.Election, error) {
	creator, err := s.requireAccount()
	if err != nil {
		return election.Election{}, err
	}

	var created election.Election

	_, err = s.submit(ctx, txn.Request{
		Label:   LabelCreate,
		Profile: s.profiles.Create,
		Commit: func(txn.ID) error {
			e, err := s.store.Create(draft, creator)
			created = e
			return err
		},
	}, nil)

	switch {
	case xerrors.Is(err, ErrBusy):
		return election.Election{}, xerrors.Errorf("failed to create election: %w", err)
	case err != nil:
		s.notifier.Notify(notify.Error, "Failed to create election")
		return election.Election{}, xerrors.Errorf("failed to create election: %w", err)
	}

	s.notifier.Notify(notify.Success, "Election created successfully!")

	return created, nil
}

// StartElection forces the election to be active, regardless of its start
// time.
func (s *Service) StartElection(ctx context.Context, id election.ID) (election.Election, error) {
	err := s.requireElection(id)
	if err != nil {
		return election.Election{}, err
	}

	e, err := s.force(ctx, id, election.Active, LabelStart)
	switch {
	case xerrors.Is(err, ErrBusy):
		return e, xerrors.Errorf("failed to start election: %w", err)
	case err != nil:
		s.notifier.Notify(notify.Error, "Failed to start voting")
		return e, xerrors.Errorf("failed to start election: %w", err)
	}

	s.notifier.Notify(notify.Success, "Voting started successfully!")

	return e, nil
}

// EndElection forces the election to be ended, regardless of its end time.
func (s *Service) EndElection(ctx context.Context, id election.ID) (election.Election, error) {
	err := s.requireElection(id)
	if err != nil {
		return election.Election{}, err
	}

	e, err := s.force(ctx, id, election.Ended, LabelEnd)
	switch {
	case xerrors.Is(err, ErrBusy):
		return e, xerrors.Errorf("failed to end election: %w", err)
	case err != nil:
		s.notifier.Notify(notify.Error, "Failed to end voting")
		return e, xerrors.Errorf("failed to end election: %w", err)
	}

	s.notifier.Notify(notify.Success, "Voting ended successfully!")

	return e, nil
}

func (s *Service) force(ctx context.Context, id election.ID, status election.Status,
	label string) (election.Election, error) {

	var updated election.Election

	_, err := s.submit(ctx, txn.Request{
		Label:   label,
		Profile: s.profiles.Admin,
		Commit: func(txn.ID) error {
			e, err := s.store.ForceStatus(id, status)
			updated = e
			return err
		},
	}, nil)

	if err != nil {
		return election.Election{}, err
	}

	return updated, nil
}

// AddCandidate adds a candidate to a pending election.
func (s *Service) AddCandidate(ctx context.Context, id election.ID,
	draft election.CandidateDraft) (election.Candidate, error) {

	_, err := s.requireAccount()
	if err != nil {
		return election.Candidate{}, err
	}

	e, err := s.lookup(id)
	if err != nil {
		return election.Candidate{}, err
	}

	if e.Status != election.Pending {
		s.notifier.Notify(notify.Error, "Cannot add candidates to an active or ended election!")
		return election.Candidate{}, xerrors.Errorf("election %d is %v: %w",
			id, e.Status, election.ErrInvalidState)
	}

	var added election.Candidate

	_, err = s.submit(ctx, txn.Request{
		Label:   LabelCandidate,
		Profile: s.profiles.Admin,
		Commit: func(txn.ID) error {
			c, err := s.store.AddCandidate(id, draft)
			added = c
			return err
		},
	}, nil)

	switch {
	case xerrors.Is(err, ErrBusy):
		return election.Candidate{}, xerrors.Errorf("failed to add candidate: %w", err)
	case err != nil:
		s.notifier.Notify(notify.Error, "Failed to add candidate")
		return election.Candidate{}, xerrors.Errorf("failed to add candidate: %w", err)
	}

	s.notifier.Notify(notify.Success, "Candidate added successfully!")

	return added, nil
}

// RegisterVoter adds an address to the voter roll of an election.
func (s *Service) RegisterVoter(ctx context.Context, id election.ID,
	addr election.Address) (election.Voter, error) {

	_, err := s.requireAccount()
	if err != nil {
		return election.Voter{}, err
	}

	e, err := s.lookup(id)
	if err != nil {
		return election.Voter{}, err
	}

	_, found := e.Voter(addr)
	if found {
		s.notifier.Notify(notify.Error, "This voter is already registered!")
		return election.Voter{}, xerrors.Errorf("voter %s: %w", addr, election.ErrDuplicateVoter)
	}

	var added election.Voter

	_, err = s.submit(ctx, txn.Request{
		Label:   LabelVoter,
		Profile: s.profiles.Admin,
		Commit: func(txn.ID) error {
			v, err := s.store.RegisterVoter(id, addr)
			added = v
			return err
		},
	}, nil)

	switch {
	case xerrors.Is(err, ErrBusy):
		return election.Voter{}, xerrors.Errorf("failed to add voter: %w", err)
	case err != nil:
		s.notifier.Notify(notify.Error, "Failed to add voter")
		return election.Voter{}, xerrors.Errorf("failed to add voter: %w", err)
	}

	s.notifier.Notify(notify.Success, "Voter added successfully!")

	return added, nil
}

// Vote casts a vote with the connected account.
func (s *Service) Vote(ctx context.Context, id election.ID, candidate election.CandidateID,
	gate txn.Gate) (txn.ID, error) {

	voter, _ := s.Account()

	return s.CastVote(ctx, id, candidate, voter, gate)
}

// CastVote casts a vote for the candidate of an active election. The voter
// must not have voted yet. The gate is asked for a confirmation before the
// transaction is submitted, and the vote is applied only once the transaction
// is confirmed. It returns the identifier of the transaction.
func (s *Service) CastVote(ctx context.Context, id election.ID, candidate election.CandidateID,
	voter election.Address, gate txn.Gate) (txn.ID, error) {

	if voter == "" {
		s.notifier.Notify(notify.Error, "Please connect your wallet first!")
		return txn.ID{}, xerrors.Errorf("no voter: %w", election.ErrUnauthenticated)
	}

	e, err := s.lookup(id)
	if err != nil {
		return txn.ID{}, err
	}

	if e.Status != election.Active {
		s.notifier.Notify(notify.Error, "This election is not currently active!")
		return txn.ID{}, xerrors.Errorf("election %d is %v: %w", id, e.Status, election.ErrInvalidState)
	}

	if e.HasVoted(voter) {
		s.notifier.Notify(notify.Error, "You have already voted in this election!")
		return txn.ID{}, xerrors.Errorf("voter %s: %w", voter, election.ErrAlreadyVoted)
	}

	_, found := e.Candidate(candidate)
	if !found {
		s.notifier.Notify(notify.Error, "Candidate not found!")
		return txn.ID{}, xerrors.Errorf("candidate %d: %w", candidate, election.ErrNotFound)
	}

	req := txn.Request{
		Label:   LabelVote,
		Prompt:  fmt.Sprintf(votePrompt, voter),
		Gate:    gate,
		Profile: s.profiles.Vote,
		Commit: func(txn.ID) error {
			_, err := s.store.ApplyVote(id, candidate, voter)
			return err
		},
	}

	txID, err := s.submit(ctx, req, func(evt txn.Event) {
		switch evt.Phase {
		case txn.Submitting:
			s.notifier.Notify(notify.Info, "Initiating transaction...")
		case txn.Pending:
			s.notifier.Notify(notify.Info, "Transaction in progress...")
		}
	})

	switch {
	case xerrors.Is(err, ErrBusy):
		// Nothing was submitted so the last vote is kept.
		return txn.ID{}, xerrors.Errorf("vote: %w", err)
	case xerrors.Is(err, txn.ErrCancelled):
		s.notifier.Notify(notify.Error, "Transaction cancelled by user")
		return txn.ID{}, xerrors.Errorf("vote: %w", err)
	case err != nil:
		s.Lock()
		s.lastID = txn.ID{}
		s.Unlock()

		s.notifier.Notify(notify.Error, "Failed to cast vote")
		return txn.ID{}, xerrors.Errorf("vote: %w", err)
	}

	s.Lock()
	s.lastID = txID
	s.Unlock()

	s.logger.Info().
		Stringer("election", id).
		Uint64("candidate", uint64(candidate)).
		Str("voter", string(voter)).
		Stringer("id", txID).
		Msg("vote confirmed")

	s.notifier.Notify(notify.Success, "Transaction confirmed! Transaction hash: "+txID.Short())

	return txID, nil
}

// submit runs the transaction while the service is marked as busy. The
// display state is cleared whatever the outcome. ErrBusy is returned as is and
// is the only failure it notifies.
func (s *Service) submit(ctx context.Context, req txn.Request, observe func(txn.Event)) (txn.ID, error) {
	s.Lock()

	if s.busy {
		s.Unlock()
		s.notifier.Notify(notify.Error, "Another transaction is in progress")
		return txn.ID{}, ErrBusy
	}

	s.busy = true
	s.inflight = &Transaction{
		Label: req.Label,
		Phase: txn.Idle,
		Since: time.Now(),
	}

	s.Unlock()

	defer func() {
		s.Lock()
		s.busy = false
		s.inflight = nil
		s.Unlock()
	}()

	req.Observer = func(evt txn.Event) {
		s.Lock()
		if s.inflight != nil {
			s.inflight.Trace = evt.Trace
			s.inflight.Phase = evt.Phase
			s.inflight.ID = evt.ID
		}
		s.Unlock()

		if observe != nil {
			observe(evt)
		}
	}

	return s.engine.Submit(ctx, req)
}

func (s *Service) requireAccount() (election.Address, error) {
	addr, ok := s.Account()
	if !ok {
		s.notifier.Notify(notify.Error, "Please connect your wallet first!")
		return "", xerrors.Errorf("no account: %w", election.ErrUnauthenticated)
	}

	return addr, nil
}

// requireElection checks that an account is connected and that the election
// exists. The failures are notified.
func (s *Service) requireElection(id election.ID) error {
	_, err := s.requireAccount()
	if err != nil {
		return err
	}

	_, err = s.lookup(id)

	return err
}

func (s *Service) lookup(id election.ID) (election.Election, error) {
	e, err := s.store.Get(id)
	if err != nil {
		s.notifier.Notify(notify.Error, "Election not found!")
		return election.Election{}, err
	}

	return e, nil
}

func (s *Service) accountChanged(addr string) {
	if addr == "" {
		s.Lock()
		s.admin = false
		s.Unlock()

		s.notifier.Notify(notify.Info, "Wallet disconnected")
		return
	}

	s.notifier.Notify(notify.Info, "Account changed to "+addr)
}
