// Package mem implements an in-memory election store.
//
// The store publishes immutable snapshots: a mutation copies the affected
// election, applies the change and swaps the snapshot under a writer lock.
// Readers load the current snapshot without locking and never observe a
// partially updated election.
package mem

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.dedis.ch/votex"
	"go.dedis.ch/votex/election"
	"golang.org/x/xerrors"
)

// watchBuffer is the capacity of a watcher channel. Events are dropped for a
// watcher that lags behind.
const watchBuffer = 32

var (
	promElections = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "votex_elections",
		Help: "number of elections per status",
	}, []string{"status"})

	promVotes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "votex_votes_applied_total",
		Help: "total number of votes committed to the store",
	})
)

func init() {
	votex.PromCollectors = append(votex.PromCollectors, promElections, promVotes)
}

// snapshot is an immutable view of the store.
type snapshot struct {
	order     []election.ID
	elections map[election.ID]election.Election
}

func (s *snapshot) with(e election.Election) *snapshot {
	next := &snapshot{
		order:     s.order,
		elections: make(map[election.ID]election.Election, len(s.elections)+1),
	}

	for id, value := range s.elections {
		next.elections[id] = value
	}

	_, found := s.elections[e.ID]
	if !found {
		next.order = append(append([]election.ID{}, s.order...), e.ID)
	}

	next.elections[e.ID] = e

	return next
}

// Store is an in-memory implementation of the election store.
//
// - implements election.Store
type Store struct {
	sync.Mutex

	current atomic.Value
	logger  zerolog.Logger

	watchLock sync.Mutex
	watchers  map[chan election.Event]struct{}
}

// NewStore creates a new empty store.
func NewStore() *Store {
	s := &Store{
		logger:   votex.Logger.With().Str("component", "store").Logger(),
		watchers: make(map[chan election.Event]struct{}),
	}

	s.current.Store(&snapshot{elections: map[election.ID]election.Election{}})

	return s
}

func (s *Store) load() *snapshot {
	return s.current.Load().(*snapshot)
}

// Create implements election.Store. It assigns the next identifier, which is
// the number of elections plus one, and the candidates of the draft get
// sequential identifiers.
func (s *Store) Create(draft election.Draft, creator election.Address) (election.Election, error) {
	if creator == "" {
		return election.Election{}, xerrors.Errorf("no creator: %w", election.ErrUnauthenticated)
	}

	s.Lock()
	defer s.Unlock()

	snap := s.load()

	e := election.Election{
		ID:          election.ID(len(snap.order) + 1),
		Title:       draft.Title,
		Description: draft.Description,
		StartTime:   draft.StartTime,
		EndTime:     draft.EndTime,
		Status:      election.Pending,
		Candidates:  make([]election.Candidate, 0, len(draft.Candidates)),
		Voters:      []election.Voter{},
		CreatedBy:   creator,
	}

	for _, c := range draft.Candidates {
		e.Candidates = append(e.Candidates, election.Candidate{
			ID:    e.NextCandidateID(),
			Name:  c.Name,
			Party: c.Party,
		})
	}

	s.publish(snap.with(e), election.Event{Kind: election.Created, Election: e})

	s.logger.Debug().Stringer("election", e.ID).Str("creator", string(creator)).
		Msg("election created")

	return e.Clone(), nil
}

// Import adds an election that already has a status, votes or voters, as
// found in the seed of a session. The identifier is assigned like for Create
// and the candidates keep their identifiers unless they are unset.
func (s *Store) Import(e election.Election) (election.Election, error) {
	if e.CreatedBy == "" {
		return election.Election{}, xerrors.Errorf("no creator: %w", election.ErrUnauthenticated)
	}

	s.Lock()
	defer s.Unlock()

	snap := s.load()

	next := e.Clone()
	next.ID = election.ID(len(snap.order) + 1)
	next.Candidates = make([]election.Candidate, 0, len(e.Candidates))

	if next.Voters == nil {
		next.Voters = []election.Voter{}
	}

	for _, c := range e.Candidates {
		if c.ID == 0 {
			c.ID = next.NextCandidateID()
		}

		_, found := next.Candidate(c.ID)
		if found {
			return election.Election{}, xerrors.Errorf("candidate %d is duplicated", c.ID)
		}

		next.Candidates = append(next.Candidates, c)
	}

	s.publish(snap.with(next), election.Event{Kind: election.Created, Election: next})

	return next.Clone(), nil
}

// Get implements election.Store. It returns a copy of the election.
func (s *Store) Get(id election.ID) (election.Election, error) {
	e, found := s.load().elections[id]
	if !found {
		return election.Election{}, xerrors.Errorf("election %d: %w", id, election.ErrNotFound)
	}

	return e.Clone(), nil
}

// All implements election.Store. It returns copies of the elections in the
// creation order.
func (s *Store) All() []election.Election {
	snap := s.load()

	res := make([]election.Election, 0, len(snap.order))
	for _, id := range snap.order {
		res = append(res, snap.elections[id].Clone())
	}

	return res
}

// AddCandidate implements election.Store. The candidate gets the largest
// identifier in use plus one.
func (s *Store) AddCandidate(id election.ID, draft election.CandidateDraft) (election.Candidate, error) {
	var candidate election.Candidate

	_, err := s.update(id, election.CandidateAdded, func(e *election.Election) error {
		if e.Status != election.Pending {
			return xerrors.Errorf("election %d is %v: %w", e.ID, e.Status, election.ErrInvalidState)
		}

		candidate = election.Candidate{
			ID:    e.NextCandidateID(),
			Name:  draft.Name,
			Party: draft.Party,
		}

		e.Candidates = append(e.Candidates, candidate)

		return nil
	})

	if err != nil {
		return election.Candidate{}, err
	}

	return candidate, nil
}

// RegisterVoter implements election.Store. The status of the election is not
// checked.
func (s *Store) RegisterVoter(id election.ID, addr election.Address) (election.Voter, error) {
	voter := election.Voter{Address: addr}

	_, err := s.update(id, election.VoterRegistered, func(e *election.Election) error {
		_, found := e.Voter(addr)
		if found {
			return xerrors.Errorf("voter %s: %w", addr, election.ErrDuplicateVoter)
		}

		e.Voters = append(e.Voters, voter)

		return nil
	})

	if err != nil {
		return election.Voter{}, err
	}

	return voter, nil
}

// ForceStatus implements election.Store. The times of the election are
// ignored and a status can be skipped, but an election never goes back to a
// previous status.
func (s *Store) ForceStatus(id election.ID, status election.Status) (election.Election, error) {
	return s.update(id, election.StatusChanged, func(e *election.Election) error {
		if status < e.Status {
			return xerrors.Errorf("cannot go from %v to %v: %w",
				e.Status, status, election.ErrInvalidState)
		}

		e.Status = status
		return nil
	})
}

// ApplyVote implements election.Store. The candidate must exist and the voter
// must not have voted yet: both are checked under the writer lock so that two
// commits for the same voter cannot both succeed. A voter without a record is
// added to the roll.
func (s *Store) ApplyVote(id election.ID, cid election.CandidateID,
	voter election.Address) (election.Election, error) {

	e, err := s.update(id, election.VoteApplied, func(e *election.Election) error {
		index := -1
		for i, c := range e.Candidates {
			if c.ID == cid {
				index = i
			}
		}

		if index < 0 {
			return xerrors.Errorf("candidate %d: %w", cid, election.ErrNotFound)
		}

		if e.HasVoted(voter) {
			return xerrors.Errorf("voter %s: %w", voter, election.ErrAlreadyVoted)
		}

		e.Candidates[index].Votes++

		for i, v := range e.Voters {
			if v.Address == voter {
				e.Voters[i].HasVoted = true
				return nil
			}
		}

		e.Voters = append(e.Voters, election.Voter{Address: voter, HasVoted: true})

		return nil
	})

	if err != nil {
		return e, err
	}

	promVotes.Inc()

	return e, nil
}

// Advance implements election.Store. The whole sweep is published as a
// single snapshot.
func (s *Store) Advance(fn func(election.Election) (election.Status, bool)) []election.Transition {
	s.Lock()
	defer s.Unlock()

	snap := s.load()
	next := snap

	var transitions []election.Transition
	var events []election.Event

	for _, id := range snap.order {
		e := snap.elections[id]

		status, changed := fn(e.Clone())
		if !changed || status == e.Status {
			continue
		}

		updated := e.Clone()
		updated.Status = status

		next = next.with(updated)

		transitions = append(transitions, election.Transition{
			Election: id,
			From:     e.Status,
			To:       status,
		})

		events = append(events, election.Event{Kind: election.StatusChanged, Election: updated})
	}

	if len(transitions) == 0 {
		return nil
	}

	s.publish(next, events...)

	return transitions
}

// Watch implements election.Store. The channel is closed when the context is
// done.
func (s *Store) Watch(ctx context.Context) <-chan election.Event {
	ch := make(chan election.Event, watchBuffer)

	s.watchLock.Lock()
	s.watchers[ch] = struct{}{}
	s.watchLock.Unlock()

	go func() {
		<-ctx.Done()

		s.watchLock.Lock()
		delete(s.watchers, ch)
		close(ch)
		s.watchLock.Unlock()
	}()

	return ch
}

// update copies the election, applies the function to the copy and publishes
// it if the function succeeds.
func (s *Store) update(id election.ID, kind election.EventKind,
	fn func(*election.Election) error) (election.Election, error) {

	s.Lock()
	defer s.Unlock()

	snap := s.load()

	current, found := snap.elections[id]
	if !found {
		return election.Election{}, xerrors.Errorf("election %d: %w", id, election.ErrNotFound)
	}

	next := current.Clone()

	err := fn(&next)
	if err != nil {
		return election.Election{}, err
	}

	s.publish(snap.with(next), election.Event{Kind: kind, Election: next})

	return next.Clone(), nil
}

// publish must be called with the writer lock.
func (s *Store) publish(snap *snapshot, events ...election.Event) {
	s.current.Store(snap)

	counts := map[election.Status]int{}
	for _, e := range snap.elections {
		counts[e.Status]++
	}

	for _, status := range []election.Status{election.Pending, election.Active, election.Ended} {
		promElections.WithLabelValues(status.String()).Set(float64(counts[status]))
	}

	s.watchLock.Lock()
	defer s.watchLock.Unlock()

	for _, evt := range events {
		for ch := range s.watchers {
			select {
			case ch <- election.Event{Kind: evt.Kind, Election: evt.Election.Clone()}:
			default:
				s.logger.Warn().Stringer("kind", evt.Kind).Msg("watcher is lagging, event dropped")
			}
		}
	}
}
