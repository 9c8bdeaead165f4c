// Package election defines the data model of the simulator and the interface
// of the store that holds it.
//
// An election goes through PENDING, ACTIVE and ENDED. Candidates can only be
// added while the election is pending and a voter can vote at most once per
// election. The values are treated as immutable once published by a store:
// every mutation produces a new value.
package election

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/xerrors"
)

// ID is the identifier of an election.
type ID uint64

// String implements fmt.Stringer.
func (id ID) String() string {
	return fmt.Sprintf("%d", uint64(id))
}

// CandidateID is the identifier of a candidate, unique within its election.
type CandidateID uint64

// Address identifies an account as returned by the identity provider. It is an
// opaque string for the election logic.
type Address string

// Status is the stage of an election.
type Status uint16

const (
	// Pending is the status of an election waiting for its start time.
	Pending Status = iota
	// Active is the status of an election accepting votes.
	Active
	// Ended is the final status of an election.
	Ended
)

// String implements fmt.Stringer.
func (s Status) String() string {
	switch s {
	case Pending:
		return "PENDING"
	case Active:
		return "ACTIVE"
	case Ended:
		return "ENDED"
	default:
		return "UNKNOWN"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(text []byte) error {
	status, err := ParseStatus(string(text))
	if err != nil {
		return err
	}

	*s = status

	return nil
}

// ParseStatus returns the status matching the string.
func ParseStatus(str string) (Status, error) {
	switch str {
	case "PENDING", "pending":
		return Pending, nil
	case "ACTIVE", "active":
		return Active, nil
	case "ENDED", "ended":
		return Ended, nil
	default:
		return 0, xerrors.Errorf("unknown status '%s'", str)
	}
}

// Candidate is an option of an election.
type Candidate struct {
	ID    CandidateID `json:"id"`
	Name  string      `json:"name"`
	Party string      `json:"party,omitempty"`
	Votes uint64      `json:"votes"`
}

// CandidateDraft contains the fields of a candidate chosen by the caller.
type CandidateDraft struct {
	Name  string
	Party string
}

// Voter is an entry of the voter roll of an election.
type Voter struct {
	Address  Address `json:"address"`
	HasVoted bool    `json:"hasVoted"`
}

// Draft contains the fields of an election chosen by the caller. The store
// assigns the rest.
type Draft struct {
	Title       string
	Description string
	StartTime   time.Time
	EndTime     time.Time
	Candidates  []CandidateDraft
}

// Election is a timed voting event with candidates and a voter roll.
type Election struct {
	ID          ID          `json:"id"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	StartTime   time.Time   `json:"startTime"`
	EndTime     time.Time   `json:"endTime"`
	Status      Status      `json:"status"`
	Candidates  []Candidate `json:"candidates"`
	Voters      []Voter     `json:"voters"`
	CreatedBy   Address     `json:"createdBy"`
}

// Clone returns a deep copy of the election.
func (e Election) Clone() Election {
	clone := e
	clone.Candidates = append([]Candidate{}, e.Candidates...)
	clone.Voters = append([]Voter{}, e.Voters...)

	return clone
}

// Candidate returns the candidate with the given identifier if it exists.
func (e Election) Candidate(id CandidateID) (Candidate, bool) {
	for _, c := range e.Candidates {
		if c.ID == id {
			return c, true
		}
	}

	return Candidate{}, false
}

// Voter returns the voter record of the address if it exists.
func (e Election) Voter(addr Address) (Voter, bool) {
	for _, v := range e.Voters {
		if v.Address == addr {
			return v, true
		}
	}

	return Voter{}, false
}

// HasVoted returns true if the address has a voter record that has voted.
func (e Election) HasVoted(addr Address) bool {
	voter, found := e.Voter(addr)

	return found && voter.HasVoted
}

// NextCandidateID returns the identifier of the next candidate, which is one
// more than the largest identifier in use.
func (e Election) NextCandidateID() CandidateID {
	var max CandidateID

	for _, c := range e.Candidates {
		if c.ID > max {
			max = c.ID
		}
	}

	return max + 1
}

// TotalVotes returns the sum of the votes of the candidates.
func (e Election) TotalVotes() uint64 {
	var total uint64

	for _, c := range e.Candidates {
		total += c.Votes
	}

	return total
}

// Turnout returns the number of voters who have voted.
func (e Election) Turnout() int {
	count := 0

	for _, v := range e.Voters {
		if v.HasVoted {
			count++
		}
	}

	return count
}

// Results returns the candidates ordered by descending votes. Ties keep the
// insertion order.
func (e Election) Results() []Candidate {
	res := append([]Candidate{}, e.Candidates...)

	sort.SliceStable(res, func(i, j int) bool {
		return res[i].Votes > res[j].Votes
	})

	return res
}

// Transition describes a status change of an election.
type Transition struct {
	Election ID
	From     Status
	To       Status
}

// EventKind is the kind of change that happened in a store.
type EventKind int

const (
	// Created is emitted when an election is added.
	Created EventKind = iota
	// CandidateAdded is emitted when a candidate joins an election.
	CandidateAdded
	// VoterRegistered is emitted when a voter is added to the roll.
	VoterRegistered
	// StatusChanged is emitted when the status is changed by an override or
	// by the lifecycle.
	StatusChanged
	// VoteApplied is emitted when a vote is committed.
	VoteApplied
)

func (k EventKind) String() string {
	switch k {
	case Created:
		return "created"
	case CandidateAdded:
		return "candidate"
	case VoterRegistered:
		return "voter"
	case StatusChanged:
		return "status"
	case VoteApplied:
		return "vote"
	default:
		return "unknown"
	}
}

// Event is a notification of a change in a store. It carries the newly
// published value of the election.
type Event struct {
	Kind     EventKind
	Election Election
}

// Store is the authoritative collection of elections. Every mutation is
// copy-on-write at the election granularity so that readers always observe a
// complete value.
type Store interface {
	// Create adds a new pending election created by the given address.
	Create(draft Draft, creator Address) (Election, error)

	// Get returns the election with the identifier.
	Get(id ID) (Election, error)

	// All returns every election in creation order.
	All() []Election

	// AddCandidate appends a candidate to a pending election.
	AddCandidate(id ID, draft CandidateDraft) (Candidate, error)

	// RegisterVoter appends a voter that has not voted to the roll.
	RegisterVoter(id ID, addr Address) (Voter, error)

	// ForceStatus sets the status regardless of the times of the election. It
	// can skip a status but never goes back.
	ForceStatus(id ID, status Status) (Election, error)

	// ApplyVote increments the votes of the candidate and marks the voter as
	// having voted in a single update.
	ApplyVote(id ID, candidate CandidateID, voter Address) (Election, error)

	// Advance applies the function to every election and publishes the new
	// status of those for which it returns true.
	Advance(fn func(Election) (Status, bool)) []Transition

	// Watch returns a channel populated with the changes until the context is
	// done.
	Watch(ctx context.Context) <-chan Event
}
