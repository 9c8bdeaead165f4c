package mem

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/votex/election"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"
)

func TestStore_Create(t *testing.T) {
	store := NewStore()

	_, err := store.Create(election.Draft{Title: "a"}, "")
	require.True(t, xerrors.Is(err, election.ErrUnauthenticated))
	require.Len(t, store.All(), 0)

	e, err := store.Create(election.Draft{
		Title:      "Student Council Election",
		Candidates: []election.CandidateDraft{{Name: "A"}, {Name: "B", Party: "P"}},
	}, "0xAA")
	require.NoError(t, err)
	require.Equal(t, election.ID(1), e.ID)
	require.Equal(t, election.Pending, e.Status)
	require.Equal(t, election.Address("0xAA"), e.CreatedBy)
	require.Len(t, e.Voters, 0)
	require.Equal(t, election.CandidateID(1), e.Candidates[0].ID)
	require.Equal(t, election.CandidateID(2), e.Candidates[1].ID)
	require.Equal(t, "P", e.Candidates[1].Party)

	e, err = store.Create(election.Draft{Title: "b"}, "0xAA")
	require.NoError(t, err)
	require.Equal(t, election.ID(2), e.ID)

	all := store.All()
	require.Len(t, all, 2)
	require.Equal(t, "Student Council Election", all[0].Title)
	require.Equal(t, "b", all[1].Title)
}

func TestStore_Get(t *testing.T) {
	store := NewStore()

	_, err := store.Get(1)
	require.EqualError(t, err, "election 1: not found")
	require.True(t, xerrors.Is(err, election.ErrNotFound))

	created := makeElection(t, store, election.Pending)

	e, err := store.Get(created.ID)
	require.NoError(t, err)
	require.Equal(t, created, e)

	// Mutating the returned value must not change the store.
	e.Candidates[0].Votes = 42

	e, err = store.Get(created.ID)
	require.NoError(t, err)
	require.Equal(t, uint64(0), e.Candidates[0].Votes)
}

func TestStore_AddCandidate(t *testing.T) {
	store := NewStore()

	_, err := store.AddCandidate(1, election.CandidateDraft{Name: "C"})
	require.True(t, xerrors.Is(err, election.ErrNotFound))

	e := makeElection(t, store, election.Pending)

	c, err := store.AddCandidate(e.ID, election.CandidateDraft{Name: "C", Party: "Unity Group"})
	require.NoError(t, err)
	require.Equal(t, election.CandidateID(3), c.ID)
	require.Equal(t, uint64(0), c.Votes)

	e, err = store.Get(e.ID)
	require.NoError(t, err)
	require.Len(t, e.Candidates, 3)
	require.Equal(t, "C", e.Candidates[2].Name)
}

func TestStore_AddCandidateWhenActive(t *testing.T) {
	store := NewStore()

	e := makeElection(t, store, election.Active)

	_, err := store.AddCandidate(e.ID, election.CandidateDraft{Name: "C"})
	require.EqualError(t, err, "election 1 is ACTIVE: invalid state")
	require.True(t, xerrors.Is(err, election.ErrInvalidState))

	after, err := store.Get(e.ID)
	require.NoError(t, err)
	require.Equal(t, e.Candidates, after.Candidates)
}

func TestStore_AddCandidateAfterGap(t *testing.T) {
	store := NewStore()

	e, err := store.Create(election.Draft{}, "0xAA")
	require.NoError(t, err)

	c, err := store.AddCandidate(e.ID, election.CandidateDraft{Name: "first"})
	require.NoError(t, err)
	require.Equal(t, election.CandidateID(1), c.ID)
}

func TestStore_RegisterVoter(t *testing.T) {
	store := NewStore()

	_, err := store.RegisterVoter(1, "0xAA")
	require.True(t, xerrors.Is(err, election.ErrNotFound))

	e := makeElection(t, store, election.Ended)

	v, err := store.RegisterVoter(e.ID, "0xAA")
	require.NoError(t, err)
	require.Equal(t, election.Voter{Address: "0xAA"}, v)

	_, err = store.RegisterVoter(e.ID, "0xAA")
	require.EqualError(t, err, "voter 0xAA: duplicate voter")
	require.True(t, xerrors.Is(err, election.ErrDuplicateVoter))

	e, err = store.Get(e.ID)
	require.NoError(t, err)
	require.Len(t, e.Voters, 1)
}

func TestStore_ForceStatus(t *testing.T) {
	store := NewStore()

	_, err := store.ForceStatus(1, election.Active)
	require.True(t, xerrors.Is(err, election.ErrNotFound))

	e := makeElection(t, store, election.Pending)

	// An election can be ended before it starts.
	e, err = store.ForceStatus(e.ID, election.Ended)
	require.NoError(t, err)
	require.Equal(t, election.Ended, e.Status)

	e, err = store.ForceStatus(e.ID, election.Ended)
	require.NoError(t, err)
	require.Equal(t, election.Ended, e.Status)

	_, err = store.ForceStatus(e.ID, election.Active)
	require.True(t, xerrors.Is(err, election.ErrInvalidState))
	require.EqualError(t, err, "cannot go from ENDED to ACTIVE: invalid state")

	e, err = store.Get(e.ID)
	require.NoError(t, err)
	require.Equal(t, election.Ended, e.Status)
}

func TestStore_ApplyVote(t *testing.T) {
	store := NewStore()

	_, err := store.ApplyVote(1, 1, "0xAA")
	require.True(t, xerrors.Is(err, election.ErrNotFound))

	e := makeElection(t, store, election.Active)
	before := e

	_, err = store.ApplyVote(e.ID, 42, "0xAA")
	require.EqualError(t, err, "candidate 42: not found")

	e, err = store.ApplyVote(e.ID, 1, "0xAA")
	require.NoError(t, err)
	require.Equal(t, uint64(1), e.Candidates[0].Votes)
	require.Equal(t, uint64(0), e.Candidates[1].Votes)
	require.Equal(t, []election.Voter{{Address: "0xAA", HasVoted: true}}, e.Voters)

	// The value returned before the vote is left untouched.
	require.Equal(t, uint64(0), before.Candidates[0].Votes)
	require.Len(t, before.Voters, 0)

	_, err = store.ApplyVote(e.ID, 2, "0xAA")
	require.True(t, xerrors.Is(err, election.ErrAlreadyVoted))

	// A registered voter keeps its position in the roll.
	_, err = store.RegisterVoter(e.ID, "0xBB")
	require.NoError(t, err)
	_, err = store.RegisterVoter(e.ID, "0xCC")
	require.NoError(t, err)

	e, err = store.ApplyVote(e.ID, 2, "0xBB")
	require.NoError(t, err)
	require.Equal(t, []election.Voter{
		{Address: "0xAA", HasVoted: true},
		{Address: "0xBB", HasVoted: true},
		{Address: "0xCC"},
	}, e.Voters)
	require.Equal(t, uint64(1), e.Candidates[1].Votes)
}

func TestStore_ConcurrentApplyVote(t *testing.T) {
	store := NewStore()

	e := makeElection(t, store, election.Active)

	const n = 20

	var eg errgroup.Group
	results := make([]error, n)

	for i := 0; i < n; i++ {
		i := i
		eg.Go(func() error {
			_, results[i] = store.ApplyVote(e.ID, election.CandidateID(i%2+1), "0xAA")
			return nil
		})
	}

	require.NoError(t, eg.Wait())

	success := 0
	for _, err := range results {
		if err == nil {
			success++
		} else {
			require.True(t, xerrors.Is(err, election.ErrAlreadyVoted))
		}
	}

	require.Equal(t, 1, success)

	e, err := store.Get(e.ID)
	require.NoError(t, err)
	require.Equal(t, uint64(1), e.TotalVotes())
	require.Equal(t, 1, e.Turnout())
}

func TestStore_ConcurrentVoters(t *testing.T) {
	store := NewStore()

	e := makeElection(t, store, election.Active)

	var eg errgroup.Group

	for i := 0; i < 50; i++ {
		addr := election.Address(fmt.Sprintf("0x%02x", i))
		eg.Go(func() error {
			_, err := store.ApplyVote(e.ID, 1, addr)
			return err
		})
	}

	require.NoError(t, eg.Wait())

	e, err := store.Get(e.ID)
	require.NoError(t, err)
	require.Equal(t, uint64(50), e.Candidates[0].Votes)
	require.Len(t, e.Voters, 50)
	require.Equal(t, 50, e.Turnout())
}

func TestStore_Advance(t *testing.T) {
	store := NewStore()

	pending := makeElection(t, store, election.Pending)
	active := makeElection(t, store, election.Active)

	transitions := store.Advance(func(e election.Election) (election.Status, bool) {
		if e.ID == pending.ID {
			return election.Active, true
		}

		// Same status is not a transition.
		return e.Status, true
	})

	require.Equal(t, []election.Transition{
		{Election: pending.ID, From: election.Pending, To: election.Active},
	}, transitions)

	e, err := store.Get(pending.ID)
	require.NoError(t, err)
	require.Equal(t, election.Active, e.Status)

	e, err = store.Get(active.ID)
	require.NoError(t, err)
	require.Equal(t, election.Active, e.Status)

	transitions = store.Advance(func(e election.Election) (election.Status, bool) {
		return election.Ended, false
	})
	require.Nil(t, transitions)
}

func TestStore_Watch(t *testing.T) {
	store := NewStore()

	ctx, cancel := context.WithCancel(context.Background())

	events := store.Watch(ctx)

	e := makeElection(t, store, election.Active)

	_, err := store.ApplyVote(e.ID, 1, "0xAA")
	require.NoError(t, err)

	evt := <-events
	require.Equal(t, election.Created, evt.Kind)

	evt = <-events
	require.Equal(t, election.StatusChanged, evt.Kind)

	evt = <-events
	require.Equal(t, election.VoteApplied, evt.Kind)
	require.Equal(t, uint64(1), evt.Election.Candidates[0].Votes)

	cancel()

	select {
	case _, ok := <-events:
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("watcher not closed")
	}
}

func TestStore_WatchLagging(t *testing.T) {
	store := NewStore()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := store.Watch(ctx)

	for i := 0; i < watchBuffer+5; i++ {
		_, err := store.Create(election.Draft{}, "0xAA")
		require.NoError(t, err)
	}

	require.Len(t, events, watchBuffer)
}

// -----------------------------------------------------------------------------
// Utility functions

func makeElection(t *testing.T, store *Store, status election.Status) election.Election {
	e, err := store.Create(election.Draft{
		Title:      "Election",
		StartTime:  time.Unix(0, 0),
		EndTime:    time.Unix(1000, 0),
		Candidates: []election.CandidateDraft{{Name: "A"}, {Name: "B"}},
	}, "0x1234")
	require.NoError(t, err)

	if status != election.Pending {
		e, err = store.ForceStatus(e.ID, status)
		require.NoError(t, err)
	}

	return e
}

func TestStore_Import(t *testing.T) {
	store := NewStore()

	_, err := store.Import(election.Election{})
	require.True(t, xerrors.Is(err, election.ErrUnauthenticated))

	makeElection(t, store, election.Pending)

	e, err := store.Import(election.Election{
		ID:     42,
		Title:  "Departmental Head Election",
		Status: election.Ended,
		Candidates: []election.Candidate{
			{Name: "A", Votes: 24},
			{ID: 5, Name: "B", Votes: 18},
			{Name: "C", Votes: 32},
		},
		CreatedBy: "0xAA",
	})
	require.NoError(t, err)
	require.Equal(t, election.ID(2), e.ID)
	require.Equal(t, election.Ended, e.Status)
	require.Equal(t, []election.CandidateID{1, 5, 6},
		[]election.CandidateID{e.Candidates[0].ID, e.Candidates[1].ID, e.Candidates[2].ID})
	require.Equal(t, uint64(74), e.TotalVotes())
	require.NotNil(t, e.Voters)

	_, err = store.Import(election.Election{
		Candidates: []election.Candidate{{ID: 1}, {ID: 1}},
		CreatedBy:  "0xAA",
	})
	require.EqualError(t, err, "candidate 1 is duplicated")
	require.Len(t, store.All(), 2)
}
