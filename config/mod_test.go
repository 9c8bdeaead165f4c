package config

import (
	"io/ioutil"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/votex/core/txn"
	"go.dedis.ch/votex/election"
)

func TestDefault(t *testing.T) {
	session := Default()
	require.NoError(t, session.Validate())
	require.Equal(t, 10*time.Second, session.Interval)
	require.Equal(t, txn.VoteProfile, session.Profiles.Vote)

	now := time.Now()

	elections, err := session.Seed(now)
	require.NoError(t, err)
	require.Len(t, elections, 2)

	require.Equal(t, election.Active, elections[0].Status)
	require.Equal(t, now.Add(-24*time.Hour), elections[0].StartTime)
	require.Len(t, elections[0].Candidates, 5)
	require.Equal(t, election.CandidateID(5), elections[0].Candidates[4].ID)

	require.Equal(t, election.Ended, elections[1].Status)
	require.Equal(t, uint64(74), elections[1].TotalVotes())
	require.Equal(t, election.Address(DefaultCreator), elections[1].CreatedBy)
}

func TestParse(t *testing.T) {
	session, err := Parse([]byte(`
interval: 500ms
accounts:
  - "0x00000000000000000000000000000000000000aa"
profiles:
  vote:
    submit: 20ms
    confirm: 30ms
elections:
  - title: Board Election
    start: 1h
    end: 2h
    createdBy: "0xAA"
    candidates:
      - name: A
      - name: B
        party: P
`))
	require.NoError(t, err)
	require.Equal(t, 500*time.Millisecond, session.Interval)
	require.Equal(t, txn.Profile{Submit: 20 * time.Millisecond, Confirm: 30 * time.Millisecond},
		session.Profiles.Vote)
	require.Equal(t, []string{"0x00000000000000000000000000000000000000aa"}, session.Accounts)
	require.Len(t, session.Elections, 1)

	now := time.Now()

	elections, err := session.Seed(now)
	require.NoError(t, err)
	require.Equal(t, election.Pending, elections[0].Status)
	require.Equal(t, now.Add(time.Hour), elections[0].StartTime)
	require.Equal(t, "P", elections[0].Candidates[1].Party)
}

func TestParse_Failures(t *testing.T) {
	_, err := Parse([]byte("interval: [1]"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to decode: ")

	_, err = Parse([]byte("unknown: 1"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to decode: ")

	_, err = Parse([]byte("interval: 0s"))
	require.EqualError(t, err, "invalid session: interval must be positive: 0s")

	_, err = Parse([]byte(`
elections:
  - title: a
    status: OPEN
    createdBy: "0xAA"
`))
	require.EqualError(t, err, "invalid session: election #0: unknown status 'OPEN'")

	_, err = Parse([]byte(`
elections:
  - title: a
`))
	require.EqualError(t, err, "invalid session: election #0: missing creator")
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.yaml")

	err := ioutil.WriteFile(path, []byte("interval: 1m\n"), 0600)
	require.NoError(t, err)

	session, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, time.Minute, session.Interval)
	require.Len(t, session.Elections, 2)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to read file: ")
}
