package timesync

import (
	"sync"
	"testing"
	"time"

	"github.com/beevik/ntp"
	"github.com/stretchr/testify/require"
	"go.dedis.ch/votex/internal/testing/fake"
	"go.uber.org/goleak"
)

func TestSyncer_Check(t *testing.T) {
	server := &fakeServer{offset: time.Hour}

	s := NewSyncer("pool.ntp.org", WithQuery(server.query))

	require.NoError(t, s.Check())
	require.Equal(t, time.Hour, s.Offset())
	require.Equal(t, "pool.ntp.org", server.last)

	// A small drift is ignored.
	server.set(time.Hour + 100*time.Millisecond)
	require.NoError(t, s.Check())
	require.Equal(t, time.Hour, s.Offset())

	server.set(time.Hour + time.Second)
	require.NoError(t, s.Check())
	require.Equal(t, time.Hour+time.Second, s.Offset())

	require.WithinDuration(t, time.Now().Add(time.Hour+time.Second), s.Now(), time.Minute)
}

func TestSyncer_CheckFailures(t *testing.T) {
	s := NewSyncer("a", WithQuery(func(string) (*ntp.Response, error) {
		return nil, fake.GetError()
	}))

	err := s.Check()
	require.EqualError(t, err, fake.Err("failed to query 'a'"))

	s = NewSyncer("a", WithQuery(func(string) (*ntp.Response, error) {
		resp := makeResponse(0)
		resp.Stratum = 0
		return resp, nil
	}))

	err = s.Check()
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid response: ")
	require.Equal(t, time.Duration(0), s.Offset())
}

func TestSyncer_StartStop(t *testing.T) {
	defer goleak.VerifyNone(t)

	server := &fakeServer{offset: time.Second}

	s := NewSyncer("a", WithQuery(server.query), WithInterval(time.Millisecond))

	require.NoError(t, s.Start())
	require.Equal(t, time.Second, s.Offset())

	server.set(time.Minute)

	require.Eventually(t, func() bool {
		return s.Offset() == time.Minute
	}, time.Second, time.Millisecond)

	s.Stop()
	s.Stop()
}

func TestSyncer_StartFailure(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := NewSyncer("a", WithQuery(func(string) (*ntp.Response, error) {
		return nil, fake.GetError()
	}))

	err := s.Start()
	require.EqualError(t, err, fake.Err("first check failed: failed to query 'a'"))
}

// -----------------------------------------------------------------------------
// Utility functions

type fakeServer struct {
	sync.Mutex
	offset time.Duration
	last   string
}

func (s *fakeServer) set(offset time.Duration) {
	s.Lock()
	s.offset = offset
	s.Unlock()
}

func (s *fakeServer) query(server string) (*ntp.Response, error) {
	s.Lock()
	defer s.Unlock()

	s.last = server

	return makeResponse(s.offset), nil
}

func makeResponse(offset time.Duration) *ntp.Response {
	now := time.Now()

	return &ntp.Response{
		Time:          now,
		ReferenceTime: now,
		ClockOffset:   offset,
		Stratum:       1,
	}
}
