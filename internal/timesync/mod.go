// Package timesync provides a time source aligned on a NTP server. The
// lifecycle of the elections depends on the wall clock, so a session can
// correct a local clock that drifts.
package timesync

import (
	"sync"
	"time"

	"github.com/beevik/ntp"
	"github.com/rs/zerolog"
	"go.dedis.ch/votex"
	"golang.org/x/xerrors"
)

const (
	// DefaultInterval is the period between two queries.
	DefaultInterval = time.Minute

	// allowedOffset is the drift under which the offset is not updated.
	allowedOffset = 500 * time.Millisecond
)

// QueryFunc is the signature of the function that queries a server.
type QueryFunc func(server string) (*ntp.Response, error)

// Option is the type of option to set some fields of the syncer.
type Option func(*Syncer)

// WithQuery is an option to replace the NTP client.
func WithQuery(fn QueryFunc) Option {
	return func(s *Syncer) {
		s.query = fn
	}
}

// WithInterval is an option to set the period between two queries.
func WithInterval(interval time.Duration) Option {
	return func(s *Syncer) {
		s.interval = interval
	}
}

// Syncer periodically measures the offset of the local clock against a
// server.
type Syncer struct {
	sync.RWMutex

	logger   zerolog.Logger
	server   string
	interval time.Duration
	query    QueryFunc
	offset   time.Duration
	synced   bool

	stopOnce sync.Once
	closing  chan struct{}
	done     chan struct{}
}

// NewSyncer creates a new syncer for the server.
func NewSyncer(server string, opts ...Option) *Syncer {
	s := &Syncer{
		logger:   votex.Logger.With().Str("component", "timesync").Str("server", server).Logger(),
		server:   server,
		interval: DefaultInterval,
		query:    ntp.Query,
		closing:  make(chan struct{}),
		done:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Check queries the server once and updates the offset.
func (s *Syncer) Check() error {
	resp, err := s.query(s.server)
	if err != nil {
		return xerrors.Errorf("failed to query '%s': %v", s.server, err)
	}

	err = resp.Validate()
	if err != nil {
		return xerrors.Errorf("invalid response: %v", err)
	}

	s.Lock()
	defer s.Unlock()

	diff := s.offset - resp.ClockOffset
	if s.synced && diff < allowedOffset && diff > -allowedOffset {
		return nil
	}

	s.offset = resp.ClockOffset
	s.synced = true

	s.logger.Debug().Dur("offset", s.offset).Msg("clock offset updated")

	return nil
}

// Start checks the server and then keeps the offset up to date in the
// background until the syncer is stopped.
func (s *Syncer) Start() error {
	err := s.Check()
	if err != nil {
		return xerrors.Errorf("first check failed: %v", err)
	}

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.closing:
				return
			case <-ticker.C:
				err := s.Check()
				if err != nil {
					s.logger.Warn().Err(err).Msg("time check failed")
				}
			}
		}
	}()

	return nil
}

// Stop stops the background checks. It must only be called after a
// successful start.
func (s *Syncer) Stop() {
	s.stopOnce.Do(func() {
		close(s.closing)
		<-s.done
	})
}

// Offset returns the latest offset of the local clock.
func (s *Syncer) Offset() time.Duration {
	s.RLock()
	defer s.RUnlock()

	return s.offset
}

// Now returns the local time corrected by the offset.
func (s *Syncer) Now() time.Time {
	return time.Now().Add(s.Offset())
}
