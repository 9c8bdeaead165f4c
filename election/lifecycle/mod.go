// Package lifecycle advances the status of the elections according to the
// wall-clock time.
//
// The sweep is idempotent and does not know about transactions in flight. It
// competes with explicit status overrides and the last writer wins.
package lifecycle

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.dedis.ch/votex"
	"go.dedis.ch/votex/election"
	"golang.org/x/xerrors"
)

// DefaultInterval is the period of the sweep.
const DefaultInterval = 10 * time.Second

// Next returns the status an election should have at the given time, and true
// if it differs from the current one. A pending election becomes active at its
// start time and an active election ends at its end time. A single call moves
// at most one step.
func Next(e election.Election, now time.Time) (election.Status, bool) {
	switch e.Status {
	case election.Pending:
		if !now.Before(e.StartTime) {
			return election.Active, true
		}
	case election.Active:
		if !now.Before(e.EndTime) {
			return election.Ended, true
		}
	}

	return e.Status, false
}

// Scheduler runs a function periodically until the returned function is
// called.
type Scheduler interface {
	Every(interval time.Duration, fn func()) (stop func())
}

// TickerScheduler is a scheduler based on a time ticker.
//
// - implements lifecycle.Scheduler
type TickerScheduler struct{}

// Every implements lifecycle.Scheduler. The stop function waits for the
// routine to return.
func (TickerScheduler) Every(interval time.Duration, fn func()) func() {
	ticker := time.NewTicker(interval)
	quit := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)

		for {
			select {
			case <-quit:
				return
			case <-ticker.C:
				fn()
			}
		}
	}()

	var once sync.Once

	return func() {
		once.Do(func() {
			ticker.Stop()
			close(quit)
			<-done
		})
	}
}

// Option is the type of option to set some fields of a clock.
type Option func(*Clock)

// WithNow sets the time source.
func WithNow(now func() time.Time) Option {
	return func(c *Clock) {
		c.now = now
	}
}

// WithScheduler sets the scheduler that triggers the sweeps.
func WithScheduler(s Scheduler) Option {
	return func(c *Clock) {
		c.scheduler = s
	}
}

// WithInterval sets the period of the sweep.
func WithInterval(interval time.Duration) Option {
	return func(c *Clock) {
		c.interval = interval
	}
}

// Clock periodically sweeps a store to advance the status of its elections.
type Clock struct {
	sync.Mutex

	store     election.Store
	now       func() time.Time
	scheduler Scheduler
	interval  time.Duration
	logger    zerolog.Logger
	stop      func()
}

// NewClock creates a new clock for the store. It must be started to run
// periodically.
func NewClock(store election.Store, opts ...Option) *Clock {
	c := &Clock{
		store:     store,
		now:       time.Now,
		scheduler: TickerScheduler{},
		interval:  DefaultInterval,
		logger:    votex.Logger.With().Str("component", "lifecycle").Logger(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Now returns the time the clock sweeps with.
func (c *Clock) Now() time.Time {
	return c.now()
}

// Tick runs one sweep and returns the transitions that happened.
func (c *Clock) Tick() []election.Transition {
	now := c.now()

	transitions := c.store.Advance(func(e election.Election) (election.Status, bool) {
		return Next(e, now)
	})

	for _, t := range transitions {
		c.logger.Info().
			Stringer("election", t.Election).
			Stringer("from", t.From).
			Stringer("to", t.To).
			Msg("election status advanced")
	}

	return transitions
}

// Start schedules the sweep. It returns an error if the clock is already
// running.
func (c *Clock) Start() error {
	c.Lock()
	defer c.Unlock()

	if c.stop != nil {
		return xerrors.New("clock already started")
	}

	if c.interval <= 0 {
		return xerrors.Errorf("invalid interval: %v", c.interval)
	}

	c.stop = c.scheduler.Every(c.interval, func() {
		c.Tick()
	})

	c.logger.Debug().Dur("interval", c.interval).Msg("clock started")

	return nil
}

// Stop cancels the schedule. It does nothing if the clock is not running.
func (c *Clock) Stop() {
	c.Lock()
	defer c.Unlock()

	if c.stop == nil {
		return
	}

	c.stop()
	c.stop = nil

	c.logger.Debug().Msg("clock stopped")
}
