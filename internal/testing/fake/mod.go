// Package fake provides fake implementations for interfaces commonly used in
// the repository.
// The implementations offer configuration to return errors when it is needed by
// the unit test and it is also possible to record the call of functions of an
// object in some cases.
package fake

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.dedis.ch/votex/notify"
	"golang.org/x/xerrors"
)

// Call is a tool to keep track of a function calls.
type Call struct {
	sync.Mutex
	calls [][]interface{}
}

// Get returns the nth call ith parameter.
func (c *Call) Get(n, i int) interface{} {
	c.Lock()
	defer c.Unlock()

	return c.calls[n][i]
}

// Len returns the number of calls.
func (c *Call) Len() int {
	c.Lock()
	defer c.Unlock()

	return len(c.calls)
}

// Add adds a call to the list.
func (c *Call) Add(args ...interface{}) {
	c.Lock()
	c.calls = append(c.calls, args)
	c.Unlock()
}

// Clear resets the list of calls.
func (c *Call) Clear() {
	c.Lock()
	c.calls = nil
	c.Unlock()
}

// Counter is a helper to delay errors or actions. It can be nil without panics.
type Counter struct {
	Value int
}

// NewCounter returns a new counter set to the given value.
func NewCounter(value int) *Counter {
	return &Counter{
		Value: value,
	}
}

// Done returns true when the counter reached zero.
func (c *Counter) Done() bool {
	return c == nil || c.Value <= 0
}

// Decrease decrements the counter.
func (c *Counter) Decrease() {
	if c == nil {
		return
	}
	c.Value--
}

// Gate is a fake confirmation gate. It answers with the configured decision,
// or it blocks until the context is done when Block is set.
type Gate struct {
	Decision bool
	Block    bool
	err      error
	calls    *Call
}

// NewGate returns a gate that always gives the same answer.
func NewGate(decision bool) Gate {
	return Gate{Decision: decision}
}

// NewBlockingGate returns a gate that never resolves on its own.
func NewBlockingGate() Gate {
	return Gate{Block: true}
}

// NewBadGate returns a gate that fails.
func NewBadGate() Gate {
	return Gate{err: fakeErr}
}

// NewRecordingGate returns a gate that records the prompts it receives.
func NewRecordingGate(decision bool, calls *Call) Gate {
	return Gate{Decision: decision, calls: calls}
}

// Confirm implements txn.Gate.
func (g Gate) Confirm(ctx context.Context, prompt string) (bool, error) {
	if g.calls != nil {
		g.calls.Add(prompt)
	}

	if g.err != nil {
		return false, g.err
	}

	if g.Block {
		<-ctx.Done()
		return false, ctx.Err()
	}

	return g.Decision, nil
}

// Scheduler is a fake periodic scheduler. The registered function is only run
// when Fire is called.
type Scheduler struct {
	sync.Mutex
	Interval time.Duration
	fn       func()
	stopped  bool
}

// Every implements lifecycle.Scheduler.
func (s *Scheduler) Every(interval time.Duration, fn func()) func() {
	s.Lock()
	s.Interval = interval
	s.fn = fn
	s.stopped = false
	s.Unlock()

	return func() {
		s.Lock()
		s.stopped = true
		s.Unlock()
	}
}

// Fire runs the registered function once, unless the schedule is stopped.
func (s *Scheduler) Fire() {
	s.Lock()
	fn := s.fn
	stopped := s.stopped
	s.Unlock()

	if fn != nil && !stopped {
		fn()
	}
}

// Stopped returns true if the stop function has been called.
func (s *Scheduler) Stopped() bool {
	s.Lock()
	defer s.Unlock()

	return s.stopped
}

// Clock is a manual clock.
type Clock struct {
	sync.Mutex
	now time.Time
}

// NewClock returns a clock set to the given time.
func NewClock(now time.Time) *Clock {
	return &Clock{now: now}
}

// Now returns the current time of the clock.
func (c *Clock) Now() time.Time {
	c.Lock()
	defer c.Unlock()

	return c.now
}

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) {
	c.Lock()
	c.now = c.now.Add(d)
	c.Unlock()
}

// Notifier is a fake notifier that records the messages.
type Notifier struct {
	sync.Mutex
	Messages []string
}

// Notify implements notify.Notifier.
func (n *Notifier) Notify(level notify.Level, msg string) {
	n.Lock()
	n.Messages = append(n.Messages, fmt.Sprintf("%s: %s", level, msg))
	n.Unlock()
}

// Last returns the last recorded message, or an empty string.
func (n *Notifier) Last() string {
	n.Lock()
	defer n.Unlock()

	if len(n.Messages) == 0 {
		return ""
	}

	return n.Messages[len(n.Messages)-1]
}

// All returns a copy of the recorded messages.
func (n *Notifier) All() []string {
	n.Lock()
	defer n.Unlock()

	return append([]string{}, n.Messages...)
}

// Err formats a generic error.
func Err(msg string) string {
	return fmt.Sprintf("%s: %v", msg, fakeErr)
}

// GetError returns the fake error.
func GetError() error {
	return fakeErr
}

var fakeErr = xerrors.New("fake error")
