package fake

import (
	"bytes"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// LogWaiter records the events of a logger and detects a message.
//
// - implements io.Writer
type LogWaiter struct {
	sync.Mutex

	pattern []byte
	buffer  bytes.Buffer
	found   chan struct{}
	once    sync.Once
}

// WaitLog returns a logger that writes to a waiter of the message.
func WaitLog(msg string) (zerolog.Logger, *LogWaiter) {
	w := &LogWaiter{
		pattern: []byte(fmt.Sprintf(`"message":%q`, msg)),
		found:   make(chan struct{}),
	}

	return zerolog.New(w), w
}

// Write implements io.Writer. A logger writes one event per call.
func (w *LogWaiter) Write(data []byte) (int, error) {
	w.Lock()
	w.buffer.Write(data)
	w.Unlock()

	if bytes.Contains(data, w.pattern) {
		w.once.Do(func() { close(w.found) })
	}

	return len(data), nil
}

// Wait fails the test if the message is not logged before the timeout.
func (w *LogWaiter) Wait(t *testing.T, timeout time.Duration) {
	select {
	case <-w.found:
	case <-time.After(timeout):
		w.Lock()
		defer w.Unlock()

		t.Fatalf("log %s not found in %s", w.pattern, w.buffer.String())
	}
}
