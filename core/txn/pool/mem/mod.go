// Package mem implements an in-memory pool of transactions in flight.
package mem

import (
	"context"
	"sort"
	"sync"

	"go.dedis.ch/votex/core/txn"
	"go.dedis.ch/votex/core/txn/pool"
	"golang.org/x/xerrors"
)

// Pool is a in-memory transaction pool.
//
// - implements pool.Pool
type Pool struct {
	sync.Mutex
	history  map[txn.ID]struct{}
	txs      map[txn.ID]pool.Entry
	watchers map[chan pool.Event]struct{}
}

// NewPool creates a new empty pool.
func NewPool() *Pool {
	return &Pool{
		history:  make(map[txn.ID]struct{}),
		txs:      make(map[txn.ID]pool.Entry),
		watchers: make(map[chan pool.Event]struct{}),
	}
}

// Len implements pool.Pool. It returns the number of transactions in flight.
func (p *Pool) Len() int {
	p.Lock()
	defer p.Unlock()

	return len(p.txs)
}

// GetAll implements pool.Pool. It returns the transactions sorted by insertion
// time.
func (p *Pool) GetAll() []pool.Entry {
	p.Lock()

	entries := make([]pool.Entry, 0, len(p.txs))
	for _, e := range p.txs {
		entries = append(entries, e)
	}

	p.Unlock()

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Since.Before(entries[j].Since)
	})

	return entries
}

// Add implements pool.Pool. An identifier already known, either in flight or
// in the history, is refused.
func (p *Pool) Add(e pool.Entry) error {
	p.Lock()
	defer p.Unlock()

	_, found := p.history[e.ID]
	if found {
		return xerrors.Errorf("tx %v already exists", e.ID)
	}

	_, found = p.txs[e.ID]
	if found {
		return xerrors.Errorf("tx %v already in flight", e.ID)
	}

	p.txs[e.ID] = e

	p.notify()

	return nil
}

// Remove implements pool.Pool. It removes the transaction from the pool if it
// exists, otherwise it returns an error.
func (p *Pool) Remove(id txn.ID) error {
	p.Lock()
	defer p.Unlock()

	_, found := p.txs[id]
	if !found {
		return xerrors.Errorf("transaction %v not found", id)
	}

	delete(p.txs, id)

	// Keep an history of transactions so that an identifier cannot be reused
	// during the session.
	p.history[id] = struct{}{}

	p.notify()

	return nil
}

// Watch implements pool.Pool. It returns a channel populated with the new
// length of the pool until the context is done.
func (p *Pool) Watch(ctx context.Context) <-chan pool.Event {
	ch := make(chan pool.Event, 1)

	p.Lock()
	p.watchers[ch] = struct{}{}
	p.Unlock()

	go func() {
		<-ctx.Done()

		p.Lock()
		delete(p.watchers, ch)
		close(ch)
		p.Unlock()
	}()

	return ch
}

// notify must be called with the lock. Only the latest length matters so a
// stale event is replaced.
func (p *Pool) notify() {
	evt := pool.Event{Len: len(p.txs)}

	for ch := range p.watchers {
		select {
		case <-ch:
		default:
		}

		ch <- evt
	}
}
