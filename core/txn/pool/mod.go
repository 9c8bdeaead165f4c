// Package pool defines the interface for a pool of transactions in flight. It
// holds the transactions of the clients from the moment they get an
// identifier until they reach a terminal phase, so that a display can list
// them.
package pool

import (
	"context"
	"time"

	"go.dedis.ch/votex/core/txn"
)

// Event is an event triggered when the pool changes.
type Event struct {
	// Len is the current length of the pool.
	Len int
}

// Entry is a transaction in flight.
type Entry struct {
	ID    txn.ID    `json:"id"`
	Trace string    `json:"trace"`
	Label string    `json:"label"`
	Since time.Time `json:"since"`
}

// Pool is the maintainer of the list of transactions in flight.
type Pool interface {
	// Len returns the length of the pool.
	Len() int

	// GetAll returns the list of transactions in flight, oldest first.
	GetAll() []Entry

	// Add adds the transaction to the pool. It fails if the identifier has
	// already been seen.
	Add(Entry) error

	// Remove removes the transaction from the pool.
	Remove(txn.ID) error

	// Watch returns a channel of events that will be populated when the length
	// of the pool evolves.
	Watch(context.Context) <-chan Event
}
