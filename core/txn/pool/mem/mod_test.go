package mem

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/votex/core/txn"
	"go.dedis.ch/votex/core/txn/pool"
)

func TestPool_Add(t *testing.T) {
	p := NewPool()

	err := p.Add(pool.Entry{ID: txn.ID{1}})
	require.NoError(t, err)

	err = p.Add(pool.Entry{ID: txn.ID{2}})
	require.NoError(t, err)
	require.Equal(t, 2, p.Len())

	err = p.Add(pool.Entry{ID: txn.ID{1}})
	require.EqualError(t, err, "tx "+txn.ID{1}.String()+" already in flight")

	require.NoError(t, p.Remove(txn.ID{1}))

	// An identifier cannot be reused once removed.
	err = p.Add(pool.Entry{ID: txn.ID{1}})
	require.EqualError(t, err, "tx "+txn.ID{1}.String()+" already exists")
}

func TestPool_Remove(t *testing.T) {
	p := NewPool()

	err := p.Remove(txn.ID{1})
	require.EqualError(t, err, "transaction "+txn.ID{1}.String()+" not found")

	require.NoError(t, p.Add(pool.Entry{ID: txn.ID{1}}))
	require.NoError(t, p.Remove(txn.ID{1}))
	require.Equal(t, 0, p.Len())
}

func TestPool_GetAll(t *testing.T) {
	p := NewPool()

	now := time.Now()

	require.NoError(t, p.Add(pool.Entry{ID: txn.ID{2}, Since: now.Add(time.Second)}))
	require.NoError(t, p.Add(pool.Entry{ID: txn.ID{1}, Since: now}))

	entries := p.GetAll()
	require.Len(t, entries, 2)
	require.Equal(t, txn.ID{1}, entries[0].ID)
	require.Equal(t, txn.ID{2}, entries[1].ID)
}

func TestPool_Watch(t *testing.T) {
	p := NewPool()

	ctx, cancel := context.WithCancel(context.Background())

	events := p.Watch(ctx)

	require.NoError(t, p.Add(pool.Entry{ID: txn.ID{1}}))
	require.NoError(t, p.Add(pool.Entry{ID: txn.ID{2}}))

	// Only the latest length is kept.
	evt := <-events
	require.Equal(t, 2, evt.Len)

	require.NoError(t, p.Remove(txn.ID{1}))

	evt = <-events
	require.Equal(t, 1, evt.Len)

	cancel()

	_, more := <-events
	for more {
		_, more = <-events
	}
}
