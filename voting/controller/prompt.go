package controller

import (
	"context"
	"sync"

	"go.dedis.ch/votex/core/txn"
	"golang.org/x/xerrors"
)

// prompter is a gate that waits for the decision of another command. At most
// one prompt is pending at a time.
//
// - implements txn.Gate
type prompter struct {
	sync.Mutex

	pending *prompt
}

type prompt struct {
	text   string
	answer chan bool
}

func newPrompter() *prompter {
	return &prompter{}
}

// Confirm implements txn.Gate. It blocks until the prompt is answered or the
// context is done. An answer that is delivered before the prompt is withdrawn
// is always returned, otherwise the confirmation is cancelled.
func (p *prompter) Confirm(ctx context.Context, text string) (bool, error) {
	p.Lock()

	if p.pending != nil {
		p.Unlock()
		return false, xerrors.New("another confirmation is pending")
	}

	pr := &prompt{
		text:   text,
		answer: make(chan bool, 1),
	}

	p.pending = pr
	p.Unlock()

	select {
	case ok := <-pr.answer:
		return ok, nil
	case <-ctx.Done():
	}

	p.Lock()
	defer p.Unlock()

	if p.pending == pr {
		p.pending = nil
		return false, xerrors.Errorf("confirmation expired: %v: %w", ctx.Err(), txn.ErrCancelled)
	}

	return <-pr.answer, nil
}

// Pending returns the text of the pending prompt if any.
func (p *prompter) Pending() (string, bool) {
	p.Lock()
	defer p.Unlock()

	if p.pending == nil {
		return "", false
	}

	return p.pending.text, true
}

// Answer delivers the decision to the pending prompt. It fails when the prompt
// has been withdrawn.
func (p *prompter) Answer(ok bool) error {
	p.Lock()
	defer p.Unlock()

	if p.pending == nil {
		return xerrors.New("nothing to confirm")
	}

	p.pending.answer <- ok
	p.pending = nil

	return nil
}
