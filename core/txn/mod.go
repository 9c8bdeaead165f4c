// Package txn defines the abstraction of a simulated ledger transaction.
//
// A transaction is a two-phase asynchronous write. It is first submitted,
// which requires the user to pass a confirmation gate, then it becomes pending
// with a synthetic identifier, and finally it is confirmed when its effect is
// committed. The gate is the only point where a transaction can be cancelled:
// the latencies that follow are not interruptible.
//
//	IDLE -> SUBMITTING -> CANCELLED
//	SUBMITTING -> PENDING -> CONFIRMED
//	any non-terminal phase -> FAILED
package txn

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/xerrors"
)

// Phase is the stage of a transaction.
type Phase int

const (
	// Idle is the phase of a transaction that has not started.
	Idle Phase = iota
	// Submitting is the phase while the confirmation gate is open and during
	// the first latency.
	Submitting
	// Pending is the phase of a transaction with an identifier that waits for
	// its confirmation.
	Pending
	// Confirmed is the terminal phase of a committed transaction.
	Confirmed
	// Cancelled is the terminal phase of a transaction declined at the gate.
	Cancelled
	// Failed is the terminal phase of a transaction that hit an error.
	Failed
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "IDLE"
	case Submitting:
		return "SUBMITTING"
	case Pending:
		return "PENDING"
	case Confirmed:
		return "CONFIRMED"
	case Cancelled:
		return "CANCELLED"
	case Failed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Terminal returns true if no transition can follow the phase.
func (p Phase) Terminal() bool {
	return p == Confirmed || p == Cancelled || p == Failed
}

// IDLength is the length in bytes of a transaction identifier.
const IDLength = common.HashLength

// ID is the synthetic identifier of a transaction.
type ID [IDLength]byte

// String implements fmt.Stringer. It returns the 0x-prefixed hexadecimal
// representation.
func (id ID) String() string {
	return common.Hash(id).Hex()
}

// Short returns the first bytes of the identifier, as displayed in the
// confirmation messages.
func (id ID) Short() string {
	return id.String()[:10] + "..."
}

// IsZero returns true if the identifier is not set.
func (id ID) IsZero() bool {
	return id == ID{}
}

// MarshalText implements encoding.TextMarshaler.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// Gate is the confirmation step of a transaction, like a wallet prompt. It
// returns false if the user declines. An implementation must return when the
// context is done, and can report its own cancellation with ErrCancelled.
type Gate interface {
	Confirm(ctx context.Context, prompt string) (bool, error)
}

// GateFunc is an adapter to use a function as a gate.
//
// - implements txn.Gate
type GateFunc func(ctx context.Context, prompt string) (bool, error)

// Confirm implements txn.Gate.
func (fn GateFunc) Confirm(ctx context.Context, prompt string) (bool, error) {
	return fn(ctx, prompt)
}

// AutoConfirm is a gate that always accepts.
var AutoConfirm Gate = GateFunc(func(context.Context, string) (bool, error) {
	return true, nil
})

// Decline is a gate that always refuses.
var Decline Gate = GateFunc(func(context.Context, string) (bool, error) {
	return false, nil
})

// Profile defines the latencies of a transaction. Submit is waited after the
// confirmation and before the identifier is known, Confirm is waited while the
// transaction is pending.
type Profile struct {
	Submit  time.Duration `yaml:"submit"`
	Confirm time.Duration `yaml:"confirm"`
}

var (
	// VoteProfile is the profile of a vote.
	VoteProfile = Profile{Submit: 2 * time.Second, Confirm: 3 * time.Second}

	// CreateProfile is the profile of the creation of an election.
	CreateProfile = Profile{Submit: 1500 * time.Millisecond}

	// AdminProfile is the profile of the other administrative operations.
	AdminProfile = Profile{Submit: time.Second}
)

// Event is emitted each time a transaction changes its phase.
type Event struct {
	// Trace is the correlation identifier of the transaction in the logs.
	Trace string
	Label string
	Phase Phase
	// ID is set from the pending phase.
	ID  ID
	Err error
}

// Request describes a transaction to submit.
type Request struct {
	// Label names the operation in the logs and metrics.
	Label string

	// Prompt is presented by the gate.
	Prompt string

	// Gate is the confirmation step. A nil gate confirms automatically.
	Gate Gate

	Profile Profile

	// Commit applies the effect of the transaction. It is called once, after
	// both latencies. An error fails the transaction and the commit must leave
	// no partial effect.
	Commit func(ID) error

	// Observer is notified synchronously of every phase change.
	Observer func(Event)
}

// Engine executes transactions.
type Engine interface {
	// Submit runs the transaction until it reaches a terminal phase and
	// returns its identifier when it is confirmed. The context is only used
	// while the gate is open.
	Submit(ctx context.Context, req Request) (ID, error)
}

var (
	// ErrCancelled is returned when the transaction is declined or the gate is
	// interrupted.
	ErrCancelled = xerrors.New("transaction cancelled")

	// ErrFailed is returned when the transaction fails after it started.
	ErrFailed = xerrors.New("transaction failed")
)

// FailedError is the error of a failed transaction. It matches ErrFailed and
// unwraps to the cause.
type FailedError struct {
	Phase Phase
	Cause error
}

// Error implements error.
func (e FailedError) Error() string {
	return fmt.Sprintf("transaction failed while %v: %v", e.Phase, e.Cause)
}

// Is returns true for ErrFailed.
func (e FailedError) Is(target error) bool {
	return target == ErrFailed
}

// Unwrap returns the cause.
func (e FailedError) Unwrap() error {
	return e.Cause
}
