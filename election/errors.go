package election

import "golang.org/x/xerrors"

var (
	// ErrUnauthenticated is returned when an operation requires an identity
	// and none is provided.
	ErrUnauthenticated = xerrors.New("unauthenticated")

	// ErrNotFound is returned when an election or a candidate does not exist.
	ErrNotFound = xerrors.New("not found")

	// ErrInvalidState is returned when the status of the election forbids the
	// operation.
	ErrInvalidState = xerrors.New("invalid state")

	// ErrDuplicateVoter is returned when the address is already on the roll.
	ErrDuplicateVoter = xerrors.New("duplicate voter")

	// ErrAlreadyVoted is returned when the address has already voted.
	ErrAlreadyVoted = xerrors.New("already voted")
)
