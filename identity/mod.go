// Package identity defines the provider of the account of the user. A provider
// is typically a browser wallet: it may be absent, the user may refuse to
// connect and the account may change at any time.
package identity

import (
	"context"

	"golang.org/x/xerrors"
)

var (
	// ErrProviderUnavailable is returned when no provider is installed.
	ErrProviderUnavailable = xerrors.New("provider unavailable")

	// ErrUserRejected is returned when the user refuses the connection.
	ErrUserRejected = xerrors.New("user rejected")
)

// Subscription is returned by a provider to stop receiving account changes.
type Subscription interface {
	Unsubscribe()
}

// Provider is the interface of an identity provider.
type Provider interface {
	// CurrentAddress returns the connected account, if any, without prompting
	// the user.
	CurrentAddress() (string, bool)

	// RequestAddress prompts the user to connect an account and returns its
	// address.
	RequestAddress(ctx context.Context) (string, error)

	// Subscribe registers a callback called every time the connected account
	// changes. An empty address means the user disconnected.
	Subscribe(fn func(address string)) Subscription
}
