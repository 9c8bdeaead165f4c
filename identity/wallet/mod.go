// Package wallet implements a simulated identity provider. Accounts are
// secp256k1 keys with Ethereum addresses, held in memory for the session.
package wallet

import (
	"context"
	"crypto/ecdsa"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
	"go.dedis.ch/votex"
	"go.dedis.ch/votex/identity"
	"golang.org/x/xerrors"
)

// Approval is the prompt of a connection request. It returns false if the
// user refuses.
type Approval func(ctx context.Context) (bool, error)

// Wallet is a simulated wallet.
//
// - implements identity.Provider
type Wallet struct {
	sync.Mutex

	logger     zerolog.Logger
	installed  bool
	approval   Approval
	keys       map[string]*ecdsa.PrivateKey
	accounts   []string
	current    string
	connected  bool
	rejectNext bool
	subs       map[int]func(string)
	nextSub    int
}

// Option is the type of option to set some fields of the wallet.
type Option func(*Wallet)

// WithAccounts is an option to import watch-only accounts. Invalid addresses
// are ignored.
func WithAccounts(addresses ...string) Option {
	return func(w *Wallet) {
		for _, addr := range addresses {
			if common.IsHexAddress(addr) {
				w.importAccount(common.HexToAddress(addr).Hex())
			}
		}
	}
}

// WithApproval is an option to set the prompt of the connection requests. By
// default, every request is approved.
func WithApproval(fn Approval) Option {
	return func(w *Wallet) {
		w.approval = fn
	}
}

// NotInstalled is an option to simulate a missing wallet.
func NotInstalled() Option {
	return func(w *Wallet) {
		w.installed = false
	}
}

// NewWallet creates a new wallet.
func NewWallet(opts ...Option) *Wallet {
	w := &Wallet{
		logger:    votex.Logger.With().Str("component", "wallet").Logger(),
		installed: true,
		keys:      make(map[string]*ecdsa.PrivateKey),
		subs:      make(map[int]func(string)),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// Installed returns true if the wallet is available.
func (w *Wallet) Installed() bool {
	return w.installed
}

// Accounts returns the addresses known by the wallet.
func (w *Wallet) Accounts() []string {
	w.Lock()
	defer w.Unlock()

	return append([]string{}, w.accounts...)
}

// NewAccount generates a new key and returns its address. The current
// account is unchanged.
func (w *Wallet) NewAccount() (string, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return "", xerrors.Errorf("failed to generate key: %v", err)
	}

	addr := crypto.PubkeyToAddress(key.PublicKey).Hex()

	w.Lock()
	w.importAccount(addr)
	w.keys[addr] = key
	w.Unlock()

	w.logger.Debug().Str("address", addr).Msg("new account")

	return addr, nil
}

// PublicKey returns the public key of an account generated by the wallet.
func (w *Wallet) PublicKey(address string) (*ecdsa.PublicKey, bool) {
	w.Lock()
	defer w.Unlock()

	key, found := w.keys[address]
	if !found {
		return nil, false
	}

	return &key.PublicKey, true
}

// RejectNext makes the next connection request fail as if the user refused.
func (w *Wallet) RejectNext() {
	w.Lock()
	w.rejectNext = true
	w.Unlock()
}

// CurrentAddress implements identity.Provider. It returns the connected
// account.
func (w *Wallet) CurrentAddress() (string, bool) {
	w.Lock()
	defer w.Unlock()

	return w.current, w.connected
}

// RequestAddress implements identity.Provider. It prompts for the approval of
// the user and connects the first account, that is generated if the wallet is
// empty.
func (w *Wallet) RequestAddress(ctx context.Context) (string, error) {
	if !w.installed {
		return "", identity.ErrProviderUnavailable
	}

	w.Lock()
	reject := w.rejectNext
	w.rejectNext = false
	w.Unlock()

	if reject {
		return "", xerrors.Errorf("request refused: %w", identity.ErrUserRejected)
	}

	if w.approval != nil {
		ok, err := w.approval(ctx)
		if err != nil {
			return "", xerrors.Errorf("approval: %v", err)
		}
		if !ok {
			return "", xerrors.Errorf("request refused: %w", identity.ErrUserRejected)
		}
	}

	if len(w.Accounts()) == 0 {
		_, err := w.NewAccount()
		if err != nil {
			return "", err
		}
	}

	w.Lock()

	if w.connected {
		addr := w.current
		w.Unlock()

		return addr, nil
	}

	w.current = w.accounts[0]
	w.connected = true
	addr := w.current

	w.Unlock()

	w.logger.Info().Str("address", addr).Msg("connected")
	w.publish(addr)

	return addr, nil
}

// Switch changes the connected account. The address is imported if it is
// unknown.
func (w *Wallet) Switch(address string) (string, error) {
	if !common.IsHexAddress(address) {
		return "", xerrors.Errorf("invalid address '%s'", address)
	}

	addr := common.HexToAddress(address).Hex()

	w.Lock()

	if !w.connected {
		w.Unlock()
		return "", xerrors.New("wallet not connected")
	}

	w.importAccount(addr)

	changed := w.current != addr
	w.current = addr

	w.Unlock()

	if changed {
		w.logger.Info().Str("address", addr).Msg("account changed")
		w.publish(addr)
	}

	return addr, nil
}

// Disconnect disconnects the wallet. It does nothing if it is not connected.
func (w *Wallet) Disconnect() {
	w.Lock()

	if !w.connected {
		w.Unlock()
		return
	}

	w.connected = false
	w.current = ""

	w.Unlock()

	w.logger.Info().Msg("disconnected")
	w.publish("")
}

// Subscribe implements identity.Provider.
func (w *Wallet) Subscribe(fn func(string)) identity.Subscription {
	w.Lock()
	defer w.Unlock()

	id := w.nextSub
	w.nextSub++

	w.subs[id] = fn

	return &subscription{wallet: w, id: id}
}

// importAccount must be called with the lock.
func (w *Wallet) importAccount(addr string) {
	for _, known := range w.accounts {
		if known == addr {
			return
		}
	}

	w.accounts = append(w.accounts, addr)
}

func (w *Wallet) publish(addr string) {
	w.Lock()

	fns := make([]func(string), 0, len(w.subs))
	for _, fn := range w.subs {
		fns = append(fns, fn)
	}

	w.Unlock()

	for _, fn := range fns {
		fn(addr)
	}
}

type subscription struct {
	once   sync.Once
	wallet *Wallet
	id     int
}

// Unsubscribe implements identity.Subscription.
func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		s.wallet.Lock()
		delete(s.wallet.subs, s.id)
		s.wallet.Unlock()
	})
}
