package session

import (
	"context"

	"moff.io/dapp-wallet/internal/chains"
	"moff.io/dapp-wallet/pkg/errors"
)

// Provider is an open connection to a wallet. Request returns the raw JSON of the
// JSON-RPC "result" member.
type Provider interface {
	Request(ctx context.Context, method string, params ...interface{}) (string, error)
	Close() error
}

// SessionWatcher is implemented by providers whose session can end on the wallet side.
// Done is closed once the provider can no longer serve requests.
type SessionWatcher interface {
	Done() <-chan struct{}
}

// OpenLinkFn hands a deep link to whatever can open it on this host.
type OpenLinkFn func(link string) error

// Connector opens provider connections. The connector may call openLink with a deep link
// that completes the pairing in the wallet app.
type Connector interface {
	Connect(ctx context.Context, openLink OpenLinkFn) (Provider, error)
}

// BalanceBackend binds a balance reader to a freshly connected provider.
type BalanceBackend func(ctx context.Context, provider Provider) (chains.BalanceReader, error)

var (
	ErrNotConnected     = errors.New("connect wallet first")
	ErrAlreadyConnected = errors.New("wallet already connected")
	ErrRequestInFlight  = errors.New("request already in flight")
	ErrNoSignature      = errors.New("no signature to verify")
	ErrNoAccounts       = errors.New("wallet returned no accounts")
	// ErrSessionChanged is returned when the session was replaced or disconnected while a
	// request was pending; the late result is discarded.
	ErrSessionChanged = errors.New("session changed while request was pending")
	// ErrProviderClosed is returned by providers whose session already ended.
	ErrProviderClosed = errors.New("wallet session closed")
)

// User facing messages.
const (
	msgAlreadyConnected = "Wallet already connected"
	msgConnectFirst     = "Connect wallet to get balance"
	msgConnectFirstSend = "Connect wallet first"
	msgAccountVerified  = "Account Verified"
	msgSessionEnded     = "Wallet session ended"
)

// JSON-RPC methods sent to the wallet.
const (
	MethodRequestAccounts = "eth_requestAccounts"
	MethodSendTransaction = "eth_sendTransaction"
	MethodPersonalSign    = "personal_sign"
)
