package walletconnect

import (
	"context"
	"time"

	"moff.io/dapp-wallet/internal/session"
)

// Config of the WalletConnect v1 connector.
// 交互流程见文档：https://docs.walletconnect.com/tech-spec#establishing-connection
type Config struct {
	// BridgeURL of the relay, empty picks a random public bridge.
	BridgeURL string
	// DeepLinkPrefix is prepended to the pairing URI before it is opened,
	// e.g. "metamask://wc?uri=". Empty opens the bare wc: URI.
	DeepLinkPrefix string
	// ReadTimeout bounds every wait on the wallet, including the user approving the session.
	ReadTimeout time.Duration
	// ChainID requested in the session proposal, 0 lets the wallet choose.
	ChainID int
	Meta    ClientMeta
}

const defaultReadTimeout = 5 * time.Minute

type connector struct {
	conf Config
}

// NewConnector returns a session.Connector speaking WalletConnect v1 over a bridge.
func NewConnector(conf Config) session.Connector {
	if conf.ReadTimeout <= 0 {
		conf.ReadTimeout = defaultReadTimeout
	}
	return &connector{conf: conf}
}

// Connect opens a fresh bridge session: each call pairs with a new handshake topic and key.
func (c *connector) Connect(ctx context.Context, openLink session.OpenLinkFn) (session.Provider, error) {
	cli, err := newClient(c.conf)
	if err != nil {
		return nil, err
	}
	if err := cli.connect(ctx, openLink); err != nil {
		cli.shutdown()
		return nil, err
	}
	return cli, nil
}
