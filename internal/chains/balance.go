package chains

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/tidwall/gjson"
	"moff.io/dapp-wallet/pkg/errors"
	"moff.io/dapp-wallet/pkg/log"
)

// BalanceReader queries the native balance of an account in the smallest unit.
type BalanceReader interface {
	BalanceAt(ctx context.Context, account common.Address) (*big.Int, error)
}

// Requester is the JSON-RPC surface of a wallet provider. The result is the raw JSON
// of the response "result" member.
type Requester interface {
	Request(ctx context.Context, method string, params ...interface{}) (string, error)
}

// NewBalanceReader binds a reader to rpcURL when set, otherwise reads through the wallet
// provider itself.
func NewBalanceReader(ctx context.Context, rpcURL string, provider Requester) (BalanceReader, error) {
	if rpcURL != "" {
		return DialBalanceReader(ctx, rpcURL)
	}
	if provider == nil {
		return nil, errors.New("no rpc url and no provider to read balances from")
	}
	return NewProviderBalanceReader(provider), nil
}

type nodeReader struct {
	client *ethclient.Client
}

// DialBalanceReader connects to an Ethereum JSON-RPC node.
func DialBalanceReader(ctx context.Context, rpcURL string) (BalanceReader, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, errors.WrapAndReport(err, "dial rpc node")
	}
	log.Debugf("chains - balance reader bound to %v", rpcURL)
	return &nodeReader{client: client}, nil
}

func (r *nodeReader) BalanceAt(ctx context.Context, account common.Address) (*big.Int, error) {
	balance, err := r.client.BalanceAt(ctx, account, nil)
	if err != nil {
		return nil, errors.Wrap(err, "query balance from node")
	}
	return balance, nil
}

func (r *nodeReader) Close() error {
	r.client.Close()
	return nil
}

type providerReader struct {
	provider Requester
}

// NewProviderBalanceReader reads balances with eth_getBalance on the wallet provider.
func NewProviderBalanceReader(provider Requester) BalanceReader {
	return &providerReader{provider: provider}
}

func (r *providerReader) BalanceAt(ctx context.Context, account common.Address) (*big.Int, error) {
	result, err := r.provider.Request(ctx, "eth_getBalance", account.Hex(), "latest")
	if err != nil {
		return nil, errors.Wrap(err, "query balance from provider")
	}
	quantity := gjson.Parse(result).String()
	balance, err := hexutil.DecodeBig(quantity)
	if err != nil {
		return nil, errors.Wrapf(err, "decode balance %q", quantity)
	}
	return balance, nil
}
