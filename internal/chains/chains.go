package chains

import "moff.io/dapp-wallet/pkg/errors"

// Blockchain describes an EVM network and its native currency.
type Blockchain struct {
	ID       int
	IDHex    string
	Name     string
	Symbol   string
	Decimals int
}

// DefaultDecimals is the exponent between wei and the display unit on every network below.
const DefaultDecimals = 18

var (
	Array = []*Blockchain{
		{ID: 1, IDHex: "0x1", Name: "eth", Symbol: "ETH", Decimals: DefaultDecimals},
		{ID: 5, IDHex: "0x5", Name: "goerli", Symbol: "ETH", Decimals: DefaultDecimals},
		{ID: 11155111, IDHex: "0xaa36a7", Name: "sepolia", Symbol: "ETH", Decimals: DefaultDecimals},
		{ID: 137, IDHex: "0x89", Name: "polygon", Symbol: "MATIC", Decimals: DefaultDecimals},
		{ID: 80001, IDHex: "0x13881", Name: "mumbai", Symbol: "MATIC", Decimals: DefaultDecimals},
		{ID: 56, IDHex: "0x38", Name: "bsc", Symbol: "BNB", Decimals: DefaultDecimals},
		{ID: 97, IDHex: "0x61", Name: "bsc testnet", Symbol: "tBNB", Decimals: DefaultDecimals},
		{ID: 43114, IDHex: "0xa86a", Name: "avalanche", Symbol: "AVAX", Decimals: DefaultDecimals},
		{ID: 43113, IDHex: "0xa869", Name: "avalanche testnet", Symbol: "AVAX", Decimals: DefaultDecimals},
		{ID: 250, IDHex: "0xfa", Name: "fantom", Symbol: "FTM", Decimals: DefaultDecimals},
		{ID: 25, IDHex: "0x19", Name: "cronos", Symbol: "CRO", Decimals: DefaultDecimals},
	}

	Mapping = make(map[int]*Blockchain, len(Array))
)

func init() {
	for _, c := range Array {
		Mapping[c.ID] = c
	}
}

// Lookup returns the network registered under chainID.
func Lookup(chainID int) (*Blockchain, error) {
	c, ok := Mapping[chainID]
	if !ok {
		return nil, errors.Errorf("unsupported chain id %d", chainID)
	}
	return c, nil
}
