package session

import (
	"math/big"
	"time"

	"moff.io/dapp-wallet/internal/chains"
)

type BalanceReading struct {
	Wei     *big.Int
	Display string
	AsOf    time.Time
}

type TransactionReceipt struct {
	Hash string
}

type SignatureRecord struct {
	// Message is the exact text handed to personal_sign.
	Message   string `json:"message"`
	Signature string `json:"signature"`
	Nonce     int64  `json:"nonce"`
	Verified  bool   `json:"verified"`
}

// state is mutated only by Controller methods, under Controller.mu.
type state struct {
	provider Provider
	reader   chains.BalanceReader
	address  string

	balance   *BalanceReading
	receipt   *TransactionReceipt
	signature *SignatureRecord

	// done is the provider's SessionWatcher channel, nil when it has none.
	done <-chan struct{}
	// stop ends the watcher of this session.
	stop chan struct{}
}

func (s *state) connected() bool {
	return s.provider != nil && s.address != "" && !s.ended()
}

func (s *state) ended() bool {
	if s.done == nil {
		return false
	}
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Snapshot is the read-only projection handed to the presentation layer.
type Snapshot struct {
	Connected bool       `json:"connected"`
	Address   string     `json:"address,omitempty"`
	Balance   string     `json:"balance,omitempty"`
	BalanceAt *time.Time `json:"balance_at,omitempty"`
	Symbol    string     `json:"symbol,omitempty"`
	TxHash    string     `json:"tx_hash,omitempty"`
	Signature string     `json:"signature,omitempty"`
	Message   string     `json:"message,omitempty"`
	Verified  bool       `json:"verified"`
	Busy      bool       `json:"busy"`
}

type txParams struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Value string `json:"value"`
}
