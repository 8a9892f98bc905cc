// Package ethsig recovers signers of personal_sign (EIP-191) messages.
package ethsig

import (
	"crypto/ecdsa"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"moff.io/dapp-wallet/pkg/errors"
)

var (
	ErrInvalidSignature = errors.New("invalid signature")
)

// RecoverAddress returns the address whose key produced signatureHex over the
// "\x19Ethereum Signed Message:\n" prefixed message. V may be 0/1 or 27/28.
func RecoverAddress(message []byte, signatureHex string) (common.Address, error) {
	sig, err := hexutil.Decode(signatureHex)
	if err != nil {
		return common.Address{}, errors.Wrap(ErrInvalidSignature, err.Error())
	}
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, errors.Wrapf(ErrInvalidSignature, "length %d", len(sig))
	}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27 // Transform yellow paper V from 27/28 to 0/1
	}
	recovered, err := crypto.SigToPub(accounts.TextHash(message), sig)
	if err != nil {
		return common.Address{}, errors.Wrap(ErrInvalidSignature, err.Error())
	}
	return crypto.PubkeyToAddress(*recovered), nil
}

// Verify reports whether signatureHex over message was produced by address.
func Verify(address string, message []byte, signatureHex string) bool {
	recovered, err := RecoverAddress(message, signatureHex)
	if err != nil {
		return false
	}
	return SameAddress(recovered.Hex(), address)
}

// SameAddress compares two hex addresses regardless of checksum casing.
func SameAddress(a, b string) bool {
	if !common.IsHexAddress(a) || !common.IsHexAddress(b) {
		return false
	}
	return common.HexToAddress(a) == common.HexToAddress(b)
}

// SignText signs message the way a wallet answers personal_sign, V in 27/28.
func SignText(key *ecdsa.PrivateKey, message []byte) (string, error) {
	sig, err := crypto.Sign(accounts.TextHash(message), key)
	if err != nil {
		return "", errors.Wrap(err, "sign text")
	}
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig), nil
}
