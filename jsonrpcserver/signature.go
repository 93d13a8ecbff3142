package jsonrpcserver

import (
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

var ErrInvalidSignature = errors.New("invalid signature header")

// verifySignature checks an "address:signature" header where the signature is an
// EIP-191 personal signature of keccak256(body) in hex
func verifySignature(header string, body []byte) (common.Address, error) {
	addrStr, sigStr, ok := strings.Cut(header, ":")
	if !ok || !common.IsHexAddress(addrStr) {
		return common.Address{}, ErrInvalidSignature
	}
	sig, err := hexutil.Decode(sigStr)
	if err != nil || len(sig) != crypto.SignatureLength {
		return common.Address{}, ErrInvalidSignature
	}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	hashedBody := crypto.Keccak256Hash(body).Hex()
	pub, err := crypto.SigToPub(accounts.TextHash([]byte(hashedBody)), sig)
	if err != nil {
		return common.Address{}, ErrInvalidSignature
	}
	recovered := crypto.PubkeyToAddress(*pub)
	if recovered != common.HexToAddress(addrStr) {
		return common.Address{}, ErrInvalidSignature
	}
	return recovered, nil
}
