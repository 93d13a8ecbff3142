package bundler

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"errors"
	"io"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/sha3"
)

const FlashbotsSignatureHeader = "X-Flashbots-Signature"

var (
	ErrEmptyBundle    = errors.New("bundle has no entries")
	ErrMissingSigner  = errors.New("bundle entry has no signer")
	ErrMissingAuthKey = errors.New("relay auth key is not set")
)

// NonceSource returns the next nonce of an account
type NonceSource interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

func addressOf(key *ecdsa.PrivateKey) common.Address {
	return crypto.PubkeyToAddress(key.PublicKey)
}

// SignBundle assigns nonces and signs every entry.
// The nonce of each signer is fetched once and incremented for its following entries.
func SignBundle(ctx context.Context, bundle *Bundle, nonces NonceSource, chainID *big.Int) (*SignedBundle, error) {
	if bundle == nil || len(bundle.Entries) == 0 {
		return nil, ErrEmptyBundle
	}
	signer := types.LatestSignerForChainID(chainID)
	next := make(map[common.Address]uint64)

	res := &SignedBundle{
		Txs:      make([]*types.Transaction, 0, len(bundle.Entries)),
		Senders:  make([]common.Address, 0, len(bundle.Entries)),
		RawTxs:   make([]hexutil.Bytes, 0, len(bundle.Entries)),
		Deadline: bundle.Deadline,
	}
	for _, entry := range bundle.Entries {
		if entry.Signer == nil {
			return nil, ErrMissingSigner
		}
		from := addressOf(entry.Signer)
		nonce, ok := next[from]
		if !ok {
			var err error
			nonce, err = nonces.PendingNonceAt(ctx, from)
			if err != nil {
				return nil, errors.Join(err, ErrTransport)
			}
		}
		next[from] = nonce + 1

		txData := entry.Tx
		txData.Nonce = nonce
		if txData.ChainID == nil {
			txData.ChainID = chainID
		}
		tx, err := types.SignNewTx(entry.Signer, signer, &txData)
		if err != nil {
			return nil, err
		}
		raw, err := tx.MarshalBinary()
		if err != nil {
			return nil, err
		}
		res.Txs = append(res.Txs, tx)
		res.Senders = append(res.Senders, from)
		res.RawTxs = append(res.RawTxs, raw)
	}
	res.Hash = bundleHash(res.Txs)
	return res, nil
}

// bundleHash is keccak256 over the concatenated transaction hashes
func bundleHash(txs []*types.Transaction) common.Hash {
	hasher := sha3.NewLegacyKeccak256()
	for _, tx := range txs {
		hasher.Write(tx.Hash().Bytes())
	}
	return common.BytesToHash(hasher.Sum(nil))
}

// SignPayload returns the flashbots style "address:signature" header value for body
func SignPayload(key *ecdsa.PrivateKey, body []byte) (string, error) {
	hashedBody := crypto.Keccak256Hash(body).Hex()
	sig, err := crypto.Sign(accounts.TextHash([]byte(hashedBody)), key)
	if err != nil {
		return "", err
	}
	return addressOf(key).Hex() + ":" + hexutil.Encode(sig), nil
}

// signingTransport adds the relay signature header to every outgoing request
type signingTransport struct {
	key  *ecdsa.PrivateKey
	base http.RoundTripper
}

func (t *signingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.key == nil {
		return nil, ErrMissingAuthKey
	}
	var body []byte
	if req.Body != nil {
		var err error
		body, err = io.ReadAll(req.Body)
		_ = req.Body.Close()
		if err != nil {
			return nil, err
		}
	}
	signature, err := SignPayload(t.key, body)
	if err != nil {
		return nil, err
	}

	signed := req.Clone(req.Context())
	signed.Body = io.NopCloser(bytes.NewReader(body))
	signed.ContentLength = int64(len(body))
	signed.Header.Set(FlashbotsSignatureHeader, signature)

	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(signed)
}
