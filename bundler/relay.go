package bundler

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ybbus/jsonrpc/v3"
)

const (
	SendBundleMethod = "eth_sendBundle"
	CallBundleMethod = "eth_callBundle"
)

var (
	ErrWaitTimeout = errors.New("timed out waiting for target block")

	defaultRelayTimeout = 10 * time.Second
	defaultWaitTimeout  = 2 * time.Minute
	defaultPollInterval = time.Second
)

// Relay submits bundles for a single target block
type Relay interface {
	Submit(ctx context.Context, bundle *Bundle, targetBlock uint64) (ResolutionHandle, error)
}

// ResolutionHandle tracks one submitted bundle
type ResolutionHandle interface {
	BundleHash() common.Hash
	TargetBlock() uint64
	// Wait blocks until the target block is known and reports whether the bundle landed in it
	Wait(ctx context.Context) (Resolution, error)
	// Simulate asks the relay to simulate the bundle against the latest state
	Simulate(ctx context.Context) (*SimulationResult, error)
}

// ChainReader is the subset of ethclient.Client used to sign bundles and resolve submissions
type ChainReader interface {
	NonceSource
	BlockNumber(ctx context.Context) (uint64, error)
	BlockByNumber(ctx context.Context, number *big.Int) (*types.Block, error)
	NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error)
}

type FlashbotsRelayOpts struct {
	// AuthKey signs relay requests, it identifies the searcher and never holds funds
	AuthKey      *ecdsa.PrivateKey
	Timeout      time.Duration
	WaitTimeout  time.Duration
	PollInterval time.Duration
}

// FlashbotsRelay talks to a relay that implements eth_sendBundle and eth_callBundle
type FlashbotsRelay struct {
	url     string
	client  jsonrpc.RPCClient
	chain   ChainReader
	chainID *big.Int

	waitTimeout  time.Duration
	pollInterval time.Duration
}

func NewFlashbotsRelay(url string, chain ChainReader, chainID *big.Int, opts FlashbotsRelayOpts) *FlashbotsRelay {
	if opts.Timeout == 0 {
		opts.Timeout = defaultRelayTimeout
	}
	if opts.WaitTimeout == 0 {
		opts.WaitTimeout = defaultWaitTimeout
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.AuthKey == nil {
		// relay requests are signed with a throwaway identity, signingTransport fails requests if this errors
		if key, err := crypto.GenerateKey(); err == nil {
			opts.AuthKey = key
		}
	}
	httpClient := &http.Client{
		Timeout:   opts.Timeout,
		Transport: &signingTransport{key: opts.AuthKey},
	}
	return &FlashbotsRelay{
		url:          url,
		client:       jsonrpc.NewClientWithOpts(url, &jsonrpc.RPCClientOpts{HTTPClient: httpClient}),
		chain:        chain,
		chainID:      chainID,
		waitTimeout:  opts.WaitTimeout,
		pollInterval: opts.PollInterval,
	}
}

func (r *FlashbotsRelay) String() string {
	return r.url
}

func (r *FlashbotsRelay) Submit(ctx context.Context, bundle *Bundle, targetBlock uint64) (ResolutionHandle, error) {
	signed, err := SignBundle(ctx, bundle, r.chain, r.chainID)
	if err != nil {
		return nil, err
	}

	args := SendBundleArgs{
		Txs:         signed.RawTxs,
		BlockNumber: hexutil.Uint64(targetBlock),
	}
	res, err := r.client.Call(ctx, SendBundleMethod, []SendBundleArgs{args})
	if err != nil {
		return nil, errors.Join(err, ErrTransport)
	}
	if res.Error != nil {
		return nil, errors.Join(res.Error, ErrRelayRejected, ErrTransport)
	}

	hash := signed.Hash
	var resp SendBundleResponse
	if res.Result != nil {
		if err := res.GetObject(&resp); err == nil && resp.BundleHash != (common.Hash{}) {
			hash = resp.BundleHash
		}
	}

	return &bundleHandle{
		relay:       r,
		signed:      signed,
		hash:        hash,
		targetBlock: targetBlock,
	}, nil
}

type bundleHandle struct {
	relay       *FlashbotsRelay
	signed      *SignedBundle
	hash        common.Hash
	targetBlock uint64
}

func (h *bundleHandle) BundleHash() common.Hash {
	return h.hash
}

func (h *bundleHandle) TargetBlock() uint64 {
	return h.targetBlock
}

func (h *bundleHandle) Wait(ctx context.Context) (Resolution, error) {
	ctx, cancel := context.WithTimeout(ctx, h.relay.waitTimeout)
	defer cancel()

	ticker := time.NewTicker(h.relay.pollInterval)
	defer ticker.Stop()
	for {
		resolution, done, err := h.poll(ctx)
		if err != nil {
			return ResolutionTransportError, errors.Join(err, ErrTransport)
		}
		if done {
			return resolution, nil
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return ResolutionTransportError, errors.Join(ErrWaitTimeout, ErrTransport)
			}
			return ResolutionTransportError, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (h *bundleHandle) poll(ctx context.Context) (Resolution, bool, error) {
	head, err := h.relay.chain.BlockNumber(ctx)
	if err != nil {
		return ResolutionUnknown, false, err
	}
	if head >= h.targetBlock {
		return h.checkTargetBlock(ctx)
	}

	consumed, err := h.nonceConsumed(ctx, head)
	if err != nil || !consumed {
		return ResolutionUnknown, false, err
	}
	// the target block may have been mined after head was read, nonces consumed by the bundle itself mean inclusion
	head, err = h.relay.chain.BlockNumber(ctx)
	if err != nil {
		return ResolutionUnknown, false, err
	}
	if head >= h.targetBlock {
		return h.checkTargetBlock(ctx)
	}
	return ResolutionSimulationFailure, true, nil
}

// nonceConsumed reports whether a confirmed nonce at block passed the first bundle nonce of its sender
func (h *bundleHandle) nonceConsumed(ctx context.Context, block uint64) (bool, error) {
	firstNonce := make(map[common.Address]uint64)
	for i, tx := range h.signed.Txs {
		sender := h.signed.Senders[i]
		if _, ok := firstNonce[sender]; !ok {
			firstNonce[sender] = tx.Nonce()
		}
	}
	at := new(big.Int).SetUint64(block)
	for sender, nonce := range firstNonce {
		current, err := h.relay.chain.NonceAt(ctx, sender, at)
		if err != nil {
			return false, err
		}
		if current > nonce {
			return true, nil
		}
	}
	return false, nil
}

func (h *bundleHandle) checkTargetBlock(ctx context.Context) (Resolution, bool, error) {
	block, err := h.relay.chain.BlockByNumber(ctx, new(big.Int).SetUint64(h.targetBlock))
	if err != nil {
		return ResolutionUnknown, false, err
	}
	inBlock := make(map[common.Hash]struct{}, len(block.Transactions()))
	for _, tx := range block.Transactions() {
		inBlock[tx.Hash()] = struct{}{}
	}
	for _, tx := range h.signed.Txs {
		if _, ok := inBlock[tx.Hash()]; !ok {
			return ResolutionNotIncluded, true, nil
		}
	}
	return ResolutionIncluded, true, nil
}

func (h *bundleHandle) Simulate(ctx context.Context) (*SimulationResult, error) {
	args := CallBundleArgs{
		Txs:              h.signed.RawTxs,
		BlockNumber:      hexutil.Uint64(h.targetBlock),
		StateBlockNumber: "latest",
	}
	var result SimulationResult
	err := h.relay.client.CallFor(ctx, &result, CallBundleMethod, []CallBundleArgs{args})
	if err != nil {
		return nil, errors.Join(fmt.Errorf("simulate bundle %s: %w", h.hash.Hex(), err), ErrTransport)
	}
	return &result, nil
}
