package bundler

import (
	"context"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

type chainMock struct {
	mu        sync.Mutex
	head      uint64
	pending   map[common.Address]uint64
	confirmed map[common.Address]uint64
	blockTxs  map[uint64][]*types.Transaction

	// afterHead runs once, right after the next head read
	afterHead func(c *chainMock)
}

func newChainMock(head uint64) *chainMock {
	return &chainMock{
		head:      head,
		pending:   make(map[common.Address]uint64),
		confirmed: make(map[common.Address]uint64),
		blockTxs:  make(map[uint64][]*types.Transaction),
	}
}

func (c *chainMock) setHead(head uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.head = head
}

func (c *chainMock) PendingNonceAt(_ context.Context, account common.Address) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending[account], nil
}

func (c *chainMock) NonceAt(_ context.Context, account common.Address, _ *big.Int) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.confirmed[account], nil
}

func (c *chainMock) BlockNumber(_ context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	head := c.head
	if hook := c.afterHead; hook != nil {
		c.afterHead = nil
		hook(c)
	}
	return head, nil
}

func (c *chainMock) BlockByNumber(_ context.Context, number *big.Int) (*types.Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	header := &types.Header{Number: new(big.Int).Set(number)}
	return types.NewBlockWithHeader(header).WithBody(c.blockTxs[number.Uint64()], nil), nil
}

type relayRequest struct {
	Method    string            `json:"method"`
	Params    []json.RawMessage `json:"params"`
	Signature string
}

type relayServerMock struct {
	mu       sync.Mutex
	requests []relayRequest

	sendBundleResponse string
	callBundleResponse string
}

func (m *relayServerMock) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	var req relayRequest
	_ = json.Unmarshal(body, &req)
	req.Signature = r.Header.Get(FlashbotsSignatureHeader)

	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch req.Method {
	case SendBundleMethod:
		_, _ = w.Write([]byte(m.sendBundleResponse))
	case CallBundleMethod:
		_, _ = w.Write([]byte(m.callBundleResponse))
	default:
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":0,"error":{"code":-32601,"message":"method not found"}}`))
	}
}

func (m *relayServerMock) lastRequest() relayRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[len(m.requests)-1]
}

type relayFixture struct {
	relay  *FlashbotsRelay
	chain  *chainMock
	server *relayServerMock
	cfg    *DeploymentConfig
	bundle *Bundle
	key    common.Address
}

func newRelayFixture(t *testing.T, waitTimeout time.Duration) *relayFixture {
	t.Helper()
	server := &relayServerMock{
		sendBundleResponse: `{"jsonrpc":"2.0","id":0,"result":{"bundleHash":"0x1111111111111111111111111111111111111111111111111111111111111111"}}`,
		callBundleResponse: `{"jsonrpc":"2.0","id":0,"result":{"bundleHash":"0x1111111111111111111111111111111111111111111111111111111111111111","stateBlockNumber":100,"totalGasUsed":21000,"results":[{"gasUsed":21000},{"gasUsed":0,"error":"execution reverted","revert":"UniswapV2Router: EXPIRED"}]}}`,
	}
	httpServer := httptest.NewServer(server)
	t.Cleanup(httpServer.Close)

	authKey := newTestKey(t)
	chain := newChainMock(100)
	relay := NewFlashbotsRelay(httpServer.URL, chain, testNetwork.ChainID, FlashbotsRelayOpts{
		AuthKey:      authKey,
		WaitTimeout:  waitTimeout,
		PollInterval: 5 * time.Millisecond,
	})

	cfg := testConfig(t, 1)
	bundle, err := NewComposer(testNetwork).Compose(cfg, NewGasQuote(big.NewInt(20_000_000_000)), 1_700_000_300, big.NewInt(1000))
	require.NoError(t, err)

	return &relayFixture{
		relay:  relay,
		chain:  chain,
		server: server,
		cfg:    cfg,
		bundle: bundle,
		key:    crypto.PubkeyToAddress(authKey.PublicKey),
	}
}

func TestFlashbotsRelay_Submit(t *testing.T) {
	f := newRelayFixture(t, time.Second)

	handle, err := f.relay.Submit(context.Background(), f.bundle, 101)
	require.NoError(t, err)
	require.Equal(t, uint64(101), handle.TargetBlock())
	require.Equal(t, common.HexToHash("0x1111111111111111111111111111111111111111111111111111111111111111"), handle.BundleHash())

	req := f.server.lastRequest()
	require.Equal(t, SendBundleMethod, req.Method)
	require.True(t, strings.HasPrefix(req.Signature, f.key.Hex()+":"))
	require.Len(t, req.Params, 1)

	var args SendBundleArgs
	require.NoError(t, json.Unmarshal(req.Params[0], &args))
	require.Equal(t, uint64(101), uint64(args.BlockNumber))
	require.Len(t, args.Txs, 3)
	require.Contains(t, string(req.Params[0]), `"blockNumber":"0x65"`)
}

func TestFlashbotsRelay_SubmitRejected(t *testing.T) {
	f := newRelayFixture(t, time.Second)
	f.server.sendBundleResponse = `{"jsonrpc":"2.0","id":0,"error":{"code":-32000,"message":"bundle rejected"}}`

	_, err := f.relay.Submit(context.Background(), f.bundle, 101)
	require.ErrorIs(t, err, ErrRelayRejected)
	require.ErrorIs(t, err, ErrTransport)
}

func TestFlashbotsRelay_SubmitUnreachable(t *testing.T) {
	relay := NewFlashbotsRelay("http://127.0.0.1:1", newChainMock(1), testNetwork.ChainID, FlashbotsRelayOpts{AuthKey: newTestKey(t)})
	cfg := testConfig(t, 0)
	bundle, err := NewComposer(testNetwork).Compose(cfg, NewGasQuote(big.NewInt(1)), 1, big.NewInt(0))
	require.NoError(t, err)

	_, err = relay.Submit(context.Background(), bundle, 2)
	require.ErrorIs(t, err, ErrTransport)
}

func TestFlashbotsRelay_GeneratesAuthKey(t *testing.T) {
	server := &relayServerMock{
		sendBundleResponse: `{"jsonrpc":"2.0","id":0,"result":{"bundleHash":"0x1111111111111111111111111111111111111111111111111111111111111111"}}`,
	}
	httpServer := httptest.NewServer(server)
	t.Cleanup(httpServer.Close)

	relay := NewFlashbotsRelay(httpServer.URL, newChainMock(1), testNetwork.ChainID, FlashbotsRelayOpts{})
	cfg := testConfig(t, 0)
	bundle, err := NewComposer(testNetwork).Compose(cfg, NewGasQuote(big.NewInt(1)), 1, big.NewInt(0))
	require.NoError(t, err)

	_, err = relay.Submit(context.Background(), bundle, 2)
	require.NoError(t, err)
	require.NotEmpty(t, server.lastRequest().Signature)
}

func TestSigningTransport_MissingKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "http://relay.local", strings.NewReader("{}"))
	_, err := (&signingTransport{}).RoundTrip(req) //nolint:bodyclose
	require.ErrorIs(t, err, ErrMissingAuthKey)
}

func TestBundleHandle_Wait(t *testing.T) {
	t.Run("included", func(t *testing.T) {
		f := newRelayFixture(t, time.Second)
		handle, err := f.relay.Submit(context.Background(), f.bundle, 101)
		require.NoError(t, err)

		signed := handle.(*bundleHandle).signed //nolint:forcetypeassert
		f.chain.blockTxs[101] = signed.Txs
		go func() {
			time.Sleep(20 * time.Millisecond)
			f.chain.setHead(101)
		}()

		resolution, err := handle.Wait(context.Background())
		require.NoError(t, err)
		require.Equal(t, ResolutionIncluded, resolution)
	})

	t.Run("not included", func(t *testing.T) {
		f := newRelayFixture(t, time.Second)
		handle, err := f.relay.Submit(context.Background(), f.bundle, 101)
		require.NoError(t, err)

		signed := handle.(*bundleHandle).signed //nolint:forcetypeassert
		// only part of the bundle landed
		f.chain.blockTxs[101] = signed.Txs[:1]
		f.chain.setHead(102)

		resolution, err := handle.Wait(context.Background())
		require.NoError(t, err)
		require.Equal(t, ResolutionNotIncluded, resolution)
	})

	t.Run("nonce too high", func(t *testing.T) {
		f := newRelayFixture(t, time.Second)
		f.chain.pending[f.cfg.OwnerAddress] = 4
		handle, err := f.relay.Submit(context.Background(), f.bundle, 101)
		require.NoError(t, err)

		f.chain.mu.Lock()
		f.chain.confirmed[f.cfg.OwnerAddress] = 5
		f.chain.mu.Unlock()

		resolution, err := handle.Wait(context.Background())
		require.NoError(t, err)
		require.Equal(t, ResolutionSimulationFailure, resolution)
	})

	t.Run("target mined while reading nonces", func(t *testing.T) {
		f := newRelayFixture(t, time.Second)
		handle, err := f.relay.Submit(context.Background(), f.bundle, 101)
		require.NoError(t, err)

		signed := handle.(*bundleHandle).signed //nolint:forcetypeassert
		f.chain.mu.Lock()
		f.chain.afterHead = func(c *chainMock) {
			c.head = 101
			c.blockTxs[101] = signed.Txs
			for i, tx := range signed.Txs {
				c.confirmed[signed.Senders[i]] = tx.Nonce() + 1
			}
		}
		f.chain.mu.Unlock()

		resolution, err := handle.Wait(context.Background())
		require.NoError(t, err)
		require.Equal(t, ResolutionIncluded, resolution)
	})

	t.Run("timeout", func(t *testing.T) {
		f := newRelayFixture(t, 50*time.Millisecond)
		handle, err := f.relay.Submit(context.Background(), f.bundle, 101)
		require.NoError(t, err)

		resolution, err := handle.Wait(context.Background())
		require.ErrorIs(t, err, ErrWaitTimeout)
		require.ErrorIs(t, err, ErrTransport)
		require.Equal(t, ResolutionTransportError, resolution)
	})

	t.Run("cancelled", func(t *testing.T) {
		f := newRelayFixture(t, time.Second)
		handle, err := f.relay.Submit(context.Background(), f.bundle, 101)
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err = handle.Wait(ctx)
		require.Error(t, err)
	})
}

func TestBundleHandle_Simulate(t *testing.T) {
	f := newRelayFixture(t, time.Second)
	handle, err := f.relay.Submit(context.Background(), f.bundle, 101)
	require.NoError(t, err)

	sim, err := handle.Simulate(context.Background())
	require.NoError(t, err)
	require.False(t, sim.Success())
	require.Equal(t, "execution reverted", sim.FirstError())
	require.Equal(t, uint64(21000), sim.TotalGasUsed)
	require.Equal(t, uint64(100), sim.StateBlockNumber)

	req := f.server.lastRequest()
	require.Equal(t, CallBundleMethod, req.Method)
	require.True(t, strings.HasPrefix(req.Signature, f.key.Hex()+":"))
	var args CallBundleArgs
	require.NoError(t, json.Unmarshal(req.Params[0], &args))
	require.Equal(t, "latest", args.StateBlockNumber)
	require.Equal(t, uint64(101), uint64(args.BlockNumber))
	require.Len(t, args.Txs, 3)
}

func TestBundleHandle_SimulateFailure(t *testing.T) {
	f := newRelayFixture(t, time.Second)
	f.server.callBundleResponse = `{"jsonrpc":"2.0","id":0,"error":{"code":-32000,"message":"simulation unavailable"}}`
	handle, err := f.relay.Submit(context.Background(), f.bundle, 101)
	require.NoError(t, err)

	_, err = handle.Simulate(context.Background())
	require.ErrorIs(t, err, ErrTransport)
}
