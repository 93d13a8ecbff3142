package bundler

import (
	"crypto/ecdsa"
	"encoding/json"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

var (
	testToken  = common.HexToAddress("0x00000000000000000000000000000000000070cE")
	testRouter = common.HexToAddress("0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D")
	testWETH   = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")

	testNetwork = NetworkConfig{
		Name:          "testnet",
		ChainID:       big.NewInt(1337),
		RPCURL:        "http://127.0.0.1:8545",
		RelayURL:      "http://127.0.0.1:18545",
		RouterAddress: testRouter,
		WETHAddress:   testWETH,
	}
)

func newTestKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return key
}

func keyHex(key *ecdsa.PrivateKey) string {
	return hexutil.Encode(crypto.FromECDSA(key))
}

// testDocument returns a valid deployment document with the given number of swap wallets
func testDocument(t *testing.T, swaps int) (map[string]any, *ecdsa.PrivateKey, []*ecdsa.PrivateKey) {
	t.Helper()
	owner := newTestKey(t)
	wallets := make([]*ecdsa.PrivateKey, swaps)
	walletHexes := make([]string, swaps)
	amounts := make([]any, swaps)
	for i := range wallets {
		wallets[i] = newTestKey(t)
		walletHexes[i] = keyHex(wallets[i])
		amounts[i] = "0.5"
	}
	doc := map[string]any{
		"owner_wallet":   keyHex(owner),
		"token_address":  testToken.Hex(),
		"swap_wallets":   walletHexes,
		"swap_amounts":   amounts,
		"gas_limit_swap": "250000",
		"gas_limit_lp":   4000000,
		"token_percent":  "50",
		"eth_lp":         "1.5",
	}
	return doc, owner, wallets
}

func marshalDocument(t *testing.T, doc map[string]any) []byte {
	t.Helper()
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	return data
}

func testConfig(t *testing.T, swaps int) *DeploymentConfig {
	t.Helper()
	doc, _, _ := testDocument(t, swaps)
	cfg, err := DecodeDeploymentConfig(marshalDocument(t, doc))
	require.NoError(t, err)
	return cfg
}
