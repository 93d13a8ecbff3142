package bundler

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

func TestDecodeDeploymentConfig(t *testing.T) {
	doc, owner, wallets := testDocument(t, 2)
	doc["swap_amounts"] = []any{"0.5", 2}

	cfg, err := DecodeDeploymentConfig(marshalDocument(t, doc))
	require.NoError(t, err)

	require.Equal(t, crypto.PubkeyToAddress(owner.PublicKey), cfg.OwnerAddress)
	require.Equal(t, testToken, cfg.Token)
	require.Len(t, cfg.SwapWallets, 2)
	require.Equal(t, crypto.PubkeyToAddress(wallets[1].PublicKey), crypto.PubkeyToAddress(cfg.SwapWallets[1].PublicKey))
	require.Equal(t, big.NewInt(500_000_000_000_000_000), cfg.SwapAmounts[0])
	require.Equal(t, "2000000000000000000", cfg.SwapAmounts[1].String())
	require.Equal(t, uint64(250000), cfg.GasLimitSwap)
	require.Equal(t, uint64(4000000), cfg.GasLimitLP)
	require.Equal(t, uint64(50), cfg.TokenPercent)
	require.Equal(t, "1500000000000000000", cfg.EthLP.String())
}

func TestDecodeDeploymentConfig_NoSwaps(t *testing.T) {
	doc, _, _ := testDocument(t, 0)
	cfg, err := DecodeDeploymentConfig(marshalDocument(t, doc))
	require.NoError(t, err)
	require.Empty(t, cfg.SwapWallets)
	require.Empty(t, cfg.SwapAmounts)
}

func TestDecodeDeploymentConfig_Errors(t *testing.T) {
	testCases := map[string]struct {
		modify      func(doc map[string]any)
		expectedErr error
	}{
		"length mismatch": {
			modify: func(doc map[string]any) {
				doc["swap_amounts"] = []any{"1", "1", "1"}
			},
			expectedErr: ErrSwapLengthMismatch,
		},
		"length mismatch is reported before other errors": {
			modify: func(doc map[string]any) {
				doc["swap_amounts"] = []any{}
				doc["owner_wallet"] = "not a key"
			},
			expectedErr: ErrSwapLengthMismatch,
		},
		"missing owner": {
			modify: func(doc map[string]any) {
				delete(doc, "owner_wallet")
			},
			expectedErr: ErrMissingField,
		},
		"invalid owner": {
			modify: func(doc map[string]any) {
				doc["owner_wallet"] = "0x1234"
			},
			expectedErr: ErrInvalidPrivateKey,
		},
		"invalid swap wallet": {
			modify: func(doc map[string]any) {
				doc["swap_wallets"] = []string{"zz", "zz"}
			},
			expectedErr: ErrInvalidPrivateKey,
		},
		"missing token": {
			modify: func(doc map[string]any) {
				doc["token_address"] = ""
			},
			expectedErr: ErrMissingField,
		},
		"invalid token": {
			modify: func(doc map[string]any) {
				doc["token_address"] = "0x1234"
			},
			expectedErr: ErrInvalidAddress,
		},
		"percent too large": {
			modify: func(doc map[string]any) {
				doc["token_percent"] = 101
			},
			expectedErr: ErrInvalidPercent,
		},
		"fractional percent": {
			modify: func(doc map[string]any) {
				doc["token_percent"] = "12.5"
			},
			expectedErr: ErrInvalidPercent,
		},
		"missing percent": {
			modify: func(doc map[string]any) {
				delete(doc, "token_percent")
			},
			expectedErr: ErrMissingField,
		},
		"zero gas limit": {
			modify: func(doc map[string]any) {
				doc["gas_limit_swap"] = "0"
			},
			expectedErr: ErrInvalidGasLimit,
		},
		"missing lp gas limit": {
			modify: func(doc map[string]any) {
				delete(doc, "gas_limit_lp")
			},
			expectedErr: ErrMissingField,
		},
		"missing eth_lp": {
			modify: func(doc map[string]any) {
				delete(doc, "eth_lp")
			},
			expectedErr: ErrMissingField,
		},
		"invalid swap amount": {
			modify: func(doc map[string]any) {
				doc["swap_amounts"] = []any{"1", "one"}
			},
			expectedErr: ErrInvalidAmount,
		},
	}

	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			doc, _, _ := testDocument(t, 2)
			testCase.modify(doc)

			_, err := DecodeDeploymentConfig(marshalDocument(t, doc))
			require.ErrorIs(t, err, testCase.expectedErr)
			require.ErrorIs(t, err, ErrConfiguration)
		})
	}
}

func TestDecodeDeploymentConfig_KeyNotLeaked(t *testing.T) {
	doc, _, _ := testDocument(t, 1)
	badKey := "0xdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefff"
	doc["owner_wallet"] = badKey

	_, err := DecodeDeploymentConfig(marshalDocument(t, doc))
	require.Error(t, err)
	require.NotContains(t, err.Error(), "deadbeef")
}

func TestDecodeDeploymentConfig_Malformed(t *testing.T) {
	_, err := DecodeDeploymentConfig([]byte(`{"owner_wallet":`))
	require.ErrorIs(t, err, ErrConfiguration)

	_, err = DecodeDeploymentConfig([]byte(`{"swap_wallets":{}}`))
	require.ErrorIs(t, err, ErrConfiguration)
}

func TestNumericString(t *testing.T) {
	var doc struct {
		A NumericString `json:"a"`
		B NumericString `json:"b"`
		C NumericString `json:"c"`
	}
	err := json.Unmarshal([]byte(`{"a":"1.25","b":300000,"c":null}`), &doc)
	require.NoError(t, err)
	require.Equal(t, NumericString("1.25"), doc.A)
	require.Equal(t, NumericString("300000"), doc.B)
	require.Equal(t, NumericString(""), doc.C)

	err = json.Unmarshal([]byte(`{"a":true}`), &doc)
	require.Error(t, err)
}

func TestCheckDocumentShape(t *testing.T) {
	require.NoError(t, CheckDocumentShape([]byte(`{}`)))
	require.NoError(t, CheckDocumentShape([]byte(`{"swap_wallets":["a"],"swap_amounts":[]}`)))
	require.ErrorIs(t, CheckDocumentShape([]byte(`[]`)), ErrNotJSONObject)
	require.ErrorIs(t, CheckDocumentShape([]byte(`null`)), ErrNotJSONObject)
	require.ErrorIs(t, CheckDocumentShape([]byte(`{"a":`)), ErrNotJSONObject)
	require.ErrorIs(t, CheckDocumentShape([]byte(`"text"`)), ErrNotJSONObject)
}
