package bundler

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var ErrNilConfig = errors.New("deployment config is nil")

// Composer builds the launch bundle. It does not validate the config beyond what loading guarantees.
type Composer struct {
	network NetworkConfig
}

func NewComposer(network NetworkConfig) *Composer {
	return &Composer{network: network}
}

// Compose returns entries in the fixed order: approve, add liquidity, one swap per swap wallet.
// ownerTokenBalance is the raw balanceOf result, the spendable part of it is used as a whole token amount.
func (c *Composer) Compose(cfg *DeploymentConfig, quote GasQuote, deadline uint64, ownerTokenBalance *big.Int) (*Bundle, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}
	spendable := SpendableAmount(ownerTokenBalance, cfg.TokenPercent)
	tokenAmount := WholeTokensToUnits(spendable)

	entries := make([]BundleEntry, 0, 2+len(cfg.SwapWallets))

	approveData, err := packApprove(c.network.RouterAddress, tokenAmount)
	if err != nil {
		return nil, err
	}
	entries = append(entries, c.entry(EntryApprove, cfg.Token, nil, approveData, ApproveGasLimit, quote, cfg))

	liquidityData, err := packAddLiquidityETH(cfg.Token, tokenAmount, cfg.OwnerAddress, deadline)
	if err != nil {
		return nil, err
	}
	entries = append(entries, c.entry(EntryAddLiquidity, c.network.RouterAddress, cfg.EthLP, liquidityData, cfg.GasLimitLP, quote, cfg))

	path := []common.Address{c.network.WETHAddress, cfg.Token}
	for i, wallet := range cfg.SwapWallets {
		swapData, err := packSwapExactETHForTokens(path, addressOf(wallet), deadline)
		if err != nil {
			return nil, err
		}
		entry := c.entry(EntrySwap, c.network.RouterAddress, cfg.SwapAmounts[i], swapData, cfg.GasLimitSwap, quote, cfg)
		entry.Signer = wallet
		entries = append(entries, entry)
	}

	return &Bundle{
		Entries:         entries,
		Deadline:        deadline,
		SpendableTokens: spendable,
	}, nil
}

func (c *Composer) entry(kind EntryKind, to common.Address, value *big.Int, data []byte, gas uint64, quote GasQuote, cfg *DeploymentConfig) BundleEntry {
	if value == nil {
		value = new(big.Int)
	}
	fee := quote.FeePerGas
	if fee == nil {
		fee = new(big.Int)
	}
	return BundleEntry{
		Kind: kind,
		Tx: types.DynamicFeeTx{
			ChainID:   new(big.Int).Set(c.network.ChainID),
			To:        &to,
			Value:     new(big.Int).Set(value),
			Data:      data,
			Gas:       gas,
			GasFeeCap: new(big.Int).Set(fee),
			GasTipCap: new(big.Int).Set(fee),
		},
		Signer: cfg.Owner,
	}
}
