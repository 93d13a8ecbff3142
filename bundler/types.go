package bundler

import (
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

var (
	// ErrConfiguration marks malformed, missing or inconsistent deployment configuration.
	ErrConfiguration = errors.New("configuration error")
	// ErrTransport marks failures talking to the RPC node or the relay.
	ErrTransport = errors.New("transport error")

	ErrRelayRejected = errors.New("relay rejected bundle")
)

// Resolution is the outcome of one submission attempt
type Resolution uint8

const (
	ResolutionUnknown Resolution = iota
	ResolutionIncluded
	ResolutionNotIncluded
	ResolutionSimulationFailure
	ResolutionTransportError
)

func (r Resolution) String() string {
	switch r {
	case ResolutionIncluded:
		return "included"
	case ResolutionNotIncluded:
		return "not_included"
	case ResolutionSimulationFailure:
		return "simulation_failure"
	case ResolutionTransportError:
		return "transport_error"
	default:
		return "unknown"
	}
}

func (r Resolution) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

func (r *Resolution) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	for _, res := range []Resolution{ResolutionIncluded, ResolutionNotIncluded, ResolutionSimulationFailure, ResolutionTransportError} {
		if res.String() == s {
			*r = res
			return nil
		}
	}
	*r = ResolutionUnknown
	return nil
}

// Stage is the last step a tick reached
type Stage string

const (
	StageLoadConfig   Stage = "load_config"
	StageGasQuote     Stage = "gas_quote"
	StageTokenBalance Stage = "token_balance"
	StageCompose      Stage = "compose"
	StageSubmit       Stage = "submit"
	StageWait         Stage = "wait"
	StageSimulate     Stage = "simulate"
	StageDone         Stage = "done"
)

// DeploymentConfig is a decoded snapshot of the operator supplied parameters.
// A fresh snapshot is loaded on every tick.
type DeploymentConfig struct {
	Owner        *ecdsa.PrivateKey
	OwnerAddress common.Address
	Token        common.Address
	SwapWallets  []*ecdsa.PrivateKey
	// SwapAmounts are in wei, one per swap wallet
	SwapAmounts  []*big.Int
	GasLimitSwap uint64
	GasLimitLP   uint64
	// TokenPercent is in range 0..100
	TokenPercent uint64
	EthLP        *big.Int
}

// GasQuote is the gas price used for every transaction of one bundle
type GasQuote struct {
	// GasPrice is the raw network gas price in wei
	GasPrice *big.Int
	// Decimal is GasPrice in gwei rounded to GasQuotePrecisionDigits
	Decimal string
	// FeePerGas is Decimal converted back to wei, it is used both as max fee and as max priority fee
	FeePerGas *big.Int
	// FeeEstimate is the cost of FeeEstimateGas in ether rounded to GasQuotePrecisionDigits
	FeeEstimate string
}

type EntryKind string

const (
	EntryApprove      EntryKind = "approve"
	EntryAddLiquidity EntryKind = "add_liquidity"
	EntrySwap         EntryKind = "swap"
)

// BundleEntry is an unsigned transaction request and the key that must sign it
type BundleEntry struct {
	Kind   EntryKind
	Tx     types.DynamicFeeTx
	Signer *ecdsa.PrivateKey
}

// Bundle is an ordered list of entries submitted atomically
type Bundle struct {
	Entries         []BundleEntry
	Deadline        uint64
	SpendableTokens *big.Int
}

// SignedBundle is a bundle with nonces assigned and every entry signed
type SignedBundle struct {
	Txs      []*types.Transaction
	Senders  []common.Address
	Hash     common.Hash
	RawTxs   []hexutil.Bytes
	Deadline uint64
}

type SendBundleArgs struct {
	Txs         []hexutil.Bytes `json:"txs"`
	BlockNumber hexutil.Uint64  `json:"blockNumber"`
}

type SendBundleResponse struct {
	BundleHash common.Hash `json:"bundleHash"`
}

type CallBundleArgs struct {
	Txs              []hexutil.Bytes `json:"txs"`
	BlockNumber      hexutil.Uint64  `json:"blockNumber"`
	StateBlockNumber string          `json:"stateBlockNumber"`
	Timestamp        *uint64         `json:"timestamp,omitempty"`
}

type CallBundleTxResult struct {
	TxHash       common.Hash    `json:"txHash"`
	FromAddress  common.Address `json:"fromAddress"`
	ToAddress    common.Address `json:"toAddress"`
	GasUsed      uint64         `json:"gasUsed"`
	GasPrice     string         `json:"gasPrice,omitempty"`
	CoinbaseDiff string         `json:"coinbaseDiff,omitempty"`
	Error        string         `json:"error,omitempty"`
	Revert       string         `json:"revert,omitempty"`
}

// SimulationResult is the relay's eth_callBundle response
type SimulationResult struct {
	BundleGasPrice    string               `json:"bundleGasPrice"`
	BundleHash        common.Hash          `json:"bundleHash"`
	CoinbaseDiff      string               `json:"coinbaseDiff"`
	EthSentToCoinbase string               `json:"ethSentToCoinbase"`
	GasFees           string               `json:"gasFees"`
	Results           []CallBundleTxResult `json:"results"`
	StateBlockNumber  uint64               `json:"stateBlockNumber"`
	TotalGasUsed      uint64               `json:"totalGasUsed"`
	FirstRevert       *CallBundleTxResult  `json:"firstRevert,omitempty"`
}

// Success is true when no transaction of the simulated bundle failed
func (s *SimulationResult) Success() bool {
	return s.FirstError() == ""
}

// FirstError returns the first transaction error or revert reason
func (s *SimulationResult) FirstError() string {
	if s.FirstRevert != nil {
		if s.FirstRevert.Error != "" {
			return s.FirstRevert.Error
		}
		if s.FirstRevert.Revert != "" {
			return s.FirstRevert.Revert
		}
	}
	for _, r := range s.Results {
		if r.Error != "" {
			return r.Error
		}
		if r.Revert != "" {
			return r.Revert
		}
	}
	return ""
}

// TickOutcome is the structured result of a single block tick
type TickOutcome struct {
	Block       uint64
	TargetBlock uint64
	Stage       Stage
	Resolution  Resolution

	Balance    *big.Int
	Spendable  *big.Int
	Quote      *GasQuote
	BundleSize int
	BundleHash common.Hash
	Simulation *SimulationResult
	SimError   error

	Err      error
	Duration time.Duration
}

// Terminal is true when the engine must stop after this outcome
func (o *TickOutcome) Terminal() bool {
	return o.Resolution == ResolutionIncluded
}
