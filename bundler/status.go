package bundler

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// OutcomeSummary is the operator facing form of a TickOutcome
type OutcomeSummary struct {
	Block        uint64       `json:"block"`
	TargetBlock  uint64       `json:"targetBlock"`
	Stage        Stage        `json:"stage"`
	Resolution   Resolution   `json:"resolution"`
	Balance      string       `json:"balance,omitempty"`
	Spendable    string       `json:"spendable,omitempty"`
	GasPriceGwei string       `json:"gasPriceGwei,omitempty"`
	FeeEstimate  string       `json:"feeEstimateEth,omitempty"`
	BundleSize   int          `json:"bundleSize,omitempty"`
	BundleHash   *common.Hash `json:"bundleHash,omitempty"`
	SimSuccess   *bool        `json:"simSuccess,omitempty"`
	SimError     string       `json:"simError,omitempty"`
	Error        string       `json:"error,omitempty"`
	DurationMs   int64        `json:"durationMs"`
}

func (o *TickOutcome) Summary() OutcomeSummary {
	s := OutcomeSummary{
		Block:       o.Block,
		TargetBlock: o.TargetBlock,
		Stage:       o.Stage,
		Resolution:  o.Resolution,
		BundleSize:  o.BundleSize,
		DurationMs:  o.Duration.Milliseconds(),
	}
	if o.Balance != nil {
		s.Balance = o.Balance.String()
	}
	if o.Spendable != nil {
		s.Spendable = o.Spendable.String()
	}
	if o.Quote != nil {
		s.GasPriceGwei = o.Quote.Decimal
		s.FeeEstimate = o.Quote.FeeEstimate
	}
	if o.BundleHash != (common.Hash{}) {
		hash := o.BundleHash
		s.BundleHash = &hash
	}
	if o.Simulation != nil {
		success := o.Simulation.Success()
		s.SimSuccess = &success
		s.SimError = o.Simulation.FirstError()
	} else if o.SimError != nil {
		s.SimError = o.SimError.Error()
	}
	if o.Err != nil {
		s.Error = o.Err.Error()
	}
	return s
}

// StatusTracker keeps the summary of the latest tick for the status endpoint
type StatusTracker struct {
	mu   sync.RWMutex
	last *OutcomeSummary
}

func NewStatusTracker() *StatusTracker {
	return &StatusTracker{}
}

func (t *StatusTracker) RecordOutcome(_ context.Context, outcome *TickOutcome) error {
	summary := outcome.Summary()
	t.mu.Lock()
	t.last = &summary
	t.mu.Unlock()
	return nil
}

// Last returns nil before the first tick
func (t *StatusTracker) Last() *OutcomeSummary {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.last == nil {
		return nil
	}
	res := *t.last
	return &res
}
