// Package bundler composes a liquidity launch bundle and resubmits it to a private relay
// every block until it is included.
// Here is a full flow of data through one tick:
//
// BlockListener -> Engine receives a new block number
//
// Engine -> ConfigLoader reads the latest deployment config (never cached)
// Engine -> GasOracle quotes the network gas price for this block
// Engine -> TokenBalanceReader reads the owner token balance
// Engine -> Composer builds approve, add-liquidity and swap entries
// Engine -> Relay signs and submits the bundle for block+1
//
//	ResolutionHandle.Wait reports Included, NotIncluded or SimulationFailure
//	ResolutionHandle.Simulate is called once when the bundle was not included
//
// Engine -> OutcomeRecorders (StatusTracker, DBBackend, redis OutcomePublisher) record the tick outcome
package bundler

import "time"

const (
	// DeadlineOffset is added to the current time to get the router deadline of a bundle.
	DeadlineOffset = 5 * time.Minute

	ApproveGasLimit uint64 = 300000

	// GasQuotePrecisionDigits is the number of fractional gwei digits kept in a gas quote.
	GasQuotePrecisionDigits = 8
	// FeeEstimateGas is the reference amount of gas used for the logged fee estimate.
	FeeEstimateGas = 56000

	EtherDecimals = 18
	GweiDecimals  = 9
)
