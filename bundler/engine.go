package bundler

import (
	"context"
	"errors"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/flashbots/launch-bundler/metrics"
	"go.uber.org/zap"
)

var recordOutcomeTimeout = 3 * time.Second

// BundleComposer is implemented by Composer
type BundleComposer interface {
	Compose(cfg *DeploymentConfig, quote GasQuote, deadline uint64, ownerTokenBalance *big.Int) (*Bundle, error)
}

// OutcomeRecorder persists or forwards tick outcomes, errors are logged and ignored
type OutcomeRecorder interface {
	RecordOutcome(ctx context.Context, outcome *TickOutcome) error
}

// Engine runs one tick per block until the bundle is included
type Engine struct {
	log *zap.Logger

	loader    ConfigLoader
	gas       GasOracle
	balances  TokenBalanceReader
	composer  BundleComposer
	relay     Relay
	recorders []OutcomeRecorder

	now func() time.Time
}

func NewEngine(
	log *zap.Logger,
	loader ConfigLoader, gas GasOracle, balances TokenBalanceReader, composer BundleComposer, relay Relay,
	recorders ...OutcomeRecorder,
) *Engine {
	return &Engine{
		log:       log.Named("engine"),
		loader:    loader,
		gas:       gas,
		balances:  balances,
		composer:  composer,
		relay:     relay,
		recorders: recorders,
		now:       time.Now,
	}
}

// Run processes blocks one at a time.
// It returns nil after the bundle is included or when blocks is closed, and ctx.Err() when ctx is cancelled.
func (e *Engine) Run(ctx context.Context, blocks <-chan uint64) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case block, ok := <-blocks:
			if !ok {
				e.log.Info("Block source closed, stopping")
				return nil
			}
			outcome := e.Tick(ctx, block)
			e.logOutcome(outcome)
			e.record(ctx, outcome)

			if outcome.Terminal() {
				e.log.Info("Congrats, bundle included", zap.Uint64("block", outcome.TargetBlock), zap.String("bundle", outcome.BundleHash.Hex()))
				return nil
			}
		}
	}
}

// Tick composes, submits and resolves one bundle targeting block+1.
// It never panics on collaborator errors, the failing stage and error are returned in the outcome.
func (e *Engine) Tick(ctx context.Context, block uint64) *TickOutcome {
	startAt := time.Now()
	out := &TickOutcome{
		Block:       block,
		TargetBlock: block + 1,
	}
	defer func() {
		out.Duration = time.Since(startAt)
	}()

	fail := func(stage Stage, err error) *TickOutcome {
		out.Stage = stage
		out.Err = err
		return out
	}

	cfg, err := e.loader.Load(ctx)
	if err != nil {
		if !errors.Is(err, ErrConfiguration) {
			err = errors.Join(err, ErrConfiguration)
		}
		return fail(StageLoadConfig, err)
	}

	quote, err := e.gas.Quote(ctx)
	if err != nil {
		return fail(StageGasQuote, err)
	}
	out.Quote = &quote

	balance, err := e.balances.BalanceOf(ctx, cfg.Token, cfg.OwnerAddress)
	if err != nil {
		return fail(StageTokenBalance, err)
	}
	out.Balance = balance

	deadline := uint64(e.now().Add(DeadlineOffset).Unix())
	bundle, err := e.composer.Compose(cfg, quote, deadline, balance)
	if err != nil {
		return fail(StageCompose, err)
	}
	out.Spendable = bundle.SpendableTokens
	out.BundleSize = len(bundle.Entries)

	handle, err := e.relay.Submit(ctx, bundle, out.TargetBlock)
	if err != nil {
		out.Resolution = ResolutionTransportError
		return fail(StageSubmit, err)
	}
	out.BundleHash = handle.BundleHash()
	metrics.IncBundlesSubmitted()

	resolution, err := handle.Wait(ctx)
	if err != nil {
		out.Resolution = ResolutionTransportError
		return fail(StageWait, err)
	}
	out.Resolution = resolution
	if resolution == ResolutionIncluded {
		out.Stage = StageDone
		return out
	}

	out.Stage = StageSimulate
	metrics.IncSimulations()
	sim, err := handle.Simulate(ctx)
	if err != nil {
		out.SimError = err
	} else {
		out.Simulation = sim
	}
	out.Stage = StageDone
	return out
}

func (e *Engine) logOutcome(out *TickOutcome) {
	fields := []zap.Field{
		zap.Uint64("block", out.Block),
		zap.Uint64("target_block", out.TargetBlock),
		zap.String("stage", string(out.Stage)),
		zap.Stringer("resolution", out.Resolution),
		zap.Duration("duration", out.Duration),
	}
	if out.Balance != nil {
		fields = append(fields, zap.String("balance", out.Balance.String()))
	}
	if out.Spendable != nil {
		fields = append(fields, zap.String("spendable_tokens", out.Spendable.String()))
	}
	if out.Quote != nil {
		fields = append(fields,
			zap.String("gwei_gas_price", out.Quote.Decimal),
			zap.String("eth_fee_estimate", out.Quote.FeeEstimate),
		)
	}
	if out.BundleSize > 0 {
		fields = append(fields, zap.Int("bundle_size", out.BundleSize))
	}
	if out.BundleHash != (common.Hash{}) {
		fields = append(fields, zap.String("bundle", out.BundleHash.Hex()))
	}
	if out.Simulation != nil {
		fields = append(fields,
			zap.Bool("sim_success", out.Simulation.Success()),
			zap.String("sim_error", out.Simulation.FirstError()),
			zap.Uint64("sim_gas_used", out.Simulation.TotalGasUsed),
			zap.Uint64("sim_state_block", out.Simulation.StateBlockNumber),
			zap.String("sim_coinbase_diff", out.Simulation.CoinbaseDiff),
		)
	}
	if out.SimError != nil {
		fields = append(fields, zap.NamedError("sim_request_error", out.SimError))
	}

	switch {
	case out.Err != nil:
		e.log.Error("Tick failed", append(fields, zap.Error(out.Err))...)
	case out.Resolution == ResolutionIncluded:
		e.log.Info("Bundle included", fields...)
	default:
		e.log.Info("Bundle not included", fields...)
	}
}

func (e *Engine) record(ctx context.Context, out *TickOutcome) {
	metrics.IncTicks()
	metrics.SetLastBlock(out.Block)
	metrics.RecordTickDuration(out.Duration.Milliseconds())
	if out.Err != nil {
		metrics.IncTickFailure(string(out.Stage))
	}
	if out.Resolution != ResolutionUnknown {
		metrics.IncResolution(out.Resolution.String())
	}
	if out.Resolution == ResolutionIncluded {
		metrics.IncBundlesIncluded()
	}
	if out.Quote != nil {
		if gwei, err := strconv.ParseFloat(out.Quote.Decimal, 64); err == nil {
			metrics.SetGasPriceGwei(gwei)
		}
	}

	for _, recorder := range e.recorders {
		recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordOutcomeTimeout)
		err := recorder.RecordOutcome(recCtx, out)
		cancel()
		if err != nil {
			e.log.Warn("Failed to record tick outcome", zap.Error(err), zap.Uint64("block", out.Block))
		}
	}
}
