package bundler

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/cenkalti/backoff/v4"
)

var gasQuoteRetryTime = 2 * time.Second

// GasOracle quotes the gas price for the bundle of the current tick
type GasOracle interface {
	Quote(ctx context.Context) (GasQuote, error)
}

type GasPriceSource interface {
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
}

// NetworkGasOracle asks the RPC node for eth_gasPrice on every call
type NetworkGasOracle struct {
	source GasPriceSource
}

func NewNetworkGasOracle(source GasPriceSource) *NetworkGasOracle {
	return &NetworkGasOracle{source: source}
}

func (o *NetworkGasOracle) Quote(ctx context.Context) (GasQuote, error) {
	back := backoff.NewExponentialBackOff()
	back.InitialInterval = 100 * time.Millisecond
	back.MaxElapsedTime = gasQuoteRetryTime

	var gasPrice *big.Int
	err := backoff.Retry(func() error {
		var err error
		gasPrice, err = o.source.SuggestGasPrice(ctx)
		return err
	}, backoff.WithContext(back, ctx))
	if err != nil {
		return GasQuote{}, errors.Join(err, ErrTransport)
	}
	return NewGasQuote(gasPrice), nil
}

// NewGasQuote derives the bundle gas quote from the raw network gas price in wei.
// The gwei value is rounded to GasQuotePrecisionDigits, so the fee used in transactions
// loses any precision below 10 wei.
func NewGasQuote(gasPrice *big.Int) GasQuote {
	if gasPrice == nil {
		gasPrice = new(big.Int)
	}
	decimal := FormatUnits(gasPrice, GweiDecimals, GasQuotePrecisionDigits)
	// decimal always has at most GweiDecimals fractional digits, so it parses back
	feePerGas, err := ParseUnits(decimal, GweiDecimals)
	if err != nil {
		feePerGas = new(big.Int).Set(gasPrice)
	}

	gwei, _ := new(big.Rat).SetString(decimal)
	estimate := new(big.Rat).Mul(gwei, new(big.Rat).SetInt64(FeeEstimateGas))
	estimate.Quo(estimate, new(big.Rat).SetInt(pow10(GweiDecimals)))

	return GasQuote{
		GasPrice:    new(big.Int).Set(gasPrice),
		Decimal:     decimal,
		FeePerGas:   feePerGas,
		FeeEstimate: estimate.FloatString(GasQuotePrecisionDigits),
	}
}
