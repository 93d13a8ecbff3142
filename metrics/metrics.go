// Package metrics contains all application-logic metrics
package metrics

import (
	"fmt"

	"github.com/VictoriaMetrics/metrics"
)

var (
	ticksTotal           = metrics.NewCounter("bundler_ticks_total")
	bundlesSubmitted     = metrics.NewCounter("bundler_bundles_submitted_total")
	bundlesIncluded      = metrics.NewCounter("bundler_bundles_included_total")
	simulationsRequested = metrics.NewCounter("bundler_simulations_total")
	configUpdates        = metrics.NewCounter("bundler_config_updates_total")
	configUpdatesFailed  = metrics.NewCounter("bundler_config_updates_failed_total")

	lastBlock    = metrics.NewCounter("bundler_last_block")
	tickDuration = metrics.NewSummary("bundler_tick_duration_milliseconds")

	gasPriceGwei = metrics.NewFloatCounter("bundler_gas_price_gwei")
)

func IncTicks() {
	ticksTotal.Inc()
}

func IncBundlesSubmitted() {
	bundlesSubmitted.Inc()
}

func IncBundlesIncluded() {
	bundlesIncluded.Inc()
}

func IncSimulations() {
	simulationsRequested.Inc()
}

func IncConfigUpdates() {
	configUpdates.Inc()
}

func IncConfigUpdatesFailed() {
	configUpdatesFailed.Inc()
}

// IncTickFailure counts ticks that stopped at stage because of an error
func IncTickFailure(stage string) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`bundler_tick_failures_total{stage=%q}`, stage)).Inc()
}

func IncResolution(resolution string) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`bundler_resolutions_total{resolution=%q}`, resolution)).Inc()
}

func RecordTickDuration(ms int64) {
	tickDuration.Update(float64(ms))
}

func SetLastBlock(block uint64) {
	lastBlock.Set(block)
}

func SetGasPriceGwei(gwei float64) {
	gasPriceGwei.Set(gwei)
}

func RecordAPICallDuration(endpoint string, ms int64) {
	metrics.GetOrCreateSummary(fmt.Sprintf(`bundler_api_call_duration_milliseconds{endpoint=%q}`, endpoint)).Update(float64(ms))
}
