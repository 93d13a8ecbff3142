package redis

import (
	"context"
	"testing"

	"github.com/flashbots/launch-bundler/bundler"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestConfigStore(t *testing.T) {
	red := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
	})

	ctx := context.Background()

	store := NewConfigStore(red, "test-launch-bundler-config")
	require.NoError(t, store.Delete(ctx))

	_, err := store.Raw(ctx)
	require.ErrorIs(t, err, bundler.ErrNoConfig)
	_, err = store.Load(ctx)
	require.ErrorIs(t, err, bundler.ErrConfiguration)

	// stored without validation, rejected on load
	doc := []byte(`{"swap_wallets":["0x01"],"swap_amounts":[]}`)
	require.NoError(t, store.Store(ctx, doc))

	raw, err := store.Raw(ctx)
	require.NoError(t, err)
	require.Equal(t, doc, raw)

	_, err = store.Load(ctx)
	require.ErrorIs(t, err, bundler.ErrSwapLengthMismatch)

	valid := []byte(`{
		"owner_wallet": "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318",
		"token_address": "0x00000000000000000000000000000000000070cE",
		"swap_wallets": [],
		"swap_amounts": [],
		"gas_limit_swap": "250000",
		"gas_limit_lp": "4000000",
		"token_percent": "100",
		"eth_lp": "2"
	}`)
	require.NoError(t, store.Store(ctx, valid))
	cfg, err := store.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(100), cfg.TokenPercent)
	require.Equal(t, "2000000000000000000", cfg.EthLP.String())

	require.NoError(t, store.Delete(ctx))
}
