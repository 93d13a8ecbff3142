package main

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/flashbots/go-utils/cli"
	redisadapter "github.com/flashbots/launch-bundler/adapters/redis"
	"github.com/flashbots/launch-bundler/bundler"
	"github.com/flashbots/launch-bundler/jsonrpcserver"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"
)

var (
	version = "dev" // is set during build process

	// Default values
	defaultDebug           = os.Getenv("DEBUG") == "1"
	defaultLogProd         = os.Getenv("LOG_PROD") == "1"
	defaultLogService      = os.Getenv("LOG_SERVICE")
	defaultPort            = cli.GetEnv("PORT", "4000")
	defaultMetricsPort     = cli.GetEnv("METRICS_PORT", "4088")
	defaultNetworksConfig  = cli.GetEnv("NETWORKS_CONFIG", "networks.yaml")
	defaultNetwork         = cli.GetEnv("NETWORK", "mainnet")
	defaultEthEndpoint     = cli.GetEnv("ETH_ENDPOINT", "")
	defaultRelayEndpoint   = cli.GetEnv("RELAY_ENDPOINT", "")
	defaultChainID         = cli.GetEnv("CHAIN_ID", "0")
	defaultRelayAuthKey    = cli.GetEnv("RELAY_AUTH_KEY", "")
	defaultConfigStore     = cli.GetEnv("CONFIG_STORE", "file")
	defaultConfigFile      = cli.GetEnv("CONFIG_FILE", "env.json")
	defaultRedisEndpoint   = cli.GetEnv("REDIS_ENDPOINT", "redis://localhost:6379")
	defaultRedisConfigKey  = cli.GetEnv("REDIS_CONFIG_KEY", "launch-bundler:config")
	defaultOutcomeChannel  = cli.GetEnv("REDIS_OUTCOME_CHANNEL", "")
	defaultPostgresDSN     = cli.GetEnv("POSTGRES_DSN", "")
	defaultBlockPollMs     = cli.GetEnv("BLOCK_POLL_INTERVAL_MS", "1000")
	defaultWaitTimeoutSec  = cli.GetEnv("WAIT_TIMEOUT_SEC", "120")
	defaultAPIRateLimit    = cli.GetEnv("API_RATE_LIMIT", "5")
	defaultCORSOrigins     = cli.GetEnv("CORS_ORIGINS", "*")
	defaultOperatorSigners = cli.GetEnv("OPERATORS", "")

	// Flags
	debugPtr          = flag.Bool("debug", defaultDebug, "print debug output")
	logProdPtr        = flag.Bool("log-prod", defaultLogProd, "log in production mode (json)")
	logServicePtr     = flag.String("log-service", defaultLogService, "'service' tag to logs")
	portPtr           = flag.String("port", defaultPort, "port to listen on")
	metricsPortPtr    = flag.String("metrics-port", defaultMetricsPort, "port for metrics and pprof")
	networksConfigPtr = flag.String("networks-config", defaultNetworksConfig, "networks config file")
	networkPtr        = flag.String("network", defaultNetwork, "network name from the networks config")
	ethPtr            = flag.String("eth", defaultEthEndpoint, "eth endpoint, overrides the network rpc")
	relayPtr          = flag.String("relay", defaultRelayEndpoint, "relay endpoint, overrides the network relay")
	chainIDPtr        = flag.String("chain-id", defaultChainID, "chain id, overrides the network chain id")
	relayAuthKeyPtr   = flag.String("relay-auth-key", defaultRelayAuthKey, "private key used to sign relay requests (random if empty)")
	configStorePtr    = flag.String("config-store", defaultConfigStore, "deployment config store: file or redis")
	configFilePtr     = flag.String("config-file", defaultConfigFile, "deployment config file for the file store")
	redisPtr          = flag.String("redis", defaultRedisEndpoint, "redis url string")
	redisConfigKeyPtr = flag.String("redis-config-key", defaultRedisConfigKey, "redis key of the deployment config")
	outcomeChannelPtr = flag.String("outcome-channel", defaultOutcomeChannel, "redis pub/sub channel for tick outcomes (disabled if empty)")
	postgresDSNPtr    = flag.String("postgres-dsn", defaultPostgresDSN, "postgres dsn for attempt history (disabled if empty)")
	blockPollMsPtr    = flag.String("block-poll-interval-ms", defaultBlockPollMs, "block polling interval in milliseconds")
	waitTimeoutPtr    = flag.String("wait-timeout-sec", defaultWaitTimeoutSec, "max seconds to wait for the target block")
	apiRateLimitPtr   = flag.String("api-rate-limit", defaultAPIRateLimit, "api rate limit (calls per second)")
	corsOriginsPtr    = flag.String("cors-origins", defaultCORSOrigins, "allowed CORS origins (comma separated)")
	operatorsPtr      = flag.String("operators", defaultOperatorSigners, "addresses allowed to call /rpc (comma separated, anyone if empty)")
)

func main() {
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	if *logProdPtr {
		atom := zap.NewAtomicLevel()
		if *debugPtr {
			atom.SetLevel(zap.DebugLevel)
		}

		encoderCfg := zap.NewProductionEncoderConfig()
		encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		logger = zap.New(zapcore.NewCore(
			zapcore.NewJSONEncoder(encoderCfg),
			zapcore.Lock(os.Stdout),
			atom,
		))
	}
	defer func() { _ = logger.Sync() }()
	if *logServicePtr != "" {
		logger = logger.With(zap.String("service", *logServicePtr))
	}

	ctx, ctxCancel := context.WithCancel(context.Background())
	defer ctxCancel()

	logger.Info("Starting launch-bundler", zap.String("version", version))

	chainIDOverride, err := strconv.ParseUint(*chainIDPtr, 10, 64)
	if err != nil {
		logger.Fatal("Failed to parse chain id", zap.Error(err))
	}
	network, err := bundler.LoadNetworkConfig(*networksConfigPtr, *networkPtr, bundler.NetworkOverrides{
		ChainID:  chainIDOverride,
		RPCURL:   *ethPtr,
		RelayURL: *relayPtr,
	})
	if err != nil {
		logger.Fatal("Failed to load network config", zap.Error(err))
	}
	logger.Info("Network loaded", zap.String("network", network.Name), zap.String("relay", network.RelayURL),
		zap.String("router", network.RouterAddress.Hex()), zap.String("weth", network.WETHAddress.Hex()))

	ethBackend, err := ethclient.Dial(network.RPCURL)
	if err != nil {
		logger.Fatal("Failed to connect to ethBackend endpoint", zap.Error(err))
	}
	chainID, err := ethBackend.ChainID(ctx)
	if err != nil {
		logger.Fatal("Failed to get chain id", zap.Error(err))
	}
	if chainID.Cmp(network.ChainID) != 0 {
		logger.Fatal("Chain id mismatch", zap.String("node", chainID.String()), zap.String("network", network.ChainID.String()))
	}

	relayKey, err := relayAuthKey(*relayAuthKeyPtr)
	if err != nil {
		logger.Fatal("Failed to load relay auth key", zap.Error(err))
	}
	logger.Info("Relay signer", zap.String("address", crypto.PubkeyToAddress(relayKey.PublicKey).Hex()))

	var redisClient *redis.Client
	if *configStorePtr == "redis" || *outcomeChannelPtr != "" {
		redisOpts, err := redis.ParseURL(*redisPtr)
		if err != nil {
			logger.Fatal("Failed to parse redis url", zap.Error(err))
		}
		redisClient = redis.NewClient(redisOpts)
	}

	var store bundler.ConfigStore
	switch *configStorePtr {
	case "file":
		store = bundler.NewFileConfigStore(*configFilePtr)
	case "redis":
		store = redisadapter.NewConfigStore(redisClient, *redisConfigKeyPtr)
	default:
		logger.Fatal("Unknown config store", zap.String("store", *configStorePtr))
	}

	statusTracker := bundler.NewStatusTracker()
	recorders := []bundler.OutcomeRecorder{statusTracker}
	var history bundler.AttemptHistory
	if *postgresDSNPtr != "" {
		dbBackend, err := bundler.NewDBBackend(*postgresDSNPtr)
		if err != nil {
			logger.Fatal("Failed to create postgres backend", zap.Error(err))
		}
		defer func() { _ = dbBackend.Close() }()
		recorders = append(recorders, dbBackend)
		history = dbBackend
	}
	if *outcomeChannelPtr != "" {
		recorders = append(recorders, redisadapter.NewOutcomePublisher(redisClient, *outcomeChannelPtr))
	}

	waitTimeout, err := strconv.Atoi(*waitTimeoutPtr)
	if err != nil {
		logger.Fatal("Failed to parse wait timeout", zap.Error(err))
	}
	pollMs, err := strconv.Atoi(*blockPollMsPtr)
	if err != nil {
		logger.Fatal("Failed to parse block poll interval", zap.Error(err))
	}
	pollInterval := time.Duration(pollMs) * time.Millisecond

	relay := bundler.NewFlashbotsRelay(network.RelayURL, ethBackend, chainID, bundler.FlashbotsRelayOpts{
		AuthKey:      relayKey,
		WaitTimeout:  time.Duration(waitTimeout) * time.Second,
		PollInterval: pollInterval,
	})
	engine := bundler.NewEngine(logger,
		store,
		bundler.NewNetworkGasOracle(ethBackend),
		bundler.NewERC20BalanceReader(ethBackend),
		bundler.NewComposer(network),
		relay,
		recorders...,
	)

	rateLimit, err := strconv.ParseFloat(*apiRateLimitPtr, 64)
	if err != nil {
		logger.Fatal("Failed to parse api rate limit", zap.Error(err))
	}
	operators, err := parseAddresses(*operatorsPtr)
	if err != nil {
		logger.Fatal("Failed to parse operators", zap.Error(err))
	}

	api := bundler.NewAPI(logger, store, statusTracker, history, rate.Limit(rateLimit), splitList(*corsOriginsPtr))
	jsonRPCServer, err := jsonrpcserver.NewHandler(jsonrpcserver.Methods{
		bundler.UpdateConfigEndpointName: api.UpdateConfig,
		bundler.GetConfigEndpointName:    api.GetConfig,
		bundler.StatusEndpointName:       api.Status,
	}, operators)
	if err != nil {
		logger.Fatal("Failed to create jsonrpc server", zap.Error(err))
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", *portPtr),
		ReadHeaderTimeout: 5 * time.Second,
		Handler:           api.Router(jsonRPCServer),
	}

	metricsMux := http.NewServeMux()
	metricsMux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		metrics.WritePrometheus(w, true)
	})
	go func() {
		metricsMux.Handle("/debug/pprof/", http.HandlerFunc(pprof.Index))
		metricsMux.Handle("/debug/pprof/cmdline", http.HandlerFunc(pprof.Cmdline))
		metricsMux.Handle("/debug/pprof/profile", http.HandlerFunc(pprof.Profile))
		metricsMux.Handle("/debug/pprof/symbol", http.HandlerFunc(pprof.Symbol))
		metricsMux.Handle("/debug/pprof/trace", http.HandlerFunc(pprof.Trace))

		metricsServer := &http.Server{
			Addr:              fmt.Sprintf("0.0.0.0:%s", *metricsPortPtr),
			ReadHeaderTimeout: 5 * time.Second,
			Handler:           metricsMux,
		}

		err := metricsServer.ListenAndServe()
		if err != nil {
			logger.Fatal("Failed to start metrics server", zap.Error(err))
		}
	}()

	go func() {
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("ListenAndServe: ", zap.Error(err))
		}
	}()

	go func() {
		notifier := make(chan os.Signal, 1)
		signal.Notify(notifier, os.Interrupt, syscall.SIGTERM)
		<-notifier
		logger.Info("Shutting down...")
		ctxCancel()
	}()

	blocks := bundler.NewBlockListener(logger, ethBackend, pollInterval).Start(ctx)
	err = engine.Run(ctx, blocks)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to shutdown server", zap.Error(err))
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Engine stopped", zap.Error(err))
	}
}

func relayAuthKey(hexKey string) (*ecdsa.PrivateKey, error) {
	if hexKey == "" {
		return crypto.GenerateKey()
	}
	return crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
}

func splitList(value string) []string {
	var res []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			res = append(res, item)
		}
	}
	return res
}

func parseAddresses(value string) ([]common.Address, error) {
	items := splitList(value)
	res := make([]common.Address, 0, len(items))
	for _, item := range items {
		if !common.IsHexAddress(item) {
			return nil, fmt.Errorf("invalid address %q", item) //nolint:goerr113
		}
		res = append(res, common.HexToAddress(item))
	}
	return res, nil
}
