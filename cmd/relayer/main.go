package main

import (
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v2"

	"lockmint-bridge/pkg/builder"
	"lockmint-bridge/pkg/chain"
	"lockmint-bridge/pkg/relay"
)

var (
	optionConfig = &cli.StringFlag{
		Name:     "config",
		Usage:    "path to relayer config file",
		Required: false, // Can also set config via env var
		EnvVars:  []string{"LOCKMINT_RELAYER_CONFIG"},
	}
)

func main() {
	app := &cli.App{
		Name:  "lockmint-relayer",
		Usage: "Entry point for the lock-and-mint bridge relayer",
		Commands: []*cli.Command{
			{
				Name:  "start",
				Usage: "Start the lock-and-mint relayer",
				Flags: []cli.Flag{
					optionConfig,
				},
				Action: func(c *cli.Context) error {
					return start(c)
				},
			},
		}}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(app.Writer, "exited with error: %v\n", err)
		os.Exit(1)
	}
}

type chainConfig struct {
	Name         string `yaml:"name"`
	RPCUrl       string `yaml:"rpc_url"`
	ContractAddr string `yaml:"contract_addr"`
	ChainID      int64  `yaml:"chain_id"`
	ABI          string `yaml:"abi"`
}

type config struct {
	LogLevel    string      `yaml:"log_level"`
	SourceChain chainConfig `yaml:"source_chain"`
	DestChain   chainConfig `yaml:"dest_chain"`

	RelayerAddr string `yaml:"relayer_addr"`
	FeeAPIUrl   string `yaml:"fee_api_url"`

	StartBlock          uint64 `yaml:"start_block"`
	PollIntervalSeconds uint64 `yaml:"poll_interval_seconds"`
	MaxWindowSize       uint64 `yaml:"max_window_size"`
	ProviderSpanLimit   uint64 `yaml:"provider_span_limit"`

	RetryAttempts    uint   `yaml:"retry_attempts"`
	RetryBaseDelayMs uint64 `yaml:"retry_base_delay_ms"`
	RetryMaxDelayMs  uint64 `yaml:"retry_max_delay_ms"`

	ConnectTimeoutSeconds uint64 `yaml:"connect_timeout_seconds"`
	QueryTimeoutSeconds   uint64 `yaml:"query_timeout_seconds"`
	FeeTimeoutSeconds     uint64 `yaml:"fee_timeout_seconds"`
	FeeCacheTTLSeconds    uint64 `yaml:"fee_cache_ttl_seconds"`

	GasLimit uint64 `yaml:"gas_limit"`

	ProgressDBPath string `yaml:"progress_db_path"`
	KafkaBroker    string `yaml:"kafka_broker"`
	KafkaTopic     string `yaml:"kafka_topic"`
}

func loadConfigFromEnv() config {
	cfg := config{
		LogLevel: os.Getenv("LOG_LEVEL"),
		SourceChain: chainConfig{
			Name:         os.Getenv("SOURCE_CHAIN_NAME"),
			RPCUrl:       os.Getenv("SOURCE_RPC_URL"),
			ContractAddr: os.Getenv("SOURCE_CONTRACT_ADDR"),
		},
		DestChain: chainConfig{
			Name:         os.Getenv("DEST_CHAIN_NAME"),
			RPCUrl:       os.Getenv("DEST_RPC_URL"),
			ContractAddr: os.Getenv("DEST_CONTRACT_ADDR"),
		},
		RelayerAddr:    os.Getenv("RELAYER_ADDR"),
		FeeAPIUrl:      os.Getenv("FEE_API_URL"),
		ProgressDBPath: os.Getenv("PROGRESS_DB_PATH"),
		KafkaBroker:    os.Getenv("KAFKA_BROKER"),
		KafkaTopic:     os.Getenv("KAFKA_TOPIC"),
	}
	if startBlock, err := strconv.ParseUint(os.Getenv("START_BLOCK"), 10, 64); err == nil {
		cfg.StartBlock = startBlock
	}
	return cfg
}

func loadConfigFromFile(cfg *config, filePath string) error {
	buf, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read config file at: %s, %w", filePath, err)
	}
	if err := yaml.Unmarshal(buf, cfg); err != nil {
		return fmt.Errorf("failed to unmarshal config file at: %s, %w", filePath, err)
	}
	return nil
}

func checkConfig(cfg *config) error {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	if cfg.SourceChain.RPCUrl == "" {
		return fmt.Errorf("source_chain.rpc_url is required")
	}
	if !common.IsHexAddress(cfg.SourceChain.ContractAddr) {
		return fmt.Errorf("source_chain.contract_addr is not a valid address")
	}
	if cfg.DestChain.RPCUrl == "" {
		return fmt.Errorf("dest_chain.rpc_url is required")
	}
	if !common.IsHexAddress(cfg.DestChain.ContractAddr) {
		return fmt.Errorf("dest_chain.contract_addr is not a valid address")
	}
	if !common.IsHexAddress(cfg.RelayerAddr) {
		return fmt.Errorf("relayer_addr is not a valid address")
	}
	if cfg.FeeAPIUrl == "" {
		return fmt.Errorf("fee_api_url is required")
	}
	if cfg.KafkaBroker != "" && cfg.KafkaTopic == "" {
		return fmt.Errorf("kafka_topic is required when kafka_broker is set")
	}

	if cfg.SourceChain.Name == "" {
		cfg.SourceChain.Name = "source"
	}
	if cfg.DestChain.Name == "" {
		cfg.DestChain.Name = "destination"
	}
	if cfg.SourceChain.ABI == "" {
		cfg.SourceChain.ABI = chain.DefaultLockEventABI
	}
	if cfg.DestChain.ABI == "" {
		cfg.DestChain.ABI = builder.DefaultMintABI
	}
	if cfg.PollIntervalSeconds == 0 {
		cfg.PollIntervalSeconds = 30
	}
	if cfg.MaxWindowSize == 0 {
		cfg.MaxWindowSize = 100
	}
	if cfg.RetryAttempts == 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.RetryBaseDelayMs == 0 {
		cfg.RetryBaseDelayMs = 1000
	}
	if cfg.RetryMaxDelayMs == 0 {
		cfg.RetryMaxDelayMs = 30000
	}
	if cfg.ConnectTimeoutSeconds == 0 {
		cfg.ConnectTimeoutSeconds = 10
	}
	if cfg.QueryTimeoutSeconds == 0 {
		cfg.QueryTimeoutSeconds = 30
	}
	if cfg.FeeTimeoutSeconds == 0 {
		cfg.FeeTimeoutSeconds = 10
	}
	if cfg.GasLimit == 0 {
		cfg.GasLimit = builder.DefaultGasLimit
	}

	return nil
}

func setupLogging(logLevel string) {
	lvl, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to parse log level")
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

func start(c *cli.Context) error {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file found, using process environment")
	}

	cfg := loadConfigFromEnv()

	configFilePath := c.String(optionConfig.Name)
	if configFilePath == "" {
		log.Info().Msg("env var config will be used")
	} else {
		log.Info().Str("config_file", configFilePath).Msg(
			"overriding env var config with file")
		if err := loadConfigFromFile(&cfg, configFilePath); err != nil {
			log.Fatal().Err(err).Msg("failed to load config provided as file")
		}
	}

	if err := checkConfig(&cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	setupLogging(cfg.LogLevel)

	var sourceChainID, destChainID *big.Int
	if cfg.SourceChain.ChainID != 0 {
		sourceChainID = big.NewInt(cfg.SourceChain.ChainID)
	}
	if cfg.DestChain.ChainID != 0 {
		destChainID = big.NewInt(cfg.DestChain.ChainID)
	}

	r, err := relay.NewRelayer(&relay.Options{
		SourceEndpoint: chain.Endpoint{
			Name:         cfg.SourceChain.Name,
			RPCURL:       cfg.SourceChain.RPCUrl,
			ContractAddr: common.HexToAddress(cfg.SourceChain.ContractAddr),
			ABI:          cfg.SourceChain.ABI,
			EventName:    chain.DefaultLockEventName,
			ChainID:      sourceChainID,
		},
		DestEndpoint: chain.Endpoint{
			Name:         cfg.DestChain.Name,
			RPCURL:       cfg.DestChain.RPCUrl,
			ContractAddr: common.HexToAddress(cfg.DestChain.ContractAddr),
			ABI:          cfg.DestChain.ABI,
			ChainID:      destChainID,
		},
		RelayerAddr:   common.HexToAddress(cfg.RelayerAddr),
		FeeAPIURL:     cfg.FeeAPIUrl,
		PollInterval:  time.Duration(cfg.PollIntervalSeconds) * time.Second,
		MaxWindowSize: cfg.MaxWindowSize,
		SpanLimit:     cfg.ProviderSpanLimit,
		StartBlock:    cfg.StartBlock,
		Retry: chain.RetryPolicy{
			Attempts:  cfg.RetryAttempts,
			BaseDelay: time.Duration(cfg.RetryBaseDelayMs) * time.Millisecond,
			MaxDelay:  time.Duration(cfg.RetryMaxDelayMs) * time.Millisecond,
		},
		ConnectTimeout: time.Duration(cfg.ConnectTimeoutSeconds) * time.Second,
		QueryTimeout:   time.Duration(cfg.QueryTimeoutSeconds) * time.Second,
		FeeTimeout:     time.Duration(cfg.FeeTimeoutSeconds) * time.Second,
		FeeCacheTTL:    time.Duration(cfg.FeeCacheTTLSeconds) * time.Second,
		GasLimit:       cfg.GasLimit,
		DestMethod:     builder.DefaultMintMethod,
		ProgressDBPath: cfg.ProgressDBPath,
		KafkaBroker:    cfg.KafkaBroker,
		KafkaTopic:     cfg.KafkaTopic,
	})
	if err != nil {
		return fmt.Errorf("failed to assemble relayer: %w", err)
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := r.Run(ctx)

	fmt.Fprintf(c.App.Writer, "shutting down...\n")
	if err := r.TryCloseAll(); err != nil {
		log.Error().Err(err).Msg("failed to close all resources")
	}

	return runErr
}
