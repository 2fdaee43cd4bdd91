package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	retry "github.com/avast/retry-go"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Backend is the subset of ethclient.Client the connector depends on.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// DialFunc establishes an RPC session against an endpoint URL.
type DialFunc func(ctx context.Context, rawurl string) (Backend, error)

// EthDial is the production DialFunc.
func EthDial(ctx context.Context, rawurl string) (Backend, error) {
	return ethclient.DialContext(ctx, rawurl)
}

// Endpoint identifies one chain role. Immutable after construction.
type Endpoint struct {
	Name         string
	RPCURL       string
	ContractAddr common.Address
	ABI          string
	EventName    string
	ChainID      *big.Int
}

// RetryPolicy encodes a backoff schedule as a value so it can be tested and
// configured independently of the connectors that use it.
type RetryPolicy struct {
	Attempts  uint
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// Options maps the policy onto retry-go options: exponential backoff with
// jitter, capped at MaxDelay, context-aware, last error only.
func (p RetryPolicy) Options(ctx context.Context) []retry.Option {
	return []retry.Option{
		retry.Attempts(p.Attempts),
		retry.Delay(p.BaseDelay),
		retry.MaxDelay(p.MaxDelay),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.MaxJitter(p.BaseDelay / 2),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	}
}

// Config carries everything a Connector needs beyond the endpoint itself.
type Config struct {
	Endpoint       Endpoint
	SpanLimit      uint64
	Retry          RetryPolicy
	ConnectTimeout time.Duration
	QueryTimeout   time.Duration
	Dial           DialFunc
}

// Connector owns a single RPC session against one chain endpoint. It does
// network I/O only and keeps no state beyond the session handle.
type Connector struct {
	endpoint       Endpoint
	contractABI    abi.ABI
	spanLimit      uint64
	policy         RetryPolicy
	connectTimeout time.Duration
	queryTimeout   time.Duration
	dial           DialFunc
	client         Backend
	chainID        *big.Int
	logger         zerolog.Logger
}

// NewConnector parses the endpoint's ABI descriptor and prepares a connector.
// No network I/O happens until Connect.
func NewConnector(cfg Config) (*Connector, error) {
	parsed, err := abi.JSON(strings.NewReader(cfg.Endpoint.ABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ABI for %s: %w", cfg.Endpoint.Name, err)
	}
	if cfg.Endpoint.EventName != "" {
		if _, ok := parsed.Events[cfg.Endpoint.EventName]; !ok {
			return nil, fmt.Errorf("event %q not found in ABI for %s", cfg.Endpoint.EventName, cfg.Endpoint.Name)
		}
	}
	dial := cfg.Dial
	if dial == nil {
		dial = EthDial
	}
	return &Connector{
		endpoint:       cfg.Endpoint,
		contractABI:    parsed,
		spanLimit:      cfg.SpanLimit,
		policy:         cfg.Retry,
		connectTimeout: cfg.ConnectTimeout,
		queryTimeout:   cfg.QueryTimeout,
		dial:           dial,
		logger:         log.With().Str("chain", cfg.Endpoint.Name).Logger(),
	}, nil
}

// Name returns the endpoint's configured chain name.
func (c *Connector) Name() string { return c.endpoint.Name }

// ChainID returns the chain identifier observed at Connect time.
func (c *Connector) ChainID() *big.Int { return c.chainID }

// ContractAddr returns the configured contract address for this endpoint.
func (c *Connector) ContractAddr() common.Address { return c.endpoint.ContractAddr }

// Connect establishes the RPC session, retrying per the connector's policy.
// Returns a ConnectivityError once attempts are exhausted.
func (c *Connector) Connect(ctx context.Context) error {
	err := retry.Do(func() error {
		dialCtx, cancel := context.WithTimeout(ctx, c.connectTimeout)
		defer cancel()

		client, err := c.dial(dialCtx, c.endpoint.RPCURL)
		if err != nil {
			return fmt.Errorf("failed to dial %s: %w", c.endpoint.RPCURL, err)
		}
		chainID, err := client.ChainID(dialCtx)
		if err != nil {
			return fmt.Errorf("failed to get chain id: %w", err)
		}
		if c.endpoint.ChainID != nil && c.endpoint.ChainID.Cmp(chainID) != 0 {
			return retry.Unrecoverable(fmt.Errorf(
				"endpoint reports chain id %s, config expects %s", chainID, c.endpoint.ChainID))
		}
		c.client = client
		c.chainID = chainID
		return nil
	}, append(c.policy.Options(ctx), retry.OnRetry(func(n uint, err error) {
		c.logger.Warn().Err(err).
			Uint("attempt", n+1).
			Uint("max_attempts", c.policy.Attempts).
			Msg("connection attempt failed")
	}))...)
	if err != nil {
		return &ConnectivityError{Chain: c.endpoint.Name, Err: err}
	}
	c.logger.Info().
		Str("rpc_url", c.endpoint.RPCURL).
		Str("chain_id", c.chainID.String()).
		Msg("connected")
	return nil
}

// LatestHeight returns the chain's current block height.
func (c *Connector) LatestHeight(ctx context.Context) (uint64, error) {
	if c.client == nil {
		return 0, &ConnectivityError{Chain: c.endpoint.Name, Err: errNotConnected}
	}
	queryCtx, cancel := context.WithTimeout(ctx, c.queryTimeout)
	defer cancel()

	height, err := c.client.BlockNumber(queryCtx)
	if err != nil {
		return 0, &TransientQueryError{Chain: c.endpoint.Name, Op: "latest height", Err: err}
	}
	return height, nil
}

// QueryLockEvents returns all lock events emitted by the configured contract
// in the inclusive range [from, to], ordered by block number then log index.
// All-or-nothing: no partial results are returned on failure.
func (c *Connector) QueryLockEvents(ctx context.Context, from, to uint64) ([]LockEvent, error) {
	if c.client == nil {
		return nil, &ConnectivityError{Chain: c.endpoint.Name, Err: errNotConnected}
	}
	if c.spanLimit > 0 && to >= from && to-from+1 > c.spanLimit {
		return nil, &RangeTooLargeError{Chain: c.endpoint.Name, From: from, To: to, Limit: c.spanLimit}
	}
	event := c.contractABI.Events[c.endpoint.EventName]

	queryCtx, cancel := context.WithTimeout(ctx, c.queryTimeout)
	defer cancel()

	logs, err := c.client.FilterLogs(queryCtx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{c.endpoint.ContractAddr},
		Topics:    [][]common.Hash{{event.ID}},
	})
	if err != nil {
		return nil, &TransientQueryError{Chain: c.endpoint.Name, Op: "event filter", Err: err}
	}
	events, err := decodeLockEvents(c.contractABI, c.endpoint.EventName, logs)
	if err != nil {
		return nil, &TransientQueryError{Chain: c.endpoint.Name, Op: "event decode", Err: err}
	}
	return events, nil
}

// PendingNonce returns the destination account's next transaction nonce.
func (c *Connector) PendingNonce(ctx context.Context, account common.Address) (uint64, error) {
	if c.client == nil {
		return 0, &ConnectivityError{Chain: c.endpoint.Name, Err: errNotConnected}
	}
	queryCtx, cancel := context.WithTimeout(ctx, c.queryTimeout)
	defer cancel()

	nonce, err := c.client.PendingNonceAt(queryCtx, account)
	if err != nil {
		return 0, &TransientQueryError{Chain: c.endpoint.Name, Op: "pending nonce", Err: err}
	}
	return nonce, nil
}
