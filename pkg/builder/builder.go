// Package builder assembles unsigned mint transactions for the destination
// chain. Signing and broadcast belong to a downstream service.
package builder

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"lockmint-bridge/pkg/chain"
	"lockmint-bridge/pkg/fees"
)

// DefaultMintABI describes the destination bridge contract's mint function.
const DefaultMintABI = `[{"type":"function","name":"mint","stateMutability":"nonpayable","inputs":[{"name":"user","type":"address"},{"name":"token","type":"address"},{"name":"amount","type":"uint256"},{"name":"sourceTransactionNonce","type":"bytes32"}]}]`

// DefaultMintMethod is the destination contract method invoked per deposit.
const DefaultMintMethod = "mint"

// DefaultGasLimit is a safe upper bound for a bridge mint call.
const DefaultGasLimit = uint64(200000)

// EncodingError indicates an event's fields cannot be mapped onto the
// destination contract's call signature.
type EncodingError struct {
	Reason string
	Err    error
}

func (e *EncodingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("failed to encode mint transaction: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("failed to encode mint transaction: %s", e.Reason)
}

func (e *EncodingError) Unwrap() error { return e.Err }

// PreparedTransaction is the pipeline's terminal artifact: a fully
// parameterized, unsigned destination-chain transaction. Never mutated
// after construction; ownership passes to the sink that emits it.
type PreparedTransaction struct {
	From                 common.Address `json:"from"`
	To                   common.Address `json:"to"`
	ChainID              *hexutil.Big   `json:"chainId"`
	Nonce                hexutil.Uint64 `json:"nonce"`
	MaxFeePerGas         *hexutil.Big   `json:"maxFeePerGas"`
	MaxPriorityFeePerGas *hexutil.Big   `json:"maxPriorityFeePerGas"`
	GasLimit             hexutil.Uint64 `json:"gas"`
	Data                 hexutil.Bytes  `json:"data"`
	SourceNonce          common.Hash    `json:"sourceTransactionNonce"`
}

// Config describes the destination side of the bridge for tx assembly.
type Config struct {
	Relayer  common.Address
	Contract common.Address
	ChainID  *big.Int
	GasLimit uint64
	ABI      string
	Method   string
}

// Builder is a pure transaction assembler. Deterministic given identical
// inputs except the destination account nonce, which callers supply.
type Builder struct {
	cfg         Config
	contractABI abi.ABI
}

func NewBuilder(cfg Config) (*Builder, error) {
	parsed, err := abi.JSON(strings.NewReader(cfg.ABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse destination ABI: %w", err)
	}
	if _, ok := parsed.Methods[cfg.Method]; !ok {
		return nil, fmt.Errorf("method %q not found in destination ABI", cfg.Method)
	}
	if cfg.GasLimit == 0 {
		cfg.GasLimit = DefaultGasLimit
	}
	return &Builder{cfg: cfg, contractABI: parsed}, nil
}

// Build maps a lock event and a fee quote onto an unsigned mint transaction.
// nonce is the relayer account's destination-chain transaction nonce,
// distinct from the event's dedup nonce.
func (b *Builder) Build(event chain.LockEvent, quote *fees.Quote, nonce uint64) (*PreparedTransaction, error) {
	if event.Amount == nil {
		return nil, &EncodingError{Reason: "event amount is nil"}
	}
	if event.Amount.Sign() < 0 {
		return nil, &EncodingError{Reason: fmt.Sprintf("event amount %s is negative", event.Amount)}
	}
	if event.Amount.BitLen() > 256 {
		return nil, &EncodingError{Reason: fmt.Sprintf("event amount %s overflows uint256", event.Amount)}
	}
	if event.User == (common.Address{}) {
		return nil, &EncodingError{Reason: "event user address is zero"}
	}
	if quote == nil || quote.MaxFeePerGas == nil || quote.MaxPriorityFeePerGas == nil {
		return nil, &EncodingError{Reason: "fee quote is incomplete"}
	}

	data, err := b.contractABI.Pack(b.cfg.Method,
		event.User,
		event.Token,
		event.Amount,
		[32]byte(event.Nonce),
	)
	if err != nil {
		return nil, &EncodingError{Reason: "abi pack failed", Err: err}
	}

	return &PreparedTransaction{
		From:                 b.cfg.Relayer,
		To:                   b.cfg.Contract,
		ChainID:              (*hexutil.Big)(b.cfg.ChainID),
		Nonce:                hexutil.Uint64(nonce),
		MaxFeePerGas:         (*hexutil.Big)(quote.MaxFeePerGas),
		MaxPriorityFeePerGas: (*hexutil.Big)(quote.MaxPriorityFeePerGas),
		GasLimit:             hexutil.Uint64(b.cfg.GasLimit),
		Data:                 data,
		SourceNonce:          event.Nonce,
	}, nil
}
