package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"

	"lockmint-bridge/pkg/builder"
	"lockmint-bridge/pkg/chain"
	"lockmint-bridge/pkg/fees"
	"lockmint-bridge/pkg/metrics"
	"lockmint-bridge/pkg/progress"
	"lockmint-bridge/pkg/sink"
)

// Options carries the full configuration surface for one bridge direction.
type Options struct {
	SourceEndpoint chain.Endpoint
	DestEndpoint   chain.Endpoint

	RelayerAddr common.Address
	FeeAPIURL   string

	PollInterval  time.Duration
	MaxWindowSize uint64
	SpanLimit     uint64
	StartBlock    uint64

	Retry          chain.RetryPolicy
	ConnectTimeout time.Duration
	QueryTimeout   time.Duration
	FeeTimeout     time.Duration
	FeeCacheTTL    time.Duration

	GasLimit   uint64
	DestMethod string

	// ProgressDBPath selects the durable store; empty keeps progress
	// in-memory for the process lifetime.
	ProgressDBPath string

	// KafkaBroker/KafkaTopic route prepared transactions to a downstream
	// signer; empty broker keeps the simulation log sink.
	KafkaBroker string
	KafkaTopic  string
}

// Relayer composes the connectors, store, oracle, builder, and sink into a
// runnable orchestrator and owns their shutdown.
type Relayer struct {
	orchestrator *Orchestrator
	store        progress.Store
	txSink       sink.Sink
}

func NewRelayer(opts *Options) (*Relayer, error) {
	sourceConnector, err := chain.NewConnector(chain.Config{
		Endpoint:       opts.SourceEndpoint,
		SpanLimit:      opts.SpanLimit,
		Retry:          opts.Retry,
		ConnectTimeout: opts.ConnectTimeout,
		QueryTimeout:   opts.QueryTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create source connector: %w", err)
	}
	destConnector, err := chain.NewConnector(chain.Config{
		Endpoint:       opts.DestEndpoint,
		Retry:          opts.Retry,
		ConnectTimeout: opts.ConnectTimeout,
		QueryTimeout:   opts.QueryTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create destination connector: %w", err)
	}

	var store progress.Store
	if opts.ProgressDBPath != "" {
		store, err = progress.NewSQLiteStore(opts.ProgressDBPath, opts.StartBlock)
		if err != nil {
			return nil, fmt.Errorf("failed to open progress store: %w", err)
		}
		log.Info().Str("path", opts.ProgressDBPath).Msg("using durable progress store")
	} else {
		store = progress.NewMemStore(opts.StartBlock)
		log.Warn().Msg("using in-memory progress store, state is lost on restart")
	}

	var txSink sink.Sink
	if opts.KafkaBroker != "" {
		txSink, err = sink.NewKafkaSink(opts.KafkaBroker, opts.KafkaTopic)
		if err != nil {
			return nil, fmt.Errorf("failed to create kafka sink: %w", err)
		}
	} else {
		txSink = sink.NewLogSink()
	}

	txBuilder, err := builder.NewBuilder(builder.Config{
		Relayer:  opts.RelayerAddr,
		Contract: opts.DestEndpoint.ContractAddr,
		ChainID:  opts.DestEndpoint.ChainID,
		GasLimit: opts.GasLimit,
		ABI:      opts.DestEndpoint.ABI,
		Method:   opts.DestMethod,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create transaction builder: %w", err)
	}

	reporter := metrics.NewReporter([]string{
		"source_chain:" + opts.SourceEndpoint.Name,
		"dest_chain:" + opts.DestEndpoint.Name,
	})

	orchestrator := NewOrchestrator(Config{
		Source:        sourceConnector,
		Destination:   destConnector,
		Store:         store,
		Fees:          fees.NewOracle(opts.FeeAPIURL, opts.FeeTimeout, opts.FeeCacheTTL),
		Builder:       txBuilder,
		Sink:          txSink,
		Metrics:       reporter,
		RelayerAddr:   opts.RelayerAddr,
		PollInterval:  opts.PollInterval,
		MaxWindowSize: opts.MaxWindowSize,
	})

	log.Info().
		Str("source", opts.SourceEndpoint.Name).
		Str("dest", opts.DestEndpoint.Name).
		Str("relayer", opts.RelayerAddr.Hex()).
		Msg("relayer assembled")

	return &Relayer{
		orchestrator: orchestrator,
		store:        store,
		txSink:       txSink,
	}, nil
}

// Run executes the relay loop until ctx cancellation or a fatal error.
func (r *Relayer) Run(ctx context.Context) error {
	return r.orchestrator.Run(ctx)
}

// TryCloseAll closes the sink and progress store, bounded by a deadline.
func (r *Relayer) TryCloseAll() error {
	log.Debug().Msg("closing sink and progress store")

	closed := make(chan error, 1)
	go func() {
		closed <- errors.Join(r.txSink.Close(), r.store.Close())
	}()

	select {
	case err := <-closed:
		if err != nil {
			return err
		}
		log.Info().Msg("all resources closed")
		return nil
	case <-time.After(10 * time.Second):
		return errors.New("failed to close all resources in 10 sec")
	}
}
