// Package relay drives the lock-and-mint pipeline: poll the source chain
// for deposits, build the matching unsigned mint transaction for the
// destination chain, and hand it to a sink exactly once per deposit.
package relay

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"lockmint-bridge/pkg/builder"
	"lockmint-bridge/pkg/chain"
	"lockmint-bridge/pkg/fees"
	"lockmint-bridge/pkg/metrics"
	"lockmint-bridge/pkg/progress"
	"lockmint-bridge/pkg/sink"
)

// EventSource is the source-chain view the orchestrator needs.
type EventSource interface {
	Connect(ctx context.Context) error
	LatestHeight(ctx context.Context) (uint64, error)
	QueryLockEvents(ctx context.Context, from, to uint64) ([]chain.LockEvent, error)
}

// DestinationClient supplies the relayer account's transaction nonce on the
// destination chain.
type DestinationClient interface {
	Connect(ctx context.Context) error
	PendingNonce(ctx context.Context, account common.Address) (uint64, error)
}

// FeeSource supplies destination-chain fee parameters.
type FeeSource interface {
	Fetch(ctx context.Context) (*fees.Quote, error)
}

// TxBuilder assembles the unsigned mint transaction for one deposit.
type TxBuilder interface {
	Build(event chain.LockEvent, quote *fees.Quote, nonce uint64) (*builder.PreparedTransaction, error)
}

// State is the orchestrator's lifecycle phase.
type State int

const (
	Connecting State = iota
	Polling
	Processing
	Waiting
	Stopping
	Failed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Polling:
		return "polling"
	case Processing:
		return "processing"
	case Waiting:
		return "waiting"
	case Stopping:
		return "stopping"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Config wires the orchestrator's collaborators and cadence.
type Config struct {
	Source        EventSource
	Destination   DestinationClient
	Store         progress.Store
	Fees          FeeSource
	Builder       TxBuilder
	Sink          sink.Sink
	Metrics       *metrics.Reporter
	RelayerAddr   common.Address
	PollInterval  time.Duration
	MaxWindowSize uint64
}

// Orchestrator owns the poll/process/wait loop for one bridge direction.
// It is the only component that mutates the progress store.
type Orchestrator struct {
	source        EventSource
	dest          DestinationClient
	store         progress.Store
	fees          FeeSource
	builder       TxBuilder
	sink          sink.Sink
	reporter      *metrics.Reporter
	relayerAddr   common.Address
	pollInterval  time.Duration
	maxWindowSize uint64
	state         State
	logger        zerolog.Logger
}

func NewOrchestrator(cfg Config) *Orchestrator {
	return &Orchestrator{
		source:        cfg.Source,
		dest:          cfg.Destination,
		store:         cfg.Store,
		fees:          cfg.Fees,
		builder:       cfg.Builder,
		sink:          cfg.Sink,
		reporter:      cfg.Metrics,
		relayerAddr:   cfg.RelayerAddr,
		pollInterval:  cfg.PollInterval,
		maxWindowSize: cfg.MaxWindowSize,
		logger:        log.With().Str("component", "orchestrator").Logger(),
	}
}

// State returns the orchestrator's current lifecycle phase.
func (o *Orchestrator) State() State { return o.state }

func (o *Orchestrator) setState(s State) {
	if o.state != s {
		o.logger.Debug().Stringer("from", o.state).Stringer("to", s).Msg("state transition")
		o.state = s
	}
}

// Run executes the relay loop until ctx is cancelled (clean stop, nil) or an
// unrecoverable error occurs (non-nil). Transient RPC, fee, and encoding
// failures never abort the loop; progress is simply not advanced and the
// window is retried on the next cycle.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.setState(Connecting)
	if err := o.source.Connect(ctx); err != nil {
		o.setState(Failed)
		return err
	}
	if err := o.dest.Connect(ctx); err != nil {
		o.setState(Failed)
		return err
	}

	for {
		if err := o.runCycle(ctx); err != nil {
			o.setState(Failed)
			return err
		}

		o.setState(Waiting)
		select {
		case <-ctx.Done():
			o.setState(Stopping)
			o.logger.Info().Msg("shutdown signal observed, stopping")
			return nil
		case <-time.After(o.pollInterval):
		}
	}
}

// runCycle performs one poll/process pass. A nil return means the cycle
// either completed or hit a recoverable failure; a non-nil return is fatal.
func (o *Orchestrator) runCycle(ctx context.Context) error {
	o.setState(Polling)

	last, err := o.store.LastProcessedHeight()
	if err != nil {
		return err
	}
	latest, err := o.source.LatestHeight(ctx)
	if err != nil {
		o.logger.Error().Err(err).Msg("failed to fetch latest height, retrying next cycle")
		o.reporter.Count("relay.cycle_errors", 1)
		return nil
	}

	from := last + 1
	to := latest
	if o.maxWindowSize > 0 && to > last+o.maxWindowSize {
		to = last + o.maxWindowSize
	}
	if from > to {
		o.logger.Debug().Uint64("head", latest).Msg("no new blocks to process")
		return nil
	}

	events, to, err := o.queryWindow(ctx, from, to)
	if err != nil {
		o.logger.Error().Err(err).
			Uint64("from", from).
			Uint64("to", to).
			Msg("failed to query events, retrying next cycle")
		o.reporter.Count("relay.cycle_errors", 1)
		return nil
	}
	o.logger.Debug().Int("events", len(events)).Uint64("from", from).Uint64("to", to).Msg("window scanned")

	o.setState(Processing)
	return o.processWindow(ctx, events, to)
}

// queryWindow fetches the window's events, halving the span and retrying
// within the same cycle whenever the provider rejects the range as too
// large. Returns the effective window end alongside the events.
func (o *Orchestrator) queryWindow(ctx context.Context, from, to uint64) ([]chain.LockEvent, uint64, error) {
	for {
		events, err := o.source.QueryLockEvents(ctx, from, to)
		var tooLarge *chain.RangeTooLargeError
		if errors.As(err, &tooLarge) && to > from {
			span := to - from + 1
			to = from + span/2 - 1
			o.logger.Warn().
				Uint64("from", from).
				Uint64("to", to).
				Msg("provider rejected range, shrinking window")
			continue
		}
		return events, to, err
	}
}

type pendingMint struct {
	event chain.LockEvent
	tx    *builder.PreparedTransaction
}

// processWindow handles the window's events in two phases. Phase one builds
// a prepared transaction for every unprocessed event; any failure abandons
// the cycle before anything is emitted or marked, so the whole window is
// retried next cycle. Phase two emits and marks in height order, then
// advances the store to the window end. Keys are therefore never marked out
// of order, and a crash before AdvanceTo re-scans the window with
// duplicates absorbed by IsProcessed.
func (o *Orchestrator) processWindow(ctx context.Context, events []chain.LockEvent, windowEnd uint64) error {
	var batch []pendingMint
	for _, event := range events {
		done, err := o.store.IsProcessed(event.Key())
		if err != nil {
			return err
		}
		if done {
			o.logger.Warn().
				Str("event_key", event.Key()).
				Uint64("height", event.BlockNumber).
				Msg("skipping already processed event")
			continue
		}

		quote, err := o.fees.Fetch(ctx)
		if err != nil {
			o.logEventFailure(event, err, "failed to fetch fee quote")
			return nil
		}
		nonce, err := o.dest.PendingNonce(ctx, o.relayerAddr)
		if err != nil {
			o.logEventFailure(event, err, "failed to fetch relayer account nonce")
			return nil
		}
		// Later events in the same window get consecutive nonces.
		tx, err := o.builder.Build(event, quote, nonce+uint64(len(batch)))
		if err != nil {
			o.logEventFailure(event, err, "failed to build mint transaction")
			return nil
		}
		batch = append(batch, pendingMint{event: event, tx: tx})
	}

	for _, p := range batch {
		if err := o.sink.Emit(ctx, p.tx); err != nil {
			o.logEventFailure(p.event, err, "failed to emit prepared transaction")
			return nil
		}
		if err := o.store.MarkProcessed(p.event.Key()); err != nil {
			return err
		}
		o.logger.Info().
			Str("event_key", p.event.Key()).
			Uint64("height", p.event.BlockNumber).
			Str("user", p.event.User.Hex()).
			Str("amount", p.event.Amount.String()).
			Msg("mint transaction prepared and emitted")
	}

	if err := o.store.AdvanceTo(windowEnd); err != nil {
		return err
	}
	o.reporter.Count("relay.events_processed", float64(len(batch)))
	o.reporter.Gauge("relay.last_processed_height", float64(windowEnd))
	return nil
}

func (o *Orchestrator) logEventFailure(event chain.LockEvent, err error, msg string) {
	o.logger.Error().Err(err).
		Str("event_key", event.Key()).
		Uint64("height", event.BlockNumber).
		Msg(msg + ", window will be retried next cycle")
	o.reporter.Count("relay.event_failures", 1)
}
