// Package sink defines where prepared transactions go once built. The relay
// itself never signs or broadcasts; a sink hands the unsigned payload to
// whatever does.
package sink

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"lockmint-bridge/pkg/builder"
)

// Sink consumes prepared transactions.
type Sink interface {
	Emit(ctx context.Context, tx *builder.PreparedTransaction) error
	Close() error
}

// LogSink is the simulation-mode sink: it logs the prepared transaction
// instead of submitting it anywhere.
type LogSink struct {
	logger zerolog.Logger
}

func NewLogSink() *LogSink {
	return &LogSink{logger: log.With().Str("sink", "log").Logger()}
}

func (s *LogSink) Emit(_ context.Context, tx *builder.PreparedTransaction) error {
	payload, err := json.MarshalIndent(tx, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal prepared transaction: %w", err)
	}
	s.logger.Info().
		Str("source_nonce", tx.SourceNonce.Hex()).
		Str("to", tx.To.Hex()).
		Msg("prepared transaction ready for signing")
	fmt.Println("--- SIMULATION: TRANSACTION WOULD BE SENT ---")
	fmt.Println(string(payload))
	fmt.Println("-------------------------------------------")
	return nil
}

func (s *LogSink) Close() error { return nil }
