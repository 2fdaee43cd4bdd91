package relay

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lockmint-bridge/pkg/builder"
	"lockmint-bridge/pkg/chain"
	"lockmint-bridge/pkg/fees"
	"lockmint-bridge/pkg/progress"
)

type fakeSource struct {
	connectErr error
	height     uint64
	heightErr  error
	events     []chain.LockEvent
	queryErr   error
	spanLimit  uint64
	queries    [][2]uint64
}

func (f *fakeSource) Connect(ctx context.Context) error { return f.connectErr }

func (f *fakeSource) LatestHeight(ctx context.Context) (uint64, error) {
	return f.height, f.heightErr
}

func (f *fakeSource) QueryLockEvents(ctx context.Context, from, to uint64) ([]chain.LockEvent, error) {
	f.queries = append(f.queries, [2]uint64{from, to})
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	if f.spanLimit > 0 && to-from+1 > f.spanLimit {
		return nil, &chain.RangeTooLargeError{Chain: "source", From: from, To: to, Limit: f.spanLimit}
	}
	var out []chain.LockEvent
	for _, event := range f.events {
		if event.BlockNumber >= from && event.BlockNumber <= to {
			out = append(out, event)
		}
	}
	return out, nil
}

type fakeDest struct {
	connectErr error
	nonce      uint64
}

func (f *fakeDest) Connect(ctx context.Context) error { return f.connectErr }

func (f *fakeDest) PendingNonce(ctx context.Context, account common.Address) (uint64, error) {
	return f.nonce, nil
}

type fakeFees struct {
	calls      int
	failOnCall int // 1-based; 0 disables failure injection
}

func (f *fakeFees) Fetch(ctx context.Context) (*fees.Quote, error) {
	f.calls++
	if f.failOnCall != 0 && f.calls == f.failOnCall {
		return nil, &fees.FeeFetchError{URL: "http://gas.example", Err: errors.New("timeout")}
	}
	return &fees.Quote{
		MaxFeePerGas:         big.NewInt(35000000000),
		MaxPriorityFeePerGas: big.NewInt(2000000000),
		QuotedAt:             time.Now(),
	}, nil
}

type fakeSink struct {
	emitted  []*builder.PreparedTransaction
	failOnce map[common.Hash]bool
}

func (f *fakeSink) Emit(ctx context.Context, tx *builder.PreparedTransaction) error {
	if f.failOnce[tx.SourceNonce] {
		delete(f.failOnce, tx.SourceNonce)
		return errors.New("sink unavailable")
	}
	f.emitted = append(f.emitted, tx)
	return nil
}

func (f *fakeSink) Close() error { return nil }

// failingStore injects an AdvanceTo failure on top of a real store.
type failingStore struct {
	progress.Store
	advanceErr error
}

func (s *failingStore) AdvanceTo(height uint64) error {
	if s.advanceErr != nil {
		return s.advanceErr
	}
	return s.Store.AdvanceTo(height)
}

func lockEvent(key string, height uint64) chain.LockEvent {
	amount, _ := new(big.Int).SetString("1000000000000000000", 10)
	return chain.LockEvent{
		Nonce:       common.HexToHash(key),
		User:        common.HexToAddress("0x5a185124B835004a4333426765354922129aE957"),
		Token:       common.HexToAddress("0x0d8775f648430679a709e98d2b0cb6250d2887ef"),
		Amount:      amount,
		BlockNumber: height,
	}
}

type harness struct {
	orchestrator *Orchestrator
	source       *fakeSource
	dest         *fakeDest
	fees         *fakeFees
	sink         *fakeSink
	store        progress.Store
}

func newHarness(t *testing.T, source *fakeSource, opts ...func(*Config)) *harness {
	t.Helper()
	txBuilder, err := builder.NewBuilder(builder.Config{
		Relayer:  common.HexToAddress("0x9a55DA7a876e68E2d7a54b2e4F5C7b9e2c7D09b1"),
		Contract: common.HexToAddress("0x8a9C28b8686d128340E7420492F6A3d596a7353A"),
		ChainID:  big.NewInt(80001),
		GasLimit: 200000,
		ABI:      builder.DefaultMintABI,
		Method:   builder.DefaultMintMethod,
	})
	require.NoError(t, err)

	h := &harness{
		source: source,
		dest:   &fakeDest{nonce: 5},
		fees:   &fakeFees{},
		sink:   &fakeSink{failOnce: map[common.Hash]bool{}},
		store:  progress.NewMemStore(1000000),
	}
	cfg := Config{
		Source:        h.source,
		Destination:   h.dest,
		Store:         h.store,
		Fees:          h.fees,
		Builder:       txBuilder,
		Sink:          h.sink,
		RelayerAddr:   common.HexToAddress("0x9a55DA7a876e68E2d7a54b2e4F5C7b9e2c7D09b1"),
		PollInterval:  time.Millisecond,
		MaxWindowSize: 101,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	h.store = cfg.Store
	h.orchestrator = NewOrchestrator(cfg)
	return h
}

func (h *harness) lastHeight(t *testing.T) uint64 {
	t.Helper()
	height, err := h.store.LastProcessedHeight()
	require.NoError(t, err)
	return height
}

func TestCycleRelaysNewDeposit(t *testing.T) {
	source := &fakeSource{
		height: 1000101,
		events: []chain.LockEvent{lockEvent("0xa1b2c3", 1000042)},
	}
	h := newHarness(t, source)

	require.NoError(t, h.orchestrator.runCycle(context.Background()))

	require.Len(t, h.sink.emitted, 1)
	tx := h.sink.emitted[0]
	assert.Equal(t, common.HexToHash("0xa1b2c3"), tx.SourceNonce)
	assert.EqualValues(t, 5, tx.Nonce)
	assert.Equal(t, uint64(1000101), h.lastHeight(t))

	done, err := h.store.IsProcessed(common.HexToHash("0xa1b2c3").Hex())
	require.NoError(t, err)
	assert.True(t, done)
}

func TestTransientQueryFailureKeepsProgress(t *testing.T) {
	source := &fakeSource{
		height:   1000101,
		queryErr: &chain.TransientQueryError{Chain: "source", Op: "event filter", Err: errors.New("i/o timeout")},
	}
	h := newHarness(t, source)

	require.NoError(t, h.orchestrator.runCycle(context.Background()))
	assert.Empty(t, h.sink.emitted)
	assert.Equal(t, uint64(1000000), h.lastHeight(t))

	// Next cycle re-requests the same starting height.
	source.queryErr = nil
	require.NoError(t, h.orchestrator.runCycle(context.Background()))
	require.Len(t, source.queries, 2)
	assert.Equal(t, source.queries[0][0], source.queries[1][0])
	assert.Equal(t, uint64(1000101), h.lastHeight(t))
}

func TestDuplicateDeliveryYieldsOneTransaction(t *testing.T) {
	event := lockEvent("0xa1b2c3", 1000042)
	source := &fakeSource{height: 1000101, events: []chain.LockEvent{event}}
	h := newHarness(t, source)

	require.NoError(t, h.orchestrator.runCycle(context.Background()))

	// Provider overlap at the window boundary redelivers the same event.
	source.height = 1000150
	source.events = []chain.LockEvent{event, lockEvent("0xd4e5f6", 1000120)}
	event.BlockNumber = 1000102 // force it back into the next window
	source.events[0] = event
	require.NoError(t, h.orchestrator.runCycle(context.Background()))

	keys := make(map[common.Hash]int)
	for _, tx := range h.sink.emitted {
		keys[tx.SourceNonce]++
	}
	assert.Equal(t, 1, keys[common.HexToHash("0xa1b2c3")])
	assert.Equal(t, 1, keys[common.HexToHash("0xd4e5f6")])
}

func TestPerEventFailureRetriesWholeWindow(t *testing.T) {
	source := &fakeSource{
		height: 1000101,
		events: []chain.LockEvent{
			lockEvent("0x01", 1000010),
			lockEvent("0x02", 1000020),
			lockEvent("0x03", 1000030),
		},
	}
	h := newHarness(t, source)
	h.fees.failOnCall = 2

	require.NoError(t, h.orchestrator.runCycle(context.Background()))
	assert.Empty(t, h.sink.emitted, "no transaction may be committed when any event in the window fails")
	assert.Equal(t, uint64(1000000), h.lastHeight(t))

	// The full window succeeds on the next cycle.
	require.NoError(t, h.orchestrator.runCycle(context.Background()))
	require.Len(t, h.sink.emitted, 3)
	assert.EqualValues(t, 5, h.sink.emitted[0].Nonce)
	assert.EqualValues(t, 6, h.sink.emitted[1].Nonce)
	assert.EqualValues(t, 7, h.sink.emitted[2].Nonce)
	assert.Equal(t, uint64(1000101), h.lastHeight(t))
}

func TestWindowIsCappedAtMaxWindowSize(t *testing.T) {
	source := &fakeSource{height: 1010000}
	h := newHarness(t, source, func(cfg *Config) { cfg.MaxWindowSize = 100 })

	require.NoError(t, h.orchestrator.runCycle(context.Background()))

	require.Len(t, source.queries, 1)
	assert.Equal(t, [2]uint64{1000001, 1000100}, source.queries[0])
	assert.Equal(t, uint64(1000100), h.lastHeight(t))
}

func TestWindowShrinksOnProviderRangeLimit(t *testing.T) {
	source := &fakeSource{
		height:    1000101,
		spanLimit: 50,
		events:    []chain.LockEvent{lockEvent("0xa1b2c3", 1000042)},
	}
	h := newHarness(t, source)

	require.NoError(t, h.orchestrator.runCycle(context.Background()))

	require.Len(t, source.queries, 2)
	assert.Equal(t, [2]uint64{1000001, 1000101}, source.queries[0])
	assert.Equal(t, [2]uint64{1000001, 1000050}, source.queries[1])
	require.Len(t, h.sink.emitted, 1)
	assert.Equal(t, uint64(1000050), h.lastHeight(t))
}

func TestCrashMidWindowReplayEmitsOncePerKey(t *testing.T) {
	source := &fakeSource{
		height: 1000101,
		events: []chain.LockEvent{
			lockEvent("0x01", 1000010),
			lockEvent("0x02", 1000020),
		},
	}
	h := newHarness(t, source)
	h.sink.failOnce[common.HexToHash("0x02")] = true

	// First pass: the first event is emitted and marked, the second fails
	// at the sink, so the window is not advanced.
	require.NoError(t, h.orchestrator.runCycle(context.Background()))
	require.Len(t, h.sink.emitted, 1)
	assert.Equal(t, uint64(1000000), h.lastHeight(t))

	// Replaying the window emits only the unprocessed event.
	require.NoError(t, h.orchestrator.runCycle(context.Background()))
	require.Len(t, h.sink.emitted, 2)
	assert.Equal(t, common.HexToHash("0x01"), h.sink.emitted[0].SourceNonce)
	assert.Equal(t, common.HexToHash("0x02"), h.sink.emitted[1].SourceNonce)
	assert.Equal(t, uint64(1000101), h.lastHeight(t))
}

func TestEmptyWindowSkipsProcessing(t *testing.T) {
	source := &fakeSource{height: 1000000}
	h := newHarness(t, source)

	require.NoError(t, h.orchestrator.runCycle(context.Background()))
	assert.Empty(t, source.queries)
	assert.Equal(t, uint64(1000000), h.lastHeight(t))
}

func TestLatestHeightFailureIsRecoverable(t *testing.T) {
	source := &fakeSource{
		heightErr: &chain.TransientQueryError{Chain: "source", Op: "latest height", Err: errors.New("timeout")},
	}
	h := newHarness(t, source)

	require.NoError(t, h.orchestrator.runCycle(context.Background()))
	assert.Equal(t, uint64(1000000), h.lastHeight(t))
}

func TestOrderingViolationIsFatal(t *testing.T) {
	source := &fakeSource{height: 1000101, events: []chain.LockEvent{lockEvent("0xa1b2c3", 1000042)}}
	violation := &progress.OrderingViolation{Have: 2000000, Requested: 1000101}
	h := newHarness(t, source, func(cfg *Config) {
		cfg.Store = &failingStore{Store: progress.NewMemStore(1000000), advanceErr: violation}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	err := h.orchestrator.Run(ctx)
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, Failed, h.orchestrator.State())
}

func TestRunFailsWhenConnectExhausted(t *testing.T) {
	source := &fakeSource{
		connectErr: &chain.ConnectivityError{Chain: "source", Err: errors.New("connection refused")},
	}
	h := newHarness(t, source)

	err := h.orchestrator.Run(context.Background())
	var connErr *chain.ConnectivityError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, Failed, h.orchestrator.State())
}

func TestRunStopsCleanlyOnCancel(t *testing.T) {
	source := &fakeSource{height: 1000101, events: []chain.LockEvent{lockEvent("0xa1b2c3", 1000042)}}
	h := newHarness(t, source)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, h.orchestrator.Run(ctx))
	assert.Equal(t, Stopping, h.orchestrator.State())
	// The cycle before the cancelled wait still completed.
	assert.Equal(t, uint64(1000101), h.lastHeight(t))
}
