package validation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aidin1998/fairbatch/internal/events"
	"github.com/Aidin1998/fairbatch/pkg/logger"
	"github.com/Aidin1998/fairbatch/pkg/merkle"
	"github.com/Aidin1998/fairbatch/pkg/models"
)

type fakeLedger struct {
	balances map[common.Address]decimal.Decimal
	snapshot *models.LedgerSnapshot
	bid, ask decimal.Decimal
	verify   bool
	err      error
}

func (f *fakeLedger) GetBalance(_ context.Context, identity common.Address) (decimal.Decimal, error) {
	if f.err != nil {
		return decimal.Zero, f.err
	}
	return f.balances[identity], nil
}

func (f *fakeLedger) GetSnapshot(_ context.Context) (*models.LedgerSnapshot, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.snapshot, nil
}

func (f *fakeLedger) VerifyInclusionProof(_ context.Context, _ common.Hash, _ *merkle.Proof) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.verify, nil
}

func (f *fakeLedger) GetBestBidAsk(_ context.Context, _ string) (decimal.Decimal, decimal.Decimal, error) {
	if f.err != nil {
		return decimal.Zero, decimal.Zero, f.err
	}
	return f.bid, f.ask, nil
}

type fakeState struct {
	balances map[common.Address]decimal.Decimal
	count    int64
	volume   decimal.Decimal
	leaves   [][]byte
}

func (f *fakeState) Balance(identity common.Address) (decimal.Decimal, bool) {
	bal, ok := f.balances[identity]
	return bal, ok
}

func (f *fakeState) OrderTotals() (int64, decimal.Decimal) { return f.count, f.volume }

func (f *fakeState) ActiveLeaves() [][]byte { return f.leaves }

func validOrder(identity common.Address) *models.Order {
	return &models.Order{
		ID:         uuid.New(),
		Identity:   identity,
		Pair:       "ETH/USDC",
		Side:       models.SideBuy,
		Quantity:   decimal.NewFromInt(2),
		Price:      decimal.NewFromInt(100),
		Type:       models.OrderTypeLimit,
		Nonce:      1,
		RevealedAt: time.Now().UTC(),
	}
}

func provenOrder(t *testing.T, identity common.Address) (*models.Order, common.Hash, *merkle.Proof) {
	t.Helper()
	order := validOrder(identity)
	leaves := [][]byte{order.SigningBytes(), []byte("sibling")}
	root, err := merkle.Root(leaves)
	require.NoError(t, err)
	proof, err := merkle.BuildProof(leaves, 0)
	require.NoError(t, err)
	return order, root, proof
}

func newTestValidator(ledger LedgerClient, state InternalState, sink events.Sink) *Validator {
	return NewValidator(DefaultConfig(), ledger, state, sink, logger.NewNop().Sugar())
}

func TestValidateOrderExecutionAllChecksPass(t *testing.T) {
	identity := common.HexToAddress("0x1111111111111111111111111111111111111111")
	order, root, proof := provenOrder(t, identity)
	ledger := &fakeLedger{
		balances: map[common.Address]decimal.Decimal{identity: decimal.NewFromInt(1000)},
		bid:      decimal.NewFromInt(99),
		ask:      decimal.NewFromInt(101),
		verify:   true,
	}
	state := &fakeState{balances: map[common.Address]decimal.Decimal{identity: decimal.NewFromInt(1000)}}
	sink := events.NewMemorySink()

	res, err := newTestValidator(ledger, state, sink).ValidateOrderExecution(context.Background(), order, root, proof)
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.False(t, res.Inconclusive)
	for name, ok := range res.Checks {
		assert.True(t, ok, "check %s", name)
	}
	assert.Empty(t, sink.Discrepancies())
}

func TestBalanceDivergenceAboveTolerance(t *testing.T) {
	identity := common.HexToAddress("0x2222222222222222222222222222222222222222")
	order, root, proof := provenOrder(t, identity)
	ledger := &fakeLedger{
		balances: map[common.Address]decimal.Decimal{identity: decimal.NewFromInt(970)},
		bid:      decimal.NewFromInt(99),
		ask:      decimal.NewFromInt(101),
		verify:   true,
	}
	state := &fakeState{balances: map[common.Address]decimal.Decimal{identity: decimal.NewFromInt(1000)}}
	sink := events.NewMemorySink()

	res, err := newTestValidator(ledger, state, sink).ValidateOrderExecution(context.Background(), order, root, proof)
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.False(t, res.Checks["balance"])
	require.Len(t, res.Discrepancies, 1)
	report := res.Discrepancies[0]
	assert.Equal(t, models.DiscrepancyBalance, report.Category)
	assert.True(t, report.RelativeDiff.GreaterThan(decimal.NewFromFloat(0.01)))
	require.Len(t, sink.Discrepancies(), 1)
}

func TestBalanceDivergenceWithinTolerance(t *testing.T) {
	identity := common.HexToAddress("0x3333333333333333333333333333333333333333")
	order, root, proof := provenOrder(t, identity)
	ledger := &fakeLedger{
		balances: map[common.Address]decimal.Decimal{identity: decimal.NewFromInt(995)},
		bid:      decimal.NewFromInt(99),
		ask:      decimal.NewFromInt(101),
		verify:   true,
	}
	state := &fakeState{balances: map[common.Address]decimal.Decimal{identity: decimal.NewFromInt(1000)}}
	sink := events.NewMemorySink()

	res, err := newTestValidator(ledger, state, sink).ValidateOrderExecution(context.Background(), order, root, proof)
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.True(t, res.Checks["balance"])
	assert.Empty(t, res.Discrepancies)
	assert.Empty(t, sink.Discrepancies())
}

func TestAuthorityTimeoutIsInconclusiveNotInvalid(t *testing.T) {
	identity := common.HexToAddress("0x4444444444444444444444444444444444444444")
	order, root, proof := provenOrder(t, identity)
	ledger := &fakeLedger{err: errors.New("dial tcp: i/o timeout")}
	state := &fakeState{balances: map[common.Address]decimal.Decimal{identity: decimal.NewFromInt(1000)}}

	res, err := newTestValidator(ledger, state, events.NewMemorySink()).ValidateOrderExecution(context.Background(), order, root, proof)
	require.NoError(t, err)
	assert.True(t, res.Valid, "unreachable authority must fail open")
	assert.True(t, res.Inconclusive)
}

func TestAuthorityRejectsLocallyValidProof(t *testing.T) {
	identity := common.HexToAddress("0x5555555555555555555555555555555555555555")
	order, root, proof := provenOrder(t, identity)
	ledger := &fakeLedger{
		balances: map[common.Address]decimal.Decimal{identity: decimal.NewFromInt(1000)},
		bid:      decimal.NewFromInt(99),
		ask:      decimal.NewFromInt(101),
		verify:   false,
	}
	state := &fakeState{balances: map[common.Address]decimal.Decimal{identity: decimal.NewFromInt(1000)}}
	sink := events.NewMemorySink()

	res, err := newTestValidator(ledger, state, sink).ValidateOrderExecution(context.Background(), order, root, proof)
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.False(t, res.Checks["inclusion"])
	require.Len(t, res.Discrepancies, 1)
	assert.Equal(t, models.DiscrepancyOrder, res.Discrepancies[0].Category)
}

func TestTamperedProofFailsLocally(t *testing.T) {
	identity := common.HexToAddress("0x6666666666666666666666666666666666666666")
	order, root, proof := provenOrder(t, identity)
	proof.Leaf = merkle.HashLeaf([]byte("tampered"))
	ledger := &fakeLedger{verify: true}
	state := &fakeState{}

	res, err := newTestValidator(ledger, state, events.NewMemorySink()).ValidateOrderExecution(context.Background(), order, root, proof)
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.False(t, res.Checks["structure"], "leaf no longer matches the order")
}

func TestPriceDeviationBeyondBound(t *testing.T) {
	identity := common.HexToAddress("0x7777777777777777777777777777777777777777")
	order, root, proof := provenOrder(t, identity)
	ledger := &fakeLedger{
		balances: map[common.Address]decimal.Decimal{identity: decimal.NewFromInt(1000)},
		bid:      decimal.NewFromInt(299),
		ask:      decimal.NewFromInt(301), // mid 300, order at 100 is 66% off
		verify:   true,
	}
	state := &fakeState{balances: map[common.Address]decimal.Decimal{identity: decimal.NewFromInt(1000)}}
	sink := events.NewMemorySink()

	res, err := newTestValidator(ledger, state, sink).ValidateOrderExecution(context.Background(), order, root, proof)
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.False(t, res.Checks["price"])
	require.NotEmpty(t, res.Discrepancies)
	assert.Equal(t, models.DiscrepancyPrice, res.Discrepancies[len(res.Discrepancies)-1].Category)
}

func TestStructuralIntegrityRejectsMalformedOrder(t *testing.T) {
	identity := common.HexToAddress("0x8888888888888888888888888888888888888888")
	order, root, proof := provenOrder(t, identity)
	order.Quantity = decimal.NewFromInt(-1)
	ledger := &fakeLedger{verify: true}

	res, err := newTestValidator(ledger, &fakeState{}, events.NewMemorySink()).ValidateOrderExecution(context.Background(), order, root, proof)
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.False(t, res.Checks["structure"])
}

func TestSystemSnapshotCached(t *testing.T) {
	state := &fakeState{
		count:  7,
		volume: decimal.NewFromInt(4200),
		leaves: [][]byte{[]byte("a"), []byte("b"), []byte("c")},
	}
	v := newTestValidator(&fakeLedger{}, state, events.NewMemorySink())

	first, err := v.CreateSystemSnapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), first.OrderCount)
	assert.True(t, decimal.NewFromInt(4200).Equal(first.Volume))
	assert.NotEqual(t, common.Hash{}, first.Digest)

	state.count = 99
	second, err := v.CreateSystemSnapshot(context.Background())
	require.NoError(t, err)
	assert.Same(t, first, second, "snapshot is cached within the interval")
}

func TestVolumeComparisonEmitsReport(t *testing.T) {
	state := &fakeState{count: 10, volume: decimal.NewFromInt(1000)}
	ledger := &fakeLedger{
		snapshot: &models.LedgerSnapshot{
			Height:     42,
			OrderCount: 10,
			Volume:     decimal.NewFromInt(800),
			TakenAt:    time.Now().UTC(),
		},
	}
	sink := events.NewMemorySink()
	v := newTestValidator(ledger, state, sink)

	v.compareVolumes(context.Background())

	require.Len(t, sink.Discrepancies(), 1)
	report := sink.Discrepancies()[0]
	assert.Equal(t, models.DiscrepancyVolume, report.Category)
	assert.Equal(t, "critical", report.Severity)
}

func TestVolumeComparisonWithinTolerance(t *testing.T) {
	state := &fakeState{count: 10, volume: decimal.NewFromInt(1000)}
	ledger := &fakeLedger{
		snapshot: &models.LedgerSnapshot{Volume: decimal.NewFromInt(990), TakenAt: time.Now().UTC()},
	}
	sink := events.NewMemorySink()

	newTestValidator(ledger, state, sink).compareVolumes(context.Background())
	assert.Empty(t, sink.Discrepancies())
}
