package scanner

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"treasury/apps/treasury/internal/config"
	"treasury/apps/treasury/internal/gateway"
	"treasury/apps/treasury/internal/model"
)

type fakeGateway struct {
	chain config.ChainConfig
	head  uint64

	outgoing    []gateway.TransferLog
	incoming    []gateway.TransferLog
	outgoingErr error
	incomingErr error

	queried [][2]uint64
}

func (f *fakeGateway) Chain() config.ChainConfig { return f.chain }

func (f *fakeGateway) BlockNumber(ctx context.Context) (uint64, error) { return f.head, nil }

func (f *fakeGateway) BlockTime(ctx context.Context, number uint64) (time.Time, error) {
	return time.Unix(1700000000+int64(number), 0).UTC(), nil
}

func (f *fakeGateway) Decimals(ctx context.Context) (uint8, error) { return 6, nil }

func (f *fakeGateway) FilterTransfers(ctx context.Context, wallet common.Address, direction string, fromBlock, toBlock uint64) ([]gateway.TransferLog, error) {
	f.queried = append(f.queried, [2]uint64{fromBlock, toBlock})
	var source []gateway.TransferLog
	if direction == model.DirectionOutgoing {
		if f.outgoingErr != nil {
			return nil, f.outgoingErr
		}
		source = f.outgoing
	} else {
		if f.incomingErr != nil {
			return nil, f.incomingErr
		}
		source = f.incoming
	}
	var inRange []gateway.TransferLog
	for _, l := range source {
		if l.BlockNumber >= fromBlock && l.BlockNumber <= toBlock {
			inRange = append(inRange, l)
		}
	}
	return inRange, nil
}

type fakeMarks struct {
	marks map[string]uint64
}

func newFakeMarks() *fakeMarks { return &fakeMarks{marks: map[string]uint64{}} }

func (f *fakeMarks) Get(chain, wallet string) (uint64, bool, error) {
	mark, ok := f.marks[chain+"/"+wallet]
	return mark, ok, nil
}

func (f *fakeMarks) Set(chain, wallet string, block uint64) error {
	key := chain + "/" + wallet
	if block > f.marks[key] {
		f.marks[key] = block
	}
	return nil
}

type fakeLedger struct {
	entries []model.Transaction
}

func (f *fakeLedger) Record(tx model.Transaction) error {
	for _, existing := range f.entries {
		if existing.TxHash == tx.TxHash && existing.Type == tx.Type {
			return nil
		}
	}
	f.entries = append(f.entries, tx)
	return nil
}

var testWallet = common.HexToAddress("0xAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAa")

func testChain() config.ChainConfig {
	return config.ChainConfig{Key: "base_sepolia", Name: "Base Sepolia"}
}

func transferAt(block uint64, from, to common.Address, raw int64) gateway.TransferLog {
	return gateway.TransferLog{
		TxHash:      common.BytesToHash([]byte{byte(block)}),
		From:        from,
		To:          to,
		Value:       big.NewInt(raw),
		BlockNumber: block,
	}
}

func newTestScanner(g *fakeGateway, marks *fakeMarks, ledger *fakeLedger) *Scanner {
	return NewScanner(map[string]Gateway{g.chain.Key: g}, marks, ledger, 10_000, zap.NewNop())
}

func TestScanFirstRunUsesLookbackWindow(t *testing.T) {
	counterparty := common.HexToAddress("0xBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBb")
	g := &fakeGateway{
		chain:    testChain(),
		head:     50_000,
		outgoing: []gateway.TransferLog{transferAt(44_000, testWallet, counterparty, 100_000_000)},
		incoming: []gateway.TransferLog{transferAt(45_000, counterparty, testWallet, 250_000_000)},
	}
	marks := newFakeMarks()
	ledger := &fakeLedger{}

	result, err := newTestScanner(g, marks, ledger).ScanChain(context.Background(), "base_sepolia", testWallet, 0)

	require.NoError(t, err)
	assert.Equal(t, uint64(40_000), result.FromBlock)
	assert.Equal(t, uint64(50_000), result.ToBlock)
	require.Len(t, result.Transfers, 2)
	assert.Equal(t, model.DirectionOutgoing, result.Transfers[0].Direction)
	assert.Equal(t, model.DirectionIncoming, result.Transfers[1].Direction)
	assert.Equal(t, "250", result.Transfers[1].AmountUSDC.String())
	assert.Equal(t, uint64(50_000), marks.marks["base_sepolia/"+testWallet.Hex()])

	// only the outgoing side lands in the ledger; incoming waits for the matcher
	require.Len(t, ledger.entries, 1)
	assert.Equal(t, model.TxTypeTransfer, ledger.entries[0].Type)
	assert.Equal(t, model.DirectionOutgoing, ledger.entries[0].Direction)
}

func TestScanResumesFromMark(t *testing.T) {
	g := &fakeGateway{chain: testChain(), head: 60_000}
	marks := newFakeMarks()
	marks.marks["base_sepolia/"+testWallet.Hex()] = 50_000

	result, err := newTestScanner(g, marks, &fakeLedger{}).ScanChain(context.Background(), "base_sepolia", testWallet, 0)

	require.NoError(t, err)
	assert.Equal(t, uint64(50_001), result.FromBlock)
	// mark advances to head even with zero events
	assert.Equal(t, uint64(60_000), marks.marks["base_sepolia/"+testWallet.Hex()])
}

func TestScanOverrideStartWins(t *testing.T) {
	g := &fakeGateway{chain: testChain(), head: 60_000}
	marks := newFakeMarks()
	marks.marks["base_sepolia/"+testWallet.Hex()] = 50_000

	result, err := newTestScanner(g, marks, &fakeLedger{}).ScanChain(context.Background(), "base_sepolia", testWallet, 30_000)

	require.NoError(t, err)
	assert.Equal(t, uint64(30_000), result.FromBlock)
}

func TestScanMarkHeldOnPartialFailure(t *testing.T) {
	g := &fakeGateway{
		chain:       testChain(),
		head:        60_000,
		outgoing:    []gateway.TransferLog{transferAt(55_000, testWallet, common.HexToAddress("0xCc"), 1_000_000)},
		incomingErr: errors.New("rpc unavailable"),
	}
	marks := newFakeMarks()
	marks.marks["base_sepolia/"+testWallet.Hex()] = 50_000
	ledger := &fakeLedger{}

	_, err := newTestScanner(g, marks, ledger).ScanChain(context.Background(), "base_sepolia", testWallet, 0)

	require.Error(t, err)
	assert.Equal(t, uint64(50_000), marks.marks["base_sepolia/"+testWallet.Hex()])
	// the successful outgoing pass still landed in the ledger; the re-scan is idempotent
	assert.Len(t, ledger.entries, 1)
}

func TestScanOutgoingFailureStillScansIncoming(t *testing.T) {
	counterparty := common.HexToAddress("0xBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBb")
	g := &fakeGateway{
		chain:       testChain(),
		head:        60_000,
		outgoingErr: errors.New("rpc unavailable"),
		incoming:    []gateway.TransferLog{transferAt(56_000, counterparty, testWallet, 42_000_000)},
	}
	marks := newFakeMarks()
	marks.marks["base_sepolia/"+testWallet.Hex()] = 50_000
	ledger := &fakeLedger{}

	result, err := newTestScanner(g, marks, ledger).ScanChain(context.Background(), "base_sepolia", testWallet, 0)

	require.Error(t, err)
	// the incoming pass still ran and its transfers are surfaced
	require.Len(t, result.Transfers, 1)
	assert.Equal(t, model.DirectionIncoming, result.Transfers[0].Direction)
	assert.Equal(t, "42", result.Transfers[0].AmountUSDC.String())
	assert.Equal(t, uint64(50_000), marks.marks["base_sepolia/"+testWallet.Hex()])
	assert.Empty(t, ledger.entries)
}

func TestScanRerunDoesNotDuplicateLedgerEntries(t *testing.T) {
	counterparty := common.HexToAddress("0xBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBb")
	g := &fakeGateway{
		chain:    testChain(),
		head:     50_000,
		outgoing: []gateway.TransferLog{transferAt(45_000, testWallet, counterparty, 250_000_000)},
	}
	marks := newFakeMarks()
	ledger := &fakeLedger{}
	s := newTestScanner(g, marks, ledger)

	_, err := s.ScanChain(context.Background(), "base_sepolia", testWallet, 0)
	require.NoError(t, err)
	_, err = s.ScanChain(context.Background(), "base_sepolia", testWallet, 40_000)
	require.NoError(t, err)

	assert.Len(t, ledger.entries, 1)
}

func TestScanChunksLargeRanges(t *testing.T) {
	g := &fakeGateway{chain: testChain(), head: 125_000}
	marks := newFakeMarks()
	marks.marks["base_sepolia/"+testWallet.Hex()] = 100_000

	_, err := newTestScanner(g, marks, &fakeLedger{}).ScanChain(context.Background(), "base_sepolia", testWallet, 0)

	require.NoError(t, err)
	// 100_001..125_000 covered in 10k chunks, per direction
	require.Len(t, g.queried, 6)
	assert.Equal(t, [2]uint64{100_001, 110_000}, g.queried[0])
	assert.Equal(t, [2]uint64{110_001, 120_000}, g.queried[1])
	assert.Equal(t, [2]uint64{120_001, 125_000}, g.queried[2])
}
