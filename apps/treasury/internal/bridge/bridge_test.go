package bridge

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"treasury/apps/treasury/internal/config"
	"treasury/apps/treasury/internal/gateway"
	"treasury/apps/treasury/internal/model"
)

type fakeGateway struct {
	chain     config.ChainConfig
	account   common.Address
	balance   *big.Int
	allowance *big.Int
	nonceUsed bool

	receipts  []*gateway.Receipt
	submitted []common.Address
}

func (f *fakeGateway) Chain() config.ChainConfig { return f.chain }
func (f *fakeGateway) Account() common.Address   { return f.account }

func (f *fakeGateway) Decimals(ctx context.Context) (uint8, error) { return 6, nil }

func (f *fakeGateway) BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error) {
	return f.balance, nil
}

func (f *fakeGateway) Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	return f.allowance, nil
}

func (f *fakeGateway) SuggestFees(ctx context.Context) (gateway.FeeParams, error) {
	return gateway.FeeParams{GasPrice: big.NewInt(1)}, nil
}

func (f *fakeGateway) EstimateGasWithBuffer(ctx context.Context, call ethereum.CallMsg) uint64 {
	return 100000
}

func (f *fakeGateway) SubmitCall(ctx context.Context, to common.Address, data []byte, fees gateway.FeeParams, gasLimit uint64) (common.Hash, error) {
	f.submitted = append(f.submitted, to)
	return crypto.Keccak256Hash([]byte(fmt.Sprintf("%s-%d", f.chain.Key, len(f.submitted)))), nil
}

func (f *fakeGateway) WaitForReceipt(ctx context.Context, txHash common.Hash, timeout time.Duration) (*gateway.Receipt, error) {
	if len(f.receipts) == 0 {
		return nil, errors.New("no receipt queued")
	}
	receipt := f.receipts[0]
	f.receipts = f.receipts[1:]
	receipt.TxHash = txHash
	return receipt, nil
}

func (f *fakeGateway) NonceUsed(ctx context.Context, nonce [32]byte) (bool, error) {
	return f.nonceUsed, nil
}

func (f *fakeGateway) BlockTime(ctx context.Context, number uint64) (time.Time, error) {
	return time.Unix(1700000000, 0).UTC(), nil
}

type fakeStore struct {
	records map[string]model.BridgeRecord
}

func newFakeStore() *fakeStore { return &fakeStore{records: map[string]model.BridgeRecord{}} }

func (f *fakeStore) Create(record model.BridgeRecord) error {
	if _, exists := f.records[record.BurnTxHash]; exists {
		return errors.New("duplicate bridge record")
	}
	f.records[record.BurnTxHash] = record
	return nil
}

func (f *fakeStore) Get(burnTxHash string) (*model.BridgeRecord, error) {
	record, ok := f.records[burnTxHash]
	if !ok {
		return nil, nil
	}
	return &record, nil
}

func (f *fakeStore) Update(record model.BridgeRecord) error {
	current, ok := f.records[record.BurnTxHash]
	if !ok {
		return errors.New("record not found")
	}
	if !model.CanTransition(current.Status, record.Status) {
		return fmt.Errorf("invalid transition %s -> %s", current.Status, record.Status)
	}
	f.records[record.BurnTxHash] = record
	return nil
}

func (f *fakeStore) ListPending() ([]model.BridgeRecord, error) {
	var pending []model.BridgeRecord
	for _, record := range f.records {
		if record.Status != model.BridgeStatusCompleted {
			pending = append(pending, record)
		}
	}
	return pending, nil
}

type fakeLedger struct {
	entries []model.Transaction
}

func (f *fakeLedger) Record(tx model.Transaction) error {
	f.entries = append(f.entries, tx)
	return nil
}

func (f *fakeLedger) GetByHash(txHash string) (*model.Transaction, error) {
	for i := range f.entries {
		if f.entries[i].TxHash == txHash {
			return &f.entries[i], nil
		}
	}
	return nil, nil
}

func (f *fakeLedger) GetMintForBurn(burnTxHash string) (*model.Transaction, error) {
	for i := range f.entries {
		if f.entries[i].Type == model.TxTypeBridgeMint && f.entries[i].CCTPBurnTx == burnTxHash {
			return &f.entries[i], nil
		}
	}
	return nil, nil
}

func (f *fakeLedger) byType(txType string) []model.Transaction {
	var out []model.Transaction
	for _, entry := range f.entries {
		if entry.Type == txType {
			out = append(out, entry)
		}
	}
	return out
}

type fakeOracle struct {
	fetch func(ctx context.Context, domain uint32, txHash string) (*Attestation, error)
	fees  []BurnFee
}

func (f *fakeOracle) Fetch(ctx context.Context, domain uint32, txHash string) (*Attestation, error) {
	return f.fetch(ctx, domain, txHash)
}

func (f *fakeOracle) FetchFees(ctx context.Context, src, dst uint32) ([]BurnFee, error) {
	return f.fees, nil
}

func testChains() (config.ChainConfig, config.ChainConfig) {
	src := config.ChainConfig{
		Key:                "ethereum_sepolia",
		Name:               "Ethereum Sepolia",
		CCTPDomain:         0,
		USDCAddress:        common.HexToAddress("0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238"),
		TokenMessenger:     common.HexToAddress("0x8FE6B999Dc680CcFDD5Bf7EB0974218be2542DAA"),
		MessageTransmitter: common.HexToAddress("0xE737e5cEBEEBa77EFE34D4aa090756590b1CE275"),
	}
	dst := src
	dst.Key = "base_sepolia"
	dst.Name = "Base Sepolia"
	dst.CCTPDomain = 6
	return src, dst
}

// encodeMessageData ABI-encodes a dynamic bytes argument the way the
// transmitter emits MessageSent.
func encodeMessageData(message []byte) []byte {
	padded := ((len(message) + 31) / 32) * 32
	data := make([]byte, 64+padded)
	data[31] = 32
	binary.BigEndian.PutUint64(data[56:64], uint64(len(message)))
	copy(data[64:], message)
	return data
}

func testMessage() []byte {
	message := make([]byte, 148)
	for i := range message {
		message[i] = byte(i)
	}
	return message
}

func burnReceipt(transmitter common.Address, message []byte) *gateway.Receipt {
	return &gateway.Receipt{
		Status:      1,
		BlockNumber: 1234,
		GasUsed:     90000,
		Logs: []gateway.Log{{
			Address: transmitter,
			Topics:  []common.Hash{gateway.MessageSentEventSig},
			Data:    encodeMessageData(message),
		}},
	}
}

func newTestService(src, dst *fakeGateway, store *fakeStore, ledger *fakeLedger, oracle Oracle) *Service {
	cfg := &config.Config{ReceiptTimeout: time.Second}
	svc := NewService(cfg,
		map[string]Gateway{src.chain.Key: src, dst.chain.Key: dst},
		store, ledger, oracle, nil, zap.NewNop())
	svc.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return svc
}

func TestInitiateRejectsInsufficientBalance(t *testing.T) {
	srcChain, dstChain := testChains()
	src := &fakeGateway{chain: srcChain, balance: big.NewInt(1_000_000), allowance: big.NewInt(0)}
	dst := &fakeGateway{chain: dstChain}
	store := newFakeStore()
	svc := newTestService(src, dst, store, &fakeLedger{}, &fakeOracle{})

	_, err := svc.Initiate(context.Background(), srcChain.Key, dstChain.Key,
		decimal.RequireFromString("100"), common.HexToAddress("0x1111111111111111111111111111111111111111"), false)

	require.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Empty(t, store.records)
	assert.Empty(t, src.submitted)
}

func TestInitiatePersistsBurnRecord(t *testing.T) {
	srcChain, dstChain := testChains()
	message := testMessage()
	src := &fakeGateway{
		chain:     srcChain,
		balance:   big.NewInt(500_000_000),
		allowance: big.NewInt(500_000_000),
		receipts:  []*gateway.Receipt{burnReceipt(srcChain.MessageTransmitter, message)},
	}
	dst := &fakeGateway{chain: dstChain}
	store := newFakeStore()
	ledger := &fakeLedger{}
	svc := newTestService(src, dst, store, ledger, &fakeOracle{})

	record, err := svc.Initiate(context.Background(), srcChain.Key, dstChain.Key,
		decimal.RequireFromString("250"), common.HexToAddress("0x2222222222222222222222222222222222222222"), false)

	require.NoError(t, err)
	assert.Equal(t, model.BridgeStatusBurnConfirmed, record.Status)
	assert.Equal(t, message, record.MessageBytes)
	assert.Equal(t, crypto.Keccak256Hash(message).Hex(), record.MessageHash)
	assert.Len(t, store.records, 1)

	// allowance covered the burn so only depositForBurn was submitted
	require.Len(t, src.submitted, 1)
	assert.Equal(t, srcChain.TokenMessenger, src.submitted[0])

	burns := ledger.byType(model.TxTypeBridgeBurn)
	require.Len(t, burns, 1)
	assert.Equal(t, model.TxStatusConfirmed, burns[0].Status)
	assert.Equal(t, record.MessageHash, burns[0].CCTPMessageHash)
}

func TestInitiateApprovesWhenAllowanceLow(t *testing.T) {
	srcChain, dstChain := testChains()
	src := &fakeGateway{
		chain:     srcChain,
		balance:   big.NewInt(500_000_000),
		allowance: big.NewInt(0),
		receipts: []*gateway.Receipt{
			{Status: 1, BlockNumber: 1000, GasUsed: 50000},
			burnReceipt(srcChain.MessageTransmitter, testMessage()),
		},
	}
	dst := &fakeGateway{chain: dstChain}
	ledger := &fakeLedger{}
	svc := newTestService(src, dst, newFakeStore(), ledger, &fakeOracle{})

	_, err := svc.Initiate(context.Background(), srcChain.Key, dstChain.Key,
		decimal.RequireFromString("100"), common.HexToAddress("0x3333333333333333333333333333333333333333"), false)

	require.NoError(t, err)
	require.Len(t, src.submitted, 2)
	assert.Equal(t, srcChain.USDCAddress, src.submitted[0])
	assert.Equal(t, srcChain.TokenMessenger, src.submitted[1])
	assert.Len(t, ledger.byType(model.TxTypeApproval), 1)
}

func TestInitiateRevertedBurnLeavesNoRecord(t *testing.T) {
	srcChain, dstChain := testChains()
	src := &fakeGateway{
		chain:     srcChain,
		balance:   big.NewInt(500_000_000),
		allowance: big.NewInt(500_000_000),
		receipts:  []*gateway.Receipt{{Status: 0, BlockNumber: 1000}},
	}
	dst := &fakeGateway{chain: dstChain}
	store := newFakeStore()
	ledger := &fakeLedger{}
	svc := newTestService(src, dst, store, ledger, &fakeOracle{})

	_, err := svc.Initiate(context.Background(), srcChain.Key, dstChain.Key,
		decimal.RequireFromString("100"), common.HexToAddress("0x4444444444444444444444444444444444444444"), false)

	var chainErr *gateway.ChainError
	require.ErrorAs(t, err, &chainErr)
	assert.Empty(t, store.records)

	burns := ledger.byType(model.TxTypeBridgeBurn)
	require.Len(t, burns, 1)
	assert.Equal(t, model.TxStatusFailed, burns[0].Status)
}

func seedRecord(store *fakeStore, status string, message []byte) model.BridgeRecord {
	record := model.BridgeRecord{
		BurnTxHash:   "0xburn",
		SourceChain:  "ethereum_sepolia",
		DestChain:    "base_sepolia",
		AmountUSDC:   decimal.RequireFromString("250"),
		Recipient:    "0x2222222222222222222222222222222222222222",
		MessageBytes: message,
		MessageHash:  crypto.Keccak256Hash(message).Hex(),
		Status:       status,
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}
	store.records[record.BurnTxHash] = record
	return record
}

func TestPollAttestationStoresResult(t *testing.T) {
	srcChain, dstChain := testChains()
	src := &fakeGateway{chain: srcChain}
	dst := &fakeGateway{chain: dstChain}
	store := newFakeStore()
	message := testMessage()
	seedRecord(store, model.BridgeStatusBurnConfirmed, message)

	calls := 0
	oracle := &fakeOracle{fetch: func(ctx context.Context, domain uint32, txHash string) (*Attestation, error) {
		calls++
		if calls < 3 {
			return nil, ErrAttestationPending
		}
		return &Attestation{Message: message, Attestation: []byte{0xaa, 0xbb}}, nil
	}}
	svc := newTestService(src, dst, store, &fakeLedger{}, oracle)

	record, err := svc.PollAttestation(context.Background(), "0xburn", time.Minute)

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, model.BridgeStatusAttestationReceived, record.Status)
	assert.Equal(t, []byte{0xaa, 0xbb}, record.Attestation)
	assert.Equal(t, model.BridgeStatusAttestationReceived, store.records["0xburn"].Status)
}

func TestPollAttestationRetriesOracleOutage(t *testing.T) {
	srcChain, dstChain := testChains()
	src := &fakeGateway{chain: srcChain}
	dst := &fakeGateway{chain: dstChain}
	store := newFakeStore()
	message := testMessage()
	seedRecord(store, model.BridgeStatusBurnConfirmed, message)

	calls := 0
	oracle := &fakeOracle{fetch: func(ctx context.Context, domain uint32, txHash string) (*Attestation, error) {
		calls++
		if calls < 3 {
			return nil, ErrOracleUnavailable
		}
		return &Attestation{Message: message, Attestation: []byte{0xdd}}, nil
	}}
	svc := newTestService(src, dst, store, &fakeLedger{}, oracle)

	record, err := svc.PollAttestation(context.Background(), "0xburn", time.Minute)

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, model.BridgeStatusAttestationReceived, record.Status)
}

func TestPollAttestationTimeoutLeavesRecordResumable(t *testing.T) {
	srcChain, dstChain := testChains()
	src := &fakeGateway{chain: srcChain}
	dst := &fakeGateway{chain: dstChain}
	store := newFakeStore()
	seedRecord(store, model.BridgeStatusBurnConfirmed, testMessage())

	oracle := &fakeOracle{fetch: func(ctx context.Context, domain uint32, txHash string) (*Attestation, error) {
		return nil, ErrAttestationPending
	}}
	svc := newTestService(src, dst, store, &fakeLedger{}, oracle)

	_, err := svc.PollAttestation(context.Background(), "0xburn", 0)

	require.ErrorIs(t, err, ErrAttestationTimeout)
	assert.Equal(t, model.BridgeStatusAwaitingAttestation, store.records["0xburn"].Status)
}

func TestRetryMintRequiresStoredAttestation(t *testing.T) {
	srcChain, dstChain := testChains()
	src := &fakeGateway{chain: srcChain}
	dst := &fakeGateway{chain: dstChain}
	store := newFakeStore()
	seedRecord(store, model.BridgeStatusAwaitingAttestation, testMessage())
	svc := newTestService(src, dst, store, &fakeLedger{}, &fakeOracle{})

	_, err := svc.RetryMint(context.Background(), "0xburn")

	require.ErrorIs(t, err, ErrNoStoredAttestation)
	assert.Empty(t, dst.submitted)
}

func TestCompleteMintPollsWhenAttestationMissing(t *testing.T) {
	srcChain, dstChain := testChains()
	src := &fakeGateway{chain: srcChain}
	dst := &fakeGateway{
		chain:    dstChain,
		receipts: []*gateway.Receipt{{Status: 1, BlockNumber: 2100, GasUsed: 110000}},
	}
	store := newFakeStore()
	message := testMessage()
	seedRecord(store, model.BridgeStatusAwaitingAttestation, message)

	calls := 0
	oracle := &fakeOracle{fetch: func(ctx context.Context, domain uint32, txHash string) (*Attestation, error) {
		calls++
		return &Attestation{Message: message, Attestation: []byte{0xcc}}, nil
	}}
	svc := newTestService(src, dst, store, &fakeLedger{}, oracle)

	completed, err := svc.CompleteMint(context.Background(), "0xburn", time.Minute)

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, model.BridgeStatusCompleted, completed.Status)
	assert.NotEmpty(t, completed.MintTxHash)
	require.Len(t, dst.submitted, 1)
	assert.Equal(t, dstChain.MessageTransmitter, dst.submitted[0])
}

func TestCompleteMintSubmitsReceiveMessage(t *testing.T) {
	srcChain, dstChain := testChains()
	src := &fakeGateway{chain: srcChain}
	dst := &fakeGateway{
		chain:    dstChain,
		receipts: []*gateway.Receipt{{Status: 1, BlockNumber: 2000, GasUsed: 120000}},
	}
	store := newFakeStore()
	record := seedRecord(store, model.BridgeStatusAttestationReceived, testMessage())
	record.Attestation = []byte{0xaa}
	store.records[record.BurnTxHash] = record
	ledger := &fakeLedger{}
	svc := newTestService(src, dst, store, ledger, &fakeOracle{})

	completed, err := svc.CompleteMint(context.Background(), "0xburn", time.Minute)

	require.NoError(t, err)
	assert.Equal(t, model.BridgeStatusCompleted, completed.Status)
	assert.NotEmpty(t, completed.MintTxHash)
	require.Len(t, dst.submitted, 1)
	assert.Equal(t, dstChain.MessageTransmitter, dst.submitted[0])

	mints := ledger.byType(model.TxTypeBridgeMint)
	require.Len(t, mints, 1)
	assert.Equal(t, "0xburn", mints[0].CCTPBurnTx)
	assert.Equal(t, model.DirectionIncoming, mints[0].Direction)
}

func TestCompleteMintConvergesWhenNonceConsumed(t *testing.T) {
	srcChain, dstChain := testChains()
	src := &fakeGateway{chain: srcChain}
	dst := &fakeGateway{chain: dstChain, nonceUsed: true}
	store := newFakeStore()
	record := seedRecord(store, model.BridgeStatusAttestationReceived, testMessage())
	record.Attestation = []byte{0xaa}
	store.records[record.BurnTxHash] = record
	svc := newTestService(src, dst, store, &fakeLedger{}, &fakeOracle{})

	completed, err := svc.CompleteMint(context.Background(), "0xburn", time.Minute)

	// something else consumed the nonce, so the record converges but the
	// caller is told this call minted nothing
	require.ErrorIs(t, err, ErrAlreadyCompleted)
	assert.Equal(t, model.BridgeStatusCompleted, completed.Status)
	assert.Equal(t, "external", completed.MintTxHash)
	assert.Empty(t, dst.submitted)
	assert.Equal(t, model.BridgeStatusCompleted, store.records["0xburn"].Status)

	// the converged record now completes as a no-op
	again, err := svc.CompleteMint(context.Background(), "0xburn", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, model.BridgeStatusCompleted, again.Status)
}

func TestCompleteMintAlreadyCompleted(t *testing.T) {
	srcChain, dstChain := testChains()
	src := &fakeGateway{chain: srcChain}
	dst := &fakeGateway{chain: dstChain}
	store := newFakeStore()
	record := seedRecord(store, model.BridgeStatusCompleted, testMessage())
	record.MintTxHash = "0xmint"
	store.records[record.BurnTxHash] = record
	svc := newTestService(src, dst, store, &fakeLedger{}, &fakeOracle{})

	returned, err := svc.CompleteMint(context.Background(), "0xburn", time.Minute)

	require.NoError(t, err)
	assert.Equal(t, "0xmint", returned.MintTxHash)
	assert.Empty(t, dst.submitted)
}

func TestRetryMintUsesStoredAttestation(t *testing.T) {
	srcChain, dstChain := testChains()
	src := &fakeGateway{chain: srcChain}
	dst := &fakeGateway{
		chain:    dstChain,
		receipts: []*gateway.Receipt{{Status: 1, BlockNumber: 2100, GasUsed: 110000}},
	}
	store := newFakeStore()
	record := seedRecord(store, model.BridgeStatusAttestationReceived, testMessage())
	record.Attestation = []byte{0xcc}
	store.records[record.BurnTxHash] = record

	oracle := &fakeOracle{fetch: func(ctx context.Context, domain uint32, txHash string) (*Attestation, error) {
		t.Fatal("oracle queried during retry")
		return nil, nil
	}}
	svc := newTestService(src, dst, store, &fakeLedger{}, oracle)

	completed, err := svc.RetryMint(context.Background(), "0xburn")

	require.NoError(t, err)
	assert.Equal(t, model.BridgeStatusCompleted, completed.Status)
	assert.NotEmpty(t, completed.MintTxHash)
}

func TestStatusFallsBackToLedger(t *testing.T) {
	srcChain, dstChain := testChains()
	src := &fakeGateway{chain: srcChain}
	dst := &fakeGateway{chain: dstChain}
	ledger := &fakeLedger{entries: []model.Transaction{{
		TxHash: "0xhistoric",
		Type:   model.TxTypeBridgeBurn,
		Chain:  srcChain.Key,
	}}}
	svc := newTestService(src, dst, newFakeStore(), ledger, &fakeOracle{})

	result, err := svc.Status(context.Background(), "0xhistoric")

	require.NoError(t, err)
	assert.Nil(t, result.Record)
	require.NotNil(t, result.Burn)
	assert.Equal(t, "0xhistoric", result.Burn.TxHash)

	_, err = svc.Status(context.Background(), "0xunknown")
	assert.ErrorIs(t, err, ErrNotFound)
}
