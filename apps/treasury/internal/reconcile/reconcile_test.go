package reconcile

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"treasury/apps/treasury/internal/config"
	"treasury/apps/treasury/internal/gateway"
	"treasury/apps/treasury/internal/model"
	"treasury/apps/treasury/internal/repository"
)

var testWallet = common.HexToAddress("0xAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAa")

type fakeGateway struct {
	chain      config.ChainConfig
	head       uint64
	balance    *big.Int
	balanceErr error
	transfers  []gateway.TransferLog
	receipts   map[string]*gateway.Receipt
}

func (f *fakeGateway) Chain() config.ChainConfig                       { return f.chain }
func (f *fakeGateway) BlockNumber(ctx context.Context) (uint64, error) { return f.head, nil }
func (f *fakeGateway) Decimals(ctx context.Context) (uint8, error)     { return 6, nil }

func (f *fakeGateway) BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error) {
	if f.balanceErr != nil {
		return nil, f.balanceErr
	}
	return f.balance, nil
}

func (f *fakeGateway) BlockTime(ctx context.Context, number uint64) (time.Time, error) {
	return time.Unix(1700000000, 0).UTC(), nil
}

func (f *fakeGateway) FilterTransfers(ctx context.Context, wallet common.Address, direction string, fromBlock, toBlock uint64) ([]gateway.TransferLog, error) {
	var out []gateway.TransferLog
	for _, l := range f.transfers {
		if l.BlockNumber < fromBlock || l.BlockNumber > toBlock {
			continue
		}
		if direction == model.DirectionOutgoing && l.From == testWallet {
			out = append(out, l)
		}
		if direction == model.DirectionIncoming && l.To == testWallet {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeGateway) ReceiptStatus(ctx context.Context, txHash common.Hash) (*gateway.Receipt, error) {
	receipt, ok := f.receipts[txHash.Hex()]
	if !ok {
		return nil, nil
	}
	return receipt, nil
}

type fakeLedger struct {
	entries []model.Transaction
}

func (f *fakeLedger) List(filter repository.ListFilter) ([]model.Transaction, error) {
	var out []model.Transaction
	for _, entry := range f.entries {
		if filter.Chain != "" && entry.Chain != filter.Chain {
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

func (f *fakeLedger) GetByHashAndType(txHash, txType string) (*model.Transaction, error) {
	for i := range f.entries {
		if f.entries[i].TxHash == txHash && f.entries[i].Type == txType {
			return &f.entries[i], nil
		}
	}
	return nil, nil
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

type fakeInvoices struct {
	invoices map[string]model.Invoice
}

func (f *fakeInvoices) List(filter repository.InvoiceFilter) ([]model.Invoice, error) {
	var out []model.Invoice
	for _, invoice := range f.invoices {
		if filter.OpenOnly && !invoice.Open() {
			continue
		}
		if filter.Counterparty != "" &&
			common.HexToAddress(invoice.CounterpartyAddress) != common.HexToAddress(filter.Counterparty) {
			continue
		}
		if filter.InvoiceType != "" && invoice.InvoiceType != filter.InvoiceType {
			continue
		}
		out = append(out, invoice)
	}
	return out, nil
}

func (f *fakeInvoices) AppendPayment(invoiceNumber string, payment model.Payment) (*model.Invoice, error) {
	invoice, ok := f.invoices[invoiceNumber]
	if !ok {
		return nil, errors.New("invoice not found")
	}
	invoice.Payments = append(invoice.Payments, payment)
	invoice.PaidUSDC = invoice.PaidUSDC.Add(payment.AmountUSDC)
	invoice.RemainingUSDC = invoice.TotalUSDC.Sub(invoice.PaidUSDC)
	invoice.Status = model.StatusForPaid(invoice.PaidUSDC, invoice.TotalUSDC)
	f.invoices[invoiceNumber] = invoice
	return &invoice, nil
}

func testChain() config.ChainConfig {
	return config.ChainConfig{Key: "base_sepolia", Name: "Base Sepolia"}
}

func testConfig() *config.Config {
	return &config.Config{Chains: map[string]config.ChainConfig{"base_sepolia": testChain()}}
}

func newTestReconciler(g *fakeGateway, ledger *fakeLedger, invoices *fakeInvoices) *Reconciler {
	if invoices == nil {
		invoices = &fakeInvoices{invoices: map[string]model.Invoice{}}
	}
	return NewReconciler(testConfig(), map[string]Gateway{"base_sepolia": g}, ledger, invoices, 10_000, zap.NewNop())
}

func onchainTransfer(hash byte, block uint64, from, to common.Address, raw int64) gateway.TransferLog {
	return gateway.TransferLog{
		TxHash:      common.BytesToHash([]byte{hash}),
		From:        from,
		To:          to,
		Value:       big.NewInt(raw),
		BlockNumber: block,
	}
}

func TestRunPartitionsEveryRecord(t *testing.T) {
	counterparty := common.HexToAddress("0xBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBb")
	matchedHash := common.BytesToHash([]byte{1}).Hex()
	mismatchHash := common.BytesToHash([]byte{2}).Hex()

	g := &fakeGateway{
		chain:   testChain(),
		head:    5_000,
		balance: big.NewInt(100_000_000),
		transfers: []gateway.TransferLog{
			onchainTransfer(1, 4_000, testWallet, counterparty, 100_000_000),
			onchainTransfer(2, 4_100, testWallet, counterparty, 55_000_000),
			onchainTransfer(3, 4_200, counterparty, testWallet, 250_000_000),
		},
	}
	ledger := &fakeLedger{entries: []model.Transaction{
		{TxHash: matchedHash, Chain: "base_sepolia", Type: model.TxTypeTransfer,
			Status: model.TxStatusConfirmed, AmountUSDC: decimal.RequireFromString("100")},
		{TxHash: mismatchHash, Chain: "base_sepolia", Type: model.TxTypeTransfer,
			Status: model.TxStatusConfirmed, AmountUSDC: decimal.RequireFromString("50")},
		{TxHash: "0xghost", Chain: "base_sepolia", Type: model.TxTypeTransfer,
			Status: model.TxStatusConfirmed, AmountUSDC: decimal.RequireFromString("10")},
		// approvals and failed entries are excluded from the partition
		{TxHash: "0xapprove", Chain: "base_sepolia", Type: model.TxTypeApproval,
			Status: model.TxStatusConfirmed, AmountUSDC: decimal.RequireFromString("1")},
		{TxHash: "0xfailed", Chain: "base_sepolia", Type: model.TxTypeTransfer,
			Status: model.TxStatusFailed, AmountUSDC: decimal.RequireFromString("5")},
	}}

	report, err := newTestReconciler(g, ledger, nil).Run(context.Background(), testWallet, "")

	require.NoError(t, err)
	chainReport := report.Chains["base_sepolia"]
	require.NotNil(t, chainReport)

	require.Len(t, chainReport.MatchedTxs, 2)
	byHash := map[string]model.MatchedTx{}
	for _, m := range chainReport.MatchedTxs {
		byHash[m.TxHash] = m
	}
	assert.Equal(t, model.MatchStatusMatched, byHash[matchedHash].Status)
	assert.Equal(t, model.MatchStatusAmountMismatch, byHash[mismatchHash].Status)
	assert.Equal(t, "55", byHash[mismatchHash].OnchainAmount.String())

	require.Len(t, chainReport.UnmatchedInternal, 1)
	assert.Equal(t, "0xghost", chainReport.UnmatchedInternal[0].TxHash)

	require.Len(t, chainReport.UnmatchedOnchain, 1)
	assert.Equal(t, model.DirectionIncoming, chainReport.UnmatchedOnchain[0].Direction)

	assert.Equal(t, "ok", chainReport.BalanceCheck.Status)
	assert.True(t, report.Summary.BalanceOK)
	assert.Equal(t, 1, report.Summary.Matched)
	assert.Equal(t, 1, report.Summary.AmountMismatches)
	assert.Equal(t, 1, report.Summary.UnmatchedInternal)
	assert.Equal(t, 1, report.Summary.UnmatchedOnchain)
}

func TestRunBalanceFailureIsNonBlocking(t *testing.T) {
	g := &fakeGateway{chain: testChain(), head: 1_000, balanceErr: errors.New("rpc down")}

	report, err := newTestReconciler(g, &fakeLedger{}, nil).Run(context.Background(), testWallet, "")

	require.NoError(t, err)
	assert.False(t, report.Summary.BalanceOK)
	assert.Equal(t, "error", report.Chains["base_sepolia"].BalanceCheck.Status)
}

func TestInvoicePaymentSumDiscrepancy(t *testing.T) {
	g := &fakeGateway{chain: testChain(), head: 1_000, balance: big.NewInt(0)}
	invoices := &fakeInvoices{invoices: map[string]model.Invoice{
		"INV-0001": {
			InvoiceNumber: "INV-0001", Chain: "base_sepolia", Status: model.InvoiceStatusPartial,
			TotalUSDC: decimal.RequireFromString("500"),
			PaidUSDC:  decimal.RequireFromString("200"),
			Payments: []model.Payment{
				{AmountUSDC: decimal.RequireFromString("100"), Status: model.TxStatusConfirmed},
			},
		},
	}}

	report, err := newTestReconciler(g, &fakeLedger{}, invoices).Run(context.Background(), testWallet, "")

	require.NoError(t, err)
	checks := report.Chains["base_sepolia"].InvoiceChecks
	require.Len(t, checks, 1)
	assert.Equal(t, model.MatchStatusAmountMismatch, checks[0].Status)
	assert.Equal(t, 1, report.Summary.InvoiceDiscrepancies)
}

func receivable(number string, remaining string, sender string) model.Invoice {
	total := decimal.RequireFromString(remaining)
	return model.Invoice{
		InvoiceNumber:       number,
		Chain:               "base_sepolia",
		Status:              model.InvoiceStatusPending,
		InvoiceType:         model.InvoiceTypeReceivable,
		CounterpartyAddress: sender,
		TotalUSDC:           total,
		RemainingUSDC:       total,
	}
}

func TestAutoMatchPrefersExactAmount(t *testing.T) {
	sender := "0xBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBb"
	invoices := &fakeInvoices{invoices: map[string]model.Invoice{
		"INV-0001": receivable("INV-0001", "100", sender),
		"INV-0002": receivable("INV-0002", "250", sender),
	}}
	g := &fakeGateway{chain: testChain()}
	ledger := &fakeLedger{}
	r := newTestReconciler(g, ledger, invoices)

	results, err := r.AutoMatch(context.Background(), "base_sepolia", []model.Transfer{{
		TxHash:     "0xincoming",
		Chain:      "base_sepolia",
		Direction:  model.DirectionIncoming,
		From:       sender,
		To:         testWallet.Hex(),
		AmountUSDC: decimal.RequireFromString("250"),
	}})

	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "matched", results[0].Action)
	assert.Equal(t, "INV-0002", results[0].InvoiceNumber)
	assert.Equal(t, model.InvoiceStatusPaid, invoices.invoices["INV-0002"].Status)
	assert.Equal(t, model.InvoiceStatusPending, invoices.invoices["INV-0001"].Status)

	// linkage entry lands in the ledger
	require.Len(t, ledger.entries, 1)
	assert.Equal(t, model.TxTypeInvoicePayment, ledger.entries[0].Type)
	assert.Equal(t, "INV-0002", ledger.entries[0].InvoiceNumber)
}

func TestAutoMatchFallsBackToOnlyOpenInvoice(t *testing.T) {
	sender := "0xBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBb"
	invoices := &fakeInvoices{invoices: map[string]model.Invoice{
		"INV-0003": receivable("INV-0003", "500", sender),
	}}
	r := newTestReconciler(&fakeGateway{chain: testChain()}, &fakeLedger{}, invoices)

	results, err := r.AutoMatch(context.Background(), "base_sepolia", []model.Transfer{{
		TxHash:     "0xpartial",
		Direction:  model.DirectionIncoming,
		From:       sender,
		AmountUSDC: decimal.RequireFromString("200"),
	}})

	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "INV-0003", results[0].InvoiceNumber)
	assert.Equal(t, model.InvoiceStatusPartial, invoices.invoices["INV-0003"].Status)
}

func TestAutoMatchAppliesRedeliveredTransferOnce(t *testing.T) {
	sender := "0xBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBb"
	invoices := &fakeInvoices{invoices: map[string]model.Invoice{
		"INV-0006": receivable("INV-0006", "500", sender),
	}}
	ledger := &fakeLedger{}
	r := newTestReconciler(&fakeGateway{chain: testChain()}, ledger, invoices)

	transfer := model.Transfer{
		TxHash:     "0xincoming",
		Chain:      "base_sepolia",
		Direction:  model.DirectionIncoming,
		From:       sender,
		To:         testWallet.Hex(),
		AmountUSDC: decimal.RequireFromString("200"),
	}

	first, err := r.AutoMatch(context.Background(), "base_sepolia", []model.Transfer{transfer})
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, "matched", first[0].Action)

	// overlapping scans re-deliver the same transfer
	second, err := r.AutoMatch(context.Background(), "base_sepolia", []model.Transfer{transfer})
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, "already_recorded", second[0].Action)

	invoice := invoices.invoices["INV-0006"]
	assert.Equal(t, "200", invoice.PaidUSDC.String())
	require.Len(t, invoice.Payments, 1)
	assert.Len(t, ledger.entries, 1)
}

func TestAutoMatchSkipsUncategorizedRedelivery(t *testing.T) {
	sender := "0xBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBb"
	ledger := &fakeLedger{}
	r := newTestReconciler(&fakeGateway{chain: testChain()}, ledger,
		&fakeInvoices{invoices: map[string]model.Invoice{}})

	transfer := model.Transfer{
		TxHash:     "0xnomatch",
		Chain:      "base_sepolia",
		Direction:  model.DirectionIncoming,
		From:       sender,
		To:         testWallet.Hex(),
		AmountUSDC: decimal.RequireFromString("75"),
	}

	first, err := r.AutoMatch(context.Background(), "base_sepolia", []model.Transfer{transfer})
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, "uncategorized", first[0].Action)

	second, err := r.AutoMatch(context.Background(), "base_sepolia", []model.Transfer{transfer})
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, "already_recorded", second[0].Action)
	assert.Len(t, ledger.entries, 1)
}

func TestAutoMatchAmbiguousGoesToManualReview(t *testing.T) {
	sender := "0xBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBb"
	invoices := &fakeInvoices{invoices: map[string]model.Invoice{
		"INV-0004": receivable("INV-0004", "100", sender),
		"INV-0005": receivable("INV-0005", "300", sender),
	}}
	ledger := &fakeLedger{}
	r := newTestReconciler(&fakeGateway{chain: testChain()}, ledger, invoices)

	results, err := r.AutoMatch(context.Background(), "base_sepolia", []model.Transfer{{
		TxHash:     "0xambiguous",
		Direction:  model.DirectionIncoming,
		From:       sender,
		AmountUSDC: decimal.RequireFromString("200"),
	}})

	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "uncategorized", results[0].Action)
	assert.Equal(t, model.InvoiceStatusPending, invoices.invoices["INV-0004"].Status)
	assert.Equal(t, model.InvoiceStatusPending, invoices.invoices["INV-0005"].Status)
	require.Len(t, ledger.entries, 1)
	assert.Equal(t, model.TxTypeIncoming, ledger.entries[0].Type)
}

func TestReconcileInvoiceVerifiesReceipts(t *testing.T) {
	confirmedHash := common.BytesToHash([]byte{9}).Hex()
	g := &fakeGateway{
		chain: testChain(),
		receipts: map[string]*gateway.Receipt{
			confirmedHash: {Status: 1, BlockNumber: 777},
		},
	}
	r := newTestReconciler(g, &fakeLedger{}, nil)

	invoice := &model.Invoice{
		InvoiceNumber: "INV-0009",
		Status:        model.InvoiceStatusPartial,
		TotalUSDC:     decimal.RequireFromString("300"),
		PaidUSDC:      decimal.RequireFromString("100"),
		Payments: []model.Payment{
			{TxHash: confirmedHash, Chain: "base_sepolia", Status: model.TxStatusConfirmed},
			{TxHash: "0xmissing", Chain: "base_sepolia", Status: model.TxStatusConfirmed},
		},
	}

	result, err := r.ReconcileInvoice(context.Background(), invoice)

	require.NoError(t, err)
	require.Len(t, result.PaymentsVerified, 2)
	assert.True(t, result.PaymentsVerified[0].Match)
	assert.Equal(t, uint64(777), result.PaymentsVerified[0].BlockNumber)
	assert.Equal(t, "not_found", result.PaymentsVerified[1].OnchainStatus)
	assert.False(t, result.PaymentsVerified[1].Match)
}
