package reconcile

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"treasury/apps/treasury/internal/config"
	"treasury/apps/treasury/internal/gateway"
	"treasury/apps/treasury/internal/model"
	"treasury/apps/treasury/internal/repository"
)

// amountTolerance absorbs rounding differences between recorded and on-chain
// amounts.
var amountTolerance = decimal.RequireFromString("0.01")

const reconcileChunk = 10_000

// Gateway is the chain access reconciliation needs.
type Gateway interface {
	Chain() config.ChainConfig
	BlockNumber(ctx context.Context) (uint64, error)
	Decimals(ctx context.Context) (uint8, error)
	BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error)
	BlockTime(ctx context.Context, number uint64) (time.Time, error)
	FilterTransfers(ctx context.Context, wallet common.Address, direction string, fromBlock, toBlock uint64) ([]gateway.TransferLog, error)
	ReceiptStatus(ctx context.Context, txHash common.Hash) (*gateway.Receipt, error)
}

// Ledger reads and appends transaction history.
type Ledger interface {
	List(filter repository.ListFilter) ([]model.Transaction, error)
	GetByHashAndType(txHash, txType string) (*model.Transaction, error)
	Record(tx model.Transaction) error
}

// Invoices reads and settles invoices during auto-matching.
type Invoices interface {
	List(filter repository.InvoiceFilter) ([]model.Invoice, error)
	AppendPayment(invoiceNumber string, payment model.Payment) (*model.Invoice, error)
}

// Reconciler cross-checks internal records against on-chain reality and
// auto-matches incoming payments to open receivable invoices.
type Reconciler struct {
	cfg      *config.Config
	gateways map[string]Gateway
	ledger   Ledger
	invoices Invoices
	lookback uint64
	logger   *zap.Logger

	now func() time.Time
}

func NewReconciler(cfg *config.Config, gateways map[string]Gateway, ledger Ledger, invoices Invoices, lookback uint64, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		cfg:      cfg,
		gateways: gateways,
		ledger:   ledger,
		invoices: invoices,
		lookback: lookback,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run produces the full reconciliation report. A chain filter narrows the run
// to one chain; an RPC failure on one chain is reported in its section and
// does not abort the others.
func (r *Reconciler) Run(ctx context.Context, wallet common.Address, chainFilter string) (*model.ReconciliationReport, error) {
	report := &model.ReconciliationReport{
		Timestamp: r.now(),
		Chains:    map[string]*model.ChainReport{},
	}
	report.Summary.BalanceOK = true

	for chainKey, g := range r.gateways {
		if chainFilter != "" && chainKey != chainFilter {
			continue
		}
		chainReport := r.reconcileChain(ctx, g, wallet)
		report.Chains[chainKey] = chainReport

		// MatchedTxs carries mismatches alongside exact matches; only the
		// latter count as matched.
		for _, matched := range chainReport.MatchedTxs {
			if matched.Status == model.MatchStatusMatched {
				report.Summary.Matched++
			} else {
				report.Summary.AmountMismatches++
			}
		}
		report.Summary.UnmatchedInternal += len(chainReport.UnmatchedInternal)
		report.Summary.UnmatchedOnchain += len(chainReport.UnmatchedOnchain)
		for _, check := range chainReport.InvoiceChecks {
			if check.Status != model.MatchStatusMatched {
				report.Summary.InvoiceDiscrepancies++
			}
		}
		if chainReport.BalanceCheck.Status != "ok" {
			report.Summary.BalanceOK = false
		}
	}
	return report, nil
}

func (r *Reconciler) reconcileChain(ctx context.Context, g Gateway, wallet common.Address) *model.ChainReport {
	chain := g.Chain()
	chainReport := &model.ChainReport{
		ChainName:         chain.Name,
		MatchedTxs:        []model.MatchedTx{},
		UnmatchedInternal: []model.UnmatchedInternalTx{},
		UnmatchedOnchain:  []model.UnmatchedOnchainTx{},
		InvoiceChecks:     r.checkInvoices(chain.Key),
	}

	onchain, err := r.fetchWindow(ctx, g, wallet)
	if err != nil {
		chainReport.Error = err.Error()
		chainReport.BalanceCheck = model.BalanceCheck{Status: "error", Error: err.Error()}
		return chainReport
	}

	r.partition(chain.Key, onchain, chainReport)
	chainReport.BalanceCheck = r.checkBalance(ctx, g, wallet)
	return chainReport
}

// fetchWindow scans the recent block window read-only; high water marks are
// untouched so a report never affects the incremental scanner.
func (r *Reconciler) fetchWindow(ctx context.Context, g Gateway, wallet common.Address) ([]model.Transfer, error) {
	head, err := g.BlockNumber(ctx)
	if err != nil {
		return nil, err
	}
	start := uint64(0)
	if head > r.lookback {
		start = head - r.lookback
	}
	decimals, err := g.Decimals(ctx)
	if err != nil {
		return nil, err
	}

	var transfers []model.Transfer
	for _, direction := range []string{model.DirectionOutgoing, model.DirectionIncoming} {
		for chunkStart := start; chunkStart <= head; chunkStart += reconcileChunk {
			chunkEnd := chunkStart + reconcileChunk - 1
			if chunkEnd > head {
				chunkEnd = head
			}
			logs, err := g.FilterTransfers(ctx, wallet, direction, chunkStart, chunkEnd)
			if err != nil {
				return nil, err
			}
			for _, l := range logs {
				transfers = append(transfers, model.Transfer{
					TxHash:      l.TxHash.Hex(),
					Chain:       g.Chain().Key,
					Direction:   direction,
					From:        l.From.Hex(),
					To:          l.To.Hex(),
					AmountUSDC:  gateway.FromRawAmount(l.Value, decimals),
					BlockNumber: l.BlockNumber,
				})
			}
		}
	}
	return transfers, nil
}

// partition sorts every record into exactly one bucket: matched,
// amount_mismatch (kept in MatchedTxs with its status), unmatched_internal or
// unmatched_onchain.
func (r *Reconciler) partition(chainKey string, onchain []model.Transfer, chainReport *model.ChainReport) {
	internal, err := r.ledger.List(repository.ListFilter{Chain: chainKey})
	if err != nil {
		chainReport.Error = err.Error()
		return
	}

	onchainByHash := map[string]model.Transfer{}
	for _, transfer := range onchain {
		onchainByHash[strings.ToLower(transfer.TxHash)] = transfer
	}

	seen := map[string]bool{}
	for _, entry := range internal {
		if !reconcilable(entry) {
			continue
		}
		hash := strings.ToLower(entry.TxHash)
		transfer, found := onchainByHash[hash]
		if !found {
			chainReport.UnmatchedInternal = append(chainReport.UnmatchedInternal, model.UnmatchedInternalTx{
				TxHash: entry.TxHash,
				Amount: entry.AmountUSDC,
				Type:   entry.Type,
				Note:   "recorded internally but not found on-chain in the scan window",
			})
			continue
		}
		seen[hash] = true

		if entry.AmountUSDC.Sub(transfer.AmountUSDC).Abs().LessThanOrEqual(amountTolerance) {
			chainReport.MatchedTxs = append(chainReport.MatchedTxs, model.MatchedTx{
				TxHash: entry.TxHash,
				Status: model.MatchStatusMatched,
				Amount: entry.AmountUSDC,
			})
		} else {
			chainReport.MatchedTxs = append(chainReport.MatchedTxs, model.MatchedTx{
				TxHash:         entry.TxHash,
				Status:         model.MatchStatusAmountMismatch,
				InternalAmount: entry.AmountUSDC,
				OnchainAmount:  transfer.AmountUSDC,
			})
		}
	}

	for _, transfer := range onchain {
		if seen[strings.ToLower(transfer.TxHash)] {
			continue
		}
		seen[strings.ToLower(transfer.TxHash)] = true
		chainReport.UnmatchedOnchain = append(chainReport.UnmatchedOnchain, model.UnmatchedOnchainTx{
			TxHash:       transfer.TxHash,
			Amount:       transfer.AmountUSDC,
			Direction:    transfer.Direction,
			Counterparty: transfer.Counterparty(),
			Note:         "on-chain transfer with no internal record",
		})
	}
}

// reconcilable filters ledger entries that should have a matching on-chain
// USDC transfer. Approvals move no tokens and failed entries never landed.
func reconcilable(entry model.Transaction) bool {
	if entry.Status != model.TxStatusConfirmed {
		return false
	}
	return entry.Type != model.TxTypeApproval
}

func (r *Reconciler) checkInvoices(chainKey string) []model.InvoiceCheck {
	checks := []model.InvoiceCheck{}
	invoices, err := r.invoices.List(repository.InvoiceFilter{})
	if err != nil {
		r.logger.Warn("Failed to list invoices for reconciliation", zap.Error(err))
		return checks
	}

	for _, invoice := range invoices {
		if invoice.Chain != chainKey || invoice.Status == model.InvoiceStatusCancelled {
			continue
		}
		sum := decimal.Zero
		for _, payment := range invoice.Payments {
			if payment.Status == model.TxStatusConfirmed {
				sum = sum.Add(payment.AmountUSDC)
			}
		}
		status := model.MatchStatusMatched
		if !sum.Sub(invoice.PaidUSDC).Abs().LessThanOrEqual(amountTolerance) {
			status = model.MatchStatusAmountMismatch
		}
		checks = append(checks, model.InvoiceCheck{
			InvoiceNumber: invoice.InvoiceNumber,
			Status:        status,
			PaymentSum:    sum,
			RecordedPaid:  invoice.PaidUSDC,
			Total:         invoice.TotalUSDC,
			InvoiceStatus: invoice.Status,
		})
	}
	return checks
}

// checkBalance is informational: a live read failure flags the report but
// never blocks it.
func (r *Reconciler) checkBalance(ctx context.Context, g Gateway, wallet common.Address) model.BalanceCheck {
	decimals, err := g.Decimals(ctx)
	if err != nil {
		return model.BalanceCheck{Status: "error", Error: err.Error()}
	}
	balance, err := g.BalanceOf(ctx, wallet)
	if err != nil {
		return model.BalanceCheck{Status: "error", Error: err.Error()}
	}
	return model.BalanceCheck{
		OnchainUSDC: gateway.FromRawAmount(balance, decimals),
		Status:      "ok",
	}
}

// MatchResult describes what happened to one incoming transfer.
type MatchResult struct {
	TxHash        string `json:"tx_hash"`
	InvoiceNumber string `json:"invoice_number,omitempty"`
	Action        string `json:"action"`
}

// AutoMatch links unrecorded incoming transfers to open receivable invoices.
// An exact remaining-amount match (within tolerance) on the sender's invoices
// wins; otherwise the transfer settles the sender's only open invoice. A
// sender with several open invoices and no amount match is left for manual
// review as an uncategorized entry.
func (r *Reconciler) AutoMatch(ctx context.Context, chainKey string, transfers []model.Transfer) ([]MatchResult, error) {
	chain, err := r.cfg.Chain(chainKey)
	if err != nil {
		return nil, err
	}

	results := make([]MatchResult, 0, len(transfers))
	for _, transfer := range transfers {
		if transfer.Direction != model.DirectionIncoming {
			continue
		}
		recorded, err := r.alreadyRecorded(transfer.TxHash)
		if err != nil {
			return results, err
		}
		if recorded {
			// Overlapping scans re-deliver transfers; never apply one twice.
			results = append(results, MatchResult{TxHash: transfer.TxHash, Action: "already_recorded"})
			continue
		}
		invoice, err := r.matchInvoice(chainKey, transfer)
		if err != nil {
			return results, err
		}
		if invoice == nil {
			r.recordUncategorized(chain, transfer)
			results = append(results, MatchResult{TxHash: transfer.TxHash, Action: "uncategorized"})
			continue
		}

		payment := model.Payment{
			PaymentID:   uuid.New().String(),
			TxHash:      transfer.TxHash,
			Chain:       chainKey,
			ChainName:   chain.Name,
			FromWallet:  transfer.From,
			ToWallet:    transfer.To,
			AmountUSDC:  transfer.AmountUSDC,
			Status:      model.TxStatusConfirmed,
			BlockNumber: transfer.BlockNumber,
			Timestamp:   transfer.Timestamp,
			ExplorerURL: chain.ExplorerTxURL(transfer.TxHash),
		}
		updated, err := r.invoices.AppendPayment(invoice.InvoiceNumber, payment)
		if err != nil {
			return results, err
		}

		r.recordInvoiceReceipt(chain, transfer, invoice.InvoiceNumber)
		results = append(results, MatchResult{
			TxHash:        transfer.TxHash,
			InvoiceNumber: invoice.InvoiceNumber,
			Action:        "matched",
		})
		r.logger.Info("Auto-matched incoming payment",
			zap.String("tx_hash", transfer.TxHash),
			zap.String("invoice_number", invoice.InvoiceNumber),
			zap.String("amount_usdc", transfer.AmountUSDC.String()),
			zap.String("new_status", updated.Status))
	}
	return results, nil
}

// alreadyRecorded reports whether an incoming transfer was applied by an
// earlier run, either as an invoice payment or as an uncategorized entry.
func (r *Reconciler) alreadyRecorded(txHash string) (bool, error) {
	for _, txType := range []string{model.TxTypeInvoicePayment, model.TxTypeIncoming} {
		entry, err := r.ledger.GetByHashAndType(txHash, txType)
		if err != nil {
			return false, err
		}
		if entry != nil {
			return true, nil
		}
	}
	return false, nil
}

func (r *Reconciler) matchInvoice(chainKey string, transfer model.Transfer) (*model.Invoice, error) {
	open, err := r.invoices.List(repository.InvoiceFilter{
		OpenOnly:     true,
		Counterparty: transfer.From,
		InvoiceType:  model.InvoiceTypeReceivable,
	})
	if err != nil {
		return nil, err
	}

	var sameChain []model.Invoice
	for _, invoice := range open {
		if invoice.Chain == chainKey {
			sameChain = append(sameChain, invoice)
		}
	}
	if len(sameChain) == 0 {
		return nil, nil
	}

	for i := range sameChain {
		if sameChain[i].RemainingUSDC.Sub(transfer.AmountUSDC).Abs().LessThanOrEqual(amountTolerance) {
			return &sameChain[i], nil
		}
	}
	if len(sameChain) == 1 {
		return &sameChain[0], nil
	}
	return nil, nil
}

func (r *Reconciler) recordUncategorized(chain config.ChainConfig, transfer model.Transfer) {
	r.recordEntry(chain, transfer, model.TxTypeIncoming, "")
}

func (r *Reconciler) recordInvoiceReceipt(chain config.ChainConfig, transfer model.Transfer, invoiceNumber string) {
	r.recordEntry(chain, transfer, model.TxTypeInvoicePayment, invoiceNumber)
}

func (r *Reconciler) recordEntry(chain config.ChainConfig, transfer model.Transfer, txType, invoiceNumber string) {
	entry := model.Transaction{
		TxHash:        transfer.TxHash,
		Chain:         chain.Key,
		ChainName:     chain.Name,
		Direction:     model.DirectionIncoming,
		FromAddress:   transfer.From,
		ToAddress:     transfer.To,
		AmountUSDC:    transfer.AmountUSDC,
		Type:          txType,
		Status:        model.TxStatusConfirmed,
		BlockNumber:   transfer.BlockNumber,
		Timestamp:     transfer.Timestamp,
		ExplorerURL:   chain.ExplorerTxURL(transfer.TxHash),
		InvoiceNumber: invoiceNumber,
	}
	if err := r.ledger.Record(entry); err != nil {
		r.logger.Warn("Failed to record reconciliation entry",
			zap.String("tx_hash", transfer.TxHash),
			zap.Error(err))
	}
}

// ReconcileInvoice re-verifies each recorded payment's receipt on-chain.
func (r *Reconciler) ReconcileInvoice(ctx context.Context, invoice *model.Invoice) (*model.InvoiceReconciliation, error) {
	result := &model.InvoiceReconciliation{
		InvoiceNumber:    invoice.InvoiceNumber,
		Status:           invoice.Status,
		Total:            invoice.TotalUSDC,
		RecordedPaid:     invoice.PaidUSDC,
		PaymentsVerified: []model.PaymentVerification{},
	}

	for _, payment := range invoice.Payments {
		verification := model.PaymentVerification{
			TxHash:         payment.TxHash,
			RecordedStatus: payment.Status,
		}
		g, ok := r.gateways[payment.Chain]
		if !ok {
			verification.Error = fmt.Sprintf("unknown chain %q", payment.Chain)
			result.PaymentsVerified = append(result.PaymentsVerified, verification)
			continue
		}

		receipt, err := g.ReceiptStatus(ctx, common.HexToHash(payment.TxHash))
		switch {
		case err != nil:
			verification.Error = err.Error()
		case receipt == nil:
			verification.OnchainStatus = "not_found"
		default:
			verification.BlockNumber = receipt.BlockNumber
			if receipt.Succeeded() {
				verification.OnchainStatus = model.TxStatusConfirmed
			} else {
				verification.OnchainStatus = model.TxStatusFailed
			}
			verification.Match = verification.OnchainStatus == payment.Status
		}
		result.PaymentsVerified = append(result.PaymentsVerified, verification)
	}
	return result, nil
}
