package reports

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"treasury/apps/treasury/internal/model"
	"treasury/apps/treasury/internal/repository"
	"treasury/apps/treasury/internal/treasury"
)

// Balances reads live holdings.
type Balances interface {
	AllBalances(ctx context.Context, wallet common.Address) ([]treasury.Balance, decimal.Decimal)
}

// Ledger reads transaction history.
type Ledger interface {
	List(filter repository.ListFilter) ([]model.Transaction, error)
}

// Invoices reads invoices for receivables.
type Invoices interface {
	List(filter repository.InvoiceFilter) ([]model.Invoice, error)
}

// Service produces financial summaries: thin arithmetic over live balances,
// the ledger and open invoices.
type Service struct {
	balances Balances
	ledger   Ledger
	invoices Invoices
	logger   *zap.Logger
}

func NewService(balances Balances, ledger Ledger, invoices Invoices, logger *zap.Logger) *Service {
	return &Service{balances: balances, ledger: ledger, invoices: invoices, logger: logger}
}

// BalanceSheet values USDC at par and counts open receivable invoices as
// assets.
type BalanceSheet struct {
	AsOf          time.Time          `json:"as_of"`
	Holdings      []treasury.Balance `json:"holdings"`
	TotalUSDC     decimal.Decimal    `json:"total_usdc"`
	Receivables   []Receivable       `json:"receivables"`
	ReceivableSum decimal.Decimal    `json:"receivable_sum"`
	TotalAssets   decimal.Decimal    `json:"total_assets"`
}

type Receivable struct {
	InvoiceNumber string          `json:"invoice_number"`
	Counterparty  string          `json:"counterparty"`
	Remaining     decimal.Decimal `json:"remaining"`
	DueDate       time.Time       `json:"due_date,omitempty"`
}

func (s *Service) BalanceSheet(ctx context.Context, wallet common.Address) (*BalanceSheet, error) {
	holdings, total := s.balances.AllBalances(ctx, wallet)

	open, err := s.invoices.List(repository.InvoiceFilter{
		OpenOnly:    true,
		InvoiceType: model.InvoiceTypeReceivable,
	})
	if err != nil {
		return nil, err
	}

	sheet := &BalanceSheet{
		AsOf:          time.Now().UTC(),
		Holdings:      holdings,
		TotalUSDC:     total,
		Receivables:   []Receivable{},
		ReceivableSum: decimal.Zero,
	}
	for _, invoice := range open {
		sheet.Receivables = append(sheet.Receivables, Receivable{
			InvoiceNumber: invoice.InvoiceNumber,
			Counterparty:  invoice.CounterpartyName,
			Remaining:     invoice.RemainingUSDC,
			DueDate:       invoice.DueDate,
		})
		sheet.ReceivableSum = sheet.ReceivableSum.Add(invoice.RemainingUSDC)
	}
	sheet.TotalAssets = sheet.TotalUSDC.Add(sheet.ReceivableSum)
	return sheet, nil
}

// SpendingSummary is outgoing USDC grouped by category over a period.
type SpendingSummary struct {
	From       time.Time                  `json:"from"`
	Categories map[string]decimal.Decimal `json:"categories"`
	Total      decimal.Decimal            `json:"total"`
	TxCount    int                        `json:"tx_count"`
}

func (s *Service) SpendingByCategory(chain string, since time.Time) (*SpendingSummary, error) {
	entries, err := s.ledger.List(repository.ListFilter{
		Chain:     chain,
		Direction: model.DirectionOutgoing,
		Since:     since,
	})
	if err != nil {
		return nil, err
	}

	summary := &SpendingSummary{
		From:       since,
		Categories: map[string]decimal.Decimal{},
		Total:      decimal.Zero,
	}
	for _, entry := range entries {
		if entry.Status != model.TxStatusConfirmed || entry.Type == model.TxTypeApproval {
			continue
		}
		category := entry.Category
		if category == "" {
			category = "uncategorized"
		}
		summary.Categories[category] = summary.Categories[category].Add(entry.AmountUSDC)
		summary.Total = summary.Total.Add(entry.AmountUSDC)
		summary.TxCount++
	}
	return summary, nil
}
