package invoices

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"treasury/apps/treasury/internal/config"
	"treasury/apps/treasury/internal/events"
	"treasury/apps/treasury/internal/model"
	"treasury/apps/treasury/internal/repository"
)

var (
	// ErrNotFound means no invoice matches the number.
	ErrNotFound = errors.New("invoice not found")

	// ErrNotOpen means the invoice cannot accept the requested change.
	ErrNotOpen = errors.New("invoice is not open")

	// ErrHasPayments means a cancel was refused because payments exist.
	ErrHasPayments = errors.New("invoice has recorded payments")
)

// Store persists invoices.
type Store interface {
	NextNumber() (string, error)
	Create(invoice model.Invoice) error
	GetByNumber(invoiceNumber string) (*model.Invoice, error)
	List(filter repository.InvoiceFilter) ([]model.Invoice, error)
	AppendPayment(invoiceNumber string, payment model.Payment) (*model.Invoice, error)
	UpdateStatus(invoiceNumber, status string) error
}

// Payer executes the on-chain payment leg.
type Payer interface {
	PayInvoiceTransfer(ctx context.Context, chain string, to common.Address, amount decimal.Decimal, memo, category, invoiceNumber string) (*model.Transaction, error)
}

// Ledger exposes invoice-linked history for audit trails.
type Ledger interface {
	ListByInvoice(invoiceNumber string) ([]model.Transaction, error)
}

// Events is the optional outbox; nil disables notifications.
type Events interface {
	Enqueue(eventType string, payload interface{}) error
}

// Service manages the invoice lifecycle: creation with generated numbering,
// on-chain payment with status transitions, cancellation and audit.
type Service struct {
	cfg    *config.Config
	store  Store
	payer  Payer
	ledger Ledger
	outbox Events
	logger *zap.Logger

	now func() time.Time
}

func NewService(cfg *config.Config, store Store, payer Payer, ledger Ledger, outbox Events, logger *zap.Logger) *Service {
	return &Service{
		cfg:    cfg,
		store:  store,
		payer:  payer,
		ledger: ledger,
		outbox: outbox,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// CreateParams describes a new invoice.
type CreateParams struct {
	CounterpartyName    string
	CounterpartyAddress string
	Chain               string
	LineItems           []model.LineItem
	Category            string
	Memo                string
	InvoiceType         string
	DueDate             time.Time
}

// Create validates the line items, totals them and persists a new invoice in
// pending status with the next generated number.
func (s *Service) Create(params CreateParams) (*model.Invoice, error) {
	if len(params.LineItems) == 0 {
		return nil, fmt.Errorf("invoice needs at least one line item")
	}
	chain, err := s.cfg.Chain(params.Chain)
	if err != nil {
		return nil, err
	}
	if params.InvoiceType == "" {
		params.InvoiceType = model.InvoiceTypePayable
	}
	if params.InvoiceType != model.InvoiceTypePayable && params.InvoiceType != model.InvoiceTypeReceivable {
		return nil, fmt.Errorf("unknown invoice type %q", params.InvoiceType)
	}

	total := decimal.Zero
	items := make([]model.LineItem, 0, len(params.LineItems))
	for _, item := range params.LineItems {
		if !item.Quantity.IsPositive() || item.UnitPrice.IsNegative() {
			return nil, fmt.Errorf("invalid line item %q: quantity %s, unit price %s",
				item.Description, item.Quantity, item.UnitPrice)
		}
		item.Amount = item.Quantity.Mul(item.UnitPrice)
		total = total.Add(item.Amount)
		items = append(items, item)
	}
	if !total.IsPositive() {
		return nil, fmt.Errorf("invoice total must be positive, got %s", total)
	}

	number, err := s.store.NextNumber()
	if err != nil {
		return nil, err
	}

	invoice := model.Invoice{
		ID:                  uuid.New().String(),
		InvoiceNumber:       number,
		Status:              model.InvoiceStatusPending,
		CounterpartyName:    params.CounterpartyName,
		CounterpartyAddress: params.CounterpartyAddress,
		Chain:               params.Chain,
		ChainName:           chain.Name,
		LineItems:           items,
		TotalUSDC:           total,
		PaidUSDC:            decimal.Zero,
		RemainingUSDC:       total,
		Payments:            []model.Payment{},
		Category:            params.Category,
		Memo:                params.Memo,
		InvoiceType:         params.InvoiceType,
		CreatedAt:           s.now(),
		DueDate:             params.DueDate,
		UpdatedAt:           s.now(),
	}
	if err := s.store.Create(invoice); err != nil {
		return nil, err
	}
	return &invoice, nil
}

func (s *Service) Get(invoiceNumber string) (*model.Invoice, error) {
	invoice, err := s.store.GetByNumber(invoiceNumber)
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, ErrNotFound
	}
	return invoice, nil
}

func (s *Service) List(filter repository.InvoiceFilter) ([]model.Invoice, error) {
	return s.store.List(filter)
}

// Pay settles an invoice on-chain, fully or partially when amount is given.
// The invoice is only mutated after the transfer confirms; a reverted payment
// leaves a failed ledger record and the invoice untouched.
func (s *Service) Pay(ctx context.Context, invoiceNumber string, amount decimal.Decimal) (*model.Invoice, *model.Transaction, error) {
	invoice, err := s.Get(invoiceNumber)
	if err != nil {
		return nil, nil, err
	}
	if !invoice.Open() {
		return invoice, nil, fmt.Errorf("%w: %s is %s", ErrNotOpen, invoiceNumber, invoice.Status)
	}

	if amount.IsZero() {
		amount = invoice.RemainingUSDC
	}
	if !amount.IsPositive() {
		return invoice, nil, fmt.Errorf("payment amount must be positive, got %s", amount)
	}

	memo := fmt.Sprintf("payment for %s", invoiceNumber)
	entry, err := s.payer.PayInvoiceTransfer(ctx, invoice.Chain,
		common.HexToAddress(invoice.CounterpartyAddress), amount, memo, invoice.Category, invoiceNumber)
	if err != nil {
		return invoice, entry, err
	}

	payment := model.Payment{
		PaymentID:   uuid.New().String(),
		TxHash:      entry.TxHash,
		Chain:       invoice.Chain,
		ChainName:   invoice.ChainName,
		FromWallet:  entry.FromAddress,
		ToWallet:    invoice.CounterpartyAddress,
		AmountUSDC:  amount,
		Status:      entry.Status,
		BlockNumber: entry.BlockNumber,
		Timestamp:   s.now(),
		ExplorerURL: entry.ExplorerURL,
	}
	updated, err := s.store.AppendPayment(invoiceNumber, payment)
	if err != nil {
		return invoice, entry, err
	}
	if updated == nil {
		return invoice, entry, ErrNotFound
	}

	if s.outbox != nil {
		if err := s.outbox.Enqueue(events.TypeInvoicePaid, updated); err != nil {
			s.logger.Warn("Failed to enqueue invoice event", zap.Error(err))
		}
	}

	s.logger.Info("Paid invoice",
		zap.String("invoice_number", invoiceNumber),
		zap.String("tx_hash", entry.TxHash),
		zap.String("amount_usdc", amount.String()),
		zap.String("status", updated.Status))
	return updated, entry, nil
}

// RecordExternalPayment appends a payment that settled outside this tool,
// used by reconciliation auto-matching.
func (s *Service) RecordExternalPayment(invoiceNumber string, payment model.Payment) (*model.Invoice, error) {
	updated, err := s.store.AppendPayment(invoiceNumber, payment)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, ErrNotFound
	}
	return updated, nil
}

// Cancel voids an unpaid invoice. Invoices with any recorded payment are
// refused; the money already moved.
func (s *Service) Cancel(invoiceNumber string) (*model.Invoice, error) {
	invoice, err := s.Get(invoiceNumber)
	if err != nil {
		return nil, err
	}
	if invoice.Status == model.InvoiceStatusCancelled {
		return invoice, nil
	}
	if len(invoice.Payments) > 0 || invoice.PaidUSDC.IsPositive() {
		return invoice, fmt.Errorf("%w: %s has %d payment(s)", ErrHasPayments, invoiceNumber, len(invoice.Payments))
	}
	if err := s.store.UpdateStatus(invoiceNumber, model.InvoiceStatusCancelled); err != nil {
		return invoice, err
	}
	invoice.Status = model.InvoiceStatusCancelled

	s.logger.Info("Cancelled invoice", zap.String("invoice_number", invoiceNumber))
	return invoice, nil
}

// AuditTrail is an invoice with every ledger entry that references it.
type AuditTrail struct {
	Invoice      *model.Invoice      `json:"invoice"`
	Transactions []model.Transaction `json:"transactions"`
}

func (s *Service) Audit(invoiceNumber string) (*AuditTrail, error) {
	invoice, err := s.Get(invoiceNumber)
	if err != nil {
		return nil, err
	}
	transactions, err := s.ledger.ListByInvoice(invoiceNumber)
	if err != nil {
		return nil, err
	}
	return &AuditTrail{Invoice: invoice, Transactions: transactions}, nil
}
