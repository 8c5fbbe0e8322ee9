package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Invoice statuses.
const (
	InvoiceStatusPending   = "pending"
	InvoiceStatusPartial   = "partial"
	InvoiceStatusPaid      = "paid"
	InvoiceStatusOverpaid  = "overpaid"
	InvoiceStatusCancelled = "cancelled"
)

// Invoice directions: payable means the treasury owes, receivable means the
// counterparty owes the treasury.
const (
	InvoiceTypePayable    = "payable"
	InvoiceTypeReceivable = "receivable"
)

type LineItem struct {
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Amount      decimal.Decimal `json:"amount"`
}

type Payment struct {
	PaymentID   string          `json:"payment_id"`
	TxHash      string          `json:"tx_hash"`
	Chain       string          `json:"chain"`
	ChainName   string          `json:"chain_name"`
	FromWallet  string          `json:"from_wallet"`
	ToWallet    string          `json:"to_wallet"`
	AmountUSDC  decimal.Decimal `json:"amount_usdc"`
	Status      string          `json:"status"`
	BlockNumber uint64          `json:"block_number"`
	Timestamp   time.Time       `json:"timestamp"`
	ExplorerURL string          `json:"explorer_url"`
}

type Invoice struct {
	ID                  string          `db:"id"`
	InvoiceNumber       string          `db:"invoice_number"`
	Status              string          `db:"status"`
	CounterpartyName    string          `db:"counterparty_name"`
	CounterpartyAddress string          `db:"counterparty_address"`
	FromWallet          string          `db:"from_wallet"`
	Chain               string          `db:"chain"`
	ChainName           string          `db:"chain_name"`
	LineItems           []LineItem      `db:"line_items_json"`
	TotalUSDC           decimal.Decimal `db:"total_usdc"`
	PaidUSDC            decimal.Decimal `db:"paid_usdc"`
	RemainingUSDC       decimal.Decimal `db:"remaining_usdc"`
	Payments            []Payment       `db:"payments_json"`
	Category            string          `db:"category"`
	Memo                string          `db:"memo"`
	InvoiceType         string          `db:"invoice_type"`
	CreatedAt           time.Time       `db:"created_at"`
	DueDate             time.Time       `db:"due_date"`
	UpdatedAt           time.Time       `db:"updated_at"`
}

// Open reports whether the invoice can still receive payments.
func (i *Invoice) Open() bool {
	return i.Status == InvoiceStatusPending || i.Status == InvoiceStatusPartial
}

// StatusForPaid derives the invoice status from paid vs total.
func StatusForPaid(paid, total decimal.Decimal) string {
	switch {
	case paid.GreaterThan(total):
		return InvoiceStatusOverpaid
	case paid.Equal(total) && total.IsPositive():
		return InvoiceStatusPaid
	case paid.IsPositive():
		return InvoiceStatusPartial
	default:
		return InvoiceStatusPending
	}
}
