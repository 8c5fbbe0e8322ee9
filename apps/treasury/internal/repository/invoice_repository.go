package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"treasury/apps/treasury/internal/model"
)

const invoiceColumns = `id, invoice_number, status, counterparty_name, counterparty_address, from_wallet,
		chain, chain_name, line_items_json, total_usdc, paid_usdc, remaining_usdc, payments_json,
		category, memo, invoice_type, created_at, due_date, updated_at`

type InvoiceRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewInvoiceRepository(db *sql.DB, logger *zap.Logger) *InvoiceRepository {
	return &InvoiceRepository{db: db, logger: logger}
}

// NextNumber allocates the next invoice number, e.g. INV-0001. Numbers are
// never reused, including for invoices later cancelled.
func (r *InvoiceRepository) NextNumber() (string, error) {
	var value int64
	err := r.db.QueryRow(`
		UPDATE counters SET value = value + 1 WHERE name = 'invoice' RETURNING value
	`).Scan(&value)
	if err != nil {
		return "", fmt.Errorf("failed to allocate invoice number: %w", err)
	}
	return fmt.Sprintf("INV-%04d", value), nil
}

func (r *InvoiceRepository) Create(invoice model.Invoice) error {
	lineItems, err := json.Marshal(invoice.LineItems)
	if err != nil {
		return fmt.Errorf("failed to encode line items: %w", err)
	}
	payments, err := json.Marshal(invoice.Payments)
	if err != nil {
		return fmt.Errorf("failed to encode payments: %w", err)
	}

	_, err = r.db.Exec(`
		INSERT INTO invoices (`+invoiceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`, invoice.ID, invoice.InvoiceNumber, invoice.Status, invoice.CounterpartyName, invoice.CounterpartyAddress,
		invoice.FromWallet, invoice.Chain, invoice.ChainName, lineItems, invoice.TotalUSDC, invoice.PaidUSDC,
		invoice.RemainingUSDC, payments, invoice.Category, invoice.Memo, invoice.InvoiceType,
		invoice.CreatedAt, nullableTime(invoice.DueDate), invoice.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to create invoice: %w", err)
	}

	r.logger.Info("Created invoice",
		zap.String("invoice_number", invoice.InvoiceNumber),
		zap.String("counterparty", invoice.CounterpartyName),
		zap.String("total_usdc", invoice.TotalUSDC.String()),
		zap.String("invoice_type", invoice.InvoiceType))
	return nil
}

func (r *InvoiceRepository) GetByNumber(invoiceNumber string) (*model.Invoice, error) {
	row := r.db.QueryRow(`
		SELECT `+invoiceColumns+`
		FROM invoices
		WHERE invoice_number = $1
	`, invoiceNumber)

	invoice, err := scanInvoice(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get invoice: %w", err)
	}
	return invoice, nil
}

// InvoiceFilter narrows List results. Zero values mean no constraint.
type InvoiceFilter struct {
	Status       string
	Counterparty string
	InvoiceType  string
	OpenOnly     bool
}

func (r *InvoiceRepository) List(filter InvoiceFilter) ([]model.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE 1=1`
	args := []interface{}{}
	if filter.Status != "" {
		args = append(args, filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.OpenOnly {
		query += " AND status IN ('pending', 'partial')"
	}
	if filter.Counterparty != "" {
		args = append(args, filter.Counterparty)
		query += fmt.Sprintf(" AND LOWER(counterparty_address) = LOWER($%d)", len(args))
	}
	if filter.InvoiceType != "" {
		args = append(args, filter.InvoiceType)
		query += fmt.Sprintf(" AND invoice_type = $%d", len(args))
	}
	query += " ORDER BY created_at DESC"

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}
	defer rows.Close()

	var invoices []model.Invoice
	for rows.Next() {
		invoice, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invoice: %w", err)
		}
		invoices = append(invoices, *invoice)
	}
	return invoices, rows.Err()
}

// AppendPayment atomically adds a payment to an invoice, recomputing the paid
// total, remaining amount, and derived status. The read and write share one
// database transaction so concurrent payments cannot drop each other.
func (r *InvoiceRepository) AppendPayment(invoiceNumber string, payment model.Payment) (*model.Invoice, error) {
	tx, err := r.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin payment tx: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRow(`
		SELECT `+invoiceColumns+`
		FROM invoices
		WHERE invoice_number = $1
		FOR UPDATE
	`, invoiceNumber)

	invoice, err := scanInvoice(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to lock invoice: %w", err)
	}

	for _, existing := range invoice.Payments {
		if existing.TxHash != "" && strings.EqualFold(existing.TxHash, payment.TxHash) {
			r.logger.Info("Payment already applied, skipping append",
				zap.String("invoice_number", invoiceNumber),
				zap.String("tx_hash", payment.TxHash))
			return invoice, nil
		}
	}

	invoice.Payments = append(invoice.Payments, payment)
	invoice.PaidUSDC = invoice.PaidUSDC.Add(payment.AmountUSDC)
	invoice.RemainingUSDC = invoice.TotalUSDC.Sub(invoice.PaidUSDC)
	invoice.Status = model.StatusForPaid(invoice.PaidUSDC, invoice.TotalUSDC)
	invoice.UpdatedAt = time.Now().UTC()

	payments, err := json.Marshal(invoice.Payments)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payments: %w", err)
	}

	_, err = tx.Exec(`
		UPDATE invoices
		SET paid_usdc = $1, remaining_usdc = $2, status = $3, payments_json = $4, updated_at = $5
		WHERE invoice_number = $6
	`, invoice.PaidUSDC, invoice.RemainingUSDC, invoice.Status, payments, invoice.UpdatedAt, invoiceNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to update invoice payment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit payment: %w", err)
	}

	r.logger.Info("Appended invoice payment",
		zap.String("invoice_number", invoiceNumber),
		zap.String("tx_hash", payment.TxHash),
		zap.String("amount_usdc", payment.AmountUSDC.String()),
		zap.String("status", invoice.Status))
	return invoice, nil
}

// UpdateStatus sets an invoice's status directly, used for cancellation.
func (r *InvoiceRepository) UpdateStatus(invoiceNumber, status string) error {
	result, err := r.db.Exec(`
		UPDATE invoices SET status = $1, updated_at = NOW() WHERE invoice_number = $2
	`, status, invoiceNumber)
	if err != nil {
		return fmt.Errorf("failed to update invoice status: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}

	r.logger.Info("Updated invoice status",
		zap.String("invoice_number", invoiceNumber),
		zap.String("status", status))
	return nil
}

func scanInvoice(row rowScanner) (*model.Invoice, error) {
	var invoice model.Invoice
	var lineItems, payments []byte
	var dueDate sql.NullTime
	err := row.Scan(&invoice.ID, &invoice.InvoiceNumber, &invoice.Status, &invoice.CounterpartyName,
		&invoice.CounterpartyAddress, &invoice.FromWallet, &invoice.Chain, &invoice.ChainName,
		&lineItems, &invoice.TotalUSDC, &invoice.PaidUSDC, &invoice.RemainingUSDC, &payments,
		&invoice.Category, &invoice.Memo, &invoice.InvoiceType, &invoice.CreatedAt, &dueDate, &invoice.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(lineItems, &invoice.LineItems); err != nil {
		return nil, fmt.Errorf("failed to decode line items: %w", err)
	}
	if err := json.Unmarshal(payments, &invoice.Payments); err != nil {
		return nil, fmt.Errorf("failed to decode payments: %w", err)
	}
	if dueDate.Valid {
		invoice.DueDate = dueDate.Time
	}
	return &invoice, nil
}

func nullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}
