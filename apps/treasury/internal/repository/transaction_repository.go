package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"treasury/apps/treasury/internal/model"
)

const transactionColumns = `tx_hash, type, chain, chain_name, direction, from_address, to_address, amount_usdc,
		category, memo, status, block_number, gas_used, tx_date, explorer_url, wallet,
		invoice_number, cctp_message_hash, cctp_burn_tx, extra_json`

type TransactionRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewTransactionRepository(db *sql.DB, logger *zap.Logger) *TransactionRepository {
	return &TransactionRepository{db: db, logger: logger}
}

// Record inserts a ledger entry. Re-recording the same (tx_hash, type) pair is
// a no-op so scanner re-runs and retried CLI commands stay idempotent.
func (r *TransactionRepository) Record(tx model.Transaction) error {
	result, err := r.db.Exec(`
		INSERT INTO transactions (`+transactionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		ON CONFLICT (tx_hash, type) DO NOTHING
	`, tx.TxHash, tx.Type, tx.Chain, tx.ChainName, tx.Direction, tx.FromAddress, tx.ToAddress, tx.AmountUSDC,
		tx.Category, tx.Memo, tx.Status, tx.BlockNumber, tx.GasUsed, tx.Timestamp, tx.ExplorerURL, tx.Wallet,
		tx.InvoiceNumber, tx.CCTPMessageHash, tx.CCTPBurnTx, nullableJSON(tx.Extra))

	if err != nil {
		return fmt.Errorf("failed to record transaction: %w", err)
	}

	if rows, _ := result.RowsAffected(); rows > 0 {
		r.logger.Info("Recorded transaction",
			zap.String("tx_hash", tx.TxHash),
			zap.String("type", tx.Type),
			zap.String("chain", tx.Chain),
			zap.String("amount_usdc", tx.AmountUSDC.String()))
	}
	return nil
}

func (r *TransactionRepository) GetByHash(txHash string) (*model.Transaction, error) {
	row := r.db.QueryRow(`
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE tx_hash = $1
		ORDER BY tx_date DESC
		LIMIT 1
	`, txHash)

	tx, err := scanTransaction(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return tx, nil
}

// GetByHashAndType looks up one specific ledger leg of a transaction.
func (r *TransactionRepository) GetByHashAndType(txHash, txType string) (*model.Transaction, error) {
	row := r.db.QueryRow(`
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE tx_hash = $1 AND type = $2
	`, txHash, txType)

	tx, err := scanTransaction(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get transaction by type: %w", err)
	}
	return tx, nil
}

// GetMintForBurn finds the mint ledger entry linked to a burn transaction.
func (r *TransactionRepository) GetMintForBurn(burnTxHash string) (*model.Transaction, error) {
	row := r.db.QueryRow(`
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE type = $1 AND cctp_burn_tx = $2
		LIMIT 1
	`, model.TxTypeBridgeMint, burnTxHash)

	tx, err := scanTransaction(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get mint for burn: %w", err)
	}
	return tx, nil
}

// ListFilter narrows List results. Zero values mean no constraint.
type ListFilter struct {
	Chain     string
	Type      string
	Direction string
	Since     time.Time
	Limit     int
}

func (r *TransactionRepository) List(filter ListFilter) ([]model.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE 1=1`
	args := []interface{}{}
	if filter.Chain != "" {
		args = append(args, filter.Chain)
		query += fmt.Sprintf(" AND chain = $%d", len(args))
	}
	if filter.Type != "" {
		args = append(args, filter.Type)
		query += fmt.Sprintf(" AND type = $%d", len(args))
	}
	if filter.Direction != "" {
		args = append(args, filter.Direction)
		query += fmt.Sprintf(" AND direction = $%d", len(args))
	}
	if !filter.Since.IsZero() {
		args = append(args, filter.Since)
		query += fmt.Sprintf(" AND tx_date >= $%d", len(args))
	}
	query += " ORDER BY tx_date DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	return collectTransactions(rows)
}

// SumSpentSince totals confirmed outgoing USDC for a chain and category from
// the given time. Bridge burns count as spend on the source chain.
func (r *TransactionRepository) SumSpentSince(chain, category string, since time.Time) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := r.db.QueryRow(`
		SELECT COALESCE(SUM(amount_usdc), 0)
		FROM transactions
		WHERE chain = $1 AND category = $2 AND direction = 'outgoing'
			AND status = 'confirmed' AND tx_date >= $3
	`, chain, category, since).Scan(&total)

	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum spend: %w", err)
	}
	return total, nil
}

// ListByInvoice returns all ledger entries linked to an invoice number.
func (r *TransactionRepository) ListByInvoice(invoiceNumber string) ([]model.Transaction, error) {
	rows, err := r.db.Query(`
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE invoice_number = $1
		ORDER BY tx_date ASC
	`, invoiceNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions by invoice: %w", err)
	}
	defer rows.Close()

	return collectTransactions(rows)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(row rowScanner) (*model.Transaction, error) {
	var tx model.Transaction
	var extra sql.NullString
	err := row.Scan(&tx.TxHash, &tx.Type, &tx.Chain, &tx.ChainName, &tx.Direction, &tx.FromAddress, &tx.ToAddress,
		&tx.AmountUSDC, &tx.Category, &tx.Memo, &tx.Status, &tx.BlockNumber, &tx.GasUsed, &tx.Timestamp,
		&tx.ExplorerURL, &tx.Wallet, &tx.InvoiceNumber, &tx.CCTPMessageHash, &tx.CCTPBurnTx, &extra)
	if err != nil {
		return nil, err
	}
	if extra.Valid {
		tx.Extra = []byte(extra.String)
	}
	return &tx, nil
}

func collectTransactions(rows *sql.Rows) ([]model.Transaction, error) {
	var txs []model.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txs = append(txs, *tx)
	}
	return txs, rows.Err()
}

func nullableJSON(raw []byte) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
