package repository

import (
	"database/sql"
	"fmt"

	"go.uber.org/zap"
	"treasury/apps/treasury/internal/model"
)

const bridgeColumns = `burn_tx_hash, source_chain, dest_chain, amount_usdc, recipient, message_hash,
		message_bytes, attestation, mint_tx_hash, status, created_at, updated_at`

type BridgeRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewBridgeRepository(db *sql.DB, logger *zap.Logger) *BridgeRepository {
	return &BridgeRepository{db: db, logger: logger}
}

func (r *BridgeRepository) Create(record model.BridgeRecord) error {
	_, err := r.db.Exec(`
		INSERT INTO cctp_bridges (`+bridgeColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, record.BurnTxHash, record.SourceChain, record.DestChain, record.AmountUSDC, record.Recipient,
		record.MessageHash, record.MessageBytes, record.Attestation, record.MintTxHash, record.Status,
		record.CreatedAt, record.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to create bridge record: %w", err)
	}

	r.logger.Info("Created bridge record",
		zap.String("burn_tx_hash", record.BurnTxHash),
		zap.String("source_chain", record.SourceChain),
		zap.String("dest_chain", record.DestChain),
		zap.String("amount_usdc", record.AmountUSDC.String()))
	return nil
}

func (r *BridgeRepository) Get(burnTxHash string) (*model.BridgeRecord, error) {
	row := r.db.QueryRow(`
		SELECT `+bridgeColumns+`
		FROM cctp_bridges
		WHERE burn_tx_hash = $1
	`, burnTxHash)

	record, err := scanBridge(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get bridge record: %w", err)
	}
	return record, nil
}

// Update persists a lifecycle change. Regressive transitions are rejected so
// concurrent or replayed updates cannot undo progress, with the one allowed
// fallback from attestation_received to awaiting_attestation on poll timeout.
func (r *BridgeRepository) Update(record model.BridgeRecord) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin bridge update: %w", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRow(`
		SELECT status FROM cctp_bridges WHERE burn_tx_hash = $1 FOR UPDATE
	`, record.BurnTxHash).Scan(&current)
	if err != nil {
		if err == sql.ErrNoRows {
			return fmt.Errorf("bridge record %s not found", record.BurnTxHash)
		}
		return fmt.Errorf("failed to lock bridge record: %w", err)
	}

	if !model.CanTransition(current, record.Status) {
		return fmt.Errorf("invalid bridge transition %s -> %s for %s", current, record.Status, record.BurnTxHash)
	}

	_, err = tx.Exec(`
		UPDATE cctp_bridges
		SET message_hash = $1, message_bytes = $2, attestation = $3, mint_tx_hash = $4,
			status = $5, updated_at = $6
		WHERE burn_tx_hash = $7
	`, record.MessageHash, record.MessageBytes, record.Attestation, record.MintTxHash,
		record.Status, record.UpdatedAt, record.BurnTxHash)
	if err != nil {
		return fmt.Errorf("failed to update bridge record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit bridge update: %w", err)
	}

	r.logger.Info("Updated bridge record",
		zap.String("burn_tx_hash", record.BurnTxHash),
		zap.String("status", record.Status))
	return nil
}

// ListPending returns incomplete bridges, newest first.
func (r *BridgeRepository) ListPending() ([]model.BridgeRecord, error) {
	rows, err := r.db.Query(`
		SELECT ` + bridgeColumns + `
		FROM cctp_bridges
		WHERE status <> 'completed'
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending bridges: %w", err)
	}
	defer rows.Close()

	return collectBridges(rows)
}

func (r *BridgeRepository) List(limit int) ([]model.BridgeRecord, error) {
	rows, err := r.db.Query(`
		SELECT `+bridgeColumns+`
		FROM cctp_bridges
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list bridges: %w", err)
	}
	defer rows.Close()

	return collectBridges(rows)
}

func scanBridge(row rowScanner) (*model.BridgeRecord, error) {
	var record model.BridgeRecord
	err := row.Scan(&record.BurnTxHash, &record.SourceChain, &record.DestChain, &record.AmountUSDC,
		&record.Recipient, &record.MessageHash, &record.MessageBytes, &record.Attestation,
		&record.MintTxHash, &record.Status, &record.CreatedAt, &record.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func collectBridges(rows *sql.Rows) ([]model.BridgeRecord, error) {
	var records []model.BridgeRecord
	for rows.Next() {
		record, err := scanBridge(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bridge record: %w", err)
		}
		records = append(records, *record)
	}
	return records, rows.Err()
}
