package repository

import (
	"database/sql"
	"fmt"

	"go.uber.org/zap"
	"treasury/apps/treasury/internal/model"
)

type WalletRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewWalletRepository(db *sql.DB, logger *zap.Logger) *WalletRepository {
	return &WalletRepository{db: db, logger: logger}
}

// Upsert registers a tracked wallet. Setting a new default clears the flag on
// every other wallet in the same statement batch.
func (r *WalletRepository) Upsert(wallet model.Wallet) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin wallet upsert: %w", err)
	}
	defer tx.Rollback()

	if wallet.IsDefault {
		if _, err := tx.Exec(`UPDATE wallets SET is_default = FALSE`); err != nil {
			return fmt.Errorf("failed to clear default wallet: %w", err)
		}
	}

	_, err = tx.Exec(`
		INSERT INTO wallets (address, name, is_default)
		VALUES (LOWER($1), $2, $3)
		ON CONFLICT (address) DO UPDATE SET
			name = EXCLUDED.name,
			is_default = EXCLUDED.is_default
	`, wallet.Address, wallet.Name, wallet.IsDefault)
	if err != nil {
		return fmt.Errorf("failed to upsert wallet: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit wallet upsert: %w", err)
	}

	r.logger.Info("Upserted wallet",
		zap.String("address", wallet.Address),
		zap.String("name", wallet.Name),
		zap.Bool("is_default", wallet.IsDefault))
	return nil
}

func (r *WalletRepository) List() ([]model.Wallet, error) {
	rows, err := r.db.Query(`
		SELECT address, name, is_default, added_at
		FROM wallets
		ORDER BY added_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list wallets: %w", err)
	}
	defer rows.Close()

	var wallets []model.Wallet
	for rows.Next() {
		var wallet model.Wallet
		if err := rows.Scan(&wallet.Address, &wallet.Name, &wallet.IsDefault, &wallet.AddedAt); err != nil {
			return nil, fmt.Errorf("failed to scan wallet: %w", err)
		}
		wallets = append(wallets, wallet)
	}
	return wallets, rows.Err()
}

func (r *WalletRepository) GetDefault() (*model.Wallet, error) {
	var wallet model.Wallet
	err := r.db.QueryRow(`
		SELECT address, name, is_default, added_at
		FROM wallets
		WHERE is_default = TRUE
		LIMIT 1
	`).Scan(&wallet.Address, &wallet.Name, &wallet.IsDefault, &wallet.AddedAt)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get default wallet: %w", err)
	}
	return &wallet, nil
}

func (r *WalletRepository) Remove(address string) error {
	result, err := r.db.Exec(`DELETE FROM wallets WHERE address = LOWER($1)`, address)
	if err != nil {
		return fmt.Errorf("failed to remove wallet: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}

	r.logger.Info("Removed wallet", zap.String("address", address))
	return nil
}
