package repository

import (
	"database/sql"
	"fmt"
)

// InitMigration initializes the database. In production, this would use a proper migration
// library like go-migrate
func InitMigration(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS transactions (
			tx_hash VARCHAR(66) NOT NULL,
			type VARCHAR(30) NOT NULL,
			chain VARCHAR(30) NOT NULL,
			chain_name VARCHAR(50) NOT NULL,
			direction VARCHAR(10) NOT NULL,
			from_address VARCHAR(42) NOT NULL,
			to_address VARCHAR(42) NOT NULL,
			amount_usdc DECIMAL(38,6) NOT NULL,
			category VARCHAR(50) NOT NULL DEFAULT '',
			memo TEXT NOT NULL DEFAULT '',
			status VARCHAR(20) NOT NULL,
			block_number BIGINT NOT NULL DEFAULT 0,
			gas_used BIGINT NOT NULL DEFAULT 0,
			tx_date TIMESTAMP NOT NULL,
			explorer_url TEXT NOT NULL DEFAULT '',
			wallet VARCHAR(42) NOT NULL DEFAULT '',
			invoice_number VARCHAR(20) NOT NULL DEFAULT '',
			cctp_message_hash VARCHAR(66) NOT NULL DEFAULT '',
			cctp_burn_tx VARCHAR(66) NOT NULL DEFAULT '',
			extra_json JSONB,
			PRIMARY KEY (tx_hash, type)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_chain_date ON transactions (chain, tx_date DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_invoice ON transactions (invoice_number) WHERE invoice_number <> ''`,
		`CREATE TABLE IF NOT EXISTS invoices (
			id UUID PRIMARY KEY,
			invoice_number VARCHAR(20) NOT NULL UNIQUE,
			status VARCHAR(20) NOT NULL,
			counterparty_name VARCHAR(100) NOT NULL,
			counterparty_address VARCHAR(42) NOT NULL,
			from_wallet VARCHAR(42) NOT NULL DEFAULT '',
			chain VARCHAR(30) NOT NULL,
			chain_name VARCHAR(50) NOT NULL,
			line_items_json JSONB NOT NULL,
			total_usdc DECIMAL(38,6) NOT NULL,
			paid_usdc DECIMAL(38,6) NOT NULL DEFAULT 0,
			remaining_usdc DECIMAL(38,6) NOT NULL,
			payments_json JSONB NOT NULL DEFAULT '[]',
			category VARCHAR(50) NOT NULL DEFAULT '',
			memo TEXT NOT NULL DEFAULT '',
			invoice_type VARCHAR(20) NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			due_date TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_invoices_status ON invoices (status)`,
		`CREATE INDEX IF NOT EXISTS idx_invoices_counterparty ON invoices (counterparty_address, status)`,
		`CREATE TABLE IF NOT EXISTS counters (
			name VARCHAR(30) PRIMARY KEY,
			value BIGINT NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS budgets (
			chain VARCHAR(30) NOT NULL,
			category VARCHAR(50) NOT NULL,
			limit_usdc DECIMAL(38,6) NOT NULL,
			period VARCHAR(10) NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
			PRIMARY KEY (chain, category)
		)`,
		`CREATE TABLE IF NOT EXISTS high_water_marks (
			chain VARCHAR(30) NOT NULL,
			wallet VARCHAR(42) NOT NULL,
			block_number BIGINT NOT NULL,
			updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
			PRIMARY KEY (chain, wallet)
		)`,
		`CREATE TABLE IF NOT EXISTS cctp_bridges (
			burn_tx_hash VARCHAR(66) PRIMARY KEY,
			source_chain VARCHAR(30) NOT NULL,
			dest_chain VARCHAR(30) NOT NULL,
			amount_usdc DECIMAL(38,6) NOT NULL,
			recipient VARCHAR(42) NOT NULL,
			message_hash VARCHAR(66) NOT NULL DEFAULT '',
			message_bytes BYTEA,
			attestation BYTEA,
			mint_tx_hash VARCHAR(66) NOT NULL DEFAULT '',
			status VARCHAR(30) NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cctp_bridges_status ON cctp_bridges (status, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS wallets (
			address VARCHAR(42) PRIMARY KEY,
			name VARCHAR(100) NOT NULL,
			is_default BOOLEAN NOT NULL DEFAULT FALSE,
			added_at TIMESTAMP NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS event_outbox (
			id BIGSERIAL PRIMARY KEY,
			event_type VARCHAR(40) NOT NULL,
			status VARCHAR(20) NOT NULL DEFAULT 'unsent',
			payload JSONB NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_event_outbox_unsent ON event_outbox (id) WHERE status = 'unsent'`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query %s: %w", query, err)
		}
	}

	// Seed the invoice number counter if not exists
	_, err := db.Exec(`
		INSERT INTO counters (name, value)
		VALUES ('invoice', 0)
		ON CONFLICT (name) DO NOTHING
	`)

	return err
}
