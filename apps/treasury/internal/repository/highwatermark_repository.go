package repository

import (
	"database/sql"
	"fmt"

	"go.uber.org/zap"
)

type HighWaterMarkRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewHighWaterMarkRepository(db *sql.DB, logger *zap.Logger) *HighWaterMarkRepository {
	return &HighWaterMarkRepository{db: db, logger: logger}
}

// Get returns the last fully scanned block for a chain+wallet pair, or
// (0, false) when the pair has never been scanned.
func (r *HighWaterMarkRepository) Get(chain, wallet string) (uint64, bool, error) {
	var block uint64
	err := r.db.QueryRow(`
		SELECT block_number FROM high_water_marks WHERE chain = $1 AND wallet = $2
	`, chain, wallet).Scan(&block)

	if err != nil {
		if err == sql.ErrNoRows {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to get high water mark: %w", err)
	}
	return block, true, nil
}

// Set advances the mark. A lower value than the stored one is kept out by
// GREATEST so replayed or out-of-order scans never move the mark backward.
func (r *HighWaterMarkRepository) Set(chain, wallet string, block uint64) error {
	_, err := r.db.Exec(`
		INSERT INTO high_water_marks (chain, wallet, block_number, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (chain, wallet) DO UPDATE SET
			block_number = GREATEST(high_water_marks.block_number, EXCLUDED.block_number),
			updated_at = NOW()
	`, chain, wallet, block)

	if err != nil {
		return fmt.Errorf("failed to set high water mark: %w", err)
	}

	r.logger.Debug("Advanced high water mark",
		zap.String("chain", chain),
		zap.String("wallet", wallet),
		zap.Uint64("block_number", block))
	return nil
}
