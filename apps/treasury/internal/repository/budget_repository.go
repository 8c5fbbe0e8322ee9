package repository

import (
	"database/sql"
	"fmt"

	"go.uber.org/zap"
	"treasury/apps/treasury/internal/model"
)

type BudgetRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewBudgetRepository(db *sql.DB, logger *zap.Logger) *BudgetRepository {
	return &BudgetRepository{db: db, logger: logger}
}

func (r *BudgetRepository) Upsert(budget model.Budget) error {
	_, err := r.db.Exec(`
		INSERT INTO budgets (chain, category, limit_usdc, period)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (chain, category) DO UPDATE SET
			limit_usdc = EXCLUDED.limit_usdc,
			period = EXCLUDED.period,
			updated_at = NOW()
	`, budget.Chain, budget.Category, budget.LimitUSDC, budget.Period)

	if err != nil {
		return fmt.Errorf("failed to upsert budget: %w", err)
	}

	r.logger.Info("Upserted budget",
		zap.String("chain", budget.Chain),
		zap.String("category", budget.Category),
		zap.String("limit_usdc", budget.LimitUSDC.String()),
		zap.String("period", budget.Period))
	return nil
}

func (r *BudgetRepository) Get(chain, category string) (*model.Budget, error) {
	var budget model.Budget
	err := r.db.QueryRow(`
		SELECT chain, category, limit_usdc, period, created_at, updated_at
		FROM budgets
		WHERE chain = $1 AND category = $2
	`, chain, category).Scan(&budget.Chain, &budget.Category, &budget.LimitUSDC, &budget.Period,
		&budget.CreatedAt, &budget.UpdatedAt)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get budget: %w", err)
	}
	return &budget, nil
}

func (r *BudgetRepository) List() ([]model.Budget, error) {
	rows, err := r.db.Query(`
		SELECT chain, category, limit_usdc, period, created_at, updated_at
		FROM budgets
		ORDER BY chain, category
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list budgets: %w", err)
	}
	defer rows.Close()

	var budgets []model.Budget
	for rows.Next() {
		var budget model.Budget
		if err := rows.Scan(&budget.Chain, &budget.Category, &budget.LimitUSDC, &budget.Period,
			&budget.CreatedAt, &budget.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan budget: %w", err)
		}
		budgets = append(budgets, budget)
	}
	return budgets, rows.Err()
}

func (r *BudgetRepository) Delete(chain, category string) error {
	result, err := r.db.Exec(`
		DELETE FROM budgets WHERE chain = $1 AND category = $2
	`, chain, category)
	if err != nil {
		return fmt.Errorf("failed to delete budget: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}

	r.logger.Info("Deleted budget",
		zap.String("chain", chain),
		zap.String("category", category))
	return nil
}
