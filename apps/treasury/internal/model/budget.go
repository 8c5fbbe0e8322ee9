package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Budget periods.
const (
	PeriodMonthly = "monthly"
	PeriodWeekly  = "weekly"
	PeriodDaily   = "daily"
)

// Budget is a spending limit for a category on a chain over a rolling period.
type Budget struct {
	Chain     string          `db:"chain"`
	Category  string          `db:"category"`
	LimitUSDC decimal.Decimal `db:"limit_usdc"`
	Period    string          `db:"period"`
	CreatedAt time.Time       `db:"created"`
	UpdatedAt time.Time       `db:"updated"`
}

// BudgetStatus is the computed utilization of one budget for the current period.
type BudgetStatus struct {
	Chain          string          `json:"chain"`
	Category       string          `json:"category"`
	LimitUSDC      decimal.Decimal `json:"limit_usdc"`
	SpentUSDC      decimal.Decimal `json:"spent_usdc"`
	RemainingUSDC  decimal.Decimal `json:"remaining_usdc"`
	UtilizationPct float64         `json:"utilization_pct"`
	Period         string          `json:"period"`
	Alert          bool            `json:"alert"`
}

// HighWaterMark is the last block fully scanned for a chain+wallet pair.
// Monotonically non-decreasing; never deleted.
type HighWaterMark struct {
	Chain       string    `db:"chain"`
	Wallet      string    `db:"wallet"`
	BlockNumber uint64    `db:"block_number"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// Wallet is a tracked treasury wallet.
type Wallet struct {
	Address   string    `db:"address"`
	Name      string    `db:"name"`
	IsDefault bool      `db:"is_default"`
	AddedAt   time.Time `db:"added_at"`
}
