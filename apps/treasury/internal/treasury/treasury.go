package treasury

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"treasury/apps/treasury/internal/config"
	"treasury/apps/treasury/internal/events"
	"treasury/apps/treasury/internal/gateway"
	"treasury/apps/treasury/internal/model"
)

// budgetAlertThreshold is the utilization fraction that flips the alert flag.
const budgetAlertThreshold = 0.9

var (
	// ErrInsufficientBalance means the wallet cannot cover the transfer.
	ErrInsufficientBalance = errors.New("insufficient USDC balance")

	// ErrBudgetExceeded means the transfer would blow the category budget for
	// the current period.
	ErrBudgetExceeded = errors.New("transfer exceeds budget")
)

// Gateway is the chain access the facade needs.
type Gateway interface {
	Chain() config.ChainConfig
	Account() common.Address
	Decimals(ctx context.Context) (uint8, error)
	BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error)
	NativeBalance(ctx context.Context, addr common.Address) (*big.Int, error)
	SuggestFees(ctx context.Context) (gateway.FeeParams, error)
	EstimateGasWithBuffer(ctx context.Context, call ethereum.CallMsg) uint64
	SubmitCall(ctx context.Context, to common.Address, data []byte, fees gateway.FeeParams, gasLimit uint64) (common.Hash, error)
	WaitForReceipt(ctx context.Context, txHash common.Hash, timeout time.Duration) (*gateway.Receipt, error)
}

// Ledger records and aggregates transaction history.
type Ledger interface {
	Record(tx model.Transaction) error
	SumSpentSince(chain, category string, since time.Time) (decimal.Decimal, error)
}

// Budgets persists spending limits.
type Budgets interface {
	Get(chain, category string) (*model.Budget, error)
	List() ([]model.Budget, error)
}

// Events is the optional outbox; nil disables notifications.
type Events interface {
	Enqueue(eventType string, payload interface{}) error
}

// Balance is one chain's holdings.
type Balance struct {
	Chain       string          `json:"chain"`
	ChainName   string          `json:"chain_name"`
	Wallet      string          `json:"wallet"`
	USDC        decimal.Decimal `json:"usdc"`
	NativeWei   string          `json:"native_wei"`
	Error       string          `json:"error,omitempty"`
}

// Service is the treasury facade: balance views, budget-gated transfers and
// budget utilization over the ledger.
type Service struct {
	cfg      *config.Config
	gateways map[string]Gateway
	ledger   Ledger
	budgets  Budgets
	outbox   Events
	logger   *zap.Logger

	now func() time.Time
}

func NewService(cfg *config.Config, gateways map[string]Gateway, ledger Ledger, budgets Budgets, outbox Events, logger *zap.Logger) *Service {
	return &Service{
		cfg:      cfg,
		gateways: gateways,
		ledger:   ledger,
		budgets:  budgets,
		outbox:   outbox,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) gateway(chain string) (Gateway, error) {
	g, ok := s.gateways[chain]
	if !ok {
		return nil, fmt.Errorf("unknown chain %q", chain)
	}
	return g, nil
}

// Balance reads one chain's USDC and native holdings for a wallet.
func (s *Service) Balance(ctx context.Context, chain string, wallet common.Address) (*Balance, error) {
	g, err := s.gateway(chain)
	if err != nil {
		return nil, err
	}

	decimals, err := g.Decimals(ctx)
	if err != nil {
		return nil, err
	}
	usdc, err := g.BalanceOf(ctx, wallet)
	if err != nil {
		return nil, err
	}
	native, err := g.NativeBalance(ctx, wallet)
	if err != nil {
		return nil, err
	}

	return &Balance{
		Chain:     chain,
		ChainName: g.Chain().Name,
		Wallet:    wallet.Hex(),
		USDC:      gateway.FromRawAmount(usdc, decimals),
		NativeWei: native.String(),
	}, nil
}

// AllBalances reads every chain, folding per-chain failures into the row
// instead of failing the sweep. The returned total covers successful chains.
func (s *Service) AllBalances(ctx context.Context, wallet common.Address) ([]Balance, decimal.Decimal) {
	var balances []Balance
	total := decimal.Zero
	for _, chainKey := range s.cfg.ChainKeys() {
		balance, err := s.Balance(ctx, chainKey, wallet)
		if err != nil {
			chain, _ := s.cfg.Chain(chainKey)
			balances = append(balances, Balance{
				Chain:     chainKey,
				ChainName: chain.Name,
				Wallet:    wallet.Hex(),
				Error:     err.Error(),
			})
			s.logger.Warn("Balance read failed", zap.String("chain", chainKey), zap.Error(err))
			continue
		}
		total = total.Add(balance.USDC)
		balances = append(balances, *balance)
	}
	return balances, total
}

// Transfer sends USDC on one chain after balance and budget checks, waits for
// the receipt and appends the ledger entry. A reverted transfer is recorded
// as failed and returned as a chain error.
func (s *Service) Transfer(ctx context.Context, chain string, to common.Address, amount decimal.Decimal, memo, category string) (*model.Transaction, error) {
	return s.transferAs(ctx, chain, to, amount, memo, category, model.TxTypeTransfer, "")
}

// PayInvoiceTransfer is Transfer with invoice linkage: the ledger entry is
// typed invoice_payment (or invoice_payment_failed on revert) and carries the
// invoice number.
func (s *Service) PayInvoiceTransfer(ctx context.Context, chain string, to common.Address, amount decimal.Decimal, memo, category, invoiceNumber string) (*model.Transaction, error) {
	return s.transferAs(ctx, chain, to, amount, memo, category, model.TxTypeInvoicePayment, invoiceNumber)
}

func (s *Service) transferAs(ctx context.Context, chain string, to common.Address, amount decimal.Decimal, memo, category, txType, invoiceNumber string) (*model.Transaction, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("transfer amount must be positive, got %s", amount)
	}
	g, err := s.gateway(chain)
	if err != nil {
		return nil, err
	}

	decimals, err := g.Decimals(ctx)
	if err != nil {
		return nil, err
	}
	rawAmount := gateway.ToRawAmount(amount, decimals)

	balance, err := g.BalanceOf(ctx, g.Account())
	if err != nil {
		return nil, err
	}
	if balance.Cmp(rawAmount) < 0 {
		return nil, fmt.Errorf("%w: have %s, need %s on %s", ErrInsufficientBalance,
			gateway.FromRawAmount(balance, decimals), amount, chain)
	}

	if err := s.CheckBudgetLimit(chain, category, amount); err != nil {
		return nil, err
	}

	data, err := gateway.TransferCallData(to, rawAmount)
	if err != nil {
		return nil, err
	}

	fees, err := g.SuggestFees(ctx)
	if err != nil {
		return nil, err
	}
	account := g.Account()
	usdcAddr := g.Chain().USDCAddress
	gasLimit := g.EstimateGasWithBuffer(ctx, ethereum.CallMsg{From: account, To: &usdcAddr, Data: data})

	txHash, err := g.SubmitCall(ctx, usdcAddr, data, fees, gasLimit)
	if err != nil {
		return nil, err
	}
	receipt, err := g.WaitForReceipt(ctx, txHash, s.cfg.ReceiptTimeout)
	if err != nil {
		return nil, err
	}

	status := model.TxStatusConfirmed
	if !receipt.Succeeded() {
		status = model.TxStatusFailed
		if txType == model.TxTypeInvoicePayment {
			txType = model.TxTypeInvoicePaymentFail
		}
	}

	entry := model.Transaction{
		TxHash:      txHash.Hex(),
		Chain:       chain,
		ChainName:   g.Chain().Name,
		Direction:   model.DirectionOutgoing,
		FromAddress: account.Hex(),
		ToAddress:   to.Hex(),
		AmountUSDC:  amount,
		Type:        txType,
		Category:    category,
		Memo:        memo,
		Status:      status,
		BlockNumber: receipt.BlockNumber,
		GasUsed:     receipt.GasUsed,
		Timestamp:   s.now(),
		ExplorerURL:   g.Chain().ExplorerTxURL(txHash.Hex()),
		Wallet:        account.Hex(),
		InvoiceNumber: invoiceNumber,
	}
	if err := s.ledger.Record(entry); err != nil {
		s.logger.Warn("Failed to record transfer", zap.String("tx_hash", entry.TxHash), zap.Error(err))
	}
	if s.outbox != nil {
		if err := s.outbox.Enqueue(events.TypeTransactionRecorded, entry); err != nil {
			s.logger.Warn("Failed to enqueue transaction event", zap.String("tx_hash", entry.TxHash), zap.Error(err))
		}
	}

	if status == model.TxStatusFailed {
		return &entry, &gateway.ChainError{Chain: chain, TxHash: txHash.Hex(), Op: "transfer"}
	}

	s.logger.Info("Transfer confirmed",
		zap.String("chain", chain),
		zap.String("tx_hash", entry.TxHash),
		zap.String("to", to.Hex()),
		zap.String("amount_usdc", amount.String()))
	return &entry, nil
}

// CheckBudgetLimit rejects a spend that would exceed the category's remaining
// budget for the current period. No reservation is taken; the treasury is a
// single-writer system.
func (s *Service) CheckBudgetLimit(chain, category string, amount decimal.Decimal) error {
	if category == "" {
		return nil
	}
	budget, err := s.budgets.Get(chain, category)
	if err != nil {
		return err
	}
	if budget == nil {
		return nil
	}

	spent, err := s.ledger.SumSpentSince(chain, category, periodStart(budget.Period, s.now()))
	if err != nil {
		return err
	}
	if spent.Add(amount).GreaterThan(budget.LimitUSDC) {
		return fmt.Errorf("%w: %s/%s spent %s of %s this %s, transfer of %s refused",
			ErrBudgetExceeded, chain, category, spent, budget.LimitUSDC, budget.Period, amount)
	}
	return nil
}

// BudgetStatuses computes utilization for every budget, optionally filtered
// by chain and category.
func (s *Service) BudgetStatuses(chain, category string) ([]model.BudgetStatus, error) {
	budgets, err := s.budgets.List()
	if err != nil {
		return nil, err
	}

	var statuses []model.BudgetStatus
	for _, budget := range budgets {
		if chain != "" && budget.Chain != chain {
			continue
		}
		if category != "" && budget.Category != category {
			continue
		}
		spent, err := s.ledger.SumSpentSince(budget.Chain, budget.Category, periodStart(budget.Period, s.now()))
		if err != nil {
			return nil, err
		}

		utilization := 0.0
		if budget.LimitUSDC.IsPositive() {
			utilization, _ = spent.Div(budget.LimitUSDC).Float64()
		}
		statuses = append(statuses, model.BudgetStatus{
			Chain:          budget.Chain,
			Category:       budget.Category,
			LimitUSDC:      budget.LimitUSDC,
			SpentUSDC:      spent,
			RemainingUSDC:  budget.LimitUSDC.Sub(spent),
			UtilizationPct: utilization * 100,
			Period:         budget.Period,
			Alert:          utilization >= budgetAlertThreshold,
		})
	}
	return statuses, nil
}

// periodStart resolves a budget period to its calendar start in UTC: midnight
// for daily, Monday for weekly, the first of the month for monthly.
func periodStart(period string, now time.Time) time.Time {
	now = now.UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	switch period {
	case model.PeriodDaily:
		return midnight
	case model.PeriodWeekly:
		weekday := int(midnight.Weekday())
		if weekday == 0 {
			weekday = 7
		}
		return midnight.AddDate(0, 0, 1-weekday)
	default:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
}
