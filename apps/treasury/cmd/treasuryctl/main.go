package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jessevdk/go-flags"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"treasury/apps/treasury/internal/bridge"
	"treasury/apps/treasury/internal/config"
	"treasury/apps/treasury/internal/gateway"
	"treasury/apps/treasury/internal/invoices"
	"treasury/apps/treasury/internal/model"
	"treasury/apps/treasury/internal/reconcile"
	"treasury/apps/treasury/internal/reports"
	"treasury/apps/treasury/internal/repository"
	"treasury/apps/treasury/internal/scanner"
	"treasury/apps/treasury/internal/treasury"
)

var globalOpts struct {
	Verbose bool `short:"v" long:"verbose" description:"log to stderr instead of staying quiet"`
}

// app holds everything a subcommand needs: one DB handle, one gateway per
// chain and the services on top. Built per invocation, closed on exit.
type app struct {
	cfg      *config.Config
	db       *sql.DB
	logger   *zap.Logger
	gateways map[string]*gateway.Gateway

	transactions  *repository.TransactionRepository
	invoiceStore  *repository.InvoiceRepository
	bridgeStore   *repository.BridgeRepository
	marks         *repository.HighWaterMarkRepository
	budgets       *repository.BudgetRepository
	outbox        *repository.OutboxRepository
	wallets       *repository.WalletRepository
	treasury      *treasury.Service
	invoices      *invoices.Service
	bridges       *bridge.Service
	reconciler    *reconcile.Reconciler
	scanner       *scanner.Scanner
	reportService *reports.Service
}

func newApp() (*app, error) {
	logger := zap.NewNop()
	if globalOpts.Verbose {
		var err error
		if logger, err = zap.NewDevelopment(); err != nil {
			return nil, err
		}
	}

	cfg, err := config.NewConfig()
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", cfg.DbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := repository.InitMigration(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run database migration: %w", err)
	}

	a := &app{cfg: cfg, db: db, logger: logger, gateways: make(map[string]*gateway.Gateway)}
	for key, chain := range cfg.Chains {
		g, err := gateway.NewGateway(chain, cfg.PrivateKeyHex, logger)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to connect to %s: %w", key, err)
		}
		a.gateways[key] = g
	}

	a.transactions = repository.NewTransactionRepository(db, logger)
	a.invoiceStore = repository.NewInvoiceRepository(db, logger)
	a.bridgeStore = repository.NewBridgeRepository(db, logger)
	a.marks = repository.NewHighWaterMarkRepository(db, logger)
	a.budgets = repository.NewBudgetRepository(db, logger)
	a.outbox = repository.NewOutboxRepository(db, logger)
	a.wallets = repository.NewWalletRepository(db, logger)

	bridgeGateways := make(map[string]bridge.Gateway, len(a.gateways))
	treasuryGateways := make(map[string]treasury.Gateway, len(a.gateways))
	scannerGateways := make(map[string]scanner.Gateway, len(a.gateways))
	reconcileGateways := make(map[string]reconcile.Gateway, len(a.gateways))
	for key, g := range a.gateways {
		bridgeGateways[key] = g
		treasuryGateways[key] = g
		scannerGateways[key] = g
		reconcileGateways[key] = g
	}

	oracle := bridge.NewAttestationClient(cfg.AttestationAPI, logger)
	a.bridges = bridge.NewService(cfg, bridgeGateways, a.bridgeStore, a.transactions, oracle, a.outbox, logger)
	a.treasury = treasury.NewService(cfg, treasuryGateways, a.transactions, a.budgets, a.outbox, logger)
	a.invoices = invoices.NewService(cfg, a.invoiceStore, a.treasury, a.transactions, a.outbox, logger)
	a.reconciler = reconcile.NewReconciler(cfg, reconcileGateways, a.transactions, a.invoiceStore, cfg.DefaultLookback, logger)
	a.scanner = scanner.NewScanner(scannerGateways, a.marks, a.transactions, cfg.DefaultLookback, logger)
	a.reportService = reports.NewService(a.treasury, a.transactions, a.invoiceStore, logger)
	return a, nil
}

func (a *app) Close() {
	for _, g := range a.gateways {
		g.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
	if a.logger != nil {
		a.logger.Sync()
	}
}

// run wires an app, hands it to the command body and prints the result.
func run(fn func(a *app, ctx context.Context) (interface{}, error)) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := fn(a, context.Background())
	if err != nil {
		return err
	}
	return printJSON(os.Stdout, result)
}

func printJSON(w *os.File, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseAmount(s string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid amount %q", s)
	}
	return amount, nil
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

type balanceCommand struct {
	Chain string `long:"chain" description:"single chain key; all chains when omitted"`
}

func (c *balanceCommand) Execute(args []string) error {
	return run(func(a *app, ctx context.Context) (interface{}, error) {
		if c.Chain != "" {
			return a.treasury.Balance(ctx, c.Chain, a.cfg.Wallet)
		}
		balances, total := a.treasury.AllBalances(ctx, a.cfg.Wallet)
		return map[string]interface{}{
			"wallet":     a.cfg.Wallet.Hex(),
			"balances":   balances,
			"total_usdc": total,
		}, nil
	})
}

type transferCommand struct {
	Chain    string `long:"chain" required:"true" description:"chain key"`
	To       string `long:"to" required:"true" description:"recipient address"`
	Amount   string `long:"amount" required:"true" description:"USDC amount"`
	Memo     string `long:"memo" description:"free-form note"`
	Category string `long:"category" description:"budget category"`
}

func (c *transferCommand) Execute(args []string) error {
	return run(func(a *app, ctx context.Context) (interface{}, error) {
		to, err := parseAddress(c.To)
		if err != nil {
			return nil, err
		}
		amount, err := parseAmount(c.Amount)
		if err != nil {
			return nil, err
		}
		return a.treasury.Transfer(ctx, c.Chain, to, amount, c.Memo, c.Category)
	})
}

type historyCommand struct {
	Chain     string `long:"chain" description:"filter by chain key"`
	Type      string `long:"type" description:"filter by transaction type"`
	Direction string `long:"direction" description:"incoming or outgoing"`
	Days      int    `long:"days" description:"only entries from the last N days"`
	Limit     int    `long:"limit" default:"50" description:"max entries"`
}

func (c *historyCommand) Execute(args []string) error {
	return run(func(a *app, ctx context.Context) (interface{}, error) {
		filter := repository.ListFilter{
			Chain:     c.Chain,
			Type:      c.Type,
			Direction: c.Direction,
			Limit:     c.Limit,
		}
		if c.Days > 0 {
			filter.Since = time.Now().UTC().AddDate(0, 0, -c.Days)
		}
		return a.transactions.List(filter)
	})
}

type budgetSetCommand struct {
	Chain    string `long:"chain" required:"true" description:"chain key"`
	Category string `long:"category" required:"true" description:"spending category"`
	Limit    string `long:"limit" required:"true" description:"USDC limit per period"`
	Period   string `long:"period" default:"monthly" choice:"daily" choice:"weekly" choice:"monthly" description:"budget period"`
}

func (c *budgetSetCommand) Execute(args []string) error {
	return run(func(a *app, ctx context.Context) (interface{}, error) {
		limit, err := parseAmount(c.Limit)
		if err != nil {
			return nil, err
		}
		if _, err := a.cfg.Chain(c.Chain); err != nil {
			return nil, err
		}
		budget := model.Budget{
			Chain:     c.Chain,
			Category:  c.Category,
			LimitUSDC: limit,
			Period:    c.Period,
		}
		if err := a.budgets.Upsert(budget); err != nil {
			return nil, err
		}
		return budget, nil
	})
}

type budgetStatusCommand struct {
	Chain    string `long:"chain" description:"filter by chain key"`
	Category string `long:"category" description:"filter by category"`
}

func (c *budgetStatusCommand) Execute(args []string) error {
	return run(func(a *app, ctx context.Context) (interface{}, error) {
		return a.treasury.BudgetStatuses(c.Chain, c.Category)
	})
}

type invoiceCreateCommand struct {
	Counterparty string   `long:"counterparty" required:"true" description:"counterparty name"`
	Address      string   `long:"address" required:"true" description:"counterparty wallet address"`
	Chain        string   `long:"chain" required:"true" description:"settlement chain key"`
	Items        []string `long:"item" required:"true" description:"line item as description:quantity:unit_price, repeatable"`
	Category     string   `long:"category" description:"budget category"`
	Memo         string   `long:"memo" description:"free-form note"`
	Type         string   `long:"type" default:"payable" choice:"payable" choice:"receivable" description:"invoice direction"`
	Due          string   `long:"due" description:"due date, YYYY-MM-DD"`
}

func (c *invoiceCreateCommand) Execute(args []string) error {
	return run(func(a *app, ctx context.Context) (interface{}, error) {
		items := make([]model.LineItem, 0, len(c.Items))
		for _, raw := range c.Items {
			item, err := parseLineItem(raw)
			if err != nil {
				return nil, err
			}
			items = append(items, item)
		}
		params := invoices.CreateParams{
			CounterpartyName:    c.Counterparty,
			CounterpartyAddress: c.Address,
			Chain:               c.Chain,
			LineItems:           items,
			Category:            c.Category,
			Memo:                c.Memo,
			InvoiceType:         c.Type,
		}
		if c.Due != "" {
			due, err := time.Parse("2006-01-02", c.Due)
			if err != nil {
				return nil, fmt.Errorf("invalid due date %q, expected YYYY-MM-DD", c.Due)
			}
			params.DueDate = due
		}
		return a.invoices.Create(params)
	})
}

// parseLineItem splits "description:quantity:unit_price"; a bare
// "description:amount" means quantity 1.
func parseLineItem(raw string) (model.LineItem, error) {
	parts := strings.Split(raw, ":")
	switch len(parts) {
	case 2:
		price, err := parseAmount(parts[1])
		if err != nil {
			return model.LineItem{}, fmt.Errorf("line item %q: %w", raw, err)
		}
		return model.LineItem{Description: parts[0], Quantity: decimal.NewFromInt(1), UnitPrice: price}, nil
	case 3:
		quantity, err := parseAmount(parts[1])
		if err != nil {
			return model.LineItem{}, fmt.Errorf("line item %q: %w", raw, err)
		}
		price, err := parseAmount(parts[2])
		if err != nil {
			return model.LineItem{}, fmt.Errorf("line item %q: %w", raw, err)
		}
		return model.LineItem{Description: parts[0], Quantity: quantity, UnitPrice: price}, nil
	default:
		return model.LineItem{}, fmt.Errorf("line item %q: expected description:quantity:unit_price", raw)
	}
}

type invoicePayCommand struct {
	Number string `long:"number" required:"true" description:"invoice number"`
	Amount string `long:"amount" description:"partial amount; full remaining balance when omitted"`
}

func (c *invoicePayCommand) Execute(args []string) error {
	return run(func(a *app, ctx context.Context) (interface{}, error) {
		amount := decimal.Zero
		if c.Amount != "" {
			var err error
			if amount, err = parseAmount(c.Amount); err != nil {
				return nil, err
			}
		}
		invoice, tx, err := a.invoices.Pay(ctx, c.Number, amount)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"invoice": invoice, "transaction": tx}, nil
	})
}

type invoiceListCommand struct {
	Status       string `long:"status" description:"filter by status"`
	Counterparty string `long:"counterparty" description:"filter by counterparty address"`
	Type         string `long:"type" description:"payable or receivable"`
	Open         bool   `long:"open" description:"only pending and partial invoices"`
}

func (c *invoiceListCommand) Execute(args []string) error {
	return run(func(a *app, ctx context.Context) (interface{}, error) {
		return a.invoices.List(repository.InvoiceFilter{
			Status:       c.Status,
			Counterparty: c.Counterparty,
			InvoiceType:  c.Type,
			OpenOnly:     c.Open,
		})
	})
}

type invoiceAuditCommand struct {
	Number string `long:"number" required:"true" description:"invoice number"`
}

func (c *invoiceAuditCommand) Execute(args []string) error {
	return run(func(a *app, ctx context.Context) (interface{}, error) {
		return a.invoices.Audit(c.Number)
	})
}

type invoiceCancelCommand struct {
	Number string `long:"number" required:"true" description:"invoice number"`
}

func (c *invoiceCancelCommand) Execute(args []string) error {
	return run(func(a *app, ctx context.Context) (interface{}, error) {
		return a.invoices.Cancel(c.Number)
	})
}

type bridgeBridgeCommand struct {
	From      string `long:"from" required:"true" description:"source chain key"`
	To        string `long:"to" required:"true" description:"destination chain key"`
	Amount    string `long:"amount" required:"true" description:"USDC amount"`
	Recipient string `long:"recipient" description:"destination recipient; treasury wallet when omitted"`
	Fast      bool   `long:"fast" description:"fast finality with a transfer fee"`
	Timeout   int    `long:"timeout" default:"900" description:"attestation wait in seconds"`
}

func (c *bridgeBridgeCommand) Execute(args []string) error {
	return run(func(a *app, ctx context.Context) (interface{}, error) {
		recipient := a.cfg.Wallet
		if c.Recipient != "" {
			var err error
			if recipient, err = parseAddress(c.Recipient); err != nil {
				return nil, err
			}
		}
		amount, err := parseAmount(c.Amount)
		if err != nil {
			return nil, err
		}

		record, err := a.bridges.Initiate(ctx, c.From, c.To, amount, recipient, c.Fast)
		if err != nil {
			return nil, err
		}
		burnTxHash := record.BurnTxHash
		if _, err := a.bridges.PollAttestation(ctx, burnTxHash, time.Duration(c.Timeout)*time.Second); err != nil {
			// The burn is durable; tell the operator how to resume.
			return nil, fmt.Errorf("%w (burn %s persisted, resume with: treasuryctl bridge complete --tx %s)",
				err, burnTxHash, burnTxHash)
		}
		return a.bridges.CompleteMint(ctx, burnTxHash, time.Duration(c.Timeout)*time.Second)
	})
}

type bridgeStatusCommand struct {
	Tx string `long:"tx" required:"true" description:"burn transaction hash"`
}

func (c *bridgeStatusCommand) Execute(args []string) error {
	return run(func(a *app, ctx context.Context) (interface{}, error) {
		return a.bridges.Status(ctx, c.Tx)
	})
}

type bridgeCompleteCommand struct {
	Tx      string `long:"tx" required:"true" description:"burn transaction hash"`
	Timeout int    `long:"timeout" default:"900" description:"attestation wait in seconds when none is stored"`
}

func (c *bridgeCompleteCommand) Execute(args []string) error {
	return run(func(a *app, ctx context.Context) (interface{}, error) {
		return a.bridges.CompleteMint(ctx, c.Tx, time.Duration(c.Timeout)*time.Second)
	})
}

type bridgeRetryCommand struct {
	Tx string `long:"tx" required:"true" description:"burn transaction hash"`
}

func (c *bridgeRetryCommand) Execute(args []string) error {
	return run(func(a *app, ctx context.Context) (interface{}, error) {
		return a.bridges.RetryMint(ctx, c.Tx)
	})
}

type bridgePendingCommand struct{}

func (c *bridgePendingCommand) Execute(args []string) error {
	return run(func(a *app, ctx context.Context) (interface{}, error) {
		return a.bridges.ListPending()
	})
}

type bridgeFeesCommand struct {
	From string `long:"from" required:"true" description:"source chain key"`
	To   string `long:"to" required:"true" description:"destination chain key"`
}

func (c *bridgeFeesCommand) Execute(args []string) error {
	return run(func(a *app, ctx context.Context) (interface{}, error) {
		return a.bridges.Fees(ctx, c.From, c.To)
	})
}

type reconcileFullCommand struct {
	Chain string `long:"chain" description:"single chain key; all chains when omitted"`
}

func (c *reconcileFullCommand) Execute(args []string) error {
	return run(func(a *app, ctx context.Context) (interface{}, error) {
		return a.reconciler.Run(ctx, a.cfg.Wallet, c.Chain)
	})
}

type reconcileInvoiceCommand struct {
	Number string `long:"number" required:"true" description:"invoice number"`
}

func (c *reconcileInvoiceCommand) Execute(args []string) error {
	return run(func(a *app, ctx context.Context) (interface{}, error) {
		invoice, err := a.invoices.Get(c.Number)
		if err != nil {
			return nil, err
		}
		return a.reconciler.ReconcileInvoice(ctx, invoice)
	})
}

type reconcileFetchCommand struct {
	Chain string `long:"chain" description:"single chain key; all chains when omitted"`
	From  uint64 `long:"from" description:"override start block (single chain only)"`
}

func (c *reconcileFetchCommand) Execute(args []string) error {
	return run(func(a *app, ctx context.Context) (interface{}, error) {
		var results []scanner.Result
		if c.Chain != "" {
			result, err := a.scanner.ScanChain(ctx, c.Chain, a.cfg.Wallet, c.From)
			if err != nil {
				return nil, err
			}
			results = append(results, *result)
		} else {
			if c.From != 0 {
				return nil, errors.New("--from requires --chain")
			}
			all, errs := a.scanner.ScanAll(ctx, a.cfg.Wallet)
			if len(errs) > 0 {
				return nil, errs[0]
			}
			results = all
		}

		matches := make([]reconcile.MatchResult, 0)
		for _, result := range results {
			chainMatches, err := a.reconciler.AutoMatch(ctx, result.Chain, result.Transfers)
			if err != nil {
				return nil, err
			}
			matches = append(matches, chainMatches...)
		}
		return map[string]interface{}{"scans": results, "matches": matches}, nil
	})
}

type walletAddCommand struct {
	Address string `long:"address" required:"true" description:"wallet address"`
	Name    string `long:"name" description:"display name"`
	Default bool   `long:"default" description:"make this the default wallet"`
}

func (c *walletAddCommand) Execute(args []string) error {
	return run(func(a *app, ctx context.Context) (interface{}, error) {
		addr, err := parseAddress(c.Address)
		if err != nil {
			return nil, err
		}
		wallet := model.Wallet{
			Address:   strings.ToLower(addr.Hex()),
			Name:      c.Name,
			IsDefault: c.Default,
			AddedAt:   time.Now().UTC(),
		}
		if err := a.wallets.Upsert(wallet); err != nil {
			return nil, err
		}
		return wallet, nil
	})
}

type walletListCommand struct{}

func (c *walletListCommand) Execute(args []string) error {
	return run(func(a *app, ctx context.Context) (interface{}, error) {
		return a.wallets.List()
	})
}

type walletRemoveCommand struct {
	Address string `long:"address" required:"true" description:"wallet address"`
}

func (c *walletRemoveCommand) Execute(args []string) error {
	return run(func(a *app, ctx context.Context) (interface{}, error) {
		addr, err := parseAddress(c.Address)
		if err != nil {
			return nil, err
		}
		if err := a.wallets.Remove(strings.ToLower(addr.Hex())); err != nil {
			return nil, err
		}
		return map[string]string{"removed": strings.ToLower(addr.Hex())}, nil
	})
}

type reportCommand struct {
	Kind  string `long:"kind" default:"balance-sheet" choice:"balance-sheet" choice:"spending" description:"report type"`
	Chain string `long:"chain" description:"spending report chain filter"`
	Days  int    `long:"days" default:"30" description:"spending report window"`
}

func (c *reportCommand) Execute(args []string) error {
	return run(func(a *app, ctx context.Context) (interface{}, error) {
		if c.Kind == "spending" {
			since := time.Now().UTC().AddDate(0, 0, -c.Days)
			return a.reportService.SpendingByCategory(c.Chain, since)
		}
		return a.reportService.BalanceSheet(ctx, a.cfg.Wallet)
	})
}

func main() {
	parser := flags.NewParser(&globalOpts, flags.HelpFlag|flags.PassDoubleDash)
	parser.ShortDescription = "Multi-chain USDC treasury operations"

	must := func(_ *flags.Command, err error) {
		if err != nil {
			panic(err)
		}
	}

	must(parser.AddCommand("balance", "Show USDC and native balances", "", &balanceCommand{}))
	must(parser.AddCommand("transfer", "Send USDC on one chain", "", &transferCommand{}))
	must(parser.AddCommand("history", "List ledger entries", "", &historyCommand{}))
	must(parser.AddCommand("report", "Balance sheet or spending summary", "", &reportCommand{}))

	budgetCmd, err := parser.AddCommand("budget", "Manage spending budgets", "", &struct{}{})
	if err != nil {
		panic(err)
	}
	must(budgetCmd.AddCommand("set", "Create or update a budget", "", &budgetSetCommand{}))
	must(budgetCmd.AddCommand("status", "Show budget utilization", "", &budgetStatusCommand{}))

	invoiceCmd, err := parser.AddCommand("invoice", "Manage invoices", "", &struct{}{})
	if err != nil {
		panic(err)
	}
	must(invoiceCmd.AddCommand("create", "Create an invoice", "", &invoiceCreateCommand{}))
	must(invoiceCmd.AddCommand("pay", "Pay an invoice on-chain", "", &invoicePayCommand{}))
	must(invoiceCmd.AddCommand("list", "List invoices", "", &invoiceListCommand{}))
	must(invoiceCmd.AddCommand("audit", "Invoice with its linked transactions", "", &invoiceAuditCommand{}))
	must(invoiceCmd.AddCommand("cancel", "Cancel an unpaid invoice", "", &invoiceCancelCommand{}))

	bridgeCmd, err := parser.AddCommand("bridge", "CCTP cross-chain USDC transfers", "", &struct{}{})
	if err != nil {
		panic(err)
	}
	must(bridgeCmd.AddCommand("bridge", "Burn, wait for attestation, mint", "", &bridgeBridgeCommand{}))
	must(bridgeCmd.AddCommand("status", "Show one bridge's state", "", &bridgeStatusCommand{}))
	must(bridgeCmd.AddCommand("complete", "Poll attestation if needed, then mint", "", &bridgeCompleteCommand{}))
	must(bridgeCmd.AddCommand("retry", "Re-submit the mint with the stored attestation", "", &bridgeRetryCommand{}))
	must(bridgeCmd.AddCommand("pending", "List unfinished bridges", "", &bridgePendingCommand{}))
	must(bridgeCmd.AddCommand("fees", "Fast-transfer fee quotes", "", &bridgeFeesCommand{}))

	reconcileCmd, err := parser.AddCommand("reconcile", "Cross-check records against chain", "", &struct{}{})
	if err != nil {
		panic(err)
	}
	must(reconcileCmd.AddCommand("full", "Full reconciliation report", "", &reconcileFullCommand{}))
	must(reconcileCmd.AddCommand("invoice", "Verify one invoice's payments on-chain", "", &reconcileInvoiceCommand{}))
	must(reconcileCmd.AddCommand("fetch", "Scan for new transfers and auto-match", "", &reconcileFetchCommand{}))

	walletCmd, err := parser.AddCommand("wallet", "Manage tracked wallets", "", &struct{}{})
	if err != nil {
		panic(err)
	}
	must(walletCmd.AddCommand("add", "Track a wallet", "", &walletAddCommand{}))
	must(walletCmd.AddCommand("list", "List tracked wallets", "", &walletListCommand{}))
	must(walletCmd.AddCommand("remove", "Stop tracking a wallet", "", &walletRemoveCommand{}))

	if _, err := parser.Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			fmt.Println(err)
			os.Exit(0)
		}
		fail(err)
	}
}

// fail prints a JSON error object to stderr and exits non-zero. Every
// command failure funnels through here so scripted callers can parse it.
func fail(err error) {
	_ = printJSON(os.Stderr, map[string]string{"error": err.Error()})
	os.Exit(1)
}
