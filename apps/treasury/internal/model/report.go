package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Reconciliation match outcomes. Every internal record lands in exactly one
// of matched / amount_mismatch / unmatched_internal; every on-chain transfer
// absent from internal records lands in unmatched_onchain.
const (
	MatchStatusMatched        = "matched"
	MatchStatusAmountMismatch = "amount_mismatch"
)

type MatchedTx struct {
	TxHash         string          `json:"tx_hash"`
	Status         string          `json:"status"`
	Amount         decimal.Decimal `json:"amount"`
	InternalAmount decimal.Decimal `json:"internal_amount,omitempty"`
	OnchainAmount  decimal.Decimal `json:"onchain_amount,omitempty"`
}

type UnmatchedInternalTx struct {
	TxHash string          `json:"tx_hash"`
	Amount decimal.Decimal `json:"amount"`
	Type   string          `json:"type"`
	Note   string          `json:"note"`
}

type UnmatchedOnchainTx struct {
	TxHash       string          `json:"tx_hash"`
	Amount       decimal.Decimal `json:"amount"`
	Direction    string          `json:"direction"`
	Counterparty string          `json:"counterparty"`
	Note         string          `json:"note"`
}

type InvoiceCheck struct {
	InvoiceNumber string          `json:"invoice_number"`
	Status        string          `json:"status"`
	PaymentSum    decimal.Decimal `json:"payment_sum,omitempty"`
	RecordedPaid  decimal.Decimal `json:"recorded_paid"`
	Total         decimal.Decimal `json:"total,omitempty"`
	InvoiceStatus string          `json:"invoice_status,omitempty"`
}

type BalanceCheck struct {
	OnchainUSDC decimal.Decimal `json:"onchain_usdc"`
	Status      string          `json:"status"`
	Error       string          `json:"error,omitempty"`
}

type ChainReport struct {
	ChainName         string                `json:"chain_name"`
	Error             string                `json:"error,omitempty"`
	MatchedTxs        []MatchedTx           `json:"matched_txs"`
	UnmatchedInternal []UnmatchedInternalTx `json:"unmatched_internal"`
	UnmatchedOnchain  []UnmatchedOnchainTx  `json:"unmatched_onchain"`
	InvoiceChecks     []InvoiceCheck        `json:"invoice_checks"`
	BalanceCheck      BalanceCheck          `json:"balance_check"`
}

type ReportSummary struct {
	Matched              int  `json:"matched"`
	AmountMismatches     int  `json:"amount_mismatches"`
	UnmatchedInternal    int  `json:"unmatched_internal"`
	UnmatchedOnchain     int  `json:"unmatched_onchain"`
	InvoiceDiscrepancies int  `json:"invoice_discrepancies"`
	BalanceOK            bool `json:"balance_ok"`
}

// ReconciliationReport cross-checks the internal ledger against on-chain
// state per chain.
type ReconciliationReport struct {
	Timestamp time.Time               `json:"timestamp"`
	Chains    map[string]*ChainReport `json:"chains"`
	Summary   ReportSummary           `json:"summary"`
}

// PaymentVerification re-checks one recorded invoice payment on-chain.
type PaymentVerification struct {
	TxHash         string `json:"tx_hash"`
	RecordedStatus string `json:"recorded_status"`
	OnchainStatus  string `json:"onchain_status,omitempty"`
	BlockNumber    uint64 `json:"block_number,omitempty"`
	Match          bool   `json:"match"`
	Error          string `json:"error,omitempty"`
}

// InvoiceReconciliation is the per-invoice variant of the report.
type InvoiceReconciliation struct {
	InvoiceNumber    string                `json:"invoice_number"`
	Status           string                `json:"status"`
	Total            decimal.Decimal       `json:"total"`
	RecordedPaid     decimal.Decimal       `json:"recorded_paid"`
	PaymentsVerified []PaymentVerification `json:"payments_verified"`
}
