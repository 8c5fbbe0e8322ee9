package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Transaction type tags.
const (
	TxTypeTransfer           = "transfer"
	TxTypeIncoming           = "incoming_transfer"
	TxTypeInvoicePayment     = "invoice_payment"
	TxTypeInvoicePaymentFail = "invoice_payment_failed"
	TxTypeBridgeBurn         = "cctp_bridge"
	TxTypeBridgeMint         = "cctp_mint"
	TxTypeApproval           = "approval"
)

const (
	TxStatusConfirmed = "confirmed"
	TxStatusFailed    = "failed"
)

// Transaction is one immutable ledger entry for an on-chain action taken or
// observed. Rows are append-only; reconciliation annotations live on reports,
// not on the stored row.
type Transaction struct {
	TxHash      string          `db:"tx_hash"`
	Chain       string          `db:"chain"`
	ChainName   string          `db:"chain_name"`
	Direction   string          `db:"direction"`
	FromAddress string          `db:"from_address"`
	ToAddress   string          `db:"to_address"`
	AmountUSDC  decimal.Decimal `db:"amount_usdc"`
	Type        string          `db:"type"`
	Category    string          `db:"category"`
	Memo        string          `db:"memo"`
	Status      string          `db:"status"`
	BlockNumber uint64          `db:"block_number"`
	GasUsed     uint64          `db:"gas_used"`
	Timestamp   time.Time       `db:"timestamp"`
	ExplorerURL string          `db:"explorer_url"`
	Wallet      string          `db:"wallet"`

	// Linkage columns for specific record kinds.
	InvoiceNumber   string `db:"invoice_number"`
	CCTPMessageHash string `db:"cctp_message_hash"`
	CCTPBurnTx      string `db:"cctp_burn_tx"`

	// Extra is a bounded extension bag for genuinely variable metadata.
	Extra json.RawMessage `db:"extra_json"`
}

// TransferDirection values for scanned on-chain transfers.
const (
	DirectionOutgoing = "outgoing"
	DirectionIncoming = "incoming"
)

// Transfer is a normalized on-chain USDC transfer discovered by the scanner.
type Transfer struct {
	TxHash       string          `json:"tx_hash"`
	Chain        string          `json:"chain"`
	Direction    string          `json:"direction"`
	From         string          `json:"from"`
	To           string          `json:"to"`
	AmountUSDC   decimal.Decimal `json:"amount_usdc"`
	BlockNumber  uint64          `json:"block_number"`
	Timestamp    time.Time       `json:"timestamp"`
}

// Counterparty is the non-wallet side of a transfer.
func (t Transfer) Counterparty() string {
	if t.Direction == DirectionOutgoing {
		return t.To
	}
	return t.From
}
