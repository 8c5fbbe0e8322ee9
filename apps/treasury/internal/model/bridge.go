package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Bridge lifecycle states. A record only ever moves forward, with the single
// exception of AttestationReceived falling back to AwaitingAttestation when a
// poll window expires before the oracle delivers.
const (
	BridgeStatusBurnConfirmed       = "burn_confirmed"
	BridgeStatusAwaitingAttestation = "awaiting_attestation"
	BridgeStatusAttestationReceived = "attestation_received"
	BridgeStatusCompleted           = "completed"
)

// BridgeRecord is one cross-chain USDC transfer attempt, keyed by the burn
// transaction hash. Created once the burn confirms; never deleted.
type BridgeRecord struct {
	BurnTxHash   string          `db:"burn_tx_hash"`
	SourceChain  string          `db:"source_chain"`
	DestChain    string          `db:"dest_chain"`
	AmountUSDC   decimal.Decimal `db:"amount_usdc"`
	Recipient    string          `db:"recipient"`
	MessageHash  string          `db:"message_hash"`
	MessageBytes []byte          `db:"message_bytes"`
	Attestation  []byte          `db:"attestation"`
	MintTxHash   string          `db:"mint_tx_hash"`
	Status       string          `db:"status"`
	CreatedAt    time.Time       `db:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at"`
}

// statusRank orders the lifecycle for the forward-only guard.
// awaiting_attestation and attestation_received share a rank: the fallback
// between them on poll timeout is a retry, not a regression of fact.
func statusRank(status string) int {
	switch status {
	case BridgeStatusBurnConfirmed:
		return 0
	case BridgeStatusAwaitingAttestation, BridgeStatusAttestationReceived:
		return 1
	case BridgeStatusCompleted:
		return 2
	}
	return -1
}

// CanTransition reports whether a bridge status may move from one state to
// another without regressing.
func CanTransition(from, to string) bool {
	if from == BridgeStatusCompleted {
		return from == to
	}
	return statusRank(to) >= statusRank(from)
}
