// Package events defines the JSON envelope published to Kafka for treasury
// activity.
package events

import (
	"encoding/json"
	"time"
)

// Event types written to the outbox.
const (
	TypeTransactionRecorded = "transaction_recorded"
	TypeBridgeInitiated     = "bridge_initiated"
	TypeBridgeAttested      = "bridge_attested"
	TypeBridgeCompleted     = "bridge_completed"
	TypeInvoicePaid         = "invoice_paid"
)

// TreasuryEvent is the wire envelope for one outbox row.
type TreasuryEvent struct {
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	Timestamp time.Time       `json:"timestamp"`
}
