package model

import (
	"encoding/json"
	"time"
)

const (
	OutboxStatusUnsent = "unsent"
	OutboxStatusSent   = "sent"
)

// OutboxEvent is a durable notification row written in the same database as
// the state change it describes, drained by the notifier.
type OutboxEvent struct {
	ID        int64           `db:"id"`
	EventType string          `db:"event_type"`
	Status    string          `db:"status"`
	Payload   json.RawMessage `db:"payload"`
	CreatedAt time.Time       `db:"created_at"`
}
