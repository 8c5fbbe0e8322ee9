package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
	"treasury/apps/treasury/internal/model"
)

type OutboxRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewOutboxRepository(db *sql.DB, logger *zap.Logger) *OutboxRepository {
	return &OutboxRepository{db: db, logger: logger}
}

// Enqueue stores an event for the notifier to drain. The write shares no
// transaction with the caller; losing an event is acceptable, losing a state
// change is not, so state commits first.
func (r *OutboxRepository) Enqueue(eventType string, payload interface{}) error {
	blob, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode event payload: %w", err)
	}

	_, err = r.db.Exec(`
		INSERT INTO event_outbox (event_type, payload)
		VALUES ($1, $2)
	`, eventType, blob)
	if err != nil {
		return fmt.Errorf("failed to enqueue event: %w", err)
	}

	r.logger.Debug("Enqueued event", zap.String("event_type", eventType))
	return nil
}

func (r *OutboxRepository) ListUnsent(limit int) ([]model.OutboxEvent, error) {
	rows, err := r.db.Query(`
		SELECT id, event_type, status, payload, created_at
		FROM event_outbox
		WHERE status = 'unsent'
		ORDER BY id ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list unsent events: %w", err)
	}
	defer rows.Close()

	var events []model.OutboxEvent
	for rows.Next() {
		var event model.OutboxEvent
		var payload []byte
		if err := rows.Scan(&event.ID, &event.EventType, &event.Status, &payload, &event.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		event.Payload = payload
		events = append(events, event)
	}
	return events, rows.Err()
}

func (r *OutboxRepository) MarkSent(id int64) error {
	result, err := r.db.Exec(`
		UPDATE event_outbox SET status = 'sent' WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("failed to mark event sent: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
