package events

import (
	"context"
	"encoding/json"
	"fmt"

	"escrowflow/db"
)

// Outbox enqueues notification messages inside the caller's transaction so
// they become visible only when the enclosing operation commits.
type Outbox struct{}

func NewOutbox() *Outbox {
	return &Outbox{}
}

func (o *Outbox) Enqueue(ctx context.Context, q db.Querier, topic string, payload map[string]any) error {
	if topic == "" {
		return fmt.Errorf("events: empty outbox topic")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("events: marshal outbox payload: %w", err)
	}
	if _, err := q.Exec(ctx, `INSERT INTO outbox (topic, payload) VALUES ($1, $2::jsonb)`, topic, body); err != nil {
		return fmt.Errorf("events: enqueue outbox: %w", err)
	}
	return nil
}
