package escrow

import (
	"context"
	"encoding/json"
	"fmt"

	"escrowflow/db"
)

// TimelineWriter appends an immutable audit event for an escrow transaction
// within the caller's transaction.
type TimelineWriter interface {
	Append(ctx context.Context, q db.Querier, escrowID int64, eventType, actor string, payload map[string]any) error
}

// OutboxWriter enqueues a notification within the caller's transaction.
// Satisfied by events.Outbox.
type OutboxWriter interface {
	Enqueue(ctx context.Context, q db.Querier, topic string, payload map[string]any) error
}

// PGTimeline writes timeline_events rows. The per-escrow sequence is computed
// under the escrow row lock held by the enclosing operation, so it is gapless
// and strictly increasing per id.
type PGTimeline struct{}

func NewTimeline() *PGTimeline {
	return &PGTimeline{}
}

func (t *PGTimeline) Append(ctx context.Context, q db.Querier, escrowID int64, eventType, actor string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("escrow: marshal timeline payload: %w", err)
	}
	var actorArg any
	if actor != "" {
		actorArg = actor
	}
	_, err = q.Exec(ctx, `
        INSERT INTO timeline_events (escrow_id, seq, type, actor_id, payload)
        SELECT $1, COALESCE(MAX(seq), 0) + 1, $2, $3, $4::jsonb
        FROM timeline_events WHERE escrow_id = $1
    `, escrowID, eventType, actorArg, body)
	if err != nil {
		return fmt.Errorf("escrow: insert timeline event: %w", err)
	}
	return nil
}
