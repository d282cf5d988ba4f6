package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"escrowflow/db"
)

// RelayConfig tunes the outbox drain loop.
type RelayConfig struct {
	Topic        string
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
}

type kafkaMessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Relay drains pending outbox rows to Kafka. Delivery is at-least-once: a row
// is marked processed only after the broker accepts it, and rows that keep
// failing are parked as dead after MaxAttempts.
type Relay struct {
	pool   db.Pool
	writer kafkaMessageWriter
	log    *slog.Logger
	cfg    RelayConfig
}

func NewRelay(pool db.Pool, writer kafkaMessageWriter, log *slog.Logger, cfg RelayConfig) (*Relay, error) {
	if writer == nil {
		return nil, fmt.Errorf("events: relay requires a writer")
	}
	if log == nil {
		return nil, fmt.Errorf("events: relay requires a logger")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	return &Relay{
		pool:   pool,
		writer: writer,
		log:    log.With(slog.String("component", "outbox_relay")),
		cfg:    cfg,
	}, nil
}

// Run polls until the context is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n, err := r.DrainOnce(ctx); err != nil {
				r.log.Error("outbox_drain_err", slog.Any("err", err))
			} else if n > 0 {
				r.log.Info("outbox_drained", slog.Int("published", n))
			}
		}
	}
}

// DrainOnce claims up to BatchSize pending rows with SKIP LOCKED, publishes
// each, and records the outcome. Returns the number published.
func (r *Relay) DrainOnce(ctx context.Context) (int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("events: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
        SELECT id, topic, payload, attempts FROM outbox
        WHERE status = 'pending'
        ORDER BY created_at
        FOR UPDATE SKIP LOCKED
        LIMIT $1
    `, r.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("events: claim batch: %w", err)
	}

	type pending struct {
		id       string
		topic    string
		payload  []byte
		attempts int
	}
	batch := make([]pending, 0, r.cfg.BatchSize)
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.id, &p.topic, &p.payload, &p.attempts); err != nil {
			rows.Close()
			return 0, fmt.Errorf("events: scan outbox row: %w", err)
		}
		batch = append(batch, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("events: iterate outbox: %w", err)
	}

	published := 0
	for _, p := range batch {
		err := r.writer.WriteMessages(ctx, kafka.Message{
			Topic: r.cfg.Topic,
			Key:   []byte(p.topic),
			Value: p.payload,
		})
		if err != nil {
			r.log.Error("outbox_publish_err", slog.String("id", p.id), slog.String("topic", p.topic), slog.Any("err", err))
			status := "pending"
			if p.attempts+1 >= r.cfg.MaxAttempts {
				status = "dead"
			}
			if _, err := tx.Exec(ctx, `UPDATE outbox SET attempts = attempts + 1, status = $2, last_attempt = NOW() WHERE id = $1`, p.id, status); err != nil {
				return published, fmt.Errorf("events: mark failed: %w", err)
			}
			continue
		}
		if _, err := tx.Exec(ctx, `UPDATE outbox SET status = 'processed', last_attempt = NOW() WHERE id = $1`, p.id); err != nil {
			return published, fmt.Errorf("events: mark processed: %w", err)
		}
		published++
	}

	if err := tx.Commit(ctx); err != nil {
		return published, fmt.Errorf("events: commit: %w", err)
	}
	return published, nil
}
