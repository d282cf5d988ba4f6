package events

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/segmentio/kafka-go"
)

func TestNewRelay_RequiresWriter(t *testing.T) {
	if _, err := NewRelay(&fakePool{}, nil, slog.Default(), RelayConfig{}); err == nil {
		t.Fatal("expected error for nil writer")
	}
}

func TestDrainOnce_PublishesAndMarksProcessed(t *testing.T) {
	pool := &fakePool{rows: []outboxRow{
		{id: "r1", topic: "escrow.created", payload: []byte(`{"escrow_id":0}`)},
		{id: "r2", topic: "escrow.resolved", payload: []byte(`{"escrow_id":0}`)},
	}}
	writer := &fakeWriter{}

	relay, err := NewRelay(pool, writer, slog.Default(), RelayConfig{Topic: "escrow-events"})
	if err != nil {
		t.Fatalf("new relay: %v", err)
	}

	n, err := relay.DrainOnce(context.Background())
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 published, got %d", n)
	}
	if len(writer.messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(writer.messages))
	}
	if writer.messages[0].Topic != "escrow-events" || string(writer.messages[0].Key) != "escrow.created" {
		t.Errorf("unexpected first message %+v", writer.messages[0])
	}
	if got := pool.tx.statusUpdates["r1"]; got != "processed" {
		t.Errorf("expected r1 processed, got %q", got)
	}
	if got := pool.tx.statusUpdates["r2"]; got != "processed" {
		t.Errorf("expected r2 processed, got %q", got)
	}
	if !pool.tx.committed {
		t.Errorf("expected commit")
	}
}

func TestDrainOnce_FailureRetriesThenParks(t *testing.T) {
	pool := &fakePool{rows: []outboxRow{
		{id: "fresh", topic: "escrow.created", payload: []byte(`{}`), attempts: 0},
		{id: "worn", topic: "escrow.created", payload: []byte(`{}`), attempts: 9},
	}}
	writer := &fakeWriter{err: errors.New("broker unreachable")}

	relay, err := NewRelay(pool, writer, slog.New(slog.DiscardHandler), RelayConfig{Topic: "escrow-events", MaxAttempts: 10})
	if err != nil {
		t.Fatalf("new relay: %v", err)
	}

	n, err := relay.DrainOnce(context.Background())
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 published, got %d", n)
	}
	if got := pool.tx.statusUpdates["fresh"]; got != "pending" {
		t.Errorf("expected fresh row to stay pending, got %q", got)
	}
	if got := pool.tx.statusUpdates["worn"]; got != "dead" {
		t.Errorf("expected worn row to be parked dead, got %q", got)
	}
	if !pool.tx.committed {
		t.Errorf("expected attempt bookkeeping to commit")
	}
}

// --- fakes -----------------------------------------------------------------

type outboxRow struct {
	id       string
	topic    string
	payload  []byte
	attempts int
}

type fakeWriter struct {
	messages []kafka.Message
	err      error
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, msgs...)
	return nil
}

type fakePool struct {
	rows []outboxRow
	tx   *fakeTx
}

func (f *fakePool) Begin(ctx context.Context) (pgx.Tx, error) {
	f.tx = &fakeTx{rows: f.rows, statusUpdates: map[string]string{}}
	return f.tx, nil
}

func (f *fakePool) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}

func (f *fakePool) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *fakePool) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

type fakeTx struct {
	rows          []outboxRow
	statusUpdates map[string]string
	committed     bool
	rolled        bool
}

func (f *fakeTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return &fakeRows{rows: f.rows}, nil
}

func (f *fakeTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if strings.Contains(sql, "UPDATE outbox") {
		id := args[0].(string)
		status := "processed"
		if len(args) > 1 {
			status = args[1].(string)
		}
		f.statusUpdates[id] = status
	}
	return pgconn.NewCommandTag("UPDATE 1"), nil
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	f.rolled = true
	return nil
}

func (f *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakeTx does not support nested transactions")
}

func (f *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (f *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *fakeTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (f *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (f *fakeTx) Conn() *pgx.Conn { return nil }

type fakeRows struct {
	rows []outboxRow
	idx  int
}

func (f *fakeRows) Next() bool {
	return f.idx < len(f.rows)
}

func (f *fakeRows) Scan(dest ...any) error {
	row := f.rows[f.idx]
	f.idx++
	*(dest[0].(*string)) = row.id
	*(dest[1].(*string)) = row.topic
	*(dest[2].(*[]byte)) = row.payload
	*(dest[3].(*int)) = row.attempts
	return nil
}

func (f *fakeRows) Close()     {}
func (f *fakeRows) Err() error { return nil }

func (f *fakeRows) CommandTag() pgconn.CommandTag { return pgconn.CommandTag{} }

func (f *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }

func (f *fakeRows) Values() ([]any, error) { return nil, errors.New("not implemented") }

func (f *fakeRows) RawValues() [][]byte { return nil }

func (f *fakeRows) Conn() *pgx.Conn { return nil }
