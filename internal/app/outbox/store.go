package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/the-marketplace/project/internal/contracts"
	"github.com/the-marketplace/project/internal/messaging"
	"github.com/the-marketplace/project/internal/platform/dbpool"
)

const (
	StatusPending   = "pending"
	StatusPublished = "published"
	StatusFailed    = "failed"
)

// Record is one stored broker message waiting to be relayed.
type Record struct {
	ID           string            `db:"id"`
	Topic        string            `db:"topic"`
	PartitionKey string            `db:"partition_key"`
	Payload      []byte            `db:"payload"`
	Headers      map[string]string `db:"headers"`
	Status       string            `db:"status"`
	Attempts     int               `db:"attempts"`
	LastError    string            `db:"last_error"`
	CreatedAt    time.Time         `db:"created_at"`
	PublishedAt  *time.Time        `db:"published_at"`
}

func (r Record) Message() messaging.Message {
	return messaging.Message{
		ID:     r.ID,
		Topic:  r.Topic,
		Key:    r.PartitionKey,
		Data:   r.Payload,
		Header: r.Headers,
	}
}

// Failure is a record the relay could not publish.
type Failure struct {
	ID     string
	Reason string
}

// MessageBuilder turns an event into the broker message that will be stored.
type MessageBuilder interface {
	Message(ctx context.Context, event contracts.Event) (messaging.Message, error)
}

// Store keeps outgoing events in the outbox_events table of the database
// that owns the entities, so they commit or roll back together.
type Store struct {
	Pool     *pgxpool.Pool
	Messages MessageBuilder
}

func NewStore(pool *pgxpool.Pool, messages MessageBuilder) *Store {
	return &Store{Pool: pool, Messages: messages}
}

// Append stores event inside tx.
func (s *Store) Append(ctx context.Context, tx pgx.Tx, event contracts.Event) error {
	msg, err := s.Messages.Message(ctx, event)
	if err != nil {
		return fmt.Errorf("build outbox message: %w", err)
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO outbox_events (id, topic, partition_key, payload, headers, status)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		msg.ID, msg.Topic, msg.Key, msg.Data, msg.Header, StatusPending,
	)
	if err != nil {
		return fmt.Errorf("append outbox event: %w", err)
	}
	return nil
}

func (s *Store) WithTransaction(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return dbpool.WithTransaction(ctx, s.Pool, fn)
}

// FetchPending locks up to limit pending records, oldest first. Concurrent
// relays skip rows another relay holds.
func (s *Store) FetchPending(ctx context.Context, tx pgx.Tx, limit int) ([]Record, error) {
	var records []Record
	err := pgxscan.Select(ctx, tx, &records,
		`SELECT id, topic, partition_key, payload, headers, status, attempts, last_error, created_at, published_at
		 FROM outbox_events
		 WHERE status = $1
		 ORDER BY created_at, id
		 LIMIT $2
		 FOR UPDATE SKIP LOCKED`,
		StatusPending, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("fetch pending outbox events: %w", err)
	}
	return records, nil
}

func (s *Store) MarkPublished(ctx context.Context, tx pgx.Tx, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx,
		`UPDATE outbox_events SET status = $1, published_at = now() WHERE id = any($2)`,
		StatusPublished, ids,
	)
	return err
}

// MarkFailed counts an attempt for each failure. Records that reach
// maxAttempts stop being retried.
func (s *Store) MarkFailed(ctx context.Context, tx pgx.Tx, failures []Failure, maxAttempts int) error {
	for _, f := range failures {
		_, err := tx.Exec(ctx,
			`UPDATE outbox_events
			 SET attempts = attempts + 1,
			     last_error = $2,
			     status = CASE WHEN attempts + 1 >= $3 THEN $4 ELSE status END
			 WHERE id = $1`,
			f.ID, f.Reason, maxAttempts, StatusFailed,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

// PendingCount feeds the backlog gauge.
func (s *Store) PendingCount(ctx context.Context) (int64, error) {
	var n int64
	err := s.Pool.QueryRow(ctx, `SELECT count(*) FROM outbox_events WHERE status = $1`, StatusPending).Scan(&n)
	return n, err
}
