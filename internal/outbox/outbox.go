// Package outbox stores events in the same MySQL transaction as the state
// change that produced them and re-publishes the ones that never made it to
// the bus.
package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/SugrivLodhi/gearswap-marketplace-sub000/internal/db"
	"github.com/SugrivLodhi/gearswap-marketplace-sub000/internal/events"
	"github.com/SugrivLodhi/gearswap-marketplace-sub000/internal/metrics"
)

// Record is one outbox row. Envelope holds the full encoded event.
type Record struct {
	ID        int64           `json:"id"`
	EventID   string          `json:"event_id"`
	Topic     string          `json:"topic"`
	Key       string          `json:"key"`
	Envelope  json.RawMessage `json:"envelope"`
	CreatedAt time.Time       `json:"created_at"`
	SentAt    *time.Time      `json:"sent_at"`
}

// Decode returns the stored envelope.
func (r Record) Decode() (events.Envelope, error) {
	var env events.Envelope
	if err := json.Unmarshal(r.Envelope, &env); err != nil {
		return events.Envelope{}, fmt.Errorf("failed to decode outbox record %d: %w", r.ID, err)
	}
	return env, nil
}

// Store is the MySQL outbox table.
type Store struct {
	db      *db.DB
	metrics *metrics.AppMetrics
}

// NewStore creates a new outbox store
func NewStore(db *db.DB, metrics *metrics.AppMetrics) *Store {
	return &Store{db: db, metrics: metrics}
}

// Insert writes env inside tx. key is the partition key used on publish.
func (s *Store) Insert(ctx context.Context, tx *sql.Tx, key string, env events.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal outbox event: %w", err)
	}

	start := time.Now()
	query := "INSERT INTO outbox (event_id, topic, event_key, envelope) VALUES (?, ?, ?, ?)"
	_, err = tx.ExecContext(ctx, query, env.EventID, env.Type, key, data)
	s.metrics.RecordDBQuery(ctx, "INSERT", "outbox", query, start, err == nil)
	if err != nil {
		return fmt.Errorf("failed to insert outbox event: %w", err)
	}
	return nil
}

// MarkSent flags the event as delivered. Marking twice is harmless.
func (s *Store) MarkSent(ctx context.Context, eventID string) error {
	start := time.Now()
	query := "UPDATE outbox SET sent_at = NOW() WHERE event_id = ? AND sent_at IS NULL"
	_, err := s.db.ExecContext(ctx, query, eventID)
	s.metrics.RecordDBQuery(ctx, "UPDATE", "outbox", query, start, err == nil)
	if err != nil {
		return fmt.Errorf("failed to mark outbox event sent: %w", err)
	}
	return nil
}

// FetchPending returns up to limit unsent events created before cutoff,
// oldest first.
func (s *Store) FetchPending(ctx context.Context, cutoff time.Time, limit int) ([]Record, error) {
	start := time.Now()
	query := `
		SELECT id, event_id, topic, event_key, envelope, created_at, sent_at
		FROM outbox
		WHERE sent_at IS NULL AND created_at < ?
		ORDER BY id
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, cutoff, limit)
	s.metrics.RecordDBQuery(ctx, "SELECT", "outbox", query, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pending outbox events: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.EventID, &rec.Topic, &rec.Key, (*[]byte)(&rec.Envelope), &rec.CreatedAt, &rec.SentAt); err != nil {
			return nil, fmt.Errorf("failed to scan outbox event: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
