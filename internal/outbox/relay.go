package outbox

import (
	"context"
	"log"
	"time"

	"github.com/SugrivLodhi/gearswap-marketplace-sub000/internal/events"
	"github.com/SugrivLodhi/gearswap-marketplace-sub000/internal/metrics"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// PendingStore is the part of Store the relay uses.
type PendingStore interface {
	FetchPending(ctx context.Context, cutoff time.Time, limit int) ([]Record, error)
	MarkSent(ctx context.Context, eventID string) error
}

// Relay periodically re-publishes outbox rows the request path failed to send.
type Relay struct {
	store     PendingStore
	publisher events.Publisher
	metrics   *metrics.AppMetrics
	interval  time.Duration
	// grace leaves fresh rows to the request path that wrote them.
	grace time.Duration
	batch int
	now   func() time.Time
}

// NewRelay creates a relay ticking every interval.
func NewRelay(store PendingStore, publisher events.Publisher, metrics *metrics.AppMetrics, interval time.Duration) *Relay {
	return &Relay{
		store:     store,
		publisher: publisher,
		metrics:   metrics,
		interval:  interval,
		grace:     interval,
		batch:     100,
		now:       time.Now,
	}
}

// Run relays until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.RelayOnce(ctx); err != nil {
				log.Printf("[OUTBOX] relay pass failed: %v", err)
			}
		}
	}
}

// RelayOnce publishes one batch of pending rows and returns how many were
// delivered. A row that fails to publish stays pending for the next pass.
func (r *Relay) RelayOnce(ctx context.Context) (int, error) {
	records, err := r.store.FetchPending(ctx, r.now().Add(-r.grace), r.batch)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, rec := range records {
		env, err := rec.Decode()
		if err != nil {
			log.Printf("[OUTBOX] skipping event_id=%s: %v", rec.EventID, err)
			continue
		}
		if err := r.publisher.Publish(ctx, rec.Key, env); err != nil {
			log.Printf("[OUTBOX] publish failed event_id=%s topic=%s: %v", rec.EventID, rec.Topic, err)
			continue
		}
		if err := r.store.MarkSent(ctx, rec.EventID); err != nil {
			log.Printf("[OUTBOX] mark sent failed event_id=%s: %v", rec.EventID, err)
			continue
		}
		sent++
		r.metrics.OutboxRelayed.Add(ctx, 1, metric.WithAttributes(r.metrics.WithServiceName([]attribute.KeyValue{
			attribute.String("topic", rec.Topic),
		})...))
	}

	if sent > 0 {
		log.Printf("[OUTBOX] relayed %d of %d pending event(s)", sent, len(records))
	}
	return sent, nil
}
