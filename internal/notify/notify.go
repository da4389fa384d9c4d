// Package notify hands notification jobs to the external e-mail worker.
package notify

import (
	"context"
	"fmt"

	"github.com/SugrivLodhi/gearswap-marketplace-sub000/internal/events"
)

// Job is an order confirmation request. JobID is deterministic per order so
// the worker can drop duplicates.
type Job struct {
	JobID      string  `json:"job_id"`
	OrderID    string  `json:"order_id"`
	BuyerEmail string  `json:"buyer_email"`
	BuyerName  string  `json:"buyer_name,omitempty"`
	Total      float64 `json:"total"`
	Currency   string  `json:"currency"`
}

// OrderConfirmationJobID is the job id for orderID.
func OrderConfirmationJobID(orderID string) string {
	return "order-confirmation:" + orderID
}

// Enqueuer publishes jobs onto the notification.jobs topic.
type Enqueuer struct {
	publisher events.Publisher
}

// NewEnqueuer creates an enqueuer over publisher.
func NewEnqueuer(publisher events.Publisher) *Enqueuer {
	return &Enqueuer{publisher: publisher}
}

// Enqueue publishes job keyed by its JobID.
func (e *Enqueuer) Enqueue(ctx context.Context, job Job) error {
	if job.JobID == "" {
		job.JobID = OrderConfirmationJobID(job.OrderID)
	}
	env, err := events.NewEnvelope(events.TypeNotificationJob, job.OrderID, job)
	if err != nil {
		return err
	}
	if err := e.publisher.Publish(ctx, job.JobID, env); err != nil {
		return fmt.Errorf("failed to enqueue notification job %s: %w", job.JobID, err)
	}
	return nil
}
