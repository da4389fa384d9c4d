package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/SugrivLodhi/gearswap-marketplace-sub000/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturePublisher struct {
	key string
	env events.Envelope
	err error
}

func (p *capturePublisher) Publish(_ context.Context, key string, env events.Envelope) error {
	p.key, p.env = key, env
	return p.err
}

func TestEnqueue_DefaultsJobIDAndKeysByIt(t *testing.T) {
	pub := &capturePublisher{}
	err := NewEnqueuer(pub).Enqueue(context.Background(), Job{
		OrderID: "o-42", BuyerEmail: "a@b.test", Total: 1180, Currency: "INR",
	})
	require.NoError(t, err)

	assert.Equal(t, "order-confirmation:o-42", pub.key)
	assert.Equal(t, events.TypeNotificationJob, pub.env.Type)
	assert.Equal(t, "o-42", pub.env.OrderID)

	var job Job
	require.NoError(t, pub.env.Decode(&job))
	assert.Equal(t, "order-confirmation:o-42", job.JobID)
	assert.Equal(t, 1180.0, job.Total)
	assert.Empty(t, job.BuyerName)
}

func TestEnqueue_PropagatesPublishFailure(t *testing.T) {
	pub := &capturePublisher{err: errors.New("broker down")}
	err := NewEnqueuer(pub).Enqueue(context.Background(), Job{OrderID: "o-1"})
	assert.ErrorContains(t, err, "order-confirmation:o-1")
}
