package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	msgs   chan kafka.Message
	cancel context.CancelFunc
	want   int

	mu        sync.Mutex
	committed []int64
	closed    bool
}

func newFakeReader(cancel context.CancelFunc, msgs ...kafka.Message) *fakeReader {
	r := &fakeReader{msgs: make(chan kafka.Message, len(msgs)), cancel: cancel, want: len(msgs)}
	for _, m := range msgs {
		r.msgs <- m
	}
	return r
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-r.msgs:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	if len(r.committed) == r.want {
		r.cancel()
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

func message(t *testing.T, offset int64, env Envelope) kafka.Message {
	t.Helper()
	data, err := json.Marshal(env)
	require.NoError(t, err)
	return kafka.Message{Offset: offset, Value: data}
}

func fastPolicy(attempts uint) RetryPolicy {
	return RetryPolicy{MaxAttempts: attempts, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
}

func TestConsumer_RetriesUntilSuccessThenCommits(t *testing.T) {
	env, err := NewEnvelope(TypeOrderCreated, "o-1", OrderCreated{OrderID: "o-1"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	reader := newFakeReader(cancel, message(t, 7, env))

	calls := 0
	handler := func(_ context.Context, got Envelope) error {
		calls++
		assert.Equal(t, env.EventID, got.EventID)
		if calls < 3 {
			return errors.New("broker hiccup")
		}
		return nil
	}

	require.NoError(t, NewConsumer(TypeOrderCreated, reader, handler, fastPolicy(5)).Run(ctx))

	assert.Equal(t, 3, calls)
	assert.Equal(t, []int64{7}, reader.committed)
	assert.True(t, reader.closed)
}

func TestConsumer_GivesUpAfterMaxAttempts(t *testing.T) {
	env, err := NewEnvelope(TypeOrderCreated, "o-2", OrderCreated{OrderID: "o-2"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	reader := newFakeReader(cancel, message(t, 1, env))

	calls := 0
	var exhausted []string
	policy := fastPolicy(3)
	policy.OnExhausted = func(_ context.Context, got Envelope, err error) {
		exhausted = append(exhausted, got.OrderID)
		assert.Error(t, err)
	}

	handler := func(context.Context, Envelope) error {
		calls++
		return errors.New("still down")
	}

	require.NoError(t, NewConsumer(TypeOrderCreated, reader, handler, policy).Run(ctx))

	assert.Equal(t, 3, calls)
	assert.Equal(t, []string{"o-2"}, exhausted)
	assert.Equal(t, []int64{1}, reader.committed)
}

func TestConsumer_PermanentErrorIsNotRetried(t *testing.T) {
	env, err := NewEnvelope(TypeOrderCreated, "o-3", OrderCreated{OrderID: "o-3"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	reader := newFakeReader(cancel, message(t, 4, env))

	calls := 0
	handler := func(context.Context, Envelope) error {
		calls++
		return Permanent(errors.New("malformed order"))
	}

	require.NoError(t, NewConsumer(TypeOrderCreated, reader, handler, fastPolicy(5)).Run(ctx))

	assert.Equal(t, 1, calls)
	assert.Equal(t, []int64{4}, reader.committed)
}

func TestConsumer_DropsUndecodableMessages(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	reader := newFakeReader(cancel, kafka.Message{Offset: 9, Value: []byte("not json")})

	called := false
	handler := func(context.Context, Envelope) error {
		called = true
		return nil
	}

	require.NoError(t, NewConsumer(TypeOrderCreated, reader, handler, fastPolicy(2)).Run(ctx))

	assert.False(t, called)
	assert.Equal(t, []int64{9}, reader.committed)
}

func TestBus_DisabledWithoutBrokers(t *testing.T) {
	bus := NewBus(nil)
	assert.False(t, bus.Enabled())

	env, err := NewEnvelope(TypeStockDeducted, "o-4", StockDeducted{OrderID: "o-4"})
	require.NoError(t, err)

	assert.ErrorIs(t, bus.Publish(context.Background(), "o-4", env), ErrDisabled)
	assert.NoError(t, bus.Close())
}

func TestBus_FlushesSingleMessagesPromptly(t *testing.T) {
	bus := NewBus([]string{"localhost:9092"})
	defer bus.Close()

	require.True(t, bus.Enabled())
	assert.Equal(t, publishBatchTimeout, bus.writer.BatchTimeout)
	assert.Less(t, bus.writer.BatchTimeout, 50*time.Millisecond)
}

func TestEnvelope_Decode(t *testing.T) {
	env, err := NewEnvelope(TypeStockDeductionFailed, "o-5", StockDeductionFailed{
		OrderID: "o-5", ProductID: "p-1", VariantID: "v-1", Error: "insufficient stock",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, env.EventID)
	assert.Equal(t, TypeStockDeductionFailed, env.Type)

	var payload StockDeductionFailed
	require.NoError(t, env.Decode(&payload))
	assert.Equal(t, "p-1", payload.ProductID)
	assert.Equal(t, "insufficient stock", payload.Error)

	bad := Envelope{Type: TypeStockDeducted, Payload: json.RawMessage(`[`)}
	assert.Error(t, bad.Decode(&payload))
}
