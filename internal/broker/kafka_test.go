package broker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sethvargo/go-retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// queueReader hands out queued messages and blocks once they run out
type queueReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []int64
}

func (r *queueReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.queue) > 0 {
		msg := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *queueReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *queueReader) Close() error { return nil }

func (r *queueReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

func fastBackoff() retry.Backoff {
	return retry.NewConstant(time.Millisecond)
}

func TestConsumerRetriesFailedMessageBeforeCommitting(t *testing.T) {
	reader := &queueReader{queue: []kafka.Message{{Offset: 1}, {Offset: 2}, {Offset: 3}}}
	c := newConsumer(reader, "notifications", fastBackoff)

	var mu sync.Mutex
	var handled []int64
	failures := 0
	handler := func(_ context.Context, msg kafka.Message) error {
		mu.Lock()
		defer mu.Unlock()
		handled = append(handled, msg.Offset)
		if msg.Offset == 2 && failures < 2 {
			failures++
			return errors.New("database is restarting")
		}
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.StartConsuming(ctx, handler) }()

	require.Eventually(t, func() bool { return len(reader.commits()) == 3 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	assert.Equal(t, []int64{1, 2, 3}, reader.commits())
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int64{1, 2, 2, 2, 3}, handled)
}

func TestConsumerStopsWithoutCommittingFailedMessage(t *testing.T) {
	reader := &queueReader{queue: []kafka.Message{{Offset: 7}, {Offset: 8}}}
	c := newConsumer(reader, "notifications", fastBackoff)

	var mu sync.Mutex
	attempts := 0
	handler := func(_ context.Context, msg kafka.Message) error {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, int64(7), msg.Offset)
		attempts++
		return errors.New("provider unavailable")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.StartConsuming(ctx, handler) }()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return attempts >= 3
	}, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop after cancel")
	}
	assert.Empty(t, reader.commits())
}
