package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestQueueProcessesAndDrainsOnStop(t *testing.T) {
	defer goleak.VerifyNone(t)

	var (
		mu   sync.Mutex
		seen []int
	)
	q := NewQueue("numbers", func(ctx context.Context, job Job[int]) error {
		mu.Lock()
		seen = append(seen, job.Payload)
		mu.Unlock()
		return nil
	}, QueueConfig{Workers: 2, BufferSize: 8})
	q.Start(context.Background())

	for i := 1; i <= 5; i++ {
		require.NoError(t, q.Enqueue(Job[int]{ID: "n", Payload: i}))
	}
	q.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []int{1, 2, 3, 4, 5}, seen)
	assert.ErrorIs(t, q.Enqueue(Job[int]{Payload: 6}), ErrQueueClosed)
}

func TestQueueRetriesTransientFailures(t *testing.T) {
	defer goleak.VerifyNone(t)

	var calls atomic.Int32
	succeeded := make(chan int, 1)
	q := NewQueue("flaky", func(ctx context.Context, job Job[string]) error {
		if calls.Add(1) < 3 {
			return errors.New("gateway timeout")
		}
		succeeded <- job.Attempt
		return nil
	}, QueueConfig{MaxRetries: 3, RetryDelay: 5 * time.Millisecond})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job[string]{ID: "a", Payload: "hello"}))
	select {
	case attempt := <-succeeded:
		assert.Equal(t, 2, attempt)
	case <-time.After(2 * time.Second):
		t.Fatal("job was not retried")
	}
}

func TestQueueDropsPermanentFailures(t *testing.T) {
	defer goleak.VerifyNone(t)

	var calls atomic.Int32
	q := NewQueue("strict", func(ctx context.Context, job Job[string]) error {
		calls.Add(1)
		return Permanent(errors.New("bad address"))
	}, QueueConfig{MaxRetries: 5, RetryDelay: time.Millisecond})
	q.Start(context.Background())

	require.NoError(t, q.Enqueue(Job[string]{ID: "a"}))
	q.Stop()
	assert.EqualValues(t, 1, calls.Load())
}

func TestQueueStopAbandonsPendingRetries(t *testing.T) {
	defer goleak.VerifyNone(t)

	failed := make(chan struct{}, 1)
	q := NewQueue("slow-retry", func(ctx context.Context, job Job[string]) error {
		failed <- struct{}{}
		return errors.New("down")
	}, QueueConfig{MaxRetries: 3, RetryDelay: time.Hour})
	q.Start(context.Background())

	require.NoError(t, q.Enqueue(Job[string]{ID: "a"}))
	<-failed
	q.Stop()
}

func TestQueueRejectsBeforeStart(t *testing.T) {
	q := NewQueue("idle", func(ctx context.Context, job Job[int]) error { return nil }, QueueConfig{})
	assert.ErrorIs(t, q.Enqueue(Job[int]{}), ErrQueueClosed)
	q.Stop()
	q.Start(context.Background())
	assert.ErrorIs(t, q.Enqueue(Job[int]{}), ErrQueueClosed)
}

func TestPermanentIsDetectable(t *testing.T) {
	base := errors.New("boom")
	err := Permanent(base)
	assert.True(t, IsPermanent(err))
	assert.ErrorIs(t, err, base)
	assert.False(t, IsPermanent(base))
	assert.Nil(t, Permanent(nil))
}
