package queue

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/arraybeat/arraybeat/internal/model"
	"github.com/stretchr/testify/require"
)

func batchWithName(name string) model.Batch {
	return model.Batch{{Measurement: name, Timestamp: time.Now()}}
}

func TestQueue_FIFOPerProducer(t *testing.T) {
	q := New(8)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		err := q.Push(ctx, batchWithName(fmt.Sprintf("b%d", i)), time.Second)
		require.NoError(t, err)
	}
	q.Close()

	i := 0
	for b := range q.C() {
		require.Equal(t, fmt.Sprintf("b%d", i), b[0].Measurement)
		i++
	}
	require.Equal(t, 5, i)
}

func TestQueue_PushTimesOutWhenFull(t *testing.T) {
	q := New(1)
	ctx := context.Background()

	require.NoError(t, q.Push(ctx, batchWithName("a"), time.Second))

	start := time.Now()
	err := q.Push(ctx, batchWithName("b"), 50*time.Millisecond)
	require.ErrorIs(t, err, ErrFull)
	require.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestQueue_PushUnblocksOnConsume(t *testing.T) {
	q := New(1)
	ctx := context.Background()

	require.NoError(t, q.Push(ctx, batchWithName("a"), time.Second))

	done := make(chan error, 1)
	go func() {
		done <- q.Push(ctx, batchWithName("b"), 2*time.Second)
	}()

	time.Sleep(20 * time.Millisecond)
	<-q.C() // make room

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("push did not unblock after consume")
	}
}

func TestQueue_PushObservesCancellation(t *testing.T) {
	q := New(1)
	require.NoError(t, q.Push(context.Background(), batchWithName("a"), time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- q.Push(ctx, batchWithName("b"), time.Minute)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("push did not observe cancellation")
	}
}

func TestQueue_EmptyBatchIsNoop(t *testing.T) {
	q := New(1)
	require.NoError(t, q.Push(context.Background(), nil, time.Millisecond))
	require.Equal(t, 0, q.Len())
}
