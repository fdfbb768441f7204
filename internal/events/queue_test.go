package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func event(class string) Event {
	return Event{Class: class, Motion: true, Operation: OperationChanged}
}

func TestQueueDropsOldest(t *testing.T) {
	q := NewQueue(2)
	assert.False(t, q.Push(event("a")))
	assert.False(t, q.Push(event("b")))
	assert.True(t, q.Push(event("c")))
	assert.Equal(t, 2, q.Len())

	out := q.Pop(10)
	require.Len(t, out, 2)
	assert.Equal(t, "b", out[0].Class)
	assert.Equal(t, "c", out[1].Class)
	assert.Nil(t, q.Pop(10))
}

func TestQueueWaitWakesOnPush(t *testing.T) {
	q := NewQueue(10)
	go func() {
		time.Sleep(20 * time.Millisecond)
		q.Push(event("a"))
	}()

	out := q.Wait(context.Background(), 5*time.Second, 1)
	require.Len(t, out, 1)
	assert.Equal(t, "a", out[0].Class)
}

func TestQueueWaitTimesOut(t *testing.T) {
	q := NewQueue(10)
	start := time.Now()
	assert.Empty(t, q.Wait(context.Background(), 30*time.Millisecond, 1))
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)

	// A zero timeout never blocks.
	assert.Empty(t, q.Wait(context.Background(), 0, 1))
}

func TestQueueWaitReleasedByClose(t *testing.T) {
	q := NewQueue(10)
	done := make(chan []Event)
	go func() { done <- q.Wait(context.Background(), time.Minute, 1) }()

	time.Sleep(10 * time.Millisecond)
	q.Close()
	select {
	case out := <-done:
		assert.Empty(t, out)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter not released")
	}
}
