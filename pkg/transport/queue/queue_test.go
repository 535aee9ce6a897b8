package queue

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthewcorven/synckit-sub007/pkg/clock"
	"github.com/matthewcorven/synckit-sub007/pkg/crdt"
	"github.com/matthewcorven/synckit-sub007/pkg/syncerr"
)

func deltaAt(counter uint64) crdt.Delta {
	return crdt.Delta{Ts: clock.LogicalTimestamp{Counter: counter, ClientID: "a"}}
}

func TestEnqueueFailsWhenFull(t *testing.T) {
	q := New(2, 5)
	_, err := q.Enqueue(deltaAt(1))
	require.NoError(t, err)
	_, err = q.Enqueue(deltaAt(2))
	require.NoError(t, err)

	_, err = q.Enqueue(deltaAt(3))
	require.Error(t, err)
	var se *syncerr.Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, syncerr.QueueFull, se.Code)
}

// TestFlushPreservesOrderAndDeadLettersOnExhaustedRetries matches spec
// §8 S5: op1..op5 enqueued in order; op3 always fails and moves to
// dead-letter after maxRetries, op1/op2/op4/op5 still deliver in order.
func TestFlushPreservesOrderAndDeadLettersOnExhaustedRetries(t *testing.T) {
	q := New(10, 2)
	for i := uint64(1); i <= 5; i++ {
		_, err := q.Enqueue(deltaAt(i))
		require.NoError(t, err)
	}

	var delivered []uint64
	attempts := make(map[uint64]int)
	send := func(item Item) error {
		c := item.Delta.Ts.Counter
		if c == 3 {
			attempts[c]++
			return errors.New("op3 always fails")
		}
		delivered = append(delivered, c)
		return nil
	}

	// First flush: 1,2,4,5 deliver; 3 fails once (retry 1).
	q.Flush(send)
	// Second flush: 3 fails again, reaching maxRetries -> dead-letter.
	q.Flush(send)

	assert.Equal(t, []uint64{1, 2, 4, 5}, delivered)
	dead := q.DeadLettered()
	require.Len(t, dead, 1)
	assert.Equal(t, uint64(3), dead[0].Delta.Ts.Counter)
	assert.Equal(t, 0, q.Len())
}

func TestRetryDeadLetterResetsAndRequeues(t *testing.T) {
	q := New(10, 1)
	_, err := q.Enqueue(deltaAt(1))
	require.NoError(t, err)

	q.Flush(func(Item) error { return errors.New("fail") })
	dead := q.DeadLettered()
	require.Len(t, dead, 1)

	ok := q.RetryDeadLetter(dead[0].ID)
	assert.True(t, ok)
	assert.Equal(t, 1, q.Len())
	assert.Empty(t, q.DeadLettered())
}
