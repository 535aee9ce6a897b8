// Package queue implements SyncKit's offline outbound queue (spec
// §4.5, §8 S5): a bounded FIFO with per-item retry counts and a
// dead-letter slot for items that exhaust their retry budget, using
// container/list the same way the teacher pack's LRU-TTL exercise
// backs its eviction order.
package queue

import (
	"container/list"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/matthewcorven/synckit-sub007/pkg/crdt"
	"github.com/matthewcorven/synckit-sub007/pkg/syncerr"
)

// Item is one outbound operation awaiting delivery.
type Item struct {
	ID         string
	Delta      crdt.Delta
	EnqueuedAt time.Time
	Retries    int
}

// Queue is a bounded FIFO of pending outbound deltas, flushed in order
// on reconnect (spec §4.5: "each item carries its original ts so
// server-side ordering is preserved").
type Queue struct {
	mu          sync.Mutex
	items       *list.List // of *Item, front = oldest
	maxSize     int
	maxRetries  int
	deadLetters []Item
}

// New creates an empty queue with the given capacity and retry budget.
func New(maxSize, maxRetries int) *Queue {
	return &Queue{items: list.New(), maxSize: maxSize, maxRetries: maxRetries}
}

// Enqueue appends delta to the queue. Returns syncerr.QueueFull if the
// queue is already at capacity (spec §4.5: "fail the operation with
// QueueFull").
func (q *Queue) Enqueue(delta crdt.Delta) (Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.items.Len() >= q.maxSize {
		return Item{}, syncerr.New(syncerr.QueueFull, "offline queue at capacity")
	}
	item := Item{ID: uuid.NewString(), Delta: delta, EnqueuedAt: time.Now()}
	q.items.PushBack(&item)
	return item, nil
}

// Len returns the number of items currently queued (excluding dead
// letters).
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// Flush drains the queue in FIFO order, invoking send for each item.
// If send returns an error, the item's retry counter is incremented:
// under maxRetries it's re-enqueued at the front (so the next Flush
// retries it first, preserving overall order); at maxRetries it moves
// to the dead-letter slot instead and flushing continues with the
// remaining items (spec §8 S5: "op3 fails maxRetries, it moves to
// dead-letter and op4,op5 still deliver").
func (q *Queue) Flush(send func(Item) error) {
	q.mu.Lock()
	pending := make([]*Item, 0, q.items.Len())
	for e := q.items.Front(); e != nil; e = e.Next() {
		pending = append(pending, e.Value.(*Item))
	}
	q.items.Init()
	q.mu.Unlock()

	var retry []*Item
	for _, item := range pending {
		if err := send(*item); err != nil {
			item.Retries++
			if item.Retries >= q.maxRetries {
				q.mu.Lock()
				q.deadLetters = append(q.deadLetters, *item)
				q.mu.Unlock()
				continue
			}
			retry = append(retry, item)
		}
	}

	q.mu.Lock()
	for i := len(retry) - 1; i >= 0; i-- {
		q.items.PushFront(retry[i])
	}
	q.mu.Unlock()
}

// DeadLettered returns items that exhausted maxRetries, for caller
// inspection/manual retry (spec §4.5 "surface to caller", supplemented
// per SPEC_FULL.md with a direct accessor rather than a silent drop).
func (q *Queue) DeadLettered() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Item, len(q.deadLetters))
	copy(out, q.deadLetters)
	return out
}

// RetryDeadLetter moves one dead-lettered item (by ID) back onto the
// live queue with its retry counter reset, for a caller that wants to
// give it another chance after investigating.
func (q *Queue) RetryDeadLetter(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, item := range q.deadLetters {
		if item.ID == id {
			item.Retries = 0
			q.deadLetters = append(q.deadLetters[:i], q.deadLetters[i+1:]...)
			q.items.PushBack(&item)
			return true
		}
	}
	return false
}
