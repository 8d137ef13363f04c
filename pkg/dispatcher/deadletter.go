package dispatcher

import (
	"sync"
	"time"

	dispatcherrors "github.com/ajitpratap0/agent-dispatch-go/pkg/errors"
	"github.com/ajitpratap0/agent-dispatch-go/pkg/protocol"
)

// DeadLetter is an operation that failed on every candidate transport
type DeadLetter struct {
	Operation protocol.Operation
	Err       *dispatcherrors.AggregateFailure
	At        time.Time
}

// DeadLetterQueue keeps the most recent dead letters in memory. When full, the oldest entry is
// evicted. Nothing is persisted.
type DeadLetterQueue struct {
	mu      sync.Mutex
	entries []DeadLetter
	start   int
	size    int
	evicted int64
}

// NewDeadLetterQueue creates a queue holding up to capacity entries. A zero capacity keeps nothing.
func NewDeadLetterQueue(capacity int) *DeadLetterQueue {
	if capacity < 0 {
		capacity = 0
	}
	return &DeadLetterQueue{entries: make([]DeadLetter, capacity)}
}

// Push adds an entry, evicting the oldest one when the queue is full
func (q *DeadLetterQueue) Push(entry DeadLetter) {
	q.mu.Lock()
	defer q.mu.Unlock()

	capacity := len(q.entries)
	if capacity == 0 {
		q.evicted++
		return
	}
	if q.size == capacity {
		q.entries[q.start] = entry
		q.start = (q.start + 1) % capacity
		q.evicted++
		return
	}
	q.entries[(q.start+q.size)%capacity] = entry
	q.size++
}

// Entries returns the queued entries, oldest first
func (q *DeadLetterQueue) Entries() []DeadLetter {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.copyLocked()
}

// Drain returns the queued entries, oldest first, and empties the queue
func (q *DeadLetterQueue) Drain() []DeadLetter {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.copyLocked()
	for i := range q.entries {
		q.entries[i] = DeadLetter{}
	}
	q.start, q.size = 0, 0
	return out
}

// Len returns the number of queued entries
func (q *DeadLetterQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Evicted returns how many entries were discarded because the queue was full
func (q *DeadLetterQueue) Evicted() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.evicted
}

func (q *DeadLetterQueue) copyLocked() []DeadLetter {
	out := make([]DeadLetter, 0, q.size)
	for i := 0; i < q.size; i++ {
		out = append(out, q.entries[(q.start+i)%len(q.entries)])
	}
	return out
}
