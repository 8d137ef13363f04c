package dispatcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	dispatcherrors "github.com/ajitpratap0/agent-dispatch-go/pkg/errors"
)

func TestDeadLetterQueue(t *testing.T) {
	tests := []struct {
		name     string
		capacity int
		pushed   []string
		want     []string
		evicted  int64
	}{
		{"under capacity", 3, []string{"a", "b"}, []string{"a", "b"}, 0},
		{"at capacity", 2, []string{"a", "b"}, []string{"a", "b"}, 0},
		{"evicts oldest", 2, []string{"a", "b", "c", "d", "e"}, []string{"d", "e"}, 3},
		{"zero capacity", 0, []string{"a"}, []string{}, 1},
		{"negative capacity", -1, []string{"a"}, []string{}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := NewDeadLetterQueue(tt.capacity)
			for _, name := range tt.pushed {
				op := newTestOperation(t, name)
				q.Push(DeadLetter{Operation: op, Err: dispatcherrors.NewAggregateFailure(name, nil), At: time.Now()})
			}

			got := []string{}
			for _, entry := range q.Entries() {
				got = append(got, entry.Operation.Name())
			}
			assert.Equal(t, tt.want, got)
			assert.Equal(t, len(tt.want), q.Len())
			assert.Equal(t, tt.evicted, q.Evicted())
		})
	}
}

func TestDeadLetterQueueDrain(t *testing.T) {
	q := NewDeadLetterQueue(2)
	for _, name := range []string{"a", "b", "c"} {
		q.Push(DeadLetter{Operation: newTestOperation(t, name)})
	}

	drained := q.Drain()
	assert.Len(t, drained, 2)
	assert.Equal(t, "b", drained[0].Operation.Name())
	assert.Zero(t, q.Len())
	assert.Empty(t, q.Entries())

	q.Push(DeadLetter{Operation: newTestOperation(t, "d")})
	entries := q.Entries()
	assert.Len(t, entries, 1)
	assert.Equal(t, "d", entries[0].Operation.Name())
}
