package gc

import (
	"time"

	"github.com/armadaproject/runplane/internal/runplane/task"
)

type pendingRemoval struct {
	run      task.RunView
	deleteAt time.Time
	// Insertion sequence, breaks ties between equal deleteAt.
	seq   uint64
	index int
}

type removalQueue []*pendingRemoval

func (q removalQueue) Len() int { return len(q) }

func (q removalQueue) Less(i, j int) bool {
	if !q[i].deleteAt.Equal(q[j].deleteAt) {
		return q[i].deleteAt.Before(q[j].deleteAt)
	}
	return q[i].seq < q[j].seq
}

func (q removalQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *removalQueue) Push(x any) {
	item := x.(*pendingRemoval)
	item.index = len(*q)
	*q = append(*q, item)
}

func (q *removalQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*q = old[:n-1]
	return item
}

func (q removalQueue) peek() *pendingRemoval {
	if len(q) == 0 {
		return nil
	}
	return q[0]
}
