package jobs

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// queueEntry is one waiting job. Lower priority values run first; ties
// break on enqueue time, then on insertion sequence.
type queueEntry struct {
	jobID    string
	priority int
	enqueued time.Time
	seq      uint64
}

type entryHeap []queueEntry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	if !h[i].enqueued.Equal(h[j].enqueued) {
		return h[i].enqueued.Before(h[j].enqueued)
	}
	return h[i].seq < h[j].seq
}

func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *entryHeap) Push(x any) { *h = append(*h, x.(queueEntry)) }

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	entry := old[n-1]
	*h = old[:n-1]
	return entry
}

// priorityQueue is an in-process priority queue feeding the worker
// pool. Pop blocks until an entry is available or ctx finishes.
type priorityQueue struct {
	mu   sync.Mutex
	heap entryHeap
	seq  uint64
	wake chan struct{}
}

func newPriorityQueue() *priorityQueue {
	return &priorityQueue{wake: make(chan struct{}, 1)}
}

func (q *priorityQueue) Push(jobID string, priority int, enqueued time.Time) {
	q.mu.Lock()
	q.seq++
	heap.Push(&q.heap, queueEntry{jobID: jobID, priority: priority, enqueued: enqueued, seq: q.seq})
	q.mu.Unlock()
	q.signal()
}

func (q *priorityQueue) Pop(ctx context.Context) (queueEntry, error) {
	for {
		q.mu.Lock()
		if q.heap.Len() > 0 {
			entry := heap.Pop(&q.heap).(queueEntry)
			remaining := q.heap.Len()
			q.mu.Unlock()
			if remaining > 0 {
				q.signal()
			}
			return entry, nil
		}
		q.mu.Unlock()

		select {
		case <-q.wake:
		case <-ctx.Done():
			return queueEntry{}, ctx.Err()
		}
	}
}

func (q *priorityQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.heap.Len()
}

func (q *priorityQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
