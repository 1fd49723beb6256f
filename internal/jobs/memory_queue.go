package jobs

import (
	"container/heap"
	"context"
	"sync"
)

// MemoryQueue is an in-process priority queue of tasks. Tasks with higher
// Priority are dequeued first; equal priorities are FIFO.
type MemoryQueue struct {
	mu     sync.Mutex
	items  taskHeap
	seq    uint64        // FIFO ordering within a priority
	notify chan struct{} // signaled on Enqueue and Close
	closed bool
}

// NewMemoryQueue creates an empty queue.
func NewMemoryQueue() *MemoryQueue {
	q := &MemoryQueue{
		items:  make(taskHeap, 0),
		notify: make(chan struct{}, 1),
	}
	heap.Init(&q.items)
	return q
}

var _ Queue = (*MemoryQueue)(nil)

// Enqueue adds a task.
func (q *MemoryQueue) Enqueue(ctx context.Context, t Task) error {
	if err := t.validate(); err != nil {
		return err
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.seq++
	heap.Push(&q.items, &taskItem{task: t, seq: q.seq})
	q.mu.Unlock()

	q.signal()
	return nil
}

// Dequeue removes the highest priority task, blocking until one is
// available, ctx is done or the queue is closed.
func (q *MemoryQueue) Dequeue(ctx context.Context) (Task, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Task{}, err
		}
		if t, ok, err := q.tryDequeue(); ok || err != nil {
			return t, err
		}

		select {
		case <-ctx.Done():
			return Task{}, ctx.Err()
		case <-q.notify:
			// Item may have been pushed, loop to check
		}
	}
}

func (q *MemoryQueue) tryDequeue() (Task, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.items.Len() > 0 {
		item := heap.Pop(&q.items).(*taskItem)
		// Pass the wakeup on if more work is waiting.
		if q.items.Len() > 0 {
			q.signal()
		}
		return item.task, true, nil
	}
	if q.closed {
		q.signal()
		return Task{}, false, ErrQueueClosed
	}
	return Task{}, false, nil
}

func (q *MemoryQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
		// Channel already has a pending notification
	}
}

// Len returns the number of waiting tasks.
func (q *MemoryQueue) Len(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len(), nil
}

// Stats returns queue depth by priority level.
func (q *MemoryQueue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := QueueStats{Total: q.items.Len()}
	for _, item := range q.items {
		switch {
		case item.task.Priority >= PriorityHigh:
			stats.High++
		case item.task.Priority >= PriorityNormal:
			stats.Normal++
		default:
			stats.Low++
		}
	}
	return stats
}

// Ping fails once the queue is closed.
func (q *MemoryQueue) Ping(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	return nil
}

// Close wakes blocked consumers. Waiting tasks can still be dequeued.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
	return nil
}

// QueueStats reports queue depth by priority level.
type QueueStats struct {
	Total  int `json:"total"`
	High   int `json:"high"`
	Normal int `json:"normal"`
	Low    int `json:"low"`
}

type taskItem struct {
	task Task
	seq  uint64
}

// taskHeap orders by priority, then by arrival.
type taskHeap []*taskItem

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].task.Priority != h[j].task.Priority {
		return h[i].task.Priority > h[j].task.Priority
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
}

func (h *taskHeap) Push(x any) {
	*h = append(*h, x.(*taskItem))
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil // Avoid memory leak
	*h = old[0 : n-1]
	return item
}
