package queue

import (
	"sync"

	"github.com/RevCBH/taskd/internal/task"
)

// DefaultMaxSize is the queue-wide cap guarding against enqueue floods.
const DefaultMaxSize = 1000

// Queue holds queued tasks in three FIFO bands, one per priority. Dequeue
// drains P0 before P1 before P2; within a band order is strict insertion
// order, which also settles equal-timestamp ties.
type Queue struct {
	// one FIFO slice per band, indexed by Priority.Rank()
	bands [3][]task.Task

	// task id -> band index, for O(1) membership and removal
	index map[string]int

	maxSize int

	mu sync.Mutex
}

// New creates an empty queue. maxSize <= 0 selects DefaultMaxSize.
func New(maxSize int) *Queue {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Queue{
		index:   make(map[string]int),
		maxSize: maxSize,
	}
}

// Enqueue appends the task to its priority band. Fails with
// RESOURCE_EXHAUSTED when the cap is reached and with INVALID_OPERATION when
// the id is already queued.
func (q *Queue) Enqueue(t task.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.index) >= q.maxSize {
		return task.NewError(task.KindResourceExhausted,
			"task queue is full (%d tasks)", q.maxSize)
	}
	if _, exists := q.index[t.ID]; exists {
		return task.NewError(task.KindInvalidOperation,
			"task %s is already queued", t.ID)
	}

	band := t.Priority.Rank()
	q.bands[band] = append(q.bands[band], t)
	q.index[t.ID] = band
	return nil
}

// Dequeue removes and returns the head of the first non-empty band.
// The second return is false when the queue is empty.
func (q *Queue) Dequeue() (task.Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for band := range q.bands {
		if len(q.bands[band]) == 0 {
			continue
		}
		t := q.bands[band][0]
		q.bands[band] = q.bands[band][1:]
		delete(q.index, t.ID)
		return t, true
	}
	return task.Task{}, false
}

// Peek returns the task Dequeue would yield, without removing it.
func (q *Queue) Peek() (task.Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for band := range q.bands {
		if len(q.bands[band]) > 0 {
			return q.bands[band][0], true
		}
	}
	return task.Task{}, false
}

// Remove deletes the task from its band. Returns true if it was queued.
func (q *Queue) Remove(taskID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	band, ok := q.index[taskID]
	if !ok {
		return false
	}

	for i, t := range q.bands[band] {
		if t.ID == taskID {
			q.bands[band] = append(q.bands[band][:i], q.bands[band][i+1:]...)
			delete(q.index, taskID)
			return true
		}
	}
	return false
}

// Contains checks if a task id is in the queue
func (q *Queue) Contains(taskID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	_, ok := q.index[taskID]
	return ok
}

// GetAll returns a copy of every queued task in band order, each band in
// FIFO order.
func (q *Queue) GetAll() []task.Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	result := make([]task.Task, 0, len(q.index))
	for band := range q.bands {
		result = append(result, q.bands[band]...)
	}
	return result
}

// Clear empties all bands.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()

	for band := range q.bands {
		q.bands[band] = nil
	}
	q.index = make(map[string]int)
}

// Size returns the number of queued tasks across all bands.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.index)
}

// IsEmpty reports whether no tasks are queued.
func (q *Queue) IsEmpty() bool {
	return q.Size() == 0
}
