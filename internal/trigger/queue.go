package trigger

import (
	"fmt"
	"sync"

	"github.com/instamatic-dev/instamatic-sub003/internal/model"
)

// Queue is a FIFO multi-producer, single-consumer task queue. Producers Push;
// the dispatcher drains with TryPop, matching on category. Tasks are consumed
// exactly once.
type Queue struct {
	mu    sync.Mutex
	tasks []model.Task
	limit int
}

// NewQueue creates a queue holding at most limit pending tasks.
func NewQueue(limit int) *Queue {
	if limit <= 0 {
		limit = 64
	}
	return &Queue{limit: limit}
}

// Push appends a task. Returns an error when the queue is full so producers
// see backpressure instead of blocking the command server.
func (q *Queue) Push(task model.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tasks) >= q.limit {
		return fmt.Errorf("task queue full (%d pending)", len(q.tasks))
	}
	q.tasks = append(q.tasks, task)
	return nil
}

// TryPop removes and returns the first pending task of the given category.
// Never blocks; ok is false when no matching task is queued.
func (q *Queue) TryPop(category model.Category) (model.Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, task := range q.tasks {
		if task.Category == category {
			q.tasks = append(q.tasks[:i], q.tasks[i+1:]...)
			return task, true
		}
	}
	return model.Task{}, false
}

// Has reports whether a task of the given category is pending.
func (q *Queue) Has(category model.Category) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, task := range q.tasks {
		if task.Category == category {
			return true
		}
	}
	return false
}

// Len reports the number of pending tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}
