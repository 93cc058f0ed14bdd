// Package queue holds the in-process queues that bridge the session side
// and the worker pool.
package queue

import (
	"container/list"
	"sync"
	"time"

	"peacasso-client/internal/models"
)

// DedupQueue collapses resubmissions of a job id into the latest value while
// keeping the position of the first submission. All methods are safe for
// concurrent use.
type DedupQueue struct {
	mu      sync.Mutex
	order   *list.List               // job ids, first-insertion order
	index   map[string]*list.Element // id -> element in order
	items   map[string]*models.Job
	current string
	ready   chan struct{}
}

// NewDedupQueue creates an empty queue
func NewDedupQueue() *DedupQueue {
	return &DedupQueue{
		order: list.New(),
		index: make(map[string]*list.Element),
		items: make(map[string]*models.Job),
		ready: make(chan struct{}, 1),
	}
}

// Put inserts job, or replaces the pending value with the same id in place.
// It reports false when the update was dropped because the id is the one
// most recently handed out by Get.
func (q *DedupQueue) Put(job *models.Job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if job.ID == q.current {
		return false
	}
	if _, ok := q.index[job.ID]; !ok {
		q.index[job.ID] = q.order.PushBack(job.ID)
	}
	q.items[job.ID] = job
	q.signal()
	return true
}

// Get removes and returns the oldest pending job, waiting up to timeout for
// one to arrive. ok is false when the wait timed out.
func (q *DedupQueue) Get(timeout time.Duration) (job *models.Job, ok bool) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		if job, ok := q.tryGet(); ok {
			return job, true
		}
		select {
		case <-q.ready:
		case <-deadline.C:
			return q.tryGet()
		}
	}
}

func (q *DedupQueue) tryGet() (*models.Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	front := q.order.Front()
	if front == nil {
		return nil, false
	}
	id := q.order.Remove(front).(string)
	delete(q.index, id)
	job := q.items[id]
	delete(q.items, id)
	q.current = id
	if q.order.Len() > 0 {
		q.signal()
	}
	return job, true
}

// Clear discards every pending job and returns how many were dropped
func (q *DedupQueue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := q.order.Len()
	q.order.Init()
	q.index = make(map[string]*list.Element)
	q.items = make(map[string]*models.Job)
	return n
}

// Len returns the number of pending jobs
func (q *DedupQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.order.Len()
}

// signal wakes one waiting Get. Caller holds mu.
func (q *DedupQueue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
