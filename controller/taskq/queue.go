// Package taskq is a persistent FIFO of administrator-requested device
// actions (manual sync, ledger checkpoint, restart). Requests survive a
// power cycle and are executed one at a time.
package taskq

import (
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"
)

const Bucket = "tasks"

// Known actions; the daemon's worker maps these to handlers.
const (
	ActionSync       = "sync"
	ActionCheckpoint = "checkpoint"
	ActionRestart    = "restart"
)

// Task is a single queued action.
type Task struct {
	ID     string `json:"id"`
	Action string `json:"action"`
	Time   int64  `json:"ts"`
}

// storeIface is the minimal subset of the controller store we need.
type storeIface interface {
	List(bucket string, fn func(string, []byte) error) error
	Create(bucket string, fn func(string) interface{}) error
	Delete(bucket, id string) error
}

// Queue manages a persistent FIFO queue of tasks.
type Queue struct {
	store   storeIface
	mu      sync.Mutex
	cond    *sync.Cond
	current *Task
	quit    bool
}

func NewQueue(store storeIface) *Queue {
	q := &Queue{store: store}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Add enqueues a new task unless the same action is queued or running.
func (q *Queue) Add(action string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.current != nil && q.current.Action == action {
		return errors.New("task " + action + " already in progress")
	}
	if err := q.store.List(Bucket, func(_ string, v []byte) error {
		var t Task
		if err := json.Unmarshal(v, &t); err == nil && t.Action == action {
			return errors.New("duplicate")
		}
		return nil
	}); err != nil {
		return errors.New("task " + action + " already queued")
	}

	task := Task{Action: action, Time: time.Now().Unix()}
	fn := func(id string) interface{} {
		task.ID = id
		return &task
	}
	if err := q.store.Create(Bucket, fn); err != nil {
		return err
	}
	q.cond.Signal()
	return nil
}

// Cancel removes a queued (not running) task.
func (q *Queue) Cancel(action string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.current != nil && q.current.Action == action {
		return errors.New("cannot cancel, task " + action + " is running")
	}
	var deleteID string
	_ = q.store.List(Bucket, func(id string, v []byte) error {
		var t Task
		if err := json.Unmarshal(v, &t); err == nil && t.Action == action {
			deleteID = id
			return errors.New("found")
		}
		return nil
	})
	if deleteID == "" {
		return errors.New("no queued task " + action)
	}
	return q.store.Delete(Bucket, deleteID)
}

// List returns all pending tasks in FIFO order.
func (q *Queue) List() ([]Task, error) {
	tasks := []Task{}
	if err := q.store.List(Bucket, func(_ string, v []byte) error {
		var t Task
		if err := json.Unmarshal(v, &t); err == nil {
			tasks = append(tasks, t)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].Time < tasks[j].Time
	})
	return tasks, nil
}

// Process runs the worker for each task in order, waiting on a condition
// variable when the queue is empty. It returns after Stop.
func (q *Queue) Process(worker func(Task)) {
	for {
		q.mu.Lock()
		if q.quit {
			q.mu.Unlock()
			return
		}
		var next *Task
		var nextKey string
		_ = q.store.List(Bucket, func(id string, v []byte) error {
			var t Task
			if err := json.Unmarshal(v, &t); err == nil {
				if next == nil || t.Time < next.Time {
					next = &t
					nextKey = id
				}
			}
			return nil
		})

		if next == nil {
			q.cond.Wait()
			q.mu.Unlock()
			continue
		}

		_ = q.store.Delete(Bucket, nextKey)
		q.current = next
		q.mu.Unlock()

		worker(*next)

		q.mu.Lock()
		q.current = nil
		q.mu.Unlock()
	}
}

// Stop wakes the worker and makes Process return.
func (q *Queue) Stop() {
	q.mu.Lock()
	q.quit = true
	q.cond.Broadcast()
	q.mu.Unlock()
}
