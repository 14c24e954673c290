// Package dispatch routes incoming work between the interactive main
// agent and one-shot background executions.
package dispatch

// TaskQueue is the serial queue feeding the interactive agent: FIFO
// pending list, at most one active task, and a one-shot finalize flag for
// tasks whose session ended out from under them.
//
// TaskQueue is not safe for concurrent use; the Dispatcher serializes
// access to it.
type TaskQueue struct {
	pending       []string
	active        string
	needsFinalize bool
}

// Enqueue adds a task id to the back of the queue.
func (q *TaskQueue) Enqueue(taskID string) {
	q.pending = append(q.pending, taskID)
}

// StartNext pops the next pending task and marks it active. Returns false
// if nothing is pending or a task is already active.
func (q *TaskQueue) StartNext() (string, bool) {
	if q.active != "" || len(q.pending) == 0 {
		return "", false
	}
	q.active = q.pending[0]
	q.pending = q.pending[1:]
	return q.active, true
}

// CompleteActive clears the active task and returns its id. Returns false
// if no task is active.
func (q *TaskQueue) CompleteActive() (string, bool) {
	if q.active == "" {
		return "", false
	}
	id := q.active
	q.active = ""
	return id, true
}

// IsBusy reports whether a task is currently active.
func (q *TaskQueue) IsBusy() bool {
	return q.active != ""
}

// HasPending reports whether tasks are waiting.
func (q *TaskQueue) HasPending() bool {
	return len(q.pending) > 0
}

// PendingCount returns the number of waiting tasks.
func (q *TaskQueue) PendingCount() int {
	return len(q.pending)
}

// SetNeedsFinalize flags the active task for deferred finalization. A
// no-op when nothing is active.
func (q *TaskQueue) SetNeedsFinalize() {
	if q.active != "" {
		q.needsFinalize = true
	}
}

// TakeNeedsFinalize consumes the finalize flag.
func (q *TaskQueue) TakeNeedsFinalize() bool {
	was := q.needsFinalize
	q.needsFinalize = false
	return was
}
