// Package writequeue serializes mutations against one store handle. Tasks run one at a time on a single worker
// goroutine, in the order they were submitted.
package writequeue

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
)

var ErrQueueClosed = eris.New("write queue is closed")

type Task func(ctx context.Context) error

type job struct {
	ctx  context.Context
	task Task
	done chan error
}

type runningKey struct{}

// Queue is an unbounded FIFO drained by one worker. Submit may be called from any goroutine.
type Queue struct {
	mu      sync.Mutex
	jobs    []*job
	closed  bool
	signal  chan struct{} // buffered, size 1
	stopped chan struct{}
}

func New() *Queue {
	q := &Queue{
		jobs:    make([]*job, 0, 16),
		signal:  make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
	go q.run()
	return q
}

// Submit enqueues task and blocks until it has run, returning the task's error. A task whose context is done
// before the worker reaches it is skipped and reports the context error. A failing task does not affect the tasks
// queued after it.
//
// Calling Submit from inside a running task with the context the task received runs the nested task inline, since
// waiting on the queue from its own worker would never return.
func (q *Queue) Submit(ctx context.Context, task Task) error {
	if owner, ok := ctx.Value(runningKey{}).(*Queue); ok && owner == q {
		return q.exec(ctx, task)
	}

	j := &job{ctx: ctx, task: task, done: make(chan error, 1)}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.jobs = append(q.jobs, j)
	select {
	case q.signal <- struct{}{}:
	default:
	}
	q.mu.Unlock()

	return <-j.done
}

// Len returns the number of tasks waiting to run, excluding the one running.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// Close rejects every task that has not started with ErrQueueClosed and waits for the running one to finish.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.stopped
		return
	}
	q.closed = true
	pending := q.jobs
	q.jobs = nil
	close(q.signal)
	q.mu.Unlock()

	for _, j := range pending {
		j.done <- ErrQueueClosed
	}
	<-q.stopped
}

func (q *Queue) run() {
	defer close(q.stopped)
	for {
		if j, ok := q.dequeue(); ok {
			j.done <- q.exec(j.ctx, j.task)
			continue
		}
		q.mu.Lock()
		if q.closed && len(q.jobs) == 0 {
			q.mu.Unlock()
			return
		}
		q.mu.Unlock()
		<-q.signal
	}
}

func (q *Queue) dequeue() (*job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.jobs) == 0 {
		return nil, false
	}
	j := q.jobs[0]
	q.jobs[0] = nil
	q.jobs = q.jobs[1:]
	return j, true
}

func (q *Queue) exec(ctx context.Context, task Task) (err error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return eris.Wrap(ctxErr, "task cancelled before it started")
	}
	defer func() {
		if r := recover(); r != nil {
			err = eris.Errorf("task panicked: %v", r)
		}
	}()
	return task(context.WithValue(ctx, runningKey{}, q))
}
