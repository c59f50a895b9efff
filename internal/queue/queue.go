// Package queue implements the Serial Queue of spec.md §4.L: a single-slot,
// strict-FIFO job runner. Generalized from the teacher's internal/order/
// Queue (an unbounded fire-and-forget channel drain with no cancellation,
// status tracking, or idle-wait) into a job runner with cooperative
// cancellation and typed results, using Go generics where the teacher had
// none to reach for.
package queue

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Status is a job's position in its lifecycle. Only terminal values are
// retained once reached; pending/running are derived from the queue's live
// state, not stored permanently.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusUnknown   Status = "unknown"
)

// JobFunc is the body of an enqueued job. It must observe ctx.Done() to
// honor cooperative cancellation.
type JobFunc[T any] func(ctx context.Context) (T, error)

type result[T any] struct {
	value T
	err   error
}

// job is the type-erased form a JobFunc[T] takes once enqueued, so the
// queue's single pending-list can hold jobs of differing T.
type job struct {
	id      string
	ctx     context.Context
	cancel  context.CancelFunc
	execute func(ctx context.Context)
	abort   func() // delivers a cancelled result for a job removed before it ran
}

// Queue is a strict-FIFO, concurrency-1 job runner.
type Queue struct {
	mu         sync.Mutex
	cond       *sync.Cond
	pending    []*job
	currentID  string
	current    *job
	statuses   map[string]Status // terminal statuses only
	closed     bool
	stopWorker chan struct{}
}

// New starts a Queue's background worker goroutine.
func New() *Queue {
	q := &Queue{
		statuses:   map[string]Status{},
		stopWorker: make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	go q.run()
	return q
}

// JobHandle is returned by Enqueue; it lets the caller await the typed
// result, cancel the job, or poll its status.
type JobHandle[T any] struct {
	ID       string
	resultCh chan result[T]
	cancel   context.CancelFunc
	q        *Queue
}

// Wait blocks until the job completes, fails, or is cancelled.
func (h *JobHandle[T]) Wait(ctx context.Context) (T, error) {
	select {
	case r := <-h.resultCh:
		return r.value, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Cancel raises the job's cooperative cancellation signal. On a pending job
// this removes it from the queue before it ever starts; on a running job it
// is up to the job body to observe ctx.Done().
func (h *JobHandle[T]) Cancel() {
	h.cancel()

	q := h.q
	q.mu.Lock()
	for i, j := range q.pending {
		if j.id == h.ID {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			q.statuses[h.ID] = StatusCancelled
			j.abort()
			break
		}
	}
	q.mu.Unlock()
}

// Status returns the job's current status.
func (h *JobHandle[T]) Status() Status { return h.q.GetStatus(h.ID) }

// Enqueue appends a job to the tail of the queue. If id is empty, a fresh
// uuid is generated. Enqueue is a free function (not a Queue method)
// because Go methods cannot introduce their own type parameters.
func Enqueue[T any](q *Queue, fn JobFunc[T], id string) *JobHandle[T] {
	if id == "" {
		id = uuid.NewString()
	}
	ctx, cancel := context.WithCancel(context.Background())
	resultCh := make(chan result[T], 1)

	j := &job{id: id, ctx: ctx, cancel: cancel}
	j.execute = func(ctx context.Context) {
		v, err := fn(ctx)

		status := StatusCompleted
		switch {
		case ctx.Err() != nil:
			status = StatusCancelled
			if err == nil {
				err = ctx.Err()
			}
		case err != nil:
			status = StatusFailed
		}

		q.mu.Lock()
		q.statuses[id] = status
		q.mu.Unlock()

		resultCh <- result[T]{value: v, err: err}
		close(resultCh)
	}
	j.abort = func() {
		resultCh <- result[T]{err: context.Canceled}
		close(resultCh)
	}

	q.mu.Lock()
	q.pending = append(q.pending, j)
	q.mu.Unlock()
	q.cond.Signal()

	return &JobHandle[T]{ID: id, resultCh: resultCh, cancel: cancel, q: q}
}

// GetStatus reports a job's status: terminal if retained, "running" if it is
// the job currently executing, "pending" if still queued, else "unknown".
func (q *Queue) GetStatus(id string) Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	if s, ok := q.statuses[id]; ok {
		return s
	}
	if q.currentID == id {
		return StatusRunning
	}
	for _, j := range q.pending {
		if j.id == id {
			return StatusPending
		}
	}
	return StatusUnknown
}

// GetPendingCount returns the number of jobs queued but not yet started.
func (q *Queue) GetPendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// CancelAll cancels every pending job (removing it before it ever starts)
// and raises the cancellation signal on the currently running job, if any.
func (q *Queue) CancelAll() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, j := range q.pending {
		j.cancel()
		q.statuses[j.id] = StatusCancelled
		j.abort()
	}
	q.pending = nil
	if q.current != nil {
		q.current.cancel()
	}
}

// WaitForIdle blocks until the queue has no pending job and nothing
// running, or ctx is done.
func (q *Queue) WaitForIdle(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		q.mu.Lock()
		for len(q.pending) > 0 || q.currentID != "" {
			q.cond.Wait()
		}
		q.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the worker goroutine once any in-flight job finishes. Pending
// jobs are left unexecuted.
func (q *Queue) Close() {
	close(q.stopWorker)
	q.cond.Broadcast()
}

func (q *Queue) run() {
	for {
		q.mu.Lock()
		for len(q.pending) == 0 {
			select {
			case <-q.stopWorker:
				q.mu.Unlock()
				return
			default:
			}
			q.cond.Wait()
			select {
			case <-q.stopWorker:
				q.mu.Unlock()
				return
			default:
			}
		}
		j := q.pending[0]
		q.pending = q.pending[1:]
		q.currentID = j.id
		q.current = j
		q.mu.Unlock()

		j.execute(j.ctx)

		q.mu.Lock()
		q.currentID = ""
		q.current = nil
		q.cond.Broadcast()
		q.mu.Unlock()
	}
}
