// Package queue is an in-process, at-least-once job queue backed by a fixed
// pool of worker goroutines.
package queue

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tigerroll/caseflow/pkg/batch/core/application/port"
	"github.com/tigerroll/caseflow/pkg/batch/engine/step/retry"
	"github.com/tigerroll/caseflow/pkg/batch/support/util/exception"
	"github.com/tigerroll/caseflow/pkg/batch/support/util/logger"
)

const moduleName = "queue"

// DeadLetter is a job that exhausted its deliveries or failed permanently.
type DeadLetter struct {
	Job      port.Job  `json:"job"`
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failed_at"`
}

// Stats are cumulative delivery counters.
type Stats struct {
	Enqueued     int64 `json:"enqueued"`
	Delivered    int64 `json:"delivered"`
	Succeeded    int64 `json:"succeeded"`
	Redelivered  int64 `json:"redelivered"`
	DeadLettered int64 `json:"dead_lettered"`
}

// Options configures a MemoryQueue.
type Options struct {
	Workers int
	// BufferSize is the capacity of the channel between the feeder and the workers.
	BufferSize      int
	DeadLetterLimit int
}

// MemoryQueue implements port.JobQueue. Enqueue never blocks on busy
// workers: jobs wait in an unbounded FIFO owned by a feeder goroutine, which
// hands them to the worker channel.
type MemoryQueue struct {
	opts   Options
	policy retry.RetryPolicy

	mu          sync.Mutex
	handlers    map[string]port.JobHandler
	timers      map[*time.Timer]struct{}
	deadLetters []DeadLetter
	stats       Stats
	started     bool
	stopped     bool

	incoming chan port.Job
	work     chan port.Job
	stopCh   chan struct{}
	runCtx   context.Context
	cancel   context.CancelFunc
	feederWg sync.WaitGroup
	workerWg sync.WaitGroup
	// inFlight counts jobs accepted but not yet settled, including delayed ones.
	inFlight sync.WaitGroup
}

// NewMemoryQueue creates a queue. Register handlers, then call Start.
func NewMemoryQueue(opts Options, policy retry.RetryPolicy) *MemoryQueue {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.BufferSize < 0 {
		opts.BufferSize = 0
	}
	if opts.DeadLetterLimit <= 0 {
		opts.DeadLetterLimit = 1000
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &MemoryQueue{
		opts:     opts,
		policy:   policy,
		handlers: make(map[string]port.JobHandler),
		timers:   make(map[*time.Timer]struct{}),
		incoming: make(chan port.Job),
		work:     make(chan port.Job, opts.BufferSize),
		stopCh:   make(chan struct{}),
		runCtx:   ctx,
		cancel:   cancel,
	}
	// The feeder runs from construction so jobs enqueued before Start wait in the FIFO.
	q.feederWg.Add(1)
	go q.feed()
	return q
}

// Register sets the handler of queue.
func (q *MemoryQueue) Register(queue string, handler port.JobHandler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[queue] = handler
}

// Start launches the worker pool.
func (q *MemoryQueue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return nil
	}
	if q.stopped {
		return exception.NewBatchErrorf(moduleName, "queue cannot be restarted after Stop")
	}
	q.started = true

	for i := 0; i < q.opts.Workers; i++ {
		q.workerWg.Add(1)
		go q.worker(i + 1)
	}
	logger.Infof("Job queue started with %d workers.", q.opts.Workers)
	return nil
}

// Stop stops accepting deliveries, cancels pending delays and waits for
// running handlers until ctx is done. Handlers still running then see their
// context cancelled.
func (q *MemoryQueue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return nil
	}
	q.stopped = true
	pendingDelays := len(q.timers)
	for t := range q.timers {
		if t.Stop() {
			q.inFlight.Done()
		}
	}
	q.timers = map[*time.Timer]struct{}{}
	wasStarted := q.started
	q.mu.Unlock()

	if pendingDelays > 0 {
		logger.Warnf("Job queue stopping with %d delayed deliveries dropped.", pendingDelays)
	}
	close(q.stopCh)
	if !wasStarted {
		q.feederWg.Wait()
		q.cancel()
		return nil
	}

	done := make(chan struct{})
	go func() {
		q.feederWg.Wait()
		q.workerWg.Wait()
		close(done)
	}()
	select {
	case <-done:
		q.cancel()
		logger.Infof("Job queue stopped.")
		return nil
	case <-ctx.Done():
		q.cancel()
		<-done
		return exception.NewBatchError(moduleName, "job queue did not drain before shutdown", ctx.Err(), false, false)
	}
}

// Enqueue accepts job for delivery to the handler of queue.
func (q *MemoryQueue) Enqueue(ctx context.Context, queue string, job port.Job, opts port.EnqueueOptions) (port.JobHandle, error) {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return port.JobHandle{}, exception.NewBatchErrorf(moduleName, "queue %q is stopped", queue)
	}
	if _, ok := q.handlers[queue]; !ok {
		q.mu.Unlock()
		return port.JobHandle{}, exception.NewBatchErrorf(moduleName, "no handler registered for queue %q", queue)
	}
	q.stats.Enqueued++
	q.mu.Unlock()

	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	job.Queue = queue
	if job.Attempt < 1 {
		job.Attempt = 1
	}
	switch {
	case opts.MaxAttempts > 0:
		job.MaxAttempts = opts.MaxAttempts
	case job.MaxAttempts <= 0 && q.policy != nil:
		job.MaxAttempts = q.policy.GetMaxAttempts()
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = 1
	}
	job.EnqueuedAt = time.Now()

	q.inFlight.Add(1)
	if err := q.schedule(ctx, job, opts.Delay); err != nil {
		return port.JobHandle{}, err
	}
	return port.JobHandle{ID: job.ID, Queue: queue}, nil
}

// schedule hands job to the feeder after delay. The caller has added job to inFlight.
func (q *MemoryQueue) schedule(ctx context.Context, job port.Job, delay time.Duration) error {
	if delay <= 0 {
		select {
		case q.incoming <- job:
			return nil
		case <-q.stopCh:
			q.inFlight.Done()
			return exception.NewBatchErrorf(moduleName, "queue %q is stopped", job.Queue)
		case <-ctx.Done():
			q.inFlight.Done()
			return ctx.Err()
		}
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		q.inFlight.Done()
		return exception.NewBatchErrorf(moduleName, "queue %q is stopped", job.Queue)
	}
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		q.mu.Lock()
		delete(q.timers, t)
		q.mu.Unlock()
		select {
		case q.incoming <- job:
		case <-q.stopCh:
			q.inFlight.Done()
		}
	})
	q.timers[t] = struct{}{}
	return nil
}

// feed moves jobs from incoming to the worker channel through a FIFO.
func (q *MemoryQueue) feed() {
	defer q.feederWg.Done()
	defer close(q.work)
	var pending []port.Job
	for {
		var out chan port.Job
		var next port.Job
		if len(pending) > 0 {
			out = q.work
			next = pending[0]
		}
		select {
		case job := <-q.incoming:
			pending = append(pending, job)
		case out <- next:
			pending = pending[1:]
		case <-q.stopCh:
			for range pending {
				q.inFlight.Done()
			}
			if len(pending) > 0 {
				logger.Warnf("Job queue stopping with %d undelivered jobs dropped.", len(pending))
			}
			return
		}
	}
}

func (q *MemoryQueue) worker(id int) {
	defer q.workerWg.Done()
	for {
		select {
		case job, ok := <-q.work:
			if !ok {
				return
			}
			q.deliver(job)
		case <-q.stopCh:
			// Drain whatever is already buffered so inFlight settles.
			for job := range q.work {
				q.inFlight.Done()
				logger.Debugf("Worker %d dropped job %s on shutdown.", id, job.ID)
			}
			return
		}
	}
}

func (q *MemoryQueue) deliver(job port.Job) {
	defer q.inFlight.Done()

	q.mu.Lock()
	handler := q.handlers[job.Queue]
	q.stats.Delivered++
	q.mu.Unlock()

	log := logger.With("job_id", job.ID, "batch_id", job.BatchID, "attempt", job.Attempt)
	err := invoke(q.runCtx, handler, job)
	if err == nil {
		q.mu.Lock()
		q.stats.Succeeded++
		q.mu.Unlock()
		return
	}

	if job.Attempt < job.MaxAttempts && q.policy != nil && q.policy.ShouldRetry(err) {
		delay := q.policy.GetBackoffInterval(job.Attempt)
		next := job
		next.Attempt++
		log.Warnf("Job failed, redelivering in %s (attempt %d/%d): %v", delay, next.Attempt, job.MaxAttempts, err)

		q.mu.Lock()
		q.stats.Redelivered++
		q.mu.Unlock()
		q.inFlight.Add(1)
		if serr := q.schedule(q.runCtx, next, delay); serr != nil {
			q.deadLetter(job, err)
		}
		return
	}
	log.Errorf("Job dead-lettered after %d/%d attempts: %v", job.Attempt, job.MaxAttempts, err)
	q.deadLetter(job, err)
}

func invoke(ctx context.Context, handler port.JobHandler, job port.Job) (err error) {
	if handler == nil {
		return exception.NewBatchErrorf(moduleName, "no handler registered for queue %q", job.Queue)
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("Handler for job %s panicked: %v\n%s", job.ID, r, debug.Stack())
			err = exception.NewBatchError(moduleName, fmt.Sprintf("handler panicked: %v", r), nil, false, true)
		}
	}()
	return handler(ctx, job)
}

func (q *MemoryQueue) deadLetter(job port.Job, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.stats.DeadLettered++
	q.deadLetters = append(q.deadLetters, DeadLetter{Job: job, Error: exception.ExtractErrorMessage(err), FailedAt: time.Now()})
	if over := len(q.deadLetters) - q.opts.DeadLetterLimit; over > 0 {
		q.deadLetters = append([]DeadLetter(nil), q.deadLetters[over:]...)
	}
}

// DeadLetters returns a copy of the dead-letter list, oldest first.
func (q *MemoryQueue) DeadLetters() []DeadLetter {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]DeadLetter(nil), q.deadLetters...)
}

// Stats returns the delivery counters.
func (q *MemoryQueue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stats
}

// Drain blocks until every accepted job has settled or ctx is done.
func (q *MemoryQueue) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		q.inFlight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ port.JobQueue = (*MemoryQueue)(nil)
