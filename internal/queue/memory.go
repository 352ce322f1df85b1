package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Handler processes one analysis job and returns the serialized result to
// record on the job.
type Handler func(ctx context.Context, scanID string) ([]byte, error)

// MemoryQueue runs jobs on an in-process goroutine pool. It implements the
// same Queue contract as RedisQueue, minus durability, and exists so the
// pipeline can be exercised without Redis.
type MemoryQueue struct {
	mu       sync.Mutex
	jobs     map[string]*Job
	inFlight map[string]string // scan id -> job id, cleared on terminal state

	tasks   chan string
	handler Handler
	wg      sync.WaitGroup
	cancel  context.CancelFunc
	closed  bool
}

// NewMemoryQueue starts the pool. The handler is invoked once per job from a
// worker goroutine.
func NewMemoryQueue(handler Handler, workers int) *MemoryQueue {
	if workers <= 0 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &MemoryQueue{
		jobs:     make(map[string]*Job),
		inFlight: make(map[string]string),
		tasks:    make(chan string, workers*4),
		handler:  handler,
		cancel:   cancel,
	}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx)
	}
	return q
}

// Enqueue creates a waiting job and hands it to the pool.
func (q *MemoryQueue) Enqueue(ctx context.Context, scanID string) (*Job, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, context.Canceled
	}
	if _, ok := q.inFlight[scanID]; ok {
		q.mu.Unlock()
		return nil, ErrDuplicateJob
	}
	job := &Job{
		ID:         uuid.NewString(),
		ScanID:     scanID,
		State:      StateWaiting,
		EnqueuedAt: time.Now().UTC(),
	}
	q.jobs[job.ID] = job
	q.inFlight[scanID] = job.ID
	q.mu.Unlock()

	select {
	case q.tasks <- job.ID:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return q.snapshot(job.ID), nil
}

// GetJob returns a copy of the job's current state.
func (q *MemoryQueue) GetJob(_ context.Context, jobID string) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.jobs[jobID]; !ok {
		return nil, ErrJobNotFound
	}
	cp := *q.jobs[jobID]
	return &cp, nil
}

// Stats counts jobs per state.
func (q *MemoryQueue) Stats(_ context.Context) (*Stats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	stats := &Stats{}
	for _, job := range q.jobs {
		switch job.State {
		case StateWaiting:
			stats.Waiting++
		case StateActive:
			stats.Active++
		case StateCompleted:
			stats.Completed++
		case StateFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

// Close stops the pool and waits for in-flight jobs to finish.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()
	q.cancel()
	q.wg.Wait()
	return nil
}

// Drain blocks until every enqueued job has reached a terminal state. Test
// helper; production polling goes through the status resolver.
func (q *MemoryQueue) Drain(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		q.mu.Lock()
		pending := len(q.inFlight)
		q.mu.Unlock()
		if pending == 0 {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

func (q *MemoryQueue) worker(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case jobID := <-q.tasks:
			q.run(ctx, jobID)
		}
	}
}

func (q *MemoryQueue) run(ctx context.Context, jobID string) {
	q.mu.Lock()
	job, ok := q.jobs[jobID]
	if !ok {
		q.mu.Unlock()
		return
	}
	job.State = StateActive
	scanID := job.ScanID
	q.mu.Unlock()

	result, err := q.handler(ctx, scanID)

	q.mu.Lock()
	defer q.mu.Unlock()
	if err != nil {
		job.State = StateFailed
		job.FailedReason = err.Error()
	} else {
		job.State = StateCompleted
		job.Result = result
	}
	delete(q.inFlight, scanID)
}

func (q *MemoryQueue) snapshot(jobID string) *Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	cp := *q.jobs[jobID]
	return &cp
}
