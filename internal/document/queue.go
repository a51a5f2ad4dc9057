package document

import (
	"context"
	"sync"
	"time"

	"taxdesk/pkg/errors"
	"taxdesk/pkg/logger"

	"github.com/google/uuid"
)

// Job asks for one extraction run.
type Job struct {
	DocumentID  uuid.UUID
	SubmittedAt time.Time
}

// Processor is the part of Service the queue drives.
type Processor interface {
	Process(ctx context.Context, id uuid.UUID) (*ProcessOutcome, error)
}

// ErrQueueClosed is returned by Enqueue after Shutdown started.
var ErrQueueClosed = errors.New("processing queue is shutting down")

// Queue runs upload-triggered extraction on a fixed set of workers.
type Queue struct {
	proc    Processor
	logger  logger.Logger
	workers int
	timeout time.Duration

	ch   chan Job
	wg   sync.WaitGroup
	once sync.Once

	mu     sync.RWMutex
	closed bool
}

type QueueOption func(*Queue)

func WithWorkers(n int) QueueOption {
	return func(q *Queue) {
		if n > 0 {
			q.workers = n
		}
	}
}

func WithQueueSize(n int) QueueOption {
	return func(q *Queue) {
		if n > 0 {
			q.ch = make(chan Job, n)
		}
	}
}

// WithJobTimeout bounds the lookup and claim of a job. The extraction run
// has its own timeout in Service.
func WithJobTimeout(d time.Duration) QueueOption {
	return func(q *Queue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

func NewQueue(proc Processor, log logger.Logger, opts ...QueueOption) *Queue {
	q := &Queue{
		proc:    proc,
		logger:  log,
		workers: 4,
		timeout: 5 * time.Minute,
		ch:      make(chan Job, 64),
	}
	for _, o := range opts {
		o(q)
	}
	q.start()
	return q
}

func (q *Queue) start() {
	q.once.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go q.work(i + 1)
		}
	})
}

func (q *Queue) work(workerID int) {
	defer q.wg.Done()
	for job := range q.ch {
		ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
		_, err := q.proc.Process(ctx, job.DocumentID)
		cancel()

		fields := map[string]interface{}{
			"worker_id":   workerID,
			"document_id": job.DocumentID.String(),
			"waited_ms":   time.Since(job.SubmittedAt).Milliseconds(),
		}
		if err != nil {
			fields["error"] = err.Error()
			q.logger.Error("Queued processing failed", fields)
			continue
		}
		q.logger.Info("Queued processing completed", fields)
	}
}

// Enqueue blocks while the buffer is full, until ctx is done.
func (q *Queue) Enqueue(ctx context.Context, job Job) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = time.Now().UTC()
	}
	select {
	case q.ch <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops accepting jobs and waits for queued ones until ctx is done.
func (q *Queue) Shutdown(ctx context.Context) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		q.logger.Warn("Queue shutdown interrupted", map[string]interface{}{"error": ctx.Err().Error()})
	case <-done:
		q.logger.Info("Queue drained", nil)
	}
}
