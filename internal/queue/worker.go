package queue

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/seo-pipeline/internal/resilience"
)

// Handler processes one job. A nil return acks the job; an error schedules a
// retry until the retry policy is exhausted.
type Handler func(ctx context.Context, job Job) error

// DeadLetterSink persists jobs that will not be delivered again.
type DeadLetterSink interface {
	EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error
}

// permanentError marks an error that must not be retried.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so the worker dead-letters the job without retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was wrapped with Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// WorkerConfig tunes a Worker.
type WorkerConfig struct {
	// Concurrency is the number of consumers per queue. Default 2.
	Concurrency int
	// Poll bounds each Fetch. Default 1s.
	Poll  time.Duration
	Retry resilience.RetryPolicy
}

// Worker consumes queues and dispatches jobs to handlers.
type Worker struct {
	broker   Broker
	dlq      DeadLetterSink
	cfg      WorkerConfig
	handlers map[Name]Handler
	locks    *keyLock
	log      *zap.Logger
}

// NewWorker creates a Worker. dlq may be nil, in which case exhausted jobs
// are only logged.
func NewWorker(broker Broker, dlq DeadLetterSink, cfg WorkerConfig) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	if cfg.Poll <= 0 {
		cfg.Poll = time.Second
	}
	cfg.Retry = cfg.Retry.WithDefaults()
	return &Worker{
		broker:   broker,
		dlq:      dlq,
		cfg:      cfg,
		handlers: make(map[Name]Handler),
		locks:    newKeyLock(),
		log:      zap.L().With(zap.String("component", "worker")),
	}
}

// Handle registers h for queue.
func (w *Worker) Handle(queue Name, h Handler) {
	w.handlers[queue] = h
}

// Run consumes every registered queue until ctx is canceled. It returns nil
// on cancellation and the first broker error otherwise.
func (w *Worker) Run(ctx context.Context) error {
	if len(w.handlers) == 0 {
		return eris.New("queue: no handlers registered")
	}
	g, gctx := errgroup.WithContext(ctx)
	for queue, h := range w.handlers {
		for i := 0; i < w.cfg.Concurrency; i++ {
			g.Go(func() error {
				return w.consume(gctx, queue, h)
			})
		}
	}
	w.log.Info("worker started",
		zap.Int("queues", len(w.handlers)),
		zap.Int("concurrency", w.cfg.Concurrency),
	)
	err := g.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (w *Worker) consume(ctx context.Context, queue Name, h Handler) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		d, err := w.broker.Fetch(ctx, queue, w.cfg.Poll)
		switch {
		case err == nil:
			w.Process(ctx, d, h)
		case errors.Is(err, ErrNoJob):
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, ErrClosed):
			return err
		default:
			w.log.Warn("fetch failed", zap.String("queue", string(queue)), zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(w.cfg.Poll):
			}
		}
	}
}

// Process runs h for one delivery and settles it.
func (w *Worker) Process(ctx context.Context, d Delivery, h Handler) {
	job := d.Job()
	log := w.log.With(
		zap.String("queue", string(job.Queue)),
		zap.String("job_id", job.ID),
		zap.String("key", job.Key),
		zap.Int("attempt", job.Attempt),
	)

	unlock := w.locks.lock(string(job.Queue) + "/" + job.Key)
	err := runHandler(ContextFor(ctx, d), h, job)
	unlock()

	if err == nil {
		if ackErr := d.Ack(ctx); ackErr != nil {
			log.Warn("ack failed", zap.Error(ackErr))
		}
		return
	}

	failures := job.Attempt + 1
	if !IsPermanent(err) && !w.cfg.Retry.Exhausted(failures) {
		delay := w.cfg.Retry.Delay(failures)
		log.Warn("job failed, retrying", zap.Duration("delay", delay), zap.Error(err))
		if retryErr := d.Retry(ctx, delay); retryErr != nil {
			log.Warn("retry failed", zap.Error(retryErr))
		}
		return
	}

	log.Error("job dead-lettered", zap.Int("attempts", failures), zap.Error(err))
	if w.dlq != nil {
		entry := resilience.DLQEntry{
			Queue:     string(job.Queue),
			JobID:     job.ID,
			WebsiteID: job.Key,
			Payload:   job.Payload,
			Error:     err.Error(),
			ErrorType: resilience.ClassifyError(err),
			Attempts:  failures,
		}
		if dlqErr := w.dlq.EnqueueDLQ(ctx, entry); dlqErr != nil {
			log.Error("dead-letter write failed", zap.Error(dlqErr))
		}
	}
	if killErr := d.Kill(ctx); killErr != nil {
		log.Warn("kill failed", zap.Error(killErr))
	}
}

func runHandler(ctx context.Context, h Handler, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("handler panic",
				zap.String("queue", string(job.Queue)),
				zap.String("job_id", job.ID),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			err = Permanent(fmt.Errorf("queue: handler panic: %v", r))
		}
	}()
	return h(ctx, job)
}

// keyLock serializes work per key. Entries are dropped when unused.
type keyLock struct {
	mu    sync.Mutex
	locks map[string]*keyEntry
}

type keyEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyLock() *keyLock {
	return &keyLock{locks: make(map[string]*keyEntry)}
}

func (k *keyLock) lock(key string) func() {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
