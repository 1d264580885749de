package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

const memoryPollInterval = 20 * time.Millisecond

type memoryItem struct {
	job       Job
	available time.Time
}

type memoryLease struct {
	job      Job
	deadline time.Time
}

// MemoryBroker is an in-process Broker for local runs and tests. Leases whose
// visibility timeout expired are returned to the queue on the next Fetch.
type MemoryBroker struct {
	visibility time.Duration
	now        func() time.Time

	mu       sync.Mutex
	pending  map[Name][]memoryItem
	inflight map[string]memoryLease
	closed   bool
	notify   chan struct{}
}

// NewMemoryBroker creates a MemoryBroker. A non-positive visibility timeout
// defaults to two minutes.
func NewMemoryBroker(visibility time.Duration) *MemoryBroker {
	if visibility <= 0 {
		visibility = 2 * time.Minute
	}
	return &MemoryBroker{
		visibility: visibility,
		now:        time.Now,
		pending:    make(map[Name][]memoryItem),
		inflight:   make(map[string]memoryLease),
		notify:     make(chan struct{}, 1),
	}
}

func (b *MemoryBroker) Publish(_ context.Context, job Job) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.pending[job.Queue] = append(b.pending[job.Queue], memoryItem{job: job, available: b.now()})
	b.mu.Unlock()
	b.wake()
	return nil
}

func (b *MemoryBroker) wake() {
	select {
	case b.notify <- struct{}{}:
	default:
	}
}

func (b *MemoryBroker) Fetch(ctx context.Context, queue Name, wait time.Duration) (Delivery, error) {
	deadline := b.now().Add(wait)
	for {
		d, err := b.tryFetch(queue)
		if err != nil || d != nil {
			return d, err
		}
		remaining := deadline.Sub(b.now())
		if remaining <= 0 {
			return nil, ErrNoJob
		}
		timer := time.NewTimer(min(remaining, memoryPollInterval))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-b.notify:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (b *MemoryBroker) tryFetch(queue Name) (Delivery, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	now := b.now()
	b.reapLocked(now)

	items := b.pending[queue]
	for i, it := range items {
		if it.available.After(now) {
			continue
		}
		b.pending[queue] = append(items[:i:i], items[i+1:]...)
		token := uuid.New().String()
		b.inflight[token] = memoryLease{job: it.job, deadline: now.Add(b.visibility)}
		return &memoryDelivery{broker: b, token: token, job: it.job}, nil
	}
	return nil, nil
}

// reapLocked returns expired leases to their queues as a new attempt.
func (b *MemoryBroker) reapLocked(now time.Time) {
	for token, l := range b.inflight {
		if l.deadline.After(now) {
			continue
		}
		delete(b.inflight, token)
		job := l.job
		job.Attempt++
		b.pending[job.Queue] = append(b.pending[job.Queue], memoryItem{job: job, available: now})
	}
}

// Len reports how many jobs are waiting on queue, including delayed ones.
func (b *MemoryBroker) Len(queue Name) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending[queue])
}

// InFlight reports how many deliveries are unsettled.
func (b *MemoryBroker) InFlight() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.inflight)
}

func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *MemoryBroker) settle(token string) (memoryLease, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.inflight[token]
	if !ok {
		return memoryLease{}, ErrLeaseLost
	}
	delete(b.inflight, token)
	return l, nil
}

type memoryDelivery struct {
	broker *MemoryBroker
	token  string
	job    Job
}

func (d *memoryDelivery) Job() Job { return d.job }

func (d *memoryDelivery) Ack(context.Context) error {
	_, err := d.broker.settle(d.token)
	return err
}

func (d *memoryDelivery) Kill(context.Context) error {
	_, err := d.broker.settle(d.token)
	return err
}

func (d *memoryDelivery) Retry(_ context.Context, delay time.Duration) error {
	b := d.broker
	b.mu.Lock()
	l, ok := b.inflight[d.token]
	if !ok {
		b.mu.Unlock()
		return ErrLeaseLost
	}
	delete(b.inflight, d.token)
	job := l.job
	job.Attempt++
	b.pending[job.Queue] = append(b.pending[job.Queue], memoryItem{job: job, available: b.now().Add(delay)})
	b.mu.Unlock()
	b.wake()
	return nil
}
