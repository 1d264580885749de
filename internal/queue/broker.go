package queue

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
)

var (
	// ErrNoJob is returned by Fetch when nothing became available in time.
	ErrNoJob = eris.New("queue: no job available")
	// ErrLeaseLost is returned when settling a delivery whose visibility
	// timeout expired and which was handed out again.
	ErrLeaseLost = eris.New("queue: delivery lease lost")
	// ErrClosed is returned by a closed broker.
	ErrClosed = eris.New("queue: broker closed")
)

// Publisher enqueues jobs.
type Publisher interface {
	Publish(ctx context.Context, job Job) error
}

// Broker stores jobs until a worker settles them. A fetched job stays
// invisible to other consumers until it is settled or its visibility
// timeout expires.
type Broker interface {
	Publisher
	// Fetch waits up to wait for a job on queue. It returns ErrNoJob when
	// none arrived.
	Fetch(ctx context.Context, queue Name, wait time.Duration) (Delivery, error)
	Close() error
}

// Delivery is one handed-out job.
type Delivery interface {
	Job() Job
	// Ack removes the job.
	Ack(ctx context.Context) error
	// Retry makes the job available again after delay with its attempt
	// counter incremented.
	Retry(ctx context.Context, delay time.Duration) error
	// Kill removes the job without redelivery.
	Kill(ctx context.Context) error
}

// tracedDelivery is implemented by deliveries that carry trace context.
type tracedDelivery interface {
	traceContext(ctx context.Context) context.Context
}

// ContextFor returns ctx enriched with the trace context carried by d, if any.
func ContextFor(ctx context.Context, d Delivery) context.Context {
	if t, ok := d.(tracedDelivery); ok {
		return t.traceContext(ctx)
	}
	return ctx
}
