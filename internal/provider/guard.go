package provider

import (
	"context"

	"github.com/sells-group/seo-pipeline/internal/resilience"
)

// guardedBackend routes every upstream call through a circuit breaker.
type guardedBackend struct {
	next backend
	cb   *resilience.CircuitBreaker
}

func (g *guardedBackend) complete(ctx context.Context, req completion) (*reply, error) {
	return resilience.ExecuteVal(ctx, g.cb, func(ctx context.Context) (*reply, error) {
		return g.next.complete(ctx, req)
	})
}

func (g *guardedBackend) image(ctx context.Context, req imageRequest) (*imageReply, error) {
	return resilience.ExecuteVal(ctx, g.cb, func(ctx context.Context) (*imageReply, error) {
		return g.next.image(ctx, req)
	})
}

// WithCircuitBreaker guards p's upstream calls with cb. While the breaker is
// open calls fail fast with resilience.ErrCircuitOpen. Offline providers and
// providers not built by New are returned unchanged.
func WithCircuitBreaker(p Provider, cb *resilience.CircuitBreaker) Provider {
	e, ok := p.(*engine)
	if !ok || e.offline() || cb == nil {
		return p
	}
	clone := *e
	clone.backend = &guardedBackend{next: e.backend, cb: cb}
	return &clone
}
