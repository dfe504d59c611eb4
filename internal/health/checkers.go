package health

import (
	"context"
	"fmt"

	"github.com/cadenza-coach/cadenza/internal/resilience"
)

// Pinger is satisfied by storage backends that can verify connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StorageChecker reports healthy when the storage backend answers a ping.
// Pass nil for stores without connectivity (the in-memory driver); the check
// then always passes.
func StorageChecker(p Pinger) Checker {
	return Checker{
		Name: "storage",
		Check: func(ctx context.Context) error {
			if p == nil {
				return nil
			}
			return p.Ping(ctx)
		},
	}
}

// GeneratorChecker reports healthy while the feedback generator's circuit
// breaker is not open. An open breaker is not fatal to the service (fallback
// feedback still flows) but surfaces in readiness so operators notice.
func GeneratorChecker(cb *resilience.CircuitBreaker) Checker {
	return Checker{
		Name: "generator",
		Check: func(_ context.Context) error {
			if s := cb.State(); s == resilience.StateOpen {
				return fmt.Errorf("circuit breaker %s", s)
			}
			return nil
		},
	}
}
