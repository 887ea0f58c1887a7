package resilience

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerKey identifies one circuit: a (backend, source) pair per §4.2
// ("breaker state is keyed per (backend, source) identity").
type BreakerKey struct {
	Backend string
	Source  string
}

func (k BreakerKey) String() string {
	return fmt.Sprintf("%s/%s", k.Backend, k.Source)
}

// BreakerRegistry hands out one *Breaker per BreakerKey, creating it
// lazily on first use.
type BreakerRegistry struct {
	mu        sync.Mutex
	breakers  map[BreakerKey]*Breaker
	threshold int
	cooldown  time.Duration
}

// NewBreakerRegistry builds a registry that opens a circuit after
// threshold consecutive failures and holds it open for cooldown before
// allowing a half-open probe.
func NewBreakerRegistry(threshold int, cooldown time.Duration) *BreakerRegistry {
	return &BreakerRegistry{
		breakers:  make(map[BreakerKey]*Breaker),
		threshold: threshold,
		cooldown:  cooldown,
	}
}

// Get returns the breaker for key, creating it if absent.
func (r *BreakerRegistry) Get(key BreakerKey) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[key]; ok {
		return b
	}
	b := newBreaker(key, r.threshold, r.cooldown)
	r.breakers[key] = b
	return b
}

// Breaker wraps a sony/gobreaker.CircuitBreaker with the closed/open/
// half-open semantics of §4.2: the breaker trips after threshold
// consecutive failures, stays open for cooldown, then allows a single
// half-open probe before deciding the next state.
type Breaker struct {
	key  BreakerKey
	cb   *gobreaker.CircuitBreaker
}

func newBreaker(key BreakerKey, threshold int, cooldown time.Duration) *Breaker {
	settings := gobreaker.Settings{
		Name:    key.String(),
		Timeout: cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(threshold)
		},
	}
	return &Breaker{key: key, cb: gobreaker.NewCircuitBreaker(settings)}
}

// State mirrors gobreaker's three states using the vocabulary from §4.2.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// State reports the breaker's current state.
func (b *Breaker) State() State {
	switch b.cb.State() {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// ErrBreakerOpen is returned by Do when the circuit rejects the call
// outright because it is open.
var ErrBreakerOpen = gobreaker.ErrOpenState

// Do executes fn through the breaker. A rejected call (breaker open)
// surfaces as a permanent, non-retriable Failure so a wrapping retry
// loop does not spin against a known-down backend.
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, fn(ctx)
	})
	if err == nil {
		return nil
	}
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return NewFailure(KindPermanent, err)
	}
	return err
}
