package gameapi

import (
	"errors"
	"sync"
	"time"

	"github.com/andrescamacho/spacetraders-go/internal/domain/shared"
)

// CircuitState is the state of a CircuitBreaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

// ErrCircuitOpen is returned by Call when the breaker is open.
var ErrCircuitOpen = errors.New("gameapi: circuit breaker open")

// CircuitBreaker trips after a run of consecutive failures and holds the
// remote game API at arm's length for a cooldown before probing it again.
// Executors hitting an open breaker should surface it as a retryable
// container error rather than fail the container outright.
type CircuitBreaker struct {
	maxFailures     int
	timeout         time.Duration
	mu              sync.RWMutex
	state           CircuitState
	failureCount    int
	lastFailureTime time.Time
	clock           shared.Clock
}

func NewCircuitBreaker(maxFailures int, timeout time.Duration, clock shared.Clock) *CircuitBreaker {
	if clock == nil {
		clock = shared.NewRealClock()
	}
	return &CircuitBreaker{maxFailures: maxFailures, timeout: timeout, clock: clock}
}

func (cb *CircuitBreaker) Call(fn func() error) error {
	cb.mu.Lock()
	if cb.state == CircuitOpen {
		if cb.clock.Now().Sub(cb.lastFailureTime) >= cb.timeout {
			cb.state = CircuitHalfOpen
		} else {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
	}
	cb.mu.Unlock()

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err != nil {
		cb.failureCount++
		cb.lastFailureTime = cb.clock.Now()
		if cb.state == CircuitHalfOpen || cb.failureCount >= cb.maxFailures {
			cb.state = CircuitOpen
		}
		return err
	}

	cb.failureCount = 0
	cb.state = CircuitClosed
	return nil
}

func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = CircuitClosed
	cb.failureCount = 0
}
