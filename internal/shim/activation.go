package shim

import (
	"context"
	"sync"
	"time"
)

// State is the lifecycle position of an activation.
type State string

const (
	StatePending State = "pending"
	StateReady   State = "ready"
	StateFailed  State = "failed"
)

// Activation is the pending result of Install. The runtime must not consider
// the shim installed until Done is closed and Err is nil.
type Activation struct {
	namespace string
	startedAt time.Time
	done      chan struct{}

	mu         sync.RWMutex
	err        error
	finishedAt time.Time
}

func newActivation(namespace string) *Activation {
	return &Activation{
		namespace: namespace,
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}
}

func (a *Activation) complete(err error) {
	a.mu.Lock()
	a.err = err
	a.finishedAt = time.Now()
	a.mu.Unlock()
	close(a.done)
}

// Namespace returns the cache namespace being populated.
func (a *Activation) Namespace() string { return a.namespace }

// Done is closed once initialization has finished, successfully or not.
func (a *Activation) Done() <-chan struct{} { return a.done }

// Err returns the initialization failure, or nil while pending or after success.
func (a *Activation) Err() error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.err
}

// Wait blocks until initialization finishes or ctx is done.
func (a *Activation) Wait(ctx context.Context) error {
	select {
	case <-a.done:
		return a.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State reports whether the activation is pending, ready or failed.
func (a *Activation) State() State {
	select {
	case <-a.done:
	default:
		return StatePending
	}
	if a.Err() != nil {
		return StateFailed
	}
	return StateReady
}

// Duration is how long initialization took; zero while pending.
func (a *Activation) Duration() time.Duration {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.finishedAt.IsZero() {
		return 0
	}
	return a.finishedAt.Sub(a.startedAt)
}
