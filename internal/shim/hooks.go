package shim

import "time"

// Outcome classifies how a fetch was answered.
type Outcome string

const (
	OutcomeHit          Outcome = "hit"
	OutcomeMiss         Outcome = "miss"
	OutcomeNetworkError Outcome = "network_error"
)

// Hooks receives shim lifecycle events for metrics collection.
// Implementations must be safe for concurrent use.
type Hooks interface {
	InitializeCompleted(namespace string, assets int, duration time.Duration, err error)
	// FetchHandled is called exactly once per HandleFetch call.
	FetchHandled(outcome Outcome)
	// CacheLookupFailed is called when the cache lookup errored and the fetch
	// fell through to the network. FetchHandled still follows.
	CacheLookupFailed()
}

// NoopHooks discards every event.
type NoopHooks struct{}

func (NoopHooks) InitializeCompleted(string, int, time.Duration, error) {}
func (NoopHooks) FetchHandled(Outcome) {}
func (NoopHooks) CacheLookupFailed() {}
