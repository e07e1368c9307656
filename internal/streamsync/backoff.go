package streamsync

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	// maxReconnectAttempts is the number of consecutive failed reconnect
	// attempts tolerated before the session is declared permanently failed.
	maxReconnectAttempts = 10

	initialReconnectDelay = 1 * time.Second
	maxReconnectDelay     = 15 * time.Second
)

// newBackoffPolicy returns the reconnect delay schedule: 1s doubling up to a
// 15s cap, no jitter, never self-expiring (the attempt cap is enforced by
// the client, not the policy).
func newBackoffPolicy() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initialReconnectDelay
	b.MaxInterval = maxReconnectDelay
	b.Multiplier = 2.0
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}
