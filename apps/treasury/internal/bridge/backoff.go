package bridge

import (
	"math/rand"
	"time"
)

const (
	backoffInitial       = 2 * time.Second
	backoffMax           = 60 * time.Second
	backoffRateLimitMax  = 120 * time.Second
	backoffJitterFraction = 0.3
)

// Backoff produces poll delays for the attestation oracle: exponential with a
// cap, stretched further when the oracle rate-limits, with random jitter so
// concurrent pollers spread out.
type Backoff struct {
	next   time.Duration
	jitter func() float64
}

// NewBackoff returns a backoff seeded from the global rand source.
func NewBackoff() *Backoff {
	return &Backoff{next: backoffInitial, jitter: rand.Float64}
}

// newBackoffWithJitter takes an injectable jitter source for tests.
func newBackoffWithJitter(jitter func() float64) *Backoff {
	return &Backoff{next: backoffInitial, jitter: jitter}
}

// Next returns the delay to sleep before the following poll. A rate-limited
// attempt triples the pending delay instead of doubling it and raises the cap,
// since the oracle explicitly asked to be left alone.
func (b *Backoff) Next(rateLimited bool) time.Duration {
	delay := b.next
	if rateLimited {
		delay *= 3
		if delay > backoffRateLimitMax {
			delay = backoffRateLimitMax
		}
		b.next = delay
	} else {
		b.next = delay * 2
		if b.next > backoffMax {
			b.next = backoffMax
		}
	}

	jitter := time.Duration(b.jitter() * backoffJitterFraction * float64(delay))
	return delay + jitter
}

// Reset restores the initial delay, used after a successful response.
func (b *Backoff) Reset() {
	b.next = backoffInitial
}
