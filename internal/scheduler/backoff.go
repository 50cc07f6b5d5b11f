// Package scheduler drives delivery: it claims due submissions under a
// conditional-update lease, performs one bounded exchange for each and applies
// the classified outcome through the ledger.
package scheduler

import (
	"math/rand"
	"time"
)

const (
	defaultBackoffBase = 45 * time.Second
	defaultBackoffCap  = time.Hour
	jitterFraction     = 0.25
)

// Backoff computes the wait before the next delivery attempt. The base doubles
// per failed attempt, up to a quarter of random jitter is added so stores that
// failed together do not retry together, and the cap bounds the result.
type Backoff struct {
	base   time.Duration
	limit  time.Duration
	randFn func() float64 // uniform [0,1)
}

// NewBackoff constructs a Backoff. Non-positive base or limit select 45s and 1h.
func NewBackoff(base, limit time.Duration) *Backoff {
	if base <= 0 {
		base = defaultBackoffBase
	}
	if limit <= 0 {
		limit = defaultBackoffCap
	}
	return &Backoff{base: base, limit: limit, randFn: rand.Float64}
}

// Delay returns the wait after retryCount failed attempts.
func (b *Backoff) Delay(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	d := b.base
	for i := 0; i < retryCount && d < b.limit; i++ {
		d *= 2
	}
	if d > b.limit {
		d = b.limit
	}
	d += time.Duration(b.randFn() * jitterFraction * float64(d))
	if d > b.limit {
		d = b.limit
	}
	return d
}
