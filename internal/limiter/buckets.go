package limiter

import (
	"context"
	"sync"

	"github.com/gofrs/uuid/v5"
	"golang.org/x/time/rate"
)

const (
	defaultPerSecond = 5
	defaultBurst     = 10
)

// StoreBuckets implements Limiter with one token bucket per store. Buckets are
// created on first use and live for the process; store counts are small.
type StoreBuckets struct {
	perSecond rate.Limit
	burst     int

	mu      sync.Mutex
	buckets map[uuid.UUID]*rate.Limiter
}

var _ Limiter = (*StoreBuckets)(nil)

// NewStoreBuckets constructs a per-store limiter. Non-positive arguments
// select the defaults.
func NewStoreBuckets(perSecond float64, burst int) *StoreBuckets {
	if perSecond <= 0 {
		perSecond = defaultPerSecond
	}
	if burst <= 0 {
		burst = defaultBurst
	}
	return &StoreBuckets{
		perSecond: rate.Limit(perSecond),
		burst:     burst,
		buckets:   make(map[uuid.UUID]*rate.Limiter),
	}
}

// Wait blocks until the store may make one call, or ctx ends.
func (l *StoreBuckets) Wait(ctx context.Context, storeID uuid.UUID) error {
	return l.bucket(storeID).Wait(ctx)
}

func (l *StoreBuckets) bucket(storeID uuid.UUID) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[storeID]
	if !ok {
		b = rate.NewLimiter(l.perSecond, l.burst)
		l.buckets[storeID] = b
	}
	return b
}
