// Package audit records every regulator exchange and operator override as an
// append-only trail. Recording never blocks or fails the caller: the pipeline
// outlives a broken audit sink, not the other way round.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/leafline-pos/ocs-relay/internal/metrics"
	"github.com/leafline-pos/ocs-relay/internal/model"
	"github.com/leafline-pos/ocs-relay/internal/repository"
)

const (
	defaultBuffer = 1024
	insertTimeout = 5 * time.Second
)

// Recorder buffers audit entries and appends them from a single drain
// goroutine. A full buffer drops the entry (logged and counted); a repository
// failure is logged and the drain continues.
type Recorder struct {
	repo repository.AuditRepository
	log  *zap.Logger

	mu     sync.RWMutex
	closed bool
	ch     chan model.AuditEntry
	done   chan struct{}
}

// NewRecorder starts the drain goroutine. buffer <= 0 selects the default.
func NewRecorder(repo repository.AuditRepository, log *zap.Logger, buffer int) *Recorder {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	r := &Recorder{
		repo: repo,
		log:  log,
		ch:   make(chan model.AuditEntry, buffer),
		done: make(chan struct{}),
	}
	go r.drain()
	return r
}

// Record enqueues one entry and returns immediately. Missing id/timestamp are
// filled in. Entries offered after Close, or while the buffer is full, are
// dropped with an error log.
func (r *Recorder) Record(e model.AuditEntry) {
	if e.ID.IsNil() {
		e.ID = uuid.Must(uuid.NewV4())
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.drop(e, "recorder closed")
		return
	}
	select {
	case r.ch <- e:
	default:
		r.drop(e, "buffer full")
	}
}

func (r *Recorder) drop(e model.AuditEntry, reason string) {
	metrics.AuditDroppedTotal.Inc()
	r.log.Error("audit entry dropped",
		zap.String("reason", reason),
		zap.String("correlation_id", e.CorrelationID.String()),
		zap.String("endpoint", e.Endpoint),
		zap.String("initiator", e.Initiator))
}

func (r *Recorder) drain() {
	defer close(r.done)
	for e := range r.ch {
		ctx, cancel := context.WithTimeout(context.Background(), insertTimeout)
		if err := r.repo.Insert(ctx, &e); err != nil {
			r.log.Error("audit insert failed",
				zap.Error(err),
				zap.String("correlation_id", e.CorrelationID.String()))
		}
		cancel()
	}
}

// Close stops accepting entries and waits for the buffer to flush, bounded by
// ctx.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.ch)
	}
	r.mu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
