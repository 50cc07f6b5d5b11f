package asn

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
)

const defaultPollInterval = 15 * time.Minute

// StoreSource lists the stores worth polling.
type StoreSource interface {
	ActiveStoreIDs(ctx context.Context) ([]uuid.UUID, error)
}

// reconciler is what the poller drives; satisfied by *Reconciler.
type reconciler interface {
	FetchAndReconcile(ctx context.Context, storeID uuid.UUID) (inserted, skipped int, err error)
}

// Poller sweeps every store with a usable credential on an interval. One
// store's failure never stops the others.
type Poller struct {
	rec      reconciler
	stores   StoreSource
	log      *zap.Logger
	interval time.Duration
}

// NewPoller constructs a Poller. Non-positive interval selects 15m.
func NewPoller(rec *Reconciler, stores StoreSource, log *zap.Logger, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &Poller{rec: rec, stores: stores, log: log, interval: interval}
}

// Run sweeps once immediately and then on every interval until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.log.Info("asn poller started", zap.Duration("interval", p.interval))
	for {
		p.sweep(ctx)
		select {
		case <-ctx.Done():
			p.log.Info("asn poller stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *Poller) sweep(ctx context.Context) {
	ids, err := p.stores.ActiveStoreIDs(ctx)
	if err != nil {
		p.log.Error("list active stores failed", zap.Error(err))
		return
	}
	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		if _, _, err := p.rec.FetchAndReconcile(ctx, id); err != nil {
			p.log.Warn("store reconcile failed",
				zap.String("store_id", id.String()), zap.Error(err))
		}
	}
}
