// Package asn pulls inbound advance shipping notices from the regulator and
// reconciles them into local storage, keyed by (store, ASN number) so repeated
// fetches of an overlapping window stay idempotent.
package asn

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/leafline-pos/ocs-relay/internal/errs"
	"github.com/leafline-pos/ocs-relay/internal/limiter"
	"github.com/leafline-pos/ocs-relay/internal/metrics"
	"github.com/leafline-pos/ocs-relay/internal/model"
	"github.com/leafline-pos/ocs-relay/internal/ocs"
	"github.com/leafline-pos/ocs-relay/internal/repository"
)

// defaultOverlap is re-fetched below the watermark each pass, so a notice the
// regulator published late inside an already-seen window is still picked up.
const defaultOverlap = 24 * time.Hour

// Tokens hands out valid bearer tokens per store.
type Tokens interface {
	GetValidToken(ctx context.Context, storeID uuid.UUID) (model.Token, error)
}

// Fetcher is the regulator's shipment-notice endpoint.
type Fetcher interface {
	FetchShipmentNotices(ctx context.Context, token string, q ocs.NoticeQuery) (*ocs.NoticeList, error)
}

// Auditor records one audit entry without blocking.
type Auditor interface {
	Record(e model.AuditEntry)
}

// Reconciler fetches a store's notices and inserts the unseen ones.
type Reconciler struct {
	notices repository.NoticeRepository
	tokens  Tokens
	client  Fetcher
	limiter limiter.Limiter
	auditor Auditor
	log     *zap.Logger
	overlap time.Duration
	now     func() time.Time
}

// NewReconciler constructs a Reconciler. Non-positive overlap selects 24h.
func NewReconciler(notices repository.NoticeRepository, tokens Tokens, client Fetcher, lim limiter.Limiter, auditor Auditor, log *zap.Logger, overlap time.Duration) *Reconciler {
	if overlap <= 0 {
		overlap = defaultOverlap
	}
	if lim == nil {
		lim = limiter.NewStoreBuckets(0, 0)
	}
	return &Reconciler{
		notices: notices,
		tokens:  tokens,
		client:  client,
		limiter: lim,
		auditor: auditor,
		log:     log,
		overlap: overlap,
		now:     time.Now,
	}
}

// FetchAndReconcile performs one fetch for the store and inserts what is new.
// Returns how many notices were inserted and how many were already known.
func (r *Reconciler) FetchAndReconcile(ctx context.Context, storeID uuid.UUID) (inserted, skipped int, err error) {
	if storeID == uuid.Nil {
		return 0, 0, fmt.Errorf("%w: empty storeID", errs.ErrValidation)
	}

	tok, err := r.tokens.GetValidToken(ctx, storeID)
	if err != nil {
		return 0, 0, fmt.Errorf("token for store %s: %w", storeID, err)
	}

	if err := r.limiter.Wait(ctx, storeID); err != nil {
		return 0, 0, err
	}

	q := ocs.NoticeQuery{StoreID: storeID.String()}
	watermark, err := r.notices.LatestFetchedAt(ctx, storeID)
	if err != nil {
		return 0, 0, fmt.Errorf("fetch watermark: %w", err)
	}
	if !watermark.IsZero() {
		q.Since = watermark.Add(-r.overlap)
	}

	started := r.now()
	list, err := r.client.FetchShipmentNotices(ctx, tok.AccessToken, q)
	durationMS := r.now().Sub(started).Milliseconds()
	if err != nil {
		outcome := model.AuditError
		if ocs.IsTimeout(err) {
			outcome = model.AuditTimeout
		}
		r.auditFetch(storeID, fetchFailureSummary(err), statusOf(err), outcome, durationMS)
		return 0, 0, fmt.Errorf("fetch notices: %w", err)
	}

	now := r.now()
	for _, wire := range list.Notices {
		if wire.ASNNumber == "" {
			metrics.NoticesFetchedTotal.WithLabelValues("malformed").Inc()
			r.log.Warn("notice without ASN number dropped", zap.String("store_id", storeID.String()))
			continue
		}

		ok, ierr := r.notices.InsertIfNew(ctx, r.toModel(storeID, wire, now))
		if ierr != nil {
			r.auditFetch(storeID, fmt.Sprintf("insert %s: %s", wire.ASNNumber, ierr), 200, model.AuditError, durationMS)
			return inserted, skipped, fmt.Errorf("insert notice %s: %w", wire.ASNNumber, ierr)
		}
		if ok {
			inserted++
			metrics.NoticesFetchedTotal.WithLabelValues("inserted").Inc()
		} else {
			skipped++
			metrics.NoticesFetchedTotal.WithLabelValues("duplicate").Inc()
		}
	}

	r.auditFetch(storeID,
		fmt.Sprintf("fetched %d notice(s), %d new", len(list.Notices), inserted),
		200, model.AuditSuccess, durationMS)
	r.log.Info("notices reconciled",
		zap.String("store_id", storeID.String()),
		zap.Int("inserted", inserted),
		zap.Int("skipped", skipped))
	return inserted, skipped, nil
}

// toModel maps one wire notice to storage shape. An unparseable expected date
// is dropped rather than failing the whole notice.
func (r *Reconciler) toModel(storeID uuid.UUID, wire ocs.Notice, now time.Time) *model.ShipmentNotice {
	n := &model.ShipmentNotice{
		ID:             uuid.Must(uuid.NewV4()),
		StoreID:        storeID,
		ASNNumber:      wire.ASNNumber,
		PONumber:       wire.PONumber,
		Carrier:        wire.Carrier,
		TrackingNumber: wire.TrackingNumber,
		Status:         model.NoticePending,
		FetchedAt:      now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if wire.ExpectedDate != "" {
		if d, err := time.Parse("2006-01-02", wire.ExpectedDate); err == nil {
			n.ExpectedAt = &d
		} else {
			r.log.Warn("unparseable expected delivery date",
				zap.String("asn_number", wire.ASNNumber),
				zap.String("date", wire.ExpectedDate))
		}
	}
	for _, l := range wire.Lines {
		n.Lines = append(n.Lines, model.ShipmentLine{
			ID:        uuid.Must(uuid.NewV4()),
			NoticeID:  n.ID,
			SKU:       l.SKU,
			LotNumber: l.LotNumber,
			Quantity:  l.Quantity,
		})
	}
	return n
}

func (r *Reconciler) auditFetch(storeID uuid.UUID, summary string, status int, outcome model.AuditOutcome, durationMS int64) {
	r.auditor.Record(model.AuditEntry{
		CorrelationID:   storeID,
		StoreID:         storeID,
		Endpoint:        ocs.PathNotices,
		Method:          "GET",
		RequestSummary:  "fetch shipment notices",
		ResponseSummary: summary,
		StatusCode:      status,
		Outcome:         outcome,
		DurationMS:      durationMS,
		Initiator:       "asn-poller",
	})
}

func fetchFailureSummary(err error) string {
	s := err.Error()
	if len(s) > 256 {
		s = s[:256]
	}
	return s
}

func statusOf(err error) int {
	var ae *ocs.APIError
	if errors.As(err, &ae) {
		return ae.HTTPStatus
	}
	return 0
}
