package repository

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/leafline-pos/ocs-relay/internal/model"
)

// NoticeRepository stores inbound shipment notices. (store, ASN number) is the
// dedupe key, so re-fetching the same window is idempotent.
type NoticeRepository interface {
	// InsertIfNew inserts a notice and its lines unless the ASN number was
	// already seen for the store. Returns whether a row was written.
	InsertIfNew(ctx context.Context, n *model.ShipmentNotice) (bool, error)

	// Get returns a notice with its lines, or errs.ErrNotFound.
	Get(ctx context.Context, id uuid.UUID) (*model.ShipmentNotice, error)

	// ListByStore returns a store's notices without lines, optionally filtered
	// by status (empty means all), newest first.
	ListByStore(ctx context.Context, storeID uuid.UUID, status model.NoticeStatus, limit int) ([]model.ShipmentNotice, error)

	// LatestFetchedAt returns the store's fetch watermark, zero when no notice
	// has ever been fetched.
	LatestFetchedAt(ctx context.Context, storeID uuid.UUID) (time.Time, error)

	// RecordReceipt applies received quantities to lines and moves the notice
	// to the derived status, atomically.
	RecordReceipt(ctx context.Context, noticeID uuid.UUID, receipts []model.LineReceipt, status model.NoticeStatus, now time.Time) error

	// UpdateStatus moves a notice's lifecycle status without touching lines.
	UpdateStatus(ctx context.Context, noticeID uuid.UUID, status model.NoticeStatus, now time.Time) error
}
