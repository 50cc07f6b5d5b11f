package service

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/leafline-pos/ocs-relay/internal/errs"
	"github.com/leafline-pos/ocs-relay/internal/model"
	"github.com/leafline-pos/ocs-relay/internal/repository"
)

// ReceivingService is the receiving desk's view of shipment notices: record
// what physically arrived and derive the notice's lifecycle status from its
// lines.
type ReceivingService interface {
	// GetNotice returns a notice with its lines.
	GetNotice(ctx context.Context, id uuid.UUID) (*model.ShipmentNotice, error)

	// ListNotices returns a store's notices, optionally filtered by status.
	ListNotices(ctx context.Context, storeID uuid.UUID, status model.NoticeStatus, limit int) ([]model.ShipmentNotice, error)

	// RecordReceipt applies received quantities and moves the notice to
	// pending, partially_received or received as its lines dictate. Audited.
	RecordReceipt(ctx context.Context, noticeID uuid.UUID, receipts []model.LineReceipt, actor string) (*model.ShipmentNotice, error)

	// Cancel marks an undelivered notice cancelled. Idempotent. Audited.
	Cancel(ctx context.Context, noticeID uuid.UUID, actor string) error
}

type ReceivingServiceImpl struct {
	notices repository.NoticeRepository
	auditor Auditor
	log     *zap.Logger
	now     func() time.Time
}

// NewReceivingService constructs ReceivingService.
func NewReceivingService(notices repository.NoticeRepository, auditor Auditor, log *zap.Logger) *ReceivingServiceImpl {
	return &ReceivingServiceImpl{notices: notices, auditor: auditor, log: log, now: time.Now}
}

// GetNotice returns a notice with its lines.
func (s *ReceivingServiceImpl) GetNotice(ctx context.Context, id uuid.UUID) (*model.ShipmentNotice, error) {
	if id == uuid.Nil {
		return nil, fmt.Errorf("%w: empty notice id", errs.ErrValidation)
	}
	return s.notices.Get(ctx, id)
}

// ListNotices returns a store's notices, optionally filtered by status.
func (s *ReceivingServiceImpl) ListNotices(ctx context.Context, storeID uuid.UUID, status model.NoticeStatus, limit int) ([]model.ShipmentNotice, error) {
	if storeID == uuid.Nil {
		return nil, fmt.Errorf("%w: empty storeID", errs.ErrValidation)
	}
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: unknown notice status %q", errs.ErrValidation, status)
	}
	return s.notices.ListByStore(ctx, storeID, status, clampLimit(limit))
}

// RecordReceipt applies quantities to the notice's lines and persists the
// derived status atomically.
func (s *ReceivingServiceImpl) RecordReceipt(ctx context.Context, noticeID uuid.UUID, receipts []model.LineReceipt, actor string) (*model.ShipmentNotice, error) {
	if noticeID == uuid.Nil {
		return nil, fmt.Errorf("%w: empty notice id", errs.ErrValidation)
	}
	if len(receipts) == 0 {
		return nil, fmt.Errorf("%w: no receipts", errs.ErrValidation)
	}
	for i, rec := range receipts {
		if rec.LineID == uuid.Nil {
			return nil, fmt.Errorf("%w: receipt[%d] empty line id", errs.ErrValidation, i)
		}
		if rec.Quantity < 0 {
			return nil, fmt.Errorf("%w: receipt[%d] negative quantity", errs.ErrValidation, i)
		}
	}

	n, err := s.notices.Get(ctx, noticeID)
	if err != nil {
		return nil, err
	}
	if n.Status == model.NoticeCancelled {
		return nil, fmt.Errorf("notice cancelled: %w", errs.ErrTerminalState)
	}

	lines := make(map[uuid.UUID]*model.ShipmentLine, len(n.Lines))
	for i := range n.Lines {
		lines[n.Lines[i].ID] = &n.Lines[i]
	}
	for i, rec := range receipts {
		line, ok := lines[rec.LineID]
		if !ok {
			return nil, fmt.Errorf("%w: receipt[%d] line not on notice", errs.ErrValidation, i)
		}
		line.ReceivedQty = rec.Quantity
	}

	status := deriveNoticeStatus(n.Lines)
	if err := s.notices.RecordReceipt(ctx, noticeID, receipts, status, s.now()); err != nil {
		return nil, err
	}
	n.Status = status

	s.auditor.Record(model.AuditEntry{
		CorrelationID:  noticeID,
		StoreID:        n.StoreID,
		Endpoint:       "shipment-notice",
		Method:         "RECEIPT",
		RequestSummary: fmt.Sprintf("%d line(s) received, notice %s", len(receipts), status),
		Outcome:        model.AuditSuccess,
		Initiator:      "ops:" + actor,
	})
	s.log.Info("receipt recorded",
		zap.String("notice_id", noticeID.String()),
		zap.String("status", string(status)),
		zap.Int("lines", len(receipts)))
	return n, nil
}

// Cancel marks an undelivered notice cancelled.
func (s *ReceivingServiceImpl) Cancel(ctx context.Context, noticeID uuid.UUID, actor string) error {
	if noticeID == uuid.Nil {
		return fmt.Errorf("%w: empty notice id", errs.ErrValidation)
	}
	n, err := s.notices.Get(ctx, noticeID)
	if err != nil {
		return err
	}
	switch n.Status {
	case model.NoticeCancelled:
		return nil
	case model.NoticeReceived:
		return fmt.Errorf("notice fully received: %w", errs.ErrTerminalState)
	}

	if err := s.notices.UpdateStatus(ctx, noticeID, model.NoticeCancelled, s.now()); err != nil {
		return err
	}

	s.auditor.Record(model.AuditEntry{
		CorrelationID:  noticeID,
		StoreID:        n.StoreID,
		Endpoint:       "shipment-notice",
		Method:         "CANCEL",
		RequestSummary: fmt.Sprintf("cancelled from %s", n.Status),
		Outcome:        model.AuditSuccess,
		Initiator:      "ops:" + actor,
	})
	s.log.Info("notice cancelled", zap.String("notice_id", noticeID.String()))
	return nil
}

// deriveNoticeStatus folds line quantities into the notice lifecycle: every
// line fully received makes the notice received, anything at all makes it
// partially received, nothing keeps it pending.
func deriveNoticeStatus(lines []model.ShipmentLine) model.NoticeStatus {
	if len(lines) == 0 {
		return model.NoticePending
	}
	full, any := true, false
	for _, l := range lines {
		if l.ReceivedQty > 0 {
			any = true
		}
		if l.ReceivedQty < l.Quantity {
			full = false
		}
	}
	switch {
	case full:
		return model.NoticeReceived
	case any:
		return model.NoticePartiallyReceived
	default:
		return model.NoticePending
	}
}
