package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap/zaptest"

	"github.com/leafline-pos/ocs-relay/internal/errs"
	"github.com/leafline-pos/ocs-relay/internal/model"
	"github.com/leafline-pos/ocs-relay/internal/repository"
)

type fakeNoticeRepo struct {
	notice *model.ShipmentNotice
	getErr error

	receiptCalls  int
	receiptStatus model.NoticeStatus
	receipts      []model.LineReceipt

	statusCalls int
	statusSet   model.NoticeStatus
}

var _ repository.NoticeRepository = (*fakeNoticeRepo)(nil)

func (f *fakeNoticeRepo) InsertIfNew(_ context.Context, _ *model.ShipmentNotice) (bool, error) {
	return false, nil
}

func (f *fakeNoticeRepo) Get(_ context.Context, _ uuid.UUID) (*model.ShipmentNotice, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	cp := *f.notice
	cp.Lines = append([]model.ShipmentLine(nil), f.notice.Lines...)
	return &cp, nil
}

func (f *fakeNoticeRepo) ListByStore(_ context.Context, _ uuid.UUID, _ model.NoticeStatus, _ int) ([]model.ShipmentNotice, error) {
	return nil, nil
}

func (f *fakeNoticeRepo) LatestFetchedAt(_ context.Context, _ uuid.UUID) (time.Time, error) {
	return time.Time{}, nil
}

func (f *fakeNoticeRepo) RecordReceipt(_ context.Context, _ uuid.UUID, receipts []model.LineReceipt, status model.NoticeStatus, _ time.Time) error {
	f.receiptCalls++
	f.receipts = receipts
	f.receiptStatus = status
	return nil
}

func (f *fakeNoticeRepo) UpdateStatus(_ context.Context, _ uuid.UUID, status model.NoticeStatus, _ time.Time) error {
	f.statusCalls++
	f.statusSet = status
	return nil
}

// twoLineNotice expects 25 units of one SKU and 10 of another.
func twoLineNotice(status model.NoticeStatus) *model.ShipmentNotice {
	return &model.ShipmentNotice{
		ID:        uuid.Must(uuid.NewV4()),
		StoreID:   uuid.Must(uuid.NewV4()),
		ASNNumber: "ASN-2026-000451",
		Status:    status,
		Lines: []model.ShipmentLine{
			{ID: uuid.Must(uuid.NewV4()), SKU: "GR-OZ-28", LotNumber: "LOT-A1", Quantity: 25},
			{ID: uuid.Must(uuid.NewV4()), SKU: "PR-5PK", LotNumber: "LOT-B7", Quantity: 10},
		},
	}
}

func newReceiving(t *testing.T, repo *fakeNoticeRepo, auditor *fakeAuditor) *ReceivingServiceImpl {
	t.Helper()
	svc := NewReceivingService(repo, auditor, zaptest.NewLogger(t))
	svc.now = func() time.Time { return time.Date(2026, 8, 25, 14, 0, 0, 0, time.UTC) }
	return svc
}

func TestRecordReceipt_FullDeliveryMarksReceived(t *testing.T) {
	t.Parallel()
	notice := twoLineNotice(model.NoticePending)
	repo := &fakeNoticeRepo{notice: notice}
	auditor := &fakeAuditor{}
	svc := newReceiving(t, repo, auditor)

	got, err := svc.RecordReceipt(context.Background(), notice.ID, []model.LineReceipt{
		{LineID: notice.Lines[0].ID, Quantity: 25},
		{LineID: notice.Lines[1].ID, Quantity: 10},
	}, "jmoretti")
	if err != nil {
		t.Fatalf("RecordReceipt: %v", err)
	}
	if got.Status != model.NoticeReceived {
		t.Fatalf("status = %s, want received", got.Status)
	}
	if repo.receiptCalls != 1 || repo.receiptStatus != model.NoticeReceived {
		t.Fatalf("repo calls=%d status=%s", repo.receiptCalls, repo.receiptStatus)
	}
	entries := auditor.recorded()
	if len(entries) != 1 || entries[0].Method != "RECEIPT" || entries[0].Initiator != "ops:jmoretti" {
		t.Fatalf("audit = %+v", entries)
	}
}

func TestRecordReceipt_PartialDelivery(t *testing.T) {
	t.Parallel()
	notice := twoLineNotice(model.NoticePending)
	repo := &fakeNoticeRepo{notice: notice}
	svc := newReceiving(t, repo, &fakeAuditor{})

	got, err := svc.RecordReceipt(context.Background(), notice.ID, []model.LineReceipt{
		{LineID: notice.Lines[0].ID, Quantity: 20}, // 5 short
	}, "ops")
	if err != nil {
		t.Fatalf("RecordReceipt: %v", err)
	}
	if got.Status != model.NoticePartiallyReceived {
		t.Fatalf("status = %s, want partially_received", got.Status)
	}
}

func TestRecordReceipt_OverdeliveryCountsAsFull(t *testing.T) {
	t.Parallel()
	notice := twoLineNotice(model.NoticePartiallyReceived)
	repo := &fakeNoticeRepo{notice: notice}
	svc := newReceiving(t, repo, &fakeAuditor{})

	got, err := svc.RecordReceipt(context.Background(), notice.ID, []model.LineReceipt{
		{LineID: notice.Lines[0].ID, Quantity: 26}, // one extra unit slipped in
		{LineID: notice.Lines[1].ID, Quantity: 10},
	}, "ops")
	if err != nil {
		t.Fatalf("RecordReceipt: %v", err)
	}
	if got.Status != model.NoticeReceived {
		t.Fatalf("status = %s, want received", got.Status)
	}
}

func TestRecordReceipt_ZeroQuantitiesStayPending(t *testing.T) {
	t.Parallel()
	notice := twoLineNotice(model.NoticePending)
	repo := &fakeNoticeRepo{notice: notice}
	svc := newReceiving(t, repo, &fakeAuditor{})

	got, err := svc.RecordReceipt(context.Background(), notice.ID, []model.LineReceipt{
		{LineID: notice.Lines[0].ID, Quantity: 0},
	}, "ops")
	if err != nil {
		t.Fatalf("RecordReceipt: %v", err)
	}
	if got.Status != model.NoticePending {
		t.Fatalf("status = %s, want pending", got.Status)
	}
}

func TestRecordReceipt_UnknownLineRefused(t *testing.T) {
	t.Parallel()
	notice := twoLineNotice(model.NoticePending)
	repo := &fakeNoticeRepo{notice: notice}
	svc := newReceiving(t, repo, &fakeAuditor{})

	_, err := svc.RecordReceipt(context.Background(), notice.ID, []model.LineReceipt{
		{LineID: uuid.Must(uuid.NewV4()), Quantity: 5},
	}, "ops")
	if err == nil {
		t.Fatal("unknown line must fail validation")
	}
	if repo.receiptCalls != 0 {
		t.Fatal("invalid receipt reached the repository")
	}
}

func TestRecordReceipt_CancelledNoticeRefused(t *testing.T) {
	t.Parallel()
	notice := twoLineNotice(model.NoticeCancelled)
	repo := &fakeNoticeRepo{notice: notice}
	svc := newReceiving(t, repo, &fakeAuditor{})

	_, err := svc.RecordReceipt(context.Background(), notice.ID, []model.LineReceipt{
		{LineID: notice.Lines[0].ID, Quantity: 5},
	}, "ops")
	if !errors.Is(err, errs.ErrTerminalState) {
		t.Fatalf("err = %v, want ErrTerminalState", err)
	}
}

func TestRecordReceipt_Validation(t *testing.T) {
	t.Parallel()
	notice := twoLineNotice(model.NoticePending)
	svc := newReceiving(t, &fakeNoticeRepo{notice: notice}, &fakeAuditor{})
	ctx := context.Background()

	if _, err := svc.RecordReceipt(ctx, uuid.Nil, []model.LineReceipt{{LineID: notice.Lines[0].ID, Quantity: 1}}, "ops"); err == nil {
		t.Fatal("empty notice id accepted")
	}
	if _, err := svc.RecordReceipt(ctx, notice.ID, nil, "ops"); err == nil {
		t.Fatal("empty receipt list accepted")
	}
	if _, err := svc.RecordReceipt(ctx, notice.ID, []model.LineReceipt{{Quantity: 1}}, "ops"); err == nil {
		t.Fatal("empty line id accepted")
	}
	if _, err := svc.RecordReceipt(ctx, notice.ID, []model.LineReceipt{{LineID: notice.Lines[0].ID, Quantity: -2}}, "ops"); err == nil {
		t.Fatal("negative quantity accepted")
	}
}

func TestCancel_PendingNotice(t *testing.T) {
	t.Parallel()
	notice := twoLineNotice(model.NoticePending)
	repo := &fakeNoticeRepo{notice: notice}
	auditor := &fakeAuditor{}
	svc := newReceiving(t, repo, auditor)

	if err := svc.Cancel(context.Background(), notice.ID, "jmoretti"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if repo.statusCalls != 1 || repo.statusSet != model.NoticeCancelled {
		t.Fatalf("UpdateStatus calls=%d status=%s", repo.statusCalls, repo.statusSet)
	}
	entries := auditor.recorded()
	if len(entries) != 1 || entries[0].Method != "CANCEL" {
		t.Fatalf("audit = %+v", entries)
	}
}

func TestCancel_Idempotent(t *testing.T) {
	t.Parallel()
	notice := twoLineNotice(model.NoticeCancelled)
	repo := &fakeNoticeRepo{notice: notice}
	auditor := &fakeAuditor{}
	svc := newReceiving(t, repo, auditor)

	if err := svc.Cancel(context.Background(), notice.ID, "ops"); err != nil {
		t.Fatalf("Cancel twice: %v", err)
	}
	if repo.statusCalls != 0 {
		t.Fatal("second cancel must not write")
	}
	if len(auditor.recorded()) != 0 {
		t.Fatal("second cancel must not audit")
	}
}

func TestCancel_ReceivedRefused(t *testing.T) {
	t.Parallel()
	notice := twoLineNotice(model.NoticeReceived)
	repo := &fakeNoticeRepo{notice: notice}
	svc := newReceiving(t, repo, &fakeAuditor{})

	err := svc.Cancel(context.Background(), notice.ID, "ops")
	if !errors.Is(err, errs.ErrTerminalState) {
		t.Fatalf("err = %v, want ErrTerminalState", err)
	}
	if repo.statusCalls != 0 {
		t.Fatal("received notice must stay received")
	}
}

func TestListNotices_Validation(t *testing.T) {
	t.Parallel()
	svc := newReceiving(t, &fakeNoticeRepo{}, &fakeAuditor{})

	if _, err := svc.ListNotices(context.Background(), uuid.Nil, "", 10); err == nil {
		t.Fatal("empty store accepted")
	}
	if _, err := svc.ListNotices(context.Background(), uuid.Must(uuid.NewV4()), "misplaced", 10); err == nil {
		t.Fatal("unknown status accepted")
	}
}
