package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/leafline-pos/ocs-relay/internal/errs"
	"github.com/leafline-pos/ocs-relay/internal/model"
)

const (
	noticeInsRe = `INSERT INTO ocs_shipment_notices \(id, store_id, asn_number, po_number, expected_at, carrier, tracking_number, status, fetched_at, created_at, updated_at\) VALUES \(\$1, \$2, \$3, \$4, \$5, \$6, \$7, \$8, \$9, \$10, \$10\) ON CONFLICT \(store_id, asn_number\) DO NOTHING`
	lineInsRe   = `INSERT INTO ocs_shipment_lines \(id, notice_id, sku, lot_number, quantity, received_qty\) VALUES \(\$1, \$2, \$3, \$4, \$5, 0\)`
)

func testNotice(now time.Time) *model.ShipmentNotice {
	expected := now.Add(72 * time.Hour)
	n := &model.ShipmentNotice{
		ID:             uuid.Must(uuid.NewV4()),
		StoreID:        uuid.Must(uuid.NewV4()),
		ASNNumber:      "ASN-2026-0815",
		PONumber:       "PO-31",
		ExpectedAt:     &expected,
		Carrier:        "Purolator",
		TrackingNumber: "TRK-9",
		Status:         model.NoticePending,
		FetchedAt:      now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	n.Lines = []model.ShipmentLine{
		{ID: uuid.Must(uuid.NewV4()), NoticeID: n.ID, SKU: "OCS-SKU-1", LotNumber: "LOT-A", Quantity: 24},
		{ID: uuid.Must(uuid.NewV4()), NoticeID: n.ID, SKU: "OCS-SKU-2", LotNumber: "LOT-B", Quantity: 12},
	}
	return n
}

func TestShipmentRepo_InsertIfNew_Inserts(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewShipmentRepo(db)
	ctx := context.Background()
	now := time.Date(2026, 8, 25, 8, 0, 0, 0, time.UTC)
	n := testNotice(now)

	mock.ExpectBegin()
	mock.ExpectExec(noticeInsRe).
		WithArgs(n.ID, n.StoreID, n.ASNNumber, n.PONumber, n.ExpectedAt, n.Carrier,
			n.TrackingNumber, n.Status, n.FetchedAt, n.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	for _, line := range n.Lines {
		mock.ExpectExec(lineInsRe).
			WithArgs(line.ID, n.ID, line.SKU, line.LotNumber, line.Quantity).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}
	mock.ExpectCommit()

	inserted, err := r.InsertIfNew(ctx, n)
	require.NoError(t, err)
	require.True(t, inserted)
}

func TestShipmentRepo_InsertIfNew_DuplicateIsNoop(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewShipmentRepo(db)
	ctx := context.Background()
	now := time.Date(2026, 8, 25, 8, 0, 0, 0, time.UTC)
	n := testNotice(now)

	mock.ExpectBegin()
	mock.ExpectExec(noticeInsRe).
		WithArgs(n.ID, n.StoreID, n.ASNNumber, n.PONumber, n.ExpectedAt, n.Carrier,
			n.TrackingNumber, n.Status, n.FetchedAt, n.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectCommit()

	inserted, err := r.InsertIfNew(ctx, n)
	require.NoError(t, err)
	require.False(t, inserted)
}

func TestShipmentRepo_Get_WithLines(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewShipmentRepo(db)
	ctx := context.Background()
	now := time.Date(2026, 8, 25, 8, 0, 0, 0, time.UTC)
	n := testNotice(now)

	mock.ExpectQuery(`SELECT .* FROM ocs_shipment_notices WHERE id=\$1`).
		WithArgs(n.ID).
		WillReturnRows(pgxmock.NewRows([]string{"id", "store_id", "asn_number", "po_number", "expected_at",
			"carrier", "tracking_number", "status", "fetched_at", "created_at", "updated_at"}).
			AddRow(n.ID, n.StoreID, n.ASNNumber, n.PONumber, n.ExpectedAt,
				n.Carrier, n.TrackingNumber, n.Status, n.FetchedAt, n.CreatedAt, n.UpdatedAt))
	mock.ExpectQuery(`SELECT id, notice_id, sku, lot_number, quantity, received_qty FROM ocs_shipment_lines WHERE notice_id=\$1 ORDER BY sku, lot_number`).
		WithArgs(n.ID).
		WillReturnRows(pgxmock.NewRows([]string{"id", "notice_id", "sku", "lot_number", "quantity", "received_qty"}).
			AddRow(n.Lines[0].ID, n.ID, n.Lines[0].SKU, n.Lines[0].LotNumber, n.Lines[0].Quantity, 0.0).
			AddRow(n.Lines[1].ID, n.ID, n.Lines[1].SKU, n.Lines[1].LotNumber, n.Lines[1].Quantity, 0.0))

	got, err := r.Get(ctx, n.ID)
	require.NoError(t, err)
	require.Equal(t, n.ASNNumber, got.ASNNumber)
	require.Len(t, got.Lines, 2)
	require.Equal(t, 24.0, got.Lines[0].Quantity)

	mock.ExpectQuery(`SELECT .* FROM ocs_shipment_notices WHERE id=\$1`).
		WithArgs(n.ID).
		WillReturnError(pgx.ErrNoRows)
	_, err = r.Get(ctx, n.ID)
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestShipmentRepo_LatestFetchedAt(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewShipmentRepo(db)
	ctx := context.Background()
	storeID := uuid.Must(uuid.NewV4())
	now := time.Date(2026, 8, 25, 8, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT max\(fetched_at\) FROM ocs_shipment_notices WHERE store_id=\$1`).
		WithArgs(storeID).
		WillReturnRows(pgxmock.NewRows([]string{"max"}).AddRow(&now))
	ts, err := r.LatestFetchedAt(ctx, storeID)
	require.NoError(t, err)
	require.Equal(t, now, ts)

	// no notices yet
	mock.ExpectQuery(`SELECT max\(fetched_at\) FROM ocs_shipment_notices WHERE store_id=\$1`).
		WithArgs(storeID).
		WillReturnRows(pgxmock.NewRows([]string{"max"}).AddRow((*time.Time)(nil)))
	ts, err = r.LatestFetchedAt(ctx, storeID)
	require.NoError(t, err)
	require.True(t, ts.IsZero())
}

func TestShipmentRepo_RecordReceipt(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewShipmentRepo(db)
	ctx := context.Background()
	noticeID := uuid.Must(uuid.NewV4())
	lineID := uuid.Must(uuid.NewV4())
	now := time.Date(2026, 8, 25, 8, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE ocs_shipment_lines SET received_qty=\$3 WHERE id=\$1 AND notice_id=\$2`).
		WithArgs(lineID, noticeID, 24.0).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE ocs_shipment_notices SET status=\$2, updated_at=\$3 WHERE id=\$1`).
		WithArgs(noticeID, model.NoticeReceived, now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	err := r.RecordReceipt(ctx, noticeID, []model.LineReceipt{{LineID: lineID, Quantity: 24}}, model.NoticeReceived, now)
	require.NoError(t, err)
}

func TestShipmentRepo_RecordReceipt_UnknownLine(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewShipmentRepo(db)
	ctx := context.Background()
	noticeID := uuid.Must(uuid.NewV4())
	lineID := uuid.Must(uuid.NewV4())
	now := time.Date(2026, 8, 25, 8, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE ocs_shipment_lines SET received_qty=\$3 WHERE id=\$1 AND notice_id=\$2`).
		WithArgs(lineID, noticeID, 1.0).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	err := r.RecordReceipt(ctx, noticeID, []model.LineReceipt{{LineID: lineID, Quantity: 1}}, model.NoticePartiallyReceived, now)
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestShipmentRepo_UpdateStatus(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewShipmentRepo(db)
	ctx := context.Background()
	noticeID := uuid.Must(uuid.NewV4())
	now := time.Date(2026, 8, 25, 8, 0, 0, 0, time.UTC)

	const re = `UPDATE ocs_shipment_notices SET status=\$2, updated_at=\$3 WHERE id=\$1`

	mock.ExpectExec(re).
		WithArgs(noticeID, model.NoticeCancelled, now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, r.UpdateStatus(ctx, noticeID, model.NoticeCancelled, now))

	mock.ExpectExec(re).
		WithArgs(noticeID, model.NoticeCancelled, now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	require.ErrorIs(t, r.UpdateStatus(ctx, noticeID, model.NoticeCancelled, now), errs.ErrNotFound)
}
