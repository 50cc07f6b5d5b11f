package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/leafline-pos/ocs-relay/internal/errs"
	"github.com/leafline-pos/ocs-relay/internal/model"
)

// ShipmentRepo implements NoticeRepository using PostgreSQL.
type ShipmentRepo struct{ db *DB }

// NewShipmentRepo constructs a shipment-notice repository.
func NewShipmentRepo(db *DB) *ShipmentRepo { return &ShipmentRepo{db: db} }

const noticeCols = `id, store_id, asn_number, po_number, expected_at, carrier,
       tracking_number, status, fetched_at, created_at, updated_at`

func scanNotice(row pgx.Row) (*model.ShipmentNotice, error) {
	var n model.ShipmentNotice
	err := row.Scan(&n.ID, &n.StoreID, &n.ASNNumber, &n.PONumber, &n.ExpectedAt, &n.Carrier,
		&n.TrackingNumber, &n.Status, &n.FetchedAt, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// InsertIfNew writes a notice and its lines unless (store, asn_number) exists.
// Returns whether anything was written.
func (r *ShipmentRepo) InsertIfNew(ctx context.Context, n *model.ShipmentNotice) (inserted bool, err error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if e := tx.Commit(ctx); e != nil {
			err = e
		}
	}()

	const ins = `
INSERT INTO ocs_shipment_notices
  (id, store_id, asn_number, po_number, expected_at, carrier,
   tracking_number, status, fetched_at, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
ON CONFLICT (store_id, asn_number) DO NOTHING`
	tag, err := tx.Exec(ctx, ins,
		n.ID, n.StoreID, n.ASNNumber, n.PONumber, n.ExpectedAt, n.Carrier,
		n.TrackingNumber, n.Status, n.FetchedAt, n.CreatedAt)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	const insLine = `
INSERT INTO ocs_shipment_lines (id, notice_id, sku, lot_number, quantity, received_qty)
VALUES ($1, $2, $3, $4, $5, 0)`
	for i, line := range n.Lines {
		if _, err = tx.Exec(ctx, insLine, line.ID, n.ID, line.SKU, line.LotNumber, line.Quantity); err != nil {
			return false, fmt.Errorf("line[%d]: %w", i, err)
		}
	}
	return true, nil
}

// Get selects a notice with its lines.
func (r *ShipmentRepo) Get(ctx context.Context, id uuid.UUID) (*model.ShipmentNotice, error) {
	const q = `SELECT ` + noticeCols + ` FROM ocs_shipment_notices WHERE id=$1`
	n, err := scanNotice(r.db.Pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}

	const ql = `
SELECT id, notice_id, sku, lot_number, quantity, received_qty
FROM ocs_shipment_lines WHERE notice_id=$1 ORDER BY sku, lot_number`
	rows, err := r.db.Pool.Query(ctx, ql, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var l model.ShipmentLine
		if err := rows.Scan(&l.ID, &l.NoticeID, &l.SKU, &l.LotNumber, &l.Quantity, &l.ReceivedQty); err != nil {
			return nil, err
		}
		n.Lines = append(n.Lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return n, nil
}

// ListByStore selects a store's notices without lines, newest first.
func (r *ShipmentRepo) ListByStore(ctx context.Context, storeID uuid.UUID, status model.NoticeStatus, limit int) ([]model.ShipmentNotice, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if status == "" {
		const q = `SELECT ` + noticeCols + `
FROM ocs_shipment_notices WHERE store_id=$1 ORDER BY fetched_at DESC LIMIT $2`
		rows, err = r.db.Pool.Query(ctx, q, storeID, limit)
	} else {
		const q = `SELECT ` + noticeCols + `
FROM ocs_shipment_notices WHERE store_id=$1 AND status=$2 ORDER BY fetched_at DESC LIMIT $3`
		rows, err = r.db.Pool.Query(ctx, q, storeID, status, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notices []model.ShipmentNotice
	for rows.Next() {
		n, err := scanNotice(rows)
		if err != nil {
			return nil, err
		}
		notices = append(notices, *n)
	}
	return notices, rows.Err()
}

// LatestFetchedAt returns the store's fetch watermark, zero when none.
func (r *ShipmentRepo) LatestFetchedAt(ctx context.Context, storeID uuid.UUID) (time.Time, error) {
	const q = `SELECT max(fetched_at) FROM ocs_shipment_notices WHERE store_id=$1`
	var ts *time.Time
	if err := r.db.Pool.QueryRow(ctx, q, storeID).Scan(&ts); err != nil {
		return time.Time{}, err
	}
	if ts == nil {
		return time.Time{}, nil
	}
	return *ts, nil
}

// RecordReceipt applies received quantities and the derived status atomically.
func (r *ShipmentRepo) RecordReceipt(ctx context.Context, noticeID uuid.UUID, receipts []model.LineReceipt, status model.NoticeStatus, now time.Time) (err error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if e := tx.Commit(ctx); e != nil {
			err = e
		}
	}()

	const updLine = `UPDATE ocs_shipment_lines SET received_qty=$3 WHERE id=$1 AND notice_id=$2`
	for i, rec := range receipts {
		tag, e := tx.Exec(ctx, updLine, rec.LineID, noticeID, rec.Quantity)
		if e != nil {
			return e
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("receipt[%d]: %w", i, errs.ErrNotFound)
		}
	}

	const updNotice = `UPDATE ocs_shipment_notices SET status=$2, updated_at=$3 WHERE id=$1`
	tag, err := tx.Exec(ctx, updNotice, noticeID, status, now)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// UpdateStatus moves a notice's lifecycle status.
func (r *ShipmentRepo) UpdateStatus(ctx context.Context, noticeID uuid.UUID, status model.NoticeStatus, now time.Time) error {
	const q = `UPDATE ocs_shipment_notices SET status=$2, updated_at=$3 WHERE id=$1`
	tag, err := r.db.Pool.Exec(ctx, q, noticeID, status, now)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}
