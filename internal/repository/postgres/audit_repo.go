package postgres

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/leafline-pos/ocs-relay/internal/model"
)

// AuditRepo implements AuditRepository using PostgreSQL. Append-only.
type AuditRepo struct{ db *DB }

// NewAuditRepo constructs an audit repository.
func NewAuditRepo(db *DB) *AuditRepo { return &AuditRepo{db: db} }

const auditCols = `id, correlation_id, store_id, endpoint, method,
       request_summary, response_summary, status_code, outcome,
       duration_ms, initiator, created_at`

// Insert appends one audit entry.
func (r *AuditRepo) Insert(ctx context.Context, e *model.AuditEntry) error {
	const q = `
INSERT INTO ocs_audit_log
  (id, correlation_id, store_id, endpoint, method,
   request_summary, response_summary, status_code, outcome,
   duration_ms, initiator, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err := r.db.Pool.Exec(ctx, q,
		e.ID, e.CorrelationID, e.StoreID, e.Endpoint, e.Method,
		e.RequestSummary, e.ResponseSummary, e.StatusCode, e.Outcome,
		e.DurationMS, e.Initiator, e.CreatedAt)
	return err
}

// ListByCorrelation selects the trail for one correlated entity, oldest first.
func (r *AuditRepo) ListByCorrelation(ctx context.Context, correlationID uuid.UUID, limit int) ([]model.AuditEntry, error) {
	const q = `SELECT ` + auditCols + `
FROM ocs_audit_log WHERE correlation_id=$1 ORDER BY created_at ASC LIMIT $2`
	return r.queryMany(ctx, q, correlationID, limit)
}

// ListByStore selects a store's recent entries, newest first.
func (r *AuditRepo) ListByStore(ctx context.Context, storeID uuid.UUID, limit int) ([]model.AuditEntry, error) {
	const q = `SELECT ` + auditCols + `
FROM ocs_audit_log WHERE store_id=$1 ORDER BY created_at DESC LIMIT $2`
	return r.queryMany(ctx, q, storeID, limit)
}

func (r *AuditRepo) queryMany(ctx context.Context, q string, args ...any) ([]model.AuditEntry, error) {
	rows, err := r.db.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.AuditEntry
	for rows.Next() {
		var e model.AuditEntry
		if err := rows.Scan(&e.ID, &e.CorrelationID, &e.StoreID, &e.Endpoint, &e.Method,
			&e.RequestSummary, &e.ResponseSummary, &e.StatusCode, &e.Outcome,
			&e.DurationMS, &e.Initiator, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
