package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/leafline-pos/ocs-relay/internal/errs"
	"github.com/leafline-pos/ocs-relay/internal/model"
)

// SubmissionRepo implements SubmissionRepository using PostgreSQL. Every
// status write guards on the expected current status, so a lost race shows up
// as zero rows affected instead of a clobbered transition.
type SubmissionRepo struct{ db *DB }

// NewSubmissionRepo constructs a submission repository.
func NewSubmissionRepo(db *DB) *SubmissionRepo { return &SubmissionRepo{db: db} }

const submissionCols = `id, store_id, kind, snapshot_date, item_count, payload_bytes,
       transaction_ref, event_type, sku, quantity, occurred_at,
       status, retry_count, max_retries, next_retry_at,
       external_ref, error_code, error_message, duration_ms, created_at, updated_at`

func scanSubmission(row pgx.Row) (*model.Submission, error) {
	var s model.Submission
	err := row.Scan(&s.ID, &s.StoreID, &s.Kind, &s.SnapshotDate, &s.ItemCount, &s.PayloadBytes,
		&s.TransactionRef, &s.EventType, &s.SKU, &s.Quantity, &s.OccurredAt,
		&s.Status, &s.RetryCount, &s.MaxRetries, &s.NextRetryAt,
		&s.ExternalRef, &s.ErrorCode, &s.ErrorMessage, &s.DurationMS, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *SubmissionRepo) queryMany(ctx context.Context, q string, args ...any) ([]model.Submission, error) {
	rows, err := r.db.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []model.Submission
	for rows.Next() {
		s, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, *s)
	}
	return subs, rows.Err()
}

// Enqueue inserts a new pending submission. Duplicate dedupe keys surface as
// errs.ErrDuplicate.
func (r *SubmissionRepo) Enqueue(ctx context.Context, s *model.Submission) error {
	const q = `
INSERT INTO ocs_submissions
  (id, store_id, kind, snapshot_date, item_count, payload_bytes,
   transaction_ref, event_type, sku, quantity, occurred_at,
   status, max_retries, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $14)`
	_, err := r.db.Pool.Exec(ctx, q,
		s.ID, s.StoreID, s.Kind, s.SnapshotDate, s.ItemCount, s.PayloadBytes,
		s.TransactionRef, s.EventType, s.SKU, s.Quantity, s.OccurredAt,
		s.Status, s.MaxRetries, s.CreatedAt)
	if isUniqueViolation(err) {
		return errs.ErrDuplicate
	}
	return err
}

// Get selects one submission by id.
func (r *SubmissionRepo) Get(ctx context.Context, id uuid.UUID) (*model.Submission, error) {
	const q = `SELECT ` + submissionCols + ` FROM ocs_submissions WHERE id=$1`
	s, err := scanSubmission(r.db.Pool.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	return s, err
}

// FindSnapshot selects the snapshot row for (store, date).
func (r *SubmissionRepo) FindSnapshot(ctx context.Context, storeID uuid.UUID, date time.Time) (*model.Submission, error) {
	const q = `SELECT ` + submissionCols + `
FROM ocs_submissions WHERE store_id=$1 AND kind='position_snapshot' AND snapshot_date=$2`
	s, err := scanSubmission(r.db.Pool.QueryRow(ctx, q, storeID, date))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	return s, err
}

// FindEvent selects the event row for (store, transaction ref).
func (r *SubmissionRepo) FindEvent(ctx context.Context, storeID uuid.UUID, transactionRef string) (*model.Submission, error) {
	const q = `SELECT ` + submissionCols + `
FROM ocs_submissions WHERE store_id=$1 AND kind='inventory_event' AND transaction_ref=$2`
	s, err := scanSubmission(r.db.Pool.QueryRow(ctx, q, storeID, transactionRef))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	return s, err
}

// ListDue selects the next batch of work: pending rows plus retrying rows
// whose deadline has passed. Oldest deadlines first so starved rows drain.
func (r *SubmissionRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]model.Submission, error) {
	const q = `SELECT ` + submissionCols + `
FROM ocs_submissions
WHERE status = 'pending' OR (status = 'retrying' AND next_retry_at <= $1)
ORDER BY next_retry_at ASC NULLS FIRST, created_at ASC
LIMIT $2`
	return r.queryMany(ctx, q, now, limit)
}

// Claim moves a due submission into submitting iff it still has the status and
// retry count the scanner saw. The retry_count fence keeps a stale scan from
// re-claiming a row another instance already cycled through retrying, which
// would both jump the fresh next_retry_at and feed an outdated count into the
// budget check. Zero rows affected means the claim was lost.
func (r *SubmissionRepo) Claim(ctx context.Context, id uuid.UUID, from model.SubmissionStatus, retryCount int, now time.Time) error {
	const q = `UPDATE ocs_submissions SET status='submitting', updated_at=$4 WHERE id=$1 AND status=$2 AND retry_count=$3`
	tag, err := r.db.Pool.Exec(ctx, q, id, from, retryCount, now)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrAlreadyClaimed
	}
	return nil
}

// Release puts a claimed submission back without consuming retry budget.
func (r *SubmissionRepo) Release(ctx context.Context, id uuid.UUID, to model.SubmissionStatus, now time.Time) error {
	const q = `UPDATE ocs_submissions SET status=$2, updated_at=$3 WHERE id=$1 AND status='submitting'`
	tag, err := r.db.Pool.Exec(ctx, q, id, to, now)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrAlreadyClaimed
	}
	return nil
}

// MarkAccepted finalises a claimed submission with the regulator's reference id.
func (r *SubmissionRepo) MarkAccepted(ctx context.Context, id uuid.UUID, externalRef string, durationMS int64, now time.Time) error {
	const q = `
UPDATE ocs_submissions
SET status='accepted', external_ref=$2, error_code='', error_message='',
    duration_ms=$3, next_retry_at=NULL, updated_at=$4
WHERE id=$1 AND status='submitting'`
	tag, err := r.db.Pool.Exec(ctx, q, id, externalRef, durationMS, now)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrAlreadyClaimed
	}
	return nil
}

// MarkFailed finalises a claimed submission the regulator rejected permanently.
func (r *SubmissionRepo) MarkFailed(ctx context.Context, id uuid.UUID, errorCode, errorMessage string, durationMS int64, now time.Time) error {
	const q = `
UPDATE ocs_submissions
SET status='failed', error_code=$2, error_message=$3,
    duration_ms=$4, next_retry_at=NULL, updated_at=$5
WHERE id=$1 AND status='submitting'`
	tag, err := r.db.Pool.Exec(ctx, q, id, errorCode, errorMessage, durationMS, now)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrAlreadyClaimed
	}
	return nil
}

// MarkRetrying schedules another attempt and consumes one retry.
func (r *SubmissionRepo) MarkRetrying(ctx context.Context, id uuid.UUID, nextRetryAt time.Time, errorCode, errorMessage string, durationMS int64, now time.Time) error {
	const q = `
UPDATE ocs_submissions
SET status='retrying', retry_count=retry_count+1, next_retry_at=$2,
    error_code=$3, error_message=$4, duration_ms=$5, updated_at=$6
WHERE id=$1 AND status='submitting'`
	tag, err := r.db.Pool.Exec(ctx, q, id, nextRetryAt, errorCode, errorMessage, durationMS, now)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrAlreadyClaimed
	}
	return nil
}

// MarkDeadLetter parks a claimed submission whose retry budget ran out.
func (r *SubmissionRepo) MarkDeadLetter(ctx context.Context, id uuid.UUID, errorCode, errorMessage string, durationMS int64, now time.Time) error {
	const q = `
UPDATE ocs_submissions
SET status='dead_letter', error_code=$2, error_message=$3,
    duration_ms=$4, next_retry_at=NULL, updated_at=$5
WHERE id=$1 AND status='submitting'`
	tag, err := r.db.Pool.Exec(ctx, q, id, errorCode, errorMessage, durationMS, now)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrAlreadyClaimed
	}
	return nil
}

// Requeue moves a dead-lettered submission back to pending with a fresh
// retry budget. Callers check existence first; zero rows here means the row
// is not in dead_letter.
func (r *SubmissionRepo) Requeue(ctx context.Context, id uuid.UUID, now time.Time) error {
	const q = `
UPDATE ocs_submissions
SET status='pending', retry_count=0, next_retry_at=NULL,
    error_code='', error_message='', updated_at=$2
WHERE id=$1 AND status='dead_letter'`
	tag, err := r.db.Pool.Exec(ctx, q, id, now)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrTerminalState
	}
	return nil
}

// Abandon marks a submission failed by operator decision.
func (r *SubmissionRepo) Abandon(ctx context.Context, id uuid.UUID, reason string, now time.Time) error {
	const q = `
UPDATE ocs_submissions
SET status='failed', error_code='abandoned', error_message=$2,
    next_retry_at=NULL, updated_at=$3
WHERE id=$1 AND status IN ('pending','retrying','dead_letter')`
	tag, err := r.db.Pool.Exec(ctx, q, id, reason, now)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrTerminalState
	}
	return nil
}

// ReclaimStale returns submissions stuck in submitting since before cutoff to
// retrying with an immediate deadline. Crash recovery; retry budget untouched.
func (r *SubmissionRepo) ReclaimStale(ctx context.Context, cutoff, now time.Time) (int64, error) {
	const q = `
UPDATE ocs_submissions
SET status='retrying', next_retry_at=$2, updated_at=$2
WHERE status='submitting' AND updated_at < $1`
	tag, err := r.db.Pool.Exec(ctx, q, cutoff, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ListByStore selects a store's submissions, newest first.
func (r *SubmissionRepo) ListByStore(ctx context.Context, storeID uuid.UUID, status model.SubmissionStatus, limit int) ([]model.Submission, error) {
	if status == "" {
		const q = `SELECT ` + submissionCols + `
FROM ocs_submissions WHERE store_id=$1 ORDER BY created_at DESC LIMIT $2`
		return r.queryMany(ctx, q, storeID, limit)
	}
	const q = `SELECT ` + submissionCols + `
FROM ocs_submissions WHERE store_id=$1 AND status=$2 ORDER BY created_at DESC LIMIT $3`
	return r.queryMany(ctx, q, storeID, status, limit)
}

// ListByStatus selects submissions in one status across stores, oldest first.
func (r *SubmissionRepo) ListByStatus(ctx context.Context, status model.SubmissionStatus, limit int) ([]model.Submission, error) {
	const q = `SELECT ` + submissionCols + `
FROM ocs_submissions WHERE status=$1 ORDER BY created_at ASC LIMIT $2`
	return r.queryMany(ctx, q, status, limit)
}

// CountByStatus returns ledger totals per status.
func (r *SubmissionRepo) CountByStatus(ctx context.Context) (map[model.SubmissionStatus]int64, error) {
	const q = `SELECT status, count(*) FROM ocs_submissions GROUP BY status`
	rows, err := r.db.Pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[model.SubmissionStatus]int64)
	for rows.Next() {
		var status model.SubmissionStatus
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
