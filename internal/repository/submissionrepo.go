package repository

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/leafline-pos/ocs-relay/internal/model"
)

// SubmissionRepository is the persistent submission ledger. Status moves only
// through the conditional updates below; every write guards on the expected
// current status so concurrent workers cannot double-apply a transition.
type SubmissionRepository interface {
	// Enqueue inserts a new pending submission. A duplicate dedupe key
	// ((store, snapshot date) or (store, transaction ref)) returns
	// errs.ErrDuplicate without writing.
	Enqueue(ctx context.Context, s *model.Submission) error

	// Get returns a submission by id, or errs.ErrNotFound.
	Get(ctx context.Context, id uuid.UUID) (*model.Submission, error)

	// FindSnapshot returns the snapshot row for (store, date), or errs.ErrNotFound.
	FindSnapshot(ctx context.Context, storeID uuid.UUID, date time.Time) (*model.Submission, error)

	// FindEvent returns the event row for (store, transaction ref), or errs.ErrNotFound.
	FindEvent(ctx context.Context, storeID uuid.UUID, transactionRef string) (*model.Submission, error)

	// ListDue returns up to limit submissions ready for an attempt: pending, or
	// retrying with next_retry_at in the past. Oldest deadlines first.
	ListDue(ctx context.Context, now time.Time, limit int) ([]model.Submission, error)

	// Claim moves one due submission into submitting, guarding on the status
	// AND retry count observed at scan time, so a scanner holding a stale copy
	// cannot re-claim a row that already cycled through another instance.
	// errs.ErrAlreadyClaimed means the claim was lost.
	Claim(ctx context.Context, id uuid.UUID, from model.SubmissionStatus, retryCount int, now time.Time) error

	// Release returns a claimed submission to its prior status untouched, for
	// stores whose credentials failed before any exchange happened.
	Release(ctx context.Context, id uuid.UUID, to model.SubmissionStatus, now time.Time) error

	// MarkAccepted finalises a claimed submission with the regulator's reference.
	MarkAccepted(ctx context.Context, id uuid.UUID, externalRef string, durationMS int64, now time.Time) error

	// MarkFailed finalises a claimed submission the regulator rejected permanently.
	MarkFailed(ctx context.Context, id uuid.UUID, errorCode, errorMessage string, durationMS int64, now time.Time) error

	// MarkRetrying schedules a claimed submission for another attempt:
	// retry_count+1, next_retry_at from the backoff policy.
	MarkRetrying(ctx context.Context, id uuid.UUID, nextRetryAt time.Time, errorCode, errorMessage string, durationMS int64, now time.Time) error

	// MarkDeadLetter parks a claimed submission whose retry budget ran out.
	MarkDeadLetter(ctx context.Context, id uuid.UUID, errorCode, errorMessage string, durationMS int64, now time.Time) error

	// Requeue is the operator path out of dead_letter: back to pending with a
	// fresh retry budget. Any other current status returns errs.ErrTerminalState.
	Requeue(ctx context.Context, id uuid.UUID, now time.Time) error

	// Abandon is the operator path to failed from pending, retrying or
	// dead_letter. Any other current status returns errs.ErrTerminalState.
	Abandon(ctx context.Context, id uuid.UUID, reason string, now time.Time) error

	// ReclaimStale returns submissions stuck in submitting since before cutoff
	// (a worker crashed mid-attempt) to retrying, and reports how many.
	ReclaimStale(ctx context.Context, cutoff, now time.Time) (int64, error)

	// ListByStore returns a store's submissions, optionally filtered by status
	// (empty means all), newest first.
	ListByStore(ctx context.Context, storeID uuid.UUID, status model.SubmissionStatus, limit int) ([]model.Submission, error)

	// ListByStatus returns submissions in one status across all stores, oldest first.
	ListByStatus(ctx context.Context, status model.SubmissionStatus, limit int) ([]model.Submission, error)

	// CountByStatus returns ledger totals per status.
	CountByStatus(ctx context.Context) (map[model.SubmissionStatus]int64, error)
}
