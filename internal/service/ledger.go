package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/leafline-pos/ocs-relay/internal/errs"
	"github.com/leafline-pos/ocs-relay/internal/metrics"
	"github.com/leafline-pos/ocs-relay/internal/model"
	"github.com/leafline-pos/ocs-relay/internal/ocs"
	"github.com/leafline-pos/ocs-relay/internal/repository"
)

const (
	defaultMaxRetries = 3
	defaultListLimit  = 50
	maxListLimit      = 500
)

// LedgerService owns the submission ledger: validated enqueue with idempotent
// dedupe, every status transition, and the operator overrides.
type LedgerService interface {
	// EnqueueSnapshot records a daily position snapshot as pending. A
	// duplicate (store, date) returns the existing row with created=false.
	EnqueueSnapshot(ctx context.Context, in SnapshotInput) (sub *model.Submission, created bool, err error)

	// EnqueueEvent records one inventory event as pending. A duplicate
	// (store, transaction ref) returns the existing row with created=false.
	EnqueueEvent(ctx context.Context, in EventInput) (sub *model.Submission, created bool, err error)

	// Get returns one submission.
	Get(ctx context.Context, id uuid.UUID) (*model.Submission, error)

	// ListByStore returns a store's submissions, optionally filtered by status.
	ListByStore(ctx context.Context, storeID uuid.UUID, status model.SubmissionStatus, limit int) ([]model.Submission, error)

	// DeadLetters returns parked submissions across stores, oldest first.
	DeadLetters(ctx context.Context, limit int) ([]model.Submission, error)

	// Counts returns ledger totals per status.
	Counts(ctx context.Context) (map[model.SubmissionStatus]int64, error)

	// ApplyOutcome applies one attempt's classified result to a claimed
	// submission: accept, permanent-fail, schedule a retry, or park it when
	// the retry budget is spent. nextRetryAt is used only on the retry path.
	// A park reports errs.ErrRetryExhausted once the record has moved, so
	// callers can tell a spent budget from a scheduled retry.
	ApplyOutcome(ctx context.Context, sub *model.Submission, res ocs.Result, nextRetryAt time.Time, durationMS int64) error

	// Requeue moves a dead-lettered submission back to pending with a fresh
	// retry budget. Audited. Failed submissions stay failed: a rejected
	// payload needs a corrected resubmission, not a retry.
	Requeue(ctx context.Context, id uuid.UUID, actor string) error

	// Abandon marks a pending, retrying or dead-lettered submission failed by
	// operator decision. Audited.
	Abandon(ctx context.Context, id uuid.UUID, actor, reason string) error
}

// SnapshotInput is one day's position aggregate for a store.
type SnapshotInput struct {
	StoreID      uuid.UUID
	Date         time.Time
	ItemCount    int
	PayloadBytes int
	MaxRetries   int // 0 selects the default budget
}

// EventInput is one inventory transaction for a store.
type EventInput struct {
	StoreID        uuid.UUID
	TransactionRef string
	Type           model.EventType
	SKU            string
	Quantity       float64
	OccurredAt     time.Time
	MaxRetries     int // 0 selects the default budget
}

type LedgerServiceImpl struct {
	subs    repository.SubmissionRepository
	auditor Auditor
	log     *zap.Logger
	now     func() time.Time
}

// NewLedgerService constructs LedgerService.
func NewLedgerService(subs repository.SubmissionRepository, auditor Auditor, log *zap.Logger) *LedgerServiceImpl {
	return &LedgerServiceImpl{subs: subs, auditor: auditor, log: log, now: time.Now}
}

// EnqueueSnapshot validates and inserts a pending snapshot row.
func (s *LedgerServiceImpl) EnqueueSnapshot(ctx context.Context, in SnapshotInput) (*model.Submission, bool, error) {
	if in.StoreID == uuid.Nil {
		return nil, false, fmt.Errorf("%w: empty storeID", errs.ErrValidation)
	}
	if in.Date.IsZero() {
		return nil, false, fmt.Errorf("%w: empty snapshot date", errs.ErrValidation)
	}
	if in.ItemCount < 0 || in.PayloadBytes < 0 {
		return nil, false, fmt.Errorf("%w: negative snapshot totals", errs.ErrValidation)
	}

	date := toDate(in.Date)
	now := s.now()
	sub := &model.Submission{
		ID:           uuid.Must(uuid.NewV4()),
		StoreID:      in.StoreID,
		Kind:         model.KindPositionSnapshot,
		SnapshotDate: &date,
		ItemCount:    in.ItemCount,
		PayloadBytes: in.PayloadBytes,
		Status:       model.StatusPending,
		MaxRetries:   budget(in.MaxRetries),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.subs.Enqueue(ctx, sub); err != nil {
		if errors.Is(err, errs.ErrDuplicate) {
			existing, ferr := s.subs.FindSnapshot(ctx, in.StoreID, date)
			return existing, false, ferr
		}
		return nil, false, err
	}

	metrics.SubmissionsEnqueuedTotal.WithLabelValues(string(model.KindPositionSnapshot)).Inc()
	s.log.Info("snapshot enqueued",
		zap.String("submission_id", sub.ID.String()),
		zap.String("store_id", in.StoreID.String()),
		zap.String("date", date.Format("2006-01-02")))
	return sub, true, nil
}

// EnqueueEvent validates and inserts a pending inventory-event row.
func (s *LedgerServiceImpl) EnqueueEvent(ctx context.Context, in EventInput) (*model.Submission, bool, error) {
	if in.StoreID == uuid.Nil {
		return nil, false, fmt.Errorf("%w: empty storeID", errs.ErrValidation)
	}
	if in.TransactionRef == "" {
		return nil, false, fmt.Errorf("%w: empty transaction ref", errs.ErrValidation)
	}
	if !in.Type.Valid() {
		return nil, false, fmt.Errorf("%w: unknown event type %q", errs.ErrValidation, in.Type)
	}
	if in.SKU == "" {
		return nil, false, fmt.Errorf("%w: empty sku", errs.ErrValidation)
	}
	if in.Quantity == 0 {
		return nil, false, fmt.Errorf("%w: zero quantity", errs.ErrValidation)
	}
	if in.OccurredAt.IsZero() {
		return nil, false, fmt.Errorf("%w: empty occurred_at", errs.ErrValidation)
	}

	occurred := in.OccurredAt.UTC()
	now := s.now()
	sub := &model.Submission{
		ID:             uuid.Must(uuid.NewV4()),
		StoreID:        in.StoreID,
		Kind:           model.KindInventoryEvent,
		TransactionRef: in.TransactionRef,
		EventType:      in.Type,
		SKU:            in.SKU,
		Quantity:       in.Quantity,
		OccurredAt:     &occurred,
		Status:         model.StatusPending,
		MaxRetries:     budget(in.MaxRetries),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.subs.Enqueue(ctx, sub); err != nil {
		if errors.Is(err, errs.ErrDuplicate) {
			existing, ferr := s.subs.FindEvent(ctx, in.StoreID, in.TransactionRef)
			return existing, false, ferr
		}
		return nil, false, err
	}

	metrics.SubmissionsEnqueuedTotal.WithLabelValues(string(model.KindInventoryEvent)).Inc()
	s.log.Info("event enqueued",
		zap.String("submission_id", sub.ID.String()),
		zap.String("store_id", in.StoreID.String()),
		zap.String("transaction_ref", in.TransactionRef))
	return sub, true, nil
}

// Get returns one submission.
func (s *LedgerServiceImpl) Get(ctx context.Context, id uuid.UUID) (*model.Submission, error) {
	if id == uuid.Nil {
		return nil, fmt.Errorf("%w: empty id", errs.ErrValidation)
	}
	return s.subs.Get(ctx, id)
}

// ListByStore returns a store's submissions, optionally filtered by status.
func (s *LedgerServiceImpl) ListByStore(ctx context.Context, storeID uuid.UUID, status model.SubmissionStatus, limit int) ([]model.Submission, error) {
	if storeID == uuid.Nil {
		return nil, fmt.Errorf("%w: empty storeID", errs.ErrValidation)
	}
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", errs.ErrValidation, status)
	}
	return s.subs.ListByStore(ctx, storeID, status, clampLimit(limit))
}

// DeadLetters returns parked submissions across stores, oldest first.
func (s *LedgerServiceImpl) DeadLetters(ctx context.Context, limit int) ([]model.Submission, error) {
	return s.subs.ListByStatus(ctx, model.StatusDeadLetter, clampLimit(limit))
}

// Counts returns ledger totals per status.
func (s *LedgerServiceImpl) Counts(ctx context.Context) (map[model.SubmissionStatus]int64, error) {
	return s.subs.CountByStatus(ctx)
}

// ApplyOutcome moves a claimed submission to its post-attempt status. The
// submission must be the claimed row as read at claim time; its RetryCount
// decides whether a transient failure retries or parks.
func (s *LedgerServiceImpl) ApplyOutcome(ctx context.Context, sub *model.Submission, res ocs.Result, nextRetryAt time.Time, durationMS int64) error {
	now := s.now()
	metrics.SubmissionAttemptsTotal.WithLabelValues(string(res.Outcome)).Inc()
	metrics.SubmissionAttemptDuration.Observe(float64(durationMS) / 1000)

	switch res.Outcome {
	case ocs.OutcomeAccepted:
		return s.subs.MarkAccepted(ctx, sub.ID, res.ExternalRef, durationMS, now)

	case ocs.OutcomeRejected:
		s.log.Warn("submission rejected",
			zap.String("submission_id", sub.ID.String()),
			zap.Int("http_status", res.HTTPStatus),
			zap.String("error_code", res.ErrorCode))
		return s.subs.MarkFailed(ctx, sub.ID, res.ErrorCode, res.ErrorMessage, durationMS, now)

	case ocs.OutcomeTransient:
		code := res.ErrorCode
		if code == "" && res.TimedOut {
			code = "timeout"
		}
		if sub.RetryCount >= sub.MaxRetries {
			metrics.DeadLetteredTotal.Inc()
			s.log.Warn("submission dead-lettered",
				zap.String("submission_id", sub.ID.String()),
				zap.Int("retry_count", sub.RetryCount))
			if err := s.subs.MarkDeadLetter(ctx, sub.ID, code, res.ErrorMessage, durationMS, now); err != nil {
				return err
			}
			return fmt.Errorf("attempt %d of %d: %w", sub.RetryCount+1, sub.MaxRetries+1, errs.ErrRetryExhausted)
		}
		return s.subs.MarkRetrying(ctx, sub.ID, nextRetryAt, code, res.ErrorMessage, durationMS, now)

	default:
		// auth outcomes release the claim instead; they say nothing about the record
		return fmt.Errorf("outcome %q is not applied through the ledger", res.Outcome)
	}
}

// Requeue moves a dead-lettered submission back to pending. Audited.
func (s *LedgerServiceImpl) Requeue(ctx context.Context, id uuid.UUID, actor string) error {
	sub, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if sub.Status == model.StatusSubmitting {
		return fmt.Errorf("attempt in flight: %w", errs.ErrAlreadyClaimed)
	}
	if !model.CanTransition(sub.Status, model.StatusPending) {
		return fmt.Errorf("requeue from %s: %w", sub.Status, errs.ErrTerminalState)
	}
	if err := s.subs.Requeue(ctx, id, s.now()); err != nil {
		return err
	}

	s.auditor.Record(model.AuditEntry{
		CorrelationID:  id,
		StoreID:        sub.StoreID,
		Endpoint:       "submission",
		Method:         "REQUEUE",
		RequestSummary: fmt.Sprintf("requeued from %s", sub.Status),
		Outcome:        model.AuditRetry,
		Initiator:      "ops:" + actor,
	})
	s.log.Info("submission requeued",
		zap.String("submission_id", id.String()),
		zap.String("actor", actor))
	return nil
}

// Abandon marks a submission failed by operator decision. Audited.
func (s *LedgerServiceImpl) Abandon(ctx context.Context, id uuid.UUID, actor, reason string) error {
	sub, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if sub.Status == model.StatusSubmitting {
		return fmt.Errorf("attempt in flight: %w", errs.ErrAlreadyClaimed)
	}
	if !model.CanTransition(sub.Status, model.StatusFailed) {
		return fmt.Errorf("abandon from %s: %w", sub.Status, errs.ErrTerminalState)
	}
	if err := s.subs.Abandon(ctx, id, reason, s.now()); err != nil {
		return err
	}

	s.auditor.Record(model.AuditEntry{
		CorrelationID:  id,
		StoreID:        sub.StoreID,
		Endpoint:       "submission",
		Method:         "ABANDON",
		RequestSummary: reason,
		Outcome:        model.AuditError,
		Initiator:      "ops:" + actor,
	})
	s.log.Info("submission abandoned",
		zap.String("submission_id", id.String()),
		zap.String("actor", actor),
		zap.String("reason", reason))
	return nil
}

func budget(maxRetries int) int {
	if maxRetries <= 0 {
		return defaultMaxRetries
	}
	return maxRetries
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

// toDate normalises a timestamp to its UTC calendar date.
func toDate(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
