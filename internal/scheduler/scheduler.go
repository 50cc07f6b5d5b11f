package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
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

const (
	defaultWorkers    = 4
	defaultBatchSize  = 32
	defaultTick       = 15 * time.Second
	defaultStaleAfter = 5 * time.Minute
)

// Ledger applies one attempt's classified outcome to a claimed submission.
type Ledger interface {
	ApplyOutcome(ctx context.Context, sub *model.Submission, res ocs.Result, nextRetryAt time.Time, durationMS int64) error
}

// Tokens hands out valid bearer tokens per store.
type Tokens interface {
	GetValidToken(ctx context.Context, storeID uuid.UUID) (model.Token, error)
}

// Client is the regulator's data plane.
type Client interface {
	SubmitPositionSnapshot(ctx context.Context, token string, p ocs.SnapshotPayload) (ocs.Result, error)
	SubmitInventoryEvent(ctx context.Context, token string, p ocs.EventPayload) (ocs.Result, error)
}

// Auditor records one audit entry without blocking.
type Auditor interface {
	Record(e model.AuditEntry)
}

// Config wires the scheduler. Zero knobs select the defaults; the dependency
// fields are required.
type Config struct {
	Submissions repository.SubmissionRepository
	Ledger      Ledger
	Tokens      Tokens
	Client      Client
	Limiter     limiter.Limiter
	Auditor     Auditor
	Log         *zap.Logger
	Backoff     *Backoff

	Workers    int           // concurrent deliveries per sweep
	BatchSize  int           // due rows fetched per sweep
	Tick       time.Duration // sweep interval
	StaleAfter time.Duration // submitting rows older than this are reclaimed
}

// Scheduler owns the delivery loop. One submission is attempted by exactly one
// worker at a time: the claim is a conditional update fenced on the scanned
// status and retry count, and losing it is a skip, not an error.
type Scheduler struct {
	subs    repository.SubmissionRepository
	ledger  Ledger
	tokens  Tokens
	client  Client
	limiter limiter.Limiter
	auditor Auditor
	log     *zap.Logger
	backoff *Backoff

	workers    int
	batch      int
	tick       time.Duration
	staleAfter time.Duration

	wake chan struct{}
	now  func() time.Time
}

// New constructs a Scheduler.
func New(cfg Config) *Scheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.Tick <= 0 {
		cfg.Tick = defaultTick
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = defaultStaleAfter
	}
	if cfg.Backoff == nil {
		cfg.Backoff = NewBackoff(0, 0)
	}
	if cfg.Limiter == nil {
		cfg.Limiter = limiter.NewStoreBuckets(0, 0)
	}
	return &Scheduler{
		subs:       cfg.Submissions,
		ledger:     cfg.Ledger,
		tokens:     cfg.Tokens,
		client:     cfg.Client,
		limiter:    cfg.Limiter,
		auditor:    cfg.Auditor,
		log:        cfg.Log,
		backoff:    cfg.Backoff,
		workers:    cfg.Workers,
		batch:      cfg.BatchSize,
		tick:       cfg.Tick,
		staleAfter: cfg.StaleAfter,
		wake:       make(chan struct{}, 1),
		now:        time.Now,
	}
}

// Run sweeps on every tick and on every Wake until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	s.log.Info("scheduler started",
		zap.Duration("tick", s.tick),
		zap.Int("workers", s.workers),
		zap.Int("batch", s.batch))

	for {
		if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.log.Error("sweep failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
		case <-s.wake:
		}
	}
}

// Wake nudges the scheduler to sweep now instead of waiting out the tick.
// Safe from any goroutine; extra nudges coalesce.
func (s *Scheduler) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// RunOnce performs one sweep: reclaim stranded rows, scan for due work, fan it
// out to workers. Returns how many submissions this sweep claimed.
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	now := s.now()

	reclaimed, err := s.subs.ReclaimStale(ctx, now.Add(-s.staleAfter), now)
	if err != nil {
		s.log.Error("stale reclaim failed", zap.Error(err))
	} else if reclaimed > 0 {
		metrics.StaleReclaimedTotal.Add(float64(reclaimed))
		s.log.Warn("reclaimed stranded submissions", zap.Int64("count", reclaimed))
	}

	due, err := s.subs.ListDue(ctx, now, s.batch)
	if err != nil {
		return 0, fmt.Errorf("scan due submissions: %w", err)
	}

	var claimed atomic.Int64
	if len(due) > 0 {
		skip := newSkipSet()
		jobs := make(chan model.Submission)

		var wg sync.WaitGroup
		for i := 0; i < s.workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for sub := range jobs {
					if s.deliver(ctx, &sub, skip) {
						claimed.Add(1)
					}
				}
			}()
		}

	feed:
		for _, sub := range due {
			select {
			case jobs <- sub:
			case <-ctx.Done():
				break feed
			}
		}
		close(jobs)
		wg.Wait()
	}

	s.observeDepth(ctx)
	return int(claimed.Load()), nil
}

// deliver attempts one claimed submission end to end. Reports whether the
// claim was won; everything past the claim resolves through the ledger or a
// release, never by leaving the row in submitting.
func (s *Scheduler) deliver(ctx context.Context, sub *model.Submission, skip *skipSet) bool {
	if skip.has(sub.StoreID) {
		return false
	}

	if err := s.subs.Claim(ctx, sub.ID, sub.Status, sub.RetryCount, s.now()); err != nil {
		if errors.Is(err, errs.ErrAlreadyClaimed) {
			metrics.ClaimConflictsTotal.Inc()
			return false
		}
		s.log.Error("claim failed", zap.String("submission_id", sub.ID.String()), zap.Error(err))
		return false
	}

	if err := s.limiter.Wait(ctx, sub.StoreID); err != nil {
		s.release(ctx, sub)
		return true
	}

	tok, err := s.tokens.GetValidToken(ctx, sub.StoreID)
	if err != nil {
		if errors.Is(err, errs.ErrAuthRevoked) || errors.Is(err, errs.ErrNoCredential) {
			skip.add(sub.StoreID)
			s.log.Warn("store skipped, credentials unusable",
				zap.String("store_id", sub.StoreID.String()), zap.Error(err))
		} else {
			s.log.Error("token refresh failed",
				zap.String("store_id", sub.StoreID.String()), zap.Error(err))
		}
		s.release(ctx, sub)
		return true
	}

	res, durationMS, ok := s.exchange(ctx, sub, tok.AccessToken)
	if !ok {
		// the row can never serialize; permanent by construction
		res.Outcome = ocs.OutcomeRejected
	}
	s.audit(sub, res, durationMS)

	if res.Outcome == ocs.OutcomeAuth {
		// store-level condition, says nothing about the record
		skip.add(sub.StoreID)
		s.release(ctx, sub)
		return true
	}

	nextRetryAt := s.now().Add(s.backoff.Delay(sub.RetryCount))
	err = s.ledger.ApplyOutcome(ctx, sub, res, nextRetryAt, durationMS)
	if err != nil && !errors.Is(err, errs.ErrRetryExhausted) {
		// a spent budget is the ledger parking the row, not a failure
		s.log.Error("apply outcome failed",
			zap.String("submission_id", sub.ID.String()),
			zap.String("outcome", string(res.Outcome)),
			zap.Error(err))
	}
	return true
}

// exchange maps the row to its wire payload and performs the exchange. ok is
// false when the row cannot be mapped at all; the Result then carries the
// mapping failure.
func (s *Scheduler) exchange(ctx context.Context, sub *model.Submission, token string) (ocs.Result, int64, bool) {
	started := s.now()

	var res ocs.Result
	var err error
	switch sub.Kind {
	case model.KindPositionSnapshot:
		p, perr := ocs.SnapshotPayloadFrom(sub)
		if perr != nil {
			return ocs.Result{ErrorCode: "unmappable", ErrorMessage: perr.Error()}, 0, false
		}
		res, err = s.client.SubmitPositionSnapshot(ctx, token, p)
	case model.KindInventoryEvent:
		p, perr := ocs.EventPayloadFrom(sub)
		if perr != nil {
			return ocs.Result{ErrorCode: "unmappable", ErrorMessage: perr.Error()}, 0, false
		}
		res, err = s.client.SubmitInventoryEvent(ctx, token, p)
	default:
		return ocs.Result{ErrorCode: "unmappable", ErrorMessage: fmt.Sprintf("unknown kind %q", sub.Kind)}, 0, false
	}

	durationMS := s.now().Sub(started).Milliseconds()
	if err != nil {
		// the Result still classifies the failure; the error is detail
		s.log.Debug("exchange error",
			zap.String("submission_id", sub.ID.String()), zap.Error(err))
	}
	return res, durationMS, true
}

// release returns a claimed row to the status it was scanned in.
func (s *Scheduler) release(ctx context.Context, sub *model.Submission) {
	if err := s.subs.Release(ctx, sub.ID, sub.Status, s.now()); err != nil {
		s.log.Error("release failed",
			zap.String("submission_id", sub.ID.String()),
			zap.String("to", string(sub.Status)),
			zap.Error(err))
	}
}

// audit writes the one entry this attempt gets.
func (s *Scheduler) audit(sub *model.Submission, res ocs.Result, durationMS int64) {
	endpoint := ocs.PathEvents
	if sub.Kind == model.KindPositionSnapshot {
		endpoint = ocs.PathPositions
	}
	s.auditor.Record(model.AuditEntry{
		CorrelationID:   sub.ID,
		StoreID:         sub.StoreID,
		Endpoint:        endpoint,
		Method:          "POST",
		RequestSummary:  requestSummary(sub),
		ResponseSummary: responseSummary(res),
		StatusCode:      res.HTTPStatus,
		Outcome:         auditOutcome(res),
		DurationMS:      durationMS,
		Initiator:       "scheduler",
	})
}

func requestSummary(sub *model.Submission) string {
	if sub.Kind == model.KindPositionSnapshot {
		date := ""
		if sub.SnapshotDate != nil {
			date = sub.SnapshotDate.Format("2006-01-02")
		}
		return fmt.Sprintf("position snapshot %s, %d SKUs", date, sub.ItemCount)
	}
	return fmt.Sprintf("inventory event %s %s", sub.TransactionRef, sub.EventType)
}

func responseSummary(res ocs.Result) string {
	if res.ExternalRef != "" {
		return "accepted ref " + res.ExternalRef
	}
	if res.ErrorCode != "" && res.ErrorMessage != "" {
		return res.ErrorCode + ": " + res.ErrorMessage
	}
	if res.ErrorMessage != "" {
		return res.ErrorMessage
	}
	return res.ErrorCode
}

func auditOutcome(res ocs.Result) model.AuditOutcome {
	switch {
	case res.Outcome == ocs.OutcomeAccepted:
		return model.AuditSuccess
	case res.TimedOut:
		return model.AuditTimeout
	case res.Outcome == ocs.OutcomeTransient:
		return model.AuditRetry
	default:
		return model.AuditError
	}
}

// observeDepth refreshes the per-status ledger gauge.
func (s *Scheduler) observeDepth(ctx context.Context) {
	counts, err := s.subs.CountByStatus(ctx)
	if err != nil {
		s.log.Debug("depth count failed", zap.Error(err))
		return
	}
	for _, st := range []model.SubmissionStatus{
		model.StatusPending, model.StatusSubmitting, model.StatusRetrying,
		model.StatusAccepted, model.StatusFailed, model.StatusDeadLetter,
	} {
		metrics.LedgerDepth.WithLabelValues(string(st)).Set(float64(counts[st]))
	}
}

// skipSet collects stores whose credentials failed during this sweep so their
// remaining rows are not claimed just to be released again.
type skipSet struct {
	mu sync.Mutex
	m  map[uuid.UUID]struct{}
}

func newSkipSet() *skipSet {
	return &skipSet{m: make(map[uuid.UUID]struct{})}
}

func (s *skipSet) add(id uuid.UUID) {
	s.mu.Lock()
	s.m[id] = struct{}{}
	s.mu.Unlock()
}

func (s *skipSet) has(id uuid.UUID) bool {
	s.mu.Lock()
	_, ok := s.m[id]
	s.mu.Unlock()
	return ok
}
