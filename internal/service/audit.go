package service

import (
	"context"
	"fmt"

	"github.com/gofrs/uuid/v5"

	"github.com/leafline-pos/ocs-relay/internal/errs"
	"github.com/leafline-pos/ocs-relay/internal/model"
	"github.com/leafline-pos/ocs-relay/internal/repository"
)

// AuditQueryService reads the append-only audit trail for operators. Writes
// go through the recorder, never through here.
type AuditQueryService interface {
	// Trail returns every entry correlated with one submission, credential
	// or notice, oldest first.
	Trail(ctx context.Context, correlationID uuid.UUID, limit int) ([]model.AuditEntry, error)

	// StoreTrail returns a store's recent entries, newest first.
	StoreTrail(ctx context.Context, storeID uuid.UUID, limit int) ([]model.AuditEntry, error)
}

type AuditQueryServiceImpl struct {
	audits repository.AuditRepository
}

// NewAuditQueryService constructs AuditQueryService.
func NewAuditQueryService(audits repository.AuditRepository) *AuditQueryServiceImpl {
	return &AuditQueryServiceImpl{audits: audits}
}

func (s *AuditQueryServiceImpl) Trail(ctx context.Context, correlationID uuid.UUID, limit int) ([]model.AuditEntry, error) {
	if correlationID == uuid.Nil {
		return nil, fmt.Errorf("%w: empty correlation id", errs.ErrValidation)
	}
	return s.audits.ListByCorrelation(ctx, correlationID, clampLimit(limit))
}

func (s *AuditQueryServiceImpl) StoreTrail(ctx context.Context, storeID uuid.UUID, limit int) ([]model.AuditEntry, error) {
	if storeID == uuid.Nil {
		return nil, fmt.Errorf("%w: empty storeID", errs.ErrValidation)
	}
	return s.audits.ListByStore(ctx, storeID, clampLimit(limit))
}
