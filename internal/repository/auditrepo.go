package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/leafline-pos/ocs-relay/internal/model"
)

// AuditRepository is the append-only audit trail. Entries are never updated
// or deleted.
type AuditRepository interface {
	// Insert appends one entry.
	Insert(ctx context.Context, e *model.AuditEntry) error

	// ListByCorrelation returns the trail for one submission, credential or
	// notice, oldest first.
	ListByCorrelation(ctx context.Context, correlationID uuid.UUID, limit int) ([]model.AuditEntry, error)

	// ListByStore returns a store's recent entries, newest first.
	ListByStore(ctx context.Context, storeID uuid.UUID, limit int) ([]model.AuditEntry, error)
}
