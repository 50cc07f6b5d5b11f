// Package limiter bounds outbound regulator calls per store, so one store's
// backlog cannot trigger a provider-side 429 storm for everyone.
package limiter

import (
	"context"

	"github.com/gofrs/uuid/v5"
)

// Limiter gates each regulator call for a store.
type Limiter interface {
	// Wait blocks until the store may make one call, or ctx ends.
	Wait(ctx context.Context, storeID uuid.UUID) error
}
