package repository

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/leafline-pos/ocs-relay/internal/model"
)

// CredentialRepository stores per-store OAuth credentials. All secret columns
// hold sealed ciphertext; nothing in this layer ever sees plaintext.
type CredentialRepository interface {
	// Upsert provisions or replaces a store's credential. A replace clears the
	// revoked flag and voids any cached token so the next submission refreshes.
	Upsert(ctx context.Context, c *model.Credential) error

	// Get returns the credential for a store, or errs.ErrNoCredential.
	Get(ctx context.Context, storeID uuid.UUID) (*model.Credential, error)

	// UpdateToken persists the result of a refresh: new sealed access token,
	// expiry, scope, and refresh_count+1. A nil refreshTokenEnc keeps the
	// stored refresh token (providers that rotate send a new one, most don't).
	UpdateToken(ctx context.Context, storeID uuid.UUID, accessTokenEnc, refreshTokenEnc []byte, tokenType string, expiresAt time.Time, scope string, now time.Time) error

	// MarkRevoked flags the credential after an identity-provider rejection.
	// Revoked credentials are skipped until an operator re-provisions them.
	MarkRevoked(ctx context.Context, storeID uuid.UUID, now time.Time) error

	// ListActiveStoreIDs returns stores with a usable (non-revoked) credential.
	ListActiveStoreIDs(ctx context.Context) ([]uuid.UUID, error)
}
