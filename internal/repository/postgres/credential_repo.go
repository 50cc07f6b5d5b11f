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

// CredentialRepo implements CredentialRepository using PostgreSQL.
type CredentialRepo struct{ db *DB }

// NewCredentialRepo constructs a credential repository.
func NewCredentialRepo(db *DB) *CredentialRepo { return &CredentialRepo{db: db} }

// Upsert provisions or replaces a store's credential. The caller hands in a
// credential with void token fields, so a replace also voids any cached token
// and clears the revoked flag.
func (r *CredentialRepo) Upsert(ctx context.Context, c *model.Credential) error {
	const q = `
INSERT INTO ocs_credentials
  (store_id, client_id_enc, client_secret_enc, access_token_enc, token_type,
   expires_at, refresh_token_enc, scope, revoked, refresh_count,
   last_refreshed_at, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, false, 0, $9, $10, $10)
ON CONFLICT (store_id) DO UPDATE SET
  client_id_enc = EXCLUDED.client_id_enc,
  client_secret_enc = EXCLUDED.client_secret_enc,
  access_token_enc = EXCLUDED.access_token_enc,
  token_type = EXCLUDED.token_type,
  expires_at = EXCLUDED.expires_at,
  refresh_token_enc = EXCLUDED.refresh_token_enc,
  scope = EXCLUDED.scope,
  revoked = false,
  updated_at = EXCLUDED.updated_at`
	_, err := r.db.Pool.Exec(ctx, q,
		c.StoreID, c.ClientIDEnc, c.ClientSecretEnc, c.AccessTokenEnc, c.TokenType,
		c.ExpiresAt, c.RefreshTokenEnc, c.Scope, c.LastRefreshedAt, c.UpdatedAt)
	return err
}

// Get selects a store's credential.
func (r *CredentialRepo) Get(ctx context.Context, storeID uuid.UUID) (*model.Credential, error) {
	const q = `
SELECT store_id, client_id_enc, client_secret_enc, access_token_enc, token_type,
       expires_at, refresh_token_enc, scope, revoked, refresh_count,
       last_refreshed_at, created_at, updated_at
FROM ocs_credentials WHERE store_id=$1`
	row := r.db.Pool.QueryRow(ctx, q, storeID)
	var c model.Credential
	err := row.Scan(&c.StoreID, &c.ClientIDEnc, &c.ClientSecretEnc, &c.AccessTokenEnc, &c.TokenType,
		&c.ExpiresAt, &c.RefreshTokenEnc, &c.Scope, &c.Revoked, &c.RefreshCount,
		&c.LastRefreshedAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNoCredential
		}
		return nil, err
	}
	return &c, nil
}

// UpdateToken persists a refresh result. A nil refreshTokenEnc keeps the
// stored refresh token.
func (r *CredentialRepo) UpdateToken(ctx context.Context, storeID uuid.UUID, accessTokenEnc, refreshTokenEnc []byte, tokenType string, expiresAt time.Time, scope string, now time.Time) error {
	const q = `
UPDATE ocs_credentials
SET access_token_enc = $2,
    refresh_token_enc = COALESCE($3, refresh_token_enc),
    token_type = $4,
    expires_at = $5,
    scope = $6,
    refresh_count = refresh_count + 1,
    last_refreshed_at = $7,
    updated_at = $7
WHERE store_id = $1`
	tag, err := r.db.Pool.Exec(ctx, q, storeID, accessTokenEnc, refreshTokenEnc, tokenType, expiresAt, scope, now)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNoCredential
	}
	return nil
}

// MarkRevoked flags the credential as rejected by the identity provider.
func (r *CredentialRepo) MarkRevoked(ctx context.Context, storeID uuid.UUID, now time.Time) error {
	const q = `UPDATE ocs_credentials SET revoked = true, updated_at = $2 WHERE store_id = $1`
	tag, err := r.db.Pool.Exec(ctx, q, storeID, now)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNoCredential
	}
	return nil
}

// ListActiveStoreIDs selects stores whose credential is not revoked.
func (r *CredentialRepo) ListActiveStoreIDs(ctx context.Context) ([]uuid.UUID, error) {
	const q = `SELECT store_id FROM ocs_credentials WHERE NOT revoked ORDER BY store_id`
	rows, err := r.db.Pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
