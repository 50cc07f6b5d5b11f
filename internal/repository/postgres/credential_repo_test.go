package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/leafline-pos/ocs-relay/internal/errs"
	"github.com/leafline-pos/ocs-relay/internal/model"
)

const credentialColsRe = `store_id, client_id_enc, client_secret_enc, access_token_enc, token_type, expires_at, refresh_token_enc, scope, revoked, refresh_count, last_refreshed_at, created_at, updated_at`

func TestCredentialRepo_Upsert(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewCredentialRepo(db)
	ctx := context.Background()
	now := time.Date(2026, 8, 25, 9, 0, 0, 0, time.UTC)

	c := &model.Credential{
		StoreID:         uuid.Must(uuid.NewV4()),
		ClientIDEnc:     []byte("cid-enc"),
		ClientSecretEnc: []byte("sec-enc"),
		Scope:           "inventory",
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	mock.ExpectExec(`INSERT INTO ocs_credentials \(`+credentialColsRe+`\) VALUES \(\$1, \$2, \$3, \$4, \$5, \$6, \$7, \$8, false, 0, \$9, \$10, \$10\) ON CONFLICT \(store_id\) DO UPDATE SET`).
		WithArgs(c.StoreID, c.ClientIDEnc, c.ClientSecretEnc, c.AccessTokenEnc, c.TokenType,
			c.ExpiresAt, c.RefreshTokenEnc, c.Scope, c.LastRefreshedAt, c.UpdatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, r.Upsert(ctx, c))
}

func TestCredentialRepo_Get(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewCredentialRepo(db)
	ctx := context.Background()
	id := uuid.Must(uuid.NewV4())
	now := time.Date(2026, 8, 25, 9, 0, 0, 0, time.UTC)

	cols := []string{"store_id", "client_id_enc", "client_secret_enc", "access_token_enc", "token_type",
		"expires_at", "refresh_token_enc", "scope", "revoked", "refresh_count",
		"last_refreshed_at", "created_at", "updated_at"}

	mock.ExpectQuery(`SELECT ` + credentialColsRe + ` FROM ocs_credentials WHERE store_id=\$1`).
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows(cols).
			AddRow(id, []byte("cid"), []byte("sec"), []byte("tok"), "Bearer",
				now.Add(time.Hour), []byte(nil), "inventory", false, 3,
				now.Add(-time.Hour), now.Add(-24*time.Hour), now))
	c, err := r.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, id, c.StoreID)
	require.Equal(t, 3, c.RefreshCount)
	require.Nil(t, c.RefreshTokenEnc)
	require.False(t, c.Revoked)

	mock.ExpectQuery(`SELECT ` + credentialColsRe + ` FROM ocs_credentials WHERE store_id=\$1`).
		WithArgs(id).
		WillReturnError(pgx.ErrNoRows)
	_, err = r.Get(ctx, id)
	require.ErrorIs(t, err, errs.ErrNoCredential)
}

func TestCredentialRepo_UpdateToken(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewCredentialRepo(db)
	ctx := context.Background()
	id := uuid.Must(uuid.NewV4())
	now := time.Date(2026, 8, 25, 9, 0, 0, 0, time.UTC)
	exp := now.Add(time.Hour)

	const re = `UPDATE ocs_credentials SET access_token_enc = \$2, refresh_token_enc = COALESCE\(\$3, refresh_token_enc\), token_type = \$4, expires_at = \$5, scope = \$6, refresh_count = refresh_count \+ 1, last_refreshed_at = \$7, updated_at = \$7 WHERE store_id = \$1`

	// nil refresh token keeps the stored one
	mock.ExpectExec(re).
		WithArgs(id, []byte("at-enc"), []byte(nil), "Bearer", exp, "inventory", now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, r.UpdateToken(ctx, id, []byte("at-enc"), nil, "Bearer", exp, "inventory", now))

	mock.ExpectExec(re).
		WithArgs(id, []byte("at-enc"), []byte(nil), "Bearer", exp, "inventory", now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	require.ErrorIs(t, r.UpdateToken(ctx, id, []byte("at-enc"), nil, "Bearer", exp, "inventory", now), errs.ErrNoCredential)
}

func TestCredentialRepo_MarkRevoked(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewCredentialRepo(db)
	ctx := context.Background()
	id := uuid.Must(uuid.NewV4())
	now := time.Date(2026, 8, 25, 9, 0, 0, 0, time.UTC)

	const re = `UPDATE ocs_credentials SET revoked = true, updated_at = \$2 WHERE store_id = \$1`

	mock.ExpectExec(re).
		WithArgs(id, now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, r.MarkRevoked(ctx, id, now))

	mock.ExpectExec(re).
		WithArgs(id, now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	require.ErrorIs(t, r.MarkRevoked(ctx, id, now), errs.ErrNoCredential)
}

func TestCredentialRepo_ListActiveStoreIDs(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewCredentialRepo(db)
	ctx := context.Background()
	a := uuid.Must(uuid.NewV4())
	b := uuid.Must(uuid.NewV4())

	mock.ExpectQuery(`SELECT store_id FROM ocs_credentials WHERE NOT revoked ORDER BY store_id`).
		WillReturnRows(pgxmock.NewRows([]string{"store_id"}).AddRow(a).AddRow(b))

	ids, err := r.ListActiveStoreIDs(ctx)
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{a, b}, ids)
}
